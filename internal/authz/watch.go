package authz

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads the policy from name whenever the file changes, until ctx
// is done. The directory is watched so editors that replace the file are
// noticed. A file that fails to parse leaves the previous rules in place.
func (p *Policy) Watch(ctx context.Context, name string, logger *zap.Logger, onChange func(*Rules)) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	name, err := filepath.Abs(name)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(name)); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", name, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != name {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				rules, err := Load(name)
				if err != nil {
					logger.Warn("authz reload failed", zap.String("file", name), zap.Error(err))
					continue
				}
				p.Set(rules)
				logger.Info("authz rules reloaded", zap.String("file", name), zap.Strings("deny", rules.Patterns()))
				if onChange != nil {
					onChange(rules)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
