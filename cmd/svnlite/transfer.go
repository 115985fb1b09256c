package main

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"svnlite/internal/delta"
	apperrors "svnlite/internal/errors"
	"svnlite/internal/props"
	"svnlite/internal/ra"
	"svnlite/internal/tree"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/edsrzf/mmap-go"
)

var defaultIgnores = []string{".git", ".svn", ".svnlite", "*~"}

type importOptions struct {
	Message string
	Author  string
	// Ignore holds glob patterns matched against base names.
	Ignore []string
}

// importDir commits the tree below dir as new children of the session
// directory. It returns nil when dir holds nothing to import.
func importDir(ctx context.Context, s *ra.Session, dir string, opts importOptions) (*delta.CommitInfo, error) {
	for _, pattern := range opts.Ignore {
		if !doublestar.ValidatePattern(pattern) {
			return nil, apperrors.Validation("invalid ignore pattern %q", pattern)
		}
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, apperrors.Validation("%s is not a directory", dir)
	}

	revprops := delta.Props{props.RevLog: []byte(opts.Message)}
	if opts.Author != "" {
		revprops[props.RevAuthor] = []byte(opts.Author)
	}
	var committed *delta.CommitInfo
	editor, err := s.CommitEditor(ctx, ra.CommitParams{
		Revprops: revprops,
		Callback: func(_ context.Context, info delta.CommitInfo) error {
			committed = &info
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	defer editor.Close()

	im := &importer{editor: editor, dir: dir, ignore: opts.Ignore}
	top, err := im.entries("")
	if err != nil {
		return nil, err
	}
	if err := im.add(ctx, "", top); err != nil {
		return nil, err
	}
	if err := editor.Complete(ctx); err != nil {
		return nil, err
	}
	return committed, nil
}

type importer struct {
	editor delta.Editor
	dir    string
	ignore []string
}

// entries lists what below rel gets imported: directories, regular files
// and symlinks whose names match no ignore pattern.
func (im *importer) entries(rel string) ([]fs.DirEntry, error) {
	all, err := os.ReadDir(filepath.Join(im.dir, filepath.FromSlash(rel)))
	if err != nil {
		return nil, err
	}
	var keep []fs.DirEntry
	for _, e := range all {
		if im.ignored(e.Name()) {
			continue
		}
		switch t := e.Type(); {
		case t.IsDir(), t.IsRegular(), t&fs.ModeSymlink != 0:
			keep = append(keep, e)
		}
	}
	return keep, nil
}

func (im *importer) ignored(name string) bool {
	for _, pattern := range im.ignore {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// add sends entries, the children of rel, and everything below them.
func (im *importer) add(ctx context.Context, rel string, entries []fs.DirEntry) error {
	for _, e := range entries {
		path := delta.Join(rel, e.Name())
		local := filepath.Join(im.dir, filepath.FromSlash(path))
		switch t := e.Type(); {
		case t.IsDir():
			children, err := im.entries(path)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(children))
			for _, c := range children {
				names = append(names, c.Name())
			}
			if err := im.editor.AddDirectory(ctx, path, names, nil, delta.InvalidRevnum); err != nil {
				return err
			}
			if err := im.add(ctx, path, children); err != nil {
				return err
			}
		case t&fs.ModeSymlink != 0:
			target, err := os.Readlink(local)
			if err != nil {
				return err
			}
			if err := im.editor.AddSymlink(ctx, path, target, nil, delta.InvalidRevnum); err != nil {
				return err
			}
		default:
			if err := im.addFile(ctx, path, local); err != nil {
				return err
			}
		}
	}
	return nil
}

func (im *importer) addFile(ctx context.Context, path, local string) error {
	info, err := os.Stat(local)
	if err != nil {
		return err
	}
	var p delta.Props
	if info.Mode()&0o111 != 0 {
		p = delta.Props{props.Executable: []byte("*")}
	}
	return mapFile(local, func(text []byte) error {
		sum := delta.ChecksumBytes(delta.ChecksumSHA1, text)
		return im.editor.AddFile(ctx, path, sum, bytes.NewReader(text), p, delta.InvalidRevnum)
	})
}

// mapFile hands the contents of a local file to fn through a read-only
// mapping, which is released when fn returns.
func mapFile(name string, fn func([]byte) error) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return fn([]byte{})
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return fmt.Errorf("mapping %s: %w", name, err)
	}
	defer m.Unmap()
	return fn(m)
}

// exportDir writes the session directory at rev below dir, which must be
// missing or empty.
func exportDir(ctx context.Context, s *ra.Session, rev delta.Revnum, dir string) (delta.Revnum, error) {
	if entries, err := os.ReadDir(dir); err == nil && len(entries) > 0 {
		return delta.InvalidRevnum, apperrors.Validation("%s is not empty", dir)
	}
	kind, err := s.CheckPath(ctx, "", rev)
	if err != nil {
		return delta.InvalidRevnum, err
	}
	if kind != delta.KindDir {
		return delta.InvalidRevnum, apperrors.Validation("only directories can be exported, not a %s", kind)
	}

	t := tree.New()
	rep, err := s.DoUpdate(ctx, rev, "", delta.DepthInfinity, tree.NewEditor(t, tree.EditorOptions{Revision: rev}))
	if err != nil {
		return delta.InvalidRevnum, err
	}
	defer rep.Close()
	if err := rep.SetPath(ctx, "", 0, delta.DepthInfinity, true, ""); err != nil {
		return delta.InvalidRevnum, err
	}
	got, err := rep.FinishReport(ctx)
	if err != nil {
		return delta.InvalidRevnum, err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return delta.InvalidRevnum, err
	}
	if err := t.Materialize(dir); err != nil {
		return delta.InvalidRevnum, fmt.Errorf("writing %s: %w", dir, err)
	}
	return got, nil
}
