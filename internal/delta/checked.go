// internal/delta/checked.go
package delta

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"svnlite/internal/errors"
	"svnlite/internal/logging"

	"go.uber.org/zap"
)

type editorState int

const (
	stateOpen editorState = iota
	stateFailed
	stateCompleted
	stateAborted
)

func (s editorState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateFailed:
		return "failed"
	case stateCompleted:
		return "completed"
	default:
		return "aborted"
	}
}

// CheckedOptions configures a CheckedEditor.
type CheckedOptions struct {
	Logger *zap.Logger
	// OnClose runs once when the drive reaches a terminal state.
	OnClose func()
	// Cancelled is polled before every operation.
	Cancelled func() bool
}

// CheckedEditor enforces the editor protocol in front of another editor:
// the terminal state, argument contracts, delete-then-add, single
// add/alter per path, declared children and call-scoped content streams.
// Violations are reported before the wrapped editor sees the call.
type CheckedEditor struct {
	inner  Editor
	opts   CheckedOptions
	logger *zap.Logger

	mu    sync.Mutex
	state editorState

	added   map[string]Kind
	altered map[string]bool
	// removed holds paths deleted or moved away in this drive.
	removed map[string]bool
	// declared holds the child sets announced for directories.
	declared map[string]map[string]bool
	// pending holds declared children of added directories still to come.
	pending map[string]map[string]bool
}

// NewCheckedEditor wraps inner.
func NewCheckedEditor(inner Editor, opts CheckedOptions) *CheckedEditor {
	return &CheckedEditor{
		inner:    inner,
		opts:     opts,
		logger:   logging.OrNop(opts.Logger),
		added:    make(map[string]Kind),
		altered:  make(map[string]bool),
		removed:  make(map[string]bool),
		declared: make(map[string]map[string]bool),
		pending:  make(map[string]map[string]bool),
	}
}

// begin checks the state shared by every node operation.
func (e *CheckedEditor) begin(ctx context.Context, op, path string) error {
	if e.state != stateOpen {
		return errors.Sequence("%s %q: editor is %s", op, path, e.state)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s %q: %w", op, path, err)
	}
	if e.opts.Cancelled != nil && e.opts.Cancelled() {
		return fmt.Errorf("%s %q: %w", op, path, context.Canceled)
	}
	if err := ValidateRelpath(path); err != nil {
		return errors.Validation("%s: %v", op, err)
	}
	e.logger.Debug("editor operation", zap.String("op", op), zap.String("path", path))
	return nil
}

// removedAt reports the deleted or moved-away path covering path.
func (e *CheckedEditor) removedAt(path string) (string, bool) {
	for p := path; ; p = Dirname(p) {
		if e.removed[p] {
			return p, true
		}
		if p == "" {
			return "", false
		}
	}
}

func (e *CheckedEditor) checkAdd(op, path string) error {
	if path == "" {
		return errors.Validation("%s: cannot add the edit root", op)
	}
	if removed, ok := e.removedAt(path); ok {
		if removed == path {
			return errors.Sequence("%s %q: path was deleted in this edit; add with a replaces revision instead of delete then add", op, path)
		}
		return errors.Sequence("%s %q: parent %q was deleted in this edit", op, path, removed)
	}
	if _, ok := e.added[path]; ok {
		return errors.Sequence("%s %q: path was already added in this edit", op, path)
	}
	parent := Dirname(path)
	if kind, ok := e.added[parent]; ok && (kind == KindFile || kind == KindSymlink || kind == KindNone) {
		return errors.Sequence("%s %q: parent %q is not a directory", op, path, parent)
	}
	if children, ok := e.declared[parent]; ok && !children[Basename(path)] {
		return errors.Sequence("%s %q: %q is not a declared child of %q", op, path, Basename(path), parent)
	}
	return nil
}

func (e *CheckedEditor) checkAlter(op, path string) error {
	if removed, ok := e.removedAt(path); ok {
		return errors.Sequence("%s %q: %q was deleted in this edit", op, path, removed)
	}
	if e.altered[path] {
		return errors.Sequence("%s %q: path was already altered in this edit", op, path)
	}
	// An add carries the node's final state; copies may still be altered.
	if kind, ok := e.added[path]; ok && kind != KindUnknown {
		return errors.Sequence("%s %q: path was added in this edit", op, path)
	}
	return nil
}

func (e *CheckedEditor) recordAdd(path string, kind Kind) {
	e.added[path] = kind
	if pending, ok := e.pending[Dirname(path)]; ok {
		delete(pending, Basename(path))
	}
}

func declareChildren(op, path string, children []string) (map[string]bool, error) {
	set := make(map[string]bool, len(children))
	for _, c := range children {
		if err := ValidateBasename(c); err != nil {
			return nil, errors.Validation("%s %q: %v", op, path, err)
		}
		if set[c] {
			return nil, errors.Validation("%s %q: child %q declared twice", op, path, c)
		}
		set[c] = true
	}
	return set, nil
}

func (e *CheckedEditor) AddDirectory(ctx context.Context, path string, children []string, props Props, replaces Revnum) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.begin(ctx, "add-directory", path); err != nil {
		return err
	}
	if children == nil {
		return errors.Validation("add-directory %q: children must be given (use an empty list for none)", path)
	}
	if err := e.checkAdd("add-directory", path); err != nil {
		return err
	}
	set, err := declareChildren("add-directory", path, children)
	if err != nil {
		return err
	}

	if err := e.inner.AddDirectory(ctx, path, children, props, replaces); err != nil {
		return err
	}
	e.recordAdd(path, KindDir)
	e.declared[path] = set
	pending := make(map[string]bool, len(set))
	for c := range set {
		pending[c] = true
	}
	e.pending[path] = pending
	return nil
}

func (e *CheckedEditor) AddFile(ctx context.Context, path string, checksum Checksum, contents io.Reader, props Props, replaces Revnum) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.begin(ctx, "add-file", path); err != nil {
		closeStream(contents)
		return err
	}
	if checksum.IsZero() || contents == nil {
		closeStream(contents)
		return errors.Validation("add-file %q: checksum and contents are both required", path)
	}
	if err := e.checkAdd("add-file", path); err != nil {
		closeStream(contents)
		return err
	}

	err := withScopedStream(contents, &checksum, func(r io.Reader) error {
		return e.inner.AddFile(ctx, path, checksum, r, props, replaces)
	})
	if err != nil {
		return fmt.Errorf("add-file %q: %w", path, err)
	}
	e.recordAdd(path, KindFile)
	return nil
}

func (e *CheckedEditor) AddSymlink(ctx context.Context, path string, target string, props Props, replaces Revnum) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.begin(ctx, "add-symlink", path); err != nil {
		return err
	}
	if err := e.checkAdd("add-symlink", path); err != nil {
		return err
	}
	if err := e.inner.AddSymlink(ctx, path, target, props, replaces); err != nil {
		return err
	}
	e.recordAdd(path, KindSymlink)
	return nil
}

func (e *CheckedEditor) AddAbsent(ctx context.Context, path string, kind Kind, replaces Revnum) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.begin(ctx, "add-absent", path); err != nil {
		return err
	}
	if kind != KindFile && kind != KindDir && kind != KindSymlink {
		return errors.Validation("add-absent %q: invalid kind %s", path, kind)
	}
	if err := e.checkAdd("add-absent", path); err != nil {
		return err
	}
	if err := e.inner.AddAbsent(ctx, path, kind, replaces); err != nil {
		return err
	}
	// Absent nodes have no content to receive, declared or otherwise.
	e.recordAdd(path, KindNone)
	return nil
}

func (e *CheckedEditor) AlterDirectory(ctx context.Context, path string, rev Revnum, children []string, props Props) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.begin(ctx, "alter-directory", path); err != nil {
		return err
	}
	if err := e.checkAlter("alter-directory", path); err != nil {
		return err
	}
	var set map[string]bool
	if children != nil {
		var err error
		if set, err = declareChildren("alter-directory", path, children); err != nil {
			return err
		}
	}

	if err := e.inner.AlterDirectory(ctx, path, rev, children, props); err != nil {
		return err
	}
	e.altered[path] = true
	if set != nil {
		e.declared[path] = set
	}
	return nil
}

func (e *CheckedEditor) AlterFile(ctx context.Context, path string, rev Revnum, checksum *Checksum, contents io.Reader, props Props) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.begin(ctx, "alter-file", path); err != nil {
		closeStream(contents)
		return err
	}
	if (checksum == nil) != (contents == nil) {
		closeStream(contents)
		return errors.Validation("alter-file %q: checksum and contents must be given together", path)
	}
	if checksum != nil && checksum.IsZero() {
		closeStream(contents)
		return errors.Validation("alter-file %q: empty checksum", path)
	}
	if err := e.checkAlter("alter-file", path); err != nil {
		closeStream(contents)
		return err
	}

	var err error
	if contents == nil {
		err = e.inner.AlterFile(ctx, path, rev, nil, nil, props)
	} else {
		err = withScopedStream(contents, checksum, func(r io.Reader) error {
			return e.inner.AlterFile(ctx, path, rev, checksum, r, props)
		})
	}
	if err != nil {
		return fmt.Errorf("alter-file %q: %w", path, err)
	}
	e.altered[path] = true
	return nil
}

func (e *CheckedEditor) AlterSymlink(ctx context.Context, path string, rev Revnum, target *string, props Props) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.begin(ctx, "alter-symlink", path); err != nil {
		return err
	}
	if target == nil && props == nil {
		return errors.Validation("alter-symlink %q: target or properties must be given", path)
	}
	if err := e.checkAlter("alter-symlink", path); err != nil {
		return err
	}
	if err := e.inner.AlterSymlink(ctx, path, rev, target, props); err != nil {
		return err
	}
	e.altered[path] = true
	return nil
}

func (e *CheckedEditor) Delete(ctx context.Context, path string, rev Revnum) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.begin(ctx, "delete", path); err != nil {
		return err
	}
	if path == "" {
		return errors.Validation("delete: cannot delete the edit root")
	}
	if removed, ok := e.removedAt(path); ok {
		return errors.Sequence("delete %q: %q was already deleted in this edit", path, removed)
	}
	if _, ok := e.added[path]; ok {
		return errors.Sequence("delete %q: path was added in this edit", path)
	}
	if err := e.inner.Delete(ctx, path, rev); err != nil {
		return err
	}
	e.removed[path] = true
	return nil
}

func (e *CheckedEditor) relocate(ctx context.Context, op, src string, dst string, move bool, call func() error) error {
	if err := e.begin(ctx, op, dst); err != nil {
		return err
	}
	if err := ValidateRelpath(src); err != nil {
		return errors.Validation("%s: %v", op, err)
	}
	if move {
		if src == "" {
			return errors.Validation("move: cannot move the edit root")
		}
		if IsAncestor(src, dst) || IsAncestor(dst, src) {
			return errors.Validation("move %q to %q: source and destination overlap", src, dst)
		}
		if removed, ok := e.removedAt(src); ok {
			return errors.Sequence("move %q: %q was already deleted in this edit", src, removed)
		}
	}
	if err := e.checkAdd(op, dst); err != nil {
		return err
	}
	if err := call(); err != nil {
		return err
	}
	if move {
		e.removed[src] = true
	}
	// The child set of a copied directory comes from its source.
	e.recordAdd(dst, KindUnknown)
	return nil
}

func (e *CheckedEditor) Copy(ctx context.Context, srcPath string, srcRev Revnum, dstPath string, replaces Revnum) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.relocate(ctx, "copy", srcPath, dstPath, false, func() error {
		return e.inner.Copy(ctx, srcPath, srcRev, dstPath, replaces)
	})
}

func (e *CheckedEditor) Move(ctx context.Context, srcPath string, srcRev Revnum, dstPath string, replaces Revnum) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.relocate(ctx, "move", srcPath, dstPath, true, func() error {
		return e.inner.Move(ctx, srcPath, srcRev, dstPath, replaces)
	})
}

// missingChildren lists declared children of added directories that were
// never added, sorted.
func (e *CheckedEditor) missingChildren() []string {
	var missing []string
	for dir, pending := range e.pending {
		for c := range pending {
			missing = append(missing, Join(dir, c))
		}
	}
	sort.Strings(missing)
	return missing
}

func (e *CheckedEditor) Complete(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != stateOpen {
		return errors.Sequence("complete: editor is %s", e.state)
	}
	if missing := e.missingChildren(); len(missing) > 0 {
		return errors.Sequence("complete: declared children never added: %v", missing)
	}

	err := e.inner.Complete(ctx)
	switch {
	case err == nil:
		e.finish(stateCompleted)
	case errors.Is(err, errors.ErrCommitCallback):
		// The edit landed; only the callback failed.
		e.finish(stateCompleted)
	default:
		e.state = stateFailed
	}
	return err
}

func (e *CheckedEditor) Abort(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case stateCompleted:
		return errors.Sequence("abort: editor is completed")
	case stateAborted:
		return nil
	}

	err := e.inner.Abort(ctx)
	if err != nil {
		e.logger.Warn("abort failed; resources released anyway", zap.Error(err))
	}
	e.finish(stateAborted)
	return err
}

// Close aborts a drive that has not terminated. Closing twice is a no-op.
func (e *CheckedEditor) Close() error {
	e.mu.Lock()
	live := e.state == stateOpen || e.state == stateFailed
	e.mu.Unlock()
	if !live {
		return nil
	}
	return e.Abort(context.Background())
}

// Done reports whether the drive has terminated.
func (e *CheckedEditor) Done() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == stateCompleted || e.state == stateAborted
}

func (e *CheckedEditor) finish(state editorState) {
	e.state = state
	if e.opts.OnClose != nil {
		e.opts.OnClose()
		e.opts.OnClose = nil
	}
}
