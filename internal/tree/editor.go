package tree

import (
	"context"
	"fmt"
	"io"

	"svnlite/internal/delta"
	apperrors "svnlite/internal/errors"
)

// CopyResolver returns the node a copy starts from.
type CopyResolver func(ctx context.Context, path string, rev delta.Revnum) (*Node, error)

type EditorOptions struct {
	// Resolve finds copy sources; by default they are read from the tree
	// as it was when the drive began.
	Resolve CopyResolver
	// Revision is recorded on the tree when the drive completes.
	Revision delta.Revnum
}

// Editor applies a drive to a Tree. Changes build on a copy and replace the
// tree's root only on Complete.
type Editor struct {
	tree *Tree
	opts EditorOptions
	root *Node
}

func NewEditor(t *Tree, opts EditorOptions) *Editor {
	e := &Editor{tree: t, opts: opts, root: t.Root.Clone()}
	if e.opts.Resolve == nil {
		base := &Tree{Root: t.Root}
		e.opts.Resolve = func(_ context.Context, path string, _ delta.Revnum) (*Node, error) {
			n := base.Lookup(path)
			if n == nil {
				return nil, apperrors.NotFound(fmt.Sprintf("copy source '%s' not found", path))
			}
			return n, nil
		}
	}
	return e
}

func (e *Editor) lookup(path string) *Node {
	return (&Tree{Root: e.root}).Lookup(path)
}

func (e *Editor) place(path string, n *Node, replaces delta.Revnum) error {
	parent := e.lookup(delta.Dirname(path))
	if parent == nil || parent.Kind != delta.KindDir || parent.Absent {
		return apperrors.OutOfDate("parent of '%s' is not a directory", path)
	}
	name := delta.Basename(path)
	if _, exists := parent.Children[name]; exists && !replaces.IsValid() {
		return apperrors.OutOfDate("'%s' already exists", path)
	}
	parent.Children[name] = n
	return nil
}

func (e *Editor) existing(op, path string, kind delta.Kind) (*Node, error) {
	n := e.lookup(path)
	if n == nil || n.Absent {
		return nil, apperrors.OutOfDate("%s: '%s' does not exist", op, path)
	}
	if n.Kind != kind {
		return nil, apperrors.OutOfDate("%s: '%s' is a %s", op, path, n.Kind)
	}
	return n, nil
}

func (e *Editor) AddDirectory(ctx context.Context, path string, children []string, p delta.Props, replaces delta.Revnum) error {
	n := NewDir()
	n.SetProps(p)
	return e.place(path, n, replaces)
}

func (e *Editor) AddFile(ctx context.Context, path string, checksum delta.Checksum, contents io.Reader, p delta.Props, replaces delta.Revnum) error {
	text, err := io.ReadAll(contents)
	if err != nil {
		return apperrors.Transport(err, "add-file %s", path)
	}
	n := &Node{Kind: delta.KindFile, Text: text}
	n.SetProps(p)
	return e.place(path, n, replaces)
}

func (e *Editor) AddSymlink(ctx context.Context, path string, target string, p delta.Props, replaces delta.Revnum) error {
	n := &Node{Kind: delta.KindSymlink, Target: target}
	n.SetProps(p)
	return e.place(path, n, replaces)
}

func (e *Editor) AddAbsent(ctx context.Context, path string, kind delta.Kind, replaces delta.Revnum) error {
	return e.place(path, &Node{Kind: kind, Absent: true}, replaces)
}

func (e *Editor) AlterDirectory(ctx context.Context, path string, rev delta.Revnum, children []string, p delta.Props) error {
	n, err := e.existing("alter-directory", path, delta.KindDir)
	if err != nil {
		return err
	}
	if p != nil {
		n.SetProps(p)
	}
	return nil
}

func (e *Editor) AlterFile(ctx context.Context, path string, rev delta.Revnum, checksum *delta.Checksum, contents io.Reader, p delta.Props) error {
	n, err := e.existing("alter-file", path, delta.KindFile)
	if err != nil {
		return err
	}
	if contents != nil {
		text, err := io.ReadAll(contents)
		if err != nil {
			return apperrors.Transport(err, "alter-file %s", path)
		}
		n.Text = text
	}
	if p != nil {
		n.SetProps(p)
	}
	return nil
}

func (e *Editor) AlterSymlink(ctx context.Context, path string, rev delta.Revnum, target *string, p delta.Props) error {
	n, err := e.existing("alter-symlink", path, delta.KindSymlink)
	if err != nil {
		return err
	}
	if target != nil {
		n.Target = *target
	}
	if p != nil {
		n.SetProps(p)
	}
	return nil
}

func (e *Editor) Delete(ctx context.Context, path string, rev delta.Revnum) error {
	parent := e.lookup(delta.Dirname(path))
	if parent == nil || parent.Children[delta.Basename(path)] == nil {
		return apperrors.OutOfDate("delete: '%s' does not exist", path)
	}
	delete(parent.Children, delta.Basename(path))
	return nil
}

func (e *Editor) Copy(ctx context.Context, srcPath string, srcRev delta.Revnum, dstPath string, replaces delta.Revnum) error {
	src, err := e.opts.Resolve(ctx, srcPath, srcRev)
	if err != nil {
		return err
	}
	return e.place(dstPath, src.Clone(), replaces)
}

func (e *Editor) Move(ctx context.Context, srcPath string, srcRev delta.Revnum, dstPath string, replaces delta.Revnum) error {
	n := e.lookup(srcPath)
	if n == nil {
		return apperrors.OutOfDate("move: '%s' does not exist", srcPath)
	}
	if err := e.Delete(ctx, srcPath, srcRev); err != nil {
		return err
	}
	return e.place(dstPath, n, replaces)
}

func (e *Editor) Complete(ctx context.Context) error {
	e.tree.Root = e.root
	if e.opts.Revision.IsValid() {
		e.tree.Revision = e.opts.Revision
	}
	return nil
}

func (e *Editor) Abort(ctx context.Context) error {
	e.root = nil
	return nil
}

var _ delta.Editor = (*Editor)(nil)
