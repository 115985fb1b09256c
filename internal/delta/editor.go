package delta

import (
	"context"
	"io"
)

// Editor receives a tree delta. All paths are relative to the editor's
// root and a node's parent must exist in the tree being built when the node
// is operated on.
//
// An edit drive ends with exactly one Complete or Abort; no call is valid
// afterwards. A content stream handed to AddFile or AlterFile belongs to the
// call and must not be used once the call returns.
type Editor interface {
	// AddDirectory creates a directory. children lists every basename that
	// will be added below it later in the same drive; it may be empty but
	// never nil. A valid replaces means an existing node is overwritten.
	AddDirectory(ctx context.Context, path string, children []string, props Props, replaces Revnum) error

	// AddFile creates a file. checksum and contents are both required.
	AddFile(ctx context.Context, path string, checksum Checksum, contents io.Reader, props Props, replaces Revnum) error

	AddSymlink(ctx context.Context, path string, target string, props Props, replaces Revnum) error

	// AddAbsent records a node that is intentionally not materialized,
	// e.g. because authorization excludes it.
	AddAbsent(ctx context.Context, path string, kind Kind, replaces Revnum) error

	// AlterDirectory changes an existing directory. rev is the revision the
	// caller believes the directory is at. A nil children leaves the child
	// set alone; nil props leaves properties alone.
	AlterDirectory(ctx context.Context, path string, rev Revnum, children []string, props Props) error

	// AlterFile changes an existing file. checksum and contents are given
	// together or not at all.
	AlterFile(ctx context.Context, path string, rev Revnum, checksum *Checksum, contents io.Reader, props Props) error

	// AlterSymlink changes an existing symlink; at least one of target and
	// props is non-nil.
	AlterSymlink(ctx context.Context, path string, rev Revnum, target *string, props Props) error

	Delete(ctx context.Context, path string, rev Revnum) error

	Copy(ctx context.Context, srcPath string, srcRev Revnum, dstPath string, replaces Revnum) error

	// Move relocates a node. The editor's root must encompass both paths.
	Move(ctx context.Context, srcPath string, srcRev Revnum, dstPath string, replaces Revnum) error

	// Complete ends the drive successfully.
	Complete(ctx context.Context) error

	// Abort ends the drive and discards its effects.
	Abort(ctx context.Context) error
}

// BaseFetcher supplies the base text and revision of a path on demand.
// The returned reader is owned by the caller.
type BaseFetcher func(ctx context.Context, path string) (io.ReadCloser, Revnum, error)

// PropsFetcher supplies the base properties and revision of a path.
type PropsFetcher func(ctx context.Context, path string) (Props, Revnum, error)

// KindFetcher resolves the kind of a copy source.
type KindFetcher func(ctx context.Context, path string, rev Revnum) (Kind, error)
