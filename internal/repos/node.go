package repos

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"svnlite/internal/delta"
	apperrors "svnlite/internal/errors"
	"svnlite/internal/storage"
)

// CopySource records where a copied node came from.
type CopySource struct {
	Path string       `json:"path"`
	Rev  delta.Revnum `json:"rev"`
}

// NodeRev is one immutable version of a node. IDs are "<rev>.<seq>" where
// rev is the revision that created it.
type NodeRev struct {
	ID          string       `json:"id"`
	Kind        delta.Kind   `json:"kind"`
	CreatedRev  delta.Revnum `json:"created_rev"`
	CreatedPath string       `json:"created_path"`
	Predecessor string       `json:"predecessor,omitempty"`
	Props       delta.Props  `json:"props,omitempty"`
	// Entries maps child names to node-revision IDs for directories.
	Entries map[string]string `json:"entries,omitempty"`
	// TextHash is the sha256 of a file's text.
	TextHash string      `json:"text_hash,omitempty"`
	Size     int64       `json:"size,omitempty"`
	Target   string      `json:"target,omitempty"`
	CopyFrom *CopySource `json:"copy_from,omitempty"`
}

func (n *NodeRev) GetID() string {
	return n.ID
}

// EntryNames returns the directory's child names, sorted.
func (n *NodeRev) EntryNames() []string {
	names := make([]string, 0, len(n.Entries))
	for name := range n.Entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Action is the kind of change a commit made to a path.
type Action string

const (
	ActionAdd     Action = "A"
	ActionModify  Action = "M"
	ActionDelete  Action = "D"
	ActionReplace Action = "R"
)

// ChangedPath is one entry of a revision's change list.
type ChangedPath struct {
	Path     string      `json:"path"`
	Action   Action      `json:"action"`
	Kind     delta.Kind  `json:"kind"`
	CopyFrom *CopySource `json:"copy_from,omitempty"`
}

// Revision is a committed revision.
type Revision struct {
	Number  delta.Revnum  `json:"number"`
	Root    string        `json:"root"`
	Author  string        `json:"author,omitempty"`
	Date    time.Time     `json:"date"`
	Props   delta.Props   `json:"props,omitempty"`
	Changes []ChangedPath `json:"changes,omitempty"`
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// node loads a node-revision by ID.
func (r *Repository) node(id string) (*NodeRev, error) {
	if n, ok := r.cache.Get(id); ok {
		return n, nil
	}
	var n NodeRev
	if err := r.nodes.Get(id, &n); err != nil {
		return nil, fmt.Errorf("reading node-revision %s: %w", id, err)
	}
	r.cache.Add(id, &n)
	return &n, nil
}

// Revision returns the record of a committed revision.
func (r *Repository) Revision(rev delta.Revnum) (*Revision, error) {
	var out Revision
	if err := r.revs.Get(revKey(rev), &out); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperrors.NotFound(fmt.Sprintf("no such revision %d", rev))
		}
		return nil, err
	}
	return &out, nil
}

// Root is a read-only view of one revision's tree.
type Root struct {
	repo *Repository
	rev  delta.Revnum
	root *NodeRev
}

// Root opens the tree of rev; InvalidRevnum means the youngest revision.
func (r *Repository) Root(rev delta.Revnum) (*Root, error) {
	if !rev.IsValid() {
		youngest, err := r.Youngest()
		if err != nil {
			return nil, err
		}
		rev = youngest
	}
	record, err := r.Revision(rev)
	if err != nil {
		return nil, err
	}
	root, err := r.node(record.Root)
	if err != nil {
		return nil, err
	}
	return &Root{repo: r, rev: rev, root: root}, nil
}

func (rt *Root) Revision() delta.Revnum {
	return rt.rev
}

func (rt *Root) Repository() *Repository {
	return rt.repo
}

// Node returns the node at path; a missing path is a NOT_FOUND error.
func (rt *Root) Node(path string) (*NodeRev, error) {
	if err := delta.ValidateRelpath(path); err != nil {
		return nil, apperrors.Validation("%v", err)
	}
	n := rt.root
	for _, name := range delta.Components(path) {
		if n.Kind != delta.KindDir {
			return nil, notFound(rt.rev, path)
		}
		id, ok := n.Entries[name]
		if !ok {
			return nil, notFound(rt.rev, path)
		}
		var err error
		if n, err = rt.repo.node(id); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func notFound(rev delta.Revnum, path string) error {
	return apperrors.NotFound(fmt.Sprintf("path '/%s' not found in revision %d", path, rev))
}

// Kind returns the kind of path, KindNone when it does not exist.
func (rt *Root) Kind(path string) (delta.Kind, error) {
	n, err := rt.Node(path)
	if errors.Is(err, apperrors.ErrNotFound) {
		return delta.KindNone, nil
	}
	if err != nil {
		return delta.KindUnknown, err
	}
	return n.Kind, nil
}

// Entry is a directory child.
type Entry struct {
	Name string
	Node *NodeRev
}

// Entries lists the children of a directory node, sorted by name.
func (rt *Root) Entries(dir *NodeRev) ([]Entry, error) {
	if dir.Kind != delta.KindDir {
		return nil, apperrors.Validation("node %s is not a directory", dir.ID)
	}
	entries := make([]Entry, 0, len(dir.Entries))
	for _, name := range dir.EntryNames() {
		child, err := rt.repo.node(dir.Entries[name])
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Name: name, Node: child})
	}
	return entries, nil
}

// Contents returns a file node's text.
func (r *Repository) Contents(n *NodeRev) ([]byte, error) {
	if n.Kind != delta.KindFile {
		return nil, apperrors.Validation("node %s is not a file", n.ID)
	}
	return r.texts.Get(n.TextHash)
}

// OpenContents returns a reader over a file node's text.
func (r *Repository) OpenContents(n *NodeRev) (io.ReadCloser, error) {
	text, err := r.Contents(n)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(text)), nil
}

// Checksum returns the checksum of a file node's text.
func (r *Repository) Checksum(n *NodeRev, kind delta.ChecksumKind) (delta.Checksum, error) {
	meta, err := r.texts.Meta(n.TextHash)
	if err != nil {
		return delta.Checksum{}, err
	}
	return meta.Checksum(kind), nil
}

// Dirent describes a node for listings.
type Dirent struct {
	Name       string       `json:"name"`
	Path       string       `json:"path"`
	Kind       delta.Kind   `json:"kind"`
	Size       int64        `json:"size"`
	HasProps   bool         `json:"has_props"`
	CreatedRev delta.Revnum `json:"created_rev"`
	Date       time.Time    `json:"date"`
	Author     string       `json:"author,omitempty"`
}

// Dirent describes the node at path.
func (rt *Root) Dirent(path string, n *NodeRev) (*Dirent, error) {
	d := &Dirent{
		Name:       delta.Basename(path),
		Path:       path,
		Kind:       n.Kind,
		Size:       n.Size,
		HasProps:   len(n.Props) > 0,
		CreatedRev: n.CreatedRev,
	}
	rev, err := rt.repo.Revision(n.CreatedRev)
	if err != nil {
		return nil, err
	}
	d.Date, d.Author = rev.Date, rev.Author
	return d, nil
}

// Walk visits path and every node below it in depth-first order.
func (rt *Root) Walk(path string, fn func(path string, n *NodeRev) error) error {
	n, err := rt.Node(path)
	if err != nil {
		return err
	}
	return rt.walk(path, n, fn)
}

func (rt *Root) walk(path string, n *NodeRev, fn func(string, *NodeRev) error) error {
	if err := fn(path, n); err != nil {
		return err
	}
	if n.Kind != delta.KindDir {
		return nil
	}
	entries, err := rt.Entries(n)
	if err != nil {
		return err
	}
	for _, e := range entries {
		childPath := e.Name
		if path != "" {
			childPath = delta.Join(path, e.Name)
		}
		if err := rt.walk(childPath, e.Node, fn); err != nil {
			return err
		}
	}
	return nil
}
