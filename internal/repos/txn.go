package repos

import (
	"fmt"
	"sort"

	"svnlite/internal/delta"
	apperrors "svnlite/internal/errors"

	"github.com/dgraph-io/badger/v4"
)

// txnNode is a node of a transaction's tree. It starts as a view of a
// committed node-revision and becomes dirty once it, or anything below it,
// changes.
type txnNode struct {
	base *NodeRev
	kind delta.Kind

	props   delta.Props
	entries map[string]*txnNode
	loaded  bool

	text   string
	size   int64
	target string

	copyFrom *CopySource
	// added marks nodes created in this transaction; they have no
	// revision a caller could have based an edit on.
	added bool
	dirty bool
}

func fromNodeRev(n *NodeRev) *txnNode {
	return &txnNode{
		base:   n,
		kind:   n.Kind,
		props:  n.Props.Clone(),
		text:   n.TextHash,
		size:   n.Size,
		target: n.Target,
	}
}

// createdRev is the revision the node was last changed in, or
// InvalidRevnum for nodes added in this transaction.
func (t *txnNode) createdRev() delta.Revnum {
	if t.added || t.base == nil {
		return delta.InvalidRevnum
	}
	return t.base.CreatedRev
}

// txnTree is the mutable tree of a transaction.
type txnTree struct {
	repo *Repository
	root *txnNode
}

func newTxnTree(repo *Repository, root *NodeRev) *txnTree {
	return &txnTree{repo: repo, root: fromNodeRev(root)}
}

func (t *txnTree) load(n *txnNode) error {
	if n.loaded || n.kind != delta.KindDir {
		return nil
	}
	n.entries = make(map[string]*txnNode)
	if n.base != nil {
		for name, id := range n.base.Entries {
			child, err := t.repo.node(id)
			if err != nil {
				return err
			}
			n.entries[name] = fromNodeRev(child)
		}
	}
	n.loaded = true
	return nil
}

// lookup returns the node at path and its ancestors, root first. A missing
// node yields nil without error.
func (t *txnTree) lookup(path string) (*txnNode, []*txnNode, error) {
	n := t.root
	var chain []*txnNode
	for _, name := range delta.Components(path) {
		if n.kind != delta.KindDir {
			return nil, chain, nil
		}
		if err := t.load(n); err != nil {
			return nil, nil, err
		}
		chain = append(chain, n)
		child, ok := n.entries[name]
		if !ok {
			return nil, chain, nil
		}
		n = child
	}
	return n, chain, nil
}

// parentDir returns the directory that will hold path.
func (t *txnTree) parentDir(path string) (*txnNode, []*txnNode, error) {
	parent, chain, err := t.lookup(delta.Dirname(path))
	if err != nil {
		return nil, nil, err
	}
	if parent == nil {
		return nil, nil, apperrors.OutOfDate("parent of '/%s' does not exist", path)
	}
	if parent.kind != delta.KindDir {
		return nil, nil, apperrors.OutOfDate("parent of '/%s' is not a directory", path)
	}
	if err := t.load(parent); err != nil {
		return nil, nil, err
	}
	return parent, append(chain, parent), nil
}

func touch(chain []*txnNode) {
	for _, n := range chain {
		n.dirty = true
	}
}

// put places n at path, replacing any existing node.
func (t *txnTree) put(path string, n *txnNode) error {
	parent, chain, err := t.parentDir(path)
	if err != nil {
		return err
	}
	parent.entries[delta.Basename(path)] = n
	n.dirty = true
	touch(chain)
	return nil
}

// remove unlinks the node at path and returns it.
func (t *txnTree) remove(path string) (*txnNode, error) {
	n, chain, err := t.lookup(path)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, nil
	}
	parent := chain[len(chain)-1]
	delete(parent.entries, delta.Basename(path))
	touch(chain)
	return n, nil
}

// modified marks the node at path and its ancestors dirty.
func (t *txnTree) modified(path string) error {
	n, chain, err := t.lookup(path)
	if err != nil {
		return err
	}
	if n == nil {
		return apperrors.OutOfDate("path '/%s' does not exist", path)
	}
	n.dirty = true
	touch(chain)
	return nil
}

// writer turns the dirty part of a transaction tree into node-revisions.
// IDs are assigned in depth-first order so equal drives produce equal
// repositories.
type writer struct {
	repo *Repository
	txn  *badger.Txn
	rev  delta.Revnum
	seq  int
}

func (w *writer) write(path string, n *txnNode) (string, error) {
	if !n.dirty && n.base != nil {
		return n.base.ID, nil
	}

	id := fmt.Sprintf("%d.%d", w.rev, w.seq)
	w.seq++

	out := &NodeRev{
		ID:          id,
		Kind:        n.kind,
		CreatedRev:  w.rev,
		CreatedPath: path,
		Props:       n.props,
		CopyFrom:    n.copyFrom,
	}
	if len(out.Props) == 0 {
		out.Props = nil
	}
	if n.base != nil && !n.added {
		out.Predecessor = n.base.ID
	}

	switch n.kind {
	case delta.KindDir:
		if err := (&txnTree{repo: w.repo}).load(n); err != nil {
			return "", err
		}
		names := make([]string, 0, len(n.entries))
		for name := range n.entries {
			names = append(names, name)
		}
		sort.Strings(names)
		out.Entries = make(map[string]string, len(names))
		for _, name := range names {
			childID, err := w.write(delta.Join(path, name), n.entries[name])
			if err != nil {
				return "", err
			}
			out.Entries[name] = childID
		}
	case delta.KindFile:
		out.TextHash, out.Size = n.text, n.size
	case delta.KindSymlink:
		out.Target = n.target
	}

	if err := w.repo.nodes.PutTxn(w.txn, id, out); err != nil {
		return "", err
	}
	return id, nil
}
