// Package tree holds versioned trees in memory. It is the target of update
// drives and the reference used to check that equal drives build equal
// trees.
package tree

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"svnlite/internal/delta"
	"svnlite/internal/props"
	"svnlite/internal/repos"
)

// Node is a file, directory, symlink or absent placeholder.
type Node struct {
	Kind delta.Kind
	// Props holds regular properties, Entry the entry bookkeeping sent
	// along by update drives.
	Props    delta.Props
	Entry    delta.Props
	Text     []byte
	Target   string
	Children map[string]*Node
	// Absent nodes exist in the repository but were not sent.
	Absent bool
}

func NewDir() *Node {
	return &Node{Kind: delta.KindDir, Children: map[string]*Node{}}
}

// Clone copies n and everything below it.
func (n *Node) Clone() *Node {
	c := *n
	c.Props = n.Props.Clone()
	c.Entry = n.Entry.Clone()
	c.Text = append([]byte(nil), n.Text...)
	if n.Children != nil {
		c.Children = make(map[string]*Node, len(n.Children))
		for name, child := range n.Children {
			c.Children[name] = child.Clone()
		}
	}
	return &c
}

// Names returns the child names, sorted.
func (n *Node) Names() []string {
	names := make([]string, 0, len(n.Children))
	for name := range n.Children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetProps stores p, separating entry bookkeeping from regular properties.
func (n *Node) SetProps(p delta.Props) {
	regular, entry, _ := props.Split(p)
	n.Props, n.Entry = nil, nil
	if len(regular) > 0 {
		n.Props = regular
	}
	if len(entry) > 0 {
		n.Entry = entry
	}
}

// Tree is a rooted directory with the revision it was last updated to.
type Tree struct {
	Root     *Node
	Revision delta.Revnum
}

func New() *Tree {
	return &Tree{Root: NewDir(), Revision: delta.InvalidRevnum}
}

// Lookup returns the node at path, or nil.
func (t *Tree) Lookup(path string) *Node {
	n := t.Root
	for _, name := range delta.Components(path) {
		if n.Children == nil {
			return nil
		}
		if n = n.Children[name]; n == nil {
			return nil
		}
	}
	return n
}

// Walk visits every node in depth-first order.
func (t *Tree) Walk(fn func(path string, n *Node) error) error {
	return walk("", t.Root, fn)
}

func walk(path string, n *Node, fn func(string, *Node) error) error {
	if err := fn(path, n); err != nil {
		return err
	}
	for _, name := range n.Names() {
		if err := walk(delta.Join(path, name), n.Children[name], fn); err != nil {
			return err
		}
	}
	return nil
}

// Dump renders the tree one node per line: path, kind, then regular
// properties and a digest of the text or the link target.
func (t *Tree) Dump() string {
	var b strings.Builder
	_ = t.Walk(func(path string, n *Node) error {
		if path == "" {
			path = "."
		}
		fmt.Fprintf(&b, "%s %s", path, n.Kind)
		if n.Absent {
			b.WriteString(" absent")
		}
		for _, name := range n.Props.Names() {
			fmt.Fprintf(&b, " %s=%q", name, n.Props[name])
		}
		switch n.Kind {
		case delta.KindFile:
			sum := sha1.Sum(n.Text)
			fmt.Fprintf(&b, " sha1:%s", hex.EncodeToString(sum[:]))
		case delta.KindSymlink:
			fmt.Fprintf(&b, " -> %s", n.Target)
		}
		b.WriteByte('\n')
		return nil
	})
	return b.String()
}

// Equal compares the structure, properties and contents of two trees.
func (t *Tree) Equal(other *Tree) bool {
	return t.Dump() == other.Dump()
}

// Load snapshots the subtree at path of a repository revision.
func Load(root *repos.Root, path string) (*Tree, error) {
	repo := root.Repository()
	nodes := map[string]*Node{}
	var top *Node
	err := root.Walk(path, func(p string, nr *repos.NodeRev) error {
		n := &Node{Kind: nr.Kind, Target: nr.Target}
		n.SetProps(nr.Props)
		switch nr.Kind {
		case delta.KindDir:
			n.Children = map[string]*Node{}
		case delta.KindFile:
			text, err := repo.Contents(nr)
			if err != nil {
				return err
			}
			n.Text = text
		}
		if p == path {
			top = n
		} else {
			nodes[delta.Dirname(p)].Children[delta.Basename(p)] = n
		}
		nodes[p] = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	if top.Kind != delta.KindDir {
		return nil, fmt.Errorf("'/%s' is not a directory", path)
	}
	return &Tree{Root: top, Revision: root.Revision()}, nil
}

// Materialize writes the tree below dir. Absent nodes are skipped.
func (t *Tree) Materialize(dir string) error {
	return t.Walk(func(path string, n *Node) error {
		if n.Absent {
			return nil
		}
		dst := filepath.Join(dir, filepath.FromSlash(path))
		switch n.Kind {
		case delta.KindDir:
			return os.MkdirAll(dst, 0o755)
		case delta.KindFile:
			mode := os.FileMode(0o644)
			if _, ok := n.Props[props.Executable]; ok {
				mode = 0o755
			}
			return os.WriteFile(dst, n.Text, mode)
		case delta.KindSymlink:
			return os.Symlink(n.Target, dst)
		}
		return nil
	})
}
