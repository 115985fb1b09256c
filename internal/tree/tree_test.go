package tree

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"svnlite/internal/delta"
	apperrors "svnlite/internal/errors"
	"svnlite/internal/props"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func file(s string) (delta.Checksum, *strings.Reader) {
	return delta.ChecksumBytes(delta.ChecksumSHA1, []byte(s)), strings.NewReader(s)
}

// build replays a fixed drive through a checked editor.
func build(t *testing.T, tr *Tree) {
	ctx := context.Background()
	e := delta.NewCheckedEditor(NewEditor(tr, EditorOptions{Revision: 7}), delta.CheckedOptions{})

	require.NoError(t, e.AddDirectory(ctx, "src", []string{"main.go", "util", "link", "hidden"}, delta.Props{"owner": []byte("core")}, delta.InvalidRevnum))
	sum, body := file("package main\n")
	require.NoError(t, e.AddFile(ctx, "src/main.go", sum, body, delta.Props{props.EntryCommittedRev: []byte("7")}, delta.InvalidRevnum))
	require.NoError(t, e.AddDirectory(ctx, "src/util", []string{"README"}, nil, delta.InvalidRevnum))
	require.NoError(t, e.AddSymlink(ctx, "src/link", "main.go", nil, delta.InvalidRevnum))
	require.NoError(t, e.AddAbsent(ctx, "src/hidden", delta.KindDir, delta.InvalidRevnum))
	require.NoError(t, e.Copy(ctx, "docs", 3, "docs-copy", delta.InvalidRevnum))
	require.NoError(t, e.Move(ctx, "README", 3, "src/util/README", delta.InvalidRevnum))
	require.NoError(t, e.Complete(ctx))
}

func seeded() *Tree {
	tr := New()
	docs := NewDir()
	docs.Children["guide.txt"] = &Node{Kind: delta.KindFile, Text: []byte("guide")}
	tr.Root.Children["docs"] = docs
	tr.Root.Children["README"] = &Node{Kind: delta.KindFile, Text: []byte("readme")}
	return tr
}

func TestDeterminism(t *testing.T) {
	a, b := seeded(), seeded()
	build(t, a)
	build(t, b)

	assert.True(t, a.Equal(b))
	assert.Equal(t, delta.Revnum(7), a.Revision)

	main := a.Lookup("src/main.go")
	require.NotNil(t, main)
	assert.Nil(t, main.Props)
	assert.Equal(t, []byte("7"), main.Entry[props.EntryCommittedRev])

	hidden := a.Lookup("src/hidden")
	require.NotNil(t, hidden)
	assert.True(t, hidden.Absent)
	assert.Contains(t, a.Dump(), "src/hidden dir absent\n")
	assert.Contains(t, a.Dump(), "src/link symlink -> main.go\n")
	assert.Contains(t, a.Dump(), `src dir owner="core"`)

	assert.Nil(t, a.Lookup("README"))
	assert.Equal(t, []byte("readme"), a.Lookup("src/util/README").Text)
	assert.Equal(t, []byte("guide"), a.Lookup("docs-copy/guide.txt").Text)
}

func TestAbortLeavesTree(t *testing.T) {
	ctx := context.Background()
	tr := seeded()
	before := tr.Dump()

	e := NewEditor(tr, EditorOptions{})
	require.NoError(t, e.Delete(ctx, "docs", 1))
	require.NoError(t, e.Abort(ctx))
	assert.Equal(t, before, tr.Dump())
}

func TestEditorErrors(t *testing.T) {
	ctx := context.Background()
	tr := seeded()
	e := NewEditor(tr, EditorOptions{})

	tests := []struct {
		name string
		call func() error
	}{
		{"AddExisting", func() error {
			return e.AddDirectory(ctx, "docs", []string{}, nil, delta.InvalidRevnum)
		}},
		{"AddUnderFile", func() error {
			return e.AddDirectory(ctx, "README/x", []string{}, nil, delta.InvalidRevnum)
		}},
		{"AlterWrongKind", func() error {
			return e.AlterDirectory(ctx, "README", 1, nil, delta.Props{})
		}},
		{"DeleteMissing", func() error {
			return e.Delete(ctx, "nope", 1)
		}},
		{"MoveMissing", func() error {
			return e.Move(ctx, "nope", 1, "x", delta.InvalidRevnum)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.call(), apperrors.ErrOutOfDate)
		})
	}

	err := e.Copy(ctx, "nope", 1, "x", delta.InvalidRevnum)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	require.NoError(t, e.AddDirectory(ctx, "docs", []string{}, nil, 1), "replacing add")
}

func TestCorruptContentRejected(t *testing.T) {
	ctx := context.Background()
	tr := seeded()
	before := tr.Dump()
	e := delta.NewCheckedEditor(NewEditor(tr, EditorOptions{}), delta.CheckedOptions{})

	sum := delta.ChecksumBytes(delta.ChecksumSHA1, []byte("expected"))
	err := e.AddFile(ctx, "f", sum, strings.NewReader("corrupted"), nil, delta.InvalidRevnum)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	err = e.AlterFile(ctx, "README", 1, &sum, strings.NewReader("corrupted"), nil)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	require.NoError(t, e.Complete(ctx))
	assert.Nil(t, tr.Lookup("f"))
	assert.Equal(t, []byte("readme"), tr.Lookup("README").Text)
	assert.Equal(t, before, tr.Dump())
}

func TestMaterialize(t *testing.T) {
	tr := seeded()
	tr.Root.Children["run.sh"] = &Node{Kind: delta.KindFile, Text: []byte("#!/bin/sh\n"), Props: delta.Props{props.Executable: []byte("*")}}
	tr.Root.Children["secret"] = &Node{Kind: delta.KindFile, Absent: true}

	dir := t.TempDir()
	require.NoError(t, tr.Materialize(dir))

	data, err := os.ReadFile(filepath.Join(dir, "docs", "guide.txt"))
	require.NoError(t, err)
	assert.Equal(t, "guide", string(data))

	info, err := os.Stat(filepath.Join(dir, "run.sh"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o100)

	_, err = os.Stat(filepath.Join(dir, "secret"))
	assert.True(t, os.IsNotExist(err))
}
