package diff

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"svnlite/internal/delta"
	apperrors "svnlite/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine(t *testing.T) {
	e := NewEngine(1)

	t.Run("Unified", func(t *testing.T) {
		res, err := e.Diff([]byte("a\nb\nc\nd\n"), []byte("a\nB\nc\nd\ne\n"), Labels{OldPath: "f", OldRev: "(revision 1)", NewPath: "f", NewRev: "(revision 2)"})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(res.Unified, "--- f\t(revision 1)\n+++ f\t(revision 2)\n@@ "))
		assert.Contains(t, res.Unified, "-b\n+B\n")
		assert.Equal(t, Stats{Additions: 2, Deletions: 1, Changes: 3}, res.Stats)
	})

	t.Run("Equal", func(t *testing.T) {
		res, err := e.Diff([]byte("same\n"), []byte("same\n"), Labels{})
		require.NoError(t, err)
		assert.Empty(t, res.Unified)
		assert.Zero(t, res.Stats)
	})

	t.Run("Binary", func(t *testing.T) {
		res, err := e.Diff([]byte("a\x00b"), []byte("a\x00c"), Labels{})
		require.NoError(t, err)
		assert.True(t, res.Binary)
		assert.Empty(t, res.Unified)
	})

	assert.True(t, BinaryMimeType(delta.Props{"svn:mime-type": []byte("application/octet-stream")}))
	assert.False(t, BinaryMimeType(delta.Props{"svn:mime-type": []byte("text/plain")}))
	assert.False(t, BinaryMimeType(nil))
}

func fetchers(texts map[string]string, p map[string]delta.Props) (delta.BaseFetcher, delta.PropsFetcher) {
	base := func(ctx context.Context, path string) (io.ReadCloser, delta.Revnum, error) {
		text, ok := texts[path]
		if !ok {
			return nil, delta.InvalidRevnum, apperrors.Validation("%s is not a file", path)
		}
		return io.NopCloser(strings.NewReader(text)), 1, nil
	}
	fetchProps := func(ctx context.Context, path string) (delta.Props, delta.Revnum, error) {
		return p[path], 1, nil
	}
	return base, fetchProps
}

func drive(t *testing.T, e delta.Editor) {
	t.Helper()
	ctx := context.Background()
	ed := delta.NewCheckedEditor(e, delta.CheckedOptions{})

	newText := "hello again\n"
	sum := delta.ChecksumBytes(delta.ChecksumSHA1, []byte(newText))
	require.NoError(t, ed.AlterDirectory(ctx, "", 1, []string{"README", "docs", "new.txt", "lib", "secret"}, nil))
	require.NoError(t, ed.AlterFile(ctx, "README", 1, &sum, strings.NewReader(newText), delta.Props{"svn:eol-style": []byte("native"), "svn:entry:committed-rev": []byte("2")}))
	require.NoError(t, ed.Delete(ctx, "docs", 1))
	sum = delta.ChecksumBytes(delta.ChecksumSHA1, []byte("new\n"))
	require.NoError(t, ed.AddFile(ctx, "new.txt", sum, strings.NewReader("new\n"), nil, delta.InvalidRevnum))
	require.NoError(t, ed.AlterDirectory(ctx, "lib", 1, nil, delta.Props{"owner": []byte("core"), "svn:entry:uuid": []byte("u")}))
	require.NoError(t, ed.AddAbsent(ctx, "secret", delta.KindFile, delta.InvalidRevnum))
	require.NoError(t, ed.Complete(ctx))
}

func TestEditor(t *testing.T) {
	base, fetchProps := fetchers(
		map[string]string{"README": "hello\n"},
		map[string]delta.Props{"lib": {"owner": []byte("ops")}},
	)

	t.Run("Summarize", func(t *testing.T) {
		var out bytes.Buffer
		e := NewEditor(Options{Out: &out, Summarize: true, Prefix: "trunk", FetchBase: base, FetchProps: fetchProps})
		drive(t, e)
		assert.Equal(t, "M  trunk/README\nD  trunk/docs\nM  trunk/lib\nA  trunk/new.txt\n", out.String())
	})

	t.Run("Unified", func(t *testing.T) {
		var out bytes.Buffer
		e := NewEditor(Options{Out: &out, OldRev: 1, NewRev: 2, FetchBase: base, FetchProps: fetchProps})
		drive(t, e)

		got := out.String()
		assert.Contains(t, got, "Index: README\n")
		assert.Contains(t, got, "--- README\t(revision 1)\n+++ README\t(revision 2)\n")
		assert.Contains(t, got, "-hello\n+hello again\n")
		assert.Contains(t, got, "Property changes on: README\n")
		assert.Contains(t, got, "Added: svn:eol-style\n+native\n")
		assert.NotContains(t, got, "svn:entry")
		assert.Contains(t, got, "Modified: owner\n-ops\n+core\n")
		assert.Contains(t, got, "--- new.txt\t(nonexistent)\n+++ new.txt\t(revision 2)\n")
		assert.Contains(t, got, "D    docs\n")
		assert.NotContains(t, got, "secret")
	})

	t.Run("Changes", func(t *testing.T) {
		e := NewEditor(Options{FetchBase: base, FetchProps: fetchProps})
		drive(t, e)
		changes := e.Changes()
		require.Len(t, changes, 4)
		assert.Equal(t, "README", changes[0].Path)
		assert.Equal(t, 1, changes[0].Text.Stats.Additions)
		assert.Equal(t, Deleted, changes[1].Action)
	})

	t.Run("AbortDiscards", func(t *testing.T) {
		var out bytes.Buffer
		e := NewEditor(Options{Out: &out})
		ctx := context.Background()
		require.NoError(t, e.AddDirectory(ctx, "x", []string{}, nil, delta.InvalidRevnum))
		require.NoError(t, e.Abort(ctx))
		assert.Empty(t, e.Changes())
		assert.Empty(t, out.String())
	})

	t.Run("Color", func(t *testing.T) {
		var out bytes.Buffer
		e := NewEditor(Options{Out: &out, Color: true, FetchBase: base, FetchProps: fetchProps})
		drive(t, e)
		assert.Contains(t, out.String(), "\x1b[32m+hello again\n")
	})
}
