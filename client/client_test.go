package client

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"svnlite/internal/api"
	"svnlite/internal/delta"
	apperrors "svnlite/internal/errors"
	"svnlite/internal/ra"
	"svnlite/shared/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()
	rc := ra.NewClient(nil, nil)
	require.NoError(t, rc.Init(ctx))
	t.Cleanup(func() { rc.Close() })
	require.NoError(t, rc.Create(ctx, "mem://client"))

	mux := http.NewServeMux()
	api.NewHandler(rc, "mem://client", nil).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(srv.URL)
}

func TestClient(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	require.NoError(t, c.Health(ctx))

	result, err := c.Commit(ctx, []byte(`
author: carol
message: add notes
ops:
  - {op: add-dir, path: docs, children: [notes.txt]}
  - {op: add-file, path: docs/notes.txt, content: "one\n"}
`))
	require.NoError(t, err)
	assert.Equal(t, delta.Revnum(1), result.Revision)

	_, err = c.Commit(ctx, []byte(`{"ops": [{"op": "alter-file", "path": "docs/notes.txt", "rev": 1, "content": "two\n"}]}`))
	require.NoError(t, err)

	info, err := c.Info(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, delta.KindDir, info.Kind)
	assert.Equal(t, delta.Revnum(2), info.Youngest)

	var buf bytes.Buffer
	rev, err := c.Cat(ctx, "docs/notes.txt", 1, &buf)
	require.NoError(t, err)
	assert.Equal(t, delta.Revnum(1), rev)
	assert.Equal(t, "one\n", buf.String())

	listing, err := c.List(ctx, "docs", delta.InvalidRevnum)
	require.NoError(t, err)
	require.Len(t, listing.Entries, 1)
	assert.Equal(t, delta.Revnum(2), listing.Rev)

	log, err := c.Log(ctx, "docs/notes.txt", delta.InvalidRevnum, 0, 0, true)
	require.NoError(t, err)
	require.Len(t, log.Entries, 2)
	assert.Equal(t, "carol", log.Entries[1].Author)

	d, err := c.Diff(ctx, "docs", 1, 2, false)
	require.NoError(t, err)
	assert.Contains(t, d.Unified, "-one\n+two\n")

	lock, err := c.Lock(ctx, types.LockRequest{Path: "docs/notes.txt", Owner: "carol"})
	require.NoError(t, err)
	found, err := c.Locks(ctx, "", delta.DepthInfinity)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, lock.Token, found[0].Token)
	require.NoError(t, c.Unlock(ctx, "docs/notes.txt", lock.Token, false))

	t.Run("Errors", func(t *testing.T) {
		_, err := c.Info(ctx, "missing")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)

		err = c.Unlock(ctx, "docs/notes.txt", "", true)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)

		_, err = New("http://127.0.0.1:1").Info(ctx, "")
		assert.ErrorIs(t, err, apperrors.ErrTransport)
	})
}
