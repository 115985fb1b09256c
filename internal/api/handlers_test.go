package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"svnlite/internal/delta"
	"svnlite/internal/ra"
	"svnlite/shared/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const repoURL = "mem://api"

const firstScript = `
author: alice
message: initial import
ops:
  - op: add-dir
    path: trunk
    children: [README, lib]
  - op: add-file
    path: trunk/README
    content: "hello\n"
  - op: add-dir
    path: trunk/lib
    children: []
`

const secondScript = `{
  "author": "bob",
  "message": "edit readme",
  "ops": [
    {"op": "alter-file", "path": "trunk/README", "rev": 1, "content": "hello again\n"}
  ]
}`

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	client := ra.NewClient(nil, nil)
	require.NoError(t, client.Init(ctx))
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Create(ctx, repoURL))

	mux := http.NewServeMux()
	NewHandler(client, repoURL, nil).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func seed(t *testing.T, srv *httptest.Server) {
	t.Helper()
	for _, body := range []string{firstScript, secondScript} {
		resp := do(t, "POST", srv.URL+"/api/commits", body)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	srv := newServer(t)
	resp := do(t, "GET", srv.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", decode[types.Health](t, resp).Status)
}

func TestCommit(t *testing.T) {
	srv := newServer(t)

	resp := do(t, "POST", srv.URL+"/api/commits", firstScript)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	result := decode[types.CommitResult](t, resp)
	assert.Equal(t, delta.Revnum(1), result.Revision)
	assert.Equal(t, "alice", result.Author)

	t.Run("OutOfDate", func(t *testing.T) {
		stale := strings.Replace(secondScript, `"rev": 1`, `"rev": 0`, 1)
		resp := do(t, "POST", srv.URL+"/api/commits", stale)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "OUT_OF_DATE", decode[types.Error](t, resp).Type)
	})

	t.Run("Invalid", func(t *testing.T) {
		resp := do(t, "POST", srv.URL+"/api/commits", "ops: [{op: explode, path: x}]")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "VALIDATION", decode[types.Error](t, resp).Type)
	})

	t.Run("NoOp", func(t *testing.T) {
		resp := do(t, "POST", srv.URL+"/api/commits", `{"author": "alice", "ops": []}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.False(t, decode[types.CommitResult](t, resp).Revision.IsValid())
	})
}

func TestInfoAndLog(t *testing.T) {
	srv := newServer(t)
	seed(t, srv)

	resp := do(t, "GET", srv.URL+"/api/info?path=trunk/README", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	info := decode[types.Info](t, resp)
	assert.Equal(t, repoURL+"/trunk/README", info.URL)
	assert.Equal(t, delta.Revnum(2), info.Youngest)
	assert.Equal(t, delta.KindFile, info.Kind)
	assert.Equal(t, "bob", info.LastChanged.Author)
	assert.True(t, info.Capabilities[ra.CapDepth])

	resp = do(t, "GET", srv.URL+"/api/info?path=nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, "GET", srv.URL+"/api/log?path=trunk/lib&changed=true", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	log := decode[types.Log](t, resp)
	require.Len(t, log.Entries, 1)
	assert.Equal(t, "initial import", log.Entries[0].Message)
	assert.NotEmpty(t, log.Entries[0].ChangedPaths)

	resp = do(t, "GET", srv.URL+"/api/log?limit=1", "")
	log = decode[types.Log](t, resp)
	require.Len(t, log.Entries, 1)
	assert.Equal(t, delta.Revnum(2), log.Entries[0].Revision)
}

func TestListAndCat(t *testing.T) {
	srv := newServer(t)
	seed(t, srv)

	resp := do(t, "GET", srv.URL+"/api/ls?path=trunk", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listing := decode[types.Listing](t, resp)
	require.Len(t, listing.Entries, 2)
	assert.Equal(t, "README", listing.Entries[0].Name)

	resp = do(t, "GET", srv.URL+"/api/cat?path=trunk/README&rev=1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body bytes.Buffer
	_, err := body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", body.String())
	assert.Equal(t, "1", resp.Header.Get("X-Revision"))
}

func TestLocks(t *testing.T) {
	srv := newServer(t)
	seed(t, srv)

	resp := do(t, "POST", srv.URL+"/api/locks", `{"path": "trunk/README", "owner": "alice", "expires": "1h"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	lock := decode[struct {
		Token string `json:"token"`
	}](t, resp)
	assert.NotEmpty(t, lock.Token)

	resp = do(t, "POST", srv.URL+"/api/locks", `{"path": "trunk/README", "owner": "bob"}`)
	assert.Equal(t, http.StatusLocked, resp.StatusCode)

	resp = do(t, "GET", srv.URL+"/api/locks?path=trunk", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[types.Locks](t, resp).Locks, 1)

	resp = do(t, "GET", srv.URL+"/api/locks?path=missing/path", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, "a missing path has no locks")
	assert.Empty(t, decode[types.Locks](t, resp).Locks)

	resp = do(t, "DELETE", srv.URL+"/api/locks?path=trunk/README&token=wrong", "")
	assert.Equal(t, http.StatusLocked, resp.StatusCode)
	resp = do(t, "DELETE", srv.URL+"/api/locks?path=trunk/README&token="+lock.Token, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestDiff(t *testing.T) {
	srv := newServer(t)
	seed(t, srv)

	resp := do(t, "GET", srv.URL+"/api/diff?path=trunk&r=1:2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	d := decode[types.Diff](t, resp)
	require.Len(t, d.Changes, 1)
	assert.Equal(t, "README", d.Changes[0].Path)
	assert.Contains(t, d.Unified, "-hello\n+hello again\n")

	resp = do(t, "GET", srv.URL+"/api/diff?r=2&summarize=true", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "M  trunk/README\n", decode[types.Diff](t, resp).Unified)

	resp = do(t, "GET", srv.URL+"/api/diff?r=x", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
