// Package client talks to the svnlite HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"svnlite/internal/delta"
	apperrors "svnlite/internal/errors"
	"svnlite/internal/locks"
	"svnlite/shared/types"
	"svnlite/shared/utils"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: time.Second * 30,
		},
	}
}

// do sends a request and decodes a JSON answer into out. Error bodies
// become *errors.Error values carrying the server's type.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out any) (*http.Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Transport(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e types.Error
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Type == "" {
			return nil, fmt.Errorf("unexpected status: %s", resp.Status)
		}
		return nil, &apperrors.Error{Type: apperrors.ErrorType(e.Type), Message: e.Message, Code: resp.StatusCode, Details: e.Details}
	}
	if out == nil {
		return resp, nil
	}
	if w, ok := out.(io.Writer); ok {
		_, err = io.Copy(w, resp.Body)
		return resp, err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return resp, nil
}

func revQuery(q url.Values, name string, rev delta.Revnum) {
	if rev.IsValid() {
		q.Set(name, strconv.FormatInt(int64(rev), 10))
	}
}

func (c *Client) Health(ctx context.Context) error {
	var h types.Health
	_, err := c.do(ctx, http.MethodGet, "/health", nil, nil, "", &h)
	return err
}

func (c *Client) Info(ctx context.Context, path string) (*types.Info, error) {
	var info types.Info
	if _, err := c.do(ctx, http.MethodGet, "/api/info", url.Values{"path": {path}}, nil, "", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Log returns the revisions touching path between start and end; limit 0
// means all of them.
func (c *Client) Log(ctx context.Context, path string, start, end delta.Revnum, limit int, changed bool) (*types.Log, error) {
	q := url.Values{"path": {path}}
	revQuery(q, "start", start)
	revQuery(q, "end", end)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if changed {
		q.Set("changed", "true")
	}
	var log types.Log
	if _, err := c.do(ctx, http.MethodGet, "/api/log", q, nil, "", &log); err != nil {
		return nil, err
	}
	return &log, nil
}

func (c *Client) List(ctx context.Context, path string, rev delta.Revnum) (*types.Listing, error) {
	q := url.Values{"path": {path}}
	revQuery(q, "rev", rev)
	var listing types.Listing
	if _, err := c.do(ctx, http.MethodGet, "/api/ls", q, nil, "", &listing); err != nil {
		return nil, err
	}
	return &listing, nil
}

// Cat writes the text of a file to w and returns the revision it was read
// from.
func (c *Client) Cat(ctx context.Context, path string, rev delta.Revnum, w io.Writer) (delta.Revnum, error) {
	q := url.Values{"path": {path}}
	revQuery(q, "rev", rev)
	resp, err := c.do(ctx, http.MethodGet, "/api/cat", q, nil, "", w)
	if err != nil {
		return delta.InvalidRevnum, err
	}
	return delta.ParseRevnum(resp.Header.Get("X-Revision"))
}

// Commit sends an edit script, YAML or JSON, to be applied as one revision.
func (c *Client) Commit(ctx context.Context, script []byte) (*types.CommitResult, error) {
	var result types.CommitResult
	if _, err := c.do(ctx, http.MethodPost, "/api/commits", nil, bytes.NewReader(script), "application/yaml", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Locks(ctx context.Context, path string, depth delta.Depth) ([]locks.Lock, error) {
	var out types.Locks
	q := url.Values{"path": {path}, "depth": {depth.String()}}
	if _, err := c.do(ctx, http.MethodGet, "/api/locks", q, nil, "", &out); err != nil {
		return nil, err
	}
	return out.Locks, nil
}

func (c *Client) Lock(ctx context.Context, req types.LockRequest) (*locks.Lock, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var lock locks.Lock
	if _, err := c.do(ctx, http.MethodPost, "/api/locks", nil, bytes.NewReader(data), "application/json", &lock); err != nil {
		return nil, err
	}
	return &lock, nil
}

func (c *Client) Unlock(ctx context.Context, path, token string, force bool) error {
	q := url.Values{"path": {path}}
	if token != "" {
		q.Set("token", token)
	}
	if force {
		q.Set("force", "true")
	}
	_, err := c.do(ctx, http.MethodDelete, "/api/locks", q, nil, "", nil)
	return err
}

// Diff compares a directory between two revisions.
func (c *Client) Diff(ctx context.Context, path string, from, to delta.Revnum, summarize bool) (*types.Diff, error) {
	q := url.Values{"path": {path}, "r": {utils.FormatRange(from, to)}}
	if summarize {
		q.Set("summarize", "true")
	}
	var d types.Diff
	if _, err := c.do(ctx, http.MethodGet, "/api/diff", q, nil, "", &d); err != nil {
		return nil, err
	}
	return &d, nil
}
