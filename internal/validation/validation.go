// Package validation decodes and checks HTTP request bodies before a
// session is opened for them.
package validation

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"svnlite/internal/delta"
	"svnlite/internal/errors"
	"svnlite/internal/repos"
	"svnlite/internal/script"
	"svnlite/shared/types"
)

// MaxScriptSize bounds the body of a commit request.
const MaxScriptSize = 32 << 20

// ValidateCommitRequest reads an edit script from the request body.
func ValidateCommitRequest(r *http.Request) (*script.Script, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxScriptSize+1))
	if err != nil {
		return nil, errors.Transport(err, "reading edit script")
	}
	if len(body) > MaxScriptSize {
		return nil, errors.Validation("edit script exceeds %d bytes", MaxScriptSize)
	}
	return script.Parse(body)
}

// ValidateLockRequest decodes a lock request and turns it into lock
// options.
func ValidateLockRequest(r *http.Request) (*types.LockRequest, repos.LockOptions, error) {
	var req types.LockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, repos.LockOptions{}, errors.ValidationError("invalid request body", err.Error())
	}
	if req.Path == "" || req.Owner == "" {
		return nil, repos.LockOptions{}, errors.ValidationError("path and owner are required", req)
	}

	opts := repos.LockOptions{Owner: req.Owner, Comment: req.Comment, Rev: delta.InvalidRevnum, Steal: req.Steal}
	if req.Rev > 0 {
		opts.Rev = req.Rev
	}
	if req.Expires != "" {
		d, err := time.ParseDuration(req.Expires)
		if err != nil || d <= 0 {
			return nil, repos.LockOptions{}, errors.Validation("invalid expiry %q", req.Expires)
		}
		opts.Expires = d
	}
	return &req, opts, nil
}
