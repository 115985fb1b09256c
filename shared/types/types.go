// Package types holds the request and response bodies of the HTTP API.
package types

import (
	"time"

	"svnlite/internal/delta"
	"svnlite/internal/diff"
	"svnlite/internal/locks"
	"svnlite/internal/repos"
)

type Health struct {
	Status string `json:"status"`
}

// Info describes the served repository, or a path in it.
type Info struct {
	URL          string          `json:"url"`
	RootURL      string          `json:"root_url"`
	UUID         string          `json:"uuid"`
	Youngest     delta.Revnum    `json:"youngest"`
	Path         string          `json:"path"`
	Kind         delta.Kind      `json:"kind"`
	LastChanged  *repos.Dirent   `json:"last_changed,omitempty"`
	Capabilities map[string]bool `json:"capabilities"`
}

type Log struct {
	Entries []repos.LogEntry `json:"entries"`
}

type Listing struct {
	Path    string         `json:"path"`
	Rev     delta.Revnum   `json:"rev"`
	Entries []repos.Dirent `json:"entries"`
}

// CommitResult is returned for an applied edit script. Revision is -1 when
// the script changed nothing.
type CommitResult struct {
	Revision delta.Revnum `json:"revision"`
	Author   string       `json:"author,omitempty"`
	Date     time.Time    `json:"date,omitempty"`
}

type LockRequest struct {
	Path    string       `json:"path"`
	Owner   string       `json:"owner"`
	Comment string       `json:"comment,omitempty"`
	Rev     delta.Revnum `json:"rev,omitempty"`
	Steal   bool         `json:"steal,omitempty"`
	// Expires is a duration such as "1h"; empty never expires.
	Expires string `json:"expires,omitempty"`
}

type Locks struct {
	Locks []locks.Lock `json:"locks"`
}

type Diff struct {
	From    delta.Revnum  `json:"from"`
	To      delta.Revnum  `json:"to"`
	Changes []diff.Change `json:"changes"`
	Unified string        `json:"unified,omitempty"`
}

// Error is the body of every failed request.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}
