// Package diff renders tree deltas as unified diffs.
package diff

import (
	"bytes"
	"strings"

	"svnlite/internal/delta"
	"svnlite/internal/props"

	"github.com/pmezard/go-difflib/difflib"
)

// Stats counts changed lines.
type Stats struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
	Changes   int `json:"changes"`
}

// Result is the diff of one text.
type Result struct {
	Unified string `json:"unified,omitempty"`
	Binary  bool   `json:"binary,omitempty"`
	Stats   Stats  `json:"stats"`
}

// Engine provides diffing capabilities
type Engine struct {
	contextLines int
}

// NewEngine creates a new diff engine with specified context lines
func NewEngine(contextLines int) *Engine {
	if contextLines < 0 {
		contextLines = 3
	}
	return &Engine{contextLines: contextLines}
}

// Labels name the two sides of a text diff in its header.
type Labels struct {
	OldPath, OldRev string
	NewPath, NewRev string
}

// Diff generates a unified diff between two texts. Binary texts are not
// rendered, only flagged.
func (e *Engine) Diff(oldContent, newContent []byte, labels Labels) (*Result, error) {
	if IsBinary(oldContent) || IsBinary(newContent) {
		return &Result{Binary: !bytes.Equal(oldContent, newContent)}, nil
	}

	unified, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(oldContent)),
		B:        difflib.SplitLines(string(newContent)),
		FromFile: labels.OldPath,
		FromDate: labels.OldRev,
		ToFile:   labels.NewPath,
		ToDate:   labels.NewRev,
		Context:  e.contextLines,
	})
	if err != nil {
		return nil, err
	}

	result := &Result{Unified: unified}
	for i, line := range strings.SplitAfter(unified, "\n") {
		// Skip the two header lines.
		if i < 2 {
			continue
		}
		switch {
		case strings.HasPrefix(line, "+"):
			result.Stats.Additions++
		case strings.HasPrefix(line, "-"):
			result.Stats.Deletions++
		}
	}
	result.Stats.Changes = result.Stats.Additions + result.Stats.Deletions
	return result, nil
}

// IsBinary reports whether text looks binary: it holds a NUL in its first
// 8000 bytes.
func IsBinary(text []byte) bool {
	if len(text) > 8000 {
		text = text[:8000]
	}
	return bytes.IndexByte(text, 0) >= 0
}

// BinaryMimeType reports whether a node's svn:mime-type marks it binary.
func BinaryMimeType(p delta.Props) bool {
	mime, ok := p[props.MimeType]
	if !ok {
		return false
	}
	return !bytes.HasPrefix(mime, []byte("text/")) &&
		!bytes.Equal(mime, []byte("image/x-xbitmap")) &&
		!bytes.Equal(mime, []byte("image/x-xpixmap"))
}
