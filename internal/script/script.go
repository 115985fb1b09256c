// Package script reads edit scripts: a list of editor operations written in
// YAML or JSON and replayed into any delta.Editor.
package script

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"svnlite/internal/delta"
	apperrors "svnlite/internal/errors"
	"svnlite/internal/props"

	"gopkg.in/yaml.v3"
)

// Operation names.
const (
	OpAddDir       = "add-dir"
	OpAddFile      = "add-file"
	OpAddSymlink   = "add-symlink"
	OpAddAbsent    = "add-absent"
	OpAlterDir     = "alter-dir"
	OpAlterFile    = "alter-file"
	OpAlterSymlink = "alter-symlink"
	OpDelete       = "delete"
	OpCopy         = "copy"
	OpMove         = "move"
)

// Script is a commit: revision properties, lock tokens and the operations
// to drive.
type Script struct {
	Author     string            `json:"author,omitempty" yaml:"author,omitempty"`
	Message    string            `json:"message,omitempty" yaml:"message,omitempty"`
	Revprops   map[string]string `json:"revprops,omitempty" yaml:"revprops,omitempty"`
	LockTokens map[string]string `json:"lock_tokens,omitempty" yaml:"lock_tokens,omitempty"`
	Ops        []Op              `json:"ops" yaml:"ops"`
}

// Op is one editor call. Revisions left out are InvalidRevnum; Props and
// Children left out are nil, which alterations read as "unchanged".
type Op struct {
	Op       string            `json:"op" yaml:"op"`
	Path     string            `json:"path" yaml:"path"`
	Rev      *int64            `json:"rev,omitempty" yaml:"rev,omitempty"`
	Replaces *int64            `json:"replaces,omitempty" yaml:"replaces,omitempty"`
	Children []string          `json:"children,omitempty" yaml:"children,omitempty"`
	Props    map[string]string `json:"props,omitempty" yaml:"props,omitempty"`
	Content  *string           `json:"content,omitempty" yaml:"content,omitempty"`
	Target   *string           `json:"target,omitempty" yaml:"target,omitempty"`
	Kind     string            `json:"kind,omitempty" yaml:"kind,omitempty"`
	From     string            `json:"from,omitempty" yaml:"from,omitempty"`
	FromRev  *int64            `json:"from_rev,omitempty" yaml:"from_rev,omitempty"`
}

func revnum(r *int64) delta.Revnum {
	if r == nil {
		return delta.InvalidRevnum
	}
	return delta.Revnum(*r)
}

func toProps(m map[string]string) delta.Props {
	if m == nil {
		return nil
	}
	p := make(delta.Props, len(m))
	for k, v := range m {
		p[k] = []byte(v)
	}
	return p
}

// Parse decodes a script. JSON is recognised by a leading '{'; anything
// else is read as YAML.
func Parse(data []byte) (*Script, error) {
	var s Script
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("{")) {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&s); err != nil {
			return nil, apperrors.Validation("parsing script: %v", err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(trimmed))
		dec.KnownFields(true)
		if err := dec.Decode(&s); err != nil {
			return nil, apperrors.Validation("parsing script: %v", err)
		}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads a script file.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	return Parse(data)
}

// Validate checks each operation carries the fields it needs.
func (s *Script) Validate() error {
	for i, op := range s.Ops {
		if err := op.validate(); err != nil {
			return apperrors.ValidationError(fmt.Sprintf("op %d (%s %q): %v", i, op.Op, op.Path, err), op)
		}
	}
	return nil
}

func (op *Op) validate() error {
	if err := delta.ValidateRelpath(op.Path); err != nil {
		return err
	}
	if err := props.Validate(toProps(op.Props)); err != nil {
		return err
	}
	switch op.Op {
	case OpAddDir, OpAlterDir, OpDelete, OpAlterFile:
	case OpAddFile:
		if op.Content == nil {
			return fmt.Errorf("content is required")
		}
	case OpAddSymlink:
		if op.Target == nil {
			return fmt.Errorf("target is required")
		}
	case OpAlterSymlink:
		if op.Target == nil && op.Props == nil {
			return fmt.Errorf("target or props is required")
		}
	case OpAddAbsent:
		if _, err := delta.ParseKind(op.Kind); err != nil {
			return err
		}
	case OpCopy, OpMove:
		if err := delta.ValidateRelpath(op.From); err != nil {
			return fmt.Errorf("from: %w", err)
		}
	default:
		return fmt.Errorf("unknown operation")
	}
	return nil
}

// RevisionProps returns the revision properties the script asks for, with the
// author and message folded in.
func (s *Script) RevisionProps() delta.Props {
	p := toProps(s.Revprops)
	if p == nil {
		p = delta.Props{}
	}
	if s.Author != "" {
		p[props.RevAuthor] = []byte(s.Author)
	}
	if s.Message != "" {
		p[props.RevLog] = []byte(s.Message)
	}
	return p
}

// Apply drives e with the script's operations without completing it.
func (s *Script) Apply(ctx context.Context, e delta.Editor) error {
	for i, op := range s.Ops {
		if err := op.apply(ctx, e); err != nil {
			return fmt.Errorf("op %d (%s %s): %w", i, op.Op, op.Path, err)
		}
	}
	return nil
}

// Replay applies the script and completes the drive, aborting it when an
// operation fails.
func (s *Script) Replay(ctx context.Context, e delta.Editor) error {
	if err := s.Apply(ctx, e); err != nil {
		_ = e.Abort(ctx)
		return err
	}
	if err := e.Complete(ctx); err != nil {
		if !apperrors.Is(err, apperrors.ErrCommitCallback) {
			_ = e.Abort(ctx)
		}
		return err
	}
	return nil
}

func (op *Op) apply(ctx context.Context, e delta.Editor) error {
	p := toProps(op.Props)
	switch op.Op {
	case OpAddDir:
		children := op.Children
		if children == nil {
			children = []string{}
		}
		return e.AddDirectory(ctx, op.Path, children, p, revnum(op.Replaces))
	case OpAddFile:
		sum := delta.ChecksumBytes(delta.ChecksumSHA1, []byte(*op.Content))
		return e.AddFile(ctx, op.Path, sum, strings.NewReader(*op.Content), p, revnum(op.Replaces))
	case OpAddSymlink:
		return e.AddSymlink(ctx, op.Path, *op.Target, p, revnum(op.Replaces))
	case OpAddAbsent:
		kind, _ := delta.ParseKind(op.Kind)
		return e.AddAbsent(ctx, op.Path, kind, revnum(op.Replaces))
	case OpAlterDir:
		return e.AlterDirectory(ctx, op.Path, revnum(op.Rev), op.Children, p)
	case OpAlterFile:
		if op.Content == nil {
			return e.AlterFile(ctx, op.Path, revnum(op.Rev), nil, nil, p)
		}
		sum := delta.ChecksumBytes(delta.ChecksumSHA1, []byte(*op.Content))
		return e.AlterFile(ctx, op.Path, revnum(op.Rev), &sum, strings.NewReader(*op.Content), p)
	case OpAlterSymlink:
		return e.AlterSymlink(ctx, op.Path, revnum(op.Rev), op.Target, p)
	case OpDelete:
		return e.Delete(ctx, op.Path, revnum(op.Rev))
	case OpCopy:
		return e.Copy(ctx, op.From, revnum(op.FromRev), op.Path, revnum(op.Replaces))
	case OpMove:
		return e.Move(ctx, op.From, revnum(op.FromRev), op.Path, revnum(op.Replaces))
	}
	return apperrors.Validation("unknown operation %q", op.Op)
}
