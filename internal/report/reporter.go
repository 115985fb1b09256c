// Package report implements the reporter: the constrained sequence of calls
// by which a client describes the state of its working copy before
// receiving an update, switch, status or diff drive.
package report

import (
	"context"
	"fmt"
	"sync"

	"svnlite/internal/delta"
	"svnlite/internal/errors"
	"svnlite/internal/logging"

	"go.uber.org/zap"
)

// PathState is what the client reported about one path. Paths are relative
// to the report target; "" is the target itself.
type PathState struct {
	Path       string       `json:"path"`
	Revision   delta.Revnum `json:"revision"`
	Depth      delta.Depth  `json:"depth"`
	StartEmpty bool         `json:"start_empty,omitempty"`
	LockToken  string       `json:"lock_token,omitempty"`
	// LinkURL is set for switched paths.
	LinkURL string `json:"link_url,omitempty"`
	// Deleted marks a path missing locally.
	Deleted bool `json:"deleted,omitempty"`
}

// Reporter receives a working-copy description.
type Reporter interface {
	SetPath(ctx context.Context, path string, rev delta.Revnum, depth delta.Depth, startEmpty bool, lockToken string) error
	DeletePath(ctx context.Context, path string) error
	LinkPath(ctx context.Context, url, path string, rev delta.Revnum, depth delta.Depth, startEmpty bool, lockToken string) error
	// FinishReport drives the editor and returns the revision it updated to.
	FinishReport(ctx context.Context) (delta.Revnum, error)
	AbortReport(ctx context.Context) error
}

// Driver turns a finished report into an edit drive.
type Driver interface {
	Drive(ctx context.Context, states []PathState) (delta.Revnum, error)
	// Abort discards the edit without driving it.
	Abort(ctx context.Context) error
}

type reportState int

const (
	stateOpen reportState = iota
	stateFinished
	stateAborted
)

func (s reportState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateFinished:
		return "finished"
	default:
		return "aborted"
	}
}

type Options struct {
	Logger *zap.Logger
	// OnClose runs once when the report terminates.
	OnClose func()
	// Cancelled is polled before every call.
	Cancelled func() bool
}

// StateReporter collects a report, enforcing the call order, and hands it
// to a Driver on FinishReport.
type StateReporter struct {
	driver Driver
	opts   Options
	logger *zap.Logger

	mu     sync.Mutex
	state  reportState
	states []PathState
	seen   map[string]bool
	// excluded holds paths reported with depth exclude.
	excluded []string
	last     string
}

func New(driver Driver, opts Options) *StateReporter {
	return &StateReporter{
		driver: driver,
		opts:   opts,
		logger: logging.OrNop(opts.Logger),
		seen:   make(map[string]bool),
	}
}

// check validates a call against everything reported so far.
func (r *StateReporter) check(ctx context.Context, op, path string) error {
	if r.state != stateOpen {
		return errors.Sequence("%s %q: report is %s", op, path, r.state)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s %q: %w", op, path, err)
	}
	if r.opts.Cancelled != nil && r.opts.Cancelled() {
		return fmt.Errorf("%s %q: %w", op, path, context.Canceled)
	}
	if err := delta.ValidateRelpath(path); err != nil {
		return errors.Validation("%s: %v", op, err)
	}

	n := len(r.states)
	switch {
	case n == 0:
		if op != "set-path" || path != "" {
			return errors.Sequence("%s %q: a report must start with set-path on the empty path", op, path)
		}
		return nil
	case path == "":
		if n == 1 && op != "set-path" {
			// The target itself is switched or missing.
			return nil
		}
		return errors.Sequence("%s: the empty path was already reported", op)
	}

	if r.seen[path] {
		return errors.Sequence("%s %q: path was already reported", op, path)
	}
	for _, ex := range r.excluded {
		if delta.IsAncestor(ex, path) {
			return errors.Sequence("%s %q: ancestor %q was reported as excluded", op, path, ex)
		}
	}
	if !delta.PathLess(r.last, path) {
		return errors.Sequence("%s %q: reported after %q, breaking depth-first order", op, path, r.last)
	}
	return nil
}

func (r *StateReporter) record(s PathState) {
	r.states = append(r.states, s)
	r.seen[s.Path] = true
	r.last = s.Path
	if s.Depth == delta.DepthExclude {
		r.excluded = append(r.excluded, s.Path)
	}
	r.logger.Debug("path reported",
		zap.String("path", s.Path),
		zap.Int64("rev", int64(s.Revision)),
		zap.Stringer("depth", s.Depth),
		zap.Bool("deleted", s.Deleted),
		zap.String("link", s.LinkURL))
}

func checkDepth(op, path string, depth delta.Depth) error {
	if depth == delta.DepthUnknown {
		return errors.Validation("%s %q: depth must be known", op, path)
	}
	if depth == delta.DepthExclude && path == "" {
		return errors.Validation("%s: the report target cannot be excluded", op)
	}
	return nil
}

func (r *StateReporter) SetPath(ctx context.Context, path string, rev delta.Revnum, depth delta.Depth, startEmpty bool, lockToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.check(ctx, "set-path", path); err != nil {
		return err
	}
	if err := checkDepth("set-path", path, depth); err != nil {
		return err
	}
	if !rev.IsValid() {
		return errors.Validation("set-path %q: revision must be valid", path)
	}
	r.record(PathState{Path: path, Revision: rev, Depth: depth, StartEmpty: startEmpty, LockToken: lockToken})
	return nil
}

func (r *StateReporter) DeletePath(ctx context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.check(ctx, "delete-path", path); err != nil {
		return err
	}
	r.record(PathState{Path: path, Revision: delta.InvalidRevnum, Depth: delta.DepthInfinity, Deleted: true})
	return nil
}

func (r *StateReporter) LinkPath(ctx context.Context, url, path string, rev delta.Revnum, depth delta.Depth, startEmpty bool, lockToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.check(ctx, "link-path", path); err != nil {
		return err
	}
	if url == "" {
		return errors.Validation("link-path %q: url is required", path)
	}
	if err := checkDepth("link-path", path, depth); err != nil {
		return err
	}
	if depth == delta.DepthExclude {
		return errors.Validation("link-path %q: a linked path cannot be excluded", path)
	}
	if !rev.IsValid() {
		return errors.Validation("link-path %q: revision must be valid", path)
	}
	r.record(PathState{Path: path, Revision: rev, Depth: depth, StartEmpty: startEmpty, LockToken: lockToken, LinkURL: url})
	return nil
}

// FinishReport hands the report to the driver. The report is terminal
// afterwards whether or not the drive succeeds.
func (r *StateReporter) FinishReport(ctx context.Context) (delta.Revnum, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != stateOpen {
		return delta.InvalidRevnum, errors.Sequence("finish-report: report is %s", r.state)
	}
	if len(r.states) == 0 {
		return delta.InvalidRevnum, errors.Sequence("finish-report: nothing was reported")
	}
	states := append([]PathState(nil), r.states...)
	r.finish(stateFinished)

	rev, err := r.driver.Drive(ctx, states)
	if err != nil {
		r.logger.Debug("report drive failed", zap.Error(err))
		return delta.InvalidRevnum, err
	}
	return rev, nil
}

// AbortReport discards the report and aborts the edit. Aborting twice is a
// no-op.
func (r *StateReporter) AbortReport(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case stateFinished:
		return errors.Sequence("abort-report: report is finished")
	case stateAborted:
		return nil
	}
	r.finish(stateAborted)
	err := r.driver.Abort(ctx)
	if err != nil {
		r.logger.Warn("abort failed; resources released anyway", zap.Error(err))
	}
	return err
}

// Close aborts an open report; closing twice is a no-op.
func (r *StateReporter) Close() error {
	r.mu.Lock()
	open := r.state == stateOpen
	r.mu.Unlock()
	if !open {
		return nil
	}
	return r.AbortReport(context.Background())
}

func (r *StateReporter) finish(state reportState) {
	r.state = state
	if r.opts.OnClose != nil {
		r.opts.OnClose()
		r.opts.OnClose = nil
	}
}
