package ra

import (
	"context"
	"errors"
	"io"
	"strings"

	"svnlite/internal/delta"
	apperrors "svnlite/internal/errors"
	"svnlite/internal/locks"
	"svnlite/internal/props"
	"svnlite/internal/report"
	"svnlite/internal/repos"

	"go.uber.org/zap"
)

// CommitCallbacks supply base state to a commit drive on demand. They run
// while the drive holds the session and must not use it.
type CommitCallbacks = repos.Callbacks

// CommitParams configures a commit drive.
type CommitParams struct {
	// Revprops become the new revision's properties; svn:author names the
	// committer.
	Revprops   delta.Props
	Callback   delta.CommitCallback
	Callbacks  CommitCallbacks
	LockTokens locks.Tokens
	KeepLocks  bool
}

// CommitEditor opens a commit rooted at the session URL. The session is
// busy until the editor completes or aborts.
func (s *Session) CommitEditor(ctx context.Context, params CommitParams) (*delta.CheckedEditor, error) {
	base, err := s.startDrive("commit")
	if err != nil {
		return nil, err
	}

	inner, err := s.repo.CommitEditor(ctx, repos.CommitOptions{
		Base:       base,
		Revprops:   params.Revprops,
		Author:     string(params.Revprops[props.RevAuthor]),
		Callback:   params.Callback,
		Callbacks:  params.Callbacks,
		LockTokens: params.LockTokens,
		KeepLocks:  params.KeepLocks,
	})
	if err != nil {
		s.abandon()
		return nil, err
	}

	editor := delta.NewCheckedEditor(inner, delta.CheckedOptions{
		Logger:    s.logger.With(zap.String("drive", "commit")),
		OnClose:   s.release,
		Cancelled: s.isCancelled,
	})
	s.attach(editor)
	return editor, nil
}

// sessionDriver frees the session once the drive behind a report ends.
type sessionDriver struct {
	report.Driver
	done func()
}

func (d sessionDriver) Drive(ctx context.Context, states []report.PathState) (delta.Revnum, error) {
	defer d.done()
	return d.Driver.Drive(ctx, states)
}

func (d sessionDriver) Abort(ctx context.Context) error {
	defer d.done()
	return d.Driver.Abort(ctx)
}

func validTarget(op, target string) error {
	if target == "" {
		return nil
	}
	if strings.Contains(target, "/") || delta.ValidateRelpath(target) != nil {
		return apperrors.Validation("%s: target %q must be a single path component", op, target)
	}
	return nil
}

// reporter starts a report drive that edits editor.
func (s *Session) reporter(ctx context.Context, op string, opts report.UpdateOptions, switchURL string, editor delta.Editor) (*report.StateReporter, error) {
	if editor == nil {
		return nil, apperrors.Validation("%s: an editor is required", op)
	}
	if err := validTarget(op, opts.Target); err != nil {
		return nil, err
	}
	base, err := s.startDrive(op)
	if err != nil {
		return nil, err
	}

	if switchURL != "" {
		path, ok := relative(s.rootURL, switchURL)
		if !ok {
			s.abandon()
			return nil, apperrors.Validation("%s: %q is not in repository %s", op, switchURL, s.rootURL)
		}
		opts.SwitchPath = path
	}

	logger := s.logger.With(zap.String("drive", op))
	opts.Repo = s.repo
	opts.Anchor = base
	opts.ResolveURL = s.resolve
	opts.Logger = logger

	checked := delta.NewCheckedEditor(editor, delta.CheckedOptions{
		Logger:    logger,
		Cancelled: s.isCancelled,
	})
	driver := sessionDriver{Driver: report.NewUpdateDriver(checked, opts), done: s.release}
	r := report.New(driver, report.Options{
		Logger:    logger,
		Cancelled: s.isCancelled,
	})
	s.attach(r)
	logger.Debug("report started", zap.String("target", opts.Target), zap.Stringer("depth", opts.Depth))
	return r, nil
}

// resolve maps a linked URL to its repository path.
func (s *Session) resolve(rawURL string) (string, error) {
	path, ok := relative(s.rootURL, rawURL)
	if !ok {
		return "", apperrors.Validation("link-path: %q is not in repository %s", rawURL, s.rootURL)
	}
	return path, nil
}

// DoUpdate returns a reporter whose FinishReport drives editor from the
// reported state to rev (InvalidRevnum for HEAD). Target is empty or a
// single path component below the session URL.
func (s *Session) DoUpdate(ctx context.Context, rev delta.Revnum, target string, depth delta.Depth, editor delta.Editor) (*report.StateReporter, error) {
	return s.reporter(ctx, "update", report.UpdateOptions{
		Target:   target,
		Revision: rev,
		Depth:    depth,
	}, "", editor)
}

// DoSwitch is DoUpdate towards switchURL instead of the target's own URL.
func (s *Session) DoSwitch(ctx context.Context, rev delta.Revnum, target string, depth delta.Depth, switchURL string, editor delta.Editor) (*report.StateReporter, error) {
	if switchURL == "" {
		return nil, apperrors.Validation("switch: a switch url is required")
	}
	return s.reporter(ctx, "switch", report.UpdateOptions{
		Target:   target,
		Revision: rev,
		Depth:    depth,
	}, switchURL, editor)
}

// DoStatus drives editor with the changes between the reported state and
// rev without touching anything.
func (s *Session) DoStatus(ctx context.Context, target string, rev delta.Revnum, depth delta.Depth, editor delta.Editor) (*report.StateReporter, error) {
	return s.reporter(ctx, "status", report.UpdateOptions{
		Target:   target,
		Revision: rev,
		Depth:    depth,
	}, "", editor)
}

// DoDiff drives editor with the changes from the reported state to
// versusURL in rev. An empty versusURL compares against the target itself.
func (s *Session) DoDiff(ctx context.Context, rev delta.Revnum, target string, depth delta.Depth, versusURL string, editor delta.Editor) (*report.StateReporter, error) {
	return s.reporter(ctx, "diff", report.UpdateOptions{
		Target:   target,
		Revision: rev,
		Depth:    depth,
	}, versusURL, editor)
}

// Fetchers read base state from rev for editors that render changes. They
// resolve paths below the session URL and read a fixed revision, so they
// can run while a drive holds the session.
type Fetchers struct {
	Base  delta.BaseFetcher
	Props delta.PropsFetcher
	Kind  delta.KindFetcher
}

// Fetchers returns fetchers reading rev, InvalidRevnum meaning HEAD.
func (s *Session) Fetchers(ctx context.Context, rev delta.Revnum) (*Fetchers, error) {
	base, err := s.acquire("fetchers")
	if err != nil {
		return nil, err
	}
	root, err := s.repo.Root(rev)
	if err != nil {
		return nil, err
	}
	repo := s.repo
	node := func(path string) (*repos.NodeRev, string, error) {
		rpath, err := abs(base, path)
		if err != nil {
			return nil, "", err
		}
		if !repo.Authz().Allowed(rpath) {
			return nil, rpath, apperrors.Unauthorized("access to '/%s' denied", rpath)
		}
		n, err := root.Node(rpath)
		return n, rpath, err
	}

	return &Fetchers{
		Base: func(ctx context.Context, path string) (io.ReadCloser, delta.Revnum, error) {
			n, rpath, err := node(path)
			if err != nil {
				return nil, delta.InvalidRevnum, err
			}
			if n.Kind != delta.KindFile {
				return nil, delta.InvalidRevnum, apperrors.Validation("'/%s' is not a file", rpath)
			}
			rc, err := repo.OpenContents(n)
			return rc, root.Revision(), err
		},
		Props: func(ctx context.Context, path string) (delta.Props, delta.Revnum, error) {
			n, _, err := node(path)
			if err != nil {
				return nil, delta.InvalidRevnum, err
			}
			return n.Props.Clone(), root.Revision(), nil
		},
		Kind: func(ctx context.Context, path string, rev delta.Revnum) (delta.Kind, error) {
			rpath, err := abs(base, path)
			if err != nil {
				return delta.KindUnknown, err
			}
			at, err := repo.Root(rev)
			if errors.Is(err, apperrors.ErrNotFound) {
				return delta.KindNone, nil
			}
			if err != nil {
				return delta.KindUnknown, err
			}
			return at.Kind(rpath)
		},
	}, nil
}
