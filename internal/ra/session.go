package ra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"svnlite/internal/delta"
	apperrors "svnlite/internal/errors"
	"svnlite/internal/locks"
	"svnlite/internal/mergeinfo"
	"svnlite/internal/props"
	"svnlite/internal/repos"

	"go.uber.org/zap"
)

// Capabilities a session can be asked about.
const (
	CapDepth          = "depth"
	CapMergeinfo      = "mergeinfo"
	CapLogRevprops    = "log-revprops"
	CapCommitRevprops = "commit-revprops"
	CapAtomicRevprops = "atomic-revprops"
	CapSymlinks       = "symlinks"
)

// closer is an open editor or reporter drive.
type closer interface {
	Close() error
}

// Session is a connection to one repository, rooted at a URL inside it.
// It runs one operation at a time: while an editor or reporter obtained
// from it is open, every other call fails with a sequence error.
type Session struct {
	client  *Client
	repo    *repos.Repository
	rootURL string
	logger  *zap.Logger

	mu     sync.Mutex
	path   string
	busy   string
	drive  closer
	closed bool

	cancelled atomic.Bool
}

func newSession(c *Client, repo *repos.Repository, rootURL, path string) *Session {
	return &Session{
		client:  c,
		repo:    repo,
		rootURL: rootURL,
		path:    path,
		logger:  c.logger.With(zap.String("session", rootURL)),
	}
}

// acquire checks the session can run op and returns its path.
func (s *Session) acquire(op string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", apperrors.Sequence("%s: session is closed", op)
	}
	if s.busy != "" {
		return "", apperrors.Sequence("%s: session busy with %s", op, s.busy)
	}
	return s.path, nil
}

// startDrive marks the session busy until the drive's terminal call.
func (s *Session) startDrive(op string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", apperrors.Sequence("%s: session is closed", op)
	}
	if s.busy != "" {
		return "", apperrors.Sequence("%s: session busy with %s", op, s.busy)
	}
	s.busy = op
	s.cancelled.Store(false)
	return s.path, nil
}

// attach records the drive so Close can abort it.
func (s *Session) attach(d closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drive = d
}

// release ends the current drive. It runs from the drive's terminal call.
func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Debug("drive finished", zap.String("op", s.busy))
	s.busy = ""
	s.drive = nil
}

// abandon releases a drive that failed to start.
func (s *Session) abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = ""
	s.drive = nil
}

func (s *Session) isCancelled() bool {
	return s.cancelled.Load()
}

// Cancel asks the running drive to stop. The drive fails its next
// operation with context.Canceled.
func (s *Session) Cancel() {
	s.cancelled.Store(true)
}

// Close aborts an open drive and releases the session. Closing twice is a
// no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	drive := s.drive
	s.mu.Unlock()

	var err error
	if drive != nil {
		s.logger.Info("closing session with an open drive")
		err = drive.Close()
	}
	s.client.forget(s)
	return err
}

// abs maps a session-relative path to a repository path.
func abs(base, path string) (string, error) {
	if err := delta.ValidateRelpath(path); err != nil {
		return "", apperrors.Validation("%v", err)
	}
	switch {
	case base == "":
		return path, nil
	case path == "":
		return base, nil
	}
	return base + "/" + path, nil
}

func (s *Session) readable(op, path string) error {
	if !s.repo.Authz().Allowed(path) {
		return apperrors.Unauthorized("%s: access to '/%s' denied", op, path)
	}
	return nil
}

// LatestRevision returns the youngest revision.
func (s *Session) LatestRevision(ctx context.Context) (delta.Revnum, error) {
	if _, err := s.acquire("latest-revision"); err != nil {
		return delta.InvalidRevnum, err
	}
	return s.repo.Youngest()
}

// UUID returns the repository's UUID.
func (s *Session) UUID(ctx context.Context) (string, error) {
	if _, err := s.acquire("uuid"); err != nil {
		return "", err
	}
	return s.repo.UUID(), nil
}

// RootURL returns the URL of the repository root.
func (s *Session) RootURL(ctx context.Context) (string, error) {
	if _, err := s.acquire("root-url"); err != nil {
		return "", err
	}
	return s.rootURL, nil
}

// SessionURL returns the URL the session is rooted at.
func (s *Session) SessionURL(ctx context.Context) (string, error) {
	path, err := s.acquire("session-url")
	if err != nil {
		return "", err
	}
	return s.url(path), nil
}

func (s *Session) url(path string) string {
	if path == "" {
		return s.rootURL
	}
	return s.rootURL + "/" + path
}

// Reparent moves the session to another URL in the same repository.
func (s *Session) Reparent(ctx context.Context, rawURL string) error {
	if _, err := s.acquire("reparent"); err != nil {
		return err
	}
	path, ok := relative(s.rootURL, rawURL)
	if !ok {
		return apperrors.Validation("reparent: %q is not in repository %s", rawURL, s.rootURL)
	}
	root, err := s.repo.Root(delta.InvalidRevnum)
	if err != nil {
		return err
	}
	if _, err := root.Node(path); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.path = path
	s.logger.Debug("session reparented", zap.String("path", "/"+path))
	return nil
}

// ReposRelativePath returns the repository path of url.
func (s *Session) ReposRelativePath(ctx context.Context, rawURL string) (string, error) {
	if _, err := s.acquire("repos-relative-path"); err != nil {
		return "", err
	}
	path, ok := relative(s.rootURL, rawURL)
	if !ok {
		return "", apperrors.Validation("%q is not in repository %s", rawURL, s.rootURL)
	}
	return path, nil
}

// HasCapability reports whether the repository supports capability.
func (s *Session) HasCapability(ctx context.Context, capability string) (bool, error) {
	if _, err := s.acquire("has-capability"); err != nil {
		return false, err
	}
	switch capability {
	case CapDepth, CapMergeinfo, CapLogRevprops, CapCommitRevprops, CapAtomicRevprops:
		return true, nil
	case CapSymlinks:
		return s.repo.SymlinksEnabled(), nil
	}
	return false, apperrors.Validation("unknown capability %q", capability)
}

// CheckPath returns the kind of path in rev. Missing and unreadable paths
// are KindNone.
func (s *Session) CheckPath(ctx context.Context, path string, rev delta.Revnum) (delta.Kind, error) {
	base, err := s.acquire("check-path")
	if err != nil {
		return delta.KindUnknown, err
	}
	rpath, err := abs(base, path)
	if err != nil {
		return delta.KindUnknown, err
	}
	if !s.repo.Authz().Allowed(rpath) {
		return delta.KindNone, nil
	}
	root, err := s.repo.Root(rev)
	if err != nil {
		return delta.KindUnknown, err
	}
	return root.Kind(rpath)
}

// Stat describes path in rev, or returns nil if it does not exist.
func (s *Session) Stat(ctx context.Context, path string, rev delta.Revnum) (*repos.Dirent, error) {
	base, err := s.acquire("stat")
	if err != nil {
		return nil, err
	}
	rpath, err := abs(base, path)
	if err != nil {
		return nil, err
	}
	if err := s.readable("stat", rpath); err != nil {
		return nil, err
	}
	root, err := s.repo.Root(rev)
	if err != nil {
		return nil, err
	}
	n, err := root.Node(rpath)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return root.Dirent(rpath, n)
}

// List returns the readable entries of a directory in rev, and the
// directory's regular properties.
func (s *Session) List(ctx context.Context, path string, rev delta.Revnum) ([]repos.Dirent, delta.Props, error) {
	base, err := s.acquire("list")
	if err != nil {
		return nil, nil, err
	}
	rpath, err := abs(base, path)
	if err != nil {
		return nil, nil, err
	}
	if err := s.readable("list", rpath); err != nil {
		return nil, nil, err
	}
	root, err := s.repo.Root(rev)
	if err != nil {
		return nil, nil, err
	}
	n, err := root.Node(rpath)
	if err != nil {
		return nil, nil, err
	}
	if n.Kind != delta.KindDir {
		return nil, nil, apperrors.Validation("list: '/%s' is not a directory", rpath)
	}
	entries, err := root.Entries(n)
	if err != nil {
		return nil, nil, err
	}

	out := make([]repos.Dirent, 0, len(entries))
	for _, e := range entries {
		childPath := e.Name
		if rpath != "" {
			childPath = delta.Join(rpath, e.Name)
		}
		if !s.repo.Authz().Allowed(childPath) {
			continue
		}
		d, err := root.Dirent(childPath, e.Node)
		if err != nil {
			return nil, nil, err
		}
		d.Path = relativeTo(base, childPath)
		out = append(out, *d)
	}
	return out, props.Regular(n.Props), nil
}

// relativeTo returns rpath below base, or rpath itself when it is not
// below it.
func relativeTo(base, rpath string) string {
	if rel, ok := delta.SkipAncestor(base, rpath); ok {
		return rel
	}
	return rpath
}

// GetFile writes the text of a file in rev to w and returns its regular
// properties and the revision it was read from.
func (s *Session) GetFile(ctx context.Context, path string, rev delta.Revnum, w io.Writer) (delta.Props, delta.Revnum, error) {
	base, err := s.acquire("get-file")
	if err != nil {
		return nil, delta.InvalidRevnum, err
	}
	rpath, err := abs(base, path)
	if err != nil {
		return nil, delta.InvalidRevnum, err
	}
	if err := s.readable("get-file", rpath); err != nil {
		return nil, delta.InvalidRevnum, err
	}
	root, err := s.repo.Root(rev)
	if err != nil {
		return nil, delta.InvalidRevnum, err
	}
	n, err := root.Node(rpath)
	if err != nil {
		return nil, delta.InvalidRevnum, err
	}
	if n.Kind != delta.KindFile {
		return nil, delta.InvalidRevnum, apperrors.Validation("get-file: '/%s' is not a file", rpath)
	}
	if w != nil {
		rc, err := s.repo.OpenContents(n)
		if err != nil {
			return nil, delta.InvalidRevnum, err
		}
		defer rc.Close()
		if _, err := io.Copy(w, rc); err != nil {
			return nil, delta.InvalidRevnum, fmt.Errorf("get-file: writing '/%s': %w", rpath, err)
		}
	}
	return props.Regular(n.Props), root.Revision(), nil
}

// GetProps returns the regular properties of path in rev.
func (s *Session) GetProps(ctx context.Context, path string, rev delta.Revnum) (delta.Props, error) {
	base, err := s.acquire("get-props")
	if err != nil {
		return nil, err
	}
	rpath, err := abs(base, path)
	if err != nil {
		return nil, err
	}
	if err := s.readable("get-props", rpath); err != nil {
		return nil, err
	}
	root, err := s.repo.Root(rev)
	if err != nil {
		return nil, err
	}
	n, err := root.Node(rpath)
	if err != nil {
		return nil, err
	}
	return props.Regular(n.Props), nil
}

// RevisionProps returns the properties of rev.
func (s *Session) RevisionProps(ctx context.Context, rev delta.Revnum) (delta.Props, error) {
	if _, err := s.acquire("rev-proplist"); err != nil {
		return nil, err
	}
	return s.repo.RevisionProps(rev)
}

// Log reports the revisions touching paths, which are relative to the
// session. Changed paths stay repository paths.
func (s *Session) Log(ctx context.Context, opts repos.LogOptions, fn func(repos.LogEntry) error) error {
	base, err := s.acquire("log")
	if err != nil {
		return err
	}
	paths := opts.Paths
	if len(paths) == 0 && base != "" {
		paths = []string{""}
	}
	opts.Paths = make([]string, 0, len(paths))
	for _, p := range paths {
		rpath, err := abs(base, p)
		if err != nil {
			return err
		}
		if err := s.readable("log", rpath); err != nil {
			return err
		}
		opts.Paths = append(opts.Paths, rpath)
	}
	return s.repo.Log(ctx, opts, fn)
}

// GetLocks returns the locks on path and, depending on depth, below it. A
// path that does not exist in HEAD is not an error; it has no locks.
func (s *Session) GetLocks(ctx context.Context, path string, depth delta.Depth) ([]locks.Lock, error) {
	base, err := s.acquire("get-locks")
	if err != nil {
		return nil, err
	}
	rpath, err := abs(base, path)
	if err != nil {
		return nil, err
	}
	all, err := s.repo.Locks(ctx, rpath)
	if err != nil {
		return nil, err
	}
	out := make([]locks.Lock, 0, len(all))
	for _, l := range all {
		if lockInDepth(rpath, l.Path, depth) {
			out = append(out, l)
		}
	}
	return out, nil
}

func lockInDepth(path, lockPath string, depth delta.Depth) bool {
	if lockPath == path {
		return true
	}
	below, ok := delta.SkipAncestor(path, lockPath)
	if !ok {
		return false
	}
	switch depth {
	case delta.DepthEmpty:
		return false
	case delta.DepthFiles, delta.DepthImmediates:
		return len(delta.Components(below)) == 1
	}
	return true
}

// Lock locks a file in HEAD. Paths are relative to the session.
func (s *Session) Lock(ctx context.Context, path string, opts repos.LockOptions) (*locks.Lock, error) {
	base, err := s.acquire("lock")
	if err != nil {
		return nil, err
	}
	rpath, err := abs(base, path)
	if err != nil {
		return nil, err
	}
	return s.repo.Lock(ctx, rpath, opts)
}

// Unlock releases the lock on path; force breaks a lock held by another
// token.
func (s *Session) Unlock(ctx context.Context, path, token string, force bool) error {
	base, err := s.acquire("unlock")
	if err != nil {
		return err
	}
	rpath, err := abs(base, path)
	if err != nil {
		return err
	}
	return s.repo.Unlock(ctx, rpath, token, force)
}

// GetMergeinfo returns the mergeinfo of paths in rev, keyed by the given
// session-relative paths.
func (s *Session) GetMergeinfo(ctx context.Context, paths []string, rev delta.Revnum, inherit repos.Inherit) (map[string]mergeinfo.Mergeinfo, error) {
	base, err := s.acquire("get-mergeinfo")
	if err != nil {
		return nil, err
	}
	rpaths := make([]string, 0, len(paths))
	back := make(map[string]string, len(paths))
	for _, p := range paths {
		rpath, err := abs(base, p)
		if err != nil {
			return nil, err
		}
		rpaths = append(rpaths, rpath)
		back[rpath] = p
	}
	info, err := s.repo.Mergeinfo(rpaths, rev, inherit)
	if err != nil {
		return nil, err
	}
	out := make(map[string]mergeinfo.Mergeinfo, len(info))
	for rpath, m := range info {
		out[back[rpath]] = m
	}
	return out, nil
}
