package repos

import (
	"context"
	"errors"
	"time"

	"svnlite/internal/delta"
	apperrors "svnlite/internal/errors"
	"svnlite/internal/locks"

	"go.uber.org/zap"
)

// LockOptions describes a lock request.
type LockOptions struct {
	Owner   string
	Comment string
	// Rev, when valid, requires the file not to have changed since.
	Rev delta.Revnum
	// Steal replaces a lock held by someone else.
	Steal   bool
	Expires time.Duration
}

// Lock locks a file in the youngest revision.
func (r *Repository) Lock(ctx context.Context, path string, opts LockOptions) (*locks.Lock, error) {
	if !r.authz.Allowed(path) {
		return nil, apperrors.Unauthorized("lock: access to '/%s' denied", path)
	}
	root, err := r.Root(delta.InvalidRevnum)
	if err != nil {
		return nil, err
	}
	n, err := root.Node(path)
	if err != nil {
		return nil, err
	}
	if n.Kind == delta.KindDir {
		return nil, apperrors.Validation("lock: '/%s' is a directory", path)
	}
	if opts.Rev.IsValid() && opts.Rev < n.CreatedRev {
		return nil, apperrors.OutOfDate("lock: '/%s' changed in r%d after r%d", path, n.CreatedRev, opts.Rev)
	}

	lock := locks.New(path, opts.Owner, opts.Comment)
	if opts.Expires > 0 {
		expires := lock.Created.Add(opts.Expires)
		lock.Expires = &expires
	}

	err = r.locks.Create(ctx, lock)
	if errors.Is(err, locks.ErrAlreadyLocked) {
		existing, getErr := r.locks.Get(ctx, path)
		stale := getErr == nil && existing.Expired(time.Now())
		if !opts.Steal && !stale {
			return nil, apperrors.Locked("lock: '/%s' is already locked", path)
		}
		if err := r.locks.Delete(ctx, path, "", true); err != nil && !errors.Is(err, locks.ErrNotLocked) {
			return nil, err
		}
		err = r.locks.Create(ctx, lock)
	}
	if err != nil {
		return nil, err
	}
	r.logger.Info("path locked", zap.String("path", path), zap.String("owner", lock.Owner))
	return &lock, nil
}

// Unlock releases a lock; force breaks a lock held by someone else.
func (r *Repository) Unlock(ctx context.Context, path, token string, force bool) error {
	err := r.locks.Delete(ctx, path, token, force)
	switch {
	case errors.Is(err, locks.ErrNotLocked):
		return apperrors.NotFound("unlock: '/" + path + "' is not locked")
	case errors.Is(err, locks.ErrBadToken):
		return apperrors.Locked("unlock: token does not match the lock on '/%s'", path)
	case err != nil:
		return err
	}
	r.logger.Info("path unlocked", zap.String("path", path), zap.Bool("forced", force))
	return nil
}

// Locks lists the locks on path and below. A path that does not exist
// simply has no locks.
func (r *Repository) Locks(ctx context.Context, path string) ([]locks.Lock, error) {
	all, err := r.locks.List(ctx, path)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, l := range all {
		if r.authz.Allowed(l.Path) {
			out = append(out, l)
		}
	}
	return out, nil
}

// LockOn returns the lock on path, or nil.
func (r *Repository) LockOn(ctx context.Context, path string) (*locks.Lock, error) {
	lock, err := r.locks.Get(ctx, path)
	if errors.Is(err, locks.ErrNotLocked) {
		return nil, nil
	}
	return lock, err
}
