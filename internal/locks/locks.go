// Package locks keeps the repository's path lock table.
package locks

import (
	"context"
	"errors"
	"sort"
	"time"

	"svnlite/internal/delta"

	"github.com/google/uuid"
)

var (
	ErrNotLocked     = errors.New("path is not locked")
	ErrAlreadyLocked = errors.New("path is already locked")
	ErrBadToken      = errors.New("lock token does not match")
)

// Lock is a lock held on a repository path.
type Lock struct {
	Path    string     `json:"path"`
	Token   string     `json:"token"`
	Owner   string     `json:"owner"`
	Comment string     `json:"comment,omitempty"`
	Created time.Time  `json:"created"`
	Expires *time.Time `json:"expires,omitempty"`
}

func (l *Lock) GetID() string {
	return l.Path
}

// Expired reports whether the lock lapsed before now.
func (l *Lock) Expired(now time.Time) bool {
	return l.Expires != nil && !now.Before(*l.Expires)
}

// New returns a lock on path with a fresh token.
func New(path, owner, comment string) Lock {
	return Lock{
		Path:    path,
		Token:   "opaquelocktoken:" + uuid.NewString(),
		Owner:   owner,
		Comment: comment,
		Created: time.Now().UTC(),
	}
}

// Store is a lock table backend.
type Store interface {
	// Get returns the lock on path or ErrNotLocked.
	Get(ctx context.Context, path string) (*Lock, error)
	// Create stores lock, failing with ErrAlreadyLocked if the path is
	// locked already.
	Create(ctx context.Context, lock Lock) error
	// Delete removes the lock on path. Unless force is set token must match.
	Delete(ctx context.Context, path, token string, force bool) error
	// List returns the locks on path and everything below it, sorted by
	// path. The repository root "" lists every lock.
	List(ctx context.Context, path string) ([]Lock, error)
	Close() error
}

func sortLocks(locks []Lock) {
	sort.Slice(locks, func(i, j int) bool { return delta.PathLess(locks[i].Path, locks[j].Path) })
}

// Tokens indexes lock tokens by the path they were presented for.
type Tokens map[string]string

// Check verifies the caller holds every lock at or below path. A nil Tokens
// holds nothing.
func Check(ctx context.Context, store Store, path string, held Tokens, recursive bool) error {
	if !recursive {
		lock, err := store.Get(ctx, path)
		if errors.Is(err, ErrNotLocked) {
			return nil
		}
		if err != nil {
			return err
		}
		return checkHeld(lock, held)
	}

	locks, err := store.List(ctx, path)
	if err != nil {
		return err
	}
	for i := range locks {
		if err := checkHeld(&locks[i], held); err != nil {
			return err
		}
	}
	return nil
}

func checkHeld(lock *Lock, held Tokens) error {
	if lock.Expired(time.Now()) {
		return nil
	}
	if token, ok := held[lock.Path]; ok && token == lock.Token {
		return nil
	}
	return &HeldError{Lock: *lock}
}

// HeldError reports a path locked by someone else.
type HeldError struct {
	Lock Lock
}

func (e *HeldError) Error() string {
	return "path '/" + e.Lock.Path + "' is locked by " + e.Lock.Owner
}

func (e *HeldError) Unwrap() error {
	return ErrAlreadyLocked
}
