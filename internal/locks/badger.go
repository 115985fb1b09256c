package locks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"svnlite/internal/delta"
	"svnlite/internal/storage"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore keeps locks next to the repository data.
type BadgerStore struct {
	store *storage.BadgerStore
}

func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{store: storage.NewBadgerStore(db, "lock")}
}

func (s *BadgerStore) Get(ctx context.Context, path string) (*Lock, error) {
	var lock Lock
	if err := s.store.Get(path, &lock); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotLocked
		}
		return nil, err
	}
	return &lock, nil
}

func (s *BadgerStore) Create(ctx context.Context, lock Lock) error {
	return s.store.DB().Update(func(txn *badger.Txn) error {
		var existing Lock
		err := s.store.GetTxn(txn, lock.Path, &existing)
		if err == nil {
			return fmt.Errorf("%w: %s", ErrAlreadyLocked, lock.Path)
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return s.store.PutTxn(txn, lock.Path, &lock)
	})
}

func (s *BadgerStore) Delete(ctx context.Context, path, token string, force bool) error {
	return s.store.DB().Update(func(txn *badger.Txn) error {
		var existing Lock
		if err := s.store.GetTxn(txn, path, &existing); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrNotLocked, path)
			}
			return err
		}
		if !force && existing.Token != token {
			return fmt.Errorf("%w: %s", ErrBadToken, path)
		}
		return s.store.DeleteTxn(txn, path)
	})
}

func (s *BadgerStore) List(ctx context.Context, path string) ([]Lock, error) {
	var locks []Lock
	err := s.store.Scan(path, func(id string, val []byte) error {
		if !delta.IsAncestor(path, id) {
			return nil
		}
		var lock Lock
		if err := json.Unmarshal(val, &lock); err != nil {
			return fmt.Errorf("decoding lock %s: %w", id, err)
		}
		locks = append(locks, lock)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortLocks(locks)
	return locks, nil
}

// Close is a no-op; the database belongs to the repository.
func (s *BadgerStore) Close() error {
	return nil
}
