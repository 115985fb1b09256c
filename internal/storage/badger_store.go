// internal/storage/badger_store.go
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

var ErrNotFound = errors.New("entity not found")

// Entity represents any storable entity with an ID
type Entity interface {
	GetID() string
}

// BadgerStore keeps JSON records under "<prefix>:<id>" keys. Every
// operation has a variant that joins a caller's transaction so several
// stores can be written atomically.
type BadgerStore struct {
	db     *badger.DB
	prefix string
}

func NewBadgerStore(db *badger.DB, prefix string) *BadgerStore {
	return &BadgerStore{
		db:     db,
		prefix: prefix,
	}
}

func (s *BadgerStore) DB() *badger.DB {
	return s.db
}

func (s *BadgerStore) makeKey(id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", s.prefix, id))
}

func (s *BadgerStore) stripPrefix(key []byte) string {
	return strings.TrimPrefix(string(key), fmt.Sprintf("%s:", s.prefix))
}

// Create stores a new entity, failing if its ID is taken.
func (s *BadgerStore) Create(entity Entity) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return s.CreateTxn(txn, entity)
	})
}

func (s *BadgerStore) CreateTxn(txn *badger.Txn, entity Entity) error {
	if entity.GetID() == "" {
		return fmt.Errorf("entity ID cannot be empty")
	}

	key := s.makeKey(entity.GetID())
	_, err := txn.Get(key)
	if err == nil {
		return fmt.Errorf("entity already exists: %s", entity.GetID())
	} else if err != badger.ErrKeyNotFound {
		return err
	}

	return s.PutTxn(txn, entity.GetID(), entity)
}

// Put stores value under id, replacing any previous value.
func (s *BadgerStore) Put(id string, value any) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return s.PutTxn(txn, id, value)
	})
}

func (s *BadgerStore) PutTxn(txn *badger.Txn, id string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling entity: %w", err)
	}
	return txn.Set(s.makeKey(id), data)
}

// Get decodes the record for id into value. Missing records return an
// error wrapping ErrNotFound.
func (s *BadgerStore) Get(id string, value any) error {
	return s.db.View(func(txn *badger.Txn) error {
		return s.GetTxn(txn, id, value)
	})
}

func (s *BadgerStore) GetTxn(txn *badger.Txn, id string, value any) error {
	item, err := txn.Get(s.makeKey(id))
	if err == badger.ErrKeyNotFound {
		return fmt.Errorf("%w: %s:%s", ErrNotFound, s.prefix, id)
	}
	if err != nil {
		return err
	}

	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, value)
	})
}

// Exists reports whether id has a record.
func (s *BadgerStore) Exists(id string) (bool, error) {
	var exists bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(s.makeKey(id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		exists = err == nil
		return err
	})
	return exists, err
}

// Update replaces an existing entity.
func (s *BadgerStore) Update(entity Entity) error {
	if entity.GetID() == "" {
		return fmt.Errorf("entity ID cannot be empty")
	}

	key := s.makeKey(entity.GetID())
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, entity.GetID())
		} else if err != nil {
			return err
		}

		return s.PutTxn(txn, entity.GetID(), entity)
	})
}

func (s *BadgerStore) Delete(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return s.DeleteTxn(txn, id)
	})
}

func (s *BadgerStore) DeleteTxn(txn *badger.Txn, id string) error {
	key := s.makeKey(id)
	_, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return fmt.Errorf("%w: %s:%s", ErrNotFound, s.prefix, id)
	} else if err != nil {
		return err
	}
	return txn.Delete(key)
}

// Scan calls fn for every record whose id starts with idPrefix, in key
// order.
func (s *BadgerStore) Scan(idPrefix string, fn func(id string, val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		return s.ScanTxn(txn, idPrefix, fn)
	})
}

func (s *BadgerStore) ScanTxn(txn *badger.Txn, idPrefix string, fn func(id string, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	prefix := s.makeKey(idPrefix)
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		id := s.stripPrefix(item.Key())
		if err := item.Value(func(val []byte) error {
			return fn(id, val)
		}); err != nil {
			return err
		}
	}
	return nil
}

// List decodes every record of this store into results, which must point
// to a slice.
func (s *BadgerStore) List(results interface{}) error {
	var values []json.RawMessage
	err := s.Scan("", func(id string, val []byte) error {
		values = append(values, append([]byte(nil), val...))
		return nil
	})
	if err != nil {
		return fmt.Errorf("listing entities: %w", err)
	}

	// Marshal collected values into final result
	data, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, results)
}
