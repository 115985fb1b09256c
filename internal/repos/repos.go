// Package repos stores versioned trees in badger. Every revision is an
// immutable tree of node-revisions; unchanged subtrees are shared between
// revisions. Commits go through a transaction driven by an editor.
package repos

import (
	"errors"
	"fmt"
	"sync"

	"svnlite/internal/authz"
	"svnlite/internal/delta"
	apperrors "svnlite/internal/errors"
	"svnlite/internal/locks"
	"svnlite/internal/logging"
	"svnlite/internal/safe"
	"svnlite/internal/storage"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const (
	metaUUID     = "uuid"
	metaYoungest = "youngest"
)

// Options configures a Repository.
type Options struct {
	// CacheSize bounds the node-revision and file text caches.
	CacheSize int
	// CompressMinSize is the smallest file text stored compressed.
	CompressMinSize int
	// DisableSymlinks makes symlink edits fail as not implemented.
	DisableSymlinks bool
	// Locks overrides the lock table kept in the repository database.
	Locks  locks.Store
	Authz  *authz.Policy
	Logger *zap.Logger
}

// Repository is a versioned tree store.
type Repository struct {
	db     *badger.DB
	ownsDB bool
	nodes  *storage.BadgerStore
	revs   *storage.BadgerStore
	meta   *storage.BadgerStore
	texts  *safe.Safe
	cache  *lru.Cache[string, *NodeRev]
	locks  locks.Store
	authz  *authz.Policy
	opts   Options
	logger *zap.Logger
	uuid   string

	// commitMu serializes commits.
	commitMu sync.Mutex
}

// Create makes a new repository in dir, or in memory when dir is empty.
// The new repository has revision 0 with an empty root directory.
func Create(dir string, opts Options) (*Repository, error) {
	db, err := openDB(dir)
	if err != nil {
		return nil, err
	}
	r, err := newRepository(db, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	r.ownsDB = true

	if _, err := r.readUUID(); err == nil {
		db.Close()
		return nil, apperrors.Validation("repository already exists at %q", dir)
	}
	if err := r.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// OpenDir opens the existing repository in dir.
func OpenDir(dir string, opts Options) (*Repository, error) {
	db, err := openDB(dir)
	if err != nil {
		return nil, err
	}
	r, err := newRepository(db, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	r.ownsDB = true

	if r.uuid, err = r.readUUID(); err != nil {
		db.Close()
		return nil, apperrors.NotFound(fmt.Sprintf("no repository at %q", dir))
	}
	return r, nil
}

// Open uses an already open database, initializing a repository in it if
// it holds none. The caller keeps ownership of db.
func Open(db *badger.DB, opts Options) (*Repository, error) {
	r, err := newRepository(db, opts)
	if err != nil {
		return nil, err
	}
	id, err := r.readUUID()
	switch {
	case err == nil:
		r.uuid = id
	case errors.Is(err, storage.ErrNotFound):
		if err := r.initialize(); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	return r, nil
}

func openDB(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

func newRepository(db *badger.DB, opts Options) (*Repository, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1000
	}
	compression := safe.DefaultCompressionOptions()
	if opts.CompressMinSize > 0 {
		compression.MinSize = opts.CompressMinSize
	}
	texts, err := safe.New(db, safe.Options{CacheSize: opts.CacheSize, Compression: compression})
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[string, *NodeRev](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating node cache: %w", err)
	}

	lockStore := opts.Locks
	if lockStore == nil {
		lockStore = locks.NewBadgerStore(db)
	}

	return &Repository{
		db:     db,
		nodes:  storage.NewBadgerStore(db, "noderev"),
		revs:   storage.NewBadgerStore(db, "rev"),
		meta:   storage.NewBadgerStore(db, "meta"),
		texts:  texts,
		cache:  cache,
		locks:  lockStore,
		authz:  opts.Authz,
		opts:   opts,
		logger: logging.OrNop(opts.Logger),
	}, nil
}

func (r *Repository) readUUID() (string, error) {
	var id string
	if err := r.meta.Get(metaUUID, &id); err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) initialize() error {
	r.uuid = uuid.NewString()
	root := &NodeRev{
		ID:         "0.0",
		Kind:       delta.KindDir,
		CreatedRev: 0,
		Entries:    map[string]string{},
	}
	rev := &Revision{Number: 0, Root: root.ID, Date: nowUTC()}

	err := r.db.Update(func(txn *badger.Txn) error {
		if err := r.nodes.PutTxn(txn, root.ID, root); err != nil {
			return err
		}
		if err := r.revs.PutTxn(txn, revKey(0), rev); err != nil {
			return err
		}
		if err := r.meta.PutTxn(txn, metaUUID, r.uuid); err != nil {
			return err
		}
		return r.meta.PutTxn(txn, metaYoungest, delta.Revnum(0))
	})
	if err != nil {
		return fmt.Errorf("initializing repository: %w", err)
	}
	r.logger.Info("repository created", zap.String("uuid", r.uuid))
	return nil
}

// Close releases the lock table and, if the repository opened it, the
// database.
func (r *Repository) Close() error {
	var errs []error
	if r.opts.Locks != nil {
		errs = append(errs, r.locks.Close())
	}
	if r.ownsDB {
		errs = append(errs, r.db.Close())
	}
	return errors.Join(errs...)
}

func (r *Repository) UUID() string {
	return r.uuid
}

// Youngest returns the latest revision number.
func (r *Repository) Youngest() (delta.Revnum, error) {
	var rev delta.Revnum
	if err := r.meta.Get(metaYoungest, &rev); err != nil {
		return delta.InvalidRevnum, fmt.Errorf("reading youngest revision: %w", err)
	}
	return rev, nil
}

// SymlinksEnabled reports whether symlinks may be committed.
func (r *Repository) SymlinksEnabled() bool {
	return !r.opts.DisableSymlinks
}

// Authz returns the read policy, which may be nil.
func (r *Repository) Authz() *authz.Policy {
	return r.authz
}

// Texts exposes the file text store.
func (r *Repository) Texts() *safe.Safe {
	return r.texts
}

func (r *Repository) Logger() *zap.Logger {
	return r.logger
}

func revKey(rev delta.Revnum) string {
	return fmt.Sprintf("%010d", int64(rev))
}
