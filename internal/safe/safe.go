// internal/safe/safe.go
package safe

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"svnlite/internal/delta"
	"svnlite/internal/storage"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	ErrContentNotFound = errors.New("content not found")
	ErrInvalidHash     = errors.New("invalid content hash")
)

// ContentMeta stores metadata about stored content
type ContentMeta struct {
	Hash       string    `json:"hash"` // sha256, also the storage key
	SHA1       string    `json:"sha1"`
	MD5        string    `json:"md5"`
	Size       int64     `json:"size"`
	Compressed bool      `json:"compressed"`
	CreatedAt  time.Time `json:"created_at"`
}

// Checksum returns the digest of the given kind.
func (m ContentMeta) Checksum(kind delta.ChecksumKind) delta.Checksum {
	switch kind {
	case delta.ChecksumMD5:
		return delta.Checksum{Kind: kind, Digest: m.MD5}
	case delta.ChecksumSHA1:
		return delta.Checksum{Kind: kind, Digest: m.SHA1}
	default:
		return delta.Checksum{Kind: delta.ChecksumSHA256, Digest: m.Hash}
	}
}

// Safe provides deduplicated file text storage. Texts live in badger next
// to their metadata, zstd-compressed when large enough, with an LRU of
// recently read texts in front.
type Safe struct {
	db    *badger.DB
	meta  *storage.BadgerStore
	cache *lru.Cache[string, []byte]
	comp  *compressionManager
}

// Options configures Safe behavior
type Options struct {
	CacheSize   int // Number of texts to cache
	Compression CompressionOptions
}

// New creates a new Safe instance
func New(db *badger.DB, opts Options) (*Safe, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1000
	}
	if opts.Compression == (CompressionOptions{}) {
		opts.Compression = DefaultCompressionOptions()
	}

	cache, err := lru.New[string, []byte](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}
	comp, err := newCompressionManager(opts.Compression)
	if err != nil {
		return nil, fmt.Errorf("creating compression manager: %w", err)
	}

	return &Safe{
		db:    db,
		meta:  storage.NewBadgerStore(db, "content"),
		cache: cache,
		comp:  comp,
	}, nil
}

// Store saves content and returns its metadata. Storing the same text twice
// keeps one copy.
func (s *Safe) Store(content []byte) (ContentMeta, error) {
	if content == nil {
		content = []byte{}
	}

	meta := describe(content)
	if existing, err := s.Meta(meta.Hash); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrContentNotFound) {
		return ContentMeta{}, fmt.Errorf("checking existence: %w", err)
	}

	stored, compressed := s.comp.compress(content)
	meta.Compressed = compressed
	meta.CreatedAt = time.Now().UTC()

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(blobKey(meta.Hash), stored); err != nil {
			return err
		}
		return s.meta.PutTxn(txn, meta.Hash, meta)
	})
	if err != nil {
		return ContentMeta{}, fmt.Errorf("storing content: %w", err)
	}

	s.cache.Add(meta.Hash, content)
	return meta, nil
}

// StoreReader reads r to the end and stores it.
func (s *Safe) StoreReader(r io.Reader) (ContentMeta, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return ContentMeta{}, fmt.Errorf("reading content: %w", err)
	}
	return s.Store(content)
}

// Get retrieves content by hash
func (s *Safe) Get(hash string) ([]byte, error) {
	if !s.isValidHash(hash) {
		return nil, ErrInvalidHash
	}

	// Check cache first
	if content, ok := s.cache.Get(hash); ok {
		return content, nil
	}

	meta, err := s.Meta(hash)
	if err != nil {
		return nil, err
	}

	var content []byte
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blobKey(hash))
		if err == badger.ErrKeyNotFound {
			return ErrContentNotFound
		}
		if err != nil {
			return err
		}
		content, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reading content %s: %w", hash, err)
	}

	if meta.Compressed {
		content, err = s.comp.decompress(content)
		if err != nil {
			return nil, fmt.Errorf("decompressing content: %w", err)
		}
	}

	if hashContent(content) != hash {
		return nil, fmt.Errorf("content hash mismatch for %s", hash)
	}

	s.cache.Add(hash, content)
	return content, nil
}

// Open returns a reader over the content.
func (s *Safe) Open(hash string) (io.ReadCloser, error) {
	content, err := s.Get(hash)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

// Meta returns the metadata of stored content.
func (s *Safe) Meta(hash string) (ContentMeta, error) {
	if !s.isValidHash(hash) {
		return ContentMeta{}, ErrInvalidHash
	}
	var meta ContentMeta
	if err := s.meta.Get(hash, &meta); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ContentMeta{}, ErrContentNotFound
		}
		return ContentMeta{}, err
	}
	return meta, nil
}

// Exists checks if content exists
func (s *Safe) Exists(hash string) (bool, error) {
	if s.cache.Contains(hash) {
		return true, nil
	}
	_, err := s.Meta(hash)
	if errors.Is(err, ErrContentNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Verify checks content integrity
func (s *Safe) Verify(hash string) error {
	s.cache.Remove(hash)
	_, err := s.Get(hash)
	return err
}

func describe(content []byte) ContentMeta {
	sha1sum := sha1.Sum(content)
	md5sum := md5.Sum(content)
	return ContentMeta{
		Hash: hashContent(content),
		SHA1: hex.EncodeToString(sha1sum[:]),
		MD5:  hex.EncodeToString(md5sum[:]),
		Size: int64(len(content)),
	}
}

func hashContent(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}

func blobKey(hash string) []byte {
	return []byte("blob:" + hash)
}

func (s *Safe) isValidHash(hash string) bool {
	if len(hash) != 64 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}
