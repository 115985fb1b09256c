package safe

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"svnlite/internal/delta"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestSafe(t *testing.T) *Safe {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := New(db, Options{CacheSize: 2, Compression: CompressionOptions{MinSize: 64, Level: 2}})
	require.NoError(t, err)
	return s
}

func TestSafe(t *testing.T) {
	s := setupTestSafe(t)

	t.Run("StoreAndGet", func(t *testing.T) {
		meta, err := s.Store([]byte("hello"))
		require.NoError(t, err)
		assert.Equal(t, int64(5), meta.Size)
		assert.False(t, meta.Compressed)
		assert.Equal(t, delta.ChecksumBytes(delta.ChecksumSHA1, []byte("hello")), meta.Checksum(delta.ChecksumSHA1))
		assert.Equal(t, delta.ChecksumBytes(delta.ChecksumMD5, []byte("hello")), meta.Checksum(delta.ChecksumMD5))

		content, err := s.Get(meta.Hash)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(content))
	})

	t.Run("Dedup", func(t *testing.T) {
		first, err := s.Store([]byte("same"))
		require.NoError(t, err)
		second, err := s.StoreReader(strings.NewReader("same"))
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("CompressedRoundTrip", func(t *testing.T) {
		text := bytes.Repeat([]byte("line of repeated text\n"), 200)
		meta, err := s.Store(text)
		require.NoError(t, err)
		assert.True(t, meta.Compressed)

		// Evict from the cache so the stored form is decoded.
		_, _ = s.Store([]byte("x"))
		_, _ = s.Store([]byte("y"))
		require.NoError(t, s.Verify(meta.Hash))

		rc, err := s.Open(meta.Hash)
		require.NoError(t, err)
		defer rc.Close()
		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, text, got)
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := s.Get(strings.Repeat("ab", 32))
		assert.ErrorIs(t, err, ErrContentNotFound)
		_, err = s.Get("nothex")
		assert.ErrorIs(t, err, ErrInvalidHash)

		ok, err := s.Exists(strings.Repeat("cd", 32))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("EmptyContent", func(t *testing.T) {
		meta, err := s.Store(nil)
		require.NoError(t, err)
		content, err := s.Get(meta.Hash)
		require.NoError(t, err)
		assert.Empty(t, content)
	})
}
