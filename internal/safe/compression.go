// internal/safe/compression.go
package safe

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// zstdMagic starts every zstd frame.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// CompressionOptions configures compression behavior
type CompressionOptions struct {
	// Minimum size in bytes before compressing
	MinSize int
	// Compression level (1=fastest, 4=best)
	Level int
}

// DefaultCompressionOptions provides sensible defaults
func DefaultCompressionOptions() CompressionOptions {
	return CompressionOptions{
		MinSize: 1024, // 1KB
		Level:   2,    // Balanced speed/compression
	}
}

// compressionManager handles compression operations
type compressionManager struct {
	opts CompressionOptions

	// Encoder/decoder pools
	encoders sync.Pool
	decoders sync.Pool
}

func newCompressionManager(opts CompressionOptions) (*compressionManager, error) {
	level := zstd.EncoderLevelFromZstd(opts.Level)

	// Create encoder/decoder for validation
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("creating test encoder: %w", err)
	}
	enc.Close()

	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("creating test decoder: %w", err)
	}
	dec.Close()

	return &compressionManager{
		opts: opts,
		encoders: sync.Pool{
			New: func() interface{} {
				enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1))
				return enc
			},
		},
		decoders: sync.Pool{
			New: func() interface{} {
				dec, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
				return dec
			},
		},
	}, nil
}

// shouldCompress determines if content should be compressed
func (cm *compressionManager) shouldCompress(content []byte) bool {
	if len(content) < cm.opts.MinSize {
		return false
	}
	// Text that already looks like a zstd frame is stored verbatim so
	// decompress never misreads it.
	return !bytes.HasPrefix(content, zstdMagic)
}

// compress returns the stored form of content and whether it is compressed.
func (cm *compressionManager) compress(content []byte) ([]byte, bool) {
	if !cm.shouldCompress(content) {
		return content, false
	}

	enc := cm.encoders.Get().(*zstd.Encoder)
	defer cm.encoders.Put(enc)

	compressed := enc.EncodeAll(content, nil)
	if len(compressed) >= len(content) {
		return content, false
	}
	return compressed, true
}

// decompress reverses compress for stored data flagged as compressed.
func (cm *compressionManager) decompress(stored []byte) ([]byte, error) {
	if !bytes.HasPrefix(stored, zstdMagic) {
		return nil, fmt.Errorf("stored content is not a zstd frame")
	}

	dec := cm.decoders.Get().(*zstd.Decoder)
	defer cm.decoders.Put(dec)

	return dec.DecodeAll(stored, nil)
}
