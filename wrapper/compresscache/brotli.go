package compresscache

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/corewell/httpcache"
)

// BrotliCache wraps a Storage backend with automatic Brotli compression/decompression
type BrotliCache struct {
	*baseCompressCache
	level int
}

// BrotliConfig holds the configuration for Brotli compression
type BrotliConfig struct {
	// Storage is the underlying backend to wrap (required)
	Storage httpcache.Storage

	// Level is the compression level (0 to 11)
	// Default: 6
	Level int
}

// NewBrotli creates a new BrotliCache with Brotli compression
func NewBrotli(config BrotliConfig) (*BrotliCache, error) {
	if config.Storage == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}

	if config.Level == 0 {
		config.Level = 6
	}

	if config.Level < 0 || config.Level > 11 {
		return nil, fmt.Errorf("invalid brotli compression level: %d", config.Level)
	}

	return &BrotliCache{
		baseCompressCache: newBaseCompressCache(config.Storage, Brotli),
		level:             config.Level,
	}, nil
}

// compress compresses data using the Brotli algorithm
func (c *BrotliCache) compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w := brotli.NewWriterLevel(&buf, c.level)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("brotli write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("brotli close failed: %w", err)
	}

	return buf.Bytes(), nil
}

// decompress decompresses data using the Brotli algorithm
func (c *BrotliCache) decompress(data []byte) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(data))
	decompressed, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("brotli read failed: %w", err)
	}
	return decompressed, nil
}

// Get implements httpcache.Storage.
func (c *BrotliCache) Get(ctx context.Context, key string) (*httpcache.StoredObject, bool, error) {
	return c.get(ctx, key)
}

// GetMany implements httpcache.Storage.
func (c *BrotliCache) GetMany(ctx context.Context, keys []string) (map[string]*httpcache.StoredObject, error) {
	return c.getMany(ctx, keys)
}

// Put implements httpcache.Storage.
func (c *BrotliCache) Put(ctx context.Context, key string, data []byte) error {
	return c.put(ctx, key, data, c.compress)
}

// Remove implements httpcache.Storage.
func (c *BrotliCache) Remove(ctx context.Context, key string) error {
	return c.remove(ctx, key)
}

// CompareAndSwap implements httpcache.Storage.
func (c *BrotliCache) CompareAndSwap(ctx context.Context, key, token string, data []byte) (bool, error) {
	return c.compareAndSwap(ctx, key, token, data, c.compress)
}

// Stats returns compression statistics
func (c *BrotliCache) Stats() Stats {
	return c.stats()
}
