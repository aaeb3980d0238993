package compresscache

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"

	"github.com/corewell/httpcache"
)

// GzipCache wraps a Storage backend with automatic Gzip compression/decompression
type GzipCache struct {
	*baseCompressCache
	level int
}

// GzipConfig holds the configuration for Gzip compression
type GzipConfig struct {
	// Storage is the underlying backend to wrap (required)
	Storage httpcache.Storage

	// Level is the compression level (-2 to 9)
	// Default: gzip.DefaultCompression (-1)
	Level int
}

// NewGzip creates a new GzipCache with Gzip compression
func NewGzip(config GzipConfig) (*GzipCache, error) {
	if config.Storage == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}

	if config.Level == 0 {
		config.Level = gzip.DefaultCompression
	}

	if config.Level < gzip.HuffmanOnly || config.Level > gzip.BestCompression {
		return nil, fmt.Errorf("invalid gzip compression level: %d", config.Level)
	}

	return &GzipCache{
		baseCompressCache: newBaseCompressCache(config.Storage, Gzip),
		level:             config.Level,
	}, nil
}

// compress compresses data using the Gzip algorithm
func (c *GzipCache) compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("gzip writer creation failed: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("gzip write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close failed: %w", err)
	}

	return buf.Bytes(), nil
}

// decompress decompresses data using the Gzip algorithm
func (c *GzipCache) decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader creation failed: %w", err)
	}
	defer func() { _ = r.Close() }()

	decompressed, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip read failed: %w", err)
	}
	return decompressed, nil
}

// Get implements httpcache.Storage.
func (c *GzipCache) Get(ctx context.Context, key string) (*httpcache.StoredObject, bool, error) {
	return c.get(ctx, key)
}

// GetMany implements httpcache.Storage.
func (c *GzipCache) GetMany(ctx context.Context, keys []string) (map[string]*httpcache.StoredObject, error) {
	return c.getMany(ctx, keys)
}

// Put implements httpcache.Storage.
func (c *GzipCache) Put(ctx context.Context, key string, data []byte) error {
	return c.put(ctx, key, data, c.compress)
}

// Remove implements httpcache.Storage.
func (c *GzipCache) Remove(ctx context.Context, key string) error {
	return c.remove(ctx, key)
}

// CompareAndSwap implements httpcache.Storage.
func (c *GzipCache) CompareAndSwap(ctx context.Context, key, token string, data []byte) (bool, error) {
	return c.compareAndSwap(ctx, key, token, data, c.compress)
}

// Stats returns compression statistics
func (c *GzipCache) Stats() Stats {
	return c.stats()
}
