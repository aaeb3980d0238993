package compresscache

import (
	"context"
	"fmt"

	"github.com/corewell/httpcache"
	"github.com/golang/snappy"
)

// SnappyCache wraps a Storage backend with automatic Snappy compression/decompression
type SnappyCache struct {
	*baseCompressCache
}

// SnappyConfig holds the configuration for Snappy compression
type SnappyConfig struct {
	// Storage is the underlying backend to wrap (required)
	Storage httpcache.Storage
}

// NewSnappy creates a new SnappyCache with Snappy compression
func NewSnappy(config SnappyConfig) (*SnappyCache, error) {
	if config.Storage == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}

	return &SnappyCache{
		baseCompressCache: newBaseCompressCache(config.Storage, Snappy),
	}, nil
}

// compress compresses data using the Snappy algorithm
func (c *SnappyCache) compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

// decompress decompresses data using the Snappy algorithm
func (c *SnappyCache) decompress(data []byte) ([]byte, error) {
	decompressed, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snappy decode failed: %w", err)
	}
	return decompressed, nil
}

// Get implements httpcache.Storage.
func (c *SnappyCache) Get(ctx context.Context, key string) (*httpcache.StoredObject, bool, error) {
	return c.get(ctx, key)
}

// GetMany implements httpcache.Storage.
func (c *SnappyCache) GetMany(ctx context.Context, keys []string) (map[string]*httpcache.StoredObject, error) {
	return c.getMany(ctx, keys)
}

// Put implements httpcache.Storage.
func (c *SnappyCache) Put(ctx context.Context, key string, data []byte) error {
	return c.put(ctx, key, data, c.compress)
}

// Remove implements httpcache.Storage.
func (c *SnappyCache) Remove(ctx context.Context, key string) error {
	return c.remove(ctx, key)
}

// CompareAndSwap implements httpcache.Storage.
func (c *SnappyCache) CompareAndSwap(ctx context.Context, key, token string, data []byte) (bool, error) {
	return c.compareAndSwap(ctx, key, token, data, c.compress)
}

// Stats returns compression statistics
func (c *SnappyCache) Stats() Stats {
	return c.stats()
}
