// Package compresscache provides a Storage wrapper that automatically
// compresses cached data to reduce storage requirements and network
// bandwidth usage. Supports multiple compression algorithms: gzip, brotli,
// and snappy.
package compresscache

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/corewell/httpcache"
)

// Algorithm represents the compression algorithm to use
type Algorithm int

const (
	// Gzip uses gzip compression (good balance of compression and speed)
	Gzip Algorithm = iota
	// Brotli uses brotli compression (best compression ratio, slower)
	Brotli
	// Snappy uses snappy compression (fastest, lower compression ratio)
	Snappy
)

// String returns the string representation of the algorithm
func (a Algorithm) String() string {
	switch a {
	case Gzip:
		return "gzip"
	case Brotli:
		return "brotli"
	case Snappy:
		return "snappy"
	default:
		return "unknown"
	}
}

// Stats holds compression statistics
type Stats struct {
	CompressedBytes   int64   // Total bytes after compression
	UncompressedBytes int64   // Total bytes before compression
	CompressedCount   int64   // Number of compressed entries
	UncompressedCount int64   // Number of entries stored uncompressed (compression failed)
	CompressionRatio  float64 // Compression ratio (0.0-1.0, lower is better)
	SavingsPercent    float64 // Space savings percentage
}

// compressFunc is a function type for compression operations
type compressFunc func([]byte) ([]byte, error)

// decompressFunc is a function type for decompression operations
type decompressFunc func([]byte) ([]byte, error)

// baseCompressCache provides common functionality for all compression implementations
type baseCompressCache struct {
	storage   httpcache.Storage
	algorithm Algorithm

	compressedBytes   atomic.Int64
	uncompressedBytes atomic.Int64
	compressedCount   atomic.Int64
	uncompressedCount atomic.Int64
}

// newBaseCompressCache creates a new base compression cache
func newBaseCompressCache(storage httpcache.Storage, algorithm Algorithm) *baseCompressCache {
	return &baseCompressCache{
		storage:   storage,
		algorithm: algorithm,
	}
}

// decodeFrame strips the one-byte algorithm marker this wrapper prefixes
// every stored value with (0 means stored uncompressed, N+1 means
// Algorithm(N)), decompressing with whichever algorithm was actually used —
// not necessarily this instance's own, since two wrapper instances backed
// by different algorithms may share the same underlying storage over time.
func (c *baseCompressCache) decodeFrame(data []byte) ([]byte, error) {
	if len(data) < 1 {
		return data, nil
	}
	marker := data[0]
	if marker == 0 {
		return data[1:], nil
	}
	storedAlgo := Algorithm(marker - 1)
	return decompressWithAlgorithm(data[1:], storedAlgo)
}

func decompressWithAlgorithm(data []byte, algorithm Algorithm) ([]byte, error) {
	switch algorithm {
	case Gzip:
		return (&GzipCache{baseCompressCache: &baseCompressCache{}}).decompress(data)
	case Brotli:
		return (&BrotliCache{baseCompressCache: &baseCompressCache{}}).decompress(data)
	case Snappy:
		return (&SnappyCache{baseCompressCache: &baseCompressCache{}}).decompress(data)
	default:
		return nil, fmt.Errorf("unsupported decompression algorithm: %v", algorithm)
	}
}

// encodeFrame compresses value with compressFn and prefixes the algorithm
// marker byte, falling back to an uncompressed frame if compression fails.
func (c *baseCompressCache) encodeFrame(value []byte, compressFn compressFunc) []byte {
	compressed, err := compressFn(value)
	if err != nil {
		httpcache.GetLogger().Warn("compression failed, storing uncompressed",
			"algorithm", c.algorithm.String(), "error", err)
		data := make([]byte, len(value)+1)
		data[0] = 0
		copy(data[1:], value)
		c.uncompressedCount.Add(1)
		c.uncompressedBytes.Add(int64(len(value)))
		return data
	}

	data := make([]byte, len(compressed)+1)
	data[0] = byte(c.algorithm + 1)
	copy(data[1:], compressed)
	c.compressedCount.Add(1)
	c.compressedBytes.Add(int64(len(compressed)))
	c.uncompressedBytes.Add(int64(len(value)))
	return data
}

// get retrieves and decompresses a stored object.
func (c *baseCompressCache) get(ctx context.Context, key string) (*httpcache.StoredObject, bool, error) {
	obj, ok, err := c.storage.Get(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	decoded, err := c.decodeFrame(obj.Data)
	if err != nil {
		httpcache.GetLogger().Warn("decompression failed", "key", key, "error", err)
		return nil, false, err
	}
	return &httpcache.StoredObject{Data: decoded, Token: obj.Token}, true, nil
}

// getMany retrieves and decompresses a batch of stored objects.
func (c *baseCompressCache) getMany(ctx context.Context, keys []string) (map[string]*httpcache.StoredObject, error) {
	objs, err := c.storage.GetMany(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*httpcache.StoredObject, len(objs))
	for key, obj := range objs {
		decoded, err := c.decodeFrame(obj.Data)
		if err != nil {
			httpcache.GetLogger().Warn("decompression failed", "key", key, "error", err)
			continue
		}
		out[key] = &httpcache.StoredObject{Data: decoded, Token: obj.Token}
	}
	return out, nil
}

// put compresses value and stores it.
func (c *baseCompressCache) put(ctx context.Context, key string, value []byte, compressFn compressFunc) error {
	return c.storage.Put(ctx, key, c.encodeFrame(value, compressFn))
}

// remove deletes a stored object.
func (c *baseCompressCache) remove(ctx context.Context, key string) error {
	return c.storage.Remove(ctx, key)
}

// compareAndSwap compresses value and performs a compare-and-swap.
func (c *baseCompressCache) compareAndSwap(ctx context.Context, key, token string, value []byte, compressFn compressFunc) (bool, error) {
	return c.storage.CompareAndSwap(ctx, key, token, c.encodeFrame(value, compressFn))
}

// stats returns compression statistics
func (c *baseCompressCache) stats() Stats {
	compressed := c.compressedBytes.Load()
	uncompressed := c.uncompressedBytes.Load()

	var ratio, savings float64
	if uncompressed > 0 {
		ratio = float64(compressed) / float64(uncompressed)
		savings = (1.0 - ratio) * 100
	}

	return Stats{
		CompressedBytes:   compressed,
		UncompressedBytes: uncompressed,
		CompressedCount:   c.compressedCount.Load(),
		UncompressedCount: c.uncompressedCount.Load(),
		CompressionRatio:  ratio,
		SavingsPercent:    savings,
	}
}
