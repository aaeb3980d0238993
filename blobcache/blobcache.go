// Package blobcache provides an httpcache.Storage implementation that uses
// Go Cloud Development Kit (CDK) blob storage for cloud-agnostic cache storage.
//
// Supports multiple cloud providers:
//   - Amazon S3
//   - Google Cloud Storage
//   - Azure Blob Storage
//   - In-memory (for testing)
//   - Local filesystem
//
// Example usage with S3:
//
//	import (
//	    "context"
//	    _ "gocloud.dev/blob/s3blob"
//	    "github.com/corewell/httpcache/blobcache"
//	)
//
//	ctx := context.Background()
//	cache, err := blobcache.New(ctx, blobcache.Config{
//	    BucketURL: "s3://my-bucket?region=us-west-2",
//	    KeyPrefix: "httpcache/",
//	})
package blobcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/corewell/httpcache"
)

// Config holds the configuration for the blob cache.
type Config struct {
	// BucketURL is the Go Cloud blob URL (e.g., "s3://bucket?region=us-west-2")
	BucketURL string

	// KeyPrefix is prepended to all cache keys (default: "cache/")
	KeyPrefix string

	// Timeout for blob operations (default: 30s)
	Timeout time.Duration

	// Bucket is an optional pre-opened bucket (if nil, BucketURL is used)
	Bucket *blob.Bucket
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "cache/",
		Timeout:   30 * time.Second,
	}
}

// cache implements httpcache.Storage using Go Cloud blob storage. No
// provider in gocloud.dev/blob's set exposes a portable conditional-write
// API, so CompareAndSwap serializes its read-then-write through mu and
// tracks a version number alongside the payload to serve as the CAS token.
type cache struct {
	mu         sync.Mutex
	bucket     *blob.Bucket
	keyPrefix  string
	timeout    time.Duration
	ownsBucket bool // true if we opened the bucket (should close it)
}

// New creates a new blob cache with the given configuration.
// The bucket is opened using the BucketURL.
// Call Close() to clean up resources when done.
func New(ctx context.Context, config Config) (httpcache.Storage, error) {
	if config.BucketURL == "" && config.Bucket == nil {
		return nil, fmt.Errorf("either BucketURL or Bucket must be provided")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultConfig().KeyPrefix
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	var bucket *blob.Bucket
	var ownsBucket bool
	var err error

	if config.Bucket != nil {
		bucket = config.Bucket
		ownsBucket = false
	} else {
		bucket, err = blob.OpenBucket(ctx, config.BucketURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open bucket: %w", err)
		}
		ownsBucket = true
	}

	return &cache{
		bucket:     bucket,
		keyPrefix:  config.KeyPrefix,
		timeout:    config.Timeout,
		ownsBucket: ownsBucket,
	}, nil
}

// NewWithBucket creates a cache using an already-opened bucket.
// The caller is responsible for closing the bucket.
func NewWithBucket(bucket *blob.Bucket, keyPrefix string, timeout time.Duration) httpcache.Storage {
	if keyPrefix == "" {
		keyPrefix = DefaultConfig().KeyPrefix
	}
	if timeout == 0 {
		timeout = DefaultConfig().Timeout
	}

	return &cache{
		bucket:     bucket,
		keyPrefix:  keyPrefix,
		timeout:    timeout,
		ownsBucket: false,
	}
}

// cacheKey generates a blob key from a cache key.
// Uses SHA-256 hash to avoid issues with special characters in cloud storage.
func (c *cache) cacheKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return c.keyPrefix + hex.EncodeToString(hash[:])
}

func (c *cache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// encodeEntry packs a version and payload into the blob written to the
// bucket: an 8-byte big-endian version prefix followed by the raw data.
func encodeEntry(version uint64, data []byte) []byte {
	buf := make([]byte, 8+len(data))
	binary.BigEndian.PutUint64(buf[:8], version)
	copy(buf[8:], data)
	return buf
}

func decodeEntry(blob []byte) (version uint64, data []byte, ok bool) {
	if len(blob) < 8 {
		return 0, nil, false
	}
	return binary.BigEndian.Uint64(blob[:8]), blob[8:], true
}

// Get returns the response corresponding to key if present.
// Uses the provided context for timeout and cancellation.
// If the context has a deadline, it will be used; otherwise, the configured timeout is applied.
func (c *cache) Get(ctx context.Context, key string) (*httpcache.StoredObject, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(ctx, key)
}

func (c *cache) getLocked(ctx context.Context, key string) (*httpcache.StoredObject, bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	blobKey := c.cacheKey(key)

	reader, err := c.bucket.NewReader(ctx, blobKey, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("blobcache get failed for key %q: %w", key, err)
	}
	defer reader.Close() //nolint:errcheck // best effort cleanup, error already handled

	blob, err := io.ReadAll(reader)
	if err != nil {
		return nil, false, fmt.Errorf("blobcache read failed for key %q: %w", key, err)
	}

	version, data, ok := decodeEntry(blob)
	if !ok {
		return nil, false, nil
	}
	return &httpcache.StoredObject{Data: data, Token: strconv.FormatUint(version, 10)}, true, nil
}

// GetMany returns every present key's object.
func (c *cache) GetMany(ctx context.Context, keys []string) (map[string]*httpcache.StoredObject, error) {
	out := make(map[string]*httpcache.StoredObject, len(keys))
	for _, key := range keys {
		obj, ok, err := c.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			out[key] = obj
		}
	}
	return out, nil
}

func (c *cache) writeLocked(ctx context.Context, blobKey string, blob []byte) error {
	writer, err := c.bucket.NewWriter(ctx, blobKey, nil)
	if err != nil {
		return fmt.Errorf("blobcache write failed to create writer for key %q: %w", blobKey, err)
	}
	_, writeErr := writer.Write(blob)
	closeErr := writer.Close()
	if writeErr != nil {
		return fmt.Errorf("blobcache write failed for key %q: %w", blobKey, writeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("blobcache write failed to close writer for key %q: %w", blobKey, closeErr)
	}
	return nil
}

// Put saves a response to the cache as key, bumping its version.
// Uses the provided context for timeout and cancellation.
// If the context has a deadline, it will be used; otherwise, the configured timeout is applied.
func (c *cache) Put(ctx context.Context, key string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var version uint64 = 1
	if current, ok, err := c.getLocked(ctx, key); err == nil && ok {
		if v, parseErr := strconv.ParseUint(current.Token, 10, 64); parseErr == nil {
			version = v + 1
		}
	}

	if err := c.writeLocked(ctx, c.cacheKey(key), encodeEntry(version, data)); err != nil {
		return fmt.Errorf("blobcache put failed for key %q: %w", key, err)
	}
	return nil
}

// Remove removes the response with key from the cache.
// Uses the provided context for timeout and cancellation.
// If the context has a deadline, it will be used; otherwise, the configured timeout is applied.
func (c *cache) Remove(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	blobKey := c.cacheKey(key)
	err := c.bucket.Delete(ctx, blobKey)
	if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("blobcache remove failed for key %q: %w", key, err)
	}
	return nil
}

// CompareAndSwap writes data at key only if the stored version still
// matches token, under mu. token == "" asserts the key must not currently
// exist.
func (c *cache) CompareAndSwap(ctx context.Context, key, token string, data []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	current, ok, err := c.getLocked(ctx, key)
	if err != nil {
		return false, fmt.Errorf("blobcache compare-and-swap failed for key %q: %w", key, err)
	}

	var newVersion uint64 = 1
	if token == "" {
		if ok {
			return false, nil
		}
	} else {
		if !ok {
			return false, nil
		}
		version, parseErr := strconv.ParseUint(token, 10, 64)
		if parseErr != nil {
			return false, fmt.Errorf("blobcache compare-and-swap: invalid token %q: %w", token, parseErr)
		}
		currentVersion, parseErr := strconv.ParseUint(current.Token, 10, 64)
		if parseErr != nil || currentVersion != version {
			return false, nil
		}
		newVersion = version + 1
	}

	if err := c.writeLocked(ctx, c.cacheKey(key), encodeEntry(newVersion, data)); err != nil {
		return false, fmt.Errorf("blobcache compare-and-swap failed for key %q: %w", key, err)
	}
	return true, nil
}

// Close closes the bucket if it was opened by New().
// If the bucket was provided via NewWithBucket(), it's not closed.
func (c *cache) Close() error {
	if c.ownsBucket {
		if err := c.bucket.Close(); err != nil {
			return fmt.Errorf("failed to close blob bucket: %w", err)
		}
	}
	return nil
}

var _ httpcache.Storage = (*cache)(nil)
