// Package diskcache provides an implementation of httpcache.Storage that uses the diskv package
// to supplement an in-memory map with persistent storage
package diskcache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/peterbourgon/diskv"

	"github.com/corewell/httpcache"
)

// Cache is an implementation of httpcache.Storage that supplements the
// in-memory map with persistent storage. diskv has no conditional write, so
// CompareAndSwap serializes its read-then-write through mu.
type Cache struct {
	mu sync.Mutex
	d  *diskv.Diskv
}

// encodeEntry packs a version and payload into the blob stored on disk: an
// 8-byte big-endian version prefix followed by the raw data.
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
// The context parameter is accepted for interface compliance but not used for disk operations.
func (c *Cache) Get(_ context.Context, key string) (*httpcache.StoredObject, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

func (c *Cache) getLocked(key string) (*httpcache.StoredObject, bool, error) {
	blob, err := c.d.Read(keyToFilename(key))
	if err != nil {
		return nil, false, nil // File not found is not an error, just missing
	}
	version, data, ok := decodeEntry(blob)
	if !ok {
		return nil, false, nil
	}
	return &httpcache.StoredObject{Data: data, Token: strconv.FormatUint(version, 10)}, true, nil
}

// GetMany returns every present key's object.
func (c *Cache) GetMany(ctx context.Context, keys []string) (map[string]*httpcache.StoredObject, error) {
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

// Put saves a response to the cache as key, bumping its version.
// The context parameter is accepted for interface compliance but not used for disk operations.
func (c *Cache) Put(_ context.Context, key string, resp []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	filename := keyToFilename(key)

	var version uint64 = 1
	if current, ok, err := c.getLocked(key); err == nil && ok {
		if v, parseErr := strconv.ParseUint(current.Token, 10, 64); parseErr == nil {
			version = v + 1
		}
	}

	if err := c.d.WriteStream(filename, bytes.NewReader(encodeEntry(version, resp)), true); err != nil {
		return fmt.Errorf("diskcache put failed for key: %w", err)
	}
	return nil
}

// Remove removes the response with key from the cache.
// The context parameter is accepted for interface compliance but not used for disk operations.
func (c *Cache) Remove(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Erase errors when file doesn't exist are not real errors, so we ignore them
	_ = c.d.Erase(keyToFilename(key)) //nolint:errcheck // file not found is acceptable
	return nil
}

// CompareAndSwap writes resp at key only if the stored version still
// matches token, under mu. token == "" asserts the key must not currently
// exist.
func (c *Cache) CompareAndSwap(_ context.Context, key, token string, resp []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok, err := c.getLocked(key)
	if err != nil {
		return false, fmt.Errorf("diskcache compare-and-swap failed for key: %w", err)
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
			return false, fmt.Errorf("diskcache compare-and-swap: invalid token %q: %w", token, parseErr)
		}
		currentVersion, parseErr := strconv.ParseUint(current.Token, 10, 64)
		if parseErr != nil || currentVersion != version {
			return false, nil
		}
		newVersion = version + 1
	}

	if err := c.d.WriteStream(keyToFilename(key), bytes.NewReader(encodeEntry(newVersion, resp)), true); err != nil {
		return false, fmt.Errorf("diskcache compare-and-swap failed for key: %w", err)
	}
	return true, nil
}

func keyToFilename(key string) string {
	h := sha256.New()
	// Hash.Write never returns an error according to the interface contract
	//nolint:errcheck // io.WriteString to hash.Hash never fails
	_, _ = io.WriteString(h, key)
	return hex.EncodeToString(h.Sum(nil))
}

// New returns a new Cache that will store files in basePath
func New(basePath string) *Cache {
	return &Cache{
		d: diskv.New(diskv.Options{
			BasePath:     basePath,
			CacheSizeMax: 100 * 1024 * 1024, // 100MB
		}),
	}
}

// NewWithDiskv returns a new Cache using the provided Diskv as underlying
// storage.
func NewWithDiskv(d *diskv.Diskv) *Cache {
	return &Cache{d: d}
}

var _ httpcache.Storage = (*Cache)(nil)
