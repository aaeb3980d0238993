// Package leveldbcache provides an implementation of httpcache.Storage that
// uses github.com/syndtr/goleveldb/leveldb
package leveldbcache

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/corewell/httpcache"
)

// Cache is an implementation of httpcache.Storage with leveldb storage.
// goleveldb has no conditional-write primitive, so CompareAndSwap serializes
// its read-then-write through mu; the write is a single db.Put.
type Cache struct {
	mu sync.Mutex
	db *leveldb.DB
}

// encodeEntry packs a version and payload into the blob stored in leveldb:
// an 8-byte big-endian version prefix followed by the raw data.
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
// The context parameter is accepted for interface compliance but not used for LevelDB operations.
func (c *Cache) Get(_ context.Context, key string) (*httpcache.StoredObject, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

func (c *Cache) getLocked(key string) (*httpcache.StoredObject, bool, error) {
	blob, err := c.db.Get([]byte(key), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, err
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
// The context parameter is accepted for interface compliance but not used for LevelDB operations.
func (c *Cache) Put(_ context.Context, key string, resp []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var version uint64 = 1
	if current, ok, err := c.getLocked(key); err == nil && ok {
		v, parseErr := strconv.ParseUint(current.Token, 10, 64)
		if parseErr == nil {
			version = v + 1
		}
	}

	if err := c.db.Put([]byte(key), encodeEntry(version, resp), nil); err != nil {
		return fmt.Errorf("leveldb cache put failed for key %q: %w", key, err)
	}
	return nil
}

// Remove removes the response with key from the cache.
// The context parameter is accepted for interface compliance but not used for LevelDB operations.
func (c *Cache) Remove(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.db.Delete([]byte(key), nil); err != nil {
		return fmt.Errorf("leveldb cache remove failed for key %q: %w", key, err)
	}
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
		return false, fmt.Errorf("leveldb cache compare-and-swap failed for key %q: %w", key, err)
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
			return false, fmt.Errorf("leveldb cache compare-and-swap: invalid token %q: %w", token, parseErr)
		}
		currentVersion, parseErr := strconv.ParseUint(current.Token, 10, 64)
		if parseErr != nil || currentVersion != version {
			return false, nil
		}
		newVersion = version + 1
	}

	if err := c.db.Put([]byte(key), encodeEntry(newVersion, resp), nil); err != nil {
		return false, fmt.Errorf("leveldb cache compare-and-swap failed for key %q: %w", key, err)
	}
	return true, nil
}

// New returns a new Cache that will store leveldb in path
func New(path string) (*Cache, error) {
	cache := &Cache{}

	var err error
	cache.db, err = leveldb.OpenFile(path, nil)

	if err != nil {
		return nil, err
	}
	return cache, nil
}

// NewWithDB returns a new Cache using the provided leveldb as underlying
// storage.
func NewWithDB(db *leveldb.DB) *Cache {
	return &Cache{db: db}
}

var _ httpcache.Storage = (*Cache)(nil)
