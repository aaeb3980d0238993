// Package freecache provides a high-performance, zero-GC overhead implementation of httpcache.Storage
// using github.com/coocood/freecache as the underlying storage.
//
// This backend is suitable for applications that need to cache millions of entries
// with minimal GC overhead and automatic memory management with LRU eviction.
//
// Example usage:
//
//	cache := freecache.New(100 * 1024 * 1024) // 100MB cache
//	engine := httpcache.NewEngine(httpcache.WithStorage(cache))
//	client := httpcache.Client(engine)
package freecache

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"

	"github.com/coocood/freecache"

	"github.com/corewell/httpcache"
)

// Cache is an implementation of httpcache.Storage that uses freecache for storage.
// It provides zero-GC overhead and automatic LRU eviction when cache is full.
// freecache's API has no conditional write, so CompareAndSwap is guarded by mu:
// a single in-process mutex is correct and cheap since a *freecache.Cache is
// itself a single in-process instance.
type Cache struct {
	mu    sync.Mutex
	cache *freecache.Cache
}

// New creates a new Cache with the specified size in bytes.
// The cache size will be set to 512KB at minimum.
//
// For large cache sizes, you may want to call debug.SetGCPercent()
// with a lower value to reduce GC overhead.
//
// Example:
//
//	import "runtime/debug"
//	cache := freecache.New(100 * 1024 * 1024) // 100MB
//	debug.SetGCPercent(20)
func New(size int) *Cache {
	return &Cache{
		cache: freecache.NewCache(size),
	}
}

// encodeEntry packs a version and payload into the blob stored in freecache:
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

// Get returns the cached response bytes and true if present, false if not found.
// The context parameter is accepted for interface compliance but not used for in-memory operations.
func (c *Cache) Get(_ context.Context, key string) (*httpcache.StoredObject, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

func (c *Cache) getLocked(key string) (*httpcache.StoredObject, bool, error) {
	blob, err := c.cache.Get([]byte(key))
	if err != nil {
		if err == freecache.ErrNotFound {
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

// Put stores the response bytes in the cache with the given key, bumping its
// version. If the cache is full, it will evict the least recently used entry.
// The entry has no expiration time and will only be evicted when cache is full.
// The context parameter is accepted for interface compliance but not used for in-memory operations.
func (c *Cache) Put(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var version uint64 = 1
	if blob, err := c.cache.Get([]byte(key)); err == nil {
		if v, _, ok := decodeEntry(blob); ok {
			version = v + 1
		}
	}

	if err := c.cache.Set([]byte(key), encodeEntry(version, value), 0); err != nil {
		return fmt.Errorf("freecache put failed for key %q: %w", key, err)
	}
	return nil
}

// Remove removes the entry with the given key from the cache.
// The context parameter is accepted for interface compliance but not used for in-memory operations.
func (c *Cache) Remove(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Del([]byte(key))
	return nil
}

// CompareAndSwap writes value at key only if the stored version still
// matches token, under the instance's mutex. token == "" asserts the key must
// not currently exist.
func (c *Cache) CompareAndSwap(_ context.Context, key, token string, value []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok, err := c.getLocked(key)
	if err != nil {
		return false, fmt.Errorf("freecache compare-and-swap failed for key %q: %w", key, err)
	}

	if token == "" {
		if ok {
			return false, nil
		}
		if err := c.cache.Set([]byte(key), encodeEntry(1, value), 0); err != nil {
			return false, fmt.Errorf("freecache compare-and-swap (create) failed for key %q: %w", key, err)
		}
		return true, nil
	}

	if !ok {
		return false, nil
	}
	version, err := strconv.ParseUint(token, 10, 64)
	if err != nil {
		return false, fmt.Errorf("freecache compare-and-swap: invalid token %q: %w", token, err)
	}
	currentVersion, err := strconv.ParseUint(current.Token, 10, 64)
	if err != nil || currentVersion != version {
		return false, nil
	}

	if err := c.cache.Set([]byte(key), encodeEntry(version+1, value), 0); err != nil {
		return false, fmt.Errorf("freecache compare-and-swap failed for key %q: %w", key, err)
	}
	return true, nil
}

// Clear removes all entries from the cache
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Clear()
}

// EntryCount returns the number of entries currently in the cache
func (c *Cache) EntryCount() int64 {
	return c.cache.EntryCount()
}

// HitRate returns the ratio of cache hits to total lookups
func (c *Cache) HitRate() float64 {
	return c.cache.HitRate()
}

// EvacuateCount returns the number of times entries were evicted due to cache being full
func (c *Cache) EvacuateCount() int64 {
	return c.cache.EvacuateCount()
}

// ExpiredCount returns the number of times entries expired
func (c *Cache) ExpiredCount() int64 {
	return c.cache.ExpiredCount()
}

// ResetStatistics resets all statistics counters (hit rate, evictions, etc.)
func (c *Cache) ResetStatistics() {
	c.cache.ResetStatistics()
}

var _ httpcache.Storage = (*Cache)(nil)
