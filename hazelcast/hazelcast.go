// Package hazelcast provides a Hazelcast interface for http caching.
package hazelcast

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/hazelcast/hazelcast-go-client"

	"github.com/corewell/httpcache"
)

// cache is an implementation of httpcache.Storage that caches responses in a
// Hazelcast cluster. Entries are stored as version-prefixed blobs so that
// IMap.ReplaceIfSame can be used as the CAS primitive: the version number
// doubles as the opaque token, and the exact bytes last read back from the
// map are what's offered as the "old value" in the compare.
type cache struct {
	m   *hazelcast.Map
	ctx context.Context
}

// cacheKey modifies an httpcache key for use in Hazelcast. Specifically, it
// prefixes keys to avoid collision with other data stored in the map.
func cacheKey(key string) string {
	return "httpcache:" + key
}

// encodeEntry packs a version and payload into the blob stored in the map:
// an 8-byte big-endian version prefix followed by the raw data.
func encodeEntry(version uint64, data []byte) []byte {
	buf := make([]byte, 8+len(data))
	binary.BigEndian.PutUint64(buf[:8], version)
	copy(buf[8:], data)
	return buf
}

// decodeEntry reverses encodeEntry. Returns ok=false if blob is malformed.
func decodeEntry(blob []byte) (version uint64, data []byte, ok bool) {
	if len(blob) < 8 {
		return 0, nil, false
	}
	return binary.BigEndian.Uint64(blob[:8]), blob[8:], true
}

func (c cache) resolveCtx(ctx context.Context) context.Context {
	if ctx == nil {
		return c.ctx
	}
	return ctx
}

// Get returns the response corresponding to key if present.
func (c cache) Get(ctx context.Context, key string) (*httpcache.StoredObject, bool, error) {
	ctx = c.resolveCtx(ctx)

	val, err := c.m.Get(ctx, cacheKey(key))
	if err != nil {
		return nil, false, fmt.Errorf("hazelcast cache get failed for key %q: %w", key, err)
	}
	if val == nil {
		return nil, false, nil
	}

	blob, ok := val.([]byte)
	if !ok {
		return nil, false, nil
	}
	version, data, ok := decodeEntry(blob)
	if !ok {
		return nil, false, nil
	}

	return &httpcache.StoredObject{Data: data, Token: strconv.FormatUint(version, 10)}, true, nil
}

// GetMany returns every present key's object.
func (c cache) GetMany(ctx context.Context, keys []string) (map[string]*httpcache.StoredObject, error) {
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

// Put unconditionally writes data at key, bumping its version: it reads the
// stored blob and writes the next version, or version 1 when the key is
// absent or its blob cannot be decoded.
func (c cache) Put(ctx context.Context, key string, data []byte) error {
	ctx = c.resolveCtx(ctx)

	existing, err := c.m.Get(ctx, cacheKey(key))
	if err != nil {
		return fmt.Errorf("hazelcast cache put failed for key %q: %w", key, err)
	}

	var version uint64 = 1
	if blob, ok := existing.([]byte); ok {
		if v, _, ok := decodeEntry(blob); ok {
			version = v + 1
		}
	}

	if err := c.m.Set(ctx, cacheKey(key), encodeEntry(version, data)); err != nil {
		return fmt.Errorf("hazelcast cache put failed for key %q: %w", key, err)
	}
	return nil
}

// Remove removes the response with key from the cache.
func (c cache) Remove(ctx context.Context, key string) error {
	ctx = c.resolveCtx(ctx)

	if _, err := c.m.Remove(ctx, cacheKey(key)); err != nil {
		return fmt.Errorf("hazelcast cache remove failed for key %q: %w", key, err)
	}
	return nil
}

// CompareAndSwap writes data at key only if the stored version still
// matches token. token == "" asserts the key must not currently exist,
// implemented with IMap.PutIfAbsent; otherwise it uses IMap.ReplaceIfSame
// against the exact blob a fresh read produced, so the server-side compare
// is against live state rather than a stale local copy.
func (c cache) CompareAndSwap(ctx context.Context, key, token string, data []byte) (bool, error) {
	ctx = c.resolveCtx(ctx)
	fullKey := cacheKey(key)

	if token == "" {
		old, err := c.m.PutIfAbsent(ctx, fullKey, encodeEntry(1, data))
		if err != nil {
			return false, fmt.Errorf("hazelcast cache compare-and-swap (create) failed for key %q: %w", key, err)
		}
		return old == nil, nil
	}

	version, err := strconv.ParseUint(token, 10, 64)
	if err != nil {
		return false, fmt.Errorf("hazelcast cache compare-and-swap: invalid token %q: %w", token, err)
	}

	current, err := c.m.Get(ctx, fullKey)
	if err != nil {
		return false, fmt.Errorf("hazelcast cache compare-and-swap failed for key %q: %w", key, err)
	}
	currentBlob, ok := current.([]byte)
	if !ok {
		return false, nil
	}
	currentVersion, _, ok := decodeEntry(currentBlob)
	if !ok || currentVersion != version {
		return false, nil
	}

	replaced, err := c.m.ReplaceIfSame(ctx, fullKey, currentBlob, encodeEntry(version+1, data))
	if err != nil {
		return false, fmt.Errorf("hazelcast cache compare-and-swap failed for key %q: %w", key, err)
	}
	return replaced, nil
}

// NewWithMap returns a new Storage with the given Hazelcast map.
func NewWithMap(m *hazelcast.Map) httpcache.Storage {
	return cache{m: m, ctx: context.Background()}
}

// NewWithMapAndContext returns a new Storage with the given Hazelcast map and context.
// Note: The provided context is used as a fallback; contexts passed to Get/Put/Remove
// take precedence.
func NewWithMapAndContext(ctx context.Context, m *hazelcast.Map) httpcache.Storage {
	return cache{m: m, ctx: ctx}
}
