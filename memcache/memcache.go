//go:build !appengine

// Package memcache provides an implementation of httpcache.Storage that uses
// gomemcache to store cached responses.
//
// When built for Google App Engine, this package will provide an
// implementation that uses App Engine's memcache service.  See the
// appengine.go file in this package for details.
package memcache

import (
	"context"
	"fmt"
	"strconv"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/corewell/httpcache"
)

// Cache is an implementation of httpcache.Storage that caches responses in a
// memcache server. memcache's native CAS identifier (populated on every Get)
// is used directly as the token.
type Cache struct {
	*memcache.Client
}

// cacheKey modifies an httpcache key for use in memcache.  Specifically, it
// prefixes keys to avoid collision with other data stored in memcache.
func cacheKey(key string) string {
	return "httpcache:" + key
}

// Get returns the response corresponding to key if present.
// The context parameter is accepted for interface compliance but not used
// for memcache operations due to library limitations.
func (c *Cache) Get(_ context.Context, key string) (*httpcache.StoredObject, bool, error) {
	item, err := c.Client.Get(cacheKey(key))
	if err != nil {
		if err == memcache.ErrCacheMiss {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("memcache get failed for key %q: %w", key, err)
	}
	return &httpcache.StoredObject{Data: item.Value, Token: strconv.FormatUint(item.CasID, 10)}, true, nil
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

// Put saves a response to the cache as key, overwriting any existing entry.
// The context parameter is accepted for interface compliance but not used
// for memcache operations due to library limitations.
func (c *Cache) Put(_ context.Context, key string, resp []byte) error {
	item := &memcache.Item{
		Key:   cacheKey(key),
		Value: resp,
	}
	if err := c.Client.Set(item); err != nil {
		return fmt.Errorf("memcache put failed for key %q: %w", key, err)
	}
	return nil
}

// Remove removes the response with key from the cache.
// The context parameter is accepted for interface compliance but not used
// for memcache operations due to library limitations.
func (c *Cache) Remove(_ context.Context, key string) error {
	if err := c.Client.Delete(cacheKey(key)); err != nil {
		if err == memcache.ErrCacheMiss {
			return nil
		}
		return fmt.Errorf("memcache remove failed for key %q: %w", key, err)
	}
	return nil
}

// CompareAndSwap writes resp at key only if the stored CAS identifier still
// matches token. token == "" asserts the key must not currently exist,
// implemented with memcache's Add. The context parameter is accepted for
// interface compliance but not used for memcache operations due to library
// limitations.
func (c *Cache) CompareAndSwap(_ context.Context, key, token string, resp []byte) (bool, error) {
	fullKey := cacheKey(key)

	if token == "" {
		item := &memcache.Item{Key: fullKey, Value: resp}
		if err := c.Client.Add(item); err != nil {
			if err == memcache.ErrNotStored {
				return false, nil
			}
			return false, fmt.Errorf("memcache compare-and-swap (add) failed for key %q: %w", key, err)
		}
		return true, nil
	}

	casID, err := strconv.ParseUint(token, 10, 64)
	if err != nil {
		return false, fmt.Errorf("memcache compare-and-swap: invalid token %q: %w", token, err)
	}

	item := &memcache.Item{Key: fullKey, Value: resp, CasID: casID}
	if err := c.Client.CompareAndSwap(item); err != nil {
		if err == memcache.ErrCASConflict || err == memcache.ErrNotStored || err == memcache.ErrCacheMiss {
			return false, nil
		}
		return false, fmt.Errorf("memcache compare-and-swap failed for key %q: %w", key, err)
	}
	return true, nil
}

// New returns a new Cache using the provided memcache server(s) with equal
// weight. If a server is listed multiple times, it gets a proportional amount
// of weight.
func New(server ...string) *Cache {
	return NewWithClient(memcache.New(server...))
}

// NewWithClient returns a new Cache with the given memcache client.
func NewWithClient(client *memcache.Client) *Cache {
	return &Cache{client}
}

var _ httpcache.Storage = (*Cache)(nil)
