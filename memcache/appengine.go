//go:build appengine

// Package memcache provides an implementation of httpcache.Storage that uses App
// Engine's memcache package to store cached responses.
//
// When not built for Google App Engine, this package will provide an
// implementation that connects to a specified memcached server.  See the
// memcache.go file in this package for details.
package memcache

import (
	"context"
	"fmt"
	"strconv"

	"appengine"
	"appengine/memcache"

	"github.com/corewell/httpcache"
)

// Cache is an implementation of httpcache.Storage that caches responses in App
// Engine's memcache.
type Cache struct {
	appengine.Context
}

// cacheKey modifies an httpcache key for use in memcache.  Specifically, it
// prefixes keys to avoid collision with other data stored in memcache.
func cacheKey(key string) string {
	return "httpcache:" + key
}

// Get returns the response corresponding to key if present.
// The ctx parameter is accepted for interface compliance but not used;
// App Engine memcache uses its own context mechanism.
func (c *Cache) Get(_ context.Context, key string) (*httpcache.StoredObject, bool, error) {
	item, err := memcache.Get(c.Context, cacheKey(key))
	if err != nil {
		if err == memcache.ErrCacheMiss {
			return nil, false, nil
		}
		c.Context.Errorf("error getting cached response: %v", err)
		return nil, false, err
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
// The ctx parameter is accepted for interface compliance but not used;
// App Engine memcache uses its own context mechanism.
func (c *Cache) Put(_ context.Context, key string, resp []byte) error {
	item := &memcache.Item{
		Key:   cacheKey(key),
		Value: resp,
	}
	if err := memcache.Set(c.Context, item); err != nil {
		c.Context.Errorf("error caching response: %v", err)
		return err
	}
	return nil
}

// Remove removes the response with key from the cache.
// The ctx parameter is accepted for interface compliance but not used;
// App Engine memcache uses its own context mechanism.
func (c *Cache) Remove(_ context.Context, key string) error {
	if err := memcache.Delete(c.Context, cacheKey(key)); err != nil {
		if err == memcache.ErrCacheMiss {
			return nil // Not an error if key doesn't exist
		}
		c.Context.Errorf("error deleting cached response: %v", err)
		return err
	}
	return nil
}

// CompareAndSwap writes resp at key only if the stored CAS identifier still
// matches token. token == "" asserts the key must not currently exist.
func (c *Cache) CompareAndSwap(_ context.Context, key, token string, resp []byte) (bool, error) {
	fullKey := cacheKey(key)

	if token == "" {
		item := &memcache.Item{Key: fullKey, Value: resp}
		if err := memcache.Add(c.Context, item); err != nil {
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
	if err := memcache.CompareAndSwap(c.Context, item); err != nil {
		if err == memcache.ErrCASConflict || err == memcache.ErrNotStored || err == memcache.ErrCacheMiss {
			return false, nil
		}
		return false, fmt.Errorf("memcache compare-and-swap failed for key %q: %w", key, err)
	}
	return true, nil
}

// New returns a new Cache for the given context.
func New(ctx appengine.Context) *Cache {
	return &Cache{ctx}
}

var _ httpcache.Storage = (*Cache)(nil)
