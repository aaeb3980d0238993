// Package natskv provides a NATS JetStream Key/Value store interface for http caching.
package natskv

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/corewell/httpcache"
)

// Config holds the configuration for creating a NATS K/V cache.
type Config struct {
	// NATSUrl is the URL of the NATS server (e.g., "nats://localhost:4222").
	// If empty, defaults to nats.DefaultURL.
	NATSUrl string

	// Bucket is the name of the K/V bucket to use for caching.
	// Required field.
	Bucket string

	// Description is an optional description for the K/V bucket.
	Description string

	// TTL is the time-to-live for cache entries.
	// If zero, entries don't expire (unless deleted by NATS based on other policies).
	TTL time.Duration

	// NATSOptions are additional options to pass to nats.Connect.
	// Optional.
	NATSOptions []nats.Option
}

// cache is an implementation of httpcache.Storage that caches responses in a
// NATS JetStream Key/Value store. JetStream KV keys carry a monotonic
// revision number; that revision is used directly as the CAS token.
type cache struct {
	kv jetstream.KeyValue
	nc *nats.Conn
}

// cacheKey modifies an httpcache key for use in NATS K/V. Specifically, it
// prefixes keys to avoid collision with other data stored in the bucket.
// NATS K/V keys must not contain certain characters like ':'.
func cacheKey(key string) string {
	return "httpcache." + key
}

// Get returns the response corresponding to key if present.
func (c cache) Get(ctx context.Context, key string) (*httpcache.StoredObject, bool, error) {
	entry, err := c.kv.Get(ctx, cacheKey(key))
	if err != nil {
		if err == jetstream.ErrKeyNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &httpcache.StoredObject{Data: entry.Value(), Token: strconv.FormatUint(entry.Revision(), 10)}, true, nil
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

// Put unconditionally writes data at key.
func (c cache) Put(ctx context.Context, key string, data []byte) error {
	if _, err := c.kv.Put(ctx, cacheKey(key), data); err != nil {
		httpcache.GetLogger().Warn("failed to write to NATS K/V cache", "key", key, "error", err)
		return err
	}
	return nil
}

// Remove removes the response with key from the cache.
func (c cache) Remove(ctx context.Context, key string) error {
	if err := c.kv.Delete(ctx, cacheKey(key)); err != nil {
		if err != jetstream.ErrKeyNotFound {
			httpcache.GetLogger().Warn("failed to delete from NATS K/V cache", "key", key, "error", err)
			return err
		}
	}
	return nil
}

// CompareAndSwap writes data at key only if the stored revision still
// matches token. token == "" asserts the key must not currently exist,
// implemented with JetStream's native Create.
func (c cache) CompareAndSwap(ctx context.Context, key, token string, data []byte) (bool, error) {
	fullKey := cacheKey(key)

	if token == "" {
		if _, err := c.kv.Create(ctx, fullKey, data); err != nil {
			if err == jetstream.ErrKeyExists {
				return false, nil
			}
			return false, fmt.Errorf("natskv compare-and-swap (create) failed for key %q: %w", key, err)
		}
		return true, nil
	}

	revision, err := strconv.ParseUint(token, 10, 64)
	if err != nil {
		return false, fmt.Errorf("natskv compare-and-swap: invalid token %q: %w", token, err)
	}

	if _, err := c.kv.Update(ctx, fullKey, data, revision); err != nil {
		if err == jetstream.ErrKeyExists || err == jetstream.ErrKeyNotFound {
			return false, nil
		}
		return false, fmt.Errorf("natskv compare-and-swap failed for key %q: %w", key, err)
	}
	return true, nil
}

// Close closes the underlying NATS connection if it was created by New().
// This method should be called when using New() to properly clean up resources.
// It's a no-op when using NewWithKeyValue().
func (c cache) Close() error {
	if c.nc != nil {
		c.nc.Close()
	}
	return nil
}

// New creates a new Storage with the given configuration.
// It establishes a connection to NATS, creates a JetStream context,
// and creates or updates the K/V bucket according to the configuration.
// The caller should call Close() on the returned cache when done to clean up resources.
func New(ctx context.Context, config Config) (httpcache.Storage, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	url := config.NATSUrl
	if url == "" {
		url = nats.DefaultURL
	}

	nc, err := nats.Connect(url, config.NATSOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	kvConfig := jetstream.KeyValueConfig{
		Bucket:      config.Bucket,
		Description: config.Description,
		TTL:         config.TTL,
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, kvConfig)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create or update K/V bucket: %w", err)
	}

	return cache{kv: kv, nc: nc}, nil
}

// NewWithKeyValue returns a new Storage with the given NATS JetStream KeyValue store.
// This constructor is useful when you want to manage the NATS connection yourself.
// The returned cache will not close the NATS connection when Close() is called.
func NewWithKeyValue(kv jetstream.KeyValue) httpcache.Storage {
	return cache{kv: kv, nc: nil}
}
