// Package redis provides a Redis-backed httpcache.Storage implementation.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/corewell/httpcache"
)

// Config holds the configuration for creating a Redis cache.
type Config struct {
	// Address is the Redis server address (e.g., "localhost:6379").
	// Required field.
	Address string

	// Password is the Redis password for authentication.
	// Optional - leave empty if no authentication is required.
	Password string

	// DB is the Redis database number to use.
	// Optional - defaults to 0.
	DB int

	// PoolSize is the maximum number of socket connections.
	// Optional - defaults to 10.
	PoolSize int

	// MaxRetries is the maximum number of retries for a command before
	// giving up. Optional - defaults to 3.
	MaxRetries int

	// DialTimeout is the timeout for establishing new connections.
	// Optional - defaults to 5 seconds.
	DialTimeout time.Duration

	// ReadTimeout is the timeout for socket reads.
	// Optional - defaults to 5 seconds.
	ReadTimeout time.Duration

	// WriteTimeout is the timeout for socket writes.
	// Optional - defaults to 5 seconds.
	WriteTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DB:           0,
		PoolSize:     10,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// cache is an implementation of httpcache.Storage that stores entries in
// Redis. CAS is implemented with a Lua script so the read-compare-write
// cycle is atomic on the server rather than requiring a client-side WATCH
// transaction.
type cache struct {
	client *redis.Client
}

// cacheKey prefixes keys to avoid collision with other data stored in redis.
func cacheKey(key string) string {
	return "rediscache:" + key
}

// tokenKey holds the CAS token (an opaque version counter) alongside the
// data key, as a separate Redis key sharing the same prefix.
func tokenKey(key string) string {
	return "rediscache:" + key + ":token"
}

// New creates a new Storage backed by a Redis connection pool.
func New(config Config) (httpcache.Storage, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	defaults := DefaultConfig()
	if config.PoolSize == 0 {
		config.PoolSize = defaults.PoolSize
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = defaults.DialTimeout
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &cache{client: client}, nil
}

// NewWithClient returns a new Storage using the given redis client.
// The caller retains ownership of the client's lifecycle.
func NewWithClient(client *redis.Client) httpcache.Storage {
	return &cache{client: client}
}

// Get returns the response corresponding to key if present.
func (c *cache) Get(ctx context.Context, key string) (*httpcache.StoredObject, bool, error) {
	pipe := c.client.Pipeline()
	dataCmd := pipe.Get(ctx, cacheKey(key))
	tokenCmd := pipe.Get(ctx, tokenKey(key))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, fmt.Errorf("redis cache get failed for key %q: %w", key, err)
	}

	data, err := dataCmd.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis cache get failed for key %q: %w", key, err)
	}
	token, err := tokenCmd.Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, fmt.Errorf("redis cache get token failed for key %q: %w", key, err)
	}
	return &httpcache.StoredObject{Data: data, Token: token}, true, nil
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

// setScript writes data and bumps the token atomically.
var setScript = redis.NewScript(`
redis.call("SET", KEYS[1], ARGV[1])
local token = redis.call("INCR", KEYS[2])
return tostring(token)
`)

// Put unconditionally writes data at key, bumping its CAS token.
func (c *cache) Put(ctx context.Context, key string, data []byte) error {
	if err := setScript.Run(ctx, c.client, []string{cacheKey(key), tokenKey(key)}, data).Err(); err != nil {
		return fmt.Errorf("redis cache set failed for key %q: %w", key, err)
	}
	return nil
}

// Remove removes the response with key from the cache.
func (c *cache) Remove(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, cacheKey(key), tokenKey(key)).Err(); err != nil {
		return fmt.Errorf("redis cache delete failed for key %q: %w", key, err)
	}
	return nil
}

// casScript enforces the CAS contract atomically: token == "" requires the
// key be absent; otherwise the stored token must match ARGV[2] exactly.
var casScript = redis.NewScript(`
local exists = redis.call("EXISTS", KEYS[1])
local wantToken = ARGV[2]
if wantToken == "" then
  if exists == 1 then
    return 0
  end
else
  local current = redis.call("GET", KEYS[2])
  if current ~= wantToken then
    return 0
  end
end
redis.call("SET", KEYS[1], ARGV[1])
redis.call("INCR", KEYS[2])
return 1
`)

// CompareAndSwap writes data at key only if the stored token still matches.
func (c *cache) CompareAndSwap(ctx context.Context, key, token string, data []byte) (bool, error) {
	result, err := casScript.Run(ctx, c.client, []string{cacheKey(key), tokenKey(key)}, data, token).Int()
	if err != nil {
		return false, fmt.Errorf("redis cache compare-and-swap failed for key %q: %w", key, err)
	}
	return result == 1, nil
}

// Close closes the underlying client.
func (c *cache) Close() error {
	return c.client.Close()
}
