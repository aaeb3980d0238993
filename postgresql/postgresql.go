// Package postgresql provides a PostgreSQL interface for HTTP caching.
package postgresql

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/corewell/httpcache"
)

var (
	// ErrNilPool is returned when a nil pool is provided
	ErrNilPool = errors.New("postgresql: pool cannot be nil")
	// ErrNilConn is returned when a nil connection is provided
	ErrNilConn = errors.New("postgresql: connection cannot be nil")
)

const (
	// DefaultTableName is the default table name for cache storage
	DefaultTableName = "httpcache"
	// DefaultKeyPrefix is the default prefix for cache keys
	DefaultKeyPrefix = "cache:"
)

// Cache is an implementation of httpcache.Storage that stores responses in
// PostgreSQL. CAS is implemented with a `version` column: every write
// increments it, and CompareAndSwap conditions its UPDATE on the caller's
// last-observed version.
type Cache struct {
	pool      *pgxpool.Pool
	conn      *pgx.Conn
	tableName string
	keyPrefix string
	timeout   time.Duration
}

// Config holds the configuration for the PostgreSQL cache.
type Config struct {
	// TableName is the name of the table to store cache entries (default: "httpcache")
	TableName string
	// KeyPrefix is the prefix to add to all cache keys (default: "cache:")
	KeyPrefix string
	// Timeout is the maximum time to wait for database operations (default: 5s)
	Timeout time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		TableName: DefaultTableName,
		KeyPrefix: DefaultKeyPrefix,
		Timeout:   5 * time.Second,
	}
}

// cacheKey returns the full cache key with prefix.
func (c *Cache) cacheKey(key string) string {
	return c.keyPrefix + key
}

func (c *Cache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Get returns the response corresponding to key if present.
func (c *Cache) Get(ctx context.Context, key string) (*httpcache.StoredObject, bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var data []byte
	var version int64

	query := `SELECT data, version FROM ` + c.tableName + ` WHERE key = $1`

	var err error
	if c.pool != nil {
		err = c.pool.QueryRow(ctx, query, c.cacheKey(key)).Scan(&data, &version)
	} else {
		err = c.conn.QueryRow(ctx, query, c.cacheKey(key)).Scan(&data, &version)
	}

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("postgresql cache get failed for key %q: %w", key, err)
	}

	return &httpcache.StoredObject{Data: data, Token: strconv.FormatInt(version, 10)}, true, nil
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

// Put unconditionally writes data at key, bumping its version.
func (c *Cache) Put(ctx context.Context, key string, data []byte) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO ` + c.tableName + ` (key, data, created_at, version)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (key) DO UPDATE SET data = $2, created_at = $3, version = ` + c.tableName + `.version + 1
	`

	var err error
	if c.pool != nil {
		_, err = c.pool.Exec(ctx, query, c.cacheKey(key), data, time.Now())
	} else {
		_, err = c.conn.Exec(ctx, query, c.cacheKey(key), data, time.Now())
	}

	if err != nil {
		return fmt.Errorf("postgresql cache set failed for key %q: %w", key, err)
	}
	return nil
}

// Remove removes the response with key from the cache.
func (c *Cache) Remove(ctx context.Context, key string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	query := `DELETE FROM ` + c.tableName + ` WHERE key = $1`

	var err error
	if c.pool != nil {
		_, err = c.pool.Exec(ctx, query, c.cacheKey(key))
	} else {
		_, err = c.conn.Exec(ctx, query, c.cacheKey(key))
	}

	if err != nil {
		return fmt.Errorf("postgresql cache delete failed for key %q: %w", key, err)
	}
	return nil
}

// CompareAndSwap writes data at key only if the row's current version still
// matches token. token == "" asserts the key must not currently exist.
func (c *Cache) CompareAndSwap(ctx context.Context, key, token string, data []byte) (bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	fullKey := c.cacheKey(key)

	if token == "" {
		query := `
			INSERT INTO ` + c.tableName + ` (key, data, created_at, version)
			VALUES ($1, $2, $3, 1)
			ON CONFLICT (key) DO NOTHING
		`
		var tag interface{ RowsAffected() int64 }
		var err error
		if c.pool != nil {
			tag, err = c.pool.Exec(ctx, query, fullKey, data, time.Now())
		} else {
			tag, err = c.conn.Exec(ctx, query, fullKey, data, time.Now())
		}
		if err != nil {
			return false, fmt.Errorf("postgresql cache compare-and-swap (create) failed for key %q: %w", key, err)
		}
		return tag.RowsAffected() == 1, nil
	}

	version, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return false, fmt.Errorf("postgresql cache compare-and-swap: invalid token %q: %w", token, err)
	}

	query := `UPDATE ` + c.tableName + ` SET data = $1, created_at = $2, version = version + 1 WHERE key = $3 AND version = $4`
	var tag interface{ RowsAffected() int64 }
	if c.pool != nil {
		tag, err = c.pool.Exec(ctx, query, data, time.Now(), fullKey, version)
	} else {
		tag, err = c.conn.Exec(ctx, query, data, time.Now(), fullKey, version)
	}
	if err != nil {
		return false, fmt.Errorf("postgresql cache compare-and-swap failed for key %q: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

// CreateTable creates the cache table if it doesn't exist.
func (c *Cache) CreateTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS ` + c.tableName + ` (
			key TEXT PRIMARY KEY,
			data BYTEA NOT NULL,
			created_at TIMESTAMP NOT NULL,
			version BIGINT NOT NULL DEFAULT 1
		)
	`

	var err error
	if c.pool != nil {
		_, err = c.pool.Exec(ctx, query)
	} else {
		_, err = c.conn.Exec(ctx, query)
	}
	if err != nil {
		return err
	}

	// Ensure the version column exists for users upgrading from older schemas.
	alter := `ALTER TABLE ` + c.tableName + ` ADD COLUMN IF NOT EXISTS version BIGINT NOT NULL DEFAULT 1`
	if c.pool != nil {
		_, err = c.pool.Exec(ctx, alter)
	} else {
		_, err = c.conn.Exec(ctx, alter)
	}
	return err
}

// Close closes the connection pool or connection.
func (c *Cache) Close() {
	if c.pool != nil {
		c.pool.Close()
	} else if c.conn != nil {
		c.conn.Close(context.Background()) //nolint:errcheck // best effort cleanup
	}
}

// NewWithPool returns a new Cache using the provided connection pool.
func NewWithPool(pool *pgxpool.Pool, config *Config) (*Cache, error) {
	if pool == nil {
		return nil, ErrNilPool
	}

	if config == nil {
		config = DefaultConfig()
	}

	return &Cache{
		pool:      pool,
		tableName: config.TableName,
		keyPrefix: config.KeyPrefix,
		timeout:   config.Timeout,
	}, nil
}

// NewWithConn returns a new Cache using the provided connection.
func NewWithConn(conn *pgx.Conn, config *Config) (*Cache, error) {
	if conn == nil {
		return nil, ErrNilConn
	}

	if config == nil {
		config = DefaultConfig()
	}

	return &Cache{
		conn:      conn,
		tableName: config.TableName,
		keyPrefix: config.KeyPrefix,
		timeout:   config.Timeout,
	}, nil
}

// New creates a new Cache with a connection pool from the given connection string.
func New(ctx context.Context, connString string, config *Config) (*Cache, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}

	if config == nil {
		config = DefaultConfig()
	}

	cache := &Cache{
		pool:      pool,
		tableName: config.TableName,
		keyPrefix: config.KeyPrefix,
		timeout:   config.Timeout,
	}

	if err := cache.CreateTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return cache, nil
}

var _ httpcache.Storage = (*Cache)(nil)
