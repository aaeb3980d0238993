// Package mongodb provides a MongoDB interface for http caching.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/corewell/httpcache"
)

// Config holds the configuration for creating a MongoDB cache.
type Config struct {
	// URI is the MongoDB connection URI (e.g., "mongodb://localhost:27017").
	// Required field.
	URI string

	// Database is the name of the database to use for caching.
	// Required field.
	Database string

	// Collection is the name of the collection to use for caching.
	// Optional - defaults to "httpcache".
	Collection string

	// KeyPrefix is a prefix to add to all cache keys.
	// Optional - defaults to "cache:".
	KeyPrefix string

	// Timeout is the timeout for database operations.
	// Optional - defaults to 5 seconds.
	Timeout time.Duration

	// TTL is the time-to-live for cache entries.
	// Optional - if set, creates a TTL index on the createdAt field.
	TTL time.Duration

	// ClientOptions are additional options to pass to mongo.Connect.
	// Optional.
	ClientOptions *options.ClientOptions
}

// cacheEntry represents a cache entry in MongoDB. Version is bumped on
// every write and doubles as the CAS token.
type cacheEntry struct {
	Key       string    `bson:"_id"`
	Data      []byte    `bson:"data"`
	CreatedAt time.Time `bson:"createdAt"`
	Version   int64     `bson:"version"`
}

// cache is an implementation of httpcache.Storage that caches responses in
// MongoDB.
type cache struct {
	client     *mongo.Client
	collection *mongo.Collection
	keyPrefix  string
	timeout    time.Duration
}

// cacheKey adds the configured prefix to the key.
func (c cache) cacheKey(key string) string {
	return c.keyPrefix + key
}

func tokenFor(version int64) string {
	return fmt.Sprintf("%d", version)
}

// Get returns the response corresponding to key if present.
func (c cache) Get(ctx context.Context, key string) (*httpcache.StoredObject, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var entry cacheEntry
	err := c.collection.FindOne(ctx, bson.M{"_id": c.cacheKey(key)}).Decode(&entry)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("mongodb cache get failed for key %q: %w", key, err)
	}

	return &httpcache.StoredObject{Data: entry.Data, Token: tokenFor(entry.Version)}, true, nil
}

// GetMany returns every present key's object.
func (c cache) GetMany(ctx context.Context, keys []string) (map[string]*httpcache.StoredObject, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	fullKeys := make([]string, len(keys))
	fullToOriginal := make(map[string]string, len(keys))
	for i, key := range keys {
		fullKeys[i] = c.cacheKey(key)
		fullToOriginal[fullKeys[i]] = key
	}

	cursor, err := c.collection.Find(ctx, bson.M{"_id": bson.M{"$in": fullKeys}})
	if err != nil {
		return nil, fmt.Errorf("mongodb cache get-many failed: %w", err)
	}
	defer cursor.Close(ctx) //nolint:errcheck // best effort cleanup

	out := make(map[string]*httpcache.StoredObject, len(keys))
	for cursor.Next(ctx) {
		var entry cacheEntry
		if err := cursor.Decode(&entry); err != nil {
			return nil, fmt.Errorf("mongodb cache get-many decode failed: %w", err)
		}
		out[fullToOriginal[entry.Key]] = &httpcache.StoredObject{Data: entry.Data, Token: tokenFor(entry.Version)}
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("mongodb cache get-many cursor failed: %w", err)
	}
	return out, nil
}

// Put unconditionally writes data at key, bumping its version.
func (c cache) Put(ctx context.Context, key string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	fullKey := c.cacheKey(key)
	update := bson.M{
		"$set": bson.M{"data": data, "createdAt": time.Now()},
		"$inc": bson.M{"version": int64(1)},
	}
	opts := options.Update().SetUpsert(true)
	_, err := c.collection.UpdateOne(ctx, bson.M{"_id": fullKey}, update, opts)
	if err != nil {
		return fmt.Errorf("mongodb cache set failed for key %q: %w", key, err)
	}
	return nil
}

// Remove removes the response with key from the cache.
func (c cache) Remove(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.collection.DeleteOne(ctx, bson.M{"_id": c.cacheKey(key)})
	if err != nil {
		return fmt.Errorf("mongodb cache delete failed for key %q: %w", key, err)
	}
	return nil
}

// CompareAndSwap writes data at key only if the stored version still
// matches token. token == "" asserts the key must not currently exist.
func (c cache) CompareAndSwap(ctx context.Context, key, token string, data []byte) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	fullKey := c.cacheKey(key)

	if token == "" {
		entry := cacheEntry{Key: fullKey, Data: data, CreatedAt: time.Now(), Version: 1}
		_, err := c.collection.InsertOne(ctx, entry)
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return false, nil
			}
			return false, fmt.Errorf("mongodb cache compare-and-swap (create) failed for key %q: %w", key, err)
		}
		return true, nil
	}

	var version int64
	if _, err := fmt.Sscanf(token, "%d", &version); err != nil {
		return false, fmt.Errorf("mongodb cache compare-and-swap: invalid token %q: %w", token, err)
	}

	filter := bson.M{"_id": fullKey, "version": version}
	update := bson.M{
		"$set": bson.M{"data": data, "createdAt": time.Now()},
		"$inc": bson.M{"version": int64(1)},
	}

	result := c.collection.FindOneAndUpdate(ctx, filter, update, options.FindOneAndUpdate().SetReturnDocument(options.Before))
	var previous cacheEntry
	if err := result.Decode(&previous); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, fmt.Errorf("mongodb cache compare-and-swap failed for key %q: %w", key, err)
	}
	return true, nil
}

// Close disconnects from MongoDB.
// This method should be called when done to properly clean up resources.
func (c cache) Close() error {
	if c.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		return c.client.Disconnect(ctx)
	}
	return nil
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Collection: "httpcache",
		KeyPrefix:  "cache:",
		Timeout:    5 * time.Second,
	}
}

// New creates a new Storage with the given configuration.
// It establishes a connection to MongoDB and creates the necessary indexes.
// The caller should call Close() on the returned cache when done to clean up resources.
func New(ctx context.Context, config Config) (httpcache.Storage, error) {
	if config.URI == "" {
		return nil, fmt.Errorf("MongoDB URI is required")
	}
	if config.Database == "" {
		return nil, fmt.Errorf("database name is required")
	}

	if config.Collection == "" {
		config.Collection = DefaultConfig().Collection
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultConfig().KeyPrefix
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	clientOpts := options.Client().ApplyURI(config.URI)
	if config.ClientOptions != nil {
		clientOpts = config.ClientOptions.ApplyURI(config.URI)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, config.Timeout)
	defer pingCancel()

	if err := client.Ping(pingCtx, nil); err != nil {
		if disconnectErr := client.Disconnect(ctx); disconnectErr != nil {
			httpcache.GetLogger().Warn("failed to disconnect client after ping error", "error", disconnectErr)
		}
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	collection := client.Database(config.Database).Collection(config.Collection)

	c := cache{
		client:     client,
		collection: collection,
		keyPrefix:  config.KeyPrefix,
		timeout:    config.Timeout,
	}

	if config.TTL > 0 {
		if err := c.createTTLIndex(ctx, config.TTL); err != nil {
			if disconnectErr := client.Disconnect(ctx); disconnectErr != nil {
				httpcache.GetLogger().Warn("failed to disconnect client after TTL index error", "error", disconnectErr)
			}
			return nil, fmt.Errorf("failed to create TTL index: %w", err)
		}
	}

	return c, nil
}

// NewWithClient returns a new Storage with the given MongoDB client.
// This constructor is useful when you want to manage the MongoDB connection yourself.
// The returned cache will not close the MongoDB client when Close() is called.
func NewWithClient(client *mongo.Client, database, collection string, config Config) (httpcache.Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("MongoDB client is required")
	}
	if database == "" {
		return nil, fmt.Errorf("database name is required")
	}

	if collection == "" {
		collection = DefaultConfig().Collection
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultConfig().KeyPrefix
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	return cache{
		client:     nil, // Don't store client to prevent closing it
		collection: client.Database(database).Collection(collection),
		keyPrefix:  config.KeyPrefix,
		timeout:    config.Timeout,
	}, nil
}

// createTTLIndex creates a TTL index on the createdAt field.
func (c cache) createTTLIndex(ctx context.Context, ttl time.Duration) error {
	indexModel := mongo.IndexModel{
		Keys: bson.D{{Key: "createdAt", Value: 1}},
		Options: options.Index().
			SetExpireAfterSeconds(int32(ttl.Seconds())).
			SetName("httpcache_ttl"),
	}

	indexCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.collection.Indexes().CreateOne(indexCtx, indexModel)
	return err
}
