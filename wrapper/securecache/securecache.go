// Package securecache provides a security wrapper for httpcache.Storage
// implementations. It adds SHA-256 key hashing (always enabled) and
// optional AES-256-GCM encryption for cached data.
package securecache

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/corewell/httpcache"
	"golang.org/x/crypto/scrypt"
)

const (
	// scryptN is the CPU/memory cost parameter for scrypt key derivation
	scryptN = 32768
	// scryptR is the block size parameter for scrypt
	scryptR = 8
	// scryptP is the parallelization parameter for scrypt
	scryptP = 1
	// keyLength is the desired key length for AES-256
	keyLength = 32
	// nonceSize is the size of the GCM nonce
	nonceSize = 12
)

// SecureCache wraps an existing Storage implementation to add security
// features:
//   - SHA-256 hashing of all cache keys (always enabled)
//   - Optional AES-256-GCM encryption of cached data (when passphrase is provided)
//
// CAS tokens are passed through unmodified: they are opaque and
// backend-specific, and hashing or encrypting them would only break the
// wrapped backend's own comparison logic.
type SecureCache struct {
	storage    httpcache.Storage
	gcm        cipher.AEAD
	passphrase string
}

// Config holds the configuration for creating a SecureCache.
type Config struct {
	// Storage is the underlying backend to wrap.
	Storage httpcache.Storage

	// Passphrase is the secret used to encrypt/decrypt cached data.
	// If empty, only key hashing is performed (no encryption).
	// Must be kept secret and consistent across application restarts.
	Passphrase string
}

// New creates a new SecureCache that wraps the provided storage.
// Keys are always hashed with SHA-256.
// If a passphrase is provided, cached data is encrypted with AES-256-GCM.
func New(config Config) (*SecureCache, error) {
	if config.Storage == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}

	sc := &SecureCache{
		storage:    config.Storage,
		passphrase: config.Passphrase,
	}

	if config.Passphrase != "" {
		if err := sc.initEncryption(); err != nil {
			return nil, fmt.Errorf("failed to initialize encryption: %w", err)
		}
	}

	return sc, nil
}

// initEncryption initializes the AES-256-GCM cipher using the passphrase.
func (sc *SecureCache) initEncryption() error {
	// Derive a 32-byte key from the passphrase using scrypt
	// Using a fixed salt here - in production, consider storing a random salt
	salt := sha256.Sum256([]byte("httpcache-securecache-salt-v1"))
	key, err := scrypt.Key([]byte(sc.passphrase), salt[:], scryptN, scryptR, scryptP, keyLength)
	if err != nil {
		return fmt.Errorf("failed to derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %w", err)
	}

	sc.gcm = gcm
	return nil
}

// hashKey converts a cache key to its SHA-256 hash representation.
func (sc *SecureCache) hashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// encrypt encrypts data using AES-256-GCM, prepending a random nonce.
func (sc *SecureCache) encrypt(data []byte) ([]byte, error) {
	if sc.gcm == nil {
		return data, nil
	}

	nonce := make([]byte, sc.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// #nosec G407 -- nonce is randomly generated above using crypto/rand, not hardcoded
	ciphertext := sc.gcm.Seal(nonce, nonce, data, nil)
	return ciphertext, nil
}

// decrypt decrypts data using AES-256-GCM, expecting the nonce prepended.
func (sc *SecureCache) decrypt(data []byte) ([]byte, error) {
	if sc.gcm == nil {
		return data, nil
	}
	if len(data) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce := data[:nonceSize]
	ciphertext := data[nonceSize:]

	plaintext, err := sc.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// IsEncrypted returns true if the cache is configured with encryption.
func (sc *SecureCache) IsEncrypted() bool {
	return sc.gcm != nil
}

// Get implements httpcache.Storage.
func (sc *SecureCache) Get(ctx context.Context, key string) (*httpcache.StoredObject, bool, error) {
	hashedKey := sc.hashKey(key)
	obj, ok, err := sc.storage.Get(ctx, hashedKey)
	if err != nil || !ok {
		return nil, ok, err
	}

	plaintext, err := sc.decrypt(obj.Data)
	if err != nil {
		httpcache.GetLogger().Warn("failed to decrypt cached data", "key", hashedKey, "error", err)
		return nil, false, err
	}
	return &httpcache.StoredObject{Data: plaintext, Token: obj.Token}, true, nil
}

// GetMany implements httpcache.Storage, returning results keyed by the
// original (unhashed) keys the caller passed in.
func (sc *SecureCache) GetMany(ctx context.Context, keys []string) (map[string]*httpcache.StoredObject, error) {
	hashedToOriginal := make(map[string]string, len(keys))
	hashedKeys := make([]string, len(keys))
	for i, key := range keys {
		hashed := sc.hashKey(key)
		hashedKeys[i] = hashed
		hashedToOriginal[hashed] = key
	}

	objs, err := sc.storage.GetMany(ctx, hashedKeys)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*httpcache.StoredObject, len(objs))
	for hashed, obj := range objs {
		plaintext, err := sc.decrypt(obj.Data)
		if err != nil {
			httpcache.GetLogger().Warn("failed to decrypt cached data", "key", hashed, "error", err)
			continue
		}
		out[hashedToOriginal[hashed]] = &httpcache.StoredObject{Data: plaintext, Token: obj.Token}
	}
	return out, nil
}

// Put implements httpcache.Storage.
func (sc *SecureCache) Put(ctx context.Context, key string, data []byte) error {
	hashedKey := sc.hashKey(key)
	toStore, err := sc.encrypt(data)
	if err != nil {
		httpcache.GetLogger().Warn("failed to encrypt data", "key", hashedKey, "error", err)
		return err
	}
	return sc.storage.Put(ctx, hashedKey, toStore)
}

// Remove implements httpcache.Storage.
func (sc *SecureCache) Remove(ctx context.Context, key string) error {
	return sc.storage.Remove(ctx, sc.hashKey(key))
}

// CompareAndSwap implements httpcache.Storage. token is passed through
// unmodified since it is the wrapped backend's own opaque value.
func (sc *SecureCache) CompareAndSwap(ctx context.Context, key, token string, data []byte) (bool, error) {
	hashedKey := sc.hashKey(key)
	toStore, err := sc.encrypt(data)
	if err != nil {
		httpcache.GetLogger().Warn("failed to encrypt data", "key", hashedKey, "error", err)
		return false, err
	}
	return sc.storage.CompareAndSwap(ctx, hashedKey, token, toStore)
}
