package securecache

import (
	"bytes"
	"context"
	"testing"

	"github.com/corewell/httpcache"
)

// TestNewSecureCache tests the creation of a SecureCache.
func TestNewSecureCache(t *testing.T) {
	storage := httpcache.NewMemoryCache()

	sc, err := New(Config{Storage: storage})
	if err != nil {
		t.Fatalf("New() without encryption failed: %v", err)
	}
	if sc.IsEncrypted() {
		t.Error("Expected IsEncrypted() to be false")
	}

	scEncrypted, err := New(Config{
		Storage:    storage,
		Passphrase: "test-passphrase-123",
	})
	if err != nil {
		t.Fatalf("New() with encryption failed: %v", err)
	}
	if !scEncrypted.IsEncrypted() {
		t.Error("Expected IsEncrypted() to be true")
	}
}

// TestNewSecureCacheNilStorage tests that New() fails with nil storage.
func TestNewSecureCacheNilStorage(t *testing.T) {
	_, err := New(Config{Storage: nil})
	if err == nil {
		t.Error("Expected error when storage is nil")
	}
}

// TestKeyHashing tests that keys are always hashed.
func TestKeyHashing(t *testing.T) {
	ctx := context.Background()
	storage := httpcache.NewMemoryCache()
	sc, err := New(Config{Storage: storage})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	key := "test-key"
	value := []byte("test-value")

	if err := sc.Put(ctx, key, value); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	hashedKey := sc.hashKey(key)
	if _, ok, _ := storage.Get(ctx, hashedKey); !ok {
		t.Error("Expected hashed key to exist in underlying storage")
	}
	if _, ok, _ := storage.Get(ctx, key); ok {
		t.Error("Original key should not exist in underlying storage")
	}

	obj, ok, err := sc.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !ok {
		t.Error("Get() should return true for existing key")
	}
	if !bytes.Equal(obj.Data, value) {
		t.Errorf("Get() = %s, want %s", obj.Data, value)
	}
}

// TestEncryptionDecryption tests encryption and decryption of data.
func TestEncryptionDecryption(t *testing.T) {
	ctx := context.Background()
	storage := httpcache.NewMemoryCache()
	sc, err := New(Config{
		Storage:    storage,
		Passphrase: "secure-passphrase-456",
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	key := "encrypted-key"
	value := []byte("sensitive-data-that-should-be-encrypted")

	if err := sc.Put(ctx, key, value); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	hashedKey := sc.hashKey(key)
	stored, ok, _ := storage.Get(ctx, hashedKey)
	if !ok {
		t.Fatal("Expected data to be stored in underlying storage")
	}
	if bytes.Equal(stored.Data, value) {
		t.Error("Stored data should be encrypted (different from original)")
	}

	obj, ok, err := sc.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !ok {
		t.Error("Get() should return true for existing key")
	}
	if !bytes.Equal(obj.Data, value) {
		t.Errorf("Get() = %s, want %s", obj.Data, value)
	}
}

// TestRemove tests removal of cached data.
func TestRemove(t *testing.T) {
	ctx := context.Background()
	storage := httpcache.NewMemoryCache()
	sc, err := New(Config{Storage: storage})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	key := "delete-key"
	value := []byte("delete-value")

	_ = sc.Put(ctx, key, value)
	if _, ok, _ := sc.Get(ctx, key); !ok {
		t.Error("Expected key to exist after Put()")
	}

	_ = sc.Remove(ctx, key)

	if _, ok, _ := sc.Get(ctx, key); ok {
		t.Error("Expected key to not exist after Remove()")
	}

	hashedKey := sc.hashKey(key)
	if _, ok, _ := storage.Get(ctx, hashedKey); ok {
		t.Error("Expected hashed key to not exist in underlying storage after Remove()")
	}
}

// TestGetMany tests bulk retrieval keyed by original keys.
func TestGetMany(t *testing.T) {
	ctx := context.Background()
	storage := httpcache.NewMemoryCache()
	sc, err := New(Config{
		Storage:    storage,
		Passphrase: "multi-key-passphrase",
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	testCases := []struct {
		key   string
		value []byte
	}{
		{"key1", []byte("value1")},
		{"key2", []byte("value2-longer-data")},
		{"key3", []byte("value3-even-longer-data-with-special-chars-!@#$%")},
	}
	for _, tc := range testCases {
		_ = sc.Put(ctx, tc.key, tc.value)
	}

	got, err := sc.GetMany(ctx, []string{"key1", "key2", "key3", "missing"})
	if err != nil {
		t.Fatalf("GetMany() failed: %v", err)
	}
	if _, ok := got["missing"]; ok {
		t.Error("GetMany() should not return an entry for a missing key")
	}
	for _, tc := range testCases {
		obj, ok := got[tc.key]
		if !ok {
			t.Errorf("GetMany() missing %s", tc.key)
			continue
		}
		if !bytes.Equal(obj.Data, tc.value) {
			t.Errorf("GetMany(%s) = %s, want %s", tc.key, obj.Data, tc.value)
		}
	}
}

// TestCompareAndSwap tests that CAS tokens pass through to the backend.
func TestCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	storage := httpcache.NewMemoryCache()
	sc, err := New(Config{Storage: storage, Passphrase: "cas-passphrase"})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	key := "cas-key"
	if swapped, err := sc.CompareAndSwap(ctx, key, "", []byte("first")); err != nil || !swapped {
		t.Fatalf("create-only CAS failed: swapped=%v err=%v", swapped, err)
	}

	obj, ok, err := sc.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Get() after CAS failed: ok=%v err=%v", ok, err)
	}

	if swapped, err := sc.CompareAndSwap(ctx, key, "wrong-token", []byte("second")); err != nil || swapped {
		t.Fatalf("CAS with stale token should fail: swapped=%v err=%v", swapped, err)
	}

	if swapped, err := sc.CompareAndSwap(ctx, key, obj.Token, []byte("second")); err != nil || !swapped {
		t.Fatalf("CAS with current token should succeed: swapped=%v err=%v", swapped, err)
	}
}

// TestEmptyValue tests handling of empty values.
func TestEmptyValue(t *testing.T) {
	ctx := context.Background()
	storage := httpcache.NewMemoryCache()
	sc, err := New(Config{
		Storage:    storage,
		Passphrase: "empty-test-passphrase",
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	key := "empty-key"
	value := []byte("")

	_ = sc.Put(ctx, key, value)

	obj, ok, _ := sc.Get(ctx, key)
	if !ok {
		t.Error("Get() should return true for empty value")
	}
	if !bytes.Equal(obj.Data, value) {
		t.Errorf("Get() = %v, want empty slice", obj.Data)
	}
}

// TestLargeValue tests handling of large values.
func TestLargeValue(t *testing.T) {
	ctx := context.Background()
	storage := httpcache.NewMemoryCache()
	sc, err := New(Config{
		Storage:    storage,
		Passphrase: "large-value-passphrase",
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	key := "large-key"
	value := make([]byte, 1024*1024)
	for i := range value {
		value[i] = byte(i % 256)
	}

	_ = sc.Put(ctx, key, value)

	obj, ok, _ := sc.Get(ctx, key)
	if !ok {
		t.Error("Get() should return true for large value")
	}
	if !bytes.Equal(obj.Data, value) {
		t.Error("Retrieved large value does not match original")
	}
}

// TestCorruptedData tests handling of corrupted encrypted data.
func TestCorruptedData(t *testing.T) {
	ctx := context.Background()
	storage := httpcache.NewMemoryCache()
	sc, err := New(Config{
		Storage:    storage,
		Passphrase: "corruption-test-passphrase",
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	key := "corrupted-key"
	value := []byte("original-value")

	_ = sc.Put(ctx, key, value)

	hashedKey := sc.hashKey(key)
	stored, _, _ := storage.Get(ctx, hashedKey)
	corrupted := append([]byte(nil), stored.Data...)
	if len(corrupted) > 20 {
		corrupted[20] ^= 0xFF
		_ = storage.Put(ctx, hashedKey, corrupted)
	}

	_, ok, _ := sc.Get(ctx, key)
	if ok {
		t.Error("Get() should return false for corrupted data")
	}
}

// TestDifferentPassphrases tests that different passphrases cannot decrypt data.
func TestDifferentPassphrases(t *testing.T) {
	ctx := context.Background()
	storage := httpcache.NewMemoryCache()

	sc1, err := New(Config{
		Storage:    storage,
		Passphrase: "passphrase-one",
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	key := "secret-key"
	value := []byte("secret-value")
	_ = sc1.Put(ctx, key, value)

	sc2, err := New(Config{
		Storage:    storage,
		Passphrase: "passphrase-two",
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	_, ok, _ := sc2.Get(ctx, key)
	if ok {
		t.Error("Get() with different passphrase should fail to decrypt")
	}
}

// TestHashKeyConsistency tests that hashKey produces consistent results.
func TestHashKeyConsistency(t *testing.T) {
	storage := httpcache.NewMemoryCache()
	sc, err := New(Config{Storage: storage})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	key := "consistency-test-key"
	hash1 := sc.hashKey(key)
	hash2 := sc.hashKey(key)

	if hash1 != hash2 {
		t.Errorf("hashKey() should produce consistent results, got %s and %s", hash1, hash2)
	}
	if len(hash1) != 64 {
		t.Errorf("hashKey() should produce 64-character hex string, got %d characters", len(hash1))
	}
}
