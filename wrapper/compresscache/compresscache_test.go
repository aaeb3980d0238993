package compresscache

import (
	"bytes"
	"compress/gzip"
	"context"
	"strings"
	"testing"

	"github.com/corewell/httpcache"
)

func TestNewGzip(t *testing.T) {
	tests := []struct {
		name    string
		config  GzipConfig
		wantErr bool
	}{
		{
			name:   "valid config with default level",
			config: GzipConfig{Storage: httpcache.NewMemoryCache()},
		},
		{
			name: "valid config with custom level",
			config: GzipConfig{
				Storage: httpcache.NewMemoryCache(),
				Level:   gzip.BestCompression,
			},
		},
		{
			name:    "nil storage",
			config:  GzipConfig{},
			wantErr: true,
		},
		{
			name: "invalid level",
			config: GzipConfig{
				Storage: httpcache.NewMemoryCache(),
				Level:   100,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGzip(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewGzip() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewBrotli(t *testing.T) {
	if _, err := NewBrotli(BrotliConfig{}); err == nil {
		t.Error("expected error for nil storage")
	}
	if _, err := NewBrotli(BrotliConfig{Storage: httpcache.NewMemoryCache(), Level: 99}); err == nil {
		t.Error("expected error for invalid level")
	}
	if _, err := NewBrotli(BrotliConfig{Storage: httpcache.NewMemoryCache()}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewSnappy(t *testing.T) {
	if _, err := NewSnappy(SnappyConfig{}); err == nil {
		t.Error("expected error for nil storage")
	}
	if _, err := NewSnappy(SnappyConfig{Storage: httpcache.NewMemoryCache()}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func testRoundTrip(t *testing.T, storage httpcache.Storage) {
	t.Helper()
	ctx := context.Background()
	data := []byte(strings.Repeat("compress me please ", 200))

	if err := storage.Put(ctx, "key", data); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	obj, ok, err := storage.Get(ctx, "key")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !ok {
		t.Fatal("Get() should return true for stored key")
	}
	if !bytes.Equal(obj.Data, data) {
		t.Error("round-tripped data does not match original")
	}

	if _, ok, _ := storage.Get(ctx, "missing"); ok {
		t.Error("Get() should return false for missing key")
	}
}

func TestGzipRoundTrip(t *testing.T) {
	cache, err := NewGzip(GzipConfig{Storage: httpcache.NewMemoryCache()})
	if err != nil {
		t.Fatalf("NewGzip() failed: %v", err)
	}
	testRoundTrip(t, cache)
}

func TestBrotliRoundTrip(t *testing.T) {
	cache, err := NewBrotli(BrotliConfig{Storage: httpcache.NewMemoryCache()})
	if err != nil {
		t.Fatalf("NewBrotli() failed: %v", err)
	}
	testRoundTrip(t, cache)
}

func TestSnappyRoundTrip(t *testing.T) {
	cache, err := NewSnappy(SnappyConfig{Storage: httpcache.NewMemoryCache()})
	if err != nil {
		t.Fatalf("NewSnappy() failed: %v", err)
	}
	testRoundTrip(t, cache)
}

func TestGzipCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	cache, err := NewGzip(GzipConfig{Storage: httpcache.NewMemoryCache()})
	if err != nil {
		t.Fatalf("NewGzip() failed: %v", err)
	}

	swapped, err := cache.CompareAndSwap(ctx, "key", "", []byte("first"))
	if err != nil || !swapped {
		t.Fatalf("create-only CAS failed: swapped=%v err=%v", swapped, err)
	}

	obj, ok, err := cache.Get(ctx, "key")
	if err != nil || !ok {
		t.Fatalf("Get() after CAS failed: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(obj.Data, []byte("first")) {
		t.Errorf("Get() = %s, want first", obj.Data)
	}

	if swapped, err := cache.CompareAndSwap(ctx, "key", "stale", []byte("second")); err != nil || swapped {
		t.Fatalf("CAS with stale token should fail: swapped=%v err=%v", swapped, err)
	}
	if swapped, err := cache.CompareAndSwap(ctx, "key", obj.Token, []byte("second")); err != nil || !swapped {
		t.Fatalf("CAS with current token should succeed: swapped=%v err=%v", swapped, err)
	}
}

func TestGetManyMixedKeys(t *testing.T) {
	ctx := context.Background()
	cache, err := NewSnappy(SnappyConfig{Storage: httpcache.NewMemoryCache()})
	if err != nil {
		t.Fatalf("NewSnappy() failed: %v", err)
	}

	_ = cache.Put(ctx, "present", []byte("value"))

	got, err := cache.GetMany(ctx, []string{"present", "absent"})
	if err != nil {
		t.Fatalf("GetMany() failed: %v", err)
	}
	if _, ok := got["absent"]; ok {
		t.Error("GetMany() should not return an entry for a missing key")
	}
	if obj, ok := got["present"]; !ok || !bytes.Equal(obj.Data, []byte("value")) {
		t.Errorf("GetMany()[present] = %+v, want value", got["present"])
	}
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	cache, err := NewGzip(GzipConfig{Storage: httpcache.NewMemoryCache()})
	if err != nil {
		t.Fatalf("NewGzip() failed: %v", err)
	}

	_ = cache.Put(ctx, "key", []byte("value"))
	if err := cache.Remove(ctx, "key"); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	if _, ok, _ := cache.Get(ctx, "key"); ok {
		t.Error("Get() should return false after Remove()")
	}
}

func TestStatsTracksCompression(t *testing.T) {
	ctx := context.Background()
	cache, err := NewGzip(GzipConfig{Storage: httpcache.NewMemoryCache()})
	if err != nil {
		t.Fatalf("NewGzip() failed: %v", err)
	}

	_ = cache.Put(ctx, "key", []byte(strings.Repeat("x", 1000)))

	stats := cache.Stats()
	if stats.CompressedCount != 1 {
		t.Errorf("CompressedCount = %d, want 1", stats.CompressedCount)
	}
	if stats.CompressedBytes >= stats.UncompressedBytes {
		t.Errorf("expected compressed bytes to shrink repetitive data: compressed=%d uncompressed=%d",
			stats.CompressedBytes, stats.UncompressedBytes)
	}
}

func TestCrossAlgorithmDecompression(t *testing.T) {
	ctx := context.Background()
	backend := httpcache.NewMemoryCache()

	gz, err := NewGzip(GzipConfig{Storage: backend})
	if err != nil {
		t.Fatalf("NewGzip() failed: %v", err)
	}
	sn, err := NewSnappy(SnappyConfig{Storage: backend})
	if err != nil {
		t.Fatalf("NewSnappy() failed: %v", err)
	}

	if err := gz.Put(ctx, "shared", []byte("cross algorithm payload")); err != nil {
		t.Fatalf("Put() via gzip failed: %v", err)
	}

	obj, ok, err := sn.Get(ctx, "shared")
	if err != nil {
		t.Fatalf("Get() via snappy wrapper over gzip-written data failed: %v", err)
	}
	if !ok || !bytes.Equal(obj.Data, []byte("cross algorithm payload")) {
		t.Errorf("Get() = %+v, want cross algorithm payload", obj)
	}
}
