package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorRecordCacheOperation(t *testing.T) {
	registry := prometheus.NewRegistry()
	c := NewCollectorWithRegistry(registry)

	c.RecordCacheOperation("get", "memory", "hit", 2*time.Millisecond)

	if got := testutil.ToFloat64(c.cacheRequests.WithLabelValues("get", "memory", "hit")); got != 1 {
		t.Errorf("cacheRequests = %v, want 1", got)
	}
}

func TestCollectorRecordCacheSizeAndEntries(t *testing.T) {
	registry := prometheus.NewRegistry()
	c := NewCollectorWithRegistry(registry)

	c.RecordCacheSize("memory", 2048)
	c.RecordCacheEntries("memory", 42)

	if got := testutil.ToFloat64(c.cacheSize.WithLabelValues("memory")); got != 2048 {
		t.Errorf("cacheSize = %v, want 2048", got)
	}
	if got := testutil.ToFloat64(c.cacheEntries.WithLabelValues("memory")); got != 42 {
		t.Errorf("cacheEntries = %v, want 42", got)
	}
}

func TestCollectorRecordHTTPRequest(t *testing.T) {
	registry := prometheus.NewRegistry()
	c := NewCollectorWithRegistry(registry)

	c.RecordHTTPRequest("GET", "hit", 200, 10*time.Millisecond)

	if got := testutil.ToFloat64(c.httpRequests.WithLabelValues("GET", "hit", "200")); got != 1 {
		t.Errorf("httpRequests = %v, want 1", got)
	}
}

func TestCollectorRecordStaleResponse(t *testing.T) {
	registry := prometheus.NewRegistry()
	c := NewCollectorWithRegistry(registry)

	c.RecordStaleResponse("timeout")

	if got := testutil.ToFloat64(c.staleResponses.WithLabelValues("timeout")); got != 1 {
		t.Errorf("staleResponses = %v, want 1", got)
	}
}

func TestNewCollectorDefaults(t *testing.T) {
	registry := prometheus.NewRegistry()
	c := NewCollectorWithConfig(CollectorConfig{Registry: registry})
	if c == nil {
		t.Fatal("expected non-nil collector")
	}
}
