package prometheus

import (
	"context"
	"time"

	"github.com/corewell/httpcache"
	"github.com/corewell/httpcache/metrics"
)

// Metric result constants.
const (
	resultHit     = "hit"
	resultMiss    = "miss"
	resultSuccess = "success"
	resultError   = "error"
)

// InstrumentedStorage wraps an httpcache.Storage backend with Prometheus
// metrics recording on every operation.
type InstrumentedStorage struct {
	underlying httpcache.Storage
	collector  metrics.Collector
	backend    string // backend name: "memory", "redis", "leveldb", etc.
}

// NewInstrumentedStorage creates a new instrumented storage wrapper that
// records metrics for all backend operations.
//
// Parameters:
//   - storage: the underlying Storage implementation to wrap
//   - backend: the name of the cache backend (e.g., "disk", "redis", "leveldb")
//   - collector: the metrics collector (if nil, uses metrics.DefaultCollector)
//
// Example:
//
//	collector := prometheus.NewCollector()
//	storage := prometheus.NewInstrumentedStorage(
//	    diskcache.New("/tmp/cache"),
//	    "disk",
//	    collector,
//	)
func NewInstrumentedStorage(storage httpcache.Storage, backend string, collector metrics.Collector) *InstrumentedStorage {
	if collector == nil {
		collector = metrics.DefaultCollector
	}

	return &InstrumentedStorage{
		underlying: storage,
		collector:  collector,
		backend:    backend,
	}
}

// Get retrieves an object from the storage backend with metrics recording.
func (s *InstrumentedStorage) Get(ctx context.Context, key string) (*httpcache.StoredObject, bool, error) {
	start := time.Now()
	obj, ok, err := s.underlying.Get(ctx, key)
	duration := time.Since(start)

	result := resultMiss
	if err != nil {
		result = resultError
	} else if ok {
		result = resultHit
	}

	s.collector.RecordCacheOperation("get", s.backend, result, duration)

	return obj, ok, err
}

// GetMany retrieves multiple objects from the storage backend with metrics recording.
func (s *InstrumentedStorage) GetMany(ctx context.Context, keys []string) (map[string]*httpcache.StoredObject, error) {
	start := time.Now()
	objs, err := s.underlying.GetMany(ctx, keys)
	duration := time.Since(start)

	result := resultSuccess
	if err != nil {
		result = resultError
	}

	s.collector.RecordCacheOperation("get_many", s.backend, result, duration)

	return objs, err
}

// Put stores a value in the storage backend with metrics recording.
func (s *InstrumentedStorage) Put(ctx context.Context, key string, data []byte) error {
	start := time.Now()
	err := s.underlying.Put(ctx, key, data)
	duration := time.Since(start)

	result := resultSuccess
	if err != nil {
		result = resultError
	}

	s.collector.RecordCacheOperation("put", s.backend, result, duration)

	return err
}

// Remove removes a value from the storage backend with metrics recording.
func (s *InstrumentedStorage) Remove(ctx context.Context, key string) error {
	start := time.Now()
	err := s.underlying.Remove(ctx, key)
	duration := time.Since(start)

	result := resultSuccess
	if err != nil {
		result = resultError
	}

	s.collector.RecordCacheOperation("remove", s.backend, result, duration)

	return err
}

// CompareAndSwap performs a compare-and-swap on the storage backend with metrics recording.
func (s *InstrumentedStorage) CompareAndSwap(ctx context.Context, key, token string, data []byte) (bool, error) {
	start := time.Now()
	swapped, err := s.underlying.CompareAndSwap(ctx, key, token, data)
	duration := time.Since(start)

	result := resultSuccess
	if err != nil {
		result = resultError
	} else if !swapped {
		result = "conflict"
	}

	s.collector.RecordCacheOperation("compare_and_swap", s.backend, result, duration)

	return swapped, err
}

// Verify interface implementation at compile time
var _ httpcache.Storage = (*InstrumentedStorage)(nil)
