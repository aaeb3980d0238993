package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"github.com/corewell/httpcache"
	"github.com/corewell/httpcache/metrics"
)

// InstrumentedTransport wraps an http.RoundTripper (typically an
// *httpcache.Engine) with Prometheus metrics recording on every request.
type InstrumentedTransport struct {
	underlying http.RoundTripper
	collector  metrics.Collector
}

// NewInstrumentedTransport creates a new instrumented transport that records
// metrics for all HTTP requests.
//
// Parameters:
//   - underlying: the transport to wrap, typically an *httpcache.Engine
//     built with httpcache.WithMarkCachedResponses(true) so cache hits can
//     be distinguished
//   - collector: the metrics collector (if nil, uses metrics.DefaultCollector)
//
// Example:
//
//	engine := httpcache.NewEngine(
//	    httpcache.WithStorage(httpcache.NewMemoryCache()),
//	    httpcache.WithMarkCachedResponses(true),
//	)
//	collector := prometheus.NewCollector()
//	client := &http.Client{Transport: prometheus.NewInstrumentedTransport(engine, collector)}
func NewInstrumentedTransport(underlying http.RoundTripper, collector metrics.Collector) *InstrumentedTransport {
	if collector == nil {
		collector = metrics.DefaultCollector
	}

	return &InstrumentedTransport{
		underlying: underlying,
		collector:  collector,
	}
}

// RoundTrip executes an HTTP request with metrics recording
func (t *InstrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.underlying.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		return resp, err
	}

	cacheStatus := "miss"
	if resp.Header.Get(httpcache.XFromCache) == "1" {
		cacheStatus = "hit"
	} else if resp.StatusCode == http.StatusNotModified {
		cacheStatus = "revalidated"
	}

	t.collector.RecordHTTPRequest(
		req.Method,
		cacheStatus,
		resp.StatusCode,
		duration,
	)

	if contentLength := resp.Header.Get("Content-Length"); contentLength != "" {
		if size, err := strconv.ParseInt(contentLength, 10, 64); err == nil {
			t.collector.RecordHTTPResponseSize(cacheStatus, size)
		}
	}

	return resp, nil
}

// Client returns an HTTP client with instrumented transport
func (t *InstrumentedTransport) Client() *http.Client {
	return &http.Client{Transport: t}
}

// Verify interface implementation at compile time
var _ http.RoundTripper = (*InstrumentedTransport)(nil)
