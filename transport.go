package httpcache

import (
	"context"
	"net/http"
)

// Transport is what the engine calls to reach the origin. Separating "how
// we reach the origin" from "how we cache" lets resilience.go wrap just the
// origin call (retry, circuit breaking) without needing to understand
// caching at all.
type Transport interface {
	Proceed(ctx context.Context, req *http.Request) (*http.Response, error)
}

// RoundTripperTransport adapts a standard http.RoundTripper into a Transport.
type RoundTripperTransport struct {
	RoundTripper http.RoundTripper
}

// Proceed implements Transport by delegating to rt.RoundTripper, defaulting
// to http.DefaultTransport when none was configured.
func (rt RoundTripperTransport) Proceed(ctx context.Context, req *http.Request) (*http.Response, error) {
	roundTripper := rt.RoundTripper
	if roundTripper == nil {
		roundTripper = http.DefaultTransport
	}
	return roundTripper.RoundTrip(req.WithContext(ctx))
}

// Client returns an *http.Client whose RoundTripper is engine, suitable for
// drop-in use anywhere an *http.Client is expected. This is the convenience
// surface most callers use instead of calling engine.Proceed directly.
func Client(engine *Engine) *http.Client {
	return &http.Client{Transport: engine}
}
