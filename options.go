package httpcache

import (
	"net/http"
	"runtime"
)

// engineConfig holds every knob NewEngine accepts, assembled via the
// functional-options pattern.
type engineConfig struct {
	transport            Transport
	storage              Storage
	sharedCache          bool
	heuristicCoefficient float64
	maxCASRetries        int
	revalidationPoolSize int
	disableRevalidation  bool
	markCachedResponses  bool
}

// EngineOption configures an Engine built by NewEngine.
type EngineOption func(*engineConfig)

// WithRoundTripper sets the http.RoundTripper used to reach the origin,
// routed through the Transport interface via RoundTripperTransport.
func WithRoundTripper(rt http.RoundTripper) EngineOption {
	return func(c *engineConfig) { c.transport = RoundTripperTransport{RoundTripper: rt} }
}

// WithTransport sets a custom Transport, bypassing RoundTripperTransport
// entirely — the hook resilience.go's retry/circuit-breaker wrapper uses.
func WithTransport(t Transport) EngineOption {
	return func(c *engineConfig) { c.transport = t }
}

// WithStorage sets the Storage backend. Required; NewEngine panics if no
// backend is configured.
func WithStorage(s Storage) EngineOption {
	return func(c *engineConfig) { c.storage = s }
}

// WithSharedCache marks the engine as a shared (multi-user) cache rather
// than a private, single-user one, switching on the private-response and
// Authorization restrictions RFC 9111 Section 3 reserves for shared caches.
func WithSharedCache(shared bool) EngineOption {
	return func(c *engineConfig) { c.sharedCache = shared }
}

// WithHeuristicCoefficient sets the fraction of a response's age-since-
// Last-Modified used as a heuristic freshness lifetime when no explicit
// freshness information is present (RFC 9111 Section 4.2.2). Defaults to
// 0.1 (10%).
func WithHeuristicCoefficient(c float64) EngineOption {
	return func(cfg *engineConfig) { cfg.heuristicCoefficient = c }
}

// WithMaxCASRetries bounds the compare-and-swap retry loop Store.addVariant
// uses when updating a root entry's variant index under contention.
func WithMaxCASRetries(n int) EngineOption {
	return func(c *engineConfig) { c.maxCASRetries = n }
}

// WithRevalidationPoolSize bounds how many background stale-while-
// revalidate refreshes may run concurrently. Defaults to
// runtime.GOMAXPROCS(0).
func WithRevalidationPoolSize(n int) EngineOption {
	return func(c *engineConfig) { c.revalidationPoolSize = n }
}

// WithoutBackgroundRevalidation disables stale-while-revalidate dispatch
// entirely: FreshEnough-via-SWR entries are still served, but no background
// refresh is triggered, useful for tests and for callers that would rather
// manage refresh scheduling themselves.
func WithoutBackgroundRevalidation() EngineOption {
	return func(c *engineConfig) { c.disableRevalidation = true }
}

// WithMarkCachedResponses adds an X-From-Cache: 1 header to every response
// served from the cache (fresh, stale-while-revalidate, or stale-if-error),
// letting callers distinguish cache hits from origin responses without
// instrumenting the engine's Stats separately.
func WithMarkCachedResponses(mark bool) EngineOption {
	return func(c *engineConfig) { c.markCachedResponses = mark }
}

// NewEngine builds an Engine from the given options.
func NewEngine(opts ...EngineOption) *Engine {
	cfg := &engineConfig{
		heuristicCoefficient: 0.1,
		maxCASRetries:        3,
		revalidationPoolSize: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.storage == nil {
		panic("httpcache: NewEngine requires WithStorage")
	}
	if cfg.transport == nil {
		cfg.transport = RoundTripperTransport{RoundTripper: http.DefaultTransport}
	}

	store := NewStore(cfg.storage, cfg.sharedCache, cfg.heuristicCoefficient, cfg.maxCASRetries)

	e := &Engine{
		transport:            cfg.transport,
		store:                store,
		sharedCache:          cfg.sharedCache,
		heuristicCoefficient: cfg.heuristicCoefficient,
		markCachedResponses:  cfg.markCachedResponses,
	}
	e.collapser = NewCollapser()
	if !cfg.disableRevalidation {
		e.revalidator = NewRevalidator(cfg.transport, store, cfg.revalidationPoolSize, e.collapser)
	}
	return e
}
