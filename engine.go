package httpcache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// Engine is the cache execution state machine: LOOKUP, EVALUATE suitability,
// then SERVE_FROM_CACHE, REVALIDATE, or MISS into CALL_ORIGIN, finishing by
// folding a 304 or storing a fresh 200. All stages run inside Proceed;
// CALL_ORIGIN is the single call to the configured Transport, which is the
// layer resilience.go wraps, and the background revalidator makes its own
// origin call through the same Transport.
//
// Engine implements http.RoundTripper so it drops into any *http.Client.
type Engine struct {
	transport   Transport
	store       *Store
	collapser   *Collapser
	revalidator *Revalidator

	sharedCache          bool
	heuristicCoefficient float64
	markCachedResponses  bool

	hits    uint64
	misses  uint64
	updates uint64
}

// XFromCache is the header added to cache-served responses when the engine
// is configured via WithMarkCachedResponses.
const XFromCache = "X-From-Cache"

// EngineStats is a point-in-time snapshot of Engine's observable counters.
type EngineStats struct {
	Hits    uint64
	Misses  uint64
	Updates uint64
}

// Stats returns a snapshot of the engine's hit/miss/update counters.
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Hits:    atomic.LoadUint64(&e.hits),
		Misses:  atomic.LoadUint64(&e.misses),
		Updates: atomic.LoadUint64(&e.updates),
	}
}

// RoundTrip implements http.RoundTripper. An only-if-cached request with no
// usable cached response yields a synthesized 504 Gateway Timeout.
func (e *Engine) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := e.Proceed(req.Context(), req)
	if errors.Is(err, ErrOnlyIfCached) {
		return &http.Response{
			Status:     "504 Gateway Timeout",
			StatusCode: http.StatusGatewayTimeout,
			Proto:      "HTTP/1.1",
			ProtoMajor: 1,
			ProtoMinor: 1,
			Header:     http.Header{},
			Body:       http.NoBody,
			Request:    req,
		}, nil
	}
	return resp, err
}

// Proceed runs req through the cache state machine.
func (e *Engine) Proceed(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, ErrNullRequest
	}
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		resp, err := e.transport.Proceed(ctx, req)
		if err == nil {
			if invalidateErr := e.store.EvictInvalidated(ctx, req, resp); invalidateErr != nil {
				GetLogger().Warn("cache invalidation failed", "error", invalidateErr)
			}
		}
		return resp, err
	}

	reqDirectives := ParseRequestDirectives(req.Header)

	entry, key, suit, lookupErr := e.store.Lookup(ctx, req)
	if lookupErr != nil {
		GetLogger().Warn("cache lookup failed", "error", lookupErr)
		entry, suit = nil, Mismatch
	}

	switch suit {
	case Fresh:
		atomic.AddUint64(&e.hits, 1)
		resp := entry.ToResponse(req)
		e.markFromCache(resp)
		return resp, nil

	case FreshEnough:
		atomic.AddUint64(&e.hits, 1)
		resp := entry.ToResponse(req)
		addStaleWarning(resp)
		e.markFromCache(resp)
		if e.revalidator != nil && e.isActuallyStale(entry) {
			e.revalidator.TriggerAsync(context.WithoutCancel(ctx), req, entry, key)
		}
		return resp, nil
	}

	if reqDirectives.OnlyIfCached {
		atomic.AddUint64(&e.misses, 1)
		if entry != nil && suit != Mismatch {
			resp := entry.ToResponse(req)
			addStaleWarning(resp)
			e.markFromCache(resp)
			return resp, nil
		}
		return nil, ErrOnlyIfCached
	}

	originReq := req
	revalidating := entry != nil && suit != Mismatch
	if revalidating {
		if variants, variantsErr := e.store.Variants(ctx, req); variantsErr == nil && len(variants) > 1 {
			originReq = BuildMultiConditionalRequest(req, variants)
		} else {
			originReq = BuildConditionalRequest(req, entry)
		}
	}

	requestInstant := clock.now()

	// Collapsing only applies to true unconditional misses: conditional
	// revalidations, unsafe methods, and only-if-cached requests (handled
	// above) bypass it, since a follower sharing a leader's conditional
	// response would be sharing a response keyed to the leader's own
	// validators, not necessarily a correct answer for itself.
	var resp *http.Response
	var err error
	if revalidating {
		resp, err = e.transport.Proceed(ctx, originReq)
	} else {
		resp, err = e.collapser.Do(collapseKey(req), func() (*http.Response, error) {
			return e.transport.Proceed(ctx, originReq)
		})
	}

	if err != nil {
		if entry != nil && SuitableIfError(entry, req, clock.now()) {
			atomic.AddUint64(&e.hits, 1)
			stale := entry.ToResponse(req)
			addRevalidationFailedWarning(stale)
			e.markFromCache(stale)
			return stale, nil
		}
		return nil, err
	}

	if resp.StatusCode == http.StatusNotModified && entry != nil {
		resp.Body.Close()
		atomic.AddUint64(&e.updates, 1)
		merged, mergeErr := e.store.MergeRevalidated(ctx, key, entry, resp)
		if mergeErr != nil {
			GetLogger().Warn("revalidation merge failed", "error", mergeErr)
			return entry.ToResponse(req), nil
		}
		return merged.ToResponse(req), nil
	}

	if entry != nil && resp.StatusCode >= 500 && SuitableIfError(entry, req, clock.now()) {
		resp.Body.Close()
		atomic.AddUint64(&e.hits, 1)
		stale := entry.ToResponse(req)
		addRevalidationFailedWarning(stale)
		e.markFromCache(stale)
		return stale, nil
	}

	atomic.AddUint64(&e.misses, 1)

	if IsCacheable(req, resp, CacheabilityParams{IsSharedCache: e.sharedCache}) {
		newEntry, buildErr := newEntryFromResponse(req, resp, requestInstant)
		if buildErr != nil {
			GetLogger().Warn("failed to build cache entry", "error", buildErr)
			return resp, nil
		}
		if storeErr := e.store.Store(ctx, req, newEntry); storeErr != nil {
			GetLogger().Warn("failed to store cache entry", "error", storeErr)
		}
		return newEntry.ToResponse(req), nil
	}

	return resp, nil
}

// markFromCache sets the X-From-Cache header when the engine was built with
// WithMarkCachedResponses, letting callers like the prewarmer distinguish
// cache hits from origin round-trips without inspecting Engine.Stats.
func (e *Engine) markFromCache(resp *http.Response) {
	if e.markCachedResponses {
		resp.Header.Set(XFromCache, "1")
	}
}

// isActuallyStale reports whether entry has truly exceeded its freshness
// lifetime (as opposed to being FreshEnough only because the client's
// max-stale allowance covers it) — the condition under which a background
// stale-while-revalidate refresh is worth dispatching.
func (e *Engine) isActuallyStale(entry *CacheEntry) bool {
	respDirectives := ParseResponseDirectives(entry.ResponseHeaders)
	date, ok := DateHeader(entry.ResponseHeaders)
	if !ok {
		date = entry.ResponseInstant
	}
	lifetime := FreshnessLifetime(respDirectives, entry.ResponseHeaders, date, e.sharedCache, e.heuristicCoefficient)
	return EntryAge(entry, clock.now()) >= lifetime
}

// newEntryFromResponse drains resp's body and builds a CacheEntry suitable
// for storage. The caller retains resp's original Body only up to this
// call; afterwards it is closed and the caller should serve the returned
// entry's own ToResponse instead.
func newEntryFromResponse(req *http.Request, resp *http.Response, requestInstant time.Time) (*CacheEntry, error) {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	return &CacheEntry{
		RequestMethod:   req.Method,
		RequestURI:      req.URL.String(),
		RequestHeaders:  req.Header.Clone(),
		ResponseHeaders: resp.Header.Clone(),
		Status:          resp.StatusCode,
		RequestInstant:  requestInstant,
		ResponseInstant: clock.now(),
		Resource: &Resource{
			StatusCode: resp.StatusCode,
			Header:     resp.Header.Clone(),
			Body:       body,
		},
	}, nil
}
