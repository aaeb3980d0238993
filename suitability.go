package httpcache

import (
	"net/http"
	"time"
)

// Suitability describes how a stored entry relates to an incoming request.
type Suitability int

const (
	// Mismatch means the stored entry must not be used at all to satisfy
	// this request (e.g. a qualified no-cache field is present, or the
	// response's Vary header contains "*").
	Mismatch Suitability = iota
	// RevalidationRequired means the entry must not be served without a
	// successful (or stale-if-error-permitted) revalidation first.
	RevalidationRequired
	// Stale means the entry has exceeded its freshness lifetime and is not
	// covered by stale-while-revalidate.
	Stale
	// FreshEnough means the entry is technically stale but within the
	// client's request max-stale allowance, or within its
	// stale-while-revalidate window.
	FreshEnough
	// Fresh means the entry can be served as-is.
	Fresh
)

func (s Suitability) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case FreshEnough:
		return "fresh-enough"
	case Stale:
		return "stale"
	case RevalidationRequired:
		return "revalidation-required"
	default:
		return "mismatch"
	}
}

// SuitabilityParams bundles the inputs Evaluate needs beyond the entry and
// request themselves.
type SuitabilityParams struct {
	Now                  time.Time
	IsSharedCache        bool
	HeuristicCoefficient float64
}

// Evaluate classifies a stored leaf entry's suitability for req, in a fixed
// precedence order. Response no-store is not re-checked here: store.go's
// cacheability policy (cacheability.go) already refuses to persist such
// responses, so any entry reaching Evaluate is known storable.
func Evaluate(entry *CacheEntry, req *http.Request, p SuitabilityParams) Suitability {
	respDirectives := ParseResponseDirectives(entry.ResponseHeaders)
	reqDirectives := ParseRequestDirectives(req.Header)

	// 1. response no-cache, unqualified (no field list) -> must revalidate.
	if respDirectives.NoCache && len(respDirectives.NoCacheFields) == 0 {
		return RevalidationRequired
	}

	// 2. response no-cache qualified with a field list: this cache does not
	// serve partial responses, so the presence of ANY named field in the
	// stored response makes the whole entry unusable without revalidation
	// from the entry's own perspective. This is classified as Mismatch
	// (distinct from plain RevalidationRequired) since the caller is
	// expected to treat it as if no matching entry existed.
	if respDirectives.NoCache && len(respDirectives.NoCacheFields) > 0 {
		for field := range respDirectives.NoCacheFields {
			if entry.ResponseHeaders.Get(field) != "" {
				return Mismatch
			}
		}
	}

	// 3. request no-cache -> must revalidate.
	if reqDirectives.NoCache {
		return RevalidationRequired
	}

	date, ok := DateHeader(entry.ResponseHeaders)
	if !ok {
		date = entry.ResponseInstant
	}
	lifetime := FreshnessLifetime(respDirectives, entry.ResponseHeaders, date, p.IsSharedCache, p.HeuristicCoefficient)
	currentAge := EntryAge(entry, p.Now)

	// 4. request min-fresh: the client needs the entry to remain fresh for
	// at least this many more seconds.
	effectiveAge := currentAge
	if reqDirectives.MinFresh != unsetDirective {
		effectiveAge += time.Duration(reqDirectives.MinFresh) * time.Second
	}

	// 5. request max-age narrows the lifetime the client will accept.
	effectiveLifetime := lifetime
	if reqDirectives.MaxAge != unsetDirective {
		requestLifetime := time.Duration(reqDirectives.MaxAge) * time.Second
		if requestLifetime < effectiveLifetime {
			effectiveLifetime = requestLifetime
		}
	}

	if effectiveLifetime > effectiveAge {
		return Fresh
	}

	// 6. must-revalidate/proxy-revalidate forbid serving stale regardless of
	// the client's max-stale allowance.
	mustRevalidate := respDirectives.MustRevalidate || (p.IsSharedCache && respDirectives.ProxyRevalidate)
	if !mustRevalidate && reqDirectives.MaxStaleSet {
		if reqDirectives.MaxStale == unsetDirective {
			// bare "max-stale" with no value: accept any staleness.
			return FreshEnough
		}
		if lifetime+time.Duration(reqDirectives.MaxStale)*time.Second > currentAge {
			return FreshEnough
		}
	}

	if !mustRevalidate && respDirectives.StaleWhileRevalidate != unsetDirective {
		if lifetime+time.Duration(respDirectives.StaleWhileRevalidate)*time.Second > currentAge {
			return FreshEnough
		}
	}

	return Stale
}

// SuitableIfError implements the stale-if-error predicate (RFC 5861): given
// an origin call that failed or returned 5xx, may the stale entry still be
// served? Checks both response and request stale-if-error directives, the
// more permissive of the two winning per RFC 5861 Section 4.
func SuitableIfError(entry *CacheEntry, req *http.Request, now time.Time) bool {
	respDirectives := ParseResponseDirectives(entry.ResponseHeaders)
	reqDirectives := ParseRequestDirectives(req.Header)

	currentAge := EntryAge(entry, now)

	check := func(seconds int, present bool) (bool, bool) {
		if !present {
			return false, false
		}
		return time.Duration(seconds)*time.Second > currentAge, true
	}

	if ok, present := check(respDirectives.StaleIfError, respDirectives.StaleIfError != unsetDirective); present && ok {
		return true
	}
	if ok, present := check(reqDirectives.StaleIfError, reqDirectives.StaleIfError != unsetDirective); present && ok {
		return true
	}
	return false
}
