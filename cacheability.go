package httpcache

import "net/http"

// cacheableStatusCodes is the allowlist of status codes this cache
// understands well enough to store by default. Notably 206 (Partial
// Content) is EXCLUDED: this cache never stores partial responses, since
// it has no byte-range reassembly logic.
var cacheableStatusCodes = map[int]bool{
	http.StatusOK:                  true, // 200
	http.StatusNonAuthoritativeInfo: true, // 203
	http.StatusNoContent:           true, // 204
	http.StatusMultipleChoices:     true, // 300
	http.StatusMovedPermanently:    true, // 301
	http.StatusNotFound:            true, // 404
	http.StatusMethodNotAllowed:    true, // 405
	http.StatusGone:                true, // 410
	http.StatusRequestURITooLong:   true, // 414
	http.StatusNotImplemented:      true, // 501
}

// CacheabilityParams bundles everything IsCacheable needs beyond the
// request/response pair.
type CacheabilityParams struct {
	IsSharedCache bool
	ShouldCache   func(*http.Response) bool // optional override hook for otherwise-not-understood statuses
}

// IsCacheable implements the response cacheability policy: whether resp may
// be stored at all for req, independent of any freshness calculation.
func IsCacheable(req *http.Request, resp *http.Response, p CacheabilityParams) bool {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return false
	}
	if req.Header.Get("Range") != "" {
		return false
	}

	respDirectives := ParseResponseDirectives(resp.Header)
	reqDirectives := ParseRequestDirectives(req.Header)

	if reqDirectives.NoStore {
		return false
	}

	understood := cacheableStatusCodes[resp.StatusCode]

	if respDirectives.MustUnderstand {
		if !understood {
			return false
		}
		// must-understand + an understood status overrides no-store.
	} else if respDirectives.NoStore {
		return false
	}

	if !understood {
		// A status outside the allowlist is still storable when the response
		// carries explicit freshness or the ShouldCache hook accepts it.
		explicitFreshness := respDirectives.MaxAge != unsetDirective || respDirectives.SharedMaxAge != unsetDirective ||
			respDirectives.MustRevalidate || respDirectives.ProxyRevalidate || respDirectives.CachePublic ||
			resp.Header.Get("Expires") != ""
		if !explicitFreshness && (p.ShouldCache == nil || !p.ShouldCache(resp)) {
			return false
		}
	}

	if p.IsSharedCache {
		if req.Header.Get("Authorization") != "" {
			if !respDirectives.CachePublic && !respDirectives.MustRevalidate && respDirectives.SharedMaxAge == unsetDirective {
				return false
			}
		}
		if respDirectives.CachePrivate {
			return false
		}
	}

	// Exactly one Date header and at most one Age header are required; a
	// response with duplicated framing headers is too ambiguous to trust.
	if len(resp.Header.Values("Date")) != 1 {
		return false
	}
	if len(resp.Header.Values("Age")) > 1 {
		return false
	}
	if len(resp.Header.Values("Expires")) > 1 {
		return false
	}

	// HTTP/1.0-origin responses to requests with a query string are not
	// cacheable absent an explicit freshness directive (RFC 9111 §4.2.2
	// carries this forward from RFC 2616's 1.0-compat rule).
	if resp.ProtoMajor == 1 && resp.ProtoMinor == 0 && req.URL.RawQuery != "" {
		if respDirectives.MaxAge == unsetDirective && respDirectives.SharedMaxAge == unsetDirective && resp.Header.Get("Expires") == "" {
			return false
		}
	}

	// 302/303/307 are only cacheable when the response explicitly opts in
	// via a freshness directive; without one, their cacheability is
	// status-code-default "no" per RFC 9110 §15.4, unlike 301.
	switch resp.StatusCode {
	case http.StatusFound, http.StatusSeeOther, http.StatusTemporaryRedirect:
		if respDirectives.MaxAge == unsetDirective && respDirectives.SharedMaxAge == unsetDirective &&
			resp.Header.Get("Expires") == "" && !respDirectives.CachePublic {
			return false
		}
	}

	return true
}
