package httpcache

import (
	"net/http"
	"time"
)

// cloneRequest shallow-clones req and deep-clones its Header so that adding
// validators never mutates the caller's original request.
func cloneRequest(req *http.Request) *http.Request {
	r2 := new(http.Request)
	*r2 = *req
	r2.Header = req.Header.Clone()
	return r2
}

// BuildConditionalRequest adds If-None-Match/If-Modified-Since validators
// from entry to req for a single-candidate revalidation, without
// overwriting validators the caller already set explicitly.
func BuildConditionalRequest(req *http.Request, entry *CacheEntry) *http.Request {
	etag := entry.ResponseHeaders.Get("ETag")
	lastModified := entry.ResponseHeaders.Get("Last-Modified")

	needsETag := etag != "" && req.Header.Get("If-None-Match") == ""
	needsLastModified := lastModified != "" && req.Header.Get("If-Modified-Since") == ""
	if !needsETag && !needsLastModified {
		return req
	}

	r2 := cloneRequest(req)
	if needsETag {
		r2.Header.Set("If-None-Match", etag)
	}
	if needsLastModified {
		r2.Header.Set("If-Modified-Since", lastModified)
	}
	return r2
}

// BuildMultiConditionalRequest builds a single revalidation request that
// covers every known variant of a Vary-separated resource at once: the
// If-None-Match value becomes a comma-separated list of every variant's
// ETag, so a 304 from the origin still tells us the server considered the
// selected representation unchanged relative to at least one of them.
func BuildMultiConditionalRequest(req *http.Request, entries []*CacheEntry) *http.Request {
	var etags []string
	var lastModified string
	for _, e := range entries {
		if e == nil || e.Resource == nil {
			continue
		}
		if etag := e.ResponseHeaders.Get("ETag"); etag != "" {
			etags = append(etags, etag)
		}
		if lastModified == "" {
			lastModified = e.ResponseHeaders.Get("Last-Modified")
		}
	}
	if len(etags) == 0 && lastModified == "" {
		return req
	}

	r2 := cloneRequest(req)
	if len(etags) > 0 && r2.Header.Get("If-None-Match") == "" {
		joined := etags[0]
		for _, e := range etags[1:] {
			joined += ", " + e
		}
		r2.Header.Set("If-None-Match", joined)
	}
	if lastModified != "" && r2.Header.Get("If-Modified-Since") == "" {
		r2.Header.Set("If-Modified-Since", lastModified)
	}
	return r2
}

// ForceRevalidationRequest builds an unconditional-refresh request that
// forces a fresh response from the origin regardless of any cached
// validators, by asking for Cache-Control: no-cache on the outgoing leg.
// The engine and the background revalidator do not call it; both send
// conditional requests built by BuildConditionalRequest or
// BuildMultiConditionalRequest.
func ForceRevalidationRequest(req *http.Request) *http.Request {
	r2 := cloneRequest(req)
	r2.Header.Set("Cache-Control", "no-cache")
	r2.Header.Del("If-None-Match")
	r2.Header.Del("If-Modified-Since")
	return r2
}

// endToEndHeaders returns the header names from a 304 response that must be
// merged into the stored representation, per RFC 9111 Section 3.4: every
// header except the narrow set of hop-by-hop/connection headers.
func endToEndHeaders(header http.Header) []string {
	hopByHop := map[string]bool{
		"Connection":          true,
		"Keep-Alive":          true,
		"Proxy-Authenticate":  true,
		"Proxy-Authorization": true,
		"Te":                  true,
		"Trailer":             true,
		"Transfer-Encoding":   true,
		"Upgrade":             true,
	}
	out := make([]string, 0, len(header))
	for name := range header {
		if !hopByHop[name] {
			out = append(out, name)
		}
	}
	return out
}

// MergeNotModified applies a 304 response's end-to-end headers onto the
// stored entry and returns the updated entry, per RFC 9111 Section 4.3.4.
func MergeNotModified(entry *CacheEntry, notModified *http.Response, responseInstant time.Time) *CacheEntry {
	updated := *entry
	updated.ResponseHeaders = entry.ResponseHeaders.Clone()
	for _, name := range endToEndHeaders(notModified.Header) {
		updated.ResponseHeaders[name] = notModified.Header[name]
	}
	updated.ResponseInstant = responseInstant
	if updated.Resource != nil {
		res := *updated.Resource
		res.Header = updated.ResponseHeaders
		updated.Resource = &res
	}
	return &updated
}
