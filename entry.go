package httpcache

import (
	"net/http"
	"time"
)

// Resource holds the bytes of a cached response body plus enough of the
// surrounding response to reconstruct an *http.Response.
type Resource struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// CacheEntry is the unit of storage for the cache store facade (store.go).
// A root entry (created for the request URI the first time any response for
// it is seen) carries Variants and a nil Resource; a variant entry carries a
// Resource and an empty Variants list. This mirrors RFC 9111 Section 4.1's
// "one stored response per combination of selecting header fields" model
// without requiring every backend to understand variants natively.
type CacheEntry struct {
	RequestMethod  string
	RequestURI     string
	RequestHeaders http.Header

	ResponseHeaders http.Header
	Status          int

	RequestInstant  time.Time
	ResponseInstant time.Time

	// Resource is nil for root entries; non-nil for variant (and
	// no-Vary single-entry) entries.
	Resource *Resource

	// Variants lists the variant cache keys known for this request URI.
	// Non-empty only on root entries.
	Variants []string
}

// IsRoot reports whether e is a root (variant-index) entry rather than a
// leaf entry carrying an actual response.
func (e *CacheEntry) IsRoot() bool {
	return e.Resource == nil && len(e.Variants) > 0
}

// ToResponse reconstructs an *http.Response from a leaf CacheEntry so it can
// be evaluated by suitability.go or served to the caller. The returned
// response's Body is a fresh reader over the stored bytes; closing it is a
// no-op on the stored copy.
func (e *CacheEntry) ToResponse(req *http.Request) *http.Response {
	if e.Resource == nil {
		return nil
	}
	return &http.Response{
		Status:     http.StatusText(e.Resource.StatusCode),
		StatusCode: e.Resource.StatusCode,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     e.Resource.Header.Clone(),
		Body:       newBodyReader(e.Resource.Body),
		Request:    req,
	}
}
