package httpcache

import (
	"io"
	"net/http"
	"strings"
	"sync"
)

// collapseResult is what a leader call delivers to every follower waiting
// on the same key: a response with its Body already drained into memory,
// plus the original error (if any). Draining is unconditional rather than
// follower-triggered because engine.go reads the whole body into a
// CacheEntry on the happy path anyway, so there is no uncontended-path cost
// being traded away.
type collapseResult struct {
	resp *http.Response
	body []byte
	err  error
}

// call tracks one in-flight origin request shared by a leader and any
// number of followers that arrived while it was running.
type call struct {
	wg     sync.WaitGroup
	result collapseResult
}

// Collapser deduplicates concurrent origin requests for the same cache
// key: the first caller to arrive (the leader) performs the real call, and
// any other caller that arrives for the same key before the leader
// finishes (a follower) blocks and receives an independent copy of the
// leader's result instead of making its own request. Modeled loosely on the
// single-flight pattern golang.org/x/sync/singleflight popularized,
// generalized here to hand each caller its own *http.Response with an
// independently readable Body, since http.Response.Body can only be read
// once.
//
// Only true unconditional misses should ever be collapsed together —
// conditional revalidations, unsafe methods, and only-if-cached requests
// must each reach the origin on their own, since a follower sharing a
// leader's conditionally-validated or non-idempotent result would not
// necessarily be a correct answer for itself. Callers are responsible for
// only invoking Do on the miss path; Collapser itself does not inspect
// requests.
type Collapser struct {
	mu       sync.Mutex
	inFlight map[string]*call
}

// NewCollapser constructs a Collapser.
func NewCollapser() *Collapser {
	return &Collapser{inFlight: make(map[string]*call)}
}

// Do runs fn for the first caller to request key; concurrent callers for
// the same key block until fn returns and then each receive an
// independent *http.Response built from its result.
func (c *Collapser) Do(key string, fn func() (*http.Response, error)) (*http.Response, error) {
	c.mu.Lock()
	if existing, ok := c.inFlight[key]; ok {
		c.mu.Unlock()
		existing.wg.Wait()
		return deliver(existing.result)
	}

	cl := &call{}
	cl.wg.Add(1)
	c.inFlight[key] = cl
	c.mu.Unlock()

	resp, err := fn()
	result := collapseResult{resp: resp, err: err}
	if err == nil && resp.Body != nil {
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			result.err = readErr
		} else {
			result.body = body
		}
	}
	cl.result = result

	c.mu.Lock()
	delete(c.inFlight, key)
	c.mu.Unlock()

	cl.wg.Done()
	return deliver(result)
}

// collapseNegotiationHeaders lists the request headers most commonly named
// by a Vary response header. collapseKey folds their values in because, on
// a true first-time miss, the variant-determining Vary header itself is
// not known until the origin responds — without this, concurrent misses
// for different variants of the same URL (e.g. differing Accept-Encoding)
// would incorrectly collapse onto a single origin call and hand every
// follower the leader's literal representation regardless of its own
// negotiation headers.
var collapseNegotiationHeaders = []string{"Accept", "Accept-Encoding", "Accept-Language", "Accept-Charset"}

// collapseKey builds the Collapser key for req, covering the common
// content-negotiation axes in addition to the root URL and method.
func collapseKey(req *http.Request) string {
	var b strings.Builder
	b.WriteString(RootKey(req))
	b.WriteByte('#')
	b.WriteString(req.Method)
	for _, h := range collapseNegotiationHeaders {
		b.WriteByte('#')
		b.WriteString(canonicalizeHeaderValue(req.Header.Get(h)))
	}
	return b.String()
}

// deliver builds a fresh *http.Response over result's buffered body so
// each caller — leader included — gets an independently readable copy.
func deliver(result collapseResult) (*http.Response, error) {
	if result.err != nil {
		return nil, result.err
	}
	clone := *result.resp
	clone.Header = result.resp.Header.Clone()
	clone.Body = newBodyReader(result.body)
	return &clone, nil
}
