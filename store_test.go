package httpcache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) now() time.Time { return c.t }

func newTestStore(backend Storage, now time.Time) *Store {
	s := NewStore(backend, false, 0.1, 3)
	s.clock = fixedClock{t: now}
	return s
}

func leafEntryFor(req *http.Request, now time.Time, maxAge int, body string) *CacheEntry {
	return &CacheEntry{
		RequestMethod:  req.Method,
		RequestURI:     req.URL.String(),
		RequestHeaders: req.Header.Clone(),
		ResponseHeaders: http.Header{
			"Date":          {now.Format(http.TimeFormat)},
			"Cache-Control": {"max-age=" + FormatAge(time.Duration(maxAge) * time.Second)},
		},
		Status:          200,
		RequestInstant:  now,
		ResponseInstant: now,
		Resource: &Resource{
			StatusCode: 200,
			Header:     http.Header{"Content-Type": {"text/plain"}},
			Body:       []byte(body),
		},
	}
}

func TestStoreLookupMissReturnsNilEntry(t *testing.T) {
	store := newTestStore(NewMemoryCache(), time.Now())
	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)

	entry, key, suit, err := store.Lookup(context.Background(), req)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if entry != nil || key != "" {
		t.Fatalf("expected a cache miss, got entry=%v key=%q", entry, key)
	}
	if suit != Mismatch {
		t.Errorf("suitability = %v, want Mismatch", suit)
	}
}

func TestStoreStoreAndLookupRoundTrip(t *testing.T) {
	now := time.Now()
	store := newTestStore(NewMemoryCache(), now)
	req := httptest.NewRequest(http.MethodGet, "http://example.com/a", nil)
	entry := leafEntryFor(req, now, 100, "payload")

	if err := store.Store(context.Background(), req, entry); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, key, suit, err := store.Lookup(context.Background(), req)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got == nil {
		t.Fatal("expected a stored entry to be found")
	}
	if key == "" {
		t.Error("expected a non-empty variant key")
	}
	if suit != Fresh {
		t.Errorf("suitability = %v, want Fresh", suit)
	}
	if string(got.Resource.Body) != "payload" {
		t.Errorf("body = %q, want %q", got.Resource.Body, "payload")
	}
}

func TestStoreSkipsVaryWildcard(t *testing.T) {
	now := time.Now()
	store := newTestStore(NewMemoryCache(), now)
	req := httptest.NewRequest(http.MethodGet, "http://example.com/a", nil)
	entry := leafEntryFor(req, now, 100, "payload")
	entry.ResponseHeaders.Set("Vary", "*")

	if err := store.Store(context.Background(), req, entry); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, _, _, err := store.Lookup(context.Background(), req)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got != nil {
		t.Error("expected Vary: * entries to never be retrievable")
	}
}

func TestStoreVariantSelection(t *testing.T) {
	now := time.Now()
	store := newTestStore(NewMemoryCache(), now)

	gzipReq := httptest.NewRequest(http.MethodGet, "http://example.com/a", nil)
	gzipReq.Header.Set("Accept-Encoding", "gzip")
	gzipEntry := leafEntryFor(gzipReq, now, 100, "gzip-body")
	gzipEntry.ResponseHeaders.Set("Vary", "Accept-Encoding")
	if err := store.Store(context.Background(), gzipReq, gzipEntry); err != nil {
		t.Fatalf("Store gzip: %v", err)
	}

	brReq := httptest.NewRequest(http.MethodGet, "http://example.com/a", nil)
	brReq.Header.Set("Accept-Encoding", "br")
	brEntry := leafEntryFor(brReq, now, 100, "br-body")
	brEntry.ResponseHeaders.Set("Vary", "Accept-Encoding")
	if err := store.Store(context.Background(), brReq, brEntry); err != nil {
		t.Fatalf("Store br: %v", err)
	}

	got, _, _, err := store.Lookup(context.Background(), brReq)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got == nil || string(got.Resource.Body) != "br-body" {
		t.Fatalf("expected to select the br variant, got %v", got)
	}
}

func TestStoreMergeRevalidated(t *testing.T) {
	now := time.Now()
	store := newTestStore(NewMemoryCache(), now)
	req := httptest.NewRequest(http.MethodGet, "http://example.com/a", nil)
	entry := leafEntryFor(req, now, 100, "payload")
	if err := store.Store(context.Background(), req, entry); err != nil {
		t.Fatalf("Store: %v", err)
	}

	_, key, _, err := store.Lookup(context.Background(), req)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	notModified := &http.Response{
		StatusCode: http.StatusNotModified,
		Header: http.Header{
			"Cache-Control": {"max-age=200"},
		},
	}
	updated, err := store.MergeRevalidated(context.Background(), key, entry, notModified)
	if err != nil {
		t.Fatalf("MergeRevalidated: %v", err)
	}
	if updated.ResponseHeaders.Get("Cache-Control") != "max-age=200" {
		t.Errorf("Cache-Control = %q", updated.ResponseHeaders.Get("Cache-Control"))
	}
}

// alwaysConflictCAS wraps a Storage and makes every CompareAndSwap report a
// token mismatch, simulating sustained contention from another writer.
type alwaysConflictCAS struct {
	Storage
}

func (a *alwaysConflictCAS) CompareAndSwap(ctx context.Context, key, token string, data []byte) (bool, error) {
	return false, nil
}

func TestStoreMergeRevalidatedExhaustsRetriesUnderContention(t *testing.T) {
	now := time.Now()
	store := newTestStore(NewMemoryCache(), now)
	req := httptest.NewRequest(http.MethodGet, "http://example.com/a", nil)
	entry := leafEntryFor(req, now, 100, "payload")
	if err := store.Store(context.Background(), req, entry); err != nil {
		t.Fatalf("Store: %v", err)
	}

	_, key, _, err := store.Lookup(context.Background(), req)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	// Swap in a backend whose CompareAndSwap always reports a conflict,
	// simulating sustained contention from another writer, only now that
	// the initial Store (which itself relies on CAS to update the root
	// variant index) has already succeeded against a normal backend.
	store.backend = &alwaysConflictCAS{Storage: store.backend}

	notModified := &http.Response{StatusCode: http.StatusNotModified, Header: http.Header{}}
	_, err = store.MergeRevalidated(context.Background(), key, entry, notModified)
	if err != ErrUpdateExhausted {
		t.Errorf("err = %v, want ErrUpdateExhausted", err)
	}
}

func TestStoreMergeRevalidatedMergesOntoCurrentlyStoredEntryNotStaleCandidate(t *testing.T) {
	now := time.Now()
	backend := NewMemoryCache()
	store := newTestStore(backend, now)
	req := httptest.NewRequest(http.MethodGet, "http://example.com/a", nil)
	original := leafEntryFor(req, now, 100, "payload")
	if err := store.Store(context.Background(), req, original); err != nil {
		t.Fatalf("Store: %v", err)
	}
	_, key, _, err := store.Lookup(context.Background(), req)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	// Simulate a concurrent writer updating the stored entry's body between
	// when the caller's stale candidate was read and when this merge runs.
	concurrentlyUpdated := leafEntryFor(req, now, 50, "concurrently-updated-payload")
	if err := store.Replace(context.Background(), key, concurrentlyUpdated); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	notModified := &http.Response{
		StatusCode: http.StatusNotModified,
		Header:     http.Header{"Cache-Control": {"max-age=300"}},
	}
	updated, err := store.MergeRevalidated(context.Background(), key, original, notModified)
	if err != nil {
		t.Fatalf("MergeRevalidated: %v", err)
	}
	if string(updated.Resource.Body) != "concurrently-updated-payload" {
		t.Errorf("expected merge to apply over the currently-stored entry, got body %q", updated.Resource.Body)
	}
	if updated.ResponseHeaders.Get("Cache-Control") != "max-age=300" {
		t.Errorf("Cache-Control = %q, want max-age=300", updated.ResponseHeaders.Get("Cache-Control"))
	}
}

func TestStoreEvictInvalidatedSecondaryTargetKeepsSameETag(t *testing.T) {
	now := time.Now()
	store := newTestStore(NewMemoryCache(), now)

	otherReq := httptest.NewRequest(http.MethodGet, "http://example.com/other", nil)
	otherEntry := leafEntryFor(otherReq, now, 100, "other-payload")
	otherEntry.ResponseHeaders.Set("Etag", `"other-etag"`)
	if err := store.Store(context.Background(), otherReq, otherEntry); err != nil {
		t.Fatalf("Store other: %v", err)
	}

	postReq := httptest.NewRequest(http.MethodPost, "http://example.com/a", nil)
	resp := &http.Response{
		StatusCode: 200,
		Header: http.Header{
			"Location": {"/other"},
			"Etag":     {`"other-etag"`}, // same ETag: must not invalidate
			"Date":     {now.Add(time.Hour).Format(http.TimeFormat)},
		},
	}
	if err := store.EvictInvalidated(context.Background(), postReq, resp); err != nil {
		t.Fatalf("EvictInvalidated: %v", err)
	}

	got, _, _, err := store.Lookup(context.Background(), otherReq)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got == nil {
		t.Error("expected the secondary target to survive when its ETag matches the response's")
	}
}

func TestStoreEvictInvalidatedSecondaryTargetEvictsOnDifferentETagNewerDate(t *testing.T) {
	now := time.Now()
	store := newTestStore(NewMemoryCache(), now)

	otherReq := httptest.NewRequest(http.MethodGet, "http://example.com/other", nil)
	otherEntry := leafEntryFor(otherReq, now, 100, "other-payload")
	otherEntry.ResponseHeaders.Set("Etag", `"stored-etag"`)
	if err := store.Store(context.Background(), otherReq, otherEntry); err != nil {
		t.Fatalf("Store other: %v", err)
	}

	postReq := httptest.NewRequest(http.MethodPost, "http://example.com/a", nil)
	resp := &http.Response{
		StatusCode: 200,
		Header: http.Header{
			"Location": {"/other"},
			"Etag":     {`"new-etag"`},
			"Date":     {now.Add(time.Hour).Format(http.TimeFormat)},
		},
	}
	if err := store.EvictInvalidated(context.Background(), postReq, resp); err != nil {
		t.Fatalf("EvictInvalidated: %v", err)
	}

	got, _, _, err := store.Lookup(context.Background(), otherReq)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got != nil {
		t.Error("expected the secondary target to be invalidated when its ETag differs and its Date predates the response's")
	}
}

func TestStoreEvictInvalidatedSecondaryTargetFallsBackToEvictWhenUnorderable(t *testing.T) {
	now := time.Now()
	store := newTestStore(NewMemoryCache(), now)

	otherReq := httptest.NewRequest(http.MethodGet, "http://example.com/other", nil)
	otherEntry := leafEntryFor(otherReq, now, 100, "other-payload")
	// No ETag set on the stored entry: comparison is unorderable.
	if err := store.Store(context.Background(), otherReq, otherEntry); err != nil {
		t.Fatalf("Store other: %v", err)
	}

	postReq := httptest.NewRequest(http.MethodPost, "http://example.com/a", nil)
	resp := &http.Response{
		StatusCode: 200,
		Header: http.Header{
			"Location": {"/other"},
			"Date":     {now.Add(time.Hour).Format(http.TimeFormat)},
		},
	}
	if err := store.EvictInvalidated(context.Background(), postReq, resp); err != nil {
		t.Fatalf("EvictInvalidated: %v", err)
	}

	got, _, _, err := store.Lookup(context.Background(), otherReq)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got != nil {
		t.Error("expected an unorderable ETag/Date comparison to conservatively evict the secondary target")
	}
}

func TestStoreEvictInvalidatedSkips4xxResponse(t *testing.T) {
	now := time.Now()
	store := newTestStore(NewMemoryCache(), now)
	getReq := httptest.NewRequest(http.MethodGet, "http://example.com/a", nil)
	entry := leafEntryFor(getReq, now, 100, "payload")
	if err := store.Store(context.Background(), getReq, entry); err != nil {
		t.Fatalf("Store: %v", err)
	}

	postReq := httptest.NewRequest(http.MethodPost, "http://example.com/a", nil)
	resp := &http.Response{StatusCode: http.StatusNotFound}
	if err := store.EvictInvalidated(context.Background(), postReq, resp); err != nil {
		t.Fatalf("EvictInvalidated: %v", err)
	}

	got, _, _, err := store.Lookup(context.Background(), getReq)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got == nil {
		t.Error("expected a 404 response to never invalidate the cache")
	}
}

func TestStoreEvictInvalidatedOnUnsafeMethod(t *testing.T) {
	now := time.Now()
	store := newTestStore(NewMemoryCache(), now)
	getReq := httptest.NewRequest(http.MethodGet, "http://example.com/a", nil)
	entry := leafEntryFor(getReq, now, 100, "payload")
	if err := store.Store(context.Background(), getReq, entry); err != nil {
		t.Fatalf("Store: %v", err)
	}

	postReq := httptest.NewRequest(http.MethodPost, "http://example.com/a", nil)
	resp := &http.Response{StatusCode: 200}
	if err := store.EvictInvalidated(context.Background(), postReq, resp); err != nil {
		t.Fatalf("EvictInvalidated: %v", err)
	}

	got, _, _, err := store.Lookup(context.Background(), getReq)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got != nil {
		t.Error("expected the unsafe POST to invalidate the cached GET response")
	}
}

func TestStoreEvictInvalidatedSkipsSafeMethod(t *testing.T) {
	now := time.Now()
	store := newTestStore(NewMemoryCache(), now)
	getReq := httptest.NewRequest(http.MethodGet, "http://example.com/a", nil)
	entry := leafEntryFor(getReq, now, 100, "payload")
	if err := store.Store(context.Background(), getReq, entry); err != nil {
		t.Fatalf("Store: %v", err)
	}

	secondGet := httptest.NewRequest(http.MethodGet, "http://example.com/a", nil)
	resp := &http.Response{StatusCode: 200}
	if err := store.EvictInvalidated(context.Background(), secondGet, resp); err != nil {
		t.Fatalf("EvictInvalidated: %v", err)
	}

	got, _, _, err := store.Lookup(context.Background(), getReq)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got == nil {
		t.Error("expected a safe GET to not invalidate the cache")
	}
}
