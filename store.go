package httpcache

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Store is the cache store facade: it turns a Storage backend's flat
// key/value CAS primitive into the root-entry/variant-entry model entry.go
// and cachekey.go define, and layers on RFC 9111 Section 4.4 invalidation.
// It holds no origin-call logic; that belongs to engine.go.
type Store struct {
	backend              Storage
	sharedCache          bool
	heuristicCoefficient float64
	maxCASRetries        int
	clock                timer
}

// NewStore constructs a Store over backend. maxCASRetries bounds the
// compare-and-swap retry loop used when updating a root entry's variant
// index; defaults to 3 when not positive.
func NewStore(backend Storage, sharedCache bool, heuristicCoefficient float64, maxCASRetries int) *Store {
	if maxCASRetries <= 0 {
		maxCASRetries = 3
	}
	return &Store{
		backend:              backend,
		sharedCache:          sharedCache,
		heuristicCoefficient: heuristicCoefficient,
		maxCASRetries:        maxCASRetries,
		clock:                realClock{},
	}
}

// Lookup finds the best-matching stored variant for req, if any, and
// classifies its suitability. entry is nil when no variant matches at all
// (a cache miss); key is the variant's storage key, needed by callers that
// go on to revalidate and then call MergeRevalidated or Replace.
func (s *Store) Lookup(ctx context.Context, req *http.Request) (entry *CacheEntry, key string, suit Suitability, err error) {
	root := RootKey(req)
	candidates, err := s.loadCandidates(ctx, root)
	if err != nil {
		return nil, "", Mismatch, err
	}

	best, bestKey := selectVariant(candidates, req)
	if best == nil {
		return nil, "", Mismatch, nil
	}

	suit = Evaluate(best, req, SuitabilityParams{
		Now:                  s.clock.now(),
		IsSharedCache:        s.sharedCache,
		HeuristicCoefficient: s.heuristicCoefficient,
	})
	return best, bestKey, suit, nil
}

// loadCandidates returns every stored variant entry for root, keyed by
// their storage key.
func (s *Store) loadCandidates(ctx context.Context, root string) (map[string]*CacheEntry, error) {
	rootObj, ok, err := s.backend.Get(ctx, root)
	if err != nil {
		return nil, wrapStorageErr("get", root, err)
	}
	if !ok {
		return nil, nil
	}
	rootEntry, err := UnmarshalRootEntry(root, rootObj.Data)
	if err != nil {
		if err == ErrKeyMismatch {
			return nil, nil
		}
		return nil, err
	}
	if len(rootEntry.Variants) == 0 {
		return nil, nil
	}

	objs, err := s.backend.GetMany(ctx, rootEntry.Variants)
	if err != nil {
		return nil, wrapStorageErr("getmany", root, err)
	}

	out := make(map[string]*CacheEntry, len(objs))
	for key, obj := range objs {
		leaf, err := UnmarshalLeafEntry(key, obj.Data)
		if err != nil {
			continue // corrupt or key-mismatched entry: skip, not fatal
		}
		out[key] = leaf
	}
	return out, nil
}

// selectVariant picks the newest matching candidate for req, per RFC 9111
// Section 4.1's requirement that only one stored response is "selected".
func selectVariant(candidates map[string]*CacheEntry, req *http.Request) (*CacheEntry, string) {
	var best *CacheEntry
	var bestKey string
	for key, candidate := range candidates {
		fields := varyFields(candidate.ResponseHeaders)
		if varyIsWildcard(fields) {
			continue
		}
		if !variantMatches(candidate, req, fields) {
			continue
		}
		if best == nil || candidate.ResponseInstant.After(best.ResponseInstant) {
			best = candidate
			bestKey = key
		}
	}
	return best, bestKey
}

// Variants returns every stored variant entry for req's root key,
// regardless of whether it matches req's own Vary-relevant headers. Used to
// build a multi-variant revalidation request covering every known variant
// of a resource at once.
func (s *Store) Variants(ctx context.Context, req *http.Request) ([]*CacheEntry, error) {
	candidates, err := s.loadCandidates(ctx, RootKey(req))
	if err != nil {
		return nil, err
	}
	out := make([]*CacheEntry, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c)
	}
	return out, nil
}

// Store persists resp as the cached representation of req. Callers must
// have already confirmed cacheability (cacheability.go) before calling
// this; Store does not re-check it. A response whose Vary header contains
// "*" is deliberately not stored: RFC 9111 Section 4.1 allows it to be
// cached but it can never be selected again, so indexing it would only
// waste space.
func (s *Store) Store(ctx context.Context, req *http.Request, entry *CacheEntry) error {
	fields := varyFields(entry.ResponseHeaders)
	if varyIsWildcard(fields) {
		return nil
	}

	root := RootKey(req)
	variantKey := VariantKey(root, req, fields)

	data, err := MarshalLeafEntry(variantKey, entry)
	if err != nil {
		return err
	}
	if err := s.backend.Put(ctx, variantKey, data); err != nil {
		return wrapStorageErr("put", variantKey, err)
	}

	return s.addVariant(ctx, root, variantKey)
}

// addVariant ensures variantKey is listed in root's variant index, via a
// bounded compare-and-swap retry loop: concurrent writers racing to add
// different variants of the same root must not clobber each other.
func (s *Store) addVariant(ctx context.Context, root, variantKey string) error {
	for attempt := 0; attempt < s.maxCASRetries; attempt++ {
		obj, ok, err := s.backend.Get(ctx, root)
		if err != nil {
			return wrapStorageErr("get", root, err)
		}

		var variants []string
		token := ""
		if ok {
			token = obj.Token
			rootEntry, err := UnmarshalRootEntry(root, obj.Data)
			if err == nil {
				variants = rootEntry.Variants
			} else if err != ErrKeyMismatch {
				return err
			}
		}

		if containsString(variants, variantKey) {
			return nil
		}
		variants = append(variants, variantKey)

		data, err := MarshalRootEntry(root, &CacheEntry{RequestURI: root, Variants: variants})
		if err != nil {
			return err
		}

		swapped, err := s.backend.CompareAndSwap(ctx, root, token, data)
		if err != nil {
			return wrapStorageErr("cas", root, err)
		}
		if swapped {
			return nil
		}
		// token mismatch: another writer updated the index first, retry
		// against the fresh state.
	}
	return ErrUpdateExhausted
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// Replace overwrites the stored entry at key unconditionally, used after a
// successful background revalidation produces a new representation that
// already occupies its correct variant key.
func (s *Store) Replace(ctx context.Context, key string, entry *CacheEntry) error {
	data, err := MarshalLeafEntry(key, entry)
	if err != nil {
		return err
	}
	if err := s.backend.Put(ctx, key, data); err != nil {
		return wrapStorageErr("put", key, err)
	}
	return nil
}

// MergeRevalidated merges a 304 response into the entry currently stored at
// key and persists the result, per RFC 9111 Section 4.3.4. The merge is
// applied via a bounded compare-and-swap retry loop (mirroring addVariant)
// rather than an unconditional Put, so two concurrent revalidations of the
// same key cannot lose one's header updates to the other.
func (s *Store) MergeRevalidated(ctx context.Context, key string, candidate *CacheEntry, notModified *http.Response) (*CacheEntry, error) {
	for attempt := 0; attempt < s.maxCASRetries; attempt++ {
		base := candidate
		token := ""

		obj, ok, err := s.backend.Get(ctx, key)
		if err != nil {
			return nil, wrapStorageErr("get", key, err)
		}
		if ok {
			token = obj.Token
			if stored, err := UnmarshalLeafEntry(key, obj.Data); err == nil {
				base = stored
			} else if err != ErrKeyMismatch {
				return nil, err
			}
		}

		updated := MergeNotModified(base, notModified, s.clock.now())
		data, err := MarshalLeafEntry(key, updated)
		if err != nil {
			return nil, err
		}

		swapped, err := s.backend.CompareAndSwap(ctx, key, token, data)
		if err != nil {
			return nil, wrapStorageErr("cas", key, err)
		}
		if swapped {
			return updated, nil
		}
		// token mismatch: another revalidation updated the entry first,
		// retry the merge against the fresh state.
	}
	return nil, ErrUpdateExhausted
}

// EvictInvalidated implements RFC 9111 Section 4.4: an unsafe request
// method paired with a 2xx/3xx response unconditionally invalidates any
// stored representation of the effective request URI. The URIs named by
// the response's Location and Content-Location headers, when they share
// the request's origin, are secondary invalidation targets: those are only
// evicted when the stored entry's ETag differs from the response's and the
// stored entry's Date is older than the response's Date, falling back to
// eviction when either side's data is missing or unorderable. 4xx/5xx
// responses never invalidate anything, including 404/405/410.
func (s *Store) EvictInvalidated(ctx context.Context, req *http.Request, resp *http.Response) error {
	if isSafeMethod(req.Method) {
		return nil
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusBadRequest {
		return nil
	}

	root := RootKey(req)
	if err := s.evictRoot(ctx, root); err != nil {
		return err
	}

	respETag := resp.Header.Get("ETag")
	respDate, hasRespDate := DateHeader(resp.Header)

	for _, header := range []string{"Location", "Content-Location"} {
		v := resp.Header.Get(header)
		if v == "" {
			continue
		}
		target, ok := sameOriginTarget(req, v)
		if !ok || target == root {
			continue
		}
		if err := s.evictSecondaryTarget(ctx, target, respETag, respDate, hasRespDate); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) evictRoot(ctx context.Context, root string) error {
	obj, ok, err := s.backend.Get(ctx, root)
	if err != nil {
		return wrapStorageErr("get", root, err)
	}
	if ok {
		if rootEntry, err := UnmarshalRootEntry(root, obj.Data); err == nil {
			for _, variantKey := range rootEntry.Variants {
				if err := s.backend.Remove(ctx, variantKey); err != nil {
					return wrapStorageErr("remove", variantKey, err)
				}
			}
		}
	}
	return wrapStorageErr("remove", root, s.backend.Remove(ctx, root))
}

// evictSecondaryTarget applies the conservative ETag/Date precondition to
// every variant stored under root before removing it, rather than deleting
// the whole root index unconditionally.
func (s *Store) evictSecondaryTarget(ctx context.Context, root, respETag string, respDate time.Time, hasRespDate bool) error {
	obj, ok, err := s.backend.Get(ctx, root)
	if err != nil {
		return wrapStorageErr("get", root, err)
	}
	if !ok {
		return nil
	}
	rootEntry, err := UnmarshalRootEntry(root, obj.Data)
	if err != nil {
		if err == ErrKeyMismatch {
			return nil
		}
		return err
	}
	if len(rootEntry.Variants) == 0 {
		return nil
	}

	objs, err := s.backend.GetMany(ctx, rootEntry.Variants)
	if err != nil {
		return wrapStorageErr("getmany", root, err)
	}

	var toRemove []string
	for _, variantKey := range rootEntry.Variants {
		variantObj, ok := objs[variantKey]
		if !ok {
			continue
		}
		leaf, err := UnmarshalLeafEntry(variantKey, variantObj.Data)
		if err != nil {
			toRemove = append(toRemove, variantKey) // corrupt or mismatched entry: conservative evict
			continue
		}
		if shouldInvalidateSecondary(leaf, respETag, respDate, hasRespDate) {
			toRemove = append(toRemove, variantKey)
		}
	}
	if len(toRemove) == 0 {
		return nil
	}

	for _, variantKey := range toRemove {
		if err := s.backend.Remove(ctx, variantKey); err != nil {
			return wrapStorageErr("remove", variantKey, err)
		}
	}
	if len(toRemove) == len(rootEntry.Variants) {
		return wrapStorageErr("remove", root, s.backend.Remove(ctx, root))
	}

	removed := make(map[string]struct{}, len(toRemove))
	for _, k := range toRemove {
		removed[k] = struct{}{}
	}
	remaining := make([]string, 0, len(rootEntry.Variants)-len(toRemove))
	for _, v := range rootEntry.Variants {
		if _, gone := removed[v]; !gone {
			remaining = append(remaining, v)
		}
	}
	data, err := MarshalRootEntry(root, &CacheEntry{RequestURI: root, Variants: remaining})
	if err != nil {
		return err
	}
	return wrapStorageErr("put", root, s.backend.Put(ctx, root, data))
}

// shouldInvalidateSecondary decides whether a stored variant targeted by a
// Location/Content-Location header should be evicted: only when its ETag
// differs from the response's and its Date predates the response's Date.
// When either side lacks an ETag or a Date to compare, the comparison is
// unorderable and the conservative choice is to evict.
func shouldInvalidateSecondary(stored *CacheEntry, respETag string, respDate time.Time, hasRespDate bool) bool {
	storedETag := stored.ResponseHeaders.Get("ETag")
	storedDate, hasStoredDate := DateHeader(stored.ResponseHeaders)
	if !hasStoredDate {
		storedDate = stored.ResponseInstant
		hasStoredDate = true
	}

	if storedETag == "" || respETag == "" || !hasStoredDate || !hasRespDate {
		return true
	}
	return storedETag != respETag && storedDate.Before(respDate)
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

// sameOriginTarget resolves ref against req's URL and, if the result
// shares req's scheme and host, returns its root cache key.
func sameOriginTarget(req *http.Request, ref string) (string, bool) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	resolved := req.URL.ResolveReference(u)
	if !strings.EqualFold(resolved.Scheme, req.URL.Scheme) || !strings.EqualFold(resolved.Host, req.URL.Host) {
		return "", false
	}
	fake := &http.Request{URL: resolved}
	return RootKey(fake), true
}
