package httpcache

import (
	"context"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Revalidator dispatches background stale-while-revalidate refreshes
// (RFC 5861 Section 3) off a bounded worker pool built on
// golang.org/x/sync/errgroup's SetLimit, so background refreshes cannot
// pile up unboundedly under sustained traffic against a slow or down
// origin. The origin call itself runs through the same Collapser the
// foreground miss path uses, so a background refresh racing a foreground
// request for the same effective request collapses onto one origin call
// instead of two. inFlight is a separate, cheaper guard that skips
// scheduling a second background-refresh goroutine for a key that already
// has one queued or running; it is bookkeeping for the pool, not a
// substitute for Collapser's leader/follower dedup of the actual call.
type Revalidator struct {
	transport Transport
	store     *Store
	collapser *Collapser

	group *errgroup.Group

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewRevalidator constructs a Revalidator whose pool admits at most
// poolSize concurrent background refreshes. collapser should be the same
// Collapser the engine's foreground miss path uses.
func NewRevalidator(transport Transport, store *Store, poolSize int, collapser *Collapser) *Revalidator {
	if poolSize <= 0 {
		poolSize = 1
	}
	g := &errgroup.Group{}
	g.SetLimit(poolSize)
	return &Revalidator{
		transport: transport,
		store:     store,
		collapser: collapser,
		group:     g,
		inFlight:  make(map[string]struct{}),
	}
}

// TriggerAsync schedules a background revalidation of entry (stored at
// key) and returns immediately without waiting for a pool slot. A second
// trigger for the same key while one is already in flight or queued is a
// silent no-op, since one refresh makes any queued duplicate redundant.
func (r *Revalidator) TriggerAsync(ctx context.Context, req *http.Request, entry *CacheEntry, key string) {
	r.mu.Lock()
	if _, busy := r.inFlight[key]; busy {
		r.mu.Unlock()
		return
	}
	r.inFlight[key] = struct{}{}
	r.mu.Unlock()

	go func() {
		r.group.Go(func() error {
			defer func() {
				r.mu.Lock()
				delete(r.inFlight, key)
				r.mu.Unlock()
			}()
			r.revalidate(ctx, req, entry, key)
			return nil
		})
	}()
}

func (r *Revalidator) revalidate(ctx context.Context, req *http.Request, entry *CacheEntry, key string) {
	log := GetLogger()
	condReq := BuildConditionalRequest(req, entry)
	if variants, err := r.store.Variants(ctx, req); err == nil && len(variants) > 1 {
		condReq = BuildMultiConditionalRequest(req, variants)
	}

	resp, err := r.collapser.Do(collapseKey(condReq), func() (*http.Response, error) {
		return r.transport.Proceed(ctx, condReq)
	})
	if err != nil {
		log.Warn("background revalidation failed", "key", key, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		if _, err := r.store.MergeRevalidated(ctx, key, entry, resp); err != nil {
			log.Warn("background revalidation merge failed", "key", key, "error", err)
		}
		return
	}

	if !IsCacheable(req, resp, CacheabilityParams{IsSharedCache: false}) {
		return
	}

	updated, err := newEntryFromResponse(req, resp, entry.RequestInstant)
	if err != nil {
		log.Warn("background revalidation entry build failed", "key", key, "error", err)
		return
	}
	if err := r.store.Store(ctx, req, updated); err != nil {
		log.Warn("background revalidation store failed", "key", key, "error", err)
	}
}
