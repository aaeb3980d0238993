// Package multicache provides a multi-tiered Storage implementation that
// allows cascading through multiple backends with automatic fallback and
// promotion. This enables sophisticated caching strategies with different
// performance and persistence characteristics at each tier.
package multicache

import (
	"context"

	httpcache "github.com/corewell/httpcache"
)

// MultiCache implements a multi-tiered caching strategy where cache tiers
// are ordered from fastest/smallest (first) to slowest/largest (last). On
// reads, it searches each tier in order and promotes found values to
// faster tiers. On writes, it stores to all tiers.
//
// The first tier is authoritative for compare-and-swap: CompareAndSwap
// checks and updates tier[0] only, then best-effort promotes the new value
// to every other tier. This avoids needing a cross-backend token format,
// since each tier's CAS token is opaque to the others.
//
// Example use case:
//   - Tier 1: In-memory (fast, small, volatile)
//   - Tier 2: Redis (medium speed, larger, persistent)
//   - Tier 3: PostgreSQL (slower, largest, highly persistent)
type MultiCache struct {
	tiers []httpcache.Storage
}

// New creates a MultiCache with the specified storage tiers, ordered from
// fastest/smallest to slowest/largest. Returns nil if no tiers are
// provided, any tier is nil, or duplicate tiers are detected.
func New(tiers ...httpcache.Storage) *MultiCache {
	if len(tiers) == 0 {
		return nil
	}

	seen := make(map[httpcache.Storage]bool)
	for _, tier := range tiers {
		if tier == nil {
			return nil
		}
		if seen[tier] {
			return nil
		}
		seen[tier] = true
	}

	return &MultiCache{tiers: tiers}
}

// Get searches each tier in order, starting with the fastest. When a value
// is found in a slower tier, it is promoted (written) to all faster tiers
// for subsequent quick access.
func (c *MultiCache) Get(ctx context.Context, key string) (*httpcache.StoredObject, bool, error) {
	for i, tier := range c.tiers {
		obj, ok, err := tier.Get(ctx, key)
		if err != nil {
			return nil, false, err
		}
		if ok {
			_ = c.promoteToFasterTiers(ctx, key, obj.Data, i) //nolint:errcheck // promotion is best-effort
			return obj, true, nil
		}
	}
	return nil, false, nil
}

// GetMany resolves each key against the tier chain independently, so a key
// present only in a slow tier doesn't block a key present in a fast tier.
// Any key found is promoted to every faster tier.
func (c *MultiCache) GetMany(ctx context.Context, keys []string) (map[string]*httpcache.StoredObject, error) {
	out := make(map[string]*httpcache.StoredObject, len(keys))
	for _, key := range keys {
		obj, ok, err := c.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			out[key] = obj
		}
	}
	return out, nil
}

// Put stores data in all cache tiers.
func (c *MultiCache) Put(ctx context.Context, key string, data []byte) error {
	for _, tier := range c.tiers {
		if err := tier.Put(ctx, key, data); err != nil {
			return err
		}
	}
	return nil
}

// Remove removes key from all cache tiers.
func (c *MultiCache) Remove(ctx context.Context, key string) error {
	for _, tier := range c.tiers {
		if err := tier.Remove(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// CompareAndSwap performs the compare-and-swap against the authoritative
// first tier; on success, the new value is best-effort promoted to every
// other tier unconditionally, since those tiers cache tier[0]'s truth
// rather than holding independent state.
func (c *MultiCache) CompareAndSwap(ctx context.Context, key, token string, data []byte) (bool, error) {
	swapped, err := c.tiers[0].CompareAndSwap(ctx, key, token, data)
	if err != nil || !swapped {
		return swapped, err
	}
	for _, tier := range c.tiers[1:] {
		_ = tier.Put(ctx, key, data) //nolint:errcheck // secondary tiers are best-effort
	}
	return true, nil
}

// promoteToFasterTiers writes data to all tiers faster than the one where
// it was found.
func (c *MultiCache) promoteToFasterTiers(ctx context.Context, key string, data []byte, foundAtTier int) error {
	for i := 0; i < foundAtTier; i++ {
		if err := c.tiers[i].Put(ctx, key, data); err != nil {
			return err
		}
	}
	return nil
}
