// Package cache fronts recommendation.Store.HasRecent with a Redis
// read-through cache so concurrent detector cycles do not race on a full
// table scan of the recommendations table for the same dedup window.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sawpanic/finengine/internal/detectors"
	"github.com/sawpanic/finengine/internal/recommendation"
)

const keyPrefix = "finengine:recent:"

// RecencyCache embeds a recommendation.Store so it is itself a drop-in
// Store for the orchestrator, overriding only the two operations that
// benefit from a read-through cache.
type RecencyCache struct {
	recommendation.Store
	client        *redis.Client
	dedupeMinutes int
}

// New wraps store with a Redis-backed recency cache. dedupeMinutes is the
// default gating dedup window, used to set the marker TTL after Create.
func New(store recommendation.Store, client *redis.Client, dedupeMinutes int) *RecencyCache {
	return &RecencyCache{Store: store, client: client, dedupeMinutes: dedupeMinutes}
}

// Create persists through the wrapped store and warms the recency marker so
// a subsequent HasRecent check inside the same cycle's dedup window never
// has to fall through to Postgres.
func (c *RecencyCache) Create(ctx context.Context, in recommendation.CreateInput) (*recommendation.Recommendation, error) {
	rec, err := c.Store.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := c.MarkSeen(ctx, in.Kind, c.dedupeMinutes); err != nil {
		return rec, nil
	}
	return rec, nil
}

func cacheKey(kind detectors.Kind) string {
	return keyPrefix + string(kind)
}

// HasRecent answers the orchestrator's dedup check. A cache hit on the
// positive marker short-circuits the Postgres query entirely; a miss falls
// through to the store and, if true, sets the marker with the remaining
// window as its TTL so the next cycle within the window hits Redis.
func (c *RecencyCache) HasRecent(ctx context.Context, kind detectors.Kind, withinMinutes int) (bool, error) {
	key := cacheKey(kind)

	exists, err := c.client.Exists(ctx, key).Result()
	if err != nil && err != redis.Nil {
		return c.Store.HasRecent(ctx, kind, withinMinutes)
	}
	if exists > 0 {
		return true, nil
	}

	recent, err := c.Store.HasRecent(ctx, kind, withinMinutes)
	if err != nil {
		return false, err
	}
	if recent {
		// Best-effort warm; the authoritative answer already came from
		// the store.
		ttl := time.Duration(withinMinutes) * time.Minute
		c.client.Set(ctx, key, "1", ttl)
	}
	return recent, nil
}

// MarkSeen sets the recency marker immediately after a successful create,
// so the cache is warm before the next cycle even queries it.
func (c *RecencyCache) MarkSeen(ctx context.Context, kind detectors.Kind, withinMinutes int) error {
	ttl := time.Duration(withinMinutes) * time.Minute
	if err := c.client.Set(ctx, cacheKey(kind), "1", ttl).Err(); err != nil {
		return fmt.Errorf("recency cache: mark seen: %w", err)
	}
	return nil
}
