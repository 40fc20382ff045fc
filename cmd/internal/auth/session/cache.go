package session

import (
	"time"

	"tally/cmd/internal/metrics"

	"github.com/jellydator/ttlcache/v3"
)

// ValidityCache answers "does this user have a live session" without a store
// round-trip on every authenticated request.
//
// Only positive liveness is cached. A cached negative would let a pre-login
// probe mask a fresh login for up to the TTL; a cached positive is removed by
// Logout and refreshed by every issue. The cache is a pure accelerator:
// dropping it entirely only costs store round-trips. Its one behavioral
// effect is bounded revocation staleness: a user logged out elsewhere can
// stay "live" here for at most the TTL.
type ValidityCache struct {
	cache     *ttlcache.Cache[string, bool]
	ttl       time.Duration
	collector *metrics.Collector
}

// NewValidityCache constructs a ValidityCache and starts its background
// sweeper. Call Stop on shutdown.
func NewValidityCache(ttl time.Duration, collector *metrics.Collector) *ValidityCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	cache := ttlcache.New(
		ttlcache.WithTTL[string, bool](ttl),
		ttlcache.WithDisableTouchOnHit[string, bool](),
	)
	go cache.Start()

	return &ValidityCache{cache: cache, ttl: ttl, collector: collector}
}

// Get reports the cached liveness for the user and whether an entry existed.
// Expired entries read as absent.
func (c *ValidityCache) Get(userID string) (live bool, ok bool) {
	item := c.cache.Get(cacheKey(userID))
	if item == nil {
		c.collector.RecordCacheMiss()
		return false, false
	}
	c.collector.RecordCacheHit()
	return item.Value(), true
}

// MarkLive records positive liveness with a fresh TTL.
func (c *ValidityCache) MarkLive(userID string) {
	c.cache.Set(cacheKey(userID), true, c.ttl)
}

// Invalidate removes the user's entry. Best-effort revocation propagation;
// other processes learn of the logout when their own entries expire.
func (c *ValidityCache) Invalidate(userID string) {
	c.cache.Delete(cacheKey(userID))
}

// Len reports the number of live entries. For tests.
func (c *ValidityCache) Len() int {
	return c.cache.Len()
}

// Stop halts the background sweeper.
func (c *ValidityCache) Stop() {
	c.cache.Stop()
}

func cacheKey(userID string) string {
	return "user:" + userID + ":active"
}
