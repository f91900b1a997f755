package adapters

import (
	"context"
	"time"

	"github.com/riskguard/decisionengine/internal/domain"
)

// engineTenant is the fixed tenant scope domain.Cache's multi-tenant Get/Set/
// IncrementCounter methods are called under. The decision engine's wire contract
// (spec.md §6) has no tenant concept of its own; one Engine instance serves one
// artifact library, so a constant scope is all domain.Cache's isolation needs.
const engineTenant = "decisionengine"

// CacheCounter implements WindowCounter over any domain.Cache, letting the Community
// tier's in-process LRU cache (or the Pro tier's Redis-backed one) back aggregation
// features without requiring a direct Redis dependency — grounded on
// internal/cache/redis.go's IncrementCounter Lua script, reached here through the
// domain.Cache interface instead of a concrete client.
type CacheCounter struct {
	cache domain.Cache
}

func NewCacheCounter(cache domain.Cache) *CacheCounter {
	return &CacheCounter{cache: cache}
}

func (c *CacheCounter) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	return c.cache.IncrementCounter(ctx, engineTenant, key, window)
}

// CacheKV implements KeyValue over any domain.Cache, backing Feature{kind: lookup} for
// deployments that haven't wired a direct Redis client.
type CacheKV struct {
	cache domain.Cache
}

func NewCacheKV(cache domain.Cache) *CacheKV {
	return &CacheKV{cache: cache}
}

func (c *CacheKV) Get(ctx context.Context, key string) ([]byte, error) {
	return c.cache.Get(ctx, engineTenant, key)
}
