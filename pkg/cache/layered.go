package cache

import (
	"context"
	"time"
)

// LayeredCache implements two-level cache (L1: Memory, L2: Redis).
type LayeredCache struct {
	memCache   *MemoryCache
	redisCache *RedisCache
}

// NewLayeredCache creates a layered cache with memory in front of Redis.
func NewLayeredCache(redisCache *RedisCache, opts ...LayeredOption) *LayeredCache {
	cfg := &LayeredConfig{
		MemoryMaxSizeBytes: 64 << 20, // 64 MiB in front of the shared layer
		MemoryDefaultTTL:   time.Hour,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return &LayeredCache{
		memCache: NewMemoryCache(
			WithMaxSizeBytes(cfg.MemoryMaxSizeBytes),
			WithDefaultTTL(cfg.MemoryDefaultTTL),
		),
		redisCache: redisCache,
	}
}

var _ Service = (*LayeredCache)(nil)

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	// Write-through: Redis first, then memory
	if err := lc.redisCache.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	_ = lc.memCache.Set(ctx, key, value, ttl)
	return nil
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	if err := lc.memCache.Get(ctx, key, dest); err == nil {
		return nil
	}

	if err := lc.redisCache.Get(ctx, key, dest); err != nil {
		return err
	}

	// Populate L1 for the next reader. Redis hands back the unmarshalled
	// form, so store what landed in dest.
	_ = lc.memCache.Set(ctx, key, deref(dest), 0)
	return nil
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) (int, error) {
	_, _ = lc.memCache.Delete(ctx, keys...)
	return lc.redisCache.Delete(ctx, keys...)
}

func (lc *LayeredCache) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	_, _ = lc.memCache.DeletePrefix(ctx, prefix)
	return lc.redisCache.DeletePrefix(ctx, prefix)
}

func (lc *LayeredCache) Clear(ctx context.Context) error {
	_ = lc.memCache.Clear(ctx)
	return lc.redisCache.Clear(ctx)
}

// Stats combines L1 counters with the L2 hit/miss counts.
func (lc *LayeredCache) Stats() Stats {
	s := lc.memCache.Stats()
	r := lc.redisCache.Stats()
	s.Hits += r.Hits
	s.Misses = r.Misses // an L1 miss that L2 serves is still a hit overall
	return s
}

// Close closes both cache layers.
func (lc *LayeredCache) Close() error {
	_ = lc.memCache.Close()
	return lc.redisCache.Close()
}
