package cache

import (
	"context"
	"errors"
	"time"
)

var (
	ErrCacheMiss = errors.New("cache: key not found")
)

// Service defines cache operations interface.
//
// TTL semantics: ttl == 0 uses the configured default, ttl < 0 stores the
// entry without expiration.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) (int, error)
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Clear(ctx context.Context) error
	Stats() Stats
	Close() error
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Evictions   uint64 `json:"evictions"`
	Expirations uint64 `json:"expirations"`
	Entries     int    `json:"entries"`
	SizeBytes   int64  `json:"size_bytes"`
}

// HitRate returns hits / (hits + misses), 0 when no lookups happened.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// GetOrCompute returns the cached value for key, or runs compute and stores
// the result. Not single-flight: concurrent callers may all compute. The
// cache is best effort; a failed backend read counts as a miss and a failed
// write is not surfaced.
func GetOrCompute[T any](ctx context.Context, c Service, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	var cached T
	if err := c.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	value, err := compute(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	_ = c.Set(ctx, key, value, ttl)
	return value, nil
}
