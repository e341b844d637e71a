package repository

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"FinScreen/internal/domain/models"
	domrepo "FinScreen/internal/domain/repository"
	"FinScreen/pkg/cache"
	applogger "FinScreen/pkg/logger"
)

// Default TTLs for the two cached operations. Historical bars change only
// when the platform backfills, metadata on corporate actions.
const (
	DefaultMarketDataTTL = time.Hour
	DefaultMetadataTTL   = 24 * time.Hour
)

// OpStats counts cache hits and misses for one provider operation.
type OpStats struct {
	Hits   int `json:"hits"`
	Misses int `json:"misses"`
}

// CachedProvider decorates a Provider with read-through caching for the two
// expensive bulk reads, market data and metadata. Universe listings and
// quality metrics are date-sensitive and always go to the underlying
// provider.
type CachedProvider struct {
	logger       *applogger.Logger
	provider     domrepo.Provider
	store        cache.Service
	metrics      domrepo.MetricsCollector
	observeFetch func(operation string, seconds float64)

	marketDataTTL time.Duration
	metadataTTL   time.Duration

	mutex  sync.Mutex
	hits   map[string]int
	misses map[string]int
}

// CachedOption configures a CachedProvider.
type CachedOption func(*CachedProvider)

// WithMarketDataTTL overrides the market data entry lifetime.
func WithMarketDataTTL(ttl time.Duration) CachedOption {
	return func(cp *CachedProvider) {
		cp.marketDataTTL = ttl
	}
}

// WithMetadataTTL overrides the metadata entry lifetime.
func WithMetadataTTL(ttl time.Duration) CachedOption {
	return func(cp *CachedProvider) {
		cp.metadataTTL = ttl
	}
}

// WithCacheMetrics emits cache_hit / cache_miss counts per operation.
func WithCacheMetrics(m domrepo.MetricsCollector) CachedOption {
	return func(cp *CachedProvider) {
		cp.metrics = m
	}
}

// WithFetchObserver times provider round trips on cache misses.
func WithFetchObserver(observe func(operation string, seconds float64)) CachedOption {
	return func(cp *CachedProvider) {
		cp.observeFetch = observe
	}
}

// NewCachedProvider wraps provider with the given cache backend.
func NewCachedProvider(lgr *applogger.Logger, provider domrepo.Provider, store cache.Service, opts ...CachedOption) *CachedProvider {
	cp := &CachedProvider{
		logger:        lgr,
		provider:      provider,
		store:         store,
		marketDataTTL: DefaultMarketDataTTL,
		metadataTTL:   DefaultMetadataTTL,
		hits:          make(map[string]int),
		misses:        make(map[string]int),
	}
	for _, opt := range opts {
		opt(cp)
	}
	return cp
}

// Assets is a pass-through: listings and delistings must be visible on the
// next run, so the universe is never cached.
func (cp *CachedProvider) Assets(ctx context.Context, class models.AssetClass, asOf time.Time) ([]models.Asset, error) {
	return cp.provider.Assets(ctx, class, asOf)
}

func (cp *CachedProvider) MarketData(ctx context.Context, symbols []string, start, end time.Time) (models.MarketDataBySymbol, error) {
	key := cache.Key(OpMarketData, map[string]interface{}{
		"symbols": joinSorted(symbols),
		"start":   start.UTC().Format(time.RFC3339),
		"end":     end.UTC().Format(time.RFC3339),
	})

	var cached models.MarketDataBySymbol
	if hit := cp.lookup(ctx, OpMarketData, key, &cached); hit {
		return cached, nil
	}

	fetchStart := time.Now()
	data, err := cp.provider.MarketData(ctx, symbols, start, end)
	if err != nil {
		return nil, err
	}
	cp.timeFetch(OpMarketData, fetchStart)
	cp.put(ctx, OpMarketData, key, data, cp.marketDataTTL)
	return data, nil
}

func (cp *CachedProvider) Metadata(ctx context.Context, symbols []string) (models.MetadataBySymbol, error) {
	key := cache.Key(OpMetadata, map[string]interface{}{
		"symbols": joinSorted(symbols),
	})

	var cached models.MetadataBySymbol
	if hit := cp.lookup(ctx, OpMetadata, key, &cached); hit {
		return cached, nil
	}

	fetchStart := time.Now()
	meta, err := cp.provider.Metadata(ctx, symbols)
	if err != nil {
		return nil, err
	}
	cp.timeFetch(OpMetadata, fetchStart)
	cp.put(ctx, OpMetadata, key, meta, cp.metadataTTL)
	return meta, nil
}

// QualityMetrics is a pass-through: quality is recomputed against the
// requested window and staleness here would defeat the quality filter.
func (cp *CachedProvider) QualityMetrics(ctx context.Context, symbols []string, start, end time.Time) (models.QualityBySymbol, error) {
	return cp.provider.QualityMetrics(ctx, symbols, start, end)
}

// InvalidateMarketData drops every cached market data entry, returning the
// number removed.
func (cp *CachedProvider) InvalidateMarketData(ctx context.Context) int {
	return cp.invalidate(ctx, OpMarketData)
}

// InvalidateMetadata drops every cached metadata entry, returning the number
// removed.
func (cp *CachedProvider) InvalidateMetadata(ctx context.Context) int {
	return cp.invalidate(ctx, OpMetadata)
}

// OpStats returns the hit/miss counters for one operation.
func (cp *CachedProvider) OpStats(op string) OpStats {
	cp.mutex.Lock()
	defer cp.mutex.Unlock()
	return OpStats{Hits: cp.hits[op], Misses: cp.misses[op]}
}

// CacheStats snapshots the backing store counters.
func (cp *CachedProvider) CacheStats() cache.Stats {
	return cp.store.Stats()
}

// lookup reads key into dest and returns true on a hit. Backend errors
// other than a miss are logged and treated as a miss.
func (cp *CachedProvider) lookup(ctx context.Context, op, key string, dest interface{}) bool {
	err := cp.store.Get(ctx, key, dest)
	if err == nil {
		cp.record(op, true)
		return true
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		cp.logger.Warn("cache read failed",
			applogger.String("operation", op),
			applogger.Error(err),
		)
	}
	cp.record(op, false)
	return false
}

// put stores best effort; a write failure only costs the next caller a
// provider round trip.
func (cp *CachedProvider) put(ctx context.Context, op, key string, value interface{}, ttl time.Duration) {
	if err := cp.store.Set(ctx, key, value, ttl); err != nil {
		cp.logger.Warn("cache write failed",
			applogger.String("operation", op),
			applogger.Error(err),
		)
	}
}

func (cp *CachedProvider) invalidate(ctx context.Context, op string) int {
	removed, err := cp.store.DeletePrefix(ctx, op+":")
	if err != nil {
		cp.logger.Warn("cache invalidation failed",
			applogger.String("operation", op),
			applogger.Error(err),
		)
		return 0
	}
	cp.logger.Info("cache invalidated",
		applogger.String("operation", op),
		applogger.Int("removed", removed),
	)
	return removed
}

func (cp *CachedProvider) timeFetch(op string, start time.Time) {
	if cp.observeFetch == nil {
		return
	}
	cp.observeFetch(op, time.Since(start).Seconds())
}

func (cp *CachedProvider) record(op string, hit bool) {
	cp.mutex.Lock()
	if hit {
		cp.hits[op]++
	} else {
		cp.misses[op]++
	}
	cp.mutex.Unlock()

	if cp.metrics == nil {
		return
	}
	name := "cache_miss"
	if hit {
		name = "cache_hit"
	}
	cp.metrics.Count(name, 1, map[string]string{"operation": op})
}

// joinSorted canonicalizes a symbol list so argument order does not change
// the cache key.
func joinSorted(symbols []string) string {
	sorted := make([]string, len(symbols))
	copy(sorted, symbols)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

var _ domrepo.Provider = (*CachedProvider)(nil)
