package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinScreen/internal/domain/models"
	"FinScreen/pkg/cache"
	applogger "FinScreen/pkg/logger"
)

func testLogger(t *testing.T) *applogger.Logger {
	t.Helper()
	l, err := applogger.New(&applogger.Config{Level: "error", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	return l
}

func cachedFixture(t *testing.T, opts ...CachedOption) (*CachedProvider, *MockProvider) {
	t.Helper()
	mock := NewMockProvider(DefaultMockSeed)
	store := cache.NewMemoryCache()
	t.Cleanup(func() { _ = store.Close() })
	return NewCachedProvider(testLogger(t), mock, store, opts...), mock
}

type countingCollector struct {
	mutex  sync.Mutex
	counts map[string]int64
}

func (c *countingCollector) Timing(string, time.Duration, map[string]string) {}

func (c *countingCollector) Count(name string, n int64, labels map[string]string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int64)
	}
	c.counts[name+":"+labels["operation"]] += n
}

func (c *countingCollector) Gauge(string, float64, map[string]string) {}

func (c *countingCollector) Snapshot() map[string]models.MetricSummary { return nil }

func (c *countingCollector) count(key string) int64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.counts[key]
}

func TestCachedProviderMarketDataSingleUnderlyingCall(t *testing.T) {
	cp, mock := cachedFixture(t)
	ctx := context.Background()
	start := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)

	first, err := cp.MarketData(ctx, []string{"AAPL", "MSFT"}, start, end)
	require.NoError(t, err)
	// Symbol order must not change the key.
	second, err := cp.MarketData(ctx, []string{"MSFT", "AAPL"}, start, end)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, mock.Calls(OpMarketData))
	assert.Equal(t, OpStats{Hits: 1, Misses: 1}, cp.OpStats(OpMarketData))
}

func TestCachedProviderDistinguishesWindows(t *testing.T) {
	cp, mock := cachedFixture(t)
	ctx := context.Background()
	start := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)

	_, err := cp.MarketData(ctx, []string{"AAPL"}, start, end)
	require.NoError(t, err)
	_, err = cp.MarketData(ctx, []string{"AAPL"}, start.AddDate(0, 0, -1), end)
	require.NoError(t, err)

	assert.Equal(t, 2, mock.Calls(OpMarketData))
	assert.Equal(t, OpStats{Hits: 0, Misses: 2}, cp.OpStats(OpMarketData))
}

func TestCachedProviderPassThroughs(t *testing.T) {
	cp, mock := cachedFixture(t)
	ctx := context.Background()
	start := asOf2024.AddDate(0, 0, -30)

	for i := 0; i < 2; i++ {
		_, err := cp.Assets(ctx, models.AssetClassStock, asOf2024)
		require.NoError(t, err)
		_, err = cp.QualityMetrics(ctx, []string{"AAPL"}, start, asOf2024)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, mock.Calls(OpAssets))
	assert.Equal(t, 2, mock.Calls(OpQuality))
	assert.Equal(t, OpStats{}, cp.OpStats(OpAssets))
	assert.Equal(t, OpStats{}, cp.OpStats(OpQuality))
}

func TestCachedProviderMetadataInvalidation(t *testing.T) {
	cp, mock := cachedFixture(t)
	ctx := context.Background()

	_, err := cp.Metadata(ctx, []string{"AAPL"})
	require.NoError(t, err)
	_, err = cp.Metadata(ctx, []string{"AAPL"})
	require.NoError(t, err)
	require.Equal(t, 1, mock.Calls(OpMetadata))

	assert.Equal(t, 1, cp.InvalidateMetadata(ctx))

	_, err = cp.Metadata(ctx, []string{"AAPL"})
	require.NoError(t, err)
	assert.Equal(t, 2, mock.Calls(OpMetadata))
}

func TestCachedProviderErrorNotCached(t *testing.T) {
	cp, mock := cachedFixture(t)
	ctx := context.Background()
	start := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)
	boom := errors.New("platform down")

	mock.FailNext(OpMarketData, 1, boom)

	_, err := cp.MarketData(ctx, []string{"AAPL"}, start, end)
	require.ErrorIs(t, err, boom)

	bars, err := cp.MarketData(ctx, []string{"AAPL"}, start, end)
	require.NoError(t, err)
	assert.NotEmpty(t, bars["AAPL"])
	assert.Equal(t, OpStats{Hits: 0, Misses: 2}, cp.OpStats(OpMarketData))
	assert.Equal(t, 2, mock.Calls(OpMarketData))
}

func TestCachedProviderEmitsMetrics(t *testing.T) {
	collector := &countingCollector{}
	cp, _ := cachedFixture(t, WithCacheMetrics(collector))
	ctx := context.Background()
	start := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)

	_, err := cp.MarketData(ctx, []string{"AAPL"}, start, end)
	require.NoError(t, err)
	_, err = cp.MarketData(ctx, []string{"AAPL"}, start, end)
	require.NoError(t, err)

	assert.Equal(t, int64(1), collector.count("cache_miss:market_data"))
	assert.Equal(t, int64(1), collector.count("cache_hit:market_data"))
}
