package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinScreen/internal/domain/models"
)

var asOf2024 = time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)

func TestMockProviderDeterministicUniverse(t *testing.T) {
	a := NewMockProvider(DefaultMockSeed)
	b := NewMockProvider(DefaultMockSeed)
	ctx := context.Background()

	stocksA, err := a.Assets(ctx, models.AssetClassStock, asOf2024)
	require.NoError(t, err)
	stocksB, err := b.Assets(ctx, models.AssetClassStock, asOf2024)
	require.NoError(t, err)
	assert.Equal(t, stocksA, stocksB)

	window := asOf2024.AddDate(0, 0, -60)
	barsA, err := a.MarketData(ctx, []string{"AAPL"}, window, asOf2024)
	require.NoError(t, err)
	barsB, err := b.MarketData(ctx, []string{"AAPL"}, window, asOf2024)
	require.NoError(t, err)
	assert.Equal(t, barsA, barsB)
	assert.NotEmpty(t, barsA["AAPL"])
}

func TestMockProviderUniverseRespectsListingWindows(t *testing.T) {
	p := NewMockProvider(DefaultMockSeed)
	ctx := context.Background()

	stocks, err := p.Assets(ctx, models.AssetClassStock, asOf2024)
	require.NoError(t, err)
	symbols := models.Symbols(stocks)
	assert.Contains(t, symbols, "NEW1")
	assert.NotContains(t, symbols, "DEAD")

	earlier, err := p.Assets(ctx, models.AssetClassStock, time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	symbols = models.Symbols(earlier)
	assert.Contains(t, symbols, "DEAD")
	assert.NotContains(t, symbols, "NEW1")
}

func TestMockProviderClassSeparation(t *testing.T) {
	p := NewMockProvider(DefaultMockSeed)
	ctx := context.Background()

	crypto, err := p.Assets(ctx, models.AssetClassCrypto, asOf2024)
	require.NoError(t, err)
	require.Len(t, crypto, 5)
	for _, a := range crypto {
		assert.Equal(t, models.AssetTypeCrypto, a.Type)
		assert.Equal(t, "BINANCE", a.Exchange)
	}

	forex, err := p.Assets(ctx, models.AssetClassForex, asOf2024)
	require.NoError(t, err)
	require.Len(t, forex, 5)
	for _, a := range forex {
		assert.Equal(t, models.AssetTypeForexPair, a.Type)
	}
}

func TestMockProviderMarketDataShape(t *testing.T) {
	p := NewMockProvider(DefaultMockSeed)
	ctx := context.Background()
	start := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)

	data, err := p.MarketData(ctx, []string{"AAPL", "BTC", "SPARSE", "UNKNOWN"}, start, end)
	require.NoError(t, err)

	require.NotEmpty(t, data["AAPL"])
	for _, b := range data["AAPL"] {
		assert.False(t, isWeekend(b.Date), "stock bar on %s", b.Date.Format("2006-01-02"))
		assert.False(t, b.Date.Before(start))
		assert.False(t, b.Date.After(end))
		assert.LessOrEqual(t, b.Low, b.High)
		assert.GreaterOrEqual(t, b.Close, 1.0)
		assert.GreaterOrEqual(t, b.Volume, int64(1000))
	}

	// Crypto trades every day, so its bar count beats any stock's.
	assert.Greater(t, len(data["BTC"]), len(data["AAPL"]))
	assert.Less(t, len(data["SPARSE"]), len(data["AAPL"]))
	assert.Empty(t, data["UNKNOWN"])
}

func TestMockProviderQualityMetrics(t *testing.T) {
	p := NewMockProvider(DefaultMockSeed)
	start := asOf2024.AddDate(0, 0, -60)

	quality, err := p.QualityMetrics(context.Background(), []string{"AAPL", "SPARSE"}, start, asOf2024)
	require.NoError(t, err)

	assert.Equal(t, 20, quality["SPARSE"].MissingDays)
	assert.LessOrEqual(t, quality["AAPL"].MissingDays, 2)
	assert.Equal(t, asOf2024, quality["AAPL"].LastAvailableDate)
	assert.GreaterOrEqual(t, quality["AAPL"].NewsArticleCount, 5)
}

func TestMockProviderMetadata(t *testing.T) {
	p := NewMockProvider(DefaultMockSeed)

	meta, err := p.Metadata(context.Background(), []string{"AAPL", "DEAD", "NOPE"})
	require.NoError(t, err)

	require.Contains(t, meta, "AAPL")
	assert.Equal(t, "COMMON_STOCK", meta["AAPL"]["asset_type"])
	assert.Equal(t, "NASDAQ", meta["AAPL"]["exchange"])
	_, hasDelisting := meta["AAPL"]["delisting_date"]
	assert.False(t, hasDelisting)

	require.Contains(t, meta, "DEAD")
	assert.Equal(t, time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC), meta["DEAD"]["delisting_date"])

	assert.NotContains(t, meta, "NOPE")
}

func TestMockProviderFailureInjection(t *testing.T) {
	p := NewMockProvider(DefaultMockSeed)
	ctx := context.Background()
	boom := errors.New("upstream unavailable")
	start := asOf2024.AddDate(0, 0, -10)

	p.FailNext(OpMarketData, 2, boom)

	_, err := p.MarketData(ctx, []string{"AAPL"}, start, asOf2024)
	require.ErrorIs(t, err, boom)
	_, err = p.MarketData(ctx, []string{"AAPL"}, start, asOf2024)
	require.ErrorIs(t, err, boom)
	_, err = p.MarketData(ctx, []string{"AAPL"}, start, asOf2024)
	require.NoError(t, err)

	assert.Equal(t, 3, p.Calls(OpMarketData))
	assert.Equal(t, 0, p.Calls(OpAssets))
}

func TestMockProviderHonorsContext(t *testing.T) {
	p := NewMockProvider(DefaultMockSeed)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Assets(ctx, models.AssetClassStock, asOf2024)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, p.Calls(OpAssets))
}
