package filters

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinScreen/internal/domain/models"
	"FinScreen/internal/pipeline"
	"FinScreen/pkg/logger"
)

var asOf = time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	lgr, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	return lgr
}

func stock(symbol, exchange string, listed time.Time) models.Asset {
	return models.Asset{
		Symbol:      symbol,
		Name:        symbol + " Inc",
		Class:       models.AssetClassStock,
		Type:        models.AssetTypeCommonStock,
		Exchange:    exchange,
		ListingDate: listed,
	}
}

func seasoned(symbol, exchange string) models.Asset {
	return stock(symbol, exchange, asOf.AddDate(-3, 0, 0))
}

func mustStructural(t *testing.T, cfg pipeline.Config) pipeline.Stage {
	t.Helper()
	stage, err := NewStructural(cfg)
	require.NoError(t, err)
	return stage
}

func TestStructuralPassesSeasonedStock(t *testing.T) {
	stage := mustStructural(t, pipeline.Config{})
	assert.Equal(t, "structural", stage.Name())

	result, err := stage.Apply(context.Background(),
		[]models.Asset{seasoned("AAPL", "NASDAQ"), seasoned("DB1", "XETRA")}, asOf, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "DB1"}, result.Passed)
	assert.Empty(t, result.Reasons)
}

func TestStructuralRejectsYoungListing(t *testing.T) {
	stage := mustStructural(t, pipeline.Config{})

	young := stock("NEW1", "NYSE", asOf.AddDate(0, 0, -100))
	result, err := stage.Apply(context.Background(), []models.Asset{young}, asOf, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Passed)
	assert.Equal(t, "listing_age=100d < min=252d", result.Reasons["NEW1"])
}

func TestStructuralRejectsDelisted(t *testing.T) {
	stage := mustStructural(t, pipeline.Config{})

	dead := seasoned("DEAD", "NYSE")
	dead.DelistingDate = asOf.AddDate(0, -1, 0)

	boundary := seasoned("EDGE", "NYSE")
	boundary.DelistingDate = asOf

	stillListed := seasoned("LIVE", "NYSE")
	stillListed.DelistingDate = asOf.AddDate(0, 1, 0)

	result, err := stage.Apply(context.Background(),
		[]models.Asset{dead, boundary, stillListed}, asOf, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"LIVE"}, result.Passed)
	assert.Contains(t, result.Reasons["DEAD"], "delisted on")
	assert.Contains(t, result.Reasons["EDGE"], "delisted on")
}

func TestStructuralRejectsUnknownExchange(t *testing.T) {
	stage := mustStructural(t, pipeline.Config{})

	result, err := stage.Apply(context.Background(),
		[]models.Asset{seasoned("PINK", "OTC")}, asOf, nil)
	require.NoError(t, err)
	assert.Equal(t, "exchange=OTC not in allowed list", result.Reasons["PINK"])
}

func TestStructuralRejectsDisallowedType(t *testing.T) {
	stage := mustStructural(t, pipeline.Config{})

	etf := seasoned("SPY", "NYSE")
	etf.Type = models.AssetTypeETF

	result, err := stage.Apply(context.Background(), []models.Asset{etf}, asOf, nil)
	require.NoError(t, err)
	assert.Equal(t, "asset_type=ETF not in allowed list", result.Reasons["SPY"])
}

func TestStructuralCryptoSkipsExchangeCheck(t *testing.T) {
	stage := mustStructural(t, pipeline.Config{})

	btc := models.Asset{
		Symbol:      "BTC",
		Class:       models.AssetClassCrypto,
		Type:        models.AssetTypeCrypto,
		Exchange:    "BINANCE",
		ListingDate: asOf.AddDate(-10, 0, 0),
	}

	result, err := stage.Apply(context.Background(), []models.Asset{btc}, asOf, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC"}, result.Passed)
}

func TestStructuralConfigOverrides(t *testing.T) {
	stage := mustStructural(t, pipeline.Config{
		"allowed_asset_types":  []string{"ETF"},
		"allowed_exchanges":    []string{"XETRA"},
		"min_listing_age_days": 10,
	})

	etf := stock("EXS1", "XETRA", asOf.AddDate(0, 0, -20))
	etf.Type = models.AssetTypeETF

	ordinary := stock("AAPL", "NASDAQ", asOf.AddDate(-3, 0, 0))

	result, err := stage.Apply(context.Background(), []models.Asset{etf, ordinary}, asOf, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"EXS1"}, result.Passed)
	assert.Contains(t, result.Reasons["AAPL"], "asset_type=COMMON_STOCK not in allowed list")
}

func TestStructuralFactoryValidation(t *testing.T) {
	_, err := NewStructural(pipeline.Config{"min_listing_age_days": -1})
	assert.Error(t, err)
}
