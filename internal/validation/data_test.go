package validation

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinScreen/internal/domain/models"
)

func cleanBars(n int, close float64) []models.MarketDataPoint {
	points := make([]models.MarketDataPoint, 0, n)
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		points = append(points, models.MarketDataPoint{
			Date:   day.AddDate(0, 0, i),
			Open:   close - 0.5,
			High:   close + 1,
			Low:    close - 1,
			Close:  close,
			Volume: 2_000_000,
		})
	}
	return points
}

func TestValidateMarketDataClean(t *testing.T) {
	v := NewDataValidator(testLogger(t))

	result := v.ValidateMarketData(models.MarketDataBySymbol{"AAPL": cleanBars(5, 180)})
	assert.True(t, result.Valid())
	assert.False(t, result.HasIssues())
}

func TestValidateMarketDataNegativePrices(t *testing.T) {
	v := NewDataValidator(testLogger(t))

	bad := cleanBars(2, 50)
	bad[0].Open = -1
	bad[1].Close = -2

	result := v.ValidateMarketData(models.MarketDataBySymbol{"BAD": bad})
	assert.False(t, result.Valid())
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "negative open price")
	assert.Contains(t, result.Errors[1], "negative close price")
}

func TestValidateMarketDataNegativeVolume(t *testing.T) {
	v := NewDataValidator(testLogger(t))

	bad := cleanBars(1, 50)
	bad[0].Volume = -100

	result := v.ValidateMarketData(models.MarketDataBySymbol{"BAD": bad})
	assert.False(t, result.Valid())
	assert.Contains(t, result.Errors[0], "negative volume")
}

func TestValidateMarketDataOHLCConsistency(t *testing.T) {
	v := NewDataValidator(testLogger(t))

	bad := cleanBars(1, 50)
	bad[0].Low = 60
	bad[0].High = 40

	result := v.ValidateMarketData(models.MarketDataBySymbol{"BAD": bad})
	assert.False(t, result.Valid())
	assert.Contains(t, result.Errors[0], "low (60) > high (40)")
}

func TestValidateMarketDataWarnings(t *testing.T) {
	v := NewDataValidator(testLogger(t), WithZeroVolumeAllowed(false))

	spiky := cleanBars(2, 100)
	spiky[0].Volume = 0
	spiky[1].Close = 2_000_000

	result := v.ValidateMarketData(models.MarketDataBySymbol{
		"SPIKY": spiky,
		"EMPTY": nil,
	})

	// Warnings never invalidate the data.
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 3)
	assert.Contains(t, result.Warnings[0], "EMPTY: no market data")
	assert.Contains(t, result.Warnings[1], "zero volume")
	assert.Contains(t, result.Warnings[2], "extreme price")
}

func TestValidateMetadataRequiredFields(t *testing.T) {
	v := NewDataValidator(testLogger(t))

	result := v.ValidateMetadata(models.MetadataBySymbol{
		"GOOD": {"asset_type": "COMMON_STOCK", "exchange": "NYSE"},
		"HALF": {"asset_type": "COMMON_STOCK", "exchange": nil},
		"BARE": {},
	})

	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 3)
	assert.Contains(t, result.Warnings[0], `BARE: missing required field "asset_type"`)
	assert.Contains(t, result.Warnings[1], `BARE: missing required field "exchange"`)
	assert.Contains(t, result.Warnings[2], `HALF: missing required field "exchange"`)
}

func TestDetectOutliersFlagsSpike(t *testing.T) {
	// A single spike among 20 bars tops out near 4.4 sigma, so the
	// threshold is lowered to catch it.
	v := NewDataValidator(testLogger(t), WithOutlierSigma(3))

	bars := cleanBars(20, 100)
	bars[7].Close = 10_000

	result := v.DetectOutliers(models.MarketDataBySymbol{"SPIKY": bars})
	require.Contains(t, result.Outliers, "SPIKY")
	require.Len(t, result.Outliers["SPIKY"], 1)
	assert.Contains(t, result.Outliers["SPIKY"][0], "close=10000.00")
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "price outlier")
}

func TestDetectOutliersSkipsShortHistories(t *testing.T) {
	v := NewDataValidator(testLogger(t), WithOutlierSigma(1))

	bars := cleanBars(5, 100)
	bars[2].Close = 10_000

	result := v.DetectOutliers(models.MarketDataBySymbol{"SHORT": bars})
	assert.False(t, result.HasIssues())
}

func TestDetectOutliersConstantSeries(t *testing.T) {
	v := NewDataValidator(testLogger(t), WithOutlierSigma(1))

	result := v.DetectOutliers(models.MarketDataBySymbol{"FLAT": cleanBars(20, 100)})
	assert.False(t, result.HasIssues())
}

func TestValidateAllCombinesAndAborts(t *testing.T) {
	v := NewDataValidator(testLogger(t))

	bad := cleanBars(2, 50)
	bad[0].Open = -1

	result, err := v.ValidateAll(
		models.MarketDataBySymbol{"BAD": bad},
		models.MetadataBySymbol{"BAD": {}},
	)
	require.Error(t, err)

	var dataErr *DataError
	require.ErrorAs(t, err, &dataErr)
	assert.Len(t, dataErr.Issues, 1)

	assert.False(t, result.Valid())
	assert.Len(t, result.Errors, 1)
	assert.Len(t, result.Warnings, 2)
}

func TestValidateAllWarningsDoNotAbort(t *testing.T) {
	v := NewDataValidator(testLogger(t))

	result, err := v.ValidateAll(
		models.MarketDataBySymbol{"AAPL": cleanBars(5, 180), "EMPTY": nil},
		models.MetadataBySymbol{"AAPL": {"asset_type": "COMMON_STOCK", "exchange": "NASDAQ"}},
	)
	require.NoError(t, err)
	assert.True(t, result.Valid())
	assert.Len(t, result.Warnings, 1)
}

func TestDataErrorTruncatesMessage(t *testing.T) {
	issues := make([]string, 8)
	for i := range issues {
		issues[i] = fmt.Sprintf("issue %d", i)
	}

	err := &DataError{Issues: issues}
	assert.Contains(t, err.Error(), "issue 4")
	assert.NotContains(t, err.Error(), "issue 5")
	assert.Contains(t, err.Error(), "and 3 more")
}
