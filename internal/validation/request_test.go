package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinScreen/internal/domain/models"
	"FinScreen/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	lgr, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	return lgr
}

func validRequest() models.ScreeningRequest {
	return models.ScreeningRequest{
		AsOf:         time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
		Class:        models.AssetClassStock,
		LookbackDays: 60,
	}
}

func TestValidateAcceptsWellFormedRequest(t *testing.T) {
	v := NewRequestValidator(testLogger(t))
	assert.NoError(t, v.Validate(validRequest()))
}

func TestValidateRejectsFutureDate(t *testing.T) {
	v := NewRequestValidator(testLogger(t))

	req := validRequest()
	req.AsOf = time.Now().Add(48 * time.Hour)

	err := v.Validate(req)
	require.Error(t, err)

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	require.Len(t, reqErr.Issues, 1)
	assert.Contains(t, reqErr.Issues[0], "future")
}

func TestValidateRejectsPreEpochDate(t *testing.T) {
	v := NewRequestValidator(testLogger(t))

	req := validRequest()
	req.AsOf = time.Date(1969, 12, 31, 0, 0, 0, 0, time.UTC)

	err := v.Validate(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "before minimum")
}

func TestValidateRejectsZeroDate(t *testing.T) {
	v := NewRequestValidator(testLogger(t))

	req := validRequest()
	req.AsOf = time.Time{}
	assert.Error(t, v.Validate(req))
}

func TestValidateRejectsUnknownClass(t *testing.T) {
	v := NewRequestValidator(testLogger(t))

	req := validRequest()
	req.Class = models.AssetClass("BONDS")

	err := v.Validate(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")
}

func TestValidateRespectsNarrowedClasses(t *testing.T) {
	v := NewRequestValidator(testLogger(t),
		WithSupportedClasses(models.AssetClassStock))

	req := validRequest()
	req.Class = models.AssetClassCrypto

	err := v.Validate(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CRYPTO not supported")
	assert.Contains(t, err.Error(), "STOCK")
}

func TestValidateRejectsNegativeLookback(t *testing.T) {
	v := NewRequestValidator(testLogger(t))

	req := validRequest()
	req.LookbackDays = -5
	assert.Error(t, v.Validate(req))
}

func TestValidateCollectsEveryIssue(t *testing.T) {
	v := NewRequestValidator(testLogger(t))

	req := validRequest()
	req.AsOf = time.Now().Add(24 * time.Hour)
	req.Class = models.AssetClass("BONDS")
	req.LookbackDays = -1

	err := v.Validate(req)
	require.Error(t, err)

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Len(t, reqErr.Issues, 3)
}

func TestValidateStockConfigBounds(t *testing.T) {
	v := NewRequestValidator(testLogger(t))

	req := validRequest()
	req.Config = map[string]interface{}{
		"liquidity": map[string]interface{}{
			"min_avg_dollar_volume_usd": -1.0,
			"min_trading_days_pct":      1.5,
		},
	}

	err := v.Validate(req)
	require.Error(t, err)

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Len(t, reqErr.Issues, 2)
	assert.Contains(t, err.Error(), "min_trading_days_pct")
}

func TestValidateCryptoConfigBounds(t *testing.T) {
	v := NewRequestValidator(testLogger(t))

	req := validRequest()
	req.Class = models.AssetClassCrypto
	req.Config = map[string]interface{}{
		"liquidity": map[string]interface{}{"max_slippage_pct": -0.5},
	}

	err := v.Validate(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_slippage_pct")
}

func TestValidateForexConfigBounds(t *testing.T) {
	v := NewRequestValidator(testLogger(t))

	req := validRequest()
	req.Class = models.AssetClassForex
	req.Config = map[string]interface{}{
		"liquidity": map[string]interface{}{"max_spread_pips": -1.0},
	}

	err := v.Validate(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_spread_pips")
}

func TestValidateEmptyListOverridesRejected(t *testing.T) {
	v := NewRequestValidator(testLogger(t))

	req := validRequest()
	req.Config = map[string]interface{}{
		"structural": map[string]interface{}{
			"allowed_exchanges":   []string{},
			"allowed_asset_types": []interface{}{},
		},
	}

	err := v.Validate(req)
	require.Error(t, err)

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Len(t, reqErr.Issues, 2)
}

func TestValidateIgnoresAbsentConfigKeys(t *testing.T) {
	v := NewRequestValidator(testLogger(t))

	// Sections for other filters and absent keys fall back to defaults.
	req := validRequest()
	req.Config = map[string]interface{}{
		"structural": map[string]interface{}{"min_listing_age_days": 100},
		"quality":    map[string]interface{}{},
	}
	assert.NoError(t, v.Validate(req))
}

func TestValidateDateOnly(t *testing.T) {
	v := NewRequestValidator(testLogger(t))

	assert.NoError(t, v.ValidateDate(time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)))
	assert.Error(t, v.ValidateDate(time.Now().Add(time.Hour)))
	assert.Error(t, v.ValidateDate(time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC)))
}
