package filters

import (
	"context"
	"fmt"
	"time"

	"FinScreen/internal/domain/models"
	"FinScreen/internal/pipeline"
)

// LiquidityVersion identifies the liquidity rule set for audit metadata.
const LiquidityVersion = "3.0.2"

// Liquidity thresholds, overridable per key.
const (
	DefaultMinAvgDollarVolumeUSD  = 5_000_000.0
	DefaultMinTradingDaysPct      = 0.95
	DefaultLiquidityLookbackDays  = 60
	DefaultMaxSlippagePct         = 0.5
	DefaultMinOrderBookDepthUSD   = 100_000.0
	DefaultMaxSpreadPips          = 3.0
	referenceOrderSizeUSD         = 100_000.0
	depthShareOfDailyVolume       = 0.05
	pipValue                      = 0.0001
	minForexTradingDays           = 30
	tradingDaysPerYear            = 252.0
	calendarDaysPerYear           = 365.0
)

// liquidityStrategy is the per-asset-class tradability check.
type liquidityStrategy interface {
	check(asset models.Asset, data []models.MarketDataPoint) (bool, string)
}

// LiquidityFilter rejects instruments that cannot absorb a reference order.
// Each asset class gets its own strategy, resolved once at construction.
type LiquidityFilter struct {
	strategies map[models.AssetClass]liquidityStrategy
}

// NewLiquidity builds the stage from its configuration. Recognized keys:
// min_avg_dollar_volume_usd, min_trading_days_pct, lookback_days (stock),
// max_slippage_pct, min_order_book_depth_usd (crypto), max_spread_pips
// (forex).
func NewLiquidity(cfg pipeline.Config) (pipeline.Stage, error) {
	stock := stockStrategy{
		minAvgDollarVolume: cfg.Float("min_avg_dollar_volume_usd", DefaultMinAvgDollarVolumeUSD),
		minTradingDaysPct:  cfg.Float("min_trading_days_pct", DefaultMinTradingDaysPct),
		lookbackDays:       cfg.Int("lookback_days", DefaultLiquidityLookbackDays),
	}
	crypto := cryptoStrategy{
		maxSlippagePct:    cfg.Float("max_slippage_pct", DefaultMaxSlippagePct),
		minOrderBookDepth: cfg.Float("min_order_book_depth_usd", DefaultMinOrderBookDepthUSD),
	}
	forex := forexStrategy{
		maxSpreadPips: cfg.Float("max_spread_pips", DefaultMaxSpreadPips),
	}

	if stock.minAvgDollarVolume < 0 {
		return nil, fmt.Errorf("min_avg_dollar_volume_usd must be >= 0, got %g", stock.minAvgDollarVolume)
	}
	if stock.minTradingDaysPct < 0 || stock.minTradingDaysPct > 1 {
		return nil, fmt.Errorf("min_trading_days_pct must be between 0 and 1, got %g", stock.minTradingDaysPct)
	}
	if stock.lookbackDays < 1 {
		return nil, fmt.Errorf("lookback_days must be >= 1, got %d", stock.lookbackDays)
	}
	if crypto.maxSlippagePct < 0 {
		return nil, fmt.Errorf("max_slippage_pct must be >= 0, got %g", crypto.maxSlippagePct)
	}
	if crypto.minOrderBookDepth < 0 {
		return nil, fmt.Errorf("min_order_book_depth_usd must be >= 0, got %g", crypto.minOrderBookDepth)
	}
	if forex.maxSpreadPips < 0 {
		return nil, fmt.Errorf("max_spread_pips must be >= 0, got %g", forex.maxSpreadPips)
	}

	return &LiquidityFilter{
		strategies: map[models.AssetClass]liquidityStrategy{
			models.AssetClassStock:  stock,
			models.AssetClassCrypto: crypto,
			models.AssetClassForex:  forex,
		},
	}, nil
}

func (f *LiquidityFilter) Name() string { return "liquidity" }

func (f *LiquidityFilter) Apply(_ context.Context, assets []models.Asset, _ time.Time, data *pipeline.DataContext) (models.FilterResult, error) {
	result := models.FilterResult{
		Passed:  make([]string, 0, len(assets)),
		Reasons: make(map[string]string),
	}

	for _, a := range assets {
		strategy, ok := f.strategies[a.Class]
		if !ok {
			// No strategy for this class; the asset passes untested.
			result.Passed = append(result.Passed, a.Symbol)
			continue
		}

		liquid, reason := strategy.check(a, data.MarketData(a.Symbol))
		if liquid {
			result.Passed = append(result.Passed, a.Symbol)
		} else {
			result.Reasons[a.Symbol] = reason
		}
	}
	return result, nil
}

// stockStrategy gates on mean daily dollar volume and on trading-day
// coverage of the lookback window.
type stockStrategy struct {
	minAvgDollarVolume float64
	minTradingDaysPct  float64
	lookbackDays       int
}

func (s stockStrategy) check(_ models.Asset, data []models.MarketDataPoint) (bool, string) {
	if len(data) == 0 {
		return false, "no market data available"
	}

	avg := avgDollarVolume(data)
	if avg < s.minAvgDollarVolume {
		return false, fmt.Sprintf("avg_dollar_volume=$%.0f < min=$%.0f", avg, s.minAvgDollarVolume)
	}

	expected := int(float64(s.lookbackDays) * (tradingDaysPerYear / calendarDaysPerYear))
	coverage := 0.0
	if expected > 0 {
		coverage = float64(len(data)) / float64(expected)
	}
	if coverage < s.minTradingDaysPct {
		return false, fmt.Sprintf("trading_days_pct=%.2f < min=%.2f", coverage, s.minTradingDaysPct)
	}

	return true, ""
}

// cryptoStrategy estimates order-book depth as a share of daily volume and
// slippage for a reference order against that depth. Real order-book data
// would replace both estimates.
type cryptoStrategy struct {
	maxSlippagePct    float64
	minOrderBookDepth float64
}

func (s cryptoStrategy) check(_ models.Asset, data []models.MarketDataPoint) (bool, string) {
	if len(data) == 0 {
		return false, "no market data available"
	}

	depth := avgDollarVolume(data) * depthShareOfDailyVolume
	if depth < s.minOrderBookDepth {
		return false, fmt.Sprintf("estimated_order_book_depth=$%.0f < min=$%.0f", depth, s.minOrderBookDepth)
	}

	slippage := (referenceOrderSizeUSD / (depth * 2)) * 100
	if slippage > s.maxSlippagePct {
		return false, fmt.Sprintf("estimated_slippage=%.2f%% > max=%.2f%%", slippage, s.maxSlippagePct)
	}

	return true, ""
}

// forexStrategy estimates the spread from each bar's high-low range and
// requires enough trading days for round-the-clock availability.
type forexStrategy struct {
	maxSpreadPips float64
}

func (s forexStrategy) check(_ models.Asset, data []models.MarketDataPoint) (bool, string) {
	if len(data) == 0 {
		return false, "no market data available"
	}

	var sum float64
	var count int
	for _, d := range data {
		if d.High > 0 && d.Low > 0 {
			sum += ((d.High - d.Low) / d.Close) * 0.01
			count++
		}
	}
	if count == 0 {
		return false, "cannot calculate spread from market data"
	}

	pips := (sum / float64(count)) / pipValue
	if pips > s.maxSpreadPips {
		return false, fmt.Sprintf("avg_spread=%.2fpips > max=%.2fpips", pips, s.maxSpreadPips)
	}

	if len(data) < minForexTradingDays {
		return false, fmt.Sprintf("insufficient_trading_days=%d < min=%d", len(data), minForexTradingDays)
	}

	return true, ""
}

func avgDollarVolume(data []models.MarketDataPoint) float64 {
	var sum float64
	for _, d := range data {
		sum += d.DollarVolume()
	}
	return sum / float64(len(data))
}

var _ pipeline.Stage = (*LiquidityFilter)(nil)
