package validation

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"FinScreen/internal/domain/models"
	"FinScreen/pkg/logger"
)

const (
	// DefaultMaxPrice flags closes above this as suspicious, not invalid.
	DefaultMaxPrice = 1_000_000.0

	// DefaultOutlierSigma is the z-score beyond which a value is an outlier.
	DefaultOutlierSigma = 10.0

	// minPointsForStats is the fewest bars outlier detection will look at.
	minPointsForStats = 10
)

// DataError is a hard data-quality failure. The screening run aborts.
type DataError struct {
	Issues []string
}

func (e *DataError) Error() string {
	const sample = 5
	msg := strings.Join(e.Issues[:min(len(e.Issues), sample)], "; ")
	if len(e.Issues) > sample {
		msg += fmt.Sprintf(" ... and %d more", len(e.Issues)-sample)
	}
	return "data validation failed: " + msg
}

// DataResult collects everything one validation pass found. Errors abort a
// run; warnings and outliers are logged as anomalies and the run continues.
type DataResult struct {
	Errors   []string
	Warnings []string
	Outliers map[string][]string
}

// Valid reports whether no hard errors were found.
func (r *DataResult) Valid() bool {
	return len(r.Errors) == 0
}

// HasIssues reports whether anything at all was found.
func (r *DataResult) HasIssues() bool {
	return len(r.Errors) > 0 || len(r.Warnings) > 0 || len(r.Outliers) > 0
}

func (r *DataResult) addOutlier(symbol, field string, value, sigma float64) {
	if r.Outliers == nil {
		r.Outliers = make(map[string][]string)
	}
	r.Outliers[symbol] = append(r.Outliers[symbol], fmt.Sprintf("%s=%.2f (%.1fσ)", field, value, sigma))
}

// DataValidator checks loaded data for quality issues: negative prices and
// volumes, OHLC inconsistencies, missing metadata fields, and statistical
// outliers beyond a sigma threshold.
type DataValidator struct {
	logger *logger.Logger

	allowZeroVolume  bool
	maxPrice         float64
	outlierSigma     float64
	requiredMetadata []string
}

// DataValidatorOption configures a DataValidator.
type DataValidatorOption func(*DataValidator)

// WithZeroVolumeAllowed controls whether zero-volume bars warn.
func WithZeroVolumeAllowed(allowed bool) DataValidatorOption {
	return func(v *DataValidator) {
		v.allowZeroVolume = allowed
	}
}

// WithMaxPrice overrides the suspicious-price ceiling.
func WithMaxPrice(ceiling float64) DataValidatorOption {
	return func(v *DataValidator) {
		v.maxPrice = ceiling
	}
}

// WithOutlierSigma overrides the outlier z-score threshold.
func WithOutlierSigma(sigma float64) DataValidatorOption {
	return func(v *DataValidator) {
		v.outlierSigma = sigma
	}
}

// WithRequiredMetadata overrides the metadata fields every symbol must carry.
func WithRequiredMetadata(fields ...string) DataValidatorOption {
	return func(v *DataValidator) {
		v.requiredMetadata = fields
	}
}

// NewDataValidator builds a validator with the standard thresholds.
func NewDataValidator(lgr *logger.Logger, opts ...DataValidatorOption) *DataValidator {
	v := &DataValidator{
		logger:           lgr,
		allowZeroVolume:  true,
		maxPrice:         DefaultMaxPrice,
		outlierSigma:     DefaultOutlierSigma,
		requiredMetadata: []string{"asset_type", "exchange"},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateMarketData checks every bar of every symbol for negative prices
// or volumes, low above high, and prices beyond the ceiling.
func (v *DataValidator) ValidateMarketData(data models.MarketDataBySymbol) *DataResult {
	result := &DataResult{}

	for _, symbol := range sortedSymbols(data) {
		points := data[symbol]
		if len(points) == 0 {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: no market data", symbol))
			continue
		}

		for _, p := range points {
			day := p.Date.Format("2006-01-02")

			if p.Open < 0 {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: negative open price %g on %s", symbol, p.Open, day))
			}
			if p.High < 0 {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: negative high price %g on %s", symbol, p.High, day))
			}
			if p.Low < 0 {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: negative low price %g on %s", symbol, p.Low, day))
			}
			if p.Close < 0 {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: negative close price %g on %s", symbol, p.Close, day))
			}
			if p.Volume < 0 {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: negative volume %d on %s", symbol, p.Volume, day))
			}
			if p.Volume == 0 && !v.allowZeroVolume {
				result.Warnings = append(result.Warnings, fmt.Sprintf("%s: zero volume on %s", symbol, day))
			}
			if p.Low > p.High {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: low (%g) > high (%g) on %s", symbol, p.Low, p.High, day))
			}
			if p.Close > v.maxPrice {
				result.Warnings = append(result.Warnings, fmt.Sprintf("%s: extreme price %g on %s", symbol, p.Close, day))
			}
		}
	}

	v.logResult("market data validation", result)
	return result
}

// ValidateMetadata checks that every symbol carries the required fields.
// Missing fields warn rather than fail: sparse vendor metadata is routine.
func (v *DataValidator) ValidateMetadata(meta models.MetadataBySymbol) *DataResult {
	result := &DataResult{}

	for _, symbol := range sortedSymbols(meta) {
		fields := meta[symbol]
		for _, required := range v.requiredMetadata {
			if value, ok := fields[required]; !ok || value == nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("%s: missing required field %q", symbol, required))
			}
		}
	}

	v.logResult("metadata validation", result)
	return result
}

// DetectOutliers flags closes and volumes beyond the sigma threshold using
// a z-score over each symbol's own history. Symbols with fewer than ten
// bars are skipped. Price outliers warn; volume outliers are only recorded.
func (v *DataValidator) DetectOutliers(data models.MarketDataBySymbol) *DataResult {
	result := &DataResult{}

	for _, symbol := range sortedSymbols(data) {
		points := data[symbol]
		if len(points) < minPointsForStats {
			continue
		}

		closes := make([]float64, len(points))
		volumes := make([]float64, len(points))
		for i, p := range points {
			closes[i] = p.Close
			volumes[i] = float64(p.Volume)
		}

		for _, o := range v.findOutliers(closes) {
			p := points[o.index]
			result.addOutlier(symbol, "close", p.Close, o.sigma)
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%s: price outlier %.2f (%.1fσ) on %s", symbol, p.Close, o.sigma, p.Date.Format("2006-01-02")))
		}
		for _, o := range v.findOutliers(volumes) {
			p := points[o.index]
			result.addOutlier(symbol, "volume", float64(p.Volume), o.sigma)
			v.logger.Debug("volume outlier",
				logger.String("symbol", symbol),
				logger.Int64("volume", p.Volume),
				logger.Float64("sigma", o.sigma))
		}
	}

	v.logResult("outlier detection", result)
	return result
}

// ValidateAll runs every check and combines the results. A non-nil error
// means hard errors were found and the caller must abort.
func (v *DataValidator) ValidateAll(data models.MarketDataBySymbol, meta models.MetadataBySymbol) (*DataResult, error) {
	market := v.ValidateMarketData(data)
	metadata := v.ValidateMetadata(meta)
	outliers := v.DetectOutliers(data)

	combined := &DataResult{
		Errors:   concat(market.Errors, metadata.Errors, outliers.Errors),
		Warnings: concat(market.Warnings, metadata.Warnings, outliers.Warnings),
		Outliers: mergeOutliers(market.Outliers, outliers.Outliers),
	}

	if !combined.Valid() {
		return combined, &DataError{Issues: combined.Errors}
	}
	return combined, nil
}

type outlier struct {
	index int
	sigma float64
}

func (v *DataValidator) findOutliers(values []float64) []outlier {
	if len(values) < 2 {
		return nil
	}

	var sum float64
	for _, x := range values {
		sum += x
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, x := range values {
		variance += (x - mean) * (x - mean)
	}
	variance /= float64(len(values))
	if variance == 0 {
		return nil
	}
	std := math.Sqrt(variance)

	var out []outlier
	for i, x := range values {
		z := math.Abs((x - mean) / std)
		if z > v.outlierSigma {
			out = append(out, outlier{index: i, sigma: z})
		}
	}
	return out
}

func (v *DataValidator) logResult(kind string, result *DataResult) {
	if len(result.Errors) > 0 {
		v.logger.Warn(kind+" found errors", logger.Int("errors", len(result.Errors)))
	}
	if len(result.Warnings) > 0 {
		v.logger.Info(kind+" found warnings", logger.Int("warnings", len(result.Warnings)))
	}
	if len(result.Outliers) > 0 {
		total := 0
		for _, o := range result.Outliers {
			total += len(o)
		}
		v.logger.Info(kind+" found outliers",
			logger.Int("outliers", total),
			logger.Int("symbols", len(result.Outliers)))
	}
}

func sortedSymbols[V any](m map[string]V) []string {
	symbols := make([]string, 0, len(m))
	for s := range m {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

func concat(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

func mergeOutliers(maps ...map[string][]string) map[string][]string {
	out := make(map[string][]string)
	for _, m := range maps {
		for symbol, entries := range m {
			out[symbol] = append(out[symbol], entries...)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
