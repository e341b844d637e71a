package validation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"FinScreen/internal/domain/models"
	"FinScreen/internal/pipeline"
	"FinScreen/pkg/logger"
)

// RequestError reports why a screening request was rejected. It is raised
// before any data is fetched and is never retried.
type RequestError struct {
	Issues []string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("invalid screening request: %s", strings.Join(e.Issues, "; "))
}

// RequestValidator rejects malformed requests before expensive data loading:
// future or pre-epoch dates, unsupported asset classes, and per-class
// configuration inconsistencies.
type RequestValidator struct {
	logger    *logger.Logger
	supported map[models.AssetClass]struct{}
}

// RequestValidatorOption configures a RequestValidator.
type RequestValidatorOption func(*RequestValidator)

// WithSupportedClasses narrows the accepted asset classes. Default is all.
func WithSupportedClasses(classes ...models.AssetClass) RequestValidatorOption {
	return func(v *RequestValidator) {
		v.supported = make(map[models.AssetClass]struct{}, len(classes))
		for _, c := range classes {
			v.supported[c] = struct{}{}
		}
	}
}

// NewRequestValidator builds a validator accepting every known asset class
// unless narrowed by options.
func NewRequestValidator(lgr *logger.Logger, opts ...RequestValidatorOption) *RequestValidator {
	v := &RequestValidator{
		logger:    lgr,
		supported: make(map[models.AssetClass]struct{}),
	}
	for _, c := range models.AssetClasses() {
		v.supported[c] = struct{}{}
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks the whole request and collects every issue rather than
// stopping at the first one.
func (v *RequestValidator) Validate(req models.ScreeningRequest) error {
	var issues []string

	if msg := v.dateIssue(req.AsOf); msg != "" {
		issues = append(issues, msg)
	}
	if msg := v.classIssue(req.Class); msg != "" {
		issues = append(issues, msg)
	}
	if req.LookbackDays < 0 {
		issues = append(issues, fmt.Sprintf("lookback_days must be >= 0, got %d", req.LookbackDays))
	}
	issues = append(issues, configIssues(req.Class, req.Config)...)

	if len(issues) > 0 {
		v.logger.Error("request validation failed",
			logger.String("issues", strings.Join(issues, "; ")))
		return &RequestError{Issues: issues}
	}

	v.logger.Debug("request validated",
		logger.Time("as_of", req.AsOf),
		logger.String("class", string(req.Class)))
	return nil
}

// ValidateDate checks just the screening date.
func (v *RequestValidator) ValidateDate(t time.Time) error {
	if msg := v.dateIssue(t); msg != "" {
		return &RequestError{Issues: []string{msg}}
	}
	return nil
}

func (v *RequestValidator) dateIssue(t time.Time) string {
	if t.IsZero() {
		return "screening date is required"
	}
	if t.After(time.Now()) {
		return fmt.Sprintf("date %s is in the future", t.Format(time.RFC3339))
	}
	if t.Before(models.MinScreeningDate) {
		return fmt.Sprintf("date %s is before minimum %s",
			t.Format(time.RFC3339), models.MinScreeningDate.Format("2006-01-02"))
	}
	return ""
}

func (v *RequestValidator) classIssue(class models.AssetClass) string {
	if _, ok := v.supported[class]; ok {
		return ""
	}
	names := make([]string, 0, len(v.supported))
	for c := range v.supported {
		names = append(names, string(c))
	}
	sort.Strings(names)
	return fmt.Sprintf("asset class %s not supported, supported: %s",
		class, strings.Join(names, ", "))
}

// configIssues checks the per-filter overrides for internal consistency
// given the requested class. Absent keys fall back to filter defaults and
// are never an issue.
func configIssues(class models.AssetClass, cfg map[string]interface{}) []string {
	var issues []string

	if structural := section(cfg, "structural"); structural != nil {
		if listEmpty(structural, "allowed_exchanges") {
			issues = append(issues, "structural.allowed_exchanges is empty")
		}
		if listEmpty(structural, "allowed_asset_types") {
			issues = append(issues, "structural.allowed_asset_types is empty")
		}
	}

	if liq := section(cfg, "liquidity"); liq != nil {
		switch class {
		case models.AssetClassStock:
			if liq.Float("min_avg_dollar_volume_usd", 0) < 0 {
				issues = append(issues, "liquidity.min_avg_dollar_volume_usd must be >= 0")
			}
			if pct := liq.Float("min_trading_days_pct", 0); pct < 0 || pct > 1 {
				issues = append(issues, "liquidity.min_trading_days_pct must be between 0 and 1")
			}
		case models.AssetClassCrypto:
			if liq.Float("max_slippage_pct", 0) < 0 {
				issues = append(issues, "liquidity.max_slippage_pct must be >= 0")
			}
			if liq.Float("min_order_book_depth_usd", 0) < 0 {
				issues = append(issues, "liquidity.min_order_book_depth_usd must be >= 0")
			}
		case models.AssetClassForex:
			if liq.Float("max_spread_pips", 0) < 0 {
				issues = append(issues, "liquidity.max_spread_pips must be >= 0")
			}
		}
	}

	if quality := section(cfg, "quality"); quality != nil {
		if quality.Int("max_missing_days", 0) < 0 {
			issues = append(issues, "quality.max_missing_days must be >= 0")
		}
	}

	return issues
}

func section(cfg map[string]interface{}, name string) pipeline.Config {
	switch v := cfg[name].(type) {
	case pipeline.Config:
		return v
	case map[string]interface{}:
		return pipeline.Config(v)
	default:
		return nil
	}
}

func listEmpty(cfg pipeline.Config, key string) bool {
	v, ok := cfg[key]
	if !ok {
		return false
	}
	switch list := v.(type) {
	case []string:
		return len(list) == 0
	case []interface{}:
		return len(list) == 0
	default:
		return false
	}
}
