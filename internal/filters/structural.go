package filters

import (
	"context"
	"fmt"
	"time"

	"FinScreen/internal/domain/models"
	"FinScreen/internal/pipeline"
)

// StructuralVersion identifies the structural rule set for audit metadata.
const StructuralVersion = "2.1.0"

// DefaultMinListingAgeDays is roughly one trading year.
const DefaultMinListingAgeDays = 252

// defaultExchanges is the stock venue allowlist. Crypto and forex
// instruments have no regulated exchange and skip the check.
func defaultExchanges() map[string]struct{} {
	return map[string]struct{}{"NYSE": {}, "NASDAQ": {}, "XETRA": {}}
}

func defaultTypesByClass() map[models.AssetClass]map[models.AssetType]struct{} {
	return map[models.AssetClass]map[models.AssetType]struct{}{
		models.AssetClassStock:  {models.AssetTypeCommonStock: {}},
		models.AssetClassCrypto: {models.AssetTypeCrypto: {}},
		models.AssetClassForex:  {models.AssetTypeForexPair: {}, models.AssetTypeForexCross: {}},
	}
}

// StructuralFilter rejects instruments on structural grounds: disallowed
// asset type, disallowed exchange, too young a listing, or already delisted
// at the screening date. It never reads market data.
type StructuralFilter struct {
	allowedTypes     map[models.AssetType]struct{} // nil means per-class defaults
	typesByClass     map[models.AssetClass]map[models.AssetType]struct{}
	allowedExchanges map[string]struct{}
	minListingAge    int
}

// NewStructural builds the stage from its configuration. Recognized keys:
// allowed_asset_types, allowed_exchanges, min_listing_age_days.
func NewStructural(cfg pipeline.Config) (pipeline.Stage, error) {
	f := &StructuralFilter{
		typesByClass:     defaultTypesByClass(),
		allowedExchanges: defaultExchanges(),
		minListingAge:    cfg.Int("min_listing_age_days", DefaultMinListingAgeDays),
	}

	if f.minListingAge < 0 {
		return nil, fmt.Errorf("min_listing_age_days must be >= 0, got %d", f.minListingAge)
	}
	if types := cfg.Strings("allowed_asset_types"); len(types) > 0 {
		f.allowedTypes = make(map[models.AssetType]struct{}, len(types))
		for _, t := range types {
			f.allowedTypes[models.AssetType(t)] = struct{}{}
		}
	}
	if exchanges := cfg.Strings("allowed_exchanges"); len(exchanges) > 0 {
		f.allowedExchanges = make(map[string]struct{}, len(exchanges))
		for _, e := range exchanges {
			f.allowedExchanges[e] = struct{}{}
		}
	}

	return f, nil
}

func (f *StructuralFilter) Name() string { return "structural" }

func (f *StructuralFilter) Apply(_ context.Context, assets []models.Asset, asOf time.Time, _ *pipeline.DataContext) (models.FilterResult, error) {
	result := models.FilterResult{
		Passed:  make([]string, 0, len(assets)),
		Reasons: make(map[string]string),
	}

	for _, a := range assets {
		if reason := f.check(a, asOf); reason != "" {
			result.Reasons[a.Symbol] = reason
			continue
		}
		result.Passed = append(result.Passed, a.Symbol)
	}
	return result, nil
}

func (f *StructuralFilter) check(a models.Asset, asOf time.Time) string {
	if !f.typeAllowed(a) {
		return fmt.Sprintf("asset_type=%s not in allowed list", a.Type)
	}

	if a.Class == models.AssetClassStock {
		if _, ok := f.allowedExchanges[a.Exchange]; !ok {
			return fmt.Sprintf("exchange=%s not in allowed list", a.Exchange)
		}
	}

	age := int(asOf.Sub(a.ListingDate).Hours() / 24)
	if age < f.minListingAge {
		return fmt.Sprintf("listing_age=%dd < min=%dd", age, f.minListingAge)
	}

	if !a.DelistingDate.IsZero() && !a.DelistingDate.After(asOf) {
		return fmt.Sprintf("delisted on %s", a.DelistingDate.Format("2006-01-02"))
	}

	return ""
}

func (f *StructuralFilter) typeAllowed(a models.Asset) bool {
	if f.allowedTypes != nil {
		_, ok := f.allowedTypes[a.Type]
		return ok
	}
	classTypes, ok := f.typesByClass[a.Class]
	if !ok {
		return false
	}
	_, ok = classTypes[a.Type]
	return ok
}

var _ pipeline.Stage = (*StructuralFilter)(nil)
