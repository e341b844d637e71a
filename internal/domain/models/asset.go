package models

import (
	"fmt"
	"time"
)

// AssetClass classifies instruments into the supported screening universes.
type AssetClass string

const (
	AssetClassStock  AssetClass = "STOCK"
	AssetClassCrypto AssetClass = "CRYPTO"
	AssetClassForex  AssetClass = "FOREX"
)

// AssetClasses returns the closed set of supported classes.
func AssetClasses() []AssetClass {
	return []AssetClass{AssetClassStock, AssetClassCrypto, AssetClassForex}
}

// IsValidAssetClass returns true if c is a supported asset class.
func IsValidAssetClass(c AssetClass) bool {
	switch c {
	case AssetClassStock, AssetClassCrypto, AssetClassForex:
		return true
	default:
		return false
	}
}

// ParseAssetClass converts a raw string into a supported class.
func ParseAssetClass(s string) (AssetClass, error) {
	c := AssetClass(s)
	if !IsValidAssetClass(c) {
		return "", fmt.Errorf("unknown asset class: %q", s)
	}
	return c, nil
}

// AssetType narrows the instrument kind within a class.
type AssetType string

const (
	AssetTypeCommonStock AssetType = "COMMON_STOCK"
	AssetTypeETF         AssetType = "ETF"
	AssetTypeADR         AssetType = "ADR"
	AssetTypePreferred   AssetType = "PREFERRED"
	AssetTypeCrypto      AssetType = "CRYPTO"
	AssetTypeStablecoin  AssetType = "STABLECOIN"
	AssetTypeForexPair   AssetType = "FOREX_PAIR"
	AssetTypeForexCross  AssetType = "FOREX_CROSS"
)

// Asset is a tradable instrument. Identity is the symbol alone; two assets
// with the same symbol are the same instrument.
type Asset struct {
	Symbol        string
	Name          string
	Class         AssetClass
	Type          AssetType
	Exchange      string
	ListingDate   time.Time
	DelistingDate time.Time // zero while still listed
	ISIN          string
	Sector        string
	Country       string
}

// Equal compares by symbol only.
func (a Asset) Equal(other Asset) bool {
	return a.Symbol == other.Symbol
}

// ListedAt reports whether the asset is listed and not yet delisted at t.
func (a Asset) ListedAt(t time.Time) bool {
	if a.ListingDate.After(t) {
		return false
	}
	return a.DelistingDate.IsZero() || a.DelistingDate.After(t)
}

// Symbols projects assets onto their symbols, preserving order.
func Symbols(assets []Asset) []string {
	symbols := make([]string, len(assets))
	for i, a := range assets {
		symbols[i] = a.Symbol
	}
	return symbols
}
