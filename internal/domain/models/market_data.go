package models

import "time"

// MarketDataPoint is one OHLCV bar.
type MarketDataPoint struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// DollarVolume returns close * volume.
func (p MarketDataPoint) DollarVolume() float64 {
	return p.Close * float64(p.Volume)
}

// QualityMetrics carries data-quality indicators for one symbol.
type QualityMetrics struct {
	MissingDays       int
	LastAvailableDate time.Time
	NewsArticleCount  int
}

// Per-symbol collections used throughout the pipeline.
type (
	MarketDataBySymbol map[string][]MarketDataPoint
	MetadataBySymbol   map[string]map[string]interface{}
	QualityBySymbol    map[string]QualityMetrics
)
