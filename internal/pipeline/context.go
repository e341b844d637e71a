package pipeline

import (
	"sync"

	"FinScreen/internal/domain/models"
	"FinScreen/pkg/logger"
)

const (
	// DefaultSizeWarningBytes is the context size beyond which a warning
	// is logged (2 GiB).
	DefaultSizeWarningBytes = 2 << 30

	bytesPerDataPoint = 100
	containerOverhead = 64
)

// MarketDataLoader loads one symbol's bars on demand in lazy mode.
type MarketDataLoader func(symbol string) ([]models.MarketDataPoint, error)

// MetadataLoader loads one symbol's metadata on demand in lazy mode.
type MetadataLoader func(symbol string) (map[string]interface{}, error)

// DataContext holds everything a screening run's stages read: the asset
// universe plus market data, metadata and quality metrics per symbol.
// Eager contexts are plain lookups; lazy contexts call loaders on first
// access. Loader failures degrade to empty values and never propagate.
type DataContext struct {
	logger *logger.Logger

	mutex      sync.Mutex
	assets     []models.Asset
	bySymbol   map[string]models.Asset
	marketData models.MarketDataBySymbol
	metadata   models.MetadataBySymbol
	quality    models.QualityBySymbol

	lazy             bool
	marketDataLoader MarketDataLoader
	metadataLoader   MetadataLoader
	loadedMarketData map[string]struct{}
	loadedMetadata   map[string]struct{}

	sizeWarningBytes int64
}

// DataContextOption configures a DataContext.
type DataContextOption func(*DataContext)

// WithMarketData seeds eager market data.
func WithMarketData(data models.MarketDataBySymbol) DataContextOption {
	return func(c *DataContext) {
		c.marketData = data
	}
}

// WithMetadata seeds eager metadata.
func WithMetadata(meta models.MetadataBySymbol) DataContextOption {
	return func(c *DataContext) {
		c.metadata = meta
	}
}

// WithQualityMetrics seeds quality metrics.
func WithQualityMetrics(quality models.QualityBySymbol) DataContextOption {
	return func(c *DataContext) {
		c.quality = quality
	}
}

// WithLazyLoaders switches the context to lazy mode backed by the given
// per-symbol loaders.
func WithLazyLoaders(md MarketDataLoader, meta MetadataLoader) DataContextOption {
	return func(c *DataContext) {
		c.lazy = true
		c.marketDataLoader = md
		c.metadataLoader = meta
	}
}

// WithSizeWarningBytes overrides the size warning threshold.
func WithSizeWarningBytes(n int64) DataContextOption {
	return func(c *DataContext) {
		c.sizeWarningBytes = n
	}
}

// NewDataContext builds a context over the given universe.
func NewDataContext(lgr *logger.Logger, assets []models.Asset, opts ...DataContextOption) *DataContext {
	c := &DataContext{
		logger:           lgr,
		assets:           assets,
		bySymbol:         make(map[string]models.Asset, len(assets)),
		marketData:       make(models.MarketDataBySymbol),
		metadata:         make(models.MetadataBySymbol),
		quality:          make(models.QualityBySymbol),
		loadedMarketData: make(map[string]struct{}),
		loadedMetadata:   make(map[string]struct{}),
		sizeWarningBytes: DefaultSizeWarningBytes,
	}

	for _, opt := range opts {
		opt(c)
	}

	for _, a := range assets {
		c.bySymbol[a.Symbol] = a
	}

	if !c.lazy {
		c.warnIfOversized()
	}
	return c
}

// Assets returns the full universe in original order.
func (c *DataContext) Assets() []models.Asset {
	return c.assets
}

// Asset looks an instrument up by symbol.
func (c *DataContext) Asset(symbol string) (models.Asset, bool) {
	a, ok := c.bySymbol[symbol]
	return a, ok
}

// AssetsBySymbols resolves symbols to assets, skipping unknown ones.
func (c *DataContext) AssetsBySymbols(symbols []string) []models.Asset {
	out := make([]models.Asset, 0, len(symbols))
	for _, s := range symbols {
		if a, ok := c.bySymbol[s]; ok {
			out = append(out, a)
		}
	}
	return out
}

// MarketData returns the bars for a symbol, lazily loading them on first
// access in lazy mode. Missing or failed data reads as empty.
func (c *DataContext) MarketData(symbol string) []models.MarketDataPoint {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.lazy && c.marketDataLoader != nil {
		if _, done := c.loadedMarketData[symbol]; !done {
			data, err := c.marketDataLoader(symbol)
			if err != nil {
				c.logger.Warn("lazy market data load failed",
					logger.String("symbol", symbol),
					logger.Error(err))
				return nil
			}
			c.marketData[symbol] = data
			c.loadedMarketData[symbol] = struct{}{}
		}
	}
	return c.marketData[symbol]
}

// Metadata returns a symbol's metadata, lazily loading it on first access
// in lazy mode. Missing or failed data reads as empty.
func (c *DataContext) Metadata(symbol string) map[string]interface{} {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.lazy && c.metadataLoader != nil {
		if _, done := c.loadedMetadata[symbol]; !done {
			meta, err := c.metadataLoader(symbol)
			if err != nil {
				c.logger.Warn("lazy metadata load failed",
					logger.String("symbol", symbol),
					logger.Error(err))
				return nil
			}
			c.metadata[symbol] = meta
			c.loadedMetadata[symbol] = struct{}{}
		}
	}
	return c.metadata[symbol]
}

// Quality returns a symbol's quality metrics, if present.
func (c *DataContext) Quality(symbol string) (models.QualityMetrics, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	q, ok := c.quality[symbol]
	return q, ok
}

// PreloadAll forces every symbol's loaders to run once. Idempotent; no-op
// for eager contexts.
func (c *DataContext) PreloadAll() {
	if !c.IsLazy() {
		return
	}

	for _, a := range c.assets {
		c.MarketData(a.Symbol)
		c.Metadata(a.Symbol)
	}
	c.warnIfOversized()
}

// IsLazy reports whether loaders back this context.
func (c *DataContext) IsLazy() bool {
	return c.lazy
}

// Len returns the universe size.
func (c *DataContext) Len() int {
	return len(c.assets)
}

// SizeBytes estimates the context's memory footprint: container overhead
// plus a flat per-data-point cost.
func (c *DataContext) SizeBytes() int64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.sizeBytesLocked()
}

// SizeMB is SizeBytes in megabytes.
func (c *DataContext) SizeMB() float64 {
	return float64(c.SizeBytes()) / (1 << 20)
}

func (c *DataContext) sizeBytesLocked() int64 {
	size := int64(4 * containerOverhead)
	size += int64(len(c.assets)) * 8
	for _, points := range c.marketData {
		size += int64(len(points)) * bytesPerDataPoint
	}
	return size
}

func (c *DataContext) warnIfOversized() {
	c.mutex.Lock()
	size := c.sizeBytesLocked()
	c.mutex.Unlock()

	if size > c.sizeWarningBytes {
		c.logger.Warn("data context exceeds size threshold",
			logger.Float64("size_gb", float64(size)/(1<<30)),
			logger.Float64("threshold_gb", float64(c.sizeWarningBytes)/(1<<30)))
	}
}
