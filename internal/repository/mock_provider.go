package repository

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"FinScreen/internal/domain/models"
	domrepo "FinScreen/internal/domain/repository"
)

// Operation names shared by call counting, failure injection and cache keys.
const (
	OpAssets     = "assets"
	OpMarketData = "market_data"
	OpMetadata   = "metadata"
	OpQuality    = "quality_metrics"
)

// DefaultMockSeed keeps mock universes reproducible across runs.
const DefaultMockSeed = 42

type mockSecurity struct {
	symbol   string
	name     string
	exchange string
	sector   string
}

var mockStocks = []mockSecurity{
	{"AAPL", "Apple Inc", "NASDAQ", "Technology"},
	{"MSFT", "Microsoft Corporation", "NASDAQ", "Technology"},
	{"GOOGL", "Alphabet Inc", "NASDAQ", "Technology"},
	{"AMZN", "Amazon.com Inc", "NASDAQ", "Consumer Discretionary"},
	{"META", "Meta Platforms Inc", "NASDAQ", "Technology"},
	{"JPM", "JPMorgan Chase & Co", "NYSE", "Financials"},
	{"BAC", "Bank of America Corp", "NYSE", "Financials"},
	{"WMT", "Walmart Inc", "NYSE", "Consumer Staples"},
	{"JNJ", "Johnson & Johnson", "NYSE", "Healthcare"},
	{"PG", "Procter & Gamble Co", "NYSE", "Consumer Staples"},
	{"SAP", "SAP SE", "XETRA", "Technology"},
	{"SIE", "Siemens AG", "XETRA", "Industrials"},
	{"ALV", "Allianz SE", "XETRA", "Financials"},
	{"BAS", "BASF SE", "XETRA", "Materials"},
	{"BMW", "Bayerische Motoren Werke AG", "XETRA", "Consumer Discretionary"},
	// Degenerate entries for exercising the filter stages.
	{"TINY", "Tiny Corp", "NYSE", "Technology"},
	{"SMALL", "Small Company Inc", "NASDAQ", "Industrials"},
	{"NEW1", "New Listing Corp", "NYSE", "Technology"},
	{"DEAD", "Delisted Corp", "NYSE", "Financials"},
	{"SPARSE", "Sparse Data Inc", "NASDAQ", "Healthcare"},
}

var mockCrypto = []mockSecurity{
	{"BTC", "Bitcoin", "BINANCE", ""},
	{"ETH", "Ethereum", "BINANCE", ""},
	{"SOL", "Solana", "BINANCE", ""},
	{"ADA", "Cardano", "BINANCE", ""},
	{"DOT", "Polkadot", "BINANCE", ""},
}

var mockForex = []mockSecurity{
	{"EURUSD", "Euro/US Dollar", "FOREX", ""},
	{"GBPUSD", "British Pound/US Dollar", "FOREX", ""},
	{"USDJPY", "US Dollar/Japanese Yen", "FOREX", ""},
	{"AUDUSD", "Australian Dollar/US Dollar", "FOREX", ""},
	{"USDCHF", "US Dollar/Swiss Franc", "FOREX", ""},
}

// MockProvider serves a deterministic seeded universe with two years of
// generated OHLCV history. It stands in for the real data platform in
// development and tests, and can inject failures per operation to exercise
// the resilience paths.
type MockProvider struct {
	mutex      sync.Mutex
	rng        *rand.Rand
	assets     []models.Asset
	bySymbol   map[string]models.Asset
	marketData models.MarketDataBySymbol
	calls      map[string]int
	failures   map[string]*injectedFailure
}

type injectedFailure struct {
	remaining int
	err       error
}

// NewMockProvider seeds and generates the universe up front; all reads
// afterwards are lookups.
func NewMockProvider(seed int64) *MockProvider {
	p := &MockProvider{
		rng:      rand.New(rand.NewSource(seed)),
		calls:    make(map[string]int),
		failures: make(map[string]*injectedFailure),
	}
	p.assets = p.generateAssets()
	p.bySymbol = make(map[string]models.Asset, len(p.assets))
	for _, a := range p.assets {
		p.bySymbol[a.Symbol] = a
	}
	p.marketData = p.generateMarketData()
	return p
}

// FailNext makes the next n calls of the named operation return err.
func (p *MockProvider) FailNext(op string, n int, err error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.failures[op] = &injectedFailure{remaining: n, err: err}
}

// Calls reports how often an operation reached the provider.
func (p *MockProvider) Calls(op string) int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.calls[op]
}

func (p *MockProvider) begin(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.calls[op]++
	if f := p.failures[op]; f != nil && f.remaining > 0 {
		f.remaining--
		return f.err
	}
	return nil
}

func (p *MockProvider) Assets(ctx context.Context, class models.AssetClass, asOf time.Time) ([]models.Asset, error) {
	if err := p.begin(ctx, OpAssets); err != nil {
		return nil, err
	}

	out := make([]models.Asset, 0, len(p.assets))
	for _, a := range p.assets {
		if a.Class == class && a.ListedAt(asOf) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (p *MockProvider) MarketData(ctx context.Context, symbols []string, start, end time.Time) (models.MarketDataBySymbol, error) {
	if err := p.begin(ctx, OpMarketData); err != nil {
		return nil, err
	}

	out := make(models.MarketDataBySymbol, len(symbols))
	for _, symbol := range symbols {
		bars := p.marketData[symbol]
		selected := make([]models.MarketDataPoint, 0, len(bars))
		for _, b := range bars {
			if !b.Date.Before(start) && !b.Date.After(end) {
				selected = append(selected, b)
			}
		}
		out[symbol] = selected
	}
	return out, nil
}

func (p *MockProvider) Metadata(ctx context.Context, symbols []string) (models.MetadataBySymbol, error) {
	if err := p.begin(ctx, OpMetadata); err != nil {
		return nil, err
	}

	out := make(models.MetadataBySymbol, len(symbols))
	for _, symbol := range symbols {
		a, ok := p.bySymbol[symbol]
		if !ok {
			continue
		}
		meta := map[string]interface{}{
			"asset_type":   string(a.Type),
			"exchange":     a.Exchange,
			"sector":       a.Sector,
			"listing_date": a.ListingDate,
		}
		if !a.DelistingDate.IsZero() {
			meta["delisting_date"] = a.DelistingDate
		}
		out[symbol] = meta
	}
	return out, nil
}

func (p *MockProvider) QualityMetrics(ctx context.Context, symbols []string, _, end time.Time) (models.QualityBySymbol, error) {
	if err := p.begin(ctx, OpQuality); err != nil {
		return nil, err
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	out := make(models.QualityBySymbol, len(symbols))
	for _, symbol := range symbols {
		missing := p.rng.Intn(3)
		if symbol == "SPARSE" {
			missing = 20
		}
		out[symbol] = models.QualityMetrics{
			MissingDays:       missing,
			LastAvailableDate: end,
			NewsArticleCount:  5 + p.rng.Intn(46),
		}
	}
	return out, nil
}

func (p *MockProvider) generateAssets() []models.Asset {
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	assets := make([]models.Asset, 0, len(mockStocks)+len(mockCrypto)+len(mockForex))

	for _, s := range mockStocks {
		var listed time.Time
		switch s.symbol {
		case "NEW1":
			listed = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
		case "DEAD":
			listed = time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)
		default:
			listed = base.AddDate(0, 0, -(500 + p.rng.Intn(4501)))
		}

		country := "DE"
		if s.exchange == "NYSE" || s.exchange == "NASDAQ" {
			country = "US"
		}

		a := models.Asset{
			Symbol:      s.symbol,
			Name:        s.name,
			Class:       models.AssetClassStock,
			Type:        models.AssetTypeCommonStock,
			Exchange:    s.exchange,
			ListingDate: listed,
			Sector:      s.sector,
			Country:     country,
		}
		if s.symbol == "DEAD" {
			a.DelistingDate = time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)
		}
		assets = append(assets, a)
	}

	for _, s := range mockCrypto {
		assets = append(assets, models.Asset{
			Symbol:      s.symbol,
			Name:        s.name,
			Class:       models.AssetClassCrypto,
			Type:        models.AssetTypeCrypto,
			Exchange:    s.exchange,
			ListingDate: base.AddDate(0, 0, -(365 + p.rng.Intn(1636))),
		})
	}

	for _, s := range mockForex {
		assets = append(assets, models.Asset{
			Symbol:      s.symbol,
			Name:        s.name,
			Class:       models.AssetClassForex,
			Type:        models.AssetTypeForexPair,
			Exchange:    s.exchange,
			ListingDate: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		})
	}

	return assets
}

func (p *MockProvider) generateMarketData() models.MarketDataBySymbol {
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	start := end.AddDate(0, 0, -730)

	out := make(models.MarketDataBySymbol, len(p.assets))
	for _, a := range p.assets {
		var basePrice float64
		var baseVolume int
		switch {
		case isMegaCap(a.Symbol):
			basePrice = p.uniform(100, 500)
			baseVolume = 10_000_000 + p.rng.Intn(40_000_001)
		case a.Symbol == "TINY" || a.Symbol == "SMALL":
			basePrice = p.uniform(5, 20)
			baseVolume = 10_000 + p.rng.Intn(90_001)
		case a.Symbol == "SPARSE":
			basePrice = p.uniform(30, 60)
			baseVolume = 500_000 + p.rng.Intn(1_500_001)
		default:
			basePrice = p.uniform(50, 300)
			baseVolume = 1_000_000 + p.rng.Intn(19_000_001)
		}

		price := basePrice
		bars := make([]models.MarketDataPoint, 0, 512)
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			if a.Class == models.AssetClassStock && isWeekend(d) {
				continue
			}
			if a.Symbol == "SPARSE" && p.rng.Float64() < 0.3 {
				continue
			}

			price = math.Max(price*(1+p.rng.NormFloat64()*0.02), 1.0)
			open := price * (1 + p.rng.NormFloat64()*0.005)
			high := math.Max(open, price) * (1 + math.Abs(p.rng.NormFloat64()*0.01))
			low := math.Min(open, price) * (1 - math.Abs(p.rng.NormFloat64()*0.01))
			volume := int64(float64(baseVolume) * (1 + p.rng.NormFloat64()*0.3))
			if volume < 1000 {
				volume = 1000
			}

			bars = append(bars, models.MarketDataPoint{
				Date:   d,
				Open:   round2(open),
				High:   round2(high),
				Low:    round2(low),
				Close:  round2(price),
				Volume: volume,
			})
		}
		out[a.Symbol] = bars
	}
	return out
}

func (p *MockProvider) uniform(lo, hi float64) float64 {
	return lo + p.rng.Float64()*(hi-lo)
}

func isMegaCap(symbol string) bool {
	switch symbol {
	case "AAPL", "MSFT", "GOOGL", "AMZN", "META":
		return true
	default:
		return false
	}
}

func isWeekend(d time.Time) bool {
	return d.Weekday() == time.Saturday || d.Weekday() == time.Sunday
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

var _ domrepo.Provider = (*MockProvider)(nil)
