package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"FinScreen/internal/domain/models"
	domrepo "FinScreen/internal/domain/repository"
	pkgch "FinScreen/pkg/clickhouse"
	applogger "FinScreen/pkg/logger"
)

// SchemaStatements returns the DDL the screening store needs. The DI layer
// runs them at startup via clickhouse.Client.InitSchema.
func SchemaStatements() []string {
	return []string{
		`CREATE DATABASE IF NOT EXISTS finscreen`,
		`CREATE TABLE IF NOT EXISTS finscreen.instruments (
			symbol String,
			name String,
			class LowCardinality(String),
			asset_type LowCardinality(String),
			exchange LowCardinality(String),
			listing_date Date,
			delisting_date Nullable(Date),
			isin String,
			sector LowCardinality(String),
			country LowCardinality(String)
		) ENGINE = ReplacingMergeTree() ORDER BY symbol`,
		`CREATE TABLE IF NOT EXISTS finscreen.market_data (
			symbol String,
			date Date,
			open Float64,
			high Float64,
			low Float64,
			close Float64,
			volume Int64
		) ENGINE = ReplacingMergeTree() ORDER BY (symbol, date)`,
		`CREATE TABLE IF NOT EXISTS finscreen.news_articles (
			symbol String,
			published_at DateTime,
			headline String
		) ENGINE = MergeTree() ORDER BY (symbol, published_at)`,
	}
}

// ClickHouseProvider implements Provider backed by the analytics store.
type ClickHouseProvider struct {
	db *sql.DB
	l  *applogger.Logger
}

func NewClickHouseProvider(ch *pkgch.Client) *ClickHouseProvider {
	return &ClickHouseProvider{db: ch.DB()}
}

// SetLogger injects a structured logger.
func (s *ClickHouseProvider) SetLogger(l *applogger.Logger) { s.l = l }

func (s *ClickHouseProvider) Assets(ctx context.Context, class models.AssetClass, asOf time.Time) ([]models.Asset, error) {
	start := time.Now()
	const q = `
        SELECT symbol, name, class, asset_type, exchange, listing_date, delisting_date, isin, sector, country
        FROM finscreen.instruments
        WHERE class = ? AND listing_date <= ? AND (delisting_date IS NULL OR delisting_date > ?)
        ORDER BY symbol ASC
    `
	rows, err := s.db.QueryContext(ctx, q, string(class), asOf, asOf)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse assets query error",
				applogger.String("class", string(class)),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("get assets: %w", err)
	}
	defer rows.Close()

	out := make([]models.Asset, 0, 256)
	for rows.Next() {
		var a models.Asset
		var delisted sql.NullTime
		if err := rows.Scan(&a.Symbol, &a.Name, &a.Class, &a.Type, &a.Exchange, &a.ListingDate, &delisted, &a.ISIN, &a.Sector, &a.Country); err != nil {
			if s.l != nil {
				s.l.Error("clickhouse assets scan error",
					applogger.String("class", string(class)),
					applogger.Error(err),
				)
			}
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		if delisted.Valid {
			a.DelistingDate = delisted.Time
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		if s.l != nil {
			s.l.Error("clickhouse assets rows error",
				applogger.String("class", string(class)),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("rows: %w", err)
	}
	if s.l != nil {
		s.l.Info("clickhouse assets ok",
			applogger.String("class", string(class)),
			applogger.Int("rows", len(out)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return out, nil
}

func (s *ClickHouseProvider) MarketData(ctx context.Context, symbols []string, from, to time.Time) (models.MarketDataBySymbol, error) {
	out := make(models.MarketDataBySymbol, len(symbols))
	for _, symbol := range symbols {
		out[symbol] = []models.MarketDataPoint{}
	}
	if len(symbols) == 0 {
		return out, nil
	}

	start := time.Now()
	q := fmt.Sprintf(`
        SELECT symbol, date, open, high, low, close, volume
        FROM finscreen.market_data
        WHERE symbol IN (%s) AND date >= ? AND date <= ?
        ORDER BY symbol ASC, date ASC
    `, inPlaceholders(len(symbols)))

	args := make([]interface{}, 0, len(symbols)+2)
	for _, symbol := range symbols {
		args = append(args, symbol)
	}
	args = append(args, from, to)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse market_data query error",
				applogger.Int("symbols", len(symbols)),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("get market data: %w", err)
	}
	defer rows.Close()

	total := 0
	for rows.Next() {
		var symbol string
		var p models.MarketDataPoint
		if err := rows.Scan(&symbol, &p.Date, &p.Open, &p.High, &p.Low, &p.Close, &p.Volume); err != nil {
			if s.l != nil {
				s.l.Error("clickhouse market_data scan error", applogger.Error(err))
			}
			return nil, fmt.Errorf("scan market data: %w", err)
		}
		out[symbol] = append(out[symbol], p)
		total++
	}
	if err := rows.Err(); err != nil {
		if s.l != nil {
			s.l.Error("clickhouse market_data rows error", applogger.Error(err))
		}
		return nil, fmt.Errorf("rows: %w", err)
	}
	if s.l != nil {
		s.l.Info("clickhouse market_data ok",
			applogger.Int("symbols", len(symbols)),
			applogger.Int("rows", total),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return out, nil
}

func (s *ClickHouseProvider) Metadata(ctx context.Context, symbols []string) (models.MetadataBySymbol, error) {
	out := make(models.MetadataBySymbol, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}

	start := time.Now()
	q := fmt.Sprintf(`
        SELECT symbol, asset_type, exchange, sector, country, listing_date, delisting_date
        FROM finscreen.instruments
        WHERE symbol IN (%s)
    `, inPlaceholders(len(symbols)))

	rows, err := s.db.QueryContext(ctx, q, symbolArgs(symbols)...)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse metadata query error",
				applogger.Int("symbols", len(symbols)),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("get metadata: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var symbol, assetType, exchange, sector, country string
		var listed time.Time
		var delisted sql.NullTime
		if err := rows.Scan(&symbol, &assetType, &exchange, &sector, &country, &listed, &delisted); err != nil {
			if s.l != nil {
				s.l.Error("clickhouse metadata scan error", applogger.Error(err))
			}
			return nil, fmt.Errorf("scan metadata: %w", err)
		}
		meta := map[string]interface{}{
			"asset_type":   assetType,
			"exchange":     exchange,
			"sector":       sector,
			"country":      country,
			"listing_date": listed,
		}
		if delisted.Valid {
			meta["delisting_date"] = delisted.Time
		}
		out[symbol] = meta
	}
	if err := rows.Err(); err != nil {
		if s.l != nil {
			s.l.Error("clickhouse metadata rows error", applogger.Error(err))
		}
		return nil, fmt.Errorf("rows: %w", err)
	}
	if s.l != nil {
		s.l.Info("clickhouse metadata ok",
			applogger.Int("symbols", len(symbols)),
			applogger.Int("rows", len(out)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return out, nil
}

// QualityMetrics derives coverage from stored bars: expected sessions are
// the weekdays in the window, missing days the shortfall against actual
// bars. News counts come from the articles table.
func (s *ClickHouseProvider) QualityMetrics(ctx context.Context, symbols []string, from, to time.Time) (models.QualityBySymbol, error) {
	out := make(models.QualityBySymbol, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}

	start := time.Now()
	bars, lastDates, err := s.barCoverage(ctx, symbols, from, to)
	if err != nil {
		return nil, err
	}
	news, err := s.newsCounts(ctx, symbols, from, to)
	if err != nil {
		return nil, err
	}

	expected := weekdaysBetween(from, to)
	for _, symbol := range symbols {
		missing := expected - bars[symbol]
		if missing < 0 {
			missing = 0
		}
		out[symbol] = models.QualityMetrics{
			MissingDays:       missing,
			LastAvailableDate: lastDates[symbol],
			NewsArticleCount:  news[symbol],
		}
	}
	if s.l != nil {
		s.l.Info("clickhouse quality_metrics ok",
			applogger.Int("symbols", len(symbols)),
			applogger.Int("expected_sessions", expected),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return out, nil
}

func (s *ClickHouseProvider) barCoverage(ctx context.Context, symbols []string, from, to time.Time) (map[string]int, map[string]time.Time, error) {
	q := fmt.Sprintf(`
        SELECT symbol, count() AS bars, max(date) AS last_date
        FROM finscreen.market_data
        WHERE symbol IN (%s) AND date >= ? AND date <= ?
        GROUP BY symbol
    `, inPlaceholders(len(symbols)))

	args := append(symbolArgs(symbols), from, to)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse bar_coverage query error", applogger.Error(err))
		}
		return nil, nil, fmt.Errorf("get bar coverage: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int, len(symbols))
	lastDates := make(map[string]time.Time, len(symbols))
	for rows.Next() {
		var symbol string
		var bars int
		var last time.Time
		if err := rows.Scan(&symbol, &bars, &last); err != nil {
			return nil, nil, fmt.Errorf("scan bar coverage: %w", err)
		}
		counts[symbol] = bars
		lastDates[symbol] = last
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("rows: %w", err)
	}
	return counts, lastDates, nil
}

func (s *ClickHouseProvider) newsCounts(ctx context.Context, symbols []string, from, to time.Time) (map[string]int, error) {
	q := fmt.Sprintf(`
        SELECT symbol, count() AS articles
        FROM finscreen.news_articles
        WHERE symbol IN (%s) AND published_at >= ? AND published_at <= ?
        GROUP BY symbol
    `, inPlaceholders(len(symbols)))

	args := append(symbolArgs(symbols), from, to)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse news_counts query error", applogger.Error(err))
		}
		return nil, fmt.Errorf("get news counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int, len(symbols))
	for rows.Next() {
		var symbol string
		var articles int
		if err := rows.Scan(&symbol, &articles); err != nil {
			return nil, fmt.Errorf("scan news count: %w", err)
		}
		counts[symbol] = articles
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return counts, nil
}

func inPlaceholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func symbolArgs(symbols []string) []interface{} {
	args := make([]interface{}, len(symbols))
	for i, symbol := range symbols {
		args[i] = symbol
	}
	return args
}

// weekdaysBetween counts Monday through Friday dates in [start, end].
func weekdaysBetween(start, end time.Time) int {
	n := 0
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if !isWeekend(d) {
			n++
		}
	}
	return n
}

var _ domrepo.Provider = (*ClickHouseProvider)(nil)
