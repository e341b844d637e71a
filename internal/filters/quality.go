package filters

import (
	"context"
	"fmt"
	"time"

	"FinScreen/internal/domain/models"
	"FinScreen/internal/pipeline"
)

// QualityVersion identifies the data-quality rule set for audit metadata.
const QualityVersion = "1.2.0"

// DefaultMaxMissingDays is the most gap days tolerated in the lookback.
const DefaultMaxMissingDays = 3

// QualityFilter rejects instruments whose data coverage is too sparse to
// trust: too many missing days, or (when configured) too little news
// coverage for sentiment work. Instruments without quality metrics at all
// are rejected.
type QualityFilter struct {
	maxMissingDays  int
	minNewsArticles int // 0 disables the news check
}

// NewQuality builds the stage from its configuration. Recognized keys:
// max_missing_days, min_news_articles.
func NewQuality(cfg pipeline.Config) (pipeline.Stage, error) {
	f := &QualityFilter{
		maxMissingDays:  cfg.Int("max_missing_days", DefaultMaxMissingDays),
		minNewsArticles: cfg.Int("min_news_articles", 0),
	}

	if f.maxMissingDays < 0 {
		return nil, fmt.Errorf("max_missing_days must be >= 0, got %d", f.maxMissingDays)
	}
	if f.minNewsArticles < 0 {
		return nil, fmt.Errorf("min_news_articles must be >= 0, got %d", f.minNewsArticles)
	}
	return f, nil
}

func (f *QualityFilter) Name() string { return "quality" }

func (f *QualityFilter) Apply(_ context.Context, assets []models.Asset, _ time.Time, data *pipeline.DataContext) (models.FilterResult, error) {
	result := models.FilterResult{
		Passed:  make([]string, 0, len(assets)),
		Reasons: make(map[string]string),
	}

	for _, a := range assets {
		quality, ok := data.Quality(a.Symbol)
		if !ok {
			result.Reasons[a.Symbol] = "no quality metrics available"
			continue
		}

		if reason := f.check(quality); reason != "" {
			result.Reasons[a.Symbol] = reason
			continue
		}
		result.Passed = append(result.Passed, a.Symbol)
	}
	return result, nil
}

func (f *QualityFilter) check(q models.QualityMetrics) string {
	if q.MissingDays > f.maxMissingDays {
		return fmt.Sprintf("missing_days=%d > max=%d", q.MissingDays, f.maxMissingDays)
	}
	if f.minNewsArticles > 0 && q.NewsArticleCount < f.minNewsArticles {
		return fmt.Sprintf("news_count=%d < min=%d", q.NewsArticleCount, f.minNewsArticles)
	}
	return ""
}

var _ pipeline.Stage = (*QualityFilter)(nil)
