package repository

import (
	"context"
	"time"

	"FinScreen/internal/domain/models"
	domrepo "FinScreen/internal/domain/repository"
	"FinScreen/internal/service/ratelimit"
	applogger "FinScreen/pkg/logger"
)

const throttlePollInterval = 50 * time.Millisecond

// RateLimitedProvider bounds the query rate against the backing store. Each
// operation gets its own bucket so a burst of market data reads cannot starve
// asset listings. An empty bucket makes the call wait, checking the context
// between polls.
type RateLimitedProvider struct {
	logger   *applogger.Logger
	provider domrepo.Provider
	limiter  *ratelimit.Limiter
	poll     time.Duration
}

// RateLimitOption configures a RateLimitedProvider.
type RateLimitOption func(*RateLimitedProvider)

// WithThrottlePoll overrides how often a throttled call rechecks its bucket.
func WithThrottlePoll(d time.Duration) RateLimitOption {
	return func(rp *RateLimitedProvider) {
		if d > 0 {
			rp.poll = d
		}
	}
}

func NewRateLimitedProvider(lgr *applogger.Logger, provider domrepo.Provider, limiter *ratelimit.Limiter, opts ...RateLimitOption) *RateLimitedProvider {
	rp := &RateLimitedProvider{
		logger:   lgr,
		provider: provider,
		limiter:  limiter,
		poll:     throttlePollInterval,
	}
	for _, opt := range opts {
		opt(rp)
	}
	return rp
}

func (rp *RateLimitedProvider) Assets(ctx context.Context, class models.AssetClass, asOf time.Time) ([]models.Asset, error) {
	if err := rp.acquire(ctx, OpAssets); err != nil {
		return nil, err
	}
	return rp.provider.Assets(ctx, class, asOf)
}

func (rp *RateLimitedProvider) MarketData(ctx context.Context, symbols []string, start, end time.Time) (models.MarketDataBySymbol, error) {
	if err := rp.acquire(ctx, OpMarketData); err != nil {
		return nil, err
	}
	return rp.provider.MarketData(ctx, symbols, start, end)
}

func (rp *RateLimitedProvider) Metadata(ctx context.Context, symbols []string) (models.MetadataBySymbol, error) {
	if err := rp.acquire(ctx, OpMetadata); err != nil {
		return nil, err
	}
	return rp.provider.Metadata(ctx, symbols)
}

func (rp *RateLimitedProvider) QualityMetrics(ctx context.Context, symbols []string, start, end time.Time) (models.QualityBySymbol, error) {
	if err := rp.acquire(ctx, OpQuality); err != nil {
		return nil, err
	}
	return rp.provider.QualityMetrics(ctx, symbols, start, end)
}

func (rp *RateLimitedProvider) acquire(ctx context.Context, op string) error {
	if rp.limiter.Allow(op) {
		return nil
	}

	rp.logger.Debug("provider throttled", applogger.String("operation", op))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rp.poll):
			if rp.limiter.Allow(op) {
				return nil
			}
		}
	}
}

var _ domrepo.Provider = (*RateLimitedProvider)(nil)
