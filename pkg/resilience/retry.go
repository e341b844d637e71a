package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"FinScreen/pkg/logger"
)

// Retrier re-invokes failing operations with exponential backoff. Meant for
// idempotent reads; the caller decides what is safe to retry.
type Retrier struct {
	logger *logger.Logger
	cfg    RetryConfig
}

// NewRetrier creates a Retrier with the default policy (3 attempts, 1s base
// delay, factor 2, 30s cap).
func NewRetrier(lgr *logger.Logger, opts ...RetryOption) *Retrier {
	cfg := &RetryConfig{
		MaxAttempts:     DefaultMaxAttempts,
		BaseDelay:       DefaultBaseDelay,
		MaxDelay:        DefaultMaxDelay,
		ExponentialBase: DefaultExponentialBase,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return &Retrier{logger: lgr, cfg: *cfg}
}

// Do invokes fn until it succeeds or the attempt budget runs out, sleeping
// min(BaseDelay * ExponentialBase^(attempt-1), MaxDelay) between attempts.
// Exhaustion returns an *ExhaustedError wrapping the last error.
// Non-retryable errors and context cancellation propagate immediately.
func (r *Retrier) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("operation recovered",
					logger.String("operation", op),
					logger.Int("attempt", attempt))
			}
			return nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", op, err)
		}
		if r.cfg.Retryable != nil && !r.cfg.Retryable(err) {
			return err
		}
		if attempt == r.cfg.MaxAttempts {
			break
		}

		delay := r.delay(attempt)
		r.logger.Warn("operation failed, retrying",
			logger.String("operation", op),
			logger.Int("attempt", attempt),
			logger.Int("max_attempts", r.cfg.MaxAttempts),
			logger.Duration("delay", delay),
			logger.Error(err))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
	}

	r.logger.Error("operation retries exhausted",
		logger.String("operation", op),
		logger.Int("attempts", r.cfg.MaxAttempts),
		logger.Error(lastErr))
	return &ExhaustedError{Op: op, Attempts: r.cfg.MaxAttempts, Err: lastErr}
}

func (r *Retrier) delay(attempt int) time.Duration {
	d := time.Duration(float64(r.cfg.BaseDelay) * math.Pow(r.cfg.ExponentialBase, float64(attempt-1)))
	if d > r.cfg.MaxDelay {
		d = r.cfg.MaxDelay
	}
	return d
}
