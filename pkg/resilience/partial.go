package resilience

import (
	"context"
	"fmt"

	"FinScreen/pkg/logger"
)

// FailedItem pairs an input item with the error it produced.
type FailedItem[T any] struct {
	Item T
	Err  error
}

// PartialResult collects per-item outcomes of a batch operation.
type PartialResult[T, R any] struct {
	Succeeded []R
	Failed    []FailedItem[T]
}

// SuccessRate returns succeeded / total. An empty batch counts as fully
// successful.
func (p *PartialResult[T, R]) SuccessRate() float64 {
	total := len(p.Succeeded) + len(p.Failed)
	if total == 0 {
		return 1.0
	}
	return float64(len(p.Succeeded)) / float64(total)
}

// Total returns the number of items processed.
func (p *PartialResult[T, R]) Total() int {
	return len(p.Succeeded) + len(p.Failed)
}

// Partial applies fn to each item independently, collecting successes and
// failures instead of stopping at the first error. When the success rate
// lands below minSuccessRate it returns a *PartialError; the result is
// returned either way so callers can proceed with the successful subset.
func Partial[T, R any](ctx context.Context, lgr *logger.Logger, op string, items []T, minSuccessRate float64, fn func(context.Context, T) (R, error)) (*PartialResult[T, R], error) {
	result := &PartialResult[T, R]{}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("%s: %w", op, err)
		}

		out, err := fn(ctx, item)
		if err != nil {
			result.Failed = append(result.Failed, FailedItem[T]{Item: item, Err: err})
			lgr.Warn("batch item failed",
				logger.String("operation", op),
				logger.Error(err))
			continue
		}
		result.Succeeded = append(result.Succeeded, out)
	}

	rate := result.SuccessRate()
	if rate < minSuccessRate {
		perr := &PartialError{
			Op:      op,
			Total:   result.Total(),
			Failed:  len(result.Failed),
			Rate:    rate,
			MinRate: minSuccessRate,
		}
		for i, f := range result.Failed {
			if i == 3 {
				break
			}
			perr.Errs = append(perr.Errs, f.Err)
		}
		return result, perr
	}

	if len(result.Failed) > 0 {
		lgr.Warn("batch completed with failures",
			logger.String("operation", op),
			logger.Int("failed", len(result.Failed)),
			logger.Int("total", result.Total()))
	}
	return result, nil
}
