package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinScreen/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	lgr, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	return lgr
}

func TestRetrierSucceedsFirstAttempt(t *testing.T) {
	r := NewRetrier(testLogger(t))

	calls := 0
	err := r.Do(context.Background(), "load", func(context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetrierSucceedsAfterRetries(t *testing.T) {
	r := NewRetrier(testLogger(t), WithBaseDelay(2*time.Millisecond))

	calls := 0
	err := r.Do(context.Background(), "load", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrierExhaustsAttempts(t *testing.T) {
	r := NewRetrier(testLogger(t), WithBaseDelay(time.Millisecond))

	sentinel := errors.New("provider down")
	calls := 0
	err := r.Do(context.Background(), "load", func(context.Context) error {
		calls++
		return sentinel
	})

	assert.Equal(t, DefaultMaxAttempts, calls)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "load", exhausted.Op)
	assert.Equal(t, DefaultMaxAttempts, exhausted.Attempts)
	assert.ErrorIs(t, err, sentinel)
}

func TestRetrierBackoffSchedule(t *testing.T) {
	r := NewRetrier(testLogger(t))

	assert.Equal(t, time.Second, r.delay(1))
	assert.Equal(t, 2*time.Second, r.delay(2))
	assert.Equal(t, 16*time.Second, r.delay(5))
	// 2^5 = 32s would exceed the cap
	assert.Equal(t, 30*time.Second, r.delay(6))
}

func TestRetrierNonRetryableError(t *testing.T) {
	permanent := errors.New("bad request")
	r := NewRetrier(testLogger(t),
		WithBaseDelay(time.Millisecond),
		WithRetryable(func(err error) bool { return !errors.Is(err, permanent) }))

	calls := 0
	err := r.Do(context.Background(), "load", func(context.Context) error {
		calls++
		return permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)

	var exhausted *ExhaustedError
	assert.False(t, errors.As(err, &exhausted))
}

func TestRetrierContextCancelledDuringBackoff(t *testing.T) {
	r := NewRetrier(testLogger(t), WithBaseDelay(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	start := time.Now()
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := r.Do(ctx, "load", func(context.Context) error {
		calls++
		return errors.New("transient")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
