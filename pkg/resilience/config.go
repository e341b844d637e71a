package resilience

import "time"

const (
	DefaultMaxAttempts      = 3
	DefaultBaseDelay        = time.Second
	DefaultMaxDelay         = 30 * time.Second
	DefaultExponentialBase  = 2.0
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 60 * time.Second
	DefaultSuccessThreshold = 2
	DefaultMinSuccessRate   = 0.5
)

// RetryOption configures a Retrier.
type RetryOption func(*RetryConfig)

// RetryConfig holds retry policy settings.
type RetryConfig struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64

	// Retryable decides whether an error is worth another attempt.
	// Nil means every error is retryable. Context cancellation always
	// stops retrying regardless.
	Retryable func(error) bool
}

// WithMaxAttempts sets the total attempt budget (first call included).
func WithMaxAttempts(n int) RetryOption {
	return func(c *RetryConfig) {
		c.MaxAttempts = n
	}
}

// WithBaseDelay sets the delay before the second attempt.
func WithBaseDelay(d time.Duration) RetryOption {
	return func(c *RetryConfig) {
		c.BaseDelay = d
	}
}

// WithMaxDelay caps the backoff delay.
func WithMaxDelay(d time.Duration) RetryOption {
	return func(c *RetryConfig) {
		c.MaxDelay = d
	}
}

// WithExponentialBase sets the backoff growth factor.
func WithExponentialBase(base float64) RetryOption {
	return func(c *RetryConfig) {
		c.ExponentialBase = base
	}
}

// WithRetryable sets the error classifier.
func WithRetryable(fn func(error) bool) RetryOption {
	return func(c *RetryConfig) {
		c.Retryable = fn
	}
}

// BreakerOption configures a BreakerGroup.
type BreakerOption func(*BreakerConfig)

// BreakerConfig holds circuit breaker settings shared by all circuits in a
// group.
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	SuccessThreshold int

	// OnStateChange is invoked on every transition, after the new state
	// is recorded. Useful for metrics gauges.
	OnStateChange func(name string, state State)
}

// WithFailureThreshold sets consecutive failures needed to open a circuit.
func WithFailureThreshold(n int) BreakerOption {
	return func(c *BreakerConfig) {
		c.FailureThreshold = n
	}
}

// WithRecoveryTimeout sets how long an open circuit rejects calls.
func WithRecoveryTimeout(d time.Duration) BreakerOption {
	return func(c *BreakerConfig) {
		c.RecoveryTimeout = d
	}
}

// WithSuccessThreshold sets half-open successes needed to close a circuit.
func WithSuccessThreshold(n int) BreakerOption {
	return func(c *BreakerConfig) {
		c.SuccessThreshold = n
	}
}

// WithStateChangeHook sets the transition callback.
func WithStateChangeHook(fn func(name string, state State)) BreakerOption {
	return func(c *BreakerConfig) {
		c.OnStateChange = fn
	}
}
