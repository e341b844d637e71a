package resilience

import (
	"fmt"
	"strings"
	"time"
)

// ExhaustedError reports that an operation kept failing across the whole
// attempt budget. It wraps the last error seen.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: retries exhausted after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// OpenError reports a call rejected by an open circuit. The wrapped
// function was never invoked.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit %q open, retry in %s", e.Name, e.RetryAfter.Round(time.Millisecond))
}

// PartialError reports a batch whose success rate fell below the floor.
// The PartialResult returned alongside still carries every success and
// failure.
type PartialError struct {
	Op      string
	Total   int
	Failed  int
	Rate    float64
	MinRate float64
	Errs    []error
}

func (e *PartialError) Error() string {
	msg := fmt.Sprintf("%s: %d/%d items failed (success rate %.2f < %.2f)",
		e.Op, e.Failed, e.Total, e.Rate, e.MinRate)
	if len(e.Errs) > 0 {
		samples := make([]string, 0, len(e.Errs))
		for _, err := range e.Errs {
			samples = append(samples, err.Error())
		}
		msg += ": " + strings.Join(samples, "; ")
	}
	return msg
}

func (e *PartialError) Unwrap() []error {
	return e.Errs
}
