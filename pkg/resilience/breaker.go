package resilience

import (
	"context"
	"sync"
	"time"

	"FinScreen/pkg/logger"
)

// State is a circuit breaker state.
type State int8

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerStatus is a point-in-time view of one circuit, for introspection.
type BreakerStatus struct {
	Name        string    `json:"name"`
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	Successes   int       `json:"successes"`
	LastFailure time.Time `json:"last_failure,omitempty"`
}

type breaker struct {
	state       State
	failures    int
	successes   int
	lastFailure time.Time
}

// BreakerGroup maintains one circuit breaker per name, created on first
// use. All circuits share the group's thresholds and mutex.
type BreakerGroup struct {
	logger   *logger.Logger
	cfg      BreakerConfig
	mutex    sync.Mutex
	breakers map[string]*breaker
}

// NewBreakerGroup creates a group with the default thresholds (5 failures
// to open, 60s recovery, 2 successes to close).
func NewBreakerGroup(lgr *logger.Logger, opts ...BreakerOption) *BreakerGroup {
	cfg := &BreakerConfig{
		FailureThreshold: DefaultFailureThreshold,
		RecoveryTimeout:  DefaultRecoveryTimeout,
		SuccessThreshold: DefaultSuccessThreshold,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return &BreakerGroup{
		logger:   lgr,
		cfg:      *cfg,
		breakers: make(map[string]*breaker),
	}
}

// Do runs fn through the named circuit. An open circuit rejects the call
// with *OpenError without invoking fn. The group mutex is held only around
// state transitions, never across fn.
func (g *BreakerGroup) Do(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := g.before(name); err != nil {
		return err
	}

	err := fn(ctx)
	g.after(name, err)
	return err
}

// State returns the recorded state of the named circuit. Unknown names
// read as closed.
func (g *BreakerGroup) State(name string) State {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if b, ok := g.breakers[name]; ok {
		return b.state
	}
	return StateClosed
}

// Reset forces the named circuit back to closed with zeroed counters.
func (g *BreakerGroup) Reset(name string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if b, ok := g.breakers[name]; ok {
		b.state = StateClosed
		b.failures = 0
		b.successes = 0
		g.notify(name, StateClosed)
	}
}

// Snapshot returns the status of every circuit the group has seen.
func (g *BreakerGroup) Snapshot() []BreakerStatus {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	statuses := make([]BreakerStatus, 0, len(g.breakers))
	for name, b := range g.breakers {
		statuses = append(statuses, BreakerStatus{
			Name:        name,
			State:       b.state.String(),
			Failures:    b.failures,
			Successes:   b.successes,
			LastFailure: b.lastFailure,
		})
	}
	return statuses
}

func (g *BreakerGroup) before(name string) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	b := g.get(name)
	if b.state != StateOpen {
		return nil
	}

	elapsed := time.Since(b.lastFailure)
	if elapsed < g.cfg.RecoveryTimeout {
		return &OpenError{Name: name, RetryAfter: g.cfg.RecoveryTimeout - elapsed}
	}

	b.state = StateHalfOpen
	b.successes = 0
	g.notify(name, StateHalfOpen)
	g.logger.Info("circuit half-open, admitting probe", logger.String("circuit", name))
	return nil
}

func (g *BreakerGroup) after(name string, err error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	b := g.get(name)

	if err != nil {
		b.failures++
		b.lastFailure = time.Now()

		switch b.state {
		case StateHalfOpen:
			b.state = StateOpen
			g.notify(name, StateOpen)
			g.logger.Warn("circuit re-opened by failed probe",
				logger.String("circuit", name),
				logger.Error(err))
		case StateClosed:
			if b.failures >= g.cfg.FailureThreshold {
				b.state = StateOpen
				g.notify(name, StateOpen)
				g.logger.Warn("circuit opened",
					logger.String("circuit", name),
					logger.Int("failures", b.failures),
					logger.Error(err))
			}
		}
		return
	}

	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= g.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
			g.notify(name, StateClosed)
			g.logger.Info("circuit closed", logger.String("circuit", name))
		}
	case StateClosed:
		b.failures = 0
	}
}

// get returns the named circuit, creating it closed. Caller holds mutex.
func (g *BreakerGroup) get(name string) *breaker {
	b, ok := g.breakers[name]
	if !ok {
		b = &breaker{state: StateClosed}
		g.breakers[name] = b
	}
	return b
}

func (g *BreakerGroup) notify(name string, state State) {
	if g.cfg.OnStateChange != nil {
		g.cfg.OnStateChange(name, state)
	}
}
