package health

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/mem"

	domrepo "FinScreen/internal/domain/repository"
	applogger "FinScreen/pkg/logger"
)

// Thresholds mirror the run-sanity limits the pipeline was tuned for.
const (
	DefaultMaxMemoryPct      = 80.0
	DefaultWarnMemoryPct     = 70.0
	DefaultMaxContextMB      = 2000.0
	DefaultWarnContextMB     = 1500.0
	DefaultMinOutputCount    = 10
	DefaultMaxReductionRatio = 0.99
)

// MemoryProbe reports system memory usage in percent.
type MemoryProbe func(ctx context.Context) (float64, error)

// Monitor runs phase-scoped sanity checks: system memory before a run,
// context size after loading, output plausibility after filtering. A
// degraded report never aborts anything; the orchestrator records it as an
// anomaly.
type Monitor struct {
	logger *applogger.Logger

	maxMemoryPct  float64
	warnMemoryPct float64
	maxContextMB  float64
	warnContextMB float64
	minOutput     int
	maxReduction  float64

	probe MemoryProbe
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithMemoryLimits sets the warn and fail thresholds for system memory.
func WithMemoryLimits(warnPct, maxPct float64) Option {
	return func(m *Monitor) {
		m.warnMemoryPct = warnPct
		m.maxMemoryPct = maxPct
	}
}

// WithContextLimits sets the warn and fail thresholds for context size.
func WithContextLimits(warnMB, maxMB float64) Option {
	return func(m *Monitor) {
		m.warnContextMB = warnMB
		m.maxContextMB = maxMB
	}
}

// WithMinOutputCount sets the output-size floor checked post filter.
func WithMinOutputCount(n int) Option {
	return func(m *Monitor) {
		m.minOutput = n
	}
}

// WithMaxReductionRatio sets the plausibility ceiling for total reduction.
func WithMaxReductionRatio(r float64) Option {
	return func(m *Monitor) {
		m.maxReduction = r
	}
}

// WithMemoryProbe replaces the gopsutil probe, mainly for tests.
func WithMemoryProbe(probe MemoryProbe) Option {
	return func(m *Monitor) {
		m.probe = probe
	}
}

func NewMonitor(lgr *applogger.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		logger:        lgr,
		maxMemoryPct:  DefaultMaxMemoryPct,
		warnMemoryPct: DefaultWarnMemoryPct,
		maxContextMB:  DefaultMaxContextMB,
		warnContextMB: DefaultWarnContextMB,
		minOutput:     DefaultMinOutputCount,
		maxReduction:  DefaultMaxReductionRatio,
		probe:         systemMemoryPct,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func systemMemoryPct(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

func (m *Monitor) Check(ctx context.Context, phase domrepo.HealthPhase, obs domrepo.Observations) domrepo.HealthReport {
	report := domrepo.HealthReport{
		Phase:     phase,
		Healthy:   true,
		CheckedAt: time.Now(),
	}

	switch phase {
	case domrepo.PhasePreflight:
		m.checkMemory(ctx, &report)
	case domrepo.PhasePostLoad:
		m.checkContextSize(obs, &report)
	case domrepo.PhasePostFilter:
		m.checkOutputSize(obs, &report)
		m.checkReductionRatio(obs, &report)
	}

	m.logReport(report)
	return report
}

func (m *Monitor) checkMemory(ctx context.Context, report *domrepo.HealthReport) {
	pct, err := m.probe(ctx)
	if err != nil {
		// A broken probe must not block screening.
		report.Findings = append(report.Findings, fmt.Sprintf("memory probe unavailable: %v", err))
		return
	}

	switch {
	case pct >= m.maxMemoryPct:
		report.Healthy = false
		report.Findings = append(report.Findings,
			fmt.Sprintf("memory usage %.1f%% exceeds max %.1f%%", pct, m.maxMemoryPct))
	case pct >= m.warnMemoryPct:
		report.Findings = append(report.Findings,
			fmt.Sprintf("memory usage %.1f%% approaching limit %.1f%%", pct, m.maxMemoryPct))
	}
}

func (m *Monitor) checkContextSize(obs domrepo.Observations, report *domrepo.HealthReport) {
	switch {
	case obs.ContextSizeMB >= m.maxContextMB:
		report.Healthy = false
		report.Findings = append(report.Findings,
			fmt.Sprintf("data context %.1fMB exceeds max %.1fMB", obs.ContextSizeMB, m.maxContextMB))
	case obs.ContextSizeMB >= m.warnContextMB:
		report.Findings = append(report.Findings,
			fmt.Sprintf("data context %.1fMB approaching limit %.1fMB", obs.ContextSizeMB, m.maxContextMB))
	}
}

func (m *Monitor) checkOutputSize(obs domrepo.Observations, report *domrepo.HealthReport) {
	switch {
	case obs.OutputCount == 0:
		report.Healthy = false
		report.Findings = append(report.Findings, "output universe is empty")
	case obs.OutputCount < m.minOutput:
		report.Findings = append(report.Findings,
			fmt.Sprintf("output universe %d below minimum %d", obs.OutputCount, m.minOutput))
	}
}

func (m *Monitor) checkReductionRatio(obs domrepo.Observations, report *domrepo.HealthReport) {
	if obs.InputCount == 0 {
		report.Findings = append(report.Findings, "input universe is empty, cannot calculate reduction")
		return
	}

	reduction := 1.0 - float64(obs.OutputCount)/float64(obs.InputCount)
	if reduction > m.maxReduction {
		report.Findings = append(report.Findings,
			fmt.Sprintf("reduction ratio %.1f%% exceeds max %.1f%%", reduction*100, m.maxReduction*100))
	}
}

func (m *Monitor) logReport(report domrepo.HealthReport) {
	if len(report.Findings) == 0 {
		return
	}

	fields := []applogger.Field{
		applogger.String("phase", string(report.Phase)),
		applogger.Strings("findings", report.Findings),
	}
	if report.Healthy {
		m.logger.Warn("health check degraded", fields...)
		return
	}
	m.logger.Error("health check failed", fields...)
}

var _ domrepo.HealthMonitor = (*Monitor)(nil)
