package repository

import (
	"context"
	"time"

	"FinScreen/internal/domain/models"
)

// Provider supplies the asset listing and bulk point-in-time data for a
// screening run. Implementations must be safe for concurrent use.
type Provider interface {
	Assets(ctx context.Context, class models.AssetClass, asOf time.Time) ([]models.Asset, error)
	MarketData(ctx context.Context, symbols []string, start, end time.Time) (models.MarketDataBySymbol, error)
	Metadata(ctx context.Context, symbols []string) (models.MetadataBySymbol, error)
	QualityMetrics(ctx context.Context, symbols []string, start, end time.Time) (models.QualityBySymbol, error)
}

// AuditLogger records the run's decision trail, keyed by correlation id.
// Implementations must never fail the run.
type AuditLogger interface {
	RunStarted(ctx context.Context, correlationID string, req models.ScreeningRequest)
	StageCompleted(ctx context.Context, correlationID string, result models.StageResult)
	Anomaly(ctx context.Context, correlationID string, kind string, details map[string]interface{})
	RunCompleted(ctx context.Context, correlationID string, result *models.ScreeningResult)
	RunFailed(ctx context.Context, correlationID string, err error)
}

// MetricsCollector records timings, counts and gauges for a run.
type MetricsCollector interface {
	Timing(name string, d time.Duration, labels map[string]string)
	Count(name string, n int64, labels map[string]string)
	Gauge(name string, value float64, labels map[string]string)
	Snapshot() map[string]models.MetricSummary
}

// HealthPhase names the pipeline step a health check runs at.
type HealthPhase string

const (
	PhasePreflight  HealthPhase = "preflight"
	PhasePostLoad   HealthPhase = "post_load"
	PhasePostFilter HealthPhase = "post_filter"
)

// Observations carries the run-local figures a health check may inspect.
type Observations struct {
	ContextSizeMB float64
	InputCount    int
	OutputCount   int
}

// HealthReport is the outcome of one health check. A degraded report is
// logged as an anomaly, never an error.
type HealthReport struct {
	Phase     HealthPhase
	Healthy   bool
	Findings  []string
	CheckedAt time.Time
}

// HealthMonitor runs non-fatal checks around pipeline phases.
type HealthMonitor interface {
	Check(ctx context.Context, phase HealthPhase, obs Observations) HealthReport
}

// SnapshotInfo names a point-in-time reference recorded for audit.
type SnapshotInfo struct {
	ID            string
	CorrelationID string
	Class         models.AssetClass
	AsOf          time.Time
	CreatedAt     time.Time
}

// SnapshotManager registers audit snapshots. Registering never gates
// provider reads; it only tags results.
type SnapshotManager interface {
	Register(ctx context.Context, correlationID string, req models.ScreeningRequest) (SnapshotInfo, error)
	Get(id string) (SnapshotInfo, bool)
	Prune(maxAge time.Duration) int
}

// VersionManager fingerprints the code and configuration a run executed
// under.
type VersionManager interface {
	CodeVersion() string
	ConfigHash(cfg map[string]interface{}) string
}
