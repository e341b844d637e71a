package api

import (
	"time"

	"FinScreen/internal/domain/models"
	"FinScreen/internal/registry"
	"FinScreen/internal/repository"
	"FinScreen/internal/service/audit"
	"FinScreen/pkg/cache"
	"FinScreen/pkg/resilience"
	"FinScreen/pkg/util"
)

// toScreeningRequest converts a validated HTTP request into the domain
// form. Date parsing happens here so bad input surfaces as a 400 rather
// than deep inside a run.
func toScreeningRequest(req *models.ScreenRequest) (models.ScreeningRequest, error) {
	asOf, err := util.ParseDate(req.AsOf)
	if err != nil {
		return models.ScreeningRequest{}, err
	}
	class, err := models.ParseAssetClass(req.Class)
	if err != nil {
		return models.ScreeningRequest{}, err
	}

	useCache := true
	if req.UseCache != nil {
		useCache = *req.UseCache
	}

	return models.ScreeningRequest{
		AsOf:            asOf,
		Class:           class,
		LookbackDays:    req.LookbackDays,
		Config:          req.Config,
		UseCache:        useCache,
		CreateSnapshot:  req.CreateSnapshot,
		RunHealthChecks: req.RunHealthChecks,
		ValidateData:    req.ValidateData,
	}, nil
}

// StageReport is the wire form of one executed stage.
type StageReport struct {
	Stage       string            `json:"stage"`
	InputCount  int               `json:"input_count"`
	OutputCount int               `json:"output_count"`
	DurationMs  int64             `json:"duration_ms"`
	Rejections  map[string]string `json:"rejections,omitempty"`
}

// MetricReport is the wire form of one recorded run metric.
type MetricReport struct {
	Count int64   `json:"count"`
	Total float64 `json:"total"`
	Last  float64 `json:"last"`
}

// RunReport is the wire form of a completed screening run.
type RunReport struct {
	CorrelationID  string                  `json:"correlation_id"`
	Class          string                  `json:"class"`
	AsOf           string                  `json:"as_of"`
	LookbackDays   int                     `json:"lookback_days"`
	InputCount     int                     `json:"input_count"`
	OutputCount    int                     `json:"output_count"`
	Symbols        []string                `json:"symbols"`
	AuditTrail     []StageReport           `json:"audit_trail"`
	Metrics        map[string]MetricReport `json:"metrics,omitempty"`
	StartedAt      time.Time               `json:"started_at"`
	CompletedAt    time.Time               `json:"completed_at"`
	DurationMs     int64                   `json:"duration_ms"`
	SnapshotID     string                  `json:"snapshot_id,omitempty"`
	CodeVersion    string                  `json:"code_version,omitempty"`
	ConfigHash     string                  `json:"config_hash,omitempty"`
	FilterVersions map[string]string       `json:"filter_versions,omitempty"`
}

func newRunReport(result *models.ScreeningResult) RunReport {
	trail := make([]StageReport, 0, len(result.AuditTrail))
	for _, sr := range result.AuditTrail {
		trail = append(trail, StageReport{
			Stage:       sr.Stage,
			InputCount:  sr.InputCount,
			OutputCount: sr.OutputCount,
			DurationMs:  sr.Duration.Milliseconds(),
			Rejections:  sr.Reasons,
		})
	}

	var metrics map[string]MetricReport
	if len(result.Metrics) > 0 {
		metrics = make(map[string]MetricReport, len(result.Metrics))
		for name, m := range result.Metrics {
			metrics[name] = MetricReport{Count: m.Count, Total: m.Total, Last: m.Last}
		}
	}

	return RunReport{
		CorrelationID:  result.Metadata.CorrelationID,
		Class:          string(result.Request.Class),
		AsOf:           util.FormatDate(result.Request.AsOf),
		LookbackDays:   result.Request.LookbackDays,
		InputCount:     len(result.InputUniverse),
		OutputCount:    len(result.FinalUniverse),
		Symbols:        models.Symbols(result.FinalUniverse),
		AuditTrail:     trail,
		Metrics:        metrics,
		StartedAt:      result.Metadata.StartedAt,
		CompletedAt:    result.Metadata.CompletedAt,
		DurationMs:     result.Metadata.Duration.Milliseconds(),
		SnapshotID:     result.Metadata.SnapshotID,
		CodeVersion:    result.Metadata.CodeVersion,
		ConfigHash:     result.Metadata.ConfigHash,
		FilterVersions: result.Metadata.FilterVersions,
	}
}

// CacheReport combines store-level counters with per-operation hit/miss
// splits from the cached provider.
type CacheReport struct {
	Store      cache.Stats                   `json:"store"`
	Operations map[string]repository.OpStats `json:"operations"`
}

// StatsResponse is the ops view of the running service.
type StatsResponse struct {
	UptimeSeconds float64                    `json:"uptime_seconds"`
	Cache         *CacheReport               `json:"cache,omitempty"`
	Breakers      []resilience.BreakerStatus `json:"breakers,omitempty"`
	Filters       []registry.FilterInfo      `json:"filters"`
	EnabledOrder  []string                   `json:"enabled_order"`
	RecentEvents  []audit.Event              `json:"recent_events,omitempty"`
}

// tailEvents keeps the newest n events of the audit trail.
func tailEvents(events []audit.Event, n int) []audit.Event {
	if n <= 0 {
		return nil
	}
	if len(events) <= n {
		return events
	}
	return events[len(events)-n:]
}

// eventsSince drops events recorded before the cutoff. The trail is
// append-only, so the first event at or past the cutoff starts the kept
// suffix.
func eventsSince(events []audit.Event, cutoff time.Time) []audit.Event {
	for i, ev := range events {
		if !ev.Timestamp.Before(cutoff) {
			return events[i:]
		}
	}
	return nil
}
