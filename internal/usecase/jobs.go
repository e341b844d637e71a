package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"FinScreen/internal/domain/models"
	domrepo "FinScreen/internal/domain/repository"
	"FinScreen/internal/validation"
	"FinScreen/pkg/cache"
	applogger "FinScreen/pkg/logger"
	pkgmetrics "FinScreen/pkg/metrics"
	"FinScreen/pkg/queue"
	"FinScreen/pkg/resilience"
)

// Queue message types handled by the background jobs.
const (
	JobTypeDeferredScreening = "screening.deferred"
	JobTypeSnapshotPrune     = "maintenance.snapshot_prune"
	JobTypeCacheStats        = "maintenance.cache_stats"
)

// ResultCacheKey is where a run's stored outcome lives in the cache.
func ResultCacheKey(correlationID string) string {
	return cache.GenerateKey("screening:result", correlationID)
}

// DeferredRun is the envelope stored for an asynchronously submitted run.
// The ops API writes the queued record, the job advances it through
// running to completed or failed.
type DeferredRun struct {
	CorrelationID string      `json:"correlation_id"`
	Status        string      `json:"status"`
	SubmittedAt   time.Time   `json:"submitted_at"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
	Error         string      `json:"error,omitempty"`
	Summary       *RunSummary `json:"summary,omitempty"`
}

// DeferredScreeningJob runs queued screening requests and stores each
// outcome where the ops API can read it back.
type DeferredScreeningJob struct {
	logger   *applogger.Logger
	screener *Screener
	store    cache.Service
}

func NewDeferredScreeningJob(lgr *applogger.Logger, screener *Screener, store cache.Service) *DeferredScreeningJob {
	return &DeferredScreeningJob{logger: lgr, screener: screener, store: store}
}

func (j *DeferredScreeningJob) Name() string { return "deferred_screening" }

func (j *DeferredScreeningJob) Type() string { return JobTypeDeferredScreening }

func (j *DeferredScreeningJob) Handle(ctx context.Context, payload interface{}) error {
	msg, err := queue.ParsePayload[RequestMessage](payload)
	if err != nil {
		return fmt.Errorf("deferred screening payload: %w", err)
	}

	run := j.load(ctx, msg.CorrelationID)
	run.Status = StatusRunning
	j.put(ctx, run)

	req, err := msg.ToRequest()
	if err != nil {
		// Malformed requests never succeed on retry.
		j.finish(ctx, run, nil, err)
		return nil
	}

	result, err := j.screener.ScreenWithCorrelation(ctx, run.CorrelationID, req)
	if err != nil {
		j.finish(ctx, run, nil, err)

		var reqErr *validation.RequestError
		if errors.As(err, &reqErr) {
			return nil
		}
		return fmt.Errorf("deferred screening %s: %w", run.CorrelationID, err)
	}

	j.finish(ctx, run, result, nil)
	return nil
}

// load resumes the stored envelope so SubmittedAt survives the handoff from
// the API. A fresh envelope covers requests enqueued by other producers.
func (j *DeferredScreeningJob) load(ctx context.Context, correlationID string) DeferredRun {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	var stored DeferredRun
	if err := j.store.Get(ctx, ResultCacheKey(correlationID), &stored); err == nil && stored.CorrelationID != "" {
		return stored
	}
	return DeferredRun{
		CorrelationID: correlationID,
		Status:        StatusQueued,
		SubmittedAt:   time.Now().UTC(),
	}
}

func (j *DeferredScreeningJob) finish(ctx context.Context, run DeferredRun, result *models.ScreeningResult, err error) {
	now := time.Now().UTC()
	run.CompletedAt = &now

	if err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()
		run.Summary = nil
	} else {
		run.Status = StatusCompleted
		run.Error = ""
		summary := NewRunSummary(result)
		run.Summary = &summary
	}

	j.put(ctx, run)
}

func (j *DeferredScreeningJob) put(ctx context.Context, run DeferredRun) {
	if err := j.store.Set(ctx, ResultCacheKey(run.CorrelationID), run, 0); err != nil {
		j.logger.Warn("deferred run store failed",
			applogger.String("correlation_id", run.CorrelationID),
			applogger.Error(err))
	}
}

// SnapshotPruneJob drops run snapshots past their retention age.
type SnapshotPruneJob struct {
	logger    *applogger.Logger
	snapshots domrepo.SnapshotManager
	maxAge    time.Duration
}

func NewSnapshotPruneJob(lgr *applogger.Logger, snapshots domrepo.SnapshotManager, maxAge time.Duration) *SnapshotPruneJob {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &SnapshotPruneJob{logger: lgr, snapshots: snapshots, maxAge: maxAge}
}

func (j *SnapshotPruneJob) Name() string { return "snapshot_prune" }

func (j *SnapshotPruneJob) Type() string { return JobTypeSnapshotPrune }

func (j *SnapshotPruneJob) Handle(_ context.Context, _ interface{}) error {
	removed := j.snapshots.Prune(j.maxAge)
	if removed > 0 {
		j.logger.Info("pruned snapshots",
			applogger.Int("removed", removed),
			applogger.Duration("max_age", j.maxAge))
	}
	return nil
}

// CacheStatser narrows the cached provider to its stats snapshot.
type CacheStatser interface {
	CacheStats() cache.Stats
}

// CacheStatsJob exports cache occupancy and breaker states to Prometheus.
type CacheStatsJob struct {
	logger   *applogger.Logger
	provider CacheStatser
	breakers *resilience.BreakerGroup
	recorder *pkgmetrics.Recorder
}

func NewCacheStatsJob(lgr *applogger.Logger, provider CacheStatser, breakers *resilience.BreakerGroup, recorder *pkgmetrics.Recorder) *CacheStatsJob {
	return &CacheStatsJob{logger: lgr, provider: provider, breakers: breakers, recorder: recorder}
}

func (j *CacheStatsJob) Name() string { return "cache_stats_export" }

func (j *CacheStatsJob) Type() string { return JobTypeCacheStats }

func (j *CacheStatsJob) Handle(_ context.Context, _ interface{}) error {
	if j.recorder == nil {
		return nil
	}
	if j.provider != nil {
		j.recorder.ObserveCache("provider", j.provider.CacheStats())
	}
	if j.breakers != nil {
		j.recorder.ObserveBreakers(j.breakers.Snapshot())
	}
	return nil
}

var (
	_ queue.Job = (*DeferredScreeningJob)(nil)
	_ queue.Job = (*SnapshotPruneJob)(nil)
	_ queue.Job = (*CacheStatsJob)(nil)
)
