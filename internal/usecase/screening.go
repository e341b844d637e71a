package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"FinScreen/internal/domain/models"
	domrepo "FinScreen/internal/domain/repository"
	"FinScreen/internal/pipeline"
	"FinScreen/internal/registry"
	svcmetrics "FinScreen/internal/service/metrics"
	"FinScreen/internal/validation"
	applogger "FinScreen/pkg/logger"
	"FinScreen/pkg/resilience"
)

// circuitMarketData names the breaker guarding bulk market-data reads.
const circuitMarketData = "market_data"

// Screener sequences one screening run end to end: request validation,
// optional snapshotting and health checks, resilient data loading, optional
// data validation, ordered stage execution and result assembly. A single
// Screener backs many concurrent runs; per-run state lives on the stack and
// shared collaborators guard their own state.
type Screener struct {
	logger   *applogger.Logger
	provider domrepo.Provider
	direct   domrepo.Provider
	registry *registry.Registry
	audit    domrepo.AuditLogger

	requests  *validation.RequestValidator
	data      *validation.DataValidator
	health    domrepo.HealthMonitor
	snapshots domrepo.SnapshotManager
	versions  domrepo.VersionManager

	retrier         *resilience.Retrier
	breakers        *resilience.BreakerGroup
	qualityFloor    float64
	defaultLookback int
	lazyLoad        bool
}

// ScreenerOption configures a Screener.
type ScreenerOption func(*Screener)

// WithDirectProvider sets the provider used by runs that opt out of cache
// routing. Without it UseCache=false still goes through the primary provider.
func WithDirectProvider(p domrepo.Provider) ScreenerOption {
	return func(s *Screener) {
		s.direct = p
	}
}

// WithHealthMonitor wires the health checks run when a request asks for them.
func WithHealthMonitor(m domrepo.HealthMonitor) ScreenerOption {
	return func(s *Screener) {
		s.health = m
	}
}

// WithSnapshotManager wires snapshot registration for requests that ask for it.
func WithSnapshotManager(m domrepo.SnapshotManager) ScreenerOption {
	return func(s *Screener) {
		s.snapshots = m
	}
}

// WithVersionManager wires the code/config fingerprints stamped onto results.
func WithVersionManager(m domrepo.VersionManager) ScreenerOption {
	return func(s *Screener) {
		s.versions = m
	}
}

// WithRequestValidator overrides the default request validator.
func WithRequestValidator(v *validation.RequestValidator) ScreenerOption {
	return func(s *Screener) {
		s.requests = v
	}
}

// WithDataValidator overrides the default data validator.
func WithDataValidator(v *validation.DataValidator) ScreenerOption {
	return func(s *Screener) {
		s.data = v
	}
}

// WithRetrier overrides the retry policy for provider reads.
func WithRetrier(r *resilience.Retrier) ScreenerOption {
	return func(s *Screener) {
		s.retrier = r
	}
}

// WithBreakerGroup overrides the circuit breakers guarding provider reads.
// Hand the same group to the ops surface for state introspection.
func WithBreakerGroup(g *resilience.BreakerGroup) ScreenerOption {
	return func(s *Screener) {
		s.breakers = g
	}
}

// WithQualityFloor sets the minimum per-symbol success rate for quality
// metric loads before the run fails.
func WithQualityFloor(rate float64) ScreenerOption {
	return func(s *Screener) {
		s.qualityFloor = rate
	}
}

// WithDefaultLookback sets the market-data window applied to requests that
// do not name one.
func WithDefaultLookback(days int) ScreenerOption {
	return func(s *Screener) {
		if days > 0 {
			s.defaultLookback = days
		}
	}
}

// WithLazyLoading defers market-data and metadata loads into per-symbol
// DataContext loaders instead of bulk fetches.
func WithLazyLoading() ScreenerOption {
	return func(s *Screener) {
		s.lazyLoad = true
	}
}

// NewScreener builds the orchestrator over its collaborators. Validators and
// resilience policies default to their standard settings when not supplied.
func NewScreener(lgr *applogger.Logger, provider domrepo.Provider, reg *registry.Registry, auditLog domrepo.AuditLogger, opts ...ScreenerOption) *Screener {
	s := &Screener{
		logger:          lgr,
		provider:        provider,
		registry:        reg,
		audit:           auditLog,
		qualityFloor:    resilience.DefaultMinSuccessRate,
		defaultLookback: models.DefaultLookbackDays,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.requests == nil {
		s.requests = validation.NewRequestValidator(lgr)
	}
	if s.data == nil {
		s.data = validation.NewDataValidator(lgr)
	}
	if s.retrier == nil {
		s.retrier = resilience.NewRetrier(lgr)
	}
	if s.breakers == nil {
		s.breakers = resilience.NewBreakerGroup(lgr)
	}
	return s
}

// Screen runs one screening under a fresh correlation id.
func (s *Screener) Screen(ctx context.Context, req models.ScreeningRequest) (*models.ScreeningResult, error) {
	return s.ScreenWithCorrelation(ctx, uuid.NewString(), req)
}

// ScreenWithCorrelation runs one screening under a caller-supplied
// correlation id; the async worker threads message keys through here.
// A failed run returns a nil result: validation and resilience-exhaustion
// errors propagate, degraded health checks never abort.
func (s *Screener) ScreenWithCorrelation(ctx context.Context, correlationID string, req models.ScreeningRequest) (*models.ScreeningResult, error) {
	started := time.Now()
	recorder := svcmetrics.NewRecorder()

	if req.LookbackDays <= 0 {
		req.LookbackDays = s.defaultLookback
	}

	s.audit.RunStarted(ctx, correlationID, req)
	s.logger.Info("screening run started",
		applogger.String("correlation_id", correlationID),
		applogger.String("class", string(req.Class)),
		applogger.Time("as_of", req.AsOf))

	s.checkHealth(ctx, correlationID, req, domrepo.PhasePreflight, domrepo.Observations{})

	snapshotID := s.registerSnapshot(ctx, correlationID, req)

	if err := s.requests.Validate(req); err != nil {
		return nil, s.fail(ctx, correlationID, req, err)
	}

	provider := s.pickProvider(req)

	universe, err := provider.Assets(ctx, req.Class, req.AsOf)
	if err != nil {
		return nil, s.fail(ctx, correlationID, req, fmt.Errorf("load assets: %w", err))
	}

	loaded, err := s.loadData(ctx, provider, correlationID, req, universe)
	if err != nil {
		return nil, s.fail(ctx, correlationID, req, err)
	}
	recorder.Gauge("context_size_mb", loaded.context.SizeMB(), nil)

	s.checkHealth(ctx, correlationID, req, domrepo.PhasePostLoad, domrepo.Observations{
		ContextSizeMB: loaded.context.SizeMB(),
		InputCount:    len(universe),
	})

	if req.ValidateData {
		if err := s.validateData(ctx, correlationID, loaded); err != nil {
			return nil, s.fail(ctx, correlationID, req, err)
		}
	}

	final, trail, err := s.runStages(ctx, correlationID, req, universe, loaded.context, recorder)
	if err != nil {
		return nil, s.fail(ctx, correlationID, req, err)
	}

	s.checkHealth(ctx, correlationID, req, domrepo.PhasePostFilter, domrepo.Observations{
		InputCount:  len(universe),
		OutputCount: len(final),
	})

	completed := time.Now()
	elapsed := completed.Sub(started)
	recorder.Timing("run_duration", elapsed, nil)
	recorder.Gauge("input_universe_size", float64(len(universe)), nil)
	recorder.Gauge("output_universe_size", float64(len(final)), nil)

	var codeVersion, configHash string
	if s.versions != nil {
		codeVersion = s.versions.CodeVersion()
		configHash = s.versions.ConfigHash(req.Config)
	}

	result := &models.ScreeningResult{
		Request:       req,
		InputUniverse: universe,
		FinalUniverse: final,
		AuditTrail:    trail,
		Metrics:       recorder.Snapshot(),
		Metadata: models.ResultMetadata{
			CorrelationID:  correlationID,
			StartedAt:      started,
			CompletedAt:    completed,
			Duration:       elapsed,
			SnapshotID:     snapshotID,
			CodeVersion:    codeVersion,
			ConfigHash:     configHash,
			FilterVersions: s.executedVersions(trail),
		},
	}

	svcmetrics.ScreeningRuns.WithLabelValues(string(req.Class), "completed").Inc()
	svcmetrics.ScreeningDuration.WithLabelValues(string(req.Class)).Observe(elapsed.Seconds())
	svcmetrics.UniverseSize.WithLabelValues(string(req.Class), "input").Set(float64(len(universe)))
	svcmetrics.UniverseSize.WithLabelValues(string(req.Class), "output").Set(float64(len(final)))

	s.audit.RunCompleted(ctx, correlationID, result)
	s.logger.Info("screening run completed",
		applogger.String("correlation_id", correlationID),
		applogger.String("class", string(req.Class)),
		applogger.Int("input", len(universe)),
		applogger.Int("output", len(final)),
		applogger.Duration("duration", elapsed))

	return result, nil
}

// loadedData carries the run's data context plus the bulk maps for
// validation. The maps are nil in lazy mode.
type loadedData struct {
	context    *pipeline.DataContext
	marketData models.MarketDataBySymbol
	metadata   models.MetadataBySymbol
}

func (s *Screener) loadData(ctx context.Context, provider domrepo.Provider, correlationID string, req models.ScreeningRequest, universe []models.Asset) (*loadedData, error) {
	symbols := models.Symbols(universe)
	start, end := req.LookbackStart(), req.AsOf

	if s.lazyLoad {
		quality, err := s.loadQuality(ctx, provider, correlationID, symbols, start, end)
		if err != nil {
			return nil, err
		}
		mdLoader := func(symbol string) ([]models.MarketDataPoint, error) {
			data, err := provider.MarketData(ctx, []string{symbol}, start, end)
			if err != nil {
				return nil, err
			}
			return data[symbol], nil
		}
		metaLoader := func(symbol string) (map[string]interface{}, error) {
			meta, err := provider.Metadata(ctx, []string{symbol})
			if err != nil {
				return nil, err
			}
			return meta[symbol], nil
		}
		dc := pipeline.NewDataContext(s.logger, universe,
			pipeline.WithLazyLoaders(mdLoader, metaLoader),
			pipeline.WithQualityMetrics(quality))
		return &loadedData{context: dc}, nil
	}

	var marketData models.MarketDataBySymbol
	err := s.breakers.Do(ctx, circuitMarketData, func(ctx context.Context) error {
		return s.retrier.Do(ctx, "market_data", func(ctx context.Context) error {
			var ferr error
			marketData, ferr = provider.MarketData(ctx, symbols, start, end)
			return ferr
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load market data: %w", err)
	}

	var metadata models.MetadataBySymbol
	err = s.retrier.Do(ctx, "metadata", func(ctx context.Context) error {
		var ferr error
		metadata, ferr = provider.Metadata(ctx, symbols)
		return ferr
	})
	if err != nil {
		return nil, fmt.Errorf("load metadata: %w", err)
	}

	quality, err := s.loadQuality(ctx, provider, correlationID, symbols, start, end)
	if err != nil {
		return nil, err
	}

	dc := pipeline.NewDataContext(s.logger, universe,
		pipeline.WithMarketData(marketData),
		pipeline.WithMetadata(metadata),
		pipeline.WithQualityMetrics(quality))
	return &loadedData{context: dc, marketData: marketData, metadata: metadata}, nil
}

type symbolQuality struct {
	symbol  string
	metrics models.QualityMetrics
}

// loadQuality fetches quality metrics per symbol, tolerating failures down
// to the configured floor. Symbols that fail after retries simply have no
// metrics; the quality stage rejects them.
func (s *Screener) loadQuality(ctx context.Context, provider domrepo.Provider, correlationID string, symbols []string, start, end time.Time) (models.QualityBySymbol, error) {
	batch, err := resilience.Partial(ctx, s.logger, "quality_metrics", symbols, s.qualityFloor,
		func(ctx context.Context, symbol string) (symbolQuality, error) {
			var sq symbolQuality
			rerr := s.retrier.Do(ctx, "quality_metrics", func(ctx context.Context) error {
				metrics, ferr := provider.QualityMetrics(ctx, []string{symbol}, start, end)
				if ferr != nil {
					return ferr
				}
				sq = symbolQuality{symbol: symbol, metrics: metrics[symbol]}
				return nil
			})
			return sq, rerr
		})
	if err != nil {
		return nil, fmt.Errorf("load quality metrics: %w", err)
	}

	if failed := len(batch.Failed); failed > 0 {
		s.audit.Anomaly(ctx, correlationID, "quality_partial", map[string]interface{}{
			"failed": failed,
			"total":  batch.Total(),
		})
	}

	quality := make(models.QualityBySymbol, len(batch.Succeeded))
	for _, sq := range batch.Succeeded {
		quality[sq.symbol] = sq.metrics
	}
	return quality, nil
}

func (s *Screener) runStages(ctx context.Context, correlationID string, req models.ScreeningRequest, universe []models.Asset, data *pipeline.DataContext, recorder *svcmetrics.Recorder) ([]models.Asset, []models.StageResult, error) {
	stages := s.registry.EnabledStagesWith(stageOverrides(req.Config))
	current := universe
	trail := make([]models.StageResult, 0, len(stages))

	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return nil, nil, fmt.Errorf("stage %s: %w", stage.Name(), err)
		}

		stageStart := time.Now()
		result, err := stage.Apply(ctx, current, req.AsOf, data)
		if err != nil {
			return nil, nil, fmt.Errorf("stage %s: %w", stage.Name(), err)
		}
		elapsed := time.Since(stageStart)

		sr := models.StageResult{
			Stage:       stage.Name(),
			InputCount:  len(current),
			OutputCount: result.PassedCount(),
			Duration:    elapsed,
			Reasons:     result.Reasons,
		}
		trail = append(trail, sr)

		s.audit.StageCompleted(ctx, correlationID, sr)
		recorder.Timing("stage_duration", elapsed, map[string]string{"stage": stage.Name()})
		recorder.Count("stage_rejections", int64(result.RejectedCount()), map[string]string{"stage": stage.Name()})
		svcmetrics.StageDuration.WithLabelValues(stage.Name()).Observe(elapsed.Seconds())

		s.logger.Info("stage completed",
			applogger.String("correlation_id", correlationID),
			applogger.String("stage", stage.Name()),
			applogger.Int("input", sr.InputCount),
			applogger.Int("output", sr.OutputCount),
			applogger.Duration("duration", elapsed))

		current = data.AssetsBySymbols(result.Passed)
	}
	return current, trail, nil
}

func (s *Screener) validateData(ctx context.Context, correlationID string, loaded *loadedData) error {
	if loaded.marketData == nil && loaded.metadata == nil {
		// Lazy runs have nothing bulk-loaded to inspect.
		s.logger.Debug("skipping data validation for lazy run")
		return nil
	}

	result, err := s.data.ValidateAll(loaded.marketData, loaded.metadata)
	if err != nil {
		return err
	}
	if result.HasIssues() {
		s.audit.Anomaly(ctx, correlationID, "data_quality", map[string]interface{}{
			"warnings":        len(result.Warnings),
			"outlier_symbols": len(result.Outliers),
			"samples":         firstN(result.Warnings, 5),
		})
	}
	return nil
}

func (s *Screener) checkHealth(ctx context.Context, correlationID string, req models.ScreeningRequest, phase domrepo.HealthPhase, obs domrepo.Observations) {
	if !req.RunHealthChecks || s.health == nil {
		return
	}

	report := s.health.Check(ctx, phase, obs)
	if report.Healthy && len(report.Findings) == 0 {
		return
	}
	s.audit.Anomaly(ctx, correlationID, "health", map[string]interface{}{
		"phase":    string(report.Phase),
		"healthy":  report.Healthy,
		"findings": report.Findings,
	})
}

// registerSnapshot tags the run with a point-in-time reference. Registration
// failures are anomalies, never run failures.
func (s *Screener) registerSnapshot(ctx context.Context, correlationID string, req models.ScreeningRequest) string {
	if !req.CreateSnapshot || s.snapshots == nil {
		return ""
	}

	info, err := s.snapshots.Register(ctx, correlationID, req)
	if err != nil {
		s.logger.Warn("snapshot registration failed",
			applogger.String("correlation_id", correlationID),
			applogger.Error(err))
		s.audit.Anomaly(ctx, correlationID, "snapshot_failed", map[string]interface{}{
			"error": err.Error(),
		})
		return ""
	}
	return info.ID
}

func (s *Screener) pickProvider(req models.ScreeningRequest) domrepo.Provider {
	if !req.UseCache && s.direct != nil {
		return s.direct
	}
	return s.provider
}

func (s *Screener) executedVersions(trail []models.StageResult) map[string]string {
	versions := make(map[string]string, len(trail))
	for _, sr := range trail {
		if v, ok := s.registry.Version(sr.Stage); ok {
			versions[sr.Stage] = v
		}
	}
	return versions
}

func (s *Screener) fail(ctx context.Context, correlationID string, req models.ScreeningRequest, err error) error {
	s.audit.RunFailed(ctx, correlationID, err)
	svcmetrics.ScreeningRuns.WithLabelValues(string(req.Class), "failed").Inc()
	s.logger.Error("screening run failed",
		applogger.String("correlation_id", correlationID),
		applogger.String("class", string(req.Class)),
		applogger.Error(err))
	return err
}

// stageOverrides extracts per-stage sections from a request's config map.
func stageOverrides(cfg map[string]interface{}) map[string]pipeline.Config {
	if len(cfg) == 0 {
		return nil
	}

	overrides := make(map[string]pipeline.Config, len(cfg))
	for name, raw := range cfg {
		switch section := raw.(type) {
		case map[string]interface{}:
			overrides[name] = pipeline.Config(section)
		case pipeline.Config:
			overrides[name] = section
		}
	}
	return overrides
}

func firstN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}
