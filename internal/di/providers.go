package di

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"FinScreen/internal/domain/repository"
	"FinScreen/internal/filters"
	"FinScreen/internal/handler/api"
	"FinScreen/internal/pipeline"
	"FinScreen/internal/registry"
	internalrepo "FinScreen/internal/repository"
	"FinScreen/internal/service/audit"
	"FinScreen/internal/service/health"
	svcmetrics "FinScreen/internal/service/metrics"
	"FinScreen/internal/service/ratelimit"
	"FinScreen/internal/service/snapshot"
	"FinScreen/internal/service/version"
	"FinScreen/internal/usecase"
	"FinScreen/internal/validation"
	"FinScreen/pkg/cache"
	pkgch "FinScreen/pkg/clickhouse"
	"FinScreen/pkg/config"
	xhttp "FinScreen/pkg/http"
	pkgkafka "FinScreen/pkg/kafka"
	applogger "FinScreen/pkg/logger"
	pkgmetrics "FinScreen/pkg/metrics"
	"FinScreen/pkg/queue"
	"FinScreen/pkg/resilience"
	"FinScreen/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	lgr, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return lgr, nil
}

// ProvideCache builds the cache service named by cache.backend. The same
// instance backs provider read-through caching and deferred-run storage.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	switch cfg.Cache.Backend {
	case "redis":
		return provideRedisCache(cfg)
	case "layered":
		rc, err := provideRedisCache(cfg)
		if err != nil {
			return nil, err
		}
		return cache.NewLayeredCache(rc,
			cache.WithLayeredMemoryTTL(cfg.Cache.DefaultTTL),
		), nil
	default:
		return cache.NewMemoryCache(
			cache.WithMaxSizeBytes(cfg.Cache.MaxSizeBytes),
			cache.WithDefaultTTL(cfg.Cache.DefaultTTL),
			cache.WithCleanupInterval(cfg.Cache.CleanupInterval),
		), nil
	}
}

func provideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.MinIdleConns, cfg.Redis.PoolTimeout),
		cache.WithRedisPrefix(cfg.Redis.KeyPrefix),
		cache.WithRedisDefaultTTL(cfg.Cache.DefaultTTL),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return rc, nil
}

// ProvideClickHouseClient connects to ClickHouse and prepares the screening
// schema. Returns nil when the mock provider is configured.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.Screening.Provider != "clickhouse" {
		return nil, nil
	}

	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(cfg.ClickHouse.MaxOpenConns, cfg.ClickHouse.MaxIdleConns),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.InitSchema(ctx, internalrepo.SchemaStatements()); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	return client, nil
}

// ProvideProvider selects the screening data provider. The ClickHouse
// provider is rate limited per operation so bulk screening reads cannot
// saturate the cluster.
func ProvideProvider(cfg *config.Config, lgr *applogger.Logger, chClient *pkgch.Client) (repository.Provider, error) {
	switch cfg.Screening.Provider {
	case "clickhouse":
		if chClient == nil {
			return nil, fmt.Errorf("clickhouse provider: no client")
		}
		p := internalrepo.NewClickHouseProvider(chClient)
		p.SetLogger(lgr)
		return internalrepo.NewRateLimitedProvider(lgr, p, ratelimit.New(20, 10)), nil
	default:
		return internalrepo.NewMockProvider(internalrepo.DefaultMockSeed), nil
	}
}

// ProvideMetricsRecorder creates the process-level Prometheus recorder and
// registers the screening metric vectors.
func ProvideMetricsRecorder() *pkgmetrics.Recorder {
	svcmetrics.Register()
	return pkgmetrics.New()
}

// ProvideCachedProvider wraps the provider with read-through caching for
// market data and metadata.
func ProvideCachedProvider(
	cfg *config.Config,
	lgr *applogger.Logger,
	provider repository.Provider,
	store cache.Service,
	recorder *pkgmetrics.Recorder,
) *internalrepo.CachedProvider {
	return internalrepo.NewCachedProvider(lgr, provider, store,
		internalrepo.WithMarketDataTTL(cfg.Cache.MarketDataTTL),
		internalrepo.WithMetadataTTL(cfg.Cache.MetadataTTL),
		internalrepo.WithFetchObserver(recorder.ObserveFetch),
	)
}

// ProvideRegistry builds the filter catalogue and enables the configured
// execution order.
func ProvideRegistry(cfg *config.Config, lgr *applogger.Logger) (*registry.Registry, error) {
	reg := registry.New(lgr)

	catalogue := []struct {
		name    string
		version string
		factory registry.Factory
		desc    string
		tags    []string
	}{
		{"structural", filters.StructuralVersion, filters.NewStructural,
			"listing age, venue and instrument-type eligibility", []string{"eligibility"}},
		{"liquidity", filters.LiquidityVersion, filters.NewLiquidity,
			"per-class tradability thresholds", []string{"tradability"}},
		{"quality", filters.QualityVersion, filters.NewQuality,
			"data coverage floor", []string{"data-quality"}},
	}

	for _, f := range catalogue {
		opts := []registry.RegisterOption{
			registry.WithDescription(f.desc),
			registry.WithTags(f.tags...),
		}
		if fc, ok := cfg.Screening.Filters[f.name]; ok {
			opts = append(opts, registry.WithConfig(pipeline.Config(fc)))
		}
		if err := reg.Register(f.name, f.version, f.factory, opts...); err != nil {
			return nil, fmt.Errorf("register filter %s: %w", f.name, err)
		}
	}

	if err := reg.EnableFilters(cfg.Screening.EnabledFilters); err != nil {
		return nil, fmt.Errorf("enable filters: %w", err)
	}

	return reg, nil
}

// ProvideKafkaProducer creates the Kafka producer for run summaries and
// audit export. Returns nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}

	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	return producer, nil
}

// ProvideKafkaConsumer creates the screening-request consumer. Returns nil
// when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, lgr *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}

	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}

	consumer.WithConsumerHook(pkgkafka.NewCorrelationHook(func(topic, correlationID string, err error) {
		lgr.Warn("screening request attempt failed",
			applogger.String("topic", topic),
			applogger.String("correlation_id", correlationID),
			applogger.Error(err))
	}))

	return consumer, nil
}

// ProvideAuditLogger creates the run decision trail, exported to Kafka when
// screening.audit.publish is set.
func ProvideAuditLogger(cfg *config.Config, lgr *applogger.Logger, producer *pkgkafka.Producer) *audit.Logger {
	opts := []audit.Option{audit.WithMaxEvents(cfg.Screening.Audit.MaxEvents)}
	if cfg.Screening.Audit.Publish && producer != nil {
		opts = append(opts, audit.WithPublisher(producer, cfg.Screening.Audit.Topic))
	}
	return audit.NewLogger(lgr, opts...)
}

// ProvideBreakerGroup creates the per-operation circuit breakers.
func ProvideBreakerGroup(cfg *config.Config, lgr *applogger.Logger) *resilience.BreakerGroup {
	return resilience.NewBreakerGroup(lgr,
		resilience.WithFailureThreshold(cfg.Resilience.Breaker.FailureThreshold),
		resilience.WithRecoveryTimeout(cfg.Resilience.Breaker.RecoveryTimeout),
		resilience.WithSuccessThreshold(cfg.Resilience.Breaker.SuccessThreshold),
	)
}

// ProvideRetrier creates the retry policy for provider reads.
func ProvideRetrier(cfg *config.Config, lgr *applogger.Logger) *resilience.Retrier {
	return resilience.NewRetrier(lgr,
		resilience.WithMaxAttempts(cfg.Resilience.Retry.MaxAttempts),
		resilience.WithBaseDelay(cfg.Resilience.Retry.BaseDelay),
		resilience.WithMaxDelay(cfg.Resilience.Retry.MaxDelay),
		resilience.WithExponentialBase(cfg.Resilience.Retry.ExponentialBase),
	)
}

// ProvideHealthMonitor creates the phase health checker, nil when disabled.
func ProvideHealthMonitor(cfg *config.Config, lgr *applogger.Logger) repository.HealthMonitor {
	h := cfg.Screening.Health
	if !h.Enabled {
		return nil
	}
	return health.NewMonitor(lgr,
		health.WithMemoryLimits(h.WarnMemoryPct, h.MaxMemoryPct),
		health.WithContextLimits(h.WarnContextMB, h.MaxContextMB),
		health.WithMinOutputCount(h.MinOutputCount),
		health.WithMaxReductionRatio(h.MaxReductionRatio),
	)
}

// ProvideSnapshotManager creates snapshot registration, nil when disabled.
func ProvideSnapshotManager(cfg *config.Config, lgr *applogger.Logger) repository.SnapshotManager {
	if !cfg.Screening.Snapshots.Enabled {
		return nil
	}
	return snapshot.NewManager(lgr)
}

// ProvideVersionManager fingerprints code and configuration for result
// metadata.
func ProvideVersionManager() repository.VersionManager {
	return version.NewManager()
}

// ProvideRequestValidator validates requests before any data loads.
func ProvideRequestValidator(lgr *applogger.Logger) *validation.RequestValidator {
	return validation.NewRequestValidator(lgr)
}

// ProvideDataValidator checks loaded market data against configured bounds.
func ProvideDataValidator(cfg *config.Config, lgr *applogger.Logger) *validation.DataValidator {
	v := cfg.Screening.Validation
	return validation.NewDataValidator(lgr,
		validation.WithMaxPrice(v.MaxPrice),
		validation.WithOutlierSigma(v.OutlierSigma),
		validation.WithRequiredMetadata(v.RequiredMetadata...),
		validation.WithZeroVolumeAllowed(v.AllowZeroVolume),
	)
}

// ProvideScreener assembles the screening orchestrator.
func ProvideScreener(
	cfg *config.Config,
	lgr *applogger.Logger,
	cached *internalrepo.CachedProvider,
	direct repository.Provider,
	reg *registry.Registry,
	auditLog *audit.Logger,
	healthMon repository.HealthMonitor,
	snapshots repository.SnapshotManager,
	versions repository.VersionManager,
	requests *validation.RequestValidator,
	data *validation.DataValidator,
	retrier *resilience.Retrier,
	breakers *resilience.BreakerGroup,
) *usecase.Screener {
	opts := []usecase.ScreenerOption{
		usecase.WithDirectProvider(direct),
		usecase.WithVersionManager(versions),
		usecase.WithRequestValidator(requests),
		usecase.WithDataValidator(data),
		usecase.WithRetrier(retrier),
		usecase.WithBreakerGroup(breakers),
		usecase.WithQualityFloor(cfg.Resilience.MinSuccessRate),
		usecase.WithDefaultLookback(cfg.Screening.LookbackDays),
	}
	if healthMon != nil {
		opts = append(opts, usecase.WithHealthMonitor(healthMon))
	}
	if snapshots != nil {
		opts = append(opts, usecase.WithSnapshotManager(snapshots))
	}
	if cfg.Screening.LazyLoading {
		opts = append(opts, usecase.WithLazyLoading())
	}

	return usecase.NewScreener(lgr, cached, reg, auditLog, opts...)
}

// ProvideMemoryQueue creates the in-process queue that runs the maintenance
// jobs, plus deferred screening when no Redis backend is configured.
func ProvideMemoryQueue(
	cfg *config.Config,
	lgr *applogger.Logger,
	screener *usecase.Screener,
	store cache.Service,
	snapshots repository.SnapshotManager,
	cached *internalrepo.CachedProvider,
	breakers *resilience.BreakerGroup,
	recorder *pkgmetrics.Recorder,
) (*queue.MemoryQueue, error) {
	q := queue.NewMemoryQueue(lgr, &queue.QueueConfig{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
	})

	q.RegisterJob(usecase.NewCacheStatsJob(lgr, cached, breakers, recorder))
	if cfg.Metrics.Enabled {
		if err := q.Schedule(usecase.JobTypeCacheStats, time.Minute); err != nil {
			return nil, fmt.Errorf("schedule cache stats: %w", err)
		}
	}

	if snapshots != nil {
		q.RegisterJob(usecase.NewSnapshotPruneJob(lgr, snapshots, cfg.Screening.Snapshots.MaxAge))
		if err := q.Schedule(usecase.JobTypeSnapshotPrune, cfg.Screening.Snapshots.PruneInterval); err != nil {
			return nil, fmt.Errorf("schedule snapshot prune: %w", err)
		}
	}

	if cfg.Cache.Backend == "memory" {
		q.RegisterJob(usecase.NewDeferredScreeningJob(lgr, screener, store))
	}

	return q, nil
}

// ProvideDeferredQueue picks the queue serving deferred screening runs.
// With a Redis cache backend the queue rides Redis so queued requests
// survive a restart; otherwise the in-process queue serves both roles.
func ProvideDeferredQueue(
	cfg *config.Config,
	lgr *applogger.Logger,
	memq *queue.MemoryQueue,
	screener *usecase.Screener,
	store cache.Service,
) queue.QueueService {
	if cfg.Cache.Backend == "memory" {
		return memq
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		PoolTimeout:  cfg.Redis.PoolTimeout,
	})

	rq := queue.NewRedisQueue(lgr,
		&queue.QueueConfig{
			Workers:    cfg.Queue.Workers,
			RetryLimit: cfg.Queue.RetryLimit,
			RetryDelay: cfg.Queue.RetryDelay,
		},
		client,
		queue.ModeProducerConsumer,
		queue.WithKeyPrefix(cfg.Redis.KeyPrefix+":queue"),
	)
	rq.RegisterJob(usecase.NewDeferredScreeningJob(lgr, screener, store))

	return rq
}

// ProvideScreeningWorker builds the Kafka request handler. Returns nil when
// Kafka is disabled.
func ProvideScreeningWorker(cfg *config.Config, lgr *applogger.Logger, screener *usecase.Screener, producer *pkgkafka.Producer) *usecase.ScreeningWorker {
	if !cfg.Kafka.Enabled {
		return nil
	}

	opts := []usecase.WorkerOption{usecase.WithRequestsTopic(cfg.Kafka.RequestsTopic)}
	if producer != nil {
		opts = append(opts, usecase.WithResultsPublisher(producer, cfg.Kafka.ResultsTopic))
	}
	return usecase.NewScreeningWorker(lgr, screener, opts...)
}

// ProvideHandler creates the ops HTTP handler.
func ProvideHandler(
	lgr *applogger.Logger,
	screener *usecase.Screener,
	reg *registry.Registry,
	breakers *resilience.BreakerGroup,
	auditLog *audit.Logger,
	cached *internalrepo.CachedProvider,
	deferred queue.QueueService,
	store cache.Service,
) *api.ScreeningEchoHandler {
	return api.NewScreeningEchoHandler(lgr, screener, reg,
		api.WithBreakers(breakers),
		api.WithAudit(auditLog),
		api.WithProvider(cached),
		api.WithDeferredRuns(deferred, store),
	)
}

// ProvideServer creates the HTTP server.
func ProvideServer(cfg *config.Config, lgr *applogger.Logger, handler *api.ScreeningEchoHandler) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}

	return xhttp.NewServer(handler,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(lgr),
		xhttp.WithMetricsPath(metricsPath),
	)
}

// ProvideApp assembles the application lifecycle.
func ProvideApp(
	cfg *config.Config,
	lgr *applogger.Logger,
	srv *xhttp.Server,
	memq *queue.MemoryQueue,
	deferred queue.QueueService,
	consumer *pkgkafka.Consumer,
	worker *usecase.ScreeningWorker,
	producer *pkgkafka.Producer,
	chClient *pkgch.Client,
	store cache.Service,
) *server.App {
	opts := []server.AppOption{server.WithQueues(memq)}

	if rq, ok := deferred.(*queue.RedisQueue); ok {
		opts = append(opts, server.WithQueues(rq))
	}
	if consumer != nil && worker != nil {
		opts = append(opts, server.WithKafkaWorker(consumer, worker))
	}
	if producer != nil {
		opts = append(opts, server.WithProducer(producer))

		if cfg.Log.AggregateErrors {
			lgr.AddCollector(&applogger.CollectionConfig{
				TimeInterval:   30 * time.Second,
				CountThreshold: 100,
				Topic:          cfg.Log.AggregateTopic,
				Publisher:      kafkaLogSink{producer: producer},
			})
			opts = append(opts, server.WithClosers(collectorCloser{lgr: lgr}))
		}
	}
	if chClient != nil {
		opts = append(opts, server.WithClickHouse(chClient))
	}
	opts = append(opts, server.WithClosers(store))

	return server.New(cfg, lgr, srv, opts...)
}

// kafkaLogSink adapts the producer to the log collector's publisher.
type kafkaLogSink struct {
	producer *pkgkafka.Producer
}

func (s kafkaLogSink) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return s.producer.Publish(ctx, topic, nil, payload)
}

type collectorCloser struct {
	lgr *applogger.Logger
}

func (c collectorCloser) Close() error {
	c.lgr.RemoveCollector()
	return nil
}
