package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Config is the application configuration tree. Defaults come from the
// struct tags and are applied before the YAML is parsed, so values absent
// from the file pick up their documented default while explicit zero values
// in the file survive.
type Config struct {
	App        AppConfig        `yaml:"app"`
	Log        LogConfig        `yaml:"log"`
	Server     ServerConfig     `yaml:"server"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Cache      CacheConfig      `yaml:"cache"`
	Redis      RedisConfig      `yaml:"redis"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Screening  ScreeningConfig  `yaml:"screening"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Queue      QueueConfig      `yaml:"queue"`
}

// AppConfig identifies the deployment.
type AppConfig struct {
	Name        string `yaml:"name" default:"finscreen"`
	Environment string `yaml:"environment" default:"development" validate:"oneof=development staging production"`
}

// LogConfig feeds pkg/logger. With aggregation on and Kafka enabled,
// error-level entries are deduplicated and shipped to AggregateTopic in
// batches.
type LogConfig struct {
	Level           string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error fatal"`
	Format          string `yaml:"format" default:"json" validate:"oneof=json console"`
	Output          string `yaml:"output" default:"stdout"`
	AggregateErrors bool   `yaml:"aggregate_errors" default:"false"`
	AggregateTopic  string `yaml:"aggregate_topic" default:"screening.logs"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port            int           `yaml:"port" default:"8080" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

// CacheConfig selects and sizes the provider cache. MarketDataTTL and
// MetadataTTL bound the two read-through operations; DefaultTTL covers
// everything else stored through the cache service.
type CacheConfig struct {
	Backend         string        `yaml:"backend" default:"memory" validate:"oneof=memory redis layered"`
	MaxSizeBytes    int64         `yaml:"max_size_bytes" default:"1073741824" validate:"min=1"`
	DefaultTTL      time.Duration `yaml:"default_ttl" default:"1h"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" default:"5m"`
	MarketDataTTL   time.Duration `yaml:"market_data_ttl" default:"1h"`
	MetadataTTL     time.Duration `yaml:"metadata_ttl" default:"24h"`
}

// RedisConfig is shared by the redis cache backends and the deferred-run
// queue.
type RedisConfig struct {
	Host         string        `yaml:"host" default:"localhost"`
	Port         int           `yaml:"port" default:"6379" validate:"min=1,max=65535"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db" validate:"min=0,max=15"`
	PoolSize     int           `yaml:"pool_size" default:"10" validate:"min=1"`
	MinIdleConns int           `yaml:"min_idle_conns" default:"5" validate:"min=0"`
	PoolTimeout  time.Duration `yaml:"pool_timeout" default:"30s"`
	KeyPrefix    string        `yaml:"key_prefix" default:"finscreen"`
}

// Addr returns host:port for redis clients.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ResilienceConfig tunes the retry, circuit breaker and partial-failure
// guards around provider calls.
type ResilienceConfig struct {
	Retry          RetryConfig   `yaml:"retry"`
	Breaker        BreakerConfig `yaml:"breaker"`
	MinSuccessRate float64       `yaml:"min_success_rate" default:"0.5" validate:"min=0,max=1"`
}

// RetryConfig shapes the exponential backoff schedule.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts" default:"3" validate:"min=1"`
	BaseDelay       time.Duration `yaml:"base_delay" default:"1s"`
	MaxDelay        time.Duration `yaml:"max_delay" default:"30s"`
	ExponentialBase float64       `yaml:"exponential_base" default:"2.0" validate:"gte=1"`
}

// BreakerConfig shapes the per-operation circuit breakers.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" default:"5" validate:"min=1"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" default:"60s"`
	SuccessThreshold int           `yaml:"success_threshold" default:"2" validate:"min=1"`
}

// ScreeningConfig drives the screening pipeline: which provider backs it,
// which filters run and in what order, and the thresholds for data
// validation, health checks, snapshots and the audit trail. Filters holds
// free-form per-filter settings keyed by filter name; keys a filter does
// not recognize are ignored and absent keys fall back to the filter's own
// defaults.
type ScreeningConfig struct {
	Provider       string                            `yaml:"provider" default:"mock" validate:"oneof=mock clickhouse"`
	EnabledFilters []string                          `yaml:"enabled_filters" default:"[\"structural\",\"liquidity\",\"quality\"]"`
	LookbackDays   int                               `yaml:"lookback_days" default:"60" validate:"min=1"`
	LazyLoading    bool                              `yaml:"lazy_loading"`
	Filters        map[string]map[string]interface{} `yaml:"filters"`
	Validation     ValidationConfig                  `yaml:"validation"`
	Health         HealthConfig                      `yaml:"health"`
	Snapshots      SnapshotsConfig                   `yaml:"snapshots"`
	Audit          AuditConfig                       `yaml:"audit"`
}

// ValidationConfig tunes post-load data validation.
type ValidationConfig struct {
	MaxPrice         float64  `yaml:"max_price" default:"1000000" validate:"gt=0"`
	OutlierSigma     float64  `yaml:"outlier_sigma" default:"10" validate:"gt=0"`
	RequiredMetadata []string `yaml:"required_metadata" default:"[\"asset_type\",\"exchange\"]"`
	AllowZeroVolume  bool     `yaml:"allow_zero_volume"`
}

// HealthConfig tunes the phase-scoped run sanity checks.
type HealthConfig struct {
	Enabled           bool    `yaml:"enabled" default:"true"`
	WarnMemoryPct     float64 `yaml:"warn_memory_pct" default:"70" validate:"min=0,max=100"`
	MaxMemoryPct      float64 `yaml:"max_memory_pct" default:"80" validate:"min=0,max=100"`
	WarnContextMB     float64 `yaml:"warn_context_mb" default:"1500" validate:"min=0"`
	MaxContextMB      float64 `yaml:"max_context_mb" default:"2000" validate:"min=0"`
	MinOutputCount    int     `yaml:"min_output_count" default:"10" validate:"min=0"`
	MaxReductionRatio float64 `yaml:"max_reduction_ratio" default:"0.99" validate:"min=0,max=1"`
}

// SnapshotsConfig controls run snapshot retention.
type SnapshotsConfig struct {
	Enabled       bool          `yaml:"enabled" default:"true"`
	MaxAge        time.Duration `yaml:"max_age" default:"1h"`
	PruneInterval time.Duration `yaml:"prune_interval" default:"10m"`
}

// AuditConfig controls the audit event trail and its optional Kafka export.
type AuditConfig struct {
	MaxEvents int    `yaml:"max_events" default:"1000" validate:"min=1"`
	Publish   bool   `yaml:"publish"`
	Topic     string `yaml:"topic" default:"screening.audit"`
}

// ClickHouseConfig holds connection settings for the historical store.
type ClickHouseConfig struct {
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000" validate:"min=1,max=65535"`
	Database         string        `yaml:"database" default:"finscreen"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	MaxOpenConns     int           `yaml:"max_open_conns" default:"10" validate:"min=1"`
	MaxIdleConns     int           `yaml:"max_idle_conns" default:"5" validate:"min=0"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
	WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
}

// KafkaConfig holds broker settings plus the screening request/result
// topics. Enabled gates the whole transport: with it off the app runs
// HTTP-only and no producer or consumer is built.
type KafkaConfig struct {
	Enabled       bool                `yaml:"enabled"`
	Brokers       []string            `yaml:"brokers" default:"[\"localhost:9092\"]"`
	RequestsTopic string              `yaml:"requests_topic" default:"screening.requests"`
	ResultsTopic  string              `yaml:"results_topic" default:"screening.results"`
	RequiredAcks  int                 `yaml:"required_acks" default:"1" validate:"min=-1,max=1"`
	Compression   string              `yaml:"compression" validate:"omitempty,oneof=gzip snappy lz4 zstd"`
	Producer      KafkaProducerConfig `yaml:"producer"`
	Consumer      KafkaConsumerConfig `yaml:"consumer"`
}

// KafkaProducerConfig tunes the result/audit publisher.
type KafkaProducerConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" default:"3" validate:"min=1"`
	Linger       time.Duration `yaml:"linger" default:"100ms"`
	BatchBytes   int           `yaml:"batch_bytes" default:"1048576" validate:"min=1"`
	BatchSize    int           `yaml:"batch_size" default:"100" validate:"min=1"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
	Async        bool          `yaml:"async"`
}

// KafkaConsumerConfig tunes the screening request consumer.
type KafkaConsumerConfig struct {
	GroupID    string        `yaml:"group_id" default:"finscreen-workers"`
	Workers    int           `yaml:"workers" default:"4" validate:"min=1"`
	BufferSize int           `yaml:"buffer_size" default:"64" validate:"min=1"`
	RetryMax   int           `yaml:"retry_max" default:"3" validate:"min=0"`
	BackoffMin time.Duration `yaml:"backoff_min" default:"1s"`
	BackoffMax time.Duration `yaml:"backoff_max" default:"30s"`
	DLQTopic   string        `yaml:"dlq_topic" default:"screening.requests.dlq"`
	MinBytes   int           `yaml:"min_bytes" default:"1" validate:"min=1"`
	MaxBytes   int           `yaml:"max_bytes" default:"10485760" validate:"min=1"`
}

// QueueConfig tunes the background job queue used for maintenance work and
// deferred screening runs.
type QueueConfig struct {
	Workers    int           `yaml:"workers" default:"2" validate:"min=1"`
	RetryLimit int           `yaml:"retry_limit" default:"3" validate:"min=0"`
	RetryDelay time.Duration `yaml:"retry_delay" default:"10s"`
}

// Default returns a configuration with every default applied and no file
// read. The result is valid as-is and backs the zero-setup dev mode.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		// Only reachable through a malformed default tag.
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment
// variables, then re-validates. An empty path yields the defaults.
func LoadWithEnv(path string) (*Config, error) {
	var c *Config
	if path == "" {
		c = Default()
	} else {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		c = loaded
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("SCREENING_PROVIDER"); v != "" {
		c.Screening.Provider = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.Redis.Host = host
		if ok {
			p, err := strconv.Atoi(port)
			if err != nil {
				return nil, fmt.Errorf("REDIS_ADDR %q: invalid port", v)
			}
			c.Redis.Port = p
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return c, nil
}

// Validate checks field ranges via struct tags plus the cross-field rules
// tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.Resilience.Retry.BaseDelay > c.Resilience.Retry.MaxDelay {
		return fmt.Errorf("resilience.retry: base_delay %s exceeds max_delay %s",
			c.Resilience.Retry.BaseDelay, c.Resilience.Retry.MaxDelay)
	}
	if h := c.Screening.Health; h.WarnMemoryPct > h.MaxMemoryPct {
		return fmt.Errorf("screening.health: warn_memory_pct %.1f exceeds max_memory_pct %.1f",
			h.WarnMemoryPct, h.MaxMemoryPct)
	}
	if h := c.Screening.Health; h.WarnContextMB > h.MaxContextMB {
		return fmt.Errorf("screening.health: warn_context_mb %.1f exceeds max_context_mb %.1f",
			h.WarnContextMB, h.MaxContextMB)
	}
	if k := c.Kafka.Consumer; k.BackoffMin > k.BackoffMax {
		return fmt.Errorf("kafka.consumer: backoff_min %s exceeds backoff_max %s",
			k.BackoffMin, k.BackoffMax)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Screening.Provider == "clickhouse" && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required for the clickhouse provider")
	}
	if (c.Cache.Backend == "redis" || c.Cache.Backend == "layered") && c.Redis.Host == "" {
		return fmt.Errorf("redis.host is required for the %s cache backend", c.Cache.Backend)
	}
	if c.Screening.Audit.Publish && !c.Kafka.Enabled {
		return fmt.Errorf("screening.audit.publish requires kafka to be enabled")
	}

	return nil
}
