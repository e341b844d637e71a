package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())

	assert.Equal(t, "finscreen", c.App.Name)
	assert.Equal(t, "development", c.App.Environment)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, "memory", c.Cache.Backend)
	assert.Equal(t, int64(1<<30), c.Cache.MaxSizeBytes)
	assert.Equal(t, time.Hour, c.Cache.DefaultTTL)
	assert.Equal(t, 3, c.Resilience.Retry.MaxAttempts)
	assert.Equal(t, 30*time.Second, c.Resilience.Retry.MaxDelay)
	assert.Equal(t, 5, c.Resilience.Breaker.FailureThreshold)
	assert.Equal(t, 0.5, c.Resilience.MinSuccessRate)
	assert.Equal(t, "mock", c.Screening.Provider)
	assert.Equal(t, []string{"structural", "liquidity", "quality"}, c.Screening.EnabledFilters)
	assert.Equal(t, 60, c.Screening.LookbackDays)
	assert.Equal(t, 80.0, c.Screening.Health.MaxMemoryPct)
	assert.Equal(t, 10, c.Screening.Health.MinOutputCount)
	assert.True(t, c.Screening.Snapshots.Enabled)
	assert.Equal(t, []string{"localhost:9092"}, c.Kafka.Brokers)
	assert.Equal(t, "screening.requests", c.Kafka.RequestsTopic)
	assert.Equal(t, "localhost:6379", c.Redis.Addr())
}

func TestLoadOverridesAndDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  environment: production
log:
  level: warn
server:
  port: 9090
metrics:
  enabled: false
cache:
  backend: memory
  max_size_bytes: 2147483648
screening:
  lookback_days: 90
  lazy_loading: true
  health:
    enabled: false
  filters:
    liquidity:
      min_avg_dollar_volume_usd: 10000000
      lookback_days: 90
kafka:
  enabled: true
  brokers: ["broker-1:9092", "broker-2:9092"]
`)

	c, err := Load(path)
	require.NoError(t, err)

	// Overridden values.
	assert.Equal(t, "production", c.App.Environment)
	assert.Equal(t, "warn", c.Log.Level)
	assert.Equal(t, 9090, c.Server.Port)
	assert.Equal(t, int64(2<<30), c.Cache.MaxSizeBytes)
	assert.Equal(t, 90, c.Screening.LookbackDays)
	assert.True(t, c.Screening.LazyLoading)
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, c.Kafka.Brokers)

	// Explicit false survives even though the defaults say true.
	assert.False(t, c.Metrics.Enabled)
	assert.False(t, c.Screening.Health.Enabled)

	// Untouched sections keep their defaults.
	assert.Equal(t, "json", c.Log.Format)
	assert.Equal(t, time.Hour, c.Cache.MarketDataTTL)
	assert.Equal(t, 3, c.Resilience.Retry.MaxAttempts)
	assert.Equal(t, "screening.requests.dlq", c.Kafka.Consumer.DLQTopic)

	// Free-form filter settings come through as-is.
	liq := c.Screening.Filters["liquidity"]
	require.NotNil(t, liq)
	assert.EqualValues(t, 10000000, liq["min_avg_dollar_volume_usd"])
	assert.EqualValues(t, 90, liq["lookback_days"])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "app: [not a mapping")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoadRejectsOutOfRangeValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad environment", "app:\n  environment: sandbox\n"},
		{"bad log level", "log:\n  level: loud\n"},
		{"bad port", "server:\n  port: 70000\n"},
		{"bad cache backend", "cache:\n  backend: disk\n"},
		{"bad provider", "screening:\n  provider: bloomberg\n"},
		{"zero retry attempts", "resilience:\n  retry:\n    max_attempts: 0\n"},
		{"success rate above one", "resilience:\n  min_success_rate: 1.5\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "validate config")
		})
	}
}

func TestValidateCrossFieldRules(t *testing.T) {
	t.Run("retry base delay above max", func(t *testing.T) {
		c := Default()
		c.Resilience.Retry.BaseDelay = time.Minute
		err := c.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "base_delay")
	})

	t.Run("memory warn above max", func(t *testing.T) {
		c := Default()
		c.Screening.Health.WarnMemoryPct = 95
		err := c.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "warn_memory_pct")
	})

	t.Run("audit publish without kafka", func(t *testing.T) {
		c := Default()
		c.Screening.Audit.Publish = true
		err := c.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "audit.publish")
	})

	t.Run("kafka enabled without brokers", func(t *testing.T) {
		c := Default()
		c.Kafka.Enabled = true
		c.Kafka.Brokers = nil
		err := c.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "brokers")
	})
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("REDIS_ADDR", "cache-0:6380")
	t.Setenv("CLICKHOUSE_HOST", "ch-0")

	c, err := LoadWithEnv("")
	require.NoError(t, err)

	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.Equal(t, "cache-0", c.Redis.Host)
	assert.Equal(t, 6380, c.Redis.Port)
	assert.Equal(t, "ch-0", c.ClickHouse.Host)
}

func TestLoadWithEnvRevalidates(t *testing.T) {
	t.Setenv("SCREENING_PROVIDER", "bloomberg")

	_, err := LoadWithEnv("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate config")
}

func TestLoadWithEnvBadRedisAddr(t *testing.T) {
	t.Setenv("REDIS_ADDR", "cache-0:not-a-port")

	_, err := LoadWithEnv("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_ADDR")
}
