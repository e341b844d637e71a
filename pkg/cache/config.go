package cache

import "time"

// MemoryOption configures Memory cache.
type MemoryOption func(*MemoryConfig)

// MemoryConfig holds memory cache configuration.
type MemoryConfig struct {
	MaxSizeBytes    int64
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
	Enabled         bool
}

// WithMaxSizeBytes sets the total byte budget.
func WithMaxSizeBytes(n int64) MemoryOption {
	return func(c *MemoryConfig) {
		c.MaxSizeBytes = n
	}
}

// WithDefaultTTL sets the TTL applied when Set is called with ttl == 0.
func WithDefaultTTL(ttl time.Duration) MemoryOption {
	return func(c *MemoryConfig) {
		c.DefaultTTL = ttl
	}
}

// WithCleanupInterval sets the background expiration sweep interval.
func WithCleanupInterval(interval time.Duration) MemoryOption {
	return func(c *MemoryConfig) {
		c.CleanupInterval = interval
	}
}

// WithEnabled toggles the cache. A disabled cache misses on every Get and
// drops every Set.
func WithEnabled(enabled bool) MemoryOption {
	return func(c *MemoryConfig) {
		c.Enabled = enabled
	}
}

// RedisOption configures Redis cache.
type RedisOption func(*RedisConfig)

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	PoolTimeout  time.Duration
	MinIdleConns int
	Prefix       string
	DefaultTTL   time.Duration
}

// WithRedisHost sets Redis host.
func WithRedisHost(host string) RedisOption {
	return func(c *RedisConfig) {
		c.Host = host
	}
}

// WithRedisPort sets Redis port.
func WithRedisPort(port int) RedisOption {
	return func(c *RedisConfig) {
		c.Port = port
	}
}

// WithRedisPassword sets Redis password.
func WithRedisPassword(password string) RedisOption {
	return func(c *RedisConfig) {
		c.Password = password
	}
}

// WithRedisDB sets Redis database number.
func WithRedisDB(db int) RedisOption {
	return func(c *RedisConfig) {
		c.DB = db
	}
}

// WithRedisPool sets connection pool settings.
func WithRedisPool(poolSize, minIdleConns int, timeout time.Duration) RedisOption {
	return func(c *RedisConfig) {
		c.PoolSize = poolSize
		c.MinIdleConns = minIdleConns
		c.PoolTimeout = timeout
	}
}

// WithRedisPrefix sets key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(c *RedisConfig) {
		c.Prefix = prefix
	}
}

// WithRedisDefaultTTL sets the TTL applied when Set is called with ttl == 0.
func WithRedisDefaultTTL(ttl time.Duration) RedisOption {
	return func(c *RedisConfig) {
		c.DefaultTTL = ttl
	}
}

// LayeredOption configures Layered cache.
type LayeredOption func(*LayeredConfig)

// LayeredConfig holds layered cache configuration.
type LayeredConfig struct {
	MemoryMaxSizeBytes int64
	MemoryDefaultTTL   time.Duration
}

// WithLayeredMemorySize sets the L1 byte budget.
func WithLayeredMemorySize(n int64) LayeredOption {
	return func(c *LayeredConfig) {
		c.MemoryMaxSizeBytes = n
	}
}

// WithLayeredMemoryTTL sets the L1 default TTL.
func WithLayeredMemoryTTL(ttl time.Duration) LayeredOption {
	return func(c *LayeredConfig) {
		c.MemoryDefaultTTL = ttl
	}
}
