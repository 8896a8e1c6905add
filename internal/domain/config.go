package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	Predictor   PredictorConfig `mapstructure:"predictor"`
	Session     SessionConfig   `mapstructure:"session"`
	Cache       CacheConfig     `mapstructure:"cache"`
	Logging     LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// PredictorConfig represents the remote sepsis prediction service
type PredictorConfig struct {
	BaseURL        string               `mapstructure:"base_url"`
	PredictTimeout time.Duration        `mapstructure:"predict_timeout"`
	HealthTimeout  time.Duration        `mapstructure:"health_timeout"`
	Breaker        CircuitBreakerConfig `mapstructure:"breaker"`
}

// CircuitBreakerConfig configures the breaker guarding predict calls
type CircuitBreakerConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	MaxRequests         uint32        `mapstructure:"max_requests"`          // probes allowed while half-open
	Interval            time.Duration `mapstructure:"interval"`              // closed-state counter reset
	Timeout             time.Duration `mapstructure:"timeout"`               // open -> half-open delay
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
}

// SessionConfig represents per-session state configuration
type SessionConfig struct {
	Backend      string        `mapstructure:"backend"` // "memory", "redis"
	TTL          time.Duration `mapstructure:"ttl"`
	MaxSessions  int           `mapstructure:"max_sessions"`
	PredictRate  float64       `mapstructure:"predict_rate"` // submissions per second
	PredictBurst int           `mapstructure:"predict_burst"`
	CookieName   string        `mapstructure:"cookie_name"`
	CookieSecure bool          `mapstructure:"cookie_secure"`
}

// CacheConfig represents the Redis connection used by the redis session backend
type CacheConfig struct {
	RedisURL    string        `mapstructure:"redis_url"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json", "text"
	Output string `mapstructure:"output"` // "stdout", "stderr" or a file path
}
