package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/sepsis-sentinel/dashboard/internal/domain"
	"github.com/sepsis-sentinel/dashboard/internal/logging"
)

// Environment variables consulted when resolving the predictor base URL.
const (
	EnvAPIURL         = "SEPSIS_API_URL"
	EnvRailwayService = "RAILWAY_SERVICE_NAME"
)

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v          *viper.Viper
	config     *domain.Config
	configPath string
	envFiles   []string
}

// Option customizes a Manager before it loads.
type Option func(*Manager)

// WithConfigFile reads configuration from an explicit file instead of the
// default search paths.
func WithConfigFile(path string) Option {
	return func(m *Manager) {
		m.configPath = path
	}
}

// WithEnvFiles overrides the dotenv files loaded before reading the
// environment. Missing files are ignored.
func WithEnvFiles(files ...string) Option {
	return func(m *Manager) {
		m.envFiles = files
	}
}

// NewManager creates a new configuration manager
func NewManager(opts ...Option) (*Manager, error) {
	m := &Manager{envFiles: []string{".env"}}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	// Existing environment variables win over .env entries
	for _, file := range m.envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("error loading env file %s: %w", file, err)
		}
	}

	v := viper.New()
	if m.configPath != "" {
		v.SetConfigFile(m.configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/sepsis-sentinel/")
	}

	v.SetEnvPrefix("SEPSIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional; defaults and env vars cover everything
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	config.Predictor.BaseURL = ResolveBaseURL(config.Predictor.BaseURL)

	m.v = v
	m.config = config
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8502)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Predictor defaults
	v.SetDefault("predictor.base_url", "http://localhost:8000")
	v.SetDefault("predictor.predict_timeout", "10s")
	v.SetDefault("predictor.health_timeout", "5s")
	v.SetDefault("predictor.breaker.enabled", true)
	v.SetDefault("predictor.breaker.max_requests", 1)
	v.SetDefault("predictor.breaker.interval", "60s")
	v.SetDefault("predictor.breaker.timeout", "30s")
	v.SetDefault("predictor.breaker.consecutive_failures", 5)

	// Session defaults
	v.SetDefault("session.backend", "memory")
	v.SetDefault("session.ttl", "12h")
	v.SetDefault("session.max_sessions", 1000)
	v.SetDefault("session.predict_rate", 1.0)
	v.SetDefault("session.predict_burst", 5)
	v.SetDefault("session.cookie_name", "sepsis_session")
	v.SetDefault("session.cookie_secure", false)

	// Cache defaults
	v.SetDefault("cache.redis_url", "redis://localhost:6379/0")
	v.SetDefault("cache.key_prefix", "sepsis:history:")
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")

	// Logging defaults
	v.SetDefault("logging.level", logging.InfoLevel)
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// ResolveBaseURL picks the predictor base URL. An explicit SEPSIS_API_URL
// wins, then the Railway internal service name, then the configured value.
func ResolveBaseURL(configured string) string {
	if url := os.Getenv(EnvAPIURL); url != "" {
		return strings.TrimRight(url, "/")
	}
	if service := os.Getenv(EnvRailwayService); service != "" {
		return fmt.Sprintf("https://%s.railway.internal", service)
	}
	return strings.TrimRight(configured, "/")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetPredictorConfig returns predictor configuration
func (m *Manager) GetPredictorConfig() *domain.PredictorConfig {
	return &m.config.Predictor
}

// GetSessionConfig returns session configuration
func (m *Manager) GetSessionConfig() *domain.SessionConfig {
	return &m.config.Session
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Predictor.BaseURL == "" {
		return fmt.Errorf("predictor base URL is required")
	}
	if !strings.HasPrefix(config.Predictor.BaseURL, "http://") && !strings.HasPrefix(config.Predictor.BaseURL, "https://") {
		return fmt.Errorf("predictor base URL must be http(s): %s", config.Predictor.BaseURL)
	}
	if config.Predictor.PredictTimeout <= 0 {
		return fmt.Errorf("predict timeout must be positive")
	}
	if config.Predictor.HealthTimeout <= 0 {
		return fmt.Errorf("health timeout must be positive")
	}

	switch config.Session.Backend {
	case "memory":
	case "redis":
		if config.Cache.RedisURL == "" {
			return fmt.Errorf("Redis URL is required for the redis session backend")
		}
	default:
		return fmt.Errorf("invalid session backend: %s", config.Session.Backend)
	}
	if config.Session.TTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if config.Session.MaxSessions <= 0 {
		return fmt.Errorf("max sessions must be positive: %d", config.Session.MaxSessions)
	}
	if config.Session.PredictRate <= 0 || config.Session.PredictBurst <= 0 {
		return fmt.Errorf("predict rate and burst must be positive")
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.config.Environment)
	return env == "development" || env == "dev" || env == ""
}
