package config

import (
	"time"
)

// Config is the complete gateway configuration. Values come from struct
// defaults overridden by GATEWAY_* environment variables.
type Config struct {
	Server    ServerConfig    `koanf:"server"    validate:"required"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Discovery DiscoveryConfig `koanf:"discovery" validate:"required"`
	Watcher   WatcherConfig   `koanf:"watcher"   validate:"required"`
	Execution ExecutionConfig `koanf:"execution" validate:"required"`
	Schedule  ScheduleConfig  `koanf:"schedule"  validate:"required"`
	Anomaly   AnomalyConfig   `koanf:"anomaly"   validate:"required"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host         string        `koanf:"host"          env:"SERVER_HOST"`
	Port         int           `koanf:"port"          env:"SERVER_PORT"          validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `koanf:"read_timeout"  env:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `koanf:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `koanf:"idle_timeout"  env:"SERVER_IDLE_TIMEOUT"`
}

// DatabaseConfig contains Postgres connection settings. An empty conn string
// disables persistence; the execution service still produces responses.
type DatabaseConfig struct {
	ConnString  string `koanf:"conn_string"  env:"DB_CONN_STRING"`
	AutoMigrate bool   `koanf:"auto_migrate" env:"DB_AUTO_MIGRATE"`
}

// RedisConfig configures the optional cross-process event publisher.
type RedisConfig struct {
	URL string `koanf:"url" env:"REDIS_URL"`
}

// DiscoveryConfig controls registry polling and caching.
type DiscoveryConfig struct {
	CacheTTL      time.Duration `koanf:"cache_ttl"      env:"DISCOVERY_CACHE_TTL"      validate:"gt=0"`
	RetryAttempts int           `koanf:"retry_attempts" env:"DISCOVERY_RETRY_ATTEMPTS" validate:"min=1"`
}

// WatcherConfig controls the endpoint reconciliation loop.
type WatcherConfig struct {
	PollInterval time.Duration `koanf:"poll_interval" env:"WATCHER_POLL_INTERVAL" validate:"gt=0"`
}

// ExecutionConfig controls workflow execution.
type ExecutionConfig struct {
	Timeout        time.Duration `koanf:"timeout"          env:"EXECUTION_TIMEOUT"          validate:"gt=0"`
	MaxConcurrency int           `koanf:"max_concurrency"  env:"EXECUTION_MAX_CONCURRENCY"  validate:"min=1"`
	OutputPreview  int           `koanf:"output_preview"   env:"EXECUTION_OUTPUT_PREVIEW"   validate:"min=1"`
}

// ScheduleConfig controls the cron trigger loop.
type ScheduleConfig struct {
	Enabled      bool          `koanf:"enabled"       env:"SCHEDULE_ENABLED"`
	PollInterval time.Duration `koanf:"poll_interval" env:"SCHEDULE_POLL_INTERVAL" validate:"gt=0"`
}

// AnomalyConfig controls baseline refresh and detection. The thresholds
// are minimum absolute z-scores per severity.
type AnomalyConfig struct {
	Enabled           bool          `koanf:"enabled"            env:"ANOMALY_ENABLED"`
	RefreshInterval   time.Duration `koanf:"refresh_interval"   env:"ANOMALY_REFRESH_INTERVAL"   validate:"gt=0"`
	WindowDays        int           `koanf:"window_days"        env:"ANOMALY_WINDOW_DAYS"        validate:"min=1"`
	MinSamples        int           `koanf:"min_samples"        env:"ANOMALY_MIN_SAMPLES"        validate:"min=1"`
	ThresholdLow      float64       `koanf:"threshold_low"      env:"ANOMALY_THRESHOLD_LOW"      validate:"gt=0"`
	ThresholdMedium   float64       `koanf:"threshold_medium"   env:"ANOMALY_THRESHOLD_MEDIUM"   validate:"gt=0"`
	ThresholdHigh     float64       `koanf:"threshold_high"     env:"ANOMALY_THRESHOLD_HIGH"     validate:"gt=0"`
	ThresholdCritical float64       `koanf:"threshold_critical" env:"ANOMALY_THRESHOLD_CRITICAL" validate:"gt=0"`
}

// Default returns the built-in configuration the environment overrides.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			AutoMigrate: true,
		},
		Discovery: DiscoveryConfig{
			CacheTTL:      30 * time.Second,
			RetryAttempts: 3,
		},
		Watcher: WatcherConfig{
			PollInterval: 10 * time.Second,
		},
		Execution: ExecutionConfig{
			Timeout:        30 * time.Second,
			MaxConcurrency: 8,
			OutputPreview:  500,
		},
		Schedule: ScheduleConfig{
			Enabled:      true,
			PollInterval: 30 * time.Second,
		},
		Anomaly: AnomalyConfig{
			Enabled:           true,
			RefreshInterval:   time.Hour,
			WindowDays:        30,
			MinSamples:        20,
			ThresholdLow:      2,
			ThresholdMedium:   3,
			ThresholdHigh:     4,
			ThresholdCritical: 5,
		},
	}
}
