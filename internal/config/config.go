package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Advisory   AdvisoryConfig   `yaml:"advisory" mapstructure:"advisory"`
	Criteria   CriteriaConfig   `yaml:"criteria" mapstructure:"criteria"`
	Persist    PersistConfig    `yaml:"persist" mapstructure:"persist"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings used by the claude advisor.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// Advisory providers.
const (
	ProviderNone   = "none"
	ProviderClaude = "claude"
	ProviderHTTP   = "http"
)

// AdvisoryConfig configures the optional AI validation adapter.
type AdvisoryConfig struct {
	Provider         string  `yaml:"provider" mapstructure:"provider"`
	Endpoint         string  `yaml:"endpoint" mapstructure:"endpoint"`
	APIKey           string  `yaml:"api_key" mapstructure:"api_key"`
	TimeoutMs        int     `yaml:"timeout_ms" mapstructure:"timeout_ms"`
	RatePerSecond    float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	Burst            int     `yaml:"burst" mapstructure:"burst"`
	BreakerThreshold int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// Timeout returns the advisory call budget.
func (a AdvisoryConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutMs) * time.Millisecond
}

// CriteriaConfig selects the acceptance criteria table. An empty File uses
// the built-in table.
type CriteriaConfig struct {
	File string `yaml:"file" mapstructure:"file"`
}

// PersistConfig controls retries when writing terminal session snapshots.
type PersistConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	TimeoutSecs      int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port                  int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins        []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	ValidationTimeoutSecs int      `yaml:"validation_timeout_secs" mapstructure:"validation_timeout_secs"`
	ShutdownTimeoutSecs   int      `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// MonitoringConfig configures metrics collection and alerting.
type MonitoringConfig struct {
	WebhookURL            string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	DegradedRateThreshold float64 `yaml:"degraded_rate_threshold" mapstructure:"degraded_rate_threshold"`
	FailRateThreshold     float64 `yaml:"fail_rate_threshold" mapstructure:"fail_rate_threshold"`
	LookbackWindowHours   int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs     int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// BatchConfig configures the validate command.
type BatchConfig struct {
	MaxConcurrentSessions int `yaml:"max_concurrent_sessions" mapstructure:"max_concurrent_sessions"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CALIBRATION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "calibration.db")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 512)
	v.SetDefault("advisory.provider", ProviderNone)
	v.SetDefault("advisory.timeout_ms", 5000)
	v.SetDefault("advisory.rate_per_second", 2.0)
	v.SetDefault("advisory.burst", 4)
	v.SetDefault("advisory.breaker_threshold", 5)
	v.SetDefault("advisory.breaker_reset_secs", 30)
	v.SetDefault("persist.max_attempts", 3)
	v.SetDefault("persist.initial_backoff_ms", 200)
	v.SetDefault("persist.max_backoff_ms", 5000)
	v.SetDefault("persist.timeout_secs", 10)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.validation_timeout_secs", 30)
	v.SetDefault("server.shutdown_timeout_secs", 15)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("monitoring.degraded_rate_threshold", 0.25)
	v.SetDefault("monitoring.fail_rate_threshold", 0.5)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("batch.max_concurrent_sessions", 4)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks settings that would otherwise fail late at runtime. Mode
// selects the command-specific checks: "serve", "batch", or "store".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres", "sqlite":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown store.driver %q", c.Store.Driver))
	}

	switch c.Advisory.Provider {
	case "", ProviderNone:
	case ProviderClaude:
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required for advisory.provider=claude")
		}
	case ProviderHTTP:
		if c.Advisory.Endpoint == "" {
			errs = append(errs, "advisory.endpoint is required for advisory.provider=http")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown advisory.provider %q", c.Advisory.Provider))
	}
	if c.Advisory.TimeoutMs <= 0 {
		errs = append(errs, "advisory.timeout_ms must be > 0")
	}
	if c.Advisory.RatePerSecond < 0 || c.Advisory.Burst < 0 {
		errs = append(errs, "advisory rate limit must be >= 0")
	}
	if c.Monitoring.DegradedRateThreshold < 0 || c.Monitoring.DegradedRateThreshold > 1 {
		errs = append(errs, "monitoring.degraded_rate_threshold must be between 0 and 1")
	}
	if c.Monitoring.FailRateThreshold < 0 || c.Monitoring.FailRateThreshold > 1 {
		errs = append(errs, "monitoring.fail_rate_threshold must be between 0 and 1")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "batch":
		if c.Batch.MaxConcurrentSessions < 1 || c.Batch.MaxConcurrentSessions > 50 {
			errs = append(errs, "batch.max_concurrent_sessions must be between 1 and 50")
		}
	case "store":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
