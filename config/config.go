package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env      string `env:"ENV"       envDefault:"local" validate:"required,oneof=local staging production"`
	Port     string `env:"PORT"      envDefault:"8080"  validate:"required"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"  validate:"oneof=debug info warn error"`

	// Empty DATABASE_URL runs on the in-memory store.
	DatabaseURL string `env:"DATABASE_URL" validate:"required_if=Env production"`
	RedisURL    string `env:"REDIS_URL"`
	LockTTLSec  int    `env:"LOCK_TTL_SEC" envDefault:"1800" validate:"min=1"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`

	SyncServiceURL string `env:"SYNC_SERVICE_URL,required" validate:"required,url"`
	SyncTimeoutSec int    `env:"SYNC_TIMEOUT_SEC" envDefault:"600" validate:"min=1,max=86400"`

	// Optional YAML file with scheduler options; watched for changes.
	SchedulerConfigPath string `env:"SCHEDULER_CONFIG"`

	WebhookRateLimit float64 `env:"WEBHOOK_RATE_LIMIT" envDefault:"5" validate:"gt=0"`
	WebhookBurst     int     `env:"WEBHOOK_BURST"      envDefault:"10" validate:"min=1"`

	// Browser origins allowed to open /events. Same-origin is always allowed.
	WSOriginPatterns []string `env:"WS_ORIGIN_PATTERNS" envSeparator:","`

	TracesEnabled bool `env:"OTEL_TRACES_ENABLED" envDefault:"false"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSec) * time.Second
}

func (c *Config) SyncTimeout() time.Duration {
	return time.Duration(c.SyncTimeoutSec) * time.Second
}
