package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HTTPAddr string     `env:"HTTP_ADDR" envDefault:":8080"`
	DBPath   string     `env:"DB_PATH" envDefault:"data/turtlesoup.db"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	SPADir   string     `env:"SPA_DIR" envDefault:"../web/dist"`
	ImageDir string     `env:"IMAGE_DIR" envDefault:"data/images"`

	// RedisURL enables cross-instance fan-out. Empty keeps fan-out local.
	RedisURL    string `env:"REDIS_URL"`
	RedisPrefix string `env:"REDIS_PREFIX" envDefault:"turtlesoup:"`

	// StoreTimeout bounds each store attempt; writes are retried on top.
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"30s"`

	// AdminPasswordHash is a bcrypt hash guarding /api/admin. Empty disables
	// the admin routes.
	AdminPasswordHash string `env:"ADMIN_PASSWORD_HASH"`

	CleanupIntervalHours int           `env:"CLEANUP_INTERVAL_HOURS" envDefault:"24"`
	CleanupAutostart     bool          `env:"CLEANUP_AUTOSTART" envDefault:"true"`
	CleanupItemDelay     time.Duration `env:"CLEANUP_ITEM_DELAY" envDefault:"100ms"`
	CleanupMaxAge        time.Duration `env:"CLEANUP_MAX_AGE" envDefault:"48h"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c Config) validate() error {
	if c.CleanupIntervalHours < 1 || c.CleanupIntervalHours > 168 {
		return fmt.Errorf("CLEANUP_INTERVAL_HOURS must be between 1 and 168, got %d", c.CleanupIntervalHours)
	}
	if c.CleanupMaxAge <= 0 {
		return fmt.Errorf("CLEANUP_MAX_AGE must be positive")
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive")
	}
	return nil
}
