package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want INFO", cfg.LogLevel)
	}
	if cfg.CleanupIntervalHours != 24 || !cfg.CleanupAutostart {
		t.Errorf("cleanup = %d/%v, want 24/true", cfg.CleanupIntervalHours, cfg.CleanupAutostart)
	}
	if cfg.CleanupMaxAge != 48*time.Hour {
		t.Errorf("CleanupMaxAge = %v, want 48h", cfg.CleanupMaxAge)
	}
	if cfg.RedisURL != "" {
		t.Errorf("RedisURL = %q, want empty", cfg.RedisURL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_PATH", ":memory:")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("CLEANUP_INTERVAL_HOURS", "6")
	t.Setenv("CLEANUP_ITEM_DELAY", "250ms")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBPath != ":memory:" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want DEBUG", cfg.LogLevel)
	}
	if cfg.CleanupIntervalHours != 6 {
		t.Errorf("CleanupIntervalHours = %d, want 6", cfg.CleanupIntervalHours)
	}
	if cfg.CleanupItemDelay != 250*time.Millisecond {
		t.Errorf("CleanupItemDelay = %v", cfg.CleanupItemDelay)
	}
	if cfg.RedisURL == "" {
		t.Error("RedisURL not read")
	}
}

func TestLoadRejectsBadInterval(t *testing.T) {
	tests := []struct {
		name  string
		hours string
	}{
		{"zero", "0"},
		{"over a week", "169"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CLEANUP_INTERVAL_HOURS", tt.hours)
			if _, err := Load(); err == nil {
				t.Fatal("Load succeeded, want error")
			}
		})
	}
}
