package config

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
)

func TestLoadAppliesDefaults(testContext *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		testContext.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddress != "0.0.0.0:8080" || cfg.DatabasePath != "sketchroom.db" || cfg.LogLevel != zapcore.InfoLevel {
		testContext.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.RedisURL != "" || cfg.MDNSEnabled {
		testContext.Fatalf("expected optional integrations to be off by default, got %+v", cfg)
	}
	if cfg.PresenceTTL != 30*time.Second || cfg.CursorThrottle != 16*time.Millisecond || cfg.ChatIdleTimeout != 0 {
		testContext.Fatalf("unexpected timing defaults %+v", cfg)
	}
	if cfg.ExportWidth != 1280 || cfg.ExportHeight != 720 {
		testContext.Fatalf("unexpected export size %dx%d", cfg.ExportWidth, cfg.ExportHeight)
	}
}

func TestLoadReadsEnvironment(testContext *testing.T) {
	testContext.Setenv("SKETCHROOM_REDIS_URL", "redis://localhost:6379/0")
	testContext.Setenv("SKETCHROOM_EDITOR_CHAT_IDLE_TIMEOUT_MS", "5000")
	testContext.Setenv("SKETCHROOM_MDNS_ENABLED", "true")

	cfg, err := Load(NewViper())
	if err != nil {
		testContext.Fatalf("load: %v", err)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" || cfg.ChatIdleTimeout != 5*time.Second || !cfg.MDNSEnabled {
		testContext.Fatalf("expected environment overrides, got %+v", cfg)
	}
}

func TestLoadRejectsInvalidValues(testContext *testing.T) {
	configViper := NewViper()
	configViper.Set("database.path", " ")
	if _, err := Load(configViper); err == nil || !strings.Contains(err.Error(), "database.path") {
		testContext.Fatalf("expected database path error, got %v", err)
	}

	configViper = NewViper()
	configViper.Set("export.width", 0)
	if _, err := Load(configViper); err == nil || !strings.Contains(err.Error(), "export.width") {
		testContext.Fatalf("expected export size error, got %v", err)
	}

	configViper = NewViper()
	configViper.Set("log.level", "verbose")
	if _, err := Load(configViper); err == nil || !strings.Contains(err.Error(), "log.level") {
		testContext.Fatalf("expected log level error, got %v", err)
	}

	configViper = NewViper()
	configViper.Set("presence.ttl_seconds", -1)
	if _, err := Load(configViper); err == nil {
		testContext.Fatalf("expected presence ttl error")
	}
}
