package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/logging"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

const (
	envPrefix               = "SKETCHROOM"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabasePath     = "sketchroom.db"
	defaultLogLevel         = "info"
	defaultPresenceTTL      = 30
	defaultExportWidth      = 1280
	defaultExportHeight     = 720
	defaultCursorThrottleMS = 16
)

// AppConfig captures runtime configuration for the room server.
type AppConfig struct {
	HTTPAddress     string
	DatabasePath    string
	LogLevel        zapcore.Level
	RedisURL        string
	PresenceTTL     time.Duration
	MDNSEnabled     bool
	MDNSInstance    string
	ExportWidth     int
	ExportHeight    int
	ChatIdleTimeout time.Duration
	CursorThrottle  time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "sketchroom"
	}

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("redis.url", "")
	configViper.SetDefault("presence.ttl_seconds", defaultPresenceTTL)
	configViper.SetDefault("mdns.enabled", false)
	configViper.SetDefault("mdns.instance", hostname)
	configViper.SetDefault("export.width", defaultExportWidth)
	configViper.SetDefault("export.height", defaultExportHeight)
	configViper.SetDefault("editor.chat_idle_timeout_ms", 0)
	configViper.SetDefault("editor.cursor_throttle_ms", defaultCursorThrottleMS)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	logLevel, err := logging.ParseLevel(configViper.GetString("log.level"))
	if err != nil {
		return AppConfig{}, fmt.Errorf("log.level: %w", err)
	}
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		DatabasePath:    configViper.GetString("database.path"),
		LogLevel:        logLevel,
		RedisURL:        strings.TrimSpace(configViper.GetString("redis.url")),
		PresenceTTL:     time.Duration(configViper.GetInt("presence.ttl_seconds")) * time.Second,
		MDNSEnabled:     configViper.GetBool("mdns.enabled"),
		MDNSInstance:    configViper.GetString("mdns.instance"),
		ExportWidth:     configViper.GetInt("export.width"),
		ExportHeight:    configViper.GetInt("export.height"),
		ChatIdleTimeout: time.Duration(configViper.GetInt("editor.chat_idle_timeout_ms")) * time.Millisecond,
		CursorThrottle:  time.Duration(configViper.GetInt("editor.cursor_throttle_ms")) * time.Millisecond,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.PresenceTTL <= 0 {
		return fmt.Errorf("presence.ttl_seconds must be positive")
	}
	if c.ExportWidth <= 0 || c.ExportHeight <= 0 {
		return fmt.Errorf("export.width and export.height must be positive")
	}
	if c.ChatIdleTimeout < 0 {
		return fmt.Errorf("editor.chat_idle_timeout_ms must not be negative")
	}
	if c.CursorThrottle < 0 {
		return fmt.Errorf("editor.cursor_throttle_ms must not be negative")
	}
	if c.MDNSEnabled && strings.TrimSpace(c.MDNSInstance) == "" {
		return fmt.Errorf("mdns.instance is required when mdns is enabled")
	}
	return nil
}
