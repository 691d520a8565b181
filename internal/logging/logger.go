// Package logging builds the process-wide zap logger.
package logging

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName names the root logger and is stamped on every entry.
const ServiceName = "sketchroom"

var errUnknownLevel = errors.New("logging: unknown level")

// ParseLevel accepts debug, info, warn (or warning) and error in any case. Empty means info.
func ParseLevel(value string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("%w: %q", errUnknownLevel, value)
	}
}

type Options struct {
	Level zapcore.Level
	// Instance tells apart servers sharing one presence mirror or LAN.
	Instance string
}

// NewLogger returns a JSON production logger named after the service.
func NewLogger(options Options) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(options.Level)
	cfg.InitialFields = map[string]any{"service": ServiceName}
	if instance := strings.TrimSpace(options.Instance); instance != "" {
		cfg.InitialFields["instance"] = instance
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Named(ServiceName), nil
}
