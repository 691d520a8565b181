// Package history routes undo and redo to the shared document and restores the local mirror.
package history

import (
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/collab"
	"go.uber.org/zap"
)

var (
	errMissingHistory = errors.New("history: history facility is required")
	errMissingRebuild = errors.New("history: rebuilder is required")
)

// GestureCanceler discards an in-progress local gesture.
type GestureCanceler interface {
	Cancel() bool
}

// Rebuilder reloads the local mirror from the shared document.
type Rebuilder interface {
	Rebuild()
}

type CoordinatorConfig struct {
	History   collab.History
	Gestures  GestureCanceler
	Rebuilder Rebuilder
	Logger    *zap.Logger
}

// Coordinator serves user-issued undo and redo.
type Coordinator struct {
	history   collab.History
	gestures  GestureCanceler
	rebuilder Rebuilder
	logger    *zap.Logger
}

func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.History == nil {
		return nil, errMissingHistory
	}
	if cfg.Rebuilder == nil {
		return nil, errMissingRebuild
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		history:   cfg.History,
		gestures:  cfg.Gestures,
		rebuilder: cfg.Rebuilder,
		logger:    logger,
	}, nil
}

// Undo reverts the last local document change.
func (c *Coordinator) Undo() (bool, error) {
	return c.apply("undo", c.history.Undo)
}

// Redo reapplies the last undone change.
func (c *Coordinator) Redo() (bool, error) {
	return c.apply("redo", c.history.Redo)
}

// apply drops any gesture in flight so it cannot be committed over the restored state, then
// rebuilds the mirror from the document whatever the outcome.
func (c *Coordinator) apply(name string, operation func() (bool, error)) (bool, error) {
	if c.gestures != nil && c.gestures.Cancel() {
		c.logger.Debug("gesture discarded", zap.String("operation", name))
	}
	applied, err := operation()
	c.rebuilder.Rebuild()
	if err != nil {
		c.logger.Warn("history operation failed", zap.String("operation", name), zap.Error(err))
		return false, fmt.Errorf("history.%s: %w", name, err)
	}
	return applied, nil
}
