// Package shapesync mirrors local shape mutations into the shared document and rebuilds the local
// surface from the document whenever it changes.
package shapesync

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/collab"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/shapes"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/surface"
	"go.uber.org/zap"
)

var (
	errMissingDocument = errors.New("shapesync: document is required")
	errMissingSurface  = errors.New("shapesync: surface is required")
)

// Layer is one row of the layers list, in document order.
type Layer struct {
	ObjectID string      `json:"objectId"`
	Kind     shapes.Kind `json:"kind"`
	Name     string      `json:"name"`
}

type EngineConfig struct {
	Document collab.Document
	Surface  surface.Surface
	Logger   *zap.Logger
}

// Engine owns the mapping between the surface and the shared document.
type Engine struct {
	document collab.Document
	surface  surface.Surface
	logger   *zap.Logger

	mu     sync.RWMutex
	layers []Layer
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Document == nil {
		return nil, errMissingDocument
	}
	if cfg.Surface == nil {
		return nil, errMissingSurface
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		document: cfg.Document,
		surface:  cfg.Surface,
		logger:   logger,
	}, nil
}

// Create applies shape locally and writes its full record to the document.
func (e *Engine) Create(shape shapes.Shape) error {
	return e.write("shapesync.create", shape)
}

// Update replaces the full record of shape. Writing an unchanged record is a no-op for the document.
func (e *Engine) Update(shape shapes.Shape) error {
	return e.write("shapesync.update", shape)
}

func (e *Engine) write(operation string, shape shapes.Shape) error {
	value, err := shapes.Marshal(shape)
	if err != nil {
		e.logger.Warn("shape not serializable",
			zap.String("operation", operation),
			zap.String("object_id", shape.ObjectID),
			zap.Error(err))
		return fmt.Errorf("%s: %w", operation, err)
	}
	e.surface.Upsert(shape)
	if err := e.document.Set(shape.ObjectID, value); err != nil {
		e.logger.Warn("document write failed",
			zap.String("operation", operation),
			zap.String("object_id", shape.ObjectID),
			zap.Error(err))
		return fmt.Errorf("%s: %w", operation, err)
	}
	return nil
}

// Remove deletes objectID locally and from the document.
func (e *Engine) Remove(objectID string) error {
	e.surface.Remove(objectID)
	if err := e.document.Delete(objectID); err != nil {
		e.logger.Warn("document delete failed",
			zap.String("object_id", objectID),
			zap.Error(err))
		return fmt.Errorf("shapesync.remove: %w", err)
	}
	return nil
}

// RemoveAll deletes every key and reports whether the document is empty afterwards.
// An already empty document is left untouched.
func (e *Engine) RemoveAll() (bool, error) {
	if e.document.Size() == 0 {
		return true, nil
	}
	for _, entry := range e.document.Entries() {
		if err := e.document.Delete(entry.Key); err != nil {
			e.logger.Warn("document delete failed",
				zap.String("object_id", entry.Key),
				zap.Error(err))
			return false, fmt.Errorf("shapesync.remove_all: %w", err)
		}
	}
	return e.document.Size() == 0, nil
}

// Attach rebuilds from the current document and then on every change until the returned
// function is called.
func (e *Engine) Attach() (detach func()) {
	e.Rebuild()
	return e.document.SubscribeChanges(e.HandleRemoteChange)
}

// Rebuild reloads the surface from the document's current entries.
func (e *Engine) Rebuild() {
	e.HandleRemoteChange(e.document.Entries())
}

// HandleRemoteChange replaces the surface contents with the shapes in snapshot. Records that
// fail to parse are logged and skipped. Selected shapes that survive stay selected.
func (e *Engine) HandleRemoteChange(snapshot []collab.Entry) {
	decoded := Decode(snapshot, e.logger)
	e.surface.Replace(decoded)

	e.mu.Lock()
	e.layers = layersFor(decoded)
	e.mu.Unlock()

	e.surface.RequestRender()
}

// Decode parses snapshot into shapes in document order. Malformed records are logged and
// skipped; a record whose objectId disagrees with its key takes the key.
func Decode(snapshot []collab.Entry, logger *zap.Logger) []shapes.Shape {
	if logger == nil {
		logger = zap.NewNop()
	}
	decoded := make([]shapes.Shape, 0, len(snapshot))
	for _, entry := range snapshot {
		shape, err := shapes.Unmarshal(entry.Value)
		if err != nil {
			logger.Warn("skipping malformed shape record",
				zap.String("key", entry.Key),
				zap.Error(err))
			continue
		}
		if shape.ObjectID != entry.Key {
			logger.Warn("shape record key mismatch",
				zap.String("key", entry.Key),
				zap.String("object_id", shape.ObjectID))
			shape.ObjectID = entry.Key
		}
		decoded = append(decoded, shape)
	}
	return decoded
}

// LayersOf is the layers list for a document snapshot.
func LayersOf(snapshot []collab.Entry, logger *zap.Logger) []Layer {
	return layersFor(Decode(snapshot, logger))
}

func layersFor(decoded []shapes.Shape) []Layer {
	layers := make([]Layer, 0, len(decoded))
	for _, shape := range decoded {
		layers = append(layers, Layer{
			ObjectID: shape.ObjectID,
			Kind:     shape.Kind(),
			Name:     shape.Kind().DisplayName(),
		})
	}
	return layers
}

// Layers returns the layers list computed by the last rebuild.
func (e *Engine) Layers() []Layer {
	e.mu.RLock()
	defer e.mu.RUnlock()
	copied := make([]Layer, len(e.layers))
	copy(copied, e.layers)
	return copied
}
