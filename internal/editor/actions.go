package editor

import (
	"errors"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/collab"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/drawing"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/shapes"
	"go.uber.org/zap"
)

// Copy serializes the selection into the clipboard. An empty selection leaves it untouched.
func (e *Editor) Copy() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.copyLocked()
}

func (e *Editor) copyLocked() (int, error) {
	selected := e.surface.Selection()
	if len(selected) == 0 {
		return 0, nil
	}
	if err := e.clipboard.Copy(selected); err != nil {
		return 0, err
	}
	return len(selected), nil
}

// Cut copies the selection and then deletes it.
func (e *Editor) Cut() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	copied, err := e.copyLocked()
	if err != nil || copied == 0 {
		return copied, err
	}
	return copied, e.handleLocked(drawing.Delete{})
}

// Paste adds the clipboard contents as new shapes and selects them.
func (e *Editor) Paste() ([]shapes.Shape, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pasted, err := e.clipboard.Paste(e.ids)
	if err != nil {
		e.logger.Warn("paste interrupted", zap.Int("pasted", len(pasted)), zap.Error(err))
	}
	var failures []error
	if err != nil {
		failures = append(failures, err)
	}
	objectIDs := make([]string, 0, len(pasted))
	for _, shape := range pasted {
		if err := e.engine.Create(shape); err != nil {
			failures = append(failures, err)
			continue
		}
		objectIDs = append(objectIDs, shape.ObjectID)
	}
	if len(objectIDs) > 0 {
		e.surface.Select(objectIDs...)
	}
	e.surface.RequestRender()
	return pasted, errors.Join(failures...)
}

// ImportImage adds an image scaled to fit the import box at the given document position.
func (e *Editor) ImportImage(src string, naturalWidth, naturalHeight float64, at collab.Point) (shapes.Shape, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	objectID, err := e.ids.NewID()
	if err != nil {
		return shapes.Shape{}, err
	}
	shape, err := shapes.NewImportedImage(objectID, src, naturalWidth, naturalHeight, at)
	if err != nil {
		return shapes.Shape{}, err
	}
	if err := e.engine.Create(shape); err != nil {
		return shape, err
	}
	e.surface.RequestRender()
	return shape, nil
}

// Reset deletes every shape, clears the surface and returns to the select tool. It reports
// whether the document is empty afterwards.
func (e *Editor) Reset() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.machine.Cancel()
	e.stopResetLocked()
	if err := e.handleLocked(drawing.SelectTool{Tool: drawing.ToolSelect}); err != nil {
		return false, err
	}
	e.activeTool = drawing.ToolSelect
	empty, err := e.engine.RemoveAll()
	e.surface.Clear()
	e.surface.RequestRender()
	return empty, err
}
