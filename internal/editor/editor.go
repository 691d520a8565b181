// Package editor is the canvas service: it owns one participant's surface, drawing machine, sync
// engine, attribute bridge, undo coordinator and clipboard, and turns UI events into their effects.
package editor

import (
	"errors"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/attributes"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/collab"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/drawing"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/history"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/shapes"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/shapesync"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/surface"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var (
	errMissingSurface  = errors.New("editor: surface is required")
	errMissingDocument = errors.New("editor: document is required")
	errMissingHistory  = errors.New("editor: history is required")
)

type Config struct {
	Surface  surface.Surface
	Document collab.Document
	History  collab.History
	// IDProvider defaults to UUIDv7 object ids.
	IDProvider shapes.IDProvider
	Clock      clockwork.Clock
	Logger     *zap.Logger
}

// Editor serializes every UI event it receives; callers may use it from several goroutines.
type Editor struct {
	surface   surface.Surface
	machine   *drawing.Machine
	engine    *shapesync.Engine
	bridge    *attributes.Bridge
	history   *history.Coordinator
	clipboard *shapes.Clipboard
	ids       shapes.IDProvider
	clock     clockwork.Clock
	logger    *zap.Logger

	mu         sync.Mutex
	activeTool drawing.Tool
	resetTimer clockwork.Timer
	detach     func()
}

func New(cfg Config) (*Editor, error) {
	if cfg.Surface == nil {
		return nil, errMissingSurface
	}
	if cfg.Document == nil {
		return nil, errMissingDocument
	}
	if cfg.History == nil {
		return nil, errMissingHistory
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = shapes.NewUUIDProvider()
	}

	engine, err := shapesync.NewEngine(shapesync.EngineConfig{
		Document: cfg.Document,
		Surface:  cfg.Surface,
		Logger:   logger.Named("shapesync"),
	})
	if err != nil {
		return nil, err
	}
	bridge, err := attributes.NewBridge(attributes.BridgeConfig{
		Surface: cfg.Surface,
		Updater: engine,
		Logger:  logger.Named("attributes"),
	})
	if err != nil {
		return nil, err
	}
	machine := drawing.NewMachine(ids)
	coordinator, err := history.NewCoordinator(history.CoordinatorConfig{
		History:   cfg.History,
		Gestures:  machine,
		Rebuilder: engine,
		Logger:    logger.Named("history"),
	})
	if err != nil {
		return nil, err
	}

	return &Editor{
		surface:    cfg.Surface,
		machine:    machine,
		engine:     engine,
		bridge:     bridge,
		history:    coordinator,
		clipboard:  shapes.NewClipboard(logger.Named("clipboard")),
		ids:        ids,
		clock:      clock,
		logger:     logger,
		activeTool: drawing.ToolSelect,
	}, nil
}

// Start rebuilds the surface from the document and follows every later change until Close.
func (e *Editor) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detach != nil {
		return
	}
	e.detach = e.engine.Attach()
}

// Close stops following the document and cancels a pending tool reset.
func (e *Editor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detach != nil {
		e.detach()
		e.detach = nil
	}
	e.stopResetLocked()
}

// ActiveTool is the toolbar entry currently shown as selected.
func (e *Editor) ActiveTool() drawing.Tool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeTool
}

// State exposes the drawing machine state.
func (e *Editor) State() drawing.State {
	return e.machine.State()
}

// Layers is the layers list in document order.
func (e *Editor) Layers() []shapesync.Layer {
	return e.engine.Layers()
}

// Attributes is the side panel state.
func (e *Editor) Attributes() attributes.Attributes {
	return e.bridge.Attributes()
}

func (e *Editor) SelectTool(tool drawing.Tool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopResetLocked()
	e.activeTool = tool
	return e.handleLocked(drawing.SelectTool{Tool: tool})
}

// PointerDown takes client coordinates; they are mapped to document space by the surface.
func (e *Editor) PointerDown(client collab.Point) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	at := e.surface.Pointer(client)
	event := drawing.PointerDown{At: at}
	if target, ok := e.surface.FindTarget(at); ok {
		event.Target = &target
	}
	return e.handleLocked(event)
}

func (e *Editor) PointerMove(client collab.Point) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handleLocked(drawing.PointerMove{At: e.surface.Pointer(client), Surface: e.surface.Size()})
}

func (e *Editor) PointerUp(client collab.Point) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handleLocked(drawing.PointerUp{At: e.surface.Pointer(client)})
}

// ObjectModified reports shapes transformed by the surface's own handles.
func (e *Editor) ObjectModified(modified ...shapes.Shape) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handleLocked(drawing.ObjectModified{Shapes: modified})
}

// SelectionChanged is called on selection-created and object-scaling notifications.
func (e *Editor) SelectionChanged() (attributes.Attributes, bool) {
	return e.bridge.SelectionChanged()
}

func (e *Editor) EditAttribute(attribute attributes.Attribute, value string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bridge.Edit(attribute, value)
}

// Delete removes every selected shape.
func (e *Editor) Delete() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handleLocked(drawing.Delete{})
}

// Escape ends the current gesture and reverts to the select tool.
func (e *Editor) Escape() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handleLocked(drawing.Escape{})
}

func (e *Editor) Undo() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.Undo()
}

func (e *Editor) Redo() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.Redo()
}

func (e *Editor) handleLocked(intent drawing.Intent) error {
	effects, err := e.machine.Handle(intent)
	if err != nil {
		e.logger.Warn("intent rejected", zap.String("intent", intentName(intent)), zap.Error(err))
		return err
	}
	return e.applyLocked(effects)
}

// applyLocked performs effects in order. Document write failures are logged and collected; the
// remaining effects still run.
func (e *Editor) applyLocked(effects []drawing.Effect) error {
	var failures []error
	for _, effect := range effects {
		switch effect := effect.(type) {
		case drawing.Local:
			e.surface.Upsert(effect.Shape)
		case drawing.Sync:
			if err := e.engine.Update(effect.Shape); err != nil {
				failures = append(failures, err)
			}
		case drawing.RemoveSelection:
			for _, selected := range e.surface.Selection() {
				if err := e.engine.Remove(selected.ObjectID); err != nil {
					failures = append(failures, err)
				}
			}
			e.surface.DiscardSelection()
		case drawing.SelectShapes:
			e.surface.Select(effect.ObjectIDs...)
		case drawing.DiscardSelection:
			e.surface.DiscardSelection()
		case drawing.SetDrawingMode:
			e.surface.SetDrawingMode(effect.Enabled)
		case drawing.ScheduleToolReset:
			e.scheduleResetLocked(effect.After)
		case drawing.Render:
			e.surface.RequestRender()
		}
	}
	return errors.Join(failures...)
}

func (e *Editor) scheduleResetLocked(after time.Duration) {
	e.stopResetLocked()
	if after <= 0 {
		e.activeTool = drawing.ToolSelect
		return
	}
	e.resetTimer = e.clock.AfterFunc(after, e.resetTool)
}

// resetTool runs when the settle delay expires. A tool picked again in the meantime cancels it.
func (e *Editor) resetTool() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetTimer = nil
	if e.machine.State().Tool().Sticky() {
		return
	}
	e.activeTool = drawing.ToolSelect
}

func (e *Editor) stopResetLocked() {
	if e.resetTimer != nil {
		e.resetTimer.Stop()
		e.resetTimer = nil
	}
}

func intentName(intent drawing.Intent) string {
	switch intent.(type) {
	case drawing.SelectTool:
		return "select_tool"
	case drawing.PointerDown:
		return "pointer_down"
	case drawing.PointerMove:
		return "pointer_move"
	case drawing.PointerUp:
		return "pointer_up"
	case drawing.ObjectModified:
		return "object_modified"
	case drawing.Delete:
		return "delete"
	case drawing.Escape:
		return "escape"
	default:
		return "unknown"
	}
}
