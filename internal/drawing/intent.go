package drawing

import (
	"time"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/collab"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/shapes"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/surface"
)

// Tool is the active toolbar entry.
type Tool string

const (
	ToolSelect    Tool = "select"
	ToolRectangle Tool = Tool(shapes.KindRectangle)
	ToolTriangle  Tool = Tool(shapes.KindTriangle)
	ToolEllipse   Tool = Tool(shapes.KindEllipse)
	ToolLine      Tool = Tool(shapes.KindLine)
	ToolText      Tool = Tool(shapes.KindText)
	ToolFreeform  Tool = Tool(shapes.KindFreeform)
)

// Kind reports the shape kind a drawing tool produces.
func (t Tool) Kind() (shapes.Kind, bool) {
	switch t {
	case ToolRectangle, ToolTriangle, ToolEllipse, ToolLine, ToolText, ToolFreeform:
		return shapes.Kind(t), true
	default:
		return "", false
	}
}

// Sticky tools stay active after a gesture completes.
func (t Tool) Sticky() bool {
	return t == ToolFreeform
}

// Intent is one interpreted UI event.
type Intent interface {
	intent()
}

type SelectTool struct {
	Tool Tool
}

// PointerDown carries the hit test at the pointer position, if any.
type PointerDown struct {
	At     collab.Point
	Target *surface.Target
}

type PointerMove struct {
	At      collab.Point
	Surface surface.Size
}

type PointerUp struct {
	At collab.Point
}

// ObjectModified reports a transform finished by the surface itself (handles, rotation).
type ObjectModified struct {
	Shapes []shapes.Shape
}

type Delete struct{}

type Escape struct{}

func (SelectTool) intent()     {}
func (PointerDown) intent()    {}
func (PointerMove) intent()    {}
func (PointerUp) intent()      {}
func (ObjectModified) intent() {}
func (Delete) intent()         {}
func (Escape) intent()         {}

// Effect is a side effect requested by a transition; the editor performs it.
type Effect interface {
	effect()
}

// Local places a shape on the surface without writing it to the shared document.
type Local struct {
	Shape shapes.Shape
}

// Sync writes the full shape into the shared document and the surface.
type Sync struct {
	Shape shapes.Shape
}

// RemoveSelection deletes every selected shape from the surface and the shared document.
type RemoveSelection struct{}

type SelectShapes struct {
	ObjectIDs []string
}

type DiscardSelection struct{}

type SetDrawingMode struct {
	Enabled bool
}

// ScheduleToolReset asks for the toolbar to fall back to the select tool after a delay.
type ScheduleToolReset struct {
	After time.Duration
}

type Render struct{}

func (Local) effect()             {}
func (Sync) effect()              {}
func (RemoveSelection) effect()   {}
func (SelectShapes) effect()      {}
func (DiscardSelection) effect()  {}
func (SetDrawingMode) effect()    {}
func (ScheduleToolReset) effect() {}
func (Render) effect()            {}
