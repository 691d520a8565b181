// Package drawing interprets pointer and keyboard intents into shape lifecycle effects.
package drawing

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/collab"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/shapes"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/surface"
)

// ToolSettleDelay is how long a finished non-sticky gesture keeps its tool highlighted.
const ToolSettleDelay = 700 * time.Millisecond

var errMissingIDProvider = errors.New("drawing: id provider is required")

// State is one of Idle, PlacingTool, Drawing, DraggingExisting or FreehandCapture.
type State interface {
	// Tool is the tool the state was entered with.
	Tool() Tool
	state()
}

// Idle is the neutral select tool with no gesture in progress.
type Idle struct{}

type PlacingTool struct {
	Active Tool
}

// Drawing holds the shape being sized by the current gesture.
type Drawing struct {
	Active Tool
	Shape  shapes.Shape
}

// DraggingExisting moves Shapes with the pointer. Grab is the pointer offset from the shapes'
// bounding box origin at the time of the press.
type DraggingExisting struct {
	Active Tool
	Shapes []shapes.Shape
	Grab   collab.Point
	Group  bool
	Moved  bool
}

// FreehandCapture collects ink points in document space.
type FreehandCapture struct {
	Points []collab.Point
}

func (Idle) Tool() Tool               { return ToolSelect }
func (s PlacingTool) Tool() Tool      { return s.Active }
func (s Drawing) Tool() Tool          { return s.Active }
func (s DraggingExisting) Tool() Tool { return s.Active }
func (FreehandCapture) Tool() Tool    { return ToolFreeform }

func (Idle) state()             {}
func (PlacingTool) state()      {}
func (Drawing) state()          {}
func (DraggingExisting) state() {}
func (FreehandCapture) state()  {}

// Transition computes the next state and the effects for intent. It does not mutate its inputs.
// ids is consulted only when a gesture creates a shape.
func Transition(current State, intent Intent, ids shapes.IDProvider) (State, []Effect, error) {
	if current == nil {
		current = Idle{}
	}
	switch event := intent.(type) {
	case SelectTool:
		effects := finishGesture(current)
		effects = append(effects, SetDrawingMode{Enabled: event.Tool == ToolFreeform})
		return restingState(event.Tool), effects, nil
	case PointerDown:
		return pointerDown(current, event, ids)
	case PointerMove:
		next := pointerMove(current, event)
		return next, movementEffects(next), nil
	case PointerUp:
		return pointerUp(current, ids)
	case ObjectModified:
		effects := make([]Effect, 0, len(event.Shapes))
		for _, shape := range event.Shapes {
			effects = append(effects, Sync{Shape: shape.Clone()})
		}
		return current, effects, nil
	case Delete:
		return Idle{}, []Effect{
			RemoveSelection{},
			SetDrawingMode{Enabled: false},
			ScheduleToolReset{},
			Render{},
		}, nil
	case Escape:
		effects := finishGesture(current)
		effects = append(effects,
			SetDrawingMode{Enabled: false},
			DiscardSelection{},
			ScheduleToolReset{},
			Render{},
		)
		return Idle{}, effects, nil
	default:
		return current, nil, nil
	}
}

func restingState(tool Tool) State {
	if _, ok := tool.Kind(); !ok {
		return Idle{}
	}
	return PlacingTool{Active: tool}
}

// finishGesture commits whatever the interrupted gesture already produced.
func finishGesture(current State) []Effect {
	switch state := current.(type) {
	case Drawing:
		return []Effect{Sync{Shape: state.Shape.Clone()}}
	case DraggingExisting:
		if state.Group && state.Moved {
			return syncAll(state.Shapes)
		}
	}
	return nil
}

func pointerDown(current State, event PointerDown, ids shapes.IDProvider) (State, []Effect, error) {
	switch state := current.(type) {
	case Idle:
		if event.Target == nil || len(event.Target.Shapes) == 0 {
			return state, []Effect{DiscardSelection{}, Render{}}, nil
		}
		return beginDrag(ToolSelect, event)
	case PlacingTool:
		kind, _ := state.Active.Kind()
		if kind == shapes.KindFreeform {
			return FreehandCapture{Points: []collab.Point{event.At}}, nil, nil
		}
		if target := event.Target; target != nil && len(target.Shapes) > 0 {
			if target.Group || target.Shapes[0].Kind() == kind {
				return beginDrag(state.Active, event)
			}
		}
		if ids == nil {
			return current, nil, errMissingIDProvider
		}
		objectID, err := ids.NewID()
		if err != nil {
			return current, nil, err
		}
		shape, err := shapes.NewDefault(kind, objectID, event.At)
		if err != nil {
			return current, nil, err
		}
		return Drawing{Active: state.Active, Shape: shape}, []Effect{
			DiscardSelection{},
			Local{Shape: shape.Clone()},
			Render{},
		}, nil
	default:
		return current, nil, nil
	}
}

func beginDrag(active Tool, event PointerDown) (State, []Effect, error) {
	grabbed := make([]shapes.Shape, len(event.Target.Shapes))
	objectIDs := make([]string, len(event.Target.Shapes))
	for index, shape := range event.Target.Shapes {
		grabbed[index] = shape.Clone()
		objectIDs[index] = shape.ObjectID
	}
	bounds := surface.UnionBounds(grabbed)
	next := DraggingExisting{
		Active: active,
		Shapes: grabbed,
		Grab:   collab.Point{X: event.At.X - bounds.Left, Y: event.At.Y - bounds.Top},
		Group:  event.Target.Group,
	}
	return next, []Effect{SelectShapes{ObjectIDs: objectIDs}, Render{}}, nil
}

func pointerMove(current State, event PointerMove) State {
	switch state := current.(type) {
	case Drawing:
		return Drawing{Active: state.Active, Shape: resize(state.Shape, event.At)}
	case DraggingExisting:
		return drag(state, event.At, event.Surface)
	case FreehandCapture:
		points := make([]collab.Point, len(state.Points), len(state.Points)+1)
		copy(points, state.Points)
		return FreehandCapture{Points: append(points, event.At)}
	default:
		return current
	}
}

func movementEffects(next State) []Effect {
	switch next := next.(type) {
	case Drawing:
		return []Effect{Sync{Shape: next.Shape.Clone()}, Render{}}
	case DraggingExisting:
		effects := make([]Effect, 0, len(next.Shapes)+1)
		for _, shape := range next.Shapes {
			if next.Group {
				effects = append(effects, Local{Shape: shape.Clone()})
				continue
			}
			effects = append(effects, Sync{Shape: shape.Clone()})
		}
		return append(effects, Render{})
	default:
		return nil
	}
}

func pointerUp(current State, ids shapes.IDProvider) (State, []Effect, error) {
	switch state := current.(type) {
	case Drawing:
		return Idle{}, []Effect{
			Sync{Shape: state.Shape.Clone()},
			ScheduleToolReset{After: ToolSettleDelay},
			Render{},
		}, nil
	case DraggingExisting:
		var effects []Effect
		if state.Group && state.Moved {
			effects = syncAll(state.Shapes)
		}
		if state.Active == ToolSelect {
			return Idle{}, effects, nil
		}
		if state.Active.Sticky() {
			return PlacingTool{Active: state.Active}, effects, nil
		}
		return Idle{}, append(effects, ScheduleToolReset{After: ToolSettleDelay}), nil
	case FreehandCapture:
		if ids == nil {
			return current, nil, errMissingIDProvider
		}
		objectID, err := ids.NewID()
		if err != nil {
			return current, nil, err
		}
		shape := freehandShape(objectID, state.Points)
		return PlacingTool{Active: ToolFreeform}, []Effect{Sync{Shape: shape}, Render{}}, nil
	default:
		return current, nil, nil
	}
}

func syncAll(group []shapes.Shape) []Effect {
	effects := make([]Effect, 0, len(group))
	for _, shape := range group {
		effects = append(effects, Sync{Shape: shape.Clone()})
	}
	return effects
}

// resize applies the pointer position to the in-progress shape according to its kind.
func resize(shape shapes.Shape, at collab.Point) shapes.Shape {
	next := shape.Clone()
	dx, dy := at.X-shape.Left, at.Y-shape.Top
	switch geometry := next.Geometry.(type) {
	case shapes.Rectangle:
		geometry.Width, geometry.Height = dx, dy
		next.Geometry = geometry
	case shapes.Triangle:
		geometry.Width, geometry.Height = dx, dy
		next.Geometry = geometry
	case shapes.Ellipse:
		geometry.Radius = abs(dx) / 2
		next.Geometry = geometry
	case shapes.Line:
		geometry.X2, geometry.Y2 = dx, dy
		next.Geometry = geometry
	}
	return next
}

// drag moves the grabbed shapes so the group's bounding box follows the pointer while staying
// inside the surface.
func drag(state DraggingExisting, at collab.Point, size surface.Size) DraggingExisting {
	bounds := surface.UnionBounds(state.Shapes)
	left := clamp(at.X-state.Grab.X, size.Width-bounds.Width)
	top := clamp(at.Y-state.Grab.Y, size.Height-bounds.Height)
	dx, dy := left-bounds.Left, top-bounds.Top

	moved := make([]shapes.Shape, len(state.Shapes))
	for index, shape := range state.Shapes {
		next := shape.Clone()
		next.Left += dx
		next.Top += dy
		moved[index] = next
	}
	return DraggingExisting{
		Active: state.Active,
		Shapes: moved,
		Grab:   state.Grab,
		Group:  state.Group,
		Moved:  true,
	}
}

func freehandShape(objectID string, points []collab.Point) shapes.Shape {
	origin := collab.Point{}
	if len(points) > 0 {
		origin = points[0]
		for _, point := range points[1:] {
			origin.X = min(origin.X, point.X)
			origin.Y = min(origin.Y, point.Y)
		}
	}
	relative := make([]collab.Point, len(points))
	for index, point := range points {
		relative[index] = collab.Point{X: point.X - origin.X, Y: point.Y - origin.Y}
	}
	return shapes.Shape{
		ObjectID: objectID,
		Left:     origin.X,
		Top:      origin.Y,
		ScaleX:   1,
		ScaleY:   1,
		Style: shapes.Style{
			Stroke:      shapes.DefaultBrushColor,
			StrokeWidth: shapes.DefaultBrushWidth,
		},
		Geometry: shapes.Path{Points: relative},
	}
}

// clamp keeps value within [0, upper]; a negative upper bound pins the value to 0.
func clamp(value, upper float64) float64 {
	return max(0, min(value, upper))
}

func abs(value float64) float64 {
	if value < 0 {
		return -value
	}
	return value
}
