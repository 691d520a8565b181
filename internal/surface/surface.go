// Package surface describes the rendering surface the canvas core drives and provides a headless
// scene that keeps the object graph, selection and hit testing in memory.
package surface

import (
	"sync"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/collab"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/shapes"
)

// Size is the current width and height of the drawing area.
type Size struct {
	Width  float64
	Height float64
}

// Target is the result of a hit test. Group targets refer to the current multi-selection.
type Target struct {
	Shapes []shapes.Shape
	Group  bool
}

// Surface is the local render mirror. Every method is called from the owning editor only.
type Surface interface {
	Upsert(shape shapes.Shape)
	Remove(objectID string) bool
	Clear()
	// Replace swaps in objects as the whole graph in one step. Selected ids that survive stay
	// selected.
	Replace(objects []shapes.Shape)
	Objects() []shapes.Shape
	Object(objectID string) (shapes.Shape, bool)
	Selection() []shapes.Shape
	Select(objectIDs ...string)
	DiscardSelection()
	FindTarget(point collab.Point) (Target, bool)
	Pointer(client collab.Point) collab.Point
	Size() Size
	SetDrawingMode(enabled bool)
	RequestRender()
}

// Scene is an in-memory Surface. Objects keep insertion order; replacing an object keeps its slot.
type Scene struct {
	mu          sync.RWMutex
	order       []string
	objects     map[string]shapes.Shape
	selection   []string
	origin      collab.Point
	size        Size
	drawingMode bool
	renders     int
}

// NewScene constructs an empty scene of the given size with its origin at (0, 0).
func NewScene(size Size) *Scene {
	return &Scene{
		objects: make(map[string]shapes.Shape),
		size:    size,
	}
}

func (s *Scene) Upsert(shape shapes.Shape) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[shape.ObjectID]; !exists {
		s.order = append(s.order, shape.ObjectID)
	}
	s.objects[shape.ObjectID] = shape.Clone()
}

func (s *Scene) Remove(objectID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[objectID]; !exists {
		return false
	}
	delete(s.objects, objectID)
	s.order = removeID(s.order, objectID)
	s.selection = removeID(s.selection, objectID)
	return true
}

// Clear drops every object. The selection is cleared with them.
func (s *Scene) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.objects = make(map[string]shapes.Shape)
	s.selection = nil
}

func (s *Scene) Replace(objects []shapes.Shape) {
	order := make([]string, 0, len(objects))
	graph := make(map[string]shapes.Shape, len(objects))
	for _, shape := range objects {
		if _, exists := graph[shape.ObjectID]; !exists {
			order = append(order, shape.ObjectID)
		}
		graph[shape.ObjectID] = shape.Clone()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	selection := make([]string, 0, len(s.selection))
	for _, objectID := range s.selection {
		if _, ok := graph[objectID]; ok {
			selection = append(selection, objectID)
		}
	}
	s.order = order
	s.objects = graph
	s.selection = selection
}

func (s *Scene) Objects() []shapes.Shape {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]shapes.Shape, 0, len(s.order))
	for _, objectID := range s.order {
		result = append(result, s.objects[objectID].Clone())
	}
	return result
}

func (s *Scene) Object(objectID string) (shapes.Shape, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	shape, ok := s.objects[objectID]
	if !ok {
		return shapes.Shape{}, false
	}
	return shape.Clone(), true
}

func (s *Scene) Selection() []shapes.Shape {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]shapes.Shape, 0, len(s.selection))
	for _, objectID := range s.selection {
		if shape, ok := s.objects[objectID]; ok {
			result = append(result, shape.Clone())
		}
	}
	return result
}

// Select replaces the selection. Unknown ids are ignored.
func (s *Scene) Select(objectIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	selection := make([]string, 0, len(objectIDs))
	for _, objectID := range objectIDs {
		if _, ok := s.objects[objectID]; ok {
			selection = append(selection, objectID)
		}
	}
	s.selection = selection
}

func (s *Scene) DiscardSelection() {
	s.mu.Lock()
	s.selection = nil
	s.mu.Unlock()
}

// FindTarget reports the multi-selection when point lies inside its bounds, otherwise the
// topmost object under point.
func (s *Scene) FindTarget(point collab.Point) (Target, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.selection) > 1 {
		group := make([]shapes.Shape, 0, len(s.selection))
		for _, objectID := range s.selection {
			group = append(group, s.objects[objectID].Clone())
		}
		if UnionBounds(group).Contains(point) {
			return Target{Shapes: group, Group: true}, true
		}
	}
	for index := len(s.order) - 1; index >= 0; index-- {
		shape := s.objects[s.order[index]]
		if shape.Bounds().Contains(point) {
			return Target{Shapes: []shapes.Shape{shape.Clone()}}, true
		}
	}
	return Target{}, false
}

// Pointer maps a client coordinate into document space.
func (s *Scene) Pointer(client collab.Point) collab.Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return collab.Point{X: client.X - s.origin.X, Y: client.Y - s.origin.Y}
}

// SetOrigin moves the surface origin in client space.
func (s *Scene) SetOrigin(origin collab.Point) {
	s.mu.Lock()
	s.origin = origin
	s.mu.Unlock()
}

func (s *Scene) Size() Size {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Resize follows the host element's dimensions.
func (s *Scene) Resize(size Size) {
	s.mu.Lock()
	s.size = size
	s.renders++
	s.mu.Unlock()
}

func (s *Scene) SetDrawingMode(enabled bool) {
	s.mu.Lock()
	s.drawingMode = enabled
	s.mu.Unlock()
}

// DrawingMode reports whether native ink capture is active.
func (s *Scene) DrawingMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.drawingMode
}

func (s *Scene) RequestRender() {
	s.mu.Lock()
	s.renders++
	s.mu.Unlock()
}

// Renders counts render requests.
func (s *Scene) Renders() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.renders
}

// UnionBounds is the smallest box covering every shape.
func UnionBounds(group []shapes.Shape) shapes.Rect {
	if len(group) == 0 {
		return shapes.Rect{}
	}
	first := group[0].Bounds()
	left, top := first.Left, first.Top
	right, bottom := first.Left+first.Width, first.Top+first.Height
	for _, shape := range group[1:] {
		bounds := shape.Bounds()
		left = min(left, bounds.Left)
		top = min(top, bounds.Top)
		right = max(right, bounds.Left+bounds.Width)
		bottom = max(bottom, bounds.Top+bounds.Height)
	}
	return shapes.Rect{Left: left, Top: top, Width: right - left, Height: bottom - top}
}

func removeID(ids []string, target string) []string {
	result := ids[:0]
	for _, objectID := range ids {
		if objectID != target {
			result = append(result, objectID)
		}
	}
	return result
}
