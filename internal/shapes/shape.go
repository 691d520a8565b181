// Package shapes defines the typed shape model shared by the canvas core and its mapping to the
// record format stored in the shared document.
package shapes

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/collab"
)

var (
	ErrUnknownKind     = errors.New("shapes: unknown kind")
	ErrMissingObjectID = errors.New("shapes: object id is required")
)

// Kind tags the geometry variant carried by a shape.
type Kind string

const (
	KindRectangle Kind = "rectangle"
	KindTriangle  Kind = "triangle"
	KindEllipse   Kind = "ellipse"
	KindLine      Kind = "line"
	KindText      Kind = "text"
	KindFreeform  Kind = "freeform"
	KindImage     Kind = "image"
)

// ParseKind accepts the canonical kind names and the aliases used by older clients.
func ParseKind(value string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "rectangle", "rect":
		return KindRectangle, nil
	case "triangle":
		return KindTriangle, nil
	case "ellipse", "circle":
		return KindEllipse, nil
	case "line":
		return KindLine, nil
	case "text", "i-text", "textbox":
		return KindText, nil
	case "freeform", "path":
		return KindFreeform, nil
	case "image":
		return KindImage, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, value)
	}
}

// DisplayName is the label shown for a kind in the layers list.
func (k Kind) DisplayName() string {
	switch k {
	case KindRectangle:
		return "Rectangle"
	case KindTriangle:
		return "Triangle"
	case KindEllipse:
		return "Circle"
	case KindLine:
		return "Line"
	case KindText:
		return "Text"
	case KindFreeform:
		return "Free Drawing"
	case KindImage:
		return "Image"
	default:
		return string(k)
	}
}

// Rect is an axis-aligned box in document space.
type Rect struct {
	Left   float64
	Top    float64
	Width  float64
	Height float64
}

// Contains reports whether point falls inside the box, edges included.
func (r Rect) Contains(point collab.Point) bool {
	return point.X >= r.Left && point.X <= r.Left+r.Width &&
		point.Y >= r.Top && point.Y <= r.Top+r.Height
}

// Geometry is implemented only by the variants declared in this package.
type Geometry interface {
	Kind() Kind
	// extent is the unscaled bounding box relative to the shape origin.
	extent() Rect
	clone() Geometry
}

type Rectangle struct {
	Width  float64
	Height float64
}

type Triangle struct {
	Width  float64
	Height float64
}

type Ellipse struct {
	Radius float64
}

// Line endpoints are relative to the shape origin.
type Line struct {
	X1 float64
	Y1 float64
	X2 float64
	Y2 float64
}

type Text struct {
	Text       string
	FontSize   float64
	FontFamily string
	FontWeight string
}

// Path holds freehand points relative to the shape origin.
type Path struct {
	Points []collab.Point
}

type Image struct {
	Src    string
	Width  float64
	Height float64
}

const textLineHeight = 1.16

func (Rectangle) Kind() Kind { return KindRectangle }
func (Triangle) Kind() Kind  { return KindTriangle }
func (Ellipse) Kind() Kind   { return KindEllipse }
func (Line) Kind() Kind      { return KindLine }
func (Text) Kind() Kind      { return KindText }
func (Path) Kind() Kind      { return KindFreeform }
func (Image) Kind() Kind     { return KindImage }

func (g Rectangle) extent() Rect { return boxExtent(g.Width, g.Height) }
func (g Triangle) extent() Rect  { return boxExtent(g.Width, g.Height) }
func (g Ellipse) extent() Rect   { return boxExtent(2*g.Radius, 2*g.Radius) }
func (g Image) extent() Rect     { return boxExtent(g.Width, g.Height) }

func (g Line) extent() Rect {
	return pointsExtent([]collab.Point{{X: g.X1, Y: g.Y1}, {X: g.X2, Y: g.Y2}})
}

// extent of text is an estimate; glyph metrics belong to the renderer.
func (g Text) extent() Rect {
	glyphs := float64(utf8.RuneCountInString(g.Text))
	return Rect{Width: glyphs * g.FontSize * 0.5, Height: g.FontSize * textLineHeight}
}

func (g Path) extent() Rect { return pointsExtent(g.Points) }

func (g Rectangle) clone() Geometry { return g }
func (g Triangle) clone() Geometry  { return g }
func (g Ellipse) clone() Geometry   { return g }
func (g Line) clone() Geometry      { return g }
func (g Text) clone() Geometry      { return g }
func (g Image) clone() Geometry     { return g }

func (g Path) clone() Geometry {
	if g.Points == nil {
		return Path{}
	}
	points := make([]collab.Point, len(g.Points))
	copy(points, g.Points)
	return Path{Points: points}
}

func boxExtent(width, height float64) Rect {
	return Rect{
		Left:   math.Min(0, width),
		Top:    math.Min(0, height),
		Width:  math.Abs(width),
		Height: math.Abs(height),
	}
}

func pointsExtent(points []collab.Point) Rect {
	if len(points) == 0 {
		return Rect{}
	}
	minX, minY := points[0].X, points[0].Y
	maxX, maxY := minX, minY
	for _, point := range points[1:] {
		minX = math.Min(minX, point.X)
		minY = math.Min(minY, point.Y)
		maxX = math.Max(maxX, point.X)
		maxY = math.Max(maxY, point.Y)
	}
	return Rect{Left: minX, Top: minY, Width: maxX - minX, Height: maxY - minY}
}

// Style fields are common to every kind.
type Style struct {
	Fill        string
	Stroke      string
	StrokeWidth float64
}

// Shape is one drawable entity. ObjectID is assigned at creation and never changes.
type Shape struct {
	ObjectID string
	Left     float64
	Top      float64
	ScaleX   float64
	ScaleY   float64
	Style    Style
	Geometry Geometry
}

// Kind returns the geometry variant tag, or an empty kind when no geometry is set.
func (s Shape) Kind() Kind {
	if s.Geometry == nil {
		return ""
	}
	return s.Geometry.Kind()
}

// Clone returns a deep copy.
func (s Shape) Clone() Shape {
	copied := s
	if s.Geometry != nil {
		copied.Geometry = s.Geometry.clone()
	}
	return copied
}

// Bounds is the rendered bounding box with scale applied.
func (s Shape) Bounds() Rect {
	if s.Geometry == nil {
		return Rect{Left: s.Left, Top: s.Top}
	}
	extent := s.Geometry.extent()
	return Rect{
		Left:   s.Left + extent.Left*s.ScaleX,
		Top:    s.Top + extent.Top*s.ScaleY,
		Width:  extent.Width * math.Abs(s.ScaleX),
		Height: extent.Height * math.Abs(s.ScaleY),
	}
}

// ScaledWidth is the rendered width.
func (s Shape) ScaledWidth() float64 { return s.Bounds().Width }

// ScaledHeight is the rendered height.
func (s Shape) ScaledHeight() float64 { return s.Bounds().Height }

// ScaleToWidth rescales uniformly so the rendered width equals value.
// It reports false, leaving the shape untouched, when the shape has no intrinsic width.
func (s *Shape) ScaleToWidth(value float64) bool {
	if s.Geometry == nil {
		return false
	}
	intrinsic := s.Geometry.extent().Width
	if intrinsic == 0 {
		return false
	}
	factor := value / intrinsic
	s.ScaleX, s.ScaleY = factor, factor
	return true
}

// ScaleToHeight rescales uniformly so the rendered height equals value.
func (s *Shape) ScaleToHeight(value float64) bool {
	if s.Geometry == nil {
		return false
	}
	intrinsic := s.Geometry.extent().Height
	if intrinsic == 0 {
		return false
	}
	factor := value / intrinsic
	s.ScaleX, s.ScaleY = factor, factor
	return true
}

// MoveBoundsTo translates the shape so that its bounding box starts at (left, top).
func (s *Shape) MoveBoundsTo(left, top float64) {
	bounds := s.Bounds()
	s.Left += left - bounds.Left
	s.Top += top - bounds.Top
}
