// Package export renders a document snapshot to PDF or PNG.
package export

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/collab"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/shapes"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/shapesync"
	"go.uber.org/zap"
)

const (
	DefaultWidth  = 1280
	DefaultHeight = 720
)

var errInvalidSize = errors.New("export: width and height must be positive")

// Options sizes the output page in document pixels.
type Options struct {
	Width  int
	Height int
	Logger *zap.Logger
}

func (o Options) normalized() (Options, error) {
	if o.Width == 0 {
		o.Width = DefaultWidth
	}
	if o.Height == 0 {
		o.Height = DefaultHeight
	}
	if o.Width < 0 || o.Height < 0 {
		return o, errInvalidSize
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o, nil
}

// Shapes decodes the snapshot in document order, skipping malformed records.
func Shapes(entries []collab.Entry, logger *zap.Logger) []shapes.Shape {
	return shapesync.Decode(entries, logger)
}

type rgb struct {
	r, g, b int
}

// parseColor understands #rgb and #rrggbb. Anything else, including "transparent", is no paint.
func parseColor(value string) (rgb, bool) {
	hex := strings.TrimPrefix(strings.TrimSpace(value), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return rgb{}, false
	}
	parsed, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return rgb{}, false
	}
	return rgb{r: int(parsed >> 16 & 0xff), g: int(parsed >> 8 & 0xff), b: int(parsed & 0xff)}, true
}

// canvas is the drawing surface both output formats implement.
type canvas interface {
	rect(bounds shapes.Rect, style shapes.Style)
	polygon(points []collab.Point, style shapes.Style)
	ellipse(center collab.Point, rx, ry float64, style shapes.Style)
	polyline(points []collab.Point, style shapes.Style)
	text(value string, at collab.Point, size float64, bold bool, style shapes.Style)
}

// draw paints shapes in order so later shapes cover earlier ones.
func draw(target canvas, items []shapes.Shape) {
	for _, shape := range items {
		bounds := shape.Bounds()
		switch geometry := shape.Geometry.(type) {
		case shapes.Rectangle:
			target.rect(bounds, shape.Style)
		case shapes.Triangle:
			target.polygon([]collab.Point{
				{X: bounds.Left + bounds.Width/2, Y: bounds.Top},
				{X: bounds.Left + bounds.Width, Y: bounds.Top + bounds.Height},
				{X: bounds.Left, Y: bounds.Top + bounds.Height},
			}, shape.Style)
		case shapes.Ellipse:
			target.ellipse(collab.Point{X: bounds.Left + bounds.Width/2, Y: bounds.Top + bounds.Height/2},
				bounds.Width/2, bounds.Height/2, shape.Style)
		case shapes.Line:
			target.polyline([]collab.Point{
				place(shape, collab.Point{X: geometry.X1, Y: geometry.Y1}),
				place(shape, collab.Point{X: geometry.X2, Y: geometry.Y2}),
			}, lineStyle(shape.Style))
		case shapes.Path:
			points := make([]collab.Point, 0, len(geometry.Points))
			for _, point := range geometry.Points {
				points = append(points, place(shape, point))
			}
			target.polyline(points, lineStyle(shape.Style))
		case shapes.Text:
			size := geometry.FontSize * math.Abs(shape.ScaleY)
			bold, _ := strconv.Atoi(geometry.FontWeight)
			target.text(geometry.Text, collab.Point{X: bounds.Left, Y: bounds.Top + size}, size,
				bold >= 600 || geometry.FontWeight == "bold", shape.Style)
		case shapes.Image:
			// image sources are not fetched; the frame keeps the layout readable
			target.rect(bounds, shapes.Style{Stroke: "#9ca3af", StrokeWidth: 1})
		}
	}
}

func place(shape shapes.Shape, point collab.Point) collab.Point {
	return collab.Point{X: shape.Left + point.X*shape.ScaleX, Y: shape.Top + point.Y*shape.ScaleY}
}

func lineStyle(style shapes.Style) shapes.Style {
	if style.StrokeWidth <= 0 {
		style.StrokeWidth = 1
	}
	style.Fill = ""
	return style
}
