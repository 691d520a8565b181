package shapes

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/collab"
)

const (
	DefaultFill            = "#aabbcc"
	DefaultBoxSize         = 100.0
	DefaultRadius          = 100.0
	DefaultLineLength      = 100.0
	DefaultLineStrokeWidth = 2.0
	DefaultText            = "Tap to Type"
	DefaultFontSize        = 36.0
	DefaultFontFamily      = "Helvetica"
	DefaultFontWeight      = "400"
	DefaultBrushColor      = "#000000"
	DefaultBrushWidth      = 5.0
	ImportedImageSize      = 200.0
)

// NewDefault builds a shape of the given kind at point with the default geometry and style
// applied when a drawing gesture starts.
func NewDefault(kind Kind, objectID string, at collab.Point) (Shape, error) {
	if objectID == "" {
		return Shape{}, ErrMissingObjectID
	}
	shape := Shape{
		ObjectID: objectID,
		Left:     at.X,
		Top:      at.Y,
		ScaleX:   1,
		ScaleY:   1,
	}
	switch kind {
	case KindRectangle:
		shape.Geometry = Rectangle{Width: DefaultBoxSize, Height: DefaultBoxSize}
		shape.Style.Fill = DefaultFill
	case KindTriangle:
		shape.Geometry = Triangle{Width: DefaultBoxSize, Height: DefaultBoxSize}
		shape.Style.Fill = DefaultFill
	case KindEllipse:
		shape.Geometry = Ellipse{Radius: DefaultRadius}
		shape.Style.Fill = DefaultFill
	case KindLine:
		shape.Geometry = Line{X2: DefaultLineLength, Y2: DefaultLineLength}
		shape.Style.Stroke = DefaultFill
		shape.Style.StrokeWidth = DefaultLineStrokeWidth
	case KindText:
		shape.Geometry = Text{
			Text:       DefaultText,
			FontSize:   DefaultFontSize,
			FontFamily: DefaultFontFamily,
			FontWeight: DefaultFontWeight,
		}
		shape.Style.Fill = DefaultFill
	case KindFreeform:
		shape.Geometry = Path{Points: []collab.Point{{X: 0, Y: 0}}}
		shape.Style.Stroke = DefaultBrushColor
		shape.Style.StrokeWidth = DefaultBrushWidth
	default:
		return Shape{}, fmt.Errorf("%w: %q cannot be drawn", ErrUnknownKind, kind)
	}
	return shape, nil
}

// NewImportedImage builds an image shape scaled to the import size.
func NewImportedImage(objectID, src string, naturalWidth, naturalHeight float64, at collab.Point) (Shape, error) {
	if objectID == "" {
		return Shape{}, ErrMissingObjectID
	}
	shape := Shape{
		ObjectID: objectID,
		Left:     at.X,
		Top:      at.Y,
		ScaleX:   1,
		ScaleY:   1,
		Geometry: Image{Src: src, Width: naturalWidth, Height: naturalHeight},
	}
	shape.ScaleToWidth(ImportedImageSize)
	shape.ScaleToHeight(ImportedImageSize)
	return shape, nil
}
