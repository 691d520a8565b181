package shapes

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/collab"
)

// ErrMalformedRecord indicates a stored value that does not describe a valid shape.
var ErrMalformedRecord = errors.New("shapes: malformed record")

// Record is the serialized form of a shape as stored under its objectId in the shared document.
// Geometry fields are optional pointers so that zero values survive a round trip.
type Record struct {
	ObjectID    string         `json:"objectId"`
	Type        string         `json:"type"`
	Left        float64        `json:"left"`
	Top         float64        `json:"top"`
	ScaleX      *float64       `json:"scaleX,omitempty"`
	ScaleY      *float64       `json:"scaleY,omitempty"`
	Fill        string         `json:"fill,omitempty"`
	Stroke      string         `json:"stroke,omitempty"`
	StrokeWidth float64        `json:"strokeWidth,omitempty"`
	Width       *float64       `json:"width,omitempty"`
	Height      *float64       `json:"height,omitempty"`
	Radius      *float64       `json:"radius,omitempty"`
	X1          *float64       `json:"x1,omitempty"`
	Y1          *float64       `json:"y1,omitempty"`
	X2          *float64       `json:"x2,omitempty"`
	Y2          *float64       `json:"y2,omitempty"`
	Text        *string        `json:"text,omitempty"`
	FontSize    *float64       `json:"fontSize,omitempty"`
	FontFamily  string         `json:"fontFamily,omitempty"`
	FontWeight  string         `json:"fontWeight,omitempty"`
	Points      []collab.Point `json:"points,omitempty"`
	Src         *string        `json:"src,omitempty"`
}

// ToRecord maps a shape onto its wire record.
func ToRecord(shape Shape) Record {
	record := Record{
		ObjectID:    shape.ObjectID,
		Type:        string(shape.Kind()),
		Left:        shape.Left,
		Top:         shape.Top,
		ScaleX:      float64Ptr(shape.ScaleX),
		ScaleY:      float64Ptr(shape.ScaleY),
		Fill:        shape.Style.Fill,
		Stroke:      shape.Style.Stroke,
		StrokeWidth: shape.Style.StrokeWidth,
	}
	switch geometry := shape.Geometry.(type) {
	case Rectangle:
		record.Width, record.Height = float64Ptr(geometry.Width), float64Ptr(geometry.Height)
	case Triangle:
		record.Width, record.Height = float64Ptr(geometry.Width), float64Ptr(geometry.Height)
	case Ellipse:
		record.Radius = float64Ptr(geometry.Radius)
	case Line:
		record.X1, record.Y1 = float64Ptr(geometry.X1), float64Ptr(geometry.Y1)
		record.X2, record.Y2 = float64Ptr(geometry.X2), float64Ptr(geometry.Y2)
	case Text:
		text := geometry.Text
		record.Text = &text
		record.FontSize = float64Ptr(geometry.FontSize)
		record.FontFamily = geometry.FontFamily
		record.FontWeight = geometry.FontWeight
	case Path:
		if len(geometry.Points) > 0 {
			record.Points = make([]collab.Point, len(geometry.Points))
			copy(record.Points, geometry.Points)
		}
	case Image:
		src := geometry.Src
		record.Src = &src
		record.Width, record.Height = float64Ptr(geometry.Width), float64Ptr(geometry.Height)
	}
	return record
}

// FromRecord maps a wire record back onto a shape. Missing scale factors default to 1.
func FromRecord(record Record) (Shape, error) {
	if record.ObjectID == "" {
		return Shape{}, fmt.Errorf("%w: %w", ErrMalformedRecord, ErrMissingObjectID)
	}
	kind, err := ParseKind(record.Type)
	if err != nil {
		return Shape{}, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}

	geometry, err := geometryFromRecord(kind, record)
	if err != nil {
		return Shape{}, err
	}

	return Shape{
		ObjectID: record.ObjectID,
		Left:     record.Left,
		Top:      record.Top,
		ScaleX:   valueOr(record.ScaleX, 1),
		ScaleY:   valueOr(record.ScaleY, 1),
		Style: Style{
			Fill:        record.Fill,
			Stroke:      record.Stroke,
			StrokeWidth: record.StrokeWidth,
		},
		Geometry: geometry,
	}, nil
}

func geometryFromRecord(kind Kind, record Record) (Geometry, error) {
	switch kind {
	case KindRectangle, KindTriangle:
		if record.Width == nil || record.Height == nil {
			return nil, fmt.Errorf("%w: %s requires width and height", ErrMalformedRecord, kind)
		}
		if kind == KindTriangle {
			return Triangle{Width: *record.Width, Height: *record.Height}, nil
		}
		return Rectangle{Width: *record.Width, Height: *record.Height}, nil
	case KindEllipse:
		if record.Radius == nil {
			return nil, fmt.Errorf("%w: ellipse requires radius", ErrMalformedRecord)
		}
		return Ellipse{Radius: *record.Radius}, nil
	case KindLine:
		if record.X1 == nil || record.Y1 == nil || record.X2 == nil || record.Y2 == nil {
			return nil, fmt.Errorf("%w: line requires both endpoints", ErrMalformedRecord)
		}
		return Line{X1: *record.X1, Y1: *record.Y1, X2: *record.X2, Y2: *record.Y2}, nil
	case KindText:
		if record.Text == nil {
			return nil, fmt.Errorf("%w: text requires text", ErrMalformedRecord)
		}
		return Text{
			Text:       *record.Text,
			FontSize:   valueOr(record.FontSize, DefaultFontSize),
			FontFamily: record.FontFamily,
			FontWeight: record.FontWeight,
		}, nil
	case KindFreeform:
		var points []collab.Point
		if len(record.Points) > 0 {
			points = make([]collab.Point, len(record.Points))
			copy(points, record.Points)
		}
		return Path{Points: points}, nil
	case KindImage:
		if record.Src == nil || record.Width == nil || record.Height == nil {
			return nil, fmt.Errorf("%w: image requires src, width and height", ErrMalformedRecord)
		}
		return Image{Src: *record.Src, Width: *record.Width, Height: *record.Height}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}

// Marshal serializes the full shape. The same shape always yields the same bytes.
func Marshal(shape Shape) (json.RawMessage, error) {
	if shape.ObjectID == "" {
		return nil, ErrMissingObjectID
	}
	if shape.Geometry == nil {
		return nil, fmt.Errorf("%w: missing geometry", ErrUnknownKind)
	}
	return json.Marshal(ToRecord(shape))
}

// Unmarshal parses a stored value into a shape.
func Unmarshal(value json.RawMessage) (Shape, error) {
	var record Record
	if err := json.Unmarshal(value, &record); err != nil {
		return Shape{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return FromRecord(record)
}

func float64Ptr(value float64) *float64 {
	return &value
}

func valueOr(value *float64, fallback float64) float64 {
	if value == nil {
		return fallback
	}
	return *value
}
