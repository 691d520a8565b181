package export

import (
	"bytes"
	"encoding/json"
	"image/png"
	"testing"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/collab"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/shapes"
)

func mustEntry(testContext *testing.T, kind shapes.Kind, objectID string, at collab.Point, fill string) collab.Entry {
	testContext.Helper()
	shape, err := shapes.NewDefault(kind, objectID, at)
	if err != nil {
		testContext.Fatalf("failed to build %s: %v", kind, err)
	}
	if fill != "" {
		shape.Style.Fill = fill
	}
	value, err := shapes.Marshal(shape)
	if err != nil {
		testContext.Fatalf("failed to marshal %s: %v", kind, err)
	}
	return collab.Entry{Key: objectID, Value: value}
}

func sampleDocument(testContext *testing.T) []collab.Entry {
	return []collab.Entry{
		mustEntry(testContext, shapes.KindRectangle, "rect", collab.Point{X: 10, Y: 10}, "#dc2626"),
		mustEntry(testContext, shapes.KindEllipse, "circle", collab.Point{X: 300, Y: 200}, ""),
		mustEntry(testContext, shapes.KindTriangle, "triangle", collab.Point{X: 600, Y: 50}, ""),
		mustEntry(testContext, shapes.KindLine, "line", collab.Point{X: 50, Y: 400}, ""),
		mustEntry(testContext, shapes.KindText, "text", collab.Point{X: 700, Y: 500}, ""),
		mustEntry(testContext, shapes.KindFreeform, "path", collab.Point{X: 900, Y: 100}, ""),
		{Key: "broken", Value: json.RawMessage(`{"type":"hexagon"}`)},
	}
}

func TestShapesSkipsMalformedRecords(testContext *testing.T) {
	decoded := Shapes(sampleDocument(testContext), nil)
	if len(decoded) != 6 {
		testContext.Fatalf("expected six decodable shapes, got %d", len(decoded))
	}
	if decoded[0].ObjectID != "rect" || decoded[5].ObjectID != "path" {
		testContext.Fatalf("expected document order to be kept, got %s..%s", decoded[0].ObjectID, decoded[5].ObjectID)
	}
}

func TestWritePDFProducesDocument(testContext *testing.T) {
	var buffer bytes.Buffer
	if err := WritePDF(&buffer, sampleDocument(testContext), Options{Width: 1280, Height: 720}); err != nil {
		testContext.Fatalf("write pdf: %v", err)
	}
	if !bytes.HasPrefix(buffer.Bytes(), []byte("%PDF-")) {
		testContext.Fatalf("expected a pdf header, got %q", buffer.Bytes()[:min(8, buffer.Len())])
	}
}

func TestWritePNGPaintsShapes(testContext *testing.T) {
	var buffer bytes.Buffer
	if err := WritePNG(&buffer, sampleDocument(testContext), Options{Width: 640, Height: 480}); err != nil {
		testContext.Fatalf("write png: %v", err)
	}
	decoded, err := png.Decode(&buffer)
	if err != nil {
		testContext.Fatalf("decode png: %v", err)
	}
	if bounds := decoded.Bounds(); bounds.Dx() != 640 || bounds.Dy() != 480 {
		testContext.Fatalf("expected 640x480, got %v", bounds)
	}

	red, green, blue, _ := decoded.At(60, 60).RGBA()
	if red>>8 < 0xc0 || green>>8 > 0x60 || blue>>8 > 0x60 {
		testContext.Fatalf("expected the rectangle fill inside its bounds, got %d,%d,%d", red>>8, green>>8, blue>>8)
	}
	red, green, blue, _ = decoded.At(5, 470).RGBA()
	if red>>8 != 0xff || green>>8 != 0xff || blue>>8 != 0xff {
		testContext.Fatalf("expected a white background, got %d,%d,%d", red>>8, green>>8, blue>>8)
	}
}

func TestExportRejectsNegativeSize(testContext *testing.T) {
	var buffer bytes.Buffer
	if err := WritePNG(&buffer, nil, Options{Width: -1}); err == nil {
		testContext.Fatalf("expected an error for a negative width")
	}
	if err := WritePDF(&buffer, nil, Options{Height: -5}); err == nil {
		testContext.Fatalf("expected an error for a negative height")
	}
}

func TestParseColor(testContext *testing.T) {
	if color, ok := parseColor("#abc"); !ok || color != (rgb{r: 0xaa, g: 0xbb, b: 0xcc}) {
		testContext.Fatalf("unexpected short form parse %+v", color)
	}
	if _, ok := parseColor("transparent"); ok {
		testContext.Fatalf("expected named colors to be treated as no paint")
	}
}
