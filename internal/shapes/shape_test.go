package shapes

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/collab"
)

type sequenceIDProvider struct {
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("id-%d", p.next), nil
}

func mustDefault(testContext *testing.T, kind Kind, objectID string, at collab.Point) Shape {
	testContext.Helper()
	shape, err := NewDefault(kind, objectID, at)
	if err != nil {
		testContext.Fatalf("unexpected default shape error: %v", err)
	}
	return shape
}

func TestNewDefaultAppliesFactoryGeometry(testContext *testing.T) {
	at := collab.Point{X: 50, Y: 60}

	rect := mustDefault(testContext, KindRectangle, "r", at)
	if rect.ScaledWidth() != DefaultBoxSize || rect.ScaledHeight() != DefaultBoxSize || rect.Style.Fill != DefaultFill {
		testContext.Fatalf("unexpected rectangle defaults: %+v", rect)
	}

	circle := mustDefault(testContext, KindEllipse, "c", at)
	if circle.ScaledWidth() != 2*DefaultRadius {
		testContext.Fatalf("expected circle diameter %v, got %v", 2*DefaultRadius, circle.ScaledWidth())
	}

	line := mustDefault(testContext, KindLine, "l", at)
	if line.Style.Stroke != DefaultFill || line.Style.StrokeWidth != DefaultLineStrokeWidth {
		testContext.Fatalf("unexpected line style: %+v", line.Style)
	}
	bounds := line.Bounds()
	if bounds.Left != 50 || bounds.Top != 60 || bounds.Width != 100 || bounds.Height != 100 {
		testContext.Fatalf("unexpected line bounds: %+v", bounds)
	}

	text := mustDefault(testContext, KindText, "t", at)
	geometry, ok := text.Geometry.(Text)
	if !ok || geometry.Text != DefaultText || geometry.FontSize != DefaultFontSize {
		testContext.Fatalf("unexpected text defaults: %+v", text.Geometry)
	}

	if _, err := NewDefault(KindImage, "i", at); err == nil {
		testContext.Fatalf("expected images to be rejected by the drawing factory")
	}
}

func TestScaleToWidthIsUniform(testContext *testing.T) {
	shape := Shape{ObjectID: "r", ScaleX: 1, ScaleY: 1, Geometry: Rectangle{Width: 50, Height: 20}}
	if !shape.ScaleToWidth(100) {
		testContext.Fatalf("expected scale to apply")
	}
	if shape.ScaledWidth() != 100 || shape.ScaledHeight() != 40 {
		testContext.Fatalf("expected 100x40, got %vx%v", shape.ScaledWidth(), shape.ScaledHeight())
	}

	degenerate := Shape{ObjectID: "d", ScaleX: 1, ScaleY: 1, Geometry: Rectangle{Width: 0, Height: 20}}
	if degenerate.ScaleToWidth(10) {
		testContext.Fatalf("expected zero-width shape to refuse scaling")
	}
}

func TestMoveBoundsToAccountsForNegativeExtent(testContext *testing.T) {
	shape := Shape{ObjectID: "l", Left: 100, Top: 100, ScaleX: 1, ScaleY: 1, Geometry: Line{X2: -40, Y2: 30}}
	shape.MoveBoundsTo(0, 0)
	bounds := shape.Bounds()
	if bounds.Left != 0 || bounds.Top != 0 {
		testContext.Fatalf("expected bounds at origin, got %+v", bounds)
	}
	if shape.Left != 40 {
		testContext.Fatalf("expected origin to shift to 40, got %v", shape.Left)
	}
}

func TestNewImportedImageScalesToImportSize(testContext *testing.T) {
	shape, err := NewImportedImage("img", "blob:1", 400, 800, collab.Point{})
	if err != nil {
		testContext.Fatalf("unexpected error: %v", err)
	}
	if shape.ScaledHeight() != ImportedImageSize {
		testContext.Fatalf("expected height %v, got %v", ImportedImageSize, shape.ScaledHeight())
	}
}

func TestClipboardPasteAssignsFreshIDsAndOffsets(testContext *testing.T) {
	clipboard := NewClipboard(nil)
	source := mustDefault(testContext, KindRectangle, "source", collab.Point{X: 10, Y: 10})
	if err := clipboard.Copy([]Shape{source}); err != nil {
		testContext.Fatalf("copy: %v", err)
	}
	ids := &sequenceIDProvider{}

	pasted, err := clipboard.Paste(ids)
	if err != nil {
		testContext.Fatalf("paste: %v", err)
	}
	if len(pasted) != 1 {
		testContext.Fatalf("expected one pasted shape, got %d", len(pasted))
	}
	if pasted[0].ObjectID == source.ObjectID || pasted[0].ObjectID != "id-1" {
		testContext.Fatalf("expected fresh id, got %s", pasted[0].ObjectID)
	}
	if pasted[0].Left != 30 || pasted[0].Top != 30 {
		testContext.Fatalf("expected offset to 30,30, got %v,%v", pasted[0].Left, pasted[0].Top)
	}

	again, err := clipboard.Paste(ids)
	if err != nil {
		testContext.Fatalf("second paste: %v", err)
	}
	if again[0].ObjectID == pasted[0].ObjectID {
		testContext.Fatalf("expected each paste to allocate a new id")
	}
}

func TestClipboardPasteSkipsMalformedEntries(testContext *testing.T) {
	clipboard := NewClipboard(nil)
	valid, err := Marshal(mustDefault(testContext, KindEllipse, "ok", collab.Point{}))
	if err != nil {
		testContext.Fatalf("marshal: %v", err)
	}
	clipboard.Load([]json.RawMessage{json.RawMessage(`{broken`), valid, json.RawMessage(`{"objectId":"x","type":"blob"}`)})

	pasted, err := clipboard.Paste(&sequenceIDProvider{})
	if err != nil {
		testContext.Fatalf("paste: %v", err)
	}
	if len(pasted) != 1 || pasted[0].Kind() != KindEllipse {
		testContext.Fatalf("expected only the valid ellipse to paste, got %+v", pasted)
	}
}
