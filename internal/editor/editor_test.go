package editor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/collab"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/drawing"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/rooms"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/shapes"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/surface"
	"github.com/jonboulle/clockwork"
)

type sequenceIDProvider struct {
	mu   sync.Mutex
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("id-%d", p.next), nil
}

type testEditor struct {
	*Editor
	scene      *surface.Scene
	connection *rooms.Connection
}

func mustOpenTestRoom(testContext *testing.T) *rooms.Room {
	testContext.Helper()
	hub, err := rooms.NewHub(rooms.HubConfig{IDProvider: &sequenceIDProvider{}})
	if err != nil {
		testContext.Fatalf("failed to build hub: %v", err)
	}
	room, err := hub.Open(context.Background(), "board")
	if err != nil {
		testContext.Fatalf("failed to open room: %v", err)
	}
	return room
}

func newTestEditor(testContext *testing.T, room *rooms.Room, size surface.Size, clock clockwork.Clock) testEditor {
	testContext.Helper()
	scene := surface.NewScene(size)
	connection := room.Join()
	editor, err := New(Config{
		Surface:    scene,
		Document:   connection,
		History:    connection,
		IDProvider: &sequenceIDProvider{},
		Clock:      clock,
	})
	if err != nil {
		testContext.Fatalf("failed to build editor: %v", err)
	}
	editor.Start()
	testContext.Cleanup(editor.Close)
	return testEditor{Editor: editor, scene: scene, connection: connection}
}

func mustDraw(testContext *testing.T, editor testEditor, tool drawing.Tool, from, to collab.Point) {
	testContext.Helper()
	if err := editor.SelectTool(tool); err != nil {
		testContext.Fatalf("select tool: %v", err)
	}
	if err := editor.PointerDown(from); err != nil {
		testContext.Fatalf("pointer down: %v", err)
	}
	if err := editor.PointerMove(to); err != nil {
		testContext.Fatalf("pointer move: %v", err)
	}
	if err := editor.PointerUp(to); err != nil {
		testContext.Fatalf("pointer up: %v", err)
	}
}

func mustStoredShape(testContext *testing.T, document collab.Document, objectID string) shapes.Shape {
	testContext.Helper()
	value, ok := document.Get(objectID)
	if !ok {
		testContext.Fatalf("expected %s in the document", objectID)
	}
	shape, err := shapes.Unmarshal(value)
	if err != nil {
		testContext.Fatalf("stored record does not parse: %v", err)
	}
	return shape
}

func eventually(testContext *testing.T, condition func() bool) {
	testContext.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	testContext.Fatalf("condition not met before deadline")
}

func TestDrawingCommitsShapeAndSettlesTool(testContext *testing.T) {
	clock := clockwork.NewFakeClock()
	editor := newTestEditor(testContext, mustOpenTestRoom(testContext), surface.Size{Width: 800, Height: 600}, clock)

	mustDraw(testContext, editor, drawing.ToolRectangle, collab.Point{X: 50, Y: 50}, collab.Point{X: 150, Y: 120})

	shape := mustStoredShape(testContext, editor.connection, "id-1")
	rectangle := shape.Geometry.(shapes.Rectangle)
	if rectangle.Width != 100 || rectangle.Height != 70 {
		testContext.Fatalf("unexpected rectangle %+v", rectangle)
	}
	if _, ok := editor.scene.Object("id-1"); !ok {
		testContext.Fatalf("expected the surface to hold the shape")
	}
	if editor.ActiveTool() != drawing.ToolRectangle {
		testContext.Fatalf("expected the tool to stay active until the settle delay, got %s", editor.ActiveTool())
	}

	clock.Advance(drawing.ToolSettleDelay)
	eventually(testContext, func() bool { return editor.ActiveTool() == drawing.ToolSelect })
}

func TestSelectingAnotherToolCancelsPendingReset(testContext *testing.T) {
	clock := clockwork.NewFakeClock()
	editor := newTestEditor(testContext, mustOpenTestRoom(testContext), surface.Size{Width: 800, Height: 600}, clock)

	mustDraw(testContext, editor, drawing.ToolRectangle, collab.Point{X: 50, Y: 50}, collab.Point{X: 80, Y: 80})
	if err := editor.SelectTool(drawing.ToolEllipse); err != nil {
		testContext.Fatalf("select tool: %v", err)
	}
	clock.Advance(time.Second)
	time.Sleep(20 * time.Millisecond)
	if editor.ActiveTool() != drawing.ToolEllipse {
		testContext.Fatalf("expected ellipse to stay active, got %s", editor.ActiveTool())
	}
}

func TestDragClampsToSurface(testContext *testing.T) {
	editor := newTestEditor(testContext, mustOpenTestRoom(testContext), surface.Size{Width: 300, Height: 100}, clockwork.NewFakeClock())

	if err := editor.SelectTool(drawing.ToolRectangle); err != nil {
		testContext.Fatalf("select tool: %v", err)
	}
	if err := editor.PointerDown(collab.Point{X: 50, Y: 50}); err != nil {
		testContext.Fatalf("pointer down: %v", err)
	}
	if err := editor.PointerUp(collab.Point{X: 50, Y: 50}); err != nil {
		testContext.Fatalf("pointer up: %v", err)
	}
	if err := editor.SelectTool(drawing.ToolSelect); err != nil {
		testContext.Fatalf("select tool: %v", err)
	}

	if err := editor.PointerDown(collab.Point{X: 60, Y: 60}); err != nil {
		testContext.Fatalf("grab: %v", err)
	}
	if err := editor.PointerMove(collab.Point{X: 260, Y: 60}); err != nil {
		testContext.Fatalf("drag: %v", err)
	}
	moved := mustStoredShape(testContext, editor.connection, "id-1")
	if moved.Left != 200 || moved.Top != 0 {
		testContext.Fatalf("expected clamped position (200, 0) while dragging, got (%v, %v)", moved.Left, moved.Top)
	}
	if err := editor.PointerUp(collab.Point{X: 260, Y: 60}); err != nil {
		testContext.Fatalf("release: %v", err)
	}
	if _, ok := editor.State().(drawing.Idle); !ok {
		testContext.Fatalf("expected idle after release, got %T", editor.State())
	}
}

func TestRemoteParticipantSeesShapes(testContext *testing.T) {
	room := mustOpenTestRoom(testContext)
	author := newTestEditor(testContext, room, surface.Size{Width: 800, Height: 600}, clockwork.NewFakeClock())
	viewer := newTestEditor(testContext, room, surface.Size{Width: 800, Height: 600}, clockwork.NewFakeClock())

	mustDraw(testContext, author, drawing.ToolEllipse, collab.Point{X: 10, Y: 10}, collab.Point{X: 70, Y: 10})

	remote, ok := viewer.scene.Object("id-1")
	if !ok {
		testContext.Fatalf("expected the viewer to rebuild the remote shape")
	}
	if remote.Geometry.(shapes.Ellipse).Radius != 30 {
		testContext.Fatalf("unexpected remote ellipse %+v", remote.Geometry)
	}
	layers := viewer.Layers()
	if len(layers) != 1 || layers[0].Name != "Circle" {
		testContext.Fatalf("unexpected layers %+v", layers)
	}
}

func TestUndoRemovesCreatedShape(testContext *testing.T) {
	editor := newTestEditor(testContext, mustOpenTestRoom(testContext), surface.Size{Width: 800, Height: 600}, clockwork.NewFakeClock())
	mustDraw(testContext, editor, drawing.ToolTriangle, collab.Point{X: 10, Y: 10}, collab.Point{X: 60, Y: 60})

	if undone, err := editor.Undo(); err != nil || !undone {
		testContext.Fatalf("expected undo to apply, got %v (%v)", undone, err)
	}
	if editor.connection.Size() != 0 || len(editor.scene.Objects()) != 0 {
		testContext.Fatalf("expected the shape to be gone from the document and the surface")
	}
	if redone, err := editor.Redo(); err != nil || !redone {
		testContext.Fatalf("expected redo to apply, got %v (%v)", redone, err)
	}
	if _, ok := editor.scene.Object("id-1"); !ok {
		testContext.Fatalf("expected redo to restore the shape on the surface")
	}
}

func TestUndoDiscardsGestureInFlight(testContext *testing.T) {
	editor := newTestEditor(testContext, mustOpenTestRoom(testContext), surface.Size{Width: 800, Height: 600}, clockwork.NewFakeClock())
	mustDraw(testContext, editor, drawing.ToolRectangle, collab.Point{X: 10, Y: 10}, collab.Point{X: 60, Y: 60})
	if err := editor.SelectTool(drawing.ToolRectangle); err != nil {
		testContext.Fatalf("select tool: %v", err)
	}
	if err := editor.PointerDown(collab.Point{X: 300, Y: 300}); err != nil {
		testContext.Fatalf("pointer down: %v", err)
	}

	if _, err := editor.Undo(); err != nil {
		testContext.Fatalf("undo: %v", err)
	}
	if _, ok := editor.State().(drawing.PlacingTool); !ok {
		testContext.Fatalf("expected the gesture to be dropped, got %T", editor.State())
	}
	if err := editor.PointerUp(collab.Point{X: 320, Y: 320}); err != nil {
		testContext.Fatalf("pointer up: %v", err)
	}
	if editor.connection.Size() != 0 {
		testContext.Fatalf("expected nothing to be committed after undo, got %d entries", editor.connection.Size())
	}
}

func TestCopyPasteAndCutThroughShortcuts(testContext *testing.T) {
	editor := newTestEditor(testContext, mustOpenTestRoom(testContext), surface.Size{Width: 800, Height: 600}, clockwork.NewFakeClock())
	mustDraw(testContext, editor, drawing.ToolRectangle, collab.Point{X: 10, Y: 10}, collab.Point{X: 60, Y: 60})
	editor.scene.Select("id-1")

	for _, name := range []string{"c", "v"} {
		if handled, err := editor.HandleKey(Key{Key: name, Ctrl: true}); err != nil || !handled {
			testContext.Fatalf("ctrl+%s: handled=%v err=%v", name, handled, err)
		}
	}
	pasted := mustStoredShape(testContext, editor.connection, "id-2")
	if pasted.Left != 30 || pasted.Top != 30 {
		testContext.Fatalf("expected paste offset by %v, got (%v, %v)", shapes.ClipboardOffset, pasted.Left, pasted.Top)
	}
	selection := editor.scene.Selection()
	if len(selection) != 1 || selection[0].ObjectID != "id-2" {
		testContext.Fatalf("expected the pasted shape to be selected, got %+v", selection)
	}

	if handled, err := editor.HandleKey(Key{Key: "X", Meta: true}); err != nil || !handled {
		testContext.Fatalf("cmd+x: handled=%v err=%v", handled, err)
	}
	if _, ok := editor.connection.Get("id-2"); ok {
		testContext.Fatalf("expected cut to remove the pasted shape")
	}
	if editor.connection.Size() != 1 {
		testContext.Fatalf("expected the original shape to remain")
	}
}

func TestUnboundKeysAreIgnored(testContext *testing.T) {
	editor := newTestEditor(testContext, mustOpenTestRoom(testContext), surface.Size{Width: 800, Height: 600}, clockwork.NewFakeClock())
	for _, key := range []Key{{Key: "q"}, {Key: "q", Ctrl: true}, {Key: "/"}} {
		if handled, _ := editor.HandleKey(key); handled {
			testContext.Fatalf("did not expect %+v to be handled", key)
		}
	}
}

func TestDeleteKeyRemovesSelection(testContext *testing.T) {
	editor := newTestEditor(testContext, mustOpenTestRoom(testContext), surface.Size{Width: 800, Height: 600}, clockwork.NewFakeClock())
	mustDraw(testContext, editor, drawing.ToolLine, collab.Point{X: 10, Y: 10}, collab.Point{X: 60, Y: 60})
	editor.scene.Select("id-1")

	if handled, err := editor.HandleKey(Key{Key: "Delete"}); err != nil || !handled {
		testContext.Fatalf("delete: handled=%v err=%v", handled, err)
	}
	if editor.connection.Size() != 0 || len(editor.scene.Selection()) != 0 {
		testContext.Fatalf("expected the line to be deleted and the selection cleared")
	}
}

func TestResetClearsEverything(testContext *testing.T) {
	editor := newTestEditor(testContext, mustOpenTestRoom(testContext), surface.Size{Width: 800, Height: 600}, clockwork.NewFakeClock())
	empty, err := editor.Reset()
	if err != nil || !empty {
		testContext.Fatalf("expected reset of an empty board to succeed, got %v (%v)", empty, err)
	}

	mustDraw(testContext, editor, drawing.ToolRectangle, collab.Point{X: 10, Y: 10}, collab.Point{X: 60, Y: 60})
	mustDraw(testContext, editor, drawing.ToolText, collab.Point{X: 200, Y: 200}, collab.Point{X: 260, Y: 260})
	empty, err = editor.Reset()
	if err != nil || !empty {
		testContext.Fatalf("expected reset to empty the board, got %v (%v)", empty, err)
	}
	if len(editor.scene.Objects()) != 0 || editor.ActiveTool() != drawing.ToolSelect {
		testContext.Fatalf("expected a clear surface and the select tool")
	}
}

func TestImportImageFitsImportBox(testContext *testing.T) {
	editor := newTestEditor(testContext, mustOpenTestRoom(testContext), surface.Size{Width: 800, Height: 600}, clockwork.NewFakeClock())
	shape, err := editor.ImportImage("data:image/png;base64,AAAA", 400, 400, collab.Point{X: 5, Y: 5})
	if err != nil {
		testContext.Fatalf("import: %v", err)
	}
	stored := mustStoredShape(testContext, editor.connection, shape.ObjectID)
	if stored.Kind() != shapes.KindImage || stored.ScaledWidth() != shapes.ImportedImageSize {
		testContext.Fatalf("unexpected imported image %+v", stored)
	}
}

func TestAttributeEditSyncsSelectedShape(testContext *testing.T) {
	editor := newTestEditor(testContext, mustOpenTestRoom(testContext), surface.Size{Width: 800, Height: 600}, clockwork.NewFakeClock())
	mustDraw(testContext, editor, drawing.ToolRectangle, collab.Point{X: 10, Y: 10}, collab.Point{X: 110, Y: 110})
	editor.scene.Select("id-1")
	if _, ok := editor.SelectionChanged(); !ok {
		testContext.Fatalf("expected the panel to follow the selection")
	}

	if changed, err := editor.EditAttribute("fill", "#ff0000"); err != nil || !changed {
		testContext.Fatalf("expected fill edit to apply, got %v (%v)", changed, err)
	}
	if stored := mustStoredShape(testContext, editor.connection, "id-1"); stored.Style.Fill != "#ff0000" {
		testContext.Fatalf("expected the document to carry the new fill, got %q", stored.Style.Fill)
	}
}
