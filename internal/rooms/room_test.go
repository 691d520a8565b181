package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/collab"
	"github.com/jonboulle/clockwork"
)

type sequenceIDProvider struct {
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("id-%d", p.next), nil
}

func mustOpenRoom(testContext *testing.T, hub *Hub, name string) *Room {
	testContext.Helper()
	room, err := hub.Open(context.Background(), name)
	if err != nil {
		testContext.Fatalf("failed to open room: %v", err)
	}
	return room
}

func newMemoryHub(testContext *testing.T, clock clockwork.Clock) *Hub {
	testContext.Helper()
	hub, err := NewHub(HubConfig{Clock: clock, IDProvider: &sequenceIDProvider{}})
	if err != nil {
		testContext.Fatalf("failed to build hub: %v", err)
	}
	return hub
}

func mustSet(testContext *testing.T, connection *Connection, key, value string) {
	testContext.Helper()
	if err := connection.Set(key, json.RawMessage(value)); err != nil {
		testContext.Fatalf("set %s failed: %v", key, err)
	}
}

func TestConcurrentWritesToDifferentKeysBothSurvive(testContext *testing.T) {
	room := mustOpenRoom(testContext, newMemoryHub(testContext, nil), "board")
	alice, bob := room.Join(), room.Join()

	done := make(chan struct{}, 2)
	go func() {
		mustSet(testContext, alice, "a", `{"v":1}`)
		done <- struct{}{}
	}()
	go func() {
		mustSet(testContext, bob, "b", `{"v":2}`)
		done <- struct{}{}
	}()
	<-done
	<-done

	for _, connection := range []*Connection{alice, bob} {
		if connection.Size() != 2 {
			testContext.Fatalf("expected both keys for connection %d, got %d", connection.ID(), connection.Size())
		}
	}
}

func TestConcurrentWritesToSameKeyKeepExactlyOneValue(testContext *testing.T) {
	room := mustOpenRoom(testContext, newMemoryHub(testContext, nil), "board")
	alice, bob := room.Join(), room.Join()

	done := make(chan struct{}, 2)
	go func() {
		mustSet(testContext, alice, "shape", `{"owner":"alice","left":1}`)
		done <- struct{}{}
	}()
	go func() {
		mustSet(testContext, bob, "shape", `{"owner":"bob","top":2}`)
		done <- struct{}{}
	}()
	<-done
	<-done

	value, ok := alice.Get("shape")
	if !ok {
		testContext.Fatalf("expected key to exist")
	}
	viewedByBob, _ := bob.Get("shape")
	if string(value) != string(viewedByBob) {
		testContext.Fatalf("expected participants to converge, got %s and %s", value, viewedByBob)
	}
	if string(value) != `{"owner":"alice","left":1}` && string(value) != `{"owner":"bob","top":2}` {
		testContext.Fatalf("expected one whole value to win, got %s", value)
	}
}

func TestIdenticalSetIsNotObservedTwice(testContext *testing.T) {
	room := mustOpenRoom(testContext, newMemoryHub(testContext, nil), "board")
	writer, observer := room.Join(), room.Join()
	notifications := 0
	observer.SubscribeChanges(func([]collab.Entry) { notifications++ })

	mustSet(testContext, writer, "k", `{"x":1}`)
	mustSet(testContext, writer, "k", `{"x":1}`)

	if notifications != 1 {
		testContext.Fatalf("expected one change notification, got %d", notifications)
	}
	if len(writer.undo) != 1 {
		testContext.Fatalf("expected one history entry, got %d", len(writer.undo))
	}
}

func TestUndoRedoOnlyCoversOwnWrites(testContext *testing.T) {
	room := mustOpenRoom(testContext, newMemoryHub(testContext, nil), "board")
	alice, bob := room.Join(), room.Join()

	mustSet(testContext, alice, "a", `1`)
	mustSet(testContext, alice, "a", `2`)
	mustSet(testContext, bob, "b", `3`)

	undone, err := alice.Undo()
	if err != nil || !undone {
		testContext.Fatalf("expected undo to apply, got %v (%v)", undone, err)
	}
	if value, _ := bob.Get("a"); string(value) != `1` {
		testContext.Fatalf("expected a to revert to 1, got %s", value)
	}
	if _, ok := alice.Get("b"); !ok {
		testContext.Fatalf("expected bob's write to be untouched")
	}

	if _, err := alice.Undo(); err != nil {
		testContext.Fatalf("second undo: %v", err)
	}
	if _, ok := alice.Get("a"); ok {
		testContext.Fatalf("expected a to be removed by undoing its creation")
	}
	if undone, _ := alice.Undo(); undone {
		testContext.Fatalf("expected empty undo stack")
	}

	redone, err := alice.Redo()
	if err != nil || !redone {
		testContext.Fatalf("expected redo to apply, got %v (%v)", redone, err)
	}
	if value, _ := alice.Get("a"); string(value) != `1` {
		testContext.Fatalf("expected redo to restore 1, got %s", value)
	}
}

func TestNewWriteClearsRedo(testContext *testing.T) {
	room := mustOpenRoom(testContext, newMemoryHub(testContext, nil), "board")
	connection := room.Join()
	mustSet(testContext, connection, "a", `1`)
	if _, err := connection.Undo(); err != nil {
		testContext.Fatalf("undo: %v", err)
	}
	mustSet(testContext, connection, "b", `2`)
	if redone, _ := connection.Redo(); redone {
		testContext.Fatalf("expected redo stack to be cleared by a new write")
	}
}

func TestSetRejectsInvalidJSON(testContext *testing.T) {
	room := mustOpenRoom(testContext, newMemoryHub(testContext, nil), "board")
	err := room.Join().Set("k", json.RawMessage(`{oops`))
	if !errors.Is(err, ErrInvalidValue) {
		testContext.Fatalf("expected invalid value error, got %v", err)
	}
}

func TestPresenceIsDeliveredToOthersOnly(testContext *testing.T) {
	room := mustOpenRoom(testContext, newMemoryHub(testContext, nil), "board")
	alice, bob := room.Join(), room.Join()

	var seenByBob []collab.Participant
	bob.SubscribeOthers(func(others []collab.Participant) { seenByBob = others })
	aliceSawOwn := false
	alice.SubscribeOthers(func([]collab.Participant) { aliceSawOwn = true })

	alice.UpdatePresence(collab.WithCursor(&collab.Point{X: 3, Y: 4}))

	if aliceSawOwn {
		testContext.Fatalf("did not expect own presence to be echoed")
	}
	if len(seenByBob) != 1 || seenByBob[0].ConnectionID != alice.ID() {
		testContext.Fatalf("unexpected others for bob: %+v", seenByBob)
	}
	if cursor := seenByBob[0].Presence.Cursor; cursor == nil || cursor.X != 3 {
		testContext.Fatalf("expected cursor to propagate, got %+v", cursor)
	}

	alice.UpdatePresence(collab.WithMessage(nil))
	if seenByBob[0].Presence.Cursor == nil {
		testContext.Fatalf("expected untouched fields to persist across patches")
	}

	alice.Leave()
	if len(bob.Others()) != 0 {
		testContext.Fatalf("expected alice to be gone after leaving")
	}
	if err := alice.Set("k", json.RawMessage(`1`)); err == nil {
		testContext.Fatalf("expected writes after leaving to fail")
	}
}

func TestBroadcastSkipsSender(testContext *testing.T) {
	room := mustOpenRoom(testContext, newMemoryHub(testContext, nil), "board")
	alice, bob := room.Join(), room.Join()
	var received []collab.Event
	bob.SubscribeEvents(func(event collab.Event) { received = append(received, event) })
	alice.SubscribeEvents(func(collab.Event) { testContext.Fatalf("sender must not receive its own event") })

	if err := alice.Broadcast(json.RawMessage(`{"x":1,"y":2,"value":"🔥"}`)); err != nil {
		testContext.Fatalf("broadcast: %v", err)
	}
	if len(received) != 1 || received[0].ConnectionID != alice.ID() {
		testContext.Fatalf("unexpected events %+v", received)
	}
}

func TestThreadsCreateEditAndReply(testContext *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	room := mustOpenRoom(testContext, newMemoryHub(testContext, clock), "board")
	author, reader := room.Join(), room.Join()
	var latest []collab.Thread
	reader.SubscribeThreads(func(threads []collab.Thread) { latest = threads })

	thread, err := author.CreateThread(context.Background(), collab.NewThread{
		Body:     "first",
		Metadata: collab.ThreadMetadata{CursorX: 120, CursorY: 80, ZIndex: 1, CursorSelectors: []string{"#canvas"}},
	})
	if err != nil {
		testContext.Fatalf("create thread: %v", err)
	}
	if !thread.CreatedAt.Equal(clock.Now()) {
		testContext.Fatalf("expected creation time from clock, got %v", thread.CreatedAt)
	}
	if len(latest) != 1 || latest[0].Comments[0].Body != "first" {
		testContext.Fatalf("expected reader to observe the thread, got %+v", latest)
	}

	zIndex := 5
	resolved := true
	if err := author.EditThreadMetadata(context.Background(), thread.ID, collab.MetadataPatch{ZIndex: &zIndex, Resolved: &resolved}); err != nil {
		testContext.Fatalf("edit metadata: %v", err)
	}
	if latest[0].Metadata.ZIndex != 5 || !latest[0].Metadata.Resolved || latest[0].Metadata.CursorX != 120 {
		testContext.Fatalf("unexpected metadata after edit: %+v", latest[0].Metadata)
	}

	if err := reader.AddComment(context.Background(), thread.ID, "reply"); err != nil {
		testContext.Fatalf("add comment: %v", err)
	}
	if len(latest[0].Comments) != 2 {
		testContext.Fatalf("expected reply to be appended, got %+v", latest[0].Comments)
	}

	err = author.EditThreadMetadata(context.Background(), "missing", collab.MetadataPatch{})
	if !errors.Is(err, ErrThreadNotFound) {
		testContext.Fatalf("expected thread not found, got %v", err)
	}
}

func TestOpenRejectsInvalidRoomID(testContext *testing.T) {
	hub := newMemoryHub(testContext, nil)
	_, err := hub.Open(context.Background(), "bad room/")
	if !errors.Is(err, ErrInvalidRoomID) {
		testContext.Fatalf("expected invalid room id, got %v", err)
	}
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "rooms.hub.open.invalid_room_id" {
		testContext.Fatalf("expected coded service error, got %v", err)
	}
}

func entryKeys(entries []collab.Entry) []string {
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		keys = append(keys, entry.Key)
	}
	return keys
}

func TestListenersEndOnTheLatestSnapshotWhenDeliveryOverlaps(testContext *testing.T) {
	room := mustOpenRoom(testContext, newMemoryHub(testContext, nil), "board")
	alice, bob, carol := room.Join(), room.Join(), room.Join()

	var mu sync.Mutex
	var seenByAlice, seenByCarol []collab.Entry
	entered := make(chan struct{})
	release := make(chan struct{})
	var blockOnce sync.Once
	alice.SubscribeChanges(func(entries []collab.Entry) {
		mu.Lock()
		seenByAlice = entries
		mu.Unlock()
		if len(entries) == 1 {
			blockOnce.Do(func() {
				close(entered)
				<-release
			})
		}
	})
	carol.SubscribeChanges(func(entries []collab.Entry) {
		mu.Lock()
		seenByCarol = entries
		mu.Unlock()
	})

	aliceErr := make(chan error, 1)
	go func() {
		aliceErr <- alice.Set("a", json.RawMessage(`1`))
	}()
	<-entered
	mustSet(testContext, bob, "b", `2`)
	close(release)
	if err := <-aliceErr; err != nil {
		testContext.Fatalf("alice set: %v", err)
	}

	want := entryKeys(room.Entries())
	mu.Lock()
	defer mu.Unlock()
	if got := entryKeys(seenByCarol); !reflect.DeepEqual(got, want) {
		testContext.Fatalf("carol's last snapshot is stale: got %v, document has %v", got, want)
	}
	if got := entryKeys(seenByAlice); !reflect.DeepEqual(got, want) {
		testContext.Fatalf("alice's last snapshot is stale: got %v, document has %v", got, want)
	}
}

func TestConcurrentWritersLeaveEveryListenerOnTheFinalDocument(testContext *testing.T) {
	room := mustOpenRoom(testContext, newMemoryHub(testContext, nil), "board")
	connections := []*Connection{room.Join(), room.Join(), room.Join(), room.Join()}

	var mu sync.Mutex
	lastSeen := make(map[int][]collab.Entry)
	for _, connection := range connections {
		connectionID := connection.ID()
		connection.SubscribeChanges(func(entries []collab.Entry) {
			mu.Lock()
			lastSeen[connectionID] = entries
			mu.Unlock()
		})
	}

	var writers sync.WaitGroup
	errs := make(chan error, len(connections)*20)
	for index, connection := range connections {
		writers.Add(1)
		go func() {
			defer writers.Done()
			for step := range 20 {
				key := fmt.Sprintf("shared-%d", step%3)
				if step%2 == 0 {
					key = fmt.Sprintf("own-%d", index)
				}
				if err := connection.Set(key, json.RawMessage(fmt.Sprintf(`{"writer":%d,"step":%d}`, index, step))); err != nil {
					errs <- err
				}
			}
		}()
	}
	writers.Wait()
	close(errs)
	for err := range errs {
		testContext.Fatalf("concurrent set: %v", err)
	}

	want := room.Entries()
	mu.Lock()
	defer mu.Unlock()
	for _, connection := range connections {
		if got := lastSeen[connection.ID()]; !reflect.DeepEqual(got, want) {
			testContext.Fatalf("connection %d ended on %v, document is %v", connection.ID(), got, want)
		}
	}
}

func TestConcurrentPresenceLeavesEveryListenerOnCurrentOthers(testContext *testing.T) {
	room := mustOpenRoom(testContext, newMemoryHub(testContext, nil), "board")
	connections := []*Connection{room.Join(), room.Join(), room.Join(), room.Join()}

	var mu sync.Mutex
	lastSeen := make(map[int][]collab.Participant)
	for _, connection := range connections {
		connectionID := connection.ID()
		connection.SubscribeOthers(func(others []collab.Participant) {
			mu.Lock()
			lastSeen[connectionID] = others
			mu.Unlock()
		})
	}

	var movers sync.WaitGroup
	for index, connection := range connections {
		movers.Add(1)
		go func() {
			defer movers.Done()
			for step := range 30 {
				connection.UpdatePresence(collab.WithCursor(&collab.Point{X: float64(index), Y: float64(step)}))
			}
		}()
	}
	movers.Wait()

	mu.Lock()
	defer mu.Unlock()
	for _, connection := range connections {
		want := connection.Others()
		if got := lastSeen[connection.ID()]; !reflect.DeepEqual(got, want) {
			testContext.Fatalf("connection %d ended on stale others %+v, current %+v", connection.ID(), got, want)
		}
	}
}

func TestListenerWritingToTheRoomDoesNotDeadlock(testContext *testing.T) {
	room := mustOpenRoom(testContext, newMemoryHub(testContext, nil), "board")
	writer, echo := room.Join(), room.Join()

	var seen [][]string
	writer.SubscribeChanges(func(entries []collab.Entry) {
		seen = append(seen, entryKeys(entries))
		if len(entries) == 1 {
			mustSet(testContext, writer, "follow-up", `true`)
		}
	})
	mustSet(testContext, echo, "first", `1`)

	if len(seen) != 2 || !reflect.DeepEqual(seen[1], []string{"first", "follow-up"}) {
		testContext.Fatalf("expected the nested write to be delivered after the first snapshot, got %v", seen)
	}
}
