package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/collab"
	sqlite "github.com/glebarez/sqlite"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

func newTestStore(testContext *testing.T) *GormStore {
	testContext.Helper()
	databasePath := filepath.Join(testContext.TempDir(), "rooms.db")
	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := database.AutoMigrate(&ShapeRow{}, &ThreadRow{}, &CommentRow{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	store, err := NewGormStore(StoreConfig{Database: database})
	if err != nil {
		testContext.Fatalf("failed to build store: %v", err)
	}
	return store
}

func newPersistentHub(testContext *testing.T, store Store, clock clockwork.Clock) *Hub {
	testContext.Helper()
	hub, err := NewHub(HubConfig{Store: store, Clock: clock, IDProvider: &sequenceIDProvider{}})
	if err != nil {
		testContext.Fatalf("failed to build hub: %v", err)
	}
	return hub
}

func TestNewGormStoreRequiresDatabase(testContext *testing.T) {
	_, err := NewGormStore(StoreConfig{})
	if !errors.Is(err, errMissingDatabase) {
		testContext.Fatalf("expected missing database error, got %v", err)
	}
}

func TestDocumentSurvivesHubRestart(testContext *testing.T) {
	store := newTestStore(testContext)
	room := mustOpenRoom(testContext, newPersistentHub(testContext, store, nil), "board")
	connection := room.Join()
	mustSet(testContext, connection, "b", `{"n":1}`)
	mustSet(testContext, connection, "a", `{"n":2}`)
	mustSet(testContext, connection, "c", `{"n":3}`)
	mustSet(testContext, connection, "b", `{"n":4}`)
	if err := connection.Delete("c"); err != nil {
		testContext.Fatalf("delete: %v", err)
	}

	reopened := mustOpenRoom(testContext, newPersistentHub(testContext, store, nil), "board")
	entries := reopened.Entries()
	if len(entries) != 2 {
		testContext.Fatalf("expected two entries after reload, got %+v", entries)
	}
	if entries[0].Key != "b" || string(entries[0].Value) != `{"n":4}` || entries[1].Key != "a" {
		testContext.Fatalf("expected insertion order with latest values, got %+v", entries)
	}

	follower := reopened.Join()
	mustSet(testContext, follower, "d", `{}`)
	last := reopened.Entries()[2]
	if last.Key != "d" {
		testContext.Fatalf("expected new key to be appended after loaded ones, got %+v", reopened.Entries())
	}
}

func TestThreadsSurviveHubRestart(testContext *testing.T) {
	store := newTestStore(testContext)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	room := mustOpenRoom(testContext, newPersistentHub(testContext, store, clock), "board")
	connection := room.Join()

	thread, err := connection.CreateThread(context.Background(), collab.NewThread{
		Body:     "look here",
		Metadata: collab.ThreadMetadata{CursorX: 10, CursorY: 20, ZIndex: 1, CursorSelectors: []string{"#canvas", "div"}},
	})
	if err != nil {
		testContext.Fatalf("create thread: %v", err)
	}
	clock.Advance(time.Second)
	if err := connection.AddComment(context.Background(), thread.ID, "agreed"); err != nil {
		testContext.Fatalf("add comment: %v", err)
	}
	resolved := true
	if err := connection.EditThreadMetadata(context.Background(), thread.ID, collab.MetadataPatch{Resolved: &resolved}); err != nil {
		testContext.Fatalf("edit: %v", err)
	}

	reopened := mustOpenRoom(testContext, newPersistentHub(testContext, store, clock), "board")
	threads := reopened.Threads()
	if len(threads) != 1 {
		testContext.Fatalf("expected one thread, got %d", len(threads))
	}
	loaded := threads[0]
	if !loaded.Metadata.Resolved || loaded.Metadata.CursorX != 10 || len(loaded.Metadata.CursorSelectors) != 2 {
		testContext.Fatalf("unexpected metadata %+v", loaded.Metadata)
	}
	if len(loaded.Comments) != 2 || loaded.Comments[1].Body != "agreed" {
		testContext.Fatalf("unexpected comments %+v", loaded.Comments)
	}
	if !loaded.CreatedAt.Equal(thread.CreatedAt) {
		testContext.Fatalf("expected creation time %v, got %v", thread.CreatedAt, loaded.CreatedAt)
	}
}

type failingStore struct {
	*GormStore
}

func (failingStore) SaveShape(context.Context, RoomID, StoredEntry) error {
	return errors.New("disk full")
}

func (failingStore) LoadShapes(context.Context, RoomID) ([]StoredEntry, error) { return nil, nil }

func (failingStore) LoadThreads(context.Context, RoomID) ([]collab.Thread, error) { return nil, nil }

func TestFailedPersistLeavesRoomUnchanged(testContext *testing.T) {
	room := mustOpenRoom(testContext, newPersistentHub(testContext, failingStore{}, nil), "board")
	connection := room.Join()
	notified := false
	connection.SubscribeChanges(func([]collab.Entry) { notified = true })

	err := connection.Set("k", json.RawMessage(`1`))
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "rooms.document.set.persist_failed" {
		testContext.Fatalf("expected persist failure, got %v", err)
	}
	if connection.Size() != 0 || notified || room.Version() != 0 {
		testContext.Fatalf("expected room to stay unchanged after a failed write")
	}
	if undone, _ := connection.Undo(); undone {
		testContext.Fatalf("expected no history for a failed write")
	}
}
