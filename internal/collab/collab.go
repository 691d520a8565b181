// Package collab declares the contract between the canvas core and the replication substrate
// that stores the shared document and fans out presence, broadcast events and comment threads.
package collab

import (
	"context"
	"encoding/json"
)

// Entry is one key/value pair of the shared document. Value holds a serialized shape record.
type Entry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Document is the shared ordered map keyed by objectId.
type Document interface {
	Get(key string) (json.RawMessage, bool)
	Set(key string, value json.RawMessage) error
	Delete(key string) error
	Entries() []Entry
	Size() int
	// SubscribeChanges registers a listener that receives the full document after every change.
	SubscribeChanges(listener func(snapshot []Entry)) (unsubscribe func())
}

// History exposes the substrate's undo/redo facility. The boolean reports whether anything was applied.
type History interface {
	Undo() (bool, error)
	Redo() (bool, error)
}

// PresenceChannel publishes the local participant's presence and observes everyone else's.
type PresenceChannel interface {
	UpdatePresence(patches ...PresencePatch)
	Others() []Participant
	SubscribeOthers(listener func(others []Participant)) (unsubscribe func())
}

// BroadcastChannel delivers fire-and-forget events to every other participant.
type BroadcastChannel interface {
	Broadcast(payload json.RawMessage) error
	SubscribeEvents(listener func(event Event)) (unsubscribe func())
}

// ThreadStore persists comment threads.
type ThreadStore interface {
	CreateThread(ctx context.Context, input NewThread) (Thread, error)
	EditThreadMetadata(ctx context.Context, threadID string, patch MetadataPatch) error
	Threads(ctx context.Context) ([]Thread, error)
	SubscribeThreads(listener func(threads []Thread)) (unsubscribe func())
}

// Event is a broadcast payload received from another participant.
type Event struct {
	ConnectionID int             `json:"connectionId"`
	Payload      json.RawMessage `json:"payload"`
}
