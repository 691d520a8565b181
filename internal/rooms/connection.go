package rooms

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/collab"
)

var (
	_ collab.Document         = (*Connection)(nil)
	_ collab.History          = (*Connection)(nil)
	_ collab.PresenceChannel  = (*Connection)(nil)
	_ collab.BroadcastChannel = (*Connection)(nil)
	_ collab.ThreadStore      = (*Connection)(nil)
)

// Connection is one participant's handle on a room. Its history only covers its own writes.
type Connection struct {
	room *Room
	id   int

	// guarded by room.mu
	closed bool
	undo   []historyEntry
	redo   []historyEntry

	// queue delivers every listener call below in room commit order.
	queue   *deliveryQueue
	changes *listenerSet[[]collab.Entry]
	others  *listenerSet[[]collab.Participant]
	events  *listenerSet[collab.Event]
	threads *listenerSet[[]collab.Thread]
}

func newConnection(room *Room, id int) *Connection {
	return &Connection{
		room:    room,
		id:      id,
		queue:   &deliveryQueue{},
		changes: newListenerSet[[]collab.Entry](),
		others:  newListenerSet[[]collab.Participant](),
		events:  newListenerSet[collab.Event](),
		threads: newListenerSet[[]collab.Thread](),
	}
}

// ID is the connection id, unique within the room.
func (c *Connection) ID() int {
	return c.id
}

// Room returns the room this connection belongs to.
func (c *Connection) Room() *Room {
	return c.room
}

// Leave disconnects the participant, drops its presence and detaches every listener.
func (c *Connection) Leave() {
	c.room.leave(c)
}

func (c *Connection) Get(key string) (json.RawMessage, bool) {
	c.room.mu.Lock()
	defer c.room.mu.Unlock()
	entry, ok := c.room.values[key]
	if !ok {
		return nil, false
	}
	return slices.Clone(entry.Value), true
}

// Set stores value under key. Writing the stored value again changes nothing and adds no history.
func (c *Connection) Set(key string, value json.RawMessage) error {
	if len(value) == 0 || !json.Valid(value) {
		return newServiceError(opDocumentSet, "invalid_value", fmt.Errorf("%w: %s", ErrInvalidValue, key))
	}
	return c.room.write(c, opDocumentSet, key, value)
}

func (c *Connection) Delete(key string) error {
	return c.room.write(c, opDocumentDelete, key, nil)
}

func (c *Connection) Entries() []collab.Entry {
	return c.room.Entries()
}

func (c *Connection) Size() int {
	c.room.mu.Lock()
	defer c.room.mu.Unlock()
	return len(c.room.keys)
}

func (c *Connection) SubscribeChanges(listener func([]collab.Entry)) func() {
	return c.changes.Subscribe(listener)
}

func (c *Connection) Undo() (bool, error) {
	return c.room.replay(c, true)
}

func (c *Connection) Redo() (bool, error) {
	return c.room.replay(c, false)
}

func (c *Connection) UpdatePresence(patches ...collab.PresencePatch) {
	c.room.updatePresence(c, patches)
}

// Presence returns the connection's own presence.
func (c *Connection) Presence() collab.Presence {
	c.room.mu.Lock()
	defer c.room.mu.Unlock()
	return c.room.presence[c.id]
}

func (c *Connection) Others() []collab.Participant {
	c.room.mu.Lock()
	defer c.room.mu.Unlock()
	return c.room.participantsLocked(c.id)
}

func (c *Connection) SubscribeOthers(listener func([]collab.Participant)) func() {
	return c.others.Subscribe(listener)
}

func (c *Connection) Broadcast(payload json.RawMessage) error {
	return c.room.broadcast(c, payload)
}

func (c *Connection) SubscribeEvents(listener func(collab.Event)) func() {
	return c.events.Subscribe(listener)
}

func (c *Connection) CreateThread(ctx context.Context, input collab.NewThread) (collab.Thread, error) {
	return c.room.createThread(ctx, c, input)
}

func (c *Connection) EditThreadMetadata(ctx context.Context, threadID string, patch collab.MetadataPatch) error {
	return c.room.EditThreadMetadata(ctx, threadID, patch)
}

// AddComment appends a reply to an existing thread.
func (c *Connection) AddComment(ctx context.Context, threadID, body string) error {
	return c.room.addComment(ctx, c, threadID, body)
}

func (c *Connection) Threads(context.Context) ([]collab.Thread, error) {
	return c.room.Threads(), nil
}

func (c *Connection) SubscribeThreads(listener func([]collab.Thread)) func() {
	return c.threads.Subscribe(listener)
}
