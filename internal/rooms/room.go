package rooms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/collab"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// IDProvider issues identifiers for threads and comments.
type IDProvider interface {
	NewID() (string, error)
}

// PresenceMirror publishes live presence outside the process.
type PresenceMirror interface {
	Publish(ctx context.Context, roomID RoomID, participant collab.Participant) error
	Remove(ctx context.Context, roomID RoomID, connectionID int) error
}

// historyEntry records one document change; nil values mean the key was absent.
type historyEntry struct {
	key    string
	before json.RawMessage
	after  json.RawMessage
}

// Room is one shared session: an ordered document, the connected participants and the
// comment threads. Writes are applied last-applied-wins per key.
type Room struct {
	id     RoomID
	store  Store
	mirror PresenceMirror
	clock  clockwork.Clock
	ids    IDProvider
	logger *zap.Logger

	mu               sync.Mutex
	keys             []string
	values           map[string]StoredEntry
	nextPosition     int64
	version          uint64
	connections      map[int]*Connection
	presence         map[int]collab.Presence
	nextConnectionID int
	threads          []collab.Thread
}

func newRoom(id RoomID, store Store, mirror PresenceMirror, clock clockwork.Clock, ids IDProvider, logger *zap.Logger) *Room {
	return &Room{
		id:          id,
		store:       store,
		mirror:      mirror,
		clock:       clock,
		ids:         ids,
		logger:      logger,
		values:      make(map[string]StoredEntry),
		connections: make(map[int]*Connection),
		presence:    make(map[int]collab.Presence),
	}
}

// load seeds the room from persisted state. It is called once before the room is shared.
func (r *Room) load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	entries, err := r.store.LoadShapes(ctx, r.id)
	if err != nil {
		return err
	}
	threads, err := r.store.LoadThreads(ctx, r.id)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		r.keys = append(r.keys, entry.Key)
		r.values[entry.Key] = entry
		r.nextPosition = max(r.nextPosition, entry.Position+1)
	}
	r.threads = threads
	return nil
}

// ID returns the room identifier.
func (r *Room) ID() RoomID {
	return r.id
}

// Join registers a new participant with empty presence.
func (r *Room) Join() *Connection {
	r.mu.Lock()
	r.nextConnectionID++
	connection := newConnection(r, r.nextConnectionID)
	r.connections[connection.id] = connection
	r.presence[connection.id] = collab.Presence{}
	notifications := r.othersNotificationsLocked(connection.id)
	r.mu.Unlock()

	notifications.deliver()
	r.mirrorPublish(collab.Participant{ConnectionID: connection.id})
	return connection
}

// Entries returns the document in insertion order.
func (r *Room) Entries() []collab.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entriesLocked()
}

// Version increases with every applied document change.
func (r *Room) Version() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// Participants returns every connected participant ordered by connection id.
func (r *Room) Participants() []collab.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.participantsLocked(0)
}

// Threads returns a copy of the room's threads in creation order.
func (r *Room) Threads() []collab.Thread {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneThreads(r.threads)
}

func (r *Room) entriesLocked() []collab.Entry {
	entries := make([]collab.Entry, 0, len(r.keys))
	for _, key := range r.keys {
		entries = append(entries, collab.Entry{Key: key, Value: slices.Clone(r.values[key].Value)})
	}
	return entries
}

func (r *Room) participantsLocked(exclude int) []collab.Participant {
	participants := make([]collab.Participant, 0, len(r.presence))
	for connectionID, presence := range r.presence {
		if connectionID == exclude {
			continue
		}
		participants = append(participants, collab.Participant{ConnectionID: connectionID, Presence: presence})
	}
	slices.SortFunc(participants, func(left, right collab.Participant) int {
		return left.ConnectionID - right.ConnectionID
	})
	return participants
}

func (r *Room) connectionsLocked() []*Connection {
	connections := make([]*Connection, 0, len(r.connections))
	for _, connection := range r.connections {
		connections = append(connections, connection)
	}
	slices.SortFunc(connections, func(left, right *Connection) int {
		return left.id - right.id
	})
	return connections
}

// applyLocked writes value under key, or deletes key when value is nil. It persists before
// mutating memory so that a failed write leaves both unchanged.
func (r *Room) applyLocked(operation, key string, value json.RawMessage) (bool, error) {
	existing, exists := r.values[key]
	if value == nil && !exists {
		return false, nil
	}
	if value != nil && exists && bytes.Equal(existing.Value, value) {
		return false, nil
	}

	if value == nil {
		if r.store != nil {
			if err := r.store.DeleteShape(context.Background(), r.id, key); err != nil {
				return false, newServiceError(operation, "persist_failed", err)
			}
		}
		delete(r.values, key)
		r.keys = slices.DeleteFunc(r.keys, func(candidate string) bool { return candidate == key })
		r.version++
		return true, nil
	}

	entry := StoredEntry{
		Entry:    collab.Entry{Key: key, Value: slices.Clone(value)},
		Position: existing.Position,
	}
	if !exists {
		entry.Position = r.nextPosition
	}
	if r.store != nil {
		if err := r.store.SaveShape(context.Background(), r.id, entry); err != nil {
			return false, newServiceError(operation, "persist_failed", err)
		}
	}
	if !exists {
		r.keys = append(r.keys, key)
		r.nextPosition++
	}
	r.values[key] = entry
	r.version++
	return true, nil
}

// write applies a change issued by origin and records it in origin's history.
func (r *Room) write(origin *Connection, operation, key string, value json.RawMessage) error {
	if key == "" {
		return newServiceError(operation, "empty_key", ErrEmptyKey)
	}
	r.mu.Lock()
	if origin.closed {
		r.mu.Unlock()
		return newServiceError(operation, "connection_closed", errConnectionClosed)
	}
	var before json.RawMessage
	if existing, ok := r.values[key]; ok {
		before = slices.Clone(existing.Value)
	}
	changed, err := r.applyLocked(operation, key, value)
	if err != nil {
		r.mu.Unlock()
		logError(r.logger, operation, "apply_failed", err,
			zap.String("room_id", r.id.String()),
			zap.String("key", key))
		return err
	}
	if !changed {
		r.mu.Unlock()
		return nil
	}
	origin.undo = append(origin.undo, historyEntry{key: key, before: before, after: slices.Clone(value)})
	origin.redo = nil
	notification := r.changeNotificationLocked()
	r.mu.Unlock()

	notification.deliver()
	return nil
}

// replay moves one entry between origin's undo and redo stacks and applies it.
func (r *Room) replay(origin *Connection, undo bool) (bool, error) {
	r.mu.Lock()
	if origin.closed {
		r.mu.Unlock()
		return false, newServiceError(opHistoryApply, "connection_closed", errConnectionClosed)
	}
	source, target := &origin.undo, &origin.redo
	if !undo {
		source, target = &origin.redo, &origin.undo
	}
	if len(*source) == 0 {
		r.mu.Unlock()
		return false, nil
	}
	entry := (*source)[len(*source)-1]
	value := entry.before
	if !undo {
		value = entry.after
	}
	changed, err := r.applyLocked(opHistoryApply, entry.key, value)
	if err != nil {
		r.mu.Unlock()
		logError(r.logger, opHistoryApply, "apply_failed", err,
			zap.String("room_id", r.id.String()),
			zap.String("key", entry.key))
		return false, err
	}
	*source = (*source)[:len(*source)-1]
	*target = append(*target, entry)
	if !changed {
		r.mu.Unlock()
		return true, nil
	}
	notification := r.changeNotificationLocked()
	r.mu.Unlock()

	notification.deliver()
	return true, nil
}

func (r *Room) updatePresence(origin *Connection, patches []collab.PresencePatch) {
	r.mu.Lock()
	if origin.closed {
		r.mu.Unlock()
		return
	}
	next := r.presence[origin.id].Apply(patches...)
	r.presence[origin.id] = next
	notifications := r.othersNotificationsLocked(origin.id)
	r.mu.Unlock()

	notifications.deliver()
	r.mirrorPublish(collab.Participant{ConnectionID: origin.id, Presence: next})
}

func (r *Room) broadcast(origin *Connection, payload json.RawMessage) error {
	r.mu.Lock()
	if origin.closed {
		r.mu.Unlock()
		return errConnectionClosed
	}
	notification := r.eventNotificationLocked(collab.Event{ConnectionID: origin.id, Payload: slices.Clone(payload)})
	r.mu.Unlock()

	notification.deliver()
	return nil
}

func (r *Room) leave(origin *Connection) {
	r.mu.Lock()
	if origin.closed {
		r.mu.Unlock()
		return
	}
	origin.closed = true
	delete(r.connections, origin.id)
	delete(r.presence, origin.id)
	notifications := r.othersNotificationsLocked(origin.id)
	r.mu.Unlock()

	origin.changes.Clear()
	origin.others.Clear()
	origin.events.Clear()
	origin.threads.Clear()
	notifications.deliver()

	if r.mirror != nil {
		if err := r.mirror.Remove(context.Background(), r.id, origin.id); err != nil {
			logError(r.logger, opMirrorRemove, "remove_failed", err, zap.String("room_id", r.id.String()))
		}
	}
}

func (r *Room) mirrorPublish(participant collab.Participant) {
	if r.mirror == nil {
		return
	}
	if err := r.mirror.Publish(context.Background(), r.id, participant); err != nil {
		logError(r.logger, opMirrorPublish, "publish_failed", err,
			zap.String("room_id", r.id.String()),
			zap.Int("connection_id", participant.ConnectionID))
	}
}

func (r *Room) createThread(ctx context.Context, origin *Connection, input collab.NewThread) (collab.Thread, error) {
	threadID, err := r.ids.NewID()
	if err != nil {
		logError(r.logger, opCreateThread, "id_generation_failed", err)
		return collab.Thread{}, newServiceError(opCreateThread, "id_generation_failed", err)
	}
	commentID, err := r.ids.NewID()
	if err != nil {
		logError(r.logger, opCreateThread, "id_generation_failed", err)
		return collab.Thread{}, newServiceError(opCreateThread, "id_generation_failed", err)
	}
	createdAt := r.clock.Now().UTC()
	thread := collab.Thread{
		ID:        threadID,
		CreatedAt: createdAt,
		Metadata:  cloneMetadata(input.Metadata),
		Comments: []collab.Comment{{
			ID:        commentID,
			AuthorID:  authorID(origin),
			Body:      input.Body,
			CreatedAt: createdAt,
		}},
	}

	r.mu.Lock()
	if r.store != nil {
		if err := r.store.SaveThread(ctx, r.id, thread); err != nil {
			r.mu.Unlock()
			return collab.Thread{}, newServiceError(opCreateThread, "persist_failed", err)
		}
	}
	r.threads = append(r.threads, thread)
	notification := r.threadNotificationLocked()
	r.mu.Unlock()

	notification.deliver()
	return cloneThread(thread), nil
}

// CreateThread starts a thread authored by the server rather than a connection.
func (r *Room) CreateThread(ctx context.Context, input collab.NewThread) (collab.Thread, error) {
	return r.createThread(ctx, nil, input)
}

func (r *Room) EditThreadMetadata(ctx context.Context, threadID string, patch collab.MetadataPatch) error {
	return r.editThread(ctx, opEditThread, threadID, func(thread *collab.Thread) {
		thread.Metadata = patch.Apply(thread.Metadata)
	})
}

// AddComment appends a server-authored reply.
func (r *Room) AddComment(ctx context.Context, threadID, body string) error {
	return r.addComment(ctx, nil, threadID, body)
}

func (r *Room) addComment(ctx context.Context, origin *Connection, threadID, body string) error {
	commentID, err := r.ids.NewID()
	if err != nil {
		return newServiceError(opAddComment, "id_generation_failed", err)
	}
	comment := collab.Comment{
		ID:        commentID,
		AuthorID:  authorID(origin),
		Body:      body,
		CreatedAt: r.clock.Now().UTC(),
	}
	return r.editThread(ctx, opAddComment, threadID, func(thread *collab.Thread) {
		thread.Comments = append(thread.Comments, comment)
	})
}

func (r *Room) editThread(ctx context.Context, operation, threadID string, edit func(*collab.Thread)) error {
	r.mu.Lock()
	index := slices.IndexFunc(r.threads, func(thread collab.Thread) bool { return thread.ID == threadID })
	if index < 0 {
		r.mu.Unlock()
		return newServiceError(operation, "thread_not_found", fmt.Errorf("%w: %s", ErrThreadNotFound, threadID))
	}
	updated := cloneThread(r.threads[index])
	edit(&updated)
	if r.store != nil {
		if err := r.store.SaveThread(ctx, r.id, updated); err != nil {
			r.mu.Unlock()
			return newServiceError(operation, "persist_failed", err)
		}
	}
	r.threads[index] = updated
	notification := r.threadNotificationLocked()
	r.mu.Unlock()

	notification.deliver()
	return nil
}

func authorID(origin *Connection) string {
	if origin == nil {
		return "server"
	}
	return fmt.Sprintf("connection-%d", origin.id)
}

// notification lists the delivery queues that received listener calls under the room lock. The
// calls run when it is delivered, after the lock is released.
type notification []*deliveryQueue

func (n notification) deliver() {
	for _, queue := range n {
		queue.drain()
	}
}

func (r *Room) changeNotificationLocked() notification {
	snapshot := r.entriesLocked()
	var queues notification
	for _, connection := range r.connectionsLocked() {
		listeners := connection.changes
		connection.queue.push(func() { listeners.Publish(snapshot) })
		queues = append(queues, connection.queue)
	}
	return queues
}

func (r *Room) othersNotificationsLocked(changed int) notification {
	var queues notification
	for _, connection := range r.connectionsLocked() {
		if connection.id == changed {
			continue
		}
		listeners := connection.others
		others := r.participantsLocked(connection.id)
		connection.queue.push(func() { listeners.Publish(others) })
		queues = append(queues, connection.queue)
	}
	return queues
}

func (r *Room) threadNotificationLocked() notification {
	var queues notification
	for _, connection := range r.connectionsLocked() {
		listeners := connection.threads
		threads := cloneThreads(r.threads)
		connection.queue.push(func() { listeners.Publish(threads) })
		queues = append(queues, connection.queue)
	}
	return queues
}

func (r *Room) eventNotificationLocked(event collab.Event) notification {
	var queues notification
	for _, connection := range r.connectionsLocked() {
		if connection.id == event.ConnectionID {
			continue
		}
		listeners := connection.events
		connection.queue.push(func() { listeners.Publish(event) })
		queues = append(queues, connection.queue)
	}
	return queues
}

func cloneMetadata(metadata collab.ThreadMetadata) collab.ThreadMetadata {
	cloned := metadata
	cloned.CursorSelectors = slices.Clone(metadata.CursorSelectors)
	return cloned
}

func cloneThread(thread collab.Thread) collab.Thread {
	cloned := thread
	cloned.Metadata = cloneMetadata(thread.Metadata)
	cloned.Comments = slices.Clone(thread.Comments)
	return cloned
}

func cloneThreads(threads []collab.Thread) []collab.Thread {
	cloned := make([]collab.Thread, 0, len(threads))
	for _, thread := range threads {
		cloned = append(cloned, cloneThread(thread))
	}
	return cloned
}
