// Package liveclient joins a room over the server's live websocket channel and exposes it through
// the collab interfaces, so the editor and overlays run unchanged against a remote room.
package liveclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/collab"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultRequestTimeout = 10 * time.Second
	writeWait             = 10 * time.Second
)

var (
	ErrClosed          = errors.New("liveclient: connection closed")
	ErrInvalidValue    = errors.New("liveclient: value must be valid JSON")
	errMissingURL      = errors.New("liveclient: url is required")
	errUnexpectedFrame = errors.New("liveclient: unexpected frame")
)

var (
	_ collab.Document         = (*Client)(nil)
	_ collab.History          = (*Client)(nil)
	_ collab.PresenceChannel  = (*Client)(nil)
	_ collab.BroadcastChannel = (*Client)(nil)
	_ collab.ThreadStore      = (*Client)(nil)
)

// RequestError is a request the room rejected.
type RequestError struct {
	Request string
	Code    string
	Message string
}

func (e *RequestError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s rejected: %s", e.Request, e.Message)
	}
	return fmt.Sprintf("%s rejected (%s): %s", e.Request, e.Code, e.Message)
}

// Config configures Dial.
type Config struct {
	// URL is the room's live endpoint, see RoomURL.
	URL            string
	Dialer         *websocket.Dialer
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// RoomURL builds the live endpoint of room on the server at base. Both http(s) and ws(s) bases work.
func RoomURL(base, room string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("liveclient: parse server url: %w", err)
	}
	switch parsed.Scheme {
	case "http", "":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("liveclient: unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("liveclient: server url %q has no host", base)
	}
	parsed.Path = strings.TrimSuffix(parsed.Path, "/") + "/rooms/" + url.PathEscape(room) + "/live"
	return parsed.String(), nil
}

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type request struct {
	Type      string                 `json:"type"`
	RequestID string                 `json:"requestId,omitempty"`
	Key       string                 `json:"key,omitempty"`
	Value     json.RawMessage        `json:"value,omitempty"`
	Presence  json.RawMessage        `json:"presence,omitempty"`
	Payload   json.RawMessage        `json:"payload,omitempty"`
	ThreadID  string                 `json:"threadId,omitempty"`
	Body      string                 `json:"body,omitempty"`
	Metadata  *collab.ThreadMetadata `json:"metadata,omitempty"`
	Patch     *collab.MetadataPatch  `json:"patch,omitempty"`
}

type welcome struct {
	ConnectionID int                  `json:"connectionId"`
	Entries      []collab.Entry       `json:"entries"`
	Others       []collab.Participant `json:"others"`
	Threads      []collab.Thread      `json:"threads"`
}

type ack struct {
	RequestID string          `json:"requestId"`
	Result    json.RawMessage `json:"result,omitempty"`
}

type rejection struct {
	Request   string `json:"request"`
	RequestID string `json:"requestId,omitempty"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error"`
}

type reply struct {
	result json.RawMessage
	err    error
}

// Client is one participant connected to a remote room. Reads are served from a local mirror
// that every storage frame replaces; the server's snapshot is authoritative.
//
// Listeners run on the reader goroutine and must not wait on a request of the same client.
type Client struct {
	socket  *websocket.Conn
	timeout time.Duration
	logger  *zap.Logger
	writeMu sync.Mutex

	mu           sync.Mutex
	connectionID int
	entries      []collab.Entry
	presence     collab.Presence
	others       []collab.Participant
	threads      []collab.Thread
	pending      map[string]chan reply
	nextRequest  uint64
	err          error

	changes     *listeners[[]collab.Entry]
	othersSubs  *listeners[[]collab.Participant]
	events      *listeners[collab.Event]
	threadsSubs *listeners[[]collab.Thread]
	done        chan struct{}
	closeOnce   sync.Once
}

// Dial connects to the room and waits for its welcome frame.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errMissingURL
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	socket, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("liveclient: dial %s: %w", cfg.URL, err)
	}
	_ = socket.SetReadDeadline(time.Now().Add(timeout))
	var first frame
	if err := socket.ReadJSON(&first); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("liveclient: read welcome: %w", err)
	}
	if first.Type != "welcome" {
		_ = socket.Close()
		return nil, fmt.Errorf("%w: %q before welcome", errUnexpectedFrame, first.Type)
	}
	var greeting welcome
	if err := json.Unmarshal(first.Payload, &greeting); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("liveclient: decode welcome: %w", err)
	}
	_ = socket.SetReadDeadline(time.Time{})

	client := &Client{
		socket:       socket,
		timeout:      timeout,
		logger:       logger.With(zap.String("room_url", cfg.URL), zap.Int("connection_id", greeting.ConnectionID)),
		connectionID: greeting.ConnectionID,
		entries:      greeting.Entries,
		others:       greeting.Others,
		threads:      greeting.Threads,
		pending:      make(map[string]chan reply),
		changes:      &listeners[[]collab.Entry]{},
		othersSubs:   &listeners[[]collab.Participant]{},
		events:       &listeners[collab.Event]{},
		threadsSubs:  &listeners[[]collab.Thread]{},
		done:         make(chan struct{}),
	}
	go client.readLoop()
	return client, nil
}

// ConnectionID is the id the room assigned to this participant.
func (c *Client) ConnectionID() int {
	return c.connectionID
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended, or nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close leaves the room and waits for the reader to stop.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.socket.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
	})
	select {
	case <-c.done:
	case <-time.After(c.timeout):
		_ = c.socket.Close()
		<-c.done
	}
	return nil
}

func (c *Client) Get(key string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.entries {
		if entry.Key == key {
			return slices.Clone(entry.Value), true
		}
	}
	return nil, false
}

// Set writes through to the room and updates the local mirror right away.
func (c *Client) Set(key string, value json.RawMessage) error {
	if len(value) == 0 || !json.Valid(value) {
		return fmt.Errorf("%w: %s", ErrInvalidValue, key)
	}
	c.mu.Lock()
	index := slices.IndexFunc(c.entries, func(entry collab.Entry) bool { return entry.Key == key })
	if index >= 0 {
		c.entries[index].Value = slices.Clone(value)
	} else {
		c.entries = append(c.entries, collab.Entry{Key: key, Value: slices.Clone(value)})
	}
	c.mu.Unlock()
	return c.send(request{Type: "set", Key: key, Value: value})
}

func (c *Client) Delete(key string) error {
	c.mu.Lock()
	c.entries = slices.DeleteFunc(c.entries, func(entry collab.Entry) bool { return entry.Key == key })
	c.mu.Unlock()
	return c.send(request{Type: "delete", Key: key})
}

func (c *Client) Entries() []collab.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneEntries(c.entries)
}

func (c *Client) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Client) SubscribeChanges(listener func(snapshot []collab.Entry)) func() {
	return c.changes.subscribe(listener)
}

// Undo waits for the room to apply it and reports whether anything was undone.
func (c *Client) Undo() (bool, error) {
	return c.callBool("undo")
}

func (c *Client) Redo() (bool, error) {
	return c.callBool("redo")
}

// UpdatePresence applies patches to the local presence and publishes the result.
func (c *Client) UpdatePresence(patches ...collab.PresencePatch) {
	c.mu.Lock()
	for _, patch := range patches {
		patch(&c.presence)
	}
	encoded, err := json.Marshal(c.presence)
	c.mu.Unlock()
	if err != nil {
		c.logger.Error("failed to encode presence", zap.Error(err))
		return
	}
	if err := c.send(request{Type: "presence", Presence: encoded}); err != nil {
		c.logger.Debug("presence update not sent", zap.Error(err))
	}
}

func (c *Client) Others() []collab.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.others)
}

func (c *Client) SubscribeOthers(listener func(others []collab.Participant)) func() {
	return c.othersSubs.subscribe(listener)
}

func (c *Client) Broadcast(payload json.RawMessage) error {
	if len(payload) == 0 || !json.Valid(payload) {
		return fmt.Errorf("%w: broadcast payload", ErrInvalidValue)
	}
	return c.send(request{Type: "broadcast", Payload: payload})
}

func (c *Client) SubscribeEvents(listener func(event collab.Event)) func() {
	return c.events.subscribe(listener)
}

func (c *Client) CreateThread(ctx context.Context, input collab.NewThread) (collab.Thread, error) {
	metadata := input.Metadata
	result, err := c.call(ctx, request{Type: "thread.create", Body: input.Body, Metadata: &metadata})
	if err != nil {
		return collab.Thread{}, err
	}
	var thread collab.Thread
	if err := json.Unmarshal(result, &thread); err != nil {
		return collab.Thread{}, fmt.Errorf("liveclient: decode thread: %w", err)
	}
	return thread, nil
}

func (c *Client) EditThreadMetadata(ctx context.Context, threadID string, patch collab.MetadataPatch) error {
	_, err := c.call(ctx, request{Type: "thread.edit", ThreadID: threadID, Patch: &patch})
	return err
}

// AddComment appends a reply to an existing thread.
func (c *Client) AddComment(ctx context.Context, threadID, body string) error {
	_, err := c.call(ctx, request{Type: "comment.add", ThreadID: threadID, Body: body})
	return err
}

// Threads returns the last thread list the room sent.
func (c *Client) Threads(ctx context.Context) ([]collab.Thread, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return slices.Clone(c.threads), nil
}

func (c *Client) SubscribeThreads(listener func(threads []collab.Thread)) func() {
	return c.threadsSubs.subscribe(listener)
}

func (c *Client) callBool(requestType string) (bool, error) {
	result, err := c.call(context.Background(), request{Type: requestType})
	if err != nil {
		return false, err
	}
	var applied bool
	if len(result) > 0 {
		if err := json.Unmarshal(result, &applied); err != nil {
			return false, fmt.Errorf("liveclient: decode %s result: %w", requestType, err)
		}
	}
	return applied, nil
}

// call sends a request with a fresh id and waits for its ack or error frame.
func (c *Client) call(ctx context.Context, outgoing request) (json.RawMessage, error) {
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.nextRequest++
	requestID := strconv.FormatUint(c.nextRequest, 10)
	answer := make(chan reply, 1)
	c.pending[requestID] = answer
	c.mu.Unlock()

	outgoing.RequestID = requestID
	if err := c.send(outgoing); err != nil {
		c.forget(requestID)
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	select {
	case answered := <-answer:
		return answered.result, answered.err
	case <-ctx.Done():
		c.forget(requestID)
		return nil, fmt.Errorf("liveclient: %s: %w", outgoing.Type, ctx.Err())
	}
}

func (c *Client) forget(requestID string) {
	c.mu.Lock()
	delete(c.pending, requestID)
	c.mu.Unlock()
}

func (c *Client) send(outgoing request) error {
	if err := c.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.socket.WriteJSON(outgoing); err != nil {
		return fmt.Errorf("liveclient: send %s: %w", outgoing.Type, err)
	}
	return nil
}

func (c *Client) readLoop() {
	for {
		var incoming frame
		if err := c.socket.ReadJSON(&incoming); err != nil {
			c.fail(err)
			return
		}
		if err := c.dispatch(incoming); err != nil {
			c.logger.Warn("dropping malformed live frame", zap.String("type", incoming.Type), zap.Error(err))
		}
	}
}

func (c *Client) dispatch(incoming frame) error {
	switch incoming.Type {
	case "storage":
		var entries []collab.Entry
		if err := json.Unmarshal(incoming.Payload, &entries); err != nil {
			return err
		}
		c.mu.Lock()
		c.entries = entries
		c.mu.Unlock()
		c.changes.publish(cloneEntries(entries))
	case "others":
		var others []collab.Participant
		if err := json.Unmarshal(incoming.Payload, &others); err != nil {
			return err
		}
		c.mu.Lock()
		c.others = others
		c.mu.Unlock()
		c.othersSubs.publish(slices.Clone(others))
	case "threads":
		var threads []collab.Thread
		if err := json.Unmarshal(incoming.Payload, &threads); err != nil {
			return err
		}
		c.mu.Lock()
		c.threads = threads
		c.mu.Unlock()
		c.threadsSubs.publish(slices.Clone(threads))
	case "event":
		var event collab.Event
		if err := json.Unmarshal(incoming.Payload, &event); err != nil {
			return err
		}
		c.events.publish(event)
	case "ack":
		var answered ack
		if err := json.Unmarshal(incoming.Payload, &answered); err != nil {
			return err
		}
		c.resolve(answered.RequestID, reply{result: answered.Result})
	case "error":
		var rejected rejection
		if err := json.Unmarshal(incoming.Payload, &rejected); err != nil {
			return err
		}
		err := &RequestError{Request: rejected.Request, Code: rejected.Code, Message: rejected.Error}
		if rejected.RequestID == "" || !c.resolve(rejected.RequestID, reply{err: err}) {
			c.logger.Warn("live request rejected", zap.Error(err))
		}
	default:
		return fmt.Errorf("%w: %q", errUnexpectedFrame, incoming.Type)
	}
	return nil
}

func (c *Client) resolve(requestID string, answered reply) bool {
	c.mu.Lock()
	answer, ok := c.pending[requestID]
	delete(c.pending, requestID)
	c.mu.Unlock()
	if ok {
		answer <- answered
	}
	return ok
}

func (c *Client) fail(cause error) {
	c.mu.Lock()
	if websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.err = ErrClosed
	} else {
		c.err = fmt.Errorf("%w: %v", ErrClosed, cause)
	}
	pending := c.pending
	c.pending = make(map[string]chan reply)
	c.mu.Unlock()

	for _, answer := range pending {
		answer <- reply{err: ErrClosed}
	}
	_ = c.socket.Close()
	close(c.done)
}

func cloneEntries(entries []collab.Entry) []collab.Entry {
	cloned := make([]collab.Entry, len(entries))
	for index, entry := range entries {
		cloned[index] = collab.Entry{Key: entry.Key, Value: slices.Clone(entry.Value)}
	}
	return cloned
}

type listeners[T any] struct {
	mu     sync.Mutex
	byID   map[int]func(T)
	nextID int
}

func (l *listeners[T]) subscribe(listener func(T)) func() {
	if listener == nil {
		return func() {}
	}
	l.mu.Lock()
	if l.byID == nil {
		l.byID = make(map[int]func(T))
	}
	l.nextID++
	listenerID := l.nextID
	l.byID[listenerID] = listener
	l.mu.Unlock()
	return sync.OnceFunc(func() {
		l.mu.Lock()
		delete(l.byID, listenerID)
		l.mu.Unlock()
	})
}

func (l *listeners[T]) publish(value T) {
	l.mu.Lock()
	ids := make([]int, 0, len(l.byID))
	for listenerID := range l.byID {
		ids = append(ids, listenerID)
	}
	slices.Sort(ids)
	current := make([]func(T), 0, len(ids))
	for _, listenerID := range ids {
		current = append(current, l.byID[listenerID])
	}
	l.mu.Unlock()
	for _, listener := range current {
		listener(value)
	}
}
