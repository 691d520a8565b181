// Package presence publishes the local pointer and chat draft as presence and turns other
// participants' presence into remote cursors.
package presence

import (
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/collab"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	// DefaultThrottle bounds how often cursor positions are published.
	DefaultThrottle = 16 * time.Millisecond
	// MaxMessageLength caps the chat draft in characters.
	MaxMessageLength = 50
)

var errMissingChannel = errors.New("presence: channel is required")

// Palette colors remote cursors by connection id.
var Palette = []string{"#DC2626", "#D97706", "#059669", "#7C3AED", "#DB2777"}

// ColorFor returns the palette entry for connectionID. It is stable for the life of a connection.
func ColorFor(connectionID int) string {
	index := connectionID % len(Palette)
	if index < 0 {
		index += len(Palette)
	}
	return Palette[index]
}

// Mode is what the local cursor is currently showing.
type Mode int

const (
	ModeHidden Mode = iota
	ModeChat
	ModeReactionSelector
	ModeReaction
)

func (m Mode) String() string {
	switch m {
	case ModeChat:
		return "chat"
	case ModeReactionSelector:
		return "reaction_selector"
	case ModeReaction:
		return "reaction"
	default:
		return "hidden"
	}
}

// CursorState is the local cursor mode with the fields that mode uses.
type CursorState struct {
	Mode            Mode
	Message         string
	PreviousMessage string
	Reaction        string
	Pressed         bool
}

// RemoteCursor is another participant's visible cursor.
type RemoteCursor struct {
	ConnectionID int          `json:"connectionId"`
	Position     collab.Point `json:"position"`
	Color        string       `json:"color"`
	Message      *string      `json:"message,omitempty"`
}

type BroadcasterConfig struct {
	Channel  collab.PresenceChannel
	Clock    clockwork.Clock
	Throttle time.Duration
	// ChatIdleTimeout hides chat after this long without typing. Zero disables it.
	ChatIdleTimeout time.Duration
	Logger          *zap.Logger
}

// Broadcaster owns the local cursor mode and the presence it publishes.
type Broadcaster struct {
	channel  collab.PresenceChannel
	clock    clockwork.Clock
	throttle time.Duration
	idle     time.Duration
	logger   *zap.Logger

	mu            sync.Mutex
	state         CursorState
	pointer       *collab.Point
	lastPublished time.Time
	pending       *collab.Point
	flushTimer    clockwork.Timer
	idleTimer     clockwork.Timer
}

func NewBroadcaster(cfg BroadcasterConfig) (*Broadcaster, error) {
	if cfg.Channel == nil {
		return nil, errMissingChannel
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	throttle := cfg.Throttle
	if throttle <= 0 {
		throttle = DefaultThrottle
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		channel:  cfg.Channel,
		clock:    clock,
		throttle: throttle,
		idle:     cfg.ChatIdleTimeout,
		logger:   logger,
	}, nil
}

// State returns the local cursor state.
func (b *Broadcaster) State() CursorState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Pointer is the last known local pointer position, or false once it left the surface.
func (b *Broadcaster) Pointer() (collab.Point, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pointer == nil {
		return collab.Point{}, false
	}
	return *b.pointer, true
}

// ArmedReaction reports the reaction to emit while one is armed and the pointer is pressed.
func (b *Broadcaster) ArmedReaction() (string, collab.Point, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.Mode != ModeReaction || !b.state.Pressed || b.pointer == nil {
		return "", collab.Point{}, false
	}
	return b.state.Reaction, *b.pointer, true
}

// PointerMove records the pointer in document space. While the reaction selector is open the
// published cursor stays where it was.
func (b *Broadcaster) PointerMove(at collab.Point) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.Mode == ModeReactionSelector && b.pointer != nil {
		return
	}
	b.pointer = &at
	b.publishCursorLocked(at)
}

// PointerDown publishes the cursor immediately and presses an armed reaction.
func (b *Broadcaster) PointerDown(at collab.Point) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pointer = &at
	b.cancelFlushLocked()
	b.publishLocked(collab.WithCursor(&at))
	if b.state.Mode == ModeReaction {
		b.state.Pressed = true
	}
}

func (b *Broadcaster) PointerUp() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.Mode == ModeReaction {
		b.state.Pressed = false
	}
}

// PointerLeave hides the cursor for everyone and drops any chat draft.
func (b *Broadcaster) PointerLeave() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelFlushLocked()
	b.stopIdleLocked()
	b.pointer = nil
	b.state = CursorState{Mode: ModeHidden}
	b.publishLocked(collab.WithCursor(nil), collab.WithMessage(nil))
}

// HandleKey switches cursor modes: "/" opens chat, "e" opens the reaction selector and "Escape"
// hides the cursor. Keys typed into an open chat are not shortcuts.
func (b *Broadcaster) HandleKey(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.Mode == ModeChat && key != "Escape" {
		return false
	}
	switch key {
	case "/":
		b.state = CursorState{Mode: ModeChat}
		b.armIdleLocked()
		return true
	case "e":
		b.state = CursorState{Mode: ModeReactionSelector}
		return true
	case "Escape":
		b.hideLocked()
		return true
	default:
		return false
	}
}

// OpenChat enters chat mode from a menu.
func (b *Broadcaster) OpenChat() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = CursorState{Mode: ModeChat}
	b.armIdleLocked()
}

// OpenReactionSelector shows the reaction picker.
func (b *Broadcaster) OpenReactionSelector() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopIdleLocked()
	b.state = CursorState{Mode: ModeReactionSelector}
}

// SelectReaction arms value; it is emitted while the pointer is pressed.
func (b *Broadcaster) SelectReaction(value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = CursorState{Mode: ModeReaction, Reaction: value}
}

// Type replaces the chat draft and publishes it. Drafts are cut to MaxMessageLength characters.
func (b *Broadcaster) Type(draft string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.Mode != ModeChat {
		return false
	}
	draft = truncate(draft, MaxMessageLength)
	b.state.Message = draft
	b.publishLocked(collab.WithMessage(&draft))
	b.armIdleLocked()
	return true
}

// Submit moves the draft into the previous message and starts a new one.
func (b *Broadcaster) Submit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.Mode != ModeChat {
		return false
	}
	b.state = CursorState{Mode: ModeChat, PreviousMessage: b.state.Message}
	empty := ""
	b.publishLocked(collab.WithMessage(&empty))
	b.armIdleLocked()
	return true
}

// RemoteCursors lists other participants whose cursor is on the surface.
func (b *Broadcaster) RemoteCursors() []RemoteCursor {
	return RemoteCursors(b.channel.Others())
}

// RemoteCursors maps participants to visible cursors, skipping those without one.
func RemoteCursors(others []collab.Participant) []RemoteCursor {
	cursors := make([]RemoteCursor, 0, len(others))
	for _, participant := range others {
		if participant.Presence.Cursor == nil {
			continue
		}
		color := participant.Presence.CursorColor
		if color == "" {
			color = ColorFor(participant.ConnectionID)
		}
		cursors = append(cursors, RemoteCursor{
			ConnectionID: participant.ConnectionID,
			Position:     *participant.Presence.Cursor,
			Color:        color,
			Message:      participant.Presence.Message,
		})
	}
	return cursors
}

// Close stops pending timers. Nothing is published afterwards by them.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelFlushLocked()
	b.stopIdleLocked()
}

func (b *Broadcaster) hideLocked() {
	b.stopIdleLocked()
	b.state = CursorState{Mode: ModeHidden}
	empty := ""
	b.publishLocked(collab.WithMessage(&empty))
}

// publishCursorLocked publishes at most once per throttle window; the latest position inside a
// window is sent when it closes.
func (b *Broadcaster) publishCursorLocked(at collab.Point) {
	now := b.clock.Now()
	elapsed := now.Sub(b.lastPublished)
	if b.lastPublished.IsZero() || elapsed >= b.throttle {
		b.cancelFlushLocked()
		b.publishLocked(collab.WithCursor(&at))
		return
	}
	b.pending = &at
	if b.flushTimer == nil {
		b.flushTimer = b.clock.AfterFunc(b.throttle-elapsed, b.flush)
	}
}

func (b *Broadcaster) flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushTimer = nil
	if b.pending == nil {
		return
	}
	at := *b.pending
	b.pending = nil
	b.publishLocked(collab.WithCursor(&at))
}

func (b *Broadcaster) publishLocked(patches ...collab.PresencePatch) {
	b.lastPublished = b.clock.Now()
	b.channel.UpdatePresence(patches...)
}

func (b *Broadcaster) cancelFlushLocked() {
	b.pending = nil
	if b.flushTimer != nil {
		b.flushTimer.Stop()
		b.flushTimer = nil
	}
}

func (b *Broadcaster) armIdleLocked() {
	if b.idle <= 0 {
		return
	}
	b.stopIdleLocked()
	b.idleTimer = b.clock.AfterFunc(b.idle, b.idleExpired)
}

func (b *Broadcaster) idleExpired() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.idleTimer = nil
	if b.state.Mode != ModeChat {
		return
	}
	b.logger.Debug("chat hidden after idle timeout")
	b.hideLocked()
}

func (b *Broadcaster) stopIdleLocked() {
	if b.idleTimer != nil {
		b.idleTimer.Stop()
		b.idleTimer = nil
	}
}

func truncate(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit])
}
