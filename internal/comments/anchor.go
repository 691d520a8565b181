// Package comments places new comment threads on the canvas and manages the pinned threads.
package comments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/collab"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// FreshThreadAge bounds the age of threads that open expanded; older ones open minimized.
const FreshThreadAge = 100 * time.Millisecond

var (
	// ErrNotPlaced indicates a submit without an open composer.
	ErrNotPlaced = errors.New("comments: composer is not placed")
	// ErrEmptyBody indicates a submit without text.
	ErrEmptyBody = errors.New("comments: body is required")

	errMissingStore = errors.New("comments: thread store is required")
)

// State is the placement mode of the new-thread composer.
type State int

const (
	Idle State = iota
	Placing
	Placed
	Dragging
)

func (s State) String() string {
	switch s {
	case Placing:
		return "placing"
	case Placed:
		return "placed"
	case Dragging:
		return "dragging"
	default:
		return "idle"
	}
}

// Pin is an unresolved thread shown at its anchor.
type Pin struct {
	ThreadID string       `json:"threadId"`
	Position collab.Point `json:"position"`
	ZIndex   int          `json:"zIndex"`
	Expanded bool         `json:"expanded"`
	Comments int          `json:"comments"`
}

type AnchorConfig struct {
	Store  collab.ThreadStore
	Clock  clockwork.Clock
	Logger *zap.Logger
}

// Anchor tracks the composer placement and the expanded state of pinned threads.
type Anchor struct {
	store  collab.ThreadStore
	clock  clockwork.Clock
	logger *zap.Logger

	mu         sync.Mutex
	state      State
	composer   collab.Point
	dragOffset collab.Point
	lastPath   []Element
	captured   bool
	expanded   map[string]bool
}

func NewAnchor(cfg AnchorConfig) (*Anchor, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Anchor{
		store:    cfg.Store,
		clock:    clock,
		logger:   logger,
		expanded: make(map[string]bool),
	}, nil
}

func (a *Anchor) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Composer is the composer position while one is open.
func (a *Anchor) Composer() (collab.Point, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != Placed && a.state != Dragging {
		return collab.Point{}, false
	}
	return a.composer, true
}

// Toggle is the toolbar button: it starts placing, or abandons whatever is in progress.
func (a *Anchor) Toggle() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == Idle {
		a.state = Placing
	} else {
		a.resetLocked()
	}
	return a.state
}

// PointerDown remembers the element path of the first press while placing.
func (a *Anchor) PointerDown(path []Element) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != Placing || a.captured {
		return
	}
	a.lastPath = append([]Element(nil), path...)
	a.captured = true
}

// Click places the composer at the click while placing and closes an open composer on a click
// outside it. Clicks that end a composer drag are ignored.
func (a *Anchor) Click(at collab.Point) State {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state {
	case Placing:
		a.state = Placed
		a.composer = at
	case Placed:
		a.resetLocked()
	}
	return a.state
}

// ContextMenu cancels placing. It reports whether it did.
func (a *Anchor) ContextMenu() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != Placing {
		return false
	}
	a.resetLocked()
	return true
}

// BeginDrag grabs the open composer at grab.
func (a *Anchor) BeginDrag(grab collab.Point) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != Placed {
		return false
	}
	a.state = Dragging
	a.dragOffset = collab.Point{X: grab.X - a.composer.X, Y: grab.Y - a.composer.Y}
	return true
}

// DragMove follows the pointer with the composer; path becomes the anchor path for submit.
func (a *Anchor) DragMove(at collab.Point, path []Element) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != Dragging {
		return
	}
	a.composer = collab.Point{X: at.X - a.dragOffset.X, Y: at.Y - a.dragOffset.Y}
	if len(path) > 0 {
		a.lastPath = append([]Element(nil), path...)
		a.captured = true
	}
}

func (a *Anchor) EndDrag() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == Dragging {
		a.state = Placed
	}
}

// Submit creates a thread at the composer on top of every existing thread and returns to Idle.
func (a *Anchor) Submit(ctx context.Context, body string) (collab.Thread, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return collab.Thread{}, ErrEmptyBody
	}
	a.mu.Lock()
	if a.state != Placed {
		a.mu.Unlock()
		return collab.Thread{}, ErrNotPlaced
	}
	position := a.composer
	selectors, ok := Selectors(a.lastPath)
	if !ok {
		selectors = nil
	}
	a.mu.Unlock()

	threads, err := a.store.Threads(ctx)
	if err != nil {
		return collab.Thread{}, fmt.Errorf("comments.submit: %w", err)
	}
	thread, err := a.store.CreateThread(ctx, collab.NewThread{
		Body: body,
		Metadata: collab.ThreadMetadata{
			CursorX:         position.X,
			CursorY:         position.Y,
			ZIndex:          collab.MaxZIndex(threads) + 1,
			Resolved:        false,
			CursorSelectors: selectors,
		},
	})
	if err != nil {
		a.logger.Warn("thread not created", zap.Error(err))
		return collab.Thread{}, fmt.Errorf("comments.submit: %w", err)
	}

	a.mu.Lock()
	a.resetLocked()
	a.expanded[thread.ID] = true
	a.mu.Unlock()
	return thread, nil
}

// Pins lists unresolved threads. A thread not toggled yet is expanded only while fresh.
func (a *Anchor) Pins(ctx context.Context) ([]Pin, error) {
	threads, err := a.store.Threads(ctx)
	if err != nil {
		return nil, fmt.Errorf("comments.pins: %w", err)
	}
	now := a.clock.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	pins := make([]Pin, 0, len(threads))
	for _, thread := range threads {
		if thread.Metadata.Resolved {
			continue
		}
		expanded, toggled := a.expanded[thread.ID]
		if !toggled {
			expanded = now.Sub(thread.CreatedAt) < FreshThreadAge
		}
		pins = append(pins, Pin{
			ThreadID: thread.ID,
			Position: collab.Point{X: thread.Metadata.CursorX, Y: thread.Metadata.CursorY},
			ZIndex:   thread.Metadata.ZIndex,
			Expanded: expanded,
			Comments: len(thread.Comments),
		})
	}
	return pins, nil
}

// TogglePin flips a pin between minimized and expanded and brings it to the front.
func (a *Anchor) TogglePin(ctx context.Context, threadID string) (bool, error) {
	threads, err := a.store.Threads(ctx)
	if err != nil {
		return false, fmt.Errorf("comments.toggle: %w", err)
	}
	now := a.clock.Now()
	a.mu.Lock()
	expanded, toggled := a.expanded[threadID]
	if !toggled {
		for _, thread := range threads {
			if thread.ID == threadID {
				expanded = now.Sub(thread.CreatedAt) < FreshThreadAge
			}
		}
	}
	expanded = !expanded
	a.expanded[threadID] = expanded
	a.mu.Unlock()

	if _, err := a.focus(ctx, threadID, threads); err != nil {
		return expanded, err
	}
	return expanded, nil
}

// Focus raises threadID above every other thread unless it already has the highest zIndex.
// It reports whether the zIndex changed.
func (a *Anchor) Focus(ctx context.Context, threadID string) (bool, error) {
	threads, err := a.store.Threads(ctx)
	if err != nil {
		return false, fmt.Errorf("comments.focus: %w", err)
	}
	return a.focus(ctx, threadID, threads)
}

func (a *Anchor) focus(ctx context.Context, threadID string, threads []collab.Thread) (bool, error) {
	maxZIndex := collab.MaxZIndex(threads)
	for _, thread := range threads {
		if thread.ID != threadID {
			continue
		}
		if thread.Metadata.ZIndex == maxZIndex {
			return false, nil
		}
		next := maxZIndex + 1
		if err := a.store.EditThreadMetadata(ctx, threadID, collab.MetadataPatch{ZIndex: &next}); err != nil {
			a.logger.Warn("thread not raised", zap.String("thread_id", threadID), zap.Error(err))
			return false, fmt.Errorf("comments.focus: %w", err)
		}
		return true, nil
	}
	return false, nil
}

func (a *Anchor) resetLocked() {
	a.state = Idle
	a.composer = collab.Point{}
	a.dragOffset = collab.Point{}
	a.lastPath = nil
	a.captured = false
}
