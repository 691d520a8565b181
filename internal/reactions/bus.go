// Package reactions runs the short-lived emoji reactions shown over the canvas.
package reactions

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/collab"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	PruneInterval = time.Second
	EmitInterval  = 100 * time.Millisecond
	TTL           = 4 * time.Second
)

var (
	errMissingChannel = errors.New("reactions: broadcast channel is required")
	errAlreadyStarted = errors.New("reactions: bus already started")
)

// Reaction is one entry of the decaying list. Remote reactions are stamped when received.
type Reaction struct {
	Point     collab.Point `json:"point"`
	Value     string       `json:"value"`
	Timestamp time.Time    `json:"timestamp"`
}

// Event is the broadcast payload.
type Event struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Value string  `json:"value"`
}

// Source reports the reaction to emit, if one is armed and pressed, at the pointer position.
type Source interface {
	ArmedReaction() (value string, at collab.Point, ok bool)
}

type BusConfig struct {
	Channel collab.BroadcastChannel
	// Source is optional; without it the bus only collects remote reactions.
	Source Source
	Clock  clockwork.Clock
	Logger *zap.Logger
}

// Bus merges local and remote reactions into one list and expires them after TTL.
type Bus struct {
	channel collab.BroadcastChannel
	source  Source
	clock   clockwork.Clock
	logger  *zap.Logger

	mu        sync.Mutex
	reactions []Reaction
	listeners []func([]Reaction)

	lifecycle   sync.Mutex
	running     context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	unsubscribe func()
}

func NewBus(cfg BusConfig) (*Bus, error) {
	if cfg.Channel == nil {
		return nil, errMissingChannel
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		channel: cfg.Channel,
		source:  cfg.Source,
		clock:   clock,
		logger:  logger,
	}, nil
}

// Start subscribes to remote reactions and runs the prune and emit timers until Stop or ctx ends.
// A bus whose ctx has ended detaches from the channel and may be started again.
func (b *Bus) Start(ctx context.Context) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()
	if b.done != nil {
		if b.running.Err() == nil {
			return errAlreadyStarted
		}
		<-b.done
		b.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	pruneTicker := b.clock.NewTicker(PruneInterval)
	emitTicker := b.clock.NewTicker(EmitInterval)
	done := make(chan struct{})
	unsubscribe := sync.OnceFunc(b.channel.SubscribeEvents(b.Receive))

	b.running = runCtx
	b.cancel = cancel
	b.done = done
	b.unsubscribe = unsubscribe

	go func() {
		defer close(done)
		defer unsubscribe()
		defer pruneTicker.Stop()
		defer emitTicker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-pruneTicker.Chan():
				b.Prune()
			case <-emitTicker.Chan():
				if _, err := b.Emit(); err != nil {
					b.logger.Warn("reaction broadcast failed", zap.Error(err))
				}
			}
		}
	}()
	return nil
}

// Stop halts both timers and detaches from the channel. It waits for the timer loop to exit.
func (b *Bus) Stop() {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()
	if b.done == nil {
		return
	}
	b.cancel()
	<-b.done
	b.unsubscribe()
	b.running, b.cancel, b.done, b.unsubscribe = nil, nil, nil, nil
}

// Subscribe registers a listener for the reaction list after every change.
func (b *Bus) Subscribe(listener func([]Reaction)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, listener)
}

// Visible returns the current list, oldest first.
func (b *Bus) Visible() []Reaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Reaction(nil), b.reactions...)
}

// Prune keeps reactions younger than TTL and reports how many were dropped.
func (b *Bus) Prune() int {
	cutoff := b.clock.Now().Add(-TTL)
	b.mu.Lock()
	kept := b.reactions[:0]
	for _, reaction := range b.reactions {
		if reaction.Timestamp.After(cutoff) {
			kept = append(kept, reaction)
		}
	}
	removed := len(b.reactions) - len(kept)
	b.reactions = kept
	snapshot, listeners := b.snapshotLocked(removed > 0)
	b.mu.Unlock()

	notify(listeners, snapshot)
	return removed
}

// Emit appends and broadcasts the armed reaction, if any, and reports whether it did.
func (b *Bus) Emit() (bool, error) {
	if b.source == nil {
		return false, nil
	}
	value, at, ok := b.source.ArmedReaction()
	if !ok {
		return false, nil
	}
	b.add(Reaction{Point: at, Value: value, Timestamp: b.clock.Now()})

	payload, err := json.Marshal(Event{X: at.X, Y: at.Y, Value: value})
	if err != nil {
		return true, err
	}
	return true, b.channel.Broadcast(payload)
}

// Receive appends a reaction broadcast by another participant. Payloads that do not decode are
// logged and dropped.
func (b *Bus) Receive(event collab.Event) {
	var decoded Event
	if err := json.Unmarshal(event.Payload, &decoded); err != nil || decoded.Value == "" {
		b.logger.Warn("reaction event dropped",
			zap.Int("connection_id", event.ConnectionID),
			zap.Error(err))
		return
	}
	b.add(Reaction{
		Point:     collab.Point{X: decoded.X, Y: decoded.Y},
		Value:     decoded.Value,
		Timestamp: b.clock.Now(),
	})
}

func (b *Bus) add(reaction Reaction) {
	b.mu.Lock()
	b.reactions = append(b.reactions, reaction)
	snapshot, listeners := b.snapshotLocked(true)
	b.mu.Unlock()

	notify(listeners, snapshot)
}

func (b *Bus) snapshotLocked(changed bool) ([]Reaction, []func([]Reaction)) {
	if !changed || len(b.listeners) == 0 {
		return nil, nil
	}
	return append([]Reaction(nil), b.reactions...), append([]func([]Reaction)(nil), b.listeners...)
}

func notify(listeners []func([]Reaction), snapshot []Reaction) {
	for _, listener := range listeners {
		listener(snapshot)
	}
}
