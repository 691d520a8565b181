package reactions

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/collab"
	"github.com/jonboulle/clockwork"
)

type recordingChannel struct {
	mu        sync.Mutex
	sent      []json.RawMessage
	listeners []func(collab.Event)
}

func (c *recordingChannel) Broadcast(payload json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, payload)
	return nil
}

func (c *recordingChannel) SubscribeEvents(listener func(collab.Event)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, listener)
	index := len(c.listeners) - 1
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.listeners[index] = nil
	}
}

func (c *recordingChannel) deliver(event collab.Event) {
	c.mu.Lock()
	listeners := append([]func(collab.Event)(nil), c.listeners...)
	c.mu.Unlock()
	for _, listener := range listeners {
		if listener != nil {
			listener(event)
		}
	}
}

func (c *recordingChannel) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type armedSource struct {
	mu      sync.Mutex
	value   string
	at      collab.Point
	pressed bool
}

func (s *armedSource) ArmedReaction() (string, collab.Point, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.at, s.pressed
}

func (s *armedSource) setPressed(pressed bool) {
	s.mu.Lock()
	s.pressed = pressed
	s.mu.Unlock()
}

func newTestBus(testContext *testing.T, source Source) (*Bus, *recordingChannel, *clockwork.FakeClock) {
	testContext.Helper()
	channel := &recordingChannel{}
	clock := clockwork.NewFakeClock()
	bus, err := NewBus(BusConfig{Channel: channel, Source: source, Clock: clock})
	if err != nil {
		testContext.Fatalf("failed to build bus: %v", err)
	}
	return bus, channel, clock
}

func TestReactionLivesForTTL(testContext *testing.T) {
	bus, _, clock := newTestBus(testContext, nil)
	bus.Receive(collab.Event{ConnectionID: 1, Payload: json.RawMessage(`{"x":1,"y":2,"value":"🔥"}`)})

	clock.Advance(TTL - time.Millisecond)
	bus.Prune()
	if len(bus.Visible()) != 1 {
		testContext.Fatalf("expected the reaction to be visible just before the TTL")
	}
	clock.Advance(2 * time.Millisecond)
	if removed := bus.Prune(); removed != 1 || len(bus.Visible()) != 0 {
		testContext.Fatalf("expected the reaction to be pruned just after the TTL")
	}
}

func TestHeldReactionEmitsAtCadenceAndExpires(testContext *testing.T) {
	source := &armedSource{value: "👏", at: collab.Point{X: 40, Y: 50}, pressed: true}
	bus, channel, clock := newTestBus(testContext, source)

	held := 350 * time.Millisecond
	var last time.Time
	for elapsed := EmitInterval; elapsed <= held; elapsed += EmitInterval {
		clock.Advance(EmitInterval)
		emitted, err := bus.Emit()
		if err != nil || !emitted {
			testContext.Fatalf("expected an emission at %v, got %v (%v)", elapsed, emitted, err)
		}
		last = clock.Now()
	}
	source.setPressed(false)
	clock.Advance(held % EmitInterval)
	if emitted, _ := bus.Emit(); emitted {
		testContext.Fatalf("did not expect an emission after release")
	}

	sent := channel.sentCount()
	if sent < 3 || sent > 4 {
		testContext.Fatalf("expected 3 or 4 broadcasts, got %d", sent)
	}
	var event Event
	if err := json.Unmarshal(channel.sent[0], &event); err != nil || event.Value != "👏" || event.X != 40 {
		testContext.Fatalf("unexpected payload %s", channel.sent[0])
	}

	clock.Advance(last.Add(4350 * time.Millisecond).Sub(clock.Now()))
	bus.Prune()
	if visible := bus.Visible(); len(visible) != 0 {
		testContext.Fatalf("expected every reaction to be pruned, got %d", len(visible))
	}
}

func TestRemoteReactionsAreStampedAtReceipt(testContext *testing.T) {
	bus, _, clock := newTestBus(testContext, nil)
	clock.Advance(time.Minute)
	bus.Receive(collab.Event{ConnectionID: 2, Payload: json.RawMessage(`{"x":3,"y":4,"value":"😍"}`)})

	visible := bus.Visible()
	if len(visible) != 1 || !visible[0].Timestamp.Equal(clock.Now()) || visible[0].Point.Y != 4 {
		testContext.Fatalf("unexpected remote reaction %+v", visible)
	}
}

func TestMalformedRemoteReactionIsDropped(testContext *testing.T) {
	bus, _, _ := newTestBus(testContext, nil)
	bus.Receive(collab.Event{ConnectionID: 2, Payload: json.RawMessage(`not json`)})
	bus.Receive(collab.Event{ConnectionID: 2, Payload: json.RawMessage(`{"x":1}`)})
	if len(bus.Visible()) != 0 {
		testContext.Fatalf("expected malformed reactions to be dropped")
	}
}

func TestStartRunsTimersUntilStop(testContext *testing.T) {
	source := &armedSource{value: "👍", pressed: true}
	bus, channel, clock := newTestBus(testContext, source)
	if err := bus.Start(context.Background()); err != nil {
		testContext.Fatalf("start: %v", err)
	}
	if err := bus.Start(context.Background()); err == nil {
		testContext.Fatalf("expected a second start to fail")
	}

	clock.Advance(EmitInterval)
	deadline := time.Now().Add(2 * time.Second)
	for channel.sentCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if channel.sentCount() == 0 {
		testContext.Fatalf("expected the emit timer to broadcast")
	}

	channel.deliver(collab.Event{ConnectionID: 9, Payload: json.RawMessage(`{"x":0,"y":0,"value":"🎉"}`)})
	if len(bus.Visible()) < 2 {
		testContext.Fatalf("expected the subscribed bus to collect the remote reaction")
	}

	bus.Stop()
	sent := channel.sentCount()
	clock.Advance(time.Second)
	time.Sleep(20 * time.Millisecond)
	if channel.sentCount() != sent {
		testContext.Fatalf("expected no broadcasts after stop")
	}
	before := len(bus.Visible())
	channel.deliver(collab.Event{ConnectionID: 9, Payload: json.RawMessage(`{"x":0,"y":0,"value":"🎉"}`)})
	if len(bus.Visible()) != before {
		testContext.Fatalf("expected stop to detach from the channel")
	}
	bus.Stop()
}

func TestSubscribersSeeAddsAndPrunes(testContext *testing.T) {
	bus, _, clock := newTestBus(testContext, nil)
	var sizes []int
	bus.Subscribe(func(reactions []Reaction) { sizes = append(sizes, len(reactions)) })

	bus.Receive(collab.Event{ConnectionID: 1, Payload: json.RawMessage(`{"x":0,"y":0,"value":"👀"}`)})
	bus.Prune()
	clock.Advance(TTL + time.Millisecond)
	bus.Prune()

	if len(sizes) != 2 || sizes[0] != 1 || sizes[1] != 0 {
		testContext.Fatalf("expected one add and one prune notification, got %v", sizes)
	}
}

func (c *recordingChannel) attached() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, listener := range c.listeners {
		if listener != nil {
			count++
		}
	}
	return count
}

func TestCancelledContextDetachesAndAllowsRestart(testContext *testing.T) {
	bus, channel, _ := newTestBus(testContext, nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := bus.Start(ctx); err != nil {
		testContext.Fatalf("start: %v", err)
	}
	if channel.attached() != 1 {
		testContext.Fatalf("expected one channel subscription, got %d", channel.attached())
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for channel.attached() != 0 {
		if time.Now().After(deadline) {
			testContext.Fatalf("expected the subscription to be dropped once ctx ended")
		}
		time.Sleep(time.Millisecond)
	}

	if err := bus.Start(context.Background()); err != nil {
		testContext.Fatalf("expected restart after ctx ended, got %v", err)
	}
	defer bus.Stop()
	if channel.attached() != 1 {
		testContext.Fatalf("expected a fresh subscription after restart, got %d", channel.attached())
	}
	if err := bus.Start(context.Background()); err == nil {
		testContext.Fatalf("expected a running bus to refuse a second start")
	}
}
