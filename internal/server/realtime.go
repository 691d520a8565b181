package server

import (
	"encoding/json"
	"sync"
)

const (
	LiveMessageWelcome = "welcome"
	LiveMessageStorage = "storage"
	LiveMessageOthers  = "others"
	LiveMessageThreads = "threads"
	LiveMessageEvent   = "event"
	LiveMessageError   = "error"
	LiveMessageAck     = "ack"

	defaultEventBuffer = 64
)

// LiveMessage is one server frame on the live channel.
type LiveMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// liveOutbox queues frames for one websocket writer. Snapshot frames (storage, others, threads)
// replace any unsent frame of the same type; event and error frames queue up to a fixed buffer
// and newer ones are dropped once it is full. Replies to the client's own requests go through
// PublishReply and are never dropped.
type liveOutbox struct {
	mu         sync.Mutex
	order      []string
	snapshots  map[string]LiveMessage
	events     []LiveMessage
	bufferSize int
	dropped    int
	closed     bool
	wake       chan struct{}
}

func newLiveOutbox(bufferSize int) *liveOutbox {
	if bufferSize <= 0 {
		bufferSize = defaultEventBuffer
	}
	return &liveOutbox{
		snapshots:  make(map[string]LiveMessage),
		bufferSize: bufferSize,
		wake:       make(chan struct{}, 1),
	}
}

// Publish queues message and reports whether it was accepted.
func (o *liveOutbox) Publish(message LiveMessage) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	accepted := true
	switch message.Type {
	case LiveMessageEvent, LiveMessageError, LiveMessageAck:
		if len(o.events) >= o.bufferSize {
			o.dropped++
			accepted = false
		} else {
			o.events = append(o.events, message)
			o.order = append(o.order, message.Type)
		}
	default:
		if _, pending := o.snapshots[message.Type]; !pending {
			o.order = append(o.order, message.Type)
		}
		o.snapshots[message.Type] = message
	}
	o.mu.Unlock()

	if accepted {
		o.signal()
	}
	return accepted
}

// PublishReply queues an ack or error frame answering a client request, ignoring the buffer limit.
func (o *liveOutbox) PublishReply(message LiveMessage) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	o.events = append(o.events, message)
	o.order = append(o.order, message.Type)
	o.mu.Unlock()
	o.signal()
	return true
}

func (o *liveOutbox) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Drain returns the queued frames in publish order, with each snapshot type at the position of
// its first unsent publish.
func (o *liveOutbox) Drain() []LiveMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.order) == 0 {
		return nil
	}
	messages := make([]LiveMessage, 0, len(o.order))
	eventIndex := 0
	for _, messageType := range o.order {
		switch messageType {
		case LiveMessageEvent, LiveMessageError, LiveMessageAck:
			messages = append(messages, o.events[eventIndex])
			eventIndex++
		default:
			messages = append(messages, o.snapshots[messageType])
		}
	}
	o.order = o.order[:0]
	o.events = o.events[:0]
	clear(o.snapshots)
	return messages
}

// Wake signals that frames are waiting.
func (o *liveOutbox) Wake() <-chan struct{} {
	return o.wake
}

// Dropped counts events rejected because the buffer was full.
func (o *liveOutbox) Dropped() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}

func (o *liveOutbox) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
}
