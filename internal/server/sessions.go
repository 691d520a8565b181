package server

import (
	"context"
	"sync"
)

// SessionGroup owns the lifetime of live websocket sessions. http.Server.Shutdown does not see
// hijacked connections, so the server ends them through the group before closing the store.
type SessionGroup struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	active sync.WaitGroup
}

// NewSessionGroup returns a group whose sessions end when parent does or when Shutdown is called.
func NewSessionGroup(parent context.Context) *SessionGroup {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &SessionGroup{ctx: ctx, cancel: cancel}
}

// begin registers a session and returns its context, or false once the group is shutting down.
func (g *SessionGroup) begin() (context.Context, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, false
	}
	g.active.Add(1)
	return g.ctx, true
}

func (g *SessionGroup) end() {
	g.active.Done()
}

// Shutdown refuses new sessions, ends the running ones and waits for them to leave their rooms.
func (g *SessionGroup) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.cancel()

	done := make(chan struct{})
	go func() {
		g.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
