package rooms

import (
	"slices"
	"sync"
)

// listenerSet fans values out to registered callbacks. Publish copies the callbacks under the
// read lock and invokes them after releasing it, so callbacks may subscribe or unsubscribe.
type listenerSet[T any] struct {
	mu        sync.RWMutex
	listeners map[int64]func(T)
	nextID    int64
}

func newListenerSet[T any]() *listenerSet[T] {
	return &listenerSet[T]{listeners: make(map[int64]func(T))}
}

func (s *listenerSet[T]) Subscribe(listener func(T)) func() {
	if listener == nil {
		return func() {}
	}
	s.mu.Lock()
	s.nextID++
	listenerID := s.nextID
	s.listeners[listenerID] = listener
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, listenerID)
			s.mu.Unlock()
		})
	}
}

func (s *listenerSet[T]) Publish(value T) {
	s.mu.RLock()
	if len(s.listeners) == 0 {
		s.mu.RUnlock()
		return
	}
	ordered := make([]int64, 0, len(s.listeners))
	for listenerID := range s.listeners {
		ordered = append(ordered, listenerID)
	}
	copies := make(map[int64]func(T), len(s.listeners))
	for listenerID, listener := range s.listeners {
		copies[listenerID] = listener
	}
	s.mu.RUnlock()

	slices.Sort(ordered)
	for _, listenerID := range ordered {
		copies[listenerID](value)
	}
}

func (s *listenerSet[T]) Clear() {
	s.mu.Lock()
	s.listeners = make(map[int64]func(T))
	s.mu.Unlock()
}

// deliveryQueue runs one connection's listener calls one at a time, in the order the room
// queued them. Calls are queued under the room lock, so that order is commit order.
type deliveryQueue struct {
	mu       sync.Mutex
	pending  []func()
	draining bool
}

func (q *deliveryQueue) push(call func()) {
	q.mu.Lock()
	q.pending = append(q.pending, call)
	q.mu.Unlock()
}

// drain runs queued calls until none are left. When another drain is already running, on another
// goroutine or further up this one's stack, it returns at once and that drain delivers them.
func (q *deliveryQueue) drain() {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.mu.Unlock()

	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		call := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		call()
	}
}
