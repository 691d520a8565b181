package drawing

import (
	"sync"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/shapes"
)

// Machine holds the current drawing state and feeds intents through Transition.
type Machine struct {
	mu    sync.Mutex
	state State
	ids   shapes.IDProvider
}

// NewMachine constructs a machine in the Idle state.
func NewMachine(ids shapes.IDProvider) *Machine {
	return &Machine{state: Idle{}, ids: ids}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Handle applies intent. On error the state is left unchanged and no effects are returned.
func (m *Machine) Handle(intent Intent) ([]Effect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, effects, err := Transition(m.state, intent, m.ids)
	if err != nil {
		return nil, err
	}
	m.state = next
	return effects, nil
}

// Cancel discards an in-progress gesture without committing it and reports whether one existed.
// The active tool is kept.
func (m *Machine) Cancel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state.(type) {
	case Drawing, DraggingExisting, FreehandCapture:
		m.state = restingState(m.state.Tool())
		return true
	default:
		return false
	}
}
