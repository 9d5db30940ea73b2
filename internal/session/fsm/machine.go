package fsm

import (
	"fmt"
	"strings"
	"sync"
)

// State describes where a stream session is in its lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateStreaming State = "streaming"
	StateEnded     State = "ended"
	StateClosed    State = "closed"
)

// Mode decides what an end-of-stream marker does to the effect instance.
type Mode string

const (
	// ModeContinuous keeps the instance warm across end-of-stream markers.
	ModeContinuous Mode = "continuous"
	// ModeSegmented gives each stream a fresh instance.
	ModeSegmented Mode = "segmented"
)

// Machine is a lightweight deterministic session state machine. Closed is
// terminal.
type Machine struct {
	mu       sync.RWMutex
	state    State
	mode     Mode
	segments int
}

// New creates a state machine in idle, continuous mode.
func New() *Machine {
	return &Machine{
		state: StateIdle,
		mode:  ModeContinuous,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Mode returns the current end-of-stream policy.
func (m *Machine) Mode() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// Segments counts streams started on this session.
func (m *Machine) Segments() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.segments
}

// SetMode updates the policy. Unknown names mean continuous.
func (m *Machine) SetMode(mode string) Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch strings.TrimSpace(strings.ToLower(mode)) {
	case string(ModeSegmented):
		m.mode = ModeSegmented
	default:
		m.mode = ModeContinuous
	}
	return m.mode
}

// OnAudio records an audio callback. It reports whether the caller must
// build a fresh effect instance before processing it.
func (m *Machine) OnAudio() (fresh bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateIdle:
		m.segments++
	case StateEnded:
		m.segments++
		fresh = m.mode == ModeSegmented
	case StateClosed:
		return false
	}
	m.state = StateStreaming
	return fresh
}

// OnEndOfStream marks the current stream finished.
func (m *Machine) OnEndOfStream() {
	m.transition(StateEnded)
}

// OnClose ends the session.
func (m *Machine) OnClose() {
	m.transition(StateClosed)
}

// Force sets state unconditionally, even out of closed.
func (m *Machine) Force(state State) error {
	switch state {
	case StateIdle, StateStreaming, StateEnded, StateClosed:
		m.mu.Lock()
		m.state = state
		m.mu.Unlock()
		return nil
	default:
		return fmt.Errorf("invalid state: %s", state)
	}
}

func (m *Machine) transition(state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateClosed {
		return
	}
	m.state = state
}
