package fsm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// State is a dialog state as reported by the server's state event.
type State string

const (
	StateIdle       State = "Idle"
	StateListening  State = "Listening"
	StateThinking   State = "Thinking"
	StateResponding State = "Responding"
)

// Mode mirrors the upstream interaction mode.
type Mode string

const (
	ModePushToTalk Mode = "push2talk"
	ModeTapToTalk  Mode = "tap2talk"
	ModeDuplex     Mode = "duplex"
)

// Machine tracks the server-reported dialog state so a caller can pace its turns.
type Machine struct {
	mu      sync.RWMutex
	state   State
	mode    Mode
	turns   int
	changed chan struct{}
}

// New creates a machine in Idle with push-to-talk mode.
func New() *Machine {
	return &Machine{
		state:   StateIdle,
		mode:    ModePushToTalk,
		changed: make(chan struct{}),
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Mode returns the current interaction mode.
func (m *Machine) Mode() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// Turns returns the number of completed responses.
func (m *Machine) Turns() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.turns
}

// SetMode updates the interaction mode. Unknown values fall back to push-to-talk.
func (m *Machine) SetMode(mode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch strings.TrimSpace(strings.ToLower(mode)) {
	case string(ModeTapToTalk):
		m.mode = ModeTapToTalk
	case string(ModeDuplex):
		m.mode = ModeDuplex
	default:
		m.mode = ModePushToTalk
	}
}

// ParseState normalizes a server state name.
func ParseState(raw string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "idle":
		return StateIdle, nil
	case "listening":
		return StateListening, nil
	case "thinking":
		return StateThinking, nil
	case "responding":
		return StateResponding, nil
	default:
		return "", fmt.Errorf("invalid state: %q", raw)
	}
}

// Observe applies a server-reported state. It reports whether the
// transition completed a response turn.
func (m *Machine) Observe(raw string) (bool, error) {
	state, err := ParseState(raw)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	turnDone := m.state == StateResponding && state != StateResponding
	if turnDone {
		m.turns++
	}
	m.transitionLocked(state)
	return turnDone, nil
}

// WaitFor blocks until the machine is in one of states or ctx is done.
func (m *Machine) WaitFor(ctx context.Context, states ...State) (State, error) {
	for {
		m.mu.RLock()
		current, changed := m.state, m.changed
		m.mu.RUnlock()
		for _, s := range states {
			if current == s {
				return current, nil
			}
		}
		select {
		case <-ctx.Done():
			return current, ctx.Err()
		case <-changed:
		}
	}
}

func (m *Machine) transitionLocked(state State) {
	m.state = state
	close(m.changed)
	m.changed = make(chan struct{})
}
