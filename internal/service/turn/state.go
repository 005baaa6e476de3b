// Package turn provides the conversation state machine and turn id generation.
package turn

import (
	"errors"
	"fmt"
	"sync"
)

// State is the conversation state of a session.
type State int

const (
	// StateIdle - Nothing in flight; initial state and end of every turn.
	StateIdle State = iota
	// StateRecording - Capturing audio and streaming it to the recognizer.
	StateRecording
	// StateThinking - User turn sent, waiting for the first reply output.
	StateThinking
	// StateTalking - Reply text or audio is being received.
	StateTalking
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateThinking:
		return "thinking"
	case StateTalking:
		return "talking"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// IsReplying returns true while a reply turn is in flight (THINKING or TALKING).
func (s State) IsReplying() bool {
	return s == StateThinking || s == StateTalking
}

// ErrInvalidTransition is returned for a transition the machine does not allow.
var ErrInvalidTransition = errors.New("invalid state transition")

// transitions lists the allowed edges.
var transitions = map[State][]State{
	StateIdle:      {StateRecording},
	StateRecording: {StateIdle, StateThinking, StateRecording},
	StateThinking:  {StateTalking, StateIdle, StateRecording},
	StateTalking:   {StateIdle, StateRecording},
}

// Machine holds the conversation state.
// Thread-safe for concurrent reads; the session is its only writer.
//
// State transitions:
//
//	IDLE ──start──→ RECORDING ──stop──→ THINKING ──first output──→ TALKING
//	 ↑                │  │                 │                          │
//	 │                │  └─restart─┐       │                          │
//	 └──cancel/empty──┘            │       └───complete/timeout/error─┴──→ IDLE
//	                               │
//	  THINKING/TALKING ──barge-in──┴──→ RECORDING
//
// Rules:
//   - Exactly one state is active at a time
//   - RECORDING may be re-entered from any state (barge-in, restart)
//   - THINKING and TALKING always end in IDLE or RECORDING
type Machine struct {
	mu          sync.RWMutex
	state       State
	transitions int
}

// NewMachine creates a machine in IDLE state.
func NewMachine() *Machine {
	return &Machine{state: StateIdle}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// CanTransition returns true if moving to `to` is allowed.
func (m *Machine) CanTransition(to State) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return allowed(m.state, to)
}

// Transition moves to `to` and returns the previous state.
func (m *Machine) Transition(to State) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.state
	if !allowed(from, to) {
		return from, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
	}
	m.state = to
	m.transitions++
	return from, nil
}

// Transitions returns the number of transitions made.
func (m *Machine) Transitions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transitions
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
