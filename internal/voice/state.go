package voice

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrInvalidTransition is returned when an operation would move the
	// session along an edge the state machine does not have.
	ErrInvalidTransition = errors.New("voice: invalid state transition")

	// ErrConnection marks remote open, send and receive failures.
	ErrConnection = errors.New("voice: connection error")
)

// State is the lifecycle state of a voice [Session].
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateClosing
	StateClosed
	StateErrored
)

// String returns the upper-case name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	case StateErrored:
		return "ERRORED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transitions leave s.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateErrored
}

// transitions is the complete edge list. Connecting → Closing lets a user stop
// a session whose remote side never answers.
var transitions = map[State][]State{
	StateIdle:       {StateConnecting},
	StateConnecting: {StateActive, StateClosing, StateErrored},
	StateActive:     {StateClosing, StateErrored},
	StateClosing:    {StateClosed},
}

// CanTransition reports whether from → to is an edge of the state machine.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

func checkTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
