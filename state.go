package reactor

import (
	"sync/atomic"
)

// State represents the lifecycle phase of a [System].
//
// State machine:
//
//	StateUninitialized (0) → StateRunning (1)  [Finish()]
//	StateRunning (1)       → StateStopped (2)  [Shutdown(), or Start observing the stop event]
//	StateStopped (2)       → (terminal)
type State uint32

const (
	// StateUninitialized indicates the System has not been finished.
	StateUninitialized State = iota
	// StateRunning indicates the System may be used.
	StateRunning
	// StateStopped indicates the System has released its multiplexer.
	StateStopped
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateRunning:
		return "Running"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// systemState is a lock-free state machine. It is read from other threads,
// e.g. by [Handle.Stop], so is atomic despite the System being thread-local.
type systemState struct {
	v atomic.Uint32
}

// Load returns the current state atomically.
func (s *systemState) Load() State {
	return State(s.v.Load())
}

// TryTransition attempts to atomically transition from one state to another.
// Returns true if the transition was successful.
func (s *systemState) TryTransition(from, to State) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}
