package domain

import "fmt"

// State is the lifecycle state of a single managed component.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
	StateDestroyed
)

// AllStates lists every state, used when reporting per-state counts.
var AllStates = []State{StateUninitialized, StateInitializing, StateReady, StateFailed, StateDestroyed}

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CanTransition reports whether from -> to is a legal move.
//
// Forward moves are Uninitialized -> Initializing -> {Ready, Failed}.
// Uninitialized -> Failed covers a component whose dependencies failed before
// it could start. Destroyed is reachable from any state.
func CanTransition(from, to State) bool {
	if to == StateDestroyed {
		return true
	}
	switch from {
	case StateUninitialized:
		return to == StateInitializing || to == StateFailed
	case StateInitializing:
		return to == StateReady || to == StateFailed
	default:
		return false
	}
}
