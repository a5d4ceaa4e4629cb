package domain

import "fmt"

// Phase is a startup stage. Phases run strictly in declaration order.
type Phase int

const (
	PhaseCore Phase = iota
	PhaseServices
	PhaseVisualSystems
	PhaseIntegration
	// PhaseCompleted marks the whole orchestrator as started. No component
	// may be registered into it.
	PhaseCompleted
)

// StartupPhases lists the phases that carry components, in execution order.
var StartupPhases = []Phase{PhaseCore, PhaseServices, PhaseVisualSystems, PhaseIntegration}

// String returns the lowercase phase name used in logs and metrics labels.
func (p Phase) String() string {
	switch p {
	case PhaseCore:
		return "core"
	case PhaseServices:
		return "services"
	case PhaseVisualSystems:
		return "visual_systems"
	case PhaseIntegration:
		return "integration"
	case PhaseCompleted:
		return "completed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Schedulable reports whether components may be assigned to p.
func (p Phase) Schedulable() bool {
	return p >= PhaseCore && p <= PhaseIntegration
}

// Next returns the phase that follows p. PhaseCompleted is its own successor.
func (p Phase) Next() Phase {
	if p >= PhaseCompleted {
		return PhaseCompleted
	}
	return p + 1
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
