package domain

import "time"

// EventType names an event channel on the router.
type EventType string

// Lifecycle events published by the orchestrator.
const (
	EventComponentStateChanged EventType = "component.state_changed"
	EventPhaseStarted          EventType = "phase.started"
	EventPhaseCompleted        EventType = "phase.completed"
	EventPhaseFailed           EventType = "phase.failed"
	EventOrchestratorCompleted EventType = "orchestrator.completed"
	EventOrchestratorStopped   EventType = "orchestrator.stopped"
	EventHealthChanged         EventType = "health.changed"
	EventRefreshCompleted      EventType = "refresh.completed"
)

// Cross-cutting triggers raised by components. The orchestrator can turn
// each of them into a refresh broadcast.
const (
	EventThemeChanged    EventType = "theme.changed"
	EventPaletteChanged  EventType = "palette.changed"
	EventSettingsChanged EventType = "settings.changed"
)

// RefreshTriggers are the event types that map onto refresh broadcasts.
var RefreshTriggers = []EventType{EventThemeChanged, EventPaletteChanged, EventSettingsChanged}

// Event is one published message.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// StateChangedPayload accompanies EventComponentStateChanged.
type StateChangedPayload struct {
	Component string `json:"component"`
	From      State  `json:"from"`
	To        State  `json:"to"`
}

// PhasePayload accompanies the phase.* and orchestrator.* events.
type PhasePayload struct {
	Phase    Phase         `json:"phase"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// HealthChangedPayload accompanies EventHealthChanged.
type HealthChangedPayload struct {
	Previous OverallStatus `json:"previous,omitempty"`
	Snapshot Snapshot      `json:"snapshot"`
}

// TriggerPayload accompanies theme/palette/settings triggers.
type TriggerPayload struct {
	Source string         `json:"source,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// RefreshCompletedPayload accompanies EventRefreshCompleted.
type RefreshCompletedPayload struct {
	Trigger  string        `json:"trigger"`
	Success  int           `json:"success"`
	Failure  int           `json:"failure"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

// PayloadAs extracts a typed payload from e.
func PayloadAs[T any](e Event) (T, bool) {
	p, ok := e.Payload.(T)
	return p, ok
}
