package metrics

import (
	"sync"
	"time"

	"github.com/aescanero/subsys/internal/domain"
)

// StateCounter reports the number of components per state.
type StateCounter interface {
	Counts() map[domain.State]int
}

// Sink receives every observation recorded by the Collector.
type Sink interface {
	SetComponentStates(counts map[domain.State]int)
	ObservePhase(phase domain.Phase, duration time.Duration, success bool)
	IncEventsPublished(eventType domain.EventType)
	IncListenerErrors(eventType domain.EventType)
	ObserveHealthTick(overall domain.OverallStatus, duration time.Duration, failed int)
	ObserveBroadcast(trigger string, success, failure, skipped int, duration time.Duration)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) SetComponentStates(map[domain.State]int)                    {}
func (NopSink) ObservePhase(domain.Phase, time.Duration, bool)             {}
func (NopSink) IncEventsPublished(domain.EventType)                        {}
func (NopSink) IncListenerErrors(domain.EventType)                         {}
func (NopSink) ObserveHealthTick(domain.OverallStatus, time.Duration, int) {}
func (NopSink) ObserveBroadcast(string, int, int, int, time.Duration)      {}

// BroadcastTiming describes the most recent refresh broadcast.
type BroadcastTiming struct {
	Trigger  string        `json:"trigger"`
	Success  int           `json:"success"`
	Failure  int           `json:"failure"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
	At       time.Time     `json:"at"`
}

// Metrics is a point-in-time copy of the collected values.
type Metrics struct {
	TotalComponents    int                      `json:"total_components"`
	ActiveComponents   int                      `json:"active_components"`
	FailedComponents   int                      `json:"failed_components"`
	StateCounts        map[string]int           `json:"state_counts"`
	EventsPublished    uint64                   `json:"events_published"`
	ListenerErrors     uint64                   `json:"listener_errors"`
	PhaseDurations     map[string]time.Duration `json:"phase_durations"`
	StartupDuration    time.Duration            `json:"startup_duration"`
	LastBroadcast      *BroadcastTiming         `json:"last_broadcast,omitempty"`
	Broadcasts         uint64                   `json:"broadcasts"`
	HealthTicks        uint64                   `json:"health_ticks"`
	LastHealthOverall  domain.OverallStatus     `json:"last_health_overall,omitempty"`
	LastHealthDuration time.Duration            `json:"last_health_duration"`
}

// Collector accumulates orchestrator metrics.
type Collector struct {
	states StateCounter
	sink   Sink
	now    func() time.Time

	mu                 sync.Mutex
	eventsPublished    uint64
	listenerErrors     uint64
	phaseDurations     map[domain.Phase]time.Duration
	lastBroadcast      *BroadcastTiming
	broadcasts         uint64
	healthTicks        uint64
	lastHealthOverall  domain.OverallStatus
	lastHealthDuration time.Duration
}

// NewCollector creates a collector. states may be nil, in which case
// component counts are zero. A nil sink is replaced by NopSink.
func NewCollector(states StateCounter, sink Sink) *Collector {
	if sink == nil {
		sink = NopSink{}
	}
	return &Collector{
		states:         states,
		sink:           sink,
		now:            time.Now,
		phaseDurations: make(map[domain.Phase]time.Duration),
	}
}

// RecordTransition refreshes the per-state gauges after a state change.
func (c *Collector) RecordTransition() {
	if c.states == nil {
		return
	}
	c.sink.SetComponentStates(c.states.Counts())
}

// RecordEvent counts one published event.
func (c *Collector) RecordEvent(eventType domain.EventType) {
	c.mu.Lock()
	c.eventsPublished++
	c.mu.Unlock()
	c.sink.IncEventsPublished(eventType)
}

// RecordListenerError counts one failed listener invocation.
func (c *Collector) RecordListenerError(eventType domain.EventType) {
	c.mu.Lock()
	c.listenerErrors++
	c.mu.Unlock()
	c.sink.IncListenerErrors(eventType)
}

// RecordPhase stores the duration of the last run of phase.
func (c *Collector) RecordPhase(phase domain.Phase, duration time.Duration, success bool) {
	c.mu.Lock()
	c.phaseDurations[phase] = duration
	c.mu.Unlock()
	c.sink.ObservePhase(phase, duration, success)
}

// RecordHealth stores the outcome of one health tick.
func (c *Collector) RecordHealth(snapshot domain.Snapshot) {
	c.mu.Lock()
	c.healthTicks++
	c.lastHealthOverall = snapshot.Overall
	c.lastHealthDuration = snapshot.Duration
	c.mu.Unlock()
	c.sink.ObserveHealthTick(snapshot.Overall, snapshot.Duration, snapshot.Failed())
}

// RecordBroadcast stores the outcome of one refresh broadcast.
func (c *Collector) RecordBroadcast(trigger string, success, failure, skipped int, duration time.Duration) {
	c.mu.Lock()
	c.broadcasts++
	c.lastBroadcast = &BroadcastTiming{
		Trigger:  trigger,
		Success:  success,
		Failure:  failure,
		Skipped:  skipped,
		Duration: duration,
		At:       c.now(),
	}
	c.mu.Unlock()
	c.sink.ObserveBroadcast(trigger, success, failure, skipped, duration)
}

// Snapshot returns the current values. Fields are zero when nothing has been
// recorded yet.
func (c *Collector) Snapshot() Metrics {
	m := Metrics{
		StateCounts:    make(map[string]int, len(domain.AllStates)),
		PhaseDurations: make(map[string]time.Duration),
	}

	if c.states != nil {
		for state, n := range c.states.Counts() {
			m.StateCounts[state.String()] = n
			m.TotalComponents += n
			switch state {
			case domain.StateReady:
				m.ActiveComponents += n
			case domain.StateFailed:
				m.FailedComponents += n
			}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	m.EventsPublished = c.eventsPublished
	m.ListenerErrors = c.listenerErrors
	for phase, d := range c.phaseDurations {
		m.PhaseDurations[phase.String()] = d
		m.StartupDuration += d
	}
	if c.lastBroadcast != nil {
		b := *c.lastBroadcast
		m.LastBroadcast = &b
	}
	m.Broadcasts = c.broadcasts
	m.HealthTicks = c.healthTicks
	m.LastHealthOverall = c.lastHealthOverall
	m.LastHealthDuration = c.lastHealthDuration
	return m
}
