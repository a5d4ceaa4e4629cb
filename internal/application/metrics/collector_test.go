package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/subsys/internal/domain"
)

type fixedCounts map[domain.State]int

func (f fixedCounts) Counts() map[domain.State]int { return f }

type recordingSink struct {
	NopSink
	states     []map[domain.State]int
	phases     []domain.Phase
	events     int
	broadcasts []string
}

func (s *recordingSink) SetComponentStates(c map[domain.State]int) { s.states = append(s.states, c) }
func (s *recordingSink) ObservePhase(p domain.Phase, _ time.Duration, _ bool) {
	s.phases = append(s.phases, p)
}
func (s *recordingSink) IncEventsPublished(domain.EventType) { s.events++ }
func (s *recordingSink) ObserveBroadcast(trigger string, _, _, _ int, _ time.Duration) {
	s.broadcasts = append(s.broadcasts, trigger)
}

func TestSnapshot_ZeroValue(t *testing.T) {
	c := NewCollector(nil, nil)
	m := c.Snapshot()

	assert.Zero(t, m.TotalComponents)
	assert.Zero(t, m.EventsPublished)
	assert.Nil(t, m.LastBroadcast)
	assert.Empty(t, m.PhaseDurations)
	assert.Empty(t, m.LastHealthOverall)
}

func TestSnapshot_Counts(t *testing.T) {
	counts := fixedCounts{
		domain.StateReady:         3,
		domain.StateFailed:        1,
		domain.StateUninitialized: 2,
	}
	sink := &recordingSink{}
	c := NewCollector(counts, sink)

	c.RecordTransition()
	c.RecordEvent(domain.EventPhaseStarted)
	c.RecordEvent(domain.EventPhaseCompleted)
	c.RecordListenerError(domain.EventPhaseCompleted)
	c.RecordPhase(domain.PhaseCore, 10*time.Millisecond, true)
	c.RecordPhase(domain.PhaseServices, 30*time.Millisecond, true)
	c.RecordHealth(domain.Snapshot{Overall: domain.OverallGood, Duration: time.Millisecond})
	c.RecordBroadcast("theme.changed", 2, 1, 0, 5*time.Millisecond)

	m := c.Snapshot()
	assert.Equal(t, 6, m.TotalComponents)
	assert.Equal(t, 3, m.ActiveComponents)
	assert.Equal(t, 1, m.FailedComponents)
	assert.Equal(t, 2, m.StateCounts["uninitialized"])
	assert.Equal(t, uint64(2), m.EventsPublished)
	assert.Equal(t, uint64(1), m.ListenerErrors)
	assert.Equal(t, 30*time.Millisecond, m.PhaseDurations["services"])
	assert.Equal(t, 40*time.Millisecond, m.StartupDuration)
	assert.Equal(t, uint64(1), m.HealthTicks)
	assert.Equal(t, domain.OverallGood, m.LastHealthOverall)

	require.NotNil(t, m.LastBroadcast)
	assert.Equal(t, "theme.changed", m.LastBroadcast.Trigger)
	assert.Equal(t, 2, m.LastBroadcast.Success)
	assert.Equal(t, 1, m.LastBroadcast.Failure)

	assert.Len(t, sink.states, 1)
	assert.Equal(t, []domain.Phase{domain.PhaseCore, domain.PhaseServices}, sink.phases)
	assert.Equal(t, 2, sink.events)
	assert.Equal(t, []string{"theme.changed"}, sink.broadcasts)
}

func TestSnapshot_IsACopy(t *testing.T) {
	c := NewCollector(nil, nil)
	c.RecordBroadcast("x", 1, 0, 0, time.Millisecond)

	m := c.Snapshot()
	m.LastBroadcast.Success = 99
	m.PhaseDurations["core"] = time.Hour

	again := c.Snapshot()
	assert.Equal(t, 1, again.LastBroadcast.Success)
	assert.Empty(t, again.PhaseDurations)
}
