package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aescanero/subsys/internal/domain"
)

var overallStatuses = []domain.OverallStatus{
	domain.OverallExcellent,
	domain.OverallGood,
	domain.OverallDegraded,
	domain.OverallCritical,
}

// Collector exports orchestrator observations as Prometheus metrics
type Collector struct {
	componentStates   *prometheus.GaugeVec
	phaseDuration     *prometheus.HistogramVec
	phasesTotal       *prometheus.CounterVec
	eventsPublished   *prometheus.CounterVec
	listenerErrors    *prometheus.CounterVec
	healthTicks       prometheus.Counter
	healthTickTime    prometheus.Histogram
	healthOverall     *prometheus.GaugeVec
	healthFailed      prometheus.Gauge
	broadcastsTotal   *prometheus.CounterVec
	broadcastOutcomes *prometheus.CounterVec
	broadcastDuration *prometheus.HistogramVec
}

// NewCollector creates a new Prometheus metrics collector registered on reg.
// A nil reg uses the default registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		componentStates: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "subsys_component_states",
				Help: "Number of components in each lifecycle state",
			},
			[]string{"state"},
		),
		phaseDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "subsys_phase_duration_seconds",
				Help:    "Startup phase duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"phase", "status"},
		),
		phasesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subsys_phases_total",
				Help: "Total number of startup phases executed",
			},
			[]string{"phase", "status"},
		),
		eventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subsys_events_published_total",
				Help: "Total number of events published on the router",
			},
			[]string{"event_type"},
		),
		listenerErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subsys_listener_errors_total",
				Help: "Total number of listener errors and panics",
			},
			[]string{"event_type"},
		),
		healthTicks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "subsys_health_ticks_total",
				Help: "Total number of health aggregation ticks",
			},
		),
		healthTickTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "subsys_health_tick_duration_seconds",
				Help:    "Health aggregation tick duration in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
		),
		healthOverall: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "subsys_health_overall",
				Help: "Current overall health, 1 for the active status",
			},
			[]string{"status"},
		),
		healthFailed: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "subsys_health_failed_checks",
				Help: "Number of failing health checks in the last tick",
			},
		),
		broadcastsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subsys_refresh_broadcasts_total",
				Help: "Total number of refresh broadcasts",
			},
			[]string{"trigger"},
		),
		broadcastOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subsys_refresh_callbacks_total",
				Help: "Total number of refresh callbacks by outcome",
			},
			[]string{"trigger", "outcome"},
		),
		broadcastDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "subsys_refresh_duration_seconds",
				Help:    "Refresh broadcast duration in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"trigger"},
		),
	}
}

// SetComponentStates sets the per-state component gauges
func (c *Collector) SetComponentStates(counts map[domain.State]int) {
	for _, s := range domain.AllStates {
		c.componentStates.WithLabelValues(s.String()).Set(float64(counts[s]))
	}
}

// ObservePhase records one startup phase
func (c *Collector) ObservePhase(phase domain.Phase, duration time.Duration, success bool) {
	status := statusLabel(success)
	c.phasesTotal.WithLabelValues(phase.String(), status).Inc()
	c.phaseDuration.WithLabelValues(phase.String(), status).Observe(duration.Seconds())
}

// IncEventsPublished increments the published events counter
func (c *Collector) IncEventsPublished(eventType domain.EventType) {
	c.eventsPublished.WithLabelValues(string(eventType)).Inc()
}

// IncListenerErrors increments the listener errors counter
func (c *Collector) IncListenerErrors(eventType domain.EventType) {
	c.listenerErrors.WithLabelValues(string(eventType)).Inc()
}

// ObserveHealthTick records one health aggregation tick
func (c *Collector) ObserveHealthTick(overall domain.OverallStatus, duration time.Duration, failed int) {
	c.healthTicks.Inc()
	c.healthTickTime.Observe(duration.Seconds())
	c.healthFailed.Set(float64(failed))
	for _, s := range overallStatuses {
		value := 0.0
		if s == overall {
			value = 1
		}
		c.healthOverall.WithLabelValues(string(s)).Set(value)
	}
}

// ObserveBroadcast records one refresh broadcast
func (c *Collector) ObserveBroadcast(trigger string, success, failure, skipped int, duration time.Duration) {
	c.broadcastsTotal.WithLabelValues(trigger).Inc()
	c.broadcastOutcomes.WithLabelValues(trigger, "success").Add(float64(success))
	c.broadcastOutcomes.WithLabelValues(trigger, "failure").Add(float64(failure))
	c.broadcastOutcomes.WithLabelValues(trigger, "skipped").Add(float64(skipped))
	c.broadcastDuration.WithLabelValues(trigger).Observe(duration.Seconds())
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failed"
}
