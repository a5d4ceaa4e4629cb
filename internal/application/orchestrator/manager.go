package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/subsys/internal/application/events"
	"github.com/aescanero/subsys/internal/application/graph"
	"github.com/aescanero/subsys/internal/application/health"
	"github.com/aescanero/subsys/internal/application/metrics"
	"github.com/aescanero/subsys/internal/application/refresh"
	"github.com/aescanero/subsys/internal/application/state"
	"github.com/aescanero/subsys/internal/domain"
)

// Config configures an Orchestrator.
type Config struct {
	// PhaseTimeout is the wall-clock budget of a single phase.
	PhaseTimeout time.Duration
	// DependencyTimeout bounds each wait on a dependency.
	DependencyTimeout time.Duration
	// GracePeriod is how long members of a timed-out phase are given to
	// observe cancellation before they are marked failed.
	GracePeriod time.Duration
	// DestroyTimeout bounds each Destroy call.
	DestroyTimeout time.Duration
	// BroadcastConcurrency limits refresh fan-out. Zero means unbounded.
	BroadcastConcurrency int
	// AutoRefresh turns theme, palette and settings events into refresh
	// broadcasts once startup has completed.
	AutoRefresh bool

	Health      health.Config
	MetricsSink metrics.Sink
	Logger      *zap.Logger
}

// DefaultConfig returns a Config with default timeouts.
func DefaultConfig() Config {
	return Config{
		PhaseTimeout:      30 * time.Second,
		DependencyTimeout: 10 * time.Second,
		GracePeriod:       5 * time.Second,
		DestroyTimeout:    5 * time.Second,
		AutoRefresh:       true,
		Health: health.Config{
			Interval:       30 * time.Second,
			CheckTimeout:   5 * time.Second,
			MaxConcurrency: 16,
			Policy:         health.DefaultPolicy(),
		},
	}
}

// ComponentInfo describes a registered component.
type ComponentInfo struct {
	Name         string         `json:"name"`
	Phase        domain.Phase   `json:"phase"`
	Dependencies []string       `json:"dependencies"`
	State        domain.State   `json:"state"`
	History      []state.Record `json:"history,omitempty"`
}

type sharedCheck struct {
	name     string
	critical bool
	fn       health.CheckFunc
}

// Orchestrator brings registered components up phase by phase and owns the
// registries around them.
type Orchestrator struct {
	cfg    Config
	logger *zap.Logger

	graph   *graph.Graph
	states  *state.Registry
	waiter  *state.Waiter
	router  *events.Router
	refresh *refresh.Registry
	health  *health.Aggregator
	metrics *metrics.Collector

	// startMu serializes Start and Stop.
	startMu sync.Mutex

	mu         sync.RWMutex
	components map[string]domain.Component
	shared     []sharedCheck
	phase      domain.Phase
	started    bool
	completed  bool
	stopped    bool
	startErr   error
	order      []string
	live       map[string]bool
	destroyed  map[string]bool
	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	// runCtx is set while Start runs phases.
	runCtx      context.Context
	runCancel   context.CancelFunc
	stopPending bool
}

// New creates an orchestrator with no components.
func New(cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.PhaseTimeout <= 0 {
		cfg.PhaseTimeout = def.PhaseTimeout
	}
	if cfg.DependencyTimeout <= 0 {
		cfg.DependencyTimeout = def.DependencyTimeout
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = def.GracePeriod
	}
	if cfg.DestroyTimeout <= 0 {
		cfg.DestroyTimeout = def.DestroyTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:        cfg,
		logger:     cfg.Logger,
		graph:      graph.New(),
		states:     state.NewRegistry(),
		components: make(map[string]domain.Component),
		phase:      domain.PhaseCore,
		live:       make(map[string]bool),
		destroyed:  make(map[string]bool),
		lifeCtx:    lifeCtx,
		lifeCancel: lifeCancel,
	}

	o.waiter = state.NewWaiter(o.states)
	o.metrics = metrics.NewCollector(o.states, cfg.MetricsSink)
	o.router = events.NewRouter(
		events.WithLogger(o.logger.Named("events")),
		events.WithErrorHook(func(et domain.EventType, _ error) {
			o.metrics.RecordListenerError(et)
		}),
	)
	o.refresh = refresh.NewRegistry(
		refresh.WithResolver(o.lookup),
		refresh.WithConcurrency(cfg.BroadcastConcurrency),
		refresh.WithLogger(o.logger.Named("refresh")),
	)

	hc := cfg.Health
	if hc.Logger == nil {
		hc.Logger = o.logger.Named("health")
	}
	userTick, userChange := hc.OnTick, hc.OnChange
	hc.OnTick = func(s domain.Snapshot) {
		o.metrics.RecordHealth(s)
		if userTick != nil {
			userTick(s)
		}
	}
	hc.OnChange = func(prev domain.OverallStatus, s domain.Snapshot) {
		o.publish(context.Background(), domain.EventHealthChanged, domain.HealthChangedPayload{Previous: prev, Snapshot: s})
		if userChange != nil {
			userChange(prev, s)
		}
	}
	o.health = health.NewAggregator(o.healthTargets, hc)

	o.states.OnTransition(o.onTransition)

	if cfg.AutoRefresh {
		for _, trigger := range domain.RefreshTriggers {
			o.router.Subscribe(trigger, o.refreshOnTrigger)
		}
	}
	return o
}

// Register adds a component to the given phase. Registration is only
// possible before Start.
func (o *Orchestrator) Register(name string, phase domain.Phase, component domain.Component, dependencies ...string) error {
	if component == nil {
		return domain.NewConfigurationError(name, "component is nil", nil)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started || o.stopped {
		return domain.NewConfigurationError(name, "registration after start", nil)
	}
	if o.hasSharedCheck(name) {
		return domain.NewConfigurationError(name, "name is used by a shared resource check", nil)
	}
	if err := o.graph.Register(name, phase, dependencies...); err != nil {
		return err
	}
	o.components[name] = component
	o.states.Track(name)

	o.logger.Debug("component registered",
		zap.String("component", name),
		zap.String("phase", phase.String()),
		zap.Strings("dependencies", dependencies))
	return nil
}

// AddSharedResourceCheck adds a health check that is not tied to a managed
// component, such as a database or cache connection. A failing critical check
// lowers the overall status to at least Degraded. Names share one namespace
// with registered components.
func (o *Orchestrator) AddSharedResourceCheck(name string, critical bool, fn health.CheckFunc) error {
	if name == "" {
		return domain.NewConfigurationError(name, "shared resource check name is empty", nil)
	}
	if fn == nil {
		return domain.NewConfigurationError(name, "shared resource check is nil", nil)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.components[name]; ok {
		return domain.NewConfigurationError(name, "name is used by a registered component", nil)
	}
	if o.hasSharedCheck(name) {
		return domain.NewConfigurationError(name, "duplicate shared resource check", nil)
	}
	o.shared = append(o.shared, sharedCheck{name: name, critical: critical, fn: fn})
	return nil
}

func (o *Orchestrator) hasSharedCheck(name string) bool {
	for _, s := range o.shared {
		if s.name == name {
			return true
		}
	}
	return false
}

// CurrentPhase returns the phase being executed, the phase that failed, or
// PhaseCompleted.
func (o *Orchestrator) CurrentPhase() domain.Phase {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.phase
}

// Completed reports whether startup has finished successfully.
func (o *Orchestrator) Completed() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.completed && !o.stopped
}

// StartErr returns the error of a failed Start, if any.
func (o *Orchestrator) StartErr() error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.startErr
}

// StateOf returns the state of name. Unknown names are Uninitialized.
func (o *Orchestrator) StateOf(name string) domain.State {
	return o.states.Get(name)
}

// Components lists the registered components in registration order.
func (o *Orchestrator) Components() []ComponentInfo {
	names := o.graph.Names()
	out := make([]ComponentInfo, 0, len(names))
	for _, name := range names {
		if info, ok := o.describe(name, false); ok {
			out = append(out, info)
		}
	}
	return out
}

// Component describes one component, including its transition history.
func (o *Orchestrator) Component(name string) (ComponentInfo, bool) {
	return o.describe(name, true)
}

func (o *Orchestrator) describe(name string, withHistory bool) (ComponentInfo, bool) {
	d, ok := o.graph.Descriptor(name)
	if !ok {
		return ComponentInfo{}, false
	}
	info := ComponentInfo{
		Name:         d.Name,
		Phase:        d.Phase,
		Dependencies: d.Dependencies,
		State:        o.states.Get(name),
	}
	if withHistory {
		info.History = o.states.History(name)
	}
	return info, true
}

// LastHealth returns the most recent health snapshot. Before the first tick
// it returns a zero Snapshot.
func (o *Orchestrator) LastHealth() domain.Snapshot {
	s, _ := o.health.Last()
	return s
}

// CheckHealth runs a health pass immediately and returns its snapshot.
func (o *Orchestrator) CheckHealth(ctx context.Context) domain.Snapshot {
	return o.health.Tick(ctx)
}

// Subscribe adds a listener for eventType.
func (o *Orchestrator) Subscribe(eventType domain.EventType, listener events.Listener) (unsubscribe func()) {
	return o.router.Subscribe(eventType, listener)
}

// SubscribeAll adds a listener for every event.
func (o *Orchestrator) SubscribeAll(listener events.Listener) (unsubscribe func()) {
	return o.router.SubscribeAll(listener)
}

// Publish delivers an event to the listeners of eventType.
func (o *Orchestrator) Publish(ctx context.Context, eventType domain.EventType, payload any) domain.Event {
	return o.publish(ctx, eventType, payload)
}

// EventStats returns the router counters.
func (o *Orchestrator) EventStats() events.Stats {
	return o.router.Stats()
}

// RegisterRefreshable adds key to the refresh registry. cb may be nil, in
// which case a component registered under key is refreshed if it implements
// domain.Refresher.
func (o *Orchestrator) RegisterRefreshable(key string, cb refresh.Callback) {
	o.refresh.Register(key, cb)
}

// UnregisterRefreshable removes key from the refresh registry.
func (o *Orchestrator) UnregisterRefreshable(key string) {
	o.refresh.Unregister(key)
}

// Broadcast refreshes every registered key for trigger. Triggers are refused
// until startup has completed.
func (o *Orchestrator) Broadcast(ctx context.Context, trigger string) (refresh.Result, error) {
	if !o.Completed() {
		return refresh.Result{Trigger: trigger}, domain.ErrNotAccepting
	}

	res := o.refresh.Broadcast(ctx, trigger)
	o.metrics.RecordBroadcast(trigger, res.SuccessCount, res.FailureCount, res.SkippedCount, res.Duration)
	o.publish(ctx, domain.EventRefreshCompleted, domain.RefreshCompletedPayload{
		Trigger:  trigger,
		Success:  res.SuccessCount,
		Failure:  res.FailureCount,
		Skipped:  res.SkippedCount,
		Duration: res.Duration,
	})

	o.logger.Info("refresh broadcast completed",
		zap.String("trigger", trigger),
		zap.Int("success", res.SuccessCount),
		zap.Int("failure", res.FailureCount),
		zap.Int("skipped", res.SkippedCount),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// Metrics returns the current metrics snapshot.
func (o *Orchestrator) Metrics() metrics.Metrics {
	return o.metrics.Snapshot()
}

func (o *Orchestrator) publish(ctx context.Context, eventType domain.EventType, payload any) domain.Event {
	o.metrics.RecordEvent(eventType)
	return o.router.Publish(ctx, eventType, payload)
}

func (o *Orchestrator) onTransition(name string, from, to domain.State, _ time.Time) {
	o.metrics.RecordTransition()
	o.publish(o.eventContext(), domain.EventComponentStateChanged, domain.StateChangedPayload{
		Component: name,
		From:      from,
		To:        to,
	})
}

func (o *Orchestrator) refreshOnTrigger(ctx context.Context, e domain.Event) error {
	if !o.Completed() {
		return nil
	}
	_, err := o.Broadcast(ctx, string(e.Type))
	return err
}

func (o *Orchestrator) lookup(name string) (domain.Component, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	c, ok := o.components[name]
	return c, ok
}

// healthTargets returns one check per Ready component plus the shared
// resource checks.
func (o *Orchestrator) healthTargets() []health.Check {
	names := o.graph.Names()

	o.mu.RLock()
	defer o.mu.RUnlock()

	checks := make([]health.Check, 0, len(names)+len(o.shared))
	for _, name := range names {
		if o.states.Get(name) != domain.StateReady {
			continue
		}
		c := o.components[name]
		checks = append(checks, health.Check{Name: name, Fn: c.HealthCheck})
	}
	for _, s := range o.shared {
		checks = append(checks, health.Check{Name: s.name, Critical: s.critical, Fn: s.fn})
	}
	return checks
}
