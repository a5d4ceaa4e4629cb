package health

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aescanero/subsys/internal/domain"
)

// CheckFunc performs one health check.
type CheckFunc func(ctx context.Context) domain.HealthResult

// Check is one entry of a health pass.
type Check struct {
	Name     string
	Critical bool
	Fn       CheckFunc
}

// TargetsFunc returns the checks to run on a tick.
type TargetsFunc func() []Check

// ChangeFunc is invoked after a tick with the previous overall status (empty
// on the first tick) and the new snapshot.
type ChangeFunc func(previous domain.OverallStatus, snapshot domain.Snapshot)

// SnapshotStore persists published snapshots.
type SnapshotStore interface {
	Save(ctx context.Context, snapshot domain.Snapshot) error
}

// Config configures an Aggregator.
type Config struct {
	Interval       time.Duration
	CheckTimeout   time.Duration
	MaxConcurrency int
	Policy         Policy
	// NotifyOnChangeOnly limits OnChange to ticks whose overall status
	// differs from the previous one.
	NotifyOnChangeOnly bool
	OnChange           ChangeFunc
	// OnTick is invoked after every tick regardless of NotifyOnChangeOnly.
	OnTick func(snapshot domain.Snapshot)
	Store  SnapshotStore
	Logger *zap.Logger
}

// Aggregator runs health checks on an interval.
type Aggregator struct {
	targets TargetsFunc
	cfg     Config
	logger  *zap.Logger

	last   atomic.Pointer[domain.Snapshot]
	tickMu sync.Mutex // serializes ticks

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewAggregator creates an aggregator over the checks returned by targets.
func NewAggregator(targets TargetsFunc, cfg Config) *Aggregator {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 5 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 16
	}
	defaults := DefaultPolicy()
	if cfg.Policy.GoodMaxFailRatio == 0 {
		cfg.Policy.GoodMaxFailRatio = defaults.GoodMaxFailRatio
	}
	if cfg.Policy.CriticalFailRatio == 0 {
		cfg.Policy.CriticalFailRatio = defaults.CriticalFailRatio
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Aggregator{
		targets: targets,
		cfg:     cfg,
		logger:  logger,
	}
}

// Start runs a first tick immediately and then one tick per interval until
// Stop is called or ctx is done. Calling Start on a running aggregator does
// nothing.
func (a *Aggregator) Start(ctx context.Context) {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return
	}
	a.running = true
	a.stopCh = make(chan struct{})
	a.done = make(chan struct{})
	stopCh, done := a.stopCh, a.done
	a.mu.Unlock()

	go a.run(ctx, stopCh, done)
}

// Stop cancels the timer and waits for an in-flight tick to finish. It is
// idempotent.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	close(a.stopCh)
	done := a.done
	a.mu.Unlock()

	<-done
}

// Running reports whether the ticker is active.
func (a *Aggregator) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

func (a *Aggregator) run(ctx context.Context, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	a.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Tick(ctx)
		}
	}
}

// Last returns the most recent snapshot. The second result is false until the
// first tick completes.
func (a *Aggregator) Last() (domain.Snapshot, bool) {
	s := a.last.Load()
	if s == nil {
		return domain.Snapshot{}, false
	}
	return *s, true
}

// Tick runs one full pass of checks, publishes the snapshot and returns it.
func (a *Aggregator) Tick(ctx context.Context) domain.Snapshot {
	a.tickMu.Lock()
	defer a.tickMu.Unlock()

	start := time.Now()
	checks := a.targets()
	outcomes := make([]Outcome, len(checks))

	var g errgroup.Group
	g.SetLimit(a.cfg.MaxConcurrency)
	for i, check := range checks {
		i, check := i, check
		g.Go(func() error {
			outcomes[i] = Outcome{
				Name:     check.Name,
				Critical: check.Critical,
				Result:   a.runCheck(ctx, check),
			}
			return nil
		})
	}
	_ = g.Wait()

	overall := a.cfg.Policy.Score(outcomes)
	snapshot := domain.Snapshot{
		Overall:         overall,
		PerComponent:    make(map[string]domain.HealthResult, len(outcomes)),
		Recommendations: a.cfg.Policy.Recommendations(overall, outcomes),
		Timestamp:       time.Now(),
		Duration:        time.Since(start),
	}
	for _, o := range outcomes {
		snapshot.PerComponent[o.Name] = o.Result
	}

	prev := a.last.Swap(&snapshot)
	var previous domain.OverallStatus
	if prev != nil {
		previous = prev.Overall
	}

	a.logger.Debug("health tick",
		zap.String("overall", string(overall)),
		zap.Int("checks", len(outcomes)),
		zap.Int("failed", snapshot.Failed()),
		zap.Duration("duration", snapshot.Duration))
	if previous != "" && previous != overall {
		a.logger.Info("overall health changed",
			zap.String("previous", string(previous)),
			zap.String("overall", string(overall)))
	}

	if a.cfg.Store != nil {
		if err := a.cfg.Store.Save(ctx, snapshot); err != nil {
			a.logger.Warn("failed to persist health snapshot", zap.Error(err))
		}
	}

	if a.cfg.OnTick != nil {
		a.callback(func() { a.cfg.OnTick(snapshot) })
	}
	if a.cfg.OnChange != nil && (!a.cfg.NotifyOnChangeOnly || previous != overall) {
		a.callback(func() { a.cfg.OnChange(previous, snapshot) })
	}
	return snapshot
}

func (a *Aggregator) callback(fn func()) {
	defer func() {
		if p := recover(); p != nil {
			a.logger.Error("health callback panicked", zap.Any("panic", p))
		}
	}()
	fn()
}

// runCheck enforces the per-check timeout even if the check ignores ctx.
func (a *Aggregator) runCheck(ctx context.Context, check Check) domain.HealthResult {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.CheckTimeout)
	defer cancel()

	resultCh := make(chan domain.HealthResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				resultCh <- domain.Unhealthy(fmt.Sprintf("health check panicked: %v", p))
			}
		}()
		resultCh <- check.Fn(ctx)
	}()

	select {
	case r := <-resultCh:
		if !r.OK {
			a.logger.Debug("health check failed",
				zap.String("component", check.Name),
				zap.String("details", r.Details))
		}
		return r
	case <-ctx.Done():
		a.logger.Warn("health check timed out",
			zap.String("component", check.Name),
			zap.Duration("timeout", a.cfg.CheckTimeout))
		return domain.Unhealthy(fmt.Sprintf("health check timed out after %s", a.cfg.CheckTimeout))
	}
}
