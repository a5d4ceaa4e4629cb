package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aescanero/subsys/internal/domain"
)

// startScope marks contexts handed out during Start.
type startScope struct{}

// Start validates the graph and runs every phase in order. It returns nil
// once all phases have completed, or the error of the first failing phase.
// A failed run is final: later calls return the same error. Calling Start
// after a successful run does nothing.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.startMu.Lock()
	defer o.startMu.Unlock()

	o.mu.Lock()
	switch {
	case o.stopped:
		o.mu.Unlock()
		return domain.ErrStopped
	case o.completed:
		o.mu.Unlock()
		return nil
	case o.startErr != nil:
		err := o.startErr
		o.mu.Unlock()
		return err
	}
	o.started = true
	lifeCtx := o.lifeCtx
	o.mu.Unlock()

	if err := o.Validate(); err != nil {
		o.fail(err)
		return err
	}
	order, err := o.graph.TopologicalOrder()
	if err != nil {
		o.fail(err)
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithValue(ctx, startScope{}, o))
	defer cancel()
	stopWatch := context.AfterFunc(lifeCtx, cancel)
	defer stopWatch()

	o.mu.Lock()
	o.order = order
	o.runCtx = runCtx
	o.runCancel = cancel
	o.mu.Unlock()
	defer func() {
		if o.finishStart() {
			o.teardown(context.WithoutCancel(ctx))
		}
	}()

	start := time.Now()
	o.logger.Info("starting orchestrator", zap.Int("components", len(order)))

	for _, phase := range domain.StartupPhases {
		o.setPhase(phase)
		if err := o.executePhase(runCtx, phase); err != nil {
			o.fail(err)
			o.cleanup(context.WithoutCancel(ctx))
			return err
		}
	}

	o.mu.Lock()
	o.phase = domain.PhaseCompleted
	o.completed = true
	o.mu.Unlock()

	elapsed := time.Since(start)
	o.publish(runCtx, domain.EventOrchestratorCompleted, domain.PhasePayload{
		Phase:    domain.PhaseCompleted,
		Duration: elapsed,
	})
	o.logger.Info("orchestrator started", zap.Duration("duration", elapsed))

	if !o.stopRequested() {
		o.health.Start(lifeCtx)
	}
	return nil
}

// finishStart clears the run context and reports whether Stop was called
// from inside the run.
func (o *Orchestrator) finishStart() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	pending := o.stopPending
	o.runCtx = nil
	o.runCancel = nil
	o.stopPending = false
	return pending
}

func (o *Orchestrator) stopRequested() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.stopPending
}

// eventContext is the context for events that are not raised on behalf of a
// caller. During Start it carries the run scope so that listeners may call
// Stop.
func (o *Orchestrator) eventContext() context.Context {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.runCtx != nil {
		return context.WithoutCancel(o.runCtx)
	}
	return context.Background()
}

func (o *Orchestrator) setPhase(phase domain.Phase) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phase = phase
}

func (o *Orchestrator) fail(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.startErr = err
}

// executePhase initializes every member of phase concurrently and waits for
// all of them. The phase fails with the first member error, or with
// ErrPhaseTimeout when its budget and grace period run out.
func (o *Orchestrator) executePhase(ctx context.Context, phase domain.Phase) error {
	members := o.graph.PhaseMembers(phase)
	logger := o.logger.With(zap.String("phase", phase.String()))
	start := time.Now()

	o.publish(ctx, domain.EventPhaseStarted, domain.PhasePayload{Phase: phase})
	logger.Info("phase started", zap.Int("components", len(members)))

	phaseCtx, cancel := context.WithTimeout(ctx, o.cfg.PhaseTimeout)
	defer cancel()

	// A cancelled run starts no further members.
	err := ctx.Err()
	if err == nil {
		err = o.runMembers(phaseCtx, phase, members)
	}

	if err != nil {
		switch {
		case ctx.Err() != nil:
			if !errors.Is(err, ctx.Err()) {
				err = fmt.Errorf("%w: %w", ctx.Err(), err)
			}
		case phaseCtx.Err() != nil:
			err = fmt.Errorf("%w: budget %s exceeded: %w", domain.ErrPhaseTimeout, o.cfg.PhaseTimeout, err)
		}
	}

	elapsed := time.Since(start)
	o.metrics.RecordPhase(phase, elapsed, err == nil)

	if err != nil {
		phaseErr := &domain.PhaseError{Phase: phase, Err: err}
		o.publish(ctx, domain.EventPhaseFailed, domain.PhasePayload{
			Phase:    phase,
			Duration: elapsed,
			Error:    err.Error(),
		})
		logger.Error("phase failed", zap.Duration("duration", elapsed), zap.Error(err))
		return phaseErr
	}

	o.publish(ctx, domain.EventPhaseCompleted, domain.PhasePayload{Phase: phase, Duration: elapsed})
	logger.Info("phase completed", zap.Duration("duration", elapsed))
	return nil
}

// runMembers initializes members concurrently until they all return or the
// phase context is done.
func (o *Orchestrator) runMembers(phaseCtx context.Context, phase domain.Phase, members []string) error {
	var g errgroup.Group
	for _, name := range members {
		name := name
		g.Go(func() error {
			return o.initializeComponent(phaseCtx, name)
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-phaseCtx.Done():
		return o.awaitGrace(phase, members, done)
	}
}

// awaitGrace runs once the phase context is done. Members get GracePeriod to
// return; whatever is still pending afterwards is marked failed.
func (o *Orchestrator) awaitGrace(phase domain.Phase, members []string, done <-chan error) error {
	grace := time.NewTimer(o.cfg.GracePeriod)
	defer grace.Stop()

	select {
	case err := <-done:
		return err
	case <-grace.C:
	}

	for _, name := range members {
		switch o.states.Get(name) {
		case domain.StateUninitialized, domain.StateInitializing:
			if err := o.states.Transition(name, domain.StateFailed); err == nil {
				o.logger.Warn("component abandoned after grace period",
					zap.String("component", name),
					zap.String("phase", phase.String()))
			}
		}
	}
	return fmt.Errorf("components still initializing after %s grace period", o.cfg.GracePeriod)
}

// initializeComponent waits for the dependencies of name and then
// initializes it.
func (o *Orchestrator) initializeComponent(ctx context.Context, name string) error {
	logger := o.logger.With(zap.String("component", name))
	component, _ := o.lookup(name)

	for _, dep := range o.graph.DependenciesOf(name) {
		if err := o.waiter.WaitReady(ctx, dep, o.cfg.DependencyTimeout); err != nil {
			o.markFailed(name)
			logger.Error("dependency not ready", zap.String("dependency", dep), zap.Error(err))
			return &domain.ComponentError{Component: name, Err: err}
		}
	}

	if err := o.states.Transition(name, domain.StateInitializing); err != nil {
		return &domain.ComponentError{Component: name, Err: err}
	}
	o.setLive(name, true)

	start := time.Now()
	if err := safeInitialize(ctx, component); err != nil {
		o.markFailed(name)
		logger.Error("component initialization failed",
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return &domain.ComponentError{Component: name, Err: err}
	}

	if err := o.states.Transition(name, domain.StateReady); err != nil {
		// Abandoned by the scheduler while Initialize was still running.
		return &domain.ComponentError{Component: name, Err: err}
	}
	logger.Info("component ready", zap.Duration("duration", time.Since(start)))
	return nil
}

func (o *Orchestrator) markFailed(name string) {
	if err := o.states.Transition(name, domain.StateFailed); err != nil {
		o.logger.Debug("failed to mark component failed", zap.String("component", name), zap.Error(err))
	}
}

func (o *Orchestrator) setLive(name string, live bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.live[name] = live
}

func safeInitialize(ctx context.Context, c domain.Component) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", domain.ErrComponentPanic, p)
		}
	}()
	return c.Initialize(ctx)
}

// cleanup destroys every component that entered Initializing, in reverse
// order, after an aborted startup. This includes components whose Initialize
// failed, since they may hold partial resources. Component states are left as
// they were so that callers can inspect the failure.
func (o *Orchestrator) cleanup(ctx context.Context) {
	o.logger.Warn("startup aborted, destroying started components")
	for _, name := range o.teardownOrder() {
		o.destroy(ctx, name)
	}
}

// destroy calls Destroy on name once, if the component was started.
func (o *Orchestrator) destroy(ctx context.Context, name string) {
	o.mu.Lock()
	if !o.live[name] || o.destroyed[name] {
		o.mu.Unlock()
		return
	}
	o.destroyed[name] = true
	component := o.components[name]
	o.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, o.cfg.DestroyTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if p := recover(); p != nil {
				o.logger.Error("component destroy panicked",
					zap.String("component", name),
					zap.Any("panic", p))
			}
		}()
		component.Destroy(dctx)
	}()

	select {
	case <-done:
		o.logger.Info("component destroyed", zap.String("component", name))
	case <-dctx.Done():
		o.logger.Warn("component destroy timed out",
			zap.String("component", name),
			zap.Duration("timeout", o.cfg.DestroyTimeout))
	}
}

// Stop cancels an in-flight Start, stops health monitoring, destroys every
// started component in reverse order and marks all components Destroyed.
// It is idempotent; calls after the first return immediately.
//
// Listeners and components may call Stop while Start is running, using the
// context they were handed. Stop then only cancels the run and returns; Start
// finishes the teardown before it returns.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	cancelLife, cancelRun := o.lifeCancel, o.runCancel
	if owner, _ := ctx.Value(startScope{}).(*Orchestrator); owner == o && o.runCtx != nil {
		o.stopPending = true
		o.mu.Unlock()
		cancelRun()
		cancelLife()
		o.logger.Info("stop requested during startup")
		return
	}
	o.mu.Unlock()

	if cancelRun != nil {
		cancelRun()
	}
	cancelLife()

	o.startMu.Lock()
	defer o.startMu.Unlock()
	o.teardown(ctx)
}

func (o *Orchestrator) teardown(ctx context.Context) {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	o.mu.Unlock()

	o.logger.Info("stopping orchestrator")
	o.health.Stop()

	for _, name := range o.teardownOrder() {
		o.destroy(ctx, name)
		if err := o.states.Transition(name, domain.StateDestroyed); err != nil {
			o.logger.Warn("failed to mark component destroyed", zap.String("component", name), zap.Error(err))
		}
	}

	o.publish(ctx, domain.EventOrchestratorStopped, domain.PhasePayload{Phase: o.CurrentPhase()})
	o.logger.Info("orchestrator stopped")
}
