package state

import (
	"context"
	"time"

	"github.com/aescanero/subsys/internal/domain"
)

// Waiter blocks until a component becomes ready.
type Waiter struct {
	registry *Registry
}

// NewWaiter creates a Waiter reading from registry.
func NewWaiter(registry *Registry) *Waiter {
	return &Waiter{registry: registry}
}

// WaitReady returns nil once name is Ready. It returns a *domain.DependencyError
// wrapping ErrDependencyFailed as soon as name is Failed or Destroyed,
// wrapping ErrDependencyTimeout once timeout elapses, or wrapping ctx.Err()
// when ctx is done first. A non-positive timeout waits until ctx is done.
func (w *Waiter) WaitReady(ctx context.Context, name string, timeout time.Duration) error {
	start := time.Now()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	for {
		current, changed := w.registry.watch(name)
		switch current {
		case domain.StateReady:
			return nil
		case domain.StateFailed, domain.StateDestroyed:
			return &domain.DependencyError{Dependency: name, Elapsed: time.Since(start), Err: domain.ErrDependencyFailed}
		}

		select {
		case <-changed:
		case <-timer:
			return &domain.DependencyError{Dependency: name, Elapsed: time.Since(start), Err: domain.ErrDependencyTimeout}
		case <-ctx.Done():
			return &domain.DependencyError{Dependency: name, Elapsed: time.Since(start), Err: ctx.Err()}
		}
	}
}
