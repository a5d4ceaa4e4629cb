package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Configuration errors. All of them are fatal and surface before Start does
// any work.
var (
	ErrConfiguration       = errors.New("configuration error")
	ErrDuplicateComponent  = errors.New("duplicate component")
	ErrUnknownPhase        = errors.New("unknown phase")
	ErrEmptyName           = errors.New("component name is empty")
	ErrUnknownDependency   = errors.New("dependency is not registered")
	ErrCyclicDependency    = errors.New("cyclic dependency")
	ErrCrossPhaseViolation = errors.New("dependency scheduled in a later phase")
)

// Runtime errors.
var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrDependencyFailed  = errors.New("dependency failed")
	ErrDependencyTimeout = errors.New("dependency timeout")
	ErrPhaseFailed       = errors.New("phase failed")
	ErrPhaseTimeout      = errors.New("phase timeout")
	ErrComponentPanic    = errors.New("component panicked")
	ErrNotAccepting      = errors.New("refresh triggers are not accepted before startup completes")
	ErrStopped           = errors.New("orchestrator stopped")
	ErrSnapshotNotFound  = errors.New("health snapshot not found")
)

// ConfigurationError describes a rejected registration or graph.
type ConfigurationError struct {
	Component string
	Message   string
	Err       error
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("configuration error")
	if e.Component != "" {
		b.WriteString(": component ")
		b.WriteString(e.Component)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns ErrConfiguration and the specific cause.
func (e *ConfigurationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConfiguration}
	}
	return []error{ErrConfiguration, e.Err}
}

// NewConfigurationError builds a ConfigurationError.
func NewConfigurationError(component, message string, err error) *ConfigurationError {
	return &ConfigurationError{Component: component, Message: message, Err: err}
}

// CycleError lists the components forming a dependency cycle. The first and
// last entries are the same component.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("configuration error: cyclic dependency: %s", strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() []error {
	return []error{ErrConfiguration, ErrCyclicDependency}
}

// CrossPhaseError reports a dependency scheduled after its dependent.
type CrossPhaseError struct {
	Component       string
	ComponentPhase  Phase
	Dependency      string
	DependencyPhase Phase
}

func (e *CrossPhaseError) Error() string {
	return fmt.Sprintf("configuration error: component %s (%s) depends on %s scheduled in later phase %s",
		e.Component, e.ComponentPhase, e.Dependency, e.DependencyPhase)
}

func (e *CrossPhaseError) Unwrap() []error {
	return []error{ErrConfiguration, ErrCrossPhaseViolation}
}

// TransitionError reports an illegal state change.
type TransitionError struct {
	Component string
	From      State
	To        State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("component %s: invalid transition %s -> %s", e.Component, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// DependencyError reports that a dependency never became ready. Err is
// ErrDependencyFailed or ErrDependencyTimeout, or a context error when the
// wait was cancelled.
type DependencyError struct {
	Dependency string
	Elapsed    time.Duration
	Err        error
}

func (e *DependencyError) Error() string {
	if errors.Is(e.Err, ErrDependencyTimeout) {
		return fmt.Sprintf("dependency %s not ready after %s", e.Dependency, e.Elapsed.Round(time.Millisecond))
	}
	return fmt.Sprintf("dependency %s: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

// ComponentError ties a failure to the component that produced it.
type ComponentError struct {
	Component string
	Err       error
}

func (e *ComponentError) Error() string {
	return fmt.Sprintf("component %s: %v", e.Component, e.Err)
}

func (e *ComponentError) Unwrap() error {
	return e.Err
}

// PhaseError is returned by Start when a phase does not complete. It wraps
// both ErrPhaseFailed and the first underlying cause.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("phase %s failed: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() []error {
	return []error{ErrPhaseFailed, e.Err}
}
