package domain

import "context"

// Component is the capability every managed component exposes to the
// orchestrator.
type Component interface {
	// Initialize brings the component up. It may block; it should observe
	// ctx, which is cancelled when the phase budget runs out or the
	// orchestrator is stopped.
	Initialize(ctx context.Context) error

	// HealthCheck reports the current health of the component.
	HealthCheck(ctx context.Context) HealthResult

	// Destroy releases the component's resources. It is best-effort and
	// must not fail.
	Destroy(ctx context.Context)
}

// Refresher is implemented by components that can react to a refresh
// trigger without registering an explicit callback.
type Refresher interface {
	Refresh(ctx context.Context, trigger string) error
}

// HealthResult is the outcome of one health check.
type HealthResult struct {
	OK      bool   `json:"ok"`
	Details string `json:"details,omitempty"`
}

// Healthy is a convenience constructor for a passing result.
func Healthy(details string) HealthResult {
	return HealthResult{OK: true, Details: details}
}

// Unhealthy is a convenience constructor for a failing result.
func Unhealthy(details string) HealthResult {
	return HealthResult{OK: false, Details: details}
}
