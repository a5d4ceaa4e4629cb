// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Liveness, readiness and deep health probes
//   - Component states and transition history
//   - Health snapshots and their history
//   - Refresh broadcasts and trigger events
//   - Prometheus metrics
package http
