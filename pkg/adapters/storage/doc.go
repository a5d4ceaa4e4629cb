// Package storage provides health snapshot store implementations.
//
// Implementations:
//   - redis: Redis with JSON serialization, TTL and a capped history list,
//     plus a circuit-breaker guarded connectivity probe
//   - memory: In-memory ring buffer for tests and single-process hosts
package storage
