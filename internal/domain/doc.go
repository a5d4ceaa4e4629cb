// Package domain holds the types shared by every orchestrator subsystem.
//
// It defines:
//   - Phase and State, the two state machines driven during startup
//   - Component, the capability interface every managed component implements
//   - HealthResult and Snapshot, produced by the health aggregator
//   - EventType and the payload struct carried by each event type
//   - the error taxonomy returned across the public API
package domain
