// Package events provides sinks that receive every event published on the
// orchestrator's router.
//
// Implementations:
//   - redis: appends events to Redis Streams, one stream per event type
//   - memory: keeps the most recent events in a ring buffer
package events
