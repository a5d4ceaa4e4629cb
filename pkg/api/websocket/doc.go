// Package websocket provides real-time event streaming via WebSocket.
//
// Clients can connect to /api/v1/events/ws to receive orchestrator events
// as they are published. Pass ?type=phase.completed,health.changed to
// receive only some event types.
package websocket
