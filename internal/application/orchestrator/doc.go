// Package orchestrator starts a set of interdependent components in ordered
// phases and supervises them afterwards.
//
// Components are registered with a phase and the names they depend on.
// Start validates the dependency graph, then runs Core, Services,
// VisualSystems and Integration in sequence. Members of a phase initialize
// concurrently, each waiting for its own dependencies to become Ready. If
// any member fails the phase fails, startup is aborted and every component
// that was started is destroyed in reverse order.
//
// Once startup completes the orchestrator runs the health aggregator,
// accepts refresh broadcasts and keeps publishing lifecycle events on its
// router until Stop is called.
package orchestrator
