// Package events provides the in-process event router used by the
// orchestrator and the components it manages.
//
// Listeners are invoked synchronously, in subscription order, on the
// publishing goroutine. A listener that returns an error or panics is logged
// and counted; the remaining listeners still run.
package events
