// Package health runs periodic health checks over the managed components and
// shared resources and scores them into an overall status.
//
// Each tick runs every check concurrently with a bounded fan-out. A check
// that fails, panics or exceeds its timeout is recorded as unhealthy and never
// aborts the pass. The resulting Snapshot is published atomically once the
// whole pass has finished.
package health
