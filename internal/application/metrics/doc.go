// Package metrics collects orchestrator counters and timings.
//
// The Collector is pull based: Snapshot returns the current values. Every
// recorded observation is also pushed to a Sink so that an exporter such as
// the Prometheus adapter can publish it.
package metrics
