// Package graph holds the static component dependency graph.
//
// Components are registered with a phase and the names they depend on.
// Validate rejects cycles, dependencies on unknown names and dependencies
// scheduled in a later phase than their dependent. Lookups never fail; an
// unknown name simply yields an empty result.
package graph
