// Package state tracks the lifecycle state of every managed component and
// lets callers wait for a component to become ready.
//
// Reads are lock-free with respect to other components: each component has
// its own entry and writes to different components never contend. Waiting is
// notify-based: every transition closes the entry's change channel, waking
// all waiters, who then re-read the state.
package state
