package state

import (
	"sync"
	"time"

	"github.com/aescanero/subsys/internal/domain"
)

// Record is one entry of a component's transition history.
type Record struct {
	State domain.State `json:"state"`
	At    time.Time    `json:"at"`
}

// Observer is invoked after every successful transition, outside any
// registry lock.
type Observer func(name string, from, to domain.State, at time.Time)

// Registry holds the current state of every component.
type Registry struct {
	mu        sync.RWMutex // guards entries
	entries   map[string]*entry
	observers []Observer
	now       func() time.Time
}

type entry struct {
	mu      sync.RWMutex
	state   domain.State
	changed chan struct{}
	history []Record
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// OnTransition adds an observer. Observers must be added before the registry
// is shared between goroutines.
func (r *Registry) OnTransition(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// Get returns the state of name. Unknown names are Uninitialized.
func (r *Registry) Get(name string) domain.State {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return domain.StateUninitialized
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Transition moves name to the given state. Destroyed -> Destroyed is
// accepted as a no-op.
func (r *Registry) Transition(name string, to domain.State) error {
	e := r.entry(name)
	now := r.now()

	e.mu.Lock()
	from := e.state
	if from == domain.StateDestroyed && to == domain.StateDestroyed {
		e.mu.Unlock()
		return nil
	}
	if !domain.CanTransition(from, to) {
		e.mu.Unlock()
		return &domain.TransitionError{Component: name, From: from, To: to}
	}
	e.state = to
	e.history = append(e.history, Record{State: to, At: now})
	close(e.changed)
	e.changed = make(chan struct{})
	e.mu.Unlock()

	r.mu.RLock()
	observers := r.observers
	r.mu.RUnlock()
	for _, o := range observers {
		o(name, from, to, now)
	}
	return nil
}

// Track makes name known to the registry in the Uninitialized state without
// recording a transition.
func (r *Registry) Track(name string) {
	r.entry(name)
}

// History returns the recorded transitions of name, oldest first.
func (r *Registry) History(name string) []Record {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Record, len(e.history))
	copy(out, e.history)
	return out
}

// Snapshot returns the state of every tracked component.
func (r *Registry) Snapshot() map[string]domain.State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]domain.State, len(r.entries))
	for name, e := range r.entries {
		e.mu.RLock()
		out[name] = e.state
		e.mu.RUnlock()
	}
	return out
}

// Counts returns the number of tracked components per state.
func (r *Registry) Counts() map[domain.State]int {
	counts := make(map[domain.State]int, len(domain.AllStates))
	for _, s := range r.Snapshot() {
		counts[s]++
	}
	return counts
}

// watch returns the current state of name together with a channel that is
// closed on the next transition.
func (r *Registry) watch(name string) (domain.State, <-chan struct{}) {
	e := r.entry(name)
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state, e.changed
}

func (r *Registry) entry(name string) *entry {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.entries[name]; ok {
		return e
	}
	e = &entry{state: domain.StateUninitialized, changed: make(chan struct{})}
	r.entries[name] = e
	return e
}
