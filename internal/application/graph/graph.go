package graph

import (
	"sync"

	"github.com/aescanero/subsys/internal/domain"
)

// Descriptor is the immutable registration record of one component.
type Descriptor struct {
	Name         string       `json:"name"`
	Phase        domain.Phase `json:"phase"`
	Dependencies []string     `json:"dependencies,omitempty"`
}

// Graph maps component names to their phase and dependencies.
type Graph struct {
	mu     sync.RWMutex
	nodes  map[string]Descriptor
	order  []string // registration order
	phases map[domain.Phase][]string
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes:  make(map[string]Descriptor),
		phases: make(map[domain.Phase][]string),
	}
}

// Register adds a component. Dependencies may name components that are
// registered later; Validate checks them once the graph is complete.
func (g *Graph) Register(name string, phase domain.Phase, dependencies ...string) error {
	if name == "" {
		return domain.NewConfigurationError("", "", domain.ErrEmptyName)
	}
	if !phase.Schedulable() {
		return domain.NewConfigurationError(name, "unknown phase "+phase.String(), domain.ErrUnknownPhase)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[name]; exists {
		return domain.NewConfigurationError(name, "already registered", domain.ErrDuplicateComponent)
	}

	deps := make([]string, 0, len(dependencies))
	seen := make(map[string]bool, len(dependencies))
	for _, dep := range dependencies {
		if seen[dep] {
			continue
		}
		seen[dep] = true
		deps = append(deps, dep)
	}

	g.nodes[name] = Descriptor{Name: name, Phase: phase, Dependencies: deps}
	g.order = append(g.order, name)
	g.phases[phase] = append(g.phases[phase], name)
	return nil
}

// PhaseMembers returns the components assigned to phase in registration order.
func (g *Graph) PhaseMembers(phase domain.Phase) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	members := g.phases[phase]
	out := make([]string, len(members))
	copy(out, members)
	return out
}

// DependenciesOf returns the declared dependencies of name.
func (g *Graph) DependenciesOf(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	node, ok := g.nodes[name]
	if !ok {
		return nil
	}
	out := make([]string, len(node.Dependencies))
	copy(out, node.Dependencies)
	return out
}

// Descriptor returns the registration record of name.
func (g *Graph) Descriptor(name string) (Descriptor, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	node, ok := g.nodes[name]
	if !ok {
		return Descriptor{}, false
	}
	node.Dependencies = append([]string(nil), node.Dependencies...)
	return node, true
}

// Names returns every registered component in registration order.
func (g *Graph) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Len returns the number of registered components.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.order)
}
