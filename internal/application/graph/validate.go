package graph

import (
	"github.com/aescanero/subsys/internal/domain"
)

// Validate checks the graph:
//   - every dependency is registered
//   - there are no cycles (the error lists the cycle path)
//   - no dependency is scheduled in a later phase than its dependent
func (g *Graph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, name := range g.order {
		for _, dep := range g.nodes[name].Dependencies {
			if _, ok := g.nodes[dep]; !ok {
				return domain.NewConfigurationError(name, "depends on unregistered component "+dep, domain.ErrUnknownDependency)
			}
		}
	}

	if path := g.findCycle(); path != nil {
		return &domain.CycleError{Path: path}
	}

	for _, name := range g.order {
		node := g.nodes[name]
		for _, dep := range node.Dependencies {
			depNode := g.nodes[dep]
			if depNode.Phase > node.Phase {
				return &domain.CrossPhaseError{
					Component:       name,
					ComponentPhase:  node.Phase,
					Dependency:      dep,
					DependencyPhase: depNode.Phase,
				}
			}
		}
	}

	return nil
}

const (
	white = iota // not visited
	grey         // on the current DFS stack
	black        // fully explored
)

// findCycle runs a depth-first search in registration order and returns the
// first cycle found, closed on its starting component. Callers hold g.mu.
func (g *Graph) findCycle() []string {
	color := make(map[string]int, len(g.nodes))
	var stack []string

	var visit func(name string) []string
	visit = func(name string) []string {
		color[name] = grey
		stack = append(stack, name)

		for _, dep := range g.nodes[name].Dependencies {
			switch color[dep] {
			case grey:
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == dep {
						path := append([]string(nil), stack[i:]...)
						return append(path, dep)
					}
				}
			case white:
				if path := visit(dep); path != nil {
					return path
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[name] = black
		return nil
	}

	for _, name := range g.order {
		if color[name] == white {
			if path := visit(name); path != nil {
				return path
			}
		}
	}
	return nil
}

// TopologicalOrder returns every component ordered so that each one comes
// after all of its dependencies (Kahn's algorithm). Ties are broken by phase,
// then by registration order.
func (g *Graph) TopologicalOrder() ([]string, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	inDegree := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string, len(g.nodes))
	for _, name := range g.order {
		deps := g.nodes[name].Dependencies
		inDegree[name] = len(deps)
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	order := make([]string, 0, len(g.nodes))
	for _, phase := range domain.StartupPhases {
		queue := make([]string, 0)
		for _, name := range g.phases[phase] {
			if inDegree[name] == 0 {
				queue = append(queue, name)
			}
		}

		for len(queue) > 0 {
			name := queue[0]
			queue = queue[1:]
			order = append(order, name)

			for _, dependent := range dependents[name] {
				inDegree[dependent]--
				// Validate guarantees dependents are in this or a later phase;
				// later-phase dependents are picked up when their phase is scanned.
				if inDegree[dependent] == 0 && g.nodes[dependent].Phase == phase {
					queue = append(queue, dependent)
				}
			}
		}
	}

	return order, nil
}
