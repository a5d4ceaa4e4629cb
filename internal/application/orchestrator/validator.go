package orchestrator

import (
	"go.uber.org/zap"
)

// Validate checks the registered dependency graph. It reports unknown
// dependencies, cycles and dependencies scheduled in a later phase than their
// dependent. Start calls it before initializing anything.
func (o *Orchestrator) Validate() error {
	if err := o.graph.Validate(); err != nil {
		o.logger.Error("dependency graph validation failed", zap.Error(err))
		return err
	}
	return nil
}

// teardownOrder returns the components in reverse startup order.
func (o *Orchestrator) teardownOrder() []string {
	o.mu.RLock()
	order := o.order
	o.mu.RUnlock()

	if order == nil {
		var err error
		if order, err = o.graph.TopologicalOrder(); err != nil {
			order = o.graph.Names()
		}
	}

	out := make([]string, len(order))
	for i, name := range order {
		out[len(order)-1-i] = name
	}
	return out
}
