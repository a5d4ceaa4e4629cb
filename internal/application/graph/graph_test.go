package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/subsys/internal/domain"
)

func TestRegister_Duplicate(t *testing.T) {
	g := New()
	require.NoError(t, g.Register("P", domain.PhaseCore))

	err := g.Register("P", domain.PhaseServices)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDuplicateComponent)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	// The first registration is untouched.
	d, ok := g.Descriptor("P")
	require.True(t, ok)
	assert.Equal(t, domain.PhaseCore, d.Phase)
}

func TestRegister_UnknownPhase(t *testing.T) {
	g := New()

	assert.ErrorIs(t, g.Register("X", domain.PhaseCompleted), domain.ErrUnknownPhase)
	assert.ErrorIs(t, g.Register("Y", domain.Phase(42)), domain.ErrUnknownPhase)
	assert.ErrorIs(t, g.Register("", domain.PhaseCore), domain.ErrEmptyName)
	assert.Equal(t, 0, g.Len())
}

func TestRegister_DeduplicatesDependencies(t *testing.T) {
	g := New()
	require.NoError(t, g.Register("A", domain.PhaseCore))
	require.NoError(t, g.Register("B", domain.PhaseCore, "A", "A"))

	assert.Equal(t, []string{"A"}, g.DependenciesOf("B"))
}

func TestLookups(t *testing.T) {
	g := New()
	require.NoError(t, g.Register("P", domain.PhaseCore))
	require.NoError(t, g.Register("Q", domain.PhaseServices, "P"))
	require.NoError(t, g.Register("Q2", domain.PhaseServices, "P"))

	assert.Equal(t, []string{"Q", "Q2"}, g.PhaseMembers(domain.PhaseServices))
	assert.Empty(t, g.PhaseMembers(domain.PhaseIntegration))
	assert.Equal(t, []string{"P"}, g.DependenciesOf("Q"))
	assert.Empty(t, g.DependenciesOf("missing"))
	assert.Equal(t, []string{"P", "Q", "Q2"}, g.Names())

	// Returned slices are copies.
	members := g.PhaseMembers(domain.PhaseServices)
	members[0] = "mutated"
	assert.Equal(t, "Q", g.PhaseMembers(domain.PhaseServices)[0])
}

func TestValidate_Cycle(t *testing.T) {
	g := New()
	require.NoError(t, g.Register("A", domain.PhaseCore, "B"))
	require.NoError(t, g.Register("B", domain.PhaseCore, "C"))
	require.NoError(t, g.Register("C", domain.PhaseCore, "A"))

	err := g.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCyclicDependency)

	var cycleErr *domain.CycleError
	require.True(t, errors.As(err, &cycleErr))
	assert.Equal(t, []string{"A", "B", "C", "A"}, cycleErr.Path)
}

func TestValidate_SelfDependency(t *testing.T) {
	g := New()
	require.NoError(t, g.Register("A", domain.PhaseCore, "A"))

	var cycleErr *domain.CycleError
	require.True(t, errors.As(g.Validate(), &cycleErr))
	assert.Equal(t, []string{"A", "A"}, cycleErr.Path)
}

func TestValidate_CrossPhase(t *testing.T) {
	g := New()
	require.NoError(t, g.Register("early", domain.PhaseCore, "late"))
	require.NoError(t, g.Register("late", domain.PhaseIntegration))

	err := g.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCrossPhaseViolation)

	var cp *domain.CrossPhaseError
	require.True(t, errors.As(err, &cp))
	assert.Equal(t, "early", cp.Component)
	assert.Equal(t, "late", cp.Dependency)
}

func TestValidate_UnknownDependency(t *testing.T) {
	g := New()
	require.NoError(t, g.Register("A", domain.PhaseCore, "ghost"))

	err := g.Validate()
	assert.ErrorIs(t, err, domain.ErrUnknownDependency)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestValidate_OK(t *testing.T) {
	g := New()
	require.NoError(t, g.Register("P", domain.PhaseCore))
	require.NoError(t, g.Register("Q", domain.PhaseServices, "P"))
	require.NoError(t, g.Register("R", domain.PhaseVisualSystems, "Q"))
	require.NoError(t, g.Register("S", domain.PhaseIntegration, "R", "P"))

	assert.NoError(t, g.Validate())
}

func TestTopologicalOrder(t *testing.T) {
	// Same-phase diamond: A -> B, A -> C, {B, C} -> D
	g := New()
	require.NoError(t, g.Register("D", domain.PhaseServices, "B", "C"))
	require.NoError(t, g.Register("C", domain.PhaseServices, "A"))
	require.NoError(t, g.Register("B", domain.PhaseServices, "A"))
	require.NoError(t, g.Register("A", domain.PhaseCore))
	require.NoError(t, g.Register("E", domain.PhaseIntegration, "D"))

	order, err := g.TopologicalOrder()
	require.NoError(t, err)
	require.Len(t, order, 5)

	pos := make(map[string]int, len(order))
	for i, name := range order {
		pos[name] = i
	}
	assert.Equal(t, 0, pos["A"])
	assert.Less(t, pos["B"], pos["D"])
	assert.Less(t, pos["C"], pos["D"])
	assert.Equal(t, 4, pos["E"])
}

func TestTopologicalOrder_Cycle(t *testing.T) {
	g := New()
	require.NoError(t, g.Register("A", domain.PhaseCore, "B"))
	require.NoError(t, g.Register("B", domain.PhaseCore, "A"))

	_, err := g.TopologicalOrder()
	assert.ErrorIs(t, err, domain.ErrCyclicDependency)
}
