package ignition

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodesFor(t *testing.T, names ...string) ([]*node, map[string]*node) {
	t.Helper()
	nodes := make([]*node, 0, len(names))
	byName := make(map[string]*node, len(names))
	for i, name := range names {
		s, err := newSignal(name, func(context.Context) error { return nil }, i)
		require.NoError(t, err)
		n := newNode(s)
		nodes = append(nodes, n)
		byName[name] = n
	}
	return nodes, byName
}

func stageNumbers(stages []*resolvedStage) []int {
	out := make([]int, 0, len(stages))
	for _, st := range stages {
		out = append(out, st.number)
	}
	return out
}

func memberNames(st *resolvedStage) []string {
	out := make([]string, 0, len(st.nodes))
	for _, n := range st.nodes {
		out = append(out, n.name())
	}
	return out
}

func TestResolveStagesNoPlan(t *testing.T) {
	t.Parallel()

	nodes, byName := nodesFor(t, "a", "b")
	stages := resolveStages(nil, nodes, byName)

	require.Len(t, stages, 1)
	assert.Equal(t, 0, stages[0].number)
	assert.Equal(t, ModeParallel, stages[0].mode)
	assert.Equal(t, []string{"a", "b"}, memberNames(stages[0]))
	assert.Equal(t, 2, stages[0].run.total)
	for _, n := range nodes {
		assert.Equal(t, 0, n.stage)
		require.Len(t, n.stagePath, 1)
	}
}

func TestResolveStagesUnassignedJoinStageZero(t *testing.T) {
	t.Parallel()

	nodes, byName := nodesFor(t, "a", "b", "floater")
	plan, err := NewStagePlan(
		Stage{Number: 0, Signals: []string{"a"}},
		Stage{Number: 1, Signals: []string{"b"}},
	)
	require.NoError(t, err)

	stages := resolveStages(plan, nodes, byName)
	require.Equal(t, []int{0, 1}, stageNumbers(stages))
	assert.Equal(t, []string{"a", "floater"}, memberNames(stages[0]))
	assert.Equal(t, 0, byName["floater"].stage)
	assert.Equal(t, 2, stages[0].run.total)
}

func TestResolveStagesSyntheticLeadingStage(t *testing.T) {
	t.Parallel()

	nodes, byName := nodesFor(t, "late", "floater")
	plan, err := NewStagePlan(Stage{Number: 3, Signals: []string{"late"}})
	require.NoError(t, err)

	stages := resolveStages(plan, nodes, byName)
	require.Equal(t, []int{0, 3}, stageNumbers(stages))
	assert.Equal(t, []string{"floater"}, memberNames(stages[0]))
	assert.Equal(t, ModeParallel, stages[0].mode)
}

func TestResolveStagesSyntheticBeforeNonPositiveFirst(t *testing.T) {
	t.Parallel()

	nodes, byName := nodesFor(t, "a", "floater")
	plan, err := NewStagePlan(Stage{Number: 0, Mode: ModeStaged, Children: []Stage{
		{Number: 1, Signals: []string{"a"}},
	}})
	require.NoError(t, err)

	// Stage 0 is composite, so the floater cannot merge into it; the
	// implicit stage slots in front with a smaller number.
	stages := resolveStages(plan, nodes, byName)
	require.Equal(t, []int{-1, 0}, stageNumbers(stages))
	assert.Equal(t, []string{"floater"}, memberNames(stages[0]))
}

func TestResolveStagesCompositeTotals(t *testing.T) {
	t.Parallel()

	nodes, byName := nodesFor(t, "a", "b", "c")
	plan, err := NewStagePlan(
		Stage{Number: 0, Mode: ModeStaged, Children: []Stage{
			{Number: 1, Signals: []string{"a"}},
			{Number: 2, Signals: []string{"b"}},
		}},
		Stage{Number: 3, Signals: []string{"c"}},
	)
	require.NoError(t, err)

	stages := resolveStages(plan, nodes, byName)
	require.Len(t, stages, 2)
	assert.Equal(t, 2, stages[0].run.total, "composite totals cover descendants")
	require.Len(t, stages[0].children, 2)
	assert.Equal(t, 1, stages[0].children[0].run.total)

	// Members of a nested stage settle through every enclosing stage.
	require.Len(t, byName["a"].stagePath, 2)
	assert.Equal(t, 1, byName["a"].stage)
	require.Len(t, byName["c"].stagePath, 1)
}

func TestStageRunSealOnlyWhenEmpty(t *testing.T) {
	t.Parallel()

	empty := newStageRun(0)
	empty.seal()
	select {
	case <-empty.done:
	default:
		t.Fatal("memberless stage must report done immediately")
	}

	occupied := newStageRun(2)
	occupied.seal()
	select {
	case <-occupied.done:
		t.Fatal("a stage with members must not be sealed")
	default:
	}
}
