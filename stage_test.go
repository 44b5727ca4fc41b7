package ignition

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStagePlan(t *testing.T) {
	t.Parallel()

	plan, err := NewStagePlan(
		Stage{Number: 0, Name: "infra", Signals: []string{"db", "cache"}},
		Stage{Number: 1, Name: "services", Mode: ModeSequential, Signals: []string{"api"}},
	)
	require.NoError(t, err)

	stages := plan.Stages()
	require.Len(t, stages, 2)
	assert.Equal(t, "infra", stages[0].Name)
	assert.Equal(t, ModeSequential, stages[1].Mode)
	assert.Equal(t, []string{"db", "cache", "api"}, plan.SignalNames())

	number, ok := plan.AssignedStage("api")
	require.True(t, ok)
	assert.Equal(t, 1, number)
	_, ok = plan.AssignedStage("ghost")
	assert.False(t, ok)
}

func TestNewStagePlanNested(t *testing.T) {
	t.Parallel()

	plan, err := NewStagePlan(
		Stage{Number: 0, Mode: ModeStaged, Children: []Stage{
			{Number: 1, Signals: []string{"a"}},
			{Number: 2, Signals: []string{"b"}},
		}},
		Stage{Number: 3, Signals: []string{"c"}},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, plan.SignalNames())

	number, ok := plan.AssignedStage("b")
	require.True(t, ok)
	assert.Equal(t, 2, number)
}

func TestNewStagePlanValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		stages  []Stage
		wantErr error
	}{
		{
			"numbers must increase",
			[]Stage{
				{Number: 1, Signals: []string{"a"}},
				{Number: 1, Signals: []string{"b"}},
			},
			ErrStageNumberOrder,
		},
		{
			"numbers increase depth first",
			[]Stage{
				{Number: 0, Mode: ModeStaged, Children: []Stage{
					{Number: 5, Signals: []string{"a"}},
				}},
				{Number: 3, Signals: []string{"b"}},
			},
			ErrStageNumberOrder,
		},
		{
			"empty stage",
			[]Stage{{Number: 0}},
			ErrStageEmpty,
		},
		{
			"children without staged mode",
			[]Stage{
				{Number: 0, Mode: ModeParallel, Children: []Stage{
					{Number: 1, Signals: []string{"a"}},
				}},
			},
			ErrStageChildrenMode,
		},
		{
			"staged mode without children",
			[]Stage{{Number: 0, Mode: ModeStaged, Signals: []string{"a"}}},
			ErrStageChildrenMode,
		},
		{
			"composite with direct signals",
			[]Stage{
				{Number: 0, Mode: ModeStaged, Signals: []string{"x"}, Children: []Stage{
					{Number: 1, Signals: []string{"a"}},
				}},
			},
			ErrCompositeStageSignals,
		},
		{
			"duplicate assignment",
			[]Stage{
				{Number: 0, Signals: []string{"a"}},
				{Number: 1, Signals: []string{"a"}},
			},
			ErrStageDuplicateSignal,
		},
		{
			"empty signal name",
			[]Stage{{Number: 0, Signals: []string{""}}},
			ErrEmptySignalName,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStagePlan(tt.stages...)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestConfigureStagesRequiresRegisteredSignals(t *testing.T) {
	t.Parallel()

	c, err := New(WithMode(ModeStaged))
	require.NoError(t, err)
	require.NoError(t, c.Register("known", func(context.Context) error { return nil }))

	plan, err := NewStagePlan(Stage{Number: 0, Signals: []string{"known", "unknown"}})
	require.NoError(t, err)
	assert.ErrorIs(t, c.ConfigureStages(plan), ErrUnknownSignal)

	good, err := NewStagePlan(Stage{Number: 0, Signals: []string{"known"}})
	require.NoError(t, err)
	require.NoError(t, c.ConfigureStages(good))
	require.NoError(t, c.ConfigureStages(nil))
}
