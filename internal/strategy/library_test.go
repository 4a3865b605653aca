package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bitstrat/internal/ir"
)

const noop = "def run(input):\n    return None\n"

func seeded(t *testing.T) *Library {
	t.Helper()
	l := NewLibrary()
	require.NoError(t, l.PutScript(ir.ScriptRef{Name: "Sched", Role: ir.RoleScheduler, Source: noop}))
	require.NoError(t, l.PutScript(ir.ScriptRef{Name: "Flip", Role: ir.RoleAlgorithm, Source: noop}))
	require.NoError(t, l.PutScript(ir.ScriptRef{Name: "Gain", Role: ir.RoleScoring, Source: noop, VetoCapable: true}))
	require.NoError(t, l.PutScript(ir.ScriptRef{Name: "Cheap", Role: ir.RolePolicy, Source: noop}))
	return l
}

func TestLibrary_PutScriptValidation(t *testing.T) {
	l := NewLibrary()

	assert.Error(t, l.PutScript(ir.ScriptRef{Role: ir.RoleAlgorithm, Source: noop}))
	assert.Error(t, l.PutScript(ir.ScriptRef{Name: "x", Role: "ai", Source: noop}))
	assert.Error(t, l.PutScript(ir.ScriptRef{Name: "x", Role: ir.RoleAlgorithm, Source: "  "}))
	assert.Error(t, l.PutScript(ir.ScriptRef{Name: "x", Role: ir.RolePolicy, Source: noop, VetoCapable: true}))
}

func TestLibrary_ScriptLifecycle(t *testing.T) {
	l := seeded(t)

	s, ok := l.Script("Flip")
	require.True(t, ok)
	assert.Equal(t, ir.RoleAlgorithm, s.Role)

	names := []string{}
	for _, s := range l.Scripts() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"Cheap", "Flip", "Gain", "Sched"}, names)
	assert.Len(t, l.ScriptsByRole(ir.RoleScoring), 1)

	require.NoError(t, l.PutScript(ir.ScriptRef{Name: "Flip", Role: ir.RoleAlgorithm, Source: "def run(input):\n    return {'operation': 'NOT'}\n"}))
	s, _ = l.Script("Flip")
	assert.Contains(t, s.Source, "NOT")

	assert.True(t, l.DeleteScript("Flip"))
	assert.False(t, l.DeleteScript("Flip"))
	_, ok = l.Script("Flip")
	assert.False(t, ok)
}

func TestLibrary_Strategies(t *testing.T) {
	l := seeded(t)

	d, err := l.PutStrategy(ir.StrategyDefinition{Name: "basic", Scheduler: "Sched"})
	require.NoError(t, err)
	assert.Equal(t, "basic", d.ID)
	assert.Equal(t, []string{}, d.Algorithms)

	_, err = l.PutStrategy(ir.StrategyDefinition{ID: "s-2", Name: "other", Scheduler: "Sched"})
	require.NoError(t, err)

	got, ok := l.FindStrategy("other")
	require.True(t, ok)
	assert.Equal(t, "s-2", got.ID)

	assert.Len(t, l.Strategies(), 2)
	assert.True(t, l.DeleteStrategy("basic"))
	_, ok = l.Strategy("basic")
	assert.False(t, ok)

	_, err = l.PutStrategy(ir.StrategyDefinition{Name: "broken"})
	assert.Error(t, err)
}

func TestLibrary_Check(t *testing.T) {
	l := seeded(t)

	ok := ir.StrategyDefinition{
		Name:       "ok",
		Scheduler:  "Sched",
		Algorithms: []string{"Flip"},
		Scoring:    []string{"Gain"},
		Policies:   []string{"Cheap"},
	}
	assert.Empty(t, l.Check(ok))

	bad := ir.StrategyDefinition{
		Name:       "bad",
		Scheduler:  "Flip",
		Algorithms: []string{"Missing"},
	}
	errs := l.Check(bad)
	require.Len(t, errs, 2)
	assert.Equal(t, `strategy "bad": script "Flip" has role algorithm, want scheduler`, errs[0].Error())
	assert.Equal(t, `strategy "bad": algorithm script "Missing" not found`, errs[1].Error())
}
