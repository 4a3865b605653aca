package compiler

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileStrategyBasic(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		strategy: "flip-all": {
			scheduler:  "OneShot"
			algorithms: ["FlipAlgorithm", "ShiftAlgorithm"]
			scoring:    ["OnesGain"]
			policies:   ["Cheap"]
			tags:       ["demo"]
		}
	`)

	require.NoError(t, v.Err())
	d, err := CompileStrategy(v.LookupPath(cue.ParsePath(`strategy."flip-all"`)))
	require.NoError(t, err)

	assert.Equal(t, "flip-all", d.Name)
	assert.Equal(t, "flip-all", d.ID)
	assert.Equal(t, "OneShot", d.Scheduler)
	assert.Equal(t, []string{"FlipAlgorithm", "ShiftAlgorithm"}, d.Algorithms)
	assert.Equal(t, []string{"OnesGain"}, d.Scoring)
	assert.Equal(t, []string{"Cheap"}, d.Policies)
	assert.Equal(t, []string{"demo"}, d.Tags)
}

func TestCompileStrategyOverrides(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		strategy: s1: {
			id:        "strat-001"
			name:      "Balanced ones"
			scheduler: "OneShot"
		}
	`)

	d, err := CompileStrategy(v.LookupPath(cue.ParsePath("strategy.s1")))
	require.NoError(t, err)

	assert.Equal(t, "strat-001", d.ID)
	assert.Equal(t, "Balanced ones", d.Name)
	assert.Equal(t, []string{}, d.Algorithms)
	assert.Equal(t, []string{}, d.Scoring)
	assert.Equal(t, []string{}, d.Policies)
}

func TestCompileStrategyMissingScheduler(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`strategy: s: { algorithms: ["A"] }`)

	_, err := CompileStrategy(v.LookupPath(cue.ParsePath("strategy.s")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler is required")
}

func TestCompileStrategyBadList(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`strategy: s: { scheduler: "S", algorithms: "A" }`)

	_, err := CompileStrategy(v.LookupPath(cue.ParsePath("strategy.s")))
	require.Error(t, err)
}

func TestCompileStrategyNonStringEntry(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`strategy: s: { scheduler: "S", scoring: ["A", 2] }`)

	_, err := CompileStrategy(v.LookupPath(cue.ParsePath("strategy.s")))
	require.Error(t, err)
}
