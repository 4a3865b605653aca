package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bitstrat/internal/ir"
)

func TestTraceJSON(t *testing.T) {
	db := tempDB(t)
	id := runFlip(t, db).ID

	out, _, err := runCLI(t, "--db", db, "--format", "json", "trace", id)
	require.NoError(t, err, out)

	trace := decodeData[TraceOutput](t, out)
	assert.Equal(t, id, trace.ExecutionID)
	assert.Equal(t, "flip-all", trace.Strategy)
	assert.Equal(t, ir.StatusCompleted, trace.Status)
	require.Len(t, trace.Steps, 1)

	step := trace.Steps[0]
	assert.Equal(t, "FlipAlgorithm", step.Algorithm)
	assert.Equal(t, "NOT", step.Operation)
	assert.Equal(t, ir.StepCommitted, step.Status)
	assert.Equal(t, "0101", step.BeforeBits.String())
	assert.Equal(t, "1010", step.AfterBits.String())
	assert.Equal(t, float64(1), step.Cost)
	assert.Equal(t, float64(9), step.BudgetRemaining)
}

func TestTraceText(t *testing.T) {
	db := tempDB(t)
	id := runFlip(t, db).ID

	out, _, err := runCLI(t, "--db", db, "trace", id, "--bits")
	require.NoError(t, err)
	assert.Contains(t, out, "Execution "+id+" (flip-all): completed")
	assert.Contains(t, out, "FlipAlgorithm")
	assert.Contains(t, out, "committed")
	assert.Contains(t, out, "BEFORE")
	assert.Contains(t, out, "0101")
	assert.Contains(t, out, "1010")
}

func TestTraceStatusFilter(t *testing.T) {
	db := tempDB(t)
	id := runFlip(t, db).ID

	out, _, err := runCLI(t, "--db", db, "trace", id, "--status", "rejected")
	require.NoError(t, err)
	assert.Contains(t, out, "No steps recorded.")
}

func TestTraceNotFound(t *testing.T) {
	out, _, err := runCLI(t, "--db", tempDB(t), "trace", "missing-id")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E005]")
}

func TestFormatOperation(t *testing.T) {
	tests := []struct {
		name   string
		step   ir.TransformationStep
		expect string
	}{
		{"no params", ir.TransformationStep{Operation: "NOT"}, "NOT"},
		{
			"sorted params",
			ir.TransformationStep{Operation: "XOR", Params: ir.Object{"mask": ir.String("10"), "end": ir.Int(8), "start": ir.Int(0)}},
			"XOR(end=8,mask=10,start=0)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, formatOperation(tt.step))
		})
	}
}
