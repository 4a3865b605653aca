package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bitstrat/internal/ir"
)

const runNone = "def run(input):\n    return None\n"

// =============================================================================
// Script Validation Tests
// =============================================================================

func TestValidateScriptValid(t *testing.T) {
	s := &ir.ScriptRef{Name: "FlipAlgorithm", Role: ir.RoleAlgorithm, Source: runNone}
	assert.Empty(t, Validate(s))
}

func TestValidateScriptInvalidName(t *testing.T) {
	for _, name := range []string{"", "1abc", "has space", "semi;colon"} {
		errs := Validate(ir.ScriptRef{Name: name, Role: ir.RolePolicy, Source: runNone})
		require.Len(t, errs, 1, name)
		assert.Equal(t, ErrScriptNameInvalid, errs[0].Code)
	}
}

func TestValidateScriptInvalidRole(t *testing.T) {
	errs := Validate(&ir.ScriptRef{Name: "X", Role: "ai", Source: runNone})
	require.Len(t, errs, 1)
	assert.Equal(t, ErrScriptRoleInvalid, errs[0].Code)
	assert.Equal(t, "role", errs[0].Field)
}

func TestValidateScriptEmptySource(t *testing.T) {
	errs := Validate(&ir.ScriptRef{Name: "X", Role: ir.RoleScoring, Source: "  \n"})
	require.Len(t, errs, 1)
	assert.Equal(t, ErrScriptSourceEmpty, errs[0].Code)
}

func TestValidateScriptNoEntryPoint(t *testing.T) {
	errs := Validate(&ir.ScriptRef{Name: "X", Role: ir.RoleScoring, Source: "def score(input):\n    return 1\n"})
	require.Len(t, errs, 1)
	assert.Equal(t, ErrScriptNoEntry, errs[0].Code)
}

func TestValidateScriptVetoRole(t *testing.T) {
	errs := Validate(&ir.ScriptRef{Name: "X", Role: ir.RolePolicy, Source: runNone, VetoCapable: true})
	require.Len(t, errs, 1)
	assert.Equal(t, ErrScriptVetoRole, errs[0].Code)

	assert.Empty(t, Validate(&ir.ScriptRef{Name: "X", Role: ir.RoleScoring, Source: runNone, VetoCapable: true}))
}

// =============================================================================
// Strategy Validation Tests
// =============================================================================

func TestValidateStrategyValid(t *testing.T) {
	d := &ir.StrategyDefinition{
		ID:         "flip-all",
		Name:       "flip-all",
		Scheduler:  "OneShot",
		Algorithms: []string{"FlipAlgorithm"},
		Scoring:    []string{"OnesGain"},
		Policies:   []string{"Cheap"},
	}
	assert.Empty(t, Validate(d))
}

func TestValidateStrategyZeroAlgorithmsIsLegal(t *testing.T) {
	assert.Empty(t, Validate(ir.StrategyDefinition{Name: "idle", Scheduler: "OneShot"}))
}

func TestValidateStrategyMissingFields(t *testing.T) {
	errs := Validate(&ir.StrategyDefinition{})
	require.Len(t, errs, 2)
	assert.Equal(t, ErrStrategyNameEmpty, errs[0].Code)
	assert.Equal(t, ErrStrategyNoScheduler, errs[1].Code)
}

func TestValidateStrategyBadID(t *testing.T) {
	errs := Validate(&ir.StrategyDefinition{ID: "a b", Name: "n", Scheduler: "S"})
	require.Len(t, errs, 1)
	assert.Equal(t, ErrStrategyIDInvalid, errs[0].Code)
}

func TestValidateStrategyReferences(t *testing.T) {
	d := &ir.StrategyDefinition{
		Name:       "refs",
		Scheduler:  "bad name",
		Algorithms: []string{"A", "A"},
		Scoring:    []string{"1x"},
	}

	errs := Validate(d)
	require.Len(t, errs, 3)
	assert.Equal(t, ErrInvalidScriptRef, errs[0].Code)
	assert.Equal(t, "scheduler", errs[0].Field)
	assert.Equal(t, ErrDuplicateScriptRef, errs[1].Code)
	assert.Equal(t, "algorithms[1]", errs[1].Field)
	assert.Equal(t, ErrInvalidScriptRef, errs[2].Code)
	assert.Equal(t, "scoring[0]", errs[2].Field)
}

func TestValidateUnsupportedType(t *testing.T) {
	errs := Validate("not ir")
	require.Len(t, errs, 1)
	assert.Equal(t, ErrUnsupportedIRType, errs[0].Code)
}

func TestValidationErrorFormat(t *testing.T) {
	err := ValidationError{Field: "role", Message: "bad", Code: ErrScriptRoleInvalid}
	assert.Equal(t, "[E102] role: bad", err.Error())
}

func TestValidationErrorFormatWithLine(t *testing.T) {
	err := ValidationError{Field: "role", Message: "bad", Code: ErrScriptRoleInvalid, Line: 7}
	assert.Equal(t, "[E102] line 7: role: bad", err.Error())
}
