package harness

import (
	"strconv"

	"github.com/roach88/bitstrat/internal/ir"
)

// TraceEvent is one recorded step as seen by assertions and golden
// snapshots. Costs and scores are formatted so snapshots stay in
// canonical JSON, which has no floats.
type TraceEvent struct {
	Index           int       `json:"index"`
	Stage           int       `json:"stage"`
	Algorithm       string    `json:"algorithm"`
	Operation       string    `json:"operation"`
	Params          ir.Object `json:"params"`
	Status          string    `json:"status"`
	Reason          string    `json:"reason,omitempty"`
	Before          string    `json:"before"`
	After           string    `json:"after"`
	Cost            string    `json:"cost"`
	Score           string    `json:"score"`
	BudgetRemaining string    `json:"budget_remaining"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expectation and assertion held.
	Pass bool `json:"pass"`

	// Execution is the engine's result record.
	Execution *ir.ExecutionResult `json:"execution"`

	// Trace holds the recorded steps in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStepTrace appends a recorded step to the trace.
func (r *Result) AddStepTrace(s ir.TransformationStep) {
	params := s.Params
	if params == nil {
		params = ir.Object{}
	}
	r.Trace = append(r.Trace, TraceEvent{
		Index:           s.Index,
		Stage:           s.Stage,
		Algorithm:       s.Algorithm,
		Operation:       s.Operation,
		Params:          params,
		Status:          string(s.Status),
		Reason:          s.Reason,
		Before:          s.BeforeBits.String(),
		After:           s.AfterBits.String(),
		Cost:            formatNumber(s.Cost),
		Score:           formatNumber(s.Score),
		BudgetRemaining: formatNumber(s.BudgetRemaining),
	})
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
