package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/bitstrat/internal/ir"
)

// TraceSnapshot captures the outcome and trace of a scenario execution.
// It is serialized with canonical JSON for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string
	Execution    *ir.ExecutionResult
	Trace        []TraceEvent
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical JSON serialization.
// This is required because ir.MarshalCanonical only handles IR types and primitives.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"index":            event.Index,
			"stage":            event.Stage,
			"algorithm":        event.Algorithm,
			"operation":        event.Operation,
			"params":           event.Params,
			"status":           event.Status,
			"before":           event.Before,
			"after":            event.After,
			"cost":             event.Cost,
			"score":            event.Score,
			"budget_remaining": event.BudgetRemaining,
		}
		if event.Reason != "" {
			eventMap["reason"] = event.Reason
		}
		traceList[i] = eventMap
	}

	result := map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
	}

	if res := s.Execution; res != nil {
		result["execution_id"] = res.ID
		result["status"] = string(res.Status)
		result["initial_bits"] = res.InitialBits.String()
		result["final_bits"] = res.FinalBits.String()
		result["budget"] = map[string]any{
			"initial":   formatNumber(res.Budget.Initial),
			"used":      formatNumber(res.Budget.Used),
			"remaining": formatNumber(res.Budget.Remaining),
		}
		if res.StopReason != "" {
			result["stop_reason"] = string(res.StopReason)
		}
		if res.Error != "" {
			result["error"] = res.Error
		}
		if res.Verification != nil {
			result["verified"] = res.Verification.Verified
		}
	}
	return result
}

// Snapshot renders the golden-file bytes for a scenario result.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Execution:    result.Execution,
		Trace:        result.Trace,
	}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)

	return nil
}
