package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/bitstrat/internal/bits"
	"github.com/roach88/bitstrat/internal/ir"
)

// createTestStore creates a new store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestResult creates a verified result with one committed and one
// rejected step.
func createTestResult(id, strategyID string, start time.Time) *ir.ExecutionResult {
	initial := bits.Buffer("0101")
	final := bits.Buffer("1010")
	return &ir.ExecutionResult{
		ID: id,
		Strategy: ir.StrategyDefinition{
			ID:         strategyID,
			Name:       strategyID,
			Scheduler:  "Sched",
			Algorithms: []string{"Flip"},
			Scoring:    []string{},
			Policies:   []string{},
		},
		InitialBits: initial,
		FinalBits:   final,
		Steps: []ir.TransformationStep{
			{
				Index: 0, Stage: 1, Algorithm: "Flip", Operation: "NOT",
				Params: ir.Object{}, Status: ir.StepCommitted,
				BeforeBits: initial, AfterBits: final,
				Cost: 1, EstimatedCost: 1, Score: 2, BudgetRemaining: 4,
				MetricsBefore:  map[string]float64{"ones": 2},
				MetricsAfter:   map[string]float64{"ones": 2},
				AffectedRanges: []bits.Range{{Start: 0, End: 4}},
				Duration:       time.Millisecond,
				Timestamp:      start.Add(time.Millisecond),
			},
			{
				Index: 1, Stage: 2, Algorithm: "Flip", Operation: "SET",
				Params: ir.Object{"position": ir.Int(1)}, Status: ir.StepRejected,
				Reason:     "POLICY_REJECTION: policy Cheap: no",
				BeforeBits: final, AfterBits: final, ProposedBits: "1110",
				Cost: 0.5, BudgetRemaining: 4,
				MetricsBefore:  map[string]float64{"ones": 2},
				MetricsAfter:   map[string]float64{"ones": 3},
				AffectedRanges: []bits.Range{{Start: 1, End: 2}},
				Timestamp:      start.Add(2 * time.Millisecond),
			},
		},
		Budget:        ir.Budget{Initial: 5, Used: 1, Remaining: 4},
		Status:        ir.StatusCompleted,
		StopReason:    ir.StopPlanComplete,
		ScriptDigests: map[string]string{"Sched": "aa", "Flip": "bb"},
		Verification: &ir.VerificationReport{
			Mode: ir.VerifyStrict, Verified: true, MatchPercentage: 100,
			MismatchPositions: []int{},
			ExpectedHash:      ir.BitsHash(string(final)),
			ActualHash:        ir.BitsHash(string(final)),
		},
		StartTime:     start,
		EndTime:       start.Add(5 * time.Millisecond),
		EngineVersion: ir.EngineVersion,
	}
}
