package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bitstrat/internal/bitmetrics"
	"github.com/roach88/bitstrat/internal/bits"
	"github.com/roach88/bitstrat/internal/ir"
	"github.com/roach88/bitstrat/internal/ops"
	"github.com/roach88/bitstrat/internal/scripthost"
	"github.com/roach88/bitstrat/internal/strategy"
	"github.com/roach88/bitstrat/internal/telemetry"
	fakes "github.com/roach88/bitstrat/internal/testutil"
)

// fixture wires a strategy library to a fake host. Every script's source
// is a handle the fake host dispatches on.
type fixture struct {
	lib  *strategy.Library
	host *fakes.FakeHost
}

func newFixture() *fixture {
	return &fixture{lib: strategy.NewLibrary(), host: fakes.NewFakeHost()}
}

func (f *fixture) script(t *testing.T, name string, role ir.Role, fn fakes.ScriptFunc) {
	t.Helper()
	f.putScript(t, ir.ScriptRef{Name: name, Role: role}, fn)
}

func (f *fixture) putScript(t *testing.T, s ir.ScriptRef, fn fakes.ScriptFunc) {
	t.Helper()
	s.Source = "fake:" + s.Name
	require.NoError(t, f.lib.PutScript(s))
	f.host.Handle(s.Source, fn)
}

func (f *fixture) engine(opts ...EngineOption) *Engine {
	base := []EngineOption{
		WithIDGenerator(fakes.NewFixedIDGenerator("exec-1")),
		WithTimeSource(fakes.NewSteppingTime(time.Time{}, time.Millisecond)),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	return New(f.lib, ops.Standard(), bitmetrics.Standard{}, f.host, append(base, opts...)...)
}

func strat(sched string, algorithms ...string) ir.StrategyDefinition {
	return ir.StrategyDefinition{
		ID:         "s-1",
		Name:       "test",
		Scheduler:  sched,
		Algorithms: algorithms,
		Scoring:    []string{},
		Policies:   []string{},
	}
}

func propose(op string, params map[string]any) fakes.ScriptFunc {
	return func(context.Context, map[string]any) (any, error) {
		out := map[string]any{"operation": op}
		if params != nil {
			out["params"] = params
		}
		return out, nil
	}
}

// exhaustAware plans normal until the budget runs out, then exhausted.
func exhaustAware(normal, exhausted []any) fakes.ScriptFunc {
	return func(_ context.Context, in map[string]any) (any, error) {
		if in["budgetExhausted"].(bool) {
			return exhausted, nil
		}
		return normal, nil
	}
}

func rangeEntry(name string, start, end int64) map[string]any {
	return map[string]any{"algorithm": name, "range": []any{start, end}}
}

// Scenario: NOT on 0101 yields 1010 and costs one unit.
func TestExecute_SingleNot(t *testing.T) {
	f := newFixture()
	f.script(t, "Sched", ir.RoleScheduler, fakes.Return([]any{"Flip"}))
	f.script(t, "Flip", ir.RoleAlgorithm, propose("NOT", nil))

	res, err := f.engine().Execute(context.Background(), strat("Sched", "Flip"), bits.MustParse("0101"), 10)
	require.NoError(t, err)

	assert.Equal(t, "exec-1", res.ID)
	assert.Equal(t, ir.StatusCompleted, res.Status)
	assert.Equal(t, ir.StopPlanComplete, res.StopReason)
	assert.Equal(t, bits.Buffer("1010"), res.FinalBits)
	assert.Equal(t, ir.Budget{Initial: 10, Used: 1, Remaining: 9}, res.Budget)
	assert.Equal(t, ir.EngineVersion, res.EngineVersion)

	require.Len(t, res.Steps, 1)
	step := res.Steps[0]
	assert.Equal(t, 0, step.Index)
	assert.Equal(t, 1, step.Stage)
	assert.Equal(t, ir.StepCommitted, step.Status)
	assert.Equal(t, "Flip", step.Algorithm)
	assert.Equal(t, "NOT", step.Operation)
	assert.Equal(t, bits.Buffer("0101"), step.BeforeBits)
	assert.Equal(t, bits.Buffer("1010"), step.AfterBits)
	assert.Equal(t, bits.Empty, step.ProposedBits)
	assert.Equal(t, 1.0, step.Cost)
	assert.Equal(t, 9.0, step.BudgetRemaining)
	assert.Equal(t, []bits.Range{{Start: 0, End: 4}}, step.AffectedRanges)

	require.NotNil(t, res.Verification)
	assert.True(t, res.Verification.Verified)
	assert.Equal(t, ir.VerifyStrict, res.Verification.Mode)
	assert.Equal(t, 100.0, res.Verification.MatchPercentage)

	assert.Contains(t, res.ScriptDigests, "Sched")
	assert.Contains(t, res.ScriptDigests, "Flip")
	assert.True(t, res.EndTime.After(res.StartTime))
}

// Scenario: the first commit exhausts the budget, the rest of the plan is
// abandoned and the scheduler is asked exactly once more.
func TestExecute_ExhaustionReplansOnce(t *testing.T) {
	f := newFixture()
	f.script(t, "Sched", ir.RoleScheduler, exhaustAware(
		[]any{"Flip", "Flip", "Flip"},
		[]any{"Flip"},
	))
	f.script(t, "Flip", ir.RoleAlgorithm, propose("NOT", nil))

	res, err := f.engine().Execute(context.Background(), strat("Sched", "Flip"), bits.MustParse("0000"), 1)
	require.NoError(t, err)

	assert.True(t, res.Replanned)
	assert.Equal(t, ir.StopBudgetExhausted, res.StopReason)
	assert.Equal(t, 2, f.host.CallCount("Sched"))

	require.Len(t, res.Steps, 2)
	assert.Equal(t, ir.StepCommitted, res.Steps[0].Status)
	assert.Equal(t, ir.StepRejected, res.Steps[1].Status)
	assert.Equal(t, "insufficient budget: cost 1 > remaining 0", res.Steps[1].Reason)
	assert.Equal(t, 2, res.Steps[1].Stage)

	assert.Equal(t, bits.Buffer("1111"), res.FinalBits)
	assert.Equal(t, 0.0, res.Budget.Remaining)

	calls := f.host.Calls()
	assert.Equal(t, false, calls[0].Input["budgetExhausted"])
	last := calls[len(calls)-2]
	assert.Equal(t, "Sched", last.Script)
	assert.Equal(t, true, last.Input["budgetExhausted"])
}

// Scenario: a run that starts with nothing to spend plans once, with the
// exhausted flag set, and never re-plans.
func TestExecute_ZeroBudgetPlansOnce(t *testing.T) {
	f := newFixture()
	f.script(t, "Sched", ir.RoleScheduler, exhaustAware([]any{}, []any{"Flip"}))
	f.script(t, "Flip", ir.RoleAlgorithm, propose("NOT", nil))

	res, err := f.engine().Execute(context.Background(), strat("Sched", "Flip"), bits.MustParse("01"), 0)
	require.NoError(t, err)

	assert.False(t, res.Replanned)
	assert.Equal(t, 1, f.host.CallCount("Sched"))
	assert.Equal(t, ir.StopBudgetExhausted, res.StopReason)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, ir.StepRejected, res.Steps[0].Status)
	assert.Equal(t, bits.Buffer("01"), res.FinalBits)
}

// Scenario: two disjoint ranges run concurrently; completion order does
// not change the record.
func TestExecute_ParallelDisjointRanges(t *testing.T) {
	f := newFixture()
	f.script(t, "Sched", ir.RoleScheduler, fakes.Return([]any{
		[]any{rangeEntry("Left", 0, 4), rangeEntry("Right", 4, 8)},
	}))
	slowLeft := func(ctx context.Context, in map[string]any) (any, error) {
		time.Sleep(30 * time.Millisecond)
		return propose("NOT", map[string]any{"start": int64(0), "end": int64(4)})(ctx, in)
	}
	f.script(t, "Left", ir.RoleAlgorithm, slowLeft)
	f.script(t, "Right", ir.RoleAlgorithm, propose("NOT", map[string]any{"start": int64(4), "end": int64(8)}))

	res, err := f.engine().Execute(context.Background(), strat("Sched", "Left", "Right"), bits.MustParse("00000000"), 10)
	require.NoError(t, err)

	assert.Equal(t, bits.Buffer("11111111"), res.FinalBits)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, "Left", res.Steps[0].Algorithm)
	assert.Equal(t, "Right", res.Steps[1].Algorithm)
	assert.Equal(t, bits.Buffer("11110000"), res.Steps[0].AfterBits)
	assert.Equal(t, bits.Buffer("11110000"), res.Steps[1].BeforeBits)
	assert.Equal(t, 8.0, res.Budget.Remaining)
	assert.True(t, res.Verification.Verified)

	// Both saw the stage-start snapshot.
	for _, c := range f.host.Calls() {
		if c.Role == ir.RoleAlgorithm {
			assert.Equal(t, "00000000", c.Input["bits"])
		}
	}
}

func TestExecute_OverlappingRangesRunSequentially(t *testing.T) {
	f := newFixture()
	f.script(t, "Sched", ir.RoleScheduler, fakes.Return([]any{
		[]any{rangeEntry("Left", 0, 5), rangeEntry("Right", 4, 8)},
	}))
	f.script(t, "Left", ir.RoleAlgorithm, propose("NOT", map[string]any{"start": int64(0), "end": int64(5)}))
	f.script(t, "Right", ir.RoleAlgorithm, propose("NOT", map[string]any{"start": int64(4), "end": int64(8)}))

	res, err := f.engine().Execute(context.Background(), strat("Sched", "Left", "Right"), bits.MustParse("00000000"), 10)
	require.NoError(t, err)

	assert.Equal(t, bits.Buffer("11110111"), res.FinalBits)

	var rightInput map[string]any
	for _, c := range f.host.Calls() {
		if c.Script == "Right" {
			rightInput = c.Input
		}
	}
	require.NotNil(t, rightInput)
	assert.Equal(t, "11111000", rightInput["bits"])
}

func TestExecute_ParallelDisabledRunsSequentially(t *testing.T) {
	f := newFixture()
	f.script(t, "Sched", ir.RoleScheduler, fakes.Return([]any{
		[]any{rangeEntry("Left", 0, 2), rangeEntry("Right", 2, 4)},
	}))
	f.script(t, "Left", ir.RoleAlgorithm, propose("NOT", map[string]any{"start": int64(0), "end": int64(2)}))
	f.script(t, "Right", ir.RoleAlgorithm, propose("NOT", map[string]any{"start": int64(2), "end": int64(4)}))

	res, err := f.engine(WithParallelStages(false)).Execute(context.Background(), strat("Sched", "Left", "Right"), bits.MustParse("0000"), 10)
	require.NoError(t, err)
	assert.Equal(t, bits.Buffer("1111"), res.FinalBits)

	for _, c := range f.host.Calls() {
		if c.Script == "Right" {
			assert.Equal(t, "1100", c.Input["bits"])
		}
	}
}

func TestExecute_ParallelChangeOutsideRangeFails(t *testing.T) {
	f := newFixture()
	f.script(t, "Sched", ir.RoleScheduler, fakes.Return([]any{
		[]any{rangeEntry("Left", 0, 2), rangeEntry("Right", 2, 4)},
	}))
	f.script(t, "Left", ir.RoleAlgorithm, propose("NOT", nil))
	f.script(t, "Right", ir.RoleAlgorithm, fakes.Return(nil))

	res, err := f.engine().Execute(context.Background(), strat("Sched", "Left", "Right"), bits.MustParse("0000"), 10)
	require.NoError(t, err)

	require.Len(t, res.Steps, 1)
	step := res.Steps[0]
	assert.Equal(t, ir.StepFailed, step.Status)
	assert.Contains(t, step.Reason, "OPERATION_FAILURE: NOT changes bits outside declared range [0,2)")
	assert.Equal(t, bits.Buffer("1111"), step.ProposedBits)
	assert.Equal(t, bits.Buffer("0000"), res.FinalBits)
	assert.Equal(t, 10.0, res.Budget.Remaining)
}

func TestExecute_MissingScheduler(t *testing.T) {
	f := newFixture()
	f.script(t, "Flip", ir.RoleAlgorithm, propose("NOT", nil))

	res, err := f.engine().Execute(context.Background(), strat("Nope", "Flip"), bits.MustParse("01"), 5)
	require.Error(t, err)
	assert.True(t, IsMissingScript(err))

	assert.Equal(t, ir.StatusFailed, res.Status)
	assert.Equal(t, ir.StopMissingScript, res.StopReason)
	assert.Equal(t, err.Error(), res.Error)
	assert.Empty(t, res.Steps)
	assert.Equal(t, bits.Buffer("01"), res.FinalBits)
}

func TestExecute_SchedulerWithWrongRole(t *testing.T) {
	f := newFixture()
	f.script(t, "Flip", ir.RoleAlgorithm, propose("NOT", nil))

	_, err := f.engine().Execute(context.Background(), strat("Flip", "Flip"), bits.MustParse("01"), 5)
	require.Error(t, err)
	assert.True(t, IsMissingScript(err))
}

func TestExecute_SchedulerCrash(t *testing.T) {
	tests := []struct {
		name string
		fn   fakes.ScriptFunc
	}{
		{"error", fakes.Fail("boom")},
		{"malformed plan", fakes.Return(int64(42))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.script(t, "Sched", ir.RoleScheduler, tt.fn)

			res, err := f.engine().Execute(context.Background(), strat("Sched"), bits.MustParse("01"), 5)
			require.Error(t, err)
			assert.True(t, IsSchedulerCrash(err))
			assert.Equal(t, ir.StatusFailed, res.Status)
			assert.Equal(t, ir.StopSchedulerCrash, res.StopReason)
			assert.Equal(t, ir.Budget{Initial: 5, Remaining: 5}, res.Budget)
		})
	}
}

func TestExecute_InvalidBudget(t *testing.T) {
	for _, b := range []float64{-1, math.NaN(), math.Inf(1)} {
		f := newFixture()
		f.script(t, "Sched", ir.RoleScheduler, fakes.Return([]any{}))

		res, err := f.engine().Execute(context.Background(), strat("Sched"), bits.MustParse("01"), b)
		require.Error(t, err)
		assert.True(t, IsInvalidBudget(err))
		assert.Equal(t, ir.StopInvalidBudget, res.StopReason)
		assert.Equal(t, ir.Budget{}, res.Budget)
		assert.Equal(t, 0, f.host.CallCount("Sched"))
	}
}

func TestExecute_EmptyInput(t *testing.T) {
	f := newFixture()
	f.script(t, "Sched", ir.RoleScheduler, fakes.Return([]any{"Flip"}))
	f.script(t, "Flip", ir.RoleAlgorithm, propose("NOT", nil))

	res, err := f.engine().Execute(context.Background(), strat("Sched", "Flip"), bits.Empty, 5)
	require.NoError(t, err)

	assert.Equal(t, ir.StatusCompleted, res.Status)
	assert.Equal(t, ir.StopEmptyInput, res.StopReason)
	assert.Empty(t, res.Steps)
	assert.Equal(t, 5.0, res.Budget.Remaining)
	assert.Equal(t, 0, f.host.CallCount("Sched"))
	assert.True(t, res.Verification.Verified)
}

func TestExecute_Cancelled(t *testing.T) {
	f := newFixture()
	f.script(t, "Sched", ir.RoleScheduler, fakes.Return([]any{"Flip"}))
	f.script(t, "Flip", ir.RoleAlgorithm, propose("NOT", nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.engine().Execute(ctx, strat("Sched", "Flip"), bits.MustParse("01"), 5)
	require.Error(t, err)
	assert.True(t, IsCancelled(err))
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, ir.StatusCancelled, res.Status)
	assert.Equal(t, ir.StopCancelled, res.StopReason)
	assert.Empty(t, res.Steps)
	assert.Equal(t, 0, f.host.CallCount("Flip"))
}

func TestExecute_CancelBetweenStages(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.script(t, "Sched", ir.RoleScheduler, fakes.Return([]any{"Flip", "Flip", "Flip"}))
	f.script(t, "Flip", ir.RoleAlgorithm, func(c context.Context, in map[string]any) (any, error) {
		cancel()
		return propose("NOT", nil)(c, in)
	})

	res, err := f.engine().Execute(ctx, strat("Sched", "Flip"), bits.MustParse("01"), 5)
	require.Error(t, err)
	assert.True(t, IsCancelled(err))

	// The in-flight stage finished; nothing after it ran.
	require.Len(t, res.Steps, 1)
	assert.Equal(t, ir.StepCommitted, res.Steps[0].Status)
	assert.Equal(t, bits.Buffer("10"), res.FinalBits)
	assert.True(t, res.Verification.Verified)
}

func TestExecute_StepQuota(t *testing.T) {
	f := newFixture()
	f.script(t, "Sched", ir.RoleScheduler, fakes.Return([]any{"Flip", "Flip", "Flip", "Flip", "Flip"}))
	f.script(t, "Flip", ir.RoleAlgorithm, propose("NOT", nil))

	res, err := f.engine(WithMaxSteps(2)).Execute(context.Background(), strat("Sched", "Flip"), bits.MustParse("01"), 100)
	require.NoError(t, err)

	assert.Equal(t, ir.StatusCompleted, res.Status)
	assert.Equal(t, ir.StopStepQuota, res.StopReason)
	assert.Len(t, res.Steps, 2)
	assert.Equal(t, bits.Buffer("01"), res.FinalBits)
	assert.Equal(t, 98.0, res.Budget.Remaining)
}

func TestExecute_PolicyRejection(t *testing.T) {
	f := newFixture()
	f.script(t, "Sched", ir.RoleScheduler, fakes.Return([]any{"Flip"}))
	f.script(t, "Flip", ir.RoleAlgorithm, propose("NOT", nil))
	f.script(t, "Allow", ir.RolePolicy, fakes.Return(true))
	f.script(t, "Cheap", ir.RolePolicy, fakes.Return(map[string]any{"accept": false, "reason": "too expensive"}))
	f.script(t, "Never", ir.RolePolicy, fakes.Fail("should not run"))

	s := strat("Sched", "Flip")
	s.Policies = []string{"Allow", "Cheap", "Never"}

	res, err := f.engine().Execute(context.Background(), s, bits.MustParse("0101"), 10)
	require.NoError(t, err)

	require.Len(t, res.Steps, 1)
	step := res.Steps[0]
	assert.Equal(t, ir.StepRejected, step.Status)
	assert.Equal(t, "POLICY_REJECTION: policy Cheap: too expensive", step.Reason)
	assert.Equal(t, step.BeforeBits, step.AfterBits)
	assert.Equal(t, bits.Buffer("1010"), step.ProposedBits)
	assert.Equal(t, bits.Buffer("0101"), res.FinalBits)
	assert.Equal(t, 10.0, res.Budget.Remaining)
	assert.Equal(t, 0, f.host.CallCount("Never"))

	var policyInput map[string]any
	for _, c := range f.host.Calls() {
		if c.Script == "Cheap" {
			policyInput = c.Input
		}
	}
	require.NotNil(t, policyInput)
	assert.Equal(t, "NOT", policyInput["operation"])
	assert.Equal(t, 1.0, policyInput["cost"])
	assert.Equal(t, 10.0, policyInput["budgetRemaining"])
}

func TestExecute_PolicyErrorFailsStep(t *testing.T) {
	f := newFixture()
	f.script(t, "Sched", ir.RoleScheduler, fakes.Return([]any{"Flip"}))
	f.script(t, "Flip", ir.RoleAlgorithm, propose("NOT", nil))
	f.script(t, "Broken", ir.RolePolicy, fakes.Return("yes"))

	s := strat("Sched", "Flip")
	s.Policies = []string{"Broken"}

	res, err := f.engine().Execute(context.Background(), s, bits.MustParse("01"), 10)
	require.NoError(t, err)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, ir.StepFailed, res.Steps[0].Status)
	assert.Contains(t, res.Steps[0].Reason, "SCRIPT_DECLINE_OR_ERROR: policy Broken")
}

func TestExecute_Scoring(t *testing.T) {
	tests := []struct {
		name       string
		veto       bool
		out        any
		wantStatus ir.StepStatus
		wantReason string
	}{
		{"positive", true, 2.5, ir.StepCommitted, ""},
		{"negative from veto-capable", true, -1.0, ir.StepRejected, "vetoed by Gain (score -1)"},
		{"explicit veto", true, map[string]any{"score": 3.0, "veto": true}, ir.StepRejected, "vetoed by Gain (score 3)"},
		{"negative without veto", false, -1.0, ir.StepCommitted, ""},
		{"veto ignored without capability", false, map[string]any{"veto": true}, ir.StepCommitted, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.script(t, "Sched", ir.RoleScheduler, fakes.Return([]any{"Flip"}))
			f.script(t, "Flip", ir.RoleAlgorithm, propose("NOT", nil))
			f.putScript(t, ir.ScriptRef{Name: "Gain", Role: ir.RoleScoring, VetoCapable: tt.veto}, fakes.Return(tt.out))

			s := strat("Sched", "Flip")
			s.Scoring = []string{"Gain"}

			res, err := f.engine().Execute(context.Background(), s, bits.MustParse("01"), 10)
			require.NoError(t, err)
			require.Len(t, res.Steps, 1)
			assert.Equal(t, tt.wantStatus, res.Steps[0].Status)
			assert.Equal(t, tt.wantReason, res.Steps[0].Reason)
		})
	}
}

func TestExecute_ScoresAreSummed(t *testing.T) {
	f := newFixture()
	f.script(t, "Sched", ir.RoleScheduler, fakes.Return([]any{"Flip"}))
	f.script(t, "Flip", ir.RoleAlgorithm, propose("NOT", nil))
	f.script(t, "A", ir.RoleScoring, fakes.Return(1.5))
	f.script(t, "B", ir.RoleScoring, fakes.Return(int64(2)))
	f.script(t, "Peek", ir.RolePolicy, func(_ context.Context, in map[string]any) (any, error) {
		return in["score"].(float64) == 3.5, nil
	})

	s := strat("Sched", "Flip")
	s.Scoring = []string{"A", "B"}
	s.Policies = []string{"Peek"}

	res, err := f.engine().Execute(context.Background(), s, bits.MustParse("01"), 10)
	require.NoError(t, err)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, ir.StepCommitted, res.Steps[0].Status)
	assert.Equal(t, 3.5, res.Steps[0].Score)
}

func TestExecute_AlgorithmOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		plan       []any
		fn         fakes.ScriptFunc
		wantSteps  int
		wantStatus ir.StepStatus
		wantReason string
	}{
		{"decline", []any{"Flip"}, fakes.Return(nil), 0, "", ""},
		{"error", []any{"Flip"}, fakes.Fail("no idea"), 1, ir.StepFailed, "SCRIPT_DECLINE_OR_ERROR: no idea"},
		{"malformed", []any{"Flip"}, fakes.Return("NOT"), 1, ir.StepFailed, "SCRIPT_DECLINE_OR_ERROR"},
		{"unknown operation", []any{"Flip"}, propose("MAGIC", nil), 1, ir.StepFailed, "OPERATION_FAILURE"},
		{"bad params", []any{"Flip"}, propose("SET", map[string]any{"position": int64(9)}), 1, ir.StepFailed, "OPERATION_FAILURE"},
		{"oversized result", []any{"Flip"}, propose("EXTEND", map[string]any{"count": int64(1 << 40)}), 1, ir.StepFailed, "OPERATION_FAILURE: EXTEND: result length"},
		{"not in strategy", []any{"Ghost"}, propose("NOT", nil), 1, ir.StepFailed, `SCRIPT_DECLINE_OR_ERROR: algorithm "Ghost" is not part of the strategy`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.script(t, "Sched", ir.RoleScheduler, fakes.Return(tt.plan))
			f.script(t, "Flip", ir.RoleAlgorithm, tt.fn)

			res, err := f.engine().Execute(context.Background(), strat("Sched", "Flip"), bits.MustParse("0110"), 10)
			require.NoError(t, err)
			require.Len(t, res.Steps, tt.wantSteps)
			assert.Equal(t, bits.Buffer("0110"), res.FinalBits)
			assert.Equal(t, 10.0, res.Budget.Remaining)
			if tt.wantSteps == 0 {
				return
			}
			assert.Equal(t, tt.wantStatus, res.Steps[0].Status)
			assert.Contains(t, res.Steps[0].Reason, tt.wantReason)
		})
	}
}

func TestExecute_UnresolvedAlgorithmFailsStep(t *testing.T) {
	f := newFixture()
	f.script(t, "Sched", ir.RoleScheduler, fakes.Return([]any{"Missing", "Flip"}))
	f.script(t, "Flip", ir.RoleAlgorithm, propose("NOT", nil))

	res, err := f.engine().Execute(context.Background(), strat("Sched", "Missing", "Flip"), bits.MustParse("01"), 10)
	require.NoError(t, err)

	require.Len(t, res.Steps, 2)
	assert.Equal(t, ir.StepFailed, res.Steps[0].Status)
	assert.Contains(t, res.Steps[0].Reason, `unresolved algorithm script "Missing"`)
	assert.Equal(t, ir.StepCommitted, res.Steps[1].Status)
	assert.NotContains(t, res.ScriptDigests, "Missing")
}

func TestExecute_ScriptTimeoutFailsStep(t *testing.T) {
	f := newFixture()
	f.script(t, "Sched", ir.RoleScheduler, fakes.Return([]any{"Slow"}))
	f.script(t, "Slow", ir.RoleAlgorithm, func(ctx context.Context, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	res, err := f.engine(WithScriptTimeout(10*time.Millisecond)).Execute(context.Background(), strat("Sched", "Slow"), bits.MustParse("01"), 10)
	require.NoError(t, err)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, ir.StepFailed, res.Steps[0].Status)
	assert.Contains(t, res.Steps[0].Reason, "timed out")
}

func TestExecute_ScriptsAreSnapshotted(t *testing.T) {
	f := newFixture()
	f.script(t, "Sched", ir.RoleScheduler, fakes.Return([]any{"Flip", "Flip"}))

	var once sync.Once
	f.script(t, "Flip", ir.RoleAlgorithm, func(ctx context.Context, in map[string]any) (any, error) {
		// Replacing the script mid-run must not affect this run.
		once.Do(func() { f.lib.DeleteScript("Flip") })
		return propose("NOT", nil)(ctx, in)
	})

	res, err := f.engine().Execute(context.Background(), strat("Sched", "Flip"), bits.MustParse("01"), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Counts().Committed)
}

func TestExecute_Deterministic(t *testing.T) {
	run := func() *ir.ExecutionResult {
		f := newFixture()
		f.script(t, "Sched", ir.RoleScheduler, exhaustAware([]any{"Flip", "Shift", "Flip"}, []any{"Shift"}))
		f.script(t, "Flip", ir.RoleAlgorithm, propose("XOR", map[string]any{"mask": "10"}))
		f.script(t, "Shift", ir.RoleAlgorithm, propose("ROTATE_LEFT", map[string]any{"amount": int64(1)}))
		res, err := f.engine().Execute(context.Background(), strat("Sched", "Flip", "Shift"), bits.MustParse("01101001"), 4)
		require.NoError(t, err)
		return res
	}

	assert.Equal(t, run(), run())
}

// Chain continuity, budget monotonicity, unchanged bits on rejection and
// strict replay hold for a mixed run.
func TestExecute_RecordProperties(t *testing.T) {
	f := newFixture()
	f.script(t, "Sched", ir.RoleScheduler, exhaustAware(
		[]any{"Not", "Bad", "Insert", "Decline", "Not", "Xor"},
		[]any{"Not"},
	))
	f.script(t, "Not", ir.RoleAlgorithm, propose("NOT", nil))
	f.script(t, "Bad", ir.RoleAlgorithm, propose("DELETE", map[string]any{"start": int64(5), "end": int64(1)}))
	f.script(t, "Insert", ir.RoleAlgorithm, propose("INSERT", map[string]any{"position": int64(2), "bits": "11"}))
	f.script(t, "Decline", ir.RoleAlgorithm, fakes.Return(nil))
	f.script(t, "Xor", ir.RoleAlgorithm, propose("XOR", map[string]any{"mask": "1"}))
	f.script(t, "NoXor", ir.RolePolicy, func(_ context.Context, in map[string]any) (any, error) {
		return map[string]any{"accept": in["operation"] != "XOR", "reason": "no xor"}, nil
	})

	s := strat("Sched", "Not", "Bad", "Insert", "Decline", "Xor")
	s.Policies = []string{"NoXor"}

	res, err := f.engine().Execute(context.Background(), s, bits.MustParse("0011"), 5.5)
	require.NoError(t, err)
	require.NotEmpty(t, res.Steps)

	prev := res.InitialBits
	remaining := res.Budget.Initial
	for i, step := range res.Steps {
		assert.Equal(t, i, step.Index)
		assert.Equal(t, prev, step.BeforeBits, "step %d breaks the chain", i)
		assert.LessOrEqual(t, step.BudgetRemaining, remaining, "budget grew at step %d", i)
		if !step.Committed() {
			assert.Equal(t, step.BeforeBits, step.AfterBits, "step %d changed bits", i)
			assert.Equal(t, remaining, step.BudgetRemaining)
		}
		prev = step.AfterBits
		remaining = step.BudgetRemaining
	}
	assert.Equal(t, prev, res.FinalBits)
	assert.Equal(t, res.Budget.Initial, res.Budget.Used+res.Budget.Remaining)

	var spent float64
	for _, step := range res.Steps {
		if step.Committed() {
			spent += step.Cost
		}
	}
	assert.InDelta(t, res.Budget.Initial-spent, res.Budget.Remaining, 1e-9)
	assert.InDelta(t, spent, res.Budget.Used, 1e-9)

	counts := res.Counts()
	assert.Equal(t, 1, counts.Failed)
	assert.Equal(t, 1, counts.Rejected)
	assert.True(t, res.Verification.Verified)
	assert.True(t, res.Verification.LengthChanged)
}

func TestExecute_FastVerify(t *testing.T) {
	f := newFixture()
	f.script(t, "Sched", ir.RoleScheduler, fakes.Return([]any{"Flip"}))
	f.script(t, "Flip", ir.RoleAlgorithm, propose("NOT", nil))

	res, err := f.engine(WithVerifyMode(ir.VerifyFast)).Execute(context.Background(), strat("Sched", "Flip"), bits.MustParse("01"), 1)
	require.NoError(t, err)
	assert.Equal(t, ir.VerifyFast, res.Verification.Mode)
	assert.True(t, res.Verification.Verified)
}

func TestSubscribe(t *testing.T) {
	f := newFixture()
	f.script(t, "Sched", ir.RoleScheduler, fakes.Return([]any{"Flip", "Flip"}))
	f.script(t, "Flip", ir.RoleAlgorithm, propose("NOT", nil))
	e := f.engine()

	var got []Progress
	unsubscribe := e.Subscribe(func(p Progress) { got = append(got, p) })

	_, err := e.Execute(context.Background(), strat("Sched", "Flip"), bits.MustParse("01"), 10)
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(got), 3)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].Seq, got[i-1].Seq)
	}
	assert.Equal(t, ir.StatusRunning, got[0].Status)
	assert.Equal(t, 0.0, got[0].Percent)

	last := got[len(got)-1]
	assert.Equal(t, ir.StatusCompleted, last.Status)
	assert.Equal(t, 100.0, last.Percent)
	assert.Equal(t, 2, last.Steps)
	assert.Equal(t, 8.0, last.Remaining)
	require.NotNil(t, last.Result)
	assert.Equal(t, bits.Buffer("01"), last.Result.FinalBits)

	unsubscribe()
	n := len(got)
	_, err = e.Execute(context.Background(), strat("Sched", "Flip"), bits.MustParse("01"), 10)
	require.NoError(t, err)
	assert.Len(t, got, n)
}

type memStore struct {
	mu      sync.Mutex
	results []*ir.ExecutionResult
	err     error
}

func (s *memStore) Save(_ context.Context, res *ir.ExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.results = append(s.results, res)
	return nil
}

func TestExecute_SavesEveryResult(t *testing.T) {
	f := newFixture()
	f.script(t, "Sched", ir.RoleScheduler, fakes.Return([]any{"Flip"}))
	f.script(t, "Flip", ir.RoleAlgorithm, propose("NOT", nil))

	st := &memStore{}
	e := f.engine(WithResultStore(st))

	_, err := e.Execute(context.Background(), strat("Sched", "Flip"), bits.MustParse("01"), 10)
	require.NoError(t, err)
	_, err = e.Execute(context.Background(), strat("Missing"), bits.MustParse("01"), 10)
	require.Error(t, err)

	require.Len(t, st.results, 2)
	assert.Equal(t, ir.StatusCompleted, st.results[0].Status)
	assert.Equal(t, ir.StatusFailed, st.results[1].Status)
}

func TestExecute_SaveFailure(t *testing.T) {
	f := newFixture()
	f.script(t, "Sched", ir.RoleScheduler, fakes.Return([]any{"Flip"}))
	f.script(t, "Flip", ir.RoleAlgorithm, propose("NOT", nil))

	st := &memStore{err: errors.New("disk full")}
	res, err := f.engine(WithResultStore(st)).Execute(context.Background(), strat("Sched", "Flip"), bits.MustParse("01"), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, ir.StatusCompleted, res.Status)
	assert.Equal(t, bits.Buffer("10"), res.FinalBits)
}

func TestExecute_Telemetry(t *testing.T) {
	f := newFixture()
	f.script(t, "Sched", ir.RoleScheduler, exhaustAware([]any{"Flip", "Flip"}, []any{}))
	f.script(t, "Flip", ir.RoleAlgorithm, propose("NOT", nil))

	_, tel := telemetry.NewRegistry()

	_, err := f.engine(WithTelemetry(tel)).Execute(context.Background(), strat("Sched", "Flip"), bits.MustParse("01"), 1)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(tel.Runs.WithLabelValues("completed", "budget_exhausted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tel.Replans))
	assert.Equal(t, 1.0, testutil.ToFloat64(tel.Steps.WithLabelValues("committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tel.BudgetSpent.WithLabelValues("NOT")))
	assert.Equal(t, 2.0, testutil.ToFloat64(tel.ScriptInvocations.WithLabelValues("scheduler", telemetry.OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(tel.Verifications.WithLabelValues("strict", "true")))
}

func TestExecute_Starlark(t *testing.T) {
	lib := strategy.NewLibrary()
	require.NoError(t, lib.PutScript(ir.ScriptRef{Name: "Sched", Role: ir.RoleScheduler, Source: `
def run(input):
    if input["budgetExhausted"]:
        return []
    return input["availableAlgorithms"]
`}))
	require.NoError(t, lib.PutScript(ir.ScriptRef{Name: "SetFirstZero", Role: ir.RoleAlgorithm, Source: `
def run(input):
    bits = input["bits"]
    for i in range(len(bits)):
        if bits[i] == "0":
            return {"operation": "SET", "params": {"position": i}, "estimatedCost": get_cost("SET")}
    return None
`}))
	require.NoError(t, lib.PutScript(ir.ScriptRef{Name: "OnesGain", Role: ir.RoleScoring, VetoCapable: true, Source: `
def run(input):
    return input["metricsAfter"]["ones"] - input["metricsBefore"]["ones"]
`}))

	router := ops.Standard()
	host := scripthost.NewStarlark(router, bitmetrics.Standard{})
	e := New(lib, router, bitmetrics.Standard{}, host,
		WithIDGenerator(fakes.NewFixedIDGenerator("star-1")),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	s := ir.StrategyDefinition{
		ID:         "fill",
		Name:       "fill",
		Scheduler:  "Sched",
		Algorithms: []string{"SetFirstZero"},
		Scoring:    []string{"OnesGain"},
	}

	res, err := e.Execute(context.Background(), s, bits.MustParse("1010"), 0.5)
	require.NoError(t, err)

	assert.Equal(t, bits.Buffer("1110"), res.FinalBits)
	assert.Equal(t, 1, res.Counts().Committed)
	assert.Equal(t, 1.0, res.Steps[0].Score)
	assert.Equal(t, ir.StopBudgetExhausted, res.StopReason)
	assert.True(t, res.Replanned)
	assert.True(t, res.Verification.Verified)
}
