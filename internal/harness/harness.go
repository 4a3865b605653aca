package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/bitstrat/internal/bitmetrics"
	"github.com/roach88/bitstrat/internal/bits"
	"github.com/roach88/bitstrat/internal/engine"
	"github.com/roach88/bitstrat/internal/ir"
	"github.com/roach88/bitstrat/internal/ops"
	"github.com/roach88/bitstrat/internal/scripthost"
	"github.com/roach88/bitstrat/internal/store"
	"github.com/roach88/bitstrat/internal/strategy"
	"github.com/roach88/bitstrat/internal/testutil"
)

// Run executes a scenario against the real engine and Starlark host.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
// 1. Create fresh in-memory database
// 2. Register scripts and the strategy in a new library
// 3. Execute the strategy
// 4. Check the expect clause and evaluate assertions
//
// An error is returned only when the scenario cannot be set up; run
// outcomes, including fatal engine errors, are reported on the result.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	lib := strategy.NewLibrary()
	for _, s := range scenario.Scripts {
		role, subTag, err := ir.ParseRole(s.Role)
		if err != nil {
			return nil, fmt.Errorf("script %s: %w", s.Name, err)
		}
		if s.Tag != "" {
			subTag = s.Tag
		}
		ref := ir.ScriptRef{Name: s.Name, Role: role, SubTag: subTag, Source: s.Source, VetoCapable: s.Veto}
		if err := lib.PutScript(ref); err != nil {
			return nil, err
		}
	}
	def, err := lib.PutStrategy(scenario.Strategy.Definition())
	if err != nil {
		return nil, fmt.Errorf("strategy: %w", err)
	}

	initial, err := bits.Parse(scenario.Bits)
	if err != nil {
		return nil, fmt.Errorf("bits: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := ops.Standard()
	calc := bitmetrics.Standard{}
	host := scripthost.NewStarlark(router, calc, scripthost.WithLogger(logger))

	opts := []engine.EngineOption{
		engine.WithLogger(logger),
		engine.WithIDGenerator(testutil.NewFixedIDGenerator(scenario.ExecutionID)),
		engine.WithTimeSource(testutil.NewSteppingTime(time.Time{}, time.Millisecond)),
		engine.WithResultStore(st),
	}
	if o := scenario.Options; o.MaxSteps > 0 {
		opts = append(opts, engine.WithMaxSteps(o.MaxSteps))
	}
	if p := scenario.Options.ParallelStages; p != nil {
		opts = append(opts, engine.WithParallelStages(*p))
	}
	if m := scenario.Options.VerifyMode; m != "" {
		opts = append(opts, engine.WithVerifyMode(ir.VerifyMode(m)))
	}
	eng := engine.New(lib, router, calc, host, opts...)

	ctx := context.Background()
	res, runErr := eng.Execute(ctx, def, initial, scenario.Budget)

	result := NewResult()
	result.Execution = res
	for _, s := range res.Steps {
		result.AddStepTrace(s)
	}

	logger.Info("scenario executed",
		"scenario", scenario.Name,
		"execution_id", res.ID,
		"status", res.Status,
		"steps", len(res.Steps))

	if scenario.Expect != nil {
		for _, msg := range checkExpect(scenario.Expect, res, runErr) {
			result.AddError(msg)
		}
	} else if runErr != nil {
		result.AddError(fmt.Sprintf("unexpected run error: %v", runErr))
	}

	actx := &AssertionContext{
		Store: st,
		Ctx:   ctx,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

// checkExpect compares the run outcome with the expect clause.
func checkExpect(want *ExpectClause, res *ir.ExecutionResult, runErr error) []string {
	var errs []string
	mismatch := func(field string, want, got any) {
		errs = append(errs, fmt.Sprintf("expect %s: want %v, got %v", field, want, got))
	}

	if want.Status != "" && string(res.Status) != want.Status {
		mismatch("status", want.Status, res.Status)
	}
	if want.StopReason != "" && string(res.StopReason) != want.StopReason {
		mismatch("stop_reason", want.StopReason, res.StopReason)
	}
	if want.FinalBits != nil && res.FinalBits.String() != *want.FinalBits {
		mismatch("final_bits", *want.FinalBits, res.FinalBits)
	}
	if want.Replanned != nil && res.Replanned != *want.Replanned {
		mismatch("replanned", *want.Replanned, res.Replanned)
	}
	if want.BudgetRemaining != nil && res.Budget.Remaining != *want.BudgetRemaining {
		mismatch("budget_remaining", *want.BudgetRemaining, res.Budget.Remaining)
	}
	if want.Steps != nil && len(res.Steps) != *want.Steps {
		mismatch("steps", *want.Steps, len(res.Steps))
	}
	if want.Verified != nil {
		got := res.Verification != nil && res.Verification.Verified
		if got != *want.Verified {
			mismatch("verified", *want.Verified, got)
		}
	}

	var rtErr *engine.RuntimeError
	switch {
	case want.ErrorCode == "" && runErr != nil:
		errs = append(errs, fmt.Sprintf("unexpected run error: %v", runErr))
	case want.ErrorCode != "" && !errors.As(runErr, &rtErr):
		mismatch("error_code", want.ErrorCode, runErr)
	case want.ErrorCode != "" && string(rtErr.Code) != want.ErrorCode:
		mismatch("error_code", want.ErrorCode, rtErr.Code)
	}

	return errs
}
