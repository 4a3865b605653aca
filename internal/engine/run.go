package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/bitstrat/internal/bits"
	"github.com/roach88/bitstrat/internal/ir"
	"github.com/roach88/bitstrat/internal/replay"
	"github.com/roach88/bitstrat/internal/scripthost"
	"github.com/roach88/bitstrat/internal/telemetry"
)

// run is the state of one Execute call. It is owned by a single
// goroutine; only parallel algorithm invocations fan out, and they read
// a snapshot.
type run struct {
	e   *Engine
	log *slog.Logger
	res *ir.ExecutionResult
	rec *replay.Recorder

	// scripts is the per-run snapshot of every resolvable reference.
	scripts map[string]ir.ScriptRef

	current   bits.Buffer
	remaining float64
	quota     *QuotaEnforcer

	// final is set once the plan being executed is the last one: either
	// the run started exhausted or the single re-plan has happened.
	final bool

	stage       int
	stagesTotal int
	stagesDone  int
}

func (e *Engine) newRun(strategy ir.StrategyDefinition, initial bits.Buffer) *run {
	id := e.ids.Generate()
	r := &run{
		e:   e,
		log: e.logger.With("execution_id", id, "strategy", strategy.Name),
		res: &ir.ExecutionResult{
			ID:            id,
			Strategy:      strategy,
			InitialBits:   initial,
			FinalBits:     initial,
			Steps:         []ir.TransformationStep{},
			Status:        ir.StatusRunning,
			ScriptDigests: map[string]string{},
			StartTime:     e.now.Now(),
			EngineVersion: ir.EngineVersion,
		},
		rec:     replay.NewRecorder(initial),
		scripts: make(map[string]ir.ScriptRef),
		current: initial,
		quota:   NewQuotaEnforcer(e.maxSteps),
	}
	if r.res.Strategy.Algorithms == nil {
		r.res.Strategy.Algorithms = []string{}
	}
	if r.res.Strategy.Policies == nil {
		r.res.Strategy.Policies = []string{}
	}
	return r
}

// execute drives Initializing, SchedulerPlanning and StepExecuting.
func (r *run) execute(ctx context.Context, budget float64) error {
	// Initializing
	if !validBudget(budget) {
		return NewInvalidBudgetError(r.res.ID, budget)
	}
	r.res.Budget = ir.Budget{Initial: budget, Remaining: budget}
	r.remaining = budget

	sched := r.res.Strategy.Scheduler
	s, ok := r.e.scripts.Script(sched)
	if !ok {
		return NewMissingScriptError(r.res.ID, sched, "scheduler script not found")
	}
	if s.Role != ir.RoleScheduler {
		return NewMissingScriptError(r.res.ID, sched, fmt.Sprintf("script has role %s, want scheduler", s.Role))
	}
	r.snapshot()

	if r.current.Len() == 0 {
		r.log.Info("empty input, nothing to execute")
		r.res.StopReason = ir.StopEmptyInput
		return nil
	}

	// SchedulerPlanning
	r.final = r.remaining <= 0
	plan, err := r.plan(ctx, r.final)
	if err != nil {
		return err
	}
	stages := plan.Stages
	r.stagesTotal = len(stages)

	// StepExecuting
	for len(stages) > 0 {
		if err := ctx.Err(); err != nil {
			return NewCancelledError(r.res.ID, r.stage+1, err)
		}

		st := stages[0]
		stages = stages[1:]
		r.stage++

		exhausted, err := r.runStage(ctx, st)
		r.stagesDone++
		r.publish(r.percent())
		if err != nil {
			if IsStepsExceededError(err) {
				r.log.Warn("step quota reached", "max_steps", r.quota.MaxSteps())
				r.res.StopReason = ir.StopStepQuota
				return nil
			}
			return err
		}

		if exhausted && !r.final {
			if err := ctx.Err(); err != nil {
				return NewCancelledError(r.res.ID, r.stage+1, err)
			}
			r.log.Info("budget exhausted, re-planning",
				"remaining", r.remaining,
				"abandoned_stages", len(stages))
			r.final = true
			r.res.Replanned = true
			r.e.telemetry.RecordReplan()

			next, err := r.plan(ctx, true)
			if err != nil {
				return err
			}
			stages = next.Stages
			r.stagesTotal = r.stagesDone + len(stages)
			r.publish(r.percent())
		}
	}

	if r.final && r.remaining <= 0 {
		r.res.StopReason = ir.StopBudgetExhausted
	} else {
		r.res.StopReason = ir.StopPlanComplete
	}
	return nil
}

// snapshot copies every resolvable referenced script for the run and
// records its digest.
func (r *run) snapshot() {
	for _, name := range r.res.Strategy.ScriptNames() {
		if _, done := r.scripts[name]; done {
			continue
		}
		s, ok := r.e.scripts.Script(name)
		if !ok {
			r.log.Warn("referenced script not found", "script", name)
			continue
		}
		r.scripts[name] = s
		r.res.ScriptDigests[name] = s.Digest()
	}
}

// lookup returns the snapshot of name if it has the wanted role.
func (r *run) lookup(name string, role ir.Role) (ir.ScriptRef, error) {
	s, ok := r.scripts[name]
	if !ok {
		return ir.ScriptRef{}, fmt.Errorf("unresolved %s script %q", role, name)
	}
	if s.Role != role {
		return ir.ScriptRef{}, fmt.Errorf("script %q has role %s, want %s", name, s.Role, role)
	}
	return s, nil
}

// plan invokes the scheduler. Any failure is a scheduler crash.
func (r *run) plan(ctx context.Context, exhausted bool) (scripthost.Plan, error) {
	s, err := r.lookup(r.res.Strategy.Scheduler, ir.RoleScheduler)
	if err != nil {
		return scripthost.Plan{}, NewMissingScriptError(r.res.ID, r.res.Strategy.Scheduler, err.Error())
	}

	in := scripthost.SchedulerInput{
		Bits:                r.current,
		Budget:              r.remaining,
		AvailableAlgorithms: r.res.Strategy.Algorithms,
		AvailablePolicies:   r.res.Strategy.Policies,
		BudgetExhausted:     exhausted,
	}
	out, err := r.invoke(ctx, s, in.Map())
	if err != nil {
		if ctx.Err() != nil {
			return scripthost.Plan{}, NewCancelledError(r.res.ID, r.stage+1, ctx.Err())
		}
		return scripthost.Plan{}, NewSchedulerCrashError(r.res.ID, s.Name, err)
	}
	plan, err := scripthost.DecodePlan(out)
	if err != nil {
		return scripthost.Plan{}, NewSchedulerCrashError(r.res.ID, s.Name, err)
	}

	r.log.Debug("plan received", "stages", len(plan.Stages), "budget_exhausted", exhausted)
	return plan, nil
}

// invoke runs one script. In-flight invocations are not interrupted by
// run cancellation; cancellation is observed between stages.
func (r *run) invoke(ctx context.Context, s ir.ScriptRef, input map[string]any) (any, error) {
	ctx = scripthost.WithScriptName(context.WithoutCancel(ctx), s.Name)
	start := r.e.now.Now()
	out, err := r.e.host.Run(ctx, s.Source, s.Role, input, r.e.scriptTimeout)
	elapsed := r.e.now.Now().Sub(start)

	outcome := telemetry.OutcomeOK
	switch {
	case scripthost.IsTimeout(err):
		outcome = telemetry.OutcomeTimeout
	case err != nil:
		outcome = telemetry.OutcomeError
	case out == nil:
		outcome = telemetry.OutcomeDecline
	}
	r.e.telemetry.RecordScript(s.Role, outcome, elapsed)

	if err != nil {
		r.log.Warn("script failed", "script", s.Name, "role", s.Role, "error", err)
	}
	return out, err
}

// record appends a step after the quota check, charges cost against the
// budget and stamps its position.
func (r *run) record(step ir.TransformationStep, charge float64) error {
	if err := r.quota.Check(r.res.ID); err != nil {
		return err
	}
	r.remaining -= charge

	step.Index = r.rec.Len()
	step.Stage = r.stage
	step.BudgetRemaining = r.remaining
	step.Timestamp = r.e.now.Now()
	if step.Params == nil {
		step.Params = ir.Object{}
	}

	if err := r.rec.Record(step); err != nil {
		return NewRecordInvariantError(r.res.ID, step.Index, err)
	}
	r.current = r.rec.Current()
	r.e.telemetry.RecordStep(step)

	r.log.Info("step recorded",
		"step", step.Index,
		"stage", step.Stage,
		"algorithm", step.Algorithm,
		"operation", step.Operation,
		"status", step.Status,
		"cost", step.Cost,
		"reason", step.Reason)
	return nil
}

func (r *run) percent() float64 {
	if r.stagesTotal == 0 {
		return 100
	}
	return float64(r.stagesDone) / float64(r.stagesTotal) * 100
}

func (r *run) publish(percent float64) {
	r.e.notify(Progress{
		ExecutionID: r.res.ID,
		Status:      r.res.Status,
		Stage:       r.stage,
		Steps:       r.rec.Len(),
		Percent:     percent,
		Remaining:   r.remaining,
		Replanned:   r.res.Replanned,
		Result:      r.snapshotResult(),
	})
}

func (r *run) snapshotResult() *ir.ExecutionResult {
	cp := *r.res
	cp.Steps = r.rec.Steps()
	cp.FinalBits = r.rec.Current()
	cp.Budget.Remaining = r.remaining
	cp.Budget.Used = cp.Budget.Initial - r.remaining
	return &cp
}

// finalize runs Verifying and Finalized: it settles status and stop
// reason, verifies, persists and notifies. The returned error is the
// fatal error of the run, or a persistence error for an otherwise
// successful run.
func (r *run) finalize(ctx context.Context, runErr error) (*ir.ExecutionResult, error) {
	res := r.res
	res.Steps = r.rec.Steps()
	res.FinalBits = r.rec.Current()
	if validBudget(res.Budget.Initial) {
		res.Budget.Remaining = r.remaining
		res.Budget.Used = res.Budget.Initial - r.remaining
	}

	switch {
	case runErr == nil:
		res.Status = ir.StatusCompleted
	case IsCancelled(runErr):
		res.Status = ir.StatusCancelled
		res.StopReason = ir.StopCancelled
		res.Error = runErr.Error()
	default:
		res.Status = ir.StatusFailed
		res.StopReason = stopReasonFor(runErr)
		res.Error = runErr.Error()
	}

	// Verifying
	report := replay.Verify(res, r.e.verifyMode, r.e.router)
	res.Verification = &report
	if !report.Verified {
		r.log.Warn("verification mismatch",
			"mode", report.Mode,
			"match_percentage", report.MatchPercentage,
			"error", report.Error)
	}

	// Finalized
	res.EndTime = r.e.now.Now()
	r.e.telemetry.RecordRun(res)

	counts := res.Counts()
	attrs := []any{
		"status", res.Status,
		"stop_reason", res.StopReason,
		"committed", counts.Committed,
		"rejected", counts.Rejected,
		"failed", counts.Failed,
		"budget_used", res.Budget.Used,
		"verified", report.Verified,
		"duration", res.Duration(),
	}
	if runErr != nil {
		r.log.Error("execution failed", append(attrs, "error", runErr)...)
	} else {
		r.log.Info("execution finished", attrs...)
	}

	var saveErr error
	if r.e.store != nil {
		if err := r.e.store.Save(context.WithoutCancel(ctx), res); err != nil {
			r.log.Error("saving result failed", "error", err)
			saveErr = fmt.Errorf("saving result %s: %w", res.ID, err)
		}
	}

	r.publish(100)

	if runErr != nil {
		return res, runErr
	}
	return res, saveErr
}

func stopReasonFor(err error) ir.StopReason {
	switch {
	case IsMissingScript(err):
		return ir.StopMissingScript
	case IsSchedulerCrash(err):
		return ir.StopSchedulerCrash
	case IsInvalidBudget(err):
		return ir.StopInvalidBudget
	default:
		return ir.StopInternal
	}
}

func (r *run) elapsedSince(t time.Time) time.Duration {
	return r.e.now.Now().Sub(t)
}
