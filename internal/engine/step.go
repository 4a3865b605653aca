package engine

import (
	"context"
	"fmt"

	"github.com/roach88/bitstrat/internal/bits"
	"github.com/roach88/bitstrat/internal/ir"
	"github.com/roach88/bitstrat/internal/scripthost"
)

// evaluate turns one proposal into a recorded step: apply, range check,
// budget check, scoring, policies, commit. It reports whether the step
// was committed. Only record failures are returned as errors.
func (r *run) evaluate(ctx context.Context, out proposal, parallel bool) (bool, error) {
	before := r.current
	metrics := r.e.calc.Compute(before)
	step := ir.TransformationStep{
		Algorithm:      out.inv.Algorithm,
		BeforeBits:     before,
		AfterBits:      before,
		MetricsBefore:  metrics,
		MetricsAfter:   metrics,
		AffectedRanges: []bits.Range{},
	}

	switch {
	case out.resolveErr != nil:
		return false, r.fail(step, out, ErrCodeScriptDeclineOrError, out.resolveErr.Error())
	case out.err != nil:
		return false, r.fail(step, out, ErrCodeScriptDeclineOrError, out.err.Error())
	case out.p == nil:
		r.log.Debug("algorithm declined", "algorithm", out.inv.Algorithm, "stage", r.stage)
		return false, nil
	}

	p := out.p
	step.Operation = p.Operation
	step.Params = p.Params
	step.EstimatedCost = p.EstimatedCost
	step.Cost = r.e.router.Cost(p.Operation)

	applied := r.e.router.Apply(p.Operation, before, p.Params)
	if !applied.Success {
		return false, r.fail(step, out, ErrCodeOperationFailure, applied.Error)
	}
	after := applied.Bits
	step.ProposedBits = after
	step.AffectedRanges = bits.ChangedRanges(before, after)

	if parallel && out.inv.Range != nil && !bits.Within(before, after, *out.inv.Range) {
		rg := out.inv.Range
		return false, r.fail(step, out, ErrCodeOperationFailure,
			fmt.Sprintf("%s changes bits outside declared range [%d,%d)", p.Operation, rg.Start, rg.End))
	}

	step.MetricsAfter = r.e.calc.Compute(after)

	if step.Cost > r.remaining {
		return false, r.reject(step, out, fmt.Sprintf("insufficient budget: cost %g > remaining %g", step.Cost, r.remaining))
	}

	score, veto, err := r.score(ctx, scripthost.ScoringInput{
		BeforeBits:    before,
		AfterBits:     after,
		MetricsBefore: step.MetricsBefore,
		MetricsAfter:  step.MetricsAfter,
	})
	step.Score = score
	if err != nil {
		return false, r.fail(step, out, ErrCodeScriptDeclineOrError, err.Error())
	}
	if veto != "" {
		return false, r.reject(step, out, veto)
	}

	rejection, err := r.gate(ctx, scripthost.PolicyInput{
		Operation:       p.Operation,
		Params:          p.Params,
		Cost:            step.Cost,
		Score:           score,
		BudgetRemaining: r.remaining,
	})
	if err != nil {
		return false, r.fail(step, out, ErrCodeScriptDeclineOrError, err.Error())
	}
	if rejection != "" {
		return false, r.reject(step, out, rejection)
	}

	if p.EstimatedCost > 0 && p.EstimatedCost < step.Cost {
		r.log.Warn("algorithm under-reported cost",
			"algorithm", out.inv.Algorithm,
			"operation", p.Operation,
			"estimated", p.EstimatedCost,
			"cost", step.Cost)
	}

	step.Status = ir.StepCommitted
	step.AfterBits = after
	step.ProposedBits = bits.Empty
	step.Duration = r.elapsedSince(out.start)
	if err := r.record(step, step.Cost); err != nil {
		return false, err
	}
	return true, nil
}

// fail records a failed step; the bits stay unchanged.
func (r *run) fail(step ir.TransformationStep, out proposal, code RuntimeErrorCode, msg string) error {
	step.Status = ir.StepFailed
	step.Reason = fmt.Sprintf("%s: %s", code, msg)
	step.AfterBits = step.BeforeBits
	step.Duration = r.elapsedSince(out.start)
	return r.record(step, 0)
}

// reject records a rejected step; the bits stay unchanged.
func (r *run) reject(step ir.TransformationStep, out proposal, reason string) error {
	step.Status = ir.StepRejected
	step.Reason = reason
	step.AfterBits = step.BeforeBits
	step.Duration = r.elapsedSince(out.start)
	return r.record(step, 0)
}

// score sums every scoring script. A veto-capable script returning a
// negative score or a veto stops scoring with a veto reason.
func (r *run) score(ctx context.Context, in scripthost.ScoringInput) (float64, string, error) {
	total := 0.0
	input := in.Map()
	for _, name := range r.res.Strategy.Scoring {
		s, err := r.lookup(name, ir.RoleScoring)
		if err != nil {
			return total, "", err
		}
		raw, err := r.invoke(ctx, s, input)
		if err != nil {
			return total, "", fmt.Errorf("scoring %s: %w", name, err)
		}
		sc, err := scripthost.DecodeScore(raw)
		if err != nil {
			return total, "", fmt.Errorf("scoring %s: %w", name, err)
		}
		total += sc.Value

		if s.VetoCapable && (sc.Veto || sc.Value < 0) {
			return total, fmt.Sprintf("vetoed by %s (score %g)", name, sc.Value), nil
		}
		if sc.Veto {
			r.log.Warn("ignoring veto from script that cannot veto", "script", name)
		}
	}
	return total, "", nil
}

// gate runs policies in declaration order. The first rejection wins.
func (r *run) gate(ctx context.Context, in scripthost.PolicyInput) (string, error) {
	input := in.Map()
	for _, name := range r.res.Strategy.Policies {
		s, err := r.lookup(name, ir.RolePolicy)
		if err != nil {
			return "", err
		}
		raw, err := r.invoke(ctx, s, input)
		if err != nil {
			return "", fmt.Errorf("policy %s: %w", name, err)
		}
		d, err := scripthost.DecodeDecision(raw)
		if err != nil {
			return "", fmt.Errorf("policy %s: %w", name, err)
		}
		if !d.Accept {
			reason := d.Reason
			if reason == "" {
				reason = "rejected"
			}
			return fmt.Sprintf("%s: policy %s: %s", ErrCodePolicyRejection, name, reason), nil
		}
	}
	return "", nil
}
