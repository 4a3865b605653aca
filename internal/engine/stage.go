package engine

import (
	"context"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/bitstrat/internal/bits"
	"github.com/roach88/bitstrat/internal/ir"
	"github.com/roach88/bitstrat/internal/scripthost"
)

// proposal is the outcome of one algorithm invocation.
type proposal struct {
	inv   scripthost.Invocation
	start time.Time

	// resolveErr is set when the algorithm could not be resolved.
	resolveErr error
	// err is set when the script failed or returned malformed output.
	err error
	// p is nil when the algorithm declined.
	p *scripthost.Proposal
}

// runStage executes one stage. It reports whether a commit exhausted the
// budget while a re-plan is still possible; the caller then abandons the
// rest of the plan.
func (r *run) runStage(ctx context.Context, st scripthost.Stage) (bool, error) {
	if len(st.Invocations) == 0 {
		return false, nil
	}

	if st.Grouped && len(st.Invocations) > 1 {
		ok, reason := r.parallelEligible(st)
		if ok {
			return r.runParallel(ctx, st)
		}
		r.log.Warn("running grouped stage sequentially", "stage", r.stage, "reason", reason)
	}

	for _, inv := range st.Invocations {
		out := r.propose(ctx, inv, r.current)
		committed, err := r.evaluate(ctx, out, false)
		if err != nil {
			return false, err
		}
		if committed && r.remaining <= 0 && !r.final {
			return true, nil
		}
	}
	return false, nil
}

// parallelEligible reports whether a grouped stage may fan out: parallel
// stages must be enabled and every invocation must declare a valid range
// disjoint from the others.
func (r *run) parallelEligible(st scripthost.Stage) (bool, string) {
	if !r.e.parallel {
		return false, "parallel stages disabled"
	}
	ranges := make([]bits.Range, 0, len(st.Invocations))
	for _, inv := range st.Invocations {
		if inv.Range == nil {
			return false, fmt.Sprintf("algorithm %s declares no range", inv.Algorithm)
		}
		if !inv.Range.Valid(r.current.Len()) {
			return false, fmt.Sprintf("algorithm %s range [%d,%d) is out of bounds", inv.Algorithm, inv.Range.Start, inv.Range.End)
		}
		ranges = append(ranges, *inv.Range)
	}
	if !bits.Disjoint(ranges) {
		return false, "declared ranges overlap"
	}
	return true, ""
}

// runParallel invokes every algorithm concurrently against the stage-start
// snapshot, then applies and commits in declaration order. Each
// proposal is applied to the current bits and must stay inside its own
// range, so the merged result does not depend on completion order.
func (r *run) runParallel(ctx context.Context, st scripthost.Stage) (bool, error) {
	snapshot := r.current
	outs := make([]proposal, len(st.Invocations))

	g, gctx := errgroup.WithContext(ctx)
	for i, inv := range st.Invocations {
		g.Go(func() error {
			outs[i] = r.propose(gctx, inv, snapshot)
			return nil
		})
	}
	_ = g.Wait()

	exhausted := false
	for _, out := range outs {
		committed, err := r.evaluate(ctx, out, true)
		if err != nil {
			return false, err
		}
		if committed && r.remaining <= 0 {
			exhausted = true
		}
	}
	return exhausted && !r.final, nil
}

// propose invokes one algorithm. Safe to call concurrently: it only reads
// run state that does not change while a stage fans out.
func (r *run) propose(ctx context.Context, inv scripthost.Invocation, b bits.Buffer) proposal {
	out := proposal{inv: inv, start: r.e.now.Now()}

	if !slices.Contains(r.res.Strategy.Algorithms, inv.Algorithm) {
		out.resolveErr = fmt.Errorf("algorithm %q is not part of the strategy", inv.Algorithm)
		return out
	}
	s, err := r.lookup(inv.Algorithm, ir.RoleAlgorithm)
	if err != nil {
		out.resolveErr = err
		return out
	}

	in := scripthost.AlgorithmInput{Bits: b, Budget: r.remaining, Range: inv.Range}
	raw, err := r.invoke(ctx, s, in.Map())
	if err != nil {
		out.err = err
		return out
	}
	out.p, out.err = scripthost.DecodeProposal(raw)
	return out
}
