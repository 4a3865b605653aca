package replay

import (
	"errors"
	"fmt"

	"github.com/roach88/bitstrat/internal/bits"
	"github.com/roach88/bitstrat/internal/ir"
)

// InvariantError reports a step that would break the recorded chain.
type InvariantError struct {
	Index  int
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("step %d: %s", e.Index, e.Reason)
}

// IsInvariantError returns true if err is an InvariantError.
// Uses errors.As to handle wrapped errors.
func IsInvariantError(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}

// Recorder accumulates the steps of one run.
//
// Thread-safety: a Recorder belongs to a single run and is not safe for
// concurrent use.
type Recorder struct {
	initial bits.Buffer
	current bits.Buffer
	steps   []ir.TransformationStep
}

// NewRecorder starts a chain at initial.
func NewRecorder(initial bits.Buffer) *Recorder {
	return &Recorder{
		initial: initial,
		current: initial,
		steps:   []ir.TransformationStep{},
	}
}

// Record appends step. The step's Index must equal the number of steps
// already recorded and its BeforeBits must equal Current().
func (r *Recorder) Record(step ir.TransformationStep) error {
	if step.Index != len(r.steps) {
		return &InvariantError{Index: step.Index, Reason: fmt.Sprintf("expected index %d", len(r.steps))}
	}
	if step.BeforeBits != r.current {
		return &InvariantError{Index: step.Index, Reason: "before bits do not continue the chain"}
	}
	switch step.Status {
	case ir.StepCommitted:
	case ir.StepRejected, ir.StepFailed:
		if step.AfterBits != step.BeforeBits {
			return &InvariantError{Index: step.Index, Reason: fmt.Sprintf("%s step changed the bits", step.Status)}
		}
	default:
		return &InvariantError{Index: step.Index, Reason: fmt.Sprintf("unknown status %q", step.Status)}
	}

	r.steps = append(r.steps, step)
	r.current = step.AfterBits
	return nil
}

// Initial returns the bits the chain started from.
func (r *Recorder) Initial() bits.Buffer {
	return r.initial
}

// Current returns the AfterBits of the last recorded step, or the
// initial bits when nothing has been recorded.
func (r *Recorder) Current() bits.Buffer {
	return r.current
}

// Len returns the number of recorded steps.
func (r *Recorder) Len() int {
	return len(r.steps)
}

// Steps returns a copy of the recorded steps.
func (r *Recorder) Steps() []ir.TransformationStep {
	out := make([]ir.TransformationStep, len(r.steps))
	copy(out, r.steps)
	return out
}
