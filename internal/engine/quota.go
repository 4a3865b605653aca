package engine

import (
	"errors"
	"fmt"
)

// QuotaEnforcer tracks the number of recorded steps per run and enforces
// a maximum steps limit.
//
// Each run has its own QuotaEnforcer. The quota is checked before every
// step is recorded. This bounds runs whose scheduler keeps emitting
// stages even though the budget never runs out (zero-cost operations,
// declines that still record failures).
type QuotaEnforcer struct {
	maxSteps int // Maximum allowed steps for this run
	current  int // Current step count
}

// NewQuotaEnforcer creates a new quota enforcer with the given limit.
//
// maxSteps: Maximum number of recorded steps per run.
// Typical default: 1000 (configurable via engine.WithMaxSteps())
func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{
		maxSteps: maxSteps,
		current:  0,
	}
}

// Check increments the step counter and validates against the limit.
//
// Returns StepsExceededError if the quota is exceeded.
func (q *QuotaEnforcer) Check(executionID string) error {
	q.current++
	if q.current > q.maxSteps {
		return &StepsExceededError{
			ExecutionID: executionID,
			Steps:       q.current,
			Limit:       q.maxSteps,
		}
	}
	return nil
}

// Reset resets the step counter to 0.
func (q *QuotaEnforcer) Reset() {
	q.current = 0
}

// Current returns the current step count.
func (q *QuotaEnforcer) Current() int {
	return q.current
}

// MaxSteps returns the maximum steps limit.
func (q *QuotaEnforcer) MaxSteps() int {
	return q.maxSteps
}

// StepsExceededError is returned when a run reaches the max steps quota.
//
// It ends the run gracefully: the status stays completed and the stop
// reason is step_quota.
type StepsExceededError struct {
	ExecutionID string // The run that exceeded the quota
	Steps       int    // Number of steps attempted
	Limit       int    // Maximum allowed steps
}

// Error implements the error interface.
func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("execution %s exceeded max steps quota: %d steps > %d limit",
		e.ExecutionID, e.Steps, e.Limit)
}

// IsStepsExceededError returns true if the error is a StepsExceededError.
// Uses errors.As to handle wrapped errors.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}
