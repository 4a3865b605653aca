package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error detected during a strategy run.
//
// Fatal runtime errors end the run:
//   - Missing script: the scheduler cannot be resolved
//   - Scheduler crash: the scheduler raised, timed out or returned a malformed plan
//   - Invalid budget: negative, NaN or infinite budget
//   - Record invariant: a step would break the recorded chain
//
// Recoverable kinds (operation failure, script decline or error, policy
// rejection) never leave Execute. They are stored on the step instead.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// ExecutionID identifies the affected run.
	ExecutionID string

	// Script names the script involved, if any.
	Script string

	// StepIndex is the step being recorded, or -1.
	StepIndex int

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	ErrCodeMissingScript        RuntimeErrorCode = "MISSING_SCRIPT"
	ErrCodeSchedulerCrash       RuntimeErrorCode = "SCHEDULER_CRASH"
	ErrCodeOperationFailure     RuntimeErrorCode = "OPERATION_FAILURE"
	ErrCodeScriptDeclineOrError RuntimeErrorCode = "SCRIPT_DECLINE_OR_ERROR"
	ErrCodePolicyRejection      RuntimeErrorCode = "POLICY_REJECTION"
	ErrCodeInvalidBudget        RuntimeErrorCode = "INVALID_BUDGET"
	ErrCodeCancelled            RuntimeErrorCode = "CANCELLED"
	ErrCodeRecordInvariant      RuntimeErrorCode = "RECORD_INVARIANT"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Script != "" {
		msg = fmt.Sprintf("%s (script=%s)", msg, e.Script)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsMissingScript returns true if err is a missing-script error.
// Uses errors.As to handle wrapped errors.
func IsMissingScript(err error) bool {
	return hasCode(err, ErrCodeMissingScript)
}

// IsSchedulerCrash returns true if err is a scheduler crash.
func IsSchedulerCrash(err error) bool {
	return hasCode(err, ErrCodeSchedulerCrash)
}

// IsInvalidBudget returns true if err is an invalid budget error.
func IsInvalidBudget(err error) bool {
	return hasCode(err, ErrCodeInvalidBudget)
}

// IsCancelled returns true if the run was cancelled.
func IsCancelled(err error) bool {
	return hasCode(err, ErrCodeCancelled)
}

// IsRecordInvariant returns true if a step broke the recorded chain.
func IsRecordInvariant(err error) bool {
	return hasCode(err, ErrCodeRecordInvariant)
}

// NewMissingScriptError creates a RuntimeError for an unresolvable script.
func NewMissingScriptError(executionID, script, reason string) *RuntimeError {
	return &RuntimeError{
		Code:        ErrCodeMissingScript,
		Message:     reason,
		ExecutionID: executionID,
		Script:      script,
		StepIndex:   -1,
	}
}

// NewSchedulerCrashError creates a RuntimeError for a failed scheduler run.
func NewSchedulerCrashError(executionID, script string, err error) *RuntimeError {
	return &RuntimeError{
		Code:        ErrCodeSchedulerCrash,
		Message:     "scheduler failed",
		ExecutionID: executionID,
		Script:      script,
		StepIndex:   -1,
		Err:         err,
	}
}

// NewInvalidBudgetError creates a RuntimeError for an unusable budget.
func NewInvalidBudgetError(executionID string, budget float64) *RuntimeError {
	return &RuntimeError{
		Code:        ErrCodeInvalidBudget,
		Message:     fmt.Sprintf("budget must be a finite number >= 0, got %v", budget),
		ExecutionID: executionID,
		StepIndex:   -1,
		Details:     map[string]string{"budget": fmt.Sprintf("%v", budget)},
	}
}

// NewCancelledError creates a RuntimeError for a cancelled run.
func NewCancelledError(executionID string, stage int, cause error) *RuntimeError {
	return &RuntimeError{
		Code:        ErrCodeCancelled,
		Message:     fmt.Sprintf("cancelled before stage %d", stage),
		ExecutionID: executionID,
		StepIndex:   -1,
		Err:         cause,
	}
}

// NewRecordInvariantError creates a RuntimeError for a broken chain.
func NewRecordInvariantError(executionID string, index int, err error) *RuntimeError {
	return &RuntimeError{
		Code:        ErrCodeRecordInvariant,
		Message:     "step does not continue the recorded chain",
		ExecutionID: executionID,
		StepIndex:   index,
		Err:         err,
	}
}
