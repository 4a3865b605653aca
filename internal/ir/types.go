package ir

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/bitstrat/internal/bits"
)

// Role identifies the contract a script fulfils.
type Role string

const (
	RoleScheduler Role = "scheduler"
	RoleAlgorithm Role = "algorithm"
	RoleScoring   Role = "scoring"
	RolePolicy    Role = "policy"
)

// ParseRole maps a declared role to its canonical form. "ai" and "custom"
// behave exactly like algorithms and are returned as RoleAlgorithm with
// the original word as display sub-tag.
func ParseRole(s string) (Role, string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "scheduler":
		return RoleScheduler, "", nil
	case "algorithm":
		return RoleAlgorithm, "", nil
	case "ai":
		return RoleAlgorithm, "ai", nil
	case "custom":
		return RoleAlgorithm, "custom", nil
	case "scoring":
		return RoleScoring, "", nil
	case "policy":
		return RolePolicy, "", nil
	default:
		return "", "", fmt.Errorf("unknown script role %q", s)
	}
}

// ScriptRef is a named, versionless script as held by the script library.
type ScriptRef struct {
	Name   string `json:"name"`
	Role   Role   `json:"role"`
	SubTag string `json:"sub_tag,omitempty"`
	Source string `json:"source"`

	// VetoCapable lets a scoring script reject a step outright.
	VetoCapable bool `json:"veto_capable,omitempty"`

	// Path is the file the source was loaded from, if any.
	Path string `json:"path,omitempty"`
}

// Digest returns the content digest of the script source.
func (s ScriptRef) Digest() string {
	return ScriptDigest(s.Source)
}

// StrategyDefinition composes scripts by name.
type StrategyDefinition struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Scheduler  string    `json:"scheduler"`
	Algorithms []string  `json:"algorithms"`
	Scoring    []string  `json:"scoring"`
	Policies   []string  `json:"policies"`
	Tags       []string  `json:"tags,omitempty"`
	Created    time.Time `json:"created"`
}

// Validate checks structural rules: a name, exactly one scheduler, and
// no name listed twice within the same role.
func (d StrategyDefinition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("strategy name is required")
	}
	if strings.TrimSpace(d.Scheduler) == "" {
		return fmt.Errorf("strategy %q: scheduler is required", d.Name)
	}
	for role, names := range map[string][]string{
		"algorithms": d.Algorithms,
		"scoring":    d.Scoring,
		"policies":   d.Policies,
	} {
		seen := make(map[string]bool, len(names))
		for _, n := range names {
			if seen[n] {
				return fmt.Errorf("strategy %q: %s lists %q twice", d.Name, role, n)
			}
			seen[n] = true
		}
	}
	return nil
}

// ScriptNames returns every referenced script name, scheduler first,
// then algorithms, scoring and policies in declaration order.
func (d StrategyDefinition) ScriptNames() []string {
	out := make([]string, 0, 1+len(d.Algorithms)+len(d.Scoring)+len(d.Policies))
	out = append(out, d.Scheduler)
	out = append(out, d.Algorithms...)
	out = append(out, d.Scoring...)
	out = append(out, d.Policies...)
	return out
}

// StepStatus is the outcome of one proposed transformation.
type StepStatus string

const (
	StepCommitted StepStatus = "committed"
	StepRejected  StepStatus = "rejected"
	StepFailed    StepStatus = "failed"
)

// TransformationStep records one algorithm invocation that produced a
// proposal. For committed steps AfterBits is the applied result. For
// rejected and failed steps AfterBits equals BeforeBits and the proposal,
// when one exists, is kept in ProposedBits.
type TransformationStep struct {
	Index     int        `json:"index"`
	Stage     int        `json:"stage"`
	Algorithm string     `json:"algorithm"`
	Operation string     `json:"operation"`
	Params    Object     `json:"params"`
	Status    StepStatus `json:"status"`
	Reason    string     `json:"reason,omitempty"`

	BeforeBits   bits.Buffer `json:"before_bits"`
	AfterBits    bits.Buffer `json:"after_bits"`
	ProposedBits bits.Buffer `json:"proposed_bits,omitempty"`

	// Cost is the router's cost for the operation. Only committed steps
	// are charged against the budget.
	Cost            float64 `json:"cost"`
	EstimatedCost   float64 `json:"estimated_cost"`
	Score           float64 `json:"score"`
	BudgetRemaining float64 `json:"budget_remaining"`

	MetricsBefore  map[string]float64 `json:"metrics_before"`
	MetricsAfter   map[string]float64 `json:"metrics_after"`
	AffectedRanges []bits.Range       `json:"affected_ranges"`

	Duration  time.Duration `json:"duration_ns"`
	Timestamp time.Time     `json:"timestamp"`
}

// Committed reports whether the step changed the current bits.
func (s TransformationStep) Committed() bool {
	return s.Status == StepCommitted
}

// ExecutionStatus is the lifecycle state of a run.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// StopReason explains why the step loop ended.
type StopReason string

const (
	StopPlanComplete    StopReason = "plan_complete"
	StopBudgetExhausted StopReason = "budget_exhausted"
	StopStepQuota       StopReason = "step_quota"
	StopEmptyInput      StopReason = "empty_input"
	StopCancelled       StopReason = "cancelled"
	StopSchedulerCrash  StopReason = "scheduler_crash"
	StopMissingScript   StopReason = "missing_script"
	StopInvalidBudget   StopReason = "invalid_budget"
	StopInternal        StopReason = "internal_error"
)

// Budget tracks spending for one run. Used+Remaining always equals
// Initial for a valid budget.
type Budget struct {
	Initial   float64 `json:"initial"`
	Used      float64 `json:"used"`
	Remaining float64 `json:"remaining"`
}

// VerifyMode selects how a result is checked.
type VerifyMode string

const (
	// VerifyStrict re-executes committed steps from the initial bits.
	VerifyStrict VerifyMode = "strict"
	// VerifyFast checks the stored chain without re-executing.
	VerifyFast VerifyMode = "fast"
)

// VerificationReport is derived from a result and can be recomputed.
type VerificationReport struct {
	Mode              VerifyMode `json:"mode"`
	Verified          bool       `json:"verified"`
	MatchPercentage   float64    `json:"match_percentage"`
	MismatchPositions []int      `json:"mismatch_positions"`
	ExpectedHash      string     `json:"expected_hash"`
	ActualHash        string     `json:"actual_hash"`
	LengthChanged     bool       `json:"length_changed,omitempty"`
	ChainBreaks       []int      `json:"chain_breaks,omitempty"`
	Error             string     `json:"error,omitempty"`
}

// ExecutionResult is the immutable record of one run.
type ExecutionResult struct {
	ID            string               `json:"id"`
	Strategy      StrategyDefinition   `json:"strategy"`
	InitialBits   bits.Buffer          `json:"initial_bits"`
	FinalBits     bits.Buffer          `json:"final_bits"`
	Steps         []TransformationStep `json:"steps"`
	Budget        Budget               `json:"budget"`
	Status        ExecutionStatus      `json:"status"`
	StopReason    StopReason           `json:"stop_reason,omitempty"`
	Error         string               `json:"error,omitempty"`
	Replanned     bool                 `json:"replanned,omitempty"`
	ScriptDigests map[string]string    `json:"script_digests"`
	Verification  *VerificationReport  `json:"verification,omitempty"`
	StartTime     time.Time            `json:"start_time"`
	EndTime       time.Time            `json:"end_time"`
	EngineVersion string               `json:"engine_version"`
}

// StepCounts tallies steps by outcome.
type StepCounts struct {
	Committed int `json:"committed"`
	Rejected  int `json:"rejected"`
	Failed    int `json:"failed"`
}

// Counts tallies the result's steps.
func (r *ExecutionResult) Counts() StepCounts {
	var c StepCounts
	for _, s := range r.Steps {
		switch s.Status {
		case StepCommitted:
			c.Committed++
		case StepRejected:
			c.Rejected++
		case StepFailed:
			c.Failed++
		}
	}
	return c
}

// CommittedSteps returns only the steps that changed the bits.
func (r *ExecutionResult) CommittedSteps() []TransformationStep {
	out := []TransformationStep{}
	for _, s := range r.Steps {
		if s.Committed() {
			out = append(out, s)
		}
	}
	return out
}

// Duration is the wall-clock run time, zero until finalized.
func (r *ExecutionResult) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// Annotation is user metadata kept apart from the immutable result.
type Annotation struct {
	ExecutionID string    `json:"execution_id"`
	Tags        []string  `json:"tags"`
	Notes       string    `json:"notes"`
	Bookmarked  bool      `json:"bookmarked"`
	UpdatedAt   time.Time `json:"updated_at"`
}
