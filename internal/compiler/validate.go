package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/bitstrat/internal/ir"
)

// Validation error codes (E100-E199)
const (
	// General validation errors (E100)
	ErrUnsupportedIRType = "E100" // unsupported IR type for validation

	// Script errors (E101-E109)
	ErrScriptNameInvalid = "E101" // name empty or not an identifier
	ErrScriptRoleInvalid = "E102" // role outside scheduler/algorithm/scoring/policy
	ErrScriptSourceEmpty = "E103" // no source text
	ErrScriptVetoRole    = "E104" // veto on a non-scoring script
	ErrScriptNoEntry     = "E105" // source does not define run(input)

	// Strategy errors (E110-E119)
	ErrStrategyNameEmpty     = "E110" // name is required
	ErrStrategyNoScheduler   = "E111" // scheduler reference is required
	ErrInvalidScriptRef      = "E112" // reference is not a valid script name
	ErrDuplicateScriptRef    = "E113" // same script listed twice in one role
	ErrStrategyIDInvalid     = "E114" // id contains whitespace
	ErrDuplicateDeclaredName = "E115" // two scripts or strategies share a name
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks compiled scripts and strategies against schema rules.
// Returns all errors found (does not fail-fast).
func Validate(v any) []ValidationError {
	switch x := v.(type) {
	case *ir.ScriptRef:
		return validateScript(x)
	case ir.ScriptRef:
		return validateScript(&x)
	case *ir.StrategyDefinition:
		return validateStrategy(x)
	case ir.StrategyDefinition:
		return validateStrategy(&x)
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported IR type: %T", v),
			Code:    ErrUnsupportedIRType,
		}}
	}
}

// scriptNamePattern matches names usable from scheduler plans.
var scriptNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// entryPointPattern finds a top-level def run(...).
var entryPointPattern = regexp.MustCompile(`(?m)^def\s+run\s*\(`)

func validateScript(s *ir.ScriptRef) []ValidationError {
	var errs []ValidationError

	if !scriptNamePattern.MatchString(s.Name) {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: fmt.Sprintf("invalid script name %q", s.Name),
			Code:    ErrScriptNameInvalid,
		})
	}

	switch s.Role {
	case ir.RoleScheduler, ir.RoleAlgorithm, ir.RoleScoring, ir.RolePolicy:
	default:
		errs = append(errs, ValidationError{
			Field:   "role",
			Message: fmt.Sprintf("invalid role %q, must be scheduler, algorithm, scoring or policy", s.Role),
			Code:    ErrScriptRoleInvalid,
		})
	}

	if strings.TrimSpace(s.Source) == "" {
		errs = append(errs, ValidationError{
			Field:   "source",
			Message: "source is required and must be non-empty",
			Code:    ErrScriptSourceEmpty,
		})
	} else if !entryPointPattern.MatchString(s.Source) {
		errs = append(errs, ValidationError{
			Field:   "source",
			Message: "script must define run(input)",
			Code:    ErrScriptNoEntry,
		})
	}

	if s.VetoCapable && s.Role != ir.RoleScoring {
		errs = append(errs, ValidationError{
			Field:   "veto",
			Message: fmt.Sprintf("%s script %q cannot veto", s.Role, s.Name),
			Code:    ErrScriptVetoRole,
		})
	}

	return errs
}

func validateStrategy(d *ir.StrategyDefinition) []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(d.Name) == "" {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: "name is required and must be non-empty",
			Code:    ErrStrategyNameEmpty,
		})
	}

	if strings.ContainsAny(d.ID, " \t\n") {
		errs = append(errs, ValidationError{
			Field:   "id",
			Message: fmt.Sprintf("id %q must not contain whitespace", d.ID),
			Code:    ErrStrategyIDInvalid,
		})
	}

	if strings.TrimSpace(d.Scheduler) == "" {
		errs = append(errs, ValidationError{
			Field:   "scheduler",
			Message: "scheduler is required",
			Code:    ErrStrategyNoScheduler,
		})
	} else {
		errs = append(errs, validateRefs("scheduler", []string{d.Scheduler})...)
	}

	errs = append(errs, validateRefs("algorithms", d.Algorithms)...)
	errs = append(errs, validateRefs("scoring", d.Scoring)...)
	errs = append(errs, validateRefs("policies", d.Policies)...)

	return errs
}

func validateRefs(field string, names []string) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool)
	for i, n := range names {
		path := field
		if field != "scheduler" {
			path = fmt.Sprintf("%s[%d]", field, i)
		}
		if !scriptNamePattern.MatchString(n) {
			errs = append(errs, ValidationError{
				Field:   path,
				Message: fmt.Sprintf("invalid script reference %q", n),
				Code:    ErrInvalidScriptRef,
			})
			continue
		}
		if seen[n] {
			errs = append(errs, ValidationError{
				Field:   path,
				Message: fmt.Sprintf("duplicate script reference %q", n),
				Code:    ErrDuplicateScriptRef,
			})
		}
		seen[n] = true
	}
	return errs
}
