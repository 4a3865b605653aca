package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/bitstrat/internal/bits"
	"github.com/roach88/bitstrat/internal/ir"
)

// Scenario defines a conformance test scenario: one strategy run with
// expectations on its outcome and assertions on its recorded steps.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// ExecutionID is the fixed execution ID for the run.
	// If empty, defaults to "test-execution-default".
	ExecutionID string `yaml:"execution_id,omitempty"`

	// Bits is the initial bit-string.
	Bits string `yaml:"bits"`

	// Budget is the initial budget.
	Budget float64 `yaml:"budget"`

	// Options tunes the engine for this run.
	Options Options `yaml:"options,omitempty"`

	// Scripts are registered in the library before the run.
	Scripts []ScriptDef `yaml:"scripts"`

	// Strategy references scripts by name.
	Strategy StrategyDef `yaml:"strategy"`

	// Expect checks the run outcome. If nil, only assertions apply.
	Expect *ExpectClause `yaml:"expect,omitempty"`

	// Assertions validate the recorded steps and the archived record.
	// Supported types: step_contains, step_order, step_count, final_state
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Options are per-scenario engine settings. Zero values keep the engine
// defaults.
type Options struct {
	MaxSteps       int    `yaml:"max_steps,omitempty"`
	ParallelStages *bool  `yaml:"parallel_stages,omitempty"`
	VerifyMode     string `yaml:"verify_mode,omitempty"`
}

// ScriptDef is an inline script. Exactly one of Source and File is set;
// File is relative to the scenario file.
type ScriptDef struct {
	Name   string `yaml:"name"`
	Role   string `yaml:"role"`
	Source string `yaml:"source,omitempty"`
	File   string `yaml:"file,omitempty"`
	Veto   bool   `yaml:"veto,omitempty"`
	Tag    string `yaml:"tag,omitempty"`
}

// StrategyDef mirrors ir.StrategyDefinition in YAML.
type StrategyDef struct {
	ID         string   `yaml:"id,omitempty"`
	Name       string   `yaml:"name"`
	Scheduler  string   `yaml:"scheduler"`
	Algorithms []string `yaml:"algorithms,omitempty"`
	Scoring    []string `yaml:"scoring,omitempty"`
	Policies   []string `yaml:"policies,omitempty"`
}

// Definition converts the YAML strategy to its IR form.
func (d StrategyDef) Definition() ir.StrategyDefinition {
	return ir.StrategyDefinition{
		ID:         d.ID,
		Name:       d.Name,
		Scheduler:  d.Scheduler,
		Algorithms: d.Algorithms,
		Scoring:    d.Scoring,
		Policies:   d.Policies,
	}
}

// ExpectClause specifies the expected run outcome. Unset fields are not
// checked.
type ExpectClause struct {
	Status          string   `yaml:"status,omitempty"`
	StopReason      string   `yaml:"stop_reason,omitempty"`
	FinalBits       *string  `yaml:"final_bits,omitempty"`
	ErrorCode       string   `yaml:"error_code,omitempty"`
	Verified        *bool    `yaml:"verified,omitempty"`
	Replanned       *bool    `yaml:"replanned,omitempty"`
	BudgetRemaining *float64 `yaml:"budget_remaining,omitempty"`
	Steps           *int     `yaml:"steps,omitempty"`
}

// Assertion validates recorded steps or archived state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "step_contains": a step matches the given fields
	// - "step_order": operations appear in order
	// - "step_count": exactly Count steps match
	// - "final_state": query an archive table and verify expected values
	Type string `yaml:"type"`

	// Operation, Algorithm and Status filter steps (step_contains, step_count).
	Operation string `yaml:"operation,omitempty"`
	Algorithm string `yaml:"algorithm,omitempty"`
	Status    string `yaml:"status,omitempty"`

	// Params are the expected operation params (step_contains).
	// Subset match - only specified fields are validated.
	Params map[string]interface{} `yaml:"params,omitempty"`

	// Count is the expected number of matching steps (step_count).
	Count int `yaml:"count,omitempty"`

	// Operations is the expected operation order (step_order).
	Operations []string `yaml:"operations,omitempty"`

	// Table, Where and Expect drive final_state. Where must match exactly
	// one row; Expect is a subset match on its columns.
	Table  string                 `yaml:"table,omitempty"`
	Where  map[string]interface{} `yaml:"where,omitempty"`
	Expect map[string]interface{} `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertStepContains = "step_contains"
	AssertStepOrder    = "step_order"
	AssertStepCount    = "step_count"
	AssertFinalState   = "final_state"
)

// LoadScenario reads and parses a scenario YAML file. Script files are
// read relative to the scenario's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return scenario, nil
}

// ParseScenario decodes a scenario. baseDir resolves script files.
func ParseScenario(data []byte, baseDir string) (*Scenario, error) {
	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	for i, s := range scenario.Scripts {
		if s.File == "" {
			continue
		}
		if s.Source != "" {
			return nil, fmt.Errorf("invalid scenario: scripts[%d]: set either source or file, not both", i)
		}
		path := s.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("invalid scenario: scripts[%d]: %w", i, err)
		}
		scenario.Scripts[i].Source = string(src)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if _, err := bits.Parse(s.Bits); err != nil {
		return fmt.Errorf("bits: %w", err)
	}

	if s.Strategy.Name == "" {
		return fmt.Errorf("strategy.name is required")
	}
	if s.Strategy.Scheduler == "" {
		return fmt.Errorf("strategy.scheduler is required")
	}

	seen := make(map[string]bool, len(s.Scripts))
	for i, script := range s.Scripts {
		if script.Name == "" {
			return fmt.Errorf("scripts[%d]: name is required", i)
		}
		if seen[script.Name] {
			return fmt.Errorf("scripts[%d]: duplicate script %q", i, script.Name)
		}
		seen[script.Name] = true
		if _, _, err := ir.ParseRole(script.Role); err != nil {
			return fmt.Errorf("scripts[%d]: %w", i, err)
		}
		if strings.TrimSpace(script.Source) == "" {
			return fmt.Errorf("scripts[%d]: source or file is required", i)
		}
	}

	if s.Expect == nil && len(s.Assertions) == 0 {
		return fmt.Errorf("expect or assertions is required")
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertStepContains:
		if a.Operation == "" {
			return fmt.Errorf("assertions[%d]: operation is required for step_contains", index)
		}
	case AssertStepOrder:
		if len(a.Operations) == 0 {
			return fmt.Errorf("assertions[%d]: operations list is required for step_order", index)
		}
	case AssertStepCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for step_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
