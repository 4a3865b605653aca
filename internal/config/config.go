// Package config loads bitstrat.yaml.
//
// Unset keys keep their defaults; command-line flags override the file.
//
//	database: results.db
//	script_timeout: 5s
//	max_steps: 1000
//	verify_mode: strict
//	max_bits: 16777216
//	operation_costs:
//	  NOT: 0.5
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/roach88/bitstrat/internal/engine"
	"github.com/roach88/bitstrat/internal/ir"
	"github.com/roach88/bitstrat/internal/ops"
	"github.com/roach88/bitstrat/internal/scripthost"
)

// DefaultFile is read when no --config flag is given and the file exists
// in the working directory.
const DefaultFile = "bitstrat.yaml"

// Config holds every setting the CLI reads from file.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after Load.
type Config struct {
	// Database is the SQLite result archive path.
	Database string `yaml:"database" validate:"required"`

	// ScriptTimeout bounds each script invocation. Zero disables it.
	ScriptTimeout time.Duration `yaml:"script_timeout" validate:"gte=0"`

	// ScriptMaxSteps is the Starlark step limit per invocation.
	ScriptMaxSteps uint64 `yaml:"script_max_steps" validate:"gt=0"`

	// MaxSteps is the recorded step quota per run.
	MaxSteps int `yaml:"max_steps" validate:"gt=0"`

	VerifyMode     string `yaml:"verify_mode" validate:"oneof=strict fast"`
	ParallelStages bool   `yaml:"parallel_stages"`

	// MaxBits is the longest buffer any operation may produce.
	MaxBits int `yaml:"max_bits" validate:"gt=0"`

	// OperationCosts overrides router costs by operation name.
	OperationCosts map[string]float64 `yaml:"operation_costs" validate:"dive,keys,required,endkeys,gte=0"`

	LogLevel    string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFile     string `yaml:"log_file"`
	MetricsFile string `yaml:"metrics_file"`
}

var validate = validator.New()

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Database:       "bitstrat.db",
		ScriptTimeout:  engine.DefaultScriptTimeout,
		ScriptMaxSteps: scripthost.DefaultMaxExecutionSteps,
		MaxSteps:       engine.DefaultMaxSteps,
		VerifyMode:     string(ir.VerifyStrict),
		ParallelStages: true,
		MaxBits:        ops.DefaultMaxLength,
		OperationCosts: map[string]float64{},
		LogLevel:       "info",
	}
}

// Load reads path over the defaults. An empty path falls back to
// DefaultFile when it exists and to the defaults otherwise.
func Load(path string) (*Config, error) {
	if path == "" {
		if _, err := os.Stat(DefaultFile); err != nil {
			return Default(), nil
		}
		path = DefaultFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if cfg.OperationCosts == nil {
		cfg.OperationCosts = map[string]float64{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and reports every violation.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := yamlName(fe.StructField())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value())
	case "gt", "gte":
		return fmt.Sprintf("%s must be %s %s, got %v", field, fe.Tag(), fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

// yamlName maps a struct field (or an operation_costs entry) to its key.
func yamlName(structField string) string {
	if i := strings.IndexByte(structField, '['); i >= 0 {
		return "operation_costs" + structField[i:]
	}
	names := map[string]string{
		"Database":       "database",
		"ScriptTimeout":  "script_timeout",
		"ScriptMaxSteps": "script_max_steps",
		"MaxSteps":       "max_steps",
		"MaxBits":        "max_bits",
		"VerifyMode":     "verify_mode",
		"LogLevel":       "log_level",
	}
	if n, ok := names[structField]; ok {
		return n
	}
	return structField
}

// Level returns the configured slog level.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// ApplyOperations writes the result length limit and the operation cost
// overrides into lib. Unknown operation names are an error.
func (c *Config) ApplyOperations(lib *ops.Library) error {
	if err := lib.SetMaxLength(c.MaxBits); err != nil {
		return fmt.Errorf("max_bits: %w", err)
	}
	names := make([]string, 0, len(c.OperationCosts))
	for name := range c.OperationCosts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := lib.SetCost(name, c.OperationCosts[name]); err != nil {
			return fmt.Errorf("operation_costs: %w", err)
		}
	}
	return nil
}

// EngineOptions translates the run settings into engine options.
func (c *Config) EngineOptions() []engine.EngineOption {
	return []engine.EngineOption{
		engine.WithMaxSteps(c.MaxSteps),
		engine.WithScriptTimeout(c.ScriptTimeout),
		engine.WithParallelStages(c.ParallelStages),
		engine.WithVerifyMode(ir.VerifyMode(c.VerifyMode)),
	}
}
