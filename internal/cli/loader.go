package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/bitstrat/internal/compiler"
	"github.com/roach88/bitstrat/internal/ir"
	"github.com/roach88/bitstrat/internal/strategy"
)

// LoadMode controls how errors are handled during definition loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the scripts and strategies declared in a directory.
type LoadResult struct {
	Scripts    []ir.ScriptRef
	Strategies []ir.StrategyDefinition
	CUEValue   cue.Value // The raw CUE value for additional processing
	FileCount  int       // Number of CUE files found
}

// LoadError represents an error that occurred during definition loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadDefinitions loads and compiles the script and strategy declarations
// of a CUE directory. Script files are resolved relative to dir.
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
func LoadDefinitions(dir string, mode LoadMode) (*LoadResult, []error) {
	var errs []error

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("definitions directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing definitions directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	cfg := &load.Config{Dir: dir}
	instances := load.Instances([]string{"."}, cfg)
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}

	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	result := &LoadResult{
		CUEValue:  value,
		FileCount: len(cueFiles),
	}

	scriptsVal := value.LookupPath(cue.ParsePath("script"))
	if scriptsVal.Exists() {
		iter, iterErr := scriptsVal.Fields()
		if iterErr != nil {
			errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating scripts: %v", iterErr)})
			if mode == LoadModeFailFast {
				return result, errs
			}
		} else {
			for iter.Next() {
				s, compileErr := compiler.CompileScript(iter.Value(), dir)
				if compileErr != nil {
					errs = append(errs, convertCompileError(compileErr, "script."+iter.Selector().String()))
					if mode == LoadModeFailFast {
						return result, errs
					}
					continue
				}
				result.Scripts = append(result.Scripts, *s)
			}
		}
	}

	strategiesVal := value.LookupPath(cue.ParsePath("strategy"))
	if strategiesVal.Exists() {
		iter, iterErr := strategiesVal.Fields()
		if iterErr != nil {
			errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating strategies: %v", iterErr)})
			if mode == LoadModeFailFast {
				return result, errs
			}
		} else {
			for iter.Next() {
				d, compileErr := compiler.CompileStrategy(iter.Value())
				if compileErr != nil {
					errs = append(errs, convertCompileError(compileErr, "strategy."+iter.Selector().String()))
					if mode == LoadModeFailFast {
						return result, errs
					}
					continue
				}
				result.Strategies = append(result.Strategies, *d)
			}
		}
	}

	if len(result.Scripts) == 0 && len(result.Strategies) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: "no scripts or strategies found in definitions"})
	}

	return result, errs
}

// Validate runs schema validation over every loaded declaration and the
// cross-reference check of every strategy against the loaded scripts.
func (r *LoadResult) Validate() []error {
	var errs []error
	names := make(map[string]bool)
	for _, s := range r.Scripts {
		for _, ve := range compiler.Validate(s) {
			errs = append(errs, &LoadError{Code: ve.Code, Message: fmt.Sprintf("script %s: %s: %s", s.Name, ve.Field, ve.Message)})
		}
		if names[s.Name] {
			errs = append(errs, &LoadError{Code: compiler.ErrDuplicateDeclaredName, Message: fmt.Sprintf("duplicate script %q", s.Name)})
		}
		names[s.Name] = true
	}

	ids := make(map[string]bool)
	for _, d := range r.Strategies {
		for _, ve := range compiler.Validate(d) {
			errs = append(errs, &LoadError{Code: ve.Code, Message: fmt.Sprintf("strategy %s: %s: %s", d.Name, ve.Field, ve.Message)})
		}
		if ids[d.ID] {
			errs = append(errs, &LoadError{Code: compiler.ErrDuplicateDeclaredName, Message: fmt.Sprintf("duplicate strategy id %q", d.ID)})
		}
		ids[d.ID] = true
	}
	if len(errs) > 0 {
		return errs
	}

	lib, libErrs := r.Library()
	if len(libErrs) > 0 {
		return libErrs
	}
	for _, d := range lib.Strategies() {
		for _, refErr := range lib.Check(d) {
			errs = append(errs, &LoadError{Code: ErrCodeUnresolvedRef, Message: refErr.Error()})
		}
	}
	return errs
}

// Library registers the loaded declarations in a fresh strategy library.
func (r *LoadResult) Library() (*strategy.Library, []error) {
	lib := strategy.NewLibrary()
	var errs []error
	for _, s := range r.Scripts {
		if err := lib.PutScript(s); err != nil {
			errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: err.Error()})
		}
	}
	for _, d := range r.Strategies {
		if _, err := lib.PutStrategy(d); err != nil {
			errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: err.Error()})
		}
	}
	return lib, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: fmt.Sprintf("%s: %s", context, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric       = "E001" // Generic/unknown error
	ErrCodeScanError     = "E002" // Directory scan error
	ErrCodeNoFiles       = "E003" // No CUE files found
	ErrCodeLoadFailed    = "E004" // CUE load failed
	ErrCodeNotFound      = "E005" // Path not found
	ErrCodeBuildFailed   = "E006" // CUE build failed
	ErrCodeWriteFailed   = "E007" // File write error
	ErrCodeUnresolvedRef = "E008" // Strategy names a missing or mistyped script
	ErrCodeStoreFailed   = "E009" // Result store error
	ErrCodeRunFailed     = "E010" // Execution ended in failure
	ErrCodeScriptCompile = "E011" // Script source does not compile
	ErrCodeNoStrategy    = "E012" // Strategy not declared
	ErrCodeBadInput      = "E013" // Bits input unreadable or malformed
	ErrCodeNotVerified   = "E014" // Replay verification mismatch

	// Script declaration errors
	ErrCodeScriptRole   = compiler.ErrScriptRoleInvalid
	ErrCodeScriptSource = compiler.ErrScriptSourceEmpty
	ErrCodeScriptVeto   = compiler.ErrScriptVetoRole

	// Strategy declaration errors
	ErrCodeNoScheduler = compiler.ErrStrategyNoScheduler
	ErrCodeBadRef      = compiler.ErrInvalidScriptRef
)

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch field {
	case "role":
		return ErrCodeScriptRole
	case "source", "file":
		return ErrCodeScriptSource
	case "veto":
		return ErrCodeScriptVeto
	case "scheduler":
		return ErrCodeNoScheduler
	case "algorithms", "scoring", "policies":
		return ErrCodeBadRef
	default:
		return ErrCodeGeneric
	}
}
