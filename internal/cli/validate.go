package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// ValidationIssue is one problem found in a definitions directory.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid      bool              `json:"valid"`
	Scripts    int               `json:"scripts"`
	Strategies int               `json:"strategies"`
	Errors     []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <definitions-dir>",
		Short: "Validate script and strategy definitions",
		Long: `Validate the CUE script and strategy declarations in a directory.

Checks declaration schemas, compiles every script, and resolves each
strategy's scheduler, algorithm, scoring and policy references.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	loadResult, loadErrors := LoadDefinitions(dir, LoadModeCollectAll)
	if loadResult == nil {
		return failLoad(formatter, loadErrors)
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, dir)

	errs := loadErrors
	if len(errs) == 0 {
		errs = loadResult.Validate()
	}
	if len(errs) == 0 {
		errs = compileScripts(loadResult)
	}

	result := ValidationResult{
		Valid:      len(errs) == 0,
		Scripts:    len(loadResult.Scripts),
		Strategies: len(loadResult.Strategies),
	}
	for _, err := range errs {
		result.Errors = append(result.Errors, toIssue(err))
	}

	if result.Valid {
		if formatter.JSON() {
			return formatter.Success(result)
		}
		fmt.Fprintf(formatter.Writer, "✓ All definitions valid (%d scripts, %d strategies)\n", result.Scripts, result.Strategies)
		return nil
	}
	return outputValidationErrors(formatter, result)
}

// ValidateDefinitionsDir validates a directory for callers outside the CLI.
func ValidateDefinitionsDir(dir string) ([]error, error) {
	loadResult, loadErrors := LoadDefinitions(dir, LoadModeCollectAll)
	if loadResult == nil {
		return nil, loadErrors[0]
	}
	if len(loadErrors) > 0 {
		return loadErrors, nil
	}
	if errs := loadResult.Validate(); len(errs) > 0 {
		return errs, nil
	}
	return compileScripts(loadResult), nil
}

func toIssue(err error) ValidationIssue {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		issue := ValidationIssue{Code: loadErr.Code, Message: loadErr.Message}
		if loadErr.Pos.IsValid() {
			issue.File = loadErr.Pos.Filename()
			issue.Line = loadErr.Pos.Line()
		}
		return issue
	}
	return ValidationIssue{Code: ErrCodeGeneric, Message: err.Error()}
}

// failLoad reports a directory-level load failure (exit code 2).
func failLoad(formatter *OutputFormatter, errs []error) error {
	var loadErr *LoadError
	if len(errs) > 0 && errors.As(errs[0], &loadErr) {
		return formatter.Fail(ExitCommandError, loadErr.Code, loadErr.Message, nil)
	}
	msg := "failed to load definitions"
	if len(errs) > 0 {
		msg = errs[0].Error()
	}
	return formatter.Fail(ExitCommandError, ErrCodeGeneric, msg, nil)
}

// outputValidationErrors outputs multiple validation errors (exit code 1).
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	exitErr := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))

	if formatter.JSON() {
		first := result.Errors[0]
		if err := formatter.encode(CLIResponse{
			Status: "error",
			Data:   result,
			Error:  &CLIError{Code: first.Code, Message: first.Message},
		}); err != nil {
			return err
		}
		return exitErr
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, issue := range result.Errors {
		if issue.Line > 0 {
			fmt.Fprintf(formatter.Writer, "%s:%d\n", issue.File, issue.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
	}
	return exitErr
}
