package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/bitstrat/internal/bits"
	"github.com/roach88/bitstrat/internal/engine"
	"github.com/roach88/bitstrat/internal/ir"
	"github.com/roach88/bitstrat/internal/strategy"
	"github.com/roach88/bitstrat/internal/telemetry"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Bits   string
	Input  string
	Output string
	Budget float64

	// IDGenerator overrides execution IDs (for testing).
	IDGenerator engine.IDGenerator
	// TimeSource overrides the engine clock (for testing).
	TimeSource engine.TimeSource
}

// RunSummary is the run command's report.
type RunSummary struct {
	ID          string             `json:"id"`
	Strategy    string             `json:"strategy"`
	Status      ir.ExecutionStatus `json:"status"`
	StopReason  ir.StopReason      `json:"stop_reason,omitempty"`
	Error       string             `json:"error,omitempty"`
	InitialBits string             `json:"initial_bits"`
	FinalBits   string             `json:"final_bits"`
	Budget      ir.Budget          `json:"budget"`
	Counts      ir.StepCounts      `json:"counts"`
	Replanned   bool               `json:"replanned"`
	Verified    *bool              `json:"verified,omitempty"`
}

func summarize(res *ir.ExecutionResult) RunSummary {
	s := RunSummary{
		ID:          res.ID,
		Strategy:    res.Strategy.Name,
		Status:      res.Status,
		StopReason:  res.StopReason,
		Error:       res.Error,
		InitialBits: res.InitialBits.Preview(64),
		FinalBits:   res.FinalBits.Preview(64),
		Budget:      res.Budget,
		Counts:      res.Counts(),
		Replanned:   res.Replanned,
	}
	if res.Verification != nil {
		v := res.Verification.Verified
		s.Verified = &v
	}
	return s
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <definitions-dir> <strategy>",
		Short: "Execute a strategy against a bit-string",
		Long: `Execute a declared strategy against an input bit-string under a budget.

The strategy is resolved by id, then by name. Input bits come from --bits
('0'/'1' text) or --input (a .bits/.txt text file or raw bytes). The run is
recorded, verified by replay and saved to the result store.

Exit codes:
  0 - Run completed and verified
  1 - Run failed, was cancelled, or did not verify
  2 - Command error (bad definitions, unreadable input, store error)

Example:
  bitstrat run ./strategies flip-all --bits 0101 --budget 10
  bitstrat run ./strategies flip-all --input data.bin --budget 50 --output out.bin`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStrategy(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Bits, "bits", "", "input bits as '0'/'1' text")
	cmd.Flags().StringVar(&opts.Input, "input", "", "input file (.bits/.txt text, otherwise raw bytes)")
	cmd.Flags().StringVar(&opts.Output, "output", "", "write final bits to this file")
	cmd.Flags().Float64Var(&opts.Budget, "budget", 0, "cost budget for the run")
	cmd.MarkFlagsMutuallyExclusive("bits", "input")

	return cmd
}

func runStrategy(opts *RunOptions, dir, ref string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	rt, err := opts.runtime(cmd)
	if err != nil {
		return err
	}

	loadResult, loadErrors := LoadDefinitions(dir, LoadModeCollectAll)
	if loadResult == nil {
		return failLoad(formatter, loadErrors)
	}
	if len(loadErrors) > 0 {
		issue := toIssue(loadErrors[0])
		return formatter.Fail(ExitCommandError, issue.Code, issue.Message, nil)
	}
	lib, err := strategyLibrary(formatter, loadResult)
	if err != nil {
		return err
	}

	def, ok := lib.FindStrategy(ref)
	if !ok {
		return formatter.Fail(ExitCommandError, ErrCodeNoStrategy, fmt.Sprintf("strategy %q not declared in %s", ref, dir), nil)
	}

	initial, err := readInput(opts)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeBadInput, "failed to read input bits", err)
	}

	st, err := opts.openStore(formatter)
	if err != nil {
		return err
	}
	defer st.Close()

	reg, tel := telemetry.NewRegistry()
	engineOpts := append(rt.cfg.EngineOptions(),
		engine.WithResultStore(st),
		engine.WithLogger(rt.logger),
		engine.WithTelemetry(tel),
	)
	if opts.IDGenerator != nil {
		engineOpts = append(engineOpts, engine.WithIDGenerator(opts.IDGenerator))
	}
	if opts.TimeSource != nil {
		engineOpts = append(engineOpts, engine.WithTimeSource(opts.TimeSource))
	}
	eng := engine.New(lib, rt.router, rt.calc, rt.host, engineOpts...)

	if opts.Verbose {
		unsubscribe := eng.Subscribe(func(p engine.Progress) {
			formatter.VerboseLog("[%s] stage %d: %d step(s), %.0f%% of stages done, %g budget remaining",
				p.Status, p.Stage, p.Steps, p.Percent, p.Remaining)
		})
		defer unsubscribe()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt.logger.Info("running strategy",
		"strategy", def.Name,
		"bits", initial.Len(),
		"budget", opts.Budget,
		"database", rt.cfg.Database)
	res, runErr := eng.Execute(ctx, def, initial, opts.Budget)

	if rt.cfg.MetricsFile != "" {
		if err := telemetry.WriteTextfile(rt.cfg.MetricsFile, reg); err != nil {
			rt.logger.Warn("failed to write metrics file", "path", rt.cfg.MetricsFile, "error", err)
		}
	}

	if opts.Output != "" {
		if err := bits.WriteFile(opts.Output, res.FinalBits); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, "failed to write output bits", err)
		}
	}

	summary := summarize(res)
	if formatter.JSON() {
		if runErr != nil {
			if err := formatter.encode(CLIResponse{
				Status: "error",
				Data:   summary,
				Error:  &CLIError{Code: runErrorCode(runErr), Message: runErr.Error()},
			}); err != nil {
				return err
			}
		} else if err := formatter.Success(summary); err != nil {
			return err
		}
	} else {
		printRunSummary(formatter, summary)
	}

	if runErr != nil {
		return WrapExitError(ExitFailure, "run failed", runErr)
	}
	if summary.Verified != nil && !*summary.Verified {
		return NewExitError(ExitFailure, fmt.Sprintf("%s: run %s did not verify", ErrCodeNotVerified, res.ID))
	}
	return nil
}

// strategyLibrary validates the loaded definitions and registers them.
// Any validation or registration error fails the command with exit code 2.
func strategyLibrary(formatter *OutputFormatter, r *LoadResult) (*strategy.Library, error) {
	var lib *strategy.Library
	errs := r.Validate()
	if len(errs) == 0 {
		lib, errs = r.Library()
	}
	if len(errs) > 0 {
		issue := toIssue(errs[0])
		return nil, formatter.Fail(ExitCommandError, issue.Code, issue.Message, nil)
	}
	return lib, nil
}

func readInput(opts *RunOptions) (bits.Buffer, error) {
	switch {
	case opts.Input != "":
		return bits.ReadFile(opts.Input)
	default:
		return bits.Parse(opts.Bits)
	}
}

// runErrorCode returns the engine error code, or the generic run code.
func runErrorCode(err error) string {
	var rtErr *engine.RuntimeError
	if errors.As(err, &rtErr) {
		return string(rtErr.Code)
	}
	if errors.Is(err, context.Canceled) {
		return string(engine.ErrCodeCancelled)
	}
	return ErrCodeRunFailed
}

func printRunSummary(f *OutputFormatter, s RunSummary) {
	mark := "✓"
	if s.Status != ir.StatusCompleted || (s.Verified != nil && !*s.Verified) {
		mark = "✗"
	}
	fmt.Fprintf(f.Writer, "%s %s %s (%s)\n", mark, s.ID, s.Status, s.Strategy)
	if s.StopReason != "" {
		fmt.Fprintf(f.Writer, "  stop reason: %s\n", s.StopReason)
	}
	if s.Error != "" {
		fmt.Fprintf(f.Writer, "  error:       %s\n", s.Error)
	}
	fmt.Fprintf(f.Writer, "  bits:        %s -> %s\n", s.InitialBits, s.FinalBits)
	fmt.Fprintf(f.Writer, "  budget:      %g used, %g remaining of %g\n", s.Budget.Used, s.Budget.Remaining, s.Budget.Initial)
	fmt.Fprintf(f.Writer, "  steps:       %d committed, %d rejected, %d failed\n", s.Counts.Committed, s.Counts.Rejected, s.Counts.Failed)
	if s.Replanned {
		fmt.Fprintln(f.Writer, "  replanned:   yes")
	}
	if s.Verified != nil {
		fmt.Fprintf(f.Writer, "  verified:    %t\n", *s.Verified)
	}
}
