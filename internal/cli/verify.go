package cli

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/bitstrat/internal/ir"
	"github.com/roach88/bitstrat/internal/replay"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Mode string
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify <execution-id>",
		Short: "Re-verify an archived execution",
		Long: `Re-verify an archived execution against its recorded steps.

strict mode re-applies every committed operation to the initial bits and
compares the result with the stored final bits. fast mode checks that the
recorded before/after chain is continuous and ends at the final bits.

Exit codes:
  0 - Execution verified
  1 - Verification mismatch
  2 - Command error (execution not found, store error)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Mode, "mode", "", "verification mode (strict|fast); defaults to config verify_mode")

	return cmd
}

func runVerify(opts *VerifyOptions, id string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	rt, err := opts.runtime(cmd)
	if err != nil {
		return err
	}
	mode := ir.VerifyMode(rt.cfg.VerifyMode)
	if opts.Mode != "" {
		mode = ir.VerifyMode(opts.Mode)
	}
	if mode != ir.VerifyStrict && mode != ir.VerifyFast {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, fmt.Sprintf("invalid mode %q: must be strict or fast", mode), nil)
	}

	st, err := opts.openStore(formatter)
	if err != nil {
		return err
	}
	defer st.Close()

	res, err := st.Get(cmd.Context(), id)
	if err != nil {
		return failLookup(formatter, id, err)
	}

	formatter.VerboseLog("Verifying %s (%d steps, mode %s)", id, len(res.Steps), mode)
	report := replay.Verify(res, mode, rt.router)
	rt.logger.Info("verification finished",
		"execution_id", id,
		"mode", string(mode),
		"verified", report.Verified)

	if formatter.JSON() {
		if err := formatter.Success(report); err != nil {
			return err
		}
	} else {
		printReport(formatter, id, report)
	}

	if !report.Verified {
		return NewExitError(ExitFailure, fmt.Sprintf("%s: execution %s did not verify", ErrCodeNotVerified, id))
	}
	return nil
}

// failLookup reports a store read failure, distinguishing a missing execution.
func failLookup(formatter *OutputFormatter, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("execution %s not found", id), nil)
	}
	return formatter.Fail(ExitCommandError, ErrCodeStoreFailed, fmt.Sprintf("failed to read execution %s", id), err)
}

func printReport(f *OutputFormatter, id string, r ir.VerificationReport) {
	if r.Verified {
		fmt.Fprintf(f.Writer, "✓ %s verified (%s)\n", id, r.Mode)
	} else {
		fmt.Fprintf(f.Writer, "✗ %s did not verify (%s)\n", id, r.Mode)
	}
	fmt.Fprintf(f.Writer, "  match:    %.2f%%\n", r.MatchPercentage)
	fmt.Fprintf(f.Writer, "  expected: %s\n", r.ExpectedHash)
	fmt.Fprintf(f.Writer, "  actual:   %s\n", r.ActualHash)
	if len(r.MismatchPositions) > 0 {
		fmt.Fprintf(f.Writer, "  mismatches at %v\n", r.MismatchPositions)
	}
	if len(r.ChainBreaks) > 0 {
		fmt.Fprintf(f.Writer, "  chain breaks at steps %v\n", r.ChainBreaks)
	}
	if r.Error != "" {
		fmt.Fprintf(f.Writer, "  error: %s\n", r.Error)
	}
}
