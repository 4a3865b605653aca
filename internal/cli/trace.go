package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/bitstrat/internal/ir"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Status string // only steps with this status
	Bits   bool   // show before/after bits
}

// TraceOutput is the trace command's JSON payload.
type TraceOutput struct {
	ExecutionID string                  `json:"execution_id"`
	Strategy    string                  `json:"strategy"`
	Status      ir.ExecutionStatus      `json:"status"`
	Steps       []ir.TransformationStep `json:"steps"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace <execution-id>",
		Short: "Show the step trace of an archived execution",
		Long: `Show every recorded step of an archived execution in order.

Each step shows its stage, algorithm, operation, outcome, authoritative
cost, score and the budget remaining after it.

Example:
  bitstrat trace 0190b7c4-...
  bitstrat trace 0190b7c4-... --status rejected --bits`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Status, "status", "", "only steps with this status (committed|rejected|failed)")
	cmd.Flags().BoolVar(&opts.Bits, "bits", false, "show before and after bits")

	return cmd
}

func runTrace(opts *TraceOptions, id string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	st, err := opts.openStore(formatter)
	if err != nil {
		return err
	}
	defer st.Close()

	res, err := st.Get(cmd.Context(), id)
	if err != nil {
		return failLookup(formatter, id, err)
	}

	steps := make([]ir.TransformationStep, 0, len(res.Steps))
	for _, s := range res.Steps {
		if opts.Status == "" || string(s.Status) == opts.Status {
			steps = append(steps, s)
		}
	}

	if formatter.JSON() {
		return formatter.Success(TraceOutput{
			ExecutionID: res.ID,
			Strategy:    res.Strategy.Name,
			Status:      res.Status,
			Steps:       steps,
		})
	}

	fmt.Fprintf(formatter.Writer, "Execution %s (%s): %s\n", res.ID, res.Strategy.Name, res.Status)
	if len(steps) == 0 {
		fmt.Fprintln(formatter.Writer, "No steps recorded.")
		return nil
	}
	fmt.Fprintln(formatter.Writer)

	header := []string{"#", "STAGE", "ALGORITHM", "OPERATION", "STATUS", "COST", "SCORE", "REMAINING", "REASON"}
	if opts.Bits {
		header = append(header, "BEFORE", "AFTER")
	}
	rows := make([][]string, 0, len(steps))
	for _, s := range steps {
		row := []string{
			fmt.Sprint(s.Index),
			fmt.Sprint(s.Stage),
			s.Algorithm,
			formatOperation(s),
			string(s.Status),
			fmt.Sprintf("%g", s.Cost),
			fmt.Sprintf("%g", s.Score),
			fmt.Sprintf("%g", s.BudgetRemaining),
			s.Reason,
		}
		if opts.Bits {
			row = append(row, s.BeforeBits.Preview(32), s.AfterBits.Preview(32))
		}
		rows = append(rows, row)
	}
	return formatter.Table(header, rows)
}

// formatOperation renders an operation with its params in key order.
func formatOperation(s ir.TransformationStep) string {
	if len(s.Params) == 0 {
		return s.Operation
	}
	keys := s.Params.SortedKeys()
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, ir.ToAny(s.Params[k])))
	}
	return fmt.Sprintf("%s(%s)", s.Operation, strings.Join(parts, ","))
}
