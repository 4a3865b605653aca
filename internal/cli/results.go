package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/bitstrat/internal/ir"
	"github.com/roach88/bitstrat/internal/store"
)

// ResultsOptions holds flags for the results command.
type ResultsOptions struct {
	*RootOptions
	Strategy   string
	Status     string
	Tag        string
	Bookmarked bool
	Since      string
	Until      string
	Limit      int
}

// NewResultsCommand creates the results command.
func NewResultsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResultsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "results",
		Short: "List archived executions",
		Long: `List archived executions, newest first.

Filters combine: only executions matching every given filter are listed.
--since and --until take RFC 3339 timestamps; --until is exclusive.

Example:
  bitstrat results --strategy flip-all --status completed --limit 10
  bitstrat results --tag baseline --bookmarked --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResults(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Strategy, "strategy", "", "only executions of this strategy id")
	cmd.Flags().StringVar(&opts.Status, "status", "", "only executions with this status")
	cmd.Flags().StringVar(&opts.Tag, "tag", "", "only executions annotated with this tag")
	cmd.Flags().BoolVar(&opts.Bookmarked, "bookmarked", false, "only bookmarked executions")
	cmd.Flags().StringVar(&opts.Since, "since", "", "only executions started at or after this time")
	cmd.Flags().StringVar(&opts.Until, "until", "", "only executions started before this time")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of executions (0 = all)")

	return cmd
}

func (o *ResultsOptions) filter() (store.Filter, error) {
	f := store.Filter{
		StrategyID: o.Strategy,
		Status:     ir.ExecutionStatus(o.Status),
		Tag:        o.Tag,
		Bookmarked: o.Bookmarked,
		Limit:      o.Limit,
	}
	if o.Limit < 0 {
		return f, fmt.Errorf("limit must not be negative")
	}
	var err error
	if o.Since != "" {
		if f.Since, err = time.Parse(time.RFC3339, o.Since); err != nil {
			return f, fmt.Errorf("since: %w", err)
		}
	}
	if o.Until != "" {
		if f.Until, err = time.Parse(time.RFC3339, o.Until); err != nil {
			return f, fmt.Errorf("until: %w", err)
		}
	}
	return f, nil
}

func runResults(opts *ResultsOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	f, err := opts.filter()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "invalid filter", err)
	}

	st, err := opts.openStore(formatter)
	if err != nil {
		return err
	}
	defer st.Close()

	summaries, err := st.Query(cmd.Context(), f)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStoreFailed, "failed to query results", err)
	}

	if formatter.JSON() {
		return formatter.Success(summaries)
	}
	if len(summaries) == 0 {
		fmt.Fprintln(formatter.Writer, "No executions found.")
		return nil
	}

	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		verified := "-"
		if s.Verified != nil {
			verified = strconv.FormatBool(*s.Verified)
		}
		rows = append(rows, []string{
			s.ID,
			s.StrategyID,
			string(s.Status),
			string(s.StopReason),
			fmt.Sprintf("%d/%d/%d", s.Counts.Committed, s.Counts.Rejected, s.Counts.Failed),
			fmt.Sprintf("%g/%g", s.BudgetUsed, s.BudgetInitial),
			verified,
			s.StartTime.Format(time.RFC3339),
		})
	}
	return formatter.Table(
		[]string{"ID", "STRATEGY", "STATUS", "STOP", "C/R/F", "BUDGET", "VERIFIED", "STARTED"},
		rows,
	)
}
