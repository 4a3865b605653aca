package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <execution-id>",
		Short: "Remove an archived execution",
		Long: `Remove an archived execution together with its steps and annotation.

Exit codes:
  0 - Execution removed
  2 - Execution not found or store error`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runDelete(opts *RootOptions, id string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	st, err := opts.openStore(formatter)
	if err != nil {
		return err
	}
	defer st.Close()

	ok, err := st.Delete(cmd.Context(), id)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStoreFailed, fmt.Sprintf("failed to delete %s", id), err)
	}
	if !ok {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("execution %s not found", id), nil)
	}

	if formatter.JSON() {
		return formatter.Success(map[string]string{"deleted": id})
	}
	fmt.Fprintf(formatter.Writer, "✓ deleted %s\n", id)
	return nil
}
