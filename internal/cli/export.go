package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/bitstrat/internal/export"
	"github.com/roach88/bitstrat/internal/ir"
)

// Export formats.
const (
	ExportJSON   = "json"
	ExportCSV    = "csv"
	ExportBundle = "bundle"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	As     string
	Output string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export <execution-id>",
		Short: "Export an archived execution",
		Long: `Export an archived execution.

  json    the full record, steps included
  csv     one row per step
  bundle  a ZIP with report.csv, result.json, steps/*.json and the
          initial and final bits in binary and text form

Output goes to stdout unless --output is given. A bundle requires --output.

Example:
  bitstrat export 0190b7c4-... --as csv > steps.csv
  bitstrat export 0190b7c4-... --as bundle --output run.zip`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.As, "as", ExportJSON, "export format (json|csv|bundle)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write to this file instead of stdout")

	return cmd
}

func runExport(opts *ExportOptions, id string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	var write func(io.Writer, *ir.ExecutionResult) error
	switch opts.As {
	case ExportJSON:
		write = export.WriteJSON
	case ExportCSV:
		write = export.WriteCSV
	case ExportBundle:
		if opts.Output == "" {
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, "bundle export requires --output", nil)
		}
		write = export.WriteBundle
	default:
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, fmt.Sprintf("unknown export format %q", opts.As), nil)
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

	if opts.Output == "" {
		return write(cmd.OutOrStdout(), res)
	}

	if err := writeFile(opts.Output, func(w io.Writer) error { return write(w, res) }); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, fmt.Sprintf("failed to write %s", opts.Output), err)
	}
	formatter.VerboseLog("Exported %s as %s to %s", id, opts.As, opts.Output)
	if formatter.JSON() {
		return formatter.Success(map[string]string{"execution_id": id, "format": opts.As, "path": opts.Output})
	}
	fmt.Fprintf(formatter.Writer, "✓ exported %s to %s\n", id, opts.Output)
	return nil
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := fn(bw); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
