package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// AnnotateOptions holds flags for the annotate command.
type AnnotateOptions struct {
	*RootOptions
	Tags       []string
	AddTags    []string
	Notes      string
	Bookmark   bool
	Unbookmark bool
}

// NewAnnotateCommand creates the annotate command.
func NewAnnotateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AnnotateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "annotate <execution-id>",
		Short: "Tag, note or bookmark an archived execution",
		Long: `Update the annotation of an archived execution.

Annotations live beside the execution record; the record itself never
changes. Only the given flags are applied. With no flags the current
annotation is shown.

Example:
  bitstrat annotate 0190b7c4-... --add-tag baseline --bookmark
  bitstrat annotate 0190b7c4-... --tags "" --notes "superseded"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnnotate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Tags, "tags", nil, "replace all tags")
	cmd.Flags().StringSliceVar(&opts.AddTags, "add-tag", nil, "add a tag (repeatable)")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "replace the notes")
	cmd.Flags().BoolVar(&opts.Bookmark, "bookmark", false, "bookmark the execution")
	cmd.Flags().BoolVar(&opts.Unbookmark, "unbookmark", false, "remove the bookmark")
	cmd.MarkFlagsMutuallyExclusive("bookmark", "unbookmark")

	return cmd
}

func runAnnotate(opts *AnnotateOptions, id string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	st, err := opts.openStore(formatter)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	a, err := st.Annotation(ctx, id)
	if err != nil {
		return failLookup(formatter, id, err)
	}

	flags := cmd.Flags()
	changed := false
	if flags.Changed("tags") {
		a.Tags = nonEmpty(opts.Tags)
		changed = true
	}
	if len(opts.AddTags) > 0 {
		a.Tags = append(a.Tags, opts.AddTags...)
		changed = true
	}
	if flags.Changed("notes") {
		a.Notes = opts.Notes
		changed = true
	}
	if opts.Bookmark || opts.Unbookmark {
		a.Bookmarked = opts.Bookmark
		changed = true
	}

	if changed {
		a.UpdatedAt = time.Time{}
		if err := st.Annotate(ctx, a); err != nil {
			return failLookup(formatter, id, err)
		}
		if a, err = st.Annotation(ctx, id); err != nil {
			return failLookup(formatter, id, err)
		}
	}

	if formatter.JSON() {
		return formatter.Success(a)
	}
	fmt.Fprintf(formatter.Writer, "%s\n", a.ExecutionID)
	fmt.Fprintf(formatter.Writer, "  tags:       %s\n", strings.Join(a.Tags, ", "))
	fmt.Fprintf(formatter.Writer, "  bookmarked: %t\n", a.Bookmarked)
	if a.Notes != "" {
		fmt.Fprintf(formatter.Writer, "  notes:      %s\n", a.Notes)
	}
	return nil
}

func nonEmpty(ss []string) []string {
	out := []string{}
	for _, s := range ss {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
