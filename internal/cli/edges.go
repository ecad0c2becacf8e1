package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/planmirror/internal/cache"
	"github.com/roach88/planmirror/internal/ir"
	"github.com/roach88/planmirror/internal/query"
)

// EdgesOptions holds flags for the edges command.
type EdgesOptions struct {
	*RootOptions
	Refresh bool
}

// NewEdgesCommand creates the edges command.
func NewEdgesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EdgesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "edges <SOURCE:TYPE:id | source>",
		Short: "List an item's relationships or rebuild a source's graph",
		Long: `List every stored edge touching an item, or with --refresh rebuild the edge
set of a whole source system from the mirrored items and report the diff and
any unresolved references.

Example:
  planmirror edges planning:product:7
  planmirror edges --refresh planning`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdges(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Refresh, "refresh", false, "rebuild the edge set of the given source")

	return cmd
}

// EdgeList is the text/JSON view of an item's edges.
type EdgeList []query.Edge

// WriteText renders edges as a table.
func (l EdgeList) WriteText(w io.Writer) error {
	if len(l) == 0 {
		_, err := fmt.Fprintln(w, "no edges")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DIR\tKIND\tOTHER\tTITLE")
	for _, e := range l {
		title := e.Title
		if !e.Resolved {
			title = "(not mirrored)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Direction, e.Kind, e.Other, title)
	}
	return tw.Flush()
}

// EdgeReportView renders cache.EdgeReport.
type EdgeReportView cache.EdgeReport

// WriteText renders the refresh diff and gaps.
func (r EdgeReportView) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "%s edges: +%d -%d total=%d hash=%s\n", r.Scope, r.Added, r.Removed, r.Total, r.Hash)
	for _, g := range r.Gaps {
		fmt.Fprintf(w, "  gap %s %s missing %q: %s\n", g.Item, g.Kind, g.Missing, g.Reason)
	}
	return nil
}

func runEdges(opts *EdgesOptions, arg string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	var (
		source ir.SourceSystem
		key    ir.ItemKey
		err    error
	)
	if opts.Refresh {
		if source, err = ir.ParseSourceSystem(arg); err != nil {
			return f.Fail(ExitCommandError, ErrCodeInvalidArgs, "invalid source", err)
		}
	} else if key, err = parseKey(arg, f); err != nil {
		return err
	}

	a, err := openApp(opts.RootOptions, f)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := commandContext(cmd)

	if opts.Refresh {
		report, err := a.reconciler.RefreshEdges(ctx, source)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeStoreFailed, "failed to rebuild edges", err)
		}
		return f.Success(EdgeReportView(report))
	}

	edges, err := a.query.Edges(ctx, key)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStoreFailed, "failed to read edges", err)
	}
	return f.Success(EdgeList(edges))
}
