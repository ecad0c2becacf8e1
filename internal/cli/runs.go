package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/planmirror/internal/ir"
	"github.com/roach88/planmirror/internal/store"
)

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	Source     string
	Type       string
	Limit      int
	Watermarks bool
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "Show sync run history and watermarks",
		Long: `List recorded sync runs newest first, show one run with its errors, or
list the per-type watermarks with --watermarks.

Example:
  planmirror runs --source planning --limit 10
  planmirror runs 0192f0c4-8a51-7d3e-9b7a-3f1c2d4e5f60
  planmirror runs --watermarks`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Source, "source", "", "filter by source system")
	cmd.Flags().StringVar(&opts.Type, "type", "", "filter by item type")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum runs to list (0 = all)")
	cmd.Flags().BoolVar(&opts.Watermarks, "watermarks", false, "list watermarks instead of runs")

	return cmd
}

// RunList is the text/JSON view of a run listing.
type RunList []ir.SyncRun

// WriteText renders runs as a table.
func (l RunList) WriteText(w io.Writer) error {
	if len(l) == 0 {
		_, err := fmt.Fprintln(w, "no runs recorded")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSOURCE\tTYPE\tSTATUS\tSTARTED\tDURATION\tCOUNTS")
	for _, r := range l {
		duration := "-"
		if !r.FinishedAt.IsZero() {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Source, r.Type, r.Status,
			r.StartedAt.Format(time.RFC3339), duration, formatCounts(r.Counts))
	}
	return tw.Flush()
}

// RunDetail is one run with its error list.
type RunDetail ir.SyncRun

// WriteText renders the run and its errors.
func (d RunDetail) WriteText(w io.Writer) error {
	if err := (RunList{ir.SyncRun(d)}).WriteText(w); err != nil {
		return err
	}
	fmt.Fprintf(w, "batches: %d (%d failed), full: %t\n", d.Batches, d.FailedBatches, d.Full)
	for _, e := range d.Errors {
		fmt.Fprintf(w, "  %s batch=%d %s: %s\n", e.Kind, e.Batch, e.ExternalID, e.Message)
	}
	return nil
}

// WatermarkList is the text/JSON view of the watermark table.
type WatermarkList []ir.SyncWatermark

// WriteText renders watermarks as a table.
func (l WatermarkList) WriteText(w io.Writer) error {
	if len(l) == 0 {
		_, err := fmt.Fprintln(w, "no watermarks recorded")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tTYPE\tWATERMARK\tRUN")
	for _, wm := range l {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", wm.Source, wm.Type, wm.Watermark.Format(time.RFC3339Nano), wm.RunID)
	}
	return tw.Flush()
}

func runRuns(opts *RunsOptions, args []string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	filter := store.RunFilter{Limit: opts.Limit}
	if opts.Source != "" {
		src, err := ir.ParseSourceSystem(opts.Source)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeInvalidArgs, "invalid source", err)
		}
		filter.Source = src
	}
	if opts.Type != "" {
		typ, err := ir.ParseItemType(opts.Type)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeInvalidArgs, "invalid type", err)
		}
		filter.Type = typ
	}

	a, err := openApp(opts.RootOptions, f)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := commandContext(cmd)

	switch {
	case opts.Watermarks:
		wms, err := a.store.ListWatermarks(ctx)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeStoreFailed, "failed to list watermarks", err)
		}
		return f.Success(WatermarkList(wms))

	case len(args) == 1:
		run, err := a.store.GetRun(ctx, args[0])
		if errors.Is(err, store.ErrNotFound) {
			return f.Fail(ExitFailure, ErrCodeNotFound, "run not found", err)
		}
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeStoreFailed, "failed to read run", err)
		}
		return f.Success(RunDetail(run))

	default:
		runs, err := a.store.ListRuns(ctx, filter)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeStoreFailed, "failed to list runs", err)
		}
		return f.Success(RunList(runs))
	}
}
