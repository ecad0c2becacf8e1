package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/planmirror/internal/cache"
	"github.com/roach88/planmirror/internal/engine"
	"github.com/roach88/planmirror/internal/ir"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Types    []string
	Full     bool
	Fixtures string

	// RunIDs allows overriding the run id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs engine.RunIDGenerator
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync [planning|tracking ...]",
		Short: "Mirror changed items and refresh relationships",
		Long: `Fetch items changed since the last successful sync, reconcile them into the
local mirror and rebuild the relationship graph of each synced source.

Without arguments both source systems are synced. Items are read from a
fixture directory laid out as <root>/<source>/<type>/*.yaml.

Example:
  planmirror sync --fixtures ./export
  planmirror sync planning --type feature --full`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, args, cmd)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Types, "type", "t", nil, "item types to sync (repeatable, comma separated)")
	cmd.Flags().BoolVar(&opts.Full, "full", false, "ignore watermarks and relist everything")
	cmd.Flags().StringVar(&opts.Fixtures, "fixtures", "", "fixture directory (overrides config)")

	return cmd
}

// SyncReport is the result of one sync invocation.
type SyncReport struct {
	Sources []SourceReport `json:"sources"`
}

// SourceReport is the outcome for one source system.
type SourceReport struct {
	Source ir.SourceSystem  `json:"source"`
	Runs   []ir.SyncRun     `json:"runs"`
	Edges  cache.EdgeReport `json:"edges"`
	Error  string           `json:"error,omitempty"`
}

// Complete reports whether every run ended SUCCESS without errors.
func (r SyncReport) Complete() bool {
	for _, s := range r.Sources {
		if s.Error != "" {
			return false
		}
		for _, run := range s.Runs {
			if run.Status != ir.RunSuccess {
				return false
			}
		}
	}
	return true
}

// WriteText renders the report as a table.
func (r SyncReport) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tTYPE\tSTATUS\tBATCHES\tCOUNTS")
	for _, s := range r.Sources {
		for _, run := range s.Runs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\n", run.Source, run.Type, run.Status,
				run.Batches-run.FailedBatches, run.Batches, formatCounts(run.Counts))
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, s := range r.Sources {
		fmt.Fprintf(w, "%s edges: +%d -%d total=%d gaps=%d\n", s.Source, s.Edges.Added, s.Edges.Removed, s.Edges.Total, len(s.Edges.Gaps))
		for _, run := range s.Runs {
			for _, e := range run.Errors {
				fmt.Fprintf(w, "  %s %s batch=%d %s: %s\n", run.Type, e.Kind, e.Batch, e.ExternalID, e.Message)
			}
		}
		if s.Error != "" {
			fmt.Fprintf(w, "  error: %s\n", s.Error)
		}
	}
	return nil
}

func runSync(opts *SyncOptions, args []string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	sources, err := parseSources(args)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalidArgs, "invalid source", err)
	}
	types, err := parseTypes(opts.Types)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalidArgs, "invalid type", err)
	}

	a, err := openApp(opts.RootOptions, f)
	if err != nil {
		return err
	}
	defer a.Close()

	fetcher, err := a.fixtures(opts.Fixtures, f)
	if err != nil {
		return err
	}

	coordOpts := []engine.Option{
		engine.WithLogger(a.log.Named("sync")),
		engine.WithNormalizer(a.normalizer),
	}
	if opts.RunIDs != nil {
		coordOpts = append(coordOpts, engine.WithRunIDs(opts.RunIDs))
	}
	coord, err := engine.NewCoordinator(fetcher, a.reconciler, a.store, a.cfg.Engine(), coordOpts...)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeConfigInvalid, "invalid sync settings", err)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var report SyncReport
	for _, src := range sources {
		srcTypes := typesFor(src, types)
		if len(srcTypes) == 0 {
			continue
		}
		f.VerboseLog("syncing %s %v", src, srcTypes)
		res, err := coord.SyncSource(ctx, src, srcTypes, opts.Full)
		sr := SourceReport{Source: src, Runs: res.Runs, Edges: res.Edges}
		if err != nil {
			sr.Error = err.Error()
		}
		report.Sources = append(report.Sources, sr)
	}
	if len(report.Sources) == 0 {
		return f.Fail(ExitCommandError, ErrCodeInvalidArgs, "no requested type belongs to the requested sources", nil)
	}

	if err := f.Success(report); err != nil {
		return err
	}
	if !report.Complete() {
		return NewExitError(ExitFailure, "sync incomplete: at least one run did not succeed")
	}
	return nil
}
