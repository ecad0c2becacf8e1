package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/planmirror/internal/cache"
	"github.com/roach88/planmirror/internal/connector"
	"github.com/roach88/planmirror/internal/ir"
	"github.com/roach88/planmirror/internal/query"
)

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	Refresh  bool
	Force    bool
	Fixtures string
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show <SOURCE:TYPE:id>",
		Short: "Show one item with its parent, children and links",
		Long: `Show the effective view of one mirrored item (local edits applied) and its
immediate neighborhood.

With --refresh the item is read through the connector when it is missing or
older than freshness.max_age; a failed fetch falls back to the cached copy.

Example:
  planmirror show planning:feature:1234
  planmirror show tracking:workitem:42 --refresh --force`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Refresh, "refresh", false, "read through the connector when stale or missing")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "with --refresh, fetch even when fresh")
	cmd.Flags().StringVar(&opts.Fixtures, "fixtures", "", "fixture directory (overrides config)")

	return cmd
}

// NeighborhoodView renders query.Neighborhood.
type NeighborhoodView query.Neighborhood

// WriteText renders the item and its neighbors.
func (v NeighborhoodView) WriteText(w io.Writer) error {
	it := v.Item
	fmt.Fprintf(w, "%s\n", it.Key())
	fmt.Fprintf(w, "  title:   %s\n", it.Title)
	fmt.Fprintf(w, "  status:  %s\n", it.Status)
	fmt.Fprintf(w, "  version: %d\n", it.Version)
	if !it.LastSyncedAt.IsZero() {
		fmt.Fprintf(w, "  synced:  %s\n", it.LastSyncedAt.Format(time.RFC3339))
	}
	if it.HasLocalEdits() {
		fmt.Fprintf(w, "  local edits: %d field(s)\n", len(it.LocalEdits))
	}
	if v.Parent != nil {
		fmt.Fprintf(w, "parent:\n  %s  %s\n", v.Parent.Key(), v.Parent.Title)
	}
	writeItems(w, "children", v.Children)
	writeItems(w, "contained in", v.Containers)
	writeItems(w, "contains", v.Contents)
	if len(v.Links) > 0 {
		fmt.Fprintln(w, "links:")
		for _, l := range v.Links {
			title := l.Title
			if !l.Resolved {
				title = "(not mirrored)"
			}
			fmt.Fprintf(w, "  %s %s  %s\n", l.Direction, l.Other, title)
		}
	}
	return nil
}

func writeItems(w io.Writer, label string, items []ir.CanonicalItem) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", label)
	for _, it := range items {
		fmt.Fprintf(w, "  %s  %s\n", it.Key(), it.Title)
	}
}

func runShow(opts *ShowOptions, arg string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	key, err := parseKey(arg, f)
	if err != nil {
		return err
	}

	a, err := openApp(opts.RootOptions, f)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := commandContext(cmd)

	if opts.Refresh {
		fetcher, err := a.fixtures(opts.Fixtures, f)
		if err != nil {
			return err
		}
		fresh := a.cfg.FreshnessPolicy()
		fresh.Force = opts.Force
		_, err = a.reconciler.ReadThrough(ctx, key, cache.ConnectorItemFetcher{
			Fetcher:    fetcher,
			Normalizer: a.normalizer,
		}, fresh)
		if connector.KindOf(err) == connector.KindNotFound {
			return f.Fail(ExitFailure, ErrCodeNotFound, "item not found", err)
		}
		if err != nil {
			return f.Fail(ExitFailure, ErrCodeGeneric, "read-through failed", err)
		}
	}

	n, err := a.query.Neighborhood(ctx, key)
	if errors.Is(err, query.ErrNotFound) {
		return f.Fail(ExitFailure, ErrCodeNotFound, "item not mirrored", err)
	}
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStoreFailed, "failed to read item", err)
	}
	return f.Success(NeighborhoodView(n))
}
