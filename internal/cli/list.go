package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/planmirror/internal/ir"
	"github.com/roach88/planmirror/internal/query"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Source string
	Type   string
	Status string
	Local  bool
	Limit  int
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List mirrored items",
		Long: `List mirrored items with local edits applied, ordered by source, type and id.

Example:
  planmirror list --type feature --status Done
  planmirror list --local`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Source, "source", "", "filter by source system")
	cmd.Flags().StringVar(&opts.Type, "type", "", "filter by item type")
	cmd.Flags().StringVar(&opts.Status, "status", "", "filter by effective status")
	cmd.Flags().BoolVar(&opts.Local, "local", false, "only items with local edits")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum items (0 = all)")

	return cmd
}

// ItemList is the text/JSON view of an item listing.
type ItemList []ir.CanonicalItem

// WriteText renders items as a table.
func (l ItemList) WriteText(w io.Writer) error {
	if len(l) == 0 {
		_, err := fmt.Fprintln(w, "no items")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSTATUS\tVERSION\tTITLE")
	for _, it := range l {
		marker := ""
		if it.HasLocalEdits() {
			marker = " *"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s%s\n", it.Key(), it.Status, it.Version, it.Title, marker)
	}
	return tw.Flush()
}

func runList(opts *ListOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	filter := query.Filter{Status: opts.Status, LocalOnly: opts.Local, Limit: opts.Limit}
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

	items, err := a.query.Items(commandContext(cmd), filter)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStoreFailed, "failed to list items", err)
	}
	return f.Success(ItemList(items))
}
