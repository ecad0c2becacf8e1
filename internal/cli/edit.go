package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/planmirror/internal/ir"
	"github.com/roach88/planmirror/internal/store"
)

// EditOptions holds flags for the edit command.
type EditOptions struct {
	*RootOptions
	Clear bool
}

// NewEditCommand creates the edit command.
func NewEditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "edit <SOURCE:TYPE:id> [title|description|status <value>]",
		Short: "Set or clear a local edit on a mirrored item",
		Long: `Record a local override for one editable field of a mirrored item. Local
edits are never overwritten by a sync; views show them on top of the remote
values until they are cleared.

Example:
  planmirror edit planning:feature:1234 status Done
  planmirror edit planning:feature:1234 --clear`,
		Args:          cobra.RangeArgs(1, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Clear, "clear", false, "drop every local edit of the item")

	return cmd
}

func runEdit(opts *EditOptions, args []string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	key, err := parseKey(args[0], f)
	if err != nil {
		return err
	}
	switch {
	case opts.Clear && len(args) != 1:
		return f.Fail(ExitCommandError, ErrCodeInvalidArgs, "--clear takes only the item key", nil)
	case !opts.Clear && len(args) != 3:
		return f.Fail(ExitCommandError, ErrCodeInvalidArgs, "expected <key> <field> <value>", nil)
	case !opts.Clear && !ir.IsEditableField(args[1]):
		return f.Fail(ExitFailure, ErrCodeEditRejected,
			fmt.Sprintf("field %q is not editable (title, description, status)", args[1]), nil)
	}

	a, err := openApp(opts.RootOptions, f)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := commandContext(cmd)

	if opts.Clear {
		err = a.reconciler.ClearLocalEdits(ctx, key)
	} else {
		err = a.reconciler.SetLocalEdit(ctx, key, args[1], args[2])
	}
	if errors.Is(err, store.ErrNotFound) {
		return f.Fail(ExitFailure, ErrCodeNotFound, "item not mirrored", err)
	}
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStoreFailed, "failed to record edit", err)
	}

	it, err := a.query.Item(ctx, key)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStoreFailed, "failed to read item", err)
	}
	return f.Success(ItemList{it})
}
