package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/planmirror/internal/cache"
	"github.com/roach88/planmirror/internal/config"
	"github.com/roach88/planmirror/internal/connector/fixture"
	"github.com/roach88/planmirror/internal/ir"
	"github.com/roach88/planmirror/internal/logging"
	"github.com/roach88/planmirror/internal/normalize"
	"github.com/roach88/planmirror/internal/query"
	"github.com/roach88/planmirror/internal/store"
)

// app is the wiring shared by every command that touches the mirror.
type app struct {
	cfg        config.Config
	store      *store.Store
	log        *logging.Logger
	normalizer *normalize.Normalizer
	reconciler *cache.Reconciler
	query      *query.Service
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// openApp loads configuration, opens the database and builds the services.
// Failures are reported through f and returned as ExitErrors.
func openApp(opts *RootOptions, f *OutputFormatter) (*app, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, f.Fail(ExitFailure, ErrCodeConfigInvalid, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.Verbose {
		cfg.Log.Verbose = true
	}

	log, err := logging.New(cfg.Logging())
	if err != nil {
		return nil, f.Fail(ExitFailure, ErrCodeConfigInvalid, "failed to build logger", err)
	}

	f.VerboseLog("opening database %s", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		log.Sync()
		return nil, f.Fail(ExitCommandError, ErrCodeStoreFailed, "failed to open database", err)
	}

	n := normalize.New(cfg.NormalizeOptions())
	rec := cache.New(st, cache.Options{Logger: log.Named("cache")})
	return &app{
		cfg:        cfg,
		store:      st,
		log:        log,
		normalizer: n,
		reconciler: rec,
		query:      query.New(st),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Error("error closing database", "error", err.Error())
	}
	a.log.Sync()
}

// fixtures loads the fixture connector from dir, falling back to the
// configured directory.
func (a *app) fixtures(dir string, f *OutputFormatter) (*fixture.Fetcher, error) {
	if dir == "" {
		dir = a.cfg.FixtureDir
	}
	if dir == "" {
		return nil, f.Fail(ExitCommandError, ErrCodeInvalidArgs, "no fixture directory",
			errors.New("set --fixtures, fixture_dir or PLANMIRROR_FIXTURE_DIR"))
	}
	fetcher, err := fixture.Load(dir, a.cfg.Sync.PageSize)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeFixtureFailed, "failed to load fixtures", err)
	}
	return fetcher, nil
}

// parseKey parses an item key argument, reporting failures through f.
func parseKey(arg string, f *OutputFormatter) (ir.ItemKey, error) {
	key, err := ir.ParseItemKey(arg)
	if err != nil {
		return ir.ItemKey{}, f.Fail(ExitCommandError, ErrCodeInvalidArgs, "invalid item key", err)
	}
	return key, nil
}

// parseSources parses source arguments; none means both systems.
func parseSources(args []string) ([]ir.SourceSystem, error) {
	if len(args) == 0 {
		return []ir.SourceSystem{ir.SourcePlanning, ir.SourceTracking}, nil
	}
	var out []ir.SourceSystem
	seen := make(map[ir.SourceSystem]bool)
	for _, a := range args {
		src, err := ir.ParseSourceSystem(a)
		if err != nil {
			return nil, err
		}
		if !seen[src] {
			seen[src] = true
			out = append(out, src)
		}
	}
	return out, nil
}

// parseTypes parses --type values.
func parseTypes(values []string) ([]ir.ItemType, error) {
	var out []ir.ItemType
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			typ, err := ir.ParseItemType(part)
			if err != nil {
				return nil, err
			}
			out = append(out, typ)
		}
	}
	return out, nil
}

// typesFor keeps the requested types that source produces. No request means
// every type of the source; a request matching none returns nil.
func typesFor(source ir.SourceSystem, requested []ir.ItemType) []ir.ItemType {
	if len(requested) == 0 {
		return ir.TypesFor(source)
	}
	var out []ir.ItemType
	for _, t := range requested {
		if t.BelongsTo(source) {
			out = append(out, t)
		}
	}
	return out
}

func formatCounts(c ir.RunCounts) string {
	return fmt.Sprintf("processed=%d created=%d updated=%d unchanged=%d failed=%d",
		c.Processed, c.Created, c.Updated, c.Unchanged, c.Failed)
}

// commandContext returns the command's context, or Background when the
// command was executed without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
