package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/planmirror/internal/config"
	"github.com/roach88/planmirror/internal/engine"
)

// NewValidateConfigCommand creates the validate-config command.
func NewValidateConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate-config [file]",
		Short: "Check a config file and print the effective settings",
		Long: `Validate planmirror.yaml against the embedded schema, apply PLANMIRROR_*
environment overrides and print the settings a sync would use.

Example:
  planmirror validate-config ./planmirror.yaml
  PLANMIRROR_WORKERS=8 planmirror validate-config --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.Config
			if len(args) == 1 {
				path = args[0]
			}
			return runValidateConfig(rootOpts, path, cmd)
		},
	}

	return cmd
}

// EffectiveConfig is what validate-config reports.
type EffectiveConfig struct {
	Path       string        `json:"path,omitempty"`
	Database   string        `json:"database"`
	FixtureDir string        `json:"fixture_dir,omitempty"`
	LogMode    string        `json:"log_mode"`
	Sync       engine.Config `json:"sync"`
	MaxAge     string        `json:"freshness_max_age"`
}

// WriteText renders the settings.
func (c EffectiveConfig) WriteText(w io.Writer) error {
	if c.Path != "" {
		fmt.Fprintf(w, "%s is valid\n", c.Path)
	} else {
		fmt.Fprintln(w, "defaults are valid")
	}
	fmt.Fprintf(w, "  database:     %s\n", c.Database)
	if c.FixtureDir != "" {
		fmt.Fprintf(w, "  fixtures:     %s\n", c.FixtureDir)
	}
	fmt.Fprintf(w, "  log mode:     %s\n", c.LogMode)
	fmt.Fprintf(w, "  batch size:   %d\n", c.Sync.BatchSize)
	fmt.Fprintf(w, "  workers:      %d\n", c.Sync.Workers)
	fmt.Fprintf(w, "  max attempts: %d\n", c.Sync.MaxAttempts)
	fmt.Fprintf(w, "  backoff:      %s .. %s\n", c.Sync.BaseDelay, c.Sync.MaxDelay)
	fmt.Fprintf(w, "  max age:      %s\n", c.MaxAge)
	return nil
}

func runValidateConfig(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	cfg, err := config.Load(path)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeConfigInvalid, "invalid config", err)
	}
	return f.Success(EffectiveConfig{
		Path:       path,
		Database:   cfg.Database,
		FixtureDir: cfg.FixtureDir,
		LogMode:    cfg.Log.Mode,
		Sync:       cfg.Engine(),
		MaxAge:     cfg.FreshnessPolicy().MaxAge.String(),
	})
}
