// Package config loads planmirror settings from a YAML file and
// PLANMIRROR_* environment variables.
//
// The file is validated against an embedded CUE schema before it is decoded,
// so unknown keys and out-of-range values are rejected with the offending
// path. Environment overrides are applied after the file and checked by
// Validate.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/planmirror/internal/cache"
	"github.com/roach88/planmirror/internal/engine"
	"github.com/roach88/planmirror/internal/logging"
	"github.com/roach88/planmirror/internal/normalize"
)

//go:embed schema.cue
var schemaSource string

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PLANMIRROR_"

// DefaultDatabase is used when neither file nor environment names one.
const DefaultDatabase = "planmirror.db"

// Duration is a time.Duration written as "500ms" or "1h30m" in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config is the full settings tree.
type Config struct {
	Database   string `yaml:"database"`
	FixtureDir string `yaml:"fixture_dir"`

	Log       LogConfig       `yaml:"log"`
	Sync      SyncConfig      `yaml:"sync"`
	Normalize NormalizeConfig `yaml:"normalize"`
	Freshness FreshnessConfig `yaml:"freshness"`
}

// LogConfig selects the logger.
type LogConfig struct {
	Mode    string `yaml:"mode"`
	Verbose bool   `yaml:"verbose"`
}

// SyncConfig tunes the coordinator. Zero fields take the engine defaults.
type SyncConfig struct {
	BatchSize   int      `yaml:"batch_size"`
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
	MaxDelay    Duration `yaml:"max_delay"`
	Workers     int      `yaml:"workers"`

	// PageSize bounds change-listing pages of the fixture connector.
	PageSize int `yaml:"page_size"`
}

// NormalizeConfig mirrors normalize.Options.
type NormalizeConfig struct {
	DefaultStatus string `yaml:"default_status"`
	PlanningHost  string `yaml:"planning_host"`
	TrackingHost  string `yaml:"tracking_host"`
}

// FreshnessConfig controls read-through lookups. A zero MaxAge never
// considers a cached item stale.
type FreshnessConfig struct {
	MaxAge Duration `yaml:"max_age"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Database: DefaultDatabase,
		Log:      LogConfig{Mode: "development"},
		Sync:     SyncConfig{PageSize: 100},
	}
}

// Load reads path (optional; empty skips the file), applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := Parse(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse validates data against the schema and decodes it over cfg.
func Parse(data []byte, cfg *Config) error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	if err := ValidateSchema(raw); err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// ValidateSchema checks a decoded YAML document against the embedded schema.
func ValidateSchema(raw map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	value := ctx.Encode(raw)
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// applyEnv overrides cfg from PLANMIRROR_* variables.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	var errs []error
	num := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = Duration(d)
		}
	}

	str("DATABASE", &cfg.Database)
	str("FIXTURE_DIR", &cfg.FixtureDir)
	str("LOG_MODE", &cfg.Log.Mode)
	if v, ok := lookup(EnvPrefix + "VERBOSE"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%sVERBOSE: %w", EnvPrefix, err))
		} else {
			cfg.Log.Verbose = b
		}
	}
	num("BATCH_SIZE", &cfg.Sync.BatchSize)
	num("MAX_ATTEMPTS", &cfg.Sync.MaxAttempts)
	dur("BASE_DELAY", &cfg.Sync.BaseDelay)
	dur("MAX_DELAY", &cfg.Sync.MaxDelay)
	num("WORKERS", &cfg.Sync.Workers)
	num("PAGE_SIZE", &cfg.Sync.PageSize)
	dur("MAX_AGE", &cfg.Freshness.MaxAge)
	return errors.Join(errs...)
}

// Validate checks cross-field constraints the schema cannot see.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Database) == "" {
		return errors.New("invalid config: database path is empty")
	}
	if c.Sync.PageSize < 0 {
		return fmt.Errorf("invalid config: page size must not be negative, got %d", c.Sync.PageSize)
	}
	if c.Freshness.MaxAge < 0 {
		return errors.New("invalid config: freshness max age must not be negative")
	}
	switch strings.ToLower(c.Log.Mode) {
	case "", "dev", "development", "prod", "production":
	default:
		return fmt.Errorf("invalid config: unknown log mode %q", c.Log.Mode)
	}
	if err := c.Engine().Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Engine returns the coordinator settings with defaults applied.
func (c Config) Engine() engine.Config {
	return engine.Config{
		BatchSize:   c.Sync.BatchSize,
		MaxAttempts: c.Sync.MaxAttempts,
		BaseDelay:   time.Duration(c.Sync.BaseDelay),
		MaxDelay:    time.Duration(c.Sync.MaxDelay),
		Workers:     c.Sync.Workers,
	}.WithDefaults()
}

// Logging returns the logger options.
func (c Config) Logging() logging.Options {
	return logging.Options{Mode: c.Log.Mode, Verbose: c.Log.Verbose}
}

// NormalizeOptions returns the normalizer options.
func (c Config) NormalizeOptions() normalize.Options {
	return normalize.Options{
		DefaultStatus: c.Normalize.DefaultStatus,
		PlanningHost:  c.Normalize.PlanningHost,
		TrackingHost:  c.Normalize.TrackingHost,
	}
}

// FreshnessPolicy returns the read-through freshness policy.
func (c Config) FreshnessPolicy() cache.Freshness {
	return cache.Freshness{MaxAge: time.Duration(c.Freshness.MaxAge)}
}
