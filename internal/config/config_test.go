package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/planmirror/internal/engine"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "planmirror.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func noEnv(string) (string, bool) { return "", false }

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := load("", noEnv)
	require.NoError(t, err)

	assert.Equal(t, DefaultDatabase, cfg.Database)
	assert.Equal(t, "development", cfg.Log.Mode)
	assert.Equal(t, engine.Config{}.WithDefaults(), cfg.Engine())
	assert.Zero(t, cfg.FreshnessPolicy().MaxAge)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
database: /var/lib/planmirror/cache.db
fixture_dir: ./fixtures
log:
  mode: production
  verbose: true
sync:
  batch_size: 50
  max_attempts: 3
  base_delay: 250ms
  max_delay: 10s
  workers: 2
  page_size: 25
normalize:
  default_status: Unknown
  planning_host: planning.example.com
freshness:
  max_age: 15m
`)
	cfg, err := load(path, noEnv)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/planmirror/cache.db", cfg.Database)
	assert.Equal(t, "./fixtures", cfg.FixtureDir)
	assert.Equal(t, engine.Config{
		BatchSize:   50,
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Workers:     2,
	}, cfg.Engine())
	assert.Equal(t, 25, cfg.Sync.PageSize)
	assert.Equal(t, "production", cfg.Logging().Mode)
	assert.True(t, cfg.Logging().Verbose)
	assert.Equal(t, "Unknown", cfg.NormalizeOptions().DefaultStatus)
	assert.Equal(t, "planning.example.com", cfg.NormalizeOptions().PlanningHost)
	assert.Equal(t, 15*time.Minute, cfg.FreshnessPolicy().MaxAge)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "sync:\n  workers: 8\n")
	cfg, err := load(path, noEnv)
	require.NoError(t, err)

	assert.Equal(t, DefaultDatabase, cfg.Database)
	assert.Equal(t, 8, cfg.Engine().Workers)
	assert.Equal(t, engine.DefaultBatchSize, cfg.Engine().BatchSize)
}

func TestLoad_SchemaRejectsBadFiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown top-level key", "databse: x.db\n"},
		{"unknown nested key", "sync:\n  batchsize: 10\n"},
		{"batch size out of range", "sync:\n  batch_size: 0\n"},
		{"workers wrong type", "sync:\n  workers: many\n"},
		{"bad duration", "sync:\n  base_delay: soon\n"},
		{"bad log mode", "log:\n  mode: loud\n"},
		{"empty database", "database: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(writeConfig(t, tt.content), noEnv)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
		})
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := load(writeConfig(t, "sync: [unclosed\n"), noEnv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse yaml")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "absent.yaml"), noEnv)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "database: file.db\nsync:\n  workers: 2\n")
	cfg, err := load(path, env(map[string]string{
		"PLANMIRROR_DATABASE":   "env.db",
		"PLANMIRROR_WORKERS":    "6",
		"PLANMIRROR_BASE_DELAY": "1s",
		"PLANMIRROR_VERBOSE":    "true",
		"PLANMIRROR_MAX_AGE":    "2h",
	}))
	require.NoError(t, err)

	assert.Equal(t, "env.db", cfg.Database)
	assert.Equal(t, 6, cfg.Engine().Workers)
	assert.Equal(t, time.Second, cfg.Engine().BaseDelay)
	assert.True(t, cfg.Log.Verbose)
	assert.Equal(t, 2*time.Hour, cfg.FreshnessPolicy().MaxAge)
}

func TestLoad_InvalidEnv(t *testing.T) {
	_, err := load("", env(map[string]string{
		"PLANMIRROR_WORKERS":   "lots",
		"PLANMIRROR_MAX_DELAY": "forever",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PLANMIRROR_WORKERS")
	assert.Contains(t, err.Error(), "PLANMIRROR_MAX_DELAY")

	_, err = load("", env(map[string]string{"PLANMIRROR_WORKERS": "-3"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workers")
}

func TestValidate_CrossField(t *testing.T) {
	cfg := Default()
	cfg.Sync.BaseDelay = Duration(time.Minute)
	cfg.Sync.MaxDelay = Duration(time.Second)
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max delay")
}

func TestDuration_YAMLRoundTrip(t *testing.T) {
	var cfg Config
	require.NoError(t, Parse([]byte("freshness:\n  max_age: 1h30m\n"), &cfg))
	assert.Equal(t, Duration(90*time.Minute), cfg.Freshness.MaxAge)

	out, err := cfg.Freshness.MaxAge.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "1h30m0s", out)
}
