package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "propscan_state.json", cfg.Pipeline.StateFile)
	assert.Equal(t, []string{"fetch", "score", "report"}, cfg.Pipeline.Phases)
	assert.Equal(t, 30*time.Minute, cfg.Pipeline.StaleTimeout)
	assert.Equal(t, 10, cfg.Pipeline.BackupRetention)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty state file", func(c *Config) { c.Pipeline.StateFile = "" }, "state file"},
		{"no phases", func(c *Config) { c.Pipeline.Phases = nil }, "phase"},
		{"duplicate phase", func(c *Config) { c.Pipeline.Phases = []string{"a", "a"} }, "duplicate"},
		{"zero stale timeout", func(c *Config) { c.Pipeline.StaleTimeout = 0 }, "stale timeout"},
		{"zero retention", func(c *Config) { c.Pipeline.BackupRetention = 0 }, "retention"},
		{"negative item retries", func(c *Config) { c.Pipeline.MaxItemRetries = -1 }, "item retries"},
		{"zero retry attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "max attempts"},
		{"max below base delay", func(c *Config) { c.Retry.MaxDelay = c.Retry.BaseDelay / 2 }, "max delay"},
		{"multiplier below one", func(c *Config) { c.Retry.Multiplier = 0.5 }, "multiplier"},
		{"jitter above one", func(c *Config) { c.Retry.JitterFactor = 1.5 }, "jitter"},
		{"zero workers", func(c *Config) { c.Runner.Workers = 0 }, "workers"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
pipeline:
  state_file: /tmp/custom_state.json
  phases: [collect, evaluate]
  stale_timeout: 15m
retry:
  max_attempts: 7
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))

	assert.Equal(t, "/tmp/custom_state.json", cfg.Pipeline.StateFile)
	assert.Equal(t, []string{"collect", "evaluate"}, cfg.Pipeline.Phases)
	assert.Equal(t, 15*time.Minute, cfg.Pipeline.StaleTimeout)
	assert.Equal(t, 7, cfg.Retry.MaxAttempts)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched values keep their defaults.
	assert.Equal(t, 10, cfg.Pipeline.BackupRetention)
}

func TestLoadFromFileMissingIsNotAnError(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(""))
}

func TestLoadFromFileInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline: ["), 0644))

	cfg := DefaultConfig()
	require.Error(t, cfg.LoadFromFile(path))
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PROPSCAN_STATE_FILE", "/data/state.json")
	t.Setenv("PROPSCAN_STALE_TIMEOUT", "45m")
	t.Setenv("PROPSCAN_BACKUP_RETENTION", "5")
	t.Setenv("PROPSCAN_RETRY_MAX_ATTEMPTS", "9")
	t.Setenv("PROPSCAN_WORKERS", "8")
	t.Setenv("PROPSCAN_LOG_LEVEL", "warn")

	cfg := DefaultConfig()
	cfg.LoadFromEnv()

	assert.Equal(t, "/data/state.json", cfg.Pipeline.StateFile)
	assert.Equal(t, 45*time.Minute, cfg.Pipeline.StaleTimeout)
	assert.Equal(t, 5, cfg.Pipeline.BackupRetention)
	assert.Equal(t, 9, cfg.Retry.MaxAttempts)
	assert.Equal(t, 8, cfg.Runner.Workers)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestMergeCommandLineFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MergeCommandLineFlags(map[string]interface{}{
		"state-file": "/flags/state.json",
		"workers":    6,
		"log-level":  "error",
	})

	assert.Equal(t, "/flags/state.json", cfg.Pipeline.StateFile)
	assert.Equal(t, 6, cfg.Runner.Workers)
	assert.Equal(t, "error", cfg.Logging.Level)
}

func TestMergeCommandLineFlagsIgnoresEmptyValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MergeCommandLineFlags(map[string]interface{}{
		"state-file": "",
		"workers":    0,
	})

	assert.Equal(t, "propscan_state.json", cfg.Pipeline.StateFile)
	assert.Equal(t, 3, cfg.Runner.Workers)
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved", "config.yaml")

	cfg := DefaultConfig()
	cfg.Pipeline.StateFile = "/elsewhere/state.json"
	require.NoError(t, cfg.Save(path))

	reloaded := DefaultConfig()
	require.NoError(t, reloaded.LoadFromFile(path))
	assert.Equal(t, "/elsewhere/state.json", reloaded.Pipeline.StateFile)
}
