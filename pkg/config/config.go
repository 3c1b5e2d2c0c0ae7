package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the propscan pipeline
type Config struct {
	// Pipeline state tracking settings
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`

	// Retry behavior for phase operations
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Runner concurrency and pacing
	Runner RunnerConfig `yaml:"runner" json:"runner"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// PipelineConfig holds checkpoint and resume configuration
type PipelineConfig struct {
	// StateFile is the path of the persisted state document
	StateFile string `yaml:"state_file" json:"state_file"`
	// Phases is the ordered phase sequence every work item passes through
	Phases []string `yaml:"phases" json:"phases"`
	// StaleTimeout is how long a phase may sit in_progress before a resume
	// treats it as orphaned by a crash
	StaleTimeout time.Duration `yaml:"stale_timeout" json:"stale_timeout"`
	// BackupRetention is how many timestamped state backups to keep
	BackupRetention int `yaml:"backup_retention" json:"backup_retention"`
	// MaxItemRetries bounds how often a failed item is offered for retry
	// across resumes
	MaxItemRetries int `yaml:"max_item_retries" json:"max_item_retries"`
}

// RetryConfig holds retry configuration for phase operations
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay    time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" json:"multiplier"`
	JitterFactor float64       `yaml:"jitter_factor" json:"jitter_factor"`
}

// RunnerConfig holds orchestration settings
type RunnerConfig struct {
	Workers             int `yaml:"workers" json:"workers"`
	OperationsPerMinute int `yaml:"operations_per_minute" json:"operations_per_minute"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			StateFile:       "propscan_state.json",
			Phases:          []string{"fetch", "score", "report"},
			StaleTimeout:    30 * time.Minute,
			BackupRetention: 10,
			MaxItemRetries:  3,
		},
		Retry: RetryConfig{
			MaxAttempts:  3,
			BaseDelay:    1 * time.Second,
			MaxDelay:     60 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
		Runner: RunnerConfig{
			Workers:             3,
			OperationsPerMinute: 60,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() {
	if stateFile := os.Getenv("PROPSCAN_STATE_FILE"); stateFile != "" {
		c.Pipeline.StateFile = stateFile
	}
	if timeout := os.Getenv("PROPSCAN_STALE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil && d > 0 {
			c.Pipeline.StaleTimeout = d
		}
	}
	if retention := os.Getenv("PROPSCAN_BACKUP_RETENTION"); retention != "" {
		var val int
		fmt.Sscanf(retention, "%d", &val)
		if val > 0 {
			c.Pipeline.BackupRetention = val
		}
	}
	if retries := os.Getenv("PROPSCAN_MAX_ITEM_RETRIES"); retries != "" {
		var val int
		fmt.Sscanf(retries, "%d", &val)
		if val >= 0 {
			c.Pipeline.MaxItemRetries = val
		}
	}
	if attempts := os.Getenv("PROPSCAN_RETRY_MAX_ATTEMPTS"); attempts != "" {
		var val int
		fmt.Sscanf(attempts, "%d", &val)
		if val > 0 {
			c.Retry.MaxAttempts = val
		}
	}
	if workers := os.Getenv("PROPSCAN_WORKERS"); workers != "" {
		var val int
		fmt.Sscanf(workers, "%d", &val)
		if val > 0 {
			c.Runner.Workers = val
		}
	}
	if logLevel := os.Getenv("PROPSCAN_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // no config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		".propscan.yaml",
		".propscan.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "propscan", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".propscan.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Pipeline.StateFile == "" {
		errs = append(errs, errors.New("state file path is required"))
	}
	if len(c.Pipeline.Phases) == 0 {
		errs = append(errs, errors.New("at least one pipeline phase is required"))
	}
	seen := make(map[string]bool, len(c.Pipeline.Phases))
	for _, phase := range c.Pipeline.Phases {
		if phase == "" {
			errs = append(errs, errors.New("phase names cannot be empty"))
		}
		if seen[phase] {
			errs = append(errs, fmt.Errorf("duplicate phase name: %s", phase))
		}
		seen[phase] = true
	}
	if c.Pipeline.StaleTimeout <= 0 {
		errs = append(errs, errors.New("stale timeout must be positive"))
	}
	if c.Pipeline.BackupRetention <= 0 {
		errs = append(errs, errors.New("backup retention must be positive"))
	}
	if c.Pipeline.MaxItemRetries < 0 {
		errs = append(errs, errors.New("max item retries cannot be negative"))
	}

	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, errors.New("retry max attempts must be positive"))
	}
	if c.Retry.BaseDelay <= 0 {
		errs = append(errs, errors.New("retry base delay must be positive"))
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		errs = append(errs, errors.New("retry max delay must be at least the base delay"))
	}
	if c.Retry.Multiplier < 1.0 {
		errs = append(errs, errors.New("retry multiplier must be at least 1.0"))
	}
	if c.Retry.JitterFactor < 0 || c.Retry.JitterFactor > 1.0 {
		errs = append(errs, errors.New("jitter factor must be between 0.0 and 1.0"))
	}

	if c.Runner.Workers <= 0 {
		errs = append(errs, errors.New("runner workers must be positive"))
	}
	if c.Runner.OperationsPerMinute <= 0 {
		errs = append(errs, errors.New("operations per minute must be positive"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "disabled": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if stateFile, ok := flags["state-file"].(string); ok && stateFile != "" {
		c.Pipeline.StateFile = stateFile
	}
	if workers, ok := flags["workers"].(int); ok && workers > 0 {
		c.Runner.Workers = workers
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence.
// Precedence order: command line flags > environment variables > .env file >
// config file > defaults.
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".propscan.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	config.LoadFromEnv()
	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
