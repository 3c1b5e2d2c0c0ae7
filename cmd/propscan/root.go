package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"propscan/pkg/config"
	"propscan/pkg/logger"
	"propscan/pkg/ratelimit"
	"propscan/pkg/registry"
	"propscan/pkg/resume"
	"propscan/pkg/retry"
	"propscan/pkg/statestore"

	errs "propscan/pkg/errors"
)

var (
	version = "1.0.0"

	// Global flags
	configFile string
	stateFile  string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "propscan",
	Short: "Crash-safe pipeline checkpointing for property evaluation runs",
	Long: `propscan tracks property records through a fixed phase sequence with
durable checkpoints. Interrupted runs resume where they left off: completed
items stay completed, orphaned in-progress phases are reclaimed, and
transient failures are retried with backoff.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is .propscan.yaml)")
	rootCmd.PersistentFlags().StringVar(&stateFile, "state-file", "", "path of the state document")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig builds the effective configuration from all sources and
// initializes the global logger
func loadConfig() (*config.Config, error) {
	flags := map[string]interface{}{
		"state-file": stateFile,
		"log-level":  logLevel,
	}
	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, err
	}
	return cfg, nil
}

// pipeline bundles the wired subsystem components
type pipeline struct {
	cfg         *config.Config
	store       *statestore.Store
	registry    *registry.Registry
	coordinator *resume.Coordinator
	recorder    *resume.FailureRecorder
	limiter     ratelimit.Limiter
	retryConfig *retry.Config
	classifier  *errs.Classifier
}

// buildPipeline wires the subsystem from config. freshRequested marks that
// the invoked command intends to discard prior state.
func buildPipeline(cfg *config.Config, freshRequested bool) *pipeline {
	log := logger.GetLogger()
	classifier := errs.NewClassifier()

	store := statestore.New(cfg.Pipeline.StateFile, cfg.Pipeline.BackupRetention, log)
	reg := registry.New(store, cfg.Pipeline.Phases, log)
	reclaimer := registry.NewReclaimer(cfg.Pipeline.StaleTimeout, log)
	coordinator := resume.NewCoordinator(reg, reclaimer, cfg.Pipeline.MaxItemRetries, freshRequested, log)
	recorder := resume.NewFailureRecorder(store, classifier, log)

	retryConfig := &retry.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Backoff: &retry.ExponentialBackoff{
			BaseDelay:    cfg.Retry.BaseDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Multiplier:   cfg.Retry.Multiplier,
			JitterFactor: cfg.Retry.JitterFactor,
		},
		RetryIf: retry.ClassifierRetryIf(classifier),
		Logger:  log,
	}

	return &pipeline{
		cfg:         cfg,
		store:       store,
		registry:    reg,
		coordinator: coordinator,
		recorder:    recorder,
		limiter:     ratelimit.PerMinute(cfg.Runner.OperationsPerMinute),
		retryConfig: retryConfig,
		classifier:  classifier,
	}
}
