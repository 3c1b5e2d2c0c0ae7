package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"propscan/pkg/state"
)

var (
	keysFile  string
	sessionID string
)

var initCmd = &cobra.Command{
	Use:   "init [keys...]",
	Short: "Initialize a new session from work-item keys",
	Long: `Initializes a fresh session with one work item per key, all phases
pending, and persists it. Keys are property addresses, given as arguments or
one per line in a file via --keys-file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		keys, err := collectKeys(args)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return fmt.Errorf("no work-item keys given")
		}

		p := buildPipeline(cfg, false)
		if p.store.Exists() {
			return fmt.Errorf("state file %s already exists; use fresh-start to replace it", p.store.Path())
		}

		mode := state.ModeBatch
		if len(keys) == 1 {
			mode = state.ModeSingle
		}

		doc, err := p.registry.InitializeSession(mode, keys, sessionID)
		if err != nil {
			return err
		}

		fmt.Printf("session %s initialized with %d items\n", doc.Session.SessionID, len(doc.WorkItems))
		return nil
	},
}

var freshStartCmd = &cobra.Command{
	Use:   "fresh-start [keys...]",
	Short: "Back up current state and initialize a new session",
	Long: `Backs up the existing state document, warns about the completed items
that will be reprocessed, and initializes a new session with the given keys.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		keys, err := collectKeys(args)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return fmt.Errorf("no work-item keys given")
		}

		p := buildPipeline(cfg, true)

		if loss, err := p.coordinator.EstimateDataLoss(); err == nil && loss > 0 {
			fmt.Printf("warning: %d completed items will be reprocessed\n", loss)
		}

		backupPath, err := p.coordinator.PrepareFreshStart(keys)
		if err != nil {
			return err
		}

		if backupPath != "" {
			fmt.Printf("previous state backed up to %s\n", backupPath)
		}
		fmt.Printf("fresh session initialized with %d items\n", len(keys))
		return nil
	},
}

// collectKeys merges keys given as arguments with keys read from --keys-file
func collectKeys(args []string) ([]string, error) {
	keys := make([]string, 0, len(args))
	for _, arg := range args {
		if key := strings.TrimSpace(arg); key != "" {
			keys = append(keys, key)
		}
	}

	if keysFile == "" {
		return keys, nil
	}

	file, err := os.Open(keysFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open keys file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if key := strings.TrimSpace(scanner.Text()); key != "" && !strings.HasPrefix(key, "#") {
			keys = append(keys, key)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read keys file: %w", err)
	}

	return keys, nil
}

func init() {
	initCmd.Flags().StringVar(&keysFile, "keys-file", "", "file with one work-item key per line")
	initCmd.Flags().StringVar(&sessionID, "session-id", "", "explicit session ID (generated when empty)")
	freshStartCmd.Flags().StringVar(&keysFile, "keys-file", "", "file with one work-item key per line")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(freshStartCmd)
}
