package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show resume summary and recorded failures",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		p := buildPipeline(cfg, false)
		if !p.store.Exists() {
			fmt.Println("no session found")
			return nil
		}

		summary, err := p.coordinator.GetResumeSummary()
		if err != nil {
			return err
		}

		fmt.Printf("session:    %s (%s, started %s)\n",
			summary.Session.SessionID,
			summary.Session.Mode,
			summary.Session.StartedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("progress:   %d/%d completed (%.1f%%)\n",
			summary.Summary.Completed, summary.Summary.Total,
			summary.Summary.CompletionPercentage)
		fmt.Printf("pending:    %d  in progress: %d  failed: %d  blocked: %d\n",
			summary.Summary.Pending, summary.Summary.InProgress,
			summary.Summary.Failed, summary.Summary.Blocked)

		pending, err := p.coordinator.PendingKeys()
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			fmt.Printf("resumable:  %s\n", strings.Join(pending, ", "))
		}

		report, err := p.recorder.GetFailureSummary()
		if err != nil {
			return err
		}
		if report.Total > 0 {
			fmt.Printf("\n%d failed phases:\n", report.Total)
			for _, f := range report.Failures {
				fmt.Printf("  %s / %s [%s]: %s\n", f.Key, f.Phase, f.Category, f.Message)
			}
		}

		return nil
	},
}

var resetStaleCmd = &cobra.Command{
	Use:   "reset-stale",
	Short: "Reclaim phases orphaned by a crash",
	Long: `Scans for phases stuck in_progress past the stale timeout, resets them
to pending, and persists the result. The prior error message of each reset
phase is preserved in its audit trail.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		p := buildPipeline(cfg, false)
		affected, err := p.coordinator.ResetStaleItems()
		if err != nil {
			return err
		}

		if len(affected) == 0 {
			fmt.Println("no stale items found")
			return nil
		}
		fmt.Printf("reset %d stale items: %s\n", len(affected), strings.Join(affected, ", "))
		return nil
	},
}

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List state backups, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		p := buildPipeline(cfg, false)
		backups, err := p.store.Backups()
		if err != nil {
			return err
		}

		if len(backups) == 0 {
			fmt.Println("no backups found")
			return nil
		}
		for _, b := range backups {
			fmt.Println(b)
		}
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <backup-path>",
	Short: "Replace the state document with a backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		p := buildPipeline(cfg, false)
		if err := p.store.RestoreBackup(args[0]); err != nil {
			return err
		}

		fmt.Printf("state restored from %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetStaleCmd)
	rootCmd.AddCommand(backupsCmd)
	rootCmd.AddCommand(restoreCmd)
}
