package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent backup and restore runs",
	RunE:  runStatus,
}

var statusLimit int

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "Number of runs to show per kind")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	backups, err := a.registry.ListBackupRuns(cmd.Context(), statusLimit)
	if err != nil {
		return fmt.Errorf("list backup runs: %w", err)
	}
	restores, err := a.registry.ListRestoreRuns(cmd.Context(), statusLimit)
	if err != nil {
		return fmt.Errorf("list restore runs: %w", err)
	}

	fmt.Printf("Backup runs:\n")
	if len(backups) == 0 {
		fmt.Printf("  (none)\n")
	}
	for _, r := range backups {
		fmt.Printf("  %s  %-11s %-12s %6d files  %10s  %s\n",
			r.StartedAt.Format("2006-01-02 15:04"), r.Status, r.Mode,
			r.FilesBackedUp, humanize.Bytes(uint64(r.TotalSize)), r.ManifestID)
		if r.ErrorMessage != "" {
			fmt.Printf("      error: %s\n", r.ErrorMessage)
		}
	}

	fmt.Printf("\nRestore runs:\n")
	if len(restores) == 0 {
		fmt.Printf("  (none)\n")
	}
	for _, r := range restores {
		dry := ""
		if r.DryRun {
			dry = " (dry run)"
		}
		fmt.Printf("  %s  %-11s %-10s %6d files  %10s  %s%s\n",
			r.StartedAt.Format("2006-01-02 15:04"), r.Status, r.RestoreType,
			r.FilesRestored, humanize.Bytes(uint64(r.BytesRestored)), r.ManifestRef, dry)
	}
	return nil
}
