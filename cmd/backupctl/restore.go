package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/the-luap/picpeak-backup/internal/orchestrate"
	"github.com/the-luap/picpeak-backup/internal/runs"
	"github.com/the-luap/picpeak-backup/internal/storage"
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore from a backup manifest",
	Long: `Restore files and/or the database from a stored manifest.

A pre-restore safety backup is taken before any live data is touched;
if the restore fails it is rolled back from that backup. Use --dry-run
to validate a manifest and check disk space without mutating anything.`,
	RunE: runRestore,
}

var (
	restoreManifest   string
	restoreType       string
	restoreSource     string
	restorePaths      []string
	restoreDryRun     bool
	restoreForce      bool
	restoreSkipSafety bool
)

func init() {
	restoreCmd.Flags().StringVar(&restoreManifest, "manifest", "", "Manifest ID to restore (required)")
	restoreCmd.Flags().StringVar(&restoreType, "type", "full", "Restore type: full, database, files or selective")
	restoreCmd.Flags().StringVar(&restoreSource, "source", "", "Backend to restore from: local, s3 or rsync (default: configured backend)")
	restoreCmd.Flags().StringArrayVar(&restorePaths, "path", nil, "Path to restore (selective only, repeatable)")
	restoreCmd.Flags().BoolVar(&restoreDryRun, "dry-run", false, "Validate and check space without restoring")
	restoreCmd.Flags().BoolVar(&restoreForce, "force", false, "Proceed despite warnings (never overrides the space check)")
	restoreCmd.Flags().BoolVar(&restoreSkipSafety, "skip-safety-backup", false, "Skip the pre-restore safety backup (rollback becomes impossible)")
	restoreCmd.MarkFlagRequired("manifest")
	rootCmd.AddCommand(restoreCmd)
}

func runRestore(cmd *cobra.Command, args []string) error {
	rt := runs.RestoreType(restoreType)
	if rt == runs.RestoreSelective && len(restorePaths) == 0 {
		return fmt.Errorf("selective restore requires at least one --path")
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	// --source restores from one of the other configured backends, e.g.
	// pulling from S3 while routine backups go to local disk.
	if restoreSource != "" && restoreSource != a.cfg.Backend.Kind {
		a.cfg.Backend.Kind = restoreSource
		if err := a.cfg.Validate(); err != nil {
			return err
		}
		a.backend, err = storage.FromConfig(cmd.Context(), a.cfg.Backend)
		if err != nil {
			return fmt.Errorf("build restore source backend: %w", err)
		}
	}

	result, err := a.newRestore().Run(cmd.Context(), orchestrate.RestoreOptions{
		ManifestID:       restoreManifest,
		Type:             rt,
		Paths:            restorePaths,
		DryRun:           restoreDryRun,
		Force:            restoreForce,
		SkipSafetyBackup: restoreSkipSafety,
	})
	if err != nil {
		return err
	}

	// Manifest validation failures are reported, not raised; surface them
	// here so the process exits with the validation code.
	if result.Validation != nil {
		return result.Validation
	}

	for _, w := range result.Warnings {
		fmt.Printf("Warning: %s\n", w)
	}

	switch result.Run.Status {
	case runs.StatusCompleted:
		if restoreDryRun {
			fmt.Printf("Dry run passed.\n")
			fmt.Printf("  Required:  %s (with safety factor)\n", humanize.Bytes(uint64(result.Required)))
			fmt.Printf("  Available: %s\n", humanize.Bytes(uint64(result.Available)))
			return nil
		}
		fmt.Printf("Restore complete.\n")
		fmt.Printf("  Run:   %s\n", result.Run.ID)
		fmt.Printf("  Files: %d (%s)\n", result.Run.FilesRestored, humanize.Bytes(uint64(result.Run.BytesRestored)))
		if result.Run.PreRestoreBackupRef != "" {
			fmt.Printf("  Safety backup: %s\n", result.Run.PreRestoreBackupRef)
		}
		return nil
	case runs.StatusAborted:
		return fmt.Errorf("restore aborted before any mutation (run %s); use --force to override warnings", result.Run.ID)
	default:
		return fmt.Errorf("restore run %s ended with status %s", result.Run.ID, result.Run.Status)
	}
}
