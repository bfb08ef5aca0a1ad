package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/the-luap/picpeak-backup/internal/manifest"
	"github.com/the-luap/picpeak-backup/internal/orchestrate"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run a backup",
	Long: `Run a full or incremental backup of the configured storage roots and
database. An incremental backup with no usable parent is promoted to
full automatically.`,
	RunE: runBackup,
}

var (
	backupMode     string
	backupMetadata []string
)

func init() {
	backupCmd.Flags().StringVar(&backupMode, "mode", "full", "Backup mode: full, incremental or database")
	backupCmd.Flags().StringArrayVar(&backupMetadata, "meta", nil, "Extra manifest metadata (key=value, repeatable)")
	rootCmd.AddCommand(backupCmd)
}

func runBackup(cmd *cobra.Command, args []string) error {
	mode := manifest.Type(backupMode)
	if !mode.Valid() {
		return fmt.Errorf("unknown backup mode %q", backupMode)
	}

	metadata := make(map[string]string, len(backupMetadata))
	for _, kv := range backupMetadata {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("invalid metadata %q (expected key=value)", kv)
		}
		metadata[k] = v
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	m, run, err := a.newBackup().Run(cmd.Context(), orchestrate.BackupOptions{
		Mode:     mode,
		Metadata: metadata,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Backup complete.\n")
	fmt.Printf("  Run:      %s\n", run.ID)
	fmt.Printf("  Manifest: %s (%s)\n", m.ID, m.Type)
	fmt.Printf("  Files:    %d\n", m.FileCount)
	fmt.Printf("  Size:     %s\n", humanize.Bytes(uint64(m.TotalSize)))
	if m.Database != nil {
		fmt.Printf("  Database: %s (%s)\n", m.Database.Engine, humanize.Bytes(uint64(m.Database.Size)))
	}
	return nil
}
