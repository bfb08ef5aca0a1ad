package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/the-luap/picpeak-backup/internal/orchestrate"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete orphaned blobs from the backend",
	Long: `Remove blobs left behind by failed backup runs. A blob is orphaned
when no stored manifest references its backup ID. Refuses to run while
a backup is active.`,
	RunE: runGC,
}

func init() {
	rootCmd.AddCommand(gcCmd)
}

func runGC(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := orchestrate.GarbageCollect(cmd.Context(), a.backend, a.registry, a.log)
	if err != nil {
		return err
	}

	fmt.Printf("Garbage collection complete.\n")
	fmt.Printf("  Manifests:     %d\n", result.Manifests)
	fmt.Printf("  Blobs scanned: %d\n", result.BlobsScanned)
	fmt.Printf("  Blobs deleted: %d\n", result.BlobsDeleted)
	return nil
}
