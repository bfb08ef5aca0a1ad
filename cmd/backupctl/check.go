package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check connectivity to the storage backend",
	Long: `Verify that the configured backend is reachable and writable before
scheduling backups against it.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.backend.Ping(cmd.Context()); err != nil {
		return fmt.Errorf("backend check failed: %w", err)
	}
	fmt.Printf("Backend %q is reachable.\n", a.cfg.Backend.Kind)
	return nil
}
