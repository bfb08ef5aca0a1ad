package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/the-luap/picpeak-backup/internal/manifest"
)

var validateCmd = &cobra.Command{
	Use:   "validate <manifest-id>",
	Short: "Validate a stored manifest",
	Long: `Fetch a manifest from the backend and check its structure, file
statistics and aggregate checksum. All violations are reported, not
just the first.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	id := args[0]

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	rc, err := a.backend.Get(cmd.Context(), manifest.Key(id))
	if err != nil {
		return fmt.Errorf("fetch manifest %s: %w", id, err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("read manifest %s: %w", id, err)
	}

	m, err := manifest.Decode(data, manifest.FormatJSON)
	if err != nil {
		return err
	}
	if err := manifest.Validate(m); err != nil {
		return err
	}

	summary := manifest.Summary(m, func(parentID string) (*manifest.Manifest, error) {
		return a.newBackup().LoadManifest(cmd.Context(), parentID)
	})
	fmt.Printf("Manifest %s is valid.\n\n%s", id, summary)
	return nil
}
