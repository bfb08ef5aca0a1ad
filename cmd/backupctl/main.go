package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/the-luap/picpeak-backup/internal/config"
	"github.com/the-luap/picpeak-backup/internal/logger"
	"github.com/the-luap/picpeak-backup/internal/manifest"
)

func main() {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps errors to process exit codes: 2 for validation failures
// (bad config, bad manifest), 1 for everything else.
func exitCode(err error) int {
	var verr *manifest.ValidationError
	if errors.As(err, &verr) {
		return 2
	}
	if errors.Is(err, config.ErrValidateConfig) || errors.Is(err, config.ErrLoadConfig) {
		return 2
	}
	return 1
}
