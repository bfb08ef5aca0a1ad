package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/the-luap/picpeak-backup/internal/config"
	"github.com/the-luap/picpeak-backup/internal/dump"
	"github.com/the-luap/picpeak-backup/internal/logger"
	"github.com/the-luap/picpeak-backup/internal/orchestrate"
	"github.com/the-luap/picpeak-backup/internal/runs"
	"github.com/the-luap/picpeak-backup/internal/storage"
)

var rootCmd = &cobra.Command{
	Use:   "backupctl",
	Short: "Backup and restore tool for photo sharing deployments",
	Long: `backupctl backs up storage roots and the application database to a
local, S3 or rsync backend, writes verifiable manifests, and restores
from them with a pre-restore safety backup and automatic rollback.`,
	SilenceUsage: true,
}

var (
	configPath string
	verbose    bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "backup.yaml", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// app holds everything a subcommand needs, wired once per invocation.
type app struct {
	cfg      *config.Config
	log      logger.Logger
	backend  storage.Backend
	registry *runs.Registry
	producer dump.Producer
	applier  dump.Applier
	metrics  *orchestrate.Metrics
}

func newApp(ctx context.Context) (*app, error) {
	log, err := logger.Init(verbose)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg := &config.Config{}
	if err := cfg.Load(configPath); err != nil {
		return nil, err
	}

	backend, err := storage.FromConfig(ctx, cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("build storage backend: %w", err)
	}

	registry, err := runs.Open(cfg.RunDB)
	if err != nil {
		return nil, err
	}

	producer, applier, err := dump.FromConfig(cfg.Database)
	if err != nil {
		registry.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		log:      log,
		backend:  backend,
		registry: registry,
		producer: producer,
		applier:  applier,
		metrics:  orchestrate.NewMetrics(prometheus.DefaultRegisterer),
	}, nil
}

func (a *app) Close() {
	if err := a.registry.Close(); err != nil {
		a.log.Error("close run registry", "error", err.Error())
	}
}

func (a *app) newBackup() *orchestrate.Backup {
	return orchestrate.NewBackup(a.cfg, a.backend, a.registry, a.producer, a.metrics, a.log)
}

func (a *app) newRestore() *orchestrate.Restore {
	return orchestrate.NewRestore(a.cfg, a.backend, a.registry, a.newBackup(), a.applier, a.metrics, a.log)
}
