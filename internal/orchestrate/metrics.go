package orchestrate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for both orchestrators.
type Metrics struct {
	backupsStarted    prometheus.Counter
	backupsCompleted  prometheus.Counter
	backupsFailed     prometheus.Counter
	restoresStarted   prometheus.Counter
	restoresCompleted prometheus.Counter
	restoresFailed    prometheus.Counter
	filesCopied       prometheus.Counter
	bytesCopied       prometheus.Counter
	verifyMismatches  prometheus.Counter
}

// NewMetrics creates and registers all metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		backupsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "picpeak_backup_runs_started_total",
			Help: "Total backup runs started",
		}),
		backupsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "picpeak_backup_runs_completed_total",
			Help: "Total backup runs completed",
		}),
		backupsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "picpeak_backup_runs_failed_total",
			Help: "Total backup runs failed",
		}),
		restoresStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "picpeak_restore_runs_started_total",
			Help: "Total restore runs started",
		}),
		restoresCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "picpeak_restore_runs_completed_total",
			Help: "Total restore runs completed",
		}),
		restoresFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "picpeak_restore_runs_failed_total",
			Help: "Total restore runs failed or rolled back",
		}),
		filesCopied: factory.NewCounter(prometheus.CounterOpts{
			Name: "picpeak_backup_files_copied_total",
			Help: "Total files copied to the storage backend",
		}),
		bytesCopied: factory.NewCounter(prometheus.CounterOpts{
			Name: "picpeak_backup_bytes_copied_total",
			Help: "Total bytes copied to the storage backend",
		}),
		verifyMismatches: factory.NewCounter(prometheus.CounterOpts{
			Name: "picpeak_restore_verify_mismatches_total",
			Help: "Total post-restore checksum mismatches",
		}),
	}
}
