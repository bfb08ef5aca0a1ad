package runs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Registry persists run records in SQLite and enforces the single-flight
// invariant per operation kind. It replaces the process-wide "is a backup
// running" flag with owned, queryable state.
type Registry struct {
	db      *sql.DB
	writeMu sync.Mutex
}

// Open opens (creating if needed) the run registry at path.
func Open(path string) (*Registry, error) {
	dsn := path + "?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open run registry: %w", err)
	}
	r := &Registry{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate run registry: %w", err)
	}
	return r, nil
}

func (r *Registry) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS backup_runs (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		completed_at INTEGER,
		status TEXT NOT NULL,
		mode TEXT NOT NULL,
		manifest_id TEXT,
		parent_run_id TEXT,
		files_backed_up INTEGER NOT NULL DEFAULT 0,
		total_size INTEGER NOT NULL DEFAULT 0,
		error_message TEXT
	);

	CREATE TABLE IF NOT EXISTS restore_runs (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		completed_at INTEGER,
		status TEXT NOT NULL,
		restore_type TEXT NOT NULL,
		source TEXT,
		manifest_ref TEXT,
		dry_run INTEGER NOT NULL DEFAULT 0,
		pre_restore_backup_ref TEXT,
		rollback_attempted INTEGER NOT NULL DEFAULT 0,
		successful INTEGER NOT NULL DEFAULT 0,
		files_restored INTEGER NOT NULL DEFAULT 0,
		bytes_restored INTEGER NOT NULL DEFAULT 0,
		log TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_backup_runs_started ON backup_runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_restore_runs_started ON restore_runs(started_at);
	`
	_, err := r.db.Exec(schema)
	return err
}

// Close closes the registry.
func (r *Registry) Close() error {
	return r.db.Close()
}

// AcquireBackup creates a Running backup run, failing with
// ErrConcurrentOperation if one is already active.
func (r *Registry) AcquireBackup(ctx context.Context, mode, parentRunID string) (*BackupRun, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var active int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM backup_runs WHERE status = ?`, StatusRunning,
	).Scan(&active); err != nil {
		return nil, err
	}
	if active > 0 {
		return nil, fmt.Errorf("%w: backup", ErrConcurrentOperation)
	}

	run := &BackupRun{
		ID:          uuid.NewString(),
		StartedAt:   time.Now().UTC(),
		Status:      StatusRunning,
		Mode:        mode,
		ParentRunID: parentRunID,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO backup_runs (id, started_at, status, mode, parent_run_id)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.StartedAt.Unix(), run.Status, run.Mode, run.ParentRunID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteBackup transitions a run to Completed with final statistics.
func (r *Registry) CompleteBackup(ctx context.Context, run *BackupRun) error {
	run.Status = StatusCompleted
	run.CompletedAt = time.Now().UTC()
	return r.finishBackup(ctx, run)
}

// FailBackup transitions a run to Failed, preserving the fatal error
// verbatim.
func (r *Registry) FailBackup(ctx context.Context, run *BackupRun, cause error) error {
	run.Status = StatusFailed
	run.CompletedAt = time.Now().UTC()
	if cause != nil {
		run.ErrorMessage = cause.Error()
	}
	return r.finishBackup(ctx, run)
}

func (r *Registry) finishBackup(ctx context.Context, run *BackupRun) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	res, err := r.db.ExecContext(ctx, `
		UPDATE backup_runs
		SET completed_at = ?, status = ?, manifest_id = ?,
		    files_backed_up = ?, total_size = ?, error_message = ?
		WHERE id = ? AND status = ?
	`, run.CompletedAt.Unix(), run.Status, run.ManifestID,
		run.FilesBackedUp, run.TotalSize, run.ErrorMessage,
		run.ID, StatusRunning)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("backup run %s is not running; refusing to reopen", run.ID)
	}
	return nil
}

// LatestCompletedBackup returns the most recent Completed backup run that
// produced a manifest able to anchor or extend an incremental chain, or
// nil when none exists. Database-only runs carry no file inventory and
// are never selected as parents.
func (r *Registry) LatestCompletedBackup(ctx context.Context) (*BackupRun, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, started_at, completed_at, status, mode,
		       COALESCE(manifest_id, ''), COALESCE(parent_run_id, ''),
		       files_backed_up, total_size, COALESCE(error_message, '')
		FROM backup_runs
		WHERE status = ? AND mode != 'database'
		  AND manifest_id IS NOT NULL AND manifest_id != ''
		ORDER BY started_at DESC LIMIT 1
	`, StatusCompleted)

	run, err := scanBackupRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// ListBackupRuns returns the most recent backup runs, newest first.
func (r *Registry) ListBackupRuns(ctx context.Context, limit int) ([]BackupRun, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, started_at, completed_at, status, mode,
		       COALESCE(manifest_id, ''), COALESCE(parent_run_id, ''),
		       files_backed_up, total_size, COALESCE(error_message, '')
		FROM backup_runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BackupRun
	for rows.Next() {
		run, err := scanBackupRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBackupRun(row rowScanner) (*BackupRun, error) {
	var run BackupRun
	var started int64
	var completed sql.NullInt64
	if err := row.Scan(&run.ID, &started, &completed, &run.Status, &run.Mode,
		&run.ManifestID, &run.ParentRunID,
		&run.FilesBackedUp, &run.TotalSize, &run.ErrorMessage); err != nil {
		return nil, err
	}
	run.StartedAt = time.Unix(started, 0).UTC()
	if completed.Valid {
		run.CompletedAt = time.Unix(completed.Int64, 0).UTC()
	}
	return &run, nil
}

// AcquireRestore creates a Running restore run, failing with
// ErrConcurrentOperation if one is already active.
func (r *Registry) AcquireRestore(ctx context.Context, restoreType RestoreType, source, manifestRef string, dryRun bool) (*RestoreRun, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var active int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM restore_runs WHERE status = ?`, StatusRunning,
	).Scan(&active); err != nil {
		return nil, err
	}
	if active > 0 {
		return nil, fmt.Errorf("%w: restore", ErrConcurrentOperation)
	}

	run := &RestoreRun{
		ID:          uuid.NewString(),
		StartedAt:   time.Now().UTC(),
		Status:      StatusRunning,
		RestoreType: restoreType,
		Source:      source,
		ManifestRef: manifestRef,
		DryRun:      dryRun,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO restore_runs (id, started_at, status, restore_type, source, manifest_ref, dry_run)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.StartedAt.Unix(), run.Status, run.RestoreType, run.Source, run.ManifestRef, boolToInt(run.DryRun))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return run, nil
}

// FinishRestore transitions a restore run to its terminal status and
// persists the complete restore log.
func (r *Registry) FinishRestore(ctx context.Context, run *RestoreRun, status Status) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	run.Status = status
	run.CompletedAt = time.Now().UTC()

	logJSON, err := json.Marshal(run.Log)
	if err != nil {
		return fmt.Errorf("encode restore log: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE restore_runs
		SET completed_at = ?, status = ?, pre_restore_backup_ref = ?,
		    rollback_attempted = ?, successful = ?,
		    files_restored = ?, bytes_restored = ?, log = ?
		WHERE id = ? AND status = ?
	`, run.CompletedAt.Unix(), run.Status, run.PreRestoreBackupRef,
		boolToInt(run.RollbackAttempted), boolToInt(run.Successful),
		run.FilesRestored, run.BytesRestored, string(logJSON),
		run.ID, StatusRunning)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("restore run %s is not running; refusing to reopen", run.ID)
	}
	return nil
}

// ActiveKinds reports which operation kinds currently have a Running run.
// Used to warn when a backup and a restore are active at the same time.
func (r *Registry) ActiveKinds(ctx context.Context) (map[Kind]bool, error) {
	active := make(map[Kind]bool, 2)

	var n int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM backup_runs WHERE status = ?`, StatusRunning,
	).Scan(&n); err != nil {
		return nil, err
	}
	active[KindBackup] = n > 0

	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM restore_runs WHERE status = ?`, StatusRunning,
	).Scan(&n); err != nil {
		return nil, err
	}
	active[KindRestore] = n > 0
	return active, nil
}

// ListRestoreRuns returns the most recent restore runs, newest first.
func (r *Registry) ListRestoreRuns(ctx context.Context, limit int) ([]RestoreRun, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, started_at, completed_at, status, restore_type,
		       COALESCE(source, ''), COALESCE(manifest_ref, ''), dry_run,
		       COALESCE(pre_restore_backup_ref, ''), rollback_attempted,
		       successful, files_restored, bytes_restored, COALESCE(log, '[]')
		FROM restore_runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RestoreRun
	for rows.Next() {
		var run RestoreRun
		var started int64
		var completed sql.NullInt64
		var dryRun, rollback, success int
		var logJSON string
		if err := rows.Scan(&run.ID, &started, &completed, &run.Status, &run.RestoreType,
			&run.Source, &run.ManifestRef, &dryRun,
			&run.PreRestoreBackupRef, &rollback,
			&success, &run.FilesRestored, &run.BytesRestored, &logJSON); err != nil {
			return nil, err
		}
		run.StartedAt = time.Unix(started, 0).UTC()
		if completed.Valid {
			run.CompletedAt = time.Unix(completed.Int64, 0).UTC()
		}
		run.DryRun = dryRun != 0
		run.RollbackAttempted = rollback != 0
		run.Successful = success != 0
		if err := json.Unmarshal([]byte(logJSON), &run.Log); err != nil {
			return nil, fmt.Errorf("decode restore log: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
