package orchestrate

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/the-luap/picpeak-backup/internal/checksum"
	"github.com/the-luap/picpeak-backup/internal/compress"
	"github.com/the-luap/picpeak-backup/internal/config"
	"github.com/the-luap/picpeak-backup/internal/dump"
	"github.com/the-luap/picpeak-backup/internal/enumerate"
	"github.com/the-luap/picpeak-backup/internal/logger"
	"github.com/the-luap/picpeak-backup/internal/manifest"
	"github.com/the-luap/picpeak-backup/internal/runs"
	"github.com/the-luap/picpeak-backup/internal/storage"
)

// Restore drives one restore run: validation, space check, safety backup,
// apply, verify, and rollback on failure.
type Restore struct {
	log          logger.Logger
	backend      storage.Backend
	registry     *runs.Registry
	backup       *Backup
	applier      dump.Applier
	source       string
	roots        []string
	algorithm    string
	safetyFactor float64
	maxAge       time.Duration
	metrics      *Metrics

	// availableBytes is swapped in tests to simulate full disks.
	availableBytes func(path string) (int64, error)
}

// NewRestore wires a restore orchestrator. The backup orchestrator is
// reused to take the pre-restore safety backup.
func NewRestore(cfg *config.Config, backend storage.Backend, registry *runs.Registry,
	backup *Backup, applier dump.Applier, metrics *Metrics, log logger.Logger) *Restore {
	return &Restore{
		log:            log,
		backend:        backend,
		registry:       registry,
		backup:         backup,
		applier:        applier,
		source:         cfg.Backend.Kind,
		roots:          cfg.StorageRoots,
		algorithm:      cfg.Checksum,
		safetyFactor:   cfg.Restore.SafetyFactor,
		maxAge:         cfg.Restore.MaxManifestAge,
		metrics:        metrics,
		availableBytes: diskAvailable,
	}
}

// RestoreOptions select what to restore and how strictly.
type RestoreOptions struct {
	ManifestID string
	Type       runs.RestoreType
	// Paths restricts a selective restore; every path must exist in the
	// manifest's resolved inventory.
	Paths            []string
	DryRun           bool
	Force            bool
	SkipSafetyBackup bool
}

// RestoreResult is the structured outcome of a restore or dry run.
// Expected validation failures are reported here, never raised.
type RestoreResult struct {
	Run        *runs.RestoreRun
	Manifest   *manifest.Manifest
	Validation *manifest.ValidationError
	Warnings   []string
	Required   int64
	Available  int64
}

// Run executes one restore. Dry runs perform validation and the space
// check only and never mutate anything.
func (r *Restore) Run(ctx context.Context, opts RestoreOptions) (*RestoreResult, error) {
	if !opts.Type.Valid() {
		return nil, fmt.Errorf("unknown restore type %q", opts.Type)
	}

	if active, err := r.registry.ActiveKinds(ctx); err == nil && active[runs.KindBackup] {
		r.log.Warn("a backup is active; restoring while a backup runs is unsafe")
	}

	run, err := r.registry.AcquireRestore(ctx, opts.Type, r.source, opts.ManifestID, opts.DryRun)
	if err != nil {
		return nil, err
	}
	r.metrics.restoresStarted.Inc()
	r.log.Info("restore started", "run", run.ID, "manifest", opts.ManifestID,
		"type", opts.Type, "dry_run", opts.DryRun)

	result := &RestoreResult{Run: run}
	status, err := r.execute(ctx, run, opts, result)
	if ferr := r.registry.FinishRestore(ctx, run, status); ferr != nil {
		r.log.Error("record restore outcome", "run", run.ID, "error", ferr.Error())
	}

	switch status {
	case runs.StatusCompleted:
		r.metrics.restoresCompleted.Inc()
	default:
		if !opts.DryRun || err != nil {
			r.metrics.restoresFailed.Inc()
		}
	}
	return result, err
}

// execute returns the terminal status for the run and the fatal error, if
// any. Expected validation failures return StatusAborted with a nil
// error; the violations ride in result.Validation.
func (r *Restore) execute(ctx context.Context, run *runs.RestoreRun,
	opts RestoreOptions, result *RestoreResult) (runs.Status, error) {

	// -------- Validating --------
	run.AppendLog("info", "validating manifest %s", opts.ManifestID)

	m, verr, err := r.loadManifest(ctx, opts.ManifestID)
	if err != nil {
		run.AppendLog("error", "load manifest: %v", err)
		return runs.StatusAborted, err
	}
	if verr != nil {
		result.Validation = verr
		for _, v := range verr.Violations {
			run.AppendLog("error", "validation: %s", v)
		}
		run.AppendLog("error", "manifest failed validation; aborting")
		return runs.StatusAborted, nil
	}
	result.Manifest = m
	run.AppendLog("info", "manifest valid: type=%s files=%d size=%d", m.Type, m.FileCount, m.TotalSize)

	warnings := r.collectWarnings(m)
	result.Warnings = warnings
	for _, w := range warnings {
		run.AppendLog("warn", "%s", w)
	}

	// Resolve the full inventory up front; a broken chain is a
	// validation failure, not an I/O surprise mid-restore.
	var inventory []manifest.ResolvedEntry
	if opts.Type != runs.RestoreDatabase {
		inventory, err = manifest.ResolveChain(m, func(id string) (*manifest.Manifest, error) {
			return r.backup.LoadManifest(ctx, id)
		})
		if err != nil {
			run.AppendLog("error", "resolve incremental chain: %v", err)
			return runs.StatusAborted, err
		}

		if opts.Type == runs.RestoreSelective {
			inventory, err = selectPaths(inventory, opts.Paths)
			if err != nil {
				run.AppendLog("error", "%v", err)
				return runs.StatusAborted, err
			}
		}
	}

	if len(warnings) > 0 && !opts.Force && !opts.DryRun {
		run.AppendLog("error", "aborting: %d warning(s) present and --force not set", len(warnings))
		return runs.StatusAborted, nil
	}

	// -------- Space check: fatal regardless of force --------
	var inventoryBytes int64
	for _, e := range inventory {
		inventoryBytes += e.Size
	}
	required := int64(float64(inventoryBytes) * r.safetyFactor)
	available, err := r.availableBytes(r.roots[0])
	if err != nil {
		run.AppendLog("error", "space check: %v", err)
		return runs.StatusAborted, err
	}
	result.Required = required
	result.Available = available
	run.AppendLog("info", "space check: need %d bytes (factor %.2f), %d available",
		required, r.safetyFactor, available)
	if available < required {
		spaceErr := &InsufficientSpaceError{Path: r.roots[0], Required: required, Available: available}
		run.AppendLog("error", "%v", spaceErr)
		return runs.StatusAborted, spaceErr
	}

	if opts.DryRun {
		run.AppendLog("info", "dry run: validation and space check passed, no mutation performed")
		run.Successful = true
		return runs.StatusCompleted, nil
	}

	// -------- Safety backup: completes before any live file is touched --------
	var safety *manifest.Manifest
	if opts.SkipSafetyBackup {
		run.AppendLog("warn", "safety backup explicitly skipped; rollback will not be possible")
	} else {
		run.AppendLog("info", "taking pre-restore safety backup")
		sm, _, err := r.backup.Run(ctx, BackupOptions{
			Mode:     manifest.TypeFull,
			Metadata: map[string]string{"reason": "pre-restore", "restore_run": run.ID},
		})
		if err != nil {
			run.AppendLog("error", "safety backup failed: %v", err)
			return runs.StatusAborted, fmt.Errorf("safety backup failed, aborting before any mutation: %w", err)
		}
		safety = sm
		run.PreRestoreBackupRef = sm.ID
		run.AppendLog("info", "safety backup complete: manifest %s", sm.ID)
	}

	// -------- Restoring --------
	applyFiles := opts.Type == runs.RestoreFull || opts.Type == runs.RestoreFiles || opts.Type == runs.RestoreSelective
	applyDB := opts.Type == runs.RestoreFull || opts.Type == runs.RestoreDatabase

	if err := r.apply(ctx, run, m, inventory, applyFiles, applyDB); err != nil {
		run.AppendLog("error", "restore apply failed: %v", err)
		return r.failAndMaybeRollback(ctx, run, safety, err)
	}

	// -------- Verifying --------
	run.AppendLog("info", "verifying restored data")
	if err := r.verify(ctx, run, m, inventory, applyFiles, applyDB); err != nil {
		run.AppendLog("error", "verification failed: %v", err)
		r.metrics.verifyMismatches.Inc()
		return r.failAndMaybeRollback(ctx, run, safety, err)
	}

	run.Successful = true
	run.AppendLog("info", "restore completed: %d file(s), %d byte(s)", run.FilesRestored, run.BytesRestored)
	return runs.StatusCompleted, nil
}

// failAndMaybeRollback rolls back from the safety backup when one was
// taken. Without one, the run fails terminally with an explicit warning
// that no rollback is possible.
func (r *Restore) failAndMaybeRollback(ctx context.Context, run *runs.RestoreRun,
	safety *manifest.Manifest, cause error) (runs.Status, error) {

	if safety == nil {
		run.AppendLog("error", "no safety backup was taken: rollback is not possible, live state may be inconsistent")
		return runs.StatusFailed, cause
	}

	run.RollbackAttempted = true
	run.AppendLog("warn", "rolling back from safety backup %s", safety.ID)

	inventory, err := manifest.ResolveChain(safety, func(id string) (*manifest.Manifest, error) {
		return r.backup.LoadManifest(ctx, id)
	})
	if err == nil {
		err = r.apply(ctx, run, safety, inventory, true, safety.Database != nil)
	}
	if err != nil {
		rbErr := &RollbackError{Cause: cause, Err: err}
		run.AppendLog("error", "%v", rbErr)
		r.log.Error("rollback failed", "run", run.ID, "error", err.Error())
		return runs.StatusFailed, rbErr
	}

	run.AppendLog("info", "rollback complete; live state restored from safety backup")
	return runs.StatusRolledBack, cause
}

// apply fetches manifest entries from the backend and atomically replaces
// live files, then applies the database artifact. Cancellation is checked
// between files.
func (r *Restore) apply(ctx context.Context, run *runs.RestoreRun, m *manifest.Manifest,
	inventory []manifest.ResolvedEntry, applyFiles, applyDB bool) error {

	if applyFiles {
		for _, e := range inventory {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrCancelled, err)
			}
			if err := r.applyFile(ctx, e); err != nil {
				return err
			}
			run.FilesRestored++
			run.BytesRestored += e.Size
		}
		run.AppendLog("info", "applied %d file(s)", len(inventory))
	}

	if applyDB {
		if m.Database == nil {
			run.AppendLog("warn", "manifest has no database artifact; skipping database restore")
			return nil
		}
		if r.applier == nil {
			return fmt.Errorf("manifest references a database artifact but no database engine is configured")
		}
		if err := r.applyDatabase(ctx, m.Database); err != nil {
			return err
		}
		run.AppendLog("info", "applied database artifact %s", m.Database.ArtifactKey)
	}
	return nil
}

// applyFile replaces one live file via temp-write + rename, never
// truncating in place.
func (r *Restore) applyFile(ctx context.Context, e manifest.ResolvedEntry) error {
	dst := enumerate.AbsolutePath(r.roots, e.Path)
	if dst == "" {
		return fmt.Errorf("manifest path %q matches no configured storage root", e.Path)
	}

	rc, err := r.backend.Get(ctx, manifest.BlobKey(e.ManifestID, e.Path))
	if err != nil {
		return fmt.Errorf("fetch %s: %w", e.Path, err)
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create parent for %s: %w", e.Path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".restore-*")
	if err != nil {
		return fmt.Errorf("temp for %s: %w", e.Path, err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", e.Path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", e.Path, err)
	}
	if err := os.Chmod(tmpName, os.FileMode(e.Mode)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", e.Path, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", e.Path, err)
	}
	return nil
}

func (r *Restore) applyDatabase(ctx context.Context, info *manifest.DatabaseInfo) error {
	rc, err := r.backend.Get(ctx, info.ArtifactKey)
	if err != nil {
		return fmt.Errorf("fetch database artifact: %w", err)
	}
	defer rc.Close()

	codec, err := compress.ByName(info.Compression)
	if err != nil {
		return err
	}
	dec, err := codec.Decompress(rc)
	if err != nil {
		return fmt.Errorf("decompress database artifact: %w", err)
	}
	defer dec.Close()

	if err := r.applier.Apply(ctx, dec); err != nil {
		return fmt.Errorf("apply database artifact: %w", err)
	}
	return nil
}

// verify recomputes checksums of restored files against manifest entries
// and re-checks database row counts where the engine supports it.
func (r *Restore) verify(ctx context.Context, run *runs.RestoreRun, m *manifest.Manifest,
	inventory []manifest.ResolvedEntry, verifyFiles, verifyDB bool) error {

	if verifyFiles {
		for _, e := range inventory {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrCancelled, err)
			}
			dst := enumerate.AbsolutePath(r.roots, e.Path)
			digest, _, err := checksum.SumFile(m.Algorithm, dst)
			if err != nil {
				return fmt.Errorf("rehash %s: %w", e.Path, err)
			}
			if digest != e.Checksum {
				return &IntegrityError{Path: e.Path, Want: e.Checksum, Got: digest}
			}
		}
		run.AppendLog("info", "verified %d file checksum(s)", len(inventory))
	}

	if verifyDB && m.Database != nil && len(m.Database.RowCounts) > 0 {
		inspector, ok := r.applier.(dump.Inspector)
		if !ok {
			run.AppendLog("info", "database engine does not support row-count verification; skipped")
			return nil
		}
		counts, err := inspector.RowCounts(ctx)
		if err != nil {
			return fmt.Errorf("post-restore row counts: %w", err)
		}
		for table, want := range m.Database.RowCounts {
			if got := counts[table]; got != want {
				return &IntegrityError{
					Path: "database/" + table,
					Want: fmt.Sprintf("%d rows", want),
					Got:  fmt.Sprintf("%d rows", got),
				}
			}
		}
		run.AppendLog("info", "verified row counts for %d table(s)", len(m.Database.RowCounts))
	}
	return nil
}

// loadManifest returns the decoded manifest and any expected validation
// failure as data; only unexpected conditions return an error.
func (r *Restore) loadManifest(ctx context.Context, id string) (*manifest.Manifest, *manifest.ValidationError, error) {
	rc, err := r.backend.Get(ctx, manifest.Key(id))
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, nil, fmt.Errorf("read manifest %s: %w", id, err)
	}
	m, err := manifest.Decode(data, manifest.FormatJSON)
	if err != nil {
		return nil, nil, err
	}
	if err := manifest.Validate(m); err != nil {
		if verr, ok := err.(*manifest.ValidationError); ok {
			return m, verr, nil
		}
		return nil, nil, err
	}
	return m, nil, nil
}

func (r *Restore) collectWarnings(m *manifest.Manifest) []string {
	var warnings []string
	if r.maxAge > 0 {
		if age := time.Since(m.CreatedAt); age > r.maxAge {
			warnings = append(warnings, fmt.Sprintf(
				"manifest is %s old (threshold %s)", age.Round(time.Hour), r.maxAge))
		}
	}
	if m.Type != manifest.TypeDatabase && m.FileCount == 0 {
		warnings = append(warnings, "manifest contains no file entries")
	}
	return warnings
}

// selectPaths restricts the inventory to a caller-supplied subset.
// Unknown paths are rejected, not silently skipped.
func selectPaths(inventory []manifest.ResolvedEntry, paths []string) ([]manifest.ResolvedEntry, error) {
	byPath := make(map[string]manifest.ResolvedEntry, len(inventory))
	for _, e := range inventory {
		byPath[e.Path] = e
	}

	var unknown []string
	var selected []manifest.ResolvedEntry
	for _, p := range paths {
		e, ok := byPath[p]
		if !ok {
			unknown = append(unknown, p)
			continue
		}
		selected = append(selected, e)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("selective restore: %d path(s) not in manifest: %v", len(unknown), unknown)
	}
	return selected, nil
}
