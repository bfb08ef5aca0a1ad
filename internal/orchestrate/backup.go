package orchestrate

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

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

// Backup drives one backup run end to end: mode selection, enumeration,
// streaming copy, manifest build and publication, run record transitions.
type Backup struct {
	log       logger.Logger
	backend   storage.Backend
	registry  *runs.Registry
	enum      *enumerate.Enumerator
	producer  dump.Producer
	algorithm string
	codecName string
	workers   int
	metrics   *Metrics
}

// NewBackup wires a backup orchestrator from its collaborators.
func NewBackup(cfg *config.Config, backend storage.Backend, registry *runs.Registry,
	producer dump.Producer, metrics *Metrics, log logger.Logger) *Backup {
	return &Backup{
		log:       log,
		backend:   backend,
		registry:  registry,
		enum:      enumerate.New(cfg.StorageRoots...),
		producer:  producer,
		algorithm: cfg.Checksum,
		codecName: cfg.Database.Compression,
		workers:   cfg.Workers,
		metrics:   metrics,
	}
}

// BackupOptions select the mode and carry caller-supplied metadata.
type BackupOptions struct {
	Mode     manifest.Type
	Metadata map[string]string
}

// Run executes one backup. A second invocation while one is running fails
// with runs.ErrConcurrentOperation. On any fatal error the run record is
// Failed with the error preserved verbatim and no manifest is published;
// blobs copied before the failure are orphaned, never referenced.
func (b *Backup) Run(ctx context.Context, opts BackupOptions) (*manifest.Manifest, *runs.BackupRun, error) {
	if active, err := b.registry.ActiveKinds(ctx); err == nil && active[runs.KindRestore] {
		b.log.Warn("a restore is active; backing up live data during a restore is unsafe")
	}

	mode := opts.Mode
	if mode == "" {
		mode = manifest.TypeFull
	}

	// An incremental with no completed parent is promoted to full. Logged,
	// never hidden.
	var parent *manifest.Manifest
	var parentRunID string
	if mode == manifest.TypeIncremental {
		parentRun, err := b.registry.LatestCompletedBackup(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("find parent run: %w", err)
		}
		if parentRun == nil {
			b.log.Warn("incremental requested but no completed backup exists; promoting to full")
			mode = manifest.TypeFull
		} else {
			parent, err = b.LoadManifest(ctx, parentRun.ManifestID)
			if err != nil {
				b.log.Warn("incremental requested but parent manifest unusable; promoting to full",
					"manifest", parentRun.ManifestID, "error", err.Error())
				mode = manifest.TypeFull
				parent = nil
			} else {
				parentRunID = parentRun.ID
			}
		}
	}

	run, err := b.registry.AcquireBackup(ctx, string(mode), parentRunID)
	if err != nil {
		return nil, nil, err
	}
	b.metrics.backupsStarted.Inc()
	b.log.Info("backup started", "run", run.ID, "mode", mode)

	m, err := b.execute(ctx, run, mode, parent, opts.Metadata)
	if err != nil {
		b.metrics.backupsFailed.Inc()
		if ferr := b.registry.FailBackup(ctx, run, err); ferr != nil {
			b.log.Error("record backup failure", "run", run.ID, "error", ferr.Error())
		}
		b.log.Error("backup failed", "run", run.ID, "error", err.Error())
		return nil, run, err
	}

	run.ManifestID = m.ID
	if err := b.registry.CompleteBackup(ctx, run); err != nil {
		return nil, run, fmt.Errorf("record backup completion: %w", err)
	}
	b.metrics.backupsCompleted.Inc()
	b.log.Info("backup completed", "run", run.ID, "manifest", m.ID,
		"files", run.FilesBackedUp, "bytes", run.TotalSize)
	return m, run, nil
}

func (b *Backup) execute(ctx context.Context, run *runs.BackupRun, mode manifest.Type,
	parent *manifest.Manifest, metadata map[string]string) (*manifest.Manifest, error) {

	backupID := uuid.NewString()

	var inventory []manifest.FileEntry
	var copied int
	var copiedBytes int64

	if mode != manifest.TypeDatabase {
		entries, err := b.enum.Collect(ctx)
		if err != nil {
			return nil, fmt.Errorf("enumerate storage roots: %w", err)
		}

		switch mode {
		case manifest.TypeFull:
			// Single pass: checksum computed while streaming the copy.
			inventory, copiedBytes, err = b.copyFiles(ctx, backupID, entries)
			if err != nil {
				return nil, err
			}
			copied = len(inventory)

		case manifest.TypeIncremental:
			inventory, copied, copiedBytes, err = b.copyIncremental(ctx, backupID, entries, parent)
			if err != nil {
				return nil, err
			}
		}
	}

	var dbInfo *manifest.DatabaseInfo
	if b.producer != nil {
		info, err := b.copyDatabase(ctx, backupID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseDump, err)
		}
		dbInfo = info
	} else if mode == manifest.TypeDatabase {
		return nil, fmt.Errorf("%w: no database engine configured", ErrDatabaseDump)
	}

	buildOpts := manifest.BuildOptions{
		ID:        backupID,
		Type:      mode,
		Algorithm: b.algorithm,
		Files:     inventory,
		Database:  dbInfo,
		Parent:    parent,
		Metadata:  metadata,
	}

	var m *manifest.Manifest
	var err error
	if mode == manifest.TypeIncremental {
		parentInventory, rerr := b.resolveInventory(ctx, parent)
		if rerr != nil {
			return nil, rerr
		}
		m, err = manifest.BuildIncremental(buildOpts, parent, parentInventory)
	} else {
		m, err = manifest.Build(buildOpts)
	}
	if err != nil {
		return nil, err
	}

	// Every blob is durably stored before the manifest is published.
	data, err := manifest.Encode(m, manifest.FormatJSON)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := b.backend.Put(ctx, manifest.Key(m.ID), readerOf(data)); err != nil {
		return nil, fmt.Errorf("store manifest: %w", err)
	}

	run.FilesBackedUp = copied
	run.TotalSize = copiedBytes
	return m, nil
}

// copyIncremental hashes the current inventory, diffs it against the
// parent chain's resolved inventory, and copies only added and modified
// files. Unchanged files keep their freshly computed checksums; copied
// files carry the checksum computed while streaming, so a manifest entry
// always matches its stored blob.
func (b *Backup) copyIncremental(ctx context.Context, backupID string,
	entries []enumerate.Entry, parent *manifest.Manifest) ([]manifest.FileEntry, int, int64, error) {

	current, err := b.hashEntries(ctx, entries)
	if err != nil {
		return nil, 0, 0, err
	}

	parentInventory, err := b.resolveInventory(ctx, parent)
	if err != nil {
		return nil, 0, 0, err
	}

	diff := checksum.Diff(toItems(parentInventory), toItems(current))
	changed := make(map[string]bool, len(diff.Added)+len(diff.Modified))
	for _, it := range diff.Added {
		changed[it.Path] = true
	}
	for _, it := range diff.Modified {
		changed[it.Path] = true
	}

	var toCopy []enumerate.Entry
	for _, e := range entries {
		if changed[e.Path] {
			toCopy = append(toCopy, e)
		}
	}

	copiedEntries, copiedBytes, err := b.copyFiles(ctx, backupID, toCopy)
	if err != nil {
		return nil, 0, 0, err
	}

	// Splice copy-time checksums over the pre-hash inventory.
	byPath := make(map[string]manifest.FileEntry, len(copiedEntries))
	for _, e := range copiedEntries {
		byPath[e.Path] = e
	}
	for i := range current {
		if e, ok := byPath[current[i].Path]; ok {
			current[i] = e
		}
	}
	return current, len(copiedEntries), copiedBytes, nil
}

// hashEntries computes checksums for an enumerated inventory with a
// bounded worker pool. Size and mtime equality are never trusted as proof
// of content equality; every file is hashed.
func (b *Backup) hashEntries(ctx context.Context, entries []enumerate.Entry) ([]manifest.FileEntry, error) {
	out := make([]manifest.FileEntry, len(entries))
	roots := b.enum

	var wg sync.WaitGroup
	sem := make(chan struct{}, b.workers)
	var firstErr error
	var errOnce sync.Once

	for i := range entries {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			select {
			case <-ctx.Done():
				errOnce.Do(func() { firstErr = fmt.Errorf("%w: %v", ErrCancelled, ctx.Err()) })
				return
			default:
			}

			e := entries[idx]
			abs := roots.Abs(e.Path)
			digest, _, err := checksum.SumFile(b.algorithm, abs)
			if err != nil {
				errOnce.Do(func() { firstErr = fmt.Errorf("hash %s: %w", e.Path, err) })
				return
			}
			out[idx] = manifest.FileEntry{
				Path:     e.Path,
				Size:     e.Size,
				Modified: e.ModTime,
				Checksum: digest,
				Mode:     uint32(e.Mode),
			}
		}(i)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// copyFiles streams each file to the backend with a bounded worker pool,
// computing its checksum in the same pass (a file is never read twice).
// Any copy failure aborts the whole run.
func (b *Backup) copyFiles(ctx context.Context, backupID string, entries []enumerate.Entry) ([]manifest.FileEntry, int64, error) {
	out := make([]manifest.FileEntry, len(entries))

	var wg sync.WaitGroup
	sem := make(chan struct{}, b.workers)
	var firstErr error
	var errOnce sync.Once
	var failed atomic.Bool
	var mu sync.Mutex
	var totalBytes int64

	for i := range entries {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			// Cancellation is checked between files, never mid-write.
			select {
			case <-ctx.Done():
				errOnce.Do(func() {
					firstErr = fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
					failed.Store(true)
				})
				return
			default:
			}
			if failed.Load() {
				return
			}

			e := entries[idx]
			entry, n, err := b.copyOne(ctx, backupID, e)
			if err != nil {
				errOnce.Do(func() {
					firstErr = err
					failed.Store(true)
				})
				return
			}
			out[idx] = entry
			mu.Lock()
			totalBytes += n
			mu.Unlock()
			b.metrics.filesCopied.Inc()
			b.metrics.bytesCopied.Add(float64(n))
		}(i)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, 0, firstErr
	}
	return out, totalBytes, nil
}

func (b *Backup) copyOne(ctx context.Context, backupID string, e enumerate.Entry) (manifest.FileEntry, int64, error) {
	abs := b.enum.Abs(e.Path)
	f, err := os.Open(abs)
	if err != nil {
		return manifest.FileEntry{}, 0, fmt.Errorf("open %s: %w", e.Path, err)
	}
	defer f.Close()

	h, err := checksum.New(b.algorithm)
	if err != nil {
		return manifest.FileEntry{}, 0, err
	}
	counter := &countingWriter{}
	tee := io.TeeReader(f, io.MultiWriter(h, counter))

	if err := b.backend.Put(ctx, manifest.BlobKey(backupID, e.Path), tee); err != nil {
		return manifest.FileEntry{}, 0, fmt.Errorf("store %s: %w", e.Path, err)
	}

	return manifest.FileEntry{
		Path:     e.Path,
		Size:     counter.n,
		Modified: e.ModTime,
		Checksum: hex.EncodeToString(h.Sum(nil)),
		Mode:     uint32(e.Mode),
	}, counter.n, nil
}

// copyDatabase streams the dump through the configured compression codec
// to the backend, hashing the stored artifact in the same pass.
func (b *Backup) copyDatabase(ctx context.Context, backupID string) (*manifest.DatabaseInfo, error) {
	dumpStream, info, err := b.producer.Dump(ctx)
	if err != nil {
		return nil, err
	}

	codec, err := compress.ByName(b.codecName)
	if err != nil {
		dumpStream.Close()
		return nil, err
	}

	key := manifest.BlobKey(backupID, "database/"+info.Engine+".sql"+compress.Extension(codec.Name()))

	pr, pw := io.Pipe()
	go func() {
		cw, err := codec.Compress(pw)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(cw, dumpStream); err != nil {
			cw.Close()
			pw.CloseWithError(err)
			return
		}
		if err := cw.Close(); err != nil {
			pw.CloseWithError(err)
			return
		}
		// A dump process that died mid-stream surfaces here.
		pw.CloseWithError(dumpStream.Close())
	}()

	h, err := checksum.New(b.algorithm)
	if err != nil {
		pr.Close()
		return nil, err
	}
	counter := &countingWriter{}
	tee := io.TeeReader(pr, io.MultiWriter(h, counter))

	if err := b.backend.Put(ctx, key, tee); err != nil {
		pr.Close()
		return nil, fmt.Errorf("store database artifact: %w", err)
	}

	return &manifest.DatabaseInfo{
		Engine:      info.Engine,
		ArtifactKey: key,
		Size:        counter.n,
		Checksum:    hex.EncodeToString(h.Sum(nil)),
		Compression: codec.Name(),
		RowCounts:   info.RowCounts,
	}, nil
}

// LoadManifest fetches, decodes and validates a stored manifest. A
// manifest is never trusted before Validate passes.
func (b *Backup) LoadManifest(ctx context.Context, id string) (*manifest.Manifest, error) {
	rc, err := b.backend.Get(ctx, manifest.Key(id))
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", id, err)
	}
	m, err := manifest.Decode(data, manifest.FormatJSON)
	if err != nil {
		return nil, err
	}
	if err := manifest.Validate(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (b *Backup) resolveInventory(ctx context.Context, m *manifest.Manifest) ([]manifest.FileEntry, error) {
	resolved, err := manifest.ResolveChain(m, func(id string) (*manifest.Manifest, error) {
		return b.LoadManifest(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return manifest.ResolvedFileEntries(resolved), nil
}

func toItems(entries []manifest.FileEntry) []checksum.Item {
	items := make([]checksum.Item, 0, len(entries))
	for _, f := range entries {
		items = append(items, checksum.Item{Path: f.Path, Size: f.Size, Digest: f.Checksum})
	}
	return items
}

func readerOf(data []byte) io.Reader {
	return bytes.NewReader(data)
}

type countingWriter struct {
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}
