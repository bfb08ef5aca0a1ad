package orchestrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/the-luap/picpeak-backup/internal/logger"
	"github.com/the-luap/picpeak-backup/internal/manifest"
	"github.com/the-luap/picpeak-backup/internal/runs"
	"github.com/the-luap/picpeak-backup/internal/storage"
)

// GCResult summarizes one garbage collection pass.
type GCResult struct {
	Manifests    int
	BlobsScanned int
	BlobsDeleted int
}

// GarbageCollect deletes blobs whose manifest no longer exists. A failed
// backup leaves orphaned blobs behind; this reclaims them. It refuses to
// run while a backup is active, since in-flight blobs look orphaned until
// their manifest is published.
func GarbageCollect(ctx context.Context, backend storage.Backend, registry *runs.Registry, log logger.Logger) (*GCResult, error) {
	if active, err := registry.ActiveKinds(ctx); err != nil {
		return nil, err
	} else if active[runs.KindBackup] {
		return nil, fmt.Errorf("%w: backup (gc would delete in-flight blobs)", runs.ErrConcurrentOperation)
	}

	manifestKeys, err := backend.List(ctx, manifest.KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}
	referenced := make(map[string]bool, len(manifestKeys))
	for _, key := range manifestKeys {
		id := strings.TrimSuffix(strings.TrimPrefix(key, manifest.KeyPrefix), ".json")
		referenced[id] = true
	}

	blobKeys, err := backend.List(ctx, manifest.BlobPrefix)
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}

	result := &GCResult{Manifests: len(manifestKeys), BlobsScanned: len(blobKeys)}
	for _, key := range blobKeys {
		rest := strings.TrimPrefix(key, manifest.BlobPrefix)
		id, _, ok := strings.Cut(rest, "/")
		if !ok || referenced[id] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		if err := backend.Delete(ctx, key); err != nil {
			return result, fmt.Errorf("delete orphaned blob %s: %w", key, err)
		}
		result.BlobsDeleted++
		log.Debug("deleted orphaned blob", "key", key)
	}

	log.Info("garbage collection complete",
		"manifests", result.Manifests,
		"blobs_scanned", result.BlobsScanned,
		"blobs_deleted", result.BlobsDeleted)
	return result, nil
}
