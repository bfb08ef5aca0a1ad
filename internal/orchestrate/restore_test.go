package orchestrate

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/the-luap/picpeak-backup/internal/checksum"
	"github.com/the-luap/picpeak-backup/internal/dump"
	"github.com/the-luap/picpeak-backup/internal/logger"
	"github.com/the-luap/picpeak-backup/internal/manifest"
	"github.com/the-luap/picpeak-backup/internal/runs"
)

func (f *fixture) newRestore(applier dump.Applier) *Restore {
	r := NewRestore(f.cfg, f.backend, f.registry, f.newBackup(nil), applier, f.metrics, logger.Global())
	r.availableBytes = func(string) (int64, error) { return 1 << 40, nil }
	return r
}

func (f *fixture) snapshot(t *testing.T) map[string]string {
	t.Helper()
	state := make(map[string]string)
	for _, root := range []string{f.photos, f.thumbs} {
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			require.NoError(t, err)
			if d.IsDir() {
				return nil
			}
			data, rerr := os.ReadFile(path)
			require.NoError(t, rerr)
			state[path] = string(data)
			return nil
		})
		require.NoError(t, err)
	}
	return state
}

func backupFixture(t *testing.T) (*fixture, *manifest.Manifest) {
	t.Helper()
	f := newFixture(t)
	f.write(t, f.photos, "events/wedding/p1.jpg", "photo one")
	f.write(t, f.photos, "p2.jpg", "photo two!")
	f.write(t, f.thumbs, "p1.jpg", "tiny")

	m, _, err := f.newBackup(nil).Run(context.Background(), BackupOptions{Mode: manifest.TypeFull})
	require.NoError(t, err)
	return f, m
}

func TestRestore_DryRunMutatesNothing(t *testing.T) {
	f, m := backupFixture(t)
	before := f.snapshot(t)

	manifestsBefore, err := f.backend.List(context.Background(), manifest.KeyPrefix)
	require.NoError(t, err)

	result, err := f.newRestore(nil).Run(context.Background(), RestoreOptions{
		ManifestID: m.ID,
		Type:       runs.RestoreFull,
		DryRun:     true,
	})
	require.NoError(t, err)

	assert.Equal(t, runs.StatusCompleted, result.Run.Status)
	assert.True(t, result.Run.DryRun)
	assert.Greater(t, result.Required, int64(0))
	assert.Equal(t, before, f.snapshot(t))

	// No safety backup was taken either.
	manifestsAfter, err := f.backend.List(context.Background(), manifest.KeyPrefix)
	require.NoError(t, err)
	assert.Equal(t, manifestsBefore, manifestsAfter)
}

func TestRestore_FullRoundTrip(t *testing.T) {
	f, m := backupFixture(t)

	// Live data drifts after the backup.
	require.NoError(t, os.Remove(filepath.Join(f.photos, "p2.jpg")))
	f.write(t, f.photos, "events/wedding/p1.jpg", "overwritten")

	result, err := f.newRestore(nil).Run(context.Background(), RestoreOptions{
		ManifestID: m.ID,
		Type:       runs.RestoreFull,
	})
	require.NoError(t, err)

	assert.Equal(t, runs.StatusCompleted, result.Run.Status)
	assert.True(t, result.Run.Successful)
	assert.Equal(t, 3, result.Run.FilesRestored)
	assert.NotEmpty(t, result.Run.PreRestoreBackupRef)
	assert.NotEmpty(t, result.Run.Log)

	got, err := os.ReadFile(filepath.Join(f.photos, "p2.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "photo two!", string(got))
	got, err = os.ReadFile(filepath.Join(f.photos, "events", "wedding", "p1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "photo one", string(got))

	// The safety backup captured the drifted state.
	safety, err := f.newBackup(nil).LoadManifest(context.Background(), result.Run.PreRestoreBackupRef)
	require.NoError(t, err)
	entry := safety.FindEntry("photos/events/wedding/p1.jpg")
	require.NotNil(t, entry)
	wantDigest, _, err := checksum.SumReader("sha256", strings.NewReader("overwritten"))
	require.NoError(t, err)
	assert.Equal(t, wantDigest, entry.Checksum)
}

func TestRestore_SelectivePaths(t *testing.T) {
	f, m := backupFixture(t)
	f.write(t, f.photos, "p2.jpg", "drifted")

	result, err := f.newRestore(nil).Run(context.Background(), RestoreOptions{
		ManifestID: m.ID,
		Type:       runs.RestoreSelective,
		Paths:      []string{"photos/p2.jpg"},
	})
	require.NoError(t, err)
	assert.Equal(t, runs.StatusCompleted, result.Run.Status)
	assert.Equal(t, 1, result.Run.FilesRestored)

	got, err := os.ReadFile(filepath.Join(f.photos, "p2.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "photo two!", string(got))
}

func TestRestore_SelectiveUnknownPathRejected(t *testing.T) {
	f, m := backupFixture(t)
	before := f.snapshot(t)

	result, err := f.newRestore(nil).Run(context.Background(), RestoreOptions{
		ManifestID: m.ID,
		Type:       runs.RestoreSelective,
		Paths:      []string{"photos/does-not-exist.jpg"},
	})
	require.Error(t, err)
	assert.Equal(t, runs.StatusAborted, result.Run.Status)
	assert.Equal(t, before, f.snapshot(t))
}

func TestRestore_InsufficientSpaceAlwaysFatal(t *testing.T) {
	f, m := backupFixture(t)
	before := f.snapshot(t)

	r := f.newRestore(nil)
	r.availableBytes = func(string) (int64, error) { return 10, nil }

	result, err := r.Run(context.Background(), RestoreOptions{
		ManifestID: m.ID,
		Type:       runs.RestoreFull,
		Force:      true, // force never overrides the space check
	})
	require.Error(t, err)

	var spaceErr *InsufficientSpaceError
	require.ErrorAs(t, err, &spaceErr)
	assert.Equal(t, int64(10), spaceErr.Available)
	assert.Equal(t, runs.StatusAborted, result.Run.Status)
	assert.Equal(t, before, f.snapshot(t))
}

func TestRestore_InvalidManifestAborts(t *testing.T) {
	f, m := backupFixture(t)

	// Tamper with the stored manifest.
	rc, err := f.backend.Get(context.Background(), manifest.Key(m.ID))
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	tampered := bytes.Replace(data, []byte(`"file_count": 3`), []byte(`"file_count": 9`), 1)
	require.NotEqual(t, data, tampered)
	require.NoError(t, f.backend.Put(context.Background(), manifest.Key(m.ID), bytes.NewReader(tampered)))

	result, err := f.newRestore(nil).Run(context.Background(), RestoreOptions{
		ManifestID: m.ID,
		Type:       runs.RestoreFull,
	})
	require.NoError(t, err) // expected failure: reported, not raised

	assert.Equal(t, runs.StatusAborted, result.Run.Status)
	require.NotNil(t, result.Validation)
	assert.NotEmpty(t, result.Validation.Violations)
}

func TestRestore_MissingManifest(t *testing.T) {
	f, _ := backupFixture(t)

	_, err := f.newRestore(nil).Run(context.Background(), RestoreOptions{
		ManifestID: "no-such-manifest",
		Type:       runs.RestoreFull,
	})
	require.Error(t, err)
}

func TestRestore_OldManifestFailsClosedWithoutForce(t *testing.T) {
	f, m := backupFixture(t)
	f.cfg.Restore.MaxManifestAge = time.Nanosecond
	before := f.snapshot(t)

	result, err := f.newRestore(nil).Run(context.Background(), RestoreOptions{
		ManifestID: m.ID,
		Type:       runs.RestoreFull,
	})
	require.NoError(t, err)
	assert.Equal(t, runs.StatusAborted, result.Run.Status)
	assert.NotEmpty(t, result.Warnings)
	assert.Equal(t, before, f.snapshot(t))

	// With --force the same restore proceeds.
	result, err = f.newRestore(nil).Run(context.Background(), RestoreOptions{
		ManifestID: m.ID,
		Type:       runs.RestoreFull,
		Force:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, runs.StatusCompleted, result.Run.Status)
}

func TestRestore_CorruptBlobRollsBack(t *testing.T) {
	f, m := backupFixture(t)

	// Live data drifts, then the stored blob is corrupted.
	f.write(t, f.photos, "p2.jpg", "live drifted content")
	require.NoError(t, f.backend.Put(context.Background(),
		manifest.BlobKey(m.ID, "photos/p2.jpg"), strings.NewReader("corrupted bytes")))

	result, err := f.newRestore(nil).Run(context.Background(), RestoreOptions{
		ManifestID: m.ID,
		Type:       runs.RestoreFull,
	})
	require.Error(t, err)

	var integrityErr *IntegrityError
	require.ErrorAs(t, err, &integrityErr)
	assert.Equal(t, "photos/p2.jpg", integrityErr.Path)

	assert.Equal(t, runs.StatusRolledBack, result.Run.Status)
	assert.True(t, result.Run.RollbackAttempted)
	assert.False(t, result.Run.Successful)

	// The rollback restored the pre-restore live state.
	got, rerr := os.ReadFile(filepath.Join(f.photos, "p2.jpg"))
	require.NoError(t, rerr)
	assert.Equal(t, "live drifted content", string(got))
}

func TestRestore_CorruptBlobWithoutSafetyBackupFails(t *testing.T) {
	f, m := backupFixture(t)
	require.NoError(t, f.backend.Put(context.Background(),
		manifest.BlobKey(m.ID, "photos/p2.jpg"), strings.NewReader("corrupted bytes")))

	result, err := f.newRestore(nil).Run(context.Background(), RestoreOptions{
		ManifestID:       m.ID,
		Type:             runs.RestoreFull,
		SkipSafetyBackup: true,
	})
	require.Error(t, err)
	assert.Equal(t, runs.StatusFailed, result.Run.Status)
	assert.False(t, result.Run.RollbackAttempted)
}

func TestRestore_ConcurrentRunRejected(t *testing.T) {
	f, m := backupFixture(t)

	_, err := f.registry.AcquireRestore(context.Background(), runs.RestoreFull, "local", "other", false)
	require.NoError(t, err)

	_, err = f.newRestore(nil).Run(context.Background(), RestoreOptions{
		ManifestID: m.ID,
		Type:       runs.RestoreFull,
	})
	assert.ErrorIs(t, err, runs.ErrConcurrentOperation)
}

// fakeApplier records what was applied and reports configurable counts.
type fakeApplier struct {
	applied string
	counts  map[string]int64
}

func (a *fakeApplier) Apply(ctx context.Context, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	a.applied = string(data)
	return nil
}

func (a *fakeApplier) RowCounts(ctx context.Context) (map[string]int64, error) {
	return a.counts, nil
}

func TestRestore_DatabaseArtifactApplied(t *testing.T) {
	f := newFixture(t)
	f.cfg.Database.Compression = "zstd"
	f.write(t, f.photos, "p1.jpg", "x")

	sql := "INSERT INTO photos VALUES (1);\n"
	m, _, err := f.newBackup(&fakeProducer{content: sql}).Run(context.Background(),
		BackupOptions{Mode: manifest.TypeFull})
	require.NoError(t, err)

	applier := &fakeApplier{counts: map[string]int64{"photos": 42}}
	result, err := f.newRestore(applier).Run(context.Background(), RestoreOptions{
		ManifestID:       m.ID,
		Type:             runs.RestoreDatabase,
		SkipSafetyBackup: true,
	})
	require.NoError(t, err)

	assert.Equal(t, runs.StatusCompleted, result.Run.Status)
	assert.Equal(t, sql, applier.applied) // decompressed before apply
}

func TestRestore_RowCountMismatchFails(t *testing.T) {
	f := newFixture(t)
	f.write(t, f.photos, "p1.jpg", "x")

	m, _, err := f.newBackup(&fakeProducer{content: "sql"}).Run(context.Background(),
		BackupOptions{Mode: manifest.TypeFull})
	require.NoError(t, err)

	applier := &fakeApplier{counts: map[string]int64{"photos": 7}} // manifest recorded 42
	result, err := f.newRestore(applier).Run(context.Background(), RestoreOptions{
		ManifestID:       m.ID,
		Type:             runs.RestoreDatabase,
		SkipSafetyBackup: true,
	})
	require.Error(t, err)

	var integrityErr *IntegrityError
	require.ErrorAs(t, err, &integrityErr)
	assert.Equal(t, runs.StatusFailed, result.Run.Status)
}
