package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validManifest(t *testing.T) *Manifest {
	t.Helper()
	m, err := Build(BuildOptions{Type: TypeFull, Algorithm: "sha256", Files: photoEntries()})
	require.NoError(t, err)
	return m
}

func violations(t *testing.T, m *Manifest) []string {
	t.Helper()
	err := Validate(m)
	require.Error(t, err)
	verr, ok := err.(*ValidationError)
	require.True(t, ok, "expected *ValidationError, got %T", err)
	return verr.Violations
}

func TestValidate_TamperedEntryChecksum(t *testing.T) {
	m := validManifest(t)
	m.Files[0].Checksum = testDigest("f")

	// The entry is well formed hex, so only the aggregate catches it.
	assert.Contains(t, violations(t, m), "aggregate checksum mismatch")
}

func TestValidate_WrongTotals(t *testing.T) {
	m := validManifest(t)
	m.FileCount = 99
	m.TotalSize = 1

	got := violations(t, m)
	assert.Contains(t, got, "file_count 99 does not match 3 entries")
	assert.Contains(t, got, "total_size 1 does not match entry sum 6144")
}

func TestValidate_CollectsAllViolations(t *testing.T) {
	m := validManifest(t)
	m.Version = "9.9"
	m.Type = "weekly"
	m.FileCount = 0
	m.Files[0].Checksum = "deadbeef" // malformed length

	got := violations(t, m)
	assert.GreaterOrEqual(t, len(got), 4)
}

func TestValidate_UnsupportedVersion(t *testing.T) {
	m := validManifest(t)
	m.Version = "2.0"
	assert.Contains(t, violations(t, m), `unsupported schema version "2.0"`)
}

func TestValidate_IncrementalParentRules(t *testing.T) {
	m := validManifest(t)
	m.ParentID = "some-parent"
	assert.Contains(t, violations(t, m), "non-incremental manifest has a parent id")

	m = validManifest(t)
	m.DeletedPaths = []string{"gone.jpg"}
	assert.Contains(t, violations(t, m), "non-incremental manifest lists deleted paths")
}

func TestValidate_OlderSupportedVersion(t *testing.T) {
	m := validManifest(t)
	m.Version = "1.0"
	// Reseal so the aggregate matches the edited body.
	require.NoError(t, seal(m))
	require.NoError(t, Validate(m))
}
