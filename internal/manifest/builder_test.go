package manifest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDigest(seed string) string {
	return strings.Repeat(seed, 64/len(seed))
}

func photoEntries() []FileEntry {
	return []FileEntry{
		{Path: "events/wedding/photo1.jpg", Size: 1024, Checksum: testDigest("a")},
		{Path: "events/wedding/photo2.jpg", Size: 2048, Checksum: testDigest("b")},
		{Path: "thumbnails/photo1.jpg", Size: 3072, Checksum: testDigest("c")},
	}
}

func TestBuild_FullManifest(t *testing.T) {
	m, err := Build(BuildOptions{
		Type:      TypeFull,
		Algorithm: "sha256",
		Files:     photoEntries(),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, m.ID)
	assert.Equal(t, SchemaVersion, m.Version)
	assert.Equal(t, TypeFull, m.Type)
	assert.Equal(t, 3, m.FileCount)
	assert.Equal(t, int64(6144), m.TotalSize)
	assert.Empty(t, m.ParentID)
	assert.Empty(t, m.DeletedPaths)
	assert.NotEmpty(t, m.Verification.TotalChecksum)

	// A freshly built manifest validates.
	require.NoError(t, Validate(m))
}

func TestBuild_SortsEntriesByPath(t *testing.T) {
	files := []FileEntry{
		{Path: "z.jpg", Size: 1, Checksum: testDigest("a")},
		{Path: "a.jpg", Size: 1, Checksum: testDigest("b")},
	}
	m, err := Build(BuildOptions{Type: TypeFull, Algorithm: "sha256", Files: files})
	require.NoError(t, err)

	assert.Equal(t, "a.jpg", m.Files[0].Path)
	assert.Equal(t, "z.jpg", m.Files[1].Path)
}

func TestBuild_ZeroFilesIsValid(t *testing.T) {
	m, err := Build(BuildOptions{Type: TypeFull, Algorithm: "sha256"})
	require.NoError(t, err)

	assert.Equal(t, 0, m.FileCount)
	assert.Equal(t, int64(0), m.TotalSize)
	require.NoError(t, Validate(m))
}

func TestBuild_Rejections(t *testing.T) {
	_, err := Build(BuildOptions{Type: "weekly", Algorithm: "sha256"})
	assert.ErrorIs(t, err, ErrBuild)

	_, err = Build(BuildOptions{Type: TypeFull, Algorithm: "crc32"})
	assert.ErrorIs(t, err, ErrBuild)

	_, err = Build(BuildOptions{Type: TypeIncremental, Algorithm: "sha256"})
	assert.ErrorIs(t, err, ErrBuild)

	_, err = Build(BuildOptions{
		Type:      TypeFull,
		Algorithm: "sha256",
		Files:     []FileEntry{{Path: "x.jpg", Size: 1}},
	})
	assert.ErrorIs(t, err, ErrBuild)
}

func TestBuild_RejectsAlgorithmMixing(t *testing.T) {
	parent, err := Build(BuildOptions{Type: TypeFull, Algorithm: "sha256", Files: photoEntries()})
	require.NoError(t, err)

	parent.Algorithm = "sha512" // simulate a chain built with another algorithm
	_, err = Build(BuildOptions{
		Type:      TypeIncremental,
		Algorithm: "sha256",
		Parent:    parent,
	})
	assert.ErrorIs(t, err, ErrBuild)
}

func TestBuildIncremental_ModifiedFileOnly(t *testing.T) {
	parent, err := Build(BuildOptions{Type: TypeFull, Algorithm: "sha256", Files: photoEntries()})
	require.NoError(t, err)

	current := photoEntries()
	current[1].Checksum = testDigest("d") // photo2 changed content
	m, err := BuildIncremental(BuildOptions{
		Algorithm: "sha256",
		Files:     current,
	}, parent, parent.Files)
	require.NoError(t, err)

	assert.Equal(t, TypeIncremental, m.Type)
	assert.Equal(t, parent.ID, m.ParentID)
	assert.Equal(t, 1, m.FileCount)
	assert.Equal(t, "events/wedding/photo2.jpg", m.Files[0].Path)
	assert.Empty(t, m.DeletedPaths)
	assert.Equal(t, int64(0), m.SizeDelta) // same size, new content
	require.NoError(t, Validate(m))
}

func TestBuildIncremental_AddsDeletesAndDelta(t *testing.T) {
	parent, err := Build(BuildOptions{Type: TypeFull, Algorithm: "sha256", Files: photoEntries()})
	require.NoError(t, err)

	current := []FileEntry{
		photoEntries()[0],
		photoEntries()[1],
		{Path: "events/wedding/photo3.jpg", Size: 512, Checksum: testDigest("e")},
	}
	m, err := BuildIncremental(BuildOptions{
		Algorithm: "sha256",
		Files:     current,
	}, parent, parent.Files)
	require.NoError(t, err)

	assert.Equal(t, 1, m.FileCount)
	assert.Equal(t, "events/wedding/photo3.jpg", m.Files[0].Path)
	assert.Equal(t, []string{"thumbnails/photo1.jpg"}, m.DeletedPaths)
	assert.Equal(t, int64(512), m.SizeDelta)
	require.NoError(t, Validate(m))
}

func TestBuildIncremental_NoChanges(t *testing.T) {
	parent, err := Build(BuildOptions{Type: TypeFull, Algorithm: "sha256", Files: photoEntries()})
	require.NoError(t, err)

	m, err := BuildIncremental(BuildOptions{
		Algorithm: "sha256",
		Files:     photoEntries(),
	}, parent, parent.Files)
	require.NoError(t, err)

	assert.Equal(t, 0, m.FileCount)
	assert.Empty(t, m.DeletedPaths)
	assert.Equal(t, int64(0), m.SizeDelta)
	require.NoError(t, Validate(m))
}
