package manifest

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(manifests ...*Manifest) Lookup {
	byID := make(map[string]*Manifest, len(manifests))
	for _, m := range manifests {
		byID[m.ID] = m
	}
	return func(id string) (*Manifest, error) {
		m, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("manifest %s not found", id)
		}
		return m, nil
	}
}

func TestResolveChain_FullOnly(t *testing.T) {
	full := validManifest(t)

	resolved, err := ResolveChain(full, mapLookup())
	require.NoError(t, err)
	require.Len(t, resolved, 3)
	for _, e := range resolved {
		assert.Equal(t, full.ID, e.ManifestID)
	}
}

func TestResolveChain_TwoGenerations(t *testing.T) {
	full := validManifest(t)

	current := photoEntries()
	current[0].Checksum = testDigest("d") // photo1 modified
	inc, err := BuildIncremental(BuildOptions{Algorithm: "sha256", Files: current}, full, full.Files)
	require.NoError(t, err)

	resolved, err := ResolveChain(inc, mapLookup(full))
	require.NoError(t, err)
	require.Len(t, resolved, 3)

	byPath := make(map[string]ResolvedEntry)
	for _, e := range resolved {
		byPath[e.Path] = e
	}
	// Modified file comes from the incremental, the rest from the full.
	assert.Equal(t, inc.ID, byPath["events/wedding/photo1.jpg"].ManifestID)
	assert.Equal(t, testDigest("d"), byPath["events/wedding/photo1.jpg"].Checksum)
	assert.Equal(t, full.ID, byPath["events/wedding/photo2.jpg"].ManifestID)
	assert.Equal(t, full.ID, byPath["thumbnails/photo1.jpg"].ManifestID)
}

func TestResolveChain_DeepChainMasksDeletes(t *testing.T) {
	full := validManifest(t)

	// Generation 2: delete the thumbnail.
	gen2Files := photoEntries()[:2]
	gen2, err := BuildIncremental(BuildOptions{Algorithm: "sha256", Files: gen2Files}, full, full.Files)
	require.NoError(t, err)
	require.Equal(t, []string{"thumbnails/photo1.jpg"}, gen2.DeletedPaths)

	// Generation 3: add a new photo on top of gen2.
	gen2Resolved, err := ResolveChain(gen2, mapLookup(full))
	require.NoError(t, err)
	gen3Files := append(ResolvedFileEntries(gen2Resolved),
		FileEntry{Path: "events/gala/photo9.jpg", Size: 128, Checksum: testDigest("e")})
	gen3, err := BuildIncremental(BuildOptions{Algorithm: "sha256", Files: gen3Files},
		gen2, ResolvedFileEntries(gen2Resolved))
	require.NoError(t, err)

	resolved, err := ResolveChain(gen3, mapLookup(full, gen2))
	require.NoError(t, err)

	paths := make([]string, len(resolved))
	for i, e := range resolved {
		paths[i] = e.Path
	}
	assert.Equal(t, []string{
		"events/gala/photo9.jpg",
		"events/wedding/photo1.jpg",
		"events/wedding/photo2.jpg",
	}, paths)

	depth, err := ChainDepth(gen3, mapLookup(full, gen2))
	require.NoError(t, err)
	assert.Equal(t, 3, depth)
}

func TestResolveChain_MissingParent(t *testing.T) {
	full := validManifest(t)
	inc, err := BuildIncremental(BuildOptions{Algorithm: "sha256", Files: photoEntries()}, full, full.Files)
	require.NoError(t, err)

	_, err = ResolveChain(inc, mapLookup()) // parent unavailable
	assert.ErrorIs(t, err, ErrBrokenChain)
}

func TestResolveChain_DatabaseAnchorRejected(t *testing.T) {
	full := validManifest(t)
	inc, err := BuildIncremental(BuildOptions{Algorithm: "sha256", Files: photoEntries()}, full, full.Files)
	require.NoError(t, err)

	dbOnly, err := Build(BuildOptions{Type: TypeDatabase, Algorithm: "sha256", Database: &DatabaseInfo{
		Engine:      "postgres",
		ArtifactKey: "blobs/db1/database/postgres.sql",
		Size:        512,
		Checksum:    testDigest("f"),
	}})
	require.NoError(t, err)

	// Repoint the chain at the database-only manifest: it has no file
	// inventory and cannot anchor anything.
	inc.ParentID = dbOnly.ID

	_, err = ResolveChain(inc, mapLookup(full, dbOnly))
	assert.ErrorIs(t, err, ErrBrokenChain)
}

func TestResolveChain_CycleDetected(t *testing.T) {
	full := validManifest(t)
	inc, err := BuildIncremental(BuildOptions{Algorithm: "sha256", Files: photoEntries()}, full, full.Files)
	require.NoError(t, err)

	// Corrupt the chain so the incremental is its own ancestor.
	inc.ParentID = inc.ID

	_, err = ResolveChain(inc, mapLookup(full, inc))
	assert.ErrorIs(t, err, ErrBrokenChain)
}
