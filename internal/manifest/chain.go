package manifest

import (
	"errors"
	"fmt"
	"sort"
)

// ErrBrokenChain indicates an incremental chain that cannot be resolved:
// a missing parent, a cycle, or a chain not anchored at a full backup.
var ErrBrokenChain = errors.New("incremental chain is broken")

// Lookup loads a manifest by ID. Implemented by the orchestrators over
// the storage backend.
type Lookup func(id string) (*Manifest, error)

// ResolvedEntry is a file entry annotated with the manifest that owns its
// stored blob. Incremental chains reference blobs across generations.
type ResolvedEntry struct {
	FileEntry
	ManifestID string
}

// ResolveChain walks m's parent chain to its full anchor and overlays each
// generation's entries, masking deleted paths at every hop. The result is
// the complete file inventory the manifest represents, sorted by path.
// Chains may be arbitrarily deep; a cycle or a chain that does not
// terminate at a full manifest is an error.
func ResolveChain(m *Manifest, lookup Lookup) ([]ResolvedEntry, error) {
	chain, err := collectChain(m, lookup)
	if err != nil {
		return nil, err
	}

	// Oldest first: the full anchor, then each incremental layer.
	inventory := make(map[string]ResolvedEntry)
	for i := len(chain) - 1; i >= 0; i-- {
		gen := chain[i]
		for _, p := range gen.DeletedPaths {
			delete(inventory, p)
		}
		for _, f := range gen.Files {
			inventory[f.Path] = ResolvedEntry{FileEntry: f, ManifestID: gen.ID}
		}
	}

	out := make([]ResolvedEntry, 0, len(inventory))
	for _, e := range inventory {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// ChainDepth returns the number of manifests between m and its full
// anchor, inclusive of both. A full manifest has depth 1.
func ChainDepth(m *Manifest, lookup Lookup) (int, error) {
	chain, err := collectChain(m, lookup)
	if err != nil {
		return 0, err
	}
	return len(chain), nil
}

// collectChain returns the chain newest-first, ending at the full anchor.
// A chain anchored at anything but a full manifest is broken: a
// database-only backup carries no file inventory to overlay.
func collectChain(m *Manifest, lookup Lookup) ([]*Manifest, error) {
	var chain []*Manifest
	seen := make(map[string]struct{})

	cur := m
	for {
		if _, ok := seen[cur.ID]; ok {
			return nil, fmt.Errorf("%w: cycle at manifest %s", ErrBrokenChain, cur.ID)
		}
		seen[cur.ID] = struct{}{}
		chain = append(chain, cur)

		if cur.Type == TypeFull {
			return chain, nil
		}
		if cur.Type != TypeIncremental {
			return nil, fmt.Errorf("%w: anchored at %s manifest %s, not a full backup",
				ErrBrokenChain, cur.Type, cur.ID)
		}
		if cur.ParentID == "" {
			return nil, fmt.Errorf("%w: incremental manifest %s has no parent", ErrBrokenChain, cur.ID)
		}
		parent, err := lookup(cur.ParentID)
		if err != nil {
			return nil, fmt.Errorf("%w: load parent %s of %s: %v", ErrBrokenChain, cur.ParentID, cur.ID, err)
		}
		cur = parent
	}
}

// ResolvedFileEntries strips origin annotations, returning plain entries.
func ResolvedFileEntries(resolved []ResolvedEntry) []FileEntry {
	entries := make([]FileEntry, len(resolved))
	for i, r := range resolved {
		entries[i] = r.FileEntry
	}
	return entries
}
