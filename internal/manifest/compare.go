package manifest

import "github.com/the-luap/picpeak-backup/internal/checksum"

// CompareResult describes the drift between two manifests' file sets.
type CompareResult struct {
	AddedFiles      []string
	ModifiedFiles   []string
	DeletedFiles    []string
	UnchangedFiles  []string
	DatabaseChanged bool
}

// Compare diffs manifest b against manifest a (a is the base). Used by
// operators and by restore validation to reason about drift between two
// points in time. Neither manifest is mutated.
func Compare(a, b *Manifest) CompareResult {
	diff := checksum.Diff(toItems(a.Files), toItems(b.Files))

	res := CompareResult{
		AddedFiles:     itemPaths(diff.Added),
		ModifiedFiles:  itemPaths(diff.Modified),
		DeletedFiles:   itemPaths(diff.Deleted),
		UnchangedFiles: itemPaths(diff.Unchanged),
	}

	switch {
	case a.Database == nil && b.Database == nil:
	case a.Database == nil || b.Database == nil:
		res.DatabaseChanged = true
	default:
		res.DatabaseChanged = a.Database.Checksum != b.Database.Checksum
	}
	return res
}

func itemPaths(items []checksum.Item) []string {
	if len(items) == 0 {
		return nil
	}
	paths := make([]string, len(items))
	for i, it := range items {
		paths[i] = it.Path
	}
	return paths
}
