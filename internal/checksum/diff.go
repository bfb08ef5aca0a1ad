package checksum

import "sort"

// Item is one file in an inventory, keyed by its relative path.
type Item struct {
	Path   string
	Size   int64
	Digest string
}

// DiffResult is the set difference between two inventories.
type DiffResult struct {
	Added     []Item // present in target only
	Modified  []Item // present in both, checksum or size differs (target version)
	Deleted   []Item // present in base only
	Unchanged []Item // present in both, identical
}

// Diff computes the set difference between a base and a target inventory.
// Membership is keyed by path. A file is modified iff the path matches but
// the digest or size differs; digest equality alone decides content
// equality, never timestamps. Results are sorted by path.
func Diff(base, target []Item) DiffResult {
	baseIndex := make(map[string]Item, len(base))
	for _, it := range base {
		baseIndex[it.Path] = it
	}

	var res DiffResult
	seen := make(map[string]struct{}, len(target))
	for _, it := range target {
		seen[it.Path] = struct{}{}
		prev, ok := baseIndex[it.Path]
		switch {
		case !ok:
			res.Added = append(res.Added, it)
		case prev.Digest != it.Digest || prev.Size != it.Size:
			res.Modified = append(res.Modified, it)
		default:
			res.Unchanged = append(res.Unchanged, it)
		}
	}
	for _, it := range base {
		if _, ok := seen[it.Path]; !ok {
			res.Deleted = append(res.Deleted, it)
		}
	}

	sortItems(res.Added)
	sortItems(res.Modified)
	sortItems(res.Deleted)
	sortItems(res.Unchanged)
	return res
}

func sortItems(items []Item) {
	sort.Slice(items, func(i, j int) bool { return items[i].Path < items[j].Path })
}
