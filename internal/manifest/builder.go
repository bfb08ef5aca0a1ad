package manifest

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/the-luap/picpeak-backup/internal/checksum"
)

// ErrBuild indicates malformed input to the manifest builder.
var ErrBuild = errors.New("manifest build failed")

// BuildOptions are the inputs to Build.
type BuildOptions struct {
	// ID is the manifest identifier. Generated when empty. Callers that
	// store blobs before building the manifest pass the ID they keyed
	// blobs under.
	ID        string
	Type      Type
	Algorithm string
	Files     []FileEntry
	Database  *DatabaseInfo
	// Parent is required when Type is TypeIncremental.
	Parent   *Manifest
	Metadata map[string]string
}

// Build assembles a finished manifest: derived totals, sorted entries and
// the aggregate checksum over the canonical body. The returned manifest
// validates immediately.
func Build(opts BuildOptions) (*Manifest, error) {
	if !opts.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown backup type %q", ErrBuild, opts.Type)
	}
	if !checksum.Supported(opts.Algorithm) {
		return nil, fmt.Errorf("%w: unsupported checksum algorithm %q", ErrBuild, opts.Algorithm)
	}
	if opts.Type == TypeIncremental && opts.Parent == nil {
		return nil, fmt.Errorf("%w: incremental backup requires a parent manifest", ErrBuild)
	}
	if opts.Parent != nil && opts.Parent.Algorithm != opts.Algorithm {
		return nil, fmt.Errorf("%w: checksum algorithm %q differs from parent chain algorithm %q",
			ErrBuild, opts.Algorithm, opts.Parent.Algorithm)
	}
	for _, f := range opts.Files {
		if f.Checksum == "" {
			return nil, fmt.Errorf("%w: file entry %q has no checksum", ErrBuild, f.Path)
		}
	}

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}

	files := make([]FileEntry, len(opts.Files))
	copy(files, opts.Files)
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	var total int64
	for _, f := range files {
		total += f.Size
	}

	m := &Manifest{
		ID:        id,
		Version:   SchemaVersion,
		CreatedAt: time.Now().UTC(),
		Type:      opts.Type,
		Algorithm: opts.Algorithm,
		FileCount: len(files),
		TotalSize: total,
		Files:     files,
		Database:  opts.Database,
		Metadata:  opts.Metadata,
	}
	if opts.Parent != nil {
		m.ParentID = opts.Parent.ID
	}

	if err := seal(m); err != nil {
		return nil, err
	}
	return m, nil
}

// BuildIncremental diffs the parent's resolved inventory against the newly
// enumerated inventory and embeds only added and modified entries; deleted
// paths populate DeletedPaths. parentInventory is the parent chain's
// resolved file set (the parent's own entries for a full parent).
func BuildIncremental(opts BuildOptions, parent *Manifest, parentInventory []FileEntry) (*Manifest, error) {
	if parent == nil {
		return nil, fmt.Errorf("%w: incremental backup requires a parent manifest", ErrBuild)
	}

	diff := checksum.Diff(toItems(parentInventory), toItems(opts.Files))

	target := make(map[string]FileEntry, len(opts.Files))
	for _, f := range opts.Files {
		target[f.Path] = f
	}
	parentSizes := make(map[string]int64, len(parentInventory))
	for _, f := range parentInventory {
		parentSizes[f.Path] = f.Size
	}

	var changed []FileEntry
	var delta int64
	for _, it := range diff.Added {
		changed = append(changed, target[it.Path])
		delta += it.Size
	}
	for _, it := range diff.Modified {
		changed = append(changed, target[it.Path])
		delta += it.Size - parentSizes[it.Path]
	}

	var deleted []string
	for _, it := range diff.Deleted {
		deleted = append(deleted, it.Path)
	}
	sort.Strings(deleted)

	opts.Type = TypeIncremental
	opts.Files = changed
	opts.Parent = parent

	m, err := Build(opts)
	if err != nil {
		return nil, err
	}
	m.DeletedPaths = deleted
	m.SizeDelta = delta
	// DeletedPaths and SizeDelta are part of the sealed body.
	if err := seal(m); err != nil {
		return nil, err
	}
	return m, nil
}

// seal computes the aggregate checksum over the canonical body and stamps
// the verification block.
func seal(m *Manifest) error {
	sum, err := aggregateChecksum(m)
	if err != nil {
		return err
	}
	m.Verification = Verification{
		TotalChecksum:      sum,
		IntegrityTimestamp: time.Now().UTC(),
	}
	return nil
}

// aggregateChecksum hashes the canonical serialization of every field
// except Verification.
func aggregateChecksum(m *Manifest) (string, error) {
	body := *m
	body.Verification = Verification{}

	data, err := json.Marshal(&body)
	if err != nil {
		return "", fmt.Errorf("canonicalize manifest: %w", err)
	}
	h, err := checksum.New(m.Algorithm)
	if err != nil {
		return "", err
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func toItems(entries []FileEntry) []checksum.Item {
	items := make([]checksum.Item, 0, len(entries))
	for _, f := range entries {
		items = append(items, checksum.Item{Path: f.Path, Size: f.Size, Digest: f.Checksum})
	}
	return items
}
