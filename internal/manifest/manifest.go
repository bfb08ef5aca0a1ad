package manifest

import "time"

// Type tags a manifest with the kind of backup it describes.
type Type string

const (
	TypeFull        Type = "full"
	TypeIncremental Type = "incremental"
	TypeDatabase    Type = "database"
)

// Valid reports whether t is a known backup type.
func (t Type) Valid() bool {
	switch t {
	case TypeFull, TypeIncremental, TypeDatabase:
		return true
	}
	return false
}

// SchemaVersion is the manifest schema version written by this build.
const SchemaVersion = "1.1"

// supportedVersions are the schema versions this build can load.
var supportedVersions = map[string]bool{
	"1.0": true,
	"1.1": true,
}

// VersionSupported reports whether a manifest schema version can be loaded.
func VersionSupported(v string) bool {
	return supportedVersions[v]
}

// FileEntry describes one file included in a backup.
type FileEntry struct {
	Path     string    `json:"path" yaml:"path"` // relative, slash-separated
	Size     int64     `json:"size" yaml:"size"`
	Modified time.Time `json:"modified" yaml:"modified"`
	Checksum string    `json:"checksum" yaml:"checksum"`
	Mode     uint32    `json:"permissions" yaml:"permissions"`
}

// DatabaseInfo references the database dump artifact of a backup.
// ArtifactKey is a backend-relative locator, not embedded bytes.
type DatabaseInfo struct {
	Engine      string           `json:"type" yaml:"type"`
	ArtifactKey string           `json:"backup_file" yaml:"backup_file"`
	Size        int64            `json:"size" yaml:"size"`
	Checksum    string           `json:"checksum" yaml:"checksum"`
	Compression string           `json:"compression,omitempty" yaml:"compression,omitempty"`
	RowCounts   map[string]int64 `json:"row_counts,omitempty" yaml:"row_counts,omitempty"`
}

// Verification holds the aggregate checksum over the canonicalized
// manifest body (excluding this field itself).
type Verification struct {
	TotalChecksum      string    `json:"total_checksum" yaml:"total_checksum"`
	IntegrityTimestamp time.Time `json:"integrity_timestamp" yaml:"integrity_timestamp"`
}

// Manifest is the immutable record of one backup. Manifests are never
// mutated after Build; restores and comparisons work on copies.
type Manifest struct {
	ID        string    `json:"id" yaml:"id"`
	Version   string    `json:"version" yaml:"version"`
	CreatedAt time.Time `json:"created" yaml:"created"`
	Type      Type      `json:"type" yaml:"type"`
	ParentID  string    `json:"parent_backup_id,omitempty" yaml:"parent_backup_id,omitempty"`
	Algorithm string    `json:"checksum_algorithm" yaml:"checksum_algorithm"`

	FileCount    int         `json:"file_count" yaml:"file_count"`
	TotalSize    int64       `json:"total_size" yaml:"total_size"`
	Files        []FileEntry `json:"files" yaml:"files"`
	DeletedPaths []string    `json:"deleted_paths,omitempty" yaml:"deleted_paths,omitempty"`

	// SizeDelta is only set on incremental manifests: bytes added by this
	// backup relative to the resolved parent inventory.
	SizeDelta int64 `json:"size_delta,omitempty" yaml:"size_delta,omitempty"`

	Database *DatabaseInfo `json:"database,omitempty" yaml:"database,omitempty"`

	Verification Verification `json:"verification" yaml:"verification"`

	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// FindEntry returns the entry for path, or nil.
func (m *Manifest) FindEntry(path string) *FileEntry {
	for i := range m.Files {
		if m.Files[i].Path == path {
			return &m.Files[i]
		}
	}
	return nil
}

// BuildEntryIndex creates a map for fast entry lookups by path.
func (m *Manifest) BuildEntryIndex() map[string]*FileEntry {
	index := make(map[string]*FileEntry, len(m.Files))
	for i := range m.Files {
		index[m.Files[i].Path] = &m.Files[i]
	}
	return index
}

// BlobKey returns the backend key of the stored blob for a file entry
// owned by manifest id.
func BlobKey(manifestID, relPath string) string {
	return "blobs/" + manifestID + "/" + relPath
}

// Key returns the backend key under which a manifest is stored.
func Key(manifestID string) string {
	return "manifests/" + manifestID + ".json"
}

// KeyPrefix is the backend prefix for stored manifests.
const KeyPrefix = "manifests/"

// BlobPrefix is the backend prefix for stored file and database blobs.
const BlobPrefix = "blobs/"
