package manifest

import (
	"fmt"

	"github.com/the-luap/picpeak-backup/internal/checksum"
)

// ValidationError carries every violation found in a manifest, not just
// the first; callers need the full diagnostic list.
type ValidationError struct {
	ManifestID string
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("manifest %s failed validation with %d violation(s): %v",
		e.ManifestID, len(e.Violations), e.Violations)
}

// Validate checks structural and checksum integrity. It recomputes the
// aggregate checksum and the derived totals and compares them against the
// stored values. A nil return means the manifest is trustworthy.
func Validate(m *Manifest) error {
	var violations []string

	if m.ID == "" {
		violations = append(violations, "manifest id is empty")
	}
	if !VersionSupported(m.Version) {
		violations = append(violations, fmt.Sprintf("unsupported schema version %q", m.Version))
	}
	if !m.Type.Valid() {
		violations = append(violations, fmt.Sprintf("unknown backup type %q", m.Type))
	}
	if !checksum.Supported(m.Algorithm) {
		violations = append(violations, fmt.Sprintf("unsupported checksum algorithm %q", m.Algorithm))
	}

	if m.Type == TypeIncremental && m.ParentID == "" {
		violations = append(violations, "incremental manifest has no parent id")
	}
	if m.Type != TypeIncremental {
		if m.ParentID != "" {
			violations = append(violations, "non-incremental manifest has a parent id")
		}
		if len(m.DeletedPaths) > 0 {
			violations = append(violations, "non-incremental manifest lists deleted paths")
		}
	}

	if m.FileCount != len(m.Files) {
		violations = append(violations, fmt.Sprintf("file_count %d does not match %d entries",
			m.FileCount, len(m.Files)))
	}
	var total int64
	for _, f := range m.Files {
		total += f.Size
	}
	if m.TotalSize != total {
		violations = append(violations, fmt.Sprintf("total_size %d does not match entry sum %d",
			m.TotalSize, total))
	}

	hexLen := checksum.HexLength(m.Algorithm)
	for _, f := range m.Files {
		if hexLen > 0 && len(f.Checksum) != hexLen {
			violations = append(violations, fmt.Sprintf("entry %q has malformed checksum", f.Path))
		}
	}

	if checksum.Supported(m.Algorithm) {
		sum, err := aggregateChecksum(m)
		if err != nil {
			violations = append(violations, fmt.Sprintf("aggregate checksum recompute failed: %v", err))
		} else if sum != m.Verification.TotalChecksum {
			violations = append(violations, "aggregate checksum mismatch")
		}
	}

	if len(violations) > 0 {
		return &ValidationError{ManifestID: m.ID, Violations: violations}
	}
	return nil
}
