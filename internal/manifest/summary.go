package manifest

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// Summary renders a human-readable digest of a manifest for operator
// confirmation. Not usable for machine validation.
func Summary(m *Manifest, lookup Lookup) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Backup %s\n", m.ID)
	fmt.Fprintf(&b, "  Type:      %s\n", m.Type)
	fmt.Fprintf(&b, "  Created:   %s\n", m.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "  Schema:    %s (checksums: %s)\n", m.Version, m.Algorithm)
	fmt.Fprintf(&b, "  Files:     %d (%s)\n", m.FileCount, humanize.Bytes(uint64(m.TotalSize)))

	if m.Type == TypeIncremental {
		fmt.Fprintf(&b, "  Parent:    %s\n", m.ParentID)
		fmt.Fprintf(&b, "  Deleted:   %d path(s)\n", len(m.DeletedPaths))
		if m.SizeDelta >= 0 {
			fmt.Fprintf(&b, "  Delta:     +%s\n", humanize.Bytes(uint64(m.SizeDelta)))
		} else {
			fmt.Fprintf(&b, "  Delta:     -%s\n", humanize.Bytes(uint64(-m.SizeDelta)))
		}
		if lookup != nil {
			if depth, err := ChainDepth(m, lookup); err == nil {
				fmt.Fprintf(&b, "  Chain:     depth %d\n", depth)
			}
		}
	}

	if m.Database != nil {
		fmt.Fprintf(&b, "  Database:  %s, %s (%s)\n",
			m.Database.Engine, humanize.Bytes(uint64(m.Database.Size)), m.Database.ArtifactKey)
	} else {
		fmt.Fprintf(&b, "  Database:  none\n")
	}

	for k, v := range m.Metadata {
		fmt.Fprintf(&b, "  Meta:      %s=%s\n", k, v)
	}
	return b.String()
}
