package dump

import (
	"context"
	"fmt"
	"io"

	"github.com/the-luap/picpeak-backup/internal/config"
)

// Info describes a produced database dump.
type Info struct {
	Engine    string
	RowCounts map[string]int64
}

// Producer yields a single opaque backup artifact for the relational
// store. The returned reader streams the dump; callers must close it.
type Producer interface {
	Dump(ctx context.Context) (io.ReadCloser, Info, error)
}

// Applier applies a dump artifact back onto the live database.
type Applier interface {
	Apply(ctx context.Context, r io.Reader) error
}

// Inspector is optionally implemented by engines that can report
// per-table row counts, used for post-restore verification.
type Inspector interface {
	RowCounts(ctx context.Context) (map[string]int64, error)
}

// FromConfig builds the configured dump engine. A nil producer (empty
// engine) is valid only for deployments without a relational store.
func FromConfig(cfg config.DBConfig) (Producer, Applier, error) {
	switch cfg.Engine {
	case "":
		return nil, nil, nil
	case "postgres":
		p := NewPostgres(cfg)
		return p, p, nil
	case "mysql":
		m := NewMySQL(cfg)
		return m, m, nil
	default:
		return nil, nil, fmt.Errorf("unknown database engine %q", cfg.Engine)
	}
}
