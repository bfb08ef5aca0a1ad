package storage

import (
	"context"
	"fmt"

	"github.com/the-luap/picpeak-backup/internal/config"
)

// FromConfig builds the configured backend. Remote backends (s3, rsync)
// are wrapped in the retry decorator; the local backend is not.
func FromConfig(ctx context.Context, cfg config.BackendConfig) (Backend, error) {
	switch cfg.Kind {
	case "local":
		return NewLocal(cfg.Local.Directory)
	case "s3":
		b, err := NewS3(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return WithRetry(b, cfg.Retry), nil
	case "rsync":
		b, err := NewRsync(cfg.Rsync.Target, cfg.Rsync.StagingDir)
		if err != nil {
			return nil, err
		}
		return WithRetry(b, cfg.Retry), nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Kind)
	}
}
