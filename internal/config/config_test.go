package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backup.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
storage_roots:
  - /srv/picpeak/photos
  - /srv/picpeak/thumbnails
run_db: /var/lib/picpeak/runs.db
backend:
  kind: s3
  s3:
    endpoint: http://minio:9000
    bucket: picpeak-backups
    access_key: key
    secret_key: secret
    region: us-east-1
database:
  engine: postgres
  host: db
  port: "5432"
  username: picpeak
  password: secret
  database: picpeak
  compression: zstd
restore:
  safety_factor: 1.5
`)

	var cfg Config
	require.NoError(t, cfg.Load(path))

	assert.Equal(t, []string{"/srv/picpeak/photos", "/srv/picpeak/thumbnails"}, cfg.StorageRoots)
	assert.Equal(t, "s3", cfg.Backend.Kind)
	assert.Equal(t, "picpeak-backups", cfg.Backend.S3.Bucket)
	assert.Equal(t, "zstd", cfg.Database.Compression)
	assert.Equal(t, 1.5, cfg.Restore.SafetyFactor)

	// Defaults fill the rest.
	assert.Equal(t, "sha256", cfg.Checksum)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 5, cfg.Backend.Retry.MaxAttempts)
	assert.Equal(t, 30*time.Minute, cfg.Database.Timeout)
	assert.Equal(t, 30*24*time.Hour, cfg.Restore.MaxManifestAge)
}

func TestLoad_MissingFile(t *testing.T) {
	var cfg Config
	err := cfg.Load("/does/not/exist.yaml")
	assert.ErrorIs(t, err, ErrLoadConfig)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := writeConfig(t, `
storage_roots: [/srv/photos]
backend:
  kind: local
  local:
    directory: /backups
typo_key: true
`)

	var cfg Config
	err := cfg.Load(path)
	assert.ErrorIs(t, err, ErrLoadConfig)
}

func TestValidate_Rejections(t *testing.T) {
	base := func() *Config {
		return &Config{
			StorageRoots: []string{"/srv/photos"},
			Workers:      4,
			Backend:      BackendConfig{Kind: "local", Local: LocalConfig{Directory: "/backups"}},
			Restore:      RestoreConfig{SafetyFactor: 1.2},
		}
	}

	require.NoError(t, base().Validate())

	cfg := base()
	cfg.StorageRoots = nil
	assert.ErrorIs(t, cfg.Validate(), ErrValidateConfig)

	// Roots sharing a base name would collide in the blob namespace.
	cfg = base()
	cfg.StorageRoots = []string{"/a/photos", "/b/photos"}
	assert.ErrorIs(t, cfg.Validate(), ErrValidateConfig)

	cfg = base()
	cfg.Backend.Kind = "ftp"
	assert.ErrorIs(t, cfg.Validate(), ErrValidateConfig)

	cfg = base()
	cfg.Backend.Local.Directory = ""
	assert.ErrorIs(t, cfg.Validate(), ErrValidateConfig)

	cfg = base()
	cfg.Restore.SafetyFactor = 0.5
	assert.ErrorIs(t, cfg.Validate(), ErrValidateConfig)

	cfg = base()
	cfg.Database.Compression = "gzip"
	assert.ErrorIs(t, cfg.Validate(), ErrValidateConfig)
}
