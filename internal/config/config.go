package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// ErrLoadConfig indicates a failure to read or parse the YAML configuration.
var ErrLoadConfig = errors.New("config load failed")

// ErrValidateConfig indicates that the loaded configuration is invalid.
var ErrValidateConfig = errors.New("configuration validation failed")

// Config is the top-level YAML configuration for the backup subsystem.
type Config struct {
	StorageRoots []string      `mapstructure:"storage_roots"`
	Checksum     string        `mapstructure:"checksum"`
	Workers      int           `mapstructure:"workers"`
	RunDB        string        `mapstructure:"run_db"`
	Backend      BackendConfig `mapstructure:"backend"`
	Database     DBConfig      `mapstructure:"database"`
	Restore      RestoreConfig `mapstructure:"restore"`
}

// BackendConfig selects and configures the storage backend.
type BackendConfig struct {
	Kind  string      `mapstructure:"kind"` // local, s3, rsync
	Local LocalConfig `mapstructure:"local"`
	S3    S3Config    `mapstructure:"s3"`
	Rsync RsyncConfig `mapstructure:"rsync"`
	Retry RetryConfig `mapstructure:"retry"`
}

// LocalConfig configures the local filesystem backend.
type LocalConfig struct {
	Directory string `mapstructure:"directory"`
}

// S3Config configures the object storage backend.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
}

// RsyncConfig configures the remote-sync backend.
type RsyncConfig struct {
	Target     string `mapstructure:"target"` // e.g. user@host:/srv/backups
	StagingDir string `mapstructure:"staging_dir"`
}

// RetryConfig bounds the retry policy applied to remote backends.
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// DBConfig configures the database dump producer.
type DBConfig struct {
	Engine      string        `mapstructure:"engine"` // postgres, mysql, or empty
	Host        string        `mapstructure:"host"`
	Port        string        `mapstructure:"port"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	Database    string        `mapstructure:"database"`
	Compression string        `mapstructure:"compression"` // none, zstd, lz4
	Timeout     time.Duration `mapstructure:"timeout"`
}

// RestoreConfig tunes restore validation and space checking.
type RestoreConfig struct {
	SafetyFactor   float64       `mapstructure:"safety_factor"`
	MaxManifestAge time.Duration `mapstructure:"max_manifest_age"`
}

// Load reads the configuration from the given YAML file using Viper
// and unmarshals it into the Config struct. Environment variables
// override file values.
func (c *Config) Load(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PICPEAK_BACKUP")
	v.AutomaticEnv()

	v.SetDefault("checksum", "sha256")
	v.SetDefault("workers", 4)
	v.SetDefault("database.compression", "none")
	v.SetDefault("database.timeout", 30*time.Minute)
	v.SetDefault("backend.retry.max_attempts", 5)
	v.SetDefault("backend.retry.initial_interval", time.Second)
	v.SetDefault("backend.retry.max_interval", time.Minute)
	v.SetDefault("restore.safety_factor", 1.2)
	v.SetDefault("restore.max_manifest_age", 30*24*time.Hour)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: read config %s: %v", ErrLoadConfig, path, err)
	}
	if err := v.UnmarshalExact(c); err != nil {
		return fmt.Errorf("%w: unmarshal config: %v", ErrLoadConfig, err)
	}
	return c.Validate()
}

// Validate checks the loaded configuration for inconsistencies.
func (c *Config) Validate() error {
	if len(c.StorageRoots) == 0 {
		return fmt.Errorf("%w: at least one storage root is required", ErrValidateConfig)
	}
	// Manifest paths are prefixed with the root's base name; duplicate
	// base names would collide in the blob namespace.
	bases := make(map[string]string, len(c.StorageRoots))
	for _, root := range c.StorageRoots {
		base := filepath.Base(filepath.Clean(root))
		if prev, ok := bases[base]; ok {
			return fmt.Errorf("%w: storage roots %q and %q share base name %q",
				ErrValidateConfig, prev, root, base)
		}
		bases[base] = root
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1", ErrValidateConfig)
	}
	if c.Restore.SafetyFactor < 1.0 {
		return fmt.Errorf("%w: restore safety_factor must be >= 1.0", ErrValidateConfig)
	}
	switch c.Backend.Kind {
	case "local":
		if c.Backend.Local.Directory == "" {
			return fmt.Errorf("%w: backend.local.directory is required", ErrValidateConfig)
		}
	case "s3":
		if c.Backend.S3.Bucket == "" {
			return fmt.Errorf("%w: backend.s3.bucket is required", ErrValidateConfig)
		}
	case "rsync":
		if c.Backend.Rsync.Target == "" {
			return fmt.Errorf("%w: backend.rsync.target is required", ErrValidateConfig)
		}
	default:
		return fmt.Errorf("%w: unknown backend kind %q", ErrValidateConfig, c.Backend.Kind)
	}
	switch c.Database.Compression {
	case "", "none", "zstd", "lz4":
	default:
		return fmt.Errorf("%w: unknown compression %q", ErrValidateConfig, c.Database.Compression)
	}
	return nil
}
