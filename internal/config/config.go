// Package config loads and validates StreamDb's on-disk and ambient
// configuration (spec.md §6), mirroring the teacher's YAML-backed config
// structures (gopkg.in/yaml.v3).
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/pageforge/streamdb/internal/errs"
)

const (
	DefaultPageSize         = 4096
	DefaultMaxDocumentSize  = 256 << 20 // 256 MiB
	DefaultPageCacheSize    = 1024
	DefaultVersionsToKeep   = 2
	DefaultCheckpointPeriod = 30 * time.Second
	DefaultGCPeriod         = 5 * time.Minute
)

// Config is StreamDb's full configuration: the on-disk parameters
// enumerated in spec.md §6, plus the ambient fields (paths, intervals)
// the engine and its background scheduler need.
type Config struct {
	// On-disk parameters (spec.md §6).
	PageSize        int    `yaml:"page_size"`
	MaxPages        int64  `yaml:"max_pages"`
	MaxDBSize       int64  `yaml:"max_db_size"`
	MaxDocumentSize int64  `yaml:"max_document_size"`
	PageCacheSize   int    `yaml:"page_cache_size"`
	UseMMap         bool   `yaml:"use_mmap"`
	UseCompression  bool   `yaml:"use_compression"`
	EncryptionKey   []byte `yaml:"encryption_key"`
	VersionsToKeep  int    `yaml:"versions_to_keep"`
	Durable         bool   `yaml:"durable"`

	// Ambient fields.
	DBPath             string        `yaml:"db_path"`
	WALPath            string        `yaml:"wal_path"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
	GCInterval         time.Duration `yaml:"gc_interval"`
	CheckpointCron     string        `yaml:"checkpoint_cron"` // optional robfig/cron expression
}

// Default returns a Config with every spec-mandated default filled in.
func Default() Config {
	return Config{
		PageSize:           DefaultPageSize,
		MaxDocumentSize:    DefaultMaxDocumentSize,
		PageCacheSize:      DefaultPageCacheSize,
		VersionsToKeep:     DefaultVersionsToKeep,
		CheckpointInterval: DefaultCheckpointPeriod,
		GCInterval:         DefaultGCPeriod,
	}
}

// Load reads and validates a YAML config file at path. Fields absent from
// the file keep their Default values; a field set explicitly in the file,
// even to zero, takes the file's value.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(errs.ErrIO, err.Error())
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(errs.ErrInvalidInput, err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants spec.md §6 requires of the configuration.
func (c Config) Validate() error {
	if c.PageSize < 4096 || c.PageSize > 65536 || c.PageSize&(c.PageSize-1) != 0 {
		return errors.Wrapf(errs.ErrInvalidInput, "page_size %d must be a power of two between 4096 and 65536", c.PageSize)
	}
	if c.EncryptionKey != nil && len(c.EncryptionKey) != 32 {
		return errors.Wrapf(errs.ErrInvalidInput, "encryption_key must be 32 bytes, got %d", len(c.EncryptionKey))
	}
	if c.VersionsToKeep < 0 {
		return errors.Wrap(errs.ErrInvalidInput, "versions_to_keep must be >= 0")
	}
	if c.MaxDocumentSize <= 0 {
		return errors.Wrap(errs.ErrInvalidInput, "max_document_size must be > 0")
	}
	if c.DBPath == "" {
		return errors.Wrap(errs.ErrInvalidInput, "db_path must be set")
	}
	return nil
}

// WALPathOrDefault returns the configured WAL path, or the DB path with a
// ".wal" extension appended (spec.md §6: "sibling file with .wal extension").
func (c Config) WALPathOrDefault() string {
	if c.WALPath != "" {
		return c.WALPath
	}
	return c.DBPath + ".wal"
}
