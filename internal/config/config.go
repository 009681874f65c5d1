// Package config loads graphstore settings from an optional YAML file and
// GRAPHSTORE_* environment overrides.
//
// File location (priority order):
//  1. the path passed to Load
//  2. $GRAPHSTORE_CONFIG
//  3. none: built-in defaults
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"graphstore/internal/blob"
	"graphstore/internal/buffer"
	"graphstore/internal/persistence"
	"graphstore/pkg/graph"
)

// ErrInvalid reports a setting outside its allowed values.
var ErrInvalid = errors.New("config: invalid value")

// Config is the full set of settings.
type Config struct {
	Storage  StorageConfig `yaml:"storage"`
	Blob     BlobConfig    `yaml:"blob"`
	Buffer   BufferConfig  `yaml:"buffer"`
	LogLevel string        `yaml:"log_level"`
}

// StorageConfig selects the SQL backend rows are flushed to.
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// BlobConfig selects the commit journal sink.
type BlobConfig struct {
	Driver     string   `yaml:"driver"`
	FSRoot     string   `yaml:"fs_root"`
	BestEffort bool     `yaml:"best_effort"`
	S3         S3Config `yaml:"s3"`
}

// S3Config configures the S3 journal sink.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Prefix    string `yaml:"prefix"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// BufferConfig sizes the per-transaction snapshot buffer.
type BufferConfig struct {
	ChunkSize int `yaml:"chunk_size"`
	MaxBytes  int `yaml:"max_bytes"`
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		Storage:  StorageConfig{Driver: string(persistence.DriverSQLite), SQLitePath: "graphstore.db"},
		Blob:     BlobConfig{Driver: string(blob.DriverNone), FSRoot: "journal"},
		Buffer:   BufferConfig{ChunkSize: buffer.DefaultChunkSize},
		LogLevel: "info",
	}
}

// Load reads path (or $GRAPHSTORE_CONFIG when path is empty), applies
// environment overrides and validates the result. A missing path yields
// defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("GRAPHSTORE_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"GRAPHSTORE_STORAGE_DRIVER":   &c.Storage.Driver,
		"GRAPHSTORE_SQLITE_PATH":      &c.Storage.SQLitePath,
		"GRAPHSTORE_POSTGRES_DSN":     &c.Storage.PostgresDSN,
		"GRAPHSTORE_BLOB_DRIVER":      &c.Blob.Driver,
		"GRAPHSTORE_BLOB_FS_ROOT":     &c.Blob.FSRoot,
		"GRAPHSTORE_BLOB_S3_BUCKET":   &c.Blob.S3.Bucket,
		"GRAPHSTORE_BLOB_S3_REGION":   &c.Blob.S3.Region,
		"GRAPHSTORE_BLOB_S3_PREFIX":   &c.Blob.S3.Prefix,
		"GRAPHSTORE_BLOB_S3_ENDPOINT": &c.Blob.S3.Endpoint,
		"GRAPHSTORE_LOG_LEVEL":        &c.LogLevel,
	}
	for name, dst := range strs {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	bools := map[string]*bool{
		"GRAPHSTORE_BLOB_S3_PATH_STYLE": &c.Blob.S3.PathStyle,
		"GRAPHSTORE_BLOB_BEST_EFFORT":   &c.Blob.BestEffort,
	}
	for name, dst := range bools {
		if v, ok := lookup(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, name, v, err)
			}
			*dst = b
		}
	}
	ints := map[string]*int{
		"GRAPHSTORE_BUFFER_CHUNK_SIZE": &c.Buffer.ChunkSize,
		"GRAPHSTORE_BUFFER_MAX_BYTES":  &c.Buffer.MaxBytes,
	}
	for name, dst := range ints {
		if v, ok := lookup(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, name, v, err)
			}
			*dst = n
		}
	}
	return nil
}

// Validate checks enumerated and numeric settings.
func (c *Config) Validate() error {
	switch persistence.Driver(c.Storage.Driver) {
	case persistence.DriverMemory, persistence.DriverSQLite, persistence.DriverPostgres:
	default:
		return fmt.Errorf("%w: storage driver %q", ErrInvalid, c.Storage.Driver)
	}
	switch blob.Driver(c.Blob.Driver) {
	case blob.DriverNone, blob.DriverMemory, blob.DriverFilesystem:
	case blob.DriverS3:
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("%w: s3 journal sink needs a bucket", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: blob driver %q", ErrInvalid, c.Blob.Driver)
	}
	if c.Buffer.ChunkSize <= 0 {
		return fmt.Errorf("%w: buffer chunk size %d", ErrInvalid, c.Buffer.ChunkSize)
	}
	if c.Buffer.MaxBytes < 0 {
		return fmt.Errorf("%w: buffer max bytes %d", ErrInvalid, c.Buffer.MaxBytes)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalid, c.LogLevel)
	}
	return l, nil
}

// Logger returns a text logger writing to w at the configured level.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := c.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// PersistenceOptions maps the storage section onto persistence.Open.
func (c *Config) PersistenceOptions() persistence.Options {
	return persistence.Options{
		Driver:      persistence.Driver(c.Storage.Driver),
		SQLitePath:  c.Storage.SQLitePath,
		PostgresDSN: c.Storage.PostgresDSN,
	}
}

// BlobOptions maps the blob section onto blob.Open.
func (c *Config) BlobOptions() blob.Options {
	return blob.Options{
		Driver: blob.Driver(c.Blob.Driver),
		FSRoot: c.Blob.FSRoot,
		S3: blob.S3Config{
			Bucket:    c.Blob.S3.Bucket,
			Region:    c.Blob.S3.Region,
			Prefix:    c.Blob.S3.Prefix,
			Endpoint:  c.Blob.S3.Endpoint,
			PathStyle: c.Blob.S3.PathStyle,
		},
	}
}

// StoreOptions returns the graph options derived from the buffer section.
func (c *Config) StoreOptions() []graph.Option {
	return []graph.Option{graph.WithBufferOptions(buffer.WithChunkSize(c.Buffer.ChunkSize), buffer.WithLimit(c.Buffer.MaxBytes))}
}
