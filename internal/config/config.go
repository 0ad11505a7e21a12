// Package config provides unified configuration for blocklog.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds the unified configuration for the blocklog service.
type Config struct {
	// DataDir is the base directory for the database and local snapshots
	DataDir string `json:"data_dir" yaml:"data_dir" env:"BLOCKLOG_DATA_DIR"`

	Database  DatabaseConfig  `json:"database" yaml:"database"`
	Queue     QueueConfig     `json:"queue" yaml:"queue"`
	Flush     FlushConfig     `json:"flush" yaml:"flush"`
	Query     QueryConfig     `json:"query" yaml:"query"`
	Rollback  RollbackConfig  `json:"rollback" yaml:"rollback"`
	Workers   WorkersConfig   `json:"workers" yaml:"workers"`
	Retention RetentionConfig `json:"retention" yaml:"retention"`
	Backup    BackupConfig    `json:"backup" yaml:"backup"`
	HTTP      HTTPConfig      `json:"http" yaml:"http"`
	Log       LogConfig       `json:"log" yaml:"log"`
}

// DatabaseConfig holds event store configuration.
type DatabaseConfig struct {
	// Path is the SQLite file; defaults to <data_dir>/blocklog.sqlite
	Path string `json:"path" yaml:"path" env:"BLOCKLOG_DATABASE_PATH"`

	// BusyTimeout is how long SQLite waits on a locked database
	BusyTimeout time.Duration `json:"busy_timeout" yaml:"busy_timeout" env:"BLOCKLOG_DATABASE_BUSY_TIMEOUT"`
}

// QueueConfig holds ingestion queue configuration.
type QueueConfig struct {
	// Capacity is the maximum number of pending entries per queue
	Capacity int `json:"capacity" yaml:"capacity" env:"BLOCKLOG_QUEUE_CAPACITY"`
}

// FlushConfig holds flush engine configuration.
type FlushConfig struct {
	// Interval is the period between background flushes
	Interval time.Duration `json:"interval" yaml:"interval" env:"BLOCKLOG_FLUSH_INTERVAL"`

	// Timeout bounds a single flush transaction
	Timeout time.Duration `json:"timeout" yaml:"timeout" env:"BLOCKLOG_FLUSH_TIMEOUT"`
}

// QueryConfig holds inspect query configuration.
type QueryConfig struct {
	// InspectLimit is the number of entries returned when inspecting a block
	InspectLimit int `json:"inspect_limit" yaml:"inspect_limit" env:"BLOCKLOG_QUERY_INSPECT_LIMIT"`

	// ContainerLimit is the number of container deltas returned per inspect
	ContainerLimit int `json:"container_limit" yaml:"container_limit" env:"BLOCKLOG_QUERY_CONTAINER_LIMIT"`
}

// RollbackConfig bounds operator rollback requests.
type RollbackConfig struct {
	// MaxRadius is the largest accepted rollback radius in blocks
	MaxRadius int `json:"max_radius" yaml:"max_radius" env:"BLOCKLOG_ROLLBACK_MAX_RADIUS"`

	// MaxLookbackHours is the largest accepted lookback window
	MaxLookbackHours int `json:"max_lookback_hours" yaml:"max_lookback_hours" env:"BLOCKLOG_ROLLBACK_MAX_LOOKBACK_HOURS"`

	// DefaultMaxHeight is used when the host cannot report a world height
	DefaultMaxHeight int `json:"default_max_height" yaml:"default_max_height" env:"BLOCKLOG_ROLLBACK_DEFAULT_MAX_HEIGHT"`
}

// WorkersConfig holds the storage worker pool configuration.
type WorkersConfig struct {
	// Size is the number of worker goroutines
	Size int `json:"size" yaml:"size" env:"BLOCKLOG_WORKERS_SIZE"`

	// Backlog is the number of queued jobs accepted before Submit rejects
	Backlog int `json:"backlog" yaml:"backlog" env:"BLOCKLOG_WORKERS_BACKLOG"`
}

// RetentionConfig controls pruning of old history.
type RetentionConfig struct {
	// Days is the age after which history is deleted; 0 keeps everything
	Days int `json:"days" yaml:"days" env:"BLOCKLOG_RETENTION_DAYS"`

	// CheckInterval is how often the maintenance daemon runs
	CheckInterval time.Duration `json:"check_interval" yaml:"check_interval" env:"BLOCKLOG_RETENTION_CHECK_INTERVAL"`
}

// BackupConfig controls database snapshots.
type BackupConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" env:"BLOCKLOG_BACKUP_ENABLED"`

	// Interval is the minimum time between two snapshots
	Interval time.Duration `json:"interval" yaml:"interval" env:"BLOCKLOG_BACKUP_INTERVAL"`

	// Keep is the number of snapshots retained in object storage
	Keep int `json:"keep" yaml:"keep" env:"BLOCKLOG_BACKUP_KEEP"`

	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// StorageConfig holds snapshot object storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type" env:"BLOCKLOG_STORAGE_TYPE"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path" env:"BLOCKLOG_STORAGE_PATH"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	Bucket       string `json:"bucket" yaml:"bucket" env:"BLOCKLOG_S3_BUCKET"`
	Region       string `json:"region" yaml:"region" env:"BLOCKLOG_S3_REGION"`
	Endpoint     string `json:"endpoint" yaml:"endpoint" env:"BLOCKLOG_S3_ENDPOINT"`
	UsePathStyle bool   `json:"use_path_style" yaml:"use_path_style" env:"BLOCKLOG_S3_USE_PATH_STYLE"`
}

// HTTPConfig holds the ops HTTP server configuration.
type HTTPConfig struct {
	// Addr is the listen address; empty disables the server
	Addr         string        `json:"addr" yaml:"addr" env:"BLOCKLOG_HTTP_ADDR"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout" env:"BLOCKLOG_HTTP_READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" env:"BLOCKLOG_HTTP_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout" env:"BLOCKLOG_HTTP_IDLE_TIMEOUT"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `json:"level" yaml:"level" env:"BLOCKLOG_LOG_LEVEL"`

	// Format is json or console
	Format string `json:"format" yaml:"format" env:"BLOCKLOG_LOG_FORMAT"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/blocklog",
		Database: DatabaseConfig{
			BusyTimeout: 5 * time.Second,
		},
		Queue: QueueConfig{
			Capacity: 50_000,
		},
		Flush: FlushConfig{
			Interval: 30 * time.Second,
			Timeout:  30 * time.Second,
		},
		Query: QueryConfig{
			InspectLimit:   10,
			ContainerLimit: 10,
		},
		Rollback: RollbackConfig{
			MaxRadius:        256,
			MaxLookbackHours: 24 * 30,
			DefaultMaxHeight: 320,
		},
		Workers: WorkersConfig{
			Size:    2,
			Backlog: 256,
		},
		Retention: RetentionConfig{
			Days:          0,
			CheckInterval: time.Hour,
		},
		Backup: BackupConfig{
			Enabled:  false,
			Interval: 6 * time.Hour,
			Keep:     7,
			Storage: StorageConfig{
				Type: "local",
			},
		},
		HTTP: HTTPConfig{
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/blocklog"
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.DataDir, "blocklog.sqlite")
	}
	if c.Backup.Storage.Path == "" {
		c.Backup.Storage.Path = filepath.Join(c.DataDir, "snapshots")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue.capacity must be positive, got %d", c.Queue.Capacity)
	}

	if c.Flush.Interval <= 0 {
		return fmt.Errorf("flush.interval must be positive, got %v", c.Flush.Interval)
	}

	if c.Query.InspectLimit <= 0 {
		return fmt.Errorf("query.inspect_limit must be positive, got %d", c.Query.InspectLimit)
	}

	if c.Rollback.MaxRadius <= 0 || c.Rollback.MaxLookbackHours <= 0 {
		return fmt.Errorf("rollback.max_radius and rollback.max_lookback_hours must be positive")
	}

	if c.Workers.Size <= 0 {
		return fmt.Errorf("workers.size must be positive, got %d", c.Workers.Size)
	}

	if c.Retention.Days < 0 {
		return fmt.Errorf("retention.days must not be negative, got %d", c.Retention.Days)
	}

	if c.Backup.Enabled {
		if c.Backup.Storage.Type != "local" && c.Backup.Storage.Type != "s3" {
			return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Backup.Storage.Type)
		}
		if c.Backup.Storage.Type == "s3" && c.Backup.Storage.S3.Bucket == "" {
			return fmt.Errorf("s3.bucket is required when storage type is s3")
		}
		if c.Backup.Keep <= 0 {
			return fmt.Errorf("backup.keep must be positive when backups are enabled")
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	return nil
}

// MaintenanceEnabled reports whether the maintenance daemon has any work.
func (c *Config) MaintenanceEnabled() bool {
	return c.Retention.Days > 0 || c.Backup.Enabled
}

// LoadFromFile loads configuration from a YAML or JSON file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv overlays BLOCKLOG_* environment variables onto cfg.
// Unset variables leave the existing values untouched.
func LoadFromEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		filepath.Dir(c.Database.Path),
	}
	if c.Backup.Enabled && c.Backup.Storage.Type == "local" {
		dirs = append(dirs, c.Backup.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
