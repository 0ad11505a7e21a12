package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Validates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 50_000, cfg.Queue.Capacity)
	assert.Equal(t, 30*time.Second, cfg.Flush.Interval)
	assert.Equal(t, filepath.Join("./data/blocklog", "blocklog.sqlite"), cfg.Database.Path)
	assert.False(t, cfg.MaintenanceEnabled())
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero capacity", func(c *Config) { c.Queue.Capacity = 0 }},
		{"zero interval", func(c *Config) { c.Flush.Interval = 0 }},
		{"zero workers", func(c *Config) { c.Workers.Size = 0 }},
		{"negative retention", func(c *Config) { c.Retention.Days = -1 }},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"s3 without bucket", func(c *Config) {
			c.Backup.Enabled = true
			c.Backup.Storage.Type = "s3"
		}},
		{"unknown storage", func(c *Config) {
			c.Backup.Enabled = true
			c.Backup.Storage.Type = "ftp"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Resolve()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromFile_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocklog.yaml")
	data := []byte(`
data_dir: /srv/blocklog
queue:
  capacity: 1000
flush:
  interval: 45s
retention:
  days: 90
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/blocklog", cfg.DataDir)
	assert.Equal(t, 1000, cfg.Queue.Capacity)
	assert.Equal(t, 45*time.Second, cfg.Flush.Interval)
	assert.Equal(t, 90, cfg.Retention.Days)
	// untouched sections keep their defaults
	assert.Equal(t, 10, cfg.Query.InspectLimit)
	assert.True(t, cfg.MaintenanceEnabled())
}

func TestLoadFromFile_UnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocklog.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0644))

	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoadFromEnv_OverridesOnlySetVariables(t *testing.T) {
	t.Setenv("BLOCKLOG_QUEUE_CAPACITY", "123")
	t.Setenv("BLOCKLOG_FLUSH_INTERVAL", "5s")
	t.Setenv("BLOCKLOG_BACKUP_ENABLED", "true")
	t.Setenv("BLOCKLOG_S3_BUCKET", "snapshots")

	cfg := DefaultConfig()
	require.NoError(t, LoadFromEnv(cfg))

	assert.Equal(t, 123, cfg.Queue.Capacity)
	assert.Equal(t, 5*time.Second, cfg.Flush.Interval)
	assert.True(t, cfg.Backup.Enabled)
	assert.Equal(t, "snapshots", cfg.Backup.Storage.S3.Bucket)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromEnv_InvalidValue(t *testing.T) {
	t.Setenv("BLOCKLOG_QUEUE_CAPACITY", "lots")

	cfg := DefaultConfig()
	assert.Error(t, LoadFromEnv(cfg))
}
