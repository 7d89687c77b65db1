package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Empty(t, cfg.File())
	assert.Equal(t, int64(100*1024*1024), cfg.Fetch.MaxFileSizeBytes)
	assert.Equal(t, 60*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, 100, cfg.Pipeline.BatchSize)
	assert.Equal(t, "*/5 * * * *", cfg.Scheduler.CleanupCron)
	assert.Equal(t, "memory", cfg.Lock.Backend)
	assert.False(t, cfg.NeedsRedis())
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
database:
  host: db.internal
  port: 6543
pipeline:
  batchSize: 250
lock:
  backend: redis
  ttl: 2m
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))
	t.Setenv("EVENTINGEST_DATABASE_HOST", "override.internal")
	t.Setenv("EVENTINGEST_FETCH_TIMEOUT", "5s")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "config.yaml"), cfg.File())
	assert.Equal(t, "override.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, 250, cfg.Pipeline.BatchSize)
	assert.Equal(t, 2*time.Minute, cfg.Lock.TTL)
	assert.Equal(t, 5*time.Second, cfg.Fetch.Timeout)
	assert.True(t, cfg.NeedsRedis())
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("EVENTINGEST_STORAGE_BLOBS", "s3")

	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Bucket")
}
