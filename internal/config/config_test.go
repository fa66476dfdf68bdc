package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gamewarden.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
listen = "0.0.0.0:9000"
log_level = "debug"
data_dir = "/var/lib/gamewarden"
webhook_url = "https://discord.com/api/webhooks/1/abc"

[supervisor]
grace_period = "30s"

[supervisor.log]
dir = "/var/log/gamewarden"
max_size_mb = 50
max_backups = 5
max_age_days = 14
compress = true

[sampler]
interval = "2s"
disk_interval = "5m"

[scheduler]
status_interval = "1m"
task_interval = "1m"
backup_dir = "/var/backups/gamewarden"

[store]
type = "postgres"
host = "db.internal"
port = 5433
database = "gamewarden"
username = "warden"
password = "secret"
`)

	f, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", f.Listen)
	assert.Equal(t, "debug", f.LogLevel)
	assert.Equal(t, "/var/lib/gamewarden", f.DataDir)
	assert.Equal(t, "https://discord.com/api/webhooks/1/abc", f.WebhookURL)

	assert.Equal(t, 30*time.Second, f.Supervisor.GracePeriod)
	assert.Equal(t, "/var/log/gamewarden", f.Supervisor.Log.Dir)
	assert.Equal(t, 50, f.Supervisor.Log.MaxSizeMB)
	assert.True(t, f.Supervisor.Log.Compress)

	assert.Equal(t, 2*time.Second, f.Sampler.Interval)
	assert.Equal(t, 5*time.Minute, f.Sampler.DiskInterval)

	assert.Equal(t, time.Minute, f.Scheduler.StatusInterval)
	assert.Equal(t, "/var/backups/gamewarden", f.Scheduler.BackupDir)

	assert.Equal(t, "postgres", f.Store.Type)
	assert.Equal(t, "db.internal", f.Store.Host)
	assert.Equal(t, 5433, f.Store.Port)
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "log_level = \"warn\"\n")

	f, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", f.LogLevel)
	assert.Equal(t, "127.0.0.1:8820", f.Listen)
	assert.Equal(t, 10*time.Second, f.Supervisor.GracePeriod)
	assert.Equal(t, time.Second, f.Sampler.Interval)
	assert.Equal(t, 20*time.Second, f.Scheduler.StatusInterval)
	assert.Equal(t, "sqlite", f.Store.Type)
	assert.Equal(t, "data/gamewarden.db", f.Store.Path)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfig(t, "listen = [unclosed\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestDefaultMatchesLoadDefaults(t *testing.T) {
	d := Default()
	assert.Equal(t, "127.0.0.1:8820", d.Listen)
	assert.Equal(t, "sqlite", d.Store.Type)
	assert.Equal(t, 10*time.Second, d.Supervisor.GracePeriod)
}
