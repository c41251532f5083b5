package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
database:
  driver: pgx
  host: db.central.local
  port: 5433
  user: hr
  database: attendance
scheduler:
  enabled: false
  interval_minutes: 30
sync:
  tables: [departments, users]
  probe_timeout: 2s
  detect_local_edits: true
server:
  port: 9000
logging:
  level: debug
  format: console
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "db.central.local", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 30, cfg.Scheduler.IntervalMinutes)
	assert.Equal(t, []string{"departments", "users"}, cfg.Sync.Tables)
	assert.Equal(t, 2*time.Second, cfg.Sync.GetProbeTimeout())
	assert.True(t, cfg.Sync.DetectLocalEdits)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.GetReadTimeout())
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("SITESYNC_DATABASE_PASSWORD", "s3cret")
	t.Setenv("SITESYNC_SCHEDULER_INTERVAL_MINUTES", "5")

	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Database.Password)
	assert.Equal(t, 5, cfg.Scheduler.IntervalMinutes)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("SITESYNC_DATABASE_DATABASE", "attendance")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "pgx", cfg.Database.Driver)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 15, cfg.Scheduler.IntervalMinutes)
	assert.Equal(t, 5*time.Second, cfg.Sync.GetProbeTimeout())
	assert.Equal(t, time.Minute, cfg.Metrics.GetInterval())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown driver", "database: {driver: oracle, database: x}\n"},
		{"missing database name", "database: {driver: pgx}\n"},
		{"sqlite without path", "database: {driver: sqlite}\n"},
		{"zero interval", "database: {database: x}\nscheduler: {interval_minutes: 0}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			require.Error(t, err)
		})
	}
}
