package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, ":50051", cfg.Server.GRPCAddr)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Equal(t, 24*time.Hour, cfg.Redis.ReplayTTL)
	assert.Equal(t, time.Minute, cfg.Redis.ClaimTTL)
	assert.Empty(t, cfg.RabbitMQ.URL)
	assert.Equal(t, 30*time.Second, cfg.Client.BatchTimeout)
	assert.Equal(t, 5*time.Second, cfg.Client.ProbeInterval)
	assert.Equal(t, 2, cfg.Client.ProbeStable)
	assert.False(t, cfg.Client.DropRejected)
	assert.Zero(t, cfg.Client.MaxAttempts)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stocksync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
database:
  driver: sqlite3
  dsn: /tmp/inventory.db
client:
  device_id: tablet-4
  batch_timeout: 10s
  max_attempts: 3
`), 0o600))

	t.Setenv("STOCKSYNC_CLIENT_ACTOR_ID", "clerk-2")
	t.Setenv("STOCKSYNC_SERVER_GRPC_ADDR", ":6000")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "/tmp/inventory.db", cfg.Database.DSN)
	assert.Equal(t, "tablet-4", cfg.Client.DeviceID)
	assert.Equal(t, "clerk-2", cfg.Client.ActorID)
	assert.Equal(t, ":6000", cfg.Server.GRPCAddr)
	assert.Equal(t, 10*time.Second, cfg.Client.BatchTimeout)
	assert.Equal(t, 3, cfg.Client.MaxAttempts)
}

func TestLoad_DiscoversFileInWorkingDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stocksync.yaml"), []byte("server:\n  http_addr: \":9090\"\n"), 0o600))
	t.Chdir(dir)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.HTTPAddr)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{"unknown driver", "database:\n  driver: oracle\n"},
		{"probe stable", "client:\n  probe_stable: 0\n"},
		{"negative attempts", "client:\n  max_attempts: -1\n"},
		{"malformed yaml", "client: [\n"},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "cfg"+string(rune('a'+i))+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			_, err := Load(path)
			assert.Error(t, err)
		})
	}

	t.Run("missing explicit file", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "absent.yaml"))
		assert.Error(t, err)
	})
}
