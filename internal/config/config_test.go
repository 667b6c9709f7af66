package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagetasks/internal/store"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DB_PATH", "")

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, store.DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "./data/stagetasks.db", cfg.Store.Path)
	assert.Equal(t, "items", cfg.Store.Key)
	assert.Equal(t, 5*time.Second, cfg.Store.LockTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Telemetry.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileEnvAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stagetasks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
store:
  driver: file
  dir: /tmp/tasks
  lock_timeout: 2s
log:
  format: json
`), 0o644))

	t.Setenv("STAGETASKS_LOG_LEVEL", "debug")
	t.Setenv("STAGETASKS_STORE_DIR", "/var/lib/tasks")

	cfg, err := Load(path, map[string]any{"server.port": 9100})
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port, "override wins over file")
	assert.Equal(t, store.DriverFile, cfg.Store.Driver)
	assert.Equal(t, "/var/lib/tasks", cfg.Store.Dir, "env wins over file")
	assert.Equal(t, 2*time.Second, cfg.Store.LockTimeout)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_LegacyEnvVars(t *testing.T) {
	t.Setenv("PORT", "3000")
	t.Setenv("DB_PATH", "/data/old.db")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "/data/old.db", cfg.Store.Path)
	assert.Equal(t, ":3000", cfg.Addr())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "memory ok", mutate: func(c *Config) { c.Store.Driver = store.DriverMemory }},
		{name: "unknown driver", mutate: func(c *Config) { c.Store.Driver = "postgres" }, wantErr: "store.driver must be one of"},
		{name: "mysql needs dsn", mutate: func(c *Config) { c.Store.Driver = store.DriverMySQL }, wantErr: "store.dsn is required"},
		{name: "redis needs url", mutate: func(c *Config) { c.Store.Driver = store.DriverRedis }, wantErr: "store.redis_url is required"},
		{name: "file needs dir", mutate: func(c *Config) { c.Store.Driver = store.DriverFile; c.Store.Dir = "" }, wantErr: "store.dir is required"},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "server.port"},
		{name: "bad format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("", nil)
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStoreOptions(t *testing.T) {
	cfg, err := Load("", map[string]any{"store.driver": "redis", "store.redis_url": "redis://localhost:6379/0"})
	require.NoError(t, err)

	opts := cfg.StoreOptions()
	assert.Equal(t, store.Options{
		Driver:      store.DriverRedis,
		Path:        "./data/stagetasks.db",
		Dir:         "./data",
		RedisURL:    "redis://localhost:6379/0",
		LockTimeout: 5 * time.Second,
	}, opts)
}
