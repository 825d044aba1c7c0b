package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.Interval)
}

func TestLoadFile(t *testing.T) {
	t.Run("missing file returns defaults", func(t *testing.T) {
		cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("overrides merge onto defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "gridwatch.yaml")
		data := []byte("server:\n  port: 9999\nscheduler:\n  interval: 5m\n")
		require.NoError(t, os.WriteFile(path, data, 0o600))

		cfg, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, 9999, cfg.Server.Port)
		assert.Equal(t, 5*time.Minute, cfg.Scheduler.Interval)
		// Untouched sections keep defaults.
		assert.Equal(t, 24, cfg.Training.IntervalHours)
	})

	t.Run("malformed yaml errors", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server: ["), 0o600))
		_, err := LoadFile(path)
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	t.Run("postgres backend requires dsn", func(t *testing.T) {
		cfg := Default()
		cfg.Store.Backend = "postgres"
		assert.Error(t, cfg.Validate())
		cfg.Store.PostgresDSN = "postgres://localhost/gridwatch"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("unknown backend rejected", func(t *testing.T) {
		cfg := Default()
		cfg.Store.Backend = "dynamo"
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad port rejected", func(t *testing.T) {
		cfg := Default()
		cfg.Server.Port = 0
		assert.Error(t, cfg.Validate())
	})
}

func TestLoadFromEnv(t *testing.T) {
	cfg := Default()
	t.Setenv("GRIDWATCH_PORT", "7070")
	t.Setenv("GRIDWATCH_STORE_BACKEND", "redis")
	t.Setenv("GRIDWATCH_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("GRIDWATCH_PREDICTION_INTERVAL", "30m")

	LoadFromEnv(cfg)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Store.RedisURL)
	assert.Equal(t, 30*time.Minute, cfg.Scheduler.Interval)
	require.NoError(t, cfg.Validate())
}

func TestWatchReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gridwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8080\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	err := Watch(ctx, path, zap.NewNop(), func(c *Config) { reloaded <- c })
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9191\n"), 0o600))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 9191, cfg.Server.Port)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not observed")
	}
}
