package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkeye/Roulette/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_DIR", t.TempDir())
	t.Setenv("CONFIG_ENV", "missing")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, time.Second, cfg.PairInterval)
	assert.Equal(t, 3, cfg.ReportLimit)
	require.Len(t, cfg.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICEServers[0].URLs)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
mode: debug
port: 9000
presence_interval: 2s
redis:
  addr: localhost:6379
ice_servers:
  - urls: ["stun:127.0.0.1:3478"]
  - urls: ["turn:127.0.0.1:3478"]
    username: u
    credential: p
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.test.yaml"), []byte(yaml), 0o600))
	t.Setenv("CONFIG_DIR", dir)
	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("ROULETTE_PORT", "9100")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9100, cfg.Port, "env wins over the file")
	assert.Equal(t, 2*time.Second, cfg.PresenceInterval)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)

	servers := config.WebRTCServers(cfg.ICEServers)
	require.Len(t, servers, 2)
	assert.Equal(t, "u", servers[1].Username)
	assert.Equal(t, "p", servers[1].Credential)
}

func TestLoadClient_RetryDefaults(t *testing.T) {
	t.Setenv("CONFIG_DIR", t.TempDir())
	t.Setenv("CONFIG_ENV", "missing")

	cfg, err := config.LoadClient()
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 10*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, "guest", cfg.Profile.Username)
	assert.Equal(t, 640, cfg.Media.Width)
}

func TestLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, config.Level("DEBUG"))
	assert.Equal(t, zerolog.InfoLevel, config.Level(""))
	assert.Equal(t, zerolog.InfoLevel, config.Level("loud"))
}
