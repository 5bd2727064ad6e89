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
env: development
log:
  show_caller: true
  log_level: debug
graceful_shutdown_timeout: 10s
port:
  http: "8080"
exchanges:
  binance:
    api_key: key
    api_secret: secret
    base_url: https://testnet.binancefuture.com
    recv_window: 5000
composite:
  exchange: binance
  grid_poll_interval: 3s
  retention_max_age: 48h
`

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	require.NoError(t, LoadConfig(path))
	require.NotNil(t, Env)

	assert.Equal(t, "development", Env.Env)
	assert.Equal(t, "debug", Env.Log.LogLevel)
	assert.Equal(t, 10*time.Second, Env.GracefulShutdownTimeout)
	assert.Equal(t, "8080", Env.Port["http"])
	assert.Equal(t, "secret", Env.Exchanges["binance"].APISecret)
	assert.Equal(t, int64(5000), Env.Exchanges["binance"].RecvWindow)

	assert.Equal(t, 3*time.Second, Env.Composite.ResolveGridPollInterval())
	assert.Equal(t, DefaultOCOPollInterval, Env.Composite.ResolveOCOPollInterval())
	assert.Equal(t, 48*time.Hour, Env.Composite.ResolveRetentionMaxAge())
	assert.Equal(t, 48*time.Hour, Env.Composite.ResolveSnapshotTTL())
	assert.Equal(t, DefaultSweepInterval, Env.Composite.ResolveSweepInterval())
}

func TestLoadConfigMissingFile(t *testing.T) {
	err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}
