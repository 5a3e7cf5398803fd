package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadEchoServerConfig(t *testing.T) {
	path := writeFile(t, `
server:
  id: echo-1
  health_addr: 127.0.0.1:9090
listener:
  host: 127.0.0.1
  port: 7000
  always_receive: true
  tuning:
    read_timeout: 30s
    linger: 0
    no_delay: true
log:
  format: console
metrics:
  enabled: true
`)

	cfg, err := LoadEchoServerConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "echo-1", cfg.Server.ID)
	assert.Equal(t, 7000, cfg.Listener.Port)
	assert.True(t, cfg.Listener.AlwaysReceive)
	assert.Equal(t, 30*time.Second, cfg.Listener.Tuning.ReadTimeout)
	require.NotNil(t, cfg.Listener.Tuning.Linger)
	assert.Equal(t, 0, *cfg.Listener.Tuning.Linger)
	require.NotNil(t, cfg.Listener.Tuning.NoDelay)
	assert.True(t, *cfg.Listener.Tuning.NoDelay)

	// defaults
	assert.Equal(t, "tcp", cfg.Listener.Protocol)
	assert.Equal(t, DefaultBacklog, cfg.Listener.Backlog)
	assert.Equal(t, DefaultCapacity, cfg.Listener.Capacity)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadBridgeConfig(t *testing.T) {
	path := writeFile(t, `
server:
  addr: 127.0.0.1:8080
upstream:
  host: localhost
  port: 7000
  timeout: 2s
reconnect:
  attempts: 3
`)

	cfg, err := LoadBridgeConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/ws", cfg.WebSocket.Path)
	assert.Equal(t, 2*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, DefaultCapacity, cfg.Upstream.Capacity)
	assert.Equal(t, 3, cfg.Reconnect.Attempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Reconnect.MinInterval)
}

func TestLoadBridgeConfigInvalid(t *testing.T) {
	path := writeFile(t, `
server:
  addr: 127.0.0.1:8080
upstream:
  host: localhost
`)
	_, err := LoadBridgeConfig(path)
	require.Error(t, err)

	_, err = LoadBridgeConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = LoadEchoServerConfig(writeFile(t, "listener: [1, 2"))
	require.Error(t, err)
}
