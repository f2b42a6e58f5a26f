package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Len(t, cfg.Controller.Ports, 13)
	assert.Equal(t, 5846, cfg.Device.Port)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, "goxfs.yaml", `
controller:
  host: atm.local
  ports: [5846, 5847]
  command_timeout: 10s
  rescan_interval: 1m
device:
  port: 5847
  insert_delay: 250ms
log:
  level: debug
  format: text
bridge:
  nats_url: nats://localhost:4222
  status_ttl: 1h
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "atm.local", cfg.Controller.Host)
	assert.Equal(t, []int{5846, 5847}, cfg.Controller.Ports)
	assert.Equal(t, 10*time.Second, cfg.Controller.CommandTimeout)
	assert.Equal(t, time.Minute, cfg.Controller.RescanInterval)
	assert.Equal(t, 5*time.Second, cfg.Controller.AckTimeout)
	assert.Equal(t, 5847, cfg.Device.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Device.InsertDelay)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "nats://localhost:4222", cfg.Bridge.NATSURL)
	assert.Equal(t, time.Hour, cfg.Bridge.StatusTTL)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "goxfs.yaml", "controller:\n  host: atm.local\n")
	t.Setenv("XFS_CONTROLLER_HOST", "kiosk")
	t.Setenv("XFS_CONTROLLER_PORTS", "5846, 5850")
	t.Setenv("XFS_DEVICE_PORT", "5850")
	t.Setenv("XFS_MCP", "true")
	t.Setenv("XFS_COMMAND_TIMEOUT", "2s")
	t.Setenv("XFS_REDIS_ADDR", "localhost:6379")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "kiosk", cfg.Controller.Host)
	assert.Equal(t, []int{5846, 5850}, cfg.Controller.Ports)
	assert.Equal(t, 5850, cfg.Device.Port)
	assert.True(t, cfg.Controller.MCP)
	assert.Equal(t, 2*time.Second, cfg.Controller.CommandTimeout)
	assert.True(t, cfg.Bridge.Enabled())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), "config load failed")

	_, err = Load(writeFile(t, "bad.yaml", "controller: [\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config parse failed")

	t.Setenv("XFS_DEVICE_PORT", "many")
	_, err = Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "XFS_DEVICE_PORT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no ports", func(c *Config) { c.Controller.Ports = nil }},
		{"port out of range", func(c *Config) { c.Controller.Ports = []int{5846, 70000} }},
		{"empty host", func(c *Config) { c.Controller.Host = " " }},
		{"bad template", func(c *Config) { c.Controller.Template = "ws://localhost/xfs4iot" }},
		{"device port", func(c *Config) { c.Device.Port = 0 }},
		{"tcp port clash", func(c *Config) { c.Device.TCPPort = c.Device.Port }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"negative rescan", func(c *Config) { c.Controller.RescanInterval = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestLoadEnvFiles(t *testing.T) {
	path := writeFile(t, ".env", "XFS_TEST_ONLY_VALUE=from-file\n")
	t.Setenv("XFS_TEST_ONLY_VALUE", "")
	os.Unsetenv("XFS_TEST_ONLY_VALUE")

	require.NoError(t, LoadEnvFiles(filepath.Join(t.TempDir(), "absent.env"), path))
	assert.Equal(t, "from-file", os.Getenv("XFS_TEST_ONLY_VALUE"))
}
