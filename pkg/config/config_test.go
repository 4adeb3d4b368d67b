package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.Equal(t, 2101, cfg.Ntrip.Port)
	assert.Equal(t, 3, cfg.Ntrip.MaxConnectionsPerUser)
	assert.Equal(t, 30*time.Minute, cfg.Ntrip.ConnectionTimeout)
	assert.Equal(t, "0.0.0.0", cfg.Network.Host)
	assert.Equal(t, 5000, cfg.Network.MaxConnections)
	assert.Equal(t, 81920, cfg.Network.BufferSize)
	assert.True(t, cfg.TCP.KeepaliveEnabled)
	assert.Equal(t, 60*time.Second, cfg.TCP.KeepaliveIdle)
	assert.Equal(t, 120*time.Second, cfg.TCP.SocketTimeout)
	assert.Equal(t, 60, cfg.Forwarding.RingBufferSize)
	assert.Equal(t, 16, cfg.Forwarding.OutboxSize)
	assert.Equal(t, 5*time.Second, cfg.Forwarding.DataSendTimeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.Forwarding.RemovalGrace)
	assert.Equal(t, 30*time.Second, cfg.RTCM.ParseDuration)
	assert.Equal(t, 5*time.Second, cfg.RTCM.ParseInterval)
	assert.Equal(t, "CHN", cfg.Caster.Country)
	assert.Equal(t, 5757, cfg.Web.Port)
	assert.Equal(t, "INFO", cfg.Logging.Level)

	require.NoError(t, Validate(cfg))
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
logging:
  level: debug
  format: json
ntrip:
  port: 2102
  max_connections_per_user: 10
network:
  max_connections: 100
tcp:
  socket_timeout: 30s
data_forwarding:
  ring_buffer_size: 8
rtcm:
  parse_duration: 20s
caster:
  country: DEU
  latitude: 52.52
  longitude: 13.405
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level, "level is normalized to uppercase")
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 2102, cfg.Ntrip.Port)
	assert.Equal(t, 10, cfg.Ntrip.MaxConnectionsPerUser)
	assert.Equal(t, 100, cfg.Network.MaxConnections)
	assert.Equal(t, 30*time.Second, cfg.TCP.SocketTimeout)
	assert.Equal(t, 8, cfg.Forwarding.RingBufferSize)
	assert.Equal(t, 20*time.Second, cfg.RTCM.ParseDuration)
	assert.Equal(t, "DEU", cfg.Caster.Country)

	// Untouched sections still get defaults.
	assert.Equal(t, 16, cfg.Forwarding.OutboxSize)
	assert.Equal(t, 5757, cfg.Web.Port)
}

func TestBareSecondsDurations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
tcp:
  keepalive_idle: 45
  socket_timeout: 90
rtcm:
  parse_duration: 25
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.TCP.KeepaliveIdle)
	assert.Equal(t, 90*time.Second, cfg.TCP.SocketTimeout)
	assert.Equal(t, 25*time.Second, cfg.RTCM.ParseDuration)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 2101, cfg.Ntrip.Port)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port collision", func(c *Config) { c.Web.Port = c.Ntrip.Port }},
		{"bad log level", func(c *Config) { c.Logging.Level = "LOUD" }},
		{"buffer inversion", func(c *Config) { c.Network.MaxBufferSize = 1024 }},
		{"parse interval too long", func(c *Config) { c.RTCM.ParseInterval = time.Minute }},
		{"latitude out of range", func(c *Config) { c.Caster.Latitude = 91 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestSaveAndReloadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := GetDefaultConfig()
	cfg.Ntrip.Port = 9901
	cfg.Caster.Country = "FRA"
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9901, loaded.Ntrip.Port)
	assert.Equal(t, "FRA", loaded.Caster.Country)
}
