package config

import (
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields. Called after loading from file and environment so explicit
// values are preserved and zero values are replaced.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyNtripDefaults(&cfg.Ntrip)
	applyNetworkDefaults(&cfg.Network)
	applyTCPDefaults(&cfg.TCP)
	applyForwardingDefaults(&cfg.Forwarding)
	applyRTCMDefaults(&cfg.RTCM)
	applyCasterDefaults(&cfg.Caster)
	applyAppDefaults(&cfg.App)
	applyWebDefaults(&cfg.Web)
	cfg.Database.ApplyDefaults()

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyNtripDefaults(cfg *NtripConfig) {
	if cfg.Port == 0 {
		cfg.Port = 2101
	}
	if cfg.MaxConnectionsPerUser == 0 {
		cfg.MaxConnectionsPerUser = 3
	}
	if cfg.ConnectionTimeout == 0 {
		cfg.ConnectionTimeout = 30 * time.Minute
	}
}

func applyNetworkDefaults(cfg *NetworkConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 5000
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 81920
	}
	if cfg.MaxBufferSize == 0 {
		cfg.MaxBufferSize = 655360
	}
}

func applyTCPDefaults(cfg *TCPConfig) {
	// KeepaliveEnabled defaults to true; zero value is false, so only
	// flip it when the whole section is untouched.
	if !cfg.KeepaliveEnabled && cfg.KeepaliveIdle == 0 && cfg.KeepaliveInterval == 0 && cfg.KeepaliveCount == 0 {
		cfg.KeepaliveEnabled = true
	}
	if cfg.KeepaliveIdle == 0 {
		cfg.KeepaliveIdle = 60 * time.Second
	}
	if cfg.KeepaliveInterval == 0 {
		cfg.KeepaliveInterval = 10 * time.Second
	}
	if cfg.KeepaliveCount == 0 {
		cfg.KeepaliveCount = 3
	}
	if cfg.SocketTimeout == 0 {
		cfg.SocketTimeout = 120 * time.Second
	}
}

func applyForwardingDefaults(cfg *ForwardingConfig) {
	if cfg.RingBufferSize == 0 {
		cfg.RingBufferSize = 60
	}
	if cfg.OutboxSize == 0 {
		cfg.OutboxSize = 16
	}
	if cfg.DataSendTimeout == 0 {
		cfg.DataSendTimeout = 5 * time.Second
	}
	if cfg.SlowConsumerEvents == 0 {
		cfg.SlowConsumerEvents = 32
	}
	if cfg.SlowConsumerWindow == 0 {
		cfg.SlowConsumerWindow = 60 * time.Second
	}
	if cfg.RemovalGrace == 0 {
		cfg.RemovalGrace = 1500 * time.Millisecond
	}
}

func applyRTCMDefaults(cfg *RTCMConfig) {
	if cfg.ParseDuration == 0 {
		cfg.ParseDuration = 30 * time.Second
	}
	if cfg.ParseInterval == 0 {
		cfg.ParseInterval = 5 * time.Second
	}
}

func applyCasterDefaults(cfg *CasterConfig) {
	if cfg.Country == "" {
		cfg.Country = "CHN"
	}
	if cfg.Latitude == 0 {
		cfg.Latitude = 25.20341154
	}
	if cfg.Longitude == 0 {
		cfg.Longitude = 110.277492
	}
}

func applyAppDefaults(cfg *AppConfig) {
	if cfg.Name == "" {
		cfg.Name = "2RTK Ntrip Caster"
	}
	if cfg.Author == "" {
		cfg.Author = "2rtk"
	}
	if cfg.Website == "" {
		cfg.Website = "https://2rtk.com"
	}
	if cfg.Contact == "" {
		cfg.Contact = "admin@2rtk.com"
	}
}

func applyWebDefaults(cfg *WebConfig) {
	if cfg.Port == 0 {
		cfg.Port = 5757
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = 12 * time.Hour
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
}

// GetDefaultConfig returns a Config struct with all default values
// applied. Useful for generating sample configuration files and tests.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
