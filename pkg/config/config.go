package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/2rtk/ntripcaster/pkg/store"
)

// Config represents the caster configuration.
//
// This structure captures the static configuration of the caster:
//   - Logging configuration
//   - NTRIP listener settings (port, per-user caps, timeouts)
//   - Network and TCP keepalive tuning
//   - Data forwarding (ring buffer, outbox, send timeouts)
//   - RTCM inspection windows
//   - Caster identity served in the sourcetable CAS/NET lines
//   - Web/admin API server
//   - Credential database (SQLite)
//
// Users and mount credentials are dynamic and managed through the admin
// API or CLI; they live in the database, not here.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (NTRIPCASTER_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Ntrip configures the caster listener and per-user limits
	Ntrip NtripConfig `mapstructure:"ntrip" yaml:"ntrip"`

	// Network configures global connection limits and buffer sizes
	Network NetworkConfig `mapstructure:"network" yaml:"network"`

	// TCP configures socket keepalive and header read timeouts
	TCP TCPConfig `mapstructure:"tcp" yaml:"tcp"`

	// Forwarding configures the per-mount ring buffer and subscriber dispatch
	Forwarding ForwardingConfig `mapstructure:"data_forwarding" yaml:"data_forwarding"`

	// RTCM configures the stream inspector windows
	RTCM RTCMConfig `mapstructure:"rtcm" yaml:"rtcm"`

	// Caster is the identity advertised in the sourcetable CAS/NET lines
	Caster CasterConfig `mapstructure:"caster" yaml:"caster"`

	// App is operator-facing branding used in the sourcetable and logs
	App AppConfig `mapstructure:"app" yaml:"app"`

	// Web configures the admin HTTP API server
	Web WebConfig `mapstructure:"web" yaml:"web"`

	// Database configures the credential store (SQLite)
	Database store.Config `mapstructure:"database" yaml:"database"`

	// Metrics contains Prometheus metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format: text or json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// NtripConfig configures the NTRIP listener.
type NtripConfig struct {
	// Port is the TCP port the caster listens on. Default: 2101
	Port int `mapstructure:"port" validate:"required,min=1,max=65535" yaml:"port"`

	// MaxConnectionsPerUser bounds concurrent connections per authenticated
	// user. Default: 3
	MaxConnectionsPerUser int `mapstructure:"max_connections_per_user" validate:"min=1" yaml:"max_connections_per_user"`

	// ConnectionTimeout is the idle cutoff for producers that stop sending
	// data. Default: 30m
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout" yaml:"connection_timeout"`
}

// NetworkConfig configures global connection limits and buffer sizes.
type NetworkConfig struct {
	// Host is the listen address. Default: 0.0.0.0
	Host string `mapstructure:"host" yaml:"host"`

	// MaxConnections is the global concurrent connection cap and the size
	// of the bounded accept queue. Default: 5000
	MaxConnections int `mapstructure:"max_connections" validate:"min=1" yaml:"max_connections"`

	// BufferSize is the read buffer for producer sockets. Default: 81920
	BufferSize int `mapstructure:"buffer_size" validate:"min=512" yaml:"buffer_size"`

	// MaxBufferSize caps adaptive buffer growth. Default: 655360
	MaxBufferSize int `mapstructure:"max_buffer_size" yaml:"max_buffer_size"`
}

// TCPConfig configures socket keepalive and header read timeouts.
type TCPConfig struct {
	// KeepaliveEnabled turns on TCP keepalive probing. Default: true
	KeepaliveEnabled bool `mapstructure:"keepalive_enabled" yaml:"keepalive_enabled"`

	// KeepaliveIdle is the idle time before the first probe. Default: 60s
	KeepaliveIdle time.Duration `mapstructure:"keepalive_idle" yaml:"keepalive_idle"`

	// KeepaliveInterval is the gap between probes. Default: 10s
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval" yaml:"keepalive_interval"`

	// KeepaliveCount is the number of unanswered probes before the
	// connection is declared dead. Default: 3
	KeepaliveCount int `mapstructure:"keepalive_count" yaml:"keepalive_count"`

	// SocketTimeout bounds the initial request-line and header read.
	// Default: 120s
	SocketTimeout time.Duration `mapstructure:"socket_timeout" yaml:"socket_timeout"`
}

// ForwardingConfig configures the per-mount ring buffer and dispatch.
type ForwardingConfig struct {
	// RingBufferSize is the per-mount chunk ring capacity. Default: 60
	RingBufferSize int `mapstructure:"ring_buffer_size" validate:"min=1" yaml:"ring_buffer_size"`

	// OutboxSize is the per-subscriber bounded queue. Default: 16
	OutboxSize int `mapstructure:"outbox_size" validate:"min=1" yaml:"outbox_size"`

	// DataSendTimeout bounds each subscriber socket write. Default: 5s
	DataSendTimeout time.Duration `mapstructure:"data_send_timeout" yaml:"data_send_timeout"`

	// SlowConsumerEvents is the number of dropped chunks within
	// SlowConsumerWindow after which a subscriber is evicted. Default: 32
	SlowConsumerEvents int `mapstructure:"slow_consumer_events" yaml:"slow_consumer_events"`

	// SlowConsumerWindow is the eviction accounting window. Default: 60s
	SlowConsumerWindow time.Duration `mapstructure:"slow_consumer_window" yaml:"slow_consumer_window"`

	// RemovalGrace is how long a dead producer's mount lingers so
	// in-flight chunks can drain. Default: 1500ms
	RemovalGrace time.Duration `mapstructure:"removal_grace" yaml:"removal_grace"`
}

// RTCMConfig configures the stream inspector.
type RTCMConfig struct {
	// ParseDuration is how long the STR-fix inspection observes a new
	// upload before rewriting its sourcetable row. Default: 30s
	ParseDuration time.Duration `mapstructure:"parse_duration" yaml:"parse_duration"`

	// ParseInterval is the bitrate warm-up before counting bytes.
	// Default: 5s
	ParseInterval time.Duration `mapstructure:"parse_interval" yaml:"parse_interval"`
}

// CasterConfig is the station identity served in the CAS line and used
// as the fallback for freshly admitted mounts.
type CasterConfig struct {
	// Country is the ISO 3166 alpha-3 code. Default: CHN
	Country string `mapstructure:"country" validate:"omitempty,len=3" yaml:"country"`

	// Latitude and Longitude locate the caster operator, degrees WGS84
	Latitude  float64 `mapstructure:"latitude" validate:"gte=-90,lte=90" yaml:"latitude"`
	Longitude float64 `mapstructure:"longitude" validate:"gte=-180,lte=180" yaml:"longitude"`
}

// AppConfig is operator branding used in sourcetable lines.
type AppConfig struct {
	Name    string `mapstructure:"name" yaml:"name"`
	Author  string `mapstructure:"author" yaml:"author"`
	Website string `mapstructure:"website" yaml:"website"`
	Contact string `mapstructure:"contact" yaml:"contact"`
}

// WebConfig configures the admin HTTP API server.
type WebConfig struct {
	// Port is the admin API port. Default: 5757
	Port int `mapstructure:"port" validate:"min=1,max=65535" yaml:"port"`

	// JWTSecret signs admin API tokens. Generated at startup when empty.
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret,omitempty"`

	// TokenTTL is the admin token lifetime. Default: 12h
	TokenTTL time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// MetricsConfig configures Prometheus metrics exposure on the web port.
// When Enabled is false no metrics are collected.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (NTRIPCASTER_*)
//  2. Configuration file
//  3. Default values
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when the file
// the caller pointed at does not exist.
func MustLoad(configPath string) (*Config, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Create it first:\n"+
				"  ntripcaster init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the file may carry the JWT secret
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Watch re-reads the config file on change and invokes fn with the newly
// loaded configuration. Only caster identity and branding are expected to
// change at runtime; listener-level settings require a restart.
func Watch(configPath string, fn func(*Config)) error {
	v := viper.New()
	setupViper(v, configPath)
	if _, err := readConfigFile(v); err != nil {
		return err
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
			return
		}
		ApplyDefaults(&cfg)
		if err := Validate(&cfg); err != nil {
			return
		}
		fn(&cfg)
	})
	v.WatchConfig()
	return nil
}

// setupViper configures viper with environment variables and config file
// settings. Environment variables use the NTRIPCASTER_ prefix, e.g.
// NTRIPCASTER_LOGGING_LEVEL=DEBUG.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("NTRIPCASTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.AddConfigPath("/etc/ntripcaster")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error).
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// durationDecodeHook converts strings like "30s" and raw numbers to
// time.Duration. Raw numbers are interpreted as seconds because the
// historical config format used bare second counts.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "ntripcaster")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "ntripcaster")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// GetConfigDir returns the configuration directory path (exposed for the
// init command).
func GetConfigDir() string {
	return getConfigDir()
}
