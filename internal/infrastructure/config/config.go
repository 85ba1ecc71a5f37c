package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for mbn-addressd.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Allocator AllocatorConfig `yaml:"allocator"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Bus       BusConfig       `yaml:"bus"`
	Admin     AdminConfig     `yaml:"admin"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DatabaseConfig contains SQLite database settings for the node registry.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// AllocatorConfig controls the address allocator.
type AllocatorConfig struct {
	// FirstAddress is the lowest address handed out to new nodes, as
	// eight hex digits (e.g. "00010000").
	FirstAddress string `yaml:"first_address"`
}

// MQTTConfig contains MQTT broker connection settings.
// The broker carries bus traffic between this service and the bus gateway.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// BusConfig contains bus transport settings.
type BusConfig struct {
	// TopicPrefix is the MQTT topic root shared with the bus gateway.
	TopicPrefix string `yaml:"topic_prefix"`

	// EventQueueSize bounds the number of inbound bus events waiting for
	// the core loop. Events arriving while the queue is full are dropped.
	EventQueueSize int `yaml:"event_queue_size"`
}

// AdminConfig contains administrative socket settings.
type AdminConfig struct {
	SocketPath string `yaml:"socket_path"`

	// SocketMode is the octal file mode applied to the socket file (e.g. "0660").
	SocketMode string `yaml:"socket_mode"`

	// MaxSessions bounds concurrently connected administrative clients.
	MaxSessions int `yaml:"max_sessions"`

	// OutputQueueSize is the number of reply/notification lines buffered per
	// session before the session is considered stalled and closed.
	OutputQueueSize int `yaml:"output_queue_size"`

	// MaxLineLength is the longest accepted command line in bytes.
	MaxLineLength int `yaml:"max_line_length"`
}

// APIConfig contains the read-only HTTP status API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket notification stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for bus diagnostics.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MBNADDRESS_SECTION_KEY
// For example: MBNADDRESS_DATABASE_PATH, MBNADDRESS_ADMIN_SOCKET
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/mbn-address.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Allocator: AllocatorConfig{
			FirstAddress: "00010000",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "mbn-addressd",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Bus: BusConfig{
			TopicPrefix:    "mambanet/bus",
			EventQueueSize: 256,
		},
		Admin: AdminConfig{
			SocketPath:      "/run/mbn-address.socket",
			SocketMode:      "0660",
			MaxSessions:     10,
			OutputQueueSize: 256,
			MaxLineLength:   4096,
		},
		API: APIConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MBNADDRESS_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MBNADDRESS_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("MBNADDRESS_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MBNADDRESS_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("MBNADDRESS_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MBNADDRESS_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("MBNADDRESS_ADMIN_SOCKET"); v != "" {
		cfg.Admin.SocketPath = v
	}

	if v := os.Getenv("MBNADDRESS_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if _, err := c.FirstAddress(); err != nil {
		errs = append(errs, "allocator.first_address must be 8 hex digits and non-zero")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Bus.TopicPrefix == "" {
		errs = append(errs, "bus.topic_prefix is required")
	}
	if c.Bus.EventQueueSize < 1 {
		errs = append(errs, "bus.event_queue_size must be at least 1")
	}

	if c.Admin.SocketPath == "" {
		errs = append(errs, "admin.socket_path is required")
	}
	if _, err := c.SocketFileMode(); err != nil {
		errs = append(errs, "admin.socket_mode must be an octal file mode")
	}
	if c.Admin.MaxSessions < 1 {
		errs = append(errs, "admin.max_sessions must be at least 1")
	}
	if c.Admin.OutputQueueSize < 1 {
		errs = append(errs, "admin.output_queue_size must be at least 1")
	}
	if c.Admin.MaxLineLength < 64 {
		errs = append(errs, "admin.max_line_length must be at least 64")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// FirstAddress parses Allocator.FirstAddress.
func (c *Config) FirstAddress() (uint32, error) {
	s := c.Allocator.FirstAddress
	if len(s) != 8 {
		return 0, fmt.Errorf("first address %q: want 8 hex digits", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("first address %q: %w", s, err)
	}
	if v == 0 {
		return 0, fmt.Errorf("first address must be non-zero")
	}
	return uint32(v), nil
}

// SocketFileMode parses Admin.SocketMode.
func (c *Config) SocketFileMode() (os.FileMode, error) {
	v, err := strconv.ParseUint(c.Admin.SocketMode, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("socket mode %q: %w", c.Admin.SocketMode, err)
	}
	return os.FileMode(v), nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
