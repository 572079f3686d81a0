package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file used when VRPNCORE_CONFIG is unset.
const DefaultPath = "configs/config.yaml"

// Config is the root configuration structure for vrpn-core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Server    ServerConfig    `yaml:"server"`
	Journal   JournalConfig   `yaml:"journal"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// ServerConfig contains settings for the supervised VRPN server.
type ServerConfig struct {
	// Name labels the server in logs, metrics and topics.
	Name string `yaml:"name"`

	// Binary is the path to the vrpn_server executable.
	Binary string `yaml:"binary"`

	// Args come between the binary and the config file path.
	// Default: ["-f"]
	Args []string `yaml:"args"`

	// ExtraArgs come after the config file path.
	ExtraArgs []string `yaml:"extra_args"`

	// Sentinel is a regular expression that marks the server as ready when
	// it appears on stdout. Empty disables the readiness gate.
	Sentinel string `yaml:"sentinel"`

	// ReadinessTimeout bounds the wait for Sentinel. 0 waits forever.
	ReadinessTimeout time.Duration `yaml:"readiness_timeout"`

	// SettleDelay is waited after readiness before the liveness check.
	SettleDelay time.Duration `yaml:"settle_delay"`

	// ExitProbe is how long the liveness check waits for an exit.
	ExitProbe time.Duration `yaml:"exit_probe"`

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration `yaml:"graceful_timeout"`

	// TempDir is where the generated config file is written.
	TempDir string `yaml:"temp_dir,omitempty"`

	// Host is the address collaborators use to reach the server.
	Host string `yaml:"host"`

	// ServiceInterval is how often collaborators are polled.
	ServiceInterval time.Duration `yaml:"service_interval"`

	// Devices are written to the server config file in order.
	Devices []DeviceConfig `yaml:"devices"`
}

// DeviceConfig is one device entry of the server config file.
type DeviceConfig struct {
	Type                  string   `yaml:"type"`
	Name                  string   `yaml:"name,omitempty"`
	Args                  []string `yaml:"args,omitempty"`
	AdditionalLines       []string `yaml:"additional_lines,omitempty"`
	ContinueWithBackslash bool     `yaml:"continue_with_backslash,omitempty"`
}

// JournalConfig contains SQLite run journal settings.
type JournalConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// PublishOutput relays every server output line to the output topics.
	PublishOutput bool `yaml:"publish_output"`
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains settings for the live output WebSocket.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Path returns the configuration file path from VRPNCORE_CONFIG, or
// DefaultPath when it is unset.
func Path() string {
	if v := os.Getenv("VRPNCORE_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load layers defaults, the YAML file at path and VRPNCORE_* variables
// (e.g. VRPNCORE_SERVER_BINARY, VRPNCORE_API_PORT), in that order, and
// validates the result.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read or parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "VRPN Core",
		},
		Server: ServerConfig{
			Name:             "vrpn_server",
			Binary:           "vrpn_server",
			Args:             []string{"-f"},
			ReadinessTimeout: 10 * time.Second,
			ExitProbe:        50 * time.Millisecond,
			GracefulTimeout:  10 * time.Second,
			Host:             "localhost",
			ServiceInterval:  10 * time.Millisecond,
		},
		Journal: JournalConfig{
			Enabled:     true,
			Path:        "./data/vrpncore.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "vrpncore",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Bucket:        "vrpncore",
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
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
// Environment variables follow the pattern: VRPNCORE_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	var errs []string

	// Server
	if v := os.Getenv("VRPNCORE_SERVER_BINARY"); v != "" {
		cfg.Server.Binary = v
	}
	if v := os.Getenv("VRPNCORE_SERVER_SENTINEL"); v != "" {
		cfg.Server.Sentinel = v
	}
	if v := os.Getenv("VRPNCORE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("VRPNCORE_SERVER_READINESS_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("VRPNCORE_SERVER_READINESS_TIMEOUT: %v", err))
		} else {
			cfg.Server.ReadinessTimeout = d
		}
	}

	// Journal
	if v := os.Getenv("VRPNCORE_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}

	// MQTT
	if v := os.Getenv("VRPNCORE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("VRPNCORE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("VRPNCORE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("VRPNCORE_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("VRPNCORE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("VRPNCORE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("VRPNCORE_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("VRPNCORE_API_PORT: %v", err))
		} else {
			cfg.API.Port = port
		}
	}

	// Logging
	if v := os.Getenv("VRPNCORE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate reports every problem found in one error.
func (c *Config) Validate() error {
	var errs []string

	// Site validation
	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Server validation
	if c.Server.Binary == "" {
		errs = append(errs, "server.binary is required")
	}
	if c.Server.Sentinel != "" {
		if _, err := regexp.Compile(c.Server.Sentinel); err != nil {
			errs = append(errs, fmt.Sprintf("server.sentinel is not a valid regular expression: %v", err))
		}
	}
	for name, d := range map[string]time.Duration{
		"server.readiness_timeout": c.Server.ReadinessTimeout,
		"server.settle_delay":      c.Server.SettleDelay,
		"server.exit_probe":        c.Server.ExitProbe,
		"server.graceful_timeout":  c.Server.GracefulTimeout,
		"server.service_interval":  c.Server.ServiceInterval,
	} {
		if d < 0 {
			errs = append(errs, name+" must not be negative")
		}
	}
	for i, d := range c.Server.Devices {
		if d.Type == "" {
			errs = append(errs, fmt.Sprintf("server.devices[%d].type is required", i))
		}
	}

	// Journal validation
	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, "journal.path is required when the journal is enabled")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required when MQTT is enabled")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when InfluxDB is enabled")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Command returns the server executable followed by its leading arguments.
func (s ServerConfig) Command() []string {
	return append([]string{s.Binary}, s.Args...)
}

// ReadTimeout is the HTTP read (and read header) timeout.
func (t APITimeoutConfig) ReadTimeout() time.Duration {
	return time.Duration(t.Read) * time.Second
}

// WriteTimeout bounds a whole response, so it must cover a stop that
// waits out the graceful timeout.
func (t APITimeoutConfig) WriteTimeout() time.Duration {
	return time.Duration(t.Write) * time.Second
}

// IdleTimeout is the keep-alive idle timeout.
func (t APITimeoutConfig) IdleTimeout() time.Duration {
	return time.Duration(t.Idle) * time.Second
}
