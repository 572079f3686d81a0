package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
site:
  id: "lab-1"
server:
  name: "tracker"
  binary: "/usr/local/bin/vrpn_server"
  sentinel: "Begin main loop"
  readiness_timeout: 5s
  settle_delay: 250ms
  extra_args: ["-millisleep", "1"]
  devices:
    - type: "test_tracker"
      name: "Tracker0"
      args: ["2", "60.0"]
    - type: "liberty_latus"
      args: ["4"]
      additional_lines: ["F1"]
journal:
  path: "/tmp/test.db"
mqtt:
  enabled: true
  broker:
    host: "broker.local"
    port: 1883
  qos: 1
api:
  port: 9000
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "lab-1" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "lab-1")
	}
	if cfg.Server.Binary != "/usr/local/bin/vrpn_server" {
		t.Errorf("Server.Binary = %q, want %q", cfg.Server.Binary, "/usr/local/bin/vrpn_server")
	}
	if cfg.Server.ReadinessTimeout != 5*time.Second {
		t.Errorf("Server.ReadinessTimeout = %v, want %v", cfg.Server.ReadinessTimeout, 5*time.Second)
	}
	if cfg.Server.SettleDelay != 250*time.Millisecond {
		t.Errorf("Server.SettleDelay = %v, want %v", cfg.Server.SettleDelay, 250*time.Millisecond)
	}
	if len(cfg.Server.Devices) != 2 {
		t.Fatalf("len(Server.Devices) = %d, want 2", len(cfg.Server.Devices))
	}
	if cfg.Server.Devices[1].Type != "liberty_latus" || cfg.Server.Devices[1].AdditionalLines[0] != "F1" {
		t.Errorf("Server.Devices[1] = %+v", cfg.Server.Devices[1])
	}
	if got := strings.Join(cfg.Server.Command(), " "); got != "/usr/local/bin/vrpn_server -f" {
		t.Errorf("Server.Command() = %q, want %q", got, "/usr/local/bin/vrpn_server -f")
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.API.Port != 9000 {
		t.Errorf("API.Port = %d, want 9000", cfg.API.Port)
	}
	// Defaults survive for keys the file leaves out.
	if cfg.Server.GracefulTimeout != 10*time.Second {
		t.Errorf("Server.GracefulTimeout = %v, want default %v", cfg.Server.GracefulTimeout, 10*time.Second)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
site:
  id: ""
server:
  sentinel: "("
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	for _, want := range []string{"site.id is required", "server.sentinel"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Load() error = %q, want it to mention %q", err, want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config { return defaultConfig() }

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"missing site ID", func(c *Config) { c.Site.ID = "" }, true},
		{"missing binary", func(c *Config) { c.Server.Binary = "" }, true},
		{"bad sentinel", func(c *Config) { c.Server.Sentinel = "[" }, true},
		{"negative settle delay", func(c *Config) { c.Server.SettleDelay = -time.Second }, true},
		{"device without type", func(c *Config) { c.Server.Devices = []DeviceConfig{{Name: "x"}} }, true},
		{"journal enabled without path", func(c *Config) { c.Journal.Path = "" }, true},
		{"journal disabled without path", func(c *Config) { c.Journal.Enabled = false; c.Journal.Path = "" }, false},
		{"invalid QoS", func(c *Config) { c.MQTT.QoS = 3 }, true},
		{"mqtt enabled without host", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.Broker.Host = "" }, true},
		{"influx enabled without bucket", func(c *Config) { c.InfluxDB.Enabled = true; c.InfluxDB.Bucket = "" }, true},
		{"invalid port low", func(c *Config) { c.API.Port = 0 }, true},
		{"invalid port high", func(c *Config) { c.API.Port = 70000 }, true},
		{"api disabled with bad port", func(c *Config) { c.API.Enabled = false; c.API.Port = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAPITimeoutConfig(t *testing.T) {
	timeouts := APITimeoutConfig{Read: 30, Write: 45, Idle: 60}

	if got := timeouts.ReadTimeout(); got != 30*time.Second {
		t.Errorf("ReadTimeout() = %v, want 30s", got)
	}
	if got := timeouts.WriteTimeout(); got != 45*time.Second {
		t.Errorf("WriteTimeout() = %v, want 45s", got)
	}
	if got := timeouts.IdleTimeout(); got != 60*time.Second {
		t.Errorf("IdleTimeout() = %v, want 60s", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("VRPNCORE_SERVER_BINARY", "/opt/vrpn/bin/vrpn_server")
	t.Setenv("VRPNCORE_SERVER_SENTINEL", "ready")
	t.Setenv("VRPNCORE_SERVER_READINESS_TIMEOUT", "3s")
	t.Setenv("VRPNCORE_JOURNAL_PATH", "/custom/path.db")
	t.Setenv("VRPNCORE_MQTT_HOST", "mqtt.example.com")
	t.Setenv("VRPNCORE_MQTT_USERNAME", "testuser")
	t.Setenv("VRPNCORE_MQTT_PASSWORD", "testpass")
	t.Setenv("VRPNCORE_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("VRPNCORE_API_PORT", "9100")
	t.Setenv("VRPNCORE_LOG_LEVEL", "debug")

	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("applyEnvOverrides() error = %v", err)
	}

	if cfg.Server.Binary != "/opt/vrpn/bin/vrpn_server" {
		t.Errorf("Server.Binary = %q, want %q", cfg.Server.Binary, "/opt/vrpn/bin/vrpn_server")
	}
	if cfg.Server.Sentinel != "ready" {
		t.Errorf("Server.Sentinel = %q, want %q", cfg.Server.Sentinel, "ready")
	}
	if cfg.Server.ReadinessTimeout != 3*time.Second {
		t.Errorf("Server.ReadinessTimeout = %v, want %v", cfg.Server.ReadinessTimeout, 3*time.Second)
	}
	if cfg.Journal.Path != "/custom/path.db" {
		t.Errorf("Journal.Path = %q, want %q", cfg.Journal.Path, "/custom/path.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Auth.Username != "testuser" || cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth = %+v, want testuser/testpass", cfg.MQTT.Auth)
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.API.Port != 9100 {
		t.Errorf("API.Port = %d, want 9100", cfg.API.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestApplyEnvOverrides_BadValues(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("VRPNCORE_API_PORT", "eighty")
	t.Setenv("VRPNCORE_SERVER_READINESS_TIMEOUT", "soon")

	err := applyEnvOverrides(cfg)
	if err == nil {
		t.Fatal("applyEnvOverrides() error = nil, want error")
	}
	for _, want := range []string{"VRPNCORE_API_PORT", "VRPNCORE_SERVER_READINESS_TIMEOUT"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error = %q, want it to mention %s", err, want)
		}
	}
}

func TestPath(t *testing.T) {
	t.Setenv("VRPNCORE_CONFIG", "")
	if got := Path(); got != DefaultPath {
		t.Errorf("Path() = %q, want %q", got, DefaultPath)
	}

	t.Setenv("VRPNCORE_CONFIG", "/etc/vrpncore.yaml")
	if got := Path(); got != "/etc/vrpncore.yaml" {
		t.Errorf("Path() = %q, want %q", got, "/etc/vrpncore.yaml")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Server.Name != "vrpn_server" {
		t.Errorf("defaultConfig Server.Name = %q, want %q", cfg.Server.Name, "vrpn_server")
	}
	if got := strings.Join(cfg.Server.Command(), " "); got != "vrpn_server -f" {
		t.Errorf("defaultConfig Server.Command() = %q, want %q", got, "vrpn_server -f")
	}
	if cfg.Server.GracefulTimeout != 10*time.Second {
		t.Errorf("defaultConfig Server.GracefulTimeout = %v, want %v", cfg.Server.GracefulTimeout, 10*time.Second)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig Validate() error = %v", err)
	}
}
