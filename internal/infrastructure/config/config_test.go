package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
engine:
  script_dir: "/srv/scripts"
  autostart: "evening.dmx"
driver:
  type: "emulator"
  emulator:
    host: "10.0.0.5"
    port: 5556
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  enabled: true
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8080
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Engine.ScriptDir != "/srv/scripts" {
		t.Errorf("Engine.ScriptDir = %q, want %q", cfg.Engine.ScriptDir, "/srv/scripts")
	}
	if cfg.Engine.Autostart != "evening.dmx" {
		t.Errorf("Engine.Autostart = %q, want %q", cfg.Engine.Autostart, "evening.dmx")
	}
	if cfg.Driver.Type != "emulator" {
		t.Errorf("Driver.Type = %q, want %q", cfg.Driver.Type, "emulator")
	}
	if cfg.Driver.Emulator.Port != 5556 {
		t.Errorf("Driver.Emulator.Port = %d, want 5556", cfg.Driver.Emulator.Port)
	}
	// Unset keys keep their defaults.
	if cfg.Driver.Emulator.Timeout != 5 {
		t.Errorf("Driver.Emulator.Timeout = %d, want default 5", cfg.Driver.Emulator.Timeout)
	}
	if cfg.Engine.MaxImportDepth != 16 {
		t.Errorf("Engine.MaxImportDepth = %d, want default 16", cfg.Engine.MaxImportDepth)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if !cfg.MQTT.Enabled {
		t.Error("MQTT.Enabled = false, want true")
	}
	if cfg.AuthEnabled() {
		t.Error("AuthEnabled() = true without a secret")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
driver:
  type: "udmx"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected validation error for unsupported driver, got nil")
	}
	if !strings.Contains(err.Error(), "driver.type") {
		t.Errorf("error = %v, want it to name driver.type", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	validJWTSecret := "test-secret-key-at-least-32-chars!"

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "missing script dir",
			mutate:  func(c *Config) { c.Engine.ScriptDir = "" },
			wantErr: "engine.script_dir",
		},
		{
			name:    "negative stop timeout",
			mutate:  func(c *Config) { c.Engine.StopTimeout = -1 },
			wantErr: "engine.stop_timeout",
		},
		{
			name:   "dummy driver alias",
			mutate: func(c *Config) { c.Driver.Type = "dummy" },
		},
		{
			name:   "dmx-emulator alias",
			mutate: func(c *Config) { c.Driver.Type = "DMX-Emulator" },
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Driver.Type = "artnet" },
			wantErr: "driver.type",
		},
		{
			name: "emulator bad port",
			mutate: func(c *Config) {
				c.Driver.Type = "emulator"
				c.Driver.Emulator.Port = 0
			},
			wantErr: "driver.emulator.port",
		},
		{
			name:    "mqtt driver without mqtt",
			mutate:  func(c *Config) { c.Driver.Type = "mqtt" },
			wantErr: "requires mqtt.enabled",
		},
		{
			name: "mqtt driver bad encoding",
			mutate: func(c *Config) {
				c.Driver.Type = "mqtt"
				c.MQTT.Enabled = true
				c.Driver.MQTT.Encoding = "xml"
			},
			wantErr: "driver.mqtt.encoding",
		},
		{
			name: "mqtt driver cbor",
			mutate: func(c *Config) {
				c.Driver.Type = "mqtt"
				c.MQTT.Enabled = true
				c.Driver.MQTT.Encoding = "cbor"
			},
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "invalid port low",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: "api.port",
		},
		{
			name:    "invalid port high",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: "api.port",
		},
		{
			name:    "file logging without path",
			mutate:  func(c *Config) { c.Logging.Output = "file" },
			wantErr: "logging.file.path",
		},
		{
			name:   "strong JWT secret",
			mutate: func(c *Config) { c.Security.JWT.Secret = validJWTSecret },
		},
		{
			name:    "JWT secret too short",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "short" },
			wantErr: "security.jwt.secret",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateJoinsErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Database.Path = ""
	cfg.API.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	if !strings.HasPrefix(err.Error(), "configuration errors: ") || !strings.Contains(err.Error(), "; ") {
		t.Errorf("error = %q, want joined configuration errors", err)
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		Engine: EngineConfig{StopTimeout: 7},
		Driver: DriverConfig{Emulator: EmulatorDriverConfig{Timeout: 3}},
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
	if got := cfg.GetStopTimeout().Seconds(); got != 7 {
		t.Errorf("GetStopTimeout() = %v, want 7", got)
	}
	if got := cfg.Driver.GetEmulatorTimeout().Seconds(); got != 3 {
		t.Errorf("GetEmulatorTimeout() = %v, want 3", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("GRAYLOGIC_DMX_SCRIPT_DIR", "/opt/shows")
	t.Setenv("GRAYLOGIC_DMX_DRIVER_TYPE", "emulator")
	t.Setenv("GRAYLOGIC_DMX_EMULATOR_PORT", "6000")
	t.Setenv("GRAYLOGIC_DMX_DATABASE_PATH", "/custom/path.db")
	t.Setenv("GRAYLOGIC_DMX_MQTT_HOST", "mqtt.example.com")
	t.Setenv("GRAYLOGIC_DMX_MQTT_USERNAME", "testuser")
	t.Setenv("GRAYLOGIC_DMX_MQTT_PASSWORD", "testpass")
	t.Setenv("GRAYLOGIC_DMX_API_HOST", "192.168.1.1")
	t.Setenv("GRAYLOGIC_DMX_API_PORT", "9090")
	t.Setenv("GRAYLOGIC_DMX_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("GRAYLOGIC_DMX_LOG_LEVEL", "debug")
	t.Setenv("GRAYLOGIC_DMX_JWT_SECRET", "jwt-secret")

	applyEnvOverrides(cfg)

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"Engine.ScriptDir", cfg.Engine.ScriptDir, "/opt/shows"},
		{"Driver.Type", cfg.Driver.Type, "emulator"},
		{"Driver.Emulator.Port", cfg.Driver.Emulator.Port, 6000},
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"API.Port", cfg.API.Port, 9090},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Logging.Level", cfg.Logging.Level, "debug"},
		{"Security.JWT.Secret", cfg.Security.JWT.Secret, "jwt-secret"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestApplyEnvOverrides_IgnoresBadPort(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("GRAYLOGIC_DMX_API_PORT", "not-a-port")

	applyEnvOverrides(cfg)

	if cfg.API.Port != 5000 {
		t.Errorf("API.Port = %d, want default 5000", cfg.API.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig should validate, got %v", err)
	}
	if cfg.Driver.Type != "null" {
		t.Errorf("defaultConfig Driver.Type = %q, want null", cfg.Driver.Type)
	}
	if cfg.Driver.Emulator.Port != 5555 {
		t.Errorf("defaultConfig Driver.Emulator.Port = %d, want 5555", cfg.Driver.Emulator.Port)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.API.Port != 5000 {
		t.Errorf("defaultConfig API.Port = %d, want 5000", cfg.API.Port)
	}
}
