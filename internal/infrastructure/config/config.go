package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Gray Logic DMX.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Driver    DriverConfig    `yaml:"driver"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// EngineConfig contains script engine settings.
type EngineConfig struct {
	// ScriptDir is the directory scripts are listed from and resolved against.
	ScriptDir string `yaml:"script_dir"`

	// Autostart is a script (relative to ScriptDir) started when the service comes up.
	// Empty disables autostart.
	Autostart string `yaml:"autostart"`

	// StopTimeout is how long Stop waits for a running script to finish (seconds).
	StopTimeout int `yaml:"stop_timeout"`

	// MaxImportDepth limits nested script imports.
	MaxImportDepth int `yaml:"max_import_depth"`
}

// DriverConfig selects and configures the DMX output driver.
type DriverConfig struct {
	// Type is the driver name: "null" (alias "dummy"), "emulator"
	// (alias "dmx-emulator") or "mqtt".
	Type     string               `yaml:"type"`
	Emulator EmulatorDriverConfig `yaml:"emulator"`
	MQTT     MQTTDriverConfig     `yaml:"mqtt"`
}

// EmulatorDriverConfig configures the TCP connection to a DMX emulator.
type EmulatorDriverConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Timeout int    `yaml:"timeout"` // dial and write timeout, seconds
}

// MQTTDriverConfig configures frame publishing over MQTT.
type MQTTDriverConfig struct {
	// Topic overrides the default frame topic.
	Topic string `yaml:"topic"`

	// Encoding is the payload format: "json" or "cbor".
	Encoding string `yaml:"encoding"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`

	// PanelDir serves the lighting console from disk instead of the
	// embedded copy. Empty uses the embedded console.
	PanelDir string `yaml:"panel_dir"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
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
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path string `yaml:"path"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
// API authentication is enabled when Secret is set.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// Driver type names accepted in driver.type.
var driverTypes = map[string]bool{
	"null":         true,
	"dummy":        true,
	"emulator":     true,
	"dmx-emulator": true,
	"mqtt":         true,
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_DMX_SECTION_KEY
// For example: GRAYLOGIC_DMX_DRIVER_TYPE, GRAYLOGIC_DMX_API_PORT
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
		Engine: EngineConfig{
			ScriptDir:      "./scripts",
			StopTimeout:    10,
			MaxImportDepth: 16,
		},
		Driver: DriverConfig{
			Type: "null",
			Emulator: EmulatorDriverConfig{
				Host:    "localhost",
				Port:    5555,
				Timeout: 5,
			},
			MQTT: MQTTDriverConfig{
				Encoding: "json",
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/graylogic-dmx.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-dmx",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 5000,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_DMX_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Engine
	if v := os.Getenv("GRAYLOGIC_DMX_SCRIPT_DIR"); v != "" {
		cfg.Engine.ScriptDir = v
	}
	if v := os.Getenv("GRAYLOGIC_DMX_AUTOSTART"); v != "" {
		cfg.Engine.Autostart = v
	}

	// Driver
	if v := os.Getenv("GRAYLOGIC_DMX_DRIVER_TYPE"); v != "" {
		cfg.Driver.Type = v
	}
	if v := os.Getenv("GRAYLOGIC_DMX_EMULATOR_HOST"); v != "" {
		cfg.Driver.Emulator.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_DMX_EMULATOR_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Driver.Emulator.Port = port
		}
	}

	// Database
	if v := os.Getenv("GRAYLOGIC_DMX_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_DMX_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_DMX_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_DMX_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("GRAYLOGIC_DMX_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_DMX_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_DMX_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("GRAYLOGIC_DMX_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Security
	if v := os.Getenv("GRAYLOGIC_DMX_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Engine validation
	if c.Engine.ScriptDir == "" {
		errs = append(errs, "engine.script_dir is required")
	}
	if c.Engine.StopTimeout < 0 {
		errs = append(errs, "engine.stop_timeout must not be negative")
	}
	if c.Engine.MaxImportDepth < 0 {
		errs = append(errs, "engine.max_import_depth must not be negative")
	}

	// Driver validation
	if !driverTypes[strings.ToLower(c.Driver.Type)] {
		errs = append(errs, fmt.Sprintf("driver.type %q is not supported (null, emulator, mqtt)", c.Driver.Type))
	}
	switch strings.ToLower(c.Driver.Type) {
	case "emulator", "dmx-emulator":
		if c.Driver.Emulator.Port < 1 || c.Driver.Emulator.Port > 65535 {
			errs = append(errs, "driver.emulator.port must be between 1 and 65535")
		}
	case "mqtt":
		if !c.MQTT.Enabled {
			errs = append(errs, "driver.type mqtt requires mqtt.enabled")
		}
		if enc := c.Driver.MQTT.Encoding; enc != "" && enc != "json" && enc != "cbor" {
			errs = append(errs, "driver.mqtt.encoding must be json or cbor")
		}
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Logging validation
	if c.Logging.Output == "file" && c.Logging.File.Path == "" {
		errs = append(errs, "logging.file.path is required when logging.output is file")
	}

	// An empty secret disables API authentication. A configured one must be strong.
	const minJWTSecretLength = 32
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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

// GetStopTimeout returns the engine stop timeout as a Duration.
func (c *Config) GetStopTimeout() time.Duration {
	return time.Duration(c.Engine.StopTimeout) * time.Second
}

// GetEmulatorTimeout returns the emulator dial/write timeout as a Duration.
func (c *DriverConfig) GetEmulatorTimeout() time.Duration {
	return time.Duration(c.Emulator.Timeout) * time.Second
}

// AuthEnabled reports whether API requests must carry a bearer token.
func (c *Config) AuthEnabled() bool {
	return c.Security.JWT.Secret != ""
}
