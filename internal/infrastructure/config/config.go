// Package config handles loading and validating cync-bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - The export-session secret must be changed from defaults before production use
//
// Performance Characteristics:
//   - Configuration is loaded once at startup
//   - No runtime overhead after initial load
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for cync-bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Account    AccountConfig    `yaml:"account"`
	Server     ServerConfig     `yaml:"server"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Store      StoreConfig      `yaml:"store"`
	Logging    LoggingConfig    `yaml:"logging"`
	Perf       PerfConfig       `yaml:"perf"`
	CloudRelay CloudRelayConfig `yaml:"cloud_relay"`
	Devices    []DeviceConfig   `yaml:"devices"`
	Groups     []GroupConfig    `yaml:"groups"`
}

// AccountConfig identifies the vendor cloud account this controller impersonates.
type AccountConfig struct {
	// ID is the vendor account id, used to build stable hass_id values
	// ("<account-id>-<device-id>").
	ID string `yaml:"id"`
}

// ServerConfig contains the device-facing TLS/TCP server settings.
type ServerConfig struct {
	// ListenAddr is the address the device-facing TLS listener binds to.
	// Default: ":23779" (the vendor's well-known port).
	ListenAddr string `yaml:"listen_addr"`

	// CertFile/KeyFile are the self-signed certificate devices accept
	// after DNS redirection.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// HandshakeTimeoutSeconds bounds how long a new connection may take
	// to complete its handshake. Default: 5.
	HandshakeTimeoutSeconds int `yaml:"handshake_timeout_seconds"`

	// IdleTimeoutSeconds is the idle watchdog: a connection with no
	// inbound traffic for this long is closed. Default: 90.
	IdleTimeoutSeconds int `yaml:"idle_timeout_seconds"`

	// HeartbeatIntervalSeconds is how often the cloud-side heartbeat is
	// sent on each connection. Default: 30.
	HeartbeatIntervalSeconds int `yaml:"heartbeat_interval_seconds"`

	// AckTimeoutSeconds bounds how long a dispatched command waits for
	// its correlated ack. Default: 5.
	AckTimeoutSeconds int `yaml:"ack_timeout_seconds"`

	// BridgePoolCap is the maximum number of concurrently ready bridge
	// connections. Default: 8.
	BridgePoolCap int `yaml:"bridge_pool_cap"`

	// CommandTargets is how many bridges a command fans out to. Default: 2.
	CommandTargets int `yaml:"command_targets"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	BaseTopic string              `yaml:"base_topic"`
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

func (a MQTTAuthConfig) String() string {
	password := ""
	if a.Password != "" {
		password = "[REDACTED]"
	}
	return fmt.Sprintf("MQTTAuthConfig{Username:%q, Password:%s}", a.Username, password)
}

// MarshalJSON redacts the password so a config dump in logs or an API
// response never exposes it.
func (a MQTTAuthConfig) MarshalJSON() ([]byte, error) {
	type redacted MQTTAuthConfig
	safe := redacted(a)
	if safe.Password != "" {
		safe.Password = "[REDACTED]"
	}
	return json.Marshal(safe)
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains the exporter/admin HTTP surface settings.
type APIConfig struct {
	Host        string       `yaml:"host"`
	Port        int          `yaml:"port"`
	SessionAuth SessionAuth  `yaml:"session_auth"`
	Timeouts    APITimeouts  `yaml:"timeouts"`
}

// SessionAuth configures the bearer token protecting /api/restart.
type SessionAuth struct {
	Secret string `yaml:"secret"`
}

func (s SessionAuth) String() string {
	secret := ""
	if s.Secret != "" {
		secret = "[REDACTED]"
	}
	return fmt.Sprintf("SessionAuth{Secret:%s}", secret)
}

// MarshalJSON redacts the session secret.
func (s SessionAuth) MarshalJSON() ([]byte, error) {
	type redacted SessionAuth
	safe := redacted(s)
	if safe.Secret != "" {
		safe.Secret = "[REDACTED]"
	}
	return json.Marshal(safe)
}

// APITimeouts contains HTTP timeout settings.
type APITimeouts struct {
	ReadSeconds  int `yaml:"read"`
	WriteSeconds int `yaml:"write"`
	IdleSeconds  int `yaml:"idle"`
}

// InfluxDBConfig contains optional device-state history sink settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// StoreConfig contains local SQLite store settings (command audit trail,
// see internal/store).
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// PerfConfig controls slow-operation instrumentation: when tracking is
// on, command round trips slower than the threshold are logged.
type PerfConfig struct {
	Tracking    bool `yaml:"tracking"`
	ThresholdMS int  `yaml:"threshold_ms"`
}

// CloudRelayConfig contains the cloud-MITM relay settings.
type CloudRelayConfig struct {
	Enabled                bool   `yaml:"enabled"`
	ForwardToCloud         bool   `yaml:"forward_to_cloud"`
	CloudHost              string `yaml:"cloud_host"`
	DebugPacketLogging     bool   `yaml:"debug_packet_logging"`
	DisableSSLVerification bool   `yaml:"disable_ssl_verification"`
}

// DeviceConfig describes one device loaded from configuration.
type DeviceConfig struct {
	ID             int      `yaml:"id"`
	Name           string   `yaml:"name"`
	Model          string   `yaml:"model"`
	ModelNumber    string   `yaml:"model_number"`
	Capabilities   []string `yaml:"capabilities"`
	IsBridge       bool     `yaml:"is_bridge"`
	MinColorTempK  int      `yaml:"min_color_temp_k"`
	MaxColorTempK  int      `yaml:"max_color_temp_k"`
}

// GroupConfig describes one light group loaded from configuration.
type GroupConfig struct {
	ID        int    `yaml:"id"`
	Name      string `yaml:"name"`
	MemberIDs []int  `yaml:"member_ids"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
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

// defaultConfig returns a Config populated with this build's defaults,
// overridden by anything Load finds in the YAML file or environment.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:               ":23779",
			HandshakeTimeoutSeconds:  5,
			IdleTimeoutSeconds:       90,
			HeartbeatIntervalSeconds: 30,
			AckTimeoutSeconds:        5,
			BridgePoolCap:            8,
			CommandTargets:           2,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "cync-bridge",
			},
			BaseTopic: "cync",
			QoS:       1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeouts{
				ReadSeconds:  30,
				WriteSeconds: 30,
				IdleSeconds:  60,
			},
		},
		Store: StoreConfig{
			Path: "./data/cync-bridge.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Perf: PerfConfig{
			ThresholdMS: 500,
		},
	}
}

// applyEnvOverrides lets a handful of deployment-time settings be supplied
// as environment variables instead of edited into the YAML file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("DEBUG_LOG_LEVEL"); strings.EqualFold(v, "true") {
		cfg.Logging.Level = "debug"
	}
	if v := os.Getenv("MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("PERF_TRACKING"); v != "" {
		cfg.Perf.Tracking = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("PERF_THRESHOLD_MS"); v != "" {
		var ms int
		if _, err := fmt.Sscanf(v, "%d", &ms); err == nil && ms > 0 {
			cfg.Perf.ThresholdMS = ms
		}
	}
	if v := os.Getenv("CLOUD_RELAY_ENABLED"); strings.EqualFold(v, "true") {
		cfg.CloudRelay.Enabled = true
	}
	if v := os.Getenv("CLOUD_RELAY_FORWARD_TO_CLOUD"); v != "" {
		cfg.CloudRelay.ForwardToCloud = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("CLOUD_RELAY_HOST"); v != "" {
		cfg.CloudRelay.CloudHost = v
	}
	if v := os.Getenv("API_SESSION_SECRET"); v != "" {
		cfg.API.SessionAuth.Secret = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Account.ID == "" {
		errs = append(errs, "account.id is required")
	}
	if c.Server.ListenAddr == "" {
		errs = append(errs, "server.listen_addr is required")
	}
	if c.Server.BridgePoolCap < 1 {
		errs = append(errs, "server.bridge_pool_cap must be at least 1")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.BaseTopic == "" {
		errs = append(errs, "mqtt.base_topic is required")
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// HandshakeTimeout returns the handshake deadline as a Duration.
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Server.HandshakeTimeoutSeconds) * time.Second
}

// IdleTimeout returns the idle watchdog window as a Duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Server.IdleTimeoutSeconds) * time.Second
}

// HeartbeatInterval returns the cloud heartbeat period as a Duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Server.HeartbeatIntervalSeconds) * time.Second
}

// AckTimeout returns the command ack deadline as a Duration.
func (c *Config) AckTimeout() time.Duration {
	return time.Duration(c.Server.AckTimeoutSeconds) * time.Second
}

// PerfThreshold returns the slow-operation threshold as a Duration, or
// zero when perf tracking is off.
func (c *Config) PerfThreshold() time.Duration {
	if !c.Perf.Tracking {
		return 0
	}
	return time.Duration(c.Perf.ThresholdMS) * time.Millisecond
}

// ReadTimeout returns the exporter API read timeout as a Duration.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.ReadSeconds) * time.Second
}

// WriteTimeout returns the exporter API write timeout as a Duration.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.WriteSeconds) * time.Second
}

// IdleHTTPTimeout returns the exporter API idle timeout as a Duration.
func (c *Config) IdleHTTPTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.IdleSeconds) * time.Second
}
