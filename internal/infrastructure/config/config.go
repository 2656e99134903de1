package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the sensor node.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device       DeviceConfig       `yaml:"device"`
	Provisioning ProvisioningConfig `yaml:"provisioning"`
	Hub          HubConfig          `yaml:"hub"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	Twin         TwinConfig         `yaml:"twin"`
	Commands     CommandsConfig     `yaml:"commands"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	LEDs         LEDConfig          `yaml:"leds"`
	SecureStore  SecureStoreConfig  `yaml:"secure_store"`
	Database     DatabaseConfig     `yaml:"database"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	API          APIConfig          `yaml:"api"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// DeviceConfig identifies this node to the provisioning service and the hub.
type DeviceConfig struct {
	ID      string `yaml:"id"`
	ModelID string `yaml:"model_id"`
}

// ProvisioningConfig contains device provisioning service settings.
type ProvisioningConfig struct {
	Enabled        bool   `yaml:"enabled"`
	GlobalEndpoint string `yaml:"global_endpoint"`
	Port           int    `yaml:"port"`

	// IDScope overrides the scope read from the secure store when set.
	IDScope string `yaml:"id_scope"`

	// ScopeZone and ScopeSlot locate the ID scope in the secure store.
	ScopeZone int `yaml:"scope_zone"`
	ScopeSlot int `yaml:"scope_slot"`

	// RetryTickMS is the keepalive tick period in milliseconds.
	RetryTickMS int `yaml:"retry_tick_ms"`

	// ReconnectTicks is how many keepalive ticks pass before the
	// connect step is re-run (240 ticks of 500ms is two minutes).
	ReconnectTicks int `yaml:"reconnect_ticks"`
}

// HubConfig contains settings for the session with the assigned hub.
type HubConfig struct {
	// Hostname is used directly when provisioning is disabled.
	Hostname   string `yaml:"hostname"`
	Port       int    `yaml:"port"`
	APIVersion string `yaml:"api_version"`
}

// MQTTConfig contains transport settings shared by the provisioning and hub sessions.
type MQTTConfig struct {
	TLS       MQTTTLSConfig       `yaml:"tls"`
	QoS       int                 `yaml:"qos"`
	KeepAlive int                 `yaml:"keep_alive"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTTLSConfig contains the X.509 material used to authenticate the device.
type MQTTTLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// TwinConfig controls the twin property synchronizer.
type TwinConfig struct {
	// AckStyle is "envelope" (ack code, version and description around each
	// writable value) or "plain" (bare values).
	AckStyle string `yaml:"ack_style"`

	// WritableLEDs names the channels whose state the cloud may set.
	WritableLEDs []string `yaml:"writable_leds"`

	// PayloadBuffer is the fixed size of the reported-property buffer in bytes.
	PayloadBuffer int `yaml:"payload_buffer"`

	// ClearOnConfirm clears dirty flags only after the transport accepted the patch.
	ClearOnConfirm bool `yaml:"clear_on_confirm"`

	// PublishLockTimeoutMS bounds how long a report waits for the publish lock.
	PublishLockTimeoutMS int `yaml:"publish_lock_timeout_ms"`

	// ReportsPerSecond throttles reported-property patches. Zero disables throttling.
	ReportsPerSecond float64 `yaml:"reports_per_second"`
	ReportBurst      int     `yaml:"report_burst"`

	// CheckIntervalMS is the period of the check-and-report tick.
	CheckIntervalMS int `yaml:"check_interval_ms"`
}

// CommandsConfig controls the command dispatcher.
type CommandsConfig struct {
	ResponseBuffer int `yaml:"response_buffer"`

	// SerializeResponses routes command responses through the shared publish lock.
	SerializeResponses bool `yaml:"serialize_responses"`
}

// TelemetryConfig controls periodic sensor telemetry.
type TelemetryConfig struct {
	// Interval is the default send interval in seconds until the twin sets one.
	Interval int `yaml:"interval"`

	// Source is "sim" or "sysfs".
	Source          string `yaml:"source"`
	TemperaturePath string `yaml:"temperature_path"`
	LightPath       string `yaml:"light_path"`
}

// LEDConfig describes the four status LEDs.
type LEDConfig struct {
	// Chip is the GPIO character device name (e.g. "gpiochip0").
	// An empty chip runs the LEDs in simulation.
	Chip        string         `yaml:"chip"`
	ActiveLow   bool           `yaml:"active_low"`
	Pins        LEDPinConfig   `yaml:"pins"`
	BlinkFastMS int            `yaml:"blink_fast_ms"`
	BlinkSlowMS int            `yaml:"blink_slow_ms"`
	SelfTest    bool           `yaml:"self_test"`
	SelfTestMS  int            `yaml:"self_test_ms"`
	Reset       LEDResetConfig `yaml:"reset"`
}

// LEDPinConfig maps each channel to a GPIO line offset.
type LEDPinConfig struct {
	Blue   int `yaml:"blue"`
	Green  int `yaml:"green"`
	Yellow int `yaml:"yellow"`
	Red    int `yaml:"red"`
}

// LEDResetConfig controls what a hard reset does on this host.
type LEDResetConfig struct {
	// Mode is "reboot" (reboot the host) or "exit" (terminate the process
	// and let the supervisor restart it).
	Mode string `yaml:"mode"`
}

// SecureStoreConfig selects the credential store backing zone/slot reads.
type SecureStoreConfig struct {
	// Backend is "sqlite" (slots table in the local database) or "static".
	Backend string `yaml:"backend"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
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

// APIConfig contains the diagnostics HTTP server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`

	// Stream configures the /api/v1/stream websocket.
	Stream StreamConfig `yaml:"stream"`
}

// StreamConfig contains websocket settings for the state stream.
type StreamConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Ack styles accepted by TwinConfig.AckStyle.
const (
	AckStyleEnvelope = "envelope"
	AckStylePlain    = "plain"
)

// LEDNames lists the channel names in bank order.
var LEDNames = []string{"blue", "green", "yellow", "red"}

// ReadOnlyLED is the channel whose reported value is the "On"/"Off"/"Blink"
// string rather than an integer.
const ReadOnlyLED = "red"

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SENSORNODE_SECTION_KEY
// For example: SENSORNODE_DEVICE_ID, SENSORNODE_HUB_HOSTNAME
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
		Device: DeviceConfig{
			ID:      "sensor-node-01",
			ModelID: "dtmi:com:Microchip:SAM_IoT_WM;2",
		},
		Provisioning: ProvisioningConfig{
			Enabled:        true,
			GlobalEndpoint: "global.azure-devices-provisioning.net",
			Port:           8883,
			ScopeZone:      2,
			ScopeSlot:      8,
			RetryTickMS:    500,
			ReconnectTicks: 240,
		},
		Hub: HubConfig{
			Port:       8883,
			APIVersion: "2021-04-12",
		},
		MQTT: MQTTConfig{
			TLS: MQTTTLSConfig{
				Enabled: true,
			},
			QoS:       1,
			KeepAlive: 240,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Twin: TwinConfig{
			AckStyle:             AckStyleEnvelope,
			WritableLEDs:         []string{"yellow"},
			PayloadBuffer:        256,
			ClearOnConfirm:       true,
			PublishLockTimeoutMS: 20000,
			ReportsPerSecond:     1,
			ReportBurst:          4,
			CheckIntervalMS:      100,
		},
		Commands: CommandsConfig{
			ResponseBuffer:     128,
			SerializeResponses: true,
		},
		Telemetry: TelemetryConfig{
			Interval: 60,
			Source:   "sim",
		},
		LEDs: LEDConfig{
			ActiveLow:   true,
			Pins:        LEDPinConfig{Blue: 17, Green: 27, Yellow: 22, Red: 23},
			BlinkFastMS: 100,
			BlinkSlowMS: 400,
			SelfTestMS:  50,
			Reset:       LEDResetConfig{Mode: "exit"},
		},
		SecureStore: SecureStoreConfig{
			Backend: "sqlite",
		},
		Database: DatabaseConfig{
			Path:        "./data/sensornode.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
			Stream: StreamConfig{
				MaxMessageSize: 4096,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SENSORNODE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Device
	if v := os.Getenv("SENSORNODE_DEVICE_ID"); v != "" {
		cfg.Device.ID = v
	}
	if v := os.Getenv("SENSORNODE_DEVICE_MODEL_ID"); v != "" {
		cfg.Device.ModelID = v
	}

	// Provisioning
	if v := os.Getenv("SENSORNODE_PROVISIONING_ID_SCOPE"); v != "" {
		cfg.Provisioning.IDScope = v
	}
	if v := os.Getenv("SENSORNODE_PROVISIONING_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Provisioning.Enabled = b
		}
	}

	// Hub
	if v := os.Getenv("SENSORNODE_HUB_HOSTNAME"); v != "" {
		cfg.Hub.Hostname = v
	}

	// MQTT TLS material
	if v := os.Getenv("SENSORNODE_MQTT_CERT_FILE"); v != "" {
		cfg.MQTT.TLS.CertFile = v
	}
	if v := os.Getenv("SENSORNODE_MQTT_KEY_FILE"); v != "" {
		cfg.MQTT.TLS.KeyFile = v
	}

	// Database
	if v := os.Getenv("SENSORNODE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("SENSORNODE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("SENSORNODE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Device.ID == "" {
		errs = append(errs, "device.id is required")
	}
	if c.Device.ModelID == "" {
		errs = append(errs, "device.model_id is required")
	}

	if c.Provisioning.Enabled {
		if c.Provisioning.GlobalEndpoint == "" {
			errs = append(errs, "provisioning.global_endpoint is required when provisioning is enabled")
		}
		if c.Provisioning.RetryTickMS <= 0 {
			errs = append(errs, "provisioning.retry_tick_ms must be positive")
		}
		if c.Provisioning.ReconnectTicks <= 0 {
			errs = append(errs, "provisioning.reconnect_ticks must be positive")
		}
	} else if c.Hub.Hostname == "" {
		errs = append(errs, "hub.hostname is required when provisioning is disabled")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Twin.AckStyle != AckStyleEnvelope && c.Twin.AckStyle != AckStylePlain {
		errs = append(errs, "twin.ack_style must be \"envelope\" or \"plain\"")
	}
	for _, name := range c.Twin.WritableLEDs {
		switch {
		case !slices.Contains(LEDNames, name):
			errs = append(errs, fmt.Sprintf("twin.writable_leds: unknown channel %q", name))
		case name == ReadOnlyLED:
			errs = append(errs, fmt.Sprintf("twin.writable_leds: %q is reported as a string and cannot be writable", name))
		}
	}
	if c.Twin.PayloadBuffer < 16 {
		errs = append(errs, "twin.payload_buffer must be at least 16 bytes")
	}
	if c.Twin.PublishLockTimeoutMS <= 0 {
		errs = append(errs, "twin.publish_lock_timeout_ms must be positive")
	}
	if c.Twin.CheckIntervalMS <= 0 {
		errs = append(errs, "twin.check_interval_ms must be positive")
	}

	if c.Commands.ResponseBuffer < 64 {
		errs = append(errs, "commands.response_buffer must be at least 64 bytes")
	}

	if c.Telemetry.Interval <= 0 {
		errs = append(errs, "telemetry.interval must be positive")
	}
	if c.Telemetry.Source != "sim" && c.Telemetry.Source != "sysfs" {
		errs = append(errs, "telemetry.source must be \"sim\" or \"sysfs\"")
	}

	if c.LEDs.BlinkFastMS <= 0 || c.LEDs.BlinkSlowMS <= 0 {
		errs = append(errs, "leds blink periods must be positive")
	}
	if c.LEDs.Reset.Mode != "reboot" && c.LEDs.Reset.Mode != "exit" {
		errs = append(errs, "leds.reset.mode must be \"reboot\" or \"exit\"")
	}

	if c.SecureStore.Backend != "sqlite" && c.SecureStore.Backend != "static" {
		errs = append(errs, "secure_store.backend must be \"sqlite\" or \"static\"")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.Enabled && (c.API.Stream.PingInterval < 1 || c.API.Stream.PongTimeout < 1) {
		errs = append(errs, "api.stream ping_interval and pong_timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IsWritableLED reports whether the cloud may set the named channel.
func (c *Config) IsWritableLED(name string) bool {
	return slices.Contains(c.Twin.WritableLEDs, name)
}

// GetRetryTick returns the provisioning keepalive tick as a Duration.
func (c *Config) GetRetryTick() time.Duration {
	return time.Duration(c.Provisioning.RetryTickMS) * time.Millisecond
}

// GetPublishLockTimeout returns the publish lock timeout as a Duration.
func (c *Config) GetPublishLockTimeout() time.Duration {
	return time.Duration(c.Twin.PublishLockTimeoutMS) * time.Millisecond
}

// GetCheckInterval returns the check-and-report tick period as a Duration.
func (c *Config) GetCheckInterval() time.Duration {
	return time.Duration(c.Twin.CheckIntervalMS) * time.Millisecond
}

// GetTelemetryInterval returns the default telemetry interval as a Duration.
func (c *Config) GetTelemetryInterval() time.Duration {
	return time.Duration(c.Telemetry.Interval) * time.Second
}

// GetBlinkFast returns the fast blink period as a Duration.
func (c *Config) GetBlinkFast() time.Duration {
	return time.Duration(c.LEDs.BlinkFastMS) * time.Millisecond
}

// GetBlinkSlow returns the slow blink period as a Duration.
func (c *Config) GetBlinkSlow() time.Duration {
	return time.Duration(c.LEDs.BlinkSlowMS) * time.Millisecond
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
