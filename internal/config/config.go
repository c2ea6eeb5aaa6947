// internal/config/config.go
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DeviceInfo DeviceInfoConfig `yaml:"device_info"`
	Modbus     ModbusConfig     `yaml:"modbus"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Poll       PollConfig       `yaml:"poll"`
	Hardware   HardwareConfig   `yaml:"hardware"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`

	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
}

// ---- DEVICE ----

type DeviceInfoConfig struct {
	Name         string `yaml:"name"`
	Manufacturer string `yaml:"manufacturer"`
}

// ---- MODBUS TRANSPORTS ----

type ModbusConfig struct {
	TCP    TCPConfig    `yaml:"tcp"`
	Serial SerialConfig `yaml:"serial"`
}

type TCPConfig struct {
	Endpoint  string `yaml:"endpoint"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// SerialConfig is optional. An empty Port disables the serial connection.
type SerialConfig struct {
	Port      string `yaml:"port"`
	BaudRate  int    `yaml:"baud_rate"`
	DataBits  int    `yaml:"data_bits"`
	Parity    string `yaml:"parity"` // N, E or O
	StopBits  int    `yaml:"stop_bits"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// ---- MQTT ----

type MQTTConfig struct {
	Broker           string `yaml:"broker"`
	Username         string `yaml:"username"`
	Password         string `yaml:"password"`
	KeepAliveS       int    `yaml:"keep_alive_s"`
	ConnectTimeoutMs int    `yaml:"connect_timeout_ms"`
	QoS              byte   `yaml:"qos"`
	Retain           *bool  `yaml:"retain"`
	Workers          int    `yaml:"workers"`
}

// HomeAssistantConfig enables retained MQTT discovery documents.
type HomeAssistantConfig struct {
	Enabled         bool   `yaml:"enabled"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
}

// ---- POLL ----

type PollConfig struct {
	IntervalMs int `yaml:"interval_ms"`
}

// ---- HARDWARE ----

type HardwareConfig struct {
	// Neuron is the path of the controller model definition.
	Neuron string `yaml:"neuron"`
	// ExtensionsDir holds one definition file per extension board.
	ExtensionsDir string `yaml:"extensions_dir"`
}

// ---- LOGGING / METRICS ----

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | text
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Load reads the main configuration file.
// The result is neither validated nor normalized.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// RetainEnabled reports the effective retain flag. Retained by default.
func (m MQTTConfig) RetainEnabled() bool {
	if m.Retain == nil {
		return true
	}
	return *m.Retain
}
