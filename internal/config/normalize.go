// internal/config/normalize.go
package config

import "strings"

// Defaults applied by Normalize.
const (
	DefaultDeviceName      = "unipi"
	DefaultTCPEndpoint     = "127.0.0.1:502"
	DefaultTimeoutMs       = 1000
	DefaultPollIntervalMs  = 250
	DefaultBroker          = "tcp://localhost:1883"
	DefaultKeepAliveS      = 15
	DefaultConnectTimeout  = 5000
	DefaultWorkers         = 8
	DefaultBaudRate        = 9600
	DefaultDataBits        = 8
	DefaultStopBits        = 1
	DefaultParity          = "N"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultDiscoveryPrefix = "homeassistant"
)

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config, defs []HardwareDefinition) {
	if cfg == nil {
		return
	}

	if cfg.DeviceInfo.Name == "" {
		cfg.DeviceInfo.Name = DefaultDeviceName
	}

	if cfg.Modbus.TCP.Endpoint == "" {
		cfg.Modbus.TCP.Endpoint = DefaultTCPEndpoint
	}
	if cfg.Modbus.TCP.TimeoutMs == 0 {
		cfg.Modbus.TCP.TimeoutMs = DefaultTimeoutMs
	}

	s := &cfg.Modbus.Serial
	if s.Port != "" {
		if s.BaudRate == 0 {
			s.BaudRate = DefaultBaudRate
		}
		if s.DataBits == 0 {
			s.DataBits = DefaultDataBits
		}
		if s.StopBits == 0 {
			s.StopBits = DefaultStopBits
		}
		if s.Parity == "" {
			s.Parity = DefaultParity
		}
		s.Parity = strings.ToUpper(s.Parity)
		if s.TimeoutMs == 0 {
			s.TimeoutMs = DefaultTimeoutMs
		}
	}

	if cfg.Poll.IntervalMs == 0 {
		cfg.Poll.IntervalMs = DefaultPollIntervalMs
	}

	m := &cfg.MQTT
	if m.Broker == "" {
		m.Broker = DefaultBroker
	}
	if m.KeepAliveS == 0 {
		m.KeepAliveS = DefaultKeepAliveS
	}
	if m.ConnectTimeoutMs == 0 {
		m.ConnectTimeoutMs = DefaultConnectTimeout
	}
	if m.Workers == 0 {
		m.Workers = DefaultWorkers
	}

	if cfg.HomeAssistant.DiscoveryPrefix == "" {
		cfg.HomeAssistant.DiscoveryPrefix = DefaultDiscoveryPrefix
	}
	cfg.HomeAssistant.DiscoveryPrefix = strings.Trim(cfg.HomeAssistant.DiscoveryPrefix, "/")

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}

	// ------------------------------------------------------------
	// HARDWARE DEFINITIONS
	// ------------------------------------------------------------

	for di := range defs {
		d := &defs[di]

		d.Connection = d.effectiveConnection()

		if d.VoltReference == 0 {
			d.VoltReference = DefaultVoltReference
		}
		if d.FirmwareRegister == 0 {
			d.FirmwareRegister = DefaultFirmwareRegister
		}

		for bi := range d.RegisterBlocks {
			if d.RegisterBlocks[bi].Function == "" {
				d.RegisterBlocks[bi].Function = FunctionInput
			}
		}
	}
}
