// internal/config/validate.go
package config

import (
	"fmt"
	"strings"
)

// Feature types a definition may declare.
var knownFeatureTypes = map[string]bool{
	"RO":    true,
	"DO":    true,
	"DI":    true,
	"AO":    true,
	"AI":    true,
	"LED":   true,
	"METER": true,
}

// Protocol limits for a single read request.
const (
	maxRegistersPerRead = 125
	maxCoilsPerRead     = 2000
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config, defs []HardwareDefinition) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	// ------------------------------------------------------------
	// MAIN CONFIG
	// ------------------------------------------------------------

	for i := 0; i < len(cfg.DeviceInfo.Name); i++ {
		if cfg.DeviceInfo.Name[i] > 0x7F {
			return fmt.Errorf("device_info.name must contain ASCII characters only")
		}
	}

	if cfg.Poll.IntervalMs < 0 {
		return fmt.Errorf("poll.interval_ms must be >= 0")
	}
	if cfg.Modbus.TCP.TimeoutMs < 0 || cfg.Modbus.Serial.TimeoutMs < 0 {
		return fmt.Errorf("modbus timeout_ms must be >= 0")
	}
	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2 (got %d)", cfg.MQTT.QoS)
	}
	if cfg.MQTT.Workers < 0 {
		return fmt.Errorf("mqtt.workers must be >= 0")
	}

	switch strings.ToUpper(cfg.Modbus.Serial.Parity) {
	case "", "N", "E", "O":
	default:
		return fmt.Errorf("modbus.serial.parity must be N, E or O (got %q)", cfg.Modbus.Serial.Parity)
	}

	switch cfg.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text (got %q)", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics are enabled")
	}

	if strings.ContainsAny(cfg.HomeAssistant.DiscoveryPrefix, "+#") {
		return fmt.Errorf("homeassistant.discovery_prefix must not contain MQTT wildcards")
	}

	// ------------------------------------------------------------
	// HARDWARE DEFINITIONS
	// ------------------------------------------------------------

	neurons := 0
	// key = connection | unit
	unitOwner := make(map[string]string)

	for _, d := range defs {
		if err := validateDefinition(d); err != nil {
			return err
		}

		conn := d.effectiveConnection()
		if conn == ConnectionSerial && cfg.Modbus.Serial.Port == "" {
			return fmt.Errorf(
				"definition %q: serial connection requires modbus.serial.port",
				d.Key,
			)
		}

		if d.Type == HardwareNeuron {
			neurons++
			if neurons > 1 {
				return fmt.Errorf("only one neuron definition is allowed (got %q)", d.Key)
			}
			continue
		}

		if d.Unit == 0 {
			return fmt.Errorf("definition %q: extension requires unit >= 1", d.Key)
		}

		key := fmt.Sprintf("%s|%d", conn, d.Unit)
		if prev, exists := unitOwner[key]; exists {
			return fmt.Errorf(
				"unit collision: connection=%s unit=%d used by definitions %q and %q",
				conn,
				d.Unit,
				prev,
				d.Key,
			)
		}
		unitOwner[key] = d.Key
	}

	return nil
}

func validateDefinition(d HardwareDefinition) error {
	type span struct {
		start uint16
		end   uint16
	}

	switch d.Type {
	case HardwareNeuron, HardwareExtension:
	default:
		return fmt.Errorf("definition %q: unknown type %q", d.Key, d.Type)
	}

	switch d.Connection {
	case "", ConnectionTCP, ConnectionSerial:
	default:
		return fmt.Errorf("definition %q: unknown connection %q", d.Key, d.Connection)
	}

	if d.VoltReference < 0 {
		return fmt.Errorf("definition %q: volt_reference must be >= 0", d.Key)
	}

	// ------------------------------------------------------------
	// BLOCK GEOMETRY
	// ------------------------------------------------------------

	// key = slave | function
	spans := make(map[string][]span)

	check := func(b BlockConfig, coil bool) error {
		limit := uint16(maxRegistersPerRead)
		function := b.Function
		if coil {
			limit = maxCoilsPerRead
			function = "coil"
		} else {
			switch function {
			case "":
				function = FunctionInput
			case FunctionInput, FunctionHolding:
			default:
				return fmt.Errorf(
					"definition %q: block at %d has unknown function %q",
					d.Key,
					b.StartReg,
					b.Function,
				)
			}
		}

		if b.Count == 0 || b.Count > limit {
			return fmt.Errorf(
				"definition %q: %s block at %d must have count 1..%d (got %d)",
				d.Key,
				function,
				b.StartReg,
				limit,
				b.Count,
			)
		}

		if uint32(b.StartReg)+uint32(b.Count) > 0x10000 {
			return fmt.Errorf(
				"definition %q: %s block at %d exceeds the address space",
				d.Key,
				function,
				b.StartReg,
			)
		}

		start := b.StartReg
		end := start + b.Count - 1
		key := fmt.Sprintf("%d|%s", b.Slave, function)

		for _, s := range spans[key] {
			// overlap check (inclusive)
			if !(end < s.start || start > s.end) {
				return fmt.Errorf(
					"definition %q: block overlap: slave=%d function=%s range=%d-%d overlaps with range=%d-%d",
					d.Key,
					b.Slave,
					function,
					start,
					end,
					s.start,
					s.end,
				)
			}
		}

		spans[key] = append(spans[key], span{start: start, end: end})
		return nil
	}

	for _, b := range d.RegisterBlocks {
		if err := check(b, false); err != nil {
			return err
		}
	}
	for _, b := range d.CoilBlocks {
		if err := check(b, true); err != nil {
			return err
		}
	}

	// ------------------------------------------------------------
	// FEATURES
	// ------------------------------------------------------------

	// key = feature_type | major_group, or meter friendly name
	seen := make(map[string]bool)

	for i, f := range d.Features {
		if !knownFeatureTypes[f.FeatureType] {
			return fmt.Errorf(
				"definition %q: feature %d has unknown feature_type %q",
				d.Key,
				i,
				f.FeatureType,
			)
		}

		if f.Count <= 0 {
			return fmt.Errorf(
				"definition %q: feature %d (%s) must have count >= 1",
				d.Key,
				i,
				f.FeatureType,
			)
		}

		if f.MajorGroup < 0 {
			return fmt.Errorf(
				"definition %q: feature %d (%s) has negative major_group",
				d.Key,
				i,
				f.FeatureType,
			)
		}

		var key string
		switch f.FeatureType {
		case "RO", "DO", "LED":
			if f.ValCoil == nil {
				return fmt.Errorf(
					"definition %q: feature %d (%s) requires val_coil",
					d.Key,
					i,
					f.FeatureType,
				)
			}
			key = fmt.Sprintf("%s|%d", f.FeatureType, f.MajorGroup)
		case "METER":
			if f.FriendlyName == "" {
				return fmt.Errorf(
					"definition %q: feature %d (METER) requires friendly_name",
					d.Key,
					i,
				)
			}
			if f.Count != 1 {
				return fmt.Errorf(
					"definition %q: feature %d (METER) must have count 1",
					d.Key,
					i,
				)
			}
			key = "METER|" + strings.ToLower(f.FriendlyName)
		default:
			key = fmt.Sprintf("%s|%d", f.FeatureType, f.MajorGroup)
		}

		if seen[key] {
			return fmt.Errorf(
				"definition %q: feature %d (%s) duplicates circuit ids of an earlier feature",
				d.Key,
				i,
				f.FeatureType,
			)
		}
		seen[key] = true
	}

	return nil
}

func (d HardwareDefinition) effectiveConnection() Connection {
	if d.Connection != "" {
		return d.Connection
	}
	if d.Type == HardwareNeuron {
		return ConnectionTCP
	}
	return ConnectionSerial
}
