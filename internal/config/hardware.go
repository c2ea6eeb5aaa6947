// internal/config/hardware.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type HardwareType string

const (
	HardwareNeuron    HardwareType = "neuron"
	HardwareExtension HardwareType = "extension"
)

type Connection string

const (
	ConnectionTCP    Connection = "tcp"
	ConnectionSerial Connection = "serial"
)

// Block functions. Coil blocks ignore the field.
const (
	FunctionInput   = "input"
	FunctionHolding = "holding"
)

const (
	DefaultFirmwareRegister uint16  = 1000
	DefaultVoltReference    float64 = 3.3
)

// NeuronKey is the definition key of the controller model.
const NeuronKey = "neuron"

// HardwareDefinition describes one board model. It is read-only after load.
type HardwareDefinition struct {
	Key              string       `yaml:"-"`
	Manufacturer     string       `yaml:"manufacturer,omitempty"`
	Model            string       `yaml:"model,omitempty"`
	DeviceName       string       `yaml:"device_name,omitempty"`
	SuggestedArea    string       `yaml:"suggested_area,omitempty"`
	Type             HardwareType `yaml:"type,omitempty"`
	Connection       Connection   `yaml:"connection,omitempty"`
	Unit             uint8        `yaml:"unit,omitempty"`
	VoltReference    float64      `yaml:"volt_reference,omitempty"`
	FirmwareRegister uint16       `yaml:"firmware_register,omitempty"`

	RegisterBlocks []BlockConfig   `yaml:"modbus_register_blocks"`
	CoilBlocks     []BlockConfig   `yaml:"modbus_coil_blocks,omitempty"`
	Features       []FeatureConfig `yaml:"modbus_features"`
}

// BlockConfig is one batched read. Slave 0 means the unit being scanned.
type BlockConfig struct {
	Slave    uint8  `yaml:"slave,omitempty"`
	StartReg uint16 `yaml:"start_reg"`
	Count    uint16 `yaml:"count"`
	Function string `yaml:"function,omitempty"`
}

type FeatureConfig struct {
	FeatureType string  `yaml:"feature_type"`
	Count       int     `yaml:"count"`
	MajorGroup  int     `yaml:"major_group"`
	ValReg      uint16  `yaml:"val_reg"`
	ValCoil     *uint16 `yaml:"val_coil,omitempty"`
	CalReg      *uint16 `yaml:"cal_reg,omitempty"`

	// meter properties
	FriendlyName      string `yaml:"friendly_name,omitempty"`
	DeviceClass       string `yaml:"device_class,omitempty"`
	StateClass        string `yaml:"state_class,omitempty"`
	UnitOfMeasurement string `yaml:"unit_of_measurement,omitempty"`
}

// ParseHardwareDefinition decodes one definition file.
func ParseHardwareDefinition(key string, data []byte) (HardwareDefinition, error) {
	var def HardwareDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return HardwareDefinition{}, fmt.Errorf("parse hardware definition %q: %w", key, err)
	}
	def.Key = key
	return def, nil
}

func LoadHardwareDefinition(path string) (HardwareDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return HardwareDefinition{}, fmt.Errorf("read hardware definition: %w", err)
	}
	key := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return ParseHardwareDefinition(key, data)
}

// LoadHardware loads the controller model followed by every extension
// definition, sorted by file name. Extension load order is the scan order.
func LoadHardware(cfg HardwareConfig) ([]HardwareDefinition, error) {
	var defs []HardwareDefinition

	if cfg.Neuron != "" {
		def, err := LoadHardwareDefinition(cfg.Neuron)
		if err != nil {
			return nil, err
		}
		def.Key = NeuronKey
		def.Type = HardwareNeuron
		defs = append(defs, def)
	}

	if cfg.ExtensionsDir == "" {
		return defs, nil
	}

	entries, err := os.ReadDir(cfg.ExtensionsDir)
	if err != nil {
		return nil, fmt.Errorf("read extensions dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		def, err := LoadHardwareDefinition(filepath.Join(cfg.ExtensionsDir, name))
		if err != nil {
			return nil, err
		}
		if def.Type == "" {
			def.Type = HardwareExtension
		}
		defs = append(defs, def)
	}

	return defs, nil
}
