// internal/converter/converter.go
package converter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tamzrod/unipi-control/internal/config"
)

// ------------------------------------------------------------
// Evok model file (input)
// ------------------------------------------------------------

type evokModel struct {
	Type     string        `yaml:"type"`
	Blocks   []evokBlock   `yaml:"modbus_register_blocks"`
	Features []evokFeature `yaml:"modbus_features"`
}

type evokBlock struct {
	BoardIndex uint8  `yaml:"board_index"`
	StartReg   uint16 `yaml:"start_reg"`
	Count      uint16 `yaml:"count"`
}

type evokFeature struct {
	Type       string  `yaml:"type"`
	Count      int     `yaml:"count"`
	MajorGroup int     `yaml:"major_group"`
	ValReg     uint16  `yaml:"val_reg"`
	ValCoil    *uint16 `yaml:"val_coil"`
}

// convertedKinds are the feature types carried over.
var convertedKinds = map[string]bool{
	"DI":  true,
	"DO":  true,
	"LED": true,
	"RO":  true,
}

var (
	ErrInputNotFile    = errors.New("input is not a file")
	ErrOutputIsFile    = errors.New("output is a file not a directory")
	ErrOutputMissing   = errors.New("output directory does not exist")
	ErrOutputExists    = errors.New("output file already exists")
	ErrInvalidDocument = errors.New("input is not a valid YAML mapping")
)

// Convert reads an Evok model file and writes the equivalent controller model
// definition into outputDir under the same file name. It returns the written path.
func Convert(input, outputDir string, force bool) (string, error) {
	if fi, err := os.Stat(input); err != nil || !fi.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrInputNotFile, input)
	}
	fi, err := os.Stat(outputDir)
	switch {
	case err != nil:
		return "", fmt.Errorf("%w: %s", ErrOutputMissing, outputDir)
	case !fi.IsDir():
		return "", fmt.Errorf("%w: %s", ErrOutputIsFile, outputDir)
	}

	data, err := os.ReadFile(input)
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}

	def, err := ConvertBytes(data)
	if err != nil {
		return "", err
	}

	out, err := yaml.Marshal(def)
	if err != nil {
		return "", fmt.Errorf("encode output: %w", err)
	}

	target := filepath.Join(outputDir, filepath.Base(input))
	if _, err := os.Stat(target); err == nil && !force {
		return "", fmt.Errorf("%w: %s", ErrOutputExists, target)
	}

	if err := os.WriteFile(target, out, 0o644); err != nil {
		return "", fmt.Errorf("write output: %w", err)
	}
	return target, nil
}

// ConvertBytes maps an Evok model document onto a hardware definition.
func ConvertBytes(data []byte) (config.HardwareDefinition, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return config.HardwareDefinition{}, fmt.Errorf("parse input: %w", err)
	}
	if len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return config.HardwareDefinition{}, ErrInvalidDocument
	}

	var src evokModel
	if err := root.Content[0].Decode(&src); err != nil {
		return config.HardwareDefinition{}, fmt.Errorf("parse input: %w", err)
	}

	def := config.HardwareDefinition{
		Model: src.Type,
		Type:  config.HardwareNeuron,
	}

	for _, b := range src.Blocks {
		def.RegisterBlocks = append(def.RegisterBlocks, config.BlockConfig{
			Slave:    b.BoardIndex,
			StartReg: b.StartReg,
			Count:    b.Count,
		})
	}

	for _, f := range src.Features {
		kind := strings.ToUpper(strings.TrimSpace(f.Type))
		if !convertedKinds[kind] {
			continue
		}
		def.Features = append(def.Features, config.FeatureConfig{
			FeatureType: kind,
			Count:       f.Count,
			MajorGroup:  f.MajorGroup,
			ValReg:      f.ValReg,
			ValCoil:     f.ValCoil,
		})
	}

	return def, nil
}
