// internal/board/scanner.go
package board

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tamzrod/unipi-control/internal/cache"
	"github.com/tamzrod/unipi-control/internal/config"
	"github.com/tamzrod/unipi-control/internal/feature"
	"github.com/tamzrod/unipi-control/internal/modbus"
)

// UnknownKindError is returned for a feature_type no feature kind maps to.
type UnknownKindError struct {
	Definition  string
	FeatureType string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("definition %q: unknown feature type %q", e.Definition, e.FeatureType)
}

func (e *UnknownKindError) Unwrap() error { return feature.ErrUnknownKind }

// Board is one answering board and the features built for it.
type Board struct {
	Definition *config.HardwareDefinition
	MajorGroup int
	Unit       uint8
	Firmware   string
	Features   []feature.Feature
}

// Scanner builds features for boards that answer identification.
type Scanner struct {
	caches map[config.Connection]*cache.RegisterCache
	dir    *feature.Directory
	logger zerolog.Logger
}

func NewScanner(
	caches map[config.Connection]*cache.RegisterCache,
	dir *feature.Directory,
	logger zerolog.Logger,
) *Scanner {
	return &Scanner{caches: caches, dir: dir, logger: logger}
}

// FirmwareVersion formats an identification word as "high.low".
func FirmwareVersion(word uint16) string {
	return fmt.Sprintf("%d.%d", word>>8, word&0xFF)
}

// ScanBoard identifies the board at unit and registers its features.
// A board that does not answer, or rejects identification with an exception,
// yields (nil, nil).
func (s *Scanner) ScanBoard(
	ctx context.Context,
	def config.HardwareDefinition,
	majorGroup int,
	unit uint8,
) (*Board, error) {
	c, ok := s.caches[def.Connection]
	if !ok {
		return nil, fmt.Errorf("definition %q: no %s connection", def.Key, def.Connection)
	}

	log := s.logger.With().
		Str("definition", def.Key).
		Str("connection", string(def.Connection)).
		Uint8("unit", unit).
		Logger()

	word, err := c.Identify(ctx, unit, def.FirmwareRegister)
	if err != nil {
		var ex *modbus.ExceptionError
		if errors.As(err, &ex) {
			log.Warn().
				Err(err).
				Uint16("firmware_register", def.FirmwareRegister).
				Msg("board answered identification with an exception; check firmware_register")
			return nil, nil
		}

		var ce *cache.CommunicationError
		if errors.As(err, &ce) {
			log.Info().Err(err).Msg("no board answered")
			return nil, nil
		}
		return nil, err
	}

	b := &Board{
		Definition: &def,
		MajorGroup: majorGroup,
		Unit:       unit,
		Firmware:   FirmwareVersion(word),
	}

	features, err := s.build(b, c)
	if err != nil {
		return nil, err
	}

	for _, f := range features {
		if _, dup := s.dir.ByCircuit(f.Circuit()); dup {
			return nil, fmt.Errorf("definition %q: circuit %s already registered", def.Key, f.Circuit())
		}
	}

	c.Declare(def.Type, cache.BlocksFor(def, unit)...)

	for _, f := range features {
		s.dir.Register(f)
	}
	b.Features = features

	log.Info().
		Str("firmware", b.Firmware).
		Int("major_group", majorGroup).
		Int("features", len(features)).
		Msg("board found")

	return b, nil
}

func (s *Scanner) build(b *Board, c *cache.RegisterCache) ([]feature.Feature, error) {
	def := b.Definition
	var out []feature.Feature

	for _, fc := range def.Features {
		kind, err := feature.ParseKind(fc.FeatureType)
		if err != nil {
			return nil, &UnknownKindError{Definition: def.Key, FeatureType: fc.FeatureType}
		}

		group := fc.MajorGroup
		if def.Type == config.HardwareNeuron && group != b.MajorGroup {
			continue
		}
		if group == 0 {
			group = b.MajorGroup
		}

		for index := 0; index < fc.Count; index++ {
			p := feature.Params{
				Info: feature.Info{
					Kind:       kind,
					Circuit:    circuitID(def, kind, b.Unit, group, index),
					Name:       feature.DisplayName(kind, group, index),
					MajorGroup: group,
					Index:      index,
					Unit:       b.Unit,
					Connection: def.Connection,
					Firmware:   b.Firmware,
					Definition: def,
				},
				Cache:         c,
				VoltReference: def.VoltReference,
			}

			switch kind {
			case feature.KindRelay, feature.KindDigitalOutput, feature.KindDigitalInput, feature.KindLED:
				p.Register = fc.ValReg + uint16(index/16)
				p.Mask = 1 << (index % 16)
				if fc.ValCoil != nil {
					coil := *fc.ValCoil + uint16(index)
					p.Coil = &coil
				}

			case feature.KindAnalogInput:
				p.Register = fc.ValReg + uint16(index)

			case feature.KindAnalogOutput:
				p.Register = fc.ValReg + uint16(index)
				p.CalRegister = fc.CalReg

			case feature.KindMeter:
				p.Register = fc.ValReg + uint16(index*2)
				p.Info.Circuit = feature.MeterCircuitID(fc.FriendlyName, b.Unit)
				p.Info.Name = fc.FriendlyName
				p.Info.Meter = feature.MeterProps{
					FriendlyName:      fc.FriendlyName,
					DeviceClass:       fc.DeviceClass,
					StateClass:        fc.StateClass,
					UnitOfMeasurement: fc.UnitOfMeasurement,
				}
			}

			f, err := feature.New(p)
			if err != nil {
				return nil, fmt.Errorf("definition %q: %w", def.Key, err)
			}
			out = append(out, f)
		}
	}

	return out, nil
}

func circuitID(def *config.HardwareDefinition, kind feature.Kind, unit uint8, group, index int) string {
	if def.Type == config.HardwareExtension {
		return feature.ExtensionCircuitID(kind, unit, group, index)
	}
	return feature.CircuitID(kind, group, index)
}
