// internal/feature/feature.go
package feature

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tamzrod/unipi-control/internal/config"
)

var (
	ErrMissingFeature = errors.New("feature not found")
	ErrNotWritable    = errors.New("feature is not writable")
)

// Cache is the register cache a feature reads from and writes through.
type Cache interface {
	GetRegister(unit uint8, index, count uint16) ([]uint16, error)
	WriteRegister(ctx context.Context, unit uint8, index, value uint16) error
	WriteCoil(ctx context.Context, unit uint8, index uint16, on bool) error
	MirrorBit(unit uint8, index, mask uint16, on bool) error
}

// Feature is one addressable I/O point.
//
// Changed is not safe for concurrent use; the polling loop is its only caller.
type Feature interface {
	Kind() Kind
	Circuit() string
	Info() Info
	Value() (float64, error)
	Changed() (bool, error)
	State() (State, error)
}

// Writer is implemented by output kinds.
type Writer interface {
	Feature
	SetState(ctx context.Context, value float64) error
}

// Info is the read-only description used by publishers.
type Info struct {
	Kind       Kind
	Circuit    string
	Name       string
	MajorGroup int
	Index      int
	Unit       uint8
	Connection config.Connection
	Firmware   string
	Definition *config.HardwareDefinition
	Meter      MeterProps
}

type MeterProps struct {
	FriendlyName      string
	DeviceClass       string
	StateClass        string
	UnitOfMeasurement string
}

// State is a point-in-time value of one feature.
type State struct {
	Kind       Kind
	Circuit    string
	Connection config.Connection
	Value      float64
}

// Payload renders the value for MQTT: ON/OFF for digital kinds, a decimal
// number otherwise.
func (s State) Payload() string {
	if s.Kind.IsDigital() {
		if s.Value != 0 {
			return "ON"
		}
		return "OFF"
	}
	return decimal.NewFromFloat(s.Value).Round(4).String()
}

// ---- construction ----

// Params carries everything needed to build one feature.
type Params struct {
	Info  Info
	Cache Cache

	// Register holds the value (digital: the status bit register).
	Register uint16
	// Mask selects the status bit of digital kinds.
	Mask uint16
	// Coil is required for digital outputs.
	Coil *uint16
	// CalRegister is the calibration base of analog outputs.
	CalRegister   *uint16
	VoltReference float64
}

// New builds the feature variant for p.Info.Kind.
func New(p Params) (Feature, error) {
	if p.Cache == nil {
		return nil, fmt.Errorf("feature %s: cache is nil", p.Info.Circuit)
	}

	c := cell{cache: p.Cache, unit: p.Info.Unit, reg: p.Register}

	switch p.Info.Kind {
	case KindDigitalInput:
		return &DigitalInput{digital: digital{cell: c, info: p.Info, mask: p.Mask}}, nil

	case KindRelay, KindDigitalOutput, KindLED:
		if p.Coil == nil {
			return nil, fmt.Errorf("feature %s: %s requires a coil", p.Info.Circuit, p.Info.Kind)
		}
		return &DigitalOutput{
			digital: digital{cell: c, info: p.Info, mask: p.Mask},
			coil:    *p.Coil,
		}, nil

	case KindAnalogInput:
		return &AnalogInput{cell: c, info: p.Info}, nil

	case KindAnalogOutput:
		return &AnalogOutput{
			cell:    c,
			info:    p.Info,
			calReg:  p.CalRegister,
			voltRef: p.VoltReference,
		}, nil

	case KindMeter:
		return &Meter{cell: c, info: p.Info}, nil
	}

	return nil, fmt.Errorf("feature %s: %w %s", p.Info.Circuit, ErrUnknownKind, p.Info.Kind)
}

// ---- shared cell access ----

type cell struct {
	cache Cache
	unit  uint8
	reg   uint16
}

func readRegister(c cell) (uint16, error) {
	regs, err := c.cache.GetRegister(c.unit, c.reg, 1)
	if err != nil {
		return 0, err
	}
	return regs[0], nil
}

func readRegisters(c cell, count uint16) ([]uint16, error) {
	return c.cache.GetRegister(c.unit, c.reg, count)
}

func stateOf(info Info, value float64) State {
	return State{
		Kind:       info.Kind,
		Circuit:    info.Circuit,
		Connection: info.Connection,
		Value:      value,
	}
}
