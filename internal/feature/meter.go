// internal/feature/meter.go
package feature

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Meter is an energy meter quantity stored as a big-endian float32 in two
// consecutive registers.
type Meter struct {
	cell
	info Info
	last *float64
}

func (m *Meter) Kind() Kind      { return m.info.Kind }
func (m *Meter) Circuit() string { return m.info.Circuit }
func (m *Meter) Info() Info      { return m.info }

func (m *Meter) Value() (float64, error) {
	regs, err := readRegisters(m.cell, 2)
	if err != nil {
		return 0, err
	}

	f := math.Float32frombits(uint32(regs[0])<<16 | uint32(regs[1]))
	if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
		return 0, fmt.Errorf("feature %s: register value is not a finite number", m.info.Circuit)
	}

	v, _ := decimal.NewFromFloat32(f).Round(2).Float64()
	return v, nil
}

// Changed compares numerically. The first successful read always reports a change.
func (m *Meter) Changed() (bool, error) {
	v, err := m.Value()
	if err != nil {
		return false, err
	}
	if m.last != nil && *m.last == v {
		return false, nil
	}
	m.last = &v
	return true, nil
}

func (m *Meter) State() (State, error) {
	v, err := m.Value()
	if err != nil {
		return State{}, err
	}
	return stateOf(m.info, v), nil
}
