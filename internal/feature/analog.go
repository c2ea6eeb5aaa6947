// internal/feature/analog.go
package feature

import (
	"context"
	"fmt"
	"math"
)

const (
	// analogScale converts raw counts of uncalibrated channels to volts.
	analogScale = 0.0025
	dacMax      = 4095
)

// ---- analog input ----

type AnalogInput struct {
	cell
	info Info
	last float64
}

func (a *AnalogInput) Kind() Kind      { return a.info.Kind }
func (a *AnalogInput) Circuit() string { return a.info.Circuit }
func (a *AnalogInput) Info() Info      { return a.info }

func (a *AnalogInput) Value() (float64, error) {
	raw, err := readRegister(a.cell)
	if err != nil {
		return 0, err
	}
	return float64(raw) * analogScale, nil
}

func (a *AnalogInput) Changed() (bool, error) {
	v, err := a.Value()
	if err != nil {
		return false, err
	}
	if v == a.last {
		return false, nil
	}
	a.last = v
	return true, nil
}

func (a *AnalogInput) State() (State, error) {
	v, err := a.Value()
	if err != nil {
		return State{}, err
	}
	return stateOf(a.info, v), nil
}

// ---- analog output ----

type Mode uint8

const (
	ModeVoltage Mode = iota
	ModeCurrent
	ModeResistance
)

func (m Mode) String() string {
	switch m {
	case ModeVoltage:
		return "Voltage"
	case ModeCurrent:
		return "Current"
	case ModeResistance:
		return "Resistance"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// AnalogOutput is a DAC channel. Only CalibratedCircuit applies the factory
// calibration stored at CalRegister (mode), CalRegister+1 (deviation).
type AnalogOutput struct {
	cell
	info    Info
	calReg  *uint16
	voltRef float64
	last    float64
}

type calibration struct {
	mode    uint16
	offset  float64
	factor  float64
	voltage bool
}

func (a *AnalogOutput) Kind() Kind      { return a.info.Kind }
func (a *AnalogOutput) Circuit() string { return a.info.Circuit }
func (a *AnalogOutput) Info() Info      { return a.info }

func (a *AnalogOutput) calibrated() bool { return a.info.Circuit == CalibratedCircuit }

// uint16ToInt reinterprets a register as a signed value. 0x8000 itself stays
// positive.
func uint16ToInt(x uint16) int {
	if x > 0x8000 {
		return int(x) - 0x10000
	}
	return int(x)
}

func (a *AnalogOutput) calibration() (calibration, error) {
	cal := calibration{voltage: true}
	deviation := 0

	if a.calReg != nil {
		mode, err := readRegister(cell{cache: a.cache, unit: a.unit, reg: *a.calReg})
		if err != nil {
			return calibration{}, err
		}
		dev, err := readRegister(cell{cache: a.cache, unit: a.unit, reg: *a.calReg + 1})
		if err != nil {
			return calibration{}, err
		}

		cal.mode = mode
		deviation = uint16ToInt(dev)

		if *a.calReg > 0 {
			cal.offset = float64(deviation) / 10000
		}
		if a.calibrated() && mode != 0 {
			cal.voltage = false
		}
	}

	if a.calibrated() {
		cal.factor = a.voltRef / dacMax * (1 + float64(deviation)/10000)
	} else {
		cal.factor = a.voltRef / dacMax * (1 / 10000.0)
	}

	if cal.voltage {
		cal.factor *= 3
	} else {
		cal.factor *= 10
	}

	return cal, nil
}

// Mode reports the output mode selected by the calibration mode register.
func (a *AnalogOutput) Mode() (Mode, error) {
	cal, err := a.calibration()
	if err != nil {
		return 0, err
	}
	switch {
	case cal.voltage:
		return ModeVoltage, nil
	case cal.mode == 1:
		return ModeCurrent, nil
	default:
		return ModeResistance, nil
	}
}

// Factor is the volts (or mA, ohms) per DAC count.
func (a *AnalogOutput) Factor() (float64, error) {
	if !a.calibrated() {
		return analogScale, nil
	}
	cal, err := a.calibration()
	if err != nil {
		return 0, err
	}
	return cal.factor, nil
}

func (a *AnalogOutput) Value() (float64, error) {
	raw, err := readRegister(a.cell)
	if err != nil {
		return 0, err
	}

	if !a.calibrated() {
		return float64(raw) * analogScale, nil
	}

	cal, err := a.calibration()
	if err != nil {
		return 0, err
	}
	return float64(raw)*cal.factor + cal.offset, nil
}

func (a *AnalogOutput) Changed() (bool, error) {
	v, err := a.Value()
	if err != nil {
		return false, err
	}
	if v == a.last {
		return false, nil
	}
	a.last = v
	return true, nil
}

func (a *AnalogOutput) State() (State, error) {
	v, err := a.Value()
	if err != nil {
		return State{}, err
	}
	return stateOf(a.info, v), nil
}

// SetState converts value to a DAC code (truncated toward zero, clamped to
// 0..4095) and writes it to the value register.
func (a *AnalogOutput) SetState(ctx context.Context, value float64) error {
	if math.IsNaN(value) {
		return fmt.Errorf("feature %s: value is NaN", a.info.Circuit)
	}

	counts := value / analogScale
	if a.calibrated() {
		cal, err := a.calibration()
		if err != nil {
			return err
		}
		counts = (value - cal.offset) / cal.factor
	}

	return a.cache.WriteRegister(ctx, a.unit, a.reg, dacCode(counts))
}

func dacCode(counts float64) uint16 {
	switch {
	case counts <= 0:
		return 0
	case counts >= dacMax:
		return dacMax
	default:
		return uint16(math.Trunc(counts))
	}
}
