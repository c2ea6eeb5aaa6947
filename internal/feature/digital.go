// internal/feature/digital.go
package feature

import (
	"context"
	"errors"

	"github.com/tamzrod/unipi-control/internal/cache"
)

// digital reads one bit of a status register.
type digital struct {
	cell
	info Info
	mask uint16
	last bool
}

func (d *digital) Kind() Kind      { return d.info.Kind }
func (d *digital) Circuit() string { return d.info.Circuit }
func (d *digital) Info() Info      { return d.info }

// Mask is the status bit within the register.
func (d *digital) Mask() uint16 { return d.mask }

func (d *digital) Value() (float64, error) {
	raw, err := readRegister(d.cell)
	if err != nil {
		return 0, err
	}
	if raw&d.mask != 0 {
		return 1, nil
	}
	return 0, nil
}

func (d *digital) Changed() (bool, error) {
	v, err := d.Value()
	if err != nil {
		return false, err
	}

	on := v != 0
	if on == d.last {
		return false, nil
	}
	d.last = on
	return true, nil
}

func (d *digital) State() (State, error) {
	v, err := d.Value()
	if err != nil {
		return State{}, err
	}
	return stateOf(d.info, v), nil
}

type DigitalInput struct {
	digital
}

// DigitalOutput covers relays, digital outputs and LEDs: the coil is written,
// the status register bit is read.
type DigitalOutput struct {
	digital
	coil uint16
}

func (o *DigitalOutput) Coil() uint16 { return o.coil }

func (o *DigitalOutput) SetState(ctx context.Context, value float64) error {
	on := value != 0

	if err := o.cache.WriteCoil(ctx, o.unit, o.coil, on); err != nil {
		return err
	}

	// An unscanned status register is refreshed by the next scan.
	err := o.cache.MirrorBit(o.unit, o.reg, o.mask, on)
	var oor *cache.OutOfRangeError
	if errors.As(err, &oor) {
		return nil
	}
	return err
}
