// internal/feature/analog_test.go
package feature

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tamzrod/unipi-control/internal/config"
)

const (
	testValueReg = 2
	testCalReg   = 1024
)

func analogOutput(t *testing.T, c Cache, circuit string, calReg *uint16) *AnalogOutput {
	t.Helper()

	f := mustNew(t, Params{
		Info: Info{
			Kind:       KindAnalogOutput,
			Circuit:    circuit,
			MajorGroup: 1,
			Unit:       1,
			Connection: config.ConnectionTCP,
		},
		Cache:         c,
		Register:      testValueReg,
		CalRegister:   calReg,
		VoltReference: config.DefaultVoltReference,
	})
	return f.(*AnalogOutput)
}

func TestUint16ToInt(t *testing.T) {
	require.Equal(t, 0, uint16ToInt(0))
	require.Equal(t, 50, uint16ToInt(50))
	require.Equal(t, 0x8000, uint16ToInt(0x8000))
	require.Equal(t, -32767, uint16ToInt(0x8001))
	require.Equal(t, -1, uint16ToInt(0xFFFF))
}

func TestAnalogInputValue(t *testing.T) {
	dev := newFakeDevice()
	dev.regs[3] = 400
	c := newScannedCache(t, dev)

	ai := mustNew(t, Params{Info: Info{Kind: KindAnalogInput, Circuit: "ai_1_01", Unit: 1}, Cache: c, Register: 3})

	v, err := ai.Value()
	require.NoError(t, err)
	require.InDelta(t, 1.0, v, 1e-9)

	changed, err := ai.Changed()
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = ai.Changed()
	require.NoError(t, err)
	require.False(t, changed)
}

func TestAnalogOutputUncalibrated(t *testing.T) {
	dev := newFakeDevice()
	dev.regs[testValueReg] = 2000
	c := newScannedCache(t, dev)

	ao := analogOutput(t, c, "ao_2_01", u16(testCalReg))

	v, err := ao.Value()
	require.NoError(t, err)
	require.InDelta(t, 5.0, v, 1e-9)

	factor, err := ao.Factor()
	require.NoError(t, err)
	require.Equal(t, analogScale, factor)

	require.NoError(t, ao.SetState(context.Background(), 2.501))
	require.Equal(t, []uint16{1000}, dev.writes)

	v, err = ao.Value()
	require.NoError(t, err)
	require.InDelta(t, 2.5, v, 1e-9)
}

func TestAnalogOutputClamp(t *testing.T) {
	for _, circuit := range []string{CalibratedCircuit, "ao_2_01"} {
		dev := newFakeDevice()
		dev.regs[testCalReg+1] = 0xFFCE // deviation -50
		c := newScannedCache(t, dev)

		ao := analogOutput(t, c, circuit, u16(testCalReg))

		require.NoError(t, ao.SetState(context.Background(), -1000.0))
		require.NoError(t, ao.SetState(context.Background(), 1000.0))
		require.Equal(t, []uint16{0, 4095}, dev.writes, circuit)
	}
}

func TestAnalogOutputRejectsNaN(t *testing.T) {
	dev := newFakeDevice()
	c := newScannedCache(t, dev)
	ao := analogOutput(t, c, CalibratedCircuit, nil)

	require.Error(t, ao.SetState(context.Background(), math.NaN()))
	require.Empty(t, dev.writes)
}

func TestAnalogOutputCalibrationRoundTrip(t *testing.T) {
	for _, deviation := range []uint16{0, 50, 0xFFCE} {
		dev := newFakeDevice()
		dev.regs[testCalReg+1] = deviation
		c := newScannedCache(t, dev)

		ao := analogOutput(t, c, CalibratedCircuit, u16(testCalReg))

		factor, err := ao.Factor()
		require.NoError(t, err)

		// above the largest offset, below full scale
		for v := 0.01; v <= 9.5; v += 0.7 {
			require.NoError(t, ao.SetState(context.Background(), v))

			got, err := ao.Value()
			require.NoError(t, err)
			require.InDelta(t, v, got, factor, "deviation=%d v=%.2f", deviation, v)
		}
	}
}

func TestAnalogOutputCalibrationFactor(t *testing.T) {
	dev := newFakeDevice()
	dev.regs[testCalReg+1] = 100 // +1%
	c := newScannedCache(t, dev)

	ao := analogOutput(t, c, CalibratedCircuit, u16(testCalReg))

	factor, err := ao.Factor()
	require.NoError(t, err)
	require.InDelta(t, 3.3/4095*1.01*3, factor, 1e-12)

	dev.regs[testValueReg] = 1000
	require.NoError(t, c.Scan(context.Background()))

	v, err := ao.Value()
	require.NoError(t, err)
	require.InDelta(t, 1000*factor+0.01, v, 1e-9)
}

func TestAnalogOutputWithoutCalibrationRegister(t *testing.T) {
	dev := newFakeDevice()
	dev.regs[testValueReg] = 4095
	c := newScannedCache(t, dev)

	ao := analogOutput(t, c, CalibratedCircuit, nil)

	v, err := ao.Value()
	require.NoError(t, err)
	require.InDelta(t, 3.3*3, v, 1e-9)

	mode, err := ao.Mode()
	require.NoError(t, err)
	require.Equal(t, ModeVoltage, mode)
}

func TestAnalogOutputMode(t *testing.T) {
	cases := []struct {
		circuit string
		mode    uint16
		want    Mode
	}{
		{CalibratedCircuit, 0, ModeVoltage},
		{CalibratedCircuit, 1, ModeCurrent},
		{CalibratedCircuit, 2, ModeResistance},
		{"ao_2_01", 1, ModeVoltage},
	}

	for _, tc := range cases {
		dev := newFakeDevice()
		dev.regs[testCalReg] = tc.mode
		c := newScannedCache(t, dev)

		ao := analogOutput(t, c, tc.circuit, u16(testCalReg))

		mode, err := ao.Mode()
		require.NoError(t, err)
		require.Equal(t, tc.want, mode, "%s mode=%d", tc.circuit, tc.mode)
	}
}

func TestAnalogOutputCurrentFactor(t *testing.T) {
	dev := newFakeDevice()
	dev.regs[testCalReg] = 1
	c := newScannedCache(t, dev)

	ao := analogOutput(t, c, CalibratedCircuit, u16(testCalReg))

	factor, err := ao.Factor()
	require.NoError(t, err)
	require.InDelta(t, 3.3/4095*10, factor, 1e-12)
}

func TestAnalogOutputCalibrationOutOfRange(t *testing.T) {
	c := newScannedCache(t, newFakeDevice())

	ao := analogOutput(t, c, CalibratedCircuit, u16(2000))

	_, err := ao.Value()
	require.Error(t, err)
	require.Error(t, ao.SetState(context.Background(), 1))
}
