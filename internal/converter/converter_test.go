// internal/converter/converter_test.go
package converter

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tamzrod/unipi-control/internal/config"
)

const evokM103 = `---
type: M103
modbus_register_blocks:
    - board_index : 1
      start_reg   : 0
      count       : 2
      frequency   : 1
    - board_index : 2
      start_reg   : 100
      count       : 19
      frequency   : 1
modbus_features:
    - type        : AO
      count       : 1
      major_group : 1
      val_reg     : 2
      cal_reg     : 1024
    - type        : DO
      count       : 4
      major_group : 1
      modes       :
        - Simple
        - PWM
      val_reg     : 1
      val_coil    : 0
    - type        : DI
      count       : 4
      major_group : 1
      val_reg     : 0
    - type        : RO
      count       : 8
      major_group : 2
      val_reg     : 101
      val_coil    : 100
    - type        : WD
      count       : 1
      major_group : 1
      val_reg     : 6
`

func writeInput(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestConvertBytes(t *testing.T) {
	def, err := ConvertBytes([]byte(evokM103))
	require.NoError(t, err)

	require.Equal(t, "M103", def.Model)
	require.Equal(t, config.HardwareNeuron, def.Type)
	require.Equal(t, []config.BlockConfig{
		{Slave: 1, StartReg: 0, Count: 2},
		{Slave: 2, StartReg: 100, Count: 19},
	}, def.RegisterBlocks)

	require.Len(t, def.Features, 3)
	require.Equal(t, "DO", def.Features[0].FeatureType)
	require.NotNil(t, def.Features[0].ValCoil)
	require.Equal(t, uint16(0), *def.Features[0].ValCoil)
	require.Equal(t, "DI", def.Features[1].FeatureType)
	require.Nil(t, def.Features[1].ValCoil)
	require.Equal(t, "RO", def.Features[2].FeatureType)
	require.Equal(t, 2, def.Features[2].MajorGroup)
	require.Equal(t, uint16(100), *def.Features[2].ValCoil)
}

func TestConvertBytesRejectsNonMapping(t *testing.T) {
	_, err := ConvertBytes([]byte("- a\n- b\n"))
	require.ErrorIs(t, err, ErrInvalidDocument)

	_, err = ConvertBytes([]byte(""))
	require.ErrorIs(t, err, ErrInvalidDocument)
}

func TestConvertWritesLoadableDefinition(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	src := writeInput(t, in, "M103.yaml", evokM103)

	target, err := Convert(src, out, false)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(out, "M103.yaml"), target)

	def, err := config.LoadHardwareDefinition(target)
	require.NoError(t, err)
	require.Equal(t, "M103", def.Key)
	require.Len(t, def.RegisterBlocks, 2)
	require.Len(t, def.Features, 3)
	require.Equal(t, uint16(0), *def.Features[0].ValCoil)

	// second run needs force
	_, err = Convert(src, out, false)
	require.ErrorIs(t, err, ErrOutputExists)

	_, err = Convert(src, out, true)
	require.NoError(t, err)
}

func TestConvertChecksPaths(t *testing.T) {
	dir := t.TempDir()
	src := writeInput(t, dir, "M103.yaml", evokM103)

	cases := []struct {
		name   string
		input  string
		output string
		want   error
	}{
		{"input missing", filepath.Join(dir, "nope.yaml"), dir, ErrInputNotFile},
		{"input is dir", dir, dir, ErrInputNotFile},
		{"output is file", src, src, ErrOutputIsFile},
		{"output missing", src, filepath.Join(dir, "missing"), ErrOutputMissing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Convert(tc.input, tc.output, false)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}
