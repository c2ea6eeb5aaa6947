// cmd/unipi-control/commands.go
package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tamzrod/unipi-control/internal/config"
	"github.com/tamzrod/unipi-control/internal/converter"
)

// loadConfig loads, validates and normalizes the main config and every
// hardware definition it points at.
func loadConfig(path string) (*config.Config, []config.HardwareDefinition, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("config load failed: %w", err)
	}

	defs, err := config.LoadHardware(cfg.Hardware)
	if err != nil {
		return nil, nil, fmt.Errorf("hardware load failed: %w", err)
	}

	if err := config.Validate(cfg, defs); err != nil {
		return nil, nil, fmt.Errorf("config validation failed: %w", err)
	}

	config.Normalize(cfg, defs)
	return cfg, defs, nil
}

func runCheck(w io.Writer, path string) error {
	cfg, defs, err := loadConfig(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "device: %s\n", cfg.DeviceInfo.Name)
	for _, d := range defs {
		features := 0
		for _, f := range d.Features {
			features += f.Count
		}
		fmt.Fprintf(w, "definition %s: type=%s connection=%s unit=%d blocks=%d coil_blocks=%d features=%d\n",
			d.Key, d.Type, d.Connection, d.Unit, len(d.RegisterBlocks), len(d.CoilBlocks), features)
	}
	fmt.Fprintln(w, "configuration OK")
	return nil
}

func newConvertCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "convert <evok-model.yaml> <output-dir>",
		Short: "Convert an Evok model file to a hardware definition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := converter.Convert(args[0], args[1], force)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "YAML file written to: %s\n", target)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite the output file if it already exists")

	return cmd
}
