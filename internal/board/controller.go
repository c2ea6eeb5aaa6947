// internal/board/controller.go
package board

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/tamzrod/unipi-control/internal/cache"
	"github.com/tamzrod/unipi-control/internal/config"
)

// NeuronGroups is the number of SPI board groups scanned on the controller.
const NeuronGroups = 3

// Controller discovers the controller boards and the extensions behind it.
type Controller struct {
	scanner *Scanner
	caches  map[config.Connection]*cache.RegisterCache
	defs    []config.HardwareDefinition
	logger  zerolog.Logger
}

func NewController(
	scanner *Scanner,
	caches map[config.Connection]*cache.RegisterCache,
	defs []config.HardwareDefinition,
	logger zerolog.Logger,
) *Controller {
	return &Controller{
		scanner: scanner,
		caches:  caches,
		defs:    defs,
		logger:  logger,
	}
}

// Discover scans neuron groups 1..NeuronGroups, then every extension, and
// runs one initial scan per connection that found a board.
// Failing initial scans are logged; the polling loop retries them.
func (c *Controller) Discover(ctx context.Context) ([]*Board, error) {
	var boards []*Board
	found := make(map[config.Connection]bool)

	for _, def := range c.defs {
		if def.Type != config.HardwareNeuron {
			continue
		}

		c.logger.Info().Str("model", def.Model).Msg("reading SPI boards")

		for group := 1; group <= NeuronGroups; group++ {
			b, err := c.scanner.ScanBoard(ctx, def, group, uint8(group))
			if err != nil {
				return nil, err
			}
			if b == nil {
				continue
			}
			boards = append(boards, b)
			found[def.Connection] = true
		}
	}

	for _, def := range c.defs {
		if def.Type != config.HardwareExtension {
			continue
		}

		c.logger.Info().
			Str("definition", def.Key).
			Str("manufacturer", def.Manufacturer).
			Str("model", def.Model).
			Msg("reading extension")

		b, err := c.scanner.ScanBoard(ctx, def, 1, def.Unit)
		if err != nil {
			return nil, err
		}
		if b == nil {
			continue
		}
		boards = append(boards, b)
		found[def.Connection] = true
	}

	for _, conn := range []config.Connection{config.ConnectionTCP, config.ConnectionSerial} {
		if !found[conn] {
			continue
		}
		if err := c.caches[conn].Scan(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn().Err(err).Str("connection", string(conn)).Msg("initial scan failed")
		}
	}

	return boards, nil
}
