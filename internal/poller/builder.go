// internal/poller/builder.go
package poller

import (
	"errors"
	"time"

	"github.com/tamzrod/unipi-control/internal/cache"
	"github.com/tamzrod/unipi-control/internal/config"
	"github.com/tamzrod/unipi-control/internal/modbus"
)

// Connections are scanned in this order.
var connectionOrder = []config.Connection{config.ConnectionTCP, config.ConnectionSerial}

// BuildCaches opens one transport per connection the definitions use and
// wraps each in a register cache. Transports fail fast at startup.
// The returned closer closes every opened transport.
func BuildCaches(c *config.Config, defs []config.HardwareDefinition) (map[config.Connection]*cache.RegisterCache, func() error, error) {
	needed := make(map[config.Connection]bool)
	for _, d := range defs {
		needed[d.Connection] = true
	}

	caches := make(map[config.Connection]*cache.RegisterCache)
	var clients []*modbus.Client

	closeAll := func() error {
		var errs []error
		for _, cl := range clients {
			errs = append(errs, cl.Close())
		}
		return errors.Join(errs...)
	}

	for _, conn := range connectionOrder {
		if !needed[conn] {
			continue
		}

		var (
			client *modbus.Client
			err    error
		)

		switch conn {
		case config.ConnectionTCP:
			client, err = modbus.NewTCP(modbus.TCPConfig{
				Endpoint: c.Modbus.TCP.Endpoint,
				Timeout:  time.Duration(c.Modbus.TCP.TimeoutMs) * time.Millisecond,
			})
		case config.ConnectionSerial:
			s := c.Modbus.Serial
			client, err = modbus.NewRTU(modbus.SerialConfig{
				Port:     s.Port,
				BaudRate: s.BaudRate,
				DataBits: s.DataBits,
				Parity:   s.Parity,
				StopBits: s.StopBits,
				Timeout:  time.Duration(s.TimeoutMs) * time.Millisecond,
			})
		}
		if err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		clients = append(clients, client)

		rc, err := cache.New(conn, client)
		if err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		caches[conn] = rc
	}

	return caches, closeAll, nil
}

// Build constructs a Poller over the given caches in scan order.
func Build(c config.PollConfig, caches map[config.Connection]*cache.RegisterCache, dir Directory, observer ScanObserver) (*Poller, error) {
	ordered := make([]Cache, 0, len(caches))
	for _, conn := range connectionOrder {
		if rc, ok := caches[conn]; ok {
			ordered = append(ordered, rc)
		}
	}

	return New(
		Config{Interval: time.Duration(c.IntervalMs) * time.Millisecond},
		ordered,
		dir,
		observer,
	)
}
