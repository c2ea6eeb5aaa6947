// internal/cache/cache.go
package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/tamzrod/unipi-control/internal/config"
)

// RegisterCache holds the last batch-read values of every declared block on
// one connection.
//
// Semantics:
// - Scan is all-or-nothing: values are committed only if every read succeeded
// - Reads never touch the transport
// - Writes go to the transport first, then into every cached block covering the cell
// - A failed or cancelled operation leaves cached values unmodified
type RegisterCache struct {
	conn   config.Connection
	client Client

	// wire serializes transport calls; a scan holds it for the whole batch.
	wire sync.Mutex

	mu      sync.RWMutex
	entries []*entry
}

func New(conn config.Connection, client Client) (*RegisterCache, error) {
	if client == nil {
		return nil, fmt.Errorf("cache %s: client is nil", conn)
	}
	return &RegisterCache{conn: conn, client: client}, nil
}

func (c *RegisterCache) Connection() config.Connection { return c.conn }

// Declare registers blocks for scanning. Identical blocks are declared once.
func (c *RegisterCache) Declare(hwType config.HardwareType, blocks ...Block) {
	c.mu.Lock()
	defer c.mu.Unlock()

next:
	for _, b := range blocks {
		for _, e := range c.entries {
			if e.block == b {
				continue next
			}
		}
		c.entries = append(c.entries, &entry{block: b, hwType: hwType})
	}
}

// Blocks returns the declared blocks in declaration order.
func (c *RegisterCache) Blocks() []Block {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Block, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.block)
	}
	return out
}

// lockWire acquires the transport and fails if ctx ended while waiting for it.
// Nothing reaches the wire after the caller's deadline.
func (c *RegisterCache) lockWire(ctx context.Context) error {
	c.wire.Lock()
	if err := ctx.Err(); err != nil {
		c.wire.Unlock()
		return err
	}
	return nil
}

// ------------------------------------------------------------
// SCAN
// ------------------------------------------------------------

type staged struct {
	e         *entry
	registers []uint16
	coils     []bool
}

// Scan performs one batched read per declared block whose hardware type is in
// hwTypes (all blocks when hwTypes is empty).
func (c *RegisterCache) Scan(ctx context.Context, hwTypes ...config.HardwareType) error {
	c.mu.RLock()
	targets := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		if matches(e.hwType, hwTypes) {
			targets = append(targets, e)
		}
	}
	c.mu.RUnlock()

	if err := c.lockWire(ctx); err != nil {
		return err
	}
	defer c.wire.Unlock()

	results := make([]staged, 0, len(targets))

	for _, e := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}

		b := e.block
		s := staged{e: e}
		var err error

		switch b.Kind {
		case KindInput:
			s.registers, err = c.client.ReadInputRegisters(b.Unit, b.Start, b.Count)
			if err == nil && len(s.registers) != int(b.Count) {
				err = fmt.Errorf("got %d registers, want %d", len(s.registers), b.Count)
			}
		case KindHolding:
			s.registers, err = c.client.ReadHoldingRegisters(b.Unit, b.Start, b.Count)
			if err == nil && len(s.registers) != int(b.Count) {
				err = fmt.Errorf("got %d registers, want %d", len(s.registers), b.Count)
			}
		case KindCoil:
			s.coils, err = c.client.ReadCoils(b.Unit, b.Start, b.Count)
			if err == nil && len(s.coils) != int(b.Count) {
				err = fmt.Errorf("got %d coils, want %d", len(s.coils), b.Count)
			}
		default:
			err = fmt.Errorf("unsupported block kind %s", b.Kind)
		}

		if err != nil {
			return &CommunicationError{
				Connection: c.conn,
				Op:         "scan " + b.Kind.String(),
				Unit:       b.Unit,
				Address:    b.Start,
				Err:        err,
			}
		}

		results = append(results, s)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// commit only if all reads succeeded
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range results {
		s.e.registers = s.registers
		s.e.coils = s.coils
		s.e.generation++
	}

	return nil
}

func matches(t config.HardwareType, types []config.HardwareType) bool {
	if len(types) == 0 {
		return true
	}
	for _, want := range types {
		if t == want {
			return true
		}
	}
	return false
}

// ------------------------------------------------------------
// READS
// ------------------------------------------------------------

// GetRegister returns count registers starting at index. The whole range must
// lie inside one scanned block.
func (c *RegisterCache) GetRegister(unit uint8, index, count uint16) ([]uint16, error) {
	if count == 0 {
		count = 1
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, e := range c.entries {
		if !e.block.Kind.isRegister() || e.block.Unit != unit || !e.loaded() {
			continue
		}
		if !e.block.covers(index, count) {
			continue
		}

		off := index - e.block.Start
		out := make([]uint16, count)
		copy(out, e.registers[off:off+count])
		return out, nil
	}

	return nil, &OutOfRangeError{
		Connection: c.conn,
		Kind:       KindInput,
		Unit:       unit,
		Index:      index,
		Count:      count,
	}
}

func (c *RegisterCache) GetCoil(unit uint8, index uint16) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, e := range c.entries {
		if e.block.Kind != KindCoil || e.block.Unit != unit || !e.loaded() {
			continue
		}
		if e.block.covers(index, 1) {
			return e.coils[index-e.block.Start], nil
		}
	}

	return false, &OutOfRangeError{
		Connection: c.conn,
		Kind:       KindCoil,
		Unit:       unit,
		Index:      index,
		Count:      1,
	}
}

// ------------------------------------------------------------
// WRITES
// ------------------------------------------------------------

// WriteRegister writes one holding register and updates every cached block
// covering it.
func (c *RegisterCache) WriteRegister(ctx context.Context, unit uint8, index, value uint16) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := c.lockWire(ctx); err != nil {
		return err
	}
	err := c.client.WriteSingleRegister(unit, index, value)
	c.wire.Unlock()

	if err != nil {
		return &CommunicationError{
			Connection: c.conn,
			Op:         "write register",
			Unit:       unit,
			Address:    index,
			Err:        err,
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		if e.block.Kind.isRegister() && e.block.Unit == unit && e.loaded() && e.block.covers(index, 1) {
			e.registers[index-e.block.Start] = value
		}
	}
	return nil
}

// WriteCoil writes one coil and updates every cached coil block covering it.
func (c *RegisterCache) WriteCoil(ctx context.Context, unit uint8, index uint16, on bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := c.lockWire(ctx); err != nil {
		return err
	}
	err := c.client.WriteSingleCoil(unit, index, on)
	c.wire.Unlock()

	if err != nil {
		return &CommunicationError{
			Connection: c.conn,
			Op:         "write coil",
			Unit:       unit,
			Address:    index,
			Err:        err,
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		if e.block.Kind == KindCoil && e.block.Unit == unit && e.loaded() && e.block.covers(index, 1) {
			e.coils[index-e.block.Start] = on
		}
	}
	return nil
}

// MirrorBit sets or clears mask in a cached register without touching the
// transport. Neuron boards expose coil state as register bits; after an
// accepted coil write the bit is mirrored so readers see it before the next scan.
func (c *RegisterCache) MirrorBit(unit uint8, index, mask uint16, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	found := false
	for _, e := range c.entries {
		if !e.block.Kind.isRegister() || e.block.Unit != unit || !e.loaded() || !e.block.covers(index, 1) {
			continue
		}
		off := index - e.block.Start
		if on {
			e.registers[off] |= mask
		} else {
			e.registers[off] &^= mask
		}
		found = true
	}

	if !found {
		return &OutOfRangeError{
			Connection: c.conn,
			Kind:       KindInput,
			Unit:       unit,
			Index:      index,
			Count:      1,
		}
	}
	return nil
}

// ------------------------------------------------------------
// IDENTIFICATION
// ------------------------------------------------------------

// Identify reads a single input register without caching it.
// Used to check whether a board answers before its blocks are declared.
func (c *RegisterCache) Identify(ctx context.Context, unit uint8, register uint16) (uint16, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if err := c.lockWire(ctx); err != nil {
		return 0, err
	}
	regs, err := c.client.ReadInputRegisters(unit, register, 1)
	c.wire.Unlock()

	if err == nil && len(regs) != 1 {
		err = fmt.Errorf("got %d registers, want 1", len(regs))
	}
	if err != nil {
		return 0, &CommunicationError{
			Connection: c.conn,
			Op:         "identify",
			Unit:       unit,
			Address:    register,
			Err:        err,
		}
	}
	return regs[0], nil
}
