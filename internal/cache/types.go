// internal/cache/types.go
package cache

import (
	"fmt"

	"github.com/tamzrod/unipi-control/internal/config"
)

// Client is the transport a cache reads through.
// Calls are serialized by the cache.
type Client interface {
	ReadCoils(unit uint8, addr, qty uint16) ([]bool, error)
	ReadHoldingRegisters(unit uint8, addr, qty uint16) ([]uint16, error)
	ReadInputRegisters(unit uint8, addr, qty uint16) ([]uint16, error)
	WriteSingleCoil(unit uint8, addr uint16, on bool) error
	WriteSingleRegister(unit uint8, addr, value uint16) error
}

type Kind uint8

const (
	KindInput Kind = iota + 1
	KindHolding
	KindCoil
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input registers"
	case KindHolding:
		return "holding registers"
	case KindCoil:
		return "coils"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func (k Kind) isRegister() bool { return k == KindInput || k == KindHolding }

// Block is one contiguous range fetched in a single transaction.
type Block struct {
	Unit  uint8
	Start uint16
	Count uint16
	Kind  Kind
}

func (b Block) covers(index, count uint16) bool {
	return uint32(index) >= uint32(b.Start) &&
		uint32(index)+uint32(count) <= uint32(b.Start)+uint32(b.Count)
}

// BlocksFor turns definition blocks into cache blocks for one unit.
// A block with slave 0 belongs to the scanned unit; blocks owned by another
// slave are not part of this unit and are skipped.
func BlocksFor(def config.HardwareDefinition, unit uint8) []Block {
	var out []Block

	for _, b := range def.RegisterBlocks {
		if b.Slave != 0 && b.Slave != unit {
			continue
		}
		kind := KindInput
		if b.Function == config.FunctionHolding {
			kind = KindHolding
		}
		out = append(out, Block{Unit: unit, Start: b.StartReg, Count: b.Count, Kind: kind})
	}

	for _, b := range def.CoilBlocks {
		if b.Slave != 0 && b.Slave != unit {
			continue
		}
		out = append(out, Block{Unit: unit, Start: b.StartReg, Count: b.Count, Kind: KindCoil})
	}

	return out
}

// ---- cache entry ----

type entry struct {
	block      Block
	hwType     config.HardwareType
	registers  []uint16
	coils      []bool
	generation uint64
}

func (e *entry) loaded() bool { return e.generation > 0 }
