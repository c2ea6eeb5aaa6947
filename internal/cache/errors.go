// internal/cache/errors.go
package cache

import (
	"fmt"

	"github.com/tamzrod/unipi-control/internal/config"
)

// CommunicationError is a transport failure on one request.
type CommunicationError struct {
	Connection config.Connection
	Op         string
	Unit       uint8
	Address    uint16
	Err        error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf(
		"%s %s: unit=%d address=%d: %v",
		e.Connection,
		e.Op,
		e.Unit,
		e.Address,
		e.Err,
	)
}

func (e *CommunicationError) Unwrap() error { return e.Err }

// OutOfRangeError reports a read of cells that no scanned block covers.
// Reading a cell the definition declares but that was never scanned is a defect.
type OutOfRangeError struct {
	Connection config.Connection
	Kind       Kind
	Unit       uint8
	Index      uint16
	Count      uint16
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf(
		"%s: %s %d..%d on unit %d is not covered by a scanned block",
		e.Connection,
		e.Kind,
		e.Index,
		uint32(e.Index)+uint32(e.Count)-1,
		e.Unit,
	)
}
