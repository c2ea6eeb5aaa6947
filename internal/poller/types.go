// internal/poller/types.go
package poller

import (
	"errors"
	"fmt"
	"time"

	"github.com/tamzrod/unipi-control/internal/config"
	"github.com/tamzrod/unipi-control/internal/feature"
)

// ScanResult is the outcome of one connection scan.
type ScanResult struct {
	Connection config.Connection
	Duration   time.Duration
	Err        error
}

// FeatureError is a value read that failed after a successful scan.
// It points at a definition that reads cells outside its declared blocks.
type FeatureError struct {
	Circuit string
	Err     error
}

func (e FeatureError) Error() string {
	return fmt.Sprintf("feature %s: %v", e.Circuit, e.Err)
}

// PollResult is a snapshot produced by one poll cycle.
type PollResult struct {
	At time.Time

	// Initial marks the first cycle of the process.
	Initial bool

	Scans  []ScanResult
	States []feature.State
	Errors []FeatureError
}

// Err joins every scan error. nil means all connections were scanned.
func (r PollResult) Err() error {
	var errs []error
	for _, s := range r.Scans {
		if s.Err != nil {
			errs = append(errs, s.Err)
		}
	}
	return errors.Join(errs...)
}
