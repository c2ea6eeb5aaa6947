// internal/poller/poller.go
package poller

import (
	"context"
	"errors"
	"time"

	"github.com/tamzrod/unipi-control/internal/config"
	"github.com/tamzrod/unipi-control/internal/feature"
)

// Cache abstracts the register cache operations needed by the poller.
type Cache interface {
	Connection() config.Connection
	Scan(ctx context.Context, hwTypes ...config.HardwareType) error
}

// Directory lists the features to check after each scan.
type Directory interface {
	All() []feature.Feature
}

// ScanObserver receives the outcome of every connection scan.
type ScanObserver interface {
	ObserveScan(conn config.Connection, d time.Duration, err error)
}

// Config is the minimal runtime config the poller needs.
type Config struct {
	Interval time.Duration
}

// Poller is a clock-driven scanner. It is the only caller of Feature.Changed.
type Poller struct {
	cfg      Config
	caches   []Cache
	dir      Directory
	observer ScanObserver

	cycles    uint64
	published map[string]bool
}

// New creates a poller with immutable config.
func New(cfg Config, caches []Cache, dir Directory, observer ScanObserver) (*Poller, error) {
	if cfg.Interval <= 0 {
		return nil, errors.New("poller: interval must be > 0")
	}
	if len(caches) == 0 {
		return nil, errors.New("poller: at least one cache required")
	}
	if dir == nil {
		return nil, errors.New("poller: directory required")
	}
	return &Poller{
		cfg:       cfg,
		caches:    caches,
		dir:       dir,
		observer:  observer,
		published: make(map[string]bool),
	}, nil
}

// PollOnce performs exactly one poll cycle.
//
// Every connection is scanned once. Features of a connection whose scan failed
// are skipped for this cycle; their cached values are stale.
// A feature is reported when it changed or has never been reported.
func (p *Poller) PollOnce(ctx context.Context) PollResult {
	p.cycles++

	res := PollResult{
		At:      time.Now(),
		Initial: p.cycles == 1,
	}

	failed := make(map[config.Connection]bool)

	for _, c := range p.caches {
		if ctx.Err() != nil {
			res.Scans = append(res.Scans, ScanResult{Connection: c.Connection(), Err: ctx.Err()})
			failed[c.Connection()] = true
			continue
		}

		start := time.Now()
		err := c.Scan(ctx)
		d := time.Since(start)

		if p.observer != nil {
			p.observer.ObserveScan(c.Connection(), d, err)
		}

		res.Scans = append(res.Scans, ScanResult{
			Connection: c.Connection(),
			Duration:   d,
			Err:        err,
		})
		if err != nil {
			failed[c.Connection()] = true
		}
	}

	for _, f := range p.dir.All() {
		info := f.Info()
		if failed[info.Connection] {
			continue
		}

		changed, err := f.Changed()
		if err != nil {
			res.Errors = append(res.Errors, FeatureError{Circuit: info.Circuit, Err: err})
			continue
		}
		if !changed && p.published[info.Circuit] {
			continue
		}

		st, err := f.State()
		if err != nil {
			res.Errors = append(res.Errors, FeatureError{Circuit: info.Circuit, Err: err})
			continue
		}

		res.States = append(res.States, st)
		p.published[info.Circuit] = true
	}

	return res
}
