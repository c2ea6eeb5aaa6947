// internal/publisher/commander.go
package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tamzrod/unipi-control/internal/feature"
	"github.com/tamzrod/unipi-control/internal/metrics"
)

// Directory resolves the circuit of a command topic.
type Directory interface {
	ByCircuit(circuit string) (feature.Feature, bool)
}

type CommanderConfig struct {
	Workers int
	// Timeout bounds one feature write.
	Timeout time.Duration
	QoS     byte
}

// Commander turns <device>/.../<circuit>/set messages into feature writes.
// Messages are handled on a bounded worker pool.
type Commander struct {
	cfg     CommanderConfig
	dir     Directory
	topics  Topics
	pool    *ants.Pool
	metrics metrics.Collector
	logger  zerolog.Logger
}

func NewCommander(cfg CommanderConfig, dir Directory, topics Topics, collector metrics.Collector, logger zerolog.Logger) (*Commander, error) {
	if dir == nil {
		return nil, errors.New("commander: directory required")
	}
	if cfg.Workers <= 0 {
		return nil, errors.New("commander: workers must be > 0")
	}
	if cfg.Timeout <= 0 {
		return nil, errors.New("commander: timeout must be > 0")
	}
	if collector == nil {
		collector = metrics.Noop()
	}

	poolLogger := logger.With().Str("component", "commander").Logger()
	pool, err := ants.NewPool(cfg.Workers,
		ants.WithLogger(&poolLogger),
		ants.WithPanicHandler(func(v interface{}) {
			poolLogger.Error().Interface("panic", v).Msg("command handler panicked")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("commander: worker pool: %w", err)
	}

	return &Commander{
		cfg:     cfg,
		dir:     dir,
		topics:  topics,
		pool:    pool,
		metrics: collector,
		logger:  logger,
	}, nil
}

// Subscribe registers the command filters. Call it from the on-connect handler
// so subscriptions survive reconnects.
func (c *Commander) Subscribe(ctx context.Context, client Client) error {
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		topic := msg.Topic()
		payload := append([]byte(nil), msg.Payload()...)

		if err := c.pool.Submit(func() {
			c.handle(ctx, topic, payload)
		}); err != nil {
			c.logger.Error().Err(err).Str("topic", topic).Msg("command dropped")
		}
	}

	for _, filter := range c.topics.CommandFilters() {
		if err := wait(client.Subscribe(filter, c.cfg.QoS, handler), c.cfg.Timeout); err != nil {
			return fmt.Errorf("commander: subscribe %s: %w", filter, err)
		}
		c.logger.Info().Str("topic", filter).Msg("subscribed")
	}
	return nil
}

func (c *Commander) handle(ctx context.Context, topic string, payload []byte) {
	err := c.Handle(ctx, topic, payload)
	switch {
	case err == nil:
	case errors.Is(err, feature.ErrMissingFeature), errors.Is(err, feature.ErrNotWritable):
		c.logger.Warn().Str("topic", topic).Err(err).Msg("command ignored")
	default:
		c.logger.Error().Str("topic", topic).Err(err).Msg("command failed")
	}
}

// Handle applies one command synchronously.
func (c *Commander) Handle(ctx context.Context, topic string, payload []byte) error {
	circuit, err := c.topics.CircuitFromCommand(topic)
	if err != nil {
		return err
	}

	f, ok := c.dir.ByCircuit(circuit)
	if !ok {
		return fmt.Errorf("%w: %s", feature.ErrMissingFeature, circuit)
	}

	w, ok := f.(feature.Writer)
	if !ok || !f.Kind().Writable() {
		return fmt.Errorf("%w: %s", feature.ErrNotWritable, circuit)
	}

	value, err := ParsePayload(f.Kind(), payload)
	if err != nil {
		return fmt.Errorf("circuit %s: %w", circuit, err)
	}

	wctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	err = w.SetState(wctx, value)
	c.metrics.IncWrite(f.Kind().String(), err)
	if err != nil {
		return fmt.Errorf("circuit %s: %w", circuit, err)
	}

	c.logger.Info().
		Str("circuit", circuit).
		Str("kind", f.Kind().String()).
		Float64("value", value).
		Msg("feature written")
	return nil
}

// Close releases the worker pool.
func (c *Commander) Close() {
	c.pool.Release()
}

// ParsePayload accepts ON/OFF for digital kinds and a decimal number for all
// writable kinds.
func ParsePayload(kind feature.Kind, payload []byte) (float64, error) {
	s := strings.TrimSpace(string(payload))

	if kind.IsDigital() {
		switch strings.ToUpper(s) {
		case "ON":
			return 1, nil
		case "OFF":
			return 0, nil
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid payload %q", s)
	}
	return d.InexactFloat64(), nil
}
