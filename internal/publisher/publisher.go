// internal/publisher/publisher.go
package publisher

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/unipi-control/internal/config"
	"github.com/tamzrod/unipi-control/internal/poller"
	"github.com/tamzrod/unipi-control/internal/status"
)

// Publisher delivers poll results to MQTT.
//
// It is owned by the orchestrator goroutine: Write and Tick must not be
// called concurrently.
type Publisher struct {
	client  Client
	topics  Topics
	qos     byte
	retain  bool
	timeout time.Duration
	logger  zerolog.Logger

	trackers map[config.Connection]*status.Tracker
}

func New(client Client, topics Topics, cfg config.MQTTConfig, logger zerolog.Logger) *Publisher {
	return &Publisher{
		client:   client,
		topics:   topics,
		qos:      cfg.QoS,
		retain:   cfg.RetainEnabled(),
		timeout:  connectTimeout(cfg),
		logger:   logger,
		trackers: make(map[config.Connection]*status.Tracker),
	}
}

// Write publishes every reported feature state and the status of every
// connection whose snapshot changed.
func (p *Publisher) Write(res poller.PollResult) error {
	var errs []string

	// ------------------------------------------------------------
	// FEATURE STATES
	// ------------------------------------------------------------

	for _, st := range res.States {
		topic := p.topics.State(st.Kind, st.Circuit)
		payload := st.Payload()

		if err := wait(p.client.Publish(topic, p.qos, p.retain, payload), p.timeout); err != nil {
			errs = append(errs, fmt.Sprintf("publisher: topic=%s err=%v", topic, err))
			continue
		}

		p.logger.Debug().
			Str("circuit", st.Circuit).
			Str("kind", st.Kind.String()).
			Str("value", payload).
			Msg("state published")
	}

	if res.Initial {
		p.logger.Info().
			Int("states", len(res.States)).
			Int("errors", len(res.Errors)).
			Msg("initial feature states published")
	}

	for _, fe := range res.Errors {
		p.logger.Warn().Str("circuit", fe.Circuit).Err(fe.Err).Msg("feature read failed")
	}

	// ------------------------------------------------------------
	// CONNECTION STATUS (on change only)
	// ------------------------------------------------------------

	for _, s := range res.Scans {
		tr := p.tracker(s.Connection)
		if !tr.Observe(s.Err) {
			continue
		}

		if s.Err != nil {
			p.logger.Error().Str("connection", string(s.Connection)).Err(s.Err).Msg("scan failed")
		} else {
			p.logger.Info().Str("connection", string(s.Connection)).Msg("connection healthy")
		}

		if err := p.publishStatus(s.Connection, tr.Snapshot()); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, " | "))
	}
	return nil
}

// Tick advances seconds-in-error of unhealthy connections. Call it at 1 Hz.
func (p *Publisher) Tick() error {
	var errs []string

	for conn, tr := range p.trackers {
		if !tr.Tick() {
			continue
		}
		if err := p.publishStatus(conn, tr.Snapshot()); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, " | "))
	}
	return nil
}

// Snapshot returns the current status of conn.
func (p *Publisher) Snapshot(conn config.Connection) (status.Snapshot, bool) {
	tr, ok := p.trackers[conn]
	if !ok {
		return status.Snapshot{}, false
	}
	return tr.Snapshot(), true
}

func (p *Publisher) tracker(conn config.Connection) *status.Tracker {
	tr, ok := p.trackers[conn]
	if !ok {
		tr = status.NewTracker()
		p.trackers[conn] = tr
	}
	return tr
}

func (p *Publisher) publishStatus(conn config.Connection, s status.Snapshot) error {
	payload, err := status.Encode(s)
	if err != nil {
		return fmt.Errorf("publisher: encode status %s: %w", conn, err)
	}

	topic := p.topics.Status(conn)
	if err := wait(p.client.Publish(topic, p.qos, true, payload), p.timeout); err != nil {
		return fmt.Errorf("publisher: status topic=%s err=%v", topic, err)
	}
	return nil
}
