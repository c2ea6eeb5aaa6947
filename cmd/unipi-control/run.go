// cmd/unipi-control/run.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tamzrod/unipi-control/internal/board"
	"github.com/tamzrod/unipi-control/internal/config"
	"github.com/tamzrod/unipi-control/internal/feature"
	"github.com/tamzrod/unipi-control/internal/logging"
	"github.com/tamzrod/unipi-control/internal/metrics"
	"github.com/tamzrod/unipi-control/internal/poller"
	"github.com/tamzrod/unipi-control/internal/publisher"
)

func runDaemon(ctx context.Context, cfgPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// --------------------
	// Load + validate config
	// --------------------

	cfg, defs, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	logger, err := logging.Setup(cfg.Logging)
	if err != nil {
		return err
	}

	// --------------------
	// Metrics
	// --------------------

	var collector metrics.Collector = metrics.Noop()
	var registry *prometheus.Registry
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		pc, err := metrics.NewPrometheusCollector(registry)
		if err != nil {
			return fmt.Errorf("metrics setup failed: %w", err)
		}
		collector = pc
	}

	// --------------------
	// Modbus transports + register caches
	// --------------------

	caches, closeCaches, err := poller.BuildCaches(cfg, defs)
	if err != nil {
		return fmt.Errorf("modbus connect failed: %w", err)
	}
	defer func() {
		if err := closeCaches(); err != nil {
			logger.Warn().Err(err).Msg("modbus close failed")
		}
	}()

	// --------------------
	// Board discovery
	// --------------------

	dir := feature.NewDirectory()
	scanner := board.NewScanner(caches, dir, logger.With().Str("component", "scanner").Logger())
	boards, err := board.NewController(scanner, caches, defs, logger).Discover(ctx)
	if err != nil {
		return fmt.Errorf("board discovery failed: %w", err)
	}
	logger.Info().Int("boards", len(boards)).Int("features", dir.Len()).Msg("discovery finished")

	// --------------------
	// MQTT
	// --------------------

	topics := publisher.NewTopics(cfg.DeviceInfo.Name)

	commander, err := publisher.NewCommander(publisher.CommanderConfig{
		Workers: cfg.MQTT.Workers,
		Timeout: writeTimeout(cfg.Modbus),
		QoS:     cfg.MQTT.QoS,
	}, dir, topics, collector, logger)
	if err != nil {
		return err
	}
	defer commander.Close()

	mqttLogger := logger.With().Str("component", "mqtt").Logger()

	var discovery *publisher.Discovery
	if cfg.HomeAssistant.Enabled {
		discovery = publisher.NewDiscovery(topics, cfg, mqttLogger)
	}

	client, err := publisher.Connect(cfg.MQTT, topics, func(c mqtt.Client) {
		if err := commander.Subscribe(ctx, c); err != nil {
			mqttLogger.Error().Err(err).Msg("subscribe failed")
		}
		if discovery != nil {
			if err := discovery.Publish(c, dir.All()); err != nil {
				mqttLogger.Error().Err(err).Msg("discovery publish failed")
			}
		}
	}, mqttLogger)
	if err != nil {
		return err
	}
	defer publisher.Disconnect(client, topics, cfg.MQTT.QoS)

	pub := publisher.New(client, topics, cfg.MQTT, logger)

	// --------------------
	// Poller + orchestrator
	// --------------------

	p, err := poller.Build(cfg.Poll, caches, dir, collector)
	if err != nil {
		return fmt.Errorf("poller build failed: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	out := make(chan poller.PollResult)

	g.Go(func() error {
		p.Run(gctx, out)
		return nil
	})

	g.Go(func() error {
		orchestrate(gctx, out, pub, logger)
		return nil
	})

	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.Metrics.Listen, registry, logger)
		})
	}

	logger.Info().
		Str("device", cfg.DeviceInfo.Name).
		Int("interval_ms", cfg.Poll.IntervalMs).
		Msg("unipi-control started")

	err = g.Wait()
	logger.Info().Msg("unipi-control stopped")
	return err
}

// orchestrate owns the publisher: poll results and the 1 Hz status ticker are
// delivered from this goroutine only.
func orchestrate(ctx context.Context, in <-chan poller.PollResult, pub *publisher.Publisher, logger zerolog.Logger) {
	secTicker := time.NewTicker(time.Second)
	defer secTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case res := <-in:
			if err := pub.Write(res); err != nil {
				logger.Error().Err(err).Msg("publish failed")
			}

		case <-secTicker.C:
			if err := pub.Tick(); err != nil {
				logger.Error().Err(err).Msg("status tick publish failed")
			}
		}
	}
}

func serveMetrics(ctx context.Context, listen string, g prometheus.Gatherer, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))

	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("listen", listen).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// writeTimeout bounds one MQTT-triggered write by the slowest transport.
func writeTimeout(m config.ModbusConfig) time.Duration {
	ms := m.TCP.TimeoutMs
	if m.Serial.TimeoutMs > ms {
		ms = m.Serial.TimeoutMs
	}
	return time.Duration(ms) * time.Millisecond
}
