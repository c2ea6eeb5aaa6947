// internal/metrics/metrics.go
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tamzrod/unipi-control/internal/config"
)

// Collector receives runtime events from the poller and the command handler.
// Calls happen inline with the poll loop and must stay cheap.
type Collector interface {
	ObserveScan(conn config.Connection, d time.Duration, err error)
	IncWrite(kind string, err error)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) ObserveScan(config.Connection, time.Duration, error) {}
func (noopCollector) IncWrite(string, error)                           {}

// PrometheusCollector exposes scan and write counters via Prometheus.
type PrometheusCollector struct {
	scans        *prometheus.CounterVec
	scanDuration *prometheus.HistogramVec
	writes       *prometheus.CounterVec
}

// NewPrometheusCollector registers the metrics with reg, reusing collectors
// that are already registered under the same name.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	scans, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "unipi_control_scans_total",
		Help: "Number of register cache scans per connection and result.",
	}, []string{"connection", "result"}))
	if err != nil {
		return nil, err
	}

	duration, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "unipi_control_scan_duration_seconds",
		Help:    "Duration of register cache scans per connection.",
		Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"connection"}))
	if err != nil {
		return nil, err
	}

	writes, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "unipi_control_feature_writes_total",
		Help: "Number of feature writes triggered over MQTT per kind and result.",
	}, []string{"kind", "result"}))
	if err != nil {
		return nil, err
	}

	return &PrometheusCollector{
		scans:        scans,
		scanDuration: duration,
		writes:       writes,
	}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, err
	}
	return c, nil
}

// ObserveScan records one scan outcome.
func (p *PrometheusCollector) ObserveScan(conn config.Connection, d time.Duration, err error) {
	if p == nil {
		return
	}
	p.scans.WithLabelValues(string(conn), result(err)).Inc()
	p.scanDuration.WithLabelValues(string(conn)).Observe(d.Seconds())
}

// IncWrite records one feature write.
func (p *PrometheusCollector) IncWrite(kind string, err error) {
	if p == nil {
		return
	}
	p.writes.WithLabelValues(kind, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
