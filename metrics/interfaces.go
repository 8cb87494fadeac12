// Package metrics instruments the submitter with Prometheus-compatible
// metrics.
//
// Two registries are available:
//   - ScrapeRegistry (server mode): metrics live in a Prometheus registry
//     and are exposed on the /metrics endpoint.
//   - PushRegistry (one-shot CLI mode): every sample is written to a
//     Prometheus/VictoriaMetrics remote write endpoint as it is recorded,
//     since a short-lived process is never around to be scraped.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Gauge is a value that can go up and down.
type Gauge interface {
	Set(float64)
}

// Counter is a monotonically increasing value.
type Counter interface {
	Inc()
	// Add adds the given value. It panics if the value is negative.
	Add(float64)
}

// GaugeVec is a Gauge partitioned by labels.
type GaugeVec interface {
	With(prometheus.Labels) Gauge
}

// CounterVec is a Counter partitioned by labels.
type CounterVec interface {
	With(prometheus.Labels) Counter
}

// Registry creates and registers metrics. Implementations hide the
// difference between push and scrape delivery.
type Registry interface {
	NewGauge(opts prometheus.GaugeOpts) (Gauge, error)
	NewGaugeVec(opts prometheus.GaugeOpts, labels []string) (GaugeVec, error)
	NewCounter(opts prometheus.CounterOpts) (Counter, error)
	NewCounterVec(opts prometheus.CounterOpts, labels []string) (CounterVec, error)
}
