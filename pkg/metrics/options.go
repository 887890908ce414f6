package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Option configures a Manager before its collectors are registered.
type Option func(*Manager)

// WithNames overrides the metric name prefix. Empty parts keep the default.
func WithNames(namespace, subsystem string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
		if subsystem != "" {
			m.subsystem = subsystem
		}
	}
}

// WithLatencyBuckets sets the buckets of every millisecond latency histogram.
func WithLatencyBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.histogramBuckets = buckets
		}
	}
}

// WithScoreRange sizes the composite score histogram as count equal-width
// buckets from zero to maxTotal.
func WithScoreRange(maxTotal float64, count int) Option {
	return func(m *Manager) {
		if maxTotal > 0 && count > 0 {
			m.scoreBuckets = prometheus.LinearBuckets(0, maxTotal/float64(count), count+1)
		}
	}
}

// WithConstLabels attaches labels to every collector, e.g. a deployment name.
func WithConstLabels(labels map[string]string) Option {
	return func(m *Manager) {
		if len(labels) > 0 {
			m.constLabels = labels
		}
	}
}

// WithPrometheusRegistry registers collectors on registry instead of the default registerer.
func WithPrometheusRegistry(registry prometheus.Registerer) Option {
	return func(m *Manager) {
		if registry != nil {
			m.registry = registry
		}
	}
}
