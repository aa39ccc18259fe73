// Package metrics holds the prometheus collectors of the submission
// pipeline.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ethwallet"

// Pipeline groups the pipeline collectors. Each instance owns its registry
// so tests and multiple pipelines do not collide on the global one.
type Pipeline struct {
	Registry *prometheus.Registry

	Submitted         *prometheus.CounterVec
	Terminal          *prometheus.CounterVec
	BroadcastAttempts prometheus.Histogram
	ConfirmSeconds    prometheus.Histogram
}

// NewPipeline registers the pipeline collectors on a fresh registry.
func NewPipeline() *Pipeline {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Pipeline{
		Registry: reg,
		Submitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_submitted_total",
			Help:      "Transactions accepted by the node, by intent.",
		}, []string{"intent"}),
		Terminal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_terminal_total",
			Help:      "Transactions reaching confirmed, failed or dropped.",
		}, []string{"status"}),
		BroadcastAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broadcast_attempts",
			Help:      "Broadcast attempts needed per submitted transaction.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		}),
		ConfirmSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "confirm_seconds",
			Help:      "Time from broadcast to a receipt.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		}),
	}
}

// WriteTextfile writes the registry in the node-exporter textfile format.
// An empty path is a no-op.
func (p *Pipeline) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, p.Registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
