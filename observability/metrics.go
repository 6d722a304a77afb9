// Package observability provides Prometheus metrics and OpenTelemetry tracing
// for the delivery pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds metric instruments for Herald.
type Metrics struct {
	EventsEmittedTotal *prometheus.CounterVec
	AttemptsTotal      *prometheus.CounterVec
	DeliveryLatency    prometheus.Histogram
	SweepsTotal        *prometheus.CounterVec
	SweepBatchSize     prometheus.Histogram
	InFlight           prometheus.Gauge
}

// NewMetrics creates Herald metric instruments registered with reg.
// A nil registerer creates unregistered instruments.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsEmittedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_events_emitted_total",
			Help: "Events accepted by Emit, by kind.",
		}, []string{"kind"}),
		AttemptsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_attempts_total",
			Help: "Completed delivery attempts, by outcome and error class.",
		}, []string{"outcome", "class"}),
		DeliveryLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "herald_delivery_latency_seconds",
			Help:    "Latency of outbound webhook calls.",
			Buckets: prometheus.DefBuckets,
		}),
		SweepsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_sweeps_total",
			Help: "Retry sweeps, by result.",
		}, []string{"result"}),
		SweepBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "herald_sweep_batch_size",
			Help:    "Due retries picked up per sweep.",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
		}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "herald_deliveries_in_flight",
			Help: "Dispatch-and-log cycles currently running.",
		}),
	}
}

// RecordAttempt records a completed attempt.
func (m *Metrics) RecordAttempt(outcome, class string, latencySeconds float64) {
	m.AttemptsTotal.WithLabelValues(outcome, class).Inc()
	m.DeliveryLatency.Observe(latencySeconds)
}

// RecordSweep records a finished sweep and how many rows it picked up.
func (m *Metrics) RecordSweep(result string, due int) {
	m.SweepsTotal.WithLabelValues(result).Inc()
	m.SweepBatchSize.Observe(float64(due))
}
