package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Dispatcher outcome labels.
const (
	OutcomeSent       = "sent"
	OutcomeSuppressed = "suppressed"
)

// DispatcherMetrics contains metrics for the alert gate and subscriber fan-out.
type DispatcherMetrics struct {
	SubmissionsTotal   *prometheus.CounterVec // submissions by outcome and severity
	BroadcastDuration  prometheus.Histogram
	DeliveriesTotal    *prometheus.CounterVec // per-subscriber sends by status
	SubscribersActive  prometheus.Gauge
	StorageErrorsTotal prometheus.Counter
	EventsDropped      prometheus.Counter // alert events dropped by a full event bus

	registry *prometheus.Registry
}

// NewDispatcherMetrics creates and registers the dispatcher metrics.
func NewDispatcherMetrics(registry *prometheus.Registry) (*DispatcherMetrics, error) {
	m := &DispatcherMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register dispatcher metrics: %w", err)
	}
	return m, nil
}

func (m *DispatcherMetrics) initMetrics() {
	m.SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_submissions_total",
			Help: "Total number of alerts submitted to the dispatcher by outcome and severity",
		},
		[]string{"outcome", "severity"},
	)

	m.BroadcastDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatcher_broadcast_duration_seconds",
			Help:    "Time taken to fan an alert out to all subscribers",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
	)

	m.DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_deliveries_total",
			Help: "Total number of subscriber deliveries by status",
		},
		[]string{"status"}, // success, error
	)

	m.SubscribersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatcher_subscribers_active",
			Help: "Number of currently connected subscribers",
		},
	)

	m.StorageErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatcher_storage_errors_total",
			Help: "Total number of accepted alerts that could not be persisted",
		},
	)

	m.EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatcher_events_dropped_total",
			Help: "Total number of alert events dropped because the event bus was full",
		},
	)
}

// RecordSubmission counts one Submit outcome.
func (m *DispatcherMetrics) RecordSubmission(outcome, severity string) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(outcome, severity).Inc()
}

// RecordBroadcast records a completed broadcast pass.
func (m *DispatcherMetrics) RecordBroadcast(delivered, failed int, duration time.Duration) {
	if m == nil {
		return
	}
	m.BroadcastDuration.Observe(duration.Seconds())
	if delivered > 0 {
		m.DeliveriesTotal.WithLabelValues("success").Add(float64(delivered))
	}
	if failed > 0 {
		m.DeliveriesTotal.WithLabelValues("error").Add(float64(failed))
	}
}

// SetSubscribers updates the connected subscriber gauge.
func (m *DispatcherMetrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.SubscribersActive.Set(float64(n))
}

// RecordStorageError counts a failed persistence attempt.
func (m *DispatcherMetrics) RecordStorageError() {
	if m == nil {
		return
	}
	m.StorageErrorsTotal.Inc()
}

// RecordEventDropped counts an alert event dropped by the event bus.
func (m *DispatcherMetrics) RecordEventDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *DispatcherMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.SubmissionsTotal.Describe(ch)
	m.BroadcastDuration.Describe(ch)
	m.DeliveriesTotal.Describe(ch)
	m.SubscribersActive.Describe(ch)
	m.StorageErrorsTotal.Describe(ch)
	m.EventsDropped.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *DispatcherMetrics) Collect(ch chan<- prometheus.Metric) {
	m.SubmissionsTotal.Collect(ch)
	m.BroadcastDuration.Collect(ch)
	m.DeliveriesTotal.Collect(ch)
	m.SubscribersActive.Collect(ch)
	m.StorageErrorsTotal.Collect(ch)
	m.EventsDropped.Collect(ch)
}
