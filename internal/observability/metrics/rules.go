// Package metrics provides Prometheus collectors for the alerting pipeline.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// RulesMetrics contains the Prometheus metrics for rules engine evaluation.
type RulesMetrics struct {
	SamplesTotal        *prometheus.CounterVec // samples evaluated by source
	AlertsTotal         *prometheus.CounterVec // verified alerts by source and violation type
	InvalidSamplesTotal *prometheus.CounterVec // samples rejected by validation
	ActiveTrackers      *prometheus.GaugeVec   // entities currently inside a debounce window

	registry *prometheus.Registry
}

// NewRulesMetrics creates and registers the rules engine metrics.
func NewRulesMetrics(registry *prometheus.Registry) (*RulesMetrics, error) {
	m := &RulesMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register rules metrics: %w", err)
	}
	return m, nil
}

func (m *RulesMetrics) initMetrics() {
	m.SamplesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rules_samples_total",
			Help: "Total number of detection samples evaluated by source",
		},
		[]string{"source"},
	)

	m.AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rules_alerts_total",
			Help: "Total number of verified alerts emitted by source and violation type",
		},
		[]string{"source", "violation_type"},
	)

	m.InvalidSamplesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rules_invalid_samples_total",
			Help: "Total number of detection samples skipped as invalid",
		},
		[]string{"source"},
	)

	m.ActiveTrackers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rules_active_trackers",
			Help: "Number of entities with an open violation tracker",
		},
		[]string{"source"},
	)
}

// RecordBatch records the outcome of one evaluated batch.
func (m *RulesMetrics) RecordBatch(source string, samples, invalid, trackers int) {
	if m == nil {
		return
	}
	m.SamplesTotal.WithLabelValues(source).Add(float64(samples))
	if invalid > 0 {
		m.InvalidSamplesTotal.WithLabelValues(source).Add(float64(invalid))
	}
	m.ActiveTrackers.WithLabelValues(source).Set(float64(trackers))
}

// RecordAlert counts one emitted alert.
func (m *RulesMetrics) RecordAlert(source, violationType string) {
	if m == nil {
		return
	}
	m.AlertsTotal.WithLabelValues(source, violationType).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *RulesMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.SamplesTotal.Describe(ch)
	m.AlertsTotal.Describe(ch)
	m.InvalidSamplesTotal.Describe(ch)
	m.ActiveTrackers.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *RulesMetrics) Collect(ch chan<- prometheus.Metric) {
	m.SamplesTotal.Collect(ch)
	m.AlertsTotal.Collect(ch)
	m.InvalidSamplesTotal.Collect(ch)
	m.ActiveTrackers.Collect(ch)
}
