package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// NotificationMetrics contains metrics for outbound notification providers.
type NotificationMetrics struct {
	ProviderDeliveriesTotal  *prometheus.CounterVec   // deliveries by provider and status
	ProviderDeliveryDuration *prometheus.HistogramVec // latency by provider
	FilterRejectionsTotal    *prometheus.CounterVec   // notifications skipped by provider and reason

	registry *prometheus.Registry
}

// NewNotificationMetrics creates and registers the notification metrics.
func NewNotificationMetrics(registry *prometheus.Registry) (*NotificationMetrics, error) {
	m := &NotificationMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register notification metrics: %w", err)
	}
	return m, nil
}

func (m *NotificationMetrics) initMetrics() {
	m.ProviderDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_provider_deliveries_total",
			Help: "Total number of notification delivery attempts by provider and status",
		},
		[]string{"provider", "status"}, // status: success, error
	)

	m.ProviderDeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_provider_delivery_duration_seconds",
			Help:    "Time taken for notification delivery by provider",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
		},
		[]string{"provider"},
	)

	m.FilterRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_filter_rejections_total",
			Help: "Total number of notifications not sent by provider and reason",
		},
		[]string{"provider", "reason"}, // reason: severity, rate_limited
	)
}

// RecordDelivery records a delivery attempt and its latency.
func (m *NotificationMetrics) RecordDelivery(provider, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ProviderDeliveriesTotal.WithLabelValues(provider, status).Inc()
	m.ProviderDeliveryDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordRejection records a notification skipped before delivery.
func (m *NotificationMetrics) RecordRejection(provider, reason string) {
	if m == nil {
		return
	}
	m.FilterRejectionsTotal.WithLabelValues(provider, reason).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *NotificationMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.ProviderDeliveriesTotal.Describe(ch)
	m.ProviderDeliveryDuration.Describe(ch)
	m.FilterRejectionsTotal.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *NotificationMetrics) Collect(ch chan<- prometheus.Metric) {
	m.ProviderDeliveriesTotal.Collect(ch)
	m.ProviderDeliveryDuration.Collect(ch)
	m.FilterRejectionsTotal.Collect(ch)
}
