// Package observability wires the Prometheus collectors of the service into a
// single registry and exposes them over HTTP.
package observability

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smartsafety/safetyvision/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry     *prometheus.Registry
	Rules        *metrics.RulesMetrics
	Dispatcher   *metrics.DispatcherMetrics
	Lifecycle    *metrics.LifecycleMetrics
	Notification *metrics.NotificationMetrics
}

// NewMetrics creates a registry and initializes every metric collector.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}

	rulesMetrics, err := metrics.NewRulesMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create rules metrics: %w", err)
	}

	dispatcherMetrics, err := metrics.NewDispatcherMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher metrics: %w", err)
	}

	lifecycleMetrics, err := metrics.NewLifecycleMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create lifecycle metrics: %w", err)
	}

	notificationMetrics, err := metrics.NewNotificationMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification metrics: %w", err)
	}

	return &Metrics{
		registry:     registry,
		Rules:        rulesMetrics,
		Dispatcher:   dispatcherMetrics,
		Lifecycle:    lifecycleMetrics,
		Notification: notificationMetrics,
	}, nil
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      log.New(os.Stderr, "metrics handler: ", log.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}
