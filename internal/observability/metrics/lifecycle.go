package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// LifecycleMetrics contains metrics for violation lifecycle transitions.
type LifecycleMetrics struct {
	ActionsTotal      *prometheus.CounterVec // actions by type and whether auto-generated
	ViolationsCreated *prometheus.CounterVec // new violation rows by severity
	ViolationsTouched prometheus.Counter     // repeat alerts folded into an open violation
	CASRetriesTotal   prometheus.Counter
	RetentionDeleted  prometheus.Counter

	registry *prometheus.Registry
}

// NewLifecycleMetrics creates and registers the lifecycle metrics.
func NewLifecycleMetrics(registry *prometheus.Registry) (*LifecycleMetrics, error) {
	m := &LifecycleMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register lifecycle metrics: %w", err)
	}
	return m, nil
}

func (m *LifecycleMetrics) initMetrics() {
	m.ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_actions_total",
			Help: "Total number of lifecycle actions recorded by action and origin",
		},
		[]string{"action", "auto"},
	)

	m.ViolationsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_violations_created_total",
			Help: "Total number of violation records created by alert severity",
		},
		[]string{"severity"},
	)

	m.ViolationsTouched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lifecycle_violations_touched_total",
			Help: "Total number of repeat alerts applied to an already open violation",
		},
	)

	m.CASRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lifecycle_stage_cas_retries_total",
			Help: "Total number of stage compare-and-set retries",
		},
	)

	m.RetentionDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lifecycle_retention_deleted_total",
			Help: "Total number of violations removed by the retention sweep",
		},
	)
}

// RecordAction counts a recorded lifecycle action.
func (m *LifecycleMetrics) RecordAction(action string, auto bool) {
	if m == nil {
		return
	}
	label := "false"
	if auto {
		label = "true"
	}
	m.ActionsTotal.WithLabelValues(action, label).Inc()
}

// RecordCreated counts a newly created violation.
func (m *LifecycleMetrics) RecordCreated(severity string) {
	if m == nil {
		return
	}
	m.ViolationsCreated.WithLabelValues(severity).Inc()
}

// RecordTouched counts a repeat alert folded into an open violation.
func (m *LifecycleMetrics) RecordTouched() {
	if m == nil {
		return
	}
	m.ViolationsTouched.Inc()
}

// RecordCASRetry counts a lost stage compare-and-set.
func (m *LifecycleMetrics) RecordCASRetry() {
	if m == nil {
		return
	}
	m.CASRetriesTotal.Inc()
}

// RecordRetention counts violations removed by the retention sweep.
func (m *LifecycleMetrics) RecordRetention(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.RetentionDeleted.Add(float64(n))
}

// Describe implements the prometheus.Collector interface.
func (m *LifecycleMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.ActionsTotal.Describe(ch)
	m.ViolationsCreated.Describe(ch)
	m.ViolationsTouched.Describe(ch)
	m.CASRetriesTotal.Describe(ch)
	m.RetentionDeleted.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *LifecycleMetrics) Collect(ch chan<- prometheus.Metric) {
	m.ActionsTotal.Collect(ch)
	m.ViolationsCreated.Collect(ch)
	m.ViolationsTouched.Collect(ch)
	m.CASRetriesTotal.Collect(ch)
	m.RetentionDeleted.Collect(ch)
}
