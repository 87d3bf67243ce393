package alerting

import (
	"context"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/smartsafety/safetyvision/internal/datastore/entities"
	"github.com/smartsafety/safetyvision/internal/errors"
	"github.com/smartsafety/safetyvision/internal/logger"
	"github.com/smartsafety/safetyvision/internal/observability/metrics"
	"github.com/smartsafety/safetyvision/internal/rules"
)

// Outcome is the result of submitting an alert.
type Outcome string

const (
	OutcomeSent       Outcome = metrics.OutcomeSent
	OutcomeSuppressed Outcome = metrics.OutcomeSuppressed
)

// ViolationRecorder persists accepted alerts. created reports whether a new
// violation was opened or an open one was refreshed.
type ViolationRecorder interface {
	RecordAlert(ctx context.Context, source, dedupKey string, alert rules.VerifiedAlert, severity string) (v *entities.Violation, created bool, err error)
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	DefaultCooldown time.Duration
	StorageTimeout  time.Duration
	// Clock stamps envelopes and events. Cooldown expiry is tracked by the
	// gate on the wall clock and does not follow Clock.
	Clock func() time.Time
}

// Dispatcher gates alerts through a per-key cooldown, assigns a routing
// severity and broadcasts survivors to the hub.
type Dispatcher struct {
	hub        *Hub
	recorder   ViolationRecorder
	classifier *SeverityClassifier
	bus        *AlertEventBus
	gate       *cache.Cache

	opts    DispatcherOptions
	log     logger.Logger
	metrics *metrics.DispatcherMetrics
}

// NewDispatcher creates a dispatcher. recorder and bus may be nil.
func NewDispatcher(hub *Hub, recorder ViolationRecorder, classifier *SeverityClassifier, bus *AlertEventBus,
	opts DispatcherOptions, log logger.Logger, m *metrics.DispatcherMetrics) *Dispatcher {
	if opts.DefaultCooldown < 0 {
		opts.DefaultCooldown = DefaultCooldown
	}
	if opts.StorageTimeout <= 0 {
		opts.StorageTimeout = DefaultStorageTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if classifier == nil {
		classifier = NewSeverityClassifier(DefaultSeverityRules(), SeverityLow)
	}
	return &Dispatcher{
		hub:        hub,
		recorder:   recorder,
		classifier: classifier,
		bus:        bus,
		gate:       cache.New(DefaultCooldown, gatePurgeInterval),
		opts:       opts,
		log:        log.Module("dispatcher"),
		metrics:    m,
	}
}

// DedupKey identifies repeats of the same violation by the same entity at
// the same source. The per-emission alert id is not part of it.
func DedupKey(alert *rules.VerifiedAlert) string {
	return strings.Join([]string{alert.EntityID, string(alert.ViolationType), alert.Source}, "|")
}

// Submit gates, classifies and broadcasts alert. A negative cooldown uses
// the configured default and zero disables the gate. Suppressed alerts are
// neither broadcast nor persisted. When persistence fails the alert has
// still been broadcast and Submit returns OutcomeSent with a database error.
func (d *Dispatcher) Submit(ctx context.Context, alert rules.VerifiedAlert, cooldown time.Duration) (Outcome, error) {
	if alert.EntityID == "" || alert.ViolationType == "" {
		return "", errors.Newf("alert requires entity id and violation type").
			Component("alerting").
			Category(errors.CategoryValidation).
			Context("alert_id", alert.AlertID).
			Build()
	}

	key := DedupKey(&alert)
	if !d.admit(key, cooldown) {
		d.metrics.RecordSubmission(string(OutcomeSuppressed), "")
		d.log.Debug("alert suppressed by cooldown", logger.String("dedup_key", key))
		return OutcomeSuppressed, nil
	}

	severity := d.classifier.ClassifyAlert(&alert)
	envelope := NewViolationEnvelope(&alert, severity, key, d.opts.Clock())
	payload, err := envelope.Marshal()
	if err != nil {
		d.gate.Delete(key)
		return "", errors.New(err).
			Component("alerting").
			Category(errors.CategoryValidation).
			Context("dedup_key", key).
			Build()
	}

	stats := d.hub.Broadcast(ctx, payload)
	d.metrics.RecordSubmission(string(OutcomeSent), severity)
	d.log.Info("alert dispatched",
		logger.String("dedup_key", key),
		logger.String("alert_id", alert.AlertID),
		logger.String("severity", severity),
		logger.Int("delivered", stats.Delivered),
		logger.Int("failed", stats.Failed))

	violationID, storeErr := d.record(ctx, key, &alert, severity)

	if d.bus != nil {
		d.bus.Publish(&AlertEvent{
			Name:        EventAlertDispatched,
			Alert:       alert,
			Severity:    severity,
			DedupKey:    key,
			ViolationID: violationID,
			Timestamp:   d.opts.Clock(),
		})
	}
	return OutcomeSent, storeErr
}

// admit records key in the gate unless it is already present and unexpired.
// go-cache performs the lookup and insert under one lock and expires the key
// by wall-clock time.
func (d *Dispatcher) admit(key string, cooldown time.Duration) bool {
	if cooldown < 0 {
		cooldown = d.opts.DefaultCooldown
	}
	if cooldown == 0 {
		return true
	}
	return d.gate.Add(key, struct{}{}, cooldown) == nil
}

func (d *Dispatcher) record(ctx context.Context, key string, alert *rules.VerifiedAlert, severity string) (uint, error) {
	if d.recorder == nil {
		return 0, nil
	}
	storeCtx, cancel := context.WithTimeout(ctx, d.opts.StorageTimeout)
	defer cancel()

	v, created, err := d.recorder.RecordAlert(storeCtx, alert.Source, key, *alert, severity)
	if err != nil {
		d.metrics.RecordStorageError()
		storeErr := errors.New(err).
			Component("alerting").
			Category(errors.CategoryDatabase).
			Priority(errors.PriorityHigh).
			Context("dedup_key", key).
			Context("alert_id", alert.AlertID).
			Build()
		d.log.Error("failed to persist dispatched alert",
			logger.String("dedup_key", key),
			logger.Error(storeErr))
		return 0, storeErr
	}
	if !created {
		d.log.Debug("repeat alert refreshed open violation",
			logger.Uint64("violation_id", uint64(v.ID)),
			logger.String("dedup_key", key))
	}
	return v.ID, nil
}

// BroadcastStats sends a stats_update envelope to every subscriber.
func (d *Dispatcher) BroadcastStats(ctx context.Context, stats any) (BroadcastStats, error) {
	env := NewStatsEnvelope(stats, d.opts.Clock())
	return d.broadcastEnvelope(ctx, &env)
}

// BroadcastCameraStatus sends a camera_status envelope to every subscriber.
func (d *Dispatcher) BroadcastCameraStatus(ctx context.Context, cameraID, status string) (BroadcastStats, error) {
	env := NewCameraStatusEnvelope(cameraID, status, d.opts.Clock())
	return d.broadcastEnvelope(ctx, &env)
}

func (d *Dispatcher) broadcastEnvelope(ctx context.Context, env *Envelope) (BroadcastStats, error) {
	payload, err := env.Marshal()
	if err != nil {
		return BroadcastStats{}, errors.New(err).
			Component("alerting").
			Category(errors.CategoryValidation).
			Context("envelope", env.Type).
			Build()
	}
	return d.hub.Broadcast(ctx, payload), nil
}

// Hub returns the subscriber hub.
func (d *Dispatcher) Hub() *Hub {
	return d.hub
}
