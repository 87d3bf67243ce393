package alerting

import (
	"context"
	"time"

	"github.com/smartsafety/safetyvision/internal/datastore/entities"
	"github.com/smartsafety/safetyvision/internal/logger"
	"github.com/smartsafety/safetyvision/internal/rules"
)

const (
	// escalationBatch bounds how many overdue violations one check handles.
	escalationBatch = 50
	// escalationNotes is recorded on auto-generated escalations.
	escalationNotes = "unattended past due"
	// escalationTimeout bounds one check.
	escalationTimeout = 30 * time.Second
)

// Escalator is the part of the lifecycle manager the watcher drives.
type Escalator interface {
	ListOverdue(ctx context.Context, limit int) ([]entities.Violation, error)
	Escalate(ctx context.Context, id uint, level, notes string, actor *string, auto bool, evidence *string) (*entities.AlertAction, error)
}

// EscalationWatcher escalates critical violations left unattended past their
// deadline.
type EscalationWatcher struct {
	escalator Escalator
	level     string
	interval  time.Duration
	bus       *AlertEventBus
	log       logger.Logger
}

// NewEscalationWatcher creates a watcher. bus may be nil.
func NewEscalationWatcher(escalator Escalator, level string, interval time.Duration, bus *AlertEventBus, log logger.Logger) *EscalationWatcher {
	if level == "" {
		level = "auto"
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &EscalationWatcher{
		escalator: escalator,
		level:     level,
		interval:  interval,
		bus:       bus,
		log:       log.Module("escalation"),
	}
}

// Run checks for overdue violations every interval until ctx is done.
func (w *EscalationWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.CheckOnce(ctx)
		}
	}
}

// CheckOnce escalates every currently overdue violation and returns how many
// were escalated.
func (w *EscalationWatcher) CheckOnce(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, escalationTimeout)
	defer cancel()

	overdue, err := w.escalator.ListOverdue(ctx, escalationBatch)
	if err != nil {
		w.log.Error("failed to list overdue violations", logger.Error(err))
		return 0
	}

	escalated := 0
	for i := range overdue {
		v := &overdue[i]
		if _, err := w.escalator.Escalate(ctx, v.ID, w.level, escalationNotes, nil, true, nil); err != nil {
			w.log.Warn("auto-escalation failed",
				logger.Uint64("violation_id", uint64(v.ID)),
				logger.Error(err))
			continue
		}
		escalated++
		w.log.Info("violation auto-escalated",
			logger.Uint64("violation_id", uint64(v.ID)),
			logger.String("dedup_key", v.DedupKey),
			logger.String("level", w.level))
		w.publish(v)
	}
	return escalated
}

func (w *EscalationWatcher) publish(v *entities.Violation) {
	if w.bus == nil {
		return
	}
	w.bus.Publish(&AlertEvent{
		Name: EventAlertEscalated,
		Alert: rules.VerifiedAlert{
			EntityID:      v.EntityID,
			Source:        v.Source,
			ViolationType: rules.ViolationType(v.ViolationType),
			AlertClass:    rules.AlertClass(v.AlertClass),
			Severity:      rules.Severity(v.Severity),
			Message:       v.Message,
			ObservedAt:    v.CreatedAt,
			Confidence:    v.Confidence,
		},
		Severity:    SeverityHigh,
		DedupKey:    v.DedupKey,
		ViolationID: v.ID,
	})
}
