// Package lifecycle owns the stage progression of persisted violations and
// their audit trail.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/smartsafety/safetyvision/internal/datastore/entities"
	"github.com/smartsafety/safetyvision/internal/datastore/repository"
	"github.com/smartsafety/safetyvision/internal/errors"
	"github.com/smartsafety/safetyvision/internal/logger"
	"github.com/smartsafety/safetyvision/internal/observability/metrics"
	"github.com/smartsafety/safetyvision/internal/rules"
)

const (
	// DefaultActionLimit is used when ListActions is called without a limit.
	DefaultActionLimit = 100
	// MaxActionLimit caps ListActions and ListViolations.
	MaxActionLimit = 500
	// DefaultViolationLimit is used when ListViolations is called without a limit.
	DefaultViolationLimit = 10

	// maxStageRetries bounds how often a lost compare-and-set is retried.
	maxStageRetries = 3
	// cleanupTimeout is the context deadline for one retention sweep.
	cleanupTimeout = 30 * time.Second
)

// Options configures a Manager.
type Options struct {
	// EscalationDeadline sets DueAt on new CRITICAL violations. Zero disables it.
	EscalationDeadline time.Duration
	Clock              func() time.Time
}

// Manager applies lifecycle actions to violations.
type Manager struct {
	repo    repository.ViolationRepository
	opts    Options
	log     logger.Logger
	metrics *metrics.LifecycleMetrics

	byID  *keyedMutex[uint]
	byKey *keyedMutex[string]

	sweepMu   sync.Mutex
	sweepStop chan struct{}
	sweepDone chan struct{}
}

// NewManager creates a lifecycle manager backed by repo.
func NewManager(repo repository.ViolationRepository, opts Options, log logger.Logger, m *metrics.LifecycleMetrics) *Manager {
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Manager{
		repo:    repo,
		opts:    opts,
		log:     log.Module("lifecycle"),
		metrics: m,
		byID:    newKeyedMutex[uint](),
		byKey:   newKeyedMutex[string](),
	}
}

// Resolve marks a violation resolved and records the action.
func (m *Manager) Resolve(ctx context.Context, id uint, notes string, actor, evidence *string) (*entities.AlertAction, error) {
	action := &entities.AlertAction{
		Action:   entities.ActionResolve,
		Notes:    notes,
		Actor:    actor,
		Evidence: evidence,
	}
	return m.transition(ctx, id, entities.StageResolved, nil, action)
}

// Escalate moves a violation to the escalated stage, reopening it if it was
// resolved. Only auto-generated escalations may omit the actor.
func (m *Manager) Escalate(ctx context.Context, id uint, level, notes string, actor *string, auto bool, evidence *string) (*entities.AlertAction, error) {
	if actor == nil && !auto {
		return nil, validationError("escalate", "actor is required unless the escalation is auto-generated")
	}
	action := &entities.AlertAction{
		Action:        entities.ActionEscalate,
		Notes:         notes,
		Actor:         actor,
		AutoGenerated: auto,
		Evidence:      evidence,
	}
	if level != "" {
		action.Level = &level
	}
	return m.transition(ctx, id, entities.StageEscalated, nil, action)
}

// Acknowledge moves a new violation to the acknowledged stage.
func (m *Manager) Acknowledge(ctx context.Context, id uint, actor *string, notes string) (*entities.AlertAction, error) {
	if actor == nil {
		return nil, validationError("acknowledge", "actor is required")
	}
	onlyFromNew := func(from entities.Stage) error {
		if from != entities.StageNew {
			return errors.Newf("violation %d is %s, only new violations can be acknowledged", id, from).
				Component("lifecycle").
				Category(errors.CategoryConflict).
				Context("violation_id", id).
				Context("stage", string(from)).
				Build()
		}
		return nil
	}
	action := &entities.AlertAction{
		Action: entities.ActionAcknowledge,
		Notes:  notes,
		Actor:  actor,
	}
	return m.transition(ctx, id, entities.StageAcknowledged, onlyFromNew, action)
}

// Assign sets the assignee of a violation; a nil assignee clears it.
func (m *Manager) Assign(ctx context.Context, id uint, assignee, actor *string) (*entities.AlertAction, error) {
	unlock := m.byID.Lock(id)
	defer unlock()

	notes := "unassigned"
	if assignee != nil {
		notes = "assigned to " + *assignee
	}
	action := &entities.AlertAction{
		ViolationID: id,
		Action:      entities.ActionAssign,
		Notes:       notes,
		Actor:       actor,
	}
	err := m.repo.WithTx(ctx, func(tx repository.ViolationRepository) error {
		if err := tx.Assign(ctx, id, assignee, m.opts.Clock()); err != nil {
			return err
		}
		return tx.InsertAction(ctx, action)
	})
	if err != nil {
		return nil, m.storageError("assign", id, err)
	}
	m.metrics.RecordAction(action.Action, false)
	return action, nil
}

// stageGuard rejects a transition from the current stage.
type stageGuard func(from entities.Stage) error

// transition moves violation id to stage to and appends action, all in one
// transaction. The stage write is a compare-and-set against the stage read in
// the same transaction and is retried when another writer wins.
func (m *Manager) transition(ctx context.Context, id uint, to entities.Stage, guard stageGuard, template *entities.AlertAction) (*entities.AlertAction, error) {
	unlock := m.byID.Lock(id)
	defer unlock()

	for attempt := 0; ; attempt++ {
		var (
			recorded *entities.AlertAction
			from     entities.Stage
		)
		err := m.repo.WithTx(ctx, func(tx repository.ViolationRepository) error {
			v, err := tx.GetViolation(ctx, id)
			if err != nil {
				return err
			}
			from = v.Stage
			if guard != nil {
				if err := guard(from); err != nil {
					return err
				}
			}
			if err := tx.UpdateStage(ctx, id, from, to, m.opts.Clock()); err != nil {
				return err
			}
			action := *template
			action.ViolationID = id
			if err := tx.InsertAction(ctx, &action); err != nil {
				return err
			}
			recorded = &action
			return nil
		})

		switch {
		case err == nil:
			m.metrics.RecordAction(recorded.Action, recorded.AutoGenerated)
			m.log.Info("violation stage changed",
				logger.Uint64("violation_id", uint64(id)),
				logger.String("from", string(from)),
				logger.String("to", string(to)),
				logger.String("action", recorded.Action),
				logger.Bool("auto", recorded.AutoGenerated))
			return recorded, nil
		case errors.Is(err, repository.ErrStageConflict) && attempt < maxStageRetries:
			m.metrics.RecordCASRetry()
			m.log.Debug("stage compare-and-set lost, retrying",
				logger.Uint64("violation_id", uint64(id)),
				logger.Int("attempt", attempt+1))
			continue
		default:
			return nil, m.storageError(template.Action, id, err)
		}
	}
}

// ListActions returns recent actions, most recent first.
func (m *Manager) ListActions(ctx context.Context, limit int) ([]repository.ActionView, error) {
	if limit <= 0 {
		limit = DefaultActionLimit
	}
	limit = min(limit, MaxActionLimit)

	views, err := m.repo.ListActions(ctx, limit)
	if err != nil {
		return nil, m.storageError("list_actions", 0, err)
	}
	return views, nil
}

// GetViolation returns a violation by id.
func (m *Manager) GetViolation(ctx context.Context, id uint) (*entities.Violation, error) {
	v, err := m.repo.GetViolation(ctx, id)
	if err != nil {
		return nil, m.storageError("get", id, err)
	}
	return v, nil
}

// RecordAlert persists an accepted alert. A repeat signal for a violation
// that is still open only refreshes its LastUpdatedAt; otherwise a new
// violation is created. created reports which of the two happened.
func (m *Manager) RecordAlert(ctx context.Context, source, dedupKey string, alert rules.VerifiedAlert, severity string) (v *entities.Violation, created bool, err error) {
	unlock := m.byKey.Lock(dedupKey)
	defer unlock()

	now := m.opts.Clock()

	open, err := m.repo.FindOpenByDedupKey(ctx, dedupKey)
	switch {
	case err == nil:
		if err := m.repo.Touch(ctx, open.ID, now); err != nil {
			return nil, false, m.storageError("touch", open.ID, err)
		}
		open.LastUpdatedAt = now
		m.metrics.RecordTouched()
		return open, false, nil
	case !errors.Is(err, repository.ErrViolationNotFound):
		return nil, false, m.storageError("find_open", 0, err)
	}

	v = &entities.Violation{
		Source:        source,
		EntityID:      alert.EntityID,
		ViolationType: string(alert.ViolationType),
		AlertClass:    string(alert.AlertClass),
		Severity:      string(alert.Severity),
		Message:       alert.Message,
		Confidence:    alert.Confidence,
		DedupKey:      dedupKey,
		Stage:         entities.StageNew,
		LastUpdatedAt: now,
	}
	if bbox, err := json.Marshal(alert.BoundingBox); err == nil {
		s := string(bbox)
		v.BoundingBox = &s
	}
	if alert.Severity == rules.SeverityCritical && m.opts.EscalationDeadline > 0 {
		due := now.Add(m.opts.EscalationDeadline)
		v.DueAt = &due
	}

	if err := m.repo.CreateViolation(ctx, v); err != nil {
		return nil, false, m.storageError("create", 0, err)
	}
	m.metrics.RecordCreated(severity)
	m.log.Info("violation recorded",
		logger.Uint64("violation_id", uint64(v.ID)),
		logger.String("dedup_key", dedupKey),
		logger.String("severity", severity))
	return v, true, nil
}

// ListOverdue returns unattended violations whose escalation deadline passed.
func (m *Manager) ListOverdue(ctx context.Context, limit int) ([]entities.Violation, error) {
	items, err := m.repo.ListOverdue(ctx, m.opts.Clock(), limit)
	if err != nil {
		return nil, m.storageError("list_overdue", 0, err)
	}
	return items, nil
}

// ListViolations returns violations newest first. An unknown stage is a
// validation error.
func (m *Manager) ListViolations(ctx context.Context, filter repository.ViolationFilter) ([]entities.Violation, error) {
	if filter.Stage != "" && filter.Stage != entities.StageResolved && !filter.Stage.IsOpen() {
		return nil, validationError("list_violations", fmt.Sprintf("unknown stage %q", filter.Stage))
	}
	if filter.Limit <= 0 {
		filter.Limit = DefaultViolationLimit
	}
	filter.Limit = min(filter.Limit, MaxActionLimit)

	items, err := m.repo.ListViolations(ctx, filter)
	if err != nil {
		return nil, m.storageError("list_violations", 0, err)
	}
	return items, nil
}

// CountViolations summarizes the stored violations.
func (m *Manager) CountViolations(ctx context.Context) (repository.ViolationCounts, error) {
	counts, err := m.repo.CountViolations(ctx)
	if err != nil {
		return counts, m.storageError("count_violations", 0, err)
	}
	return counts, nil
}

// storageError maps repository errors onto the error taxonomy. Errors that
// are already categorized pass through unchanged.
func (m *Manager) storageError(op string, id uint, err error) error {
	var enhanced *errors.EnhancedError
	if errors.As(err, &enhanced) {
		return err
	}
	if errors.Is(err, repository.ErrViolationNotFound) {
		return errors.New(fmt.Errorf("violation %d: %w", id, err)).
			Component("lifecycle").
			Category(errors.CategoryNotFound).
			Context("operation", op).
			Context("violation_id", id).
			Build()
	}
	if errors.Is(err, repository.ErrStageConflict) {
		return errors.New(fmt.Errorf("violation %d: %w", id, err)).
			Component("lifecycle").
			Category(errors.CategoryConflict).
			Context("operation", op).
			Context("violation_id", id).
			Build()
	}
	return errors.New(fmt.Errorf("storage unavailable during %s: %w", op, err)).
		Component("lifecycle").
		Category(errors.CategoryDatabase).
		Priority(errors.PriorityHigh).
		Context("operation", op).
		Context("violation_id", id).
		Build()
}

func validationError(op, msg string) error {
	return errors.Newf("%s: %s", op, msg).
		Component("lifecycle").
		Category(errors.CategoryValidation).
		Context("operation", op).
		Build()
}
