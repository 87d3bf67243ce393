package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/smartsafety/safetyvision/internal/datastore/entities"
	"github.com/smartsafety/safetyvision/internal/errors"
)

// violationRepository implements ViolationRepository.
type violationRepository struct {
	db *gorm.DB
}

// NewViolationRepository creates a new ViolationRepository.
func NewViolationRepository(db *gorm.DB) ViolationRepository {
	return &violationRepository{db: db}
}

// CreateViolation inserts a new violation and fills in its ID.
func (r *violationRepository) CreateViolation(ctx context.Context, v *entities.Violation) error {
	if v.Stage == "" {
		v.Stage = entities.StageNew
	}
	v.Resolved = v.Stage == entities.StageResolved
	if err := r.db.WithContext(ctx).Create(v).Error; err != nil {
		return fmt.Errorf("failed to create violation: %w", err)
	}
	return nil
}

// GetViolation returns a violation by ID.
// Returns ErrViolationNotFound if it does not exist.
func (r *violationRepository) GetViolation(ctx context.Context, id uint) (*entities.Violation, error) {
	var v entities.Violation
	if err := r.db.WithContext(ctx).First(&v, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrViolationNotFound
		}
		return nil, fmt.Errorf("failed to get violation %d: %w", id, err)
	}
	return &v, nil
}

// UpdateStage performs a compare-and-set on the stage column.
func (r *violationRepository) UpdateStage(ctx context.Context, id uint, from, to entities.Stage, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&entities.Violation{}).
		Where("id = ? AND stage = ?", id, from).
		Updates(map[string]any{
			"stage":           to,
			"resolved":        to == entities.StageResolved,
			"last_updated_at": at,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update stage of violation %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrStageConflict
	}
	return nil
}

// InsertAction appends an audit entry.
func (r *violationRepository) InsertAction(ctx context.Context, action *entities.AlertAction) error {
	if err := r.db.WithContext(ctx).Omit("Violation").Create(action).Error; err != nil {
		return fmt.Errorf("failed to insert %s action for violation %d: %w", action.Action, action.ViolationID, err)
	}
	return nil
}

// ListActions returns the most recent actions first, joined with their violation.
func (r *violationRepository) ListActions(ctx context.Context, limit int) ([]ActionView, error) {
	var views []ActionView
	err := r.db.WithContext(ctx).
		Table("alert_actions").
		Select("alert_actions.*, violations.entity_id, violations.violation_type").
		Joins("JOIN violations ON violations.id = alert_actions.violation_id").
		Order("alert_actions.created_at DESC, alert_actions.id DESC").
		Limit(limit).
		Scan(&views).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list alert actions: %w", err)
	}
	return views, nil
}

// FindOpenByDedupKey returns the newest open violation for key.
// Returns ErrViolationNotFound if there is none.
func (r *violationRepository) FindOpenByDedupKey(ctx context.Context, key string) (*entities.Violation, error) {
	var v entities.Violation
	err := r.db.WithContext(ctx).
		Where("dedup_key = ? AND stage IN ?", key, entities.OpenStages).
		Order("id DESC").
		First(&v).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrViolationNotFound
		}
		return nil, fmt.Errorf("failed to find open violation for %q: %w", key, err)
	}
	return &v, nil
}

// Touch records a repeat signal on an open violation.
func (r *violationRepository) Touch(ctx context.Context, id uint, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&entities.Violation{}).
		Where("id = ?", id).
		Update("last_updated_at", at)
	if result.Error != nil {
		return fmt.Errorf("failed to touch violation %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrViolationNotFound
	}
	return nil
}

// ListOverdue returns unattended violations whose deadline has passed.
func (r *violationRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]entities.Violation, error) {
	var items []entities.Violation
	query := r.db.WithContext(ctx).
		Where("stage IN ? AND due_at IS NOT NULL AND due_at <= ?",
			[]entities.Stage{entities.StageNew, entities.StageAcknowledged}, now).
		Order("due_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list overdue violations: %w", err)
	}
	return items, nil
}

// DeleteBefore deletes violations created before the given time along with
// their actions. Actions are removed explicitly so the sweep does not depend
// on foreign key enforcement being enabled.
func (r *violationRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		expired := tx.Model(&entities.Violation{}).Select("id").Where("created_at < ?", before)
		if err := tx.Where("violation_id IN (?)", expired).Delete(&entities.AlertAction{}).Error; err != nil {
			return fmt.Errorf("failed to delete expired actions: %w", err)
		}
		result := tx.Where("created_at < ?", before).Delete(&entities.Violation{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete expired violations: %w", result.Error)
		}
		deleted = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete violations before %v: %w", before, err)
	}
	return deleted, nil
}

// Assign sets or clears the assignee of a violation.
func (r *violationRepository) Assign(ctx context.Context, id uint, assignee *string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&entities.Violation{}).
		Where("id = ?", id).
		Updates(map[string]any{"assigned_to": assignee, "last_updated_at": at})
	if result.Error != nil {
		return fmt.Errorf("failed to assign violation %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrViolationNotFound
	}
	return nil
}

// ListViolations returns violations matching filter, newest first.
func (r *violationRepository) ListViolations(ctx context.Context, filter ViolationFilter) ([]entities.Violation, error) {
	query := r.db.WithContext(ctx).Model(&entities.Violation{})
	if filter.Stage != "" {
		query = query.Where("stage = ?", filter.Stage)
	}
	if filter.Source != "" {
		query = query.Where("source = ?", filter.Source)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var items []entities.Violation
	if err := query.Order("created_at DESC, id DESC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list violations: %w", err)
	}
	return items, nil
}

// CountViolations groups the stored violations by stage, and the open ones by
// severity.
func (r *violationRepository) CountViolations(ctx context.Context) (ViolationCounts, error) {
	counts := ViolationCounts{
		ByStage:        make(map[entities.Stage]int64),
		OpenBySeverity: make(map[string]int64),
	}

	var stages []struct {
		Stage entities.Stage
		Count int64
	}
	err := r.db.WithContext(ctx).Model(&entities.Violation{}).
		Select("stage, COUNT(*) AS count").
		Group("stage").
		Scan(&stages).Error
	if err != nil {
		return counts, fmt.Errorf("failed to count violations by stage: %w", err)
	}
	for _, row := range stages {
		counts.ByStage[row.Stage] = row.Count
		counts.Total += row.Count
	}

	var severities []struct {
		Severity string
		Count    int64
	}
	err = r.db.WithContext(ctx).Model(&entities.Violation{}).
		Select("severity, COUNT(*) AS count").
		Where("stage IN ?", entities.OpenStages).
		Group("severity").
		Scan(&severities).Error
	if err != nil {
		return counts, fmt.Errorf("failed to count open violations by severity: %w", err)
	}
	for _, row := range severities {
		counts.OpenBySeverity[row.Severity] = row.Count
	}
	return counts, nil
}

// WithTx runs fn inside a database transaction.
func (r *violationRepository) WithTx(ctx context.Context, fn func(repo ViolationRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&violationRepository{db: tx})
	})
}
