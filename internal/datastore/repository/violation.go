// Package repository provides the storage boundary for violations and their
// audit trail.
package repository

import (
	"context"
	"time"

	"github.com/smartsafety/safetyvision/internal/datastore/entities"
	"github.com/smartsafety/safetyvision/internal/errors"
)

var (
	// ErrViolationNotFound is returned when no violation matches the query.
	ErrViolationNotFound = errors.NewStd("violation not found")
	// ErrStageConflict is returned when a compare-and-set on stage finds a
	// different stage than expected.
	ErrStageConflict = errors.NewStd("violation stage changed concurrently")
)

// ActionView is an audit entry joined with the violation it belongs to.
type ActionView struct {
	entities.AlertAction
	EntityID      string `json:"entity_id"`
	ViolationType string `json:"violation_type"`
}

// ViolationFilter narrows ListViolations. Zero fields match everything.
type ViolationFilter struct {
	Stage  entities.Stage
	Source string
	Limit  int
}

// ViolationCounts summarizes the stored violations.
type ViolationCounts struct {
	Total          int64                    `json:"total"`
	ByStage        map[entities.Stage]int64 `json:"by_stage"`
	OpenBySeverity map[string]int64         `json:"open_by_severity"`
}

// ViolationRepository persists violations and their actions.
type ViolationRepository interface {
	CreateViolation(ctx context.Context, v *entities.Violation) error
	GetViolation(ctx context.Context, id uint) (*entities.Violation, error)
	// UpdateStage moves a violation from stage from to stage to, returning
	// ErrStageConflict when the stored stage is no longer from.
	UpdateStage(ctx context.Context, id uint, from, to entities.Stage, at time.Time) error
	InsertAction(ctx context.Context, action *entities.AlertAction) error
	ListActions(ctx context.Context, limit int) ([]ActionView, error)
	// FindOpenByDedupKey returns the most recent open violation for key.
	FindOpenByDedupKey(ctx context.Context, key string) (*entities.Violation, error)
	Touch(ctx context.Context, id uint, at time.Time) error
	// ListOverdue returns violations in new or acknowledged stage whose
	// deadline passed at or before now, oldest deadline first.
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]entities.Violation, error)
	// DeleteBefore removes violations created before the given time together
	// with their actions.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	Assign(ctx context.Context, id uint, assignee *string, at time.Time) error
	// ListViolations returns violations newest first.
	ListViolations(ctx context.Context, filter ViolationFilter) ([]entities.Violation, error)
	CountViolations(ctx context.Context) (ViolationCounts, error)

	// WithTx runs fn against a repository bound to a single transaction.
	WithTx(ctx context.Context, fn func(repo ViolationRepository) error) error
}
