package lifecycle

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartsafety/safetyvision/internal/datastore/entities"
	"github.com/smartsafety/safetyvision/internal/datastore/repository"
	"github.com/smartsafety/safetyvision/internal/errors"
	"github.com/smartsafety/safetyvision/internal/logger"
	"github.com/smartsafety/safetyvision/internal/rules"
	"github.com/smartsafety/safetyvision/internal/testutil"
)

func ptr[T any](v T) *T { return &v }

func newTestManager(t *testing.T, opts Options) (*Manager, repository.ViolationRepository) {
	t.Helper()
	repo := repository.NewViolationRepository(testutil.NewSQLiteDB(t))
	log := logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
	return NewManager(repo, opts, log, nil), repo
}

func testAlert(entityID string, vt rules.ViolationType, sev rules.Severity) rules.VerifiedAlert {
	return rules.VerifiedAlert{
		AlertID:         "alert_" + entityID + "_1741600802",
		EntityID:        entityID,
		Source:          "cam-1",
		ViolationType:   vt,
		AlertClass:      rules.ClassSafety,
		Severity:        sev,
		Message:         "PPE violation detected",
		ObservedAt:      time.Date(2025, 3, 10, 10, 0, 2, 0, time.UTC),
		DurationSeconds: 2,
		BoundingBox:     rules.BoundingBox{X1: 100, Y1: 100, X2: 200, Y2: 300},
		Confidence:      0.9,
	}
}

func recordTestViolation(t *testing.T, m *Manager, entityID string) *entities.Violation {
	t.Helper()
	alert := testAlert(entityID, rules.ViolationNoPPE, rules.SeverityWarning)
	v, created, err := m.RecordAlert(t.Context(), "cam-1", entityID+"|NO_PPE|cam-1", alert, "low")
	require.NoError(t, err)
	require.True(t, created)
	return v
}

func countActions(t *testing.T, m *Manager) int {
	t.Helper()
	views, err := m.ListActions(t.Context(), MaxActionLimit)
	require.NoError(t, err)
	return len(views)
}

func TestManager_ResolveThenEscalateReopens(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := t.Context()
	v := recordTestViolation(t, m, "E1")

	action, err := m.Resolve(ctx, v.ID, "helmet handed out", ptr("alice"), nil)
	require.NoError(t, err)
	assert.NotZero(t, action.ID)
	assert.False(t, action.CreatedAt.IsZero())
	assert.Equal(t, entities.ActionResolve, action.Action)
	assert.False(t, action.AutoGenerated)

	got, err := m.GetViolation(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.StageResolved, got.Stage)
	assert.True(t, got.Resolved)

	action, err = m.Escalate(ctx, v.ID, "supervisor", "seen again", ptr("bob"), false, ptr("/evidence/e1.jpg"))
	require.NoError(t, err)
	require.NotNil(t, action.Level)
	assert.Equal(t, "supervisor", *action.Level)
	require.NotNil(t, action.Evidence)

	got, err = m.GetViolation(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.StageEscalated, got.Stage)
	assert.False(t, got.Resolved, "escalation reopens a resolved violation")

	assert.Equal(t, 2, countActions(t, m))
}

func TestManager_UnknownIDWritesNothing(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := t.Context()

	_, err := m.Resolve(ctx, 42, "", ptr("alice"), nil)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	assert.ErrorIs(t, err, repository.ErrViolationNotFound)

	_, err = m.Escalate(ctx, 42, "", "", nil, true, nil)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	_, err = m.Assign(ctx, 42, ptr("carol"), ptr("alice"))
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	assert.Zero(t, countActions(t, m))
}

func TestManager_EscalateActorRules(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := t.Context()
	v := recordTestViolation(t, m, "E1")

	_, err := m.Escalate(ctx, v.ID, "supervisor", "", nil, false, nil)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Zero(t, countActions(t, m))

	action, err := m.Escalate(ctx, v.ID, "", "unattended past due", nil, true, nil)
	require.NoError(t, err)
	assert.True(t, action.AutoGenerated)
	assert.Nil(t, action.Actor)
	assert.Nil(t, action.Level, "empty level is stored as null")
}

func TestManager_Acknowledge(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := t.Context()
	v := recordTestViolation(t, m, "E1")

	_, err := m.Acknowledge(ctx, v.ID, nil, "")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	action, err := m.Acknowledge(ctx, v.ID, ptr("alice"), "on my way")
	require.NoError(t, err)
	assert.Equal(t, entities.ActionAcknowledge, action.Action)

	got, err := m.GetViolation(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.StageAcknowledged, got.Stage)

	_, err = m.Acknowledge(ctx, v.ID, ptr("bob"), "")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict))
	assert.Equal(t, 1, countActions(t, m))
}

func TestManager_Assign(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := t.Context()
	v := recordTestViolation(t, m, "E1")

	action, err := m.Assign(ctx, v.ID, ptr("carol"), ptr("alice"))
	require.NoError(t, err)
	assert.Equal(t, entities.ActionAssign, action.Action)
	assert.Equal(t, "assigned to carol", action.Notes)

	got, err := m.GetViolation(ctx, v.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AssignedTo)
	assert.Equal(t, "carol", *got.AssignedTo)
	assert.Equal(t, entities.StageNew, got.Stage, "assignment does not change stage")

	_, err = m.Assign(ctx, v.ID, nil, ptr("alice"))
	require.NoError(t, err)
	got, err = m.GetViolation(ctx, v.ID)
	require.NoError(t, err)
	assert.Nil(t, got.AssignedTo)
}

func TestManager_RecordAlertCreateThenTouch(t *testing.T) {
	base := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	now := base
	m, _ := newTestManager(t, Options{
		EscalationDeadline: 15 * time.Minute,
		Clock:              func() time.Time { return now },
	})
	ctx := t.Context()
	key := "E1|SECURITY_BREACH|cam-1"
	alert := testAlert("E1", rules.ViolationSecurityBreach, rules.SeverityCritical)

	first, created, err := m.RecordAlert(ctx, "cam-1", key, alert, "low")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, entities.StageNew, first.Stage)
	require.NotNil(t, first.DueAt)
	assert.Equal(t, base.Add(15*time.Minute), first.DueAt.UTC())
	require.NotNil(t, first.BoundingBox)
	assert.JSONEq(t, `{"x1":100,"y1":100,"x2":200,"y2":300}`, *first.BoundingBox)

	now = base.Add(2 * time.Minute)
	second, created, err := m.RecordAlert(ctx, "cam-1", key, alert, "low")
	require.NoError(t, err)
	assert.False(t, created, "open violation is refreshed, not duplicated")
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, now, second.LastUpdatedAt)

	_, err = m.Resolve(ctx, first.ID, "", ptr("alice"), nil)
	require.NoError(t, err)

	third, created, err := m.RecordAlert(ctx, "cam-1", key, alert, "low")
	require.NoError(t, err)
	assert.True(t, created, "resolved violations are not reused")
	assert.NotEqual(t, first.ID, third.ID)
}

func TestManager_RecordAlertWarningHasNoDeadline(t *testing.T) {
	m, _ := newTestManager(t, Options{EscalationDeadline: time.Minute})
	v := recordTestViolation(t, m, "E1")
	assert.Nil(t, v.DueAt)
}

func TestManager_ListOverdue(t *testing.T) {
	base := time.Date(2025, 3, 10, 2, 0, 0, 0, time.UTC)
	now := base
	m, _ := newTestManager(t, Options{
		EscalationDeadline: 15 * time.Minute,
		Clock:              func() time.Time { return now },
	})
	ctx := t.Context()

	alert := testAlert("E1", rules.ViolationSecurityBreach, rules.SeverityCritical)
	v, _, err := m.RecordAlert(ctx, "cam-1", "E1|SECURITY_BREACH|cam-1", alert, "low")
	require.NoError(t, err)

	overdue, err := m.ListOverdue(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, overdue)

	now = base.Add(16 * time.Minute)
	overdue, err = m.ListOverdue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, v.ID, overdue[0].ID)

	_, err = m.Escalate(ctx, v.ID, "auto", "", nil, true, nil)
	require.NoError(t, err)
	overdue, err = m.ListOverdue(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, overdue, "escalated violations are no longer overdue")
}

func TestManager_ListActionsLimits(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := t.Context()
	v := recordTestViolation(t, m, "E7")

	for range 3 {
		_, err := m.Escalate(ctx, v.ID, "", "", ptr("alice"), false, nil)
		require.NoError(t, err)
	}
	_, err := m.Resolve(ctx, v.ID, "done", ptr("alice"), nil)
	require.NoError(t, err)

	views, err := m.ListActions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, views, 4)
	assert.Equal(t, entities.ActionResolve, views[0].Action, "most recent first")
	assert.Equal(t, "E7", views[0].EntityID)
	assert.Equal(t, string(rules.ViolationNoPPE), views[0].ViolationType)

	views, err = m.ListActions(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, views, 2)
}

func TestManager_ListAndCountViolations(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := t.Context()

	for i := range 12 {
		recordTestViolation(t, m, fmt.Sprintf("E%02d", i))
	}
	resolved := recordTestViolation(t, m, "R1")
	_, err := m.Resolve(ctx, resolved.ID, "fixed", ptr("alice"), nil)
	require.NoError(t, err)

	items, err := m.ListViolations(ctx, repository.ViolationFilter{})
	require.NoError(t, err)
	assert.Len(t, items, DefaultViolationLimit)

	items, err = m.ListViolations(ctx, repository.ViolationFilter{Stage: entities.StageResolved, Limit: 50})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "R1", items[0].EntityID)

	_, err = m.ListViolations(ctx, repository.ViolationFilter{Stage: "archived"})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	counts, err := m.CountViolations(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(13), counts.Total)
	assert.Equal(t, int64(12), counts.ByStage[entities.StageNew])
	assert.Equal(t, int64(1), counts.ByStage[entities.StageResolved])
	assert.Equal(t, int64(12), counts.OpenBySeverity[string(rules.SeverityWarning)])
}

// conflictingRepo loses the first n stage compare-and-sets.
type conflictingRepo struct {
	repository.ViolationRepository
	remaining *int
}

func (r conflictingRepo) UpdateStage(ctx context.Context, id uint, from, to entities.Stage, at time.Time) error {
	if *r.remaining > 0 {
		*r.remaining--
		return repository.ErrStageConflict
	}
	return r.ViolationRepository.UpdateStage(ctx, id, from, to, at)
}

func (r conflictingRepo) WithTx(ctx context.Context, fn func(repository.ViolationRepository) error) error {
	return r.ViolationRepository.WithTx(ctx, func(tx repository.ViolationRepository) error {
		return fn(conflictingRepo{ViolationRepository: tx, remaining: r.remaining})
	})
}

func TestManager_StageConflictRetries(t *testing.T) {
	base := repository.NewViolationRepository(testutil.NewSQLiteDB(t))
	log := logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
	ctx := t.Context()

	remaining := maxStageRetries
	m := NewManager(conflictingRepo{ViolationRepository: base, remaining: &remaining}, Options{}, log, nil)
	v := recordTestViolation(t, m, "E1")

	_, err := m.Resolve(ctx, v.ID, "", ptr("alice"), nil)
	require.NoError(t, err, "succeeds on the last allowed retry")

	remaining = maxStageRetries + 1
	_, err = m.Escalate(ctx, v.ID, "", "", ptr("alice"), false, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict))
	assert.Equal(t, 1, countActions(t, m), "failed transition leaves no action")
}

func TestManager_ConcurrentTransitionsSerialize(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := t.Context()
	v := recordTestViolation(t, m, "E1")

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := range workers {
		wg.Go(func() {
			var err error
			if i%2 == 0 {
				_, err = m.Resolve(ctx, v.ID, "", ptr("alice"), nil)
			} else {
				_, err = m.Escalate(ctx, v.ID, "", "", ptr("bob"), false, nil)
			}
			errs <- err
		})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, workers, countActions(t, m))
	assert.Zero(t, m.byID.size(), "lock entries are released")
}

func TestManager_SweepOnce(t *testing.T) {
	now := time.Now().UTC()
	m, _ := newTestManager(t, Options{Clock: func() time.Time { return now }})
	ctx := t.Context()
	v := recordTestViolation(t, m, "E1")
	_, err := m.Resolve(ctx, v.ID, "", ptr("alice"), nil)
	require.NoError(t, err)

	assert.Zero(t, m.SweepOnce(30), "fresh rows are kept")

	now = now.AddDate(0, 0, 31)
	assert.Equal(t, int64(1), m.SweepOnce(30))

	_, err = m.GetViolation(ctx, v.ID)
	assert.True(t, errors.IsNotFound(err))
	assert.Zero(t, countActions(t, m), "actions are removed with their violation")
}

func TestManager_RetentionSweepLoop(t *testing.T) {
	now := time.Now().UTC().AddDate(0, 0, 31)
	m, _ := newTestManager(t, Options{Clock: func() time.Time { return now }})
	v := recordTestViolation(t, m, "E1")

	m.StartRetentionSweep(30, 10*time.Millisecond)
	t.Cleanup(m.Stop)

	require.Eventually(t, func() bool {
		_, err := m.GetViolation(context.Background(), v.ID)
		return errors.IsNotFound(err)
	}, 2*time.Second, 10*time.Millisecond)

	m.Stop()
	m.Stop()
}

func TestManager_RetentionDisabled(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	m.StartRetentionSweep(0, time.Millisecond)
	assert.Nil(t, m.sweepStop)
	m.Stop()
}
