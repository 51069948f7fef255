package planstore_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/contenox/agentplan/libdbexec"
	"github.com/contenox/agentplan/planstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) (context.Context, planstore.Store) {
	t.Helper()
	ctx := context.Background()
	dbManager, err := libdbexec.NewSQLiteDBManager(ctx, ":memory:", planstore.SchemaSQLite)
	require.NoError(t, err)
	t.Cleanup(func() { dbManager.Close() })
	return ctx, planstore.New(dbManager.WithoutTransaction())
}

func newTestPlan(owner string) *planstore.Plan {
	return &planstore.Plan{
		ID:             uuid.NewString(),
		OwnerID:        owner,
		OrganizationID: "org-1",
		Goal:           "summarize the weekly report",
		Urgency:        planstore.UrgencyNormal,
		Status:         planstore.PlanStatusPending,
	}
}

func TestUnit_PlanCRUD(t *testing.T) {
	ctx, store := setupStore(t)

	plan := newTestPlan("user-1")
	require.NoError(t, store.CreatePlan(ctx, plan))

	got, err := store.GetPlanByID(ctx, plan.ID)
	require.NoError(t, err)
	require.Equal(t, plan.ID, got.ID)
	require.Equal(t, "user-1", got.OwnerID)
	require.Equal(t, planstore.PlanStatusPending, got.Status)
	require.Equal(t, 0, got.CurrentStepIndex)

	_, err = store.GetPlanByID(ctx, uuid.NewString())
	require.ErrorIs(t, err, planstore.ErrNotFound)

	require.NoError(t, store.DeletePlan(ctx, plan.ID))
	_, err = store.GetPlanByID(ctx, plan.ID)
	require.ErrorIs(t, err, planstore.ErrNotFound)
}

func TestUnit_ListPlansNewestFirst(t *testing.T) {
	ctx, store := setupStore(t)

	older := newTestPlan("user-1")
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	older.UpdatedAt = older.CreatedAt
	require.NoError(t, store.CreatePlan(ctx, older))

	newer := newTestPlan("user-1")
	require.NoError(t, store.CreatePlan(ctx, newer))

	foreign := newTestPlan("user-2")
	require.NoError(t, store.CreatePlan(ctx, foreign))

	plans, err := store.ListPlans(ctx, "user-1", "")
	require.NoError(t, err)
	require.Len(t, plans, 2)
	require.Equal(t, newer.ID, plans[0].ID)
	require.Equal(t, older.ID, plans[1].ID)

	running, err := store.ListPlans(ctx, "user-1", planstore.PlanStatusRunning)
	require.NoError(t, err)
	require.Empty(t, running)
}

func TestUnit_PlanStatusCAS(t *testing.T) {
	ctx, store := setupStore(t)

	plan := newTestPlan("user-1")
	require.NoError(t, store.CreatePlan(ctx, plan))

	require.NoError(t, store.UpdatePlanStatus(ctx, plan.ID, planstore.PlanStatusPending, planstore.PlanStatusRunning))

	// Second transition from the stale status loses the race.
	err := store.UpdatePlanStatus(ctx, plan.ID, planstore.PlanStatusPending, planstore.PlanStatusRunning)
	require.ErrorIs(t, err, planstore.ErrConflict)

	err = store.UpdatePlanStatus(ctx, uuid.NewString(), planstore.PlanStatusPending, planstore.PlanStatusRunning)
	require.ErrorIs(t, err, planstore.ErrNotFound)

	got, err := store.GetPlanByID(ctx, plan.ID)
	require.NoError(t, err)
	require.Equal(t, planstore.PlanStatusRunning, got.Status)
}

func TestUnit_AdvanceCursor(t *testing.T) {
	ctx, store := setupStore(t)

	plan := newTestPlan("user-1")
	require.NoError(t, store.CreatePlan(ctx, plan))

	require.NoError(t, store.AdvanceCursor(ctx, plan.ID, 0, 1))

	err := store.AdvanceCursor(ctx, plan.ID, 0, 1)
	require.ErrorIs(t, err, planstore.ErrConflict)

	err = store.AdvanceCursor(ctx, plan.ID, 1, 0)
	require.ErrorIs(t, err, planstore.ErrConflict)

	got, err := store.GetPlanByID(ctx, plan.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.CurrentStepIndex)
}

func newTestSteps(planID string, n int) []*planstore.PlanStep {
	steps := make([]*planstore.PlanStep, 0, n)
	for i := 0; i < n; i++ {
		steps = append(steps, &planstore.PlanStep{
			ID:          uuid.NewString(),
			PlanID:      planID,
			Ordinal:     i,
			Description: "do something",
			ActionSpec:  json.RawMessage(`{"category":"read_data"}`),
			MaxRetries:  3,
		})
	}
	return steps
}

func TestUnit_StepLifecycle(t *testing.T) {
	ctx, store := setupStore(t)

	plan := newTestPlan("user-1")
	require.NoError(t, store.CreatePlan(ctx, plan))
	steps := newTestSteps(plan.ID, 3)
	require.NoError(t, store.CreatePlanSteps(ctx, steps...))

	listed, err := store.ListPlanSteps(ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, listed, 3)
	for i, step := range listed {
		require.Equal(t, i, step.Ordinal)
		require.Equal(t, planstore.StepStatusPending, step.Status)
	}

	// Gate the first step, then approve it.
	require.NoError(t, store.MarkStepWaitingApproval(ctx, steps[0].ID))
	first, err := store.GetStepByID(ctx, steps[0].ID)
	require.NoError(t, err)
	require.True(t, first.RequiresApproval)
	require.Equal(t, planstore.StepStatusWaitingApproval, first.Status)

	// Parking an already-parked step is a conflict.
	err = store.MarkStepWaitingApproval(ctx, steps[0].ID)
	require.ErrorIs(t, err, planstore.ErrConflict)

	require.NoError(t, store.UpdateStepStatus(ctx, steps[0].ID, planstore.StepStatusWaitingApproval, planstore.StepStatusApproved))
	require.NoError(t, store.UpdateStepStatus(ctx, steps[0].ID, planstore.StepStatusApproved, planstore.StepStatusRunning))

	err = store.UpdateStepStatus(ctx, steps[0].ID, planstore.StepStatusPending, planstore.StepStatusRunning)
	require.ErrorIs(t, err, planstore.ErrConflict)
}

func TestUnit_StepOutcomeIdempotent(t *testing.T) {
	ctx, store := setupStore(t)

	plan := newTestPlan("user-1")
	require.NoError(t, store.CreatePlan(ctx, plan))
	steps := newTestSteps(plan.ID, 1)
	require.NoError(t, store.CreatePlanSteps(ctx, steps...))

	require.NoError(t, store.UpdateStepStatus(ctx, steps[0].ID, planstore.StepStatusPending, planstore.StepStatusRunning))
	require.NoError(t, store.SetStepOutcome(ctx, steps[0].ID, planstore.StepStatusCompleted, `{"ok":true}`, "", ""))

	// Replaying the same terminal write after a crash is a no-op, not an error.
	require.NoError(t, store.SetStepOutcome(ctx, steps[0].ID, planstore.StepStatusCompleted, `{"ok":true}`, "", ""))

	// A different terminal status can no longer be written.
	err := store.SetStepOutcome(ctx, steps[0].ID, planstore.StepStatusFailed, "", "permanent", "boom")
	require.ErrorIs(t, err, planstore.ErrConflict)

	got, err := store.GetStepByID(ctx, steps[0].ID)
	require.NoError(t, err)
	require.Equal(t, planstore.StepStatusCompleted, got.Status)
	require.Equal(t, `{"ok":true}`, got.Result)
	require.False(t, got.ExecutedAt.IsZero())
}

func TestUnit_StepRetryCounter(t *testing.T) {
	ctx, store := setupStore(t)

	plan := newTestPlan("user-1")
	require.NoError(t, store.CreatePlan(ctx, plan))
	steps := newTestSteps(plan.ID, 1)
	require.NoError(t, store.CreatePlanSteps(ctx, steps...))

	count, err := store.IncrementStepRetry(ctx, steps[0].ID)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	count, err = store.IncrementStepRetry(ctx, steps[0].ID)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	_, err = store.IncrementStepRetry(ctx, uuid.NewString())
	require.ErrorIs(t, err, planstore.ErrNotFound)
}
