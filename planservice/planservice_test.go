package planservice_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/contenox/agentplan/approvalgate"
	"github.com/contenox/agentplan/libbus"
	"github.com/contenox/agentplan/libdbexec"
	"github.com/contenox/agentplan/libkvstore"
	"github.com/contenox/agentplan/planner"
	"github.com/contenox/agentplan/planrunner"
	"github.com/contenox/agentplan/planservice"
	"github.com/contenox/agentplan/planstore"
	"github.com/contenox/agentplan/toolrunner"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// stubPlanner returns a fixed decomposition.
type stubPlanner struct {
	steps []planner.PlannedStep
	err   error
}

func (s *stubPlanner) Decompose(ctx context.Context, goal, hint string, urgency planstore.Urgency) ([]planner.PlannedStep, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.steps, nil
}

// fakeInvoker answers with canned results keyed by invocation order.
type fakeInvoker struct {
	mu      sync.Mutex
	calls   int
	results []fakeResult
}

type fakeResult struct {
	payload string
	err     error
}

func (f *fakeInvoker) Invoke(ctx context.Context, actionSpec json.RawMessage, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.results) == 0 {
		return `{"ok":true}`, nil
	}
	next := f.results[0]
	f.results = f.results[1:]
	return next.payload, next.err
}

func plannedStep(description, category string, hint bool) planner.PlannedStep {
	spec, _ := json.Marshal(map[string]any{"category": category, "tool": "echo"})
	return planner.PlannedStep{
		Description:          description,
		ActionSpec:           spec,
		RequiresApprovalHint: hint,
	}
}

func setupService(t *testing.T, p planner.Planner, invoker toolrunner.Invoker) (context.Context, planservice.Service) {
	t.Helper()
	ctx := context.Background()

	db, err := libdbexec.NewSQLiteDBManager(ctx, ":memory:", planstore.SchemaSQLite)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ps := libbus.NewInMem()
	gate := approvalgate.NewPolicyGate(approvalgate.DefaultPolicy())
	runner, err := planrunner.New(db, gate, invoker, libkvstore.NewInMem(), ps, nil, planrunner.Config{})
	require.NoError(t, err)

	return ctx, planservice.New(db, p, runner, ps, 3)
}

func TestSystem_GatedStepPausesPlan(t *testing.T) {
	p := &stubPlanner{steps: []planner.PlannedStep{
		plannedStep("send a thank-you email to Jane", "send_communication", true),
	}}
	ctx, svc := setupService(t, p, &fakeInvoker{})

	plan, err := svc.CreateAndStart(ctx, planservice.CreateRequest{
		Goal:           "send a thank-you email to Jane",
		OwnerID:        "user-1",
		OrganizationID: "org-1",
	})
	require.NoError(t, err)
	require.Equal(t, planstore.PlanStatusPaused, plan.Status)
	require.Len(t, plan.Steps, 1)
	require.Equal(t, planstore.StepStatusWaitingApproval, plan.Steps[0].Status)
}

func TestSystem_ApproveRunsGatedStepToCompletion(t *testing.T) {
	p := &stubPlanner{steps: []planner.PlannedStep{
		plannedStep("send a thank-you email to Jane", "send_communication", true),
	}}
	ctx, svc := setupService(t, p, &fakeInvoker{})

	plan, err := svc.CreateAndStart(ctx, planservice.CreateRequest{
		Goal: "send a thank-you email to Jane", OwnerID: "user-1", OrganizationID: "org-1",
	})
	require.NoError(t, err)
	require.Equal(t, planstore.PlanStatusPaused, plan.Status)

	approved, err := svc.Approve(ctx, plan.ID, "user-1")
	require.NoError(t, err)
	require.Equal(t, planstore.PlanStatusCompleted, approved.Status)
	require.Equal(t, planstore.StepStatusCompleted, approved.Steps[0].Status)
}

func TestSystem_RejectCancelsPlanAndBlocksLateApproval(t *testing.T) {
	p := &stubPlanner{steps: []planner.PlannedStep{
		plannedStep("send a thank-you email to Jane", "send_communication", true),
	}}
	ctx, svc := setupService(t, p, &fakeInvoker{})

	plan, err := svc.CreateAndStart(ctx, planservice.CreateRequest{
		Goal: "send a thank-you email to Jane", OwnerID: "user-1", OrganizationID: "org-1",
	})
	require.NoError(t, err)

	rejected, err := svc.Reject(ctx, plan.ID, "user-1")
	require.NoError(t, err)
	require.Equal(t, planstore.PlanStatusCancelled, rejected.Status)
	require.Equal(t, planstore.StepStatusRejected, rejected.Steps[0].Status)

	// A decision on a no-longer-paused plan is a conflict.
	_, err = svc.Approve(ctx, plan.ID, "user-1")
	require.ErrorIs(t, err, planstore.ErrConflict)
}

func TestSystem_PermanentFailureStopsMidPlan(t *testing.T) {
	p := &stubPlanner{steps: []planner.PlannedStep{
		plannedStep("step one", "read_data", false),
		plannedStep("step two", "read_data", false),
		plannedStep("step three", "read_data", false),
	}}
	invoker := &fakeInvoker{results: []fakeResult{
		{payload: `{"ok":true}`},
		{err: toolrunner.Permanent("upstream said no", nil)},
	}}
	ctx, svc := setupService(t, p, invoker)

	plan, err := svc.CreateAndStart(ctx, planservice.CreateRequest{
		Goal: "three ungated steps", OwnerID: "user-1", OrganizationID: "org-1",
	})
	require.NoError(t, err)
	require.Equal(t, planstore.PlanStatusFailed, plan.Status)
	require.Equal(t, planstore.StepStatusCompleted, plan.Steps[0].Status)
	require.Equal(t, planstore.StepStatusFailed, plan.Steps[1].Status)
	require.Equal(t, planstore.StepStatusPending, plan.Steps[2].Status)
	// The failed plan keeps its full step history for a post-mortem.
	require.Equal(t, "permanent", plan.Steps[1].ErrorKind)
	require.NotEmpty(t, plan.Steps[1].ErrorMessage)
}

func TestSystem_ApprovalAuthorityIsOwnerOnly(t *testing.T) {
	p := &stubPlanner{steps: []planner.PlannedStep{
		plannedStep("wire the invoice", "move_money", true),
	}}
	ctx, svc := setupService(t, p, &fakeInvoker{})

	plan, err := svc.CreateAndStart(ctx, planservice.CreateRequest{
		Goal: "wire the invoice", OwnerID: "user-1", OrganizationID: "org-1",
	})
	require.NoError(t, err)

	_, err = svc.Approve(ctx, plan.ID, "intruder")
	require.ErrorIs(t, err, planservice.ErrNotOwner)
	_, err = svc.Reject(ctx, plan.ID, "intruder")
	require.ErrorIs(t, err, planservice.ErrNotOwner)
	_, err = svc.Cancel(ctx, plan.ID, "intruder")
	require.ErrorIs(t, err, planservice.ErrNotOwner)

	// No state change happened.
	got, err := svc.Get(ctx, plan.ID)
	require.NoError(t, err)
	require.Equal(t, planstore.PlanStatusPaused, got.Status)
	require.Equal(t, planstore.StepStatusWaitingApproval, got.Steps[0].Status)
}

func TestSystem_GateOverridesPlannerHint(t *testing.T) {
	// The planner claims no approval is needed; the gate still pauses the
	// plan because the category is always gated.
	p := &stubPlanner{steps: []planner.PlannedStep{
		plannedStep("quietly delete old records", "delete_data", false),
	}}
	ctx, svc := setupService(t, p, &fakeInvoker{})

	plan, err := svc.CreateAndStart(ctx, planservice.CreateRequest{
		Goal: "clean up records", OwnerID: "user-1", OrganizationID: "org-1",
	})
	require.NoError(t, err)
	require.Equal(t, planstore.PlanStatusPaused, plan.Status)
	require.Equal(t, planstore.StepStatusWaitingApproval, plan.Steps[0].Status)
}

func TestSystem_PlanningFailures(t *testing.T) {
	t.Run("planner error surfaces", func(t *testing.T) {
		p := &stubPlanner{err: planner.ErrPlanningFailed}
		ctx, svc := setupService(t, p, &fakeInvoker{})
		_, err := svc.CreateAndStart(ctx, planservice.CreateRequest{
			Goal: "anything", OwnerID: "user-1", OrganizationID: "org-1",
		})
		require.ErrorIs(t, err, planner.ErrPlanningFailed)
	})

	t.Run("zero steps surfaces", func(t *testing.T) {
		p := &stubPlanner{steps: nil}
		ctx, svc := setupService(t, p, &fakeInvoker{})
		_, err := svc.CreateAndStart(ctx, planservice.CreateRequest{
			Goal: "anything", OwnerID: "user-1", OrganizationID: "org-1",
		})
		require.ErrorIs(t, err, planner.ErrPlanningFailed)
	})

	t.Run("missing goal rejected before planning", func(t *testing.T) {
		p := &stubPlanner{steps: []planner.PlannedStep{plannedStep("x", "read_data", false)}}
		ctx, svc := setupService(t, p, &fakeInvoker{})
		_, err := svc.CreateAndStart(ctx, planservice.CreateRequest{OwnerID: "user-1"})
		require.ErrorIs(t, err, planservice.ErrMissingGoal)
	})
}

func TestSystem_DecideValidation(t *testing.T) {
	p := &stubPlanner{steps: []planner.PlannedStep{
		plannedStep("send the mail", "send_communication", true),
	}}
	ctx, svc := setupService(t, p, &fakeInvoker{})

	plan, err := svc.CreateAndStart(ctx, planservice.CreateRequest{
		Goal: "send the mail", OwnerID: "user-1", OrganizationID: "org-1",
	})
	require.NoError(t, err)

	_, err = svc.Decide(ctx, plan.ID, "user-1", "maybe")
	require.ErrorIs(t, err, approvalgate.ErrInvalidApprovalAction)

	decided, err := svc.Decide(ctx, plan.ID, "user-1", "APPROVE")
	require.NoError(t, err)
	require.Equal(t, planstore.PlanStatusCompleted, decided.Status)
}

func TestSystem_CancelNonTerminalAndConflictOnTerminal(t *testing.T) {
	p := &stubPlanner{steps: []planner.PlannedStep{
		plannedStep("send the mail", "send_communication", true),
	}}
	ctx, svc := setupService(t, p, &fakeInvoker{})

	plan, err := svc.CreateAndStart(ctx, planservice.CreateRequest{
		Goal: "send the mail", OwnerID: "user-1", OrganizationID: "org-1",
	})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, plan.ID, "user-1")
	require.NoError(t, err)
	require.Equal(t, planstore.PlanStatusCancelled, cancelled.Status)

	_, err = svc.Cancel(ctx, plan.ID, "user-1")
	require.ErrorIs(t, err, planstore.ErrConflict)
}

func TestSystem_GetAndList(t *testing.T) {
	p := &stubPlanner{steps: []planner.PlannedStep{
		plannedStep("step", "read_data", false),
	}}
	ctx, svc := setupService(t, p, &fakeInvoker{})

	first, err := svc.CreateAndStart(ctx, planservice.CreateRequest{
		Goal: "goal one", OwnerID: "user-1", OrganizationID: "org-1",
	})
	require.NoError(t, err)
	second, err := svc.CreateAndStart(ctx, planservice.CreateRequest{
		Goal: "goal two", OwnerID: "user-1", OrganizationID: "org-1",
	})
	require.NoError(t, err)

	_, err = svc.Get(ctx, uuid.NewString())
	require.ErrorIs(t, err, planstore.ErrNotFound)

	got, err := svc.Get(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, "goal one", got.Goal)
	require.Len(t, got.Steps, 1)

	plans, err := svc.List(ctx, "user-1", "")
	require.NoError(t, err)
	require.Len(t, plans, 2)
	require.Equal(t, second.ID, plans[0].ID, "listing is newest first")
	require.Equal(t, first.ID, plans[1].ID)

	completed, err := svc.List(ctx, "user-1", planstore.PlanStatusCompleted)
	require.NoError(t, err)
	require.Len(t, completed, 2)

	none, err := svc.List(ctx, "user-1", planstore.PlanStatusFailed)
	require.NoError(t, err)
	require.Empty(t, none)
}
