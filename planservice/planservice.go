// Package planservice is the public surface of the plan executor: create
// and start plans, inspect them, and adjudicate approval decisions. All
// ownership checks live here; the runner below trusts its callers.
package planservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/contenox/agentplan/approvalgate"
	"github.com/contenox/agentplan/libbus"
	libdb "github.com/contenox/agentplan/libdbexec"
	"github.com/contenox/agentplan/planner"
	"github.com/contenox/agentplan/planrunner"
	"github.com/contenox/agentplan/planstore"
	"github.com/google/uuid"
)

var (
	// ErrNotOwner is returned when an actor other than the plan owner
	// tries to approve, reject, or cancel.
	ErrNotOwner = errors.New("planservice: actor is not the plan owner")
	// ErrMissingGoal rejects plan creation without a goal.
	ErrMissingGoal = errors.New("planservice: goal is required")
	// ErrMissingOwner rejects operations without an acting identity.
	ErrMissingOwner = errors.New("planservice: owner id is required")
)

// CreateRequest carries the inputs for CreateAndStart. Owner and
// organization ids are opaque: the executor never interprets them, it
// only stores and compares them.
type CreateRequest struct {
	Goal           string            `json:"goal"`
	StepsHint      string            `json:"steps_hint,omitempty"`
	Urgency        planstore.Urgency `json:"urgency,omitempty"`
	OwnerID        string            `json:"owner_id"`
	OrganizationID string            `json:"organization_id"`
	ConversationID string            `json:"conversation_id,omitempty"`
}

// PlanWithSteps is a plan snapshot including its full step history, so a
// failed or rejected plan can be presented as a post-mortem.
type PlanWithSteps struct {
	planstore.Plan
	Steps []*planstore.PlanStep `json:"steps"`
}

type Service interface {
	// CreateAndStart plans the goal and immediately drives the plan once;
	// the returned snapshot reflects the first suspension, completion, or
	// failure rather than a bare pending record.
	CreateAndStart(ctx context.Context, req CreateRequest) (*PlanWithSteps, error)
	Get(ctx context.Context, planID string) (*PlanWithSteps, error)
	List(ctx context.Context, ownerID string, status planstore.PlanStatus) ([]*planstore.Plan, error)
	Approve(ctx context.Context, planID, actorID string) (*PlanWithSteps, error)
	Reject(ctx context.Context, planID, actorID string) (*PlanWithSteps, error)
	Cancel(ctx context.Context, planID, actorID string) (*PlanWithSteps, error)
	// Decide validates a raw decision token and dispatches to Approve or
	// Reject. Unknown tokens fail with ErrInvalidApprovalAction.
	Decide(ctx context.Context, planID, actorID, rawAction string) (*PlanWithSteps, error)
}

type service struct {
	dbInstance libdb.DBManager
	planner    planner.Planner
	runner     *planrunner.Runner
	ps         libbus.Messenger
	maxRetries int
}

// New wires the plan service. maxRetries is stamped onto every created
// step as its transient-failure budget.
func New(db libdb.DBManager, p planner.Planner, runner *planrunner.Runner, ps libbus.Messenger, maxRetries int) Service {
	if maxRetries <= 0 {
		maxRetries = planrunner.DefaultConfig().MaxRetries
	}
	return &service{
		dbInstance: db,
		planner:    p,
		runner:     runner,
		ps:         ps,
		maxRetries: maxRetries,
	}
}

func (s *service) CreateAndStart(ctx context.Context, req CreateRequest) (*PlanWithSteps, error) {
	if strings.TrimSpace(req.Goal) == "" {
		return nil, ErrMissingGoal
	}
	if req.OwnerID == "" {
		return nil, ErrMissingOwner
	}
	if req.Urgency == "" {
		req.Urgency = planstore.UrgencyNormal
	}

	planned, err := s.planner.Decompose(ctx, req.Goal, req.StepsHint, req.Urgency)
	if err != nil {
		return nil, err
	}
	if len(planned) == 0 {
		return nil, fmt.Errorf("%w: planner returned zero steps", planner.ErrPlanningFailed)
	}

	planID := uuid.NewString()
	plan := &planstore.Plan{
		ID:             planID,
		OwnerID:        req.OwnerID,
		OrganizationID: req.OrganizationID,
		Goal:           req.Goal,
		Urgency:        req.Urgency,
		ConversationID: req.ConversationID,
		Status:         planstore.PlanStatusPending,
	}
	steps := make([]*planstore.PlanStep, 0, len(planned))
	for i, p := range planned {
		actionSpec := p.ActionSpec
		if len(actionSpec) == 0 {
			actionSpec = json.RawMessage(`{}`)
		}
		steps = append(steps, &planstore.PlanStep{
			ID:          uuid.NewString(),
			PlanID:      planID,
			Ordinal:     i,
			Description: p.Description,
			ActionSpec:  actionSpec,
			Status:      planstore.StepStatusPending,
			MaxRetries:  s.maxRetries,
		})
	}

	// Plan and steps land atomically; a half-created plan is never visible.
	txExec, commit, release, err := s.dbInstance.WithTransaction(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer release()
	txStore := planstore.New(txExec)
	if err := txStore.CreatePlan(ctx, plan); err != nil {
		return nil, err
	}
	if err := txStore.CreatePlanSteps(ctx, steps...); err != nil {
		return nil, err
	}
	if err := commit(ctx); err != nil {
		return nil, err
	}

	if err := s.drive(ctx, planID); err != nil {
		return nil, err
	}
	return s.Get(ctx, planID)
}

func (s *service) Get(ctx context.Context, planID string) (*PlanWithSteps, error) {
	store := planstore.New(s.dbInstance.WithoutTransaction())
	plan, err := store.GetPlanByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	steps, err := store.ListPlanSteps(ctx, planID)
	if err != nil {
		return nil, err
	}
	return &PlanWithSteps{Plan: *plan, Steps: steps}, nil
}

func (s *service) List(ctx context.Context, ownerID string, status planstore.PlanStatus) ([]*planstore.Plan, error) {
	if ownerID == "" {
		return nil, ErrMissingOwner
	}
	store := planstore.New(s.dbInstance.WithoutTransaction())
	return store.ListPlans(ctx, ownerID, status)
}

func (s *service) Approve(ctx context.Context, planID, actorID string) (*PlanWithSteps, error) {
	store := planstore.New(s.dbInstance.WithoutTransaction())
	plan, step, err := s.loadDecidablePlan(ctx, store, planID, actorID)
	if err != nil {
		return nil, err
	}

	if err := store.UpdateStepStatus(ctx, step.ID, planstore.StepStatusWaitingApproval, planstore.StepStatusApproved); err != nil {
		return nil, err
	}
	if err := store.UpdatePlanStatus(ctx, planID, planstore.PlanStatusPaused, planstore.PlanStatusRunning); err != nil {
		return nil, err
	}
	s.publishStatus(ctx, plan, planstore.PlanStatusRunning)

	if err := s.drive(ctx, planID); err != nil {
		return nil, err
	}
	return s.Get(ctx, planID)
}

func (s *service) Reject(ctx context.Context, planID, actorID string) (*PlanWithSteps, error) {
	store := planstore.New(s.dbInstance.WithoutTransaction())
	plan, step, err := s.loadDecidablePlan(ctx, store, planID, actorID)
	if err != nil {
		return nil, err
	}

	if err := store.UpdateStepStatus(ctx, step.ID, planstore.StepStatusWaitingApproval, planstore.StepStatusRejected); err != nil {
		return nil, err
	}
	if err := store.UpdatePlanStatus(ctx, planID, planstore.PlanStatusPaused, planstore.PlanStatusCancelled); err != nil {
		return nil, err
	}
	s.publishStatus(ctx, plan, planstore.PlanStatusCancelled)
	return s.Get(ctx, planID)
}

func (s *service) Cancel(ctx context.Context, planID, actorID string) (*PlanWithSteps, error) {
	if actorID == "" {
		return nil, ErrMissingOwner
	}
	store := planstore.New(s.dbInstance.WithoutTransaction())
	plan, err := store.GetPlanByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.OwnerID != actorID {
		return nil, ErrNotOwner
	}
	if plan.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: plan is already %s", planstore.ErrConflict, plan.Status)
	}

	// The status flips immediately; an in-flight tool call is not killed,
	// its late result is discarded by the runner's post-call check.
	if err := store.UpdatePlanStatus(ctx, planID, plan.Status, planstore.PlanStatusCancelled); err != nil {
		return nil, err
	}
	s.publishStatus(ctx, plan, planstore.PlanStatusCancelled)
	return s.Get(ctx, planID)
}

func (s *service) Decide(ctx context.Context, planID, actorID, rawAction string) (*PlanWithSteps, error) {
	action, err := approvalgate.ValidateDecision(rawAction)
	if err != nil {
		return nil, err
	}
	if action == approvalgate.ActionApprove {
		return s.Approve(ctx, planID, actorID)
	}
	return s.Reject(ctx, planID, actorID)
}

// loadDecidablePlan enforces the shared approve/reject preconditions:
// the plan exists, the actor owns it, it is paused, and its cursor points
// at a step actually waiting for a decision. Ownership is checked first
// so a non-owner learns nothing about the plan's state.
func (s *service) loadDecidablePlan(ctx context.Context, store planstore.Store, planID, actorID string) (*planstore.Plan, *planstore.PlanStep, error) {
	if actorID == "" {
		return nil, nil, ErrMissingOwner
	}
	plan, err := store.GetPlanByID(ctx, planID)
	if err != nil {
		return nil, nil, err
	}
	if plan.OwnerID != actorID {
		return nil, nil, ErrNotOwner
	}
	if plan.Status != planstore.PlanStatusPaused {
		return nil, nil, fmt.Errorf("%w: plan is %s, not paused", planstore.ErrConflict, plan.Status)
	}
	steps, err := store.ListPlanSteps(ctx, planID)
	if err != nil {
		return nil, nil, err
	}
	if plan.CurrentStepIndex >= len(steps) {
		return nil, nil, fmt.Errorf("%w: no step awaiting a decision", planstore.ErrConflict)
	}
	step := steps[plan.CurrentStepIndex]
	if step.Status != planstore.StepStatusWaitingApproval {
		return nil, nil, fmt.Errorf("%w: step is %s, not waiting_approval", planstore.ErrConflict, step.Status)
	}
	return plan, step, nil
}

// drive runs the plan loop, tolerating a concurrent loop already holding
// the lease: whoever holds it will finish the work.
func (s *service) drive(ctx context.Context, planID string) error {
	err := s.runner.Drive(ctx, planID)
	if err != nil && !errors.Is(err, planrunner.ErrLeaseHeld) {
		return err
	}
	return nil
}

func (s *service) publishStatus(ctx context.Context, plan *planstore.Plan, status planstore.PlanStatus) {
	if s.ps == nil {
		return
	}
	event := planrunner.StatusEvent{
		PlanID:  plan.ID,
		OwnerID: plan.OwnerID,
		Status:  status,
		At:      time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = s.ps.Publish(ctx, planrunner.StatusEventSubject, data)
}
