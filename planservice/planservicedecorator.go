package planservice

import (
	"context"

	"github.com/contenox/agentplan/libtracker"
	"github.com/contenox/agentplan/planstore"
)

type activityTrackerDecorator struct {
	service Service
	tracker libtracker.ActivityTracker
}

func (d *activityTrackerDecorator) CreateAndStart(ctx context.Context, req CreateRequest) (*PlanWithSteps, error) {
	reportErrFn, reportChangeFn, endFn := d.tracker.Start(
		ctx,
		"create",
		"plan",
		"ownerID", req.OwnerID,
		"urgency", string(req.Urgency),
	)
	defer endFn()

	plan, err := d.service.CreateAndStart(ctx, req)
	if err != nil {
		reportErrFn(err)
	} else {
		reportChangeFn(plan.ID, map[string]interface{}{
			"status":     plan.Status,
			"step_count": len(plan.Steps),
		})
	}

	return plan, err
}

func (d *activityTrackerDecorator) Get(ctx context.Context, planID string) (*PlanWithSteps, error) {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"read",
		"plan",
		"planID", planID,
	)
	defer endFn()

	plan, err := d.service.Get(ctx, planID)
	if err != nil {
		reportErrFn(err)
	}

	return plan, err
}

func (d *activityTrackerDecorator) List(ctx context.Context, ownerID string, status planstore.PlanStatus) ([]*planstore.Plan, error) {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"list",
		"plan",
		"ownerID", ownerID,
		"status", string(status),
	)
	defer endFn()

	plans, err := d.service.List(ctx, ownerID, status)
	if err != nil {
		reportErrFn(err)
	}

	return plans, err
}

func (d *activityTrackerDecorator) Approve(ctx context.Context, planID, actorID string) (*PlanWithSteps, error) {
	reportErrFn, reportChangeFn, endFn := d.tracker.Start(
		ctx,
		"approve",
		"plan",
		"planID", planID,
		"actorID", actorID,
	)
	defer endFn()

	plan, err := d.service.Approve(ctx, planID, actorID)
	if err != nil {
		reportErrFn(err)
	} else {
		reportChangeFn(planID, map[string]interface{}{
			"status": plan.Status,
		})
	}

	return plan, err
}

func (d *activityTrackerDecorator) Reject(ctx context.Context, planID, actorID string) (*PlanWithSteps, error) {
	reportErrFn, reportChangeFn, endFn := d.tracker.Start(
		ctx,
		"reject",
		"plan",
		"planID", planID,
		"actorID", actorID,
	)
	defer endFn()

	plan, err := d.service.Reject(ctx, planID, actorID)
	if err != nil {
		reportErrFn(err)
	} else {
		reportChangeFn(planID, map[string]interface{}{
			"status": plan.Status,
		})
	}

	return plan, err
}

func (d *activityTrackerDecorator) Cancel(ctx context.Context, planID, actorID string) (*PlanWithSteps, error) {
	reportErrFn, reportChangeFn, endFn := d.tracker.Start(
		ctx,
		"cancel",
		"plan",
		"planID", planID,
		"actorID", actorID,
	)
	defer endFn()

	plan, err := d.service.Cancel(ctx, planID, actorID)
	if err != nil {
		reportErrFn(err)
	} else {
		reportChangeFn(planID, map[string]interface{}{
			"status": plan.Status,
		})
	}

	return plan, err
}

func (d *activityTrackerDecorator) Decide(ctx context.Context, planID, actorID, rawAction string) (*PlanWithSteps, error) {
	reportErrFn, reportChangeFn, endFn := d.tracker.Start(
		ctx,
		"decide",
		"plan",
		"planID", planID,
		"actorID", actorID,
		"action", rawAction,
	)
	defer endFn()

	plan, err := d.service.Decide(ctx, planID, actorID, rawAction)
	if err != nil {
		reportErrFn(err)
	} else {
		reportChangeFn(planID, map[string]interface{}{
			"status": plan.Status,
		})
	}

	return plan, err
}

// WithActivityTracker decorates the service with activity tracking.
func WithActivityTracker(service Service, tracker libtracker.ActivityTracker) Service {
	return &activityTrackerDecorator{
		service: service,
		tracker: tracker,
	}
}

var _ Service = (*activityTrackerDecorator)(nil)
