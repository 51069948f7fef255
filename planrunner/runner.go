// Package planrunner advances persisted plans step by step. One drive loop
// owns one plan at a time; everything it learns is written back to the
// plan store before control returns to the caller.
package planrunner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/contenox/agentplan/approvalgate"
	"github.com/contenox/agentplan/libbus"
	"github.com/contenox/agentplan/libcipher"
	"github.com/contenox/agentplan/libdbexec"
	"github.com/contenox/agentplan/libkvstore"
	"github.com/contenox/agentplan/libtracker"
	"github.com/contenox/agentplan/planstore"
	"github.com/contenox/agentplan/toolrunner"
)

// StatusEventSubject carries plan status transitions on the message bus.
const StatusEventSubject = "plans.status"

// StatusEvent is the payload published on StatusEventSubject.
type StatusEvent struct {
	PlanID  string               `json:"plan_id"`
	OwnerID string               `json:"owner_id"`
	Status  planstore.PlanStatus `json:"status"`
	At      time.Time            `json:"at"`
}

// stepOutcome is the step runner's verdict for one attempt.
type stepOutcome int

const (
	// outcomeAdvance moves the cursor to the next step.
	outcomeAdvance stepOutcome = iota
	// outcomeRetry re-runs the same step after a backoff.
	outcomeRetry
	// outcomeSuspend parks the plan for a human decision.
	outcomeSuspend
	// outcomeFailPlan terminates the plan as failed.
	outcomeFailPlan
	// outcomeHalt stops the loop without writing anything: someone else
	// (a cancel, a racing runner) changed the plan under us.
	outcomeHalt
)

// Runner drives plans. Safe for concurrent use; the per-plan lease keeps
// two loops from walking the same plan.
type Runner struct {
	db      libdbexec.DBManager
	gate    approvalgate.Gate
	invoker toolrunner.Invoker
	lease   *planLease
	ps      libbus.Messenger
	tracker libtracker.ActivityTracker
	cfg     Config
}

// New wires a Runner. kv backs the per-plan lease, ps carries status
// events; both are required.
func New(
	db libdbexec.DBManager,
	gate approvalgate.Gate,
	invoker toolrunner.Invoker,
	kv libkvstore.KVManager,
	ps libbus.Messenger,
	tracker libtracker.ActivityTracker,
	cfg Config,
) (*Runner, error) {
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}
	if tracker == nil {
		tracker = libtracker.NoopTracker{}
	}
	return &Runner{
		db:      db,
		gate:    gate,
		invoker: invoker,
		lease:   &planLease{kv: kv, ttl: cfg.LeaseTTL},
		ps:      ps,
		tracker: tracker,
		cfg:     cfg,
	}, nil
}

// Drive walks the plan until it completes, fails, suspends for approval,
// or is cancelled. Re-entrant: a plan whose cursor points at a step that
// already ran (crash mid-step) re-attempts that step under the same
// idempotency token, and a cursor pointing at a completed step just
// advances without re-invoking the tool.
func (r *Runner) Drive(ctx context.Context, planID string) error {
	reportErr, reportChange, end := r.tracker.Start(ctx, "drive", "plan", "planID", planID)
	defer end()

	release, err := r.lease.acquire(ctx, planID)
	if err != nil {
		if !errors.Is(err, ErrLeaseHeld) {
			reportErr(err)
		}
		return err
	}
	defer release()

	store := planstore.New(r.db.WithoutTransaction())

	plan, err := store.GetPlanByID(ctx, planID)
	if err != nil {
		reportErr(err)
		return fmt.Errorf("failed to load plan: %w", err)
	}
	if plan.Status == planstore.PlanStatusPending {
		err := store.UpdatePlanStatus(ctx, planID, planstore.PlanStatusPending, planstore.PlanStatusRunning)
		switch {
		case err == nil:
			r.publishStatus(ctx, plan, planstore.PlanStatusRunning)
		case errors.Is(err, planstore.ErrConflict):
			// Someone else started or cancelled it; the loop below re-reads.
		default:
			reportErr(err)
			return fmt.Errorf("failed to start plan: %w", err)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		plan, err = store.GetPlanByID(ctx, planID)
		if err != nil {
			reportErr(err)
			return fmt.Errorf("failed to load plan: %w", err)
		}
		if plan.Status != planstore.PlanStatusRunning {
			return nil
		}

		steps, err := store.ListPlanSteps(ctx, planID)
		if err != nil {
			reportErr(err)
			return fmt.Errorf("failed to load plan steps: %w", err)
		}

		if plan.CurrentStepIndex >= len(steps) {
			err := store.UpdatePlanStatus(ctx, planID, planstore.PlanStatusRunning, planstore.PlanStatusCompleted)
			if err != nil {
				if errors.Is(err, planstore.ErrConflict) {
					continue
				}
				reportErr(err)
				return fmt.Errorf("failed to complete plan: %w", err)
			}
			r.publishStatus(ctx, plan, planstore.PlanStatusCompleted)
			reportChange(planID, map[string]any{"status": planstore.PlanStatusCompleted})
			return nil
		}

		step := steps[plan.CurrentStepIndex]
		outcome, attempt, err := r.runStep(ctx, store, plan, step)
		if err != nil {
			reportErr(err)
			return err
		}

		switch outcome {
		case outcomeAdvance:
			err := store.AdvanceCursor(ctx, planID, plan.CurrentStepIndex, plan.CurrentStepIndex+1)
			if err != nil && !errors.Is(err, planstore.ErrConflict) {
				reportErr(err)
				return fmt.Errorf("failed to advance cursor: %w", err)
			}
		case outcomeRetry:
			if err := r.sleepBackoff(ctx, attempt); err != nil {
				return err
			}
		case outcomeSuspend:
			err := store.UpdatePlanStatus(ctx, planID, planstore.PlanStatusRunning, planstore.PlanStatusPaused)
			if err != nil {
				if errors.Is(err, planstore.ErrConflict) {
					continue
				}
				reportErr(err)
				return fmt.Errorf("failed to pause plan: %w", err)
			}
			r.publishStatus(ctx, plan, planstore.PlanStatusPaused)
			reportChange(planID, map[string]any{"status": planstore.PlanStatusPaused})
			return nil
		case outcomeFailPlan:
			err := store.UpdatePlanStatus(ctx, planID, planstore.PlanStatusRunning, planstore.PlanStatusFailed)
			if err != nil {
				if errors.Is(err, planstore.ErrConflict) {
					continue
				}
				reportErr(err)
				return fmt.Errorf("failed to fail plan: %w", err)
			}
			r.publishStatus(ctx, plan, planstore.PlanStatusFailed)
			reportChange(planID, map[string]any{"status": planstore.PlanStatusFailed})
			return nil
		case outcomeHalt:
			return nil
		}
	}
}

// runStep executes exactly one step attempt. The int is the retry attempt
// number when the outcome is outcomeRetry.
func (r *Runner) runStep(ctx context.Context, store planstore.Store, plan *planstore.Plan, step *planstore.PlanStep) (stepOutcome, int, error) {
	switch step.Status {
	case planstore.StepStatusCompleted:
		// Idempotent resume: never re-invoke a finished step.
		return outcomeAdvance, 0, nil
	case planstore.StepStatusFailed:
		return outcomeFailPlan, 0, nil
	case planstore.StepStatusRejected:
		// A rejection always cancels the plan at the service layer; if we
		// still see it here the loop just stops.
		return outcomeHalt, 0, nil
	case planstore.StepStatusWaitingApproval:
		return outcomeSuspend, 0, nil
	case planstore.StepStatusPending:
		if r.gate.Classify(step.ActionSpec) {
			if err := store.MarkStepWaitingApproval(ctx, step.ID); err != nil {
				if errors.Is(err, planstore.ErrConflict) {
					return outcomeHalt, 0, nil
				}
				return 0, 0, fmt.Errorf("failed to park step for approval: %w", err)
			}
			return outcomeSuspend, 0, nil
		}
		if err := store.UpdateStepStatus(ctx, step.ID, planstore.StepStatusPending, planstore.StepStatusRunning); err != nil {
			if errors.Is(err, planstore.ErrConflict) {
				return outcomeHalt, 0, nil
			}
			return 0, 0, fmt.Errorf("failed to mark step running: %w", err)
		}
	case planstore.StepStatusApproved:
		if err := store.UpdateStepStatus(ctx, step.ID, planstore.StepStatusApproved, planstore.StepStatusRunning); err != nil {
			if errors.Is(err, planstore.ErrConflict) {
				return outcomeHalt, 0, nil
			}
			return 0, 0, fmt.Errorf("failed to mark approved step running: %w", err)
		}
	case planstore.StepStatusRunning:
		// Crash resume: re-attempt under the same idempotency token.
	}

	token, err := r.idempotencyToken(plan.ID, step.ID)
	if err != nil {
		return 0, 0, err
	}

	toolCtx, cancel := context.WithTimeout(ctx, r.cfg.ToolTimeout)
	result, invokeErr := r.invoker.Invoke(toolCtx, step.ActionSpec, token)
	timedOut := toolCtx.Err() == context.DeadlineExceeded
	cancel()

	// Check for a cancel that raced the tool call: a late result must not
	// advance a plan that is no longer running.
	fresh, err := store.GetPlanByID(ctx, plan.ID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to re-read plan after tool call: %w", err)
	}
	if fresh.Status != planstore.PlanStatusRunning {
		return outcomeHalt, 0, nil
	}

	if invokeErr == nil {
		if err := store.SetStepOutcome(ctx, step.ID, planstore.StepStatusCompleted, result, "", ""); err != nil {
			if errors.Is(err, planstore.ErrConflict) {
				return outcomeHalt, 0, nil
			}
			return 0, 0, fmt.Errorf("failed to record step success: %w", err)
		}
		return outcomeAdvance, 0, nil
	}

	kind := toolrunner.KindOf(invokeErr)
	maxRetries := step.MaxRetries
	if maxRetries <= 0 {
		maxRetries = r.cfg.MaxRetries
	}
	if kind == toolrunner.KindTransient && step.RetryCount < maxRetries {
		count, err := store.IncrementStepRetry(ctx, step.ID)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to record step retry: %w", err)
		}
		return outcomeRetry, count, nil
	}

	errorKind := string(kind)
	if timedOut {
		errorKind = "step_timeout"
	}
	if err := store.SetStepOutcome(ctx, step.ID, planstore.StepStatusFailed, "", errorKind, invokeErr.Error()); err != nil {
		if errors.Is(err, planstore.ErrConflict) {
			return outcomeHalt, 0, nil
		}
		return 0, 0, fmt.Errorf("failed to record step failure: %w", err)
	}
	return outcomeFailPlan, 0, nil
}

func (r *Runner) sleepBackoff(ctx context.Context, attempt int) error {
	delay := r.cfg.backoffDelay(attempt)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// idempotencyToken derives a stable token from the step id. Retries and
// crash resumes of the same step always present the same token to the
// tool, which is what makes re-invoking a non-idempotent tool safe.
func (r *Runner) idempotencyToken(planID, stepID string) (string, error) {
	hash, err := libcipher.NewHash(libcipher.GenerateHashArgs{
		Payload:    []byte(stepID),
		SigningKey: []byte(r.cfg.IdempotencySecret),
		Salt:       []byte(planID),
	}, sha256.New)
	if err != nil {
		return "", fmt.Errorf("failed to derive idempotency token: %w", err)
	}
	return hex.EncodeToString(hash), nil
}

func (r *Runner) publishStatus(ctx context.Context, plan *planstore.Plan, status planstore.PlanStatus) {
	if r.ps == nil {
		return
	}
	event := StatusEvent{
		PlanID:  plan.ID,
		OwnerID: plan.OwnerID,
		Status:  status,
		At:      time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	// Best effort: a lost event never blocks plan progress.
	_ = r.ps.Publish(ctx, StatusEventSubject, data)
}

// ResumeOrphans re-drives plans stuck in running with no live loop, e.g.
// after a process crash. Plans whose lease is still held are skipped.
func (r *Runner) ResumeOrphans(ctx context.Context) error {
	store := planstore.New(r.db.WithoutTransaction())
	plans, err := store.ListPlansByStatus(ctx, planstore.PlanStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to list running plans: %w", err)
	}
	for _, plan := range plans {
		if err := r.Drive(ctx, plan.ID); err != nil {
			if errors.Is(err, ErrLeaseHeld) {
				continue
			}
			return err
		}
	}
	return nil
}
