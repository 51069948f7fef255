package planstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/contenox/agentplan/libdbexec"
)

var (
	ErrNotFound = errors.New("plan not found")
	// ErrConflict signals a lost compare-and-swap race: the row exists but
	// its current value no longer matches the expected one.
	ErrConflict = errors.New("plan state conflict")
)

type store struct {
	Exec libdbexec.Exec
}

// New creates a new plan store instance.
func New(exec libdbexec.Exec) Store {
	return &store{Exec: exec}
}

// CreatePlan creates a new plan.
func (s *store) CreatePlan(ctx context.Context, plan *Plan) error {
	now := time.Now().UTC()
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = now
	}
	if plan.UpdatedAt.IsZero() {
		plan.UpdatedAt = now
	}
	if plan.Status == "" {
		plan.Status = PlanStatusPending
	}
	if plan.Urgency == "" {
		plan.Urgency = UrgencyNormal
	}

	conversationID := sql.NullString{String: plan.ConversationID, Valid: plan.ConversationID != ""}

	_, err := s.Exec.ExecContext(ctx, `
		INSERT INTO plans (id, owner_id, organization_id, goal, urgency, conversation_id, status, current_step_index, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		plan.ID,
		plan.OwnerID,
		plan.OrganizationID,
		plan.Goal,
		string(plan.Urgency),
		conversationID,
		string(plan.Status),
		plan.CurrentStepIndex,
		plan.CreatedAt,
		plan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create plan: %w", err)
	}
	return nil
}

func (s *store) GetPlanByID(ctx context.Context, id string) (*Plan, error) {
	var p Plan
	var conversationID sql.NullString
	var status, urgency string

	err := s.Exec.QueryRowContext(ctx, `
		SELECT id, owner_id, organization_id, goal, urgency, conversation_id, status, current_step_index, created_at, updated_at
		FROM plans
		WHERE id = $1`, id).Scan(
		&p.ID,
		&p.OwnerID,
		&p.OrganizationID,
		&p.Goal,
		&urgency,
		&conversationID,
		&status,
		&p.CurrentStepIndex,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	p.Status = PlanStatus(status)
	p.Urgency = Urgency(urgency)
	if conversationID.Valid {
		p.ConversationID = conversationID.String
	}
	return &p, nil
}

// ListPlans returns the owner's plans newest-first. An empty status lists
// all statuses.
func (s *store) ListPlans(ctx context.Context, ownerID string, status PlanStatus) ([]*Plan, error) {
	query := `
		SELECT id, owner_id, organization_id, goal, urgency, conversation_id, status, current_step_index, created_at, updated_at
		FROM plans
		WHERE owner_id = $1`
	args := []any{ownerID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += `
		ORDER BY created_at DESC, id DESC`

	rows, err := s.Exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()

	var plans []*Plan
	for rows.Next() {
		var p Plan
		var conversationID sql.NullString
		var rowStatus, urgency string
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.OrganizationID, &p.Goal, &urgency, &conversationID, &rowStatus, &p.CurrentStepIndex, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		p.Status = PlanStatus(rowStatus)
		p.Urgency = Urgency(urgency)
		if conversationID.Valid {
			p.ConversationID = conversationID.String
		}
		plans = append(plans, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return plans, nil
}

// ListPlansByStatus returns all plans in a status regardless of owner,
// oldest-first. Used by the background resume cycle to find plans whose
// drive loop died mid-flight.
func (s *store) ListPlansByStatus(ctx context.Context, status PlanStatus) ([]*Plan, error) {
	rows, err := s.Exec.QueryContext(ctx, `
		SELECT id, owner_id, organization_id, goal, urgency, conversation_id, status, current_step_index, created_at, updated_at
		FROM plans
		WHERE status = $1
		ORDER BY created_at ASC`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans by status: %w", err)
	}
	defer rows.Close()

	var plans []*Plan
	for rows.Next() {
		var p Plan
		var conversationID sql.NullString
		var rowStatus, urgency string
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.OrganizationID, &p.Goal, &urgency, &conversationID, &rowStatus, &p.CurrentStepIndex, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		p.Status = PlanStatus(rowStatus)
		p.Urgency = Urgency(urgency)
		if conversationID.Valid {
			p.ConversationID = conversationID.String
		}
		plans = append(plans, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return plans, nil
}

func (s *store) DeletePlan(ctx context.Context, id string) error {
	result, err := s.Exec.ExecContext(ctx, `
		DELETE FROM plans
		WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete plan: %w", err)
	}
	return checkRowsAffected(result)
}

// UpdatePlanStatus transitions the plan status from one value to another.
// A mismatch on the expected current status returns ErrConflict.
func (s *store) UpdatePlanStatus(ctx context.Context, planID string, from, to PlanStatus) error {
	res, err := s.Exec.ExecContext(ctx, `
		UPDATE plans SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(to),
		time.Now().UTC(),
		planID,
		string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to update plan status: %w", err)
	}
	return s.checkPlanCAS(ctx, res, planID)
}

// AdvanceCursor moves current_step_index forward. The cursor only moves in
// one direction, so the expected value guards against concurrent drives.
func (s *store) AdvanceCursor(ctx context.Context, planID string, from, to int) error {
	if to < from {
		return fmt.Errorf("%w: cursor may not move backwards (%d -> %d)", ErrConflict, from, to)
	}
	res, err := s.Exec.ExecContext(ctx, `
		UPDATE plans SET current_step_index = $1, updated_at = $2 WHERE id = $3 AND current_step_index = $4`,
		to,
		time.Now().UTC(),
		planID,
		from,
	)
	if err != nil {
		return fmt.Errorf("failed to advance plan cursor: %w", err)
	}
	return s.checkPlanCAS(ctx, res, planID)
}

// CreatePlanSteps appends new steps.
func (s *store) CreatePlanSteps(ctx context.Context, steps ...*PlanStep) error {
	if len(steps) == 0 {
		return nil
	}

	valueStrings := make([]string, 0, len(steps))
	valueArgs := make([]any, 0, len(steps)*10)

	for i, step := range steps {
		if step.Status == "" {
			step.Status = StepStatusPending
		}
		actionSpec := string(step.ActionSpec)
		if actionSpec == "" {
			actionSpec = "{}"
		}

		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			i*10+1, i*10+2, i*10+3, i*10+4, i*10+5, i*10+6, i*10+7, i*10+8, i*10+9, i*10+10))
		valueArgs = append(valueArgs,
			step.ID,
			step.PlanID,
			step.Ordinal,
			step.Description,
			actionSpec,
			step.RequiresApproval,
			string(step.Status),
			step.RetryCount,
			step.MaxRetries,
			step.Result,
		)
	}

	stmt := fmt.Sprintf(`
		INSERT INTO plan_steps (id, plan_id, ordinal, description, action_spec, requires_approval, status, retry_count, max_retries, result)
		VALUES %s`,
		strings.Join(valueStrings, ","),
	)

	_, err := s.Exec.ExecContext(ctx, stmt, valueArgs...)
	if err != nil {
		return fmt.Errorf("failed to create plan steps: %w", err)
	}
	return nil
}

func (s *store) ListPlanSteps(ctx context.Context, planID string) ([]*PlanStep, error) {
	rows, err := s.Exec.QueryContext(ctx, `
		SELECT id, plan_id, ordinal, description, action_spec, requires_approval, status, result, error_kind, error_message, retry_count, max_retries, executed_at
		FROM plan_steps
		WHERE plan_id = $1
		ORDER BY ordinal ASC`,
		planID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query plan steps: %w", err)
	}
	defer rows.Close()

	var steps []*PlanStep
	for rows.Next() {
		step, err := scanStep(rows.Scan)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return steps, nil
}

func (s *store) GetStepByID(ctx context.Context, stepID string) (*PlanStep, error) {
	row := s.Exec.QueryRowContext(ctx, `
		SELECT id, plan_id, ordinal, description, action_spec, requires_approval, status, result, error_kind, error_message, retry_count, max_retries, executed_at
		FROM plan_steps
		WHERE id = $1`,
		stepID,
	)
	step, err := scanStep(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return step, nil
}

// UpdateStepStatus transitions a step from one status to another. A
// mismatch on the expected current status returns ErrConflict.
func (s *store) UpdateStepStatus(ctx context.Context, stepID string, from, to StepStatus) error {
	now := time.Now().UTC()
	res, err := s.Exec.ExecContext(ctx, `
		UPDATE plan_steps
		SET status = $1
		WHERE id = $2 AND status = $3`,
		string(to),
		stepID,
		string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to update step status: %w", err)
	}
	if err := s.checkStepCAS(ctx, res, stepID); err != nil {
		return err
	}
	if err := s.touchPlanByStepID(ctx, stepID, now); err != nil {
		return fmt.Errorf("failed to touch plan updated_at: %w", err)
	}
	return nil
}

// MarkStepWaitingApproval flags the step as gated and parks it for a human
// decision. Only a pending step can be parked.
func (s *store) MarkStepWaitingApproval(ctx context.Context, stepID string) error {
	now := time.Now().UTC()
	res, err := s.Exec.ExecContext(ctx, `
		UPDATE plan_steps
		SET status = $1, requires_approval = TRUE
		WHERE id = $2 AND status = $3`,
		string(StepStatusWaitingApproval),
		stepID,
		string(StepStatusPending),
	)
	if err != nil {
		return fmt.Errorf("failed to mark step waiting approval: %w", err)
	}
	if err := s.checkStepCAS(ctx, res, stepID); err != nil {
		return err
	}
	if err := s.touchPlanByStepID(ctx, stepID, now); err != nil {
		return fmt.Errorf("failed to touch plan updated_at: %w", err)
	}
	return nil
}

// SetStepOutcome writes a terminal outcome for a step that was running.
// Writing the same outcome twice is a no-op so a crash between the tool
// call and the status write stays safe to replay.
func (s *store) SetStepOutcome(ctx context.Context, stepID string, status StepStatus, result, errorKind, errorMessage string) error {
	now := time.Now().UTC()
	execAt := sql.NullTime{Time: now, Valid: true}

	res, err := s.Exec.ExecContext(ctx, `
		UPDATE plan_steps
		SET status = $1, result = $2, error_kind = $3, error_message = $4, executed_at = $5
		WHERE id = $6 AND status IN ($7, $1)`,
		string(status),
		result,
		errorKind,
		errorMessage,
		execAt,
		stepID,
		string(StepStatusRunning),
	)
	if err != nil {
		return fmt.Errorf("failed to set step outcome: %w", err)
	}
	if err := s.checkStepCAS(ctx, res, stepID); err != nil {
		return err
	}
	if err := s.touchPlanByStepID(ctx, stepID, now); err != nil {
		return fmt.Errorf("failed to touch plan updated_at: %w", err)
	}
	return nil
}

// IncrementStepRetry bumps the retry counter and returns the new value.
func (s *store) IncrementStepRetry(ctx context.Context, stepID string) (int, error) {
	res, err := s.Exec.ExecContext(ctx, `
		UPDATE plan_steps
		SET retry_count = retry_count + 1
		WHERE id = $1`,
		stepID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to increment step retry count: %w", err)
	}
	if err := checkRowsAffected(res); err != nil {
		return 0, err
	}

	var count int
	err = s.Exec.QueryRowContext(ctx, `SELECT retry_count FROM plan_steps WHERE id = $1`, stepID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to read step retry count: %w", err)
	}
	return count, nil
}

func (s *store) touchPlanByStepID(ctx context.Context, stepID string, now time.Time) error {
	_, err := s.Exec.ExecContext(ctx, `
		UPDATE plans
		SET updated_at = $1
		WHERE id = (SELECT plan_id FROM plan_steps WHERE id = $2)`,
		now,
		stepID,
	)
	return err
}

// checkPlanCAS resolves a zero-row compare-and-swap update into ErrNotFound
// or ErrConflict depending on whether the plan row exists at all.
func (s *store) checkPlanCAS(ctx context.Context, result sql.Result, planID string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}
	var exists int
	if err := s.Exec.QueryRowContext(ctx, `SELECT 1 FROM plans WHERE id = $1`, planID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to resolve plan update conflict: %w", err)
	}
	return ErrConflict
}

func (s *store) checkStepCAS(ctx context.Context, result sql.Result, stepID string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}
	var exists int
	if err := s.Exec.QueryRowContext(ctx, `SELECT 1 FROM plan_steps WHERE id = $1`, stepID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to resolve step update conflict: %w", err)
	}
	return ErrConflict
}

func scanStep(scan func(dest ...any) error) (*PlanStep, error) {
	var step PlanStep
	var status, actionSpec string
	var execAt sql.NullTime
	if err := scan(
		&step.ID,
		&step.PlanID,
		&step.Ordinal,
		&step.Description,
		&actionSpec,
		&step.RequiresApproval,
		&status,
		&step.Result,
		&step.ErrorKind,
		&step.ErrorMessage,
		&step.RetryCount,
		&step.MaxRetries,
		&execAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan plan step: %w", err)
	}
	step.Status = StepStatus(status)
	step.ActionSpec = []byte(actionSpec)
	if execAt.Valid {
		step.ExecutedAt = execAt.Time
	}
	return &step, nil
}

func checkRowsAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
