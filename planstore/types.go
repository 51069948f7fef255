package planstore

import (
	"context"
	"encoding/json"
	"time"
)

// PlanStatus represents the current state of a plan.
type PlanStatus string

const (
	PlanStatusPending   PlanStatus = "pending"
	PlanStatusRunning   PlanStatus = "running"
	PlanStatusPaused    PlanStatus = "paused"
	PlanStatusCompleted PlanStatus = "completed"
	PlanStatusFailed    PlanStatus = "failed"
	PlanStatusCancelled PlanStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s PlanStatus) IsTerminal() bool {
	switch s {
	case PlanStatusCompleted, PlanStatusFailed, PlanStatusCancelled:
		return true
	}
	return false
}

// StepStatus represents the current state of a plan step.
type StepStatus string

const (
	StepStatusPending         StepStatus = "pending"
	StepStatusWaitingApproval StepStatus = "waiting_approval"
	StepStatusApproved        StepStatus = "approved"
	StepStatusRejected        StepStatus = "rejected"
	StepStatusRunning         StepStatus = "running"
	StepStatusCompleted       StepStatus = "completed"
	StepStatusFailed          StepStatus = "failed"
)

// IsTerminal reports whether a step may never leave this status again.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusCompleted, StepStatusFailed, StepStatusRejected:
		return true
	}
	return false
}

// Urgency is a planner hint carried on the plan. The executor never
// interprets it beyond passing it through.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

// Plan maps to the plans table.
type Plan struct {
	ID               string     `json:"id"`
	OwnerID          string     `json:"owner_id"`
	OrganizationID   string     `json:"organization_id"`
	Goal             string     `json:"goal"`
	Urgency          Urgency    `json:"urgency"`
	ConversationID   string     `json:"conversation_id,omitempty"`
	Status           PlanStatus `json:"status"`
	CurrentStepIndex int        `json:"current_step_index"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// PlanStep maps to the plan_steps table. Ordinal fixes execution order at
// planning time; it never changes afterwards.
type PlanStep struct {
	ID               string          `json:"id"`
	PlanID           string          `json:"plan_id"`
	Ordinal          int             `json:"ordinal"`
	Description      string          `json:"description"`
	ActionSpec       json.RawMessage `json:"action_spec"`
	RequiresApproval bool            `json:"requires_approval"`
	Status           StepStatus      `json:"status"`
	Result           string          `json:"result,omitempty"`
	ErrorKind        string          `json:"error_kind,omitempty"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	RetryCount       int             `json:"retry_count"`
	MaxRetries       int             `json:"max_retries"`
	ExecutedAt       time.Time       `json:"executed_at"` // Zero time if not executed
}

// Store defines the data access interface for plans and steps. Status and
// cursor writes are compare-and-swap against the expected previous value;
// a lost race surfaces as ErrConflict.
type Store interface {
	// Plan operations
	CreatePlan(ctx context.Context, plan *Plan) error
	GetPlanByID(ctx context.Context, id string) (*Plan, error)
	ListPlans(ctx context.Context, ownerID string, status PlanStatus) ([]*Plan, error)
	ListPlansByStatus(ctx context.Context, status PlanStatus) ([]*Plan, error)
	DeletePlan(ctx context.Context, id string) error
	UpdatePlanStatus(ctx context.Context, planID string, from, to PlanStatus) error
	AdvanceCursor(ctx context.Context, planID string, from, to int) error

	// Step operations
	CreatePlanSteps(ctx context.Context, steps ...*PlanStep) error
	ListPlanSteps(ctx context.Context, planID string) ([]*PlanStep, error)
	GetStepByID(ctx context.Context, stepID string) (*PlanStep, error)
	UpdateStepStatus(ctx context.Context, stepID string, from, to StepStatus) error
	MarkStepWaitingApproval(ctx context.Context, stepID string) error
	SetStepOutcome(ctx context.Context, stepID string, status StepStatus, result, errorKind, errorMessage string) error
	IncrementStepRetry(ctx context.Context, stepID string) (int, error)
}
