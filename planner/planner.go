// Package planner decomposes a free-text goal into an ordered list of
// executable steps. Implementations only propose steps; whether a step
// needs human approval is decided elsewhere, the hint here is advisory.
package planner

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/contenox/agentplan/planstore"
)

// ErrPlanningFailed is returned when a planner produced no usable steps.
var ErrPlanningFailed = errors.New("planner: planning failed")

// PlannedStep is one proposed step. ActionSpec is the opaque payload later
// handed to the tool invoker; by convention it carries a "category" field
// used for approval classification.
type PlannedStep struct {
	Description          string          `json:"description"`
	ActionSpec           json.RawMessage `json:"action_spec"`
	RequiresApprovalHint bool            `json:"requires_approval_hint"`
}

// Planner turns a goal into ordered steps. It must return at least one
// step or an error wrapping ErrPlanningFailed.
type Planner interface {
	Decompose(ctx context.Context, goal, stepsHint string, urgency planstore.Urgency) ([]PlannedStep, error)
}
