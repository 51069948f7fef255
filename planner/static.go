package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/contenox/agentplan/planstore"
)

// StaticPlanner derives steps without a model: one step per non-empty line
// of the hint, or a single echo step for the bare goal. Used by the local
// CLI mode and by tests that need deterministic plans.
type StaticPlanner struct {
	// DefaultCategory is stamped into generated action specs. Empty means
	// "read_data".
	DefaultCategory string
}

func (p *StaticPlanner) Decompose(ctx context.Context, goal, stepsHint string, urgency planstore.Urgency) ([]PlannedStep, error) {
	if strings.TrimSpace(goal) == "" {
		return nil, fmt.Errorf("%w: goal is empty", ErrPlanningFailed)
	}
	category := p.DefaultCategory
	if category == "" {
		category = "read_data"
	}

	descriptions := []string{}
	for _, line := range strings.Split(stepsHint, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			descriptions = append(descriptions, line)
		}
	}
	if len(descriptions) == 0 {
		descriptions = []string{goal}
	}

	steps := make([]PlannedStep, 0, len(descriptions))
	for _, desc := range descriptions {
		spec, err := json.Marshal(map[string]any{
			"category": category,
			"tool":     "echo",
			"args":     map[string]any{"text": desc},
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrPlanningFailed, err.Error())
		}
		steps = append(steps, PlannedStep{
			Description: desc,
			ActionSpec:  spec,
		})
	}
	return steps, nil
}

var _ Planner = (*StaticPlanner)(nil)
