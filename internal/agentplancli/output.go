// output.go holds CLI output helpers.
package agentplancli

import (
	"fmt"

	"github.com/contenox/agentplan/planservice"
	"github.com/contenox/agentplan/planstore"
)

// truncate shortens s to max runes, appending an ellipsis when cut.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

// stepMarker renders a one-glyph status column for a step.
func stepMarker(status planstore.StepStatus) string {
	switch status {
	case planstore.StepStatusCompleted:
		return "[x]"
	case planstore.StepStatusFailed, planstore.StepStatusRejected:
		return "[-]"
	case planstore.StepStatusWaitingApproval:
		return "[?]"
	case planstore.StepStatusRunning, planstore.StepStatusApproved:
		return "[>]"
	default:
		return "[ ]"
	}
}

func printPlan(plan *planservice.PlanWithSteps) {
	completed := 0
	for _, s := range plan.Steps {
		if s.Status == planstore.StepStatusCompleted {
			completed++
		}
	}
	fmt.Printf("Plan %s — %s — %d/%d complete\n", plan.ID, plan.Status, completed, len(plan.Steps))
	fmt.Printf("Goal: %s\n", plan.Goal)
	for _, s := range plan.Steps {
		fmt.Printf("%d. %s %s\n", s.Ordinal, stepMarker(s.Status), s.Description)
		if s.ErrorMessage != "" {
			fmt.Printf("     error (%s): %s\n", s.ErrorKind, s.ErrorMessage)
		}
	}
}
