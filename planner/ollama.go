package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/contenox/agentplan/libtracker"
	"github.com/contenox/agentplan/planstore"
	"github.com/ollama/ollama/api"
)

const decomposeSystemInstruction = `You are a planning assistant. Decompose the user's goal into a short ordered list of concrete steps.
Respond with JSON only, matching this shape:
{"steps":[{"description":"...","action_spec":{"category":"...","tool":"...","args":{}},"requires_approval_hint":false}]}
Valid categories: read_data, transform_data, send_communication, move_money, delete_data, external_call.
Do not add commentary outside the JSON.`

// OllamaPlanner asks a local LLM to decompose goals into steps.
type OllamaPlanner struct {
	ollamaClient *api.Client
	modelName    string
	tracker      libtracker.ActivityTracker
}

// NewOllamaPlanner wires an ollama API client as the planner backend.
func NewOllamaPlanner(client *api.Client, modelName string, tracker libtracker.ActivityTracker) *OllamaPlanner {
	if tracker == nil {
		tracker = libtracker.NoopTracker{}
	}
	return &OllamaPlanner{
		ollamaClient: client,
		modelName:    modelName,
		tracker:      tracker,
	}
}

func (p *OllamaPlanner) Decompose(ctx context.Context, goal, stepsHint string, urgency planstore.Urgency) ([]PlannedStep, error) {
	reportErr, reportChange, end := p.tracker.Start(ctx, "decompose", "planner", "model", p.modelName)
	defer end()

	prompt := fmt.Sprintf("Goal: %s\nUrgency: %s", goal, urgency)
	if stepsHint != "" {
		prompt += fmt.Sprintf("\nHints from the caller:\n%s", stepsHint)
	}

	content, err := p.generate(ctx, prompt)
	if err != nil {
		reportErr(err)
		return nil, fmt.Errorf("%w: %s", ErrPlanningFailed, err.Error())
	}

	steps, err := parsePlanJSON(content)
	if err != nil {
		reportErr(err)
		return nil, err
	}

	reportChange("plan_decomposed", map[string]any{
		"step_count": len(steps),
	})
	return steps, nil
}

func (p *OllamaPlanner) generate(ctx context.Context, prompt string) (string, error) {
	stream := false
	think := api.ThinkValue{
		Value: false,
	}
	req := &api.GenerateRequest{
		Model:  p.modelName,
		Prompt: prompt,
		System: decomposeSystemInstruction,
		Stream: &stream,
		Options: map[string]any{
			"temperature": 0.1,
		},
		Think: &think,
	}

	var (
		content       string
		finalResponse api.GenerateResponse
	)

	err := p.ollamaClient.Generate(ctx, req, func(gr api.GenerateResponse) error {
		content += gr.Response
		if gr.Done {
			finalResponse = gr
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama generate API call failed for model %s: %w", p.modelName, err)
	}

	if !finalResponse.Done {
		return "", fmt.Errorf("no completion received from ollama for model %s", p.modelName)
	}

	switch finalResponse.DoneReason {
	case "error":
		return "", fmt.Errorf("ollama generation error for model %s: %s", p.modelName, content)
	case "length":
		return "", fmt.Errorf("token limit reached for model %s (partial response: %q)", p.modelName, content)
	case "stop":
		if content == "" {
			return "", fmt.Errorf("empty content from model %s despite normal completion", p.modelName)
		}
	default:
		return "", fmt.Errorf("unexpected completion reason %q for model %s", finalResponse.DoneReason, p.modelName)
	}

	return content, nil
}

// parsePlanJSON extracts steps from the model output, tolerating markdown
// code fences around the JSON.
func parsePlanJSON(content string) ([]PlannedStep, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json\n")
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```\n")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "\n```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var planJSON struct {
		Steps []PlannedStep `json:"steps"`
	}
	if err := json.Unmarshal([]byte(content), &planJSON); err != nil {
		return nil, fmt.Errorf("%w: failed to parse planner output: %s", ErrPlanningFailed, err.Error())
	}
	if len(planJSON.Steps) == 0 {
		return nil, fmt.Errorf("%w: planner returned zero steps", ErrPlanningFailed)
	}
	for i := range planJSON.Steps {
		if len(planJSON.Steps[i].ActionSpec) == 0 {
			planJSON.Steps[i].ActionSpec = json.RawMessage(`{}`)
		}
	}
	return planJSON.Steps, nil
}

var _ Planner = (*OllamaPlanner)(nil)
