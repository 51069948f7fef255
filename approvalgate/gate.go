// Package approvalgate decides which steps need a human sign-off before
// they run, and validates the decisions humans submit. Classification is a
// pure function of the action spec and the configured policy, so replaying
// a step after a crash always yields the same verdict.
package approvalgate

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/PaesslerAG/jsonpath"
)

// ErrInvalidApprovalAction is returned for a decision token that is
// neither approve nor reject.
var ErrInvalidApprovalAction = errors.New("approvalgate: invalid approval action")

// Action is a validated human decision.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// ValidateDecision accepts the literal tokens approve/reject,
// case-insensitive. Anything else is invalid input, not a retryable error.
func ValidateDecision(raw string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approve":
		return ActionApprove, nil
	case "reject":
		return ActionReject, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidApprovalAction, raw)
	}
}

// Gate classifies steps as gated or ungated.
type Gate interface {
	Classify(actionSpec json.RawMessage) bool
}

// Rule gates action specs by a JSONPath match. When Equals is nil any
// non-empty match gates; otherwise the matched value must equal it.
type Rule struct {
	Path   string `yaml:"path" json:"path"`
	Equals any    `yaml:"equals,omitempty" json:"equals,omitempty"`
}

// Policy drives classification. Categories listed in GatedCategories are
// always gated regardless of planner hints; specs whose category is not
// in KnownCategories are gated too, unknown actions default to caution.
type Policy struct {
	GatedCategories []string `yaml:"gated_categories" json:"gated_categories"`
	KnownCategories []string `yaml:"known_categories" json:"known_categories"`
	Rules           []Rule   `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// PolicyGate is the production Gate implementation.
type PolicyGate struct {
	gated map[string]struct{}
	known map[string]struct{}
	rules []Rule
}

// NewPolicyGate builds a gate from a policy.
func NewPolicyGate(policy Policy) *PolicyGate {
	gated := make(map[string]struct{}, len(policy.GatedCategories))
	for _, c := range policy.GatedCategories {
		gated[c] = struct{}{}
	}
	known := make(map[string]struct{}, len(policy.KnownCategories))
	for _, c := range policy.KnownCategories {
		known[c] = struct{}{}
	}
	return &PolicyGate{gated: gated, known: known, rules: policy.Rules}
}

// Classify reports whether the action needs approval. Malformed specs and
// unknown categories are gated.
func (g *PolicyGate) Classify(actionSpec json.RawMessage) bool {
	var payload map[string]interface{}
	if err := json.Unmarshal(actionSpec, &payload); err != nil {
		return true
	}

	category, _ := payload["category"].(string)
	if category == "" {
		return true
	}
	if _, ok := g.gated[category]; ok {
		return true
	}
	if _, ok := g.known[category]; !ok {
		return true
	}

	for _, rule := range g.rules {
		if matchRule(payload, rule) {
			return true
		}
	}
	return false
}

// matchRule evaluates one JSONPath rule against the action payload.
func matchRule(payload map[string]interface{}, rule Rule) bool {
	expr := rule.Path
	if !strings.HasPrefix(expr, "$") {
		expr = "$." + expr
	}
	result, err := jsonpath.Get(expr, payload)
	if err != nil || result == nil {
		return false
	}
	// jsonpath.Get may return []interface{} if multiple matches
	if slice, ok := result.([]interface{}); ok {
		if len(slice) == 0 {
			return false
		}
		result = slice[0]
	}
	if rule.Equals == nil {
		return true
	}
	return reflect.DeepEqual(result, rule.Equals)
}

var _ Gate = (*PolicyGate)(nil)
