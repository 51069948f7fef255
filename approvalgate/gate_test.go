package approvalgate_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/contenox/agentplan/approvalgate"
	"github.com/stretchr/testify/require"
)

func TestUnit_ValidateDecision(t *testing.T) {
	cases := []struct {
		raw     string
		want    approvalgate.Action
		wantErr bool
	}{
		{"approve", approvalgate.ActionApprove, false},
		{"APPROVE", approvalgate.ActionApprove, false},
		{"  Reject ", approvalgate.ActionReject, false},
		{"yes", "", true},
		{"", "", true},
		{"approved", "", true},
	}
	for _, tc := range cases {
		action, err := approvalgate.ValidateDecision(tc.raw)
		if tc.wantErr {
			require.ErrorIs(t, err, approvalgate.ErrInvalidApprovalAction, "raw=%q", tc.raw)
			continue
		}
		require.NoError(t, err, "raw=%q", tc.raw)
		require.Equal(t, tc.want, action)
	}
}

func TestUnit_ClassifyCategories(t *testing.T) {
	gate := approvalgate.NewPolicyGate(approvalgate.DefaultPolicy())

	t.Run("read is ungated", func(t *testing.T) {
		require.False(t, gate.Classify(json.RawMessage(`{"category":"read_data","tool":"lookup"}`)))
	})

	t.Run("communication is always gated", func(t *testing.T) {
		require.True(t, gate.Classify(json.RawMessage(`{"category":"send_communication","tool":"email"}`)))
	})

	t.Run("unknown category is gated", func(t *testing.T) {
		require.True(t, gate.Classify(json.RawMessage(`{"category":"launch_rockets"}`)))
	})

	t.Run("missing category is gated", func(t *testing.T) {
		require.True(t, gate.Classify(json.RawMessage(`{"tool":"email"}`)))
	})

	t.Run("malformed spec is gated", func(t *testing.T) {
		require.True(t, gate.Classify(json.RawMessage(`not json`)))
	})

	t.Run("classification is deterministic", func(t *testing.T) {
		spec := json.RawMessage(`{"category":"transform_data"}`)
		first := gate.Classify(spec)
		for i := 0; i < 10; i++ {
			require.Equal(t, first, gate.Classify(spec))
		}
	})
}

func TestUnit_ClassifyRules(t *testing.T) {
	policy := approvalgate.DefaultPolicy()
	policy.Rules = []approvalgate.Rule{
		{Path: "args.destructive", Equals: true},
		{Path: "args.recipient"},
	}
	gate := approvalgate.NewPolicyGate(policy)

	require.True(t, gate.Classify(json.RawMessage(`{"category":"transform_data","args":{"destructive":true}}`)))
	require.False(t, gate.Classify(json.RawMessage(`{"category":"transform_data","args":{"destructive":false}}`)))
	require.True(t, gate.Classify(json.RawMessage(`{"category":"read_data","args":{"recipient":"jane@example.com"}}`)))
}

func TestUnit_LoadPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
gated_categories:
  - external_call
rules:
  - path: args.amount
`), 0o644))

	policy, err := approvalgate.LoadPolicy(path)
	require.NoError(t, err)
	require.Equal(t, []string{"external_call"}, policy.GatedCategories)
	// Known categories fall back to the defaults.
	require.Contains(t, policy.KnownCategories, "read_data")
	require.Len(t, policy.Rules, 1)

	_, err = approvalgate.LoadPolicy(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}
