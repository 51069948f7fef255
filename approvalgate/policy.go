package approvalgate

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultPolicy gates everything that reaches outside the system or
// destroys data. Read-only and pure-transform categories run unattended.
func DefaultPolicy() Policy {
	return Policy{
		GatedCategories: []string{
			"send_communication",
			"move_money",
			"delete_data",
		},
		KnownCategories: []string{
			"read_data",
			"transform_data",
			"send_communication",
			"move_money",
			"delete_data",
			"external_call",
		},
	}
}

// LoadPolicy reads a YAML policy file. Fields left empty in the file fall
// back to the default policy so a partial override stays safe.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read approval policy: %w", err)
	}
	var policy Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, fmt.Errorf("failed to parse approval policy: %w", err)
	}
	defaults := DefaultPolicy()
	if len(policy.GatedCategories) == 0 {
		policy.GatedCategories = defaults.GatedCategories
	}
	if len(policy.KnownCategories) == 0 {
		policy.KnownCategories = defaults.KnownCategories
	}
	return policy, nil
}
