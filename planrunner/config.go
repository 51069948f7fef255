package planrunner

import (
	"fmt"
	"time"

	"dario.cat/mergo"
)

// Config tunes the drive loop. Zero fields fall back to defaults.
type Config struct {
	// MaxRetries bounds transient-failure re-attempts per step when the
	// step itself does not carry its own budget.
	MaxRetries int `json:"max_retries"`
	// BaseBackoff is the delay before the first retry; it doubles per
	// attempt up to MaxBackoff.
	BaseBackoff time.Duration `json:"base_backoff"`
	MaxBackoff  time.Duration `json:"max_backoff"`
	// ToolTimeout is the per-step execution budget for one tool call.
	// The approval wait is not subject to any timeout.
	ToolTimeout time.Duration `json:"tool_timeout"`
	// LeaseTTL bounds how long a crashed drive loop can block a plan.
	LeaseTTL time.Duration `json:"lease_ttl"`
	// IdempotencySecret keys the per-step idempotency token derivation.
	IdempotencySecret string `json:"idempotency_secret"`
}

// DefaultConfig returns the default drive loop tuning.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		BaseBackoff:       500 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
		ToolTimeout:       60 * time.Second,
		LeaseTTL:          2 * time.Minute,
		IdempotencySecret: "agentplan-dev-secret",
	}
}

// ApplyDefaults fills zero fields from DefaultConfig.
func (c *Config) ApplyDefaults() error {
	defaults := DefaultConfig()
	if err := mergo.Merge(c, defaults); err != nil {
		return fmt.Errorf("failed to apply runner config defaults: %w", err)
	}
	return nil
}

// backoffDelay returns the sleep before re-attempting a step whose retry
// counter has just reached attempt (1-based).
func (c Config) backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := c.BaseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	if delay > c.MaxBackoff {
		return c.MaxBackoff
	}
	return delay
}
