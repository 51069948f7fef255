package planstore

import (
	"context"
	"strings"

	"github.com/contenox/agentplan/libdbexec"
)

// Schema is the Postgres DDL for plans and steps.
const Schema = `
	CREATE TABLE IF NOT EXISTS plans (
	    id TEXT PRIMARY KEY,
	    owner_id TEXT NOT NULL,
	    organization_id TEXT NOT NULL,
	    goal TEXT NOT NULL,
	    urgency TEXT NOT NULL DEFAULT 'normal',
	    conversation_id TEXT,
	    status TEXT NOT NULL,
	    current_step_index INTEGER NOT NULL DEFAULT 0,
	    created_at TIMESTAMP WITH TIME ZONE NOT NULL,
	    updated_at TIMESTAMP WITH TIME ZONE NOT NULL
	);
	CREATE TABLE IF NOT EXISTS plan_steps (
	    id TEXT PRIMARY KEY,
	    plan_id TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
	    ordinal INTEGER NOT NULL,
	    description TEXT NOT NULL,
	    action_spec TEXT NOT NULL,
	    requires_approval BOOLEAN NOT NULL DEFAULT FALSE,
	    status TEXT NOT NULL,
	    result TEXT NOT NULL DEFAULT '',
	    error_kind TEXT NOT NULL DEFAULT '',
	    error_message TEXT NOT NULL DEFAULT '',
	    retry_count INTEGER NOT NULL DEFAULT 0,
	    max_retries INTEGER NOT NULL DEFAULT 3,
	    executed_at TIMESTAMP WITH TIME ZONE,
	    UNIQUE (plan_id, ordinal)
	);
	CREATE INDEX IF NOT EXISTS idx_plans_owner_created_at ON plans(owner_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_plans_status ON plans(status);
	CREATE INDEX IF NOT EXISTS idx_plan_steps_plan_ordinal ON plan_steps(plan_id, ordinal);
`

// SchemaSQLite mirrors Schema for the local single-process mode.
// SQLite accepts the Postgres DDL thanks to its loose type affinity, but the
// modernc.org/sqlite driver only decodes time.Time for columns declared
// exactly DATE, DATETIME, or TIMESTAMP, so the Postgres-only qualifier is
// stripped here.
var SchemaSQLite = strings.ReplaceAll(Schema, " WITH TIME ZONE", "")

// InitSchema creates the plans and plan_steps tables.
func InitSchema(ctx context.Context, exec libdbexec.Exec) error {
	_, err := exec.ExecContext(ctx, Schema)
	return err
}
