// Agentplan CLI: plan and approve autonomous task execution locally with
// SQLite and an in-memory bus. No Postgres, no NATS required.
package main

import "github.com/contenox/agentplan/internal/agentplancli"

func main() {
	agentplancli.Main()
}
