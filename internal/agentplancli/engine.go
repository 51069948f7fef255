// engine.go wires the local execution stack: SQLite, in-memory bus and KV,
// the planner, the tool invoker, and the plan service.
package agentplancli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/contenox/agentplan/approvalgate"
	libbus "github.com/contenox/agentplan/libbus"
	libdb "github.com/contenox/agentplan/libdbexec"
	libkv "github.com/contenox/agentplan/libkvstore"
	"github.com/contenox/agentplan/libtracker"
	"github.com/contenox/agentplan/planner"
	"github.com/contenox/agentplan/planrunner"
	"github.com/contenox/agentplan/planservice"
	"github.com/contenox/agentplan/planstore"
	"github.com/contenox/agentplan/toolrunner"
	ollama "github.com/ollama/ollama/api"
	"github.com/spf13/cobra"
)

// Built-in tool scripts for the local stack. Real deployments register
// their own tools against the server runtime.
var builtinTools = map[string]string{
	"echo": `function echo(args, token) {
		return { echoed: args, idempotency_token: token };
	}`,
}

type localEngine struct {
	DB      libdb.DBManager
	Bus     libbus.Messenger
	KV      libkv.KVManager
	Service planservice.Service
	Runner  *planrunner.Runner
	Actor   string
}

func (e *localEngine) Close() {
	_ = e.KV.Close()
	_ = e.Bus.Close()
	_ = e.DB.Close()
}

// buildEngine opens (or creates) the local database and assembles the
// planning stack from the merged settings.
func buildEngine(cmd *cobra.Command) (context.Context, *localEngine, error) {
	s, err := resolveSettings(cmd.Root().PersistentFlags())
	if err != nil {
		return nil, nil, err
	}

	ctx := libtracker.WithNewRequestID(context.Background())

	dbPathAbs, err := filepath.Abs(s.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid database path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPathAbs), 0750); err != nil {
		return nil, nil, fmt.Errorf("cannot create database directory: %w", err)
	}
	db, err := libdb.NewSQLiteDBManager(ctx, dbPathAbs, planstore.SchemaSQLite)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	bus := libbus.NewInMem()
	kv := libkv.NewInMem()

	var tracker libtracker.ActivityTracker
	if s.Tracing {
		tracker = libtracker.NewLogActivityTracker(slog.Default())
	} else {
		tracker = libtracker.NoopTracker{}
	}

	policy := approvalgate.DefaultPolicy()
	if s.PolicyPath != "" {
		policy, err = approvalgate.LoadPolicy(s.PolicyPath)
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to load approval policy: %w", err)
		}
	}
	gate := approvalgate.NewPolicyGate(policy)

	invoker := toolrunner.NewGojaInvoker(tracker)
	for name, script := range builtinTools {
		if err := invoker.RegisterTool(name, script); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to register tool %q: %w", name, err)
		}
	}

	var plannerImpl planner.Planner
	if s.Planner == "static" {
		plannerImpl = &planner.StaticPlanner{}
	} else {
		base, err := url.Parse(s.Ollama)
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("invalid ollama base url: %w", err)
		}
		client := ollama.NewClient(base, http.DefaultClient)
		plannerImpl = planner.NewOllamaPlanner(client, s.Model, tracker)
	}

	cfg := planrunner.DefaultConfig()
	runner, err := planrunner.New(db, gate, invoker, kv, bus, tracker, cfg)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to build runner: %w", err)
	}

	svc := planservice.New(db, plannerImpl, runner, bus, cfg.MaxRetries)
	svc = planservice.WithActivityTracker(svc, tracker)

	return ctx, &localEngine{
		DB:      db,
		Bus:     bus,
		KV:      kv,
		Service: svc,
		Runner:  runner,
		Actor:   s.Actor,
	}, nil
}
