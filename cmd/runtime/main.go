package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/contenox/agentplan/apiframework"
	"github.com/contenox/agentplan/libauth"
	libbus "github.com/contenox/agentplan/libbus"
	libdb "github.com/contenox/agentplan/libdbexec"
	libkv "github.com/contenox/agentplan/libkvstore"
	libroutine "github.com/contenox/agentplan/libroutine"
	"github.com/contenox/agentplan/planner"
	"github.com/contenox/agentplan/planstore"
	"github.com/contenox/agentplan/serverapi"
	"github.com/contenox/agentplan/toolrunner"
	"github.com/google/uuid"
	ollama "github.com/ollama/ollama/api"
)

var (
	cliSetTenancy  string
	Tenancy        = "96ed1c59-ffc1-4545-b3c3-191079c68d79"
	nodeInstanceID = "NODE-Instance-UNSET-dev"
)

// Built-in tool scripts. Operators register richer tools over time; these
// cover the categories the default planner emits.
var builtinTools = map[string]string{
	"echo": `function echo(args, token) {
		return { echoed: args, idempotency_token: token };
	}`,
	"http_fetch": `function http_fetch(args, token) {
		if (!args.url) { throw "url is required"; }
		return { requested: args.url };
	}`,
}

func initDatabase(ctx context.Context, cfg *serverapi.Config) (libdb.DBManager, error) {
	dbURL := cfg.DatabaseURL
	var err error
	if dbURL == "" {
		err = fmt.Errorf("DATABASE_URL is required")
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	var dbInstance libdb.DBManager
	err = libroutine.NewRoutine(10, time.Minute).ExecuteWithRetry(ctx, time.Second, 3, func(ctx context.Context) error {
		dbInstance, err = libdb.NewPostgresDBManager(ctx, dbURL, planstore.Schema)
		if err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	return dbInstance, nil
}

func initPubSub(ctx context.Context, cfg *serverapi.Config) (libbus.Messenger, error) {
	if cfg.NATSURL == "" {
		return libbus.NewInMem(), nil
	}
	ps, err := libbus.NewPubSub(ctx, &libbus.Config{
		NATSURL:      cfg.NATSURL,
		NATSPassword: cfg.NATSPassword,
		NATSUser:     cfg.NATSUser,
	})
	if err != nil {
		return nil, err
	}
	return ps, nil
}

func initKVStore(cfg *serverapi.Config) (libkv.KVManager, error) {
	if cfg.KVAddr == "" {
		return libkv.NewInMem(), nil
	}
	return libkv.NewManager(libkv.Config{
		KVAddr:     cfg.KVAddr,
		KVPassword: cfg.KVPassword,
	}, 5*time.Second)
}

func initPlanner(cfg *serverapi.Config) (planner.Planner, error) {
	if cfg.PlannerBackend == "static" || cfg.OllamaBaseURL == "" {
		return &planner.StaticPlanner{}, nil
	}
	base, err := url.Parse(cfg.OllamaBaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ollama base url: %w", err)
	}
	model := cfg.PlannerModel
	if model == "" {
		model = "qwen3:4b"
	}
	client := ollama.NewClient(base, http.DefaultClient)
	return planner.NewOllamaPlanner(client, model, nil), nil
}

func main() {
	if cliSetTenancy == "" {
		log.Fatalf("corrupted build! cliSetTenantID was not injected")
	}

	nodeInstanceID = uuid.NewString()[0:8]
	Tenancy = cliSetTenancy
	config := &serverapi.Config{}
	if err := serverapi.LoadConfig(config); err != nil {
		log.Fatalf("%s: failed to load configuration: %v", nodeInstanceID, err)
	}
	ctx := context.TODO()
	cleanups := []func() error{func() error {
		fmt.Printf("%s cleaning up", nodeInstanceID)
		return nil
	}}
	defer func() {
		for _, cleanup := range cleanups {
			err := cleanup()
			if err != nil {
				log.Printf("%s cleanup failed: %v", nodeInstanceID, err)
			}
		}
	}()

	dbInstance, err := initDatabase(ctx, config)
	if err != nil {
		log.Fatalf("%s initializing database failed: %v", nodeInstanceID, err)
	}
	defer dbInstance.Close()

	ps, err := initPubSub(ctx, config)
	if err != nil {
		log.Fatalf("%s initializing PubSub failed: %v", nodeInstanceID, err)
	}
	defer ps.Close()

	kvManager, err := initKVStore(config)
	if err != nil {
		log.Fatalf("%s initializing KV store failed: %v", nodeInstanceID, err)
	}
	defer kvManager.Close()

	plannerImpl, err := initPlanner(config)
	if err != nil {
		log.Fatalf("%s initializing planner failed: %v", nodeInstanceID, err)
	}

	invoker := toolrunner.NewGojaInvoker(nil)
	for name, script := range builtinTools {
		if err := invoker.RegisterTool(name, script); err != nil {
			log.Fatalf("%s registering tool %q failed: %v", nodeInstanceID, name, err)
		}
	}

	internalMux := http.NewServeMux()
	var apiHandler http.Handler = internalMux
	cleanup, err := serverapi.New(ctx, internalMux, nodeInstanceID, Tenancy, config, dbInstance, ps, kvManager, plannerImpl, invoker)
	cleanups = append(cleanups, cleanup)
	if err != nil {
		log.Fatalf("%s initializing API handler failed: %v", nodeInstanceID, err)
	}
	apiHandler = libauth.Middleware(config.JWTSecret, apiHandler)
	apiHandler = apiframework.RequestIDMiddleware(apiHandler)
	apiHandler = apiframework.TracingMiddleware(apiHandler)

	mux := http.NewServeMux()
	mux.Handle("/", apiHandler)
	port := config.Port
	log.Printf("%s %s starting server on :%s", Tenancy, nodeInstanceID, port)
	if err := http.ListenAndServe(config.Addr+":"+port, mux); err != nil {
		log.Fatalf("%s server failed: %v", nodeInstanceID, err)
	}
}
