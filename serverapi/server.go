package serverapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/contenox/agentplan/apiframework"
	"github.com/contenox/agentplan/approvalgate"
	"github.com/contenox/agentplan/internal/planapi"
	libbus "github.com/contenox/agentplan/libbus"
	libdb "github.com/contenox/agentplan/libdbexec"
	libkv "github.com/contenox/agentplan/libkvstore"
	"github.com/contenox/agentplan/libroutine"
	"github.com/contenox/agentplan/libtracker"
	"github.com/contenox/agentplan/planner"
	"github.com/contenox/agentplan/planrunner"
	"github.com/contenox/agentplan/planservice"
	"github.com/contenox/agentplan/toolrunner"
)

func New(
	ctx context.Context,
	mux *http.ServeMux,
	nodeInstanceID string,
	tenancy string,
	config *Config,
	dbInstance libdb.DBManager,
	pubsub libbus.Messenger,
	kvManager libkv.KVManager,
	plannerImpl planner.Planner,
	invoker toolrunner.Invoker,
) (func() error, error) {
	cleanup := func() error { return nil }

	kvTracker := libtracker.NewKVActivityTracker(kvManager)
	stdOuttracker := libtracker.NewLogActivityTracker(slog.Default())
	serveropsChainedTracker := libtracker.ChainedTracker{
		kvTracker,
		stdOuttracker,
	}

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		apiframework.Error(w, r, apiframework.ErrNotFound, apiframework.ListOperation)
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		// OK
	})
	version := apiframework.GetVersion()
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		apiframework.Encode(w, r, http.StatusOK, apiframework.AboutServer{Version: version, NodeInstanceID: nodeInstanceID, Tenancy: tenancy})
	})

	policy := approvalgate.DefaultPolicy()
	if config.ApprovalPolicyPath != "" {
		var err error
		policy, err = approvalgate.LoadPolicy(config.ApprovalPolicyPath)
		if err != nil {
			return cleanup, fmt.Errorf("failed to load approval policy: %w", err)
		}
	}
	gate := approvalgate.NewPolicyGate(policy)

	runnerCfg := planrunner.Config{
		IdempotencySecret: config.IdempotencySecret,
	}
	if err := runnerCfg.ApplyDefaults(); err != nil {
		return cleanup, fmt.Errorf("failed to apply runner defaults: %w", err)
	}
	runner, err := planrunner.New(dbInstance, gate, invoker, kvManager, pubsub, serveropsChainedTracker, runnerCfg)
	if err != nil {
		return cleanup, fmt.Errorf("failed to initialize plan runner: %w", err)
	}

	planService := planservice.New(dbInstance, plannerImpl, runner, pubsub, runnerCfg.MaxRetries)
	planService = planservice.WithActivityTracker(planService, serveropsChainedTracker)
	planapi.AddPlanRoutes(mux, planService)

	mux.HandleFunc("GET /activity", func(w http.ResponseWriter, r *http.Request) {
		events, err := kvTracker.GetRecentEvents(r.Context(), 100)
		if err != nil {
			apiframework.Error(w, r, err, apiframework.ListOperation)
			return
		}
		apiframework.Encode(w, r, http.StatusOK, events)
	})
	mux.HandleFunc("GET /activity/requests/{id}", func(w http.ResponseWriter, r *http.Request) {
		events, err := kvTracker.GetEventsForRequest(r.Context(), r.PathValue("id"))
		if err != nil {
			apiframework.Error(w, r, err, apiframework.GetOperation)
			return
		}
		apiframework.Encode(w, r, http.StatusOK, events)
	})

	// Get circuit breaker group instance
	group := libroutine.GetGroup()

	// Periodically pick up plans left in running after a crash or restart
	// and drive them to their next suspension point.
	group.StartLoop(
		ctx,
		&libroutine.LoopConfig{
			Key:          "planResumeCycle",
			Threshold:    3,
			ResetTimeout: 10 * time.Second,
			Interval:     30 * time.Second,
			Operation:    runner.ResumeOrphans,
		},
	)

	// Status events force an immediate resume pass instead of waiting for
	// the next tick.
	statusCh := make(chan []byte, 10)
	sub, err := pubsub.Stream(ctx, planrunner.StatusEventSubject, statusCh)
	if err != nil {
		log.Fatalf("failed to subscribe to plan status events: %v", err)
	}
	go func() {
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-statusCh:
				if !ok {
					return
				}
				group.ForceUpdate("planResumeCycle")
			}
		}
	}()

	return cleanup, nil
}

type Config struct {
	DatabaseURL        string `json:"database_url"`
	Port               string `json:"port"`
	Addr               string `json:"addr"`
	NATSURL            string `json:"nats_url"`
	NATSUser           string `json:"nats_user"`
	NATSPassword       string `json:"nats_password"`
	KVAddr             string `json:"kv_addr"`
	KVPassword         string `json:"kv_password"`
	OllamaBaseURL      string `json:"ollama_base_url"`
	PlannerModel       string `json:"planner_model"`
	PlannerBackend     string `json:"planner_backend"`
	ApprovalPolicyPath string `json:"approval_policy_path"`
	IdempotencySecret  string `json:"idempotency_secret"`
	JWTSecret          string `json:"jwt_secret"`
	Token              string `json:"token"`
}

func LoadConfig[T any](cfg *T) error {
	if cfg == nil {
		return fmt.Errorf("config pointer is nil")
	}
	config := map[string]string{}
	for _, kvPair := range os.Environ() {
		ar := strings.SplitN(kvPair, "=", 2)
		if len(ar) < 2 {
			continue
		}
		key := strings.ToLower(ar[0])
		value := ar[1]
		config[key] = value
	}

	b, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal env vars: %w", err)
	}
	err = json.Unmarshal(b, cfg)
	if err != nil {
		return fmt.Errorf("failed to unmarshal into config struct: %w", err)
	}

	return nil
}
