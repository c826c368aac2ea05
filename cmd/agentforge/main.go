// Command agentforge runs the multi-agent code-generation gateway:
// HTTP/SSE surface, orchestrator, event store, and model registry
// wired against a local model server. The CLI launcher itself is out
// of core scope (spec.md §1); this binary reads its configuration from
// environment variables via core.NewConfig and otherwise just wires
// the packages together the way a deployment would.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/forgemind/agentforge/agent"
	"github.com/forgemind/agentforge/core"
	"github.com/forgemind/agentforge/eventstore"
	"github.com/forgemind/agentforge/gateway"
	"github.com/forgemind/agentforge/llm"
	"github.com/forgemind/agentforge/modelregistry"
	"github.com/forgemind/agentforge/orchestrator"
	"github.com/forgemind/agentforge/pool"
	"github.com/forgemind/agentforge/reasoning"
	"github.com/forgemind/agentforge/resilience"
	"github.com/forgemind/agentforge/telemetry"
)

// Exit codes match spec.md §9's process contract: 0 clean shutdown, 1
// HTTP listener failure, 2 a required dependency (model server pool,
// model registry) could not be constructed at startup.
const (
	exitOK = iota
	exitListenerFailed
	exitDependencyMissing
)

func main() {
	cfg, err := core.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentforge: configuration error: %v\n", err)
		os.Exit(exitDependencyMissing)
	}
	logger := cfg.Logger()

	if err := telemetry.Initialize(telemetry.Config{ServiceName: cfg.ServiceName, SampleRatio: 1.0}); err != nil {
		logger.Warn("telemetry init failed, continuing without it", map[string]interface{}{"error": err.Error()})
	}

	p, err := pool.New(pool.Config{
		BaseURL:        cfg.ModelServerURL,
		MaxConcurrency: cfg.PoolMaxConcurrency,
		RequestTimeout: cfg.PoolRequestTimeout,
		Logger:         logger,
	})
	if err != nil {
		logger.Error("failed to build model server pool", map[string]interface{}{"error": err.Error()})
		os.Exit(exitDependencyMissing)
	}

	llmClient := llm.New(p, logger, resilience.DefaultBackoffPolicy())

	registry, err := modelregistry.New(p, logger, resilience.DefaultBackoffPolicy(), "")
	if err != nil {
		logger.Error("failed to build model registry", map[string]interface{}{"error": err.Error()})
		os.Exit(exitDependencyMissing)
	}

	// A failed startup refresh is not fatal: the model server may still
	// be warming up, and /health already reports "degraded" until the
	// registry's first successful refresh (gateway/handlers.go).
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := registry.Refresh(startupCtx); err != nil {
		logger.Warn("startup model registry refresh failed", map[string]interface{}{"error": err.Error()})
	}
	startupCancel()

	router := modelregistry.NewRouter(registry, modelregistry.RouterConfig{Budget: modelregistry.DefaultHardwareBudget()})

	reasoningCfg := reasoning.DefaultConfig()
	reasoningCfg.ChunkSize = cfg.ReasoningChunkSize
	reasoningCfg.DebounceMS = cfg.ReasoningDebounceMS
	reasoningCfg.MaxThinkingTimeMS = cfg.MaxThinkingTimeMS

	store := eventstore.New(eventstore.Limits{
		MaxSessions:     cfg.EventStoreMaxSessions,
		EventTTL:        cfg.EventStoreTTL,
		CleanupInterval: cfg.EventStoreCleanupInterval,
	}, logger)

	// cfg.RedisURL is not used to build an eventstore.RedisStore here
	// (see eventstore/redis_store.go): this single-process binary always
	// runs the in-memory Store since gateway.Server depends on its
	// concrete type, and logs the choice so a RedisStore-backed build
	// isn't silently assumed in ops.
	if cfg.RedisURL != "" {
		logger.Info("redis url configured but unused by this binary", map[string]interface{}{
			"reason": "gateway.Server depends on eventstore.Store's concrete type; RedisStore is wired and tested at the package level for multi-replica deployments",
		})
	}

	stopSweep := startEventSweep(store, cfg.EventStoreCleanupInterval, logger)
	defer stopSweep()

	metrics := telemetry.NewStageMetricsTracker(cfg.OutputDir)
	agentFactory := orchestrator.DefaultFactory(llmClient, router, reasoningCfg, logger)

	newOrch := func(ocfg orchestrator.Config) gateway.Runner {
		return orchestrator.New(store, agentFactory, orchestrator.NoOpValidator, metrics, ocfg, logger)
	}

	server := gateway.New(
		store, registry, p,
		buildStages,
		newOrch,
		orchestrator.Config{QualityThreshold: cfg.QualityThreshold, MaxRetries: cfg.MaxRetries},
		gateway.Config{OutputDir: cfg.OutputDir},
		logger,
	)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: server.Handler(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("agentforge listening", map[string]interface{}{"port": cfg.Port})
		serveErr <- httpServer.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("http listener failed", map[string]interface{}{"error": err.Error()})
			os.Exit(exitListenerFailed)
		}
	case sig := <-sigChan:
		logger.Info("shutdown signal received", map[string]interface{}{"signal": sig.String()})

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout+15*time.Second)
		defer cancel()

		shutdownCfg := gateway.DefaultShutdownConfig()
		shutdownCfg.DrainTimeout = cfg.DrainTimeout
		server.Shutdown(shutdownCtx, shutdownCfg)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown did not complete cleanly", map[string]interface{}{"error": err.Error()})
		}
	}

	os.Exit(exitOK)
}

// startEventSweep periodically prunes expired session logs, mirroring
// the teacher's own heartbeat-goroutine shape (core/discovery.go's
// StartHeartbeat) for a background maintenance loop that runs until
// the returned stop function is called.
func startEventSweep(store *eventstore.Store, interval time.Duration, logger core.Logger) func() {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				store.CleanupAllOldEvents()
				logger.Debug("event sweep completed", nil)
			}
		}
	}()
	return func() { close(stop) }
}

// buildStages assembles the fixed planner/tester/coder lineup for one
// request. Mode only changes the coder stage's target complexity and
// whether the planner's greeting fast-path is armed (spec.md §9).
func buildStages(req gateway.TaskRequest) orchestrator.StageSet {
	complexity := modelregistry.ComplexityMedium
	if req.Mode == gateway.ModeChat {
		complexity = modelregistry.ComplexitySimple
	}

	planner := agent.Stage{
		Name:          "planner",
		TaskType:      modelregistry.TaskPlanning,
		Complexity:    modelregistry.ComplexitySimple,
		PromptBuilder: agent.PromptBuilderFunc(plannerPrompt),
		Options:       agent.GenOptions{Temperature: 0.4},
	}
	if req.Mode != gateway.ModeCode {
		planner.IsTrivial = isGreeting
	}

	tester := agent.Stage{
		Name:          "tester",
		TaskType:      modelregistry.TaskTesting,
		Complexity:    modelregistry.ComplexitySimple,
		PromptBuilder: agent.PromptBuilderFunc(testerPrompt),
		PostProcess:   agent.StripCodeFence,
		Options:       agent.GenOptions{Temperature: 0.2},
	}

	coder := agent.Stage{
		Name:          "coder",
		TaskType:      modelregistry.TaskCoding,
		Complexity:    complexity,
		PromptBuilder: agent.PromptBuilderFunc(coderPrompt),
		PostProcess:   agent.StripCodeFence,
		Options:       agent.GenOptions{Temperature: 0.5},
	}

	return orchestrator.StageSet{Planner: planner, Tester: tester, Coder: coder}
}
