// Command agentcore wires six of the seven runtime components into one
// running process: a metrics collector, an event bus, a session manager, a
// middleware pipeline, an agent factory, and one executor built from a
// registered template. The callback handler is not wired here.
package main

import (
	"context"
	"log"
	"time"

	"github.com/itsneelabh/agentcore/config"
	"github.com/itsneelabh/agentcore/events"
	"github.com/itsneelabh/agentcore/executor"
	"github.com/itsneelabh/agentcore/logging"
	"github.com/itsneelabh/agentcore/metrics"
	"github.com/itsneelabh/agentcore/middleware"
	"github.com/itsneelabh/agentcore/session"
)

// echoLLM is a minimal LLMClient standing in for a real provider SDK, so
// this wiring example runs standalone without external credentials.
type echoLLM struct{}

func (echoLLM) Complete(ctx context.Context, cfg executor.AgentConfig, task string) (string, int, error) {
	return "echo: " + task, len(task), nil
}

func main() {
	logger := logging.NewProductionLogger("agentcore")
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	collector := metrics.New(metrics.WithLogger(logger))
	bus := events.New(
		events.WithLogger(logger),
		events.WithMetrics(collector),
		events.WithMaxHistory(cfg.EventBus.MaxHistory),
		events.WithConcurrency(cfg.EventBus.MaxConcurrentHandlers),
		events.WithHandlerTimeout(cfg.EventBus.HandlerTimeout()),
	)

	store := session.NewMemoryStore()
	sessions := session.New(store,
		session.WithLogger(logger),
		session.WithMetrics(collector),
		session.WithBus(bus),
		session.WithTTL(cfg.Session.TTL()),
		session.WithMaxSessions(cfg.Session.MaxCount),
	)

	pipeline := middleware.New()
	pipeline.Add(loggingMiddleware{logger: logger})

	factory := executor.NewFactory()
	retryAttempts := cfg.Executor.RetryAttempts
	if err := factory.RegisterTemplate(executor.AgentTemplate{
		Name:        "assistant",
		Description: "general-purpose echo assistant",
		Default: executor.AgentConfig{
			Name:           "assistant",
			Temperature:    0.7,
			TopP:           1.0,
			MaxTokens:      512,
			Timeout:        cfg.Executor.DefaultTimeout(),
			RetryAttempts:  &retryAttempts,
			RetryBaseDelay: cfg.Executor.RetryBaseDelay(),
		},
	}); err != nil {
		log.Fatalf("register template: %v", err)
	}

	agent, err := factory.CreateAgent("assistant", executor.Overrides{}, pipeline, echoLLM{},
		executor.WithBus(bus),
		executor.WithMetrics(collector),
		executor.WithSessionManager(sessions),
		executor.WithLogger(logger),
	)
	if err != nil {
		log.Fatalf("create agent: %v", err)
	}

	ctx := context.Background()
	sess, err := sessions.CreateSession(ctx, "demo-user", "assistant", nil)
	if err != nil {
		log.Fatalf("create session: %v", err)
	}

	result := agent.Execute(ctx, executor.AgentContext{
		AgentID:   "assistant",
		UserID:    "demo-user",
		SessionID: sess.ID,
		Task:      "what is the weather in Tokyo?",
		CreatedAt: time.Now(),
	})

	log.Printf("result: success=%v output=%q tokens=%d", result.Success, result.Output, result.TokensUsed)

	snap := collector.Snapshot()
	log.Printf("recorded %d counter series, %d histogram series", len(snap.Counters), len(snap.Histograms))
}

// loggingMiddleware is a minimal pipeline stage demonstrating the onion
// contract: it logs on the way in and on the way out, and never short-
// circuits.
type loggingMiddleware struct {
	logger logging.Logger
}

func (loggingMiddleware) Name() string     { return "logging" }
func (loggingMiddleware) Priority() int    { return 0 }
func (loggingMiddleware) Idempotent() bool { return true }

func (l loggingMiddleware) Process(ctx *middleware.Context, next middleware.Next) (middleware.Result, error) {
	l.logger.Info("agent request started", map[string]interface{}{
		"agent_id": ctx.AgentID, "session_id": ctx.SessionID,
	})
	result, err := next(ctx)
	l.logger.Info("agent request finished", map[string]interface{}{
		"agent_id": ctx.AgentID, "success": err == nil && result.Err == nil,
	})
	return result, err
}
