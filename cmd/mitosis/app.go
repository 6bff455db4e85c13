// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jllopis/mitosis/pkg/agent"
	"github.com/jllopis/mitosis/pkg/config"
	"github.com/jllopis/mitosis/pkg/core"
	"github.com/jllopis/mitosis/pkg/knowledge"
	"github.com/jllopis/mitosis/pkg/knowledge/qdrant"
	"github.com/jllopis/mitosis/pkg/llm"
	"github.com/jllopis/mitosis/pkg/llm/anthropic"
	"github.com/jllopis/mitosis/pkg/llm/gemini"
	"github.com/jllopis/mitosis/pkg/llm/openai"
	"github.com/jllopis/mitosis/pkg/orchestrator"
	"github.com/jllopis/mitosis/pkg/resilience"
	"github.com/jllopis/mitosis/pkg/store"
	"github.com/jllopis/mitosis/pkg/telemetry"
)

// app holds the components every command shares.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *sql.DB
	knowledge *knowledge.Store
	orch      *orchestrator.Orchestrator
	events    *core.Fanout
	health    *core.Health

	closers []func(context.Context) error
}

// newApp wires the configured backends. Callers must call close.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format),
		events: &core.Fanout{},
		health: core.NewHealth(),
	}

	shutdown, err := telemetry.InitWithConfig("mitosis", version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		OTLPTimeout:  cfg.Telemetry.OTLPTimeout(),
		OTLPHeaders:  cfg.Telemetry.OTLPHeaders,
		OTLPUser:     cfg.Telemetry.OTLPUser,
		OTLPToken:    cfg.Telemetry.OTLPToken,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.closers = append(a.closers, shutdown)

	if cfg.Store.Path != "" {
		db, err := store.Open(ctx, cfg.Store.Path)
		if err != nil {
			a.close()
			return nil, err
		}
		a.db = db
		a.closers = append(a.closers, func(context.Context) error { return db.Close() })
		a.health.Register("store", core.ErrorCheck(store.Ping(db)))
	}

	if err := a.openKnowledge(ctx); err != nil {
		a.close()
		return nil, err
	}

	provider, err := newProvider(cfg.LLM, a.logger)
	if err != nil {
		a.close()
		return nil, err
	}
	env := agent.NewEnv(a.knowledge, completionSettings(cfg.LLM, provider), a.logger)

	opts := []orchestrator.Option{
		orchestrator.WithConfig(orchestratorConfig(cfg.Orchestrator)),
		orchestrator.WithFactory(agent.NewFactory(env, agent.WithFactoryMaxTokens(cfg.LLM.FactoryMaxTokens))),
		orchestrator.WithEmitter(a.events),
		orchestrator.WithLogger(a.logger),
	}
	if metrics, err := telemetry.NewWorkflowMetrics(); err == nil {
		opts = append(opts, orchestrator.WithMetrics(metrics))
	} else {
		a.logger.Warn("telemetry.metrics.disabled", "error", err)
	}
	if a.db != nil {
		records, err := store.NewRecordStore(a.db)
		if err != nil {
			a.close()
			return nil, err
		}
		audit, err := store.NewAuditStore(a.db)
		if err != nil {
			a.close()
			return nil, err
		}
		opts = append(opts, orchestrator.WithRecordStore(records), orchestrator.WithAuditStore(audit))
	}
	a.orch = orchestrator.New(env, opts...)
	return a, nil
}

func (a *app) openKnowledge(ctx context.Context) error {
	kc := a.cfg.Knowledge
	opts := []knowledge.Option{knowledge.WithLatency(kc.Latency), knowledge.WithLogger(a.logger)}

	switch kc.Backend {
	case "sqlite":
		b, err := store.NewKnowledgeBackend(a.db)
		if err != nil {
			return err
		}
		a.knowledge = knowledge.New(b, opts...)
	case "qdrant":
		b, err := qdrant.New(kc.QdrantAddr, kc.Collection)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func(context.Context) error { return b.Close() })
		initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := b.EnsureCollection(initCtx); err != nil {
			return fmt.Errorf("qdrant %s: %w", kc.QdrantAddr, err)
		}
		a.health.Register("knowledge", core.ErrorCheck(func(ctx context.Context) error {
			_, err := b.List(ctx)
			return err
		}))
		a.knowledge = knowledge.New(b, opts...)
	default:
		a.knowledge = knowledge.NewInMemory(opts...)
	}

	if kc.SeedFile != "" {
		n, err := a.knowledge.LoadFile(ctx, kc.SeedFile)
		if err != nil {
			return err
		}
		a.logger.Info("knowledge.seeded", "path", kc.SeedFile, "entries", n)
	}
	return nil
}

// watchKnowledge reloads the seed file on change until ctx ends. It is a
// no-op unless knowledge.watch is set.
func (a *app) watchKnowledge(ctx context.Context) error {
	kc := a.cfg.Knowledge
	if !kc.Watch || kc.SeedFile == "" {
		return nil
	}
	w, err := knowledge.NewWatcher(a.knowledge, kc.SeedFile, knowledge.WithWatchLogger(a.logger))
	if err != nil {
		return err
	}
	w.OnReload(func(n int, err error) {
		if err != nil {
			a.logger.Error("knowledge.reload.failed", "path", kc.SeedFile, "error", err)
			return
		}
		a.logger.Info("knowledge.reloaded", "path", kc.SeedFile, "entries", n)
	})
	if err := w.Start(ctx); err != nil {
		return err
	}
	a.closers = append(a.closers, func(context.Context) error { w.Stop(); return nil })
	return nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && a.logger != nil {
			a.logger.Warn("shutdown.error", "error", err)
		}
	}
	a.closers = nil
}

func orchestratorConfig(c config.OrchestratorConfig) orchestrator.Config {
	return orchestrator.Config{
		MitosisEnabled:   c.MitosisEnabled,
		MitosisThreshold: c.MitosisThreshold,
		MitosisImmediate: c.MitosisImmediate,
		MaxSteps:         c.MaxSteps,
	}
}

func completionSettings(c config.LLMConfig, p llm.Provider) agent.Completion {
	model := c.Model
	// The default model is a Groq one; other providers keep their own.
	if c.Provider != "groq" && model == agent.DefaultModel {
		model = ""
	}
	return agent.Completion{
		Provider:    p,
		System:      c.Provider,
		Model:       model,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
		Stream:      c.Stream,
	}
}

// newProvider builds the configured backend behind retries and a circuit
// breaker.
func newProvider(c config.LLMConfig, logger *slog.Logger) (llm.Provider, error) {
	var p llm.Provider
	switch c.Provider {
	case "groq":
		p = llm.NewCompat(c.BaseURL,
			llm.WithCompatModel(c.Model),
			llm.WithHTTPClient(&http.Client{Timeout: c.Timeout}),
		)
	case "openai":
		p = openai.New(c.BaseURL, providerModel(c, openai.WithModel)...)
	case "anthropic":
		opts := append(providerModel(c, anthropic.WithModel), anthropic.WithMaxTokens(int64(c.MaxTokens)))
		p = anthropic.New(c.BaseURL, opts...)
	case "gemini":
		p = gemini.New(providerModel(c, gemini.WithModel)...)
	case "ollama":
		model := c.Model
		if model == agent.DefaultModel {
			model = ""
		}
		p = llm.NewOllama(c.BaseURL, model)
	default:
		return nil, fmt.Errorf("unknown llm.provider %q", c.Provider)
	}

	retry := resilience.DefaultRetryConfig().WithMaxAttempts(c.RetryAttempts + 1)
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             c.Provider,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
		ShouldTrip:       resilience.IsRecoverable,
		OnStateChange: func(name string, from, to resilience.CircuitBreakerState) {
			if logger != nil {
				logger.Warn("llm.breaker.state", "provider", name, "from", from, "to", to)
			}
		},
	})
	return llm.NewResilient(p,
		llm.WithRetryConfig(retry),
		llm.WithCircuitBreaker(breaker),
		llm.WithLogger(logger),
	), nil
}

// providerModel passes the configured model to SDK providers unless it is
// the Groq default.
func providerModel[O any](c config.LLMConfig, with func(string) O) []O {
	if c.Model == "" || c.Model == agent.DefaultModel {
		return nil
	}
	return []O{with(c.Model)}
}
