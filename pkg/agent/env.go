// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"log/slog"

	"github.com/jllopis/mitosis/pkg/knowledge"
	"github.com/jllopis/mitosis/pkg/llm"
	"github.com/jllopis/mitosis/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Default completion settings.
const (
	DefaultModel            = "mixtral-8x7b-32768"
	DefaultTemperature      = 0.7
	DefaultMaxTokens        = 1000
	DefaultFactoryMaxTokens = 2000
)

// Completion carries everything a completion call needs besides prompts.
type Completion struct {
	Provider    llm.Provider
	// System names the backend on completion spans.
	System      string
	Model       string
	Temperature float64
	MaxTokens   int
	Stream      bool
}

// DefaultCompletion returns the default settings for p.
func DefaultCompletion(p llm.Provider) Completion {
	return Completion{
		Provider:    p,
		Model:       DefaultModel,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		Stream:      true,
	}
}

func (c Completion) request(messages []llm.Message, credential string) llm.ChatRequest {
	return llm.ChatRequest{
		Model:       c.Model,
		Messages:    messages,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
		Stream:      c.Stream,
		APIKey:      credential,
	}
}

// complete runs one completion call and records the model, backend and
// token usage on the span in ctx.
func (c Completion) complete(ctx context.Context, messages []llm.Message, credential string) (string, error) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(telemetry.LLMAttributes(c.Model, c.System)...)
	text, usage, err := llm.CompleteWithUsage(ctx, c.Provider, c.request(messages, credential))
	span.SetAttributes(telemetry.UsageAttributes(usage.PromptTokens, usage.CompletionTokens)...)
	return text, err
}

// Env is what agents, the factory and the delegator share during one
// orchestrator session: the knowledge corpus and the completion service.
// Agents keep a reference to it but never own it.
type Env struct {
	Knowledge  *knowledge.Store
	Completion Completion
	Logger     *slog.Logger

	tracer trace.Tracer
}

// NewEnv creates an Env. A nil store is replaced by an empty in-memory one.
func NewEnv(store *knowledge.Store, completion Completion, logger *slog.Logger) *Env {
	if store == nil {
		store = knowledge.NewInMemory()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Env{
		Knowledge:  store,
		Completion: completion,
		Logger:     logger,
		tracer:     otel.Tracer("mitosis/agent"),
	}
}

func (e *Env) startSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	t := e.tracer
	if t == nil {
		t = otel.Tracer("mitosis/agent")
	}
	return t.Start(ctx, name, opts...)
}
