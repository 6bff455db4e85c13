// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent implements the layered agent record, the factory that
// builds a roster from a goal, the delegator that advises which agent fits
// a task, and the prompt assistant.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jllopis/mitosis/pkg/errors"
	"github.com/jllopis/mitosis/pkg/knowledge"
	"github.com/jllopis/mitosis/pkg/llm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Agent is one unit of delegated work. ID never changes after creation.
type Agent struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Layers      Layers `json:"layers" yaml:"layers"`
	InputOutput IO     `json:"inputOutput" yaml:"inputOutput"`

	env *Env
}

// Response is the outcome of GenerateResponse. A degraded response carries
// a readable error text in place of the model output.
type Response struct {
	Text     string
	Degraded bool
	Err      error
	Duration time.Duration
}

// New creates an agent with a fresh id and complete, empty layers.
func New(name string, env *Env) *Agent {
	a := &Agent{
		ID:     uuid.NewString(),
		Name:   name,
		Layers: NewLayers(),
		env:    env,
	}
	a.InputOutput.Normalize()
	return a
}

// Bind attaches the shared environment, e.g. after decoding a stored agent.
func (a *Agent) Bind(env *Env) {
	a.env = env
	a.Layers.Normalize()
	a.InputOutput.Normalize()
}

// Env returns the attached environment.
func (a *Agent) Env() *Env { return a.env }

// Update applies one facet. Collections the facet leaves nil become empty.
func (a *Agent) Update(f Facet) error {
	switch v := f.(type) {
	case Aspirational:
		a.Layers.Aspirational = v
	case GlobalStrategy:
		a.Layers.GlobalStrategy = v
	case Model:
		v.normalize()
		a.Layers.AgentModel = v
	case ExecutiveFunction:
		v.normalize()
		a.Layers.ExecutiveFunction = v
	case CognitiveControl:
		a.Layers.CognitiveControl = v
	case TaskProsecution:
		v.normalize()
		a.Layers.TaskProsecution = v
	case IO:
		v.Normalize()
		a.InputOutput = v
	default:
		return errors.NewInvalidInputError(fmt.Sprintf("unknown facet %T", f))
	}
	return nil
}

// Clone returns a copy with a fresh id and deep-copied layers and IO.
func (a *Agent) Clone(name string) *Agent {
	return &Agent{
		ID:          uuid.NewString(),
		Name:        name,
		Layers:      a.Layers.Clone(),
		InputOutput: a.InputOutput.Clone(),
		env:         a.env,
	}
}

// Copy returns a deep copy that keeps the id.
func (a *Agent) Copy() *Agent {
	c := a.Clone(a.Name)
	c.ID = a.ID
	return c
}

// SystemPrompt builds the system message for input given retrieved knowledge.
func (a *Agent) SystemPrompt(knowledgeInfo string) string {
	return fmt.Sprintf(`You are an ACE agent with the following layers:
%s

Knowledge Base Information:
%s

Please respond to the user's input while considering your layers, especially your morality, ethics, and mission. Incorporate relevant knowledge base information in your response.`,
		a.Layers.JSON(), knowledgeInfo)
}

// GenerateResponse answers input. Completion failures never escape: they
// produce a degraded Response whose Text explains the failure. On success
// the text is written back to the knowledge store under ResponseKey.
func (a *Agent) GenerateResponse(ctx context.Context, input, credential string) Response {
	start := time.Now()
	if a.env == nil {
		err := errors.New(errors.CodeInternal, "agent has no environment", nil)
		return Response{Text: degradedText(err), Degraded: true, Err: err}
	}
	env := a.env

	ctx, span := env.startSpan(ctx, "Agent.GenerateResponse", trace.WithAttributes(
		attribute.String("agent.id", a.ID),
		attribute.String("agent.name", a.Name),
	))
	defer span.End()

	info := env.Knowledge.Query(ctx, input)
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: a.SystemPrompt(info)},
		{Role: llm.RoleUser, Content: input},
	}

	text, err := env.Completion.complete(ctx, messages, credential)
	if err != nil {
		werr := WrapCompletionError(err, "agent.generate", env.Completion.Model)
		span.RecordError(werr)
		span.SetStatus(codes.Error, werr.Message)
		env.Logger.WarnContext(ctx, "agent.response.error",
			"agent_id", a.ID, "agent", a.Name, "error", werr)
		return Response{Text: degradedText(err), Degraded: true, Err: werr, Duration: time.Since(start)}
	}

	if kerr := env.Knowledge.AddEntry(ctx, knowledge.ResponseKey(a.ID), text); kerr != nil {
		env.Logger.WarnContext(ctx, "agent.response.writeback_failed", "agent_id", a.ID, "error", kerr)
	}

	span.SetAttributes(attribute.Int("agent.response.length", len(text)))
	return Response{Text: text, Duration: time.Since(start)}
}

func degradedText(err error) string {
	e := errors.As(err)
	msg := e.Message
	if e.Code == errors.CodeCompletionService && e.StatusCode > 0 {
		msg = fmt.Sprintf("completion service returned %d: %s", e.StatusCode, e.Message)
	}
	return "An error occurred while generating the response: " + msg
}
