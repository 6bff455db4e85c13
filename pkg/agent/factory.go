// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jllopis/mitosis/pkg/llm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Spec is one agent as emitted by the model.
type Spec struct {
	Name        string `json:"name"`
	Layers      Layers `json:"layers"`
	InputOutput IO     `json:"inputOutput"`
}

// Factory turns a goal into an ordered roster with one completion call.
type Factory struct {
	env       *Env
	maxTokens int
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithFactoryMaxTokens sets the token limit of the generation call.
func WithFactoryMaxTokens(n int) FactoryOption {
	return func(f *Factory) {
		if n > 0 {
			f.maxTokens = n
		}
	}
}

// NewFactory creates a factory bound to env.
func NewFactory(env *Env, opts ...FactoryOption) *Factory {
	f := &Factory{env: env, maxTokens: DefaultFactoryMaxTokens}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateAgentsFromPrompt asks the model for a JSON array of agent specs and
// builds one agent per element, in order. Any completion failure or output
// that is not a non-empty JSON array fails the whole call.
func (f *Factory) CreateAgentsFromPrompt(ctx context.Context, goal, credential string) ([]*Agent, error) {
	ctx, span := f.env.startSpan(ctx, "AgentFactory.Create", trace.WithAttributes(
		attribute.Int("goal.length", len(goal)),
	))
	defer span.End()

	info := f.env.Knowledge.Query(ctx, goal)
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: factorySystemPrompt(info)},
		{Role: llm.RoleUser, Content: "Create ACE agents based on this prompt: " + goal},
	}

	completion := f.env.Completion
	completion.MaxTokens = f.maxTokens
	completion.Stream = false

	text, err := completion.complete(ctx, messages, credential)
	if err != nil {
		werr := WrapCompletionError(err, "factory.create", completion.Model)
		span.RecordError(werr)
		span.SetStatus(codes.Error, werr.Message)
		return nil, werr
	}

	specs, err := ParseSpecs(text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "agent generation failed")
		f.env.Logger.WarnContext(ctx, "agent.factory.parse_failed", "error", err)
		return nil, err
	}

	roster := make([]*Agent, 0, len(specs))
	for i, s := range specs {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			name = fmt.Sprintf("Agent %d", i+1)
		}
		a := New(name, f.env)
		for _, facet := range []Facet{
			s.Layers.Aspirational,
			s.Layers.GlobalStrategy,
			s.Layers.AgentModel,
			s.Layers.ExecutiveFunction,
			s.Layers.CognitiveControl,
			s.Layers.TaskProsecution,
			s.InputOutput,
		} {
			if err := a.Update(facet); err != nil {
				return nil, WrapGenerationError(err, "invalid agent specification")
			}
		}
		roster = append(roster, a)
	}

	span.SetAttributes(attribute.Int("roster.size", len(roster)))
	f.env.Logger.InfoContext(ctx, "agent.factory.created", "agents", len(roster))
	return roster, nil
}

// ParseSpecs decodes model output as a JSON array of agent specs. A single
// markdown code fence around the array is tolerated.
func ParseSpecs(text string) ([]Spec, error) {
	data := bytes.TrimSpace([]byte(stripFence(text)))
	if len(data) == 0 || data[0] != '[' {
		return nil, WrapGenerationError(nil, "factory output is not a JSON array")
	}
	var specs []Spec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, WrapGenerationError(err, "factory output is not valid agent JSON")
	}
	if len(specs) == 0 {
		return nil, WrapGenerationError(nil, "factory output contains no agents")
	}
	return specs, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	body := strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		// Drop the info string, e.g. "json".
		body = body[i+1:]
	}
	return body
}

func factorySystemPrompt(info string) string {
	example, _ := json.MarshalIndent([]Spec{{
		Name:        "Agent name",
		Layers:      NewLayers(),
		InputOutput: IO{}.Clone(),
	}}, "", "  ")
	return fmt.Sprintf(`You are an AI assistant that creates ACE agents based on prompts. Generate a list of ACE agents with their layers in JSON format. Consider the following knowledge base information:

%s

Create agents that align with this information and the user's prompt.

Respond with a JSON array only, where every element has this shape:
%s`, info, example)
}
