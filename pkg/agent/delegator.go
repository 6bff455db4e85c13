// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jllopis/mitosis/pkg/llm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Delegator asks the model which agent suits a task best. Its answer is
// advisory text; it never changes which agent runs.
type Delegator struct {
	env *Env
}

// NewDelegator creates a delegator bound to env.
func NewDelegator(env *Env) *Delegator {
	return &Delegator{env: env}
}

// DelegateTask returns routing guidance for task. Completion failures are
// returned to the caller.
func (d *Delegator) DelegateTask(ctx context.Context, task string, roster []*Agent, credential string) (string, error) {
	ctx, span := d.env.startSpan(ctx, "Delegator.Delegate", trace.WithAttributes(
		attribute.Int("roster.size", len(roster)),
	))
	defer span.End()

	info := d.env.Knowledge.Query(ctx, task)
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: delegatorSystemPrompt(info, roster)},
		{Role: llm.RoleUser, Content: "Delegate this task: " + task},
	}

	completion := d.env.Completion
	completion.Stream = false

	guidance, err := completion.complete(ctx, messages, credential)
	if err != nil {
		werr := WrapCompletionError(err, "delegator.delegate", completion.Model)
		span.RecordError(werr)
		span.SetStatus(codes.Error, werr.Message)
		return "", werr
	}
	return guidance, nil
}

// DescribeRoster renders one line per agent with its agent-model facet.
func DescribeRoster(roster []*Agent) string {
	lines := make([]string, 0, len(roster))
	for _, a := range roster {
		m := a.Layers.AgentModel
		m.normalize()
		data, err := json.Marshal(m)
		if err != nil {
			data = []byte("{}")
		}
		lines = append(lines, fmt.Sprintf("%s: %s", a.Name, data))
	}
	return strings.Join(lines, "\n")
}

func delegatorSystemPrompt(info string, roster []*Agent) string {
	return fmt.Sprintf(`You are an AI assistant responsible for delegating tasks to the most suitable ACE agent. Consider the following knowledge base information and available agents:

Knowledge Base Information:
%s

Available Agents:
%s

Delegate the task to the most suitable agent and provide any necessary additional instructions or data from the knowledge base.`, info, DescribeRoster(roster))
}
