// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"

	"github.com/google/uuid"
)

type (
	runIDKey struct{}
	stepKey  struct{}
)

// Step identifies the workflow step a context belongs to.
type Step struct {
	Index   int
	AgentID string
}

// WithRunID attaches a workflow run id to ctx.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunID returns the workflow run id carried by ctx.
func RunID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey{}).(string)
	return id, ok && id != ""
}

// EnsureRunID returns ctx unchanged when it already carries a run id and
// otherwise attaches a fresh one.
func EnsureRunID(ctx context.Context) (context.Context, string) {
	if id, ok := RunID(ctx); ok {
		return ctx, id
	}
	id := NewRunID()
	return WithRunID(ctx, id), id
}

// NewRunID returns a fresh run id.
func NewRunID() string {
	return "run-" + uuid.NewString()
}

// WithStep marks ctx as belonging to step index, executed by agentID. Logs
// written by the agent, the delegator and the knowledge store during the
// step pick it up.
func WithStep(ctx context.Context, index int, agentID string) context.Context {
	return context.WithValue(ctx, stepKey{}, Step{Index: index, AgentID: agentID})
}

// StepFrom returns the step carried by ctx.
func StepFrom(ctx context.Context) (Step, bool) {
	s, ok := ctx.Value(stepKey{}).(Step)
	return s, ok
}
