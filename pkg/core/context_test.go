// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"strings"
	"testing"
)

func TestEnsureRunID(t *testing.T) {
	ctx, id := EnsureRunID(context.Background())
	if !strings.HasPrefix(id, "run-") {
		t.Fatalf("unexpected run id %q", id)
	}
	again, same := EnsureRunID(ctx)
	if same != id || again != ctx {
		t.Fatalf("existing run id replaced: %q -> %q", id, same)
	}
	if _, ok := RunID(WithRunID(context.Background(), "")); ok {
		t.Fatal("empty run id reported as present")
	}
}

func TestStepFrom(t *testing.T) {
	if _, ok := StepFrom(context.Background()); ok {
		t.Fatal("step reported on a bare context")
	}
	ctx := WithStep(WithRunID(context.Background(), "run-1"), 2, "agent-a")
	step, ok := StepFrom(ctx)
	if !ok || step.Index != 2 || step.AgentID != "agent-a" {
		t.Fatalf("StepFrom = %+v, %v", step, ok)
	}
	if id, _ := RunID(ctx); id != "run-1" {
		t.Fatalf("run id lost: %q", id)
	}
}
