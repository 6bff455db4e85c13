// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"errors"
	"testing"
)

func TestHealthCheckAll(t *testing.T) {
	tests := []struct {
		name     string
		statuses map[string]HealthStatus
		expected HealthStatus
	}{
		{"empty", nil, HealthHealthy},
		{"all healthy", map[string]HealthStatus{"a": HealthHealthy, "b": HealthHealthy}, HealthHealthy},
		{"one degraded", map[string]HealthStatus{"a": HealthHealthy, "b": HealthDegraded}, HealthDegraded},
		{"unhealthy wins", map[string]HealthStatus{"a": HealthDegraded, "b": HealthUnhealthy}, HealthUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealth()
			for name, status := range tt.statuses {
				status := status
				h.Register(name, HealthCheckFunc(func(context.Context) HealthResult {
					return HealthResult{Status: status}
				}))
			}
			results, overall := h.CheckAll(context.Background())
			if overall != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, overall)
			}
			if len(results) != len(tt.statuses) {
				t.Fatalf("expected %d results, got %d", len(tt.statuses), len(results))
			}
			for i := 1; i < len(results); i++ {
				if results[i-1].Component > results[i].Component {
					t.Errorf("results not sorted by component")
				}
			}
			for _, r := range results {
				if r.LastCheck.IsZero() {
					t.Errorf("expected LastCheck to be set for %s", r.Component)
				}
			}
		})
	}
}

func TestHealthCheckUnknown(t *testing.T) {
	if _, err := NewHealth().Check(context.Background(), "missing"); err == nil {
		t.Error("expected error for unregistered checker")
	}
}

func TestErrorCheck(t *testing.T) {
	ok := ErrorCheck(func(context.Context) error { return nil })
	if r := ok.Check(context.Background()); r.Status != HealthHealthy {
		t.Errorf("expected healthy, got %v", r.Status)
	}

	bad := ErrorCheck(func(context.Context) error { return errors.New("db closed") })
	r := bad.Check(context.Background())
	if r.Status != HealthUnhealthy || r.Message != "db closed" {
		t.Errorf("unexpected result %+v", r)
	}
}

func TestRunIDContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := RunID(ctx); ok {
		t.Fatal("expected no run id")
	}
	ctx, id := EnsureRunID(ctx)
	if id == "" {
		t.Fatal("expected generated run id")
	}
	again, same := EnsureRunID(ctx)
	if same != id || again != ctx {
		t.Errorf("expected existing run id to be kept")
	}
}

func TestFanout(t *testing.T) {
	var got []EventType
	var f Fanout
	f.Add(EmitterFunc(func(_ context.Context, e Event) { got = append(got, e.Type) }))
	f.Add(nil)
	f.Add(NoopEventEmitter{})

	f.Emit(context.Background(), NewEvent(EventRunStarted, "run-1", "", "", nil))
	f.Emit(context.Background(), NewEvent(EventMitosis, "run-1", "A", "A performed mitosis", nil))

	if len(got) != 2 || got[0] != EventRunStarted || got[1] != EventMitosis {
		t.Errorf("unexpected events %v", got)
	}
}
