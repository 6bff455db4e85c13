// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/jllopis/mitosis/pkg/core"
)

func TestInit(t *testing.T) {
	shutdown, err := Init("test-service", "v0.0.1")
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if shutdown == nil {
		t.Fatal("Shutdown function should not be nil")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestInitWithConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"none", Config{Exporter: ExporterNone}, false},
		{"otlp without endpoint", Config{Exporter: ExporterOTLP}, true},
		{"unknown", Config{Exporter: "zipkin"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shutdown, err := InitWithConfig("test-service", "v0.0.1", tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err := shutdown(context.Background()); err != nil {
				t.Errorf("Shutdown failed: %v", err)
			}
		})
	}
}

func TestSlogAddsWorkflowPosition(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := ConfigureSlog(&buf, "debug", "json")
	ctx := core.WithRunID(context.Background(), "run-42")
	logger.InfoContext(ctx, "orchestrator.run.start")
	logger.InfoContext(core.WithStep(ctx, 3, "agent-b"), "agent.response.error")
	logger.InfoContext(core.WithStep(ctx, 3, "agent-b"), "explicit", "step", 9)
	logger.InfoContext(context.Background(), "no.run")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `"run_id":"run-42"`) || strings.Contains(lines[0], `"step"`) {
		t.Errorf("unexpected run line %s", lines[0])
	}
	if !strings.Contains(lines[1], `"step":3`) || !strings.Contains(lines[1], `"agent_id":"agent-b"`) {
		t.Errorf("expected step and agent_id in %s", lines[1])
	}
	if !strings.Contains(lines[2], `"step":9`) || strings.Contains(lines[2], `"step":3`) {
		t.Errorf("caller attributes should win in %s", lines[2])
	}
	if strings.Contains(lines[3], "run_id") {
		t.Errorf("unexpected run_id in %s", lines[3])
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"debug+2": slog.LevelDebug + 2,
		"":        slog.LevelInfo,
		"loud":    slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestOTLPHeaders(t *testing.T) {
	cfg := Config{OTLPHeaders: map[string]string{"x-org-id": "org-1"}, OTLPUser: "admin", OTLPToken: "secret"}
	h := cfg.headers()
	if h["x-org-id"] != "org-1" {
		t.Fatalf("expected custom header, got %v", h)
	}
	if h["authorization"] != "Basic YWRtaW46c2VjcmV0" {
		t.Fatalf("unexpected authorization header %q", h["authorization"])
	}

	cfg.OTLPHeaders["authorization"] = "Bearer t"
	if got := cfg.headers()["authorization"]; got != "Bearer t" {
		t.Fatalf("explicit authorization header overridden: %q", got)
	}
	if len((Config{}).headers()) != 0 {
		t.Fatalf("expected no headers by default")
	}
}
