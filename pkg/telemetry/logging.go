// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/jllopis/mitosis/pkg/core"
	"go.opentelemetry.io/otel/trace"
)

// ConfigureSlog installs the default logger. Records logged with a context
// get trace_id and span_id from the active span, plus run_id, step and
// agent_id while a workflow step is executing.
func ConfigureSlog(output io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	var base slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		base = slog.NewJSONHandler(output, opts)
	} else {
		base = slog.NewTextHandler(output, opts)
	}
	logger := slog.New(&workflowHandler{next: base})
	slog.SetDefault(logger)
	return logger
}

// workflowHandler decorates records with the workflow position found in
// the context. Attributes the caller already set win.
type workflowHandler struct {
	next slog.Handler
}

func (h *workflowHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *workflowHandler) Handle(ctx context.Context, record slog.Record) error {
	if ctx == nil {
		return h.next.Handle(ctx, record)
	}
	present := make(map[string]bool, record.NumAttrs())
	record.Attrs(func(a slog.Attr) bool {
		present[a.Key] = true
		return true
	})
	add := func(a slog.Attr) {
		if !present[a.Key] {
			record.AddAttrs(a)
		}
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		add(slog.String("trace_id", sc.TraceID().String()))
		add(slog.String("span_id", sc.SpanID().String()))
	}
	if runID, ok := core.RunID(ctx); ok {
		add(slog.String("run_id", runID))
	}
	if step, ok := core.StepFrom(ctx); ok {
		add(slog.Int("step", step.Index))
		add(slog.String("agent_id", step.AgentID))
	}
	return h.next.Handle(ctx, record)
}

func (h *workflowHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &workflowHandler{next: h.next.WithAttrs(attrs)}
}

func (h *workflowHandler) WithGroup(name string) slog.Handler {
	return &workflowHandler{next: h.next.WithGroup(name)}
}

// parseLogLevel accepts the slog names (debug, info, warn, error, also with
// offsets like "debug+2") and "warning". Anything else is info.
func parseLogLevel(level string) slog.Level {
	level = strings.TrimSpace(level)
	if strings.EqualFold(level, "warning") {
		return slog.LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
