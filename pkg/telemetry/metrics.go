// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/mitosis/pkg/errors"
)

// WorkflowMetrics records run, step, mitosis and error counters. A nil
// *WorkflowMetrics is valid and records nothing.
type WorkflowMetrics struct {
	runs         metric.Int64Counter
	steps        metric.Int64Counter
	degraded     metric.Int64Counter
	clones       metric.Int64Counter
	errors       metric.Int64Counter
	stepDuration metric.Float64Histogram
}

// NewWorkflowMetrics creates the instruments on the global meter provider.
func NewWorkflowMetrics() (*WorkflowMetrics, error) {
	meter := otel.Meter("mitosis/workflow")

	runs, err := meter.Int64Counter(
		"mitosis.runs.total",
		metric.WithDescription("Workflow runs by terminal status"),
	)
	if err != nil {
		return nil, err
	}
	steps, err := meter.Int64Counter(
		"mitosis.steps.total",
		metric.WithDescription("Executed workflow steps"),
	)
	if err != nil {
		return nil, err
	}
	degraded, err := meter.Int64Counter(
		"mitosis.steps.degraded",
		metric.WithDescription("Steps whose agent produced a degraded response"),
	)
	if err != nil {
		return nil, err
	}
	clones, err := meter.Int64Counter(
		"mitosis.clones.total",
		metric.WithDescription("Agents created by mitosis"),
	)
	if err != nil {
		return nil, err
	}
	errCounter, err := meter.Int64Counter(
		"mitosis.errors.total",
		metric.WithDescription("Errors by code and component"),
	)
	if err != nil {
		return nil, err
	}
	stepDuration, err := meter.Float64Histogram(
		"mitosis.step.duration",
		metric.WithDescription("Wall-clock duration of a workflow step"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &WorkflowMetrics{
		runs:         runs,
		steps:        steps,
		degraded:     degraded,
		clones:       clones,
		errors:       errCounter,
		stepDuration: stepDuration,
	}, nil
}

// RecordRun counts a run that reached status.
func (m *WorkflowMetrics) RecordRun(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrRunStatus, status)))
}

// RecordStep counts a step and its duration.
func (m *WorkflowMetrics) RecordStep(ctx context.Context, agentName string, d time.Duration, degraded bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrAgentName, agentName))
	m.steps.Add(ctx, 1, attrs)
	m.stepDuration.Record(ctx, d.Seconds(), attrs)
	if degraded {
		m.degraded.Add(ctx, 1, attrs)
	}
}

// RecordClone counts one mitosis.
func (m *WorkflowMetrics) RecordClone(ctx context.Context) {
	if m == nil {
		return
	}
	m.clones.Add(ctx, 1)
}

// RecordError counts err under its code. Untyped errors count as INTERNAL.
func (m *WorkflowMetrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	e := errors.As(err)
	m.errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrErrorCode, string(e.Code)),
		attribute.String("component", component),
		attribute.String("recoverable", e.RecoverableString()),
	))
}
