// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package core holds the small cross-cutting pieces shared by the
// orchestrator and its surfaces: workflow events, run-id context helpers
// and health checks.
package core

import (
	"context"
	"sync"
	"time"
)

// EventType identifies a workflow event.
type EventType string

const (
	EventRunStarted    EventType = "run.started"
	EventRunCompleted  EventType = "run.completed"
	EventRunFailed     EventType = "run.failed"
	EventRunPaused     EventType = "run.paused"
	EventRunResumed    EventType = "run.resumed"
	EventRosterChanged EventType = "roster.changed"
	EventStepStarted   EventType = "step.started"
	EventStepDelegated EventType = "step.delegated"
	EventStepCompleted EventType = "step.completed"
	EventStepDegraded  EventType = "step.degraded"
	EventMitosis       EventType = "agent.mitosis"
	EventTrace         EventType = "trace"
)

// Event is one observable thing that happened during a workflow session.
type Event struct {
	Type      EventType      `json:"type"`
	RunID     string         `json:"runId,omitempty"`
	Agent     string         `json:"agent,omitempty"`
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// EventEmitter receives workflow events. Emit must not block for long; it
// runs on the orchestrator goroutine.
type EventEmitter interface {
	Emit(ctx context.Context, event Event)
}

// NoopEventEmitter is a default no-op implementation.
type NoopEventEmitter struct{}

// Emit implements EventEmitter.
func (NoopEventEmitter) Emit(_ context.Context, _ Event) {}

// EmitterFunc adapts a function to EventEmitter.
type EmitterFunc func(ctx context.Context, event Event)

// Emit implements EventEmitter.
func (f EmitterFunc) Emit(ctx context.Context, event Event) { f(ctx, event) }

// Fanout delivers every event to a changing set of emitters.
type Fanout struct {
	mu       sync.RWMutex
	emitters []EventEmitter
}

// Add registers e.
func (f *Fanout) Add(e EventEmitter) {
	if e == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitters = append(f.emitters, e)
}

// Emit implements EventEmitter.
func (f *Fanout) Emit(ctx context.Context, event Event) {
	f.mu.RLock()
	emitters := f.emitters
	f.mu.RUnlock()
	for _, e := range emitters {
		e.Emit(ctx, event)
	}
}

// NewEvent builds an event stamped with the current time.
func NewEvent(eventType EventType, runID, agent, message string, payload map[string]any) Event {
	return Event{
		Type:      eventType,
		RunID:     runID,
		Agent:     agent,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
