// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator runs a roster of agents as a pipeline. Each step
// asks the delegator for guidance, runs the agent on the previous step's
// output and appends a rendered block to the transcript. Steps that produce
// long outputs clone their agent (mitosis).
//
// Runs can be paused and resumed at step boundaries. While paused, the
// roster, the connections and the running input may be edited; the next
// step sees the edits. Edits are rejected while a run is actively running.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jllopis/mitosis/pkg/agent"
	"github.com/jllopis/mitosis/pkg/core"
	"github.com/jllopis/mitosis/pkg/errors"
	"github.com/jllopis/mitosis/pkg/telemetry"
	"github.com/jllopis/mitosis/pkg/workflow"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// State is the lifecycle state of the orchestrator.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Active reports whether a run is in progress.
func (s State) Active() bool {
	return s == StateRunning || s == StatePaused
}

// DefaultMitosisThreshold is the output length, in characters, above
// which a step clones its agent.
const DefaultMitosisThreshold = 500

// Config tunes run behaviour.
type Config struct {
	MitosisEnabled   bool
	MitosisThreshold int
	// MitosisImmediate lets clones run later in the same run instead of
	// waiting for the next one.
	MitosisImmediate bool
	// MaxSteps caps the steps of one run. Zero means no cap, except in
	// immediate mode where it defaults to twice the starting roster.
	MaxSteps int
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		MitosisEnabled:   true,
		MitosisThreshold: DefaultMitosisThreshold,
	}
}

// Orchestrator owns the roster, the connection set and the transcript of
// one session. All methods are safe for concurrent use.
type Orchestrator struct {
	env       *agent.Env
	factory   *agent.Factory
	delegator *agent.Delegator
	cfg       Config

	records workflow.RecordStore
	audit   workflow.AuditStore
	emitter core.EventEmitter
	metrics *telemetry.WorkflowMetrics
	logger  *slog.Logger
	tracer  trace.Tracer

	gate gate

	mu          sync.Mutex
	state       State
	roster      []*agent.Agent
	connections []workflow.Connection
	generated   bool
	wf          workflow.State
	current     string
	// inputEdited keeps a SetInput made during an in-flight step from
	// being overwritten by that step's output.
	inputEdited bool
	trace       []string
	runID       string
	steps       int
	executed    map[string]bool
	clones      map[string]bool
	// immediate and maxSteps are fixed for the run when it starts.
	immediate bool
	maxSteps  int
	lastErr     error
	cancel      context.CancelFunc
	run         *runHandle
}

// runHandle lets Wait find the result of the run it started waiting on.
type runHandle struct {
	done   chan struct{}
	result *Result
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig replaces the run settings.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) {
		if cfg.MitosisThreshold <= 0 {
			cfg.MitosisThreshold = DefaultMitosisThreshold
		}
		o.cfg = cfg
	}
}

// WithFactory replaces the agent factory.
func WithFactory(f *agent.Factory) Option {
	return func(o *Orchestrator) {
		if f != nil {
			o.factory = f
		}
	}
}

// WithRecordStore sets where saved records go.
func WithRecordStore(s workflow.RecordStore) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.records = s
		}
	}
}

// WithAuditStore sets where step audit events go.
func WithAuditStore(s workflow.AuditStore) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.audit = s
		}
	}
}

// WithEmitter sets the event sink.
func WithEmitter(e core.EventEmitter) Option {
	return func(o *Orchestrator) {
		if e != nil {
			o.emitter = e
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *telemetry.WorkflowMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an idle orchestrator bound to env.
func New(env *agent.Env, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		env:       env,
		factory:   agent.NewFactory(env),
		delegator: agent.NewDelegator(env),
		cfg:       DefaultConfig(),
		records:   workflow.NewMemoryRecordStore(),
		audit:     workflow.NewMemoryAuditStore(),
		emitter:   core.NoopEventEmitter{},
		logger:    env.Logger,
		tracer:    otel.Tracer("mitosis/orchestrator"),
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// Env returns the shared environment.
func (o *Orchestrator) Env() *agent.Env { return o.env }

// Config returns the run settings.
func (o *Orchestrator) Config() Config {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg
}

// SetConfig replaces the run settings. A run in progress applies the new
// MitosisEnabled and MitosisThreshold from its next step on. MitosisImmediate
// and MaxSteps are read when a run starts and apply from the next run.
func (o *Orchestrator) SetConfig(cfg Config) {
	if cfg.MitosisThreshold <= 0 {
		cfg.MitosisThreshold = DefaultMitosisThreshold
	}
	o.mu.Lock()
	o.cfg = cfg
	o.mu.Unlock()
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Snapshot is a consistent copy of everything the UI shows.
type Snapshot struct {
	State       State                 `json:"state"`
	RunID       string                `json:"runId,omitempty"`
	Input       string                `json:"input"`
	Output      string                `json:"output"`
	Trace       []string              `json:"trace"`
	Agents      []*agent.Agent        `json:"agents"`
	Connections []workflow.Connection `json:"connections"`
	Steps       int                   `json:"steps"`
	Error       string                `json:"error,omitempty"`
}

// Snapshot returns a copy of the session state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := Snapshot{
		State:       o.state,
		RunID:       o.runID,
		Input:       o.wf.Input,
		Output:      o.wf.Output,
		Trace:       append([]string{}, o.trace...),
		Agents:      workflow.CopyRoster(o.roster),
		Connections: workflow.CopyConnections(o.connections),
		Steps:       o.steps,
	}
	if o.lastErr != nil {
		s.Error = o.lastErr.Error()
	}
	return s
}

// Roster returns copies of the agents in order.
func (o *Orchestrator) Roster() []*agent.Agent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return workflow.CopyRoster(o.roster)
}

// Connections returns a copy of the connection set.
func (o *Orchestrator) Connections() []workflow.Connection {
	o.mu.Lock()
	defer o.mu.Unlock()
	return workflow.CopyConnections(o.connections)
}

// Output returns the accumulated transcript.
func (o *Orchestrator) Output() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.wf.Output
}

// Trace returns the trace lines so far.
func (o *Orchestrator) Trace() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string{}, o.trace...)
}

// Err returns the failure reason of the last run, if any.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Pause stops the run at the next step boundary. The step in flight, if
// any, completes normally.
func (o *Orchestrator) Pause(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateRunning {
		state := o.state
		o.mu.Unlock()
		return errors.NewConflictError("cannot pause while " + string(state))
	}
	o.gate.pause()
	o.state = StatePaused
	runID := o.runID
	o.mu.Unlock()

	o.logger.InfoContext(ctx, "orchestrator.paused", "run_id", runID)
	o.emitter.Emit(ctx, core.NewEvent(core.EventRunPaused, runID, "", "", nil))
	return nil
}

// Resume releases a paused run.
func (o *Orchestrator) Resume(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StatePaused {
		state := o.state
		o.mu.Unlock()
		return errors.NewConflictError("cannot resume while " + string(state))
	}
	o.state = StateRunning
	o.gate.unpause()
	runID := o.runID
	o.mu.Unlock()

	o.logger.InfoContext(ctx, "orchestrator.resumed", "run_id", runID)
	o.emitter.Emit(ctx, core.NewEvent(core.EventRunResumed, runID, "", "", nil))
	return nil
}

// Abort cancels the active run. A paused run is released and fails at
// once; a running one fails at the next boundary or as soon as the
// in-flight completion call honours cancellation.
func (o *Orchestrator) Abort() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.state.Active() || o.cancel == nil {
		return errors.NewConflictError("no run in progress")
	}
	o.cancel()
	return nil
}

// Wait blocks until the active run ends and returns its result. Without
// an active or finished run it returns a conflict error.
func (o *Orchestrator) Wait(ctx context.Context) (*Result, error) {
	o.mu.Lock()
	h := o.run
	o.mu.Unlock()
	if h == nil {
		return nil, errors.NewConflictError("no run started")
	}
	select {
	case <-h.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return h.result, h.result.Err
}

// mutable returns a conflict error while a run is actively running.
// Callers hold o.mu.
func (o *Orchestrator) mutable() error {
	if o.state == StateRunning {
		return errors.NewConflictError("roster cannot change while a run is in progress; pause it first")
	}
	return nil
}

// traceLine appends a line and publishes it.
func (o *Orchestrator) traceLine(ctx context.Context, agentName, line string) {
	o.mu.Lock()
	o.trace = append(o.trace, line)
	runID := o.runID
	o.mu.Unlock()
	o.emitter.Emit(ctx, core.NewEvent(core.EventTrace, runID, agentName, line, nil))
}
