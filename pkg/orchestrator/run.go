// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jllopis/mitosis/pkg/agent"
	"github.com/jllopis/mitosis/pkg/core"
	"github.com/jllopis/mitosis/pkg/errors"
	"github.com/jllopis/mitosis/pkg/telemetry"
	"github.com/jllopis/mitosis/pkg/workflow"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Result summarizes a finished run.
type Result struct {
	RunID  string
	State  State
	Output string
	Trace  []string
	Steps  int
	// Clones lists the ids of agents created by mitosis during the run.
	Clones []string
	Err    error
}

// Run executes a workflow for input and blocks until it ends. If the
// roster is empty the factory builds one from input first. A failed run
// returns its partial Result together with the error.
func (o *Orchestrator) Run(ctx context.Context, input, credential string) (*Result, error) {
	runCtx, err := o.begin(ctx, input, credential, false)
	if err != nil {
		return nil, err
	}
	res := o.execute(runCtx, credential)
	return res, res.Err
}

// Start begins a run in the background and returns once the orchestrator
// is Running. The run outlives ctx; stop it with Abort. Use Wait for the
// result.
func (o *Orchestrator) Start(ctx context.Context, input, credential string) error {
	runCtx, err := o.begin(ctx, input, credential, true)
	if err != nil {
		return err
	}
	go o.execute(runCtx, credential)
	return nil
}

func (o *Orchestrator) begin(ctx context.Context, input, credential string, detach bool) (context.Context, error) {
	if strings.TrimSpace(input) == "" {
		return nil, errors.NewInvalidInputError("workflow input is required")
	}
	if strings.TrimSpace(credential) == "" {
		return nil, errors.New(errors.CodeUnauthorized, "an API credential is required to run a workflow", nil)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Active() {
		return nil, errors.NewConflictError("a workflow run is already in progress")
	}

	if detach {
		ctx = context.WithoutCancel(ctx)
	}
	runCtx, runID := core.EnsureRunID(ctx)
	runCtx, cancel := context.WithCancel(runCtx)

	o.state = StateRunning
	o.runID = runID
	o.cancel = cancel
	o.run = &runHandle{done: make(chan struct{})}
	o.lastErr = nil
	o.wf = workflow.State{Input: input}
	o.current = input
	o.inputEdited = false
	o.trace = nil
	o.steps = 0
	o.executed = make(map[string]bool)
	o.clones = make(map[string]bool)
	o.immediate = o.cfg.MitosisImmediate
	o.maxSteps = o.cfg.MaxSteps
	return runCtx, nil
}

func (o *Orchestrator) execute(ctx context.Context, credential string) *Result {
	ctx, span := o.tracer.Start(ctx, "Orchestrator.Run")
	defer span.End()

	o.mu.Lock()
	runID := o.runID
	o.mu.Unlock()

	o.logger.InfoContext(ctx, "orchestrator.run.start", "run_id", runID)
	o.emitter.Emit(ctx, core.NewEvent(core.EventRunStarted, runID, "", "", nil))

	err := o.loop(ctx, credential)
	return o.finish(ctx, span, err)
}

func (o *Orchestrator) loop(ctx context.Context, credential string) error {
	if err := o.prepareRoster(ctx, credential); err != nil {
		return err
	}

	o.mu.Lock()
	limit := o.maxSteps
	if limit <= 0 && o.immediate {
		limit = 2 * len(o.roster)
	}
	o.mu.Unlock()

	for step := 1; ; step++ {
		if err := o.gate.wait(ctx); err != nil {
			return cancelled(err)
		}
		if limit > 0 && step > limit {
			o.traceLine(ctx, "", fmt.Sprintf("Step limit of %d reached.", limit))
			return nil
		}

		a, roster, input, ok := o.next()
		if !ok {
			return nil
		}
		if err := o.step(ctx, step, a, roster, input, credential); err != nil {
			return err
		}
	}
}

// prepareRoster fills an empty roster from the factory and derives the
// connection chain where needed.
func (o *Orchestrator) prepareRoster(ctx context.Context, credential string) error {
	o.mu.Lock()
	empty := len(o.roster) == 0
	goal := o.wf.Input
	o.mu.Unlock()

	if empty {
		roster, err := o.factory.CreateAgentsFromPrompt(ctx, goal, credential)
		if err != nil {
			if ctx.Err() != nil {
				return cancelled(ctx.Err())
			}
			return err
		}
		o.mu.Lock()
		o.roster = roster
		o.generated = true
		o.mu.Unlock()
		o.traceLine(ctx, "", fmt.Sprintf("Generated %d agents.", len(roster)))
	}

	o.mu.Lock()
	if o.generated || len(o.connections) == 0 {
		o.connections = workflow.Chain(rosterIDs(o.roster))
	}
	runID, size := o.runID, len(o.roster)
	o.mu.Unlock()

	o.emitter.Emit(ctx, core.NewEvent(core.EventRosterChanged, runID, "", "", map[string]any{"agents": size}))
	return nil
}

// next picks the first agent in roster order that has not run yet. Clones
// from this run are skipped unless the run started with immediate mitosis.
// The returned agent and roster are copies.
func (o *Orchestrator) next() (*agent.Agent, []*agent.Agent, string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, a := range o.roster {
		if o.executed[a.ID] {
			continue
		}
		if o.clones[a.ID] && !o.immediate {
			continue
		}
		o.executed[a.ID] = true
		o.inputEdited = false
		return a.Copy(), workflow.CopyRoster(o.roster), o.current, true
	}
	return nil, nil, "", false
}

func (o *Orchestrator) step(ctx context.Context, n int, a *agent.Agent, roster []*agent.Agent, input, credential string) error {
	o.mu.Lock()
	runID := o.runID
	o.mu.Unlock()

	ctx, span := o.tracer.Start(core.WithStep(ctx, n, a.ID), "Orchestrator.Step",
		trace.WithAttributes(telemetry.StepAttributes(runID, n, a.ID, a.Name)...))
	defer span.End()

	start := time.Now()
	o.logger.InfoContext(ctx, "orchestrator.step.start", "agent", a.Name)
	o.emitter.Emit(ctx, core.NewEvent(core.EventStepStarted, runID, a.Name, "", map[string]any{"step": n, "agentId": a.ID}))
	o.traceLine(ctx, a.Name, fmt.Sprintf("%s is processing...", a.Name))

	guidance, err := o.delegator.DelegateTask(ctx, input, roster, credential)
	if err != nil {
		if ctx.Err() != nil {
			return cancelled(ctx.Err())
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "delegation failed")
		o.metrics.RecordError(ctx, err, "delegator")
		o.recordAudit(ctx, workflow.AuditEvent{
			RunID: runID, Step: n, AgentID: a.ID, AgentName: a.Name,
			Status: workflow.StepFailed, Input: input, Error: err.Error(),
			StartedAt: start, FinishedAt: time.Now(),
		})
		return err
	}
	o.traceLine(ctx, a.Name, "Task delegated: "+guidance)
	o.emitter.Emit(ctx, core.NewEvent(core.EventStepDelegated, runID, a.Name, guidance, nil))

	resp := a.GenerateResponse(ctx, augment(input, guidance), credential)
	if ctx.Err() != nil {
		return cancelled(ctx.Err())
	}
	elapsed := time.Since(start)

	block := workflow.Block{
		AgentName:  a.Name,
		Input:      input,
		Delegation: guidance,
		Output:     resp.Text,
		Degraded:   resp.Degraded,
		Duration:   elapsed,
	}
	o.mu.Lock()
	o.wf.Append(block)
	if !o.inputEdited {
		o.current = resp.Text
	}
	o.steps++
	o.mu.Unlock()

	status := workflow.StepCompleted
	eventType := core.EventStepCompleted
	if resp.Degraded {
		status = workflow.StepDegraded
		eventType = core.EventStepDegraded
		o.metrics.RecordError(ctx, resp.Err, "agent")
	}
	span.SetAttributes(telemetry.StepResultAttributes(len(resp.Text), resp.Degraded)...)
	o.metrics.RecordStep(ctx, a.Name, elapsed, resp.Degraded)
	o.traceLine(ctx, a.Name, fmt.Sprintf("%s finished in %.2f seconds.", a.Name, elapsed.Seconds()))
	o.emitter.Emit(ctx, core.NewEvent(eventType, runID, a.Name, "", map[string]any{
		"step":       n,
		"agentId":    a.ID,
		"durationMs": elapsed.Milliseconds(),
		"block":      block.String(),
	}))
	audit := workflow.AuditEvent{
		RunID: runID, Step: n, AgentID: a.ID, AgentName: a.Name,
		Status: status, Input: input, Delegation: guidance, Output: resp.Text,
		StartedAt: start, FinishedAt: time.Now(),
	}
	if resp.Err != nil {
		audit.Error = resp.Err.Error()
	}
	o.recordAudit(ctx, audit)
	o.logger.InfoContext(ctx, "orchestrator.step.done",
		"degraded", resp.Degraded, "duration_ms", elapsed.Milliseconds())

	o.mitosis(ctx, a, resp.Text)
	return nil
}

// mitosis clones a when output exceeds the threshold. The clone joins the
// roster but not the connection chain.
func (o *Orchestrator) mitosis(ctx context.Context, a *agent.Agent, output string) {
	o.mu.Lock()
	cfg := o.cfg
	o.mu.Unlock()
	if !cfg.MitosisEnabled || utf8.RuneCountInString(output) <= cfg.MitosisThreshold {
		return
	}
	clone := a.Clone(a.Name + " Clone")

	o.mu.Lock()
	o.roster = append(o.roster, clone)
	o.clones[clone.ID] = true
	runID := o.runID
	o.mu.Unlock()

	trace.SpanFromContext(ctx).AddEvent("mitosis",
		trace.WithAttributes(telemetry.CloneAttributes(a.ID, clone.ID, clone.Name)...))
	o.metrics.RecordClone(ctx)
	o.traceLine(ctx, a.Name, fmt.Sprintf("%s performed mitosis due to task complexity.", a.Name))
	o.emitter.Emit(ctx, core.NewEvent(core.EventMitosis, runID, a.Name, "", map[string]any{
		"sourceId": a.ID,
		"cloneId":  clone.ID,
	}))
}

func (o *Orchestrator) finish(ctx context.Context, span trace.Span, err error) *Result {
	o.mu.Lock()
	state := StateCompleted
	if err != nil {
		state = StateFailed
		o.lastErr = err
	}
	o.state = state
	o.gate.unpause()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	clones := make([]string, 0, len(o.clones))
	for _, a := range o.roster {
		if o.clones[a.ID] {
			clones = append(clones, a.ID)
		}
	}
	res := &Result{
		RunID:  o.runID,
		State:  state,
		Output: o.wf.Output,
		Trace:  append([]string{}, o.trace...),
		Steps:  o.steps,
		Clones: clones,
		Err:    err,
	}
	h := o.run
	h.result = res
	size := len(o.roster)
	o.mu.Unlock()

	span.SetAttributes(telemetry.RunAttributes(res.RunID, size)...)
	span.SetAttributes(attribute.String(telemetry.AttrRunStatus, string(state)))
	o.metrics.RecordRun(ctx, string(state))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.WarnContext(ctx, "orchestrator.run.failed", "run_id", res.RunID, "steps", res.Steps, "error", err)
		o.traceLine(ctx, "", "Error: "+errors.As(err).Message)
		res.Trace = o.Trace()
		o.emitter.Emit(ctx, core.NewEvent(core.EventRunFailed, res.RunID, "", err.Error(), nil))
	} else {
		o.logger.InfoContext(ctx, "orchestrator.run.completed", "run_id", res.RunID, "steps", res.Steps, "clones", len(clones))
		o.emitter.Emit(ctx, core.NewEvent(core.EventRunCompleted, res.RunID, "", "", map[string]any{"steps": res.Steps}))
	}
	close(h.done)
	return res
}

func (o *Orchestrator) recordAudit(ctx context.Context, ev workflow.AuditEvent) {
	if err := o.audit.Record(ctx, ev); err != nil {
		o.logger.WarnContext(ctx, "orchestrator.audit.failed", "step", ev.Step, "error", err)
	}
}

// augment adds delegation guidance to the agent's input.
func augment(input, guidance string) string {
	if strings.TrimSpace(guidance) == "" {
		return input
	}
	return input + "\n\nDelegation guidance:\n" + guidance
}

func cancelled(err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.New(errors.CodeTimeout, "workflow run timed out", err)
	}
	return errors.New(errors.CodeCancelled, "workflow run aborted", err)
}

func rosterIDs(roster []*agent.Agent) []string {
	ids := make([]string, len(roster))
	for i, a := range roster {
		ids[i] = a.ID
	}
	return ids
}
