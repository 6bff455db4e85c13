// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/jllopis/mitosis/pkg/agent"
	"github.com/jllopis/mitosis/pkg/core"
	"github.com/jllopis/mitosis/pkg/errors"
	"github.com/jllopis/mitosis/pkg/workflow"
)

// AddAgent appends a blank agent. An empty name becomes "Agent N".
func (o *Orchestrator) AddAgent(ctx context.Context, name string) (*agent.Agent, error) {
	o.mu.Lock()
	if err := o.mutable(); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("Agent %d", len(o.roster)+1)
	}
	a := agent.New(name, o.env)
	o.roster = append(o.roster, a)
	out := a.Copy()
	o.mu.Unlock()

	o.rosterChanged(ctx)
	return out, nil
}

// UpdateAgent replaces the agent with the same id.
func (o *Orchestrator) UpdateAgent(ctx context.Context, a *agent.Agent) error {
	if a == nil || a.ID == "" {
		return errors.NewInvalidInputError("agent id is required")
	}
	o.mu.Lock()
	if err := o.mutable(); err != nil {
		o.mu.Unlock()
		return err
	}
	i := o.indexOf(a.ID)
	if i < 0 {
		o.mu.Unlock()
		return errors.NewNotFoundError("agent", a.ID)
	}
	c := a.Copy()
	c.Bind(o.env)
	o.roster[i] = c
	o.mu.Unlock()

	o.rosterChanged(ctx)
	return nil
}

// RemoveAgent drops the agent and every connection touching it.
func (o *Orchestrator) RemoveAgent(ctx context.Context, id string) error {
	o.mu.Lock()
	if err := o.mutable(); err != nil {
		o.mu.Unlock()
		return err
	}
	i := o.indexOf(id)
	if i < 0 {
		o.mu.Unlock()
		return errors.NewNotFoundError("agent", id)
	}
	o.roster = append(o.roster[:i:i], o.roster[i+1:]...)
	o.connections = workflow.Detach(o.connections, id)
	o.mu.Unlock()

	o.rosterChanged(ctx)
	return nil
}

// MoveAgent moves the agent at from to position to, shifting the rest.
func (o *Orchestrator) MoveAgent(ctx context.Context, from, to int) error {
	o.mu.Lock()
	if err := o.mutable(); err != nil {
		o.mu.Unlock()
		return err
	}
	n := len(o.roster)
	if from < 0 || from >= n || to < 0 || to >= n {
		o.mu.Unlock()
		return errors.NewInvalidInputError(fmt.Sprintf("move %d -> %d out of range for %d agents", from, to, n))
	}
	if from != to {
		a := o.roster[from]
		rest := append(o.roster[:from:from], o.roster[from+1:]...)
		o.roster = append(rest[:to:to], append([]*agent.Agent{a}, rest[to:]...)...)
	}
	o.mu.Unlock()

	o.rosterChanged(ctx)
	return nil
}

// AddConnection links the agents at roster positions fromIndex and
// toIndex. Self-loops and duplicates are ignored; the boolean reports
// whether a connection was added.
func (o *Orchestrator) AddConnection(ctx context.Context, fromIndex, toIndex int) (bool, error) {
	o.mu.Lock()
	if err := o.mutable(); err != nil {
		o.mu.Unlock()
		return false, err
	}
	n := len(o.roster)
	if fromIndex < 0 || fromIndex >= n || toIndex < 0 || toIndex >= n {
		o.mu.Unlock()
		return false, errors.NewInvalidInputError(fmt.Sprintf("connection %d -> %d out of range for %d agents", fromIndex, toIndex, n))
	}
	var added bool
	o.connections, added = workflow.Connect(o.connections, workflow.Connection{
		From: o.roster[fromIndex].ID,
		To:   o.roster[toIndex].ID,
	})
	if added {
		o.generated = false
	}
	o.mu.Unlock()

	if added {
		o.rosterChanged(ctx)
	}
	return added, nil
}

// RemoveConnection deletes the edge from -> to.
func (o *Orchestrator) RemoveConnection(ctx context.Context, from, to string) error {
	o.mu.Lock()
	if err := o.mutable(); err != nil {
		o.mu.Unlock()
		return err
	}
	var removed bool
	o.connections, removed = workflow.Disconnect(o.connections, from, to)
	if removed {
		o.generated = false
	}
	o.mu.Unlock()

	if !removed {
		return errors.NewNotFoundError("connection", from+" -> "+to)
	}
	o.rosterChanged(ctx)
	return nil
}

// ClearRoster empties the roster so the next run generates a new one.
func (o *Orchestrator) ClearRoster(ctx context.Context) error {
	o.mu.Lock()
	if o.state.Active() {
		o.mu.Unlock()
		return errors.NewConflictError("cannot clear the roster during a run")
	}
	o.roster = nil
	o.connections = nil
	o.generated = false
	o.mu.Unlock()

	o.rosterChanged(ctx)
	return nil
}

// SetInput replaces the workflow input. While paused it also becomes the
// input of the next step.
func (o *Orchestrator) SetInput(input string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.mutable(); err != nil {
		return err
	}
	o.wf.Input = input
	if o.state == StatePaused {
		o.current = input
		o.inputEdited = true
	}
	return nil
}

// Export returns the roster and connections as a document.
func (o *Orchestrator) Export() *workflow.Document {
	o.mu.Lock()
	defer o.mu.Unlock()
	return &workflow.Document{
		Agents:      workflow.CopyRoster(o.roster),
		Connections: workflow.CopyConnections(o.connections),
	}
}

// Import replaces the roster and connections with doc.
func (o *Orchestrator) Import(ctx context.Context, doc *workflow.Document) error {
	if err := doc.Validate(); err != nil {
		return errors.NewConfigurationImportError("invalid document", err)
	}
	o.mu.Lock()
	if err := o.mutable(); err != nil {
		o.mu.Unlock()
		return err
	}
	o.roster = workflow.CopyRoster(doc.Agents)
	for _, a := range o.roster {
		a.Bind(o.env)
	}
	o.connections = workflow.CopyConnections(doc.Connections)
	o.generated = false
	o.mu.Unlock()

	o.rosterChanged(ctx)
	return nil
}

// SaveRecord snapshots the roster and connections under name.
func (o *Orchestrator) SaveRecord(ctx context.Context, name string) (*workflow.RunRecord, error) {
	o.mu.Lock()
	r, err := workflow.NewRecord(name, o.roster, o.connections)
	o.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := o.records.Save(ctx, r); err != nil {
		return nil, err
	}
	o.logger.InfoContext(ctx, "orchestrator.record.saved", "record_id", r.ID, "name", r.Name, "agents", len(r.Agents))
	return r, nil
}

// Records lists saved records.
func (o *Orchestrator) Records(ctx context.Context) ([]*workflow.RunRecord, error) {
	return o.records.List(ctx)
}

// LoadRecord replaces the roster and connections with a saved record.
func (o *Orchestrator) LoadRecord(ctx context.Context, id string) error {
	r, err := o.records.Get(ctx, id)
	if err != nil {
		return err
	}
	return o.Import(ctx, r.Document())
}

// DeleteRecord removes a saved record.
func (o *Orchestrator) DeleteRecord(ctx context.Context, id string) error {
	return o.records.Delete(ctx, id)
}

// Audit lists the audit events of a run. An empty runID lists all runs.
func (o *Orchestrator) Audit(ctx context.Context, runID string) ([]workflow.AuditEvent, error) {
	return o.audit.List(ctx, workflow.AuditFilter{RunID: runID})
}

// indexOf returns the roster position of id or -1. Callers hold o.mu.
func (o *Orchestrator) indexOf(id string) int {
	for i, a := range o.roster {
		if a.ID == id {
			return i
		}
	}
	return -1
}

func (o *Orchestrator) rosterChanged(ctx context.Context) {
	o.mu.Lock()
	runID, size := o.runID, len(o.roster)
	o.mu.Unlock()
	o.emitter.Emit(ctx, core.NewEvent(core.EventRosterChanged, runID, "", "", map[string]any{"agents": size}))
}
