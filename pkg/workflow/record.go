// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jllopis/mitosis/pkg/agent"
	"github.com/jllopis/mitosis/pkg/errors"
)

// RunRecord is a saved snapshot of a roster and its connections. It is
// never changed after creation.
type RunRecord struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Agents      []*agent.Agent `json:"agents" yaml:"agents"`
	Connections []Connection   `json:"connections" yaml:"connections"`
	CreatedAt   time.Time      `json:"createdAt" yaml:"createdAt"`
}

// NewRecord snapshots roster and conns under name with a fresh id.
func NewRecord(name string, roster []*agent.Agent, conns []Connection) (*RunRecord, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.NewInvalidInputError("record name is required")
	}
	return &RunRecord{
		ID:          uuid.NewString(),
		Name:        name,
		Agents:      CopyRoster(roster),
		Connections: CopyConnections(conns),
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Copy returns a deep copy.
func (r *RunRecord) Copy() *RunRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Agents = CopyRoster(r.Agents)
	out.Connections = CopyConnections(r.Connections)
	return &out
}

// Document returns the export form of the record.
func (r *RunRecord) Document() *Document {
	return &Document{Agents: CopyRoster(r.Agents), Connections: CopyConnections(r.Connections)}
}

// CopyRoster deep-copies every agent, keeping ids.
func CopyRoster(roster []*agent.Agent) []*agent.Agent {
	out := make([]*agent.Agent, 0, len(roster))
	for _, a := range roster {
		if a != nil {
			out = append(out, a.Copy())
		}
	}
	return out
}

// CopyConnections returns a copy of conns that is never nil.
func CopyConnections(conns []Connection) []Connection {
	out := make([]Connection, len(conns))
	copy(out, conns)
	return out
}
