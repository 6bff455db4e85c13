// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/mitosis/pkg/agent"
	"github.com/jllopis/mitosis/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChain(t *testing.T) {
	tests := []struct {
		name string
		ids  []string
		want []Connection
	}{
		{"empty", nil, []Connection{}},
		{"single", []string{"a"}, []Connection{}},
		{"three", []string{"a", "b", "c"}, []Connection{{"a", "b"}, {"b", "c"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Chain(tt.ids)
			assert.Equal(t, tt.want, got)
			assert.True(t, IsChain(got, tt.ids))
			assert.NoError(t, Validate(got, tt.ids))
		})
	}
}

func TestConnectSuppressesSelfLoopsAndDuplicates(t *testing.T) {
	conns, changed := Connect(nil, Connection{"a", "b"})
	require.True(t, changed)

	conns, changed = Connect(conns, Connection{"a", "b"})
	assert.False(t, changed)
	conns, changed = Connect(conns, Connection{"a", "a"})
	assert.False(t, changed)
	conns, changed = Connect(conns, Connection{"b", "a"})
	assert.True(t, changed)

	assert.Equal(t, []Connection{{"a", "b"}, {"b", "a"}}, conns)
}

func TestDisconnectAndDetach(t *testing.T) {
	conns := Chain([]string{"a", "b", "c"})

	out, removed := Disconnect(conns, "a", "b")
	assert.True(t, removed)
	assert.Equal(t, []Connection{{"b", "c"}}, out)
	assert.Len(t, conns, 2, "input slice is left intact")

	_, removed = Disconnect(conns, "c", "a")
	assert.False(t, removed)

	assert.Empty(t, Detach(conns, "b"))
	assert.Equal(t, []Connection{{"a", "b"}}, Detach(conns, "c"))
}

func TestValidateRejectsBadEdges(t *testing.T) {
	ids := []string{"a", "b"}
	tests := []struct {
		name  string
		conns []Connection
	}{
		{"self loop", []Connection{{"a", "a"}}},
		{"unknown from", []Connection{{"x", "a"}}},
		{"unknown to", []Connection{{"a", "x"}}},
		{"duplicate", []Connection{{"a", "b"}, {"a", "b"}}},
		{"missing end", []Connection{{"a", ""}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, Validate(tt.conns, ids))
		})
	}
}

func TestBlockRendering(t *testing.T) {
	b := Block{AgentName: "A", Input: "start", Delegation: "use A", Output: "X", Duration: 1500 * time.Millisecond}
	assert.Equal(t, "### A\n**Input:**\nstart\n\n**Delegation:**\nuse A\n\n**Output:**\nX\n\n*Time taken: 1.50 seconds*\n\n", b.String())

	b.Degraded = true
	assert.Contains(t, b.String(), "**Output (error):**\nX")

	var s State
	s.Append(b)
	s.Append(b)
	assert.Equal(t, 2, strings.Count(s.Output, "### A"))
}

func testRoster() []*agent.Agent {
	a := agent.New("Researcher", nil)
	_ = a.Update(agent.Model{Capabilities: agent.List{"search"}})
	b := agent.New("Writer", nil)
	return []*agent.Agent{a, b}
}

func TestNewRecordCopies(t *testing.T) {
	roster := testRoster()
	conns := Chain([]string{roster[0].ID, roster[1].ID})

	_, err := NewRecord("  ", roster, conns)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidInput))

	r, err := NewRecord("login flow", roster, conns)
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, roster[0].ID, r.Agents[0].ID)

	roster[0].Name = "changed"
	roster[0].Layers.AgentModel.Capabilities[0] = "changed"
	conns[0].To = "changed"

	assert.Equal(t, "Researcher", r.Agents[0].Name)
	assert.Equal(t, agent.List{"search"}, r.Agents[0].Layers.AgentModel.Capabilities)
	assert.Equal(t, roster[1].ID, r.Connections[0].To)

	other, err := NewRecord("login flow", roster, conns)
	require.NoError(t, err)
	assert.NotEqual(t, r.ID, other.ID)
}

func TestDocumentRoundTrip(t *testing.T) {
	roster := testRoster()
	doc := &Document{Agents: roster, Connections: Chain([]string{roster[0].ID, roster[1].ID})}
	dir := t.TempDir()

	for _, name := range []string{"flow.json", "flow.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, SaveDocument(path, doc))

			got, err := LoadDocument(path)
			require.NoError(t, err)
			require.Len(t, got.Agents, 2)
			assert.Equal(t, roster[0].ID, got.Agents[0].ID)
			assert.Equal(t, agent.List{"search"}, got.Agents[0].Layers.AgentModel.Capabilities)
			assert.NotNil(t, got.Agents[1].Layers.ExecutiveFunction.Plans)
			assert.Equal(t, doc.Connections, got.Connections)
		})
	}
}

func TestParseRejectsMalformedDocuments(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"not json", "{agents"},
		{"missing id", `{"agents": [{"name": "a"}]}`},
		{"dangling connection", `{"agents": [{"id": "a"}], "connections": [{"from": "a", "to": "b"}]}`},
		{"duplicate id", `{"agents": [{"id": "a"}, {"id": "a"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseJSON([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.CodeConfigurationImport))
		})
	}
}

func TestMemoryRecordStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRecordStore()
	r, err := NewRecord("first", testRoster(), nil)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, r))

	got, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	got.Agents[0].Name = "mutated"

	again, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "Researcher", again.Agents[0].Name)

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.Delete(ctx, r.ID))
	_, err = s.Get(ctx, r.ID)
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
	assert.True(t, errors.IsCode(s.Delete(ctx, r.ID), errors.CodeNotFound))
}

func TestMemoryAuditStoreFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAuditStore()
	require.NoError(t, s.Record(ctx, AuditEvent{RunID: "r1", Step: 1, AgentID: "a", Status: StepCompleted}))
	require.NoError(t, s.Record(ctx, AuditEvent{RunID: "r1", Step: 2, AgentID: "b", Status: StepDegraded}))
	require.NoError(t, s.Record(ctx, AuditEvent{RunID: "r2", Step: 1, AgentID: "a", Status: StepCompleted}))

	events, err := s.List(ctx, AuditFilter{RunID: "r1"})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = s.List(ctx, AuditFilter{Status: StepDegraded})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "b", events[0].AgentID)

	events, err = s.List(ctx, AuditFilter{AgentID: "a", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
