// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/jllopis/mitosis/pkg/agent"
	"github.com/jllopis/mitosis/pkg/errors"
	"github.com/jllopis/mitosis/pkg/knowledge"
	"github.com/jllopis/mitosis/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "mitosis.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "")
	assert.True(t, errors.IsCode(err, errors.CodeInvalidInput))
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.db")
	db, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(context.Background(), path)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, Ping(db)(context.Background()))
}

func TestAuditStore(t *testing.T) {
	ctx := context.Background()
	s, err := NewAuditStore(openTestDB(t))
	require.NoError(t, err)

	start := time.Now().UTC().Truncate(time.Second)
	events := []workflow.AuditEvent{
		{RunID: "run-1", Step: 1, AgentID: "a", AgentName: "A", Status: workflow.StepCompleted, Input: "in", Delegation: "g", Output: "out", StartedAt: start, FinishedAt: start.Add(time.Second)},
		{RunID: "run-1", Step: 2, AgentID: "b", AgentName: "B", Status: workflow.StepDegraded, Error: "boom", StartedAt: start},
		{RunID: "run-2", Step: 1, AgentID: "a", AgentName: "A", Status: workflow.StepFailed},
	}
	for _, ev := range events {
		require.NoError(t, s.Record(ctx, ev))
	}

	got, err := s.List(ctx, workflow.AuditFilter{RunID: "run-1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "out", got[0].Output)
	assert.Equal(t, "g", got[0].Delegation)
	assert.True(t, got[0].StartedAt.Equal(start))
	assert.Equal(t, "boom", got[1].Error)
	assert.True(t, got[1].FinishedAt.IsZero())

	got, err = s.List(ctx, workflow.AuditFilter{AgentID: "a", Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "run-1", got[0].RunID)

	got, err = s.List(ctx, workflow.AuditFilter{Status: workflow.StepFailed})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "run-2", got[0].RunID)
}

func TestRecordStore(t *testing.T) {
	ctx := context.Background()
	s, err := NewRecordStore(openTestDB(t))
	require.NoError(t, err)

	a, b := agent.New("A", nil), agent.New("B", nil)
	require.NoError(t, a.Update(agent.Aspirational{Mission: "write"}))
	rec, err := workflow.NewRecord("first", []*agent.Agent{a, b}, workflow.Chain([]string{a.ID, b.ID}))
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, rec))

	other, err := workflow.NewRecord("second", nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, other))

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Name)
	require.Len(t, got.Agents, 2)
	assert.Equal(t, a.ID, got.Agents[0].ID)
	assert.Equal(t, agent.Text("write"), got.Agents[0].Layers.Aspirational.Mission)
	assert.Equal(t, rec.Connections, got.Connections)
	assert.WithinDuration(t, rec.CreatedAt, got.CreatedAt, time.Second)

	rec.Name = "renamed"
	require.NoError(t, s.Save(ctx, rec))
	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "renamed", list[0].Name, "resave keeps position")
	assert.Equal(t, "second", list[1].Name)

	require.NoError(t, s.Delete(ctx, rec.ID))
	_, err = s.Get(ctx, rec.ID)
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
	assert.True(t, errors.IsCode(s.Delete(ctx, rec.ID), errors.CodeNotFound))
	assert.True(t, errors.IsCode(s.Save(ctx, &workflow.RunRecord{}), errors.CodeInvalidInput))
}

func TestKnowledgeBackendKeepsOrder(t *testing.T) {
	ctx := context.Background()
	b, err := NewKnowledgeBackend(openTestDB(t))
	require.NoError(t, err)
	store := knowledge.New(b, knowledge.WithLatency(time.Millisecond))

	require.NoError(t, store.AddEntry(ctx, "login", "use oauth"))
	require.NoError(t, store.AddEntry(ctx, "db", "postgres"))
	require.NoError(t, store.AddEntry(ctx, "login", "use passkeys"))

	entries, err := store.Entries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []knowledge.Entry{
		{Key: "login", Value: "use passkeys"},
		{Key: "db", Value: "postgres"},
	}, entries)

	assert.Equal(t, "use passkeys", store.Query(ctx, "add a login page"))

	require.NoError(t, store.Remove(ctx, "login"))
	require.NoError(t, store.Remove(ctx, "missing"))
	v, ok, err := store.Get(ctx, "login")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, v)
}

func TestNilDB(t *testing.T) {
	_, err := NewAuditStore(nil)
	assert.Error(t, err)
	_, err = NewRecordStore(nil)
	assert.Error(t, err)
	_, err = NewKnowledgeBackend(nil)
	assert.Error(t, err)
}
