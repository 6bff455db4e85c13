// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"

	"github.com/jllopis/mitosis/pkg/errors"
	"github.com/jllopis/mitosis/pkg/workflow"
)

// AuditStore persists step audit events in SQLite.
type AuditStore struct {
	db *sql.DB
}

// NewAuditStore wraps an opened database.
func NewAuditStore(db *sql.DB) (*AuditStore, error) {
	if db == nil {
		return nil, errors.NewInvalidInputError("db is nil")
	}
	return &AuditStore{db: db}, nil
}

// Record stores a single audit event.
func (s *AuditStore) Record(ctx context.Context, event workflow.AuditEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (
			run_id, step, agent_id, agent_name, status, input_text, delegation_text, output_text, error_text, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.RunID,
		event.Step,
		event.AgentID,
		event.AgentName,
		event.Status,
		event.Input,
		event.Delegation,
		event.Output,
		event.Error,
		normalizeTime(event.StartedAt),
		normalizeTime(event.FinishedAt),
	)
	return err
}

// List returns audit events matching the filter in recording order.
func (s *AuditStore) List(ctx context.Context, filter workflow.AuditFilter) ([]workflow.AuditEvent, error) {
	query := `
		SELECT run_id, step, agent_id, agent_name, status, input_text, delegation_text, output_text, error_text, started_at, finished_at
		FROM audit_events
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.RunID != "" {
		addFilter("run_id = ?", filter.RunID)
	}
	if filter.AgentID != "" {
		addFilter("agent_id = ?", filter.AgentID)
	}
	if filter.Status != "" {
		addFilter("status = ?", filter.Status)
	}
	query += where + " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []workflow.AuditEvent
	for rows.Next() {
		var (
			event                          workflow.AuditEvent
			input, delegation, out, errMsg sql.NullString
			started, finished              sql.NullTime
		)
		if err := rows.Scan(
			&event.RunID,
			&event.Step,
			&event.AgentID,
			&event.AgentName,
			&event.Status,
			&input,
			&delegation,
			&out,
			&errMsg,
			&started,
			&finished,
		); err != nil {
			return nil, err
		}
		event.Input = input.String
		event.Delegation = delegation.String
		event.Output = out.String
		event.Error = errMsg.String
		if started.Valid {
			event.StartedAt = started.Time
		}
		if finished.Valid {
			event.FinishedAt = finished.Time
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

var _ workflow.AuditStore = (*AuditStore)(nil)
