// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/jllopis/mitosis/pkg/errors"
	"github.com/jllopis/mitosis/pkg/workflow"
)

// RecordStore persists saved run records in SQLite. The roster and
// connections are kept as one JSON document per record.
type RecordStore struct {
	db *sql.DB
}

// NewRecordStore wraps an opened database.
func NewRecordStore(db *sql.DB) (*RecordStore, error) {
	if db == nil {
		return nil, errors.NewInvalidInputError("db is nil")
	}
	return &RecordStore{db: db}, nil
}

// Save inserts r, or replaces the record with the same id.
func (s *RecordStore) Save(ctx context.Context, r *workflow.RunRecord) error {
	if r == nil || r.ID == "" {
		return errors.NewInvalidInputError("record id is required")
	}
	doc, err := workflow.MarshalJSON(r.Document(), false)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_records (id, name, document_json, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, document_json = excluded.document_json
	`, r.ID, r.Name, string(doc), normalizeTime(r.CreatedAt))
	return err
}

// List returns every record in save order.
func (s *RecordStore) List(ctx context.Context) ([]*workflow.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, document_json, created_at FROM run_records ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*workflow.RunRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns the record with id.
func (s *RecordStore) Get(ctx context.Context, id string) (*workflow.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, document_json, created_at FROM run_records WHERE id = ?`, id)
	r, err := scanRecord(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("record", id)
	}
	return r, err
}

// Delete removes the record with id.
func (s *RecordStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM run_records WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.NewNotFoundError("record", id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*workflow.RunRecord, error) {
	var (
		r       workflow.RunRecord
		docJSON string
		created sql.NullTime
	)
	if err := sc.Scan(&r.ID, &r.Name, &docJSON, &created); err != nil {
		return nil, err
	}
	doc, err := workflow.ParseJSON([]byte(docJSON))
	if err != nil {
		return nil, err
	}
	r.Agents = doc.Agents
	r.Connections = doc.Connections
	if created.Valid {
		r.CreatedAt = created.Time
	}
	return &r, nil
}

var _ workflow.RecordStore = (*RecordStore)(nil)
