// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"

	"github.com/jllopis/mitosis/pkg/errors"
	"github.com/jllopis/mitosis/pkg/knowledge"
)

// KnowledgeBackend keeps knowledge entries in SQLite. Overwriting a key
// updates the value in place so the entry keeps its position.
type KnowledgeBackend struct {
	db *sql.DB
}

// NewKnowledgeBackend wraps an opened database.
func NewKnowledgeBackend(db *sql.DB) (*KnowledgeBackend, error) {
	if db == nil {
		return nil, errors.NewInvalidInputError("db is nil")
	}
	return &KnowledgeBackend{db: db}, nil
}

// Put implements knowledge.Backend.
func (b *KnowledgeBackend) Put(ctx context.Context, e knowledge.Entry) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO knowledge_entries (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, e.Key, e.Value)
	return err
}

// List implements knowledge.Backend.
func (b *KnowledgeBackend) List(ctx context.Context) ([]knowledge.Entry, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT key, value FROM knowledge_entries ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []knowledge.Entry
	for rows.Next() {
		var e knowledge.Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Delete implements knowledge.Backend. Missing keys are not an error.
func (b *KnowledgeBackend) Delete(ctx context.Context, key string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM knowledge_entries WHERE key = ?`, key)
	return err
}

var _ knowledge.Backend = (*KnowledgeBackend)(nil)
