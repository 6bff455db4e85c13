// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"sync"

	"github.com/jllopis/mitosis/pkg/errors"
)

// RecordStore persists saved run records.
type RecordStore interface {
	Save(ctx context.Context, r *RunRecord) error
	List(ctx context.Context) ([]*RunRecord, error)
	Get(ctx context.Context, id string) (*RunRecord, error)
	Delete(ctx context.Context, id string) error
}

// MemoryRecordStore keeps records in memory, in save order.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records []*RunRecord
}

// NewMemoryRecordStore returns an empty store.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{}
}

// Save stores a copy of r.
func (s *MemoryRecordStore) Save(_ context.Context, r *RunRecord) error {
	if r == nil || r.ID == "" {
		return errors.NewInvalidInputError("record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.records {
		if existing.ID == r.ID {
			s.records[i] = r.Copy()
			return nil
		}
	}
	s.records = append(s.records, r.Copy())
	return nil
}

// List returns copies of every record.
func (s *MemoryRecordStore) List(_ context.Context) ([]*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*RunRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Copy())
	}
	return out, nil
}

// Get returns a copy of the record with id.
func (s *MemoryRecordStore) Get(_ context.Context, id string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.ID == id {
			return r.Copy(), nil
		}
	}
	return nil, errors.NewNotFoundError("record", id)
}

// Delete removes the record with id.
func (s *MemoryRecordStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.records {
		if r.ID == id {
			s.records = append(s.records[:i], s.records[i+1:]...)
			return nil
		}
	}
	return errors.NewNotFoundError("record", id)
}
