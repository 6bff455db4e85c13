// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package knowledge

import (
	"context"
	"sync"
)

// MemoryBackend is a simple in-process backend.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries []Entry
	index   map[string]int
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{index: make(map[string]int)}
}

// Put overwrites an existing key in place or appends a new one.
func (m *MemoryBackend) Put(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.index[e.Key]; ok {
		m.entries[i].Value = e.Value
		return nil
	}
	m.index[e.Key] = len(m.entries)
	m.entries = append(m.entries, e)
	return nil
}

// List returns a copy of all entries in insertion order.
func (m *MemoryBackend) List(_ context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

// Delete removes key and keeps the order of the remaining entries.
func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.index[key]
	if !ok {
		return nil
	}
	m.entries = append(m.entries[:i], m.entries[i+1:]...)
	delete(m.index, key)
	for j := i; j < len(m.entries); j++ {
		m.index[m.entries[j].Key] = j
	}
	return nil
}
