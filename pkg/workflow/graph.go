// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package workflow holds the data the orchestrator runs over: the
// connection graph between agents, the running transcript, persisted run
// records and the per-step audit trail.
package workflow

import "fmt"

// Connection is a directed edge between two agents, by id.
type Connection struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// Chain links ids in order: (ids[i], ids[i+1]) for every i.
func Chain(ids []string) []Connection {
	if len(ids) < 2 {
		return []Connection{}
	}
	out := make([]Connection, 0, len(ids)-1)
	for i := 0; i+1 < len(ids); i++ {
		out = append(out, Connection{From: ids[i], To: ids[i+1]})
	}
	return out
}

// Connect appends c unless it is a self-loop or already present. The
// boolean reports whether conns changed.
func Connect(conns []Connection, c Connection) ([]Connection, bool) {
	if c.From == "" || c.To == "" || c.From == c.To {
		return conns, false
	}
	for _, existing := range conns {
		if existing == c {
			return conns, false
		}
	}
	return append(conns, c), true
}

// Disconnect removes the edge from -> to.
func Disconnect(conns []Connection, from, to string) ([]Connection, bool) {
	out := conns[:0:0]
	removed := false
	for _, c := range conns {
		if c.From == from && c.To == to {
			removed = true
			continue
		}
		out = append(out, c)
	}
	return out, removed
}

// Detach removes every edge touching id.
func Detach(conns []Connection, id string) []Connection {
	out := make([]Connection, 0, len(conns))
	for _, c := range conns {
		if c.From != id && c.To != id {
			out = append(out, c)
		}
	}
	return out
}

// Validate checks that every edge references a known id, has no
// self-loop and appears once.
func Validate(conns []Connection, ids []string) error {
	known := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		known[id] = struct{}{}
	}
	seen := make(map[Connection]struct{}, len(conns))
	for _, c := range conns {
		if c.From == "" || c.To == "" {
			return fmt.Errorf("connection must include from/to")
		}
		if c.From == c.To {
			return fmt.Errorf("connection %q -> %q is a self-loop", c.From, c.To)
		}
		if _, ok := known[c.From]; !ok {
			return fmt.Errorf("connection from %q not found", c.From)
		}
		if _, ok := known[c.To]; !ok {
			return fmt.Errorf("connection to %q not found", c.To)
		}
		if _, dup := seen[c]; dup {
			return fmt.Errorf("duplicate connection %q -> %q", c.From, c.To)
		}
		seen[c] = struct{}{}
	}
	return nil
}

// IsChain reports whether conns is exactly Chain(ids).
func IsChain(conns []Connection, ids []string) bool {
	want := Chain(ids)
	if len(conns) != len(want) {
		return false
	}
	for i := range want {
		if conns[i] != want[i] {
			return false
		}
	}
	return true
}
