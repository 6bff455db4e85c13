// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package knowledge

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ParseSeed decodes a seed document. Two shapes are accepted, in YAML or
// JSON: a mapping of key to value, whose document order is kept, or a
// list of {key, value} objects.
func ParseSeed(data []byte) ([]Entry, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse knowledge seed: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]

	switch root.Kind {
	case yaml.MappingNode:
		entries := make([]Entry, 0, len(root.Content)/2)
		for i := 0; i+1 < len(root.Content); i += 2 {
			k, v := root.Content[i], root.Content[i+1]
			if v.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("parse knowledge seed: value of %q must be a string (line %d)", k.Value, v.Line)
			}
			entries = append(entries, Entry{Key: k.Value, Value: v.Value})
		}
		return entries, nil
	case yaml.SequenceNode:
		var entries []Entry
		if err := root.Decode(&entries); err != nil {
			return nil, fmt.Errorf("parse knowledge seed: %w", err)
		}
		return entries, nil
	default:
		return nil, fmt.Errorf("parse knowledge seed: expected a mapping or a list at line %d", root.Line)
	}
}

// LoadFile reads path and upserts its entries into s.
func (s *Store) LoadFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read knowledge seed: %w", err)
	}
	entries, err := ParseSeed(data)
	if err != nil {
		return 0, err
	}
	return s.Load(ctx, entries)
}
