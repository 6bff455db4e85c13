// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jllopis/mitosis/pkg/agent"
	"github.com/jllopis/mitosis/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Document is the import/export form of a workflow configuration.
type Document struct {
	Agents      []*agent.Agent `json:"agents" yaml:"agents"`
	Connections []Connection   `json:"connections" yaml:"connections"`
}

// Validate checks agent ids and connections.
func (d *Document) Validate() error {
	if d == nil {
		return fmt.Errorf("document is nil")
	}
	ids := make([]string, 0, len(d.Agents))
	seen := make(map[string]struct{}, len(d.Agents))
	for i, a := range d.Agents {
		if a == nil {
			return fmt.Errorf("agent %d is null", i)
		}
		if strings.TrimSpace(a.ID) == "" {
			return fmt.Errorf("agent %d has no id", i)
		}
		if _, dup := seen[a.ID]; dup {
			return fmt.Errorf("duplicate agent id %q", a.ID)
		}
		seen[a.ID] = struct{}{}
		ids = append(ids, a.ID)
	}
	return Validate(d.Connections, ids)
}

func (d *Document) normalize() {
	for _, a := range d.Agents {
		a.Layers.Normalize()
		a.InputOutput.Normalize()
	}
	if d.Connections == nil {
		d.Connections = []Connection{}
	}
}

// ParseJSON decodes and validates a JSON document.
func ParseJSON(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.NewConfigurationImportError("empty JSON payload", nil)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.NewConfigurationImportError("parse json document", err)
	}
	return finish(&doc)
}

// ParseYAML decodes and validates a YAML document.
func ParseYAML(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.NewConfigurationImportError("empty YAML payload", nil)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.NewConfigurationImportError("parse yaml document", err)
	}
	return finish(&doc)
}

func finish(doc *Document) (*Document, error) {
	if err := doc.Validate(); err != nil {
		return nil, errors.NewConfigurationImportError("invalid document", err)
	}
	doc.normalize()
	return doc, nil
}

// MarshalJSON serializes a document. Use pretty for indented output.
func MarshalJSON(doc *Document, pretty bool) ([]byte, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	if pretty {
		return json.MarshalIndent(doc, "", "  ")
	}
	return json.Marshal(doc)
}

// MarshalYAML serializes a document to YAML.
func MarshalYAML(doc *Document) ([]byte, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return yaml.Marshal(doc)
}

// LoadDocument reads a document from a .json, .yaml or .yml file.
func LoadDocument(path string) (*Document, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.NewInvalidInputError("document path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigurationImportError("read document", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}

// SaveDocument writes doc to path, choosing the format by extension.
func SaveDocument(path string, doc *Document) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = MarshalYAML(doc)
	default:
		data, err = MarshalJSON(doc, true)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
