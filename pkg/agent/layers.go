// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// List is an ordered sequence of short descriptions. Models do not always
// emit plain strings, so non-string elements are kept as compact JSON.
type List []string

// UnmarshalJSON accepts an array of any JSON values, a single string, or null.
func (l *List) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*l = List{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = List{s}
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("expected a list: %w", err)
	}
	out := make(List, 0, len(raw))
	for _, r := range raw {
		out = append(out, textOf(r))
	}
	*l = out
	return nil
}

// Text is a free-form description. Non-string JSON is kept as compact JSON.
type Text string

// UnmarshalJSON accepts any JSON value.
func (t *Text) UnmarshalJSON(data []byte) error {
	*t = Text(textOf(data))
	return nil
}

func textOf(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// Facet is one of the six layer structures or the IO descriptor.
// Agent.Update applies exactly one facet at a time.
type Facet interface {
	FacetName() string
}

// Aspirational holds the agent's values.
type Aspirational struct {
	Morality Text `json:"morality" yaml:"morality"`
	Ethics   Text `json:"ethics" yaml:"ethics"`
	Mission  Text `json:"mission" yaml:"mission"`
}

// GlobalStrategy holds the situational context and overall approach.
type GlobalStrategy struct {
	EnvironmentalContext Text `json:"environmentalContext" yaml:"environmentalContext"`
	Strategy             Text `json:"strategy" yaml:"strategy"`
}

// Model describes what the agent can and cannot do.
type Model struct {
	Capabilities List           `json:"capabilities" yaml:"capabilities"`
	Limitations  List           `json:"limitations" yaml:"limitations"`
	Memory       map[string]any `json:"memory" yaml:"memory"`
}

// ExecutiveFunction holds risks, resources and plans.
type ExecutiveFunction struct {
	Risks     List `json:"risks" yaml:"risks"`
	Resources List `json:"resources" yaml:"resources"`
	Plans     List `json:"plans" yaml:"plans"`
}

// CognitiveControl describes how tasks are picked and switched.
type CognitiveControl struct {
	TaskSelection Text `json:"taskSelection" yaml:"taskSelection"`
	TaskSwitching Text `json:"taskSwitching" yaml:"taskSwitching"`
}

// TaskProsecution logs task outcomes.
type TaskProsecution struct {
	Success         List `json:"success" yaml:"success"`
	Failure         List `json:"failure" yaml:"failure"`
	IndividualTasks List `json:"individualTasks" yaml:"individualTasks"`
}

// IO describes the agent's peripherals. It is metadata only.
type IO struct {
	Motors    List           `json:"motors" yaml:"motors"`
	Sensors   List           `json:"sensors" yaml:"sensors"`
	Telemetry List           `json:"telemetry" yaml:"telemetry"`
	Devices   List           `json:"devices" yaml:"devices"`
	API       map[string]any `json:"api" yaml:"api"`
}

func (Aspirational) FacetName() string      { return "aspirational" }
func (GlobalStrategy) FacetName() string    { return "globalStrategy" }
func (Model) FacetName() string             { return "agentModel" }
func (ExecutiveFunction) FacetName() string { return "executiveFunction" }
func (CognitiveControl) FacetName() string  { return "cognitiveControl" }
func (TaskProsecution) FacetName() string   { return "taskProsecution" }
func (IO) FacetName() string                { return "inputOutput" }

// Layers is the fixed six-facet description of an agent. After Normalize
// every collection is non-nil so the serialized shape never changes.
type Layers struct {
	Aspirational      Aspirational      `json:"aspirational" yaml:"aspirational"`
	GlobalStrategy    GlobalStrategy    `json:"globalStrategy" yaml:"globalStrategy"`
	AgentModel        Model             `json:"agentModel" yaml:"agentModel"`
	ExecutiveFunction ExecutiveFunction `json:"executiveFunction" yaml:"executiveFunction"`
	CognitiveControl  CognitiveControl  `json:"cognitiveControl" yaml:"cognitiveControl"`
	TaskProsecution   TaskProsecution   `json:"taskProsecution" yaml:"taskProsecution"`
}

// NewLayers returns empty, complete layers.
func NewLayers() Layers {
	var l Layers
	l.Normalize()
	return l
}

// Normalize replaces nil collections with empty ones.
func (l *Layers) Normalize() {
	l.AgentModel.normalize()
	l.ExecutiveFunction.normalize()
	l.TaskProsecution.normalize()
}

// Clone returns a deep copy.
func (l Layers) Clone() Layers {
	out := l
	out.AgentModel = l.AgentModel.clone()
	out.ExecutiveFunction = ExecutiveFunction{
		Risks:     cloneList(l.ExecutiveFunction.Risks),
		Resources: cloneList(l.ExecutiveFunction.Resources),
		Plans:     cloneList(l.ExecutiveFunction.Plans),
	}
	out.TaskProsecution = TaskProsecution{
		Success:         cloneList(l.TaskProsecution.Success),
		Failure:         cloneList(l.TaskProsecution.Failure),
		IndividualTasks: cloneList(l.TaskProsecution.IndividualTasks),
	}
	return out
}

// JSON renders the layers as indented JSON for prompts.
func (l Layers) JSON() string {
	l.Normalize()
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

func (m *Model) normalize() {
	if m.Capabilities == nil {
		m.Capabilities = List{}
	}
	if m.Limitations == nil {
		m.Limitations = List{}
	}
	if m.Memory == nil {
		m.Memory = map[string]any{}
	}
}

func (m Model) clone() Model {
	return Model{
		Capabilities: cloneList(m.Capabilities),
		Limitations:  cloneList(m.Limitations),
		Memory:       cloneMap(m.Memory),
	}
}

func (e *ExecutiveFunction) normalize() {
	if e.Risks == nil {
		e.Risks = List{}
	}
	if e.Resources == nil {
		e.Resources = List{}
	}
	if e.Plans == nil {
		e.Plans = List{}
	}
}

func (t *TaskProsecution) normalize() {
	if t.Success == nil {
		t.Success = List{}
	}
	if t.Failure == nil {
		t.Failure = List{}
	}
	if t.IndividualTasks == nil {
		t.IndividualTasks = List{}
	}
}

// Normalize replaces nil collections with empty ones.
func (io *IO) Normalize() {
	for _, l := range []*List{&io.Motors, &io.Sensors, &io.Telemetry, &io.Devices} {
		if *l == nil {
			*l = List{}
		}
	}
	if io.API == nil {
		io.API = map[string]any{}
	}
}

// Clone returns a deep copy.
func (io IO) Clone() IO {
	return IO{
		Motors:    cloneList(io.Motors),
		Sensors:   cloneList(io.Sensors),
		Telemetry: cloneList(io.Telemetry),
		Devices:   cloneList(io.Devices),
		API:       cloneMap(io.API),
	}
}

func cloneList(l List) List {
	if l == nil {
		return List{}
	}
	out := make(List, len(l))
	copy(out, l)
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
