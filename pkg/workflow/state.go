// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"fmt"
	"strings"
	"time"
)

// State is the running transcript of a workflow. Output only grows during
// a run.
type State struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// Block is the rendered record of one executed step.
type Block struct {
	AgentName  string
	Input      string
	Delegation string
	Output     string
	Degraded   bool
	Duration   time.Duration
}

// String renders the block as markdown.
func (b Block) String() string {
	header := "**Output:**"
	if b.Degraded {
		header = "**Output (error):**"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "### %s\n", b.AgentName)
	fmt.Fprintf(&sb, "**Input:**\n%s\n\n", b.Input)
	fmt.Fprintf(&sb, "**Delegation:**\n%s\n\n", b.Delegation)
	fmt.Fprintf(&sb, "%s\n%s\n\n", header, b.Output)
	fmt.Fprintf(&sb, "*Time taken: %.2f seconds*\n\n", b.Duration.Seconds())
	return sb.String()
}

// Append adds a rendered block to the output.
func (s *State) Append(b Block) {
	s.Output += b.String()
}
