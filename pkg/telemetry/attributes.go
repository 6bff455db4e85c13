// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Span and metric attribute keys.
const (
	AttrRunID      = "mitosis.run.id"
	AttrRunStatus  = "mitosis.run.status"
	AttrRosterSize = "mitosis.roster.size"

	AttrStepIndex    = "mitosis.step.index"
	AttrStepDegraded = "mitosis.step.degraded"
	AttrStepOutput   = "mitosis.step.output_length"

	AttrAgentID   = "mitosis.agent.id"
	AttrAgentName = "mitosis.agent.name"
	AttrCloneOf   = "mitosis.agent.clone_of"

	// LLM attributes follow the gen_ai conventions.
	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMProvider     = "gen_ai.system"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"

	AttrErrorCode = "error.code"
)

// RunAttributes describes a workflow run.
func RunAttributes(runID string, rosterSize int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrRunID, runID),
		attribute.Int(AttrRosterSize, rosterSize),
	}
}

// StepAttributes describes one executed step.
func StepAttributes(runID string, step int, agentID, agentName string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int(AttrStepIndex, step),
		attribute.String(AttrAgentID, agentID),
	}
	if runID != "" {
		attrs = append(attrs, attribute.String(AttrRunID, runID))
	}
	if agentName != "" {
		attrs = append(attrs, attribute.String(AttrAgentName, agentName))
	}
	return attrs
}

// StepResultAttributes describes a finished step.
func StepResultAttributes(outputLength int, degraded bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrStepOutput, outputLength),
		attribute.Bool(AttrStepDegraded, degraded),
	}
}

// CloneAttributes describes a mitosis event.
func CloneAttributes(sourceID, cloneID, cloneName string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrCloneOf, sourceID),
		attribute.String(AttrAgentID, cloneID),
		attribute.String(AttrAgentName, cloneName),
	}
}

// LLMAttributes describes a completion call. Empty values are skipped.
func LLMAttributes(model, provider string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if model != "" {
		attrs = append(attrs, attribute.String(AttrLLMModel, model))
	}
	if provider != "" {
		attrs = append(attrs, attribute.String(AttrLLMProvider, provider))
	}
	return attrs
}

// UsageAttributes records token counts. Zero counts are skipped.
func UsageAttributes(inputTokens, outputTokens int) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if inputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, inputTokens))
	}
	if outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOutput, outputTokens))
	}
	return attrs
}
