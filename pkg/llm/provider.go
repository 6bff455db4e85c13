// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package llm defines the completion service contract used by agents,
// the factory and the delegator, plus the concrete backends.
package llm

import "context"

// Role represents the role of a message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single unit of communication.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest encapsulates the input for the LLM.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	// Stream asks streaming-capable providers to deliver incremental chunks.
	Stream bool `json:"stream,omitempty"`
	// APIKey is the caller's bearer credential for this request. It is never serialized.
	APIKey string `json:"-"`
}

// ChatResponse encapsulates the output from the LLM.
type ChatResponse struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk is one incremental piece of a streamed completion. The final
// chunk has Done set; a chunk with Error terminates the stream.
type StreamChunk struct {
	Content string
	Done    bool
	Usage   *Usage
	Error   error
}

// Provider defines the interface for interacting with LLM backends.
type Provider interface {
	// Chat sends a chat request to the LLM and returns the response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// StreamingProvider is implemented by providers able to deliver partial text.
type StreamingProvider interface {
	Provider
	// ChatStream opens a stream. The channel is closed after the final chunk.
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)
}

// NewRequest builds the two-message request every caller in this module uses.
func NewRequest(systemPrompt, userPrompt string) ChatRequest {
	return ChatRequest{
		Messages: []Message{
			{Role: RoleSystem, Content: systemPrompt},
			{Role: RoleUser, Content: userPrompt},
		},
	}
}
