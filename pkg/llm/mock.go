// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"sync"
)

// MockProvider is a testing implementation of Provider. ChatFunc takes
// precedence over Err, which takes precedence over Response.
type MockProvider struct {
	Response string
	Err      error
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	mu       sync.Mutex
	requests []ChatRequest
}

func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return &ChatResponse{
		Content: m.Response,
		Usage: Usage{
			PromptTokens:     10,
			CompletionTokens: 10,
			TotalTokens:      20,
		},
	}, nil
}

// Requests returns a copy of every request received so far.
func (m *MockProvider) Requests() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChatRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// StreamingMockProvider delivers Chunks one by one through ChatStream.
// Chat returns the concatenation so both paths agree.
type StreamingMockProvider struct {
	Chunks []string
	// OpenErr fails ChatStream before any chunk is produced.
	OpenErr error
	// ChunkErr is delivered after all Chunks instead of the final Done chunk.
	ChunkErr error
}

func (s *StreamingMockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	var content string
	for _, c := range s.Chunks {
		content += c
	}
	return &ChatResponse{Content: content}, nil
}

func (s *StreamingMockProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	out := make(chan StreamChunk, len(s.Chunks)+1)
	for _, c := range s.Chunks {
		out <- StreamChunk{Content: c}
	}
	if s.ChunkErr != nil {
		out <- StreamChunk{Error: s.ChunkErr}
	} else {
		out <- StreamChunk{Done: true}
	}
	close(out)
	return out, nil
}

var _ StreamingProvider = (*StreamingMockProvider)(nil)
