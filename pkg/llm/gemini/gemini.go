// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package gemini provides a Google Gemini API provider.
package gemini

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/jllopis/mitosis/pkg/errors"
	"github.com/jllopis/mitosis/pkg/llm"
	"google.golang.org/genai"
)

// Provider implements llm.StreamingProvider for the Gemini API. Clients are
// created lazily per API key since the key travels with each request.
type Provider struct {
	model string

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// Option configures the Provider.
type Option func(*Provider)

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// New creates a new Gemini provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		model:   "gemini-2.0-flash",
		clients: make(map[string]*genai.Client),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[apiKey]; ok {
		return c, nil
	}
	cfg := &genai.ClientConfig{Backend: genai.BackendGeminiAPI}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	c, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, errors.NewCompletionServiceError(0, "failed to create gemini client", err)
	}
	p.clients[apiKey] = c
	return c, nil
}

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	c, err := p.client(ctx, req.APIKey)
	if err != nil {
		return nil, err
	}
	model, contents, config := p.convert(req)

	resp, err := c.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, mapError(err)
	}
	return &llm.ChatResponse{Content: resp.Text(), Usage: usage(resp)}, nil
}

// ChatStream implements llm.StreamingProvider.
func (p *Provider) ChatStream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	c, err := p.client(ctx, req.APIKey)
	if err != nil {
		return nil, err
	}
	model, contents, config := p.convert(req)

	chunks := make(chan llm.StreamChunk, 100)
	go func() {
		defer close(chunks)

		var last llm.Usage
		failed := false
		for resp, err := range c.Models.GenerateContentStream(ctx, model, contents, config) {
			if err != nil {
				chunks <- llm.StreamChunk{Error: mapError(err)}
				failed = true
				break
			}
			last = usage(resp)
			if text := resp.Text(); text != "" {
				select {
				case chunks <- llm.StreamChunk{Content: text}:
				case <-ctx.Done():
					return
				}
			}
		}
		if !failed {
			chunks <- llm.StreamChunk{Done: true, Usage: &last}
		}
	}()

	return chunks, nil
}

func (p *Provider) convert(req llm.ChatRequest) (string, []*genai.Content, *genai.GenerateContentConfig) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	config := &genai.GenerateContentConfig{}
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleSystem:
			config.SystemInstruction = &genai.Content{
				Parts: []*genai.Part{{Text: msg.Content}},
			}
		case llm.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}

	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		config.Temperature = &temp
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	return model, contents, config
}

func usage(resp *genai.GenerateContentResponse) llm.Usage {
	if resp == nil || resp.UsageMetadata == nil {
		return llm.Usage{}
	}
	return llm.Usage{
		PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
		CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
	}
}

func mapError(err error) error {
	var apiErr genai.APIError
	if stderrors.As(err, &apiErr) {
		return errors.NewCompletionServiceError(apiErr.Code, "gemini request failed", err)
	}
	return errors.NewCompletionServiceError(0, "gemini request failed", err)
}

var _ llm.StreamingProvider = (*Provider)(nil)
