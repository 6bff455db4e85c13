// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package openai provides an OpenAI API provider.
package openai

import (
	"context"
	stderrors "errors"

	"github.com/jllopis/mitosis/pkg/errors"
	"github.com/jllopis/mitosis/pkg/llm"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Provider implements llm.StreamingProvider for the OpenAI API and any
// endpoint speaking the same protocol.
type Provider struct {
	client openai.Client
	model  string
}

// Option configures the Provider.
type Option func(*Provider)

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// New creates a new OpenAI provider. baseURL may be empty. The API key is
// taken from each request, falling back to OPENAI_API_KEY.
func New(baseURL string, opts ...Option) *Provider {
	var copts []option.RequestOption
	if baseURL != "" {
		copts = append(copts, option.WithBaseURL(baseURL))
	}
	p := &Provider{
		client: openai.NewClient(copts...),
		model:  "gpt-4o-mini",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	completion, err := p.client.Chat.Completions.New(ctx, p.params(req), requestOptions(req)...)
	if err != nil {
		return nil, mapError(err)
	}
	if len(completion.Choices) == 0 {
		return nil, errors.NewCompletionContentError("openai returned no choices", nil)
	}
	return &llm.ChatResponse{
		Content: completion.Choices[0].Message.Content,
		Usage: llm.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}, nil
}

// ChatStream implements llm.StreamingProvider.
func (p *Provider) ChatStream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, p.params(req), requestOptions(req)...)

	chunks := make(chan llm.StreamChunk, 100)
	go func() {
		defer close(chunks)
		defer stream.Close()

		var usage *llm.Usage
		for stream.Next() {
			event := stream.Current()
			if event.Usage.TotalTokens > 0 {
				usage = &llm.Usage{
					PromptTokens:     int(event.Usage.PromptTokens),
					CompletionTokens: int(event.Usage.CompletionTokens),
					TotalTokens:      int(event.Usage.TotalTokens),
				}
			}
			if len(event.Choices) == 0 || event.Choices[0].Delta.Content == "" {
				continue
			}
			select {
			case chunks <- llm.StreamChunk{Content: event.Choices[0].Delta.Content}:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil {
			chunks <- llm.StreamChunk{Error: mapError(err)}
			return
		}
		chunks <- llm.StreamChunk{Done: true, Usage: usage}
	}()

	return chunks, nil
}

func (p *Provider) params(req llm.ChatRequest) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case llm.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	return params
}

func requestOptions(req llm.ChatRequest) []option.RequestOption {
	if req.APIKey == "" {
		return nil
	}
	return []option.RequestOption{option.WithAPIKey(req.APIKey)}
}

// mapError turns SDK errors into completion service errors carrying the
// upstream status.
func mapError(err error) error {
	var apiErr *openai.Error
	if stderrors.As(err, &apiErr) {
		return errors.NewCompletionServiceError(apiErr.StatusCode, "openai request failed", err)
	}
	return errors.NewCompletionServiceError(0, "openai request failed", err)
}

var _ llm.StreamingProvider = (*Provider)(nil)
