// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/jllopis/mitosis/pkg/errors"
)

// GroqBaseURL is the OpenAI-compatible endpoint of the Groq API.
const GroqBaseURL = "https://api.groq.com/openai/v1"

// streamSentinel terminates a server-sent events completion stream.
const streamSentinel = "[DONE]"

// CompatProvider talks to any OpenAI-compatible chat completions endpoint
// over plain HTTP, including server-sent event streaming.
type CompatProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

// CompatOption configures a CompatProvider.
type CompatOption func(*CompatProvider)

// WithCompatModel sets the model used when a request does not name one.
func WithCompatModel(model string) CompatOption {
	return func(p *CompatProvider) {
		p.model = model
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) CompatOption {
	return func(p *CompatProvider) {
		if c != nil {
			p.client = c
		}
	}
}

// NewCompat creates a provider for an OpenAI-compatible base URL.
func NewCompat(baseURL string, opts ...CompatOption) *CompatProvider {
	if baseURL == "" {
		baseURL = GroqBaseURL
	}
	p := &CompatProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   "mixtral-8x7b-32768",
		client:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewGroq creates a provider for the Groq API.
func NewGroq(opts ...CompatOption) *CompatProvider {
	return NewCompat(GroqBaseURL, opts...)
}

type compatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

type compatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

type compatStreamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage,omitempty"`
}

type compatErrorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Chat implements Provider.
func (p *CompatProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	resp, err := p.do(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return decodeCompatPayload(resp.Body)
}

// ChatStream implements StreamingProvider. If the server answers with a
// single JSON payload instead of an event stream, that payload is delivered
// as one final chunk.
func (p *CompatProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	resp, err := p.do(ctx, req, true)
	if err != nil {
		return nil, err
	}

	chunks := make(chan StreamChunk, 100)

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		go func() {
			defer close(chunks)
			defer resp.Body.Close()
			out, err := decodeCompatPayload(resp.Body)
			if err != nil {
				chunks <- StreamChunk{Error: err}
				return
			}
			chunks <- StreamChunk{Content: out.Content, Done: true, Usage: &out.Usage}
		}()
		return chunks, nil
	}

	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		send := func(c StreamChunk) bool {
			select {
			case chunks <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		reader := bufio.NewReader(resp.Body)
		var usage *Usage
		for {
			line, err := reader.ReadString('\n')
			if line = strings.TrimSpace(line); line != "" {
				data, ok := strings.CutPrefix(line, "data:")
				if ok {
					data = strings.TrimSpace(data)
					if data == streamSentinel {
						send(StreamChunk{Done: true, Usage: usage})
						return
					}
					var event compatStreamEvent
					if jerr := json.Unmarshal([]byte(data), &event); jerr != nil {
						send(StreamChunk{Error: errors.NewCompletionContentError("malformed stream event", jerr)})
						return
					}
					if event.Usage != nil {
						usage = event.Usage
					}
					if len(event.Choices) > 0 && event.Choices[0].Delta.Content != "" {
						if !send(StreamChunk{Content: event.Choices[0].Delta.Content}) {
							return
						}
					}
				}
			}
			if err != nil {
				if err == io.EOF {
					// Stream ended without the sentinel; keep what arrived.
					send(StreamChunk{Done: true, Usage: usage})
				} else {
					send(StreamChunk{Error: errors.NewCompletionServiceError(0, "stream read failed", err)})
				}
				return
			}
		}
	}()

	return chunks, nil
}

func (p *CompatProvider) do(ctx context.Context, req ChatRequest, stream bool) (*http.Response, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	body, err := json.Marshal(compatRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	}
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, errors.NewCompletionServiceError(0, "completion api call failed", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		msg := http.StatusText(resp.StatusCode)
		var eb compatErrorBody
		if json.Unmarshal(raw, &eb) == nil && eb.Error.Message != "" {
			msg = eb.Error.Message
		}
		return nil, errors.NewCompletionServiceError(resp.StatusCode, msg, nil)
	}
	return resp, nil
}

func decodeCompatPayload(r io.Reader) (*ChatResponse, error) {
	var out compatResponse
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, errors.NewCompletionContentError("failed to decode completion response", err)
	}
	if len(out.Choices) == 0 {
		return nil, errors.NewCompletionContentError("completion response has no choices", nil)
	}
	return &ChatResponse{Content: out.Choices[0].Message.Content, Usage: out.Usage}, nil
}

// Ensure CompatProvider implements StreamingProvider.
var _ StreamingProvider = (*CompatProvider)(nil)
