// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"log/slog"

	"github.com/jllopis/mitosis/pkg/resilience"
)

// ResilientProvider retries recoverable completion failures and stops
// calling the backend while its circuit is open.
type ResilientProvider struct {
	inner   Provider
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

// ResilientOption configures a ResilientProvider.
type ResilientOption func(*ResilientProvider)

// WithRetryConfig replaces the default retry policy.
func WithRetryConfig(rc resilience.RetryConfig) ResilientOption {
	return func(p *ResilientProvider) {
		p.retry = rc
	}
}

// WithCircuitBreaker guards the backend with cb.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) ResilientOption {
	return func(p *ResilientProvider) {
		p.breaker = cb
	}
}

// WithLogger sets the logger used to report retries.
func WithLogger(l *slog.Logger) ResilientOption {
	return func(p *ResilientProvider) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewResilient wraps inner. Streaming is preserved when inner supports it.
func NewResilient(inner Provider, opts ...ResilientOption) *ResilientProvider {
	p := &ResilientProvider{
		inner:  inner,
		retry:  resilience.DefaultRetryConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.retry = p.retry.WithOnRetry(func(attempt int, err error) {
		p.logger.Warn("retrying completion call", "attempt", attempt, "error", err)
	})
	return p
}

// Chat implements Provider.
func (p *ResilientProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return resilience.Retry(ctx, p.retry, func(ctx context.Context) (*ChatResponse, error) {
		var resp *ChatResponse
		err := p.guard(ctx, func(ctx context.Context) error {
			var err error
			resp, err = p.inner.Chat(ctx, req)
			return err
		})
		return resp, err
	})
}

// ChatStream implements StreamingProvider. Only opening the stream is
// retried; a failure after chunks were delivered is surfaced as is.
func (p *ResilientProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	sp, ok := p.inner.(StreamingProvider)
	if !ok {
		resp, err := p.Chat(ctx, req)
		if err != nil {
			return nil, err
		}
		out := make(chan StreamChunk, 1)
		out <- StreamChunk{Content: resp.Content, Done: true, Usage: &resp.Usage}
		close(out)
		return out, nil
	}
	return resilience.Retry(ctx, p.retry, func(ctx context.Context) (<-chan StreamChunk, error) {
		var chunks <-chan StreamChunk
		err := p.guard(ctx, func(ctx context.Context) error {
			var err error
			chunks, err = sp.ChatStream(ctx, req)
			return err
		})
		return chunks, err
	})
}

func (p *ResilientProvider) guard(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.breaker == nil {
		return fn(ctx)
	}
	return p.breaker.Call(ctx, fn)
}

var _ StreamingProvider = (*ResilientProvider)(nil)
