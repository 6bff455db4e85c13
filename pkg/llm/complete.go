// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/jllopis/mitosis/pkg/errors"
)

// Complete runs req against p and returns the full completion text.
//
// When req.Stream is set and p supports streaming, chunks are concatenated in
// arrival order. Otherwise the single payload is taken directly, so both
// paths satisfy the same contract. An empty result is a content error.
func Complete(ctx context.Context, p Provider, req ChatRequest) (string, error) {
	text, _, err := CompleteWithUsage(ctx, p, req)
	return text, err
}

// CompleteWithUsage is Complete plus the token usage the provider reported.
// Usage is zero when the backend does not report it.
func CompleteWithUsage(ctx context.Context, p Provider, req ChatRequest) (string, Usage, error) {
	if p == nil {
		return "", Usage{}, errors.New(errors.CodeInternal, "completion provider is nil", nil)
	}

	var (
		text  string
		usage Usage
	)
	if sp, ok := p.(StreamingProvider); ok && req.Stream {
		chunks, err := sp.ChatStream(ctx, req)
		if err != nil {
			return "", Usage{}, normalize(err)
		}
		var u *Usage
		text, u, err = collect(ctx, chunks)
		if err != nil {
			return text, Usage{}, normalize(err)
		}
		if u != nil {
			usage = *u
		}
	} else {
		resp, err := p.Chat(ctx, req)
		if err != nil {
			return "", Usage{}, normalize(err)
		}
		if resp == nil {
			return "", Usage{}, errors.NewCompletionContentError("completion response is empty", nil)
		}
		text, usage = resp.Content, resp.Usage
	}

	if strings.TrimSpace(text) == "" {
		return "", usage, errors.NewCompletionContentError("completion returned no content", nil)
	}
	return text, usage, nil
}

// Collect drains a stream into one string. It returns the text gathered so
// far together with the first chunk error.
func Collect(ctx context.Context, chunks <-chan StreamChunk) (string, error) {
	text, _, err := collect(ctx, chunks)
	return text, err
}

func collect(ctx context.Context, chunks <-chan StreamChunk) (string, *Usage, error) {
	var (
		sb    strings.Builder
		usage *Usage
	)
	for {
		select {
		case <-ctx.Done():
			return sb.String(), usage, ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return sb.String(), usage, nil
			}
			if chunk.Error != nil {
				return sb.String(), usage, chunk.Error
			}
			sb.WriteString(chunk.Content)
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
			if chunk.Done {
				return sb.String(), usage, nil
			}
		}
	}
}

// normalize keeps typed errors and classifies everything else as a
// transport failure of the completion service.
func normalize(err error) error {
	if err == nil {
		return nil
	}
	var typed *errors.Error
	if stderrors.As(err, &typed) {
		return err
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.New(errors.CodeCancelled, "completion cancelled", err)
	}
	return errors.NewCompletionServiceError(0, "completion transport failed", err)
}
