// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jllopis/mitosis/pkg/errors"
	"github.com/jllopis/mitosis/pkg/resilience"
)

func TestMockProvider(t *testing.T) {
	mock := &MockProvider{Response: "Hello world"}
	resp, err := mock.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "Hello world" {
		t.Errorf("Expected 'Hello world', got '%s'", resp.Content)
	}
	if got := mock.Requests(); len(got) != 1 || got[0].Messages[0].Content != "Hi" {
		t.Errorf("expected recorded request, got %+v", got)
	}
}

func TestScriptedMockProvider(t *testing.T) {
	mock := NewScriptedMockProvider("first")
	mock.AddError(errors.NewCompletionServiceError(500, "boom", nil))
	mock.AddResponse("third")

	ctx := context.Background()
	resp, err := mock.Chat(ctx, ChatRequest{})
	if err != nil || resp.Content != "first" {
		t.Fatalf("unexpected first call: %v %v", resp, err)
	}
	if _, err := mock.Chat(ctx, ChatRequest{}); !errors.IsCode(err, errors.CodeCompletionService) {
		t.Fatalf("expected scripted error, got %v", err)
	}
	resp, err = mock.Chat(ctx, ChatRequest{})
	if err != nil || resp.Content != "third" {
		t.Fatalf("unexpected third call: %v %v", resp, err)
	}
	if _, err := mock.Chat(ctx, ChatRequest{}); err == nil {
		t.Fatal("expected exhaustion error")
	}
	if mock.CallCount != 4 || mock.Remaining() != 0 {
		t.Errorf("CallCount=%d Remaining=%d", mock.CallCount, mock.Remaining())
	}
}

func TestNewRequest(t *testing.T) {
	req := NewRequest("sys", "user")
	if len(req.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(req.Messages))
	}
	if req.Messages[0].Role != RoleSystem || req.Messages[1].Role != RoleUser {
		t.Errorf("unexpected roles: %+v", req.Messages)
	}
}

func TestComplete(t *testing.T) {
	tests := []struct {
		name     string
		provider Provider
		stream   bool
		want     string
		wantCode errors.ErrorCode
	}{
		{name: "single payload", provider: &MockProvider{Response: "done"}, want: "done"},
		{name: "stream concatenates in order", provider: &StreamingMockProvider{Chunks: []string{"a", "b", "c"}}, stream: true, want: "abc"},
		{name: "stream ignored when not requested", provider: &StreamingMockProvider{Chunks: []string{"x", "y"}}, want: "xy"},
		{name: "empty payload", provider: &MockProvider{Response: "  "}, wantCode: errors.CodeCompletionContent},
		{name: "empty stream", provider: &StreamingMockProvider{}, stream: true, wantCode: errors.CodeCompletionContent},
		{name: "typed error kept", provider: &MockProvider{Err: errors.NewCompletionServiceError(401, "nope", nil)}, wantCode: errors.CodeCompletionService},
		{name: "plain error classified", provider: &MockProvider{Err: io.ErrUnexpectedEOF}, wantCode: errors.CodeCompletionService},
		{name: "chunk error", provider: &StreamingMockProvider{Chunks: []string{"a"}, ChunkErr: io.ErrClosedPipe}, stream: true, wantCode: errors.CodeCompletionService},
		{name: "nil provider", provider: nil, wantCode: errors.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Complete(context.Background(), tt.provider, ChatRequest{Stream: tt.stream})
			if tt.wantCode != "" {
				if !errors.IsCode(err, tt.wantCode) {
					t.Fatalf("expected %s, got %v", tt.wantCode, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestCompleteCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &MockProvider{ChatFunc: func(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
		return nil, ctx.Err()
	}}
	_, err := Complete(ctx, p, ChatRequest{})
	if !errors.IsCode(err, errors.CodeCancelled) {
		t.Fatalf("expected cancelled, got %v", err)
	}
}

func sseServer(t *testing.T, handler http.HandlerFunc) *CompatProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewCompat(srv.URL, WithHTTPClient(srv.Client()))
}

func TestCompatProviderStream(t *testing.T) {
	var auth atomic.Value
	p := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Hel", "lo", " world"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	req := NewRequest("sys", "hi")
	req.APIKey = "secret"
	req.Stream = true
	got, err := Complete(context.Background(), p, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Hello world" {
		t.Errorf("expected concatenated text, got %q", got)
	}
	if auth.Load() != "Bearer secret" {
		t.Errorf("expected bearer credential, got %v", auth.Load())
	}
}

func TestCompleteWithUsage(t *testing.T) {
	p := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":7,\"completion_tokens\":3,\"total_tokens\":10}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	req := NewRequest("sys", "hi")
	req.APIKey = "secret"
	req.Stream = true
	text, usage, err := CompleteWithUsage(context.Background(), p, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "ok" {
		t.Errorf("expected %q, got %q", "ok", text)
	}
	if usage.PromptTokens != 7 || usage.CompletionTokens != 3 {
		t.Errorf("expected streamed usage 7/3, got %+v", usage)
	}

	_, usage, err = CompleteWithUsage(context.Background(), &MockProvider{Response: "ok"}, NewRequest("sys", "hi"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if usage.TotalTokens != 20 {
		t.Errorf("expected payload usage, got %+v", usage)
	}
}

func TestCompatProviderStreamFallsBackToJSON(t *testing.T) {
	p := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"whole answer"}}],"usage":{"total_tokens":7}}`)
	})

	req := NewRequest("sys", "hi")
	req.Stream = true
	got, err := Complete(context.Background(), p, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "whole answer" {
		t.Errorf("expected single payload text, got %q", got)
	}
}

func TestCompatProviderStreamWithoutSentinel(t *testing.T) {
	p := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
	})

	req := NewRequest("sys", "hi")
	req.Stream = true
	got, err := Complete(context.Background(), p, req)
	if err != nil || got != "partial" {
		t.Fatalf("expected partial text, got %q %v", got, err)
	}
}

func TestCompatProviderMalformedEvent(t *testing.T) {
	p := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {not json\n\n")
	})

	req := NewRequest("sys", "hi")
	req.Stream = true
	_, err := Complete(context.Background(), p, req)
	if !errors.IsCode(err, errors.CodeCompletionContent) {
		t.Fatalf("expected content error, got %v", err)
	}
}

func TestCompatProviderStatusError(t *testing.T) {
	tests := []struct {
		status      int
		body        string
		wantMsg     string
		recoverable bool
	}{
		{http.StatusUnauthorized, `{"error":{"message":"Invalid API Key"}}`, "Invalid API Key", false},
		{http.StatusTooManyRequests, `rate limited`, "Too Many Requests", true},
		{http.StatusBadGateway, ``, "Bad Gateway", true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			p := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})
			_, err := p.Chat(context.Background(), NewRequest("sys", "hi"))
			e := errors.As(err)
			if e == nil || e.Code != errors.CodeCompletionService {
				t.Fatalf("expected completion service error, got %v", err)
			}
			if e.StatusCode != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, e.StatusCode)
			}
			if e.Message != tt.wantMsg {
				t.Errorf("expected message %q, got %q", tt.wantMsg, e.Message)
			}
			if e.Recoverable != tt.recoverable {
				t.Errorf("expected recoverable=%v", tt.recoverable)
			}
		})
	}
}

func TestCompatProviderNoChoices(t *testing.T) {
	p := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[]}`)
	})
	_, err := p.Chat(context.Background(), NewRequest("sys", "hi"))
	if !errors.IsCode(err, errors.CodeCompletionContent) {
		t.Fatalf("expected content error, got %v", err)
	}
}

func TestOllamaProviderStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"num_predict":1000`) {
			t.Errorf("expected max tokens to be forwarded, got %s", body)
		}
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"one "},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"two"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true,"eval_count":2}`)
	}))
	defer srv.Close()

	req := NewRequest("sys", "hi")
	req.MaxTokens = 1000
	req.Stream = true
	got, err := Complete(context.Background(), NewOllama(srv.URL, "llama3.1"), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "one two" {
		t.Errorf("expected streamed text, got %q", got)
	}
}

func TestResilientProviderRetries(t *testing.T) {
	var calls int32
	inner := &MockProvider{ChatFunc: func(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, errors.NewCompletionServiceError(503, "unavailable", nil)
		}
		return &ChatResponse{Content: "ok"}, nil
	}}

	rc := resilience.DefaultRetryConfig().WithInitialDelay(time.Millisecond).WithMaxDelay(2 * time.Millisecond)
	p := NewResilient(inner, WithRetryConfig(rc))

	got, err := Complete(context.Background(), p, ChatRequest{Stream: true})
	if err != nil || got != "ok" {
		t.Fatalf("expected success after retries, got %q %v", got, err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestResilientProviderDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	inner := &MockProvider{ChatFunc: func(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.NewCompletionServiceError(401, "unauthorized", nil)
	}}
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 1, ShouldTrip: resilience.IsRecoverable})
	p := NewResilient(inner, WithCircuitBreaker(breaker))

	_, err := p.Chat(context.Background(), ChatRequest{})
	var typed *errors.Error
	if !stderrors.As(err, &typed) || typed.StatusCode != 401 {
		t.Fatalf("expected 401 completion error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected a single call, got %d", calls)
	}
	if breaker.State() != resilience.StateClosed {
		t.Errorf("client errors must leave the circuit closed")
	}
}
