// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jllopis/mitosis/pkg/errors"
	"github.com/jllopis/mitosis/pkg/llm"
)

func TestNewProvider(t *testing.T) {
	p := New("")
	if p.model != "claude-sonnet-4-20250514" {
		t.Errorf("expected model claude-sonnet-4-20250514, got %s", p.model)
	}
	if p.maxTokens != 1000 {
		t.Errorf("expected maxTokens 1000, got %d", p.maxTokens)
	}
	p = New("", WithModel("claude-opus-4-20250514"), WithMaxTokens(8192))
	if p.model != "claude-opus-4-20250514" || p.maxTokens != 8192 {
		t.Errorf("options not applied: %s %d", p.model, p.maxTokens)
	}
}

func TestChatSendsSystemSeparately(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("X-Api-Key"); got != "request-key" {
			t.Errorf("expected request credential, got %q", got)
		}
		var body struct {
			MaxTokens int `json:"max_tokens"`
			System    []struct {
				Text string `json:"text"`
			} `json:"system"`
			Messages []struct {
				Role string `json:"role"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if len(body.System) != 1 || body.System[0].Text != "you are an agent" {
			t.Errorf("unexpected system blocks %+v", body.System)
		}
		if len(body.Messages) != 1 || body.Messages[0].Role != "user" {
			t.Errorf("unexpected messages %+v", body.Messages)
		}
		if body.MaxTokens != 200 {
			t.Errorf("expected max_tokens 200, got %d", body.MaxTokens)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude",
			"content":[{"type":"text","text":"hello "},{"type":"text","text":"world"}],
			"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":4}}`)
	}))
	defer srv.Close()

	req := llm.NewRequest("you are an agent", "hi")
	req.APIKey = "request-key"
	req.MaxTokens = 200

	resp, err := New(srv.URL+"/").Chat(context.Background(), req)
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	if resp.Content != "hello world" {
		t.Errorf("expected joined text, got %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 7 {
		t.Errorf("expected 7 total tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestChatMapsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL+"/").Chat(context.Background(), llm.NewRequest("s", "u"))
	if !errors.IsCode(err, errors.CodeCompletionService) {
		t.Fatalf("expected completion service error, got %v", err)
	}
	if got := errors.As(err).StatusCode; got != http.StatusUnauthorized {
		t.Errorf("expected upstream status 401, got %d", got)
	}
}
