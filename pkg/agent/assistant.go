// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"strings"
	"sync"

	"github.com/jllopis/mitosis/pkg/errors"
	"github.com/jllopis/mitosis/pkg/llm"
)

const (
	assistantSystemPrompt  = "You are an AI assistant helping to create an initial prompt for an ACE Workflow. Provide concise and relevant responses."
	suggestionSystemPrompt = "Based on the chat history, generate a concise initial prompt for the ACE Workflow."
	suggestionRequest      = "Generate a concise initial prompt based on our conversation."
)

// Exchange is one turn of the assistant conversation.
type Exchange struct {
	Reply      string `json:"reply"`
	Suggestion string `json:"suggestion"`
}

// PromptAssistant chats about a goal and proposes a workflow input.
type PromptAssistant struct {
	env *Env

	mu      sync.Mutex
	history []llm.Message
}

// NewPromptAssistant creates an assistant with an empty history.
func NewPromptAssistant(env *Env) *PromptAssistant {
	return &PromptAssistant{env: env}
}

// Send adds message to the conversation. It makes two completion calls:
// the reply, then a suggested workflow input based on the whole chat.
func (p *PromptAssistant) Send(ctx context.Context, message, credential string) (Exchange, error) {
	if strings.TrimSpace(message) == "" {
		return Exchange{}, errors.NewInvalidInputError("message must not be empty")
	}

	p.mu.Lock()
	history := append([]llm.Message(nil), p.history...)
	p.mu.Unlock()

	completion := p.env.Completion
	completion.Stream = false

	user := llm.Message{Role: llm.RoleUser, Content: message}
	replyMsgs := append([]llm.Message{{Role: llm.RoleSystem, Content: assistantSystemPrompt}}, history...)
	replyMsgs = append(replyMsgs, user)

	reply, err := completion.complete(ctx, replyMsgs, credential)
	if err != nil {
		return Exchange{}, WrapCompletionError(err, "assistant.reply", completion.Model)
	}
	assistant := llm.Message{Role: llm.RoleAssistant, Content: reply}

	suggestMsgs := append([]llm.Message{{Role: llm.RoleSystem, Content: suggestionSystemPrompt}}, history...)
	suggestMsgs = append(suggestMsgs, user, assistant, llm.Message{Role: llm.RoleUser, Content: suggestionRequest})

	suggestion, err := completion.complete(ctx, suggestMsgs, credential)
	if err != nil {
		return Exchange{}, WrapCompletionError(err, "assistant.suggest", completion.Model)
	}

	p.mu.Lock()
	p.history = append(p.history, user, assistant)
	p.mu.Unlock()

	return Exchange{Reply: reply, Suggestion: strings.TrimSpace(suggestion)}, nil
}

// History returns a copy of the conversation so far.
func (p *PromptAssistant) History() []llm.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.Message(nil), p.history...)
}

// Reset clears the conversation.
func (p *PromptAssistant) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = nil
}
