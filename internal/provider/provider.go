// Package provider defines the unified interface and shared types for the
// LLM backends the engine can talk to. Each adapter (openai.go,
// anthropic.go) normalizes vendor-specific streaming responses into a
// unified Event sequence. The session engine itself never imports a vendor
// SDK; it sees only this package's types.
package provider

import (
	"context"
	"fmt"
	"strings"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single message in a chat request.
type Message struct {
	Role    Role
	Content string
}

// ChatRequest is the unified request format sent to a provider.
type ChatRequest struct {
	Model        string
	Messages     []Message
	SystemPrompt string
	MaxTokens    int
	Temperature  *float64
}

type EventType int

const (
	// EventTextDelta: incremental visible text output.
	EventTextDelta EventType = iota

	// EventReasoningDelta: incremental reasoning/thinking output from
	// models that stream it separately (e.g. DeepSeek reasoning_content).
	EventReasoningDelta

	// EventDone: end of the message turn, includes token usage.
	EventDone

	// EventError: an error occurred.
	EventError
)

// Event is the unified streaming event emitted by a provider.
type Event struct {
	Type EventType

	TextDelta      string
	ReasoningDelta string

	// EventDone
	Usage *Usage

	// EventError
	Error error
}

// Usage records token consumption for an API call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Provider is the unified interface for all LLM backends.
type Provider interface {
	Name() string
	DefaultModel() string
	// ContextWindow returns the model's context size in tokens, used as
	// the session's default token budget.
	ContextWindow() int
	// Chat starts a streaming completion. The returned channel is closed
	// when the turn ends; cancellation of ctx terminates the stream.
	Chat(ctx context.Context, req *ChatRequest) (<-chan Event, error)
}

// Completion is a fully drained model response.
type Completion struct {
	Text      string
	Reasoning string
	Usage     Usage
}

// Complete runs a chat request to completion, draining the event stream
// into a single result. This is the non-streaming surface the
// summarization coordinator and other one-shot callers use.
func Complete(ctx context.Context, p Provider, req *ChatRequest) (*Completion, error) {
	events, err := p.Chat(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s chat failed: %w", p.Name(), err)
	}

	var text, reasoning strings.Builder
	var usage Usage
	for event := range events {
		switch event.Type {
		case EventTextDelta:
			text.WriteString(event.TextDelta)
		case EventReasoningDelta:
			reasoning.WriteString(event.ReasoningDelta)
		case EventDone:
			if event.Usage != nil {
				usage = *event.Usage
			}
		case EventError:
			return nil, fmt.Errorf("%s stream error: %w", p.Name(), event.Error)
		}
	}

	out := &Completion{
		Text:      strings.TrimSpace(text.String()),
		Reasoning: strings.TrimSpace(reasoning.String()),
		Usage:     usage,
	}
	// Some models return reasoning inline rather than as a separate
	// stream; split it out so callers always see them apart.
	if out.Reasoning == "" {
		if r, answer := ExtractReasoning(out.Text); r != "" {
			out.Reasoning, out.Text = r, answer
		}
	}
	return out, nil
}
