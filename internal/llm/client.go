// Package llm defines the completion provider interface and the OpenAI
// chat-completions client behind it.
//
// The adapter owns the generation parameters: callers hand it an ordered
// message list and get back one assistant reply (or a stream of deltas).
// Token budget and temperature are fixed here so every turn in the service
// is generated under the same settings.
package llm

import (
	"context"
	"time"
)

// Role constants for messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single turn in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the input to a Complete or Stream call.
// Model overrides the client default when set.
type CompletionRequest struct {
	Model    string    `json:"model,omitempty"`
	Messages []Message `json:"messages"`
}

// CompletionResponse is the result of a non-streaming completion.
type CompletionResponse struct {
	Content      string        `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
	Usage        Usage         `json:"usage"`
	Model        string        `json:"model,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// StreamEvent is a chunk from a streaming completion.
type StreamEvent struct {
	Type    string `json:"type"`              // "delta", "done", "error"
	Content string `json:"content,omitempty"` // text delta
	Error   string `json:"error,omitempty"`   // error message (type="error")
	Err     error  `json:"-"`                 // typed error (type="error"), usually *ProviderError

	// Final fields (type="done")
	Response *CompletionResponse `json:"response,omitempty"`
}

// ErrorEvent builds an error StreamEvent carrying err both as the wire
// message and as the typed error for callers that unwrap the taxonomy.
func ErrorEvent(err error) StreamEvent {
	return StreamEvent{Type: "error", Error: err.Error(), Err: err}
}

// Client is the interface completion providers implement.
type Client interface {
	// Complete sends a request and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Stream sends a request and returns a channel of streaming events.
	// The channel is closed after the "done" or "error" event.
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)

	// Name returns the provider name (e.g., "openai").
	Name() string
}
