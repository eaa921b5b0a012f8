// Package llm defines the Provider interface for one-shot text generation
// backends.
//
// The content helpers send a single prompt (optionally constrained by a JSON
// schema) and read back a single text response. Backends wrap a specific SDK
// (Gemini, OpenAI, any-llm-go) behind this uniform shape.
//
// Implementations must be safe for concurrent use.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when the backend answered without any text.
var ErrEmptyResponse = errors.New("llm: empty response")

// Request is one prompt-in/text-out call.
type Request struct {
	// SystemPrompt is an optional high-priority instruction.
	SystemPrompt string

	// Prompt is the user turn.
	Prompt string

	// Schema, when set, is a JSON Schema object the response must conform to.
	// Backends that support structured output request JSON natively; the rest
	// embed the schema in the prompt.
	Schema map[string]any

	// Temperature in [0, 2]. Zero means the provider default.
	Temperature float64

	// MaxTokens caps the response length. Zero means the provider default.
	MaxTokens int
}

// Usage holds token accounting reported by the backend, when available.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the backend's answer.
type Response struct {
	Text  string
	Usage Usage
}

// Provider generates text.
type Provider interface {
	// Complete sends req and waits for the full response.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Name identifies the backend in logs and metrics.
	Name() string
}
