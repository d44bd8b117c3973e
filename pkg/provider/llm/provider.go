// Package llm defines the Provider interface for Large Language Model backends.
//
// Elocute uses an LLM to write reading passages for learners: a short text at a
// given CEFR level and topic that is then stored as a reference and read
// aloud. Only single-shot completions are needed, so the interface is a single
// Complete method that backends implement over their own SDK.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
	"errors"

	"github.com/MrWong99/elocute/pkg/types"
)

// ErrEmptyResponse is returned (wrapped) when the backend answers without any
// choices.
var ErrEmptyResponse = errors.New("llm: empty response")

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []types.Message

	// SystemPrompt is an optional instruction injected before Messages.
	SystemPrompt string

	// Temperature controls output randomness in [0.0, 2.0]. Zero selects the
	// provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero selects the provider default.
	MaxTokens int

	// JSON asks the backend to constrain its output to a single JSON object.
	// Backends without a native JSON mode ignore it; the prompt must then ask
	// for JSON explicitly.
	JSON bool
}

// CompletionResponse is the full reply to a CompletionRequest.
type CompletionResponse struct {
	// Content is the text of the assistant's reply.
	Content string

	// FinishReason reports why generation stopped ("stop", "length", …).
	FinishReason string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response. It
	// returns promptly when ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
