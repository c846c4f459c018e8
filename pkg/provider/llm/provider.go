// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (OpenAI, Anthropic, a local
// Ollama instance, ...) and exposes a single blocking completion call. Phone
// replies are short, so the pipeline waits for the whole answer before
// synthesizing it.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages and
	// system prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// CompletionRequest carries everything the LLM needs to produce a response.
type CompletionRequest struct {
	// SystemPrompt is prepended as a system message when non-empty.
	SystemPrompt string

	// Messages is the ordered conversation window. It may be empty, e.g. when
	// generating a call summary from the system prompt alone.
	Messages []Message

	// Temperature controls output randomness. Zero leaves the provider
	// default in place.
	Temperature float64

	// MaxTokens caps the response length. Zero means no explicit cap.
	MaxTokens int
}

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	// Content is the generated text.
	Content string

	// Usage reports token consumption, when the backend provides it.
	Usage Usage

	// Truncated is set when generation stopped at MaxTokens rather than at
	// a natural end.
	Truncated bool
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req and blocks until the model has produced its full
	// reply or ctx is done.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
