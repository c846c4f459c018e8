// Package session persists what happens on a call once the pipeline has
// produced it.
//
// A [Recorder] turns the call pipeline's hooks into [memory.TranscriptStore]
// writes on a background goroutine, so a slow or failing store never stalls
// a conversation. When a call ends it builds the call [memory.Summary],
// optionally asking a [Summariser] for a short written summary.
package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/telvoxa/internal/call"
	"github.com/MrWong99/telvoxa/pkg/memory"
	"github.com/MrWong99/telvoxa/pkg/provider/llm"
)

// summarisationPrompt is the system prompt sent to the LLM when summarising
// a finished call.
const summarisationPrompt = `Summarise the following phone call between a caller and a customer service agent.
Preserve: the caller's request, any account or order details mentioned, what the agent promised
and whether the issue was resolved. Write two or three plain sentences.`

// Summariser produces a short written summary of a finished call.
type Summariser interface {
	Summarise(ctx context.Context, tr call.Transcript) (string, error)
}

// LLMSummariser uses an LLM provider to summarise calls.
type LLMSummariser struct {
	llm       llm.Provider
	maxTokens int
}

// NewLLMSummariser creates a new [LLMSummariser] backed by the given
// provider. maxTokens <= 0 leaves the provider's limit in place.
func NewLLMSummariser(provider llm.Provider, maxTokens int) *LLMSummariser {
	return &LLMSummariser{llm: provider, maxTokens: max(maxTokens, 0)}
}

// Summarise sends the timestamped transcript to the LLM as a single user
// message. A call without turns yields an empty summary and no request.
func (s *LLMSummariser) Summarise(ctx context.Context, tr call.Transcript) (string, error) {
	if len(tr.Turns) == 0 {
		return "", nil
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summarisationPrompt,
		Messages: []llm.Message{
			{
				Role:    llm.RoleUser,
				Content: tr.String(),
			},
		},
		Temperature: 0.3,
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("summarise: %w", err)
	}
	if resp == nil {
		return "", nil
	}
	return strings.TrimSpace(resp.Content), nil
}

// NewSummary closes a transcript into the stored call summary.
func NewSummary(tr call.Transcript, text string) memory.Summary {
	return memory.Summary{
		EndedAt:   tr.EndedAt,
		Duration:  tr.Duration(),
		TurnCount: len(tr.Turns),
		Text:      text,
	}
}
