package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/telvoxa/internal/call"
	"github.com/MrWong99/telvoxa/pkg/provider/llm"
	llmmock "github.com/MrWong99/telvoxa/pkg/provider/llm/mock"
)

func sampleTranscript() call.Transcript {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return call.Transcript{
		CallID:    "CA123",
		StreamID:  "MZ456",
		StartedAt: start,
		EndedAt:   start.Add(95 * time.Second),
		Turns: []call.Turn{
			{Role: call.RoleSystem, Content: "Hello, this is Alex. How can I help?", Timestamp: start.Add(time.Second)},
			{Role: call.RoleCaller, Content: "My internet is down.", Timestamp: start.Add(8 * time.Second)},
			{Role: call.RoleSystem, Content: "Let me check that for you.", Timestamp: start.Add(10 * time.Second), Interrupted: true},
		},
	}
}

func TestLLMSummariser_Summarise(t *testing.T) {
	t.Parallel()

	t.Run("empty transcript returns empty string", func(t *testing.T) {
		t.Parallel()
		p := &llmmock.Provider{}
		s := NewLLMSummariser(p, 0)

		result, err := s.Summarise(context.Background(), call.Transcript{CallID: "CA1"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != "" {
			t.Errorf("expected empty string, got %q", result)
		}
		if len(p.Calls()) != 0 {
			t.Errorf("expected no LLM calls for empty input, got %d", len(p.Calls()))
		}
	})

	t.Run("summarises transcript via LLM", func(t *testing.T) {
		t.Parallel()
		p := &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{Content: "  Caller reported an outage.\n"},
		}
		s := NewLLMSummariser(p, 120)

		result, err := s.Summarise(context.Background(), sampleTranscript())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != "Caller reported an outage." {
			t.Errorf("unexpected result: %q", result)
		}

		calls := p.Calls()
		if len(calls) != 1 {
			t.Fatalf("expected 1 Complete call, got %d", len(calls))
		}
		req := calls[0].Req
		if req.SystemPrompt != summarisationPrompt {
			t.Errorf("expected summarisation prompt, got %q", req.SystemPrompt)
		}
		if req.MaxTokens != 120 {
			t.Errorf("MaxTokens = %d, want 120", req.MaxTokens)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser {
			t.Fatalf("expected a single user message, got %+v", req.Messages)
		}
		content := req.Messages[0].Content
		for _, want := range []string{
			"[00:00:08] caller: My internet is down.",
			"[00:00:10] system: Let me check that for you. (interrupted)",
		} {
			if !strings.Contains(content, want) {
				t.Errorf("transcript missing %q in:\n%s", want, content)
			}
		}
	})

	t.Run("propagates LLM error", func(t *testing.T) {
		t.Parallel()
		p := &llmmock.Provider{CompleteErr: errors.New("rate limited")}
		s := NewLLMSummariser(p, 0)

		_, err := s.Summarise(context.Background(), sampleTranscript())
		if err == nil || !strings.Contains(err.Error(), "rate limited") {
			t.Fatalf("expected wrapped LLM error, got %v", err)
		}
	})
}

func TestNewSummary(t *testing.T) {
	t.Parallel()
	tr := sampleTranscript()
	sum := NewSummary(tr, "done")

	if sum.Duration != 95*time.Second {
		t.Errorf("Duration = %v, want 95s", sum.Duration)
	}
	if sum.TurnCount != 3 {
		t.Errorf("TurnCount = %d, want 3", sum.TurnCount)
	}
	if !sum.EndedAt.Equal(tr.EndedAt) {
		t.Errorf("EndedAt = %v, want %v", sum.EndedAt, tr.EndedAt)
	}
	if sum.Text != "done" {
		t.Errorf("Text = %q, want done", sum.Text)
	}
}
