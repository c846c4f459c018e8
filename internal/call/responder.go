package call

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/telvoxa/pkg/provider/llm"
)

// Responder defaults.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 50
)

// ResponderConfig configures a [Responder].
type ResponderConfig struct {
	// SystemPrompt is the rendered persona prompt.
	SystemPrompt string

	// AgentName is stripped when the model prefixes its reply with "Name:".
	AgentName string

	Temperature float64
	MaxTokens   int
}

// Responder adapts an llm.Provider to the [Generator] contract.
type Responder struct {
	llm llm.Provider
	cfg ResponderConfig
}

var _ Generator = (*Responder)(nil)

// NewResponder returns a Responder backed by p.
func NewResponder(p llm.Provider, cfg ResponderConfig) *Responder {
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	return &Responder{llm: p, cfg: cfg}
}

// Generate asks the model for the next reply. An empty history is sent as
// is; the persona prompt alone is enough for the model to open the call.
func (r *Responder) Generate(ctx context.Context, history []llm.Message) (string, error) {
	resp, err := r.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: r.cfg.SystemPrompt,
		Messages:     history,
		Temperature:  r.cfg.Temperature,
		MaxTokens:    r.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("call: generate: %w", err)
	}
	if resp == nil {
		return "", errors.New("call: generate: nil response")
	}
	reply := cleanReply(resp.Content, r.cfg.AgentName)
	if resp.Truncated {
		reply = lastSentence(reply)
	}
	if reply == "" {
		return "", errors.New("call: generate: empty reply")
	}
	return reply, nil
}

// cleanReply trims whitespace, surrounding quotes and a leading speaker
// label such as "Alex:" or "Assistant:".
func cleanReply(s, name string) string {
	s = strings.TrimSpace(s)
	for _, label := range []string{name, "Assistant", "Agent"} {
		if label == "" {
			continue
		}
		if len(s) > len(label) && strings.EqualFold(s[:len(label)], label) && s[len(label)] == ':' {
			s = strings.TrimSpace(s[len(label)+1:])
			break
		}
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

// lastSentence cuts a reply that hit the token limit back to its last
// complete sentence. A reply without a sentence end is kept whole.
func lastSentence(s string) string {
	cut := strings.LastIndexAny(s, ".!?")
	if cut <= 0 {
		return s
	}
	return strings.TrimSpace(s[:cut+1])
}
