package app

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/MrWong99/telvoxa/internal/call"
	"github.com/MrWong99/telvoxa/internal/config"
	"github.com/MrWong99/telvoxa/internal/session"
	"github.com/MrWong99/telvoxa/internal/transcript/phonetic"
	"github.com/MrWong99/telvoxa/pkg/provider/llm"
)

// summaryMaxTokens caps LLM call summaries.
const summaryMaxTokens = 150

// persona holds the agent-dependent collaborators shared by every session.
// A config reload swaps them atomically; turns already in flight finish with
// the previous persona.
type persona struct {
	llm llm.Provider
	cur atomic.Pointer[personaState]
}

type personaState struct {
	responder  *call.Responder
	matcher    *phonetic.Matcher
	summariser session.Summariser
}

var (
	_ call.Generator     = (*persona)(nil)
	_ call.Corrector     = (*persona)(nil)
	_ session.Summariser = (*persona)(nil)
)

func newPersona(p llm.Provider, cfg *config.Config) (*persona, error) {
	ps := &persona{llm: p}
	if err := ps.update(cfg); err != nil {
		return nil, err
	}
	return ps, nil
}

// update rebuilds the persona from cfg. On error the current one stays.
func (p *persona) update(cfg *config.Config) error {
	rc, err := cfg.ResponderConfig()
	if err != nil {
		return fmt.Errorf("app: build persona: %w", err)
	}
	st := &personaState{
		responder: call.NewResponder(p.llm, rc),
		matcher:   phonetic.New(cfg.Agent.VocabularyTerms()),
	}
	if cfg.Agent.Summary {
		st.summariser = session.NewLLMSummariser(p.llm, summaryMaxTokens)
	}
	p.cur.Store(st)
	return nil
}

// Generate implements call.Generator.
func (p *persona) Generate(ctx context.Context, history []llm.Message) (string, error) {
	return p.cur.Load().responder.Generate(ctx, history)
}

// Correct implements call.Corrector.
func (p *persona) Correct(ctx context.Context, text string) (string, error) {
	return p.cur.Load().matcher.Correct(ctx, text)
}

// Summarise implements session.Summariser. It yields no text while
// summaries are disabled.
func (p *persona) Summarise(ctx context.Context, tr call.Transcript) (string, error) {
	s := p.cur.Load().summariser
	if s == nil {
		return "", nil
	}
	return s.Summarise(ctx, tr)
}
