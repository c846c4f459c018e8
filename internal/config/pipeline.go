package config

import (
	"fmt"
	"slices"
	"strings"
	"text/template"

	"github.com/MrWong99/telvoxa/internal/call"
	"github.com/MrWong99/telvoxa/internal/turn"
)

// CallConfig maps the pipeline and agent sections onto the per-session
// config. Zero fields stay zero; the call package applies its defaults.
// Template errors leave the greeting empty; [Validate] reports them.
func (c *Config) CallConfig() call.Config {
	p := c.Pipeline
	greeting, _ := c.Agent.RenderedGreeting()
	return call.Config{
		Turn: turn.Config{
			MinSpeech:    p.VAD.MinSpeech,
			EndSilence:   p.VAD.EndSilence,
			MaxUtterance: p.VAD.MaxUtterance,
			MinUtterance: p.VAD.MinUtterance,
		},
		EnergyThreshold:   p.VAD.EnergyThreshold,
		FrameMs:           p.VAD.FrameMs,
		BargeInChunks:     p.VAD.BargeInChunks,
		STTSampleRate:     p.STTSampleRate,
		ResponseTimeout:   p.ResponseTimeout,
		PlaybackGrace:     p.PlaybackGrace,
		ContextTurns:      2 * p.ContextTurns,
		PendingUtterances: p.PendingUtterances,
		MaxSessions:       p.MaxConcurrentCalls,
		VoiceID:           c.VoiceID(),
		Greeting:          greeting,
		FallbackPhrase:    c.Agent.FallbackPhrase,
	}
}

// ResponderConfig returns the generation settings for [call.NewResponder].
func (c *Config) ResponderConfig() (call.ResponderConfig, error) {
	prompt, err := c.Agent.Render(c.Agent.SystemPrompt)
	if err != nil {
		return call.ResponderConfig{}, fmt.Errorf("config: system prompt: %w", err)
	}
	return call.ResponderConfig{
		SystemPrompt: prompt,
		AgentName:    c.Agent.Name,
		Temperature:  c.Pipeline.LLM.Temperature,
		MaxTokens:    c.Pipeline.LLM.MaxTokens,
	}, nil
}

// VoiceID returns the voice for the primary TTS provider.
func (c *Config) VoiceID() string {
	if c.Providers.TTS.VoiceID != "" {
		return c.Providers.TTS.VoiceID
	}
	return c.Agent.VoiceID
}

// Render executes tmpl as a text/template with the agent's Name and Company.
func (a AgentConfig) Render(tmpl string) (string, error) {
	t, err := template.New("agent").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := t.Execute(&sb, struct{ Name, Company string }{a.Name, a.Company}); err != nil {
		return "", err
	}
	return strings.TrimSpace(sb.String()), nil
}

// RenderedGreeting returns the greeting text, or "" when disabled.
func (a AgentConfig) RenderedGreeting() (string, error) {
	if a.Greeting == GreetingDisabled {
		return "", nil
	}
	return a.Render(a.Greeting)
}

// VocabularyTerms returns the terms the transcript corrector restores: the
// agent name, the company and the configured vocabulary, deduplicated.
func (a AgentConfig) VocabularyTerms() []string {
	terms := make([]string, 0, len(a.Vocabulary)+2)
	for _, t := range append([]string{a.Name, a.Company}, a.Vocabulary...) {
		t = strings.TrimSpace(t)
		if t != "" && !slices.Contains(terms, t) {
			terms = append(terms, t)
		}
	}
	return terms
}
