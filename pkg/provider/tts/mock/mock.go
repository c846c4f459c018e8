// Package mock provides a test double for the tts.Provider interface.
//
//	p := &mock.Provider{Audio: tts.Audio{PCM: make([]byte, 3200), SampleRate: 16000}}
//	clip, _ := p.Synthesize(ctx, "hello", "voice-1")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/telvoxa/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Provider.Synthesize.
type SynthesizeCall struct {
	Text    string
	VoiceID string
}

// Provider is a mock implementation of tts.Provider and tts.VoiceLister.
type Provider struct {
	mu sync.Mutex

	// Audio is returned by every successful Synthesize call with non-empty
	// text.
	Audio tts.Audio

	// Err, if non-nil, is returned as the error from Synthesize.
	Err error

	// ErrFor, if set, is consulted before Err and may fail individual texts.
	ErrFor func(text string) error

	// Block, if set, makes Synthesize wait until the channel is closed or the
	// context is done.
	Block chan struct{}

	// Voices is returned by ListVoices.
	Voices []tts.VoiceProfile

	// Calls records every call to Synthesize.
	Calls []SynthesizeCall
}

// Synthesize records the call and returns the scripted result.
func (p *Provider) Synthesize(ctx context.Context, text, voiceID string) (tts.Audio, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, SynthesizeCall{Text: text, VoiceID: voiceID})
	block := p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return tts.Audio{}, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ErrFor != nil {
		if err := p.ErrFor(text); err != nil {
			return tts.Audio{}, err
		}
	}
	if p.Err != nil {
		return tts.Audio{}, p.Err
	}
	if text == "" {
		return tts.Audio{}, nil
	}
	pcm := make([]byte, len(p.Audio.PCM))
	copy(pcm, p.Audio.PCM)
	return tts.Audio{PCM: pcm, SampleRate: p.Audio.SampleRate}, nil
}

// ListVoices returns Voices.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Voices, nil
}

// Texts returns the text of every Synthesize call in order. Thread-safe.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Calls))
	for i, c := range p.Calls {
		out[i] = c.Text
	}
	return out
}

// CallCount returns the number of Synthesize calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

var (
	_ tts.Provider    = (*Provider)(nil)
	_ tts.VoiceLister = (*Provider)(nil)
)
