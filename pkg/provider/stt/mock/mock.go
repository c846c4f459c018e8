// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider to script transcription results and inspect the audio the
// pipeline submitted:
//
//	p := &mock.Provider{Text: "what's my balance"}
//	text, _ := p.Transcribe(ctx, pcm, 16000)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/telvoxa/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// PCM is a copy of the audio passed to Transcribe.
	PCM []byte
	// SampleRate is the declared sample rate.
	SampleRate int
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is returned by Transcribe when Results is exhausted.
	Text string

	// Results, if non-empty, is consumed one entry per call before falling
	// back to Text.
	Results []string

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Block, if set, makes Transcribe wait until the channel is closed or the
	// context is done. Use it to simulate slow or hung providers.
	Block chan struct{}

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the scripted result.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	p.mu.Lock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	p.Calls = append(p.Calls, TranscribeCall{PCM: cp, SampleRate: sampleRate})
	block := p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return "", p.Err
	}
	if len(p.Results) > 0 {
		text := p.Results[0]
		p.Results = p.Results[1:]
		return text, nil
	}
	return p.Text, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

var _ stt.Provider = (*Provider)(nil)
