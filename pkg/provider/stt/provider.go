// Package stt defines the Provider interface for speech-to-text backends.
//
// The call pipeline hands a provider one complete caller utterance at a time
// (the turn detector has already decided where it starts and ends), so the
// contract is a single blocking request: PCM in, text out. An empty result is
// a valid answer meaning "nothing intelligible was said".
//
// Implementations must be safe for concurrent use: every active call may be
// transcribing at the same time.
package stt

import "context"

// Provider transcribes buffered caller audio.
type Provider interface {
	// Transcribe returns the text spoken in pcm, which is mono little-endian
	// PCM16 at sampleRate. It returns "" when no speech was recognised.
	// Errors are reported, never panicked; ctx cancellation aborts the
	// request.
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error)
}

// KeywordBoost is a vocabulary hint for providers that support biasing
// recognition toward specific terms such as product or agent names.
type KeywordBoost struct {
	// Keyword is the term to boost.
	Keyword string

	// Boost is the provider-specific intensity, typically in [1, 10].
	Boost float64
}
