// Package tts defines the Provider interface for text-to-speech backends.
//
// The call pipeline synthesises one complete reply at a time, so the contract
// is a single blocking request: text in, PCM out. The returned audio carries
// its own sample rate; the caller resamples it to the telephony rate before
// encoding.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"time"
)

// Audio is a synthesised clip of mono little-endian PCM16.
type Audio struct {
	// PCM holds the samples.
	PCM []byte

	// SampleRate is the rate of PCM in Hz.
	SampleRate int
}

// Duration returns the playback length of the clip.
func (a Audio) Duration() time.Duration {
	if a.SampleRate <= 0 {
		return 0
	}
	samples := len(a.PCM) / 2
	return time.Duration(samples) * time.Second / time.Duration(a.SampleRate)
}

// Empty reports whether the clip holds no samples.
func (a Audio) Empty() bool { return len(a.PCM) < 2 }

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text in the voice identified by voiceID. An empty
	// text yields an empty Audio and no error. ctx cancellation aborts the
	// request.
	Synthesize(ctx context.Context, text, voiceID string) (Audio, error)
}

// VoiceProfile describes a voice offered by a provider.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier passed to Synthesize.
	ID string

	// Name is a human-readable label.
	Name string

	// Provider names the backend that owns the voice, e.g. "elevenlabs".
	Provider string

	// Metadata holds provider-specific labels such as accent or gender.
	Metadata map[string]string
}

// VoiceLister is implemented by providers that can enumerate their voices.
// The server uses it at startup to warn about a misconfigured voice ID.
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
