// Package vad defines the Engine interface for voice activity detection
// backends.
//
// A VAD engine classifies individual PCM frames as speech or silence and
// surfaces that as a stateful, per-stream session, so concurrent calls are
// processed independently. Turn-taking policy (debounce, end-of-utterance
// silence, utterance ceilings) lives above this layer; a session only reports
// frame-level transitions.
//
// ProcessFrame is synchronous and must not block: it runs inside the per-call
// audio loop.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines.
package vad

import "errors"

// ErrClosed is returned by ProcessFrame after Close.
var ErrClosed = errors.New("vad: session closed")

// Config holds the parameters for a VAD session. Thresholds are expressed in
// the engine's native scale; see each Engine's documentation.
type Config struct {
	// SampleRate is the audio sample rate in Hz of the frames passed to
	// ProcessFrame. Telephony audio is 8000.
	SampleRate int

	// FrameSizeMs is the nominal frame duration in milliseconds. Engines may
	// accept other sizes; it is used for diagnostics and model sizing.
	FrameSizeMs int

	// SpeechThreshold is the score above which a frame is classified as
	// speech.
	SpeechThreshold float64

	// SilenceThreshold is the score below which an active speech run is
	// considered ended. Zero means "same as SpeechThreshold". Must be ≤
	// SpeechThreshold.
	SilenceThreshold float64
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, errors.New("vad: sample rate must be positive"))
	}
	if c.SpeechThreshold <= 0 {
		errs = append(errs, errors.New("vad: speech threshold must be positive"))
	}
	if c.SilenceThreshold < 0 || c.SilenceThreshold > c.SpeechThreshold {
		errs = append(errs, errors.New("vad: silence threshold must be within [0, speech threshold]"))
	}
	return errors.Join(errs...)
}

// SessionHandle represents an active VAD session for a single audio stream.
// It is an interface so that test code can supply mock implementations.
type SessionHandle interface {
	// ProcessFrame classifies one frame of little-endian PCM16 at the
	// configured sample rate.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears detection state without closing the session.
	Reset()

	// Close releases the session. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Engine is the factory for VAD sessions.
type Engine interface {
	// NewSession creates a session with the given configuration. Returns an
	// error if the configuration is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
