// Package call runs the per-call voice pipeline.
//
// A [Registry] owns one [Session] per active call. Each session runs a single
// goroutine that owns all of its state: the turn detector, the conversation
// history and the turn-taking [State]. Inbound audio, playback marks and
// collaborator results reach that goroutine over one channel, so no
// per-session locking is needed. Transcription, generation and synthesis run
// in child goroutines bounded by the response timeout; their results are
// tagged with a round number and dropped once stale.
package call

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/telvoxa/internal/observe"
	"github.com/MrWong99/telvoxa/internal/turn"
	"github.com/MrWong99/telvoxa/pkg/audio/playout"
	"github.com/MrWong99/telvoxa/pkg/provider/llm"
	"github.com/MrWong99/telvoxa/pkg/provider/stt"
	"github.com/MrWong99/telvoxa/pkg/provider/tts"
	"github.com/MrWong99/telvoxa/pkg/provider/vad"
)

// Generator produces the next system reply from the conversation so far.
// It must tolerate an empty history.
type Generator interface {
	Generate(ctx context.Context, history []llm.Message) (string, error)
}

// Corrector rewrites a raw transcript, e.g. to fix misheard names.
type Corrector interface {
	Correct(ctx context.Context, text string) (string, error)
}

// Output is the outbound leg of the media channel.
type Output interface {
	playout.Sink
}

// Hooks are notified of conversation progress. They must not block; hand
// slow work to another goroutine.
type Hooks struct {
	// OnStreamStarted fires on the session goroutine once media attaches,
	// before any turn is recorded. The transcript carries no turns.
	OnStreamStarted func(tr Transcript)

	// OnTurnRecorded fires on the session goroutine for every caller turn
	// once transcribed and for every system turn once its delivery concludes.
	OnTurnRecorded func(callID string, t Turn)

	// OnSessionEnded fires exactly once per session, on the goroutine that
	// called Destroy.
	OnSessionEnded func(callID string, tr Transcript)
}

// Config holds the per-session tunables. Zero values take defaults.
type Config struct {
	// Turn holds the detector timing thresholds.
	Turn turn.Config

	// EnergyThreshold is the speech threshold of the VAD classifier.
	EnergyThreshold float64

	// FrameMs is the inbound chunk cadence reported to the classifier.
	FrameMs int

	// BargeInChunks is the run of speech chunks that interrupts playback.
	BargeInChunks int

	// STTSampleRate is the rate utterances are resampled to before
	// transcription.
	STTSampleRate int

	// ResponseTimeout bounds each collaborator call.
	ResponseTimeout time.Duration

	// PlaybackGrace is added to the clip length to bound the wait for the
	// playback mark.
	PlaybackGrace time.Duration

	// ContextTurns is the number of trailing turns passed to the generator.
	ContextTurns int

	// PendingUtterances caps utterances queued while a turn is in flight.
	// Zero means the default; [NoPendingUtterances] drops every utterance
	// that completes during a turn.
	PendingUtterances int

	// MaxSessions caps concurrently registered calls.
	MaxSessions int

	// VoiceID is passed to the synthesizer.
	VoiceID string

	// Greeting is spoken when the stream starts. Empty disables it.
	Greeting string

	// FallbackPhrase is spoken when a turn fails. Empty plays a tone.
	FallbackPhrase string
}

// Defaults.
const (
	DefaultEnergyThreshold   = 300
	DefaultFrameMs           = 20
	DefaultBargeInChunks     = 1
	DefaultSTTSampleRate     = 16000
	DefaultResponseTimeout   = 5 * time.Second
	DefaultPlaybackGrace     = time.Second
	DefaultContextTurns      = 6
	DefaultPendingUtterances = 1
	DefaultMaxSessions       = 100

	// NoPendingUtterances disables the queue of utterances completed
	// while a turn is in flight.
	NoPendingUtterances = -1
)

// WithDefaults returns c with zero fields replaced by defaults.
func (c Config) WithDefaults() Config {
	c.Turn = c.Turn.WithDefaults()
	if c.EnergyThreshold == 0 {
		c.EnergyThreshold = DefaultEnergyThreshold
	}
	if c.FrameMs == 0 {
		c.FrameMs = DefaultFrameMs
	}
	if c.BargeInChunks == 0 {
		c.BargeInChunks = DefaultBargeInChunks
	}
	if c.STTSampleRate == 0 {
		c.STTSampleRate = DefaultSTTSampleRate
	}
	if c.ResponseTimeout == 0 {
		c.ResponseTimeout = DefaultResponseTimeout
	}
	if c.PlaybackGrace == 0 {
		c.PlaybackGrace = DefaultPlaybackGrace
	}
	if c.ContextTurns == 0 {
		c.ContextTurns = DefaultContextTurns
	}
	if c.PendingUtterances == 0 {
		c.PendingUtterances = DefaultPendingUtterances
	}
	if c.MaxSessions == 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	return c
}

// Validate reports invalid settings.
func (c Config) Validate() error {
	var errs []error
	if err := c.Turn.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.EnergyThreshold <= 0 {
		errs = append(errs, errors.New("call: energy threshold must be positive"))
	}
	if c.FrameMs <= 0 {
		errs = append(errs, errors.New("call: frame size must be positive"))
	}
	if c.BargeInChunks < 1 {
		errs = append(errs, errors.New("call: barge-in chunks must be at least 1"))
	}
	if c.STTSampleRate <= 0 {
		errs = append(errs, errors.New("call: stt sample rate must be positive"))
	}
	if c.ResponseTimeout <= 0 || c.PlaybackGrace < 0 {
		errs = append(errs, errors.New("call: timeouts must not be negative"))
	}
	if c.PendingUtterances < NoPendingUtterances || c.MaxSessions < 1 {
		errs = append(errs, errors.New("call: queue and session limits must be positive"))
	}
	return errors.Join(errs...)
}

// Pipeline bundles the collaborators injected into every session.
type Pipeline struct {
	STT       stt.Provider
	Generator Generator
	TTS       tts.Provider
	VAD       vad.Engine

	// Corrector is optional.
	Corrector Corrector

	Hooks Hooks

	// Metrics defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics

	// PlayoutOptions are passed to each session's player.
	PlayoutOptions []playout.Option

	Config Config
}

func (p Pipeline) validate() error {
	var errs []error
	if p.STT == nil {
		errs = append(errs, errors.New("call: STT provider is required"))
	}
	if p.Generator == nil {
		errs = append(errs, errors.New("call: generator is required"))
	}
	if p.TTS == nil {
		errs = append(errs, errors.New("call: TTS provider is required"))
	}
	if p.VAD == nil {
		errs = append(errs, errors.New("call: VAD engine is required"))
	}
	return errors.Join(errs...)
}
