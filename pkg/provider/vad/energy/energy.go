// Package energy implements a [vad.Engine] that classifies frames by their
// amplitude energy: the mean absolute deviation of the samples from the frame
// mean. It needs no model and is well suited to narrow-band telephony audio.
//
// Scores are on the PCM16 scale. A quiet phone line sits well under 100; normal
// speech typically reads 500–3000. A threshold around 300 is a reasonable
// starting point.
package energy

import (
	"errors"
	"fmt"

	"github.com/MrWong99/telvoxa/pkg/audio"
	"github.com/MrWong99/telvoxa/pkg/provider/vad"
)

// Engine creates energy-based VAD sessions. The zero value is ready to use.
type Engine struct{}

var _ vad.Engine = Engine{}

// New returns an energy Engine.
func New() Engine { return Engine{} }

// NewSession validates cfg and returns a fresh session.
func (Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	silence := cfg.SilenceThreshold
	if silence == 0 {
		silence = cfg.SpeechThreshold
	}
	return &Session{speech: cfg.SpeechThreshold, silence: silence}, nil
}

// Session tracks the speech/silence state of one stream. Speech begins when a
// frame scores above the speech threshold and continues until a frame scores
// below the silence threshold.
type Session struct {
	speech  float64
	silence float64
	active  bool
	closed  bool
}

// ProcessFrame scores frame and reports the transition.
func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	if s.closed {
		return vad.VADEvent{}, vad.ErrClosed
	}
	if len(frame) == 0 {
		return vad.VADEvent{}, errors.New("energy: empty frame")
	}
	if len(frame)%2 != 0 {
		return vad.VADEvent{}, fmt.Errorf("energy: %w", audio.ErrOddLength)
	}

	score := audio.MeanAbsDeviation(frame)
	ev := vad.VADEvent{Score: score}
	switch {
	case !s.active && score > s.speech:
		s.active = true
		ev.Type = vad.VADSpeechStart
	case s.active && score < s.silence:
		s.active = false
		ev.Type = vad.VADSpeechEnd
	case s.active:
		ev.Type = vad.VADSpeechContinue
	default:
		ev.Type = vad.VADSilence
	}
	return ev, nil
}

// Reset returns the session to silence.
func (s *Session) Reset() {
	s.active = false
}

// Close marks the session closed. Idempotent.
func (s *Session) Close() error {
	s.closed = true
	return nil
}
