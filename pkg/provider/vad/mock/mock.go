// Package mock provides a scripted [vad.Engine] for tests.
//
// A script is a string with one character per frame: 'S' for speech, any
// other character for silence. "..SSSS..." is two silent frames, four speech
// frames, then silence.
package mock

import (
	"sync"

	"github.com/MrWong99/telvoxa/pkg/provider/vad"
)

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)

// Engine hands out sessions and remembers the configurations it was given.
type Engine struct {
	// Script is used for every session the engine creates.
	Script string

	// NewSessionErr fails every NewSession call.
	NewSessionErr error

	mu       sync.Mutex
	configs  []vad.Config
	sessions []*Session
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configs = append(e.configs, cfg)
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	s := &Session{Script: e.Script}
	e.sessions = append(e.sessions, s)
	return s, nil
}

// Configs returns the configuration of every NewSession call.
func (e *Engine) Configs() []vad.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]vad.Config(nil), e.configs...)
}

// Sessions returns the sessions created so far.
func (e *Engine) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Session(nil), e.sessions...)
}

// Session replays Script one frame at a time. Frames past its end are
// silence.
type Session struct {
	Script string

	mu       sync.Mutex
	pos      int
	speaking bool
	frames   int
	resets   int
	closed   bool
}

// ProcessFrame implements [vad.SessionHandle].
func (s *Session) ProcessFrame([]byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.VADEvent{}, vad.ErrClosed
	}
	s.frames++
	speech := s.pos < len(s.Script) && s.Script[s.pos] == 'S'
	s.pos++

	ev := vad.VADEvent{Type: vad.VADSilence}
	switch {
	case speech:
		ev = vad.VADEvent{Type: vad.VADSpeechContinue, Score: 1}
		if !s.speaking {
			ev.Type = vad.VADSpeechStart
		}
	case s.speaking:
		ev.Type = vad.VADSpeechEnd
	}
	s.speaking = speech
	return ev, nil
}

// Reset implements [vad.SessionHandle]. The script position is kept.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	s.speaking = false
}

// Close implements [vad.SessionHandle].
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Stats reports how many frames were classified, how often the session was
// reset and whether it was closed.
func (s *Session) Stats() (frames, resets int, closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames, s.resets, s.closed
}
