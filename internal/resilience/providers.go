package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/telvoxa/pkg/provider/llm"
	"github.com/MrWong99/telvoxa/pkg/provider/stt"
	"github.com/MrWong99/telvoxa/pkg/provider/tts"
)

var (
	_ stt.Provider    = (*STT)(nil)
	_ llm.Provider    = (*LLM)(nil)
	_ tts.Provider    = (*TTS)(nil)
	_ tts.VoiceLister = (*TTS)(nil)
)

// STT transcribes with the first healthy speech-to-text backend. The same
// utterance is replayed to each fallback.
type STT struct {
	*Group[stt.Provider]
}

// NewSTT returns an STT group with no backends.
func NewSTT(cfg BreakerConfig) *STT {
	return &STT{NewGroup[stt.Provider]("stt", cfg)}
}

// Transcribe implements [stt.Provider].
func (s *STT) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	return Call(ctx, s.Group, func(_ string, p stt.Provider) (string, error) {
		return p.Transcribe(ctx, pcm, sampleRate)
	})
}

// LLM completes with the first healthy language model backend.
type LLM struct {
	*Group[llm.Provider]
}

// NewLLM returns an LLM group with no backends.
func NewLLM(cfg BreakerConfig) *LLM {
	return &LLM{NewGroup[llm.Provider]("llm", cfg)}
}

// Complete implements [llm.Provider].
func (l *LLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Call(ctx, l.Group, func(_ string, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

var errSilentClip = errors.New("backend returned no audio")

// TTS synthesises with the first healthy text-to-speech backend. Voice ids
// are backend specific, so a backend added with [TTS.AddVoice] speaks with
// its own voice whatever the caller asked for.
type TTS struct {
	*Group[tts.Provider]
	voices map[string]string
}

// NewTTS returns a TTS group with no backends.
func NewTTS(cfg BreakerConfig) *TTS {
	return &TTS{Group: NewGroup[tts.Provider]("tts", cfg), voices: map[string]string{}}
}

// AddVoice appends a backend that always uses voiceID. An empty voiceID
// selects the backend's default voice.
func (t *TTS) AddVoice(name string, p tts.Provider, voiceID string) string {
	name = t.Add(name, p)
	t.voices[name] = voiceID
	return name
}

// Synthesize implements [tts.Provider]. A backend that returns no samples
// for non-empty text counts as failed.
func (t *TTS) Synthesize(ctx context.Context, text, voiceID string) (tts.Audio, error) {
	return Call(ctx, t.Group, func(name string, p tts.Provider) (tts.Audio, error) {
		voice := voiceID
		if v, ok := t.voices[name]; ok {
			voice = v
		}
		clip, err := p.Synthesize(ctx, text, voice)
		if err == nil && text != "" && clip.Empty() {
			return tts.Audio{}, errSilentClip
		}
		return clip, err
	})
}

// ListVoices lists the primary backend's voices, the ids callers pass to
// Synthesize. A primary that cannot list voices yields none.
func (t *TTS) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	if t.Len() == 0 {
		return nil, nil
	}
	vl, ok := t.Primary().(tts.VoiceLister)
	if !ok {
		return nil, nil
	}
	return vl.ListVoices(ctx)
}
