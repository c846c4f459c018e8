// Package coqui synthesises replies on a self-hosted Coqui TTS server.
//
// Two server flavours exist. The stock image ([APIModeStandard]) serves
// GET /api/tts and describes its model at GET /details. The XTTS v2 API
// server ([APIModeXTTS]) serves POST /tts_to_audio/ and lists its studio
// speakers at GET /studio_speakers. Both answer with a WAV file.
package coqui

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/telvoxa/pkg/audio"
	"github.com/MrWong99/telvoxa/pkg/provider/tts"
)

var (
	_ tts.Provider    = (*Provider)(nil)
	_ tts.VoiceLister = (*Provider)(nil)
)

// maxClip bounds the WAV body read for one reply.
const maxClip = 32 << 20

// APIMode names a Coqui server flavour.
type APIMode string

const (
	APIModeStandard APIMode = "standard"
	APIModeXTTS     APIMode = "xtts"
)

// flavour builds the requests one server API understands.
type flavour interface {
	synthesis(ctx context.Context, base, text, speaker, lang string) (*http.Request, error)
	voices(ctx context.Context, p *Provider) ([]tts.VoiceProfile, error)
	needsSpeaker() bool
}

// Provider talks to one Coqui server.
type Provider struct {
	base     string
	mode     APIMode
	api      flavour
	language string
	speaker  string
	client   *http.Client
}

// Option configures a [Provider].
type Option func(*Provider)

// WithAPIMode selects the server flavour. The default is [APIModeStandard].
func WithAPIMode(m APIMode) Option { return func(p *Provider) { p.mode = m } }

// WithLanguage sets the language id sent with each request. The default is "en".
func WithLanguage(lang string) Option { return func(p *Provider) { p.language = lang } }

// WithSpeaker sets the speaker used when a request names no voice.
func WithSpeaker(name string) Option { return func(p *Provider) { p.speaker = name } }

// WithTimeout bounds one synthesis request. The default is 20s.
func WithTimeout(d time.Duration) Option { return func(p *Provider) { p.client.Timeout = d } }

// New returns a Provider for the server at baseURL.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("coqui: base URL must not be empty")
	}
	p := &Provider{
		base:     strings.TrimSuffix(baseURL, "/"),
		mode:     APIModeStandard,
		language: "en",
		client:   &http.Client{Timeout: 20 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	switch p.mode {
	case APIModeStandard:
		p.api = standard{}
	case APIModeXTTS:
		p.api = xtts{}
	default:
		return nil, fmt.Errorf("coqui: unknown API mode %q", p.mode)
	}
	return p, nil
}

// Synthesize implements [tts.Provider].
func (p *Provider) Synthesize(ctx context.Context, text, voiceID string) (tts.Audio, error) {
	if strings.TrimSpace(text) == "" {
		return tts.Audio{}, nil
	}
	speaker := cmp.Or(voiceID, p.speaker)
	if speaker == "" && p.api.needsSpeaker() {
		return tts.Audio{}, fmt.Errorf("coqui: %s mode needs a voice id or default speaker", p.mode)
	}
	req, err := p.api.synthesis(ctx, p.base, text, speaker, p.language)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("coqui: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	body, err := p.do(req, maxClip)
	if err != nil {
		return tts.Audio{}, err
	}
	pcm, rate, err := audio.DecodeWAV(body)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("coqui: %w", err)
	}
	return tts.Audio{PCM: pcm, SampleRate: rate}, nil
}

// ListVoices implements [tts.VoiceLister].
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return p.api.voices(ctx, p)
}

func (p *Provider) do(req *http.Request, limit int64) ([]byte, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: %s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("coqui: read %s: %w", req.URL.Path, err)
	}
	return body, nil
}

func (p *Provider) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.base+path, nil)
	if err != nil {
		return fmt.Errorf("coqui: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	body, err := p.do(req, 1<<20)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("coqui: decode %s: %w", path, err)
	}
	return nil
}

func profile(id string, meta map[string]string) tts.VoiceProfile {
	return tts.VoiceProfile{ID: id, Name: id, Provider: "coqui", Metadata: meta}
}

type standard struct{}

func (standard) needsSpeaker() bool { return false }

func (standard) synthesis(ctx context.Context, base, text, speaker, lang string) (*http.Request, error) {
	q := url.Values{"text": {text}}
	if speaker != "" {
		q.Set("speaker_id", speaker)
	}
	if lang != "" {
		q.Set("language_id", lang)
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/tts?"+q.Encode(), nil)
}

// voices lists the speakers of a multi-speaker model, or the model itself
// when it has a single voice.
func (standard) voices(ctx context.Context, p *Provider) ([]tts.VoiceProfile, error) {
	var d struct {
		ModelName string   `json:"model_name"`
		Speakers  []string `json:"speakers"`
	}
	if err := p.getJSON(ctx, "/details", &d); err != nil {
		return nil, err
	}
	if len(d.Speakers) == 0 {
		name := cmp.Or(d.ModelName, "default")
		return []tts.VoiceProfile{profile(name, map[string]string{"type": "single-speaker", "model_name": name})}, nil
	}
	out := make([]tts.VoiceProfile, 0, len(d.Speakers))
	for _, s := range slices.Sorted(slices.Values(d.Speakers)) {
		out = append(out, profile(s, map[string]string{"type": "speaker", "model_name": d.ModelName}))
	}
	return out, nil
}

type xtts struct{}

func (xtts) needsSpeaker() bool { return true }

func (xtts) synthesis(ctx context.Context, base, text, speaker, lang string) (*http.Request, error) {
	body, err := json.Marshal(struct {
		Text       string `json:"text"`
		SpeakerWav string `json:"speaker_wav"`
		Language   string `json:"language"`
	}{text, speaker, lang})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/tts_to_audio/", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (xtts) voices(ctx context.Context, p *Provider) ([]tts.VoiceProfile, error) {
	var speakers map[string]json.RawMessage
	if err := p.getJSON(ctx, "/studio_speakers", &speakers); err != nil {
		return nil, err
	}
	out := make([]tts.VoiceProfile, 0, len(speakers))
	for _, name := range slices.Sorted(maps.Keys(speakers)) {
		out = append(out, profile(name, map[string]string{"type": "studio"}))
	}
	return out, nil
}
