// Package elevenlabs synthesises replies over the ElevenLabs stream-input
// WebSocket and lists voices over its REST API.
//
// The output format may be any pcm_<rate> format or ulaw_8000. The latter
// is what the carrier plays anyway, so it skips resampling; the clip is
// decoded to PCM16 at 8 kHz for the pipeline.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/telvoxa/pkg/audio"
	"github.com/MrWong99/telvoxa/pkg/provider/tts"
)

var (
	_ tts.Provider    = (*Provider)(nil)
	_ tts.VoiceLister = (*Provider)(nil)
)

const (
	apiHost   = "api.elevenlabs.io"
	maxFrame  = 4 << 20
	mulawName = "ulaw_8000"
)

// VoiceSettings tunes delivery. See the ElevenLabs voice_settings object.
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// Provider synthesises with one ElevenLabs model and output format.
type Provider struct {
	apiKey   string
	model    string
	format   string
	rate     int
	mulaw    bool
	settings VoiceSettings
	wsBase   string
	httpBase string
	client   *http.Client
}

// Option configures a [Provider].
type Option func(*Provider)

// WithModel sets the model id. The default is eleven_flash_v2_5.
func WithModel(model string) Option { return func(p *Provider) { p.model = model } }

// WithOutputFormat sets pcm_<rate> or ulaw_8000. The default is pcm_16000.
func WithOutputFormat(format string) Option { return func(p *Provider) { p.format = format } }

// WithVoiceSettings replaces the default stability 0.5 and similarity 0.75.
func WithVoiceSettings(s VoiceSettings) Option { return func(p *Provider) { p.settings = s } }

// WithEndpoints points the provider at other WebSocket and REST base URLs.
func WithEndpoints(wsBase, httpBase string) Option {
	return func(p *Provider) {
		p.wsBase = strings.TrimSuffix(wsBase, "/")
		p.httpBase = strings.TrimSuffix(httpBase, "/")
	}
}

// WithHTTPClient sets the client for dialling and REST calls.
func WithHTTPClient(c *http.Client) Option { return func(p *Provider) { p.client = c } }

// New returns a Provider authenticated with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: api key must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    "eleven_flash_v2_5",
		format:   "pcm_16000",
		settings: VoiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
		wsBase:   "wss://" + apiHost,
		httpBase: "https://" + apiHost,
		client:   http.DefaultClient,
	}
	for _, o := range opts {
		o(p)
	}
	var err error
	if p.rate, p.mulaw, err = outputRate(p.format); err != nil {
		return nil, err
	}
	return p, nil
}

// outputRate returns the sample rate of format and whether it is μ-law.
func outputRate(format string) (int, bool, error) {
	if format == mulawName {
		return 8000, true, nil
	}
	rest, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, false, fmt.Errorf("elevenlabs: unsupported output format %q", format)
	}
	rate, err := strconv.Atoi(rest)
	if err != nil || rate <= 0 {
		return 0, false, fmt.Errorf("elevenlabs: bad sample rate in output format %q", format)
	}
	return rate, false, nil
}

func (p *Provider) streamURL(voiceID string) string {
	q := url.Values{"model_id": {p.model}, "output_format": {p.format}}
	return p.wsBase + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream-input?" + q.Encode()
}

// inbound is one server frame of the stream-input protocol.
type inbound struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Synthesize implements [tts.Provider]. It sends the whole text followed by
// the end-of-input marker and gathers audio until the final frame.
func (p *Provider) Synthesize(ctx context.Context, text, voiceID string) (tts.Audio, error) {
	if strings.TrimSpace(text) == "" {
		return tts.Audio{}, nil
	}
	if voiceID == "" {
		return tts.Audio{}, errors.New("elevenlabs: voice id must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, p.streamURL(voiceID), &websocket.DialOptions{
		HTTPClient: p.client,
		HTTPHeader: http.Header{"xi-api-key": {p.apiKey}},
	})
	if err != nil {
		return tts.Audio{}, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxFrame)

	outbound := []any{
		map[string]any{"text": " ", "voice_settings": p.settings},
		map[string]any{"text": text + " ", "flush": true},
		map[string]any{"text": ""},
	}
	for _, m := range outbound {
		b, err := json.Marshal(m)
		if err != nil {
			return tts.Audio{}, fmt.Errorf("elevenlabs: encode: %w", err)
		}
		if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
			return tts.Audio{}, fmt.Errorf("elevenlabs: send: %w", err)
		}
	}

	var clip []byte
	for {
		_, data, err := conn.Read(ctx)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure && len(clip) > 0 {
			break
		}
		if err != nil {
			return tts.Audio{}, fmt.Errorf("elevenlabs: read: %w", err)
		}
		chunk, final, err := decodeFrame(data)
		if err != nil {
			return tts.Audio{}, err
		}
		clip = append(clip, chunk...)
		if final {
			break
		}
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
	return p.toAudio(clip), nil
}

func (p *Provider) toAudio(clip []byte) tts.Audio {
	if p.mulaw {
		return tts.Audio{PCM: audio.DecodeMulaw(clip), SampleRate: p.rate}
	}
	return tts.Audio{PCM: clip[:len(clip)&^1], SampleRate: p.rate}
}

func decodeFrame(data []byte) ([]byte, bool, error) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, false, fmt.Errorf("elevenlabs: decode frame: %w", err)
	}
	if in.Error != "" {
		return nil, false, fmt.Errorf("elevenlabs: %s: %s", in.Error, in.Message)
	}
	if in.Audio == "" {
		return nil, in.IsFinal, nil
	}
	chunk, err := base64.StdEncoding.DecodeString(in.Audio)
	if err != nil {
		return nil, false, fmt.Errorf("elevenlabs: decode audio: %w", err)
	}
	return chunk, in.IsFinal, nil
}

// ListVoices implements [tts.VoiceLister].
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.httpBase+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: status %d", resp.StatusCode)
	}

	var body struct {
		Voices []struct {
			ID       string            `json:"voice_id"`
			Name     string            `json:"name"`
			Category string            `json:"category"`
			Labels   map[string]string `json:"labels"`
		} `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	out := make([]tts.VoiceProfile, 0, len(body.Voices))
	for _, v := range body.Voices {
		meta := maps.Clone(v.Labels)
		if meta == nil {
			meta = map[string]string{}
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		out = append(out, tts.VoiceProfile{ID: v.ID, Name: v.Name, Provider: "elevenlabs", Metadata: meta})
	}
	return out, nil
}
