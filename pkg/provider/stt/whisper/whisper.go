// Package whisper transcribes caller utterances on a self-hosted
// whisper.cpp server (the whisper-server binary and its POST /inference
// endpoint).
//
//	p, err := whisper.New("http://localhost:8081",
//	    whisper.WithLanguage("en"),
//	    whisper.WithPrompt([]string{"Acme Telecom", "Alex"}))
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/telvoxa/pkg/audio"
	"github.com/MrWong99/telvoxa/pkg/provider/stt"
)

var _ stt.Provider = (*Provider)(nil)

// maxErrorBody caps how much of a failed response ends up in the error.
const maxErrorBody = 256

// Provider sends each utterance to one whisper.cpp server as a WAV upload.
type Provider struct {
	endpoint    string
	language    string
	model       string
	prompt      string
	temperature float64
	client      *http.Client
}

// Option configures a [Provider].
type Option func(*Provider)

// WithLanguage sets the spoken language. The default is "en"; "auto" lets the
// server detect it per utterance.
func WithLanguage(lang string) Option { return func(p *Provider) { p.language = lang } }

// WithModel selects a model on servers started with several.
func WithModel(model string) Option { return func(p *Provider) { p.model = model } }

// WithPrompt primes the decoder with terms the caller is likely to say, such
// as the company and agent names.
func WithPrompt(terms []string) Option {
	return func(p *Provider) { p.prompt = strings.Join(terms, ", ") }
}

// WithTemperature sets the decoding temperature. Zero keeps decoding greedy.
func WithTemperature(t float64) Option { return func(p *Provider) { p.temperature = t } }

// WithTimeout bounds one transcription request. The default is 15s.
func WithTimeout(d time.Duration) Option { return func(p *Provider) { p.client.Timeout = d } }

// WithHTTPClient replaces the HTTP client, including its timeout.
func WithHTTPClient(c *http.Client) Option { return func(p *Provider) { p.client = c } }

// New returns a Provider for the server at baseURL.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("whisper: base URL must not be empty")
	}
	p := &Provider{
		endpoint: strings.TrimSuffix(baseURL, "/") + "/inference",
		language: "en",
		client:   &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements [stt.Provider]. Empty input never reaches the server.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}
	wav, err := audio.EncodeWAV(pcm, sampleRate)
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	body, contentType, err := p.form(wav)
	if err != nil {
		return "", fmt.Errorf("whisper: build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: inference: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("whisper: inference: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	var out struct {
		Text  string `json:"text"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("whisper: decode response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("whisper: inference: %s", out.Error)
	}
	return speechOnly(out.Text), nil
}

func (p *Provider) form(wav []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(wav); err != nil {
		return nil, "", err
	}
	fields := [][2]string{
		{"response_format", "json"},
		{"language", p.language},
		{"model", p.model},
		{"prompt", p.prompt},
	}
	if p.temperature > 0 {
		fields = append(fields, [2]string{"temperature", strconv.FormatFloat(p.temperature, 'f', -1, 64)})
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

// speechOnly drops the bracketed annotations whisper emits for line noise,
// hold music and silence.
func speechOnly(text string) string {
	text = strings.TrimSpace(text)
	if len(text) > 1 && isAnnotation(text) {
		return ""
	}
	return text
}

func isAnnotation(s string) bool {
	switch {
	case s[0] == '[' && s[len(s)-1] == ']':
	case s[0] == '(' && s[len(s)-1] == ')':
	case s[0] == '*' && s[len(s)-1] == '*':
	default:
		return false
	}
	return !strings.ContainsAny(s[1:len(s)-1], "[]()*")
}
