// Package deepgram provides an STT provider backed by Deepgram's streaming
// websocket API.
//
// Each Transcribe call opens a short-lived listen socket, streams the
// utterance as linear16 binary frames, sends CloseStream, and concatenates
// every final result Deepgram returns before it closes the socket. Reusing the
// streaming endpoint keeps latency low for short utterances and lets the
// provider pass keyword boosts.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/MrWong99/telvoxa/pkg/provider/stt"
	"github.com/coder/websocket"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// sendChunkBytes is the size of each binary audio frame written to the
	// socket (250 ms at 16 kHz).
	sendChunkBytes = 8000
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model (e.g., "nova-3", "nova-2-phonecall").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithKeywords sets vocabulary boosts sent with every request.
func WithKeywords(keywords []stt.KeywordBoost) Option {
	return func(p *Provider) {
		p.keywords = keywords
	}
}

// WithEndpoint overrides the websocket endpoint. Intended for tests and
// self-hosted deployments.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider using Deepgram.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
	keywords []stt.KeywordBoost
}

// New creates a Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe streams pcm to Deepgram and returns the joined final
// transcripts.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}

	wsURL, err := p.buildURL(sampleRate)
	if err != nil {
		return "", fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return "", fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	// Results arrive while we are still sending, so read concurrently.
	type readResult struct {
		text string
		err  error
	}
	readDone := make(chan readResult, 1)
	go func() {
		text, err := readFinals(ctx, conn)
		readDone <- readResult{text: text, err: err}
	}()

	for len(pcm) > 0 {
		n := min(sendChunkBytes, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[:n]); err != nil {
			return "", fmt.Errorf("deepgram: send audio: %w", err)
		}
		pcm = pcm[n:]
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return "", fmt.Errorf("deepgram: close stream: %w", err)
	}

	select {
	case res := <-readDone:
		if res.err != nil {
			return "", res.err
		}
		conn.Close(websocket.StatusNormalClosure, "done")
		return res.text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// readFinals collects final transcripts until Deepgram closes the socket.
func readFinals(ctx context.Context, conn *websocket.Conn) (string, error) {
	var parts []string
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return strings.Join(parts, " "), nil
			}
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("deepgram: read: %w", err)
		}

		if isMetadata(msg) {
			return strings.Join(parts, " "), nil
		}
		if text, final, ok := parseDeepgramResponse(msg); ok && final && text != "" {
			parts = append(parts, text)
		}
	}
}

// buildURL constructs the Deepgram websocket URL with query parameters.
func (p *Provider) buildURL(sampleRate int) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.language)
	q.Set("punctuate", "true")
	q.Set("interim_results", "false")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")

	for _, kw := range p.keywords {
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramResponse is the subset of Deepgram's streaming response schema that
// the provider uses.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseDeepgramResponse extracts the top alternative from a "Results"
// message. ok is false for other message types or malformed JSON.
func parseDeepgramResponse(data []byte) (text string, final, ok bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", false, false
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return "", false, false
	}
	return strings.TrimSpace(resp.Channel.Alternatives[0].Transcript), resp.IsFinal, true
}

// isMetadata reports whether data is the trailing Metadata message Deepgram
// sends after CloseStream.
func isMetadata(data []byte) bool {
	var resp struct {
		Type string `json:"type"`
	}
	return json.Unmarshal(data, &resp) == nil && resp.Type == "Metadata"
}
