//go:build whispercpp

// The whispercpp build needs libwhisper.a and whisper.h on LIBRARY_PATH and
// C_INCLUDE_PATH.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/telvoxa/pkg/audio"
)

type nativeEngine struct {
	model whisperlib.Model
}

func loadEngine(modelPath string) (nativeEngine, error) {
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nativeEngine{}, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	return nativeEngine{model: model}, nil
}

// Close releases the model.
func (p *NativeProvider) Close() error {
	if p.engine.model == nil {
		return nil
	}
	return p.engine.model.Close()
}

// Transcribe implements [stt.Provider]. Inference itself cannot be
// interrupted; a cancelled ctx returns at once and the result is discarded
// when it arrives.
func (p *NativeProvider) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	pcm16k, err := audio.Resample(pcm, sampleRate, nativeRate)
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	samples := audio.Samples(pcm16k)
	floats := make([]float32, len(samples))
	for i, s := range samples {
		floats[i] = float32(s) / 32768
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := p.infer(floats)
		done <- result{text, err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			return "", r.err
		}
		return speechOnly(r.text), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *NativeProvider) infer(samples []float32) (string, error) {
	wctx, err := p.engine.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whisper: language rejected, using model default", "language", p.language, "err", err)
	}
	if p.prompt != "" {
		wctx.SetInitialPrompt(p.prompt)
	}
	if p.threads > 0 {
		wctx.SetThreads(p.threads)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
