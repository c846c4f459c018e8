package main

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/telvoxa/internal/app"
	"github.com/MrWong99/telvoxa/internal/config"
	"github.com/MrWong99/telvoxa/internal/observe"
	"github.com/MrWong99/telvoxa/internal/resilience"
	"github.com/MrWong99/telvoxa/pkg/provider/llm"
	"github.com/MrWong99/telvoxa/pkg/provider/llm/anyllm"
	"github.com/MrWong99/telvoxa/pkg/provider/llm/openai"
	"github.com/MrWong99/telvoxa/pkg/provider/stt"
	"github.com/MrWong99/telvoxa/pkg/provider/stt/deepgram"
	"github.com/MrWong99/telvoxa/pkg/provider/stt/whisper"
	"github.com/MrWong99/telvoxa/pkg/provider/tts"
	"github.com/MrWong99/telvoxa/pkg/provider/tts/coqui"
	"github.com/MrWong99/telvoxa/pkg/provider/tts/elevenlabs"
)

// vocabularyBoost is the keyword boost sent to STT backends that support it.
const vocabularyBoost = 2

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages. vocabulary is passed to
// STT backends that accept keyword hints.
func registerBuiltinProviders(reg *config.Registry, vocabulary []string) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if n, ok := optFloat(entry.Options, "max_retries"); ok {
			opts = append(opts, openai.WithMaxRetries(int(n)))
		}
		if d, err := time.ParseDuration(optString(entry.Options, "timeout")); err == nil {
			opts = append(opts, openai.WithTimeout(d))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// anthropic, gemini, deepseek, mistral, groq, llamacpp and llamafile
	// share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if len(vocabulary) > 0 {
			kw := make([]stt.KeywordBoost, 0, len(vocabulary))
			for _, term := range vocabulary {
				kw = append(kw, stt.KeywordBoost{Keyword: term, Boost: vocabularyBoost})
			}
			opts = append(opts, deepgram.WithKeywords(kw))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if len(vocabulary) > 0 {
			opts = append(opts, whisper.WithPrompt(vocabulary))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	// whisper-native runs the model in-process. It needs a binary built with
	// -tags whispercpp; entry.Model is the path to the ggml model file.
	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if n, ok := optFloat(entry.Options, "threads"); ok && n > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(n)))
		}
		if len(vocabulary) > 0 {
			opts = append(opts, whisper.WithNativePrompt(vocabulary))
		}
		return whisper.NewNative(entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if stability, ok := optFloat(entry.Options, "stability"); ok {
			similarity, _ := optFloat(entry.Options, "similarity_boost")
			speed, _ := optFloat(entry.Options, "speed")
			opts = append(opts, elevenlabs.WithVoiceSettings(elevenlabs.VoiceSettings{
				Stability:       stability,
				SimilarityBoost: cmp.Or(similarity, 0.75),
				Speed:           speed,
			}))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if speaker := optString(entry.Options, "speaker"); speaker != "" {
			opts = append(opts, coqui.WithSpeaker(speaker))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	for _, kind := range []string{"llm", "stt", "tts"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates the providers named in cfg using the registry.
// When fallbacks are configured, each stage is wrapped in a resilience
// fallback group with a circuit breaker per backend.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	metrics := observe.DefaultMetrics()
	bc := resilience.BreakerConfig{
		MaxFailures:  cfg.Providers.CircuitBreaker.MaxFailures,
		ResetTimeout: cfg.Providers.CircuitBreaker.ResetTimeout,
		OnStateChange: func(name string, _, to resilience.State) {
			stage, provider, _ := strings.Cut(name, ":")
			metrics.RecordBreakerTransition(context.Background(), stage, provider, to.String())
		},
	}
	ps := &app.Providers{}

	// ── LLM ───────────────────────────────────────────────────────────────────
	primaryLLM, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	ps.LLM = primaryLLM
	if len(cfg.Providers.FallbackLLM) > 0 {
		group := resilience.NewLLM(bc)
		group.Add(cfg.Providers.LLM.Name, primaryLLM)
		for i, entry := range cfg.Providers.FallbackLLM {
			p, err := reg.CreateLLM(entry)
			if err != nil {
				return nil, fmt.Errorf("create fallback llm provider %q (index %d): %w", entry.Name, i, err)
			}
			group.Add(entry.Name, p)
		}
		ps.LLM = group
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name,
		"fallbacks", len(cfg.Providers.FallbackLLM))

	// ── STT ───────────────────────────────────────────────────────────────────
	primarySTT, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	ps.STT = primarySTT
	if len(cfg.Providers.FallbackSTT) > 0 {
		group := resilience.NewSTT(bc)
		group.Add(cfg.Providers.STT.Name, primarySTT)
		for i, entry := range cfg.Providers.FallbackSTT {
			p, err := reg.CreateSTT(entry)
			if err != nil {
				return nil, fmt.Errorf("create fallback stt provider %q (index %d): %w", entry.Name, i, err)
			}
			group.Add(entry.Name, p)
		}
		ps.STT = group
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name,
		"fallbacks", len(cfg.Providers.FallbackSTT))

	// ── TTS ───────────────────────────────────────────────────────────────────
	primaryTTS, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	ps.TTS = primaryTTS
	if len(cfg.Providers.FallbackTTS) > 0 {
		group := resilience.NewTTS(bc)
		group.Add(cfg.Providers.TTS.Name, primaryTTS)
		for i, entry := range cfg.Providers.FallbackTTS {
			p, err := reg.CreateTTS(entry)
			if err != nil {
				return nil, fmt.Errorf("create fallback tts provider %q (index %d): %w", entry.Name, i, err)
			}
			// Voice IDs are provider specific; a fallback without its own
			// voice_id uses its default voice.
			group.AddVoice(entry.Name, p, entry.VoiceID)
		}
		ps.TTS = group
	}
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name,
		"fallbacks", len(cfg.Providers.FallbackTTS))

	return ps, nil
}

// checkVoice warns when the configured voice is unknown to the primary TTS
// backend. Backends that cannot list voices are skipped.
func checkVoice(ctx context.Context, p tts.Provider, voiceID string) {
	lister, ok := p.(tts.VoiceLister)
	if !ok || voiceID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	voices, err := lister.ListVoices(ctx)
	if err != nil {
		slog.Warn("could not list tts voices", "err", err)
		return
	}
	if !slices.ContainsFunc(voices, func(v tts.VoiceProfile) bool { return v.ID == voiceID }) {
		slog.Warn("configured voice not offered by tts provider", "voice_id", voiceID, "available", len(voices))
	}
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optFloat returns opts[key] when it is a YAML number.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
