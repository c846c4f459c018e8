package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"deepgram", "whisper", "whisper-native"},
	"tts": {"elevenlabs", "coqui"},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultAgentName       = "Alex"
	DefaultCompany         = "AI Support Center"
	DefaultSystemPrompt    = "You are {{.Name}}, a helpful customer service agent at {{.Company}}. " +
		"You are speaking with a caller on the phone. Keep responses brief and conversational, " +
		"one or two sentences. Be friendly, professional, and helpful. " +
		"If you don't know something, say so politely."
	DefaultGreeting       = "Hello, this is {{.Name}}. How can I help?"
	DefaultFallbackPhrase = "I'm sorry, I didn't catch that. Could you say it again?"
	DefaultTranscriptTTL  = 24 * time.Hour
	DefaultServiceName    = "telvoxa"

	// GreetingDisabled as agent.greeting turns the greeting off.
	GreetingDisabled = "-"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. Unknown keys are rejected. An empty document yields
// the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero fields of cfg with their defaults. Pipeline
// thresholds left at zero are defaulted later by the call package.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Agent.Name == "" {
		cfg.Agent.Name = DefaultAgentName
	}
	if cfg.Agent.Company == "" {
		cfg.Agent.Company = DefaultCompany
	}
	if cfg.Agent.SystemPrompt == "" {
		cfg.Agent.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Agent.Greeting == "" {
		cfg.Agent.Greeting = DefaultGreeting
	}
	if cfg.Agent.FallbackPhrase == "" {
		cfg.Agent.FallbackPhrase = DefaultFallbackPhrase
	}
	if cfg.Store.TranscriptTTL == 0 {
		cfg.Store.TranscriptTTL = DefaultTranscriptTTL
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	for _, p := range []struct {
		kind      string
		primary   ProviderEntry
		fallbacks []ProviderEntry
	}{
		{"stt", cfg.Providers.STT, cfg.Providers.FallbackSTT},
		{"llm", cfg.Providers.LLM, cfg.Providers.FallbackLLM},
		{"tts", cfg.Providers.TTS, cfg.Providers.FallbackTTS},
	} {
		if p.primary.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.name is required", p.kind))
		}
		validateProviderName(p.kind, p.primary.Name)
		for i, fb := range p.fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("providers.fallback_%s[%d].name is required", p.kind, i))
			}
			validateProviderName(p.kind, fb.Name)
		}
	}
	if cb := cfg.Providers.CircuitBreaker; cb.MaxFailures < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("providers.circuit_breaker values must not be negative"))
	}

	// Pipeline
	if err := cfg.CallConfig().WithDefaults().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("pipeline: %w", err))
	}
	if cfg.Pipeline.ContextTurns < 0 {
		errs = append(errs, errors.New("pipeline.context_turns must not be negative"))
	}
	if t := cfg.Pipeline.LLM.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("pipeline.llm.temperature %.2f is out of range [0, 2]", t))
	}
	if cfg.Pipeline.LLM.MaxTokens < 0 {
		errs = append(errs, errors.New("pipeline.llm.max_tokens must not be negative"))
	}

	// Agent
	for _, f := range []struct{ name, tmpl string }{
		{"system_prompt", cfg.Agent.SystemPrompt},
		{"greeting", cfg.Agent.Greeting},
	} {
		if _, err := cfg.Agent.Render(f.tmpl); err != nil {
			errs = append(errs, fmt.Errorf("agent.%s: %w", f.name, err))
		}
	}
	if cfg.Agent.VoiceID == "" && cfg.Providers.TTS.VoiceID == "" {
		slog.Warn("agent.voice_id is empty; the TTS provider's default voice will be used")
	}

	// Store
	if cfg.Store.TranscriptTTL < 0 {
		errs = append(errs, errors.New("store.transcript_ttl must not be negative"))
	}
	if cfg.Store.RedisDB < 0 {
		errs = append(errs, errors.New("store.redis_db must not be negative"))
	}

	// Telemetry
	if r := cfg.Telemetry.SampleRatio(); r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %.2f is out of range [0, 1]", r))
	}
	if cfg.Store.PostgresDSN == "" && cfg.Store.RedisAddr == "" {
		slog.Warn("no transcript store configured; call transcripts are only logged")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
