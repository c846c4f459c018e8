package config_test

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/telvoxa/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{
			name:    "missing providers",
			yaml:    "server:\n  log_level: info\n",
			wantMsg: "providers.stt.name is required",
		},
		{
			name:    "invalid log level",
			yaml:    minimalYAML + "server:\n  log_level: verbose\n",
			wantMsg: "server.log_level",
		},
		{
			name:    "tls without key",
			yaml:    minimalYAML + "server:\n  tls:\n    cert_file: cert.pem\n",
			wantMsg: "server.tls",
		},
		{
			name:    "unnamed fallback",
			yaml:    minimalYAML + "  fallback_stt:\n    - model: nova-2\n",
			wantMsg: "providers.fallback_stt[0].name",
		},
		{
			name:    "barge-in below one",
			yaml:    minimalYAML + "pipeline:\n  vad:\n    barge_in_chunks: -1\n",
			wantMsg: "barge-in",
		},
		{
			name:    "max utterance below min speech",
			yaml:    minimalYAML + "pipeline:\n  vad:\n    min_speech: 2s\n    max_utterance: 1s\n",
			wantMsg: "max utterance",
		},
		{
			name:    "temperature out of range",
			yaml:    minimalYAML + "pipeline:\n  llm:\n    temperature: 3\n",
			wantMsg: "temperature",
		},
		{
			name:    "bad prompt template",
			yaml:    minimalYAML + "agent:\n  system_prompt: \"You are {{.Name\"\n",
			wantMsg: "agent.system_prompt",
		},
		{
			name:    "negative ttl",
			yaml:    minimalYAML + "store:\n  transcript_ttl: -1h\n",
			wantMsg: "store.transcript_ttl",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q should mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestValidate_AggregatesErrors(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  log_level: loud\n"))
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	for _, want := range []string{"log_level", "providers.stt", "providers.llm", "providers.tts"} {
		if !strings.Contains(msg, want) {
			t.Errorf("joined error should mention %q, got: %v", want, msg)
		}
	}
}

func TestValidate_UnknownProviderNameIsOnlyAWarning(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  stt: {name: my-custom-stt}
  llm: {name: openai}
  tts: {name: coqui}
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unknown provider names should not fail validation: %v", err)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if cfg.Providers.TTS.Name != "elevenlabs" || len(cfg.Providers.FallbackTTS) != 1 {
		t.Errorf("tts providers = %+v / %+v", cfg.Providers.TTS, cfg.Providers.FallbackTTS)
	}
	if cfg.Telemetry.SampleRatio() != 0.25 {
		t.Errorf("sample ratio = %v", cfg.Telemetry.SampleRatio())
	}
	if got := cfg.CallConfig().ContextTurns; got != 6 {
		t.Errorf("context turns = %d, want 6", got)
	}
}
