package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Log level, pipeline and agent changes are applied without restart, to the
// logger and to calls started afterwards. Everything else is reported so
// the operator knows a restart is needed.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PipelineChanged is set when any VAD, timing or generation setting
	// changed.
	PipelineChanged bool

	// AgentChanged is set when the persona, greeting, voice or vocabulary
	// changed.
	AgentChanged bool

	// RestartRequired lists the top-level sections that changed but can
	// only take effect after a restart.
	RestartRequired []string
}

// Changed reports whether any hot-reloadable setting changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.PipelineChanged || d.AgentChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.PipelineChanged = old.Pipeline != new.Pipeline
	d.AgentChanged = !agentEqual(old.Agent, new.Agent)

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if !reflect.DeepEqual(old.Telemetry, new.Telemetry) {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}

func agentEqual(a, b AgentConfig) bool {
	return a.Name == b.Name &&
		a.Company == b.Company &&
		a.VoiceID == b.VoiceID &&
		a.SystemPrompt == b.SystemPrompt &&
		a.Greeting == b.Greeting &&
		a.FallbackPhrase == b.FallbackPhrase &&
		a.Summary == b.Summary &&
		slices.Equal(a.Vocabulary, b.Vocabulary)
}
