package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/telvoxa/pkg/provider/llm"
	"github.com/MrWong99/telvoxa/pkg/provider/stt"
	"github.com/MrWong99/telvoxa/pkg/provider/tts"
)

// ErrProviderNotRegistered means a [ProviderEntry] names no known factory.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its configuration entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factories holds the constructors of one provider kind.
type factories[T any] struct {
	kind string
	mu   sync.RWMutex
	m    map[string]Factory[T]
}

func (f *factories[T]) register(name string, fn Factory[T]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.m == nil {
		f.m = make(map[string]Factory[T])
	}
	f.m[name] = fn
}

func (f *factories[T]) names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Sorted(maps.Keys(f.m))
}

func (f *factories[T]) create(entry ProviderEntry) (T, error) {
	var zero T
	f.mu.RLock()
	fn, ok := f.m[entry.Name]
	f.mu.RUnlock()
	if !ok {
		return zero, fmt.Errorf("%w: %s provider %q (known: %s)",
			ErrProviderNotRegistered, f.kind, entry.Name, strings.Join(f.names(), ", "))
	}
	p, err := fn(entry)
	if err != nil {
		return zero, fmt.Errorf("config: build %s provider %q: %w", f.kind, entry.Name, err)
	}
	return p, nil
}

// Registry resolves the provider names used in the providers section of the
// configuration. Registering a name again replaces its factory.
type Registry struct {
	llm factories[llm.Provider]
	stt factories[stt.Provider]
	tts factories[tts.Provider]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		llm: factories[llm.Provider]{kind: "llm"},
		stt: factories[stt.Provider]{kind: "stt"},
		tts: factories[tts.Provider]{kind: "tts"},
	}
}

func (r *Registry) RegisterLLM(name string, fn Factory[llm.Provider]) { r.llm.register(name, fn) }
func (r *Registry) RegisterSTT(name string, fn Factory[stt.Provider]) { r.stt.register(name, fn) }
func (r *Registry) RegisterTTS(name string, fn Factory[tts.Provider]) { r.tts.register(name, fn) }

func (r *Registry) CreateLLM(e ProviderEntry) (llm.Provider, error) { return r.llm.create(e) }
func (r *Registry) CreateSTT(e ProviderEntry) (stt.Provider, error) { return r.stt.create(e) }
func (r *Registry) CreateTTS(e ProviderEntry) (tts.Provider, error) { return r.tts.create(e) }

// Names lists the registered names of kind "llm", "stt" or "tts", sorted.
// Any other kind yields nil.
func (r *Registry) Names(kind string) []string {
	switch kind {
	case "llm":
		return r.llm.names()
	case "stt":
		return r.stt.names()
	case "tts":
		return r.tts.names()
	}
	return nil
}
