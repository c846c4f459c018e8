package whisper

import (
	"errors"
	"strings"

	"github.com/MrWong99/telvoxa/pkg/provider/stt"
)

var _ stt.Provider = (*NativeProvider)(nil)

// ErrNativeUnavailable is returned by [NewNative] in binaries built without
// the whispercpp build tag.
var ErrNativeUnavailable = errors.New("whisper: built without whispercpp support")

// nativeRate is the only sample rate whisper.cpp accepts.
const nativeRate = 16000

// NativeProvider transcribes in-process with the whisper.cpp bindings. The
// model is loaded once and shared by every call; each utterance gets its own
// whisper context.
type NativeProvider struct {
	engine   nativeEngine
	language string
	prompt   string
	threads  uint
}

// NativeOption configures a [NativeProvider].
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the spoken language. The default is "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativePrompt primes the decoder with vocabulary terms.
func WithNativePrompt(terms []string) NativeOption {
	return func(p *NativeProvider) { p.prompt = strings.Join(terms, ", ") }
}

// WithNativeThreads caps the CPU threads of one inference. Zero keeps the
// library default.
func WithNativeThreads(n uint) NativeOption {
	return func(p *NativeProvider) { p.threads = n }
}

// NewNative loads the ggml model at modelPath. Close releases it.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: model path must not be empty")
	}
	p := &NativeProvider{language: "en"}
	for _, o := range opts {
		o(p)
	}
	engine, err := loadEngine(modelPath)
	if err != nil {
		return nil, err
	}
	p.engine = engine
	return p, nil
}
