//go:build !whispercpp

package whisper

import "context"

type nativeEngine struct{}

func loadEngine(string) (nativeEngine, error) {
	return nativeEngine{}, ErrNativeUnavailable
}

// Close is a no-op without whispercpp support.
func (p *NativeProvider) Close() error { return nil }

// Transcribe implements [stt.Provider]. Without whispercpp support it always
// fails with [ErrNativeUnavailable].
func (p *NativeProvider) Transcribe(context.Context, []byte, int) (string, error) {
	return "", ErrNativeUnavailable
}
