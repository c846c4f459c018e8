package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"slices"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// EncodeWAV wraps mono PCM16 in a RIFF/WAV container.
func EncodeWAV(pcm []byte, sampleRate int) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, ErrOddLength
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRate, sampleRate)
	}

	var buf writeSeekerBuffer
	enc := wav.NewEncoder(&buf, sampleRate, 16, 1, 1)

	samples := Samples(pcm)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	err := enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	})
	if err != nil {
		return nil, fmt.Errorf("audio: write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("audio: close wav: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeWAV extracts mono PCM16 and the sample rate from a 16-bit WAV file.
// Multi-channel input is downmixed by averaging.
func DecodeWAV(data []byte) ([]byte, int, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, 0, errors.New("audio: not a valid wav file")
	}
	if dec.BitDepth != 16 {
		return nil, 0, fmt.Errorf("audio: unsupported wav bit depth %d", dec.BitDepth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("audio: read wav pcm: %w", err)
	}

	channels := max(buf.Format.NumChannels, 1)
	frames := len(buf.Data) / channels
	samples := make([]int16, frames)
	for i := range frames {
		var sum int
		for c := range channels {
			sum += buf.Data[i*channels+c]
		}
		samples[i] = int16(sum / channels)
	}
	return FromSamples(samples), buf.Format.SampleRate, nil
}

// writeSeekerBuffer is an in-memory io.WriteSeeker; the wav encoder seeks
// back to patch the header sizes on Close.
type writeSeekerBuffer struct {
	b []byte
	i int64
}

func (b *writeSeekerBuffer) Bytes() []byte { return b.b }

func (b *writeSeekerBuffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	end := b.i + int64(len(p))
	if n := end - int64(len(b.b)); n > 0 {
		b.b = slices.Grow(b.b, int(n))[:end]
	}
	copy(b.b[b.i:end], p)
	b.i = end
	return len(p), nil
}

func (b *writeSeekerBuffer) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = b.i + offset
	case io.SeekEnd:
		pos = int64(len(b.b)) + offset
	default:
		return 0, errors.New("audio: invalid whence")
	}
	if pos < 0 {
		return 0, errors.New("audio: negative seek position")
	}
	b.i = pos
	return pos, nil
}
