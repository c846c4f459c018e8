package turn

import (
	"time"

	"github.com/MrWong99/telvoxa/pkg/audio"
)

// Utterance is one flushed span of caller audio.
type Utterance struct {
	// PCM is mono little-endian PCM16 at SampleRate.
	PCM []byte

	// SampleRate of PCM in Hz.
	SampleRate int

	// StartedAt is the wall-clock time the first chunk was buffered.
	StartedAt time.Time

	// Duration is the total buffered audio, speech and silence.
	Duration time.Duration

	// Voiced is the portion of Duration classified as speech.
	Voiced time.Duration

	// Forced is set when the utterance was cut at the duration ceiling
	// rather than by trailing silence.
	Forced bool
}

// UtteranceBuffer accumulates the chunks of one utterance. It is not safe for
// concurrent use; the owning session goroutine is its only user.
type UtteranceBuffer struct {
	rate       int
	data       []byte
	startedAt  time.Time
	duration   time.Duration
	voiced     time.Duration
	silenceRun time.Duration

	now func() time.Time
}

// NewUtteranceBuffer returns an empty buffer for PCM16 at sampleRate.
func NewUtteranceBuffer(sampleRate int) *UtteranceBuffer {
	return &UtteranceBuffer{rate: sampleRate, now: time.Now}
}

// Append copies chunk into the buffer. voiced reports whether the chunk was
// classified as speech; it drives the voiced total and the silence run.
func (b *UtteranceBuffer) Append(chunk []byte, voiced bool) {
	if len(chunk) == 0 {
		return
	}
	if len(b.data) == 0 {
		b.startedAt = b.now()
	}
	b.data = append(b.data, chunk...)
	d := audio.PCMDuration(len(chunk), b.rate)
	b.duration += d
	if voiced {
		b.voiced += d
		b.silenceRun = 0
	} else {
		b.silenceRun += d
	}
}

// Len returns the number of buffered bytes.
func (b *UtteranceBuffer) Len() int { return len(b.data) }

// Duration returns the buffered playback length.
func (b *UtteranceBuffer) Duration() time.Duration { return b.duration }

// Voiced returns the buffered speech length.
func (b *UtteranceBuffer) Voiced() time.Duration { return b.voiced }

// SilenceRun returns the length of the trailing run of silent chunks.
func (b *UtteranceBuffer) SilenceRun() time.Duration { return b.silenceRun }

// Take hands the buffered audio over and leaves the buffer empty. The
// returned slice is never touched by the buffer again.
func (b *UtteranceBuffer) Take() Utterance {
	u := Utterance{
		PCM:        b.data,
		SampleRate: b.rate,
		StartedAt:  b.startedAt,
		Duration:   b.duration,
		Voiced:     b.voiced,
	}
	b.Reset()
	return u
}

// Reset drops the buffered audio.
func (b *UtteranceBuffer) Reset() {
	b.data = nil
	b.startedAt = time.Time{}
	b.duration = 0
	b.voiced = 0
	b.silenceRun = 0
}
