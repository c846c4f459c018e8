package turn

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/telvoxa/pkg/audio"
	"github.com/MrWong99/telvoxa/pkg/provider/vad"
	"github.com/MrWong99/telvoxa/pkg/provider/vad/energy"
)

const chunkDur = 20 * time.Millisecond

var (
	speechChunk  = audio.Tone(440, chunkDur, audio.TelephonyRate, 0.3)
	silenceChunk = make([]byte, len(speechChunk))
)

func newTestDetector(t *testing.T, cfg Config) *Detector {
	t.Helper()
	sess, err := energy.New().NewSession(vad.Config{
		SampleRate:      audio.TelephonyRate,
		FrameSizeMs:     20,
		SpeechThreshold: 300,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	d, err := NewDetector(cfg, sess)
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// feed pushes n copies of chunk and returns every non-None result.
func feed(t *testing.T, d *Detector, chunk []byte, n int) []Result {
	t.Helper()
	var out []Result
	for range n {
		res, err := d.Process(chunk)
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if res.Event != EventNone {
			out = append(out, res)
		}
	}
	return out
}

func chunks(d time.Duration) int { return int(d / chunkDur) }

func TestDetector_DebounceRejectsShortBurst(t *testing.T) {
	t.Parallel()
	d := newTestDetector(t, Config{})

	if evs := feed(t, d, speechChunk, chunks(200*time.Millisecond)); len(evs) != 0 {
		t.Fatalf("short burst produced events: %v", evs[0].Event)
	}
	if evs := feed(t, d, silenceChunk, chunks(2*time.Second)); len(evs) != 0 {
		t.Fatalf("silence after short burst produced events: %v", evs[0].Event)
	}
	if d.Active() {
		t.Error("detector should not be active")
	}
}

func TestDetector_SpeechStartsAfterMinSpeech(t *testing.T) {
	t.Parallel()
	d := newTestDetector(t, Config{})

	// 12 chunks = 240 ms, below the 250 ms debounce.
	if evs := feed(t, d, speechChunk, 12); len(evs) != 0 {
		t.Fatalf("unexpected event before debounce: %v", evs[0].Event)
	}
	res, err := d.Process(speechChunk)
	if err != nil {
		t.Fatal(err)
	}
	if res.Event != EventSpeechStarted {
		t.Fatalf("event = %v, want %v", res.Event, EventSpeechStarted)
	}
	if !res.Speech {
		t.Error("Result.Speech = false for a speech chunk")
	}
	// Pre-roll chunks are part of the utterance.
	if got, want := d.Buffered(), 13*chunkDur; got != want {
		t.Errorf("Buffered = %s, want %s", got, want)
	}
}

func TestDetector_NaturalFlushContainsSpeechAndTrailingSilence(t *testing.T) {
	t.Parallel()
	d := newTestDetector(t, Config{})

	evs := feed(t, d, speechChunk, chunks(500*time.Millisecond))
	if len(evs) != 1 || evs[0].Event != EventSpeechStarted {
		t.Fatalf("expected one speech-start, got %d events", len(evs))
	}

	evs = feed(t, d, silenceChunk, chunks(1600*time.Millisecond))
	if len(evs) != 1 {
		t.Fatalf("expected exactly one flush, got %d events", len(evs))
	}
	res := evs[0]
	if res.Event != EventUtteranceReady {
		t.Fatalf("event = %v, want %v", res.Event, EventUtteranceReady)
	}
	u := res.Utterance
	if u.Forced {
		t.Error("natural flush marked forced")
	}

	speechN, silenceN := chunks(500*time.Millisecond), chunks(1500*time.Millisecond)
	want := append(bytes.Repeat(speechChunk, speechN), bytes.Repeat(silenceChunk, silenceN)...)
	if !bytes.Equal(u.PCM, want) {
		t.Errorf("utterance holds %d bytes, want %d (speech run plus trailing silence)", len(u.PCM), len(want))
	}
	if u.Voiced != 500*time.Millisecond {
		t.Errorf("Voiced = %s, want 500ms", u.Voiced)
	}
	if u.Duration != 2*time.Second {
		t.Errorf("Duration = %s, want 2s", u.Duration)
	}
	if u.SampleRate != audio.TelephonyRate {
		t.Errorf("SampleRate = %d", u.SampleRate)
	}
	if d.Active() {
		t.Error("detector still active after natural flush")
	}
}

func TestDetector_NextUtteranceStartsClean(t *testing.T) {
	t.Parallel()
	d := newTestDetector(t, Config{})

	feed(t, d, speechChunk, 25)
	first := feed(t, d, silenceChunk, 75)
	if len(first) != 1 || first[0].Event != EventUtteranceReady {
		t.Fatal("first utterance not flushed")
	}

	feed(t, d, speechChunk, 20)
	second := feed(t, d, silenceChunk, 75)
	if len(second) != 1 || second[0].Event != EventUtteranceReady {
		t.Fatal("second utterance not flushed")
	}
	if got, want := len(second[0].Utterance.PCM), 95*len(speechChunk); got != want {
		t.Errorf("second utterance = %d bytes, want %d", got, want)
	}
}

func TestDetector_ForcedFlushAtCeiling(t *testing.T) {
	t.Parallel()
	d := newTestDetector(t, Config{MaxUtterance: 2 * time.Second})

	evs := feed(t, d, speechChunk, 110)
	if len(evs) != 2 {
		t.Fatalf("expected speech-start and one forced flush, got %d events", len(evs))
	}
	res := evs[1]
	if res.Event != EventUtteranceReady || !res.Utterance.Forced {
		t.Fatalf("got %v forced=%v, want forced ready", res.Event, res.Utterance.Forced)
	}
	if res.Utterance.Duration != 2*time.Second {
		t.Errorf("forced utterance Duration = %s, want 2s", res.Utterance.Duration)
	}
	if !d.Active() {
		t.Fatal("detector must stay in speech after a forced flush")
	}
	// Chunks 101..110 already belong to the next utterance.
	if got, want := d.Buffered(), 10*chunkDur; got != want {
		t.Errorf("Buffered after forced flush = %s, want %s", got, want)
	}

	// The 200 ms continuation is below the minimum and is discarded.
	evs = feed(t, d, silenceChunk, 75)
	if len(evs) != 1 || evs[0].Event != EventUtteranceDiscarded {
		t.Fatalf("expected continuation to be discarded, got %d events", len(evs))
	}
}

func TestDetector_DiscardsBelowMinUtterance(t *testing.T) {
	t.Parallel()
	d := newTestDetector(t, Config{})

	// 260 ms passes the debounce but not the 300 ms minimum.
	feed(t, d, speechChunk, 13)
	evs := feed(t, d, silenceChunk, 75)
	if len(evs) != 1 {
		t.Fatalf("expected one event, got %d", len(evs))
	}
	if evs[0].Event != EventUtteranceDiscarded {
		t.Fatalf("event = %v, want %v", evs[0].Event, EventUtteranceDiscarded)
	}
	if evs[0].Utterance.Voiced != 260*time.Millisecond {
		t.Errorf("Voiced = %s, want 260ms", evs[0].Utterance.Voiced)
	}
}

func TestDetector_SilenceInsideUtteranceResetsRun(t *testing.T) {
	t.Parallel()
	d := newTestDetector(t, Config{})

	feed(t, d, speechChunk, 20)
	feed(t, d, silenceChunk, 70) // 1.4 s, just short of end silence
	feed(t, d, speechChunk, 5)
	if evs := feed(t, d, silenceChunk, 70); len(evs) != 0 {
		t.Fatalf("flushed before a full silence run: %v", evs[0].Event)
	}
	if evs := feed(t, d, silenceChunk, 5); len(evs) != 1 {
		t.Fatal("expected flush after 1.5 s of silence")
	}
}

func TestDetector_Reset(t *testing.T) {
	t.Parallel()
	d := newTestDetector(t, Config{})

	feed(t, d, speechChunk, 20)
	d.Reset()
	if d.Active() || d.Buffered() != 0 {
		t.Fatal("Reset did not clear the open utterance")
	}
	if evs := feed(t, d, silenceChunk, 100); len(evs) != 0 {
		t.Fatal("silence after Reset produced events")
	}
}

func TestDetector_ClassifierError(t *testing.T) {
	t.Parallel()
	d := newTestDetector(t, Config{})

	_, err := d.Process([]byte{1, 2, 3})
	if !errors.Is(err, audio.ErrOddLength) {
		t.Fatalf("err = %v, want ErrOddLength", err)
	}
}

func TestNewDetector_Validation(t *testing.T) {
	t.Parallel()

	sess, _ := energy.New().NewSession(vad.Config{SampleRate: 8000, SpeechThreshold: 300})
	if _, err := NewDetector(Config{}, nil); err == nil {
		t.Error("expected error for nil vad session")
	}
	if _, err := NewDetector(Config{MinSpeech: time.Second, MaxUtterance: time.Second}, sess); err == nil {
		t.Error("expected error when max utterance does not exceed min speech")
	}
}

func TestEvent_String(t *testing.T) {
	t.Parallel()

	tests := map[Event]string{
		EventNone:               "none",
		EventSpeechStarted:      "speech_started",
		EventUtteranceReady:     "utterance_ready",
		EventUtteranceDiscarded: "utterance_discarded",
		Event(42):               "Event(42)",
	}
	for ev, want := range tests {
		if got := ev.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(ev), got, want)
		}
	}
}
