// Package turn decides where caller utterances begin and end.
//
// A [Detector] consumes fixed-cadence PCM chunks, classifies each one through
// a [vad.SessionHandle], and cuts the stream into [Utterance] values:
//
//   - speech must persist for MinSpeech before an utterance opens; the
//     debounce chunks become the start of the utterance
//   - an open utterance closes after EndSilence of trailing silence and
//     includes that silence
//   - an utterance reaching MaxUtterance is flushed immediately, marked
//     Forced, and a new one starts with the next chunk
//   - utterances with less than MinUtterance of speech are discarded
//
// The detector is single-goroutine; the owning call session drives it.
package turn

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/telvoxa/pkg/audio"
	"github.com/MrWong99/telvoxa/pkg/provider/vad"
)

// Default thresholds.
const (
	DefaultMinSpeech    = 250 * time.Millisecond
	DefaultEndSilence   = 1500 * time.Millisecond
	DefaultMaxUtterance = 30 * time.Second
	DefaultMinUtterance = 300 * time.Millisecond
)

// Config holds the detector timing thresholds.
type Config struct {
	// SampleRate of the incoming PCM. Defaults to 8000.
	SampleRate int

	// MinSpeech is the speech run required to open an utterance.
	MinSpeech time.Duration

	// EndSilence is the trailing silence that closes an utterance.
	EndSilence time.Duration

	// MaxUtterance is the hard ceiling on buffered audio.
	MaxUtterance time.Duration

	// MinUtterance is the minimum voiced duration for an utterance to be
	// transcribed.
	MinUtterance time.Duration
}

// WithDefaults returns c with zero fields replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = audio.TelephonyRate
	}
	if c.MinSpeech == 0 {
		c.MinSpeech = DefaultMinSpeech
	}
	if c.EndSilence == 0 {
		c.EndSilence = DefaultEndSilence
	}
	if c.MaxUtterance == 0 {
		c.MaxUtterance = DefaultMaxUtterance
	}
	if c.MinUtterance == 0 {
		c.MinUtterance = DefaultMinUtterance
	}
	return c
}

// Validate reports inconsistent thresholds.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, errors.New("turn: sample rate must be positive"))
	}
	if c.MinSpeech < 0 || c.EndSilence <= 0 || c.MinUtterance < 0 {
		errs = append(errs, errors.New("turn: durations must not be negative"))
	}
	if c.MaxUtterance <= c.MinSpeech {
		errs = append(errs, fmt.Errorf("turn: max utterance %s must exceed min speech %s", c.MaxUtterance, c.MinSpeech))
	}
	return errors.Join(errs...)
}

// Event is what a processed chunk caused.
type Event int

const (
	// EventNone means the chunk changed nothing observable.
	EventNone Event = iota
	// EventSpeechStarted means the debounce completed and an utterance opened.
	EventSpeechStarted
	// EventUtteranceReady carries a flushed utterance for transcription.
	EventUtteranceReady
	// EventUtteranceDiscarded carries a flushed utterance that was too short.
	EventUtteranceDiscarded
)

// String implements fmt.Stringer.
func (e Event) String() string {
	switch e {
	case EventNone:
		return "none"
	case EventSpeechStarted:
		return "speech_started"
	case EventUtteranceReady:
		return "utterance_ready"
	case EventUtteranceDiscarded:
		return "utterance_discarded"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// Result describes the outcome of one chunk.
type Result struct {
	Event Event

	// Speech reports whether the chunk itself was classified as speech.
	Speech bool

	// Score is the classifier score for the chunk.
	Score float64

	// Utterance is set for EventUtteranceReady and EventUtteranceDiscarded.
	Utterance *Utterance
}

// Detector is the per-session turn detector.
type Detector struct {
	cfg Config
	vad vad.SessionHandle
	buf *UtteranceBuffer

	active    bool
	preroll   [][]byte
	speechRun time.Duration
}

// NewDetector returns a detector that classifies chunks with v. cfg is
// completed with defaults and validated.
func NewDetector(cfg Config, v vad.SessionHandle) (*Detector, error) {
	if v == nil {
		return nil, errors.New("turn: vad session must not be nil")
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{cfg: cfg, vad: v, buf: NewUtteranceBuffer(cfg.SampleRate)}, nil
}

// Active reports whether an utterance is open.
func (d *Detector) Active() bool { return d.active }

// Buffered returns the duration of the open utterance.
func (d *Detector) Buffered() time.Duration { return d.buf.Duration() }

// Process classifies chunk and advances the detector.
func (d *Detector) Process(chunk []byte) (Result, error) {
	ev, err := d.vad.ProcessFrame(chunk)
	if err != nil {
		return Result{}, fmt.Errorf("turn: classify chunk: %w", err)
	}
	speech := ev.IsSpeech()
	res := Result{Speech: speech, Score: ev.Score}
	dur := audio.PCMDuration(len(chunk), d.cfg.SampleRate)

	if !d.active {
		if !speech {
			d.preroll = d.preroll[:0]
			d.speechRun = 0
			return res, nil
		}
		d.preroll = append(d.preroll, append([]byte(nil), chunk...))
		d.speechRun += dur
		if d.speechRun < d.cfg.MinSpeech {
			return res, nil
		}
		d.active = true
		for _, c := range d.preroll {
			d.buf.Append(c, true)
		}
		d.preroll = d.preroll[:0]
		res.Event = EventSpeechStarted
		if d.buf.Duration() >= d.cfg.MaxUtterance {
			return d.flush(res, true), nil
		}
		return res, nil
	}

	d.buf.Append(chunk, speech)
	if !speech && d.buf.SilenceRun() >= d.cfg.EndSilence {
		return d.flush(res, false), nil
	}
	if d.buf.Duration() >= d.cfg.MaxUtterance {
		return d.flush(res, true), nil
	}
	return res, nil
}

// flush closes the open utterance. A forced flush keeps the detector in
// speech so the next chunk starts a new utterance.
func (d *Detector) flush(res Result, forced bool) Result {
	u := d.buf.Take()
	u.Forced = forced
	if !forced {
		d.active = false
		d.speechRun = 0
	}
	res.Utterance = &u
	if u.Voiced < d.cfg.MinUtterance {
		res.Event = EventUtteranceDiscarded
	} else {
		res.Event = EventUtteranceReady
	}
	return res
}

// Reset drops any open utterance and debounce state.
func (d *Detector) Reset() {
	d.buf.Reset()
	d.preroll = d.preroll[:0]
	d.speechRun = 0
	d.active = false
	d.vad.Reset()
}

// Close releases the detector and its VAD session.
func (d *Detector) Close() error {
	d.buf.Reset()
	d.preroll = nil
	return d.vad.Close()
}
