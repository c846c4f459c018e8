package playout

import (
	"container/heap"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/telvoxa/pkg/audio"
)

const defaultQueueCap = 4

// InterruptReason identifies why the current clip was cut short.
type InterruptReason int

const (
	// Preempt stops the current clip in favour of a higher-priority one.
	// Queued clips are kept.
	Preempt InterruptReason = iota

	// BargeIn means the caller started speaking. The queue is cleared and the
	// far end is told to drop any audio it has buffered.
	BargeIn
)

// String returns the human-readable name of the interrupt reason.
func (r InterruptReason) String() string {
	switch r {
	case Preempt:
		return "PREEMPT"
	case BargeIn:
		return "BARGE_IN"
	default:
		return "UNKNOWN"
	}
}

// Sink receives paced outbound audio. Implementations write to the media
// channel; calls come from the player goroutine except SendClear, which runs
// on the goroutine that called [Player.BargeIn].
type Sink interface {
	SendMedia(ulaw []byte) error
	SendMark(name string) error
	SendClear() error
}

// Clip is one synthesized utterance in telephony format.
type Clip struct {
	// Mark is sent after the last frame. Empty means no mark.
	Mark string

	// Audio is 8 kHz μ-law.
	Audio []byte
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	return time.Duration(len(c.Audio)) * time.Second / audio.TelephonyRate
}

// Result reports how a clip left the player.
type Result struct {
	Mark        string
	Frames      int
	Interrupted bool
	Err         error
}

// Option configures a [Player] during construction.
type Option func(*Player)

// WithFrameInterval sets the pacing between frames. Zero sends frames back to
// back, which is useful in tests.
func WithFrameInterval(d time.Duration) Option {
	return func(p *Player) {
		p.interval = d
	}
}

// WithFrameSize sets the number of μ-law bytes per media message.
func WithFrameSize(n int) Option {
	return func(p *Player) {
		if n > 0 {
			p.frameSize = n
		}
	}
}

// WithOnDone registers a callback invoked from the player goroutine after
// each clip finishes, is interrupted, or fails. It must not block.
func WithOnDone(fn func(Result)) Option {
	return func(p *Player) {
		p.onDone = fn
	}
}

// Player schedules [Clip] playback using a priority queue backed by
// [container/heap] and streams each clip to a [Sink] in real time.
//
// All exported methods are safe for concurrent use.
type Player struct {
	sink      Sink
	interval  time.Duration
	frameSize int
	onDone    func(Result)

	mu            sync.Mutex
	queue         clipHeap
	seq           uint64
	playing       bool
	playingPri    int
	cancelPlaying chan struct{}

	notify chan struct{}
	done   chan struct{}
	exited chan struct{}
	closed bool
}

// New creates a [Player] writing to sink and starts its dispatch goroutine.
// Call [Player.Close] to stop it.
func New(sink Sink, opts ...Option) *Player {
	p := &Player{
		sink:      sink,
		interval:  audio.TelephonyFrame,
		frameSize: audio.MulawFrameBytes,
		queue:     make(clipHeap, 0, defaultQueueCap),
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
		exited:    make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	heap.Init(&p.queue)
	go p.dispatch()
	return p
}

// Enqueue schedules clip at the given priority. A clip with higher priority
// than the one playing preempts it.
func (p *Player) Enqueue(clip Clip, priority int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.seq++
	heap.Push(&p.queue, entry{clip: clip, priority: priority, seq: p.seq})

	if p.playing && priority > p.playingPri {
		p.interruptLocked(Preempt)
	}

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// BargeIn stops the current clip, drops every queued clip, and asks the sink
// to clear far-end buffers. It returns the number of clips discarded,
// including the one that was playing.
func (p *Player) BargeIn() int {
	p.mu.Lock()
	dropped := p.queue.Len()
	if p.playing {
		dropped++
	}
	p.interruptLocked(BargeIn)
	p.mu.Unlock()

	if err := p.sink.SendClear(); err != nil {
		slog.Debug("playout: send clear failed", "err", err)
	}
	return dropped
}

// Busy reports whether a clip is playing or queued.
func (p *Player) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing || p.queue.Len() > 0
}

// Close stops the dispatch goroutine and drops queued clips. It waits for an
// in-progress send to return. Close is idempotent.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.interruptLocked(BargeIn)
	p.mu.Unlock()

	close(p.done)
	<-p.exited
	return nil
}

// interruptLocked cancels the playing clip and, for barge-in, clears the
// queue. Must be called with p.mu held.
func (p *Player) interruptLocked(reason InterruptReason) {
	if p.cancelPlaying != nil {
		close(p.cancelPlaying)
		p.cancelPlaying = nil
	}
	p.playing = false

	if reason == BargeIn {
		p.queue = p.queue[:0]
	}
}

func (p *Player) dispatch() {
	defer close(p.exited)

	for {
		select {
		case <-p.done:
			return
		case <-p.notify:
		}

		for {
			clip, cancel, ok := p.dequeue()
			if !ok {
				break
			}

			res := p.play(clip, cancel)

			p.mu.Lock()
			if p.cancelPlaying == cancel {
				p.playing = false
				p.cancelPlaying = nil
			}
			p.mu.Unlock()

			if p.onDone != nil {
				p.onDone(res)
			}

			select {
			case <-p.done:
				return
			default:
			}
		}
	}
}

func (p *Player) dequeue() (Clip, chan struct{}, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.queue.Len() == 0 {
		return Clip{}, nil, false
	}

	e := heap.Pop(&p.queue).(entry)
	cancel := make(chan struct{})
	p.playing = true
	p.playingPri = e.priority
	p.cancelPlaying = cancel
	return e.clip, cancel, true
}

// play sends clip frame by frame until it ends or cancel is closed. The mark
// follows the final frame only when the clip played to completion.
func (p *Player) play(clip Clip, cancel chan struct{}) Result {
	res := Result{Mark: clip.Mark}

	var tick <-chan time.Time
	if p.interval > 0 {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for i, frame := range audio.SplitFrames(clip.Audio, p.frameSize) {
		if i > 0 && tick != nil {
			select {
			case <-p.done:
				res.Interrupted = true
				return res
			case <-cancel:
				res.Interrupted = true
				return res
			case <-tick:
			}
		} else {
			select {
			case <-p.done:
				res.Interrupted = true
				return res
			case <-cancel:
				res.Interrupted = true
				return res
			default:
			}
		}

		if err := p.sink.SendMedia(frame); err != nil {
			res.Err = err
			return res
		}
		res.Frames++
	}

	if clip.Mark != "" {
		if err := p.sink.SendMark(clip.Mark); err != nil {
			res.Err = err
		}
	}
	return res
}
