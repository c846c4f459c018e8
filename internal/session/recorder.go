package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/telvoxa/internal/call"
	"github.com/MrWong99/telvoxa/pkg/memory"
)

// Default recorder parameters.
const (
	defaultQueueSize      = 1024
	defaultWriteTimeout   = 5 * time.Second
	defaultSummaryTimeout = 30 * time.Second
)

// RecorderOption is a functional option for [NewRecorder].
type RecorderOption func(*Recorder)

// WithSummariser adds a written summary to every ended call.
func WithSummariser(s Summariser) RecorderOption {
	return func(r *Recorder) { r.summariser = s }
}

// WithWriteTimeout bounds each store write. Defaults to 5s.
func WithWriteTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.writeTimeout = d
		}
	}
}

// WithSummaryTimeout bounds each summariser call. Defaults to 30s.
func WithSummaryTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.summaryTimeout = d
		}
	}
}

// WithQueueSize sets how many writes may wait for the store before new ones
// are dropped. Defaults to 1024.
func WithQueueSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

type startJob struct{ rec memory.CallRecord }

type turnJob struct {
	callID string
	turn   memory.TurnRecord
}

type endJob struct{ tr call.Transcript }

// Recorder persists call progress to a [memory.TranscriptStore].
//
// Writes are applied in hook order by a single goroutine. Store failures are
// logged and swallowed; [Recorder.Degraded] reports whether the most recent
// write failed. Summaries run concurrently so a slow summariser only delays
// its own call's EndCall, which is always issued after that call's turns.
//
// All methods are safe for concurrent use.
type Recorder struct {
	store          memory.TranscriptStore
	summariser     Summariser
	writeTimeout   time.Duration
	summaryTimeout time.Duration
	queueSize      int

	mu     sync.Mutex
	closed bool
	jobs   chan any

	done      chan struct{}
	summaries sync.WaitGroup
	degraded  atomic.Bool
	dropped   atomic.Int64
}

// NewRecorder starts a recorder writing to store.
func NewRecorder(store memory.TranscriptStore, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:          store,
		writeTimeout:   defaultWriteTimeout,
		summaryTimeout: defaultSummaryTimeout,
		queueSize:      defaultQueueSize,
		done:           make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	r.jobs = make(chan any, r.queueSize)
	go r.run()
	return r
}

// Hooks returns the call pipeline hooks that feed this recorder. They never
// block: when the queue is full the write is dropped and logged.
func (r *Recorder) Hooks() call.Hooks {
	return call.Hooks{
		OnStreamStarted: func(tr call.Transcript) {
			r.enqueue(startJob{rec: memory.CallRecord{
				CallID:     tr.CallID,
				StreamID:   tr.StreamID,
				InstanceID: tr.InstanceID,
				StartedAt:  tr.StartedAt,
				Parameters: tr.Parameters,
			}})
		},
		OnTurnRecorded: func(callID string, t call.Turn) {
			r.enqueue(turnJob{callID: callID, turn: memory.TurnRecord{
				Role:        string(t.Role),
				Content:     t.Content,
				Interrupted: t.Interrupted,
				Metadata:    t.Metadata,
				Timestamp:   t.Timestamp,
			}})
		},
		OnSessionEnded: func(_ string, tr call.Transcript) {
			r.enqueue(endJob{tr: tr})
		},
	}
}

// Degraded reports whether the most recent store write failed.
func (r *Recorder) Degraded() bool { return r.degraded.Load() }

// Dropped returns the number of writes discarded because the queue was full
// or the recorder was closed.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Close stops accepting writes and waits until queued writes and pending
// summaries are done or ctx expires.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.jobs)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	waited := make(chan struct{})
	go func() {
		r.summaries.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) enqueue(job any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.dropped.Add(1)
		slog.Warn("recorder closed, dropping transcript write", "job", jobName(job))
		return
	}
	select {
	case r.jobs <- job:
	default:
		r.dropped.Add(1)
		slog.Warn("recorder queue full, dropping transcript write", "job", jobName(job))
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for job := range r.jobs {
		switch j := job.(type) {
		case startJob:
			r.write("StartCall", j.rec.CallID, func(ctx context.Context) error {
				return r.store.StartCall(ctx, j.rec)
			})
		case turnJob:
			r.write("RecordTurn", j.callID, func(ctx context.Context) error {
				return r.store.RecordTurn(ctx, j.callID, j.turn)
			})
		case endJob:
			r.summaries.Go(func() { r.end(j.tr) })
		}
	}
}

func (r *Recorder) end(tr call.Transcript) {
	var text string
	if r.summariser != nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.summaryTimeout)
		s, err := r.summariser.Summarise(ctx, tr)
		cancel()
		if err != nil {
			slog.Warn("call summary failed", "call_id", tr.CallID, "err", err)
		}
		text = s
	}
	sum := NewSummary(tr, text)
	r.write("EndCall", tr.CallID, func(ctx context.Context) error {
		return r.store.EndCall(ctx, tr.CallID, sum)
	})
	slog.Info("call summary",
		"call_id", tr.CallID,
		"duration", sum.Duration,
		"turns", sum.TurnCount,
		"summary", sum.Text,
	)
	if lines := tr.Lines(); len(lines) > 0 {
		slog.Debug("call transcript", "call_id", tr.CallID, "lines", lines)
	}
}

func (r *Recorder) write(op, callID string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		r.degraded.Store(true)
		slog.Warn("transcript store write failed", "op", op, "call_id", callID, "err", err)
		return
	}
	r.degraded.Store(false)
}

func jobName(job any) string {
	switch job.(type) {
	case startJob:
		return "StartCall"
	case turnJob:
		return "RecordTurn"
	case endJob:
		return "EndCall"
	}
	return "unknown"
}
