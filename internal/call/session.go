package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/telvoxa/internal/observe"
	"github.com/MrWong99/telvoxa/internal/turn"
	"github.com/MrWong99/telvoxa/pkg/audio"
	"github.com/MrWong99/telvoxa/pkg/audio/playout"
	"github.com/MrWong99/telvoxa/pkg/provider/vad"
)

const (
	inboxSize = 64

	toneFreq      = 440
	toneDuration  = 200 * time.Millisecond
	toneAmplitude = 0.3
)

var (
	// ErrSessionClosed is returned when an event is sent to a destroyed session.
	ErrSessionClosed = errors.New("call: session closed")

	errEmptyAudio = errors.New("synthesizer returned no audio")
)

// Snapshot is a point-in-time copy of a session's state.
type Snapshot struct {
	CallID       string
	StreamID     string
	InstanceID   string
	State        State
	History      []Turn
	Pending      int
	CreatedAt    time.Time
	LastActivity time.Time
}

// Session is the state of one call. All fields below the loop marker are
// owned by the run goroutine.
type Session struct {
	callID     string
	instanceID string
	createdAt  time.Time
	pipe       Pipeline
	cfg        Config
	metrics    *observe.Metrics
	log        *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan any
	done   chan struct{}
	final  Snapshot
	ended  time.Time

	// loop-owned
	state        State
	streamID     string
	params       map[string]string
	lastActivity time.Time
	history      []Turn
	detector     *turn.Detector
	player       *playout.Player
	round        int
	roundCtx     context.Context
	roundCancel  context.CancelFunc
	flushedAt    time.Time
	pending      []turn.Utterance
	playing      *playback
	speechRun    int
	markSeq      int
}

type playback struct {
	mark    string
	histIdx int
	timer   *time.Timer
}

type synthJob struct {
	text     string
	histIdx  int
	fallback bool
}

// Loop messages.
type (
	startMsg struct {
		streamID string
		out      Output
		params   map[string]string
		reply    chan error
	}
	chunkMsg    struct{ ulaw []byte }
	markMsg     struct{ name string }
	snapshotMsg struct{ reply chan Snapshot }
	sttResult   struct {
		round int
		utt   turn.Utterance
		text  string
		took  time.Duration
		err   error
	}
	llmResult struct {
		round int
		reply string
		took  time.Duration
		err   error
	}
	ttsResult struct {
		round int
		job   synthJob
		ulaw  []byte
		took  time.Duration
		err   error
	}
	playedMsg       struct{ res playout.Result }
	playbackTimeout struct{ mark string }
)

func newSession(callID string, pipe Pipeline) *Session {
	ctx, cancel := context.WithCancel(observe.WithCallID(context.Background(), callID))
	id := uuid.NewString()
	now := time.Now()
	s := &Session{
		callID:       callID,
		instanceID:   id,
		createdAt:    now,
		pipe:         pipe,
		cfg:          pipe.Config,
		metrics:      pipe.Metrics,
		log:          observe.Logger(ctx).With("instance_id", id),
		ctx:          ctx,
		cancel:       cancel,
		inbox:        make(chan any, inboxSize),
		done:         make(chan struct{}),
		lastActivity: now,
	}
	go s.run()
	return s
}

// CallID returns the telephony call identifier.
func (s *Session) CallID() string { return s.callID }

// InstanceID returns the random identifier of this session instance. A call
// id reused after Destroy gets a new instance id.
func (s *Session) InstanceID() string { return s.instanceID }

// Chunk submits one inbound μ-law payload. Chunks are processed strictly in
// submission order.
func (s *Session) Chunk(ulaw []byte) error {
	if !s.post(chunkMsg{ulaw: ulaw}) {
		return ErrSessionClosed
	}
	return nil
}

// Mark reports a playback mark echoed back by the media channel.
func (s *Session) Mark(name string) error {
	if !s.post(markMsg{name: name}) {
		return ErrSessionClosed
	}
	return nil
}

// Snapshot returns a copy of the session state. After the session is
// destroyed it returns the final state.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case s.inbox <- snapshotMsg{reply: reply}:
	case <-s.done:
		return s.final, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-s.done:
		return s.final, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (s *Session) start(streamID string, out Output, params map[string]string) error {
	reply := make(chan error, 1)
	if !s.post(startMsg{streamID: streamID, out: out, params: params, reply: reply}) {
		return ErrSessionClosed
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrSessionClosed
	}
}

// close cancels all work, waits for the loop to exit and returns the final
// transcript.
func (s *Session) close() Transcript {
	s.cancel()
	<-s.done
	return Transcript{
		CallID:     s.callID,
		StreamID:   s.final.StreamID,
		InstanceID: s.instanceID,
		StartedAt:  s.createdAt,
		EndedAt:    s.ended,
		Parameters: s.params,
		Turns:      s.final.History,
	}
}

// post delivers msg to the loop. It fails once the session is cancelled,
// even while the inbox still has room.
func (s *Session) post(msg any) bool {
	if s.ctx.Err() != nil {
		return false
	}
	select {
	case s.inbox <- msg:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			s.teardown()
			return
		case msg := <-s.inbox:
			if s.ctx.Err() != nil {
				s.teardown()
				return
			}
			s.handle(msg)
		}
	}
}

func (s *Session) handle(msg any) {
	switch m := msg.(type) {
	case startMsg:
		m.reply <- s.handleStart(m)
	case chunkMsg:
		s.handleChunk(m.ulaw)
	case markMsg:
		s.handleMark(m.name)
	case snapshotMsg:
		m.reply <- s.snapshot()
	case sttResult:
		s.handleTranscript(m)
	case llmResult:
		s.handleReply(m)
	case ttsResult:
		s.handleSpeech(m)
	case playedMsg:
		s.handlePlayed(m.res)
	case playbackTimeout:
		if s.playing != nil && s.playing.mark == m.mark {
			s.log.Debug("no mark echo, assuming playback complete", "mark", m.mark)
			s.finishPlayback(false)
		}
	default:
		s.log.Error("unknown session message", "type", fmt.Sprintf("%T", msg))
	}
}

func (s *Session) snapshot() Snapshot {
	hist := make([]Turn, len(s.history))
	for i, t := range s.history {
		hist[i] = t.clone()
	}
	return Snapshot{
		CallID:       s.callID,
		StreamID:     s.streamID,
		InstanceID:   s.instanceID,
		State:        s.state,
		History:      hist,
		Pending:      len(s.pending),
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
	}
}

func (s *Session) setState(st State) {
	if s.state == st {
		return
	}
	s.log.Debug("state change", "from", s.state, "to", st)
	s.state = st
}

// ---- stream lifecycle ----

func (s *Session) handleStart(m startMsg) error {
	if s.streamID != "" {
		return fmt.Errorf("call: stream already attached to %s", s.callID)
	}
	if m.out == nil {
		return errors.New("call: output must not be nil")
	}
	vs, err := s.pipe.VAD.NewSession(vad.Config{
		SampleRate:      s.cfg.Turn.SampleRate,
		FrameSizeMs:     s.cfg.FrameMs,
		SpeechThreshold: s.cfg.EnergyThreshold,
	})
	if err != nil {
		return fmt.Errorf("call: start vad: %w", err)
	}
	det, err := turn.NewDetector(s.cfg.Turn, vs)
	if err != nil {
		_ = vs.Close()
		return fmt.Errorf("call: start detector: %w", err)
	}

	opts := append([]playout.Option{
		playout.WithOnDone(func(r playout.Result) { s.post(playedMsg{res: r}) }),
	}, s.pipe.PlayoutOptions...)

	s.detector = det
	s.player = playout.New(m.out, opts...)
	s.streamID = m.streamID
	s.params = maps.Clone(m.params)
	s.log = s.log.With("stream_id", m.streamID)
	s.setState(ListeningForSpeech)
	s.log.Info("stream started")
	if fn := s.pipe.Hooks.OnStreamStarted; fn != nil {
		fn(Transcript{
			CallID:     s.callID,
			StreamID:   s.streamID,
			InstanceID: s.instanceID,
			StartedAt:  s.createdAt,
			Parameters: maps.Clone(s.params),
		})
	}

	if s.cfg.Greeting != "" {
		ctx, round := s.beginRound()
		s.setState(Processing)
		idx := s.appendTurn(Turn{
			Role:     RoleSystem,
			Content:  s.cfg.Greeting,
			Metadata: map[string]string{"kind": "greeting"},
		})
		s.synthesize(ctx, round, synthJob{text: s.cfg.Greeting, histIdx: idx})
	}
	return nil
}

func (s *Session) teardown() {
	s.endRound()
	if p := s.playing; p != nil {
		s.playing = nil
		p.timer.Stop()
	}
	// System turns whose delivery never concluded are reported as cut off.
	for i := range s.history {
		t := &s.history[i]
		if t.Role == RoleSystem && t.Metadata["delivery"] == "" {
			t.Interrupted = true
			t.Metadata["delivery"] = "cancelled"
			s.fireTurn(i)
		}
	}
	if s.player != nil {
		_ = s.player.Close()
	}
	if s.detector != nil {
		_ = s.detector.Close()
	}
	s.setState(Idle)
	s.final = s.snapshot()
	s.ended = time.Now()
	s.history = nil
	s.pending = nil
	s.detector = nil
	s.player = nil
	s.log.Info("session ended", "turns", len(s.final.History))
}

// ---- inbound audio ----

func (s *Session) handleChunk(ulaw []byte) {
	if s.detector == nil {
		s.log.Debug("dropping chunk before stream start")
		return
	}
	s.lastActivity = time.Now()

	res, err := s.detector.Process(audio.DecodeMulaw(ulaw))
	if err != nil {
		s.log.Warn("dropping chunk", "err", err)
		return
	}

	if s.state == Speaking {
		if res.Speech {
			s.speechRun++
		} else {
			s.speechRun = 0
		}
		if s.speechRun >= s.cfg.BargeInChunks {
			s.bargeIn()
		}
	}

	switch res.Event {
	case turn.EventSpeechStarted:
		if s.state == ListeningForSpeech {
			s.setState(AccumulatingUtterance)
		}
	case turn.EventUtteranceDiscarded:
		s.metrics.RecordFlush(s.ctx, "discarded")
		s.log.Debug("utterance too short, discarded", "voiced", res.Utterance.Voiced)
		if s.state == AccumulatingUtterance && !s.detector.Active() {
			s.setState(ListeningForSpeech)
		}
	case turn.EventUtteranceReady:
		reason := "natural"
		if res.Utterance.Forced {
			reason = "forced"
		}
		s.metrics.RecordFlush(s.ctx, reason)
		s.dispatch(*res.Utterance)
	}
}

// dispatch starts a turn for u, or queues it while one is in flight.
func (s *Session) dispatch(u turn.Utterance) {
	if s.state == Processing || s.state == Speaking {
		if len(s.pending) >= max(s.cfg.PendingUtterances, 0) {
			s.log.Warn("turn in flight, dropping utterance", "duration", u.Duration)
			return
		}
		s.pending = append(s.pending, u)
		return
	}
	s.startTurn(u)
}

// ---- turn processing ----

func (s *Session) beginRound() (context.Context, int) {
	s.endRound()
	s.round++
	s.roundCtx, s.roundCancel = context.WithCancel(s.ctx)
	return s.roundCtx, s.round
}

func (s *Session) endRound() {
	if s.roundCancel != nil {
		s.roundCancel()
	}
	s.roundCtx, s.roundCancel = nil, nil
}

func (s *Session) startTurn(u turn.Utterance) {
	ctx, round := s.beginRound()
	s.flushedAt = time.Now()
	s.setState(Processing)
	s.transcribe(ctx, round, u)
}

func (s *Session) transcribe(ctx context.Context, round int, u turn.Utterance) {
	rate, timeout, log := s.cfg.STTSampleRate, s.cfg.ResponseTimeout, s.log
	go func() {
		res := sttResult{round: round, utt: u}
		defer func() { s.post(res) }()

		pcm, err := audio.Resample(u.PCM, u.SampleRate, rate)
		if err != nil {
			res.err = err
			return
		}
		tctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		tctx, span := observe.StartSpan(tctx, "call.transcribe")
		defer span.End()

		start := time.Now()
		res.text, res.err = s.pipe.STT.Transcribe(tctx, pcm, rate)
		res.took = time.Since(start)
		if res.err != nil {
			span.RecordError(res.err)
			return
		}
		if s.pipe.Corrector != nil && strings.TrimSpace(res.text) != "" {
			corrected, err := s.pipe.Corrector.Correct(tctx, res.text)
			if err != nil {
				log.Debug("transcript correction failed", "err", err)
				return
			}
			res.text = corrected
		}
	}()
}

func (s *Session) handleTranscript(r sttResult) {
	if r.round != s.round {
		return
	}
	s.record(observe.StageSTT, r.took, r.err)
	if r.err != nil {
		s.fail(observe.StageSTT, r.err)
		return
	}
	text := strings.TrimSpace(r.text)
	if text == "" {
		s.log.Debug("empty transcript, treating as noise")
		s.resume()
		return
	}

	meta := map[string]string{
		"audio_ms": ms(r.utt.Duration),
		"stt_ms":   ms(r.took),
	}
	if r.utt.Forced {
		meta["forced_flush"] = "true"
	}
	idx := s.appendTurn(Turn{Role: RoleCaller, Content: text, Metadata: meta})
	s.fireTurn(idx)
	s.log.Info("caller turn", "text", text)

	msgs := toMessages(window(s.history, s.cfg.ContextTurns))
	ctx, round, timeout := s.roundCtx, s.round, s.cfg.ResponseTimeout
	go func() {
		res := llmResult{round: round}
		defer func() { s.post(res) }()

		gctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		gctx, span := observe.StartSpan(gctx, "call.generate")
		defer span.End()

		start := time.Now()
		res.reply, res.err = s.pipe.Generator.Generate(gctx, msgs)
		res.took = time.Since(start)
		if res.err != nil {
			span.RecordError(res.err)
		}
	}()
}

func (s *Session) handleReply(r llmResult) {
	if r.round != s.round {
		return
	}
	reply := strings.TrimSpace(r.reply)
	if r.err == nil && reply == "" {
		r.err = errors.New("generator returned an empty reply")
	}
	s.record(observe.StageLLM, r.took, r.err)
	if r.err != nil {
		s.fail(observe.StageLLM, r.err)
		return
	}
	idx := s.appendTurn(Turn{
		Role:     RoleSystem,
		Content:  reply,
		Metadata: map[string]string{"llm_ms": ms(r.took)},
	})
	s.log.Info("system turn", "text", reply)
	s.synthesize(s.roundCtx, s.round, synthJob{text: reply, histIdx: idx})
}

func (s *Session) synthesize(ctx context.Context, round int, job synthJob) {
	voice, timeout := s.cfg.VoiceID, s.cfg.ResponseTimeout
	go func() {
		res := ttsResult{round: round, job: job}
		defer func() { s.post(res) }()

		tctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		tctx, span := observe.StartSpan(tctx, "call.synthesize")
		defer span.End()

		start := time.Now()
		clip, err := s.pipe.TTS.Synthesize(tctx, job.text, voice)
		res.took = time.Since(start)
		if err == nil && clip.Empty() {
			err = errEmptyAudio
		}
		if err == nil {
			res.ulaw, err = audio.ToTelephony(clip.PCM, clip.SampleRate)
		}
		if err != nil {
			span.RecordError(err)
			res.err = err
		}
	}()
}

func (s *Session) handleSpeech(r ttsResult) {
	if r.round != s.round {
		return
	}
	s.record(observe.StageTTS, r.took, r.err)
	idx := r.job.histIdx
	if r.err != nil {
		if idx >= 0 {
			s.history[idx].Metadata["delivery"] = "failed"
			s.fireTurn(idx)
		}
		if r.job.fallback {
			s.log.Warn("fallback phrase synthesis failed", "err", r.err)
			s.playTone()
			return
		}
		s.fail(observe.StageTTS, r.err)
		return
	}

	if idx >= 0 {
		s.history[idx].Metadata["synthesis_ms"] = ms(r.took)
		s.history[idx].Metadata["audio_ms"] = ms(playout.Clip{Audio: r.ulaw}.Duration())
	}
	if !r.job.fallback && !s.flushedAt.IsZero() {
		s.metrics.RecordTurnLatency(s.ctx, time.Since(s.flushedAt))
	}
	s.play(r.ulaw, idx)
}

// fail handles a collaborator failure: a fallback phrase is synthesized
// unless synthesis itself failed, in which case a tone is played.
func (s *Session) fail(stage string, err error) {
	s.log.Warn("turn failed", "stage", stage, "err", err)
	if stage != observe.StageTTS && s.cfg.FallbackPhrase != "" && s.roundCtx != nil {
		s.synthesize(s.roundCtx, s.round, synthJob{text: s.cfg.FallbackPhrase, histIdx: -1, fallback: true})
		return
	}
	s.playTone()
}

func (s *Session) playTone() {
	ulaw, err := audio.EncodeMulaw(audio.Tone(toneFreq, toneDuration, audio.TelephonyRate, toneAmplitude))
	if err != nil {
		s.log.Error("encode fallback tone", "err", err)
		s.resume()
		return
	}
	s.play(ulaw, -1)
}

// ---- playback ----

func (s *Session) play(ulaw []byte, histIdx int) {
	s.endRound()
	s.markSeq++
	clip := playout.Clip{
		Mark:  fmt.Sprintf("audio_%s_%d", s.callID, s.markSeq),
		Audio: ulaw,
	}
	mark := clip.Mark
	timer := time.AfterFunc(clip.Duration()+s.cfg.PlaybackGrace, func() {
		s.post(playbackTimeout{mark: mark})
	})
	s.playing = &playback{mark: mark, histIdx: histIdx, timer: timer}
	s.speechRun = 0
	s.player.Enqueue(clip, 0)
	s.setState(Speaking)
}

func (s *Session) handleMark(name string) {
	if s.playing == nil || s.playing.mark != name {
		s.log.Debug("ignoring stale mark", "mark", name)
		return
	}
	s.finishPlayback(false)
}

func (s *Session) handlePlayed(r playout.Result) {
	if s.playing == nil || s.playing.mark != r.Mark || r.Err == nil {
		return
	}
	s.log.Warn("playback failed", "mark", r.Mark, "err", r.Err)
	s.finishPlayback(false)
}

func (s *Session) bargeIn() {
	if s.playing == nil {
		return
	}
	dropped := s.player.BargeIn()
	s.metrics.RecordBargeIn(s.ctx)
	s.log.Info("caller barged in", "mark", s.playing.mark, "dropped_clips", dropped)
	s.finishPlayback(true)
}

func (s *Session) finishPlayback(interrupted bool) {
	p := s.playing
	s.playing = nil
	p.timer.Stop()
	if p.histIdx >= 0 {
		t := &s.history[p.histIdx]
		t.Interrupted = interrupted
		t.Metadata["delivery"] = "played"
		if interrupted {
			t.Metadata["delivery"] = "interrupted"
		}
		s.fireTurn(p.histIdx)
	}
	s.speechRun = 0
	s.resume()
}

// resume ends the current round and either starts the next queued
// utterance or goes back to listening.
func (s *Session) resume() {
	s.endRound()
	if len(s.pending) > 0 {
		u := s.pending[0]
		s.pending = s.pending[1:]
		s.startTurn(u)
		return
	}
	if s.detector != nil && s.detector.Active() {
		s.setState(AccumulatingUtterance)
		return
	}
	s.setState(ListeningForSpeech)
}

// ---- history ----

func (s *Session) appendTurn(t Turn) int {
	t.Timestamp = time.Now()
	if t.Metadata == nil {
		t.Metadata = make(map[string]string)
	}
	s.history = append(s.history, t)
	s.metrics.RecordTurn(s.ctx, string(t.Role))
	return len(s.history) - 1
}

func (s *Session) fireTurn(idx int) {
	if s.pipe.Hooks.OnTurnRecorded != nil {
		s.pipe.Hooks.OnTurnRecorded(s.callID, s.history[idx].clone())
	}
}

func (s *Session) record(stage string, took time.Duration, err error) {
	s.metrics.RecordStage(s.ctx, stage, took, err, errorKind(err))
}

func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, errEmptyAudio):
		return "empty"
	default:
		return "error"
	}
}

func ms(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10)
}
