// Package mediastream adapts a Twilio-style media stream websocket to the
// call pipeline.
//
// The channel sends JSON text frames: "connected", then "start" carrying the
// call and stream ids, a "media" frame per 20 ms of base64 μ-law audio,
// "mark" echoes for playback markers sent earlier, "dtmf" key presses and
// finally "stop". The [Handler] decodes them and drives a [Calls]
// implementation, normally a *call.Registry. Outbound audio, marks and
// clear commands are written back on the same socket.
//
// Malformed frames are logged, counted and dropped; they never close the
// channel. A read error or a "stop" ends the call.
package mediastream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/telvoxa/internal/call"
	"github.com/MrWong99/telvoxa/internal/observe"
)

const (
	defaultWriteTimeout = 5 * time.Second
	readLimit           = 1 << 20
)

// Calls receives the decoded stream events. *call.Registry implements it.
type Calls interface {
	OnStreamStart(callID, streamID string, out call.Output, params map[string]string) error
	OnChunk(callID string, ulaw []byte) error
	OnMark(callID, name string) error
	OnStreamStop(callID string)
}

var _ Calls = (*call.Registry)(nil)

// Handler serves the media stream websocket endpoint.
type Handler struct {
	calls        Calls
	metrics      *observe.Metrics
	writeTimeout time.Duration
	accept       websocket.AcceptOptions
}

var _ http.Handler = (*Handler)(nil)

// Option configures a [Handler].
type Option func(*Handler)

// WithMetrics sets the metrics used to count malformed frames. Defaults to
// observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithWriteTimeout bounds every outbound websocket write.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Handler) { h.writeTimeout = d }
}

// WithOriginPatterns allows cross-origin upgrades from the given host
// patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) { h.accept.OriginPatterns = patterns }
}

// NewHandler returns a Handler that forwards stream events to calls.
func NewHandler(calls Calls, opts ...Option) *Handler {
	h := &Handler{
		calls:        calls,
		writeTimeout: defaultWriteTimeout,
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// ServeHTTP upgrades the request and runs the stream until it stops or the
// connection fails.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &h.accept)
	if err != nil {
		observe.Logger(r.Context()).Warn("mediastream: accept failed", "err", err)
		return
	}
	conn.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	s := &stream{
		h:      h,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		log:    observe.Logger(ctx).With("remote", r.RemoteAddr),
	}
	s.serve()
}

// stream is the state of one websocket connection.
type stream struct {
	h      *Handler
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger

	callID    string
	streamSid string
}

func (s *stream) serve() {
	var (
		status websocket.StatusCode
		reason string
		done   bool
	)
	for !done {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			s.logDisconnect(err)
			break
		}
		status, reason, done = s.handle(data)
	}

	// Close may wait seconds for the peer's handshake; end the call first.
	s.cancel()
	if s.callID != "" {
		s.h.calls.OnStreamStop(s.callID)
	}
	if done {
		_ = s.conn.Close(status, reason)
		return
	}
	_ = s.conn.CloseNow()
}

func (s *stream) logDisconnect(err error) {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		s.log.Info("mediastream: channel closed")
	default:
		if s.ctx.Err() != nil {
			s.log.Info("mediastream: channel closed")
			return
		}
		s.log.Info("mediastream: channel disconnected", "err", err)
	}
}

// handle processes one frame. done reports that the connection should close
// with the given status.
func (s *stream) handle(data []byte) (status websocket.StatusCode, reason string, done bool) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.malformed("json", err)
		return 0, "", false
	}

	switch msg.Event {
	case eventConnected:
		s.log.Debug("mediastream: connected", "protocol", msg.Protocol, "version", msg.Version)

	case eventStart:
		return s.handleStart(&msg)

	case eventMedia:
		if s.callID == "" {
			s.log.Debug("mediastream: media before start, dropping")
			return 0, "", false
		}
		if msg.Media == nil {
			s.malformed("event", errors.New("media event without payload"))
			return 0, "", false
		}
		if msg.Media.Track != "" && msg.Media.Track != "inbound" {
			return 0, "", false
		}
		ulaw, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
		if err != nil {
			s.malformed("payload", err)
			return 0, "", false
		}
		if err := s.h.calls.OnChunk(s.callID, ulaw); err != nil {
			return s.forwardFailed(err)
		}

	case eventMark:
		if msg.Mark == nil || s.callID == "" {
			s.malformed("event", errors.New("mark event without name or stream"))
			return 0, "", false
		}
		if err := s.h.calls.OnMark(s.callID, msg.Mark.Name); err != nil {
			return s.forwardFailed(err)
		}

	case eventDTMF:
		if msg.DTMF != nil {
			s.log.Info("mediastream: dtmf", "digit", msg.DTMF.Digit)
		}

	case eventStop:
		s.log.Info("mediastream: stream stopped")
		return websocket.StatusNormalClosure, "stream stopped", true

	default:
		s.log.Debug("mediastream: ignoring unknown event", "event", msg.Event)
	}
	return 0, "", false
}

func (s *stream) handleStart(msg *inboundMessage) (websocket.StatusCode, string, bool) {
	if s.callID != "" {
		s.log.Warn("mediastream: duplicate start ignored")
		return 0, "", false
	}
	start := msg.Start
	if start == nil || start.CallSid == "" {
		s.malformed("event", errors.New("start event without call id"))
		return 0, "", false
	}
	streamSid := start.StreamSid
	if streamSid == "" {
		streamSid = msg.StreamSid
	}
	if enc := start.MediaFormat.Encoding; enc != "" && enc != mulawEncoding {
		s.log.Warn("mediastream: unexpected media encoding", "encoding", enc)
	}

	out := &sink{
		conn:      s.conn,
		ctx:       s.ctx,
		streamSid: streamSid,
		timeout:   s.h.writeTimeout,
	}
	if err := s.h.calls.OnStreamStart(start.CallSid, streamSid, out, start.CustomParameters); err != nil {
		s.log.Warn("mediastream: rejecting stream", "call_id", start.CallSid, "err", err)
		if errors.Is(err, call.ErrCapacity) {
			return websocket.StatusTryAgainLater, "at capacity", true
		}
		return websocket.StatusInternalError, "stream rejected", true
	}

	s.callID = start.CallSid
	s.streamSid = streamSid
	s.log = s.log.With("call_id", s.callID, "stream_id", streamSid)
	s.log.Info("mediastream: stream started", "tracks", start.Tracks)
	return 0, "", false
}

// forwardFailed handles an event the pipeline could not take. A session
// that is gone ends the connection.
func (s *stream) forwardFailed(err error) (websocket.StatusCode, string, bool) {
	if errors.Is(err, call.ErrSessionNotFound) || errors.Is(err, call.ErrSessionClosed) {
		s.log.Debug("mediastream: session gone", "err", err)
		return websocket.StatusNormalClosure, "call ended", true
	}
	s.log.Warn("mediastream: forward event", "err", err)
	return 0, "", false
}

func (s *stream) malformed(kind string, err error) {
	s.h.metrics.RecordMalformed(s.ctx, kind)
	s.log.Warn("mediastream: dropping malformed frame", "kind", kind, "err", err)
}
