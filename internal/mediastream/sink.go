package mediastream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/telvoxa/internal/call"
)

// sink writes outbound events for one stream. websocket.Conn allows
// concurrent writers, so the player and barge-in paths need no extra
// locking.
type sink struct {
	conn      *websocket.Conn
	ctx       context.Context
	streamSid string
	timeout   time.Duration
}

var _ call.Output = (*sink)(nil)

// SendMedia writes one frame of μ-law audio.
func (s *sink) SendMedia(ulaw []byte) error {
	return s.writeJSON(outboundMedia{
		Event:     eventMedia,
		StreamSid: s.streamSid,
		Media:     outboundBody{Payload: base64.StdEncoding.EncodeToString(ulaw)},
	})
}

// SendMark asks the channel to echo name once the preceding audio played.
func (s *sink) SendMark(name string) error {
	return s.writeJSON(outboundMark{
		Event:     eventMark,
		StreamSid: s.streamSid,
		Mark:      markPayload{Name: name},
	})
}

// SendClear tells the channel to drop any audio it has buffered.
func (s *sink) SendClear() error {
	return s.writeJSON(outboundClear{Event: eventClear, StreamSid: s.streamSid})
}

func (s *sink) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("mediastream: marshal: %w", err)
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("mediastream: write: %w", err)
	}
	return nil
}
