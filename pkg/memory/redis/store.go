// Package redis keeps a short-lived live view of call transcripts in Redis.
//
// Each call uses two keys: "<prefix>:call:<id>" holds the JSON call record
// and summary, "<prefix>:call:<id>:turns" is a list of JSON turns. Both
// expire after the configured TTL, refreshed on every write.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrWong99/telvoxa/pkg/memory"
)

const (
	defaultTTL    = 24 * time.Hour
	defaultPrefix = "telvoxa"
)

// Store is a [memory.TranscriptStore] backed by Redis.
type Store struct {
	client *goredis.Client
	ttl    time.Duration
	prefix string
}

var (
	_ memory.TranscriptStore = (*Store)(nil)
	_ memory.Pinger          = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithTTL sets how long call keys live after the last write. Zero disables
// expiry.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithPrefix sets the key prefix. Default is "telvoxa".
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// New returns a Store using client.
//
//	store := redis.New(
//	    goredis.NewClient(&goredis.Options{Addr: "localhost:6379"}),
//	    redis.WithTTL(time.Hour),
//	)
func New(client *goredis.Client, opts ...Option) *Store {
	s := &Store{client: client, ttl: defaultTTL, prefix: defaultPrefix}
	for _, o := range opts {
		o(s)
	}
	return s
}

// callState is the value stored under the call key.
type callState struct {
	Record  memory.CallRecord `json:"record"`
	Summary *memory.Summary   `json:"summary,omitempty"`
}

// Ping implements [memory.Pinger].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis store: ping: %w", err)
	}
	return nil
}

// StartCall implements [memory.TranscriptStore]. A reused call id starts
// over: the record is replaced and earlier turns are dropped in the same
// transaction.
func (s *Store) StartCall(ctx context.Context, rec memory.CallRecord) error {
	data, err := json.Marshal(callState{Record: rec})
	if err != nil {
		return fmt.Errorf("redis store: marshal call: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.turnsKey(rec.CallID))
	pipe.Set(ctx, s.callKey(rec.CallID), data, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis store: start call: %w", err)
	}
	return nil
}

// RecordTurn implements [memory.TranscriptStore]. RPUSH and EXPIRE go out in
// one pipeline.
func (s *Store) RecordTurn(ctx context.Context, callID string, turn memory.TurnRecord) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("redis store: marshal turn: %w", err)
	}
	key := s.turnsKey(callID)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis store: record turn: %w", err)
	}
	return nil
}

// EndCall implements [memory.TranscriptStore].
func (s *Store) EndCall(ctx context.Context, callID string, sum memory.Summary) error {
	key := s.callKey(callID)
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return fmt.Errorf("redis store: end call %s: %w", callID, memory.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("redis store: load call: %w", err)
	}

	var st callState
	if err := json.Unmarshal(raw, &st); err != nil {
		return fmt.Errorf("redis store: decode call: %w", err)
	}
	st.Summary = &sum
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("redis store: marshal call: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, key, data, s.ttl)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.turnsKey(callID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis store: end call: %w", err)
	}
	return nil
}

// Transcript implements [memory.TranscriptStore].
func (s *Store) Transcript(ctx context.Context, callID string) ([]memory.TurnRecord, error) {
	pipe := s.client.Pipeline()
	lrange := pipe.LRange(ctx, s.turnsKey(callID), 0, -1)
	exists := pipe.Exists(ctx, s.callKey(callID))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis store: transcript: %w", err)
	}

	vals := lrange.Val()
	if len(vals) == 0 && exists.Val() == 0 {
		return nil, fmt.Errorf("redis store: transcript %s: %w", callID, memory.ErrNotFound)
	}
	turns := make([]memory.TurnRecord, 0, len(vals))
	for _, v := range vals {
		var t memory.TurnRecord
		if err := json.Unmarshal([]byte(v), &t); err != nil {
			return nil, fmt.Errorf("redis store: decode turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// Summary returns the stored summary of an ended call. ok is false while the
// call is still running.
func (s *Store) Summary(ctx context.Context, callID string) (sum memory.Summary, ok bool, err error) {
	raw, err := s.client.Get(ctx, s.callKey(callID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return memory.Summary{}, false, fmt.Errorf("redis store: summary %s: %w", callID, memory.ErrNotFound)
	}
	if err != nil {
		return memory.Summary{}, false, fmt.Errorf("redis store: load call: %w", err)
	}
	var st callState
	if err := json.Unmarshal(raw, &st); err != nil {
		return memory.Summary{}, false, fmt.Errorf("redis store: decode call: %w", err)
	}
	if st.Summary == nil {
		return memory.Summary{}, false, nil
	}
	return *st.Summary, true, nil
}

func (s *Store) callKey(callID string) string {
	return fmt.Sprintf("%s:call:%s", s.prefix, callID)
}

func (s *Store) turnsKey(callID string) string {
	return fmt.Sprintf("%s:call:%s:turns", s.prefix, callID)
}
