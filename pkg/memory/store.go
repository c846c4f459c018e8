// Package memory persists call transcripts.
//
// A [TranscriptStore] receives the call record when a stream starts, every
// turn as the pipeline records it and a [Summary] when the call ends.
// Backends live in sub-packages: postgres for durable history and redis for
// a short-lived live view. [Multi] fans writes out to several of them.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a call has no stored record.
var ErrNotFound = errors.New("memory: call not found")

// TranscriptStore records calls and their turns.
type TranscriptStore interface {
	// StartCall creates the record for a call. Starting a call id that
	// already exists replaces its record.
	StartCall(ctx context.Context, rec CallRecord) error

	// RecordTurn appends a turn to the call's transcript.
	RecordTurn(ctx context.Context, callID string, turn TurnRecord) error

	// EndCall stores the summary. It returns ErrNotFound for unknown calls.
	EndCall(ctx context.Context, callID string, sum Summary) error

	// Transcript returns the call's turns in recording order. It returns
	// ErrNotFound for unknown calls.
	Transcript(ctx context.Context, callID string) ([]TurnRecord, error)
}

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Multi writes to every store and reads from the first one that has the
// call. A nil or empty Multi accepts all writes and finds nothing.
type Multi []TranscriptStore

var (
	_ TranscriptStore = Multi(nil)
	_ Pinger          = Multi(nil)
)

// StartCall implements [TranscriptStore].
func (m Multi) StartCall(ctx context.Context, rec CallRecord) error {
	return m.each(func(s TranscriptStore) error { return s.StartCall(ctx, rec) })
}

// RecordTurn implements [TranscriptStore].
func (m Multi) RecordTurn(ctx context.Context, callID string, turn TurnRecord) error {
	return m.each(func(s TranscriptStore) error { return s.RecordTurn(ctx, callID, turn) })
}

// EndCall implements [TranscriptStore].
func (m Multi) EndCall(ctx context.Context, callID string, sum Summary) error {
	return m.each(func(s TranscriptStore) error { return s.EndCall(ctx, callID, sum) })
}

// Transcript implements [TranscriptStore].
func (m Multi) Transcript(ctx context.Context, callID string) ([]TurnRecord, error) {
	var errs []error
	for _, s := range m {
		turns, err := s.Transcript(ctx, callID)
		if err == nil {
			return turns, nil
		}
		if !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return nil, ErrNotFound
}

// Ping pings every store that supports it.
func (m Multi) Ping(ctx context.Context) error {
	var errs []error
	for _, s := range m {
		if p, ok := s.(Pinger); ok {
			if err := p.Ping(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (m Multi) each(fn func(TranscriptStore) error) error {
	var errs []error
	for _, s := range m {
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
