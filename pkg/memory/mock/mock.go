// Package mock provides an in-memory test double for [memory.TranscriptStore].
//
// The mock keeps every call, turn and summary it receives so tests can
// assert on what the pipeline persisted, and exposes *Err fields to script
// failures. It is safe for concurrent use.
//
// Typical usage:
//
//	store := &mock.TranscriptStore{}
//	// inject store into the system under test …
//	if got := store.CallCount("RecordTurn"); got != 2 {
//	    t.Errorf("expected 2 RecordTurn calls, got %d", got)
//	}
package mock

import (
	"context"
	"maps"
	"sync"

	"github.com/MrWong99/telvoxa/pkg/memory"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// TranscriptStore is a configurable test double for [memory.TranscriptStore].
type TranscriptStore struct {
	mu    sync.Mutex
	calls []Call

	records   map[string]memory.CallRecord
	turns     map[string][]memory.TurnRecord
	summaries map[string]memory.Summary

	// StartCallErr is returned by StartCall when non-nil.
	StartCallErr error

	// RecordTurnErr is returned by RecordTurn when non-nil.
	RecordTurnErr error

	// EndCallErr is returned by EndCall when non-nil.
	EndCallErr error

	// TranscriptErr is returned by Transcript when non-nil.
	TranscriptErr error

	// PingErr is returned by Ping.
	PingErr error
}

var (
	_ memory.TranscriptStore = (*TranscriptStore)(nil)
	_ memory.Pinger          = (*TranscriptStore)(nil)
)

// Calls returns a copy of all recorded method invocations.
func (m *TranscriptStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *TranscriptStore) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Record returns the stored call record.
func (m *TranscriptStore) Record(callID string) (memory.CallRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[callID]
	return rec, ok
}

// Summary returns the stored summary.
func (m *TranscriptStore) Summary(callID string) (memory.Summary, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum, ok := m.summaries[callID]
	return sum, ok
}

// Reset clears recorded calls and stored data without altering the
// configured errors.
func (m *TranscriptStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.records = nil
	m.turns = nil
	m.summaries = nil
}

// StartCall implements [memory.TranscriptStore].
func (m *TranscriptStore) StartCall(_ context.Context, rec memory.CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "StartCall", Args: []any{rec}})
	if m.StartCallErr != nil {
		return m.StartCallErr
	}
	if m.records == nil {
		m.records = make(map[string]memory.CallRecord)
		m.turns = make(map[string][]memory.TurnRecord)
	}
	rec.Parameters = maps.Clone(rec.Parameters)
	m.records[rec.CallID] = rec
	m.turns[rec.CallID] = nil
	return nil
}

// RecordTurn implements [memory.TranscriptStore]. Turns for unknown calls
// are kept; the mock does not enforce StartCall ordering.
func (m *TranscriptStore) RecordTurn(_ context.Context, callID string, turn memory.TurnRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "RecordTurn", Args: []any{callID, turn}})
	if m.RecordTurnErr != nil {
		return m.RecordTurnErr
	}
	if m.turns == nil {
		m.turns = make(map[string][]memory.TurnRecord)
	}
	turn.Metadata = maps.Clone(turn.Metadata)
	m.turns[callID] = append(m.turns[callID], turn)
	return nil
}

// EndCall implements [memory.TranscriptStore].
func (m *TranscriptStore) EndCall(_ context.Context, callID string, sum memory.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "EndCall", Args: []any{callID, sum}})
	if m.EndCallErr != nil {
		return m.EndCallErr
	}
	if _, ok := m.records[callID]; !ok {
		return memory.ErrNotFound
	}
	if m.summaries == nil {
		m.summaries = make(map[string]memory.Summary)
	}
	m.summaries[callID] = sum
	return nil
}

// Transcript implements [memory.TranscriptStore].
func (m *TranscriptStore) Transcript(_ context.Context, callID string) ([]memory.TurnRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Transcript", Args: []any{callID}})
	if m.TranscriptErr != nil {
		return nil, m.TranscriptErr
	}
	turns, ok := m.turns[callID]
	if !ok {
		return nil, memory.ErrNotFound
	}
	out := make([]memory.TurnRecord, len(turns))
	copy(out, turns)
	return out, nil
}

// Ping implements [memory.Pinger].
func (m *TranscriptStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Ping"})
	return m.PingErr
}
