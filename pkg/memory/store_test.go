package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/telvoxa/pkg/memory"
	"github.com/MrWong99/telvoxa/pkg/memory/mock"
)

func TestMulti_FansOutWrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a, b := &mock.TranscriptStore{}, &mock.TranscriptStore{}
	m := memory.Multi{a, b}

	if err := m.StartCall(ctx, memory.CallRecord{CallID: "CA1", StartedAt: time.Now()}); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	if err := m.RecordTurn(ctx, "CA1", memory.TurnRecord{Role: "caller", Content: "hi"}); err != nil {
		t.Fatalf("RecordTurn: %v", err)
	}
	if err := m.EndCall(ctx, "CA1", memory.Summary{TurnCount: 1}); err != nil {
		t.Fatalf("EndCall: %v", err)
	}

	for i, s := range []*mock.TranscriptStore{a, b} {
		for _, method := range []string{"StartCall", "RecordTurn", "EndCall"} {
			if n := s.CallCount(method); n != 1 {
				t.Errorf("store %d %s calls = %d, want 1", i, method, n)
			}
		}
	}
}

func TestMulti_WriteErrorsAreJoined(t *testing.T) {
	t.Parallel()
	errA, errB := errors.New("a down"), errors.New("b down")
	ok := &mock.TranscriptStore{}
	m := memory.Multi{&mock.TranscriptStore{RecordTurnErr: errA}, ok, &mock.TranscriptStore{RecordTurnErr: errB}}

	err := m.RecordTurn(context.Background(), "CA1", memory.TurnRecord{Content: "x"})
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("err = %v, want both store errors", err)
	}
	if n := ok.CallCount("RecordTurn"); n != 1 {
		t.Errorf("healthy store skipped after failure")
	}
}

func TestMulti_TranscriptReadsFirstHit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	empty := &mock.TranscriptStore{}
	full := &mock.TranscriptStore{}
	_ = full.StartCall(ctx, memory.CallRecord{CallID: "CA1"})
	_ = full.RecordTurn(ctx, "CA1", memory.TurnRecord{Role: "caller", Content: "hello"})

	turns, err := memory.Multi{empty, full}.Transcript(ctx, "CA1")
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if len(turns) != 1 || turns[0].Content != "hello" {
		t.Errorf("turns = %+v", turns)
	}

	if _, err := (memory.Multi{empty}).Transcript(ctx, "CA1"); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("missing call err = %v, want ErrNotFound", err)
	}

	boom := errors.New("boom")
	_, err = memory.Multi{&mock.TranscriptStore{TranscriptErr: boom}, empty}.Transcript(ctx, "CA1")
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestMulti_Ping(t *testing.T) {
	t.Parallel()
	boom := errors.New("unreachable")
	if err := (memory.Multi{&mock.TranscriptStore{}}).Ping(context.Background()); err != nil {
		t.Errorf("Ping = %v", err)
	}
	if err := (memory.Multi{&mock.TranscriptStore{PingErr: boom}}).Ping(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Ping = %v, want %v", err, boom)
	}
	if err := (memory.Multi(nil)).Ping(context.Background()); err != nil {
		t.Errorf("empty Ping = %v", err)
	}
}
