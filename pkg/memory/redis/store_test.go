package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/MrWong99/telvoxa/pkg/memory"
)

// setupStore creates a Store backed by miniredis.
func setupStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, opts...), mr
}

func TestStore_RoundTrip(t *testing.T) {
	t.Parallel()
	store, _ := setupStore(t)
	ctx := context.Background()

	if err := store.StartCall(ctx, memory.CallRecord{CallID: "CA123", StreamID: "MZ1"}); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	turns, err := store.Transcript(ctx, "CA123")
	if err != nil {
		t.Fatalf("Transcript of fresh call: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("fresh call has %d turns", len(turns))
	}

	want := []memory.TurnRecord{
		{Role: "caller", Content: "what's my balance", Timestamp: time.Unix(100, 0).UTC()},
		{Role: "system", Content: "One moment.", Interrupted: true, Metadata: map[string]string{"delivery": "interrupted"}, Timestamp: time.Unix(101, 0).UTC()},
	}
	for _, turn := range want {
		if err := store.RecordTurn(ctx, "CA123", turn); err != nil {
			t.Fatalf("RecordTurn: %v", err)
		}
	}

	got, err := store.Transcript(ctx, "CA123")
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("turns = %d, want 2", len(got))
	}
	for i := range want {
		if got[i].Content != want[i].Content || got[i].Interrupted != want[i].Interrupted || !got[i].Timestamp.Equal(want[i].Timestamp) {
			t.Errorf("turn %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if got[1].Metadata["delivery"] != "interrupted" {
		t.Errorf("metadata = %v", got[1].Metadata)
	}
}

func TestStore_StartCallReplacesEarlierCall(t *testing.T) {
	t.Parallel()
	store, _ := setupStore(t)
	ctx := context.Background()

	_ = store.StartCall(ctx, memory.CallRecord{CallID: "CA5", StreamID: "MZ1"})
	if err := store.RecordTurn(ctx, "CA5", memory.TurnRecord{Role: "caller", Content: "old call"}); err != nil {
		t.Fatalf("RecordTurn: %v", err)
	}
	_ = store.EndCall(ctx, "CA5", memory.Summary{Text: "old summary"})

	if err := store.StartCall(ctx, memory.CallRecord{CallID: "CA5", StreamID: "MZ2"}); err != nil {
		t.Fatalf("StartCall again: %v", err)
	}
	turns, err := store.Transcript(ctx, "CA5")
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("restarted call kept %d turns: %+v", len(turns), turns)
	}
	if _, ok, err := store.Summary(ctx, "CA5"); err != nil || ok {
		t.Errorf("restarted call kept its summary: ok %v, err %v", ok, err)
	}
}

func TestStore_EndCall(t *testing.T) {
	t.Parallel()
	store, _ := setupStore(t)
	ctx := context.Background()

	if err := store.EndCall(ctx, "CA404", memory.Summary{}); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("EndCall unknown = %v, want ErrNotFound", err)
	}

	_ = store.StartCall(ctx, memory.CallRecord{CallID: "CA1"})
	if _, ok, err := store.Summary(ctx, "CA1"); err != nil || ok {
		t.Errorf("Summary of running call = ok %v, err %v", ok, err)
	}

	sum := memory.Summary{Duration: 42 * time.Second, TurnCount: 3, Text: "Balance inquiry."}
	if err := store.EndCall(ctx, "CA1", sum); err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	got, ok, err := store.Summary(ctx, "CA1")
	if err != nil || !ok {
		t.Fatalf("Summary = ok %v, err %v", ok, err)
	}
	if got.Duration != sum.Duration || got.TurnCount != 3 || got.Text != sum.Text {
		t.Errorf("summary = %+v", got)
	}
}

func TestStore_TranscriptUnknownCall(t *testing.T) {
	t.Parallel()
	store, _ := setupStore(t)
	if _, err := store.Transcript(context.Background(), "CA404"); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_TTL(t *testing.T) {
	t.Parallel()
	store, mr := setupStore(t, WithTTL(time.Minute), WithPrefix("test"))
	ctx := context.Background()

	_ = store.StartCall(ctx, memory.CallRecord{CallID: "CA1"})
	_ = store.RecordTurn(ctx, "CA1", memory.TurnRecord{Role: "caller", Content: "hi"})

	if ttl := mr.TTL("test:call:CA1"); ttl != time.Minute {
		t.Errorf("call key TTL = %v, want 1m", ttl)
	}
	if ttl := mr.TTL("test:call:CA1:turns"); ttl != time.Minute {
		t.Errorf("turns key TTL = %v, want 1m", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := store.Transcript(ctx, "CA1"); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("expired call err = %v, want ErrNotFound", err)
	}
}

func TestStore_NoTTL(t *testing.T) {
	t.Parallel()
	store, mr := setupStore(t, WithTTL(0))
	ctx := context.Background()

	_ = store.StartCall(ctx, memory.CallRecord{CallID: "CA1"})
	_ = store.RecordTurn(ctx, "CA1", memory.TurnRecord{Content: "hi"})
	if ttl := mr.TTL("telvoxa:call:CA1:turns"); ttl != 0 {
		t.Errorf("turns key TTL = %v, want none", ttl)
	}
}

func TestStore_Ping(t *testing.T) {
	t.Parallel()
	store, mr := setupStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	mr.Close()
	if err := store.Ping(context.Background()); err == nil {
		t.Error("expected ping error after server shutdown")
	}
}

func TestStore_CorruptTurn(t *testing.T) {
	t.Parallel()
	store, mr := setupStore(t)
	if _, err := mr.RPush("telvoxa:call:CA1:turns", "not json"); err != nil {
		t.Fatalf("RPush: %v", err)
	}
	if _, err := store.Transcript(context.Background(), "CA1"); err == nil {
		t.Error("expected decode error")
	}
}
