package call_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/telvoxa/internal/call"
	llmmock "github.com/MrWong99/telvoxa/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/telvoxa/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/telvoxa/pkg/provider/tts/mock"
	"github.com/MrWong99/telvoxa/pkg/provider/vad"
	"github.com/MrWong99/telvoxa/pkg/provider/vad/energy"
	vadmock "github.com/MrWong99/telvoxa/pkg/provider/vad/mock"
)

func TestNewRegistry_RequiresCollaborators(t *testing.T) {
	t.Parallel()
	_, err := call.NewRegistry(call.Pipeline{STT: &sttmock.Provider{}})
	if err == nil {
		t.Fatal("expected error for missing generator, TTS and VAD")
	}
}

func TestNewRegistry_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	h := newHarness(t, call.Config{})
	err := h.reg.SetConfig(call.Config{BargeInChunks: -1})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if got := h.reg.Config().BargeInChunks; got != call.DefaultBargeInChunks {
		t.Errorf("config replaced despite error: BargeInChunks = %d", got)
	}
}

func TestRegistry_CreateDuplicate(t *testing.T) {
	t.Parallel()
	h := newHarness(t, call.Config{})
	if _, err := h.reg.Create("CA1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err := h.reg.Create("CA1")
	if !errors.Is(err, call.ErrSessionExists) {
		t.Errorf("Create duplicate = %v, want ErrSessionExists", err)
	}
	if n := h.reg.Len(); n != 1 {
		t.Errorf("Len = %d, want 1", n)
	}
}

func TestRegistry_Capacity(t *testing.T) {
	t.Parallel()
	h := newHarness(t, call.Config{MaxSessions: 2})
	for _, id := range []string{"CA1", "CA2"} {
		if _, err := h.reg.Create(id); err != nil {
			t.Fatalf("Create(%s): %v", id, err)
		}
	}
	if _, err := h.reg.Create("CA3"); !errors.Is(err, call.ErrCapacity) {
		t.Errorf("Create over capacity = %v, want ErrCapacity", err)
	}

	h.reg.Destroy("CA1")
	if _, err := h.reg.Create("CA3"); err != nil {
		t.Errorf("Create after destroy: %v", err)
	}
	if c := h.reg.Capacity(); c != 2 {
		t.Errorf("Capacity = %d, want 2", c)
	}
}

func TestRegistry_UnknownCall(t *testing.T) {
	t.Parallel()
	h := newHarness(t, call.Config{})

	if err := h.reg.AttachStream("nope", "MZ1", h.sink, nil); !errors.Is(err, call.ErrSessionNotFound) {
		t.Errorf("AttachStream = %v, want ErrSessionNotFound", err)
	}
	if err := h.reg.OnChunk("nope", speechChunk); !errors.Is(err, call.ErrSessionNotFound) {
		t.Errorf("OnChunk = %v, want ErrSessionNotFound", err)
	}
	if err := h.reg.OnMark("nope", "audio_nope_1"); !errors.Is(err, call.ErrSessionNotFound) {
		t.Errorf("OnMark = %v, want ErrSessionNotFound", err)
	}
	if _, ok := h.reg.Get("nope"); ok {
		t.Error("Get returned a session for an unknown call")
	}
	h.reg.Destroy("nope")
}

func TestRegistry_AttachTwice(t *testing.T) {
	t.Parallel()
	h := newHarness(t, call.Config{})
	h.start(t, "CA1", "MZ1")
	if err := h.reg.AttachStream("CA1", "MZ2", h.sink, nil); err == nil {
		t.Error("expected error attaching a second stream")
	}
}

func TestRegistry_DestroyIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, call.Config{})
	h.start(t, "CA1", "MZ1")

	h.reg.Destroy("CA1")
	h.reg.Destroy("CA1")
	h.reg.OnStreamStop("CA1")

	select {
	case tr := <-h.ended:
		if tr.CallID != "CA1" {
			t.Errorf("ended call = %s, want CA1", tr.CallID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("OnSessionEnded not fired")
	}
	select {
	case <-h.ended:
		t.Error("OnSessionEnded fired twice")
	case <-time.After(50 * time.Millisecond):
	}
	if n := h.reg.Len(); n != 0 {
		t.Errorf("Len = %d, want 0", n)
	}
}

func TestRegistry_ReusedCallIDGetsNewInstance(t *testing.T) {
	t.Parallel()
	h := newHarness(t, call.Config{})
	first, err := h.reg.Create("CA1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	h.reg.Destroy("CA1")
	second, err := h.reg.Create("CA1")
	if err != nil {
		t.Fatalf("Create again: %v", err)
	}
	if first.InstanceID() == second.InstanceID() {
		t.Error("reused call id kept the same instance id")
	}
	if second.CallID() != "CA1" {
		t.Errorf("CallID = %s", second.CallID())
	}
}

func TestRegistry_Shutdown(t *testing.T) {
	t.Parallel()
	h := newHarness(t, call.Config{})
	for _, id := range []string{"CA1", "CA2", "CA3"} {
		h.start(t, id, "MZ-"+id)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.reg.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if n := h.reg.Len(); n != 0 {
		t.Errorf("Len after shutdown = %d, want 0", n)
	}
	if len(h.ended) != 3 {
		t.Errorf("sessions ended = %d, want 3", len(h.ended))
	}
	if _, err := h.reg.Create("CA4"); !errors.Is(err, call.ErrRegistryClosed) {
		t.Errorf("Create after shutdown = %v, want ErrRegistryClosed", err)
	}
}

func TestRegistry_SetConfigAppliesToNewSessions(t *testing.T) {
	t.Parallel()
	h := newHarness(t, call.Config{})
	if err := h.reg.SetConfig(call.Config{MaxSessions: 1, Greeting: "Hi."}); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	cfg := h.reg.Config()
	if cfg.MaxSessions != 1 || cfg.Greeting != "Hi." {
		t.Errorf("Config = %+v", cfg)
	}
	if cfg.ResponseTimeout != call.DefaultResponseTimeout {
		t.Errorf("ResponseTimeout = %v, want default", cfg.ResponseTimeout)
	}

	s := h.start(t, "CA1", "MZ1")
	waitFor(t, s, "greeting", func(s call.Snapshot) bool { return s.State == call.Speaking })
	if _, err := h.reg.Create("CA2"); !errors.Is(err, call.ErrCapacity) {
		t.Errorf("Create = %v, want ErrCapacity", err)
	}
}

func TestRegistry_ShutdownWaitsForPendingDestroy(t *testing.T) {
	t.Parallel()
	entered := make(chan struct{})
	release := make(chan struct{})
	reg, err := call.NewRegistry(call.Pipeline{
		STT:       &sttmock.Provider{},
		Generator: call.NewResponder(&llmmock.Provider{}, call.ResponderConfig{}),
		TTS:       &ttsmock.Provider{},
		VAD:       energy.New(),
		Hooks: call.Hooks{
			OnSessionEnded: func(string, call.Transcript) {
				close(entered)
				<-release
			},
		},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, err := reg.Create("CA1"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	go reg.Destroy("CA1")
	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("OnSessionEnded not fired")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- reg.Shutdown(ctx) }()

	select {
	case <-done:
		t.Fatal("Shutdown returned before the pending teardown finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Shutdown did not return")
	}
}

func newMockVADRegistry(t *testing.T, engine vad.Engine, cfg call.Config) *call.Registry {
	t.Helper()
	reg, err := call.NewRegistry(call.Pipeline{
		STT:       &sttmock.Provider{},
		Generator: call.NewResponder(&llmmock.Provider{}, call.ResponderConfig{}),
		TTS:       &ttsmock.Provider{},
		VAD:       engine,
		Config:    cfg,
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = reg.Shutdown(ctx)
	})
	return reg
}

func TestRegistry_StreamStartPassesClassifierConfig(t *testing.T) {
	t.Parallel()
	engine := &vadmock.Engine{}
	reg := newMockVADRegistry(t, engine, call.Config{EnergyThreshold: 450, FrameMs: 30})

	if err := reg.OnStreamStart("CA1", "MZ1", &recordingSink{}, nil); err != nil {
		t.Fatalf("OnStreamStart: %v", err)
	}
	cfgs := engine.Configs()
	if len(cfgs) != 1 {
		t.Fatalf("NewSession calls = %d, want 1", len(cfgs))
	}
	got := cfgs[0]
	if got.SampleRate != 8000 || got.FrameSizeMs != 30 || got.SpeechThreshold != 450 {
		t.Errorf("classifier config = %+v", got)
	}
}

func TestRegistry_StreamStartClassifierFailure(t *testing.T) {
	t.Parallel()
	engine := &vadmock.Engine{NewSessionErr: errors.New("no classifier")}
	reg := newMockVADRegistry(t, engine, call.Config{})

	err := reg.OnStreamStart("CA1", "MZ1", &recordingSink{}, nil)
	if err == nil {
		t.Fatal("expected error when the classifier cannot start")
	}
	if _, ok := reg.Get("CA1"); ok {
		t.Error("session kept after failed stream start")
	}
}

func TestRegistry_DestroyClosesClassifier(t *testing.T) {
	t.Parallel()
	engine := &vadmock.Engine{Script: "..SS.."}
	reg := newMockVADRegistry(t, engine, call.Config{})

	if err := reg.OnStreamStart("CA1", "MZ1", &recordingSink{}, nil); err != nil {
		t.Fatalf("OnStreamStart: %v", err)
	}
	reg.Destroy("CA1")

	sessions := engine.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	if _, _, closed := sessions[0].Stats(); !closed {
		t.Error("classifier session left open after teardown")
	}
}
