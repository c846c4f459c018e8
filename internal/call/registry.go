package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/telvoxa/internal/observe"
)

var (
	// ErrSessionNotFound is returned for events addressed to an unknown call.
	ErrSessionNotFound = errors.New("call: session not found")

	// ErrSessionExists is returned when a call id is already registered.
	ErrSessionExists = errors.New("call: session already exists")

	// ErrCapacity is returned when the registry is full.
	ErrCapacity = errors.New("call: too many concurrent calls")

	// ErrRegistryClosed is returned by Create after Shutdown.
	ErrRegistryClosed = errors.New("call: registry closed")
)

// Registry owns the sessions of all active calls, keyed by call id.
// All methods are safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	pipe     Pipeline
	sessions map[string]*Session
	closed   bool

	// ending holds sessions being destroyed; the channel closes once the
	// session-ended hook has returned.
	ending map[string]chan struct{}
}

// NewRegistry validates the pipeline and returns an empty registry. Zero
// config fields take their defaults.
func NewRegistry(p Pipeline) (*Registry, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	p.Config = p.Config.WithDefaults()
	if err := p.Config.Validate(); err != nil {
		return nil, err
	}
	if p.Metrics == nil {
		p.Metrics = observe.DefaultMetrics()
	}
	return &Registry{
		pipe:     p,
		sessions: make(map[string]*Session),
		ending:   make(map[string]chan struct{}),
	}, nil
}

// Create registers a new session for callID. The session listens for audio
// only after [Registry.AttachStream].
func (r *Registry) Create(callID string) (*Session, error) {
	if callID == "" {
		return nil, errors.New("call: empty call id")
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	if _, ok := r.sessions[callID]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, callID)
	}
	if len(r.sessions) >= r.pipe.Config.MaxSessions {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w (max %d)", ErrCapacity, r.pipe.Config.MaxSessions)
	}
	s := newSession(callID, r.pipe)
	r.sessions[callID] = s
	active := len(r.sessions)
	r.mu.Unlock()

	r.pipe.Metrics.CallStarted(context.Background())
	slog.Info("call session created", "call_id", callID, "instance_id", s.InstanceID(), "active", active)
	return s, nil
}

// AttachStream binds the media stream to the call's session and starts
// listening. params are the custom parameters sent by the channel.
func (r *Registry) AttachStream(callID, streamID string, out Output, params map[string]string) error {
	s, ok := r.Get(callID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, callID)
	}
	return s.start(streamID, out, params)
}

// Get returns the session registered for callID.
func (r *Registry) Get(callID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callID]
	return s, ok
}

// Destroy removes the session for callID, cancels its in-flight work and
// fires OnSessionEnded on the calling goroutine. Destroying an unknown call
// is a no-op; destroying a call that is already being destroyed waits until
// that teardown has finished.
func (r *Registry) Destroy(callID string) {
	r.mu.Lock()
	s, ok := r.sessions[callID]
	if !ok {
		ending := r.ending[callID]
		r.mu.Unlock()
		if ending != nil {
			<-ending
		}
		return
	}
	delete(r.sessions, callID)
	ending := make(chan struct{})
	r.ending[callID] = ending
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.ending, callID)
		r.mu.Unlock()
		close(ending)
	}()

	tr := s.close()
	r.pipe.Metrics.CallEnded(context.Background())
	slog.Info("call session destroyed", "call_id", callID, "instance_id", s.InstanceID(),
		"turns", len(tr.Turns), "duration", tr.Duration())

	if fn := r.pipe.Hooks.OnSessionEnded; fn != nil {
		fn(callID, tr)
	}
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Capacity returns the maximum number of concurrent sessions.
func (r *Registry) Capacity() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pipe.Config.MaxSessions
}

// Config returns the configuration applied to new sessions.
func (r *Registry) Config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pipe.Config
}

// SetConfig replaces the configuration for sessions created afterwards.
// Running sessions keep the config they started with.
func (r *Registry) SetConfig(cfg Config) error {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.pipe.Config = cfg
	r.mu.Unlock()
	return nil
}

// Shutdown rejects new calls, destroys every session and waits for
// teardowns already in progress. It returns ctx.Err() if the sessions do not
// wind down in time.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	ids := make([]string, 0, len(r.sessions)+len(r.ending))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	for id := range r.ending {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Go(func() { r.Destroy(id) })
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("call: shutdown: %w", ctx.Err())
	}
}

// OnStreamStart creates the call's session if needed and attaches the
// stream.
func (r *Registry) OnStreamStart(callID, streamID string, out Output, params map[string]string) error {
	created := false
	if _, ok := r.Get(callID); !ok {
		_, err := r.Create(callID)
		if err != nil && !errors.Is(err, ErrSessionExists) {
			return err
		}
		created = err == nil
	}
	if err := r.AttachStream(callID, streamID, out, params); err != nil {
		if created {
			r.Destroy(callID)
		}
		return err
	}
	return nil
}

// OnChunk forwards one inbound μ-law payload to the call's session.
func (r *Registry) OnChunk(callID string, ulaw []byte) error {
	s, ok := r.Get(callID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, callID)
	}
	return s.Chunk(ulaw)
}

// OnMark forwards a playback mark echoed by the channel.
func (r *Registry) OnMark(callID, name string) error {
	s, ok := r.Get(callID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, callID)
	}
	return s.Mark(name)
}

// OnStreamStop ends the call.
func (r *Registry) OnStreamStop(callID string) {
	r.Destroy(callID)
}
