// Package app wires the telvoxa subsystems into a running server.
//
// The App struct owns the full lifecycle: New connects the transcript stores
// and builds the call registry, Run serves HTTP until the context ends, and
// Shutdown drains calls and tears everything down in order.
//
// For testing, inject test doubles via functional options
// (WithTranscriptStore, WithMetrics, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/telvoxa/internal/call"
	"github.com/MrWong99/telvoxa/internal/config"
	"github.com/MrWong99/telvoxa/internal/health"
	"github.com/MrWong99/telvoxa/internal/mediastream"
	"github.com/MrWong99/telvoxa/internal/observe"
	"github.com/MrWong99/telvoxa/internal/session"
	"github.com/MrWong99/telvoxa/pkg/memory"
	"github.com/MrWong99/telvoxa/pkg/memory/postgres"
	redisstore "github.com/MrWong99/telvoxa/pkg/memory/redis"
	"github.com/MrWong99/telvoxa/pkg/provider/llm"
	"github.com/MrWong99/telvoxa/pkg/provider/stt"
	"github.com/MrWong99/telvoxa/pkg/provider/tts"
	"github.com/MrWong99/telvoxa/pkg/provider/vad"
	"github.com/MrWong99/telvoxa/pkg/provider/vad/energy"
)

const readHeaderTimeout = 10 * time.Second

// Providers holds one interface value per provider slot. Populated by
// main.go via the config registry. LLM, STT and TTS are required; a nil
// VAD selects the energy classifier.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider
	VAD vad.Engine
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	level     *slog.LevelVar
	metrics   *observe.Metrics

	store    memory.TranscriptStore
	recorder *session.Recorder
	persona  *persona
	registry *call.Registry
	health   *health.Handler
	handler  http.Handler
	server   *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce    sync.Once
	shutdownErr error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithTranscriptStore injects a transcript store instead of connecting the
// stores named in the config.
func WithTranscriptStore(s memory.TranscriptStore) Option {
	return func(a *App) { a.store = s }
}

// WithLevelVar sets the logger level that config reloads adjust.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithMetrics injects the metrics instance. Defaults to
// observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil || providers.STT == nil || providers.TTS == nil {
		return nil, errors.New("app: llm, stt and tts providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(cfg.Server.LogLevel.Level())
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.providers.VAD == nil {
		a.providers.VAD = energy.New()
	}

	if err := a.initStores(ctx); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init stores: %w", err)
	}

	persona, err := newPersona(providers.LLM, cfg)
	if err != nil {
		a.runClosers()
		return nil, err
	}
	a.persona = persona
	a.recorder = session.NewRecorder(a.store, session.WithSummariser(persona))

	a.registry, err = call.NewRegistry(call.Pipeline{
		STT:       providers.STT,
		Generator: persona,
		TTS:       providers.TTS,
		VAD:       a.providers.VAD,
		Corrector: persona,
		Hooks:     a.recorder.Hooks(),
		Metrics:   a.metrics,
		Config:    cfg.CallConfig(),
	})
	if err != nil {
		_ = a.recorder.Close(ctx)
		a.runClosers()
		return nil, fmt.Errorf("app: create registry: %w", err)
	}

	a.initHTTP()
	return a, nil
}

// initStores connects every configured transcript store.
func (a *App) initStores(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	var stores memory.Multi
	if dsn := a.cfg.Store.PostgresDSN; dsn != "" {
		pg, err := postgres.Connect(ctx, dsn)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error {
			pg.Close()
			return nil
		})
		stores = append(stores, pg)
		slog.Info("transcript store connected", "store", "postgres")
	}
	if addr := a.cfg.Store.RedisAddr; addr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     addr,
			Password: a.cfg.Store.RedisPassword,
			DB:       a.cfg.Store.RedisDB,
		})
		a.closers = append(a.closers, client.Close)
		rs := redisstore.New(client, redisstore.WithTTL(a.cfg.Store.TranscriptTTL))
		if err := rs.Ping(ctx); err != nil {
			return err
		}
		stores = append(stores, rs)
		slog.Info("transcript store connected", "store", "redis", "addr", addr)
	}
	if len(stores) == 0 {
		slog.Warn("no transcript store configured, transcripts are only logged")
	}
	a.store = stores
	return nil
}

// initHTTP builds the HTTP surface: health probes, metrics and the media
// stream endpoint.
func (a *App) initHTTP() {
	checkers := []health.Checker{health.CapacityChecker("calls", a.registry)}
	if p, ok := a.store.(memory.Pinger); ok {
		checkers = append(checkers, health.PingChecker("transcripts", p))
	}
	a.health = health.New(checkers...)

	mux := http.NewServeMux()
	a.health.Register(mux)
	if a.cfg.Telemetry.MetricsEnabled() {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	mux.Handle("/media", mediastream.NewHandler(a.registry,
		mediastream.WithMetrics(a.metrics),
		mediastream.WithOriginPatterns(a.cfg.Server.AllowedOrigins...),
	))

	a.handler = observe.Middleware(a.metrics)(mux)
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Registry returns the call registry.
func (a *App) Registry() *call.Registry { return a.registry }

// Run serves HTTP and blocks until ctx is cancelled or the server fails.
// Cancelling ctx triggers [App.Shutdown] bounded by the configured shutdown
// timeout; Run then returns nil.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening",
			"addr", a.server.Addr,
			"tls", a.cfg.Server.TLS != nil,
			"public_url", a.cfg.Server.PublicURL,
		)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.Shutdown(sctx)
	})

	return g.Wait()
}

// ApplyConfig applies the hot-reloadable parts of a changed config: the log
// level, pipeline settings and agent persona. Calls already in progress
// keep their settings. It is the callback for [config.NewWatcher].
func (a *App) ApplyConfig(old, new *config.Config) {
	if err := config.Validate(new); err != nil {
		slog.Error("config reload: ignoring invalid config", "err", err)
		return
	}
	d := config.Diff(old, new)
	if d.LogLevelChanged {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.AgentChanged {
		if err := a.persona.update(new); err != nil {
			slog.Error("config reload: keeping previous agent persona", "err", err)
			return
		}
		slog.Info("agent persona reloaded", "name", new.Agent.Name)
	}
	if d.PipelineChanged || d.AgentChanged {
		if err := a.registry.SetConfig(new.CallConfig()); err != nil {
			slog.Error("config reload: keeping previous call settings", "err", err)
		} else {
			slog.Info("call settings reloaded, applied to new calls")
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// Shutdown marks the server as draining, stops accepting connections, ends
// every call, flushes pending transcript writes and closes the stores. It
// respects the context deadline: if ctx expires, the remaining steps still
// run but the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "active_calls", a.registry.Len())
		a.health.SetDraining()

		var errs []error
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
		if err := a.registry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("call registry: %w", err))
		}
		if err := a.recorder.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("transcript recorder: %w", err))
		}
		if n := a.recorder.Dropped(); n > 0 {
			slog.Warn("transcript writes dropped", "count", n)
		}
		a.runClosers()

		a.shutdownErr = errors.Join(errs...)
		slog.Info("shutdown complete")
	})
	return a.shutdownErr
}

func (a *App) runClosers() {
	for i, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}
