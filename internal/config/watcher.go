package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] polls its file.
const DefaultWatchInterval = 5 * time.Second

// fileState identifies one version of the config file.
type fileState struct {
	mtime time.Time
	hash  [sha256.Size]byte
}

// Watcher polls a config file and hands every new valid version to a
// callback. A version is new when the mtime moved and the content hash
// differs, so a plain touch is ignored. Invalid versions are logged once
// and the running config stays in place.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	kick     chan struct{}

	mu       sync.Mutex
	current  *Config
	seen     fileState
	rejected fileState
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher returns a watcher for path that treats running as the config
// currently in effect. The file's present content becomes the baseline.
// Polling starts with [Watcher.Run].
func NewWatcher(path string, running *Config, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		kick:     make(chan struct{}, 1),
		current:  running,
	}
	for _, opt := range opts {
		opt(w)
	}
	st, data, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	if w.current == nil {
		cfg, err := LoadFromReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("config: watch %s: %w", path, err)
		}
		w.current = cfg
	}
	w.seen = st
	return w, nil
}

// Current returns the config most recently accepted.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Trigger asks a running watcher to check the file now, as on SIGHUP.
func (w *Watcher) Trigger() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check()
		case <-w.kick:
			w.Check()
		}
	}
}

// Check compares the file with the last accepted version and reports
// whether a new config was applied.
func (w *Watcher) Check() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: stat failed", "path", w.path, "err", err)
		return false
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.seen.mtime) || info.ModTime().Equal(w.rejected.mtime)
	w.mu.Unlock()
	if unchanged {
		return false
	}

	st, data, err := w.read()
	if err != nil {
		slog.Warn("config watcher: read failed", "path", w.path, "err", err)
		return false
	}

	w.mu.Lock()
	switch st.hash {
	case w.seen.hash:
		w.seen.mtime = st.mtime
		w.mu.Unlock()
		return false
	case w.rejected.hash:
		w.rejected.mtime = st.mtime
		w.mu.Unlock()
		return false
	}
	w.mu.Unlock()

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		w.mu.Lock()
		w.rejected = st
		w.mu.Unlock()
		slog.Warn("config watcher: keeping running config", "path", w.path, "err", err)
		return false
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.seen = st
	w.rejected = fileState{}
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return true
}

func (w *Watcher) read() (fileState, []byte, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return fileState{}, nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fileState{}, nil, err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		return fileState{}, nil, err
	}
	return fileState{mtime: info.ModTime(), hash: sha256.Sum256(buf.Bytes())}, buf.Bytes(), nil
}
