package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
)

// ErrAllFailed is returned when no backend of a [Group] produced a result.
var ErrAllFailed = errors.New("resilience: all backends failed")

type backend[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Group holds backends of one kind in preference order. Backends are added
// during setup; the group is read-only once shared.
type Group[T any] struct {
	kind     string
	cfg      BreakerConfig
	backends []backend[T]
}

// NewGroup returns an empty group. kind prefixes breaker names
// ("stt:deepgram") and cfg is the template for every backend's breaker.
func NewGroup[T any](kind string, cfg BreakerConfig) *Group[T] {
	return &Group[T]{kind: kind, cfg: cfg}
}

// Add appends a backend and returns the name it was registered under. A
// name already taken gets a numeric suffix.
func (g *Group[T]) Add(name string, v T) string {
	unique := name
	for n := 2; g.index(unique) >= 0; n++ {
		unique = name + "#" + strconv.Itoa(n)
	}
	cfg := g.cfg
	cfg.Name = g.kind + ":" + unique
	g.backends = append(g.backends, backend[T]{name: unique, value: v, breaker: NewBreaker(cfg)})
	return unique
}

func (g *Group[T]) index(name string) int {
	for i := range g.backends {
		if g.backends[i].name == name {
			return i
		}
	}
	return -1
}

// Len returns the number of backends.
func (g *Group[T]) Len() int { return len(g.backends) }

// Primary returns the preferred backend. It panics on an empty group.
func (g *Group[T]) Primary() T { return g.backends[0].value }

// States returns each backend's breaker state by name.
func (g *Group[T]) States() map[string]State {
	out := make(map[string]State, len(g.backends))
	for _, b := range g.backends {
		out[b.name] = b.breaker.State()
	}
	return out
}

// Call runs fn against the backends in order and returns the first
// success. Backends with an open breaker are skipped. When ctx ends the walk
// stops with ctx's error, since a later backend could not answer in time
// either. Otherwise the error wraps [ErrAllFailed] and every backend's
// failure.
func Call[T, R any](ctx context.Context, g *Group[T], fn func(name string, v T) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	for i, b := range g.backends {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		var out R
		err := b.breaker.Do(func() error {
			var err error
			out, err = fn(b.name, b.value)
			return err
		})
		if err == nil {
			if i > 0 {
				slog.Debug("request served by fallback", "kind", g.kind, "provider", b.name)
			}
			return out, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !errors.Is(err, ErrOpen) {
			slog.Warn("provider failed", "kind", g.kind, "provider", b.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", b.name, err))
	}
	if len(errs) == 0 {
		return zero, fmt.Errorf("%w: no %s backend configured", ErrAllFailed, g.kind)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
