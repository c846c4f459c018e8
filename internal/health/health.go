// Package health serves the liveness and readiness probes of a telvoxa
// instance.
//
// GET /healthz answers 200 while the process can serve HTTP. GET /readyz
// answers 200 only while the instance should receive new calls: every
// [Checker] passes and shutdown has not begun. A carrier-facing load balancer
// routes Twilio stream connections by the readiness probe, so a full call
// registry also reports not ready.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds every check of one /readyz request.
const DefaultTimeout = 3 * time.Second

// Checker probes one dependency. Check returns nil while it is usable.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Pinger is implemented by the transcript stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker reports p as a check called name.
func PingChecker(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// Occupancy is implemented by the call registry.
type Occupancy interface {
	Len() int
	Capacity() int
}

// CapacityChecker fails while every call slot of o is taken.
func CapacityChecker(name string, o Occupancy) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		n, limit := o.Len(), o.Capacity()
		if n >= limit {
			return fmt.Errorf("%d of %d calls active", n, limit)
		}
		return nil
	}}
}

// Report is the body of both probe responses.
type Report struct {
	Status   string                 `json:"status"`
	Draining bool                   `json:"draining,omitempty"`
	Checks   map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of a single [Checker].
type CheckResult struct {
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// Handler serves the probes. The checker set is fixed by [New].
type Handler struct {
	checkers []Checker
	timeout  time.Duration
	draining atomic.Bool
}

// New returns a Handler running checkers concurrently on each readiness probe.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...), timeout: DefaultTimeout}
}

// SetDraining marks the instance as shutting down. It cannot be undone.
func (h *Handler) SetDraining() { h.draining.Store(true) }

// Register mounts the probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, Report{Status: "ok"})
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Evaluate(r.Context())
	code := http.StatusOK
	if rep.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	respond(w, code, rep)
}

// Evaluate runs every checker and summarises the result.
func (h *Handler) Evaluate(ctx context.Context) Report {
	results := make([]CheckResult, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			results[i] = h.run(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Status: "ok", Draining: h.draining.Load()}
	if len(results) > 0 {
		rep.Checks = make(map[string]CheckResult, len(results))
	}
	for i, c := range h.checkers {
		rep.Checks[c.Name] = results[i]
		if !results[i].OK {
			rep.Status = "fail"
		}
	}
	if rep.Draining {
		rep.Status = "fail"
	}
	return rep
}

func (h *Handler) run(ctx context.Context, c Checker) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	start := time.Now()
	err := c.Check(ctx)
	res := CheckResult{OK: err == nil, ElapsedMS: time.Since(start).Milliseconds()}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

func respond(w http.ResponseWriter, code int, rep Report) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(rep)
}
