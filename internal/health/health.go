// Package health serves the liveness and readiness probes.
//
// /healthz answers 200 while the process can serve HTTP. /readyz answers 200
// only when every [Checker] passes; voxrelay registers one for model warm-up
// and one for the model circuit breaker. Both reply with a JSON object:
//
//	{"status":"fail","checks":{"model":"fail: model warming up","breaker":"ok"}}
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is ready and an error describing why not otherwise.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// report is the JSON body of both probes.
type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probes. The checker list is fixed at construction.
type Handler struct {
	checkers []Checker
}

// New returns a Handler evaluating checkers on each readiness request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Ready runs every checker concurrently, each under its own timeout, and
// reports whether all passed along with the per-check result.
func (h *Handler) Ready(ctx context.Context) (bool, map[string]string) {
	var (
		mu      sync.Mutex
		results = make(map[string]string, len(h.checkers))
		ok      = true
		g       errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			err := c.Check(cctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[c.Name] = "fail: " + err.Error()
				ok = false
			} else {
				results[c.Name] = "ok"
			}
			return nil
		})
	}
	_ = g.Wait()
	return ok, results
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ok, checks := h.Ready(r.Context())
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, report{Status: "fail", Checks: checks})
		return
	}
	writeJSON(w, http.StatusOK, report{Status: "ok", Checks: checks})
}

// Latch is a one-way readiness flag. The zero value is closed; [Latch.Open]
// marks the dependency ready for the rest of the process lifetime.
type Latch struct {
	open atomic.Bool
}

// Open marks the latch ready. Calling it more than once is harmless.
func (l *Latch) Open() { l.open.Store(true) }

// IsOpen reports whether [Latch.Open] has been called.
func (l *Latch) IsOpen() bool { return l.open.Load() }

// Checker returns a [Checker] that fails with pending until the latch opens.
func (l *Latch) Checker(name, pending string) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if !l.IsOpen() {
			return errors.New(pending)
		}
		return nil
	}}
}

// Register mounts /healthz and /readyz on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
