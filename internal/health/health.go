// Package health serves the liveness and readiness probes of the voice
// service.
//
//   - GET /healthz always answers 200 while the process can serve HTTP.
//   - GET /readyz runs every [Checker]. A failing required check answers
//     503 with status "fail"; failing optional checks answer 200 with status
//     "degraded", since the pipeline keeps answering from its local tiers.
//
// Responses are JSON objects with a top-level "status" field and a "checks"
// map holding the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/figuro/voice/internal/resilience"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Response statuses.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// Checker is a named health check.
type Checker struct {
	// Name labels the check in the JSON response (e.g. "context_store").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error

	// Optional marks a dependency the service can run without.
	Optional bool
}

// Pinger is implemented by the database-backed context stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping returns a required Checker that pings p.
func Ping(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// Breakers returns an optional Checker that fails when every breaker
// reported by states is open. A half-open breaker counts as available.
func Breakers(name string, states func() map[string]resilience.State) Checker {
	return Checker{
		Name:     name,
		Optional: true,
		Check: func(context.Context) error {
			s := states()
			if len(s) == 0 {
				return nil
			}
			for _, st := range s {
				if st != resilience.StateOpen {
					return nil
				}
			}
			return fmt.Errorf("all %d backends have open circuit breakers", len(s))
		},
	}
}

// ErrUnhealthy is returned by a [Remote] check when the service answered
// with a status other than "ok" or "healthy".
var ErrUnhealthy = errors.New("health: remote reports unhealthy")

// Remote returns an optional Checker calling a service health endpoint
// through probe, which returns the reported status string.
func Remote(name string, probe func(ctx context.Context) (string, error)) Checker {
	return Checker{
		Name:     name,
		Optional: true,
		Check: func(ctx context.Context) error {
			status, err := probe(ctx)
			if err != nil {
				return err
			}
			switch status {
			case "ok", "healthy":
				return nil
			}
			return fmt.Errorf("%w: %s", ErrUnhealthy, status)
		},
	}
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that evaluates the given checkers on each /readyz
// request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: StatusOK})
}

// Readyz runs every checker concurrently, each with a [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	errs := make([]error, len(h.checkers))
	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Go(func() {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			errs[i] = c.Check(ctx)
		})
	}
	wg.Wait()

	res := result{Status: StatusOK, Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK
	for i, c := range h.checkers {
		if errs[i] == nil {
			res.Checks[c.Name] = StatusOK
			continue
		}
		res.Checks[c.Name] = "fail: " + errs[i].Error()
		switch {
		case !c.Optional:
			res.Status = StatusFail
			status = http.StatusServiceUnavailable
		case res.Status == StatusOK:
			res.Status = StatusDegraded
		}
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
