// Package health serves liveness and readiness probes. Readiness reflects
// whether this replica is the bid authority with its state recovered.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/jensholdgaard/live-auction/internal/clock"
)

// Role is the part a replica currently plays.
type Role string

const (
	RoleStandby   Role = "standby"
	RoleAuthority Role = "authority"
)

// Status represents a health check result.
type Status struct {
	Status    string            `json:"status"`
	Role      Role              `json:"role"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// Checker defines a named health check function.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler provides HTTP health check endpoints.
type Handler struct {
	mu       sync.RWMutex
	role     Role
	checkers []Checker
	clock    clock.Clock
	timeout  time.Duration
}

// NewHandler creates a standby health handler with the given checkers.
func NewHandler(clk clock.Clock, checkers ...Checker) *Handler {
	return &Handler{role: RoleStandby, checkers: checkers, clock: clk, timeout: 5 * time.Second}
}

// SetRole records whether this replica serves bids.
func (h *Handler) SetRole(role Role) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.role = role
}

// Register mounts /healthz and /readyz on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.LivenessHandler())
	mux.HandleFunc("GET /readyz", h.ReadinessHandler())
}

func (h *Handler) currentRole() Role {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.role
}

func (h *Handler) now() string {
	return h.clock.Now().UTC().Format(time.RFC3339)
}

// LivenessHandler returns HTTP 200 if the process is alive, whatever its role.
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Status{
			Status:    "ok",
			Role:      h.currentRole(),
			Timestamp: h.now(),
		})
	}
}

// ReadinessHandler returns HTTP 200 only on the authority and only while
// every checker passes. Standby replicas answer 503 so traffic reaches the
// authority alone.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := h.currentRole()
		if role != RoleAuthority {
			writeJSON(w, http.StatusServiceUnavailable, Status{
				Status:    "standby",
				Role:      role,
				Timestamp: h.now(),
			})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()
		checks, ok := h.runChecks(ctx)

		status, code := "ready", http.StatusOK
		if !ok {
			status, code = "not_ready", http.StatusServiceUnavailable
		}
		writeJSON(w, code, Status{
			Status:    status,
			Role:      role,
			Checks:    checks,
			Timestamp: h.now(),
		})
	}
}

// runChecks runs every checker concurrently.
func (h *Handler) runChecks(ctx context.Context) (map[string]string, bool) {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]string, len(h.checkers))
		ok     = true
	)
	for _, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := "ok"
			if err := c.Check(ctx); err != nil {
				result = err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			checks[c.Name] = result
			if result != "ok" {
				ok = false
			}
		}()
	}
	wg.Wait()
	return checks, ok
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
