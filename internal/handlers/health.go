package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/iglaboq/shop/internal/platform/httpx"
)

// ReadinessCheck reports whether one backing dependency is reachable.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthHandlers serves the liveness and readiness endpoints.
type HealthHandlers struct {
	startedAt time.Time
	clock     func() time.Time
	checks    []ReadinessCheck
}

// HealthOption customises the health handlers.
type HealthOption func(*HealthHandlers)

// WithHealthClock overrides the time source, primarily for testing.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithHealthStartedAt overrides the process start time reported in uptime.
func WithHealthStartedAt(startedAt time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if !startedAt.IsZero() {
			h.startedAt = startedAt
		}
	}
}

// WithReadinessCheck registers a dependency check evaluated by Readyz.
func WithReadinessCheck(name string, check func(ctx context.Context) error) HealthOption {
	return func(h *HealthHandlers) {
		if check == nil {
			return
		}
		h.checks = append(h.checks, ReadinessCheck{Name: name, Check: check})
	}
}

// NewHealthHandlers constructs health handlers with the provided options.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		startedAt: time.Now().UTC(),
		clock:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Healthz responds with a simple status payload for liveness monitoring.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	payload := map[string]any{
		"status":    "ok",
		"uptime":    now.Sub(h.startedAt).String(),
		"timestamp": now.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Readyz verifies backing dependencies and fails with 503 when one is down.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	results := make(map[string]string, len(h.checks))
	ready := true
	for _, check := range h.checks {
		if err := check.Check(ctx); err != nil {
			results[check.Name] = err.Error()
			ready = false
			continue
		}
		results[check.Name] = "ok"
	}

	if !ready {
		httpx.WriteError(ctx, w, httpx.NewError("not_ready", "one or more dependencies are unavailable", http.StatusServiceUnavailable).WithDetails(map[string]any{
			"checks": results,
		}))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"status": "ok", "checks": results}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
