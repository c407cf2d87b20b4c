package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/socratic-mirror/internal/store"
	"github.com/go-chi/chi/v5"
)

const healthCheckTimeout = 5 * time.Second

// Pinger reports whether a remote dependency is reachable.
type Pinger interface {
	Health(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo  store.Repository
	agent Pinger
}

// NewHealthHandler creates a health handler. agent may be nil when the
// dialogue backend has no health endpoint.
func NewHealthHandler(repo store.Repository, agent Pinger) *HealthHandler {
	return &HealthHandler{repo: repo, agent: agent}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "dependency", "database", "error", err)
		checks["database"] = "unreachable"
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.agent != nil {
		if err := h.agent.Health(ctx); err != nil {
			slog.Warn("Health check failed", "dependency", "agent", "error", err)
			checks["agent"] = "unreachable"
			status = "degraded"
		} else {
			checks["agent"] = "ok"
		}
	}

	JSON(w, statusCode, map[string]any{"status": status, "checks": checks})
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}
