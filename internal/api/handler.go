// Package api provides HTTP handlers for the mirror API.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/socratic-mirror/internal/app"
	"github.com/ashureev/socratic-mirror/internal/domain"
	"github.com/ashureev/socratic-mirror/internal/turn"
	"github.com/go-chi/chi/v5"
)

// DefaultMaxImportBytes caps the size of an uploaded import document.
const DefaultMaxImportBytes = 8 << 20

// Turns starts turns and reports which are running.
type Turns interface {
	Submit(ctx context.Context, text, targetID string) (*turn.Handle, error)
	Disagree(ctx context.Context, category domain.Category, value string) (*turn.Handle, error)
	Busy() bool
	InFlight() []string
}

// Handler serves the JSON API over the application state.
type Handler struct {
	state          *app.State
	turns          Turns
	logger         *slog.Logger
	maxImportBytes int64
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMaxImportBytes caps the import body size.
func WithMaxImportBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxImportBytes = n
		}
	}
}

// NewHandler creates a Handler.
func NewHandler(state *app.State, turns Turns, opts ...Option) *Handler {
	h := &Handler{
		state:          state,
		turns:          turns,
		logger:         slog.Default(),
		maxImportBytes: DefaultMaxImportBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers the API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.Status)
		r.Get("/state", h.GetState)

		r.Get("/sessions", h.ListSessions)
		r.Post("/sessions", h.CreateSession)
		r.Get("/sessions/{id}", h.GetSession)
		r.Delete("/sessions/{id}", h.DeleteSession)
		r.Post("/sessions/{id}/select", h.SelectSession)
		r.Post("/sessions/{id}/messages", h.PostSessionMessage)
		r.Post("/messages", h.PostMessage)

		r.Get("/profile", h.GetProfile)
		r.Put("/profile/self-description", h.PutSelfDescription)
		r.Post("/profile/disagree", h.Disagree)

		r.Get("/controls", h.GetControls)
		r.Patch("/controls", h.PatchControls)

		r.Post("/reset", h.Reset)
		r.Post("/demo", h.LoadDemo)
		r.Get("/export", h.Export)
		r.Post("/import", h.Import)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEJSON(w io.Writer, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeSSE(w, event, string(data))
}
