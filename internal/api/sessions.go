package api

import (
	"net/http"

	"github.com/ashureev/socratic-mirror/internal/domain"
	"github.com/go-chi/chi/v5"
)

type sessionSummary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	CreatedAt    int64  `json:"createdAt"`
	UpdatedAt    int64  `json:"updatedAt"`
	MessageCount int    `json:"messageCount"`
}

func summarize(s domain.ChatSession) sessionSummary {
	return sessionSummary{
		ID:           s.ID,
		Title:        s.Title,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		MessageCount: len(s.Messages),
	}
}

// Status reports whether a turn is running and for which sessions.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"busy":      h.turns.Busy(),
		"in_flight": h.turns.InFlight(),
		"active_id": h.state.ActiveID(),
	})
}

// GetState returns the whole application state.
func (h *Handler) GetState(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.state.Snapshot())
}

// ListSessions returns the sidebar listing, most recently updated first.
func (h *Handler) ListSessions(w http.ResponseWriter, _ *http.Request) {
	list := h.state.Sessions()
	out := make([]sessionSummary, 0, len(list))
	for _, s := range list {
		out = append(out, summarize(s))
	}
	JSON(w, http.StatusOK, map[string]any{
		"active_id": h.state.ActiveID(),
		"sessions":  out,
	})
}

// CreateSession opens a new empty session and makes it active.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	id := h.state.CreateSession(r.Context())
	s, _ := h.state.Session(id)
	h.logger.Info("Session created", "session_id", id)
	JSON(w, http.StatusCreated, s)
}

// GetSession returns one session with its messages.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.state.Session(chi.URLParam(r, "id"))
	if !ok {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, http.StatusOK, s)
}

// DeleteSession removes a session.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.state.DeleteSession(r.Context(), id) {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	h.logger.Info("Session deleted", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// SelectSession makes a session active.
func (h *Handler) SelectSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.state.Session(id); !ok {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	h.state.SelectSession(r.Context(), id)
	JSON(w, http.StatusOK, map[string]string{"active_id": id})
}
