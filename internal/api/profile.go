package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/ashureev/socratic-mirror/internal/app"
	"github.com/ashureev/socratic-mirror/internal/domain"
	"github.com/ashureev/socratic-mirror/internal/persist"
	"github.com/ashureev/socratic-mirror/internal/turn"
)

// GetProfile returns the user profile.
func (h *Handler) GetProfile(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.state.Profile())
}

// PutSelfDescription replaces the user-authored self description.
func (h *Handler) PutSelfDescription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SelfDescription string `json:"selfDescription"`
	}
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.state.UpdateSelfDescription(r.Context(), req.SelfDescription)
	JSON(w, http.StatusOK, h.state.Profile())
}

// Disagree challenges an inferred attribute in a new session.
func (h *Handler) Disagree(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category string `json:"category"`
		Value    string `json:"value"`
	}
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	category, ok := domain.ParseCategory(req.Category)
	if !ok {
		Error(w, http.StatusBadRequest, "unknown category")
		return
	}

	handle, err := h.turns.Disagree(r.Context(), category, req.Value)
	switch {
	case errors.Is(err, turn.ErrEmptyMessage):
		Error(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, turn.ErrTurnInFlight):
		Error(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.logger.Info("Attribute disagreement started", "session_id", handle.SessionID, "category", category)
	JSON(w, http.StatusAccepted, turnStarted{
		SessionID:      handle.SessionID,
		UserMessageID:  handle.UserMessageID,
		ModelMessageID: handle.ModelMessageID,
	})
}

// GetControls returns the dialogue controls.
func (h *Handler) GetControls(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.state.Controls())
}

// PatchControls applies a partial controls update.
func (h *Handler) PatchControls(w http.ResponseWriter, r *http.Request) {
	var patch app.ControlPatch
	if err := decodeJSON(r, &patch); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	controls, err := h.state.PatchControls(r.Context(), patch)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	JSON(w, http.StatusOK, controls)
}

// Reset discards everything and starts with one empty session.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	id, err := h.state.Reset(r.Context())
	if err != nil {
		h.logger.Error("Failed to persist reset state", "error", err)
		Error(w, http.StatusInternalServerError, "failed to persist state")
		return
	}
	h.logger.Info("State reset", "session_id", id)
	JSON(w, http.StatusOK, map[string]string{"active_id": id})
}

// LoadDemo replaces everything with the demo dataset.
func (h *Handler) LoadDemo(w http.ResponseWriter, r *http.Request) {
	if err := h.state.LoadDemo(r.Context()); err != nil {
		h.logger.Error("Failed to persist demo state", "error", err)
		Error(w, http.StatusInternalServerError, "failed to persist state")
		return
	}
	JSON(w, http.StatusOK, h.state.Snapshot())
}

// Export downloads the whole state as a backup document.
func (h *Handler) Export(w http.ResponseWriter, _ *http.Request) {
	data, err := h.state.Export()
	if err != nil {
		h.logger.Error("Failed to export state", "error", err)
		Error(w, http.StatusInternalServerError, "failed to export state")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+persist.ExportFileName+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Debug("Failed to write export", "error", err)
	}
}

// Import replaces the whole state with an uploaded backup document.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxImportBytes)
	blob, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "import document too large")
			return
		}
		Error(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if err := h.state.Import(r.Context(), blob); err != nil {
		var invalid *persist.ValidationError
		if errors.As(err, &invalid) {
			Error(w, http.StatusBadRequest, invalid.Error())
			return
		}
		h.logger.Error("Failed to persist imported state", "error", err)
		Error(w, http.StatusInternalServerError, "failed to persist state")
		return
	}
	h.logger.Info("State imported", "bytes", len(blob), "sessions", len(h.state.Sessions()))
	JSON(w, http.StatusOK, map[string]string{"active_id": h.state.ActiveID()})
}
