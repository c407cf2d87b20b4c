package api

import (
	"errors"
	"net/http"

	"github.com/ashureev/socratic-mirror/internal/app"
	"github.com/ashureev/socratic-mirror/internal/domain"
	"github.com/ashureev/socratic-mirror/internal/turn"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

type messageRequest struct {
	Text string `json:"text"`
}

type turnStarted struct {
	SessionID      string `json:"session_id"`
	UserMessageID  string `json:"user_message_id"`
	ModelMessageID string `json:"model_message_id"`
}

type turnDone struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
	Error     string `json:"error,omitempty"`
}

// PostSessionMessage submits a turn to the session in the path. An unknown
// session id starts a new session.
func (h *Handler) PostSessionMessage(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, chi.URLParam(r, "id"))
}

// PostMessage submits a turn to the active session, or a new one.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, "")
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, targetID string) {
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe first so no update between submit and streaming is missed.
	events, unsubscribe := h.state.Subscribe()
	defer unsubscribe()

	handle, err := h.turns.Submit(r.Context(), req.Text, targetID)
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

	h.logger.Info("Turn submitted",
		"session_id", handle.SessionID,
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"message_length", len(req.Text))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	s := &turnStream{h: h, w: w, flusher: flusher, handle: handle}
	if err := writeSSEJSON(w, "turn", turnStarted{
		SessionID:      handle.SessionID,
		UserMessageID:  handle.UserMessageID,
		ModelMessageID: handle.ModelMessageID,
	}); err != nil {
		h.logger.Warn("failed to write SSE turn event", "error", err)
		return
	}
	flusher.Flush()

	if !s.sendReply() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			// The turn keeps running; only this stream ends.
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind == app.EventMessages && ev.SessionID == handle.SessionID {
				if !s.sendReply() {
					return
				}
			}
		case <-handle.DialogueDone():
			if !s.sendReply() {
				return
			}
			done := turnDone{SessionID: handle.SessionID, Reply: handle.Reply()}
			if err := handle.DialogueErr(); err != nil {
				done.Error = err.Error()
			}
			if err := writeSSEJSON(w, "done", done); err != nil {
				h.logger.Warn("failed to write SSE done event", "error", err)
				return
			}
			flusher.Flush()
			return
		}
	}
}

// turnStream forwards the model message of one turn as SSE.
type turnStream struct {
	h       *Handler
	w       http.ResponseWriter
	flusher http.Flusher
	handle  *turn.Handle
	sent    bool
	last    string
}

// sendReply writes the current model message if it changed. It reports
// false when the client can no longer be written to.
func (s *turnStream) sendReply() bool {
	session, ok := s.h.state.Session(s.handle.SessionID)
	if !ok {
		return true
	}
	msg, ok := findMessage(session.Messages, s.handle.ModelMessageID)
	if !ok || (s.sent && msg.Text == s.last) {
		return true
	}
	if err := writeSSEJSON(s.w, "message", msg); err != nil {
		s.h.logger.Warn("failed to write SSE message event", "error", err)
		return false
	}
	s.flusher.Flush()
	s.sent = true
	s.last = msg.Text
	return true
}

func findMessage(msgs []domain.Message, id string) (domain.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].ID == id {
			return msgs[i], true
		}
	}
	return domain.Message{}, false
}
