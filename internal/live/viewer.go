package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/socratic-mirror/internal/app"
	"github.com/ashureev/socratic-mirror/internal/domain"
	"github.com/ashureev/socratic-mirror/internal/identity"
	"github.com/ashureev/socratic-mirror/internal/middleware"
	"github.com/ashureev/socratic-mirror/internal/reveal"
	"github.com/ashureev/socratic-mirror/internal/turn"
	"github.com/coder/websocket"
)

const writeTimeout = 5 * time.Second

// Turns starts turns and reports which are running.
type Turns interface {
	Submit(ctx context.Context, text, targetID string) (*turn.Handle, error)
	Busy() bool
	InFlight() []string
}

// Handler serves the viewer WebSocket.
type Handler struct {
	state          *app.State
	turns          Turns
	registry       *Registry
	allowedOrigins []string
	bulkDelay      time.Duration
	logger         *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithAllowedOrigins restricts which browser origins may connect.
// An empty list allows all.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Handler) { h.allowedOrigins = origins }
}

// WithBulkDelay sets the reveal catch-up delay.
func WithBulkDelay(d time.Duration) Option {
	return func(h *Handler) { h.bulkDelay = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHandler creates a viewer handler.
func NewHandler(state *app.State, turns Turns, registry *Registry, opts ...Option) *Handler {
	h := &Handler{
		state:     state,
		turns:     turns,
		registry:  registry,
		bulkDelay: reveal.DefaultBulkDelay,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type clientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`
}

type messagesFrame struct {
	Type      string           `json:"type"`
	SessionID string           `json:"session_id"`
	Title     string           `json:"title"`
	Visible   int              `json:"visible"`
	Total     int              `json:"total"`
	Scroll    reveal.Scroll    `json:"scroll"`
	Messages  []domain.Message `json:"messages"`
}

type sessionSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	UpdatedAt int64  `json:"updatedAt"`
}

type sessionsFrame struct {
	Type     string           `json:"type"`
	ActiveID string           `json:"active_id"`
	Sessions []sessionSummary `json:"sessions"`
}

type profileFrame struct {
	Type    string             `json:"type"`
	Profile domain.UserProfile `json:"profile"`
}

type controlsFrame struct {
	Type     string              `json:"type"`
	Controls domain.ControlState `json:"controls"`
}

type statusFrame struct {
	Type     string   `json:"type"`
	Busy     bool     `json:"busy"`
	InFlight []string `json:"in_flight"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	viewerID := identity.ViewerIDFromContext(r.Context())
	tabID := identity.TabIDFromContext(r.Context())
	h.logger.Info("Viewer connection request", "viewer_id", viewerID, "tab_id", tabID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "viewer_id", viewerID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "viewer closed"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "viewer_id", viewerID)
		}
	}()

	h.registry.Register(viewerID, tabID, ws)
	defer h.registry.Unregister(viewerID, tabID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := h.state.Subscribe()
	defer unsubscribe()

	c := &conn{h: h, ws: ws, ctx: ctx, viewerID: viewerID}
	c.ctl = reveal.New(c.emitStep, reveal.WithBulkDelay(h.bulkDelay))
	defer c.ctl.Stop()

	c.sendSessions()
	c.sendProfile()
	c.sendControls()
	c.sendStatus()
	c.view(h.state.ActiveID())

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer cancel()
		c.inputLoop()
	}()

	go func() {
		defer wg.Done()
		defer cancel()
		c.eventLoop(events)
	}()

	wg.Wait()
	h.logger.Info("Viewer session ended", "viewer_id", viewerID, "tab_id", tabID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.allowedOrigins) == 0 {
		return true
	}
	if middleware.OriginAllowed(h.allowedOrigins, origin) {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

// conn is one viewer connection and its reveal cursor.
type conn struct {
	h        *Handler
	ws       *websocket.Conn
	ctx      context.Context
	ctl      *reveal.Controller
	viewerID string

	mu      sync.Mutex
	viewing string
}

func (c *conn) viewingID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewing
}

// view switches the viewer to a session and replays it from the start.
func (c *conn) view(sessionID string) {
	c.mu.Lock()
	c.viewing = sessionID
	c.mu.Unlock()

	s, _ := c.h.state.Session(sessionID)
	c.ctl.View(sessionID, len(s.Messages))
	if len(s.Messages) == 0 {
		c.sendMessages(sessionID, 0, reveal.ScrollInstant)
	}
}

func (c *conn) emitStep(step reveal.Step) {
	c.sendMessages(step.SessionID, step.Visible, step.Scroll)
}

func (c *conn) inputLoop() {
	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				c.h.logger.Debug("WebSocket closed by client", "viewer_id", c.viewerID)
			} else {
				c.h.logger.Warn("WebSocket read error", "error", err, "viewer_id", c.viewerID)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("invalid message")
			continue
		}

		switch msg.Type {
		case "view":
			if _, ok := c.h.state.Session(msg.SessionID); ok {
				c.h.state.SelectSession(c.ctx, msg.SessionID)
			}
			c.view(msg.SessionID)
		case "submit":
			c.submit(msg.Text)
		case "ping":
			c.write(map[string]string{"type": "pong"})
		default:
			c.sendError("unknown message type")
		}
	}
}

func (c *conn) submit(text string) {
	h, err := c.h.turns.Submit(c.ctx, text, c.viewingID())
	if err != nil {
		c.h.logger.Debug("Viewer submit rejected", "error", err, "viewer_id", c.viewerID)
		c.sendError(err.Error())
		return
	}
	if h.SessionID != c.viewingID() {
		c.view(h.SessionID)
	}
	c.ctl.Submit()
}

func (c *conn) eventLoop(events <-chan app.Event) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handleEvent(ev)
		}
	}
}

func (c *conn) handleEvent(ev app.Event) {
	switch ev.Kind {
	case app.EventMessages:
		if ev.SessionID == c.viewingID() {
			c.refresh(ev.SessionID)
		}
	case app.EventSessions:
		c.sendSessions()
		if _, ok := c.h.state.Session(c.viewingID()); !ok {
			c.view(c.h.state.ActiveID())
		}
	case app.EventProfile:
		c.sendProfile()
	case app.EventControls:
		c.sendControls()
	case app.EventStatus:
		c.sendStatus()
	case app.EventReset:
		c.sendSessions()
		c.sendProfile()
		c.sendControls()
		c.view(c.h.state.ActiveID())
	}
}

// refresh reacts to a change of the viewed session. A new count moves the
// cursor; an in-place edit, such as a streamed reply, is re-sent directly.
func (c *conn) refresh(sessionID string) {
	s, ok := c.h.state.Session(sessionID)
	if !ok {
		return
	}
	_, visible, total, _ := c.ctl.State()
	n := len(s.Messages)
	if n != total {
		c.ctl.SetTotal(n)
		if n > total {
			return
		}
	}
	if visible >= n {
		c.sendMessages(sessionID, n, reveal.ScrollSmooth)
	}
}

func (c *conn) sendMessages(sessionID string, visible int, scroll reveal.Scroll) {
	s, _ := c.h.state.Session(sessionID)
	visible = min(visible, len(s.Messages))
	msgs := s.Messages[:visible]
	if msgs == nil {
		msgs = []domain.Message{}
	}
	c.write(messagesFrame{
		Type:      "messages",
		SessionID: sessionID,
		Title:     s.Title,
		Visible:   visible,
		Total:     len(s.Messages),
		Scroll:    scroll,
		Messages:  msgs,
	})
}

func (c *conn) sendSessions() {
	list := c.h.state.Sessions()
	summaries := make([]sessionSummary, 0, len(list))
	for _, s := range list {
		summaries = append(summaries, sessionSummary{ID: s.ID, Title: s.Title, UpdatedAt: s.UpdatedAt})
	}
	c.write(sessionsFrame{Type: "sessions", ActiveID: c.h.state.ActiveID(), Sessions: summaries})
}

func (c *conn) sendProfile() {
	c.write(profileFrame{Type: "profile", Profile: c.h.state.Profile()})
}

func (c *conn) sendControls() {
	c.write(controlsFrame{Type: "controls", Controls: c.h.state.Controls()})
}

func (c *conn) sendStatus() {
	c.write(statusFrame{Type: "status", Busy: c.h.turns.Busy(), InFlight: c.h.turns.InFlight()})
}

func (c *conn) sendError(message string) {
	c.write(errorFrame{Type: "error", Error: message})
}

func (c *conn) write(v any) {
	if c.ctx.Err() != nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		c.h.logger.Error("Failed to encode frame", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil && c.ctx.Err() == nil {
		c.h.logger.Debug("WebSocket write error", "error", err, "viewer_id", c.viewerID)
	}
}
