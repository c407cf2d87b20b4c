// Package turn runs one conversational turn: the user message is recorded,
// then the dialogue reply and the profile analysis run concurrently against
// the same pre-turn snapshot.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/socratic-mirror/internal/agent"
	"github.com/ashureev/socratic-mirror/internal/app"
	"github.com/ashureev/socratic-mirror/internal/domain"
	"github.com/ashureev/socratic-mirror/internal/profile"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ApologyText replaces the reply when the dialogue call fails.
const ApologyText = "I apologize, but I am unable to contemplate right now. Please try again."

const disagreeFormat = `I disagree with the inference: "%s" (%s). I don't think that fits me. Let's discuss why.`

var (
	// ErrEmptyMessage is returned for blank input.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrTurnInFlight is returned when the session already has a turn running.
	ErrTurnInFlight = errors.New("a turn is already in flight for this session")
)

// State is the part of the application state a turn reads and writes.
type State interface {
	ActiveID() string
	Session(id string) (domain.ChatSession, bool)
	CreateSession(ctx context.Context) string
	SelectSession(ctx context.Context, id string)
	SetMessages(ctx context.Context, id string, msgs []domain.Message) (domain.ChatSession, bool)
	Profile() domain.UserProfile
	Epoch() uint64
	UpdateProfile(ctx context.Context, epoch uint64, fn func(domain.UserProfile) domain.UserProfile) bool
	Controls() domain.ControlState
	Notify(ev app.Event)
}

var _ State = (*app.State)(nil)

// Orchestrator starts turns and owns the busy state.
type Orchestrator struct {
	state    State
	dialogue agent.Dialogue
	analyzer agent.Analyzer
	merger   profile.Merger
	convLog  agent.ConversationLogger
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string

	mu       sync.Mutex
	inFlight map[string]*Handle
	wg       sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithConversationLogger records every turn to a transcript.
func WithConversationLogger(l agent.ConversationLogger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.convLog = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator overrides message id generation.
func WithIDGenerator(newID func() string) Option {
	return func(o *Orchestrator) { o.newID = newID }
}

// WithMerger overrides the profile merger.
func WithMerger(m profile.Merger) Option {
	return func(o *Orchestrator) { o.merger = m }
}

// New creates an orchestrator.
func New(state State, dialogue agent.Dialogue, analyzer agent.Analyzer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		state:    state,
		dialogue: dialogue,
		analyzer: analyzer,
		merger:   profile.NewMerger(),
		convLog:  agent.NoopConversationLogger(),
		logger:   slog.Default(),
		now:      time.Now,
		newID:    uuid.NewString,
		inFlight: make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Handle tracks one running turn.
type Handle struct {
	SessionID      string
	UserMessageID  string
	ModelMessageID string

	group        errgroup.Group
	dialogueDone chan struct{}
	reply        string
	dialogueErr  error
}

// DialogueDone is closed once the reply is final and the session is no
// longer busy.
func (h *Handle) DialogueDone() <-chan struct{} { return h.dialogueDone }

// Reply returns the final reply text. It is only meaningful after DialogueDone.
func (h *Handle) Reply() string {
	<-h.dialogueDone
	return h.reply
}

// DialogueErr returns the dialogue failure, if any, after DialogueDone.
func (h *Handle) DialogueErr() error {
	<-h.dialogueDone
	return h.dialogueErr
}

// Wait blocks until both branches settle and returns the first branch error.
// Branch errors have already been handled by the time they are returned.
func (h *Handle) Wait() error { return h.group.Wait() }

// Busy reports whether any turn is in flight.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inFlight) > 0
}

// IsBusy reports whether sessionID has a turn in flight.
func (o *Orchestrator) IsBusy(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inFlight[sessionID]
	return ok
}

// InFlight returns the sessions with a turn in flight, sorted.
func (o *Orchestrator) InFlight() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.inFlight))
	for id := range o.inFlight {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Wait blocks until every running turn has settled.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Submit records text as a user message in targetID (or the active session,
// or a new session when neither exists) and starts both branches. The remote
// calls are detached from ctx cancellation.
func (o *Orchestrator) Submit(ctx context.Context, text, targetID string) (*Handle, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	sessionID := o.resolveTarget(ctx, targetID)

	o.mu.Lock()
	if _, busy := o.inFlight[sessionID]; busy {
		o.mu.Unlock()
		return nil, ErrTurnInFlight
	}
	h := &Handle{
		SessionID:      sessionID,
		UserMessageID:  o.newID(),
		ModelMessageID: o.newID(),
		dialogueDone:   make(chan struct{}),
	}
	o.inFlight[sessionID] = h
	o.wg.Add(1)
	o.mu.Unlock()

	session, _ := o.state.Session(sessionID)
	userMsg := domain.Message{
		ID:        h.UserMessageID,
		Role:      domain.RoleUser,
		Text:      text,
		Timestamp: o.now().UnixMilli(),
	}
	history := withTrailing(session.Messages, userMsg)
	o.state.SetMessages(ctx, sessionID, history)

	placeholder := domain.Message{
		ID:        h.ModelMessageID,
		Role:      domain.RoleModel,
		Timestamp: o.now().UnixMilli(),
	}
	o.state.SetMessages(ctx, sessionID, withTrailing(history, placeholder))

	epoch := o.state.Epoch()
	profileSnap := o.state.Profile()
	controls := o.state.Controls()

	o.logger.Info("Turn started",
		"session_id", sessionID,
		"message_length", len(text),
		"inference_enabled", controls.InferenceEnabled)
	o.convLog.Log(agent.ConversationLogEvent{
		SessionID:  sessionID,
		Channel:    "turn",
		Direction:  "outbound",
		EventType:  "user_message",
		ContentRaw: text,
		Meta:       map[string]any{"message_id": h.UserMessageID},
	})
	o.state.Notify(app.Event{Kind: app.EventStatus, SessionID: sessionID})

	detached := context.WithoutCancel(ctx)

	h.group.Go(func() error {
		return o.runDialogue(detached, h, agent.DialogueRequest{
			SessionID: sessionID,
			History:   history,
			Profile:   profileSnap,
			Controls:  controls,
		}, placeholder)
	})
	if controls.InferenceEnabled {
		h.group.Go(func() error {
			return o.runAnalysis(detached, epoch, sessionID, text, profileSnap, controls)
		})
	}
	go func() {
		defer o.wg.Done()
		_ = h.group.Wait()
	}()

	return h, nil
}

// Disagree opens a new session and challenges an inferred attribute in it.
func (o *Orchestrator) Disagree(ctx context.Context, category domain.Category, value string) (*Handle, error) {
	if strings.TrimSpace(value) == "" {
		return nil, ErrEmptyMessage
	}
	id := o.state.CreateSession(ctx)
	o.state.SelectSession(ctx, id)
	return o.Submit(ctx, DisagreeText(category, value), id)
}

// DisagreeText is the challenge message for an inferred attribute.
func DisagreeText(category domain.Category, value string) string {
	return fmt.Sprintf(disagreeFormat, value, category.Label())
}

func (o *Orchestrator) resolveTarget(ctx context.Context, targetID string) string {
	id := targetID
	if id == "" {
		id = o.state.ActiveID()
	}
	if id != "" {
		if _, ok := o.state.Session(id); ok {
			return id
		}
	}
	return o.state.CreateSession(ctx)
}

func (o *Orchestrator) runDialogue(ctx context.Context, h *Handle, req agent.DialogueRequest, placeholder domain.Message) error {
	var buf strings.Builder
	chunks := 0
	var streamErr error

	for chunk, err := range o.dialogue.Stream(ctx, req) {
		if err != nil {
			streamErr = err
			break
		}
		chunks++
		buf.WriteString(chunk)
		msg := placeholder
		msg.Text = buf.String()
		o.state.SetMessages(ctx, h.SessionID, withTrailing(req.History, msg))
	}

	reply := buf.String()
	if streamErr != nil {
		o.logger.Error("Dialogue stream failed",
			"session_id", h.SessionID,
			"chunks", chunks,
			"error", streamErr)
		reply = ApologyText
		msg := placeholder
		msg.Text = reply
		o.state.SetMessages(ctx, h.SessionID, withTrailing(req.History, msg))
	}

	o.convLog.Log(agent.ConversationLogEvent{
		SessionID:  h.SessionID,
		Channel:    "turn",
		Direction:  "inbound",
		EventType:  "model_message",
		ContentRaw: reply,
		Meta: map[string]any{
			"message_id":    h.ModelMessageID,
			"stream_chunks": chunks,
			"partial":       streamErr != nil,
		},
	})

	h.reply = reply
	h.dialogueErr = streamErr

	o.mu.Lock()
	delete(o.inFlight, h.SessionID)
	o.mu.Unlock()
	close(h.dialogueDone)
	o.state.Notify(app.Event{Kind: app.EventStatus, SessionID: h.SessionID})

	if streamErr != nil {
		return fmt.Errorf("dialogue: %w", streamErr)
	}
	return nil
}

// runAnalysis asks the analyzer about the pre-turn snapshot and merges the
// result into whatever the profile is when it returns. Results from before a
// reset, demo load or import are dropped.
func (o *Orchestrator) runAnalysis(ctx context.Context, epoch uint64, sessionID, text string, snapshot domain.UserProfile, controls domain.ControlState) error {
	a, err := o.analyzer.Analyze(ctx, agent.AnalysisRequest{
		SessionID: sessionID,
		Message:   text,
		Profile:   snapshot,
		Controls:  controls,
	})
	if err != nil {
		o.logger.Warn("Profile analysis failed", "session_id", sessionID, "error", err)
		return fmt.Errorf("analysis: %w", err)
	}

	at := o.now()
	if !o.state.UpdateProfile(ctx, epoch, func(current domain.UserProfile) domain.UserProfile {
		return o.merger.Merge(current, a, text, sessionID, at)
	}) {
		o.logger.Info("Dropping stale profile analysis", "session_id", sessionID)
		return nil
	}
	o.logger.Debug("Profile updated", "session_id", sessionID)
	return nil
}

// withTrailing returns history with msg appended, sharing nothing with history.
func withTrailing(history []domain.Message, msg domain.Message) []domain.Message {
	out := make([]domain.Message, len(history), len(history)+1)
	copy(out, history)
	return append(out, msg)
}
