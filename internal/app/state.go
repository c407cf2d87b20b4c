// Package app owns the live application state: sessions, profile and controls.
// Every mutation is mirrored to the persistence gateway and announced to
// subscribers.
package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/socratic-mirror/internal/domain"
	"github.com/ashureev/socratic-mirror/internal/persist"
	"github.com/ashureev/socratic-mirror/internal/session"
)

// State is the single owner of the mutable application state.
type State struct {
	sessions *session.Store
	gateway  *persist.Gateway
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	profile  domain.UserProfile
	controls domain.ControlState
	// epoch advances whenever the whole state is replaced.
	epoch uint64

	// saveMu orders snapshots with writes so the slot never goes backwards.
	saveMu sync.Mutex

	events *broadcaster
}

// Option configures a State.
type Option func(*State)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *State) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *State) { s.now = now }
}

// WithSessionStore replaces the session store, mainly for deterministic ids in tests.
func WithSessionStore(st *session.Store) Option {
	return func(s *State) { s.sessions = st }
}

// New creates a State with initial profile and controls and no sessions.
// Call Start to restore the saved state.
func New(gateway *persist.Gateway, opts ...Option) *State {
	s := &State{
		gateway:  gateway,
		logger:   slog.Default(),
		now:      time.Now,
		profile:  domain.InitialProfile(),
		controls: domain.InitialControls(),
		events:   newBroadcaster(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sessions == nil {
		s.sessions = session.NewStore(session.WithClock(s.now))
	}
	s.events.logger = s.logger
	return s
}

// Start drops legacy slots and restores the saved state. A missing or
// unreadable state is replaced by a fresh one holding a single new session.
func (s *State) Start(ctx context.Context) error {
	if err := s.gateway.DropLegacy(ctx); err != nil {
		s.logger.Warn("Failed to drop legacy state", "error", err)
	}

	st, err := s.gateway.Load(ctx)
	switch {
	case err == nil:
		s.apply(st)
		s.logger.Info("Restored saved state",
			"sessions", len(st.Chats),
			"active_session", st.ActiveChatID)
		return nil
	case errors.Is(err, persist.ErrNoState):
		s.logger.Info("No saved state, starting fresh")
	case errors.Is(err, persist.ErrIncompatibleState):
		s.logger.Warn("Discarding incompatible saved state", "error", err)
	default:
		return err
	}

	s.apply(domain.NewAppState())
	s.sessions.Create()
	return s.save(ctx)
}

// Snapshot returns a deep copy of the whole state.
func (s *State) Snapshot() domain.AppState {
	chats, active := s.sessions.Snapshot()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.AppState{
		Chats:        chats,
		ActiveChatID: active,
		UserProfile:  s.profile.Clone(),
		Controls:     s.controls,
	}
}

// Subscribe registers for change events. The returned function unsubscribes.
func (s *State) Subscribe() (<-chan Event, func()) {
	return s.events.subscribe()
}

// Notify announces ev without touching the state.
func (s *State) Notify(ev Event) {
	s.events.publish(ev)
}

// CreateSession starts an empty session and selects it.
func (s *State) CreateSession(ctx context.Context) string {
	id := s.sessions.Create()
	s.commit(ctx, Event{Kind: EventSessions, SessionID: id})
	return id
}

// SelectSession moves the active pointer.
func (s *State) SelectSession(ctx context.Context, id string) {
	s.sessions.Select(id)
	s.commit(ctx, Event{Kind: EventSessions, SessionID: id})
}

// DeleteSession removes a session and reports whether it existed.
func (s *State) DeleteSession(ctx context.Context, id string) bool {
	ok := s.sessions.Delete(id)
	if ok {
		s.commit(ctx, Event{Kind: EventSessions, SessionID: id})
	}
	return ok
}

// SetMessages replaces the messages of a session.
func (s *State) SetMessages(ctx context.Context, id string, msgs []domain.Message) (domain.ChatSession, bool) {
	c, ok := s.sessions.SetMessages(id, msgs)
	if ok {
		s.commit(ctx, Event{Kind: EventMessages, SessionID: id})
	}
	return c, ok
}

// Session returns a copy of one session.
func (s *State) Session(id string) (domain.ChatSession, bool) {
	return s.sessions.Get(id)
}

// ActiveID returns the active session id.
func (s *State) ActiveID() string {
	return s.sessions.ActiveID()
}

// Sessions lists sessions newest first.
func (s *State) Sessions() []domain.ChatSession {
	return s.sessions.List()
}

// Profile returns a copy of the profile.
func (s *State) Profile() domain.UserProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile.Clone()
}

// Epoch identifies the current generation of the state. Reset, LoadDemo and
// Import start a new one.
func (s *State) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// UpdateProfile applies fn to the current profile if the state is still at
// epoch. It reports false, changing nothing, when the state was replaced.
func (s *State) UpdateProfile(ctx context.Context, epoch uint64, fn func(domain.UserProfile) domain.UserProfile) bool {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return false
	}
	p := fn(s.profile.Clone())
	p.Normalize()
	s.profile = p
	s.mu.Unlock()

	s.commit(ctx, Event{Kind: EventProfile})
	return true
}

// UpdateSelfDescription sets the user-authored description.
func (s *State) UpdateSelfDescription(ctx context.Context, text string) {
	s.mu.Lock()
	s.profile.SelfDescription = text
	s.mu.Unlock()
	s.commit(ctx, Event{Kind: EventProfile})
}

// Controls returns the current controls.
func (s *State) Controls() domain.ControlState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.controls
}

// ControlPatch is a partial update of the controls. Nil fields are left alone.
type ControlPatch struct {
	Depth            *domain.Depth `json:"depth,omitempty"`
	Grounding        *bool         `json:"grounding,omitempty"`
	InferenceEnabled *bool         `json:"inferenceEnabled,omitempty"`
}

// PatchControls applies p and returns the resulting controls.
func (s *State) PatchControls(ctx context.Context, p ControlPatch) (domain.ControlState, error) {
	if p.Depth != nil {
		if _, err := domain.ParseDepth(string(*p.Depth)); err != nil {
			return s.Controls(), err
		}
	}

	s.mu.Lock()
	if p.Depth != nil {
		s.controls.Depth = *p.Depth
	}
	if p.Grounding != nil {
		s.controls.Grounding = *p.Grounding
	}
	if p.InferenceEnabled != nil {
		s.controls.InferenceEnabled = *p.InferenceEnabled
	}
	out := s.controls
	s.mu.Unlock()

	s.commit(ctx, Event{Kind: EventControls})
	return out, nil
}

// Reset discards everything and starts over with one empty session.
func (s *State) Reset(ctx context.Context) (string, error) {
	s.apply(domain.NewAppState())
	id := s.sessions.Create()
	s.events.publish(Event{Kind: EventReset, SessionID: id})
	return id, s.save(ctx)
}

// LoadDemo replaces everything with the demo dataset.
func (s *State) LoadDemo(ctx context.Context) error {
	s.apply(domain.DemoState(s.now()))
	s.events.publish(Event{Kind: EventReset, SessionID: s.sessions.ActiveID()})
	return s.save(ctx)
}

// Import validates blob and replaces the whole state with it. Nothing is
// applied when validation fails.
func (s *State) Import(ctx context.Context, blob []byte) error {
	st, err := persist.Import(blob)
	if err != nil {
		return err
	}
	s.apply(st)
	s.events.publish(Event{Kind: EventReset, SessionID: st.ActiveChatID})
	return s.save(ctx)
}

// Export renders the whole state as an import document.
func (s *State) Export() ([]byte, error) {
	return persist.Export(s.Snapshot())
}

func (s *State) apply(st domain.AppState) {
	s.sessions.Restore(st.Chats, st.ActiveChatID)
	p := st.UserProfile.Clone()
	p.Normalize()
	s.mu.Lock()
	s.profile = p
	s.controls = st.Controls
	s.epoch++
	s.mu.Unlock()
}

// commit persists the state and announces ev. Save failures are logged; the
// in-memory state stays authoritative.
func (s *State) commit(ctx context.Context, ev Event) {
	if err := s.save(ctx); err != nil {
		s.logger.Warn("Failed to persist state", "event", ev.Kind, "error", err)
	}
	s.events.publish(ev)
}

func (s *State) save(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	return s.gateway.Save(context.WithoutCancel(ctx), s.Snapshot())
}
