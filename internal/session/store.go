// Package session owns the conversation sessions and the active pointer.
package session

import (
	"sync"
	"time"

	"github.com/ashureev/socratic-mirror/internal/domain"
	"github.com/google/uuid"
)

// Store maps session ids to sessions and tracks the active one.
// Entries are only ever replaced whole; readers get copies.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]domain.ChatSession
	activeID string
	now      func() time.Time
	newID    func() string
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]domain.ChatSession),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create inserts an empty session, makes it active and returns its id.
func (s *Store) Create() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newID()
	s.sessions[id] = domain.NewChatSession(id, s.now())
	s.activeID = id
	return id
}

// Select moves the active pointer. The id is not required to exist.
func (s *Store) Select(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeID = id
}

// Delete removes a session. Deleting the active session clears the pointer.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sessions[id]
	delete(s.sessions, id)
	if s.activeID == id {
		s.activeID = ""
	}
	return ok
}

// SetMessages replaces the message list of a session, refreshes UpdatedAt and
// derives the title from the first message while the title is the placeholder.
// It reports false when the session does not exist.
func (s *Store) SetMessages(id string, messages []domain.Message) (domain.ChatSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[id]
	if !ok {
		return domain.ChatSession{}, false
	}

	next := current
	next.Messages = make([]domain.Message, len(messages))
	copy(next.Messages, messages)
	next.UpdatedAt = s.now().UnixMilli()
	if next.HasDefaultTitle() && len(messages) > 0 {
		next.Title = domain.DeriveTitle(messages[0].Text)
	}
	s.sessions[id] = next
	return next.Clone(), true
}

// Get returns a copy of a session.
func (s *Store) Get(id string) (domain.ChatSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.sessions[id]
	if !ok {
		return domain.ChatSession{}, false
	}
	return c.Clone(), true
}

// ActiveID returns the active session id, or "" when none is selected.
func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// Active returns the active session. A dangling pointer yields false.
func (s *Store) Active() (domain.ChatSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.sessions[s.activeID]
	if !ok {
		return domain.ChatSession{}, false
	}
	return c.Clone(), true
}

// List returns all sessions, most recently updated first.
func (s *Store) List() []domain.ChatSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := domain.SortedSessions(s.sessions)
	for i := range out {
		out[i] = out[i].Clone()
	}
	return out
}

// Len returns the number of sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Snapshot returns a deep copy of the session map and the active id.
func (s *Store) Snapshot() (map[string]domain.ChatSession, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.ChatSession, len(s.sessions))
	for id, c := range s.sessions {
		out[id] = c.Clone()
	}
	return out, s.activeID
}

// Restore replaces every session and the active pointer.
func (s *Store) Restore(chats map[string]domain.ChatSession, activeID string) {
	next := make(map[string]domain.ChatSession, len(chats))
	for id, c := range chats {
		if c.Messages == nil {
			c.Messages = []domain.Message{}
		}
		next[id] = c.Clone()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = next
	s.activeID = activeID
}
