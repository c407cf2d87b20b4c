// Package domain contains core domain types for the Socratic Mirror engine.
package domain

import (
	"time"
	"unicode/utf8"
)

// DefaultSessionTitle is the placeholder title of a session that has not
// received its first message yet.
const DefaultSessionTitle = "New Dialogue"

// titleRunes is how much of the first message becomes the session title.
const titleRunes = 30

// Role identifies the author of a message.
type Role string

const (
	// RoleUser marks messages written by the user.
	RoleUser Role = "user"
	// RoleModel marks messages produced by the dialogue generator.
	RoleModel Role = "model"
)

// Message is a single entry in a conversation.
// Timestamps are Unix milliseconds to stay compatible with exported files.
type Message struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// ChatSession is one continuous conversation thread.
type ChatSession struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt int64     `json:"createdAt"`
	UpdatedAt int64     `json:"updatedAt"`
}

// NewChatSession returns an empty session with the placeholder title.
func NewChatSession(id string, now time.Time) ChatSession {
	ts := now.UnixMilli()
	return ChatSession{
		ID:        id,
		Title:     DefaultSessionTitle,
		Messages:  []Message{},
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

// Clone returns a copy that shares no memory with s.
func (s ChatSession) Clone() ChatSession {
	out := s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	return out
}

// HasDefaultTitle reports whether the title is still the placeholder.
func (s ChatSession) HasDefaultTitle() bool {
	return s.Title == DefaultSessionTitle
}

// DeriveTitle builds a session title from the first message text.
func DeriveTitle(text string) string {
	if utf8.RuneCountInString(text) > titleRunes {
		runes := []rune(text)
		text = string(runes[:titleRunes])
	}
	return text + "..."
}
