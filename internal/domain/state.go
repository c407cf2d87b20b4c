package domain

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Depth is how far the dialogue may push abstraction.
type Depth string

const (
	DepthSurface  Depth = "surface"
	DepthModerate Depth = "moderate"
	DepthDeep     Depth = "deep"
)

// ParseDepth validates a depth level.
func ParseDepth(s string) (Depth, error) {
	switch d := Depth(s); d {
	case DepthSurface, DepthModerate, DepthDeep:
		return d, nil
	}
	return "", fmt.Errorf("unknown depth %q", s)
}

// ControlState is the runtime policy applied to both remote capabilities.
type ControlState struct {
	Depth            Depth `json:"depth"`
	Grounding        bool  `json:"grounding"`
	InferenceEnabled bool  `json:"inferenceEnabled"`
}

// InitialControls returns the controls of a first run.
func InitialControls() ControlState {
	return ControlState{
		Depth:            DepthModerate,
		Grounding:        false,
		InferenceEnabled: true,
	}
}

// AppState is the persisted root of the application.
type AppState struct {
	Chats        map[string]ChatSession
	ActiveChatID string
	UserProfile  UserProfile
	Controls     ControlState
}

type appStateJSON struct {
	Chats        map[string]ChatSession `json:"chats"`
	ActiveChatID *string                `json:"activeChatId"`
	UserProfile  UserProfile            `json:"userProfile"`
	Controls     ControlState           `json:"controls"`
	// DarkMode is a legacy flag kept on the wire and ignored.
	DarkMode bool `json:"darkMode"`
}

// NewAppState returns an empty state with initial profile and controls.
func NewAppState() AppState {
	return AppState{
		Chats:       map[string]ChatSession{},
		UserProfile: InitialProfile(),
		Controls:    InitialControls(),
	}
}

// Clone returns a deep copy of s.
func (s AppState) Clone() AppState {
	out := s
	out.Chats = make(map[string]ChatSession, len(s.Chats))
	for id, c := range s.Chats {
		out.Chats[id] = c.Clone()
	}
	out.UserProfile = s.UserProfile.Clone()
	return out
}

// SortedSessions returns the sessions ordered by UpdatedAt, newest first.
func SortedSessions(chats map[string]ChatSession) []ChatSession {
	out := make([]ChatSession, 0, len(chats))
	for _, c := range chats {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt != out[j].UpdatedAt {
			return out[i].UpdatedAt > out[j].UpdatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// MarshalJSON writes a missing active session as null.
func (s AppState) MarshalJSON() ([]byte, error) {
	out := appStateJSON{
		Chats:       s.Chats,
		UserProfile: s.UserProfile,
		Controls:    s.Controls,
	}
	if out.Chats == nil {
		out.Chats = map[string]ChatSession{}
	}
	if s.ActiveChatID != "" {
		id := s.ActiveChatID
		out.ActiveChatID = &id
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads a state document without validating it.
func (s *AppState) UnmarshalJSON(data []byte) error {
	var raw appStateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = AppState{
		Chats:       raw.Chats,
		UserProfile: raw.UserProfile,
		Controls:    raw.Controls,
	}
	if raw.ActiveChatID != nil {
		s.ActiveChatID = *raw.ActiveChatID
	}
	return nil
}
