// Package persist serializes the application state to a durable slot and to
// portable export documents.
package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/socratic-mirror/internal/domain"
	"github.com/ashureev/socratic-mirror/internal/store"
)

const (
	// DefaultSlot is the slot name the current state format is stored under.
	DefaultSlot = "socratic_mirror_state_v2"
	// LegacySlot held the pre-profile state format and is discarded on startup.
	LegacySlot = "socratic_mirror_state"
	// ExportFileName is the suggested name for exported documents.
	ExportFileName = "socratic_mirror_v2_backup.json"
)

var (
	// ErrNoState is returned by Load when nothing has been saved yet.
	ErrNoState = errors.New("no saved state")
	// ErrIncompatibleState is returned by Load when the saved document cannot
	// be read as the current format.
	ErrIncompatibleState = errors.New("incompatible saved state")
)

// ValidationError describes an import document that was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid import document: " + e.Reason
	}
	return fmt.Sprintf("invalid import document: %s: %s", e.Field, e.Reason)
}

// Gateway mirrors application state into a store slot.
type Gateway struct {
	repo   store.Repository
	slot   string
	logger *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithSlot overrides the slot name.
func WithSlot(name string) Option {
	return func(g *Gateway) {
		if name != "" {
			g.slot = name
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGateway creates a gateway over repo.
func NewGateway(repo store.Repository, opts ...Option) *Gateway {
	g := &Gateway{repo: repo, slot: DefaultSlot, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Slot returns the slot name in use.
func (g *Gateway) Slot() string { return g.slot }

// Load reads the saved state. Callers reinitialize on ErrNoState and
// ErrIncompatibleState.
func (g *Gateway) Load(ctx context.Context) (domain.AppState, error) {
	slot, err := g.repo.GetSlot(ctx, g.slot)
	if err != nil {
		return domain.AppState{}, fmt.Errorf("read slot: %w", err)
	}
	if slot == nil || len(bytes.TrimSpace(slot.Payload)) == 0 {
		return domain.AppState{}, ErrNoState
	}

	doc, err := parseDocument(slot.Payload)
	if err != nil {
		return domain.AppState{}, fmt.Errorf("%w: %v", ErrIncompatibleState, err)
	}
	if !doc.hasProfilePhilosophy() {
		return domain.AppState{}, fmt.Errorf("%w: profile has no philosophy section", ErrIncompatibleState)
	}

	st, err := doc.state()
	if err != nil {
		return domain.AppState{}, fmt.Errorf("%w: %v", ErrIncompatibleState, err)
	}
	return st, nil
}

// Save overwrites the slot with st.
func (g *Gateway) Save(ctx context.Context, st domain.AppState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := g.repo.PutSlot(ctx, g.slot, data); err != nil {
		return fmt.Errorf("write slot: %w", err)
	}
	return nil
}

// Clear removes the saved state.
func (g *Gateway) Clear(ctx context.Context) error {
	return g.repo.DeleteSlot(ctx, g.slot)
}

// DropLegacy deletes slots left by older releases.
func (g *Gateway) DropLegacy(ctx context.Context) error {
	n, err := g.repo.DeleteLegacySlots(ctx, LegacySlot)
	if err != nil {
		return fmt.Errorf("drop legacy slots: %w", err)
	}
	if n > 0 {
		g.logger.Info("Removed legacy state slot", "slot", LegacySlot)
	}
	return nil
}

// Export renders st as an indented document suitable for Import.
func Export(st domain.AppState) ([]byte, error) {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode export: %w", err)
	}
	return data, nil
}

// Import validates an export document and returns the state it describes.
// chats and userProfile are required. Missing controls take their initial
// values. An active id that does not name a session falls back to the most
// recently updated session, or to none. Identifiers are kept as given.
func Import(blob []byte) (domain.AppState, error) {
	doc, err := parseDocument(blob)
	if err != nil {
		return domain.AppState{}, &ValidationError{Reason: err.Error()}
	}
	if !doc.present("chats") {
		return domain.AppState{}, &ValidationError{Field: "chats", Reason: "missing"}
	}
	if !doc.present("userProfile") {
		return domain.AppState{}, &ValidationError{Field: "userProfile", Reason: "missing"}
	}

	st, err := doc.state()
	if err != nil {
		return domain.AppState{}, &ValidationError{Reason: err.Error()}
	}

	if _, ok := st.Chats[st.ActiveChatID]; !ok {
		st.ActiveChatID = ""
		if sorted := domain.SortedSessions(st.Chats); len(sorted) > 0 {
			st.ActiveChatID = sorted[0].ID
		}
	}
	return st, nil
}

// document is a top-level state document split into raw sections.
type document map[string]json.RawMessage

func parseDocument(data []byte) (document, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	if doc == nil {
		return nil, errors.New("document is null")
	}
	return doc, nil
}

func (d document) present(key string) bool {
	raw, ok := d[key]
	return ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func (d document) hasProfilePhilosophy() bool {
	if !d.present("userProfile") {
		return false
	}
	var profile map[string]json.RawMessage
	if err := json.Unmarshal(d["userProfile"], &profile); err != nil {
		return false
	}
	return document(profile).present("philosophy")
}

func (d document) state() (domain.AppState, error) {
	st := domain.NewAppState()

	if d.present("chats") {
		var chats map[string]domain.ChatSession
		if err := json.Unmarshal(d["chats"], &chats); err != nil {
			return st, fmt.Errorf("chats: %w", err)
		}
		for id, c := range chats {
			if c.ID == "" {
				c.ID = id
			}
			if c.Messages == nil {
				c.Messages = []domain.Message{}
			}
			chats[id] = c
		}
		if chats != nil {
			st.Chats = chats
		}
	}

	if d.present("activeChatId") {
		if err := json.Unmarshal(d["activeChatId"], &st.ActiveChatID); err != nil {
			return st, fmt.Errorf("activeChatId: %w", err)
		}
	}

	if d.present("userProfile") {
		if err := json.Unmarshal(d["userProfile"], &st.UserProfile); err != nil {
			return st, fmt.Errorf("userProfile: %w", err)
		}
	}

	if d.present("controls") {
		var controls domain.ControlState
		if err := json.Unmarshal(d["controls"], &controls); err != nil {
			return st, fmt.Errorf("controls: %w", err)
		}
		if _, err := domain.ParseDepth(string(controls.Depth)); err != nil {
			controls.Depth = domain.InitialControls().Depth
		}
		st.Controls = controls
	}
	return st, nil
}
