// Package profile folds extracted insights into a user profile.
package profile

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ashureev/socratic-mirror/internal/domain"
	"github.com/google/uuid"
)

// minNarrativeUpdate is the length a narrative update must exceed to count.
const minNarrativeUpdate = 10

// Insight is one trait proposed by the extractor.
type Insight struct {
	Value      string            `json:"value"`
	Confidence domain.Confidence `json:"confidence"`
	Quote      string            `json:"quote"`
}

// Analysis is the structured result of one trait-analysis call.
type Analysis struct {
	PhilosophicalLeanings []Insight `json:"philosophicalLeanings"`
	EpistemicStyle        string    `json:"epistemicStyle"`
	ArgumentPatterns      []Insight `json:"argumentPatterns"`

	CoreValues          []Insight `json:"coreValues"`
	EmotionalThemes     []Insight `json:"emotionalThemes"`
	MotivationalDrivers []Insight `json:"motivationalDrivers"`
	Vulnerabilities     []Insight `json:"vulnerabilities"`

	BiographicalFacts []Insight `json:"biographicalFacts"`

	PsychologicalUpdate string `json:"psychologicalUpdate"`
}

// Insights returns the proposals for one profile category.
func (a *Analysis) Insights(c domain.Category) []Insight {
	if a == nil {
		return nil
	}
	switch c {
	case domain.CategoryLeanings:
		return a.PhilosophicalLeanings
	case domain.CategoryArgumentPatterns:
		return a.ArgumentPatterns
	case domain.CategoryCoreValues:
		return a.CoreValues
	case domain.CategoryEmotionalThemes:
		return a.EmotionalThemes
	case domain.CategoryMotivationalDrivers:
		return a.MotivationalDrivers
	case domain.CategoryVulnerabilities:
		return a.Vulnerabilities
	case domain.CategoryFacts:
		return a.BiographicalFacts
	}
	return nil
}

// Merger merges analyses into profiles. NewID supplies identifiers for
// attributes seen for the first time.
type Merger struct {
	NewID func() string
}

// NewMerger returns a Merger that issues random UUIDs.
func NewMerger() Merger {
	return Merger{NewID: uuid.NewString}
}

// Merge returns current with the analysis folded in. current is not modified
// and the result shares no memory with it. A nil analysis yields a copy.
func (m Merger) Merge(current domain.UserProfile, a *Analysis, userText, chatID string, at time.Time) domain.UserProfile {
	out := current.Clone()
	if a == nil {
		return out
	}

	for _, c := range domain.Categories() {
		out.SetAttributes(c, m.MergeAttributes(current.Attributes(c), a.Insights(c), userText, chatID, at))
	}

	if style := strings.TrimSpace(a.EpistemicStyle); style != "" && style != domain.UndeterminedStyle {
		out.Philosophy.EpistemicStyle = style
	}

	if utf8.RuneCountInString(a.PsychologicalUpdate) > minNarrativeUpdate {
		out.Narrative = current.Narrative.Extend(a.PsychologicalUpdate, at)
	}

	out.Normalize()
	return out
}

// MergeAttributes folds insights into existing. A case-insensitive match
// keeps its identity, raises confidence to the max of both and gains one
// evidence record. Anything else is appended as a new attribute.
func (m Merger) MergeAttributes(existing []domain.InferredAttribute, insights []Insight, fallbackQuote, chatID string, at time.Time) []domain.InferredAttribute {
	updated := make([]domain.InferredAttribute, len(existing), len(existing)+len(insights))
	for i, attr := range existing {
		attr.Evidence = append([]domain.Evidence(nil), attr.Evidence...)
		updated[i] = attr
	}

	ts := at.UnixMilli()
	for _, in := range insights {
		value := strings.TrimSpace(in.Value)
		if value == "" {
			continue
		}
		quote := in.Quote
		if strings.TrimSpace(quote) == "" {
			quote = fallbackQuote
		}
		ev := domain.Evidence{Quote: quote, Timestamp: ts, ChatID: chatID}

		idx := indexOfValue(updated, value)
		if idx >= 0 {
			attr := updated[idx]
			attr.Confidence = attr.Confidence.Max(in.Confidence)
			attr.Evidence = append(attr.Evidence, ev)
			updated[idx] = attr
			continue
		}

		updated = append(updated, domain.InferredAttribute{
			ID:         m.newID(),
			Value:      value,
			Confidence: in.Confidence,
			Evidence:   []domain.Evidence{ev},
		})
	}
	return updated
}

func (m Merger) newID() string {
	if m.NewID != nil {
		return m.NewID()
	}
	return uuid.NewString()
}

func indexOfValue(attrs []domain.InferredAttribute, value string) int {
	for i, a := range attrs {
		if strings.EqualFold(strings.TrimSpace(a.Value), value) {
			return i
		}
	}
	return -1
}
