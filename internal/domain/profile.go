package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Confidence is the closed three-level certainty scale of an inferred
// attribute. It never reaches certainty.
type Confidence int

const (
	// ConfidenceLow serializes as 0.2.
	ConfidenceLow Confidence = iota
	// ConfidenceMedium serializes as 0.5.
	ConfidenceMedium
	// ConfidenceHigh serializes as 0.8.
	ConfidenceHigh
)

// ConfidenceFromFloat snaps a numeric score onto the nearest level.
// Anything above the medium band, including 1.0, becomes ConfidenceHigh.
func ConfidenceFromFloat(f float64) Confidence {
	switch {
	case math.IsNaN(f) || f < 0.35:
		return ConfidenceLow
	case f < 0.65:
		return ConfidenceMedium
	default:
		return ConfidenceHigh
	}
}

// Float returns the wire value of the level.
func (c Confidence) Float() float64 {
	switch c {
	case ConfidenceMedium:
		return 0.5
	case ConfidenceHigh:
		return 0.8
	default:
		return 0.2
	}
}

// String implements fmt.Stringer.
func (c Confidence) String() string {
	switch c {
	case ConfidenceMedium:
		return "medium"
	case ConfidenceHigh:
		return "high"
	default:
		return "low"
	}
}

// Max returns the higher of two levels.
func (c Confidence) Max(other Confidence) Confidence {
	if other > c {
		return other
	}
	return c
}

// MarshalJSON encodes the level as its numeric wire value.
func (c Confidence) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(c.Float(), 'f', 1, 64)), nil
}

// UnmarshalJSON accepts any JSON number and snaps it onto a level.
func (c *Confidence) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = ConfidenceLow
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("confidence must be a number: %w", err)
	}
	*c = ConfidenceFromFloat(f)
	return nil
}

// Evidence is a verbatim excerpt justifying an inference.
type Evidence struct {
	Quote     string `json:"quote"`
	Timestamp int64  `json:"timestamp"`
	ChatID    string `json:"chatId,omitempty"`
}

// InferredAttribute is a trait or pattern inferred about the user.
type InferredAttribute struct {
	ID         string     `json:"id"`
	Value      string     `json:"value"`
	Confidence Confidence `json:"confidence"`
	Evidence   []Evidence `json:"evidence"`
}

// PhilosophyState holds the ideas namespace of the profile.
type PhilosophyState struct {
	Leanings         []InferredAttribute `json:"leanings"`
	EpistemicStyle   string              `json:"epistemicStyle"`
	ArgumentPatterns []InferredAttribute `json:"argumentPatterns"`
}

// PsychologyState holds the feelings and drives namespace of the profile.
type PsychologyState struct {
	CoreValues          []InferredAttribute `json:"coreValues"`
	EmotionalThemes     []InferredAttribute `json:"emotionalThemes"`
	MotivationalDrivers []InferredAttribute `json:"motivationalDrivers"`
	Vulnerabilities     []InferredAttribute `json:"vulnerabilities"`
}

// BiographicalState holds literal facts about the user.
type BiographicalState struct {
	Facts []InferredAttribute `json:"facts"`
}

// UndeterminedStyle is the epistemic style before anything was inferred.
const UndeterminedStyle = "Undetermined"

// InitialNarrativeText is the placeholder summary of a fresh profile.
const InitialNarrativeText = "The user is beginning their journey of self-discovery."

// placeholderMarker identifies a summary that still carries the placeholder.
const placeholderMarker = "beginning their journey"

// NarrativeEntry is one dated paragraph of the rolling summary.
// At is Unix milliseconds; zero means the entry predates dating.
type NarrativeEntry struct {
	Text string `json:"text"`
	At   int64  `json:"at"`
}

// Narrative is the append-only rolling summary of the user.
type Narrative []NarrativeEntry

// InitialNarrative returns the placeholder narrative.
func InitialNarrative() Narrative {
	return Narrative{{Text: InitialNarrativeText}}
}

// IsInitial reports whether the summary still carries the placeholder, alone
// or inside imported text.
func (n Narrative) IsInitial() bool {
	if len(n) == 0 {
		return true
	}
	for _, e := range n {
		if strings.Contains(e.Text, placeholderMarker) {
			return true
		}
	}
	return false
}

// Extend returns a narrative carrying update. The placeholder is replaced,
// anything else gets the update appended.
func (n Narrative) Extend(update string, at time.Time) Narrative {
	entry := NarrativeEntry{Text: update, At: at.UnixMilli()}
	if n.IsInitial() {
		return Narrative{entry}
	}
	out := make(Narrative, len(n), len(n)+1)
	copy(out, n)
	return append(out, entry)
}

// Render concatenates the entries into the summary text.
func (n Narrative) Render() string {
	var b strings.Builder
	for i, e := range n {
		if i == 0 {
			b.WriteString(e.Text)
			continue
		}
		b.WriteString("\n\n")
		if e.At > 0 {
			fmt.Fprintf(&b, "[Latest, %s]: ", time.UnixMilli(e.At).UTC().Format("2006-01-02"))
		} else {
			b.WriteString("[Latest]: ")
		}
		b.WriteString(e.Text)
	}
	return b.String()
}

// UserProfile is the long-lived structured profile of the user.
type UserProfile struct {
	Name            string
	SelfDescription string
	Philosophy      PhilosophyState
	Psychology      PsychologyState
	Biographical    BiographicalState
	Narrative       Narrative
}

type userProfileJSON struct {
	Name                 string            `json:"name"`
	SelfDescription      string            `json:"selfDescription"`
	Philosophy           PhilosophyState   `json:"philosophy"`
	Psychology           PsychologyState   `json:"psychology"`
	Biographical         BiographicalState `json:"biographical"`
	PsychologicalProfile string            `json:"psychologicalProfile"`
	Narrative            Narrative         `json:"narrative,omitempty"`
}

// InitialProfile returns the profile of a first run.
func InitialProfile() UserProfile {
	p := UserProfile{
		Name:       "Seeker",
		Philosophy: PhilosophyState{EpistemicStyle: UndeterminedStyle},
		Narrative:  InitialNarrative(),
	}
	p.Normalize()
	return p
}

// PsychologicalProfile renders the narrative summary.
func (p UserProfile) PsychologicalProfile() string {
	return p.Narrative.Render()
}

// Normalize replaces nil attribute lists with empty ones.
func (p *UserProfile) Normalize() {
	for _, c := range Categories() {
		if l := p.list(c); *l == nil {
			*l = []InferredAttribute{}
		}
	}
}

// Clone returns a deep copy of p.
func (p UserProfile) Clone() UserProfile {
	out := p
	for _, c := range Categories() {
		*out.list(c) = cloneAttributes(*p.list(c))
	}
	out.Narrative = append(Narrative(nil), p.Narrative...)
	return out
}

// Attributes returns the attribute list of a category.
func (p UserProfile) Attributes(c Category) []InferredAttribute {
	if l := p.list(c); l != nil {
		return *l
	}
	return nil
}

// SetAttributes replaces the attribute list of a category.
func (p *UserProfile) SetAttributes(c Category, attrs []InferredAttribute) {
	if l := p.list(c); l != nil {
		*l = attrs
	}
}

func (p *UserProfile) list(c Category) *[]InferredAttribute {
	switch c {
	case CategoryLeanings:
		return &p.Philosophy.Leanings
	case CategoryArgumentPatterns:
		return &p.Philosophy.ArgumentPatterns
	case CategoryCoreValues:
		return &p.Psychology.CoreValues
	case CategoryEmotionalThemes:
		return &p.Psychology.EmotionalThemes
	case CategoryMotivationalDrivers:
		return &p.Psychology.MotivationalDrivers
	case CategoryVulnerabilities:
		return &p.Psychology.Vulnerabilities
	case CategoryFacts:
		return &p.Biographical.Facts
	}
	return nil
}

func cloneAttributes(in []InferredAttribute) []InferredAttribute {
	if in == nil {
		return nil
	}
	out := make([]InferredAttribute, len(in))
	for i, a := range in {
		a.Evidence = append([]Evidence(nil), a.Evidence...)
		out[i] = a
	}
	return out
}

// MarshalJSON writes both the rendered summary and the dated entries.
func (p UserProfile) MarshalJSON() ([]byte, error) {
	n := p.Clone()
	n.Normalize()
	return json.Marshal(userProfileJSON{
		Name:                 n.Name,
		SelfDescription:      n.SelfDescription,
		Philosophy:           n.Philosophy,
		Psychology:           n.Psychology,
		Biographical:         n.Biographical,
		PsychologicalProfile: n.Narrative.Render(),
		Narrative:            n.Narrative,
	})
}

// UnmarshalJSON accepts documents with or without dated entries. A bare
// summary string becomes a single undated entry.
func (p *UserProfile) UnmarshalJSON(data []byte) error {
	var raw userProfileJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = UserProfile{
		Name:            raw.Name,
		SelfDescription: raw.SelfDescription,
		Philosophy:      raw.Philosophy,
		Psychology:      raw.Psychology,
		Biographical:    raw.Biographical,
		Narrative:       raw.Narrative,
	}
	if len(p.Narrative) == 0 && raw.PsychologicalProfile != "" {
		p.Narrative = Narrative{{Text: raw.PsychologicalProfile}}
	}
	p.Normalize()
	return nil
}

// Category names one attribute list of the profile.
type Category string

const (
	CategoryLeanings            Category = "leanings"
	CategoryArgumentPatterns    Category = "argumentPatterns"
	CategoryCoreValues          Category = "coreValues"
	CategoryEmotionalThemes     Category = "emotionalThemes"
	CategoryMotivationalDrivers Category = "motivationalDrivers"
	CategoryVulnerabilities     Category = "vulnerabilities"
	CategoryFacts               Category = "facts"
)

var categoryLabels = map[Category]string{
	CategoryLeanings:            "Philosophical Leaning",
	CategoryArgumentPatterns:    "Argument Pattern",
	CategoryCoreValues:          "Core Value",
	CategoryEmotionalThemes:     "Emotional Theme",
	CategoryMotivationalDrivers: "Motivational Driver",
	CategoryVulnerabilities:     "Vulnerability",
	CategoryFacts:               "Biographical Fact",
}

// Categories lists every attribute list in display order.
func Categories() []Category {
	return []Category{
		CategoryLeanings,
		CategoryArgumentPatterns,
		CategoryCoreValues,
		CategoryMotivationalDrivers,
		CategoryEmotionalThemes,
		CategoryVulnerabilities,
		CategoryFacts,
	}
}

// Label returns the human-readable name of the category.
func (c Category) Label() string {
	if l, ok := categoryLabels[c]; ok {
		return l
	}
	return string(c)
}

// ParseCategory resolves a category key or label, case-insensitively.
func ParseCategory(s string) (Category, bool) {
	s = strings.TrimSpace(s)
	for c, label := range categoryLabels {
		if strings.EqualFold(s, string(c)) || strings.EqualFold(s, label) {
			return c, true
		}
	}
	return "", false
}
