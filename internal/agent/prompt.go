package agent

import (
	"fmt"
	"strings"

	"github.com/ashureev/socratic-mirror/internal/domain"
)

const dialogueRules = `RULES:
1. Ask 1 question per turn (unless reflecting in 1 short sentence + 1 question).
2. Never prescribe answers. Never imply a correct view.
3. Avoid terms that imply certainty ("actually", "really", "isn't it true that..."). Use neutral phrases ("How might someone...", "Could it suggest...").
4. Pace your depth: match the user's emotional tone and complexity.
5. If the user expresses emotion, explore the emotional meaning before abstractions.
6. Every 3 questions, connect philosophical points back to the user's personal reasoning or lived experience.
7. Use the profile context only to tailor curiosity, never to judge, diagnose, or predict.
8. If you detect overwhelm, anxiety, or existential collapse, pivot to grounding immediately.
9. Keep questions under 30 words unless the deep setting invites complexity.
10. Never diagnose. Ask about patterns, not pathologies.`

// DepthInstruction renders the depth control for the dialogue prompt.
func DepthInstruction(d domain.Depth) string {
	switch d {
	case domain.DepthDeep:
		return "Depth: DEEP. Challenge axioms. Use abstract reasoning. Risk existential depth if user invites it."
	case domain.DepthSurface:
		return "Depth: SURFACE. Keep questions concrete, practical, and light. Avoid heavy existential pressure."
	default:
		return "Depth: MODERATE. Balance abstraction with practical examples."
	}
}

// GroundingInstruction renders the grounding control for the dialogue prompt.
func GroundingInstruction(grounding bool) string {
	if grounding {
		return "MODE: GROUNDING. The user may be distressed. Do NOT use abstract Socratic challenging. " +
			"Focus on immediate emotional experience, validation, and simple human connection. " +
			"Be a gentle mirror, not a debater."
	}
	return "MODE: STANDARD SOCRATIC. Explore definitions and logic."
}

// ProfileContext lists what is known about the user, for the dialogue prompt.
func ProfileContext(p domain.UserProfile) string {
	var b strings.Builder
	line := func(label, value string) {
		fmt.Fprintf(&b, "- %s: %s\n", label, value)
	}
	line("Name", p.Name)
	line("Self Description", p.SelfDescription)
	line("Philosophical Leanings", joinValues(p.Philosophy.Leanings))
	line("Epistemic Style", p.Philosophy.EpistemicStyle)
	line("Core Values", joinValues(p.Psychology.CoreValues))
	line("Emotional Themes", joinValues(p.Psychology.EmotionalThemes))
	line("Motivational Patterns", joinValues(p.Psychology.MotivationalDrivers))
	line("Facts", joinValues(p.Biographical.Facts))
	return b.String()
}

// SystemInstruction builds the dialogue system prompt.
func SystemInstruction(p domain.UserProfile, c domain.ControlState) string {
	var b strings.Builder
	b.WriteString("You are a gentle, curious Socratic guide. You help the user explore their beliefs, ")
	b.WriteString("experiences, and assumptions at a pace that matches their emotional state.\n\n")
	b.WriteString("USER PROFILE CONTEXT (Do not mention this explicitly, just use it to guide curiosity):\n")
	b.WriteString(ProfileContext(p))
	b.WriteString("\nRUNTIME CONTROLS:\n")
	fmt.Fprintf(&b, "1. %s\n2. %s\n\n", DepthInstruction(c.Depth), GroundingInstruction(c.Grounding))
	b.WriteString(dialogueRules)
	return b.String()
}

// AnalysisPrompt builds the profiling prompt for one user message.
func AnalysisPrompt(message string, p domain.UserProfile) string {
	return fmt.Sprintf(`Extract from the user's latest message. Only refine existing patterns if the message reinforces them.
Avoid adding new traits based on a single line unless explicit.

LATEST USER MESSAGE:
%q

CURRENT CONTEXT SUMMARY:
%s

TASK:
1. Philosophical Leanings: Textual patterns, not schools (e.g., "Tends toward empiricism" not just "Empiricist").
2. Epistemic Style: How they form beliefs (e.g., "Intuitive", "Logical deduction", "Authority-based").
3. Core Values: Goals or moral priorities expressed.
4. Emotional Themes: Recurring emotional tones.
5. Motivational Drivers: Patterns inferred across messages.
6. Vulnerabilities: Sensitive topics or defensive triggers.
7. Biographical Facts: Literal statements only.
8. Psychological Update: Observational, non-causal summary.

CONSTRAINTS:
- CONFIDENCE: Use 0.2 (Low), 0.5 (Medium), 0.8 (High) only. Never 1.0.
- DRIVERS: Never assert subconscious traits unless strongly repeated.
- LANGUAGE: No clinical/diagnostic language. Use humanistic, descriptive terms.
- SPLIT: Distinguish philosophy (ideas) from psychology (feelings/drives).

Return JSON.`, message, p.PsychologicalProfile())
}

func joinValues(attrs []domain.InferredAttribute) string {
	values := make([]string, 0, len(attrs))
	for _, a := range attrs {
		values = append(values, a.Value)
	}
	return strings.Join(values, ", ")
}
