package domain

import "time"

// DemoState returns the sample dataset used to showcase the profile view.
// Timestamps are placed relative to now.
func DemoState(now time.Time) AppState {
	ts := now.UnixMilli()
	day := (24 * time.Hour).Milliseconds()

	ev := func(quote string) []Evidence {
		return []Evidence{{Quote: quote, Timestamp: ts, ChatID: "chat-1"}}
	}

	profile := UserProfile{
		Name:            "Alex",
		SelfDescription: "I am a software engineer.",
		Philosophy: PhilosophyState{
			Leanings: []InferredAttribute{
				{ID: "p1", Value: "Materialism", Confidence: ConfidenceHigh, Evidence: ev("Love is just chemical reactions")},
				{ID: "p2", Value: "Empiricism", Confidence: ConfidenceHigh, Evidence: ev("Scientific truth is the only objective truth")},
			},
			EpistemicStyle: "Logical / Scientific",
			ArgumentPatterns: []InferredAttribute{
				{ID: "ap1", Value: "Reductionism", Confidence: ConfidenceMedium, Evidence: ev("Love is just chemical reactions")},
			},
		},
		Psychology: PsychologyState{
			CoreValues: []InferredAttribute{
				{ID: "cv1", Value: "Scientific Truth", Confidence: ConfidenceHigh, Evidence: ev("Scientific truth is the only objective truth")},
			},
			MotivationalDrivers: []InferredAttribute{
				{ID: "md1", Value: "Need for Certainty", Confidence: ConfidenceMedium, Evidence: ev("only objective truth")},
			},
		},
		Biographical: BiographicalState{
			Facts: []InferredAttribute{
				{ID: "b1", Value: "Software Engineer", Confidence: ConfidenceHigh, Evidence: ev("I am a software engineer")},
			},
		},
		Narrative: Narrative{{
			Text: "The subject exhibits a strong tendency toward Materialism. They value Empirical evidence highly. " +
				"There is a potential tension between their logical framework and emotional needs.",
		}},
	}
	profile.Normalize()

	started := ts - 5*day
	return AppState{
		ActiveChatID: "chat-1",
		Controls:     InitialControls(),
		UserProfile:  profile,
		Chats: map[string]ChatSession{
			"chat-1": {
				ID:        "chat-1",
				Title:     "The Nature of Truth",
				CreatedAt: started,
				UpdatedAt: ts - 4*day,
				Messages: []Message{
					{ID: "m1", Role: RoleUser, Text: "I believe that scientific truth is the only objective truth we have.", Timestamp: started},
					{ID: "m2", Role: RoleModel, Text: "That is a bold claim. If scientific truth is based on observation, what happens to truths that cannot be observed, like the logic of mathematics or the feeling of love? Are they not 'true'?", Timestamp: started},
					{ID: "m3", Role: RoleUser, Text: "Math is a tool we invented. Love is just chemical reactions.", Timestamp: started},
					{ID: "m4", Role: RoleModel, Text: "How might someone see this differently? If math is merely an invention, why does it describe the physical universe so perfectly? And if love is 'just' chemicals, does the experience hold no independent reality for you?", Timestamp: started},
				},
			},
		},
	}
}
