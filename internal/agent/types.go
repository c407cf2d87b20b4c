// Package agent talks to the remote dialogue and profiling models.
package agent

import (
	"time"

	"github.com/ashureev/socratic-mirror/internal/domain"
)

// DialogueRequest is the input of one dialogue call. History already ends
// with the user message being answered.
type DialogueRequest struct {
	SessionID string
	History   []domain.Message
	Profile   domain.UserProfile
	Controls  domain.ControlState
}

// AnalysisRequest is the input of one profiling call.
type AnalysisRequest struct {
	SessionID string
	Message   string
	Profile   domain.UserProfile
	Controls  domain.ControlState
}

const (
	// DefaultDialogueModel generates the conversational replies.
	DefaultDialogueModel = "gemini-3-pro-preview"
	// DefaultAnalysisModel extracts profile insights.
	DefaultAnalysisModel = "gemini-2.5-flash"

	dialogueTemperature = 0.7
	analysisTemperature = 0.1
)

// Config holds backend configuration.
type Config struct {
	APIKey        string
	DialogueModel string
	AnalysisModel string
	// Address selects the gRPC backend when set.
	Address        string
	ConnectTimeout time.Duration
}

// DefaultConfig returns default backend configuration.
func DefaultConfig() Config {
	return Config{
		DialogueModel:  DefaultDialogueModel,
		AnalysisModel:  DefaultAnalysisModel,
		ConnectTimeout: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DialogueModel == "" {
		c.DialogueModel = d.DialogueModel
	}
	if c.AnalysisModel == "" {
		c.AnalysisModel = d.AnalysisModel
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	return c
}
