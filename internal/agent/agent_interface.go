package agent

import (
	"context"
	"errors"
	"iter"

	"github.com/ashureev/socratic-mirror/internal/profile"
)

// ErrMissingCredential is returned by backend constructors when no API key is configured.
var ErrMissingCredential = errors.New("API_KEY environment variable is not set")

// Dialogue streams the conversational reply for a turn.
type Dialogue interface {
	// Stream yields reply fragments in order. A non-nil error ends the stream.
	Stream(ctx context.Context, req DialogueRequest) iter.Seq2[string, error]
}

// Analyzer extracts profile insights from the latest user message.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (*profile.Analysis, error)
}

// Backend bundles both capabilities behind one connection.
type Backend interface {
	Dialogue
	Analyzer
	Close() error
}

// Ensure both backends implement Backend.
var (
	_ Backend = (*GeminiBackend)(nil)
	_ Backend = (*GrpcClient)(nil)
)
