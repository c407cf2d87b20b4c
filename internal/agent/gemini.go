package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/ashureev/socratic-mirror/internal/domain"
	"github.com/ashureev/socratic-mirror/internal/profile"
	"google.golang.org/genai"
)

var errEmptyAnalysis = errors.New("analysis response was empty")

// GeminiBackend serves both capabilities from the Gemini API.
type GeminiBackend struct {
	client *genai.Client
	cfg    Config
	logger *slog.Logger
}

// NewGeminiBackend creates a Gemini client. It performs no network I/O.
func NewGeminiBackend(ctx context.Context, cfg Config, logger *slog.Logger) (*GeminiBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingCredential
	}
	cfg = cfg.withDefaults()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	logger.Info("Gemini backend ready",
		"dialogue_model", cfg.DialogueModel,
		"analysis_model", cfg.AnalysisModel)

	return &GeminiBackend{client: client, cfg: cfg, logger: logger}, nil
}

// Stream generates the dialogue reply.
func (g *GeminiBackend) Stream(ctx context.Context, req DialogueRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		config := &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(SystemInstruction(req.Profile, req.Controls), genai.RoleUser),
			Temperature:       genai.Ptr[float32](dialogueTemperature),
		}

		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.cfg.DialogueModel, historyContents(req.History), config) {
			if err != nil {
				yield("", fmt.Errorf("dialogue stream error: %w", err))
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}

// Analyze extracts insights as structured JSON.
func (g *GeminiBackend) Analyze(ctx context.Context, req AnalysisRequest) (*profile.Analysis, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(AnalysisPrompt(req.Message, req.Profile), genai.RoleUser),
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.AnalysisModel, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   AnalysisSchema(),
		Temperature:      genai.Ptr[float32](analysisTemperature),
	})
	if err != nil {
		return nil, fmt.Errorf("analysis request failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return nil, errEmptyAnalysis
	}
	var out profile.Analysis
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	return &out, nil
}

// Close is a no-op; the GenAI client holds no resources that need releasing.
func (g *GeminiBackend) Close() error { return nil }

func historyContents(history []domain.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		role := genai.Role(genai.RoleUser)
		if m.Role == domain.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Text, role))
	}
	return contents
}

// AnalysisSchema is the response schema the profiler must follow.
func AnalysisSchema() *genai.Schema {
	insight := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"value":      {Type: genai.TypeString},
			"confidence": {Type: genai.TypeNumber, Description: "0.2, 0.5, or 0.8"},
			"quote":      {Type: genai.TypeString},
		},
		Required: []string{"value", "confidence", "quote"},
	}
	list := func() *genai.Schema { return &genai.Schema{Type: genai.TypeArray, Items: insight} }

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"philosophicalLeanings": list(),
			"epistemicStyle":        {Type: genai.TypeString},
			"argumentPatterns":      list(),
			"coreValues":            list(),
			"emotionalThemes":       list(),
			"motivationalDrivers":   list(),
			"vulnerabilities":       list(),
			"biographicalFacts":     list(),
			"psychologicalUpdate":   {Type: genai.TypeString},
		},
		Required: []string{
			"philosophicalLeanings", "epistemicStyle", "coreValues",
			"motivationalDrivers", "biographicalFacts", "psychologicalUpdate",
		},
	}
}
