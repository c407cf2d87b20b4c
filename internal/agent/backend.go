package agent

import (
	"context"
	"log/slog"
)

// NewBackend builds the gRPC backend when an address is configured and the
// Gemini backend otherwise. Both require a credential.
func NewBackend(ctx context.Context, cfg Config, logger *slog.Logger) (Backend, error) {
	if cfg.Address != "" {
		return NewGrpcClient(cfg, logger)
	}
	return NewGeminiBackend(ctx, cfg, logger)
}
