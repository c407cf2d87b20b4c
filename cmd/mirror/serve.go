package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/socratic-mirror/internal/agent"
	"github.com/ashureev/socratic-mirror/internal/api"
	"github.com/ashureev/socratic-mirror/internal/identity"
	"github.com/ashureev/socratic-mirror/internal/live"
	"github.com/ashureev/socratic-mirror/internal/middleware"
	"github.com/ashureev/socratic-mirror/internal/turn"
	"github.com/ashureev/socratic-mirror/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and viewer WebSocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

//nolint:funlen // Startup wiring is intentionally sequential to keep dependency setup explicit.
func runServe(ctx context.Context, opts *options) error {
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	cfg, err := opts.loadConfig()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return err
	}

	slog.Info("Starting server", "addr", cfg.Addr(), "db_path", cfg.DBPath, "slot", cfg.StateSlot)

	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		slog.Error("Failed to open state", "error", err)
		return err
	}
	defer rt.Close()
	slog.Info("State restored", "sessions", len(rt.state.Sessions()), "active_session", rt.state.ActiveID())

	backend, err := agent.NewBackend(ctx, agentConfig(cfg), logger)
	if err != nil {
		slog.Error("Failed to initialize model backend", "error", err)
		return err
	}
	defer func() {
		if closeErr := backend.Close(); closeErr != nil {
			slog.Warn("Failed to close model backend", "error", closeErr)
		}
	}()

	convLog, err := conversationLogger(cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		return err
	}
	defer func() {
		if closeErr := convLog.Close(); closeErr != nil {
			slog.Warn("Failed to close conversation logger", "error", closeErr)
		}
	}()

	turns := turn.New(rt.state, backend, backend,
		turn.WithLogger(logger),
		turn.WithConversationLogger(convLog),
	)

	var agentHealth api.Pinger
	if p, ok := backend.(api.Pinger); ok {
		agentHealth = p
	}

	registry := live.NewRegistry(logger)
	apiHandler := api.NewHandler(rt.state, turns,
		api.WithLogger(logger),
		api.WithMaxImportBytes(cfg.MaxImportBytes),
	)
	healthHandler := api.NewHealthHandler(rt.repo, agentHealth)
	viewHandler := live.NewHandler(rt.state, turns, registry,
		live.WithAllowedOrigins(cfg.AllowedOrigins),
		live.WithBulkDelay(cfg.RevealBulkDelay),
		live.WithLogger(logger),
	)

	// Setup router.
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(identity.Middleware(!cfg.IsLoopback()))

	healthHandler.RegisterHealth(r)
	apiHandler.RegisterRoutes(r)
	r.Get("/ws/view", viewHandler.ServeHTTP)

	if cfg.StaticDir != "" {
		slog.Info("Serving browser client", "dir", cfg.StaticDir)
		r.Handle("/*", web.SPAHandler(os.DirFS(cfg.StaticDir)))
	}

	// SSE turn streams need long writes, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			slog.Error("Server failed", "error", err)
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	registry.CloseAll("server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return err
	}

	// Let running turns write their results before the store closes.
	waitDone := make(chan struct{})
	go func() {
		turns.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-shutdownCtx.Done():
		slog.Warn("Turns still running at shutdown", "in_flight", turns.InFlight())
	}

	slog.Info("Server stopped successfully")
	return nil
}
