// Mirror - reflective dialogue server and CLI.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ashureev/socratic-mirror/internal/agent"
	"github.com/ashureev/socratic-mirror/internal/app"
	"github.com/ashureev/socratic-mirror/internal/config"
	"github.com/ashureev/socratic-mirror/internal/persist"
	"github.com/ashureev/socratic-mirror/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// options are the global flags shared by every subcommand.
type options struct {
	verbose bool
	dbPath  string
	slot    string
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "mirror",
		Short: "Socratic Mirror - a reflective dialogue partner that learns who you are",
		Long: `Mirror holds Socratic conversations and builds an evidence-backed profile
of the user's philosophy, values and biography from what they say.

Run "mirror serve" to start the HTTP and WebSocket server, or use the other
subcommands to work with the saved state from the terminal.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "path to the SQLite database (overrides DB_PATH)")
	root.PersistentFlags().StringVar(&opts.slot, "slot", "", "state slot name (overrides STATE_SLOT)")

	root.AddCommand(
		newServeCmd(opts),
		newSessionsCmd(opts),
		newSayCmd(opts),
		newExportCmd(opts),
		newImportCmd(opts),
		newResetCmd(opts),
		newDemoCmd(opts),
	)
	return root
}

// loadConfig loads configuration and applies the global flag overrides.
func (o *options) loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if o.dbPath != "" {
		cfg.DBPath = o.dbPath
	}
	if o.slot != "" {
		cfg.StateSlot = o.slot
	}
	return cfg, nil
}

// cliLogger logs as text to w, warnings only unless verbose.
func (o *options) cliLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// runtime is the opened state and everything it depends on.
type runtime struct {
	cfg     *config.Config
	repo    store.Repository
	gateway *persist.Gateway
	state   *app.State
	logger  *slog.Logger
}

func openRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	if err := repo.Ping(ctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("database health check: %w", err)
	}

	gateway := persist.NewGateway(repo, persist.WithSlot(cfg.StateSlot), persist.WithLogger(logger))
	state := app.New(gateway, app.WithLogger(logger))
	if err := state.Start(ctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("restore state: %w", err)
	}
	return &runtime{cfg: cfg, repo: repo, gateway: gateway, state: state, logger: logger}, nil
}

func (rt *runtime) Close() {
	if err := rt.repo.Close(); err != nil {
		rt.logger.Error("Failed to close repository", "error", err)
	}
}

func agentConfig(cfg *config.Config) agent.Config {
	return agent.Config{
		APIKey:        cfg.APIKey,
		DialogueModel: cfg.DialogueModel,
		AnalysisModel: cfg.AnalysisModel,
		Address:       cfg.AgentAddr,
	}
}

func conversationLogger(cfg *config.Config, logger *slog.Logger) (agent.ConversationLogger, error) {
	return agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:   cfg.ConversationLog.Enabled,
		Dir:       cfg.ConversationLog.Dir,
		QueueSize: cfg.ConversationLog.QueueSize,
	}, logger)
}
