package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ashureev/socratic-mirror/internal/agent"
	"github.com/ashureev/socratic-mirror/internal/app"
	"github.com/ashureev/socratic-mirror/internal/domain"
	"github.com/ashureev/socratic-mirror/internal/persist"
	"github.com/ashureev/socratic-mirror/internal/turn"
	"github.com/spf13/cobra"
)

// withRuntime opens the saved state for the duration of fn.
func withRuntime(cmd *cobra.Command, opts *options, fn func(ctx context.Context, rt *runtime) error) error {
	logger := opts.cliLogger(cmd.ErrOrStderr())
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func newSessionsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List saved sessions, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, opts, func(_ context.Context, rt *runtime) error {
				return printSessions(cmd.OutOrStdout(), rt.state.Sessions(), rt.state.ActiveID())
			})
		},
	}
}

func printSessions(w io.Writer, sessions []domain.ChatSession, activeID string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tTITLE\tMESSAGES\tUPDATED")
	for _, s := range sessions {
		marker := ""
		if s.ID == activeID {
			marker = "*"
		}
		updated := time.UnixMilli(s.UpdatedAt).Format(time.DateTime)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", marker, s.ID, s.Title, len(s.Messages), updated)
	}
	return tw.Flush()
}

func newSayCmd(opts *options) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "say [message]",
		Short: "Send one message and stream the reply",
		Long: `Sends a message to the given session, or the active one, and prints the
reply as it streams. Profile analysis runs alongside and is saved before
the command exits.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return withRuntime(cmd, opts, func(ctx context.Context, rt *runtime) error {
				return runSay(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), rt, text, sessionID)
			})
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "target session id (defaults to the active session)")
	return cmd
}

func runSay(ctx context.Context, out, errOut io.Writer, rt *runtime, text, sessionID string) error {
	backend, err := agent.NewBackend(ctx, agentConfig(rt.cfg), rt.logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	convLog, err := conversationLogger(rt.cfg, rt.logger)
	if err != nil {
		return err
	}
	defer convLog.Close()

	turns := turn.New(rt.state, backend, backend,
		turn.WithLogger(rt.logger),
		turn.WithConversationLogger(convLog),
	)
	return streamTurn(ctx, out, errOut, rt.state, turns, text, sessionID)
}

// streamTurn submits text and prints the model reply as it grows.
func streamTurn(ctx context.Context, out, errOut io.Writer, state *app.State, turns *turn.Orchestrator, text, sessionID string) error {
	events, unsubscribe := state.Subscribe()
	defer unsubscribe()

	h, err := turns.Submit(ctx, text, sessionID)
	if err != nil {
		return err
	}

	printed := ""
	flush := func() {
		s, ok := state.Session(h.SessionID)
		if !ok {
			return
		}
		for i := len(s.Messages) - 1; i >= 0; i-- {
			if s.Messages[i].ID != h.ModelMessageID {
				continue
			}
			current := s.Messages[i].Text
			if strings.HasPrefix(current, printed) {
				fmt.Fprint(out, current[len(printed):])
			} else {
				fmt.Fprint(out, "\n"+current)
			}
			printed = current
			return
		}
	}

loop:
	for {
		select {
		case ev := <-events:
			if ev.Kind == app.EventMessages && ev.SessionID == h.SessionID {
				flush()
			}
		case <-h.DialogueDone():
			flush()
			break loop
		}
	}
	fmt.Fprintln(out)

	_ = h.Wait()
	fmt.Fprintf(errOut, "session: %s\n", h.SessionID)
	return h.DialogueErr()
}

func newExportCmd(opts *options) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the whole state as a backup document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, opts, func(_ context.Context, rt *runtime) error {
				data, err := rt.state.Export()
				if err != nil {
					return err
				}
				if output == "-" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				if err := os.WriteFile(output, data, 0o600); err != nil {
					return fmt.Errorf("write export: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "exported %d sessions to %s\n", len(rt.state.Sessions()), output)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", persist.ExportFileName, `output file, or "-" for stdout`)
	return cmd
}

func newImportCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "import [file]",
		Short: "Replace the whole state with a backup document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read import: %w", err)
			}
			return withRuntime(cmd, opts, func(ctx context.Context, rt *runtime) error {
				if err := rt.state.Import(ctx, blob); err != nil {
					var invalid *persist.ValidationError
					if errors.As(err, &invalid) {
						return fmt.Errorf("nothing imported: %w", invalid)
					}
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "imported %d sessions\n", len(rt.state.Sessions()))
				return nil
			})
		},
	}
}

func newResetCmd(opts *options) *cobra.Command {
	var purge bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Discard the profile and all sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, rt *runtime) error {
				if purge {
					if err := rt.gateway.Clear(ctx); err != nil {
						return err
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "deleted slot %s\n", rt.gateway.Slot())
					return nil
				}
				id, err := rt.state.Reset(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "reset; new session %s\n", id)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&purge, "purge", false, "delete the saved slot instead of writing a fresh state")
	return cmd
}

func newDemoCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Replace the whole state with the demo dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, rt *runtime) error {
				if err := rt.state.LoadDemo(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "loaded demo with %d sessions\n", len(rt.state.Sessions()))
				return nil
			})
		},
	}
}
