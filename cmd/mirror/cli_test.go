package main

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ashureev/socratic-mirror/internal/agent"
	"github.com/ashureev/socratic-mirror/internal/app"
	"github.com/ashureev/socratic-mirror/internal/persist"
	"github.com/ashureev/socratic-mirror/internal/profile"
	"github.com/ashureev/socratic-mirror/internal/store"
	"github.com/ashureev/socratic-mirror/internal/turn"
)

func isolateEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"CONFIG_FILE", "API_KEY", "GEMINI_API_KEY", "AGENT_ADDR", "STATE_SLOT", "DB_PATH"} {
		t.Setenv(key, "")
	}
	// An empty value is still "set"; drop the ones whose empty string is invalid.
	for _, key := range []string{"CONFIG_FILE", "STATE_SLOT", "DB_PATH"} {
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unsetenv %s: %v", key, err)
		}
	}
}

func runMirror(t *testing.T, dbPath string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--db", dbPath}, args...))
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestDemoThenSessions(t *testing.T) {
	isolateEnv(t)
	db := filepath.Join(t.TempDir(), "mirror.db")

	if _, _, err := runMirror(t, db, "demo"); err != nil {
		t.Fatalf("demo failed: %v", err)
	}
	out, _, err := runMirror(t, db, "sessions")
	if err != nil {
		t.Fatalf("sessions failed: %v", err)
	}
	if !strings.Contains(out, "TITLE") || !strings.Contains(out, "*") {
		t.Errorf("Expected a listing with an active marker, got:\n%s", out)
	}
}

func TestExportResetImport(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	db := filepath.Join(dir, "mirror.db")
	backup := filepath.Join(dir, "backup.json")

	if _, _, err := runMirror(t, db, "demo"); err != nil {
		t.Fatalf("demo failed: %v", err)
	}
	if _, _, err := runMirror(t, db, "export", "-o", backup); err != nil {
		t.Fatalf("export failed: %v", err)
	}
	before, _, _ := runMirror(t, db, "sessions")

	if _, _, err := runMirror(t, db, "reset"); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	afterReset, _, _ := runMirror(t, db, "sessions")
	if strings.Count(afterReset, "\n") != 2 {
		t.Errorf("Expected header and one session after reset, got:\n%s", afterReset)
	}

	if _, _, err := runMirror(t, db, "import", backup); err != nil {
		t.Fatalf("import failed: %v", err)
	}
	after, _, _ := runMirror(t, db, "sessions")
	if after != before {
		t.Errorf("Expected import to restore the listing.\nbefore:\n%s\nafter:\n%s", before, after)
	}
}

func TestImportRejectsInvalidDocument(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"chats":{}}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, _, err := runMirror(t, filepath.Join(dir, "mirror.db"), "import", bad)
	var invalid *persist.ValidationError
	if !errors.As(err, &invalid) {
		t.Fatalf("Expected a validation error, got %v", err)
	}
}

func TestResetPurgeDeletesSlot(t *testing.T) {
	isolateEnv(t)
	db := filepath.Join(t.TempDir(), "mirror.db")

	if _, _, err := runMirror(t, db, "demo"); err != nil {
		t.Fatalf("demo failed: %v", err)
	}
	if _, stderr, err := runMirror(t, db, "reset", "--purge"); err != nil || !strings.Contains(stderr, persist.DefaultSlot) {
		t.Fatalf("purge failed: %v (%s)", err, stderr)
	}

	repo, err := store.NewSQLite(db)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer repo.Close()
	slot, err := repo.GetSlot(context.Background(), persist.DefaultSlot)
	if err != nil || slot != nil {
		t.Errorf("Expected slot to be gone, got %v %v", slot, err)
	}
}

func TestSayRequiresCredential(t *testing.T) {
	isolateEnv(t)
	_, _, err := runMirror(t, filepath.Join(t.TempDir(), "mirror.db"), "say", "hello")
	if !errors.Is(err, agent.ErrMissingCredential) {
		t.Fatalf("Expected ErrMissingCredential, got %v", err)
	}
}

type scriptedDialogue struct{ chunks []string }

func (d scriptedDialogue) Stream(context.Context, agent.DialogueRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, c := range d.chunks {
			if !yield(c, nil) {
				return
			}
		}
	}
}

type silentAnalyzer struct{}

func (silentAnalyzer) Analyze(context.Context, agent.AnalysisRequest) (*profile.Analysis, error) {
	return nil, nil
}

func TestStreamTurnPrintsReply(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	state := app.New(persist.NewGateway(store.NewMemory()))
	if err := state.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	turns := turn.New(state, scriptedDialogue{chunks: []string{"What ", "do you ", "mean?"}}, silentAnalyzer{})

	var out, errOut bytes.Buffer
	if err := streamTurn(ctx, &out, &errOut, state, turns, "Truth is relative", ""); err != nil {
		t.Fatalf("streamTurn failed: %v", err)
	}
	if got := out.String(); got != "What do you mean?\n" {
		t.Errorf("Unexpected output %q", got)
	}
	if !strings.HasPrefix(errOut.String(), "session: ") {
		t.Errorf("Expected session id on stderr, got %q", errOut.String())
	}
}
