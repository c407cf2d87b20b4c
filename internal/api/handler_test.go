//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ashureev/socratic-mirror/internal/agent"
	"github.com/ashureev/socratic-mirror/internal/app"
	"github.com/ashureev/socratic-mirror/internal/domain"
	"github.com/ashureev/socratic-mirror/internal/persist"
	"github.com/ashureev/socratic-mirror/internal/profile"
	"github.com/ashureev/socratic-mirror/internal/store"
	"github.com/ashureev/socratic-mirror/internal/turn"
	"github.com/go-chi/chi/v5"
)

type echoDialogue struct{ chunks []string }

func (d echoDialogue) Stream(context.Context, agent.DialogueRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, c := range d.chunks {
			if !yield(c, nil) {
				return
			}
		}
	}
}

type noAnalysis struct{}

func (noAnalysis) Analyze(context.Context, agent.AnalysisRequest) (*profile.Analysis, error) {
	return nil, nil
}

type testAPI struct {
	state  *app.State
	turns  *turn.Orchestrator
	repo   store.Repository
	server *httptest.Server
}

func newTestAPI(t *testing.T, opts ...Option) *testAPI {
	t.Helper()
	repo := store.NewMemory()
	state := app.New(persist.NewGateway(repo))
	if err := state.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	turns := turn.New(state, echoDialogue{chunks: []string{"Hello ", "there"}}, noAnalysis{})

	r := chi.NewRouter()
	NewHandler(state, turns, opts...).RegisterRoutes(r)
	NewHealthHandler(repo, nil).RegisterHealth(r)
	server := httptest.NewServer(r)
	t.Cleanup(func() {
		server.Close()
		turns.Wait()
	})
	return &testAPI{state: state, turns: turns, repo: repo, server: server}
}

func (a *testAPI) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, a.server.URL+path, rd)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return v
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusNotFound, "session not found")

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"error":"session not found"`) {
		t.Errorf("Unexpected body %s", w.Body.String())
	}
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)

	resp := a.do(t, http.MethodPost, "/api/sessions", "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", resp.StatusCode)
	}
	created := decodeBody[map[string]any](t, resp)
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("Expected session id in %v", created)
	}

	listing := decodeBody[struct {
		ActiveID string           `json:"active_id"`
		Sessions []sessionSummary `json:"sessions"`
	}](t, a.do(t, http.MethodGet, "/api/sessions", ""))
	if listing.ActiveID != id || len(listing.Sessions) != 2 {
		t.Fatalf("Unexpected listing %+v", listing)
	}

	if resp := a.do(t, http.MethodGet, "/api/sessions/"+id, ""); resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 for existing session, got %d", resp.StatusCode)
	}
	if resp := a.do(t, http.MethodPost, "/api/sessions/ghost/select", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 selecting a missing session, got %d", resp.StatusCode)
	}
	if resp := a.do(t, http.MethodDelete, "/api/sessions/"+id, ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected 204 on delete, got %d", resp.StatusCode)
	}
	if resp := a.do(t, http.MethodDelete, "/api/sessions/"+id, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 on second delete, got %d", resp.StatusCode)
	}
	if a.state.ActiveID() != "" {
		t.Errorf("Expected deleting the active session to clear the pointer, got %q", a.state.ActiveID())
	}
}

type sseEvent struct {
	name string
	data string
}

func readSSE(t *testing.T, body io.Reader) []sseEvent {
	t.Helper()
	var events []sseEvent
	var cur sseEvent
	sc := bufio.NewScanner(body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if cur.name != "" {
				events = append(events, cur)
			}
			cur = sseEvent{}
		}
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("Failed to read SSE stream: %v", err)
	}
	return events
}

func TestPostMessageStreamsReply(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	active := a.state.ActiveID()

	resp := a.do(t, http.MethodPost, "/api/messages", `{"text":"I am a software engineer"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Unexpected content type %q", ct)
	}

	events := readSSE(t, resp.Body)
	if len(events) < 3 {
		t.Fatalf("Expected turn, message and done events, got %+v", events)
	}
	if events[0].name != "turn" || !strings.Contains(events[0].data, active) {
		t.Errorf("Unexpected first event %+v", events[0])
	}
	last := events[len(events)-1]
	if last.name != "done" {
		t.Fatalf("Expected stream to end with done, got %+v", last)
	}
	var done turnDone
	if err := json.Unmarshal([]byte(last.data), &done); err != nil {
		t.Fatalf("Invalid done payload: %v", err)
	}
	if done.Reply != "Hello there" || done.Error != "" {
		t.Errorf("Unexpected done payload %+v", done)
	}

	a.turns.Wait()
	s, _ := a.state.Session(active)
	if len(s.Messages) != 2 || s.Messages[1].Text != "Hello there" {
		t.Errorf("Unexpected session messages %+v", s.Messages)
	}
}

func TestPostMessageRejectsEmptyText(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)

	if resp := a.do(t, http.MethodPost, "/api/messages", `{"text":"  "}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty text, got %d", resp.StatusCode)
	}
	if resp := a.do(t, http.MethodPost, "/api/messages", `not json`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid body, got %d", resp.StatusCode)
	}
}

func TestPostSessionMessageUnknownTargetCreatesSession(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	before := len(a.state.Sessions())

	resp := a.do(t, http.MethodPost, "/api/sessions/ghost/messages", `{"text":"hello"}`)
	events := readSSE(t, resp.Body)
	if len(events) == 0 || events[0].name != "turn" {
		t.Fatalf("Expected a turn event, got %+v", events)
	}
	var started turnStarted
	if err := json.Unmarshal([]byte(events[0].data), &started); err != nil {
		t.Fatalf("Invalid turn payload: %v", err)
	}
	if started.SessionID == "ghost" {
		t.Error("Expected a freshly created session id")
	}
	if got := len(a.state.Sessions()); got != before+1 {
		t.Errorf("Expected %d sessions, got %d", before+1, got)
	}
}

func TestControlsPatch(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)

	if resp := a.do(t, http.MethodPatch, "/api/controls", `{"depth":"bottomless"}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown depth, got %d", resp.StatusCode)
	}

	resp := a.do(t, http.MethodPatch, "/api/controls", `{"depth":"deep","inferenceEnabled":false}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	got := decodeBody[map[string]any](t, resp)
	if got["depth"] != "deep" || got["inferenceEnabled"] != false || got["grounding"] != false {
		t.Errorf("Unexpected controls %v", got)
	}
}

func TestSelfDescriptionAndDisagree(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)

	resp := a.do(t, http.MethodPut, "/api/profile/self-description", `{"selfDescription":"A curious engineer"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if a.state.Profile().SelfDescription != "A curious engineer" {
		t.Errorf("Self description not stored, got %q", a.state.Profile().SelfDescription)
	}

	if resp := a.do(t, http.MethodPost, "/api/profile/disagree", `{"category":"astrology","value":"Stoicism"}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown category, got %d", resp.StatusCode)
	}

	before := a.state.ActiveID()
	resp = a.do(t, http.MethodPost, "/api/profile/disagree", `{"category":"core value","value":"Honesty"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}
	started := decodeBody[turnStarted](t, resp)
	if started.SessionID == before || a.state.ActiveID() != started.SessionID {
		t.Errorf("Expected a new active session, got %+v (active %q)", started, a.state.ActiveID())
	}

	a.turns.Wait()
	s, _ := a.state.Session(started.SessionID)
	if len(s.Messages) == 0 || s.Messages[0].Text != turn.DisagreeText(domain.CategoryCoreValues, "Honesty") {
		t.Errorf("Unexpected challenge message %+v", s.Messages)
	}
}

func TestExportImport(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	if resp := a.do(t, http.MethodPost, "/api/demo", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 loading demo, got %d", resp.StatusCode)
	}

	resp := a.do(t, http.MethodGet, "/api/export", "")
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, persist.ExportFileName) {
		t.Errorf("Unexpected Content-Disposition %q", cd)
	}
	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read export: %v", err)
	}

	if resp := a.do(t, http.MethodPost, "/api/reset", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 on reset, got %d", resp.StatusCode)
	}
	if got := len(a.state.Sessions()); got != 1 {
		t.Fatalf("Expected one session after reset, got %d", got)
	}

	resp = a.do(t, http.MethodPost, "/api/import", `{"chats":{}}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected 400 for missing profile, got %d", resp.StatusCode)
	}
	if body := decodeBody[map[string]string](t, resp); !strings.Contains(body["error"], "userProfile") {
		t.Errorf("Expected error to name the missing field, got %q", body["error"])
	}

	if resp := a.do(t, http.MethodPost, "/api/import", string(blob)); resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 on import, got %d", resp.StatusCode)
	}
	restored, err := persist.Import(blob)
	if err != nil {
		t.Fatalf("Export was not importable: %v", err)
	}
	if got := len(a.state.Sessions()); got != len(restored.Chats) {
		t.Errorf("Expected %d sessions after import, got %d", len(restored.Chats), got)
	}
	if a.state.ActiveID() != restored.ActiveChatID {
		t.Errorf("Expected active %q, got %q", restored.ActiveChatID, a.state.ActiveID())
	}
}

func TestImportTooLarge(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, WithMaxImportBytes(16))

	resp := a.do(t, http.MethodPost, "/api/import", `{"chats":{},"userProfile":{"philosophy":{}}}`)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %d", resp.StatusCode)
	}
}

func TestStatusAndHealth(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)

	status := decodeBody[map[string]any](t, a.do(t, http.MethodGet, "/api/status", ""))
	if status["busy"] != false || status["active_id"] != a.state.ActiveID() {
		t.Errorf("Unexpected status %v", status)
	}

	resp := a.do(t, http.MethodGet, "/api/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected healthy, got %d", resp.StatusCode)
	}
}
