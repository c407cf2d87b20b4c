package persist

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ashureev/socratic-mirror/internal/domain"
	"github.com/ashureev/socratic-mirror/internal/store"
	"github.com/google/go-cmp/cmp"
)

var demoTime = time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)

func TestExportImportRoundTrip(t *testing.T) {
	t.Parallel()

	want := domain.DemoState(demoTime)
	blob, err := Export(want)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	got, err := Import(blob)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestImportRequiresChatsAndProfile(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"chats":       `{"userProfile":{"philosophy":{}}}`,
		"userProfile": `{"chats":{}}`,
		"":            `not json`,
	}
	for field, doc := range cases {
		_, err := Import([]byte(doc))
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%q: expected ValidationError, got %v", doc, err)
		}
		if verr.Field != field {
			t.Errorf("%q: expected field %q, got %q", doc, field, verr.Field)
		}
	}
}

func TestImportDefaultsControlsAndActive(t *testing.T) {
	t.Parallel()

	doc := `{
		"chats": {
			"a": {"id":"a","title":"Old","messages":[],"createdAt":1,"updatedAt":10},
			"b": {"id":"b","title":"New","messages":[],"createdAt":2,"updatedAt":20}
		},
		"activeChatId": "missing",
		"userProfile": {"name":"Sam","philosophy":{"epistemicStyle":"Intuitive"}}
	}`
	st, err := Import([]byte(doc))
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if st.ActiveChatID != "b" {
		t.Errorf("Expected fallback to most recent session, got %q", st.ActiveChatID)
	}
	if st.Controls != domain.InitialControls() {
		t.Errorf("Expected initial controls, got %+v", st.Controls)
	}
	if st.UserProfile.Name != "Sam" || st.UserProfile.Philosophy.Leanings == nil {
		t.Errorf("Unexpected profile %+v", st.UserProfile)
	}
}

func TestImportEmptyChatsHasNoActive(t *testing.T) {
	t.Parallel()

	st, err := Import([]byte(`{"chats":{},"activeChatId":"x","userProfile":{"philosophy":{}}}`))
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if st.ActiveChatID != "" {
		t.Errorf("Expected no active session, got %q", st.ActiveChatID)
	}
}

func TestGatewayLoadEmpty(t *testing.T) {
	t.Parallel()

	g := NewGateway(store.NewMemory())
	if _, err := g.Load(context.Background()); !errors.Is(err, ErrNoState) {
		t.Fatalf("Expected ErrNoState, got %v", err)
	}
}

func TestGatewayLoadIncompatible(t *testing.T) {
	t.Parallel()

	for _, payload := range []string{
		`{"chats":{},"userProfile":{"name":"old v1 profile","traits":[]}}`,
		`{"chats":{}}`,
		`{broken`,
	} {
		repo := store.NewMemory()
		if err := repo.PutSlot(context.Background(), DefaultSlot, []byte(payload)); err != nil {
			t.Fatalf("PutSlot failed: %v", err)
		}
		if _, err := NewGateway(repo).Load(context.Background()); !errors.Is(err, ErrIncompatibleState) {
			t.Errorf("%s: expected ErrIncompatibleState, got %v", payload, err)
		}
	}
}

func TestGatewaySaveLoad(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	g := NewGateway(store.NewMemory(), WithSlot("custom"))
	want := domain.DemoState(demoTime)
	want.Controls = domain.ControlState{Depth: domain.DepthDeep, Grounding: true}
	if err := g.Save(ctx, want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := g.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Load mismatch (-want +got):\n%s", diff)
	}
}

func TestGatewayLoadDefaultsMissingSections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	repo := store.NewMemory()
	_ = repo.PutSlot(ctx, DefaultSlot, []byte(`{"activeChatId":null,"userProfile":{"philosophy":{}}}`))

	st, err := NewGateway(repo).Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if st.Chats == nil || len(st.Chats) != 0 {
		t.Errorf("Expected empty chats, got %+v", st.Chats)
	}
	if st.Controls != domain.InitialControls() {
		t.Errorf("Expected initial controls, got %+v", st.Controls)
	}
}

func TestGatewayDropLegacy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	repo := store.NewMemory()
	_ = repo.PutSlot(ctx, LegacySlot, []byte(`{}`))
	if err := NewGateway(repo).DropLegacy(ctx); err != nil {
		t.Fatalf("DropLegacy failed: %v", err)
	}
	if slot, _ := repo.GetSlot(ctx, LegacySlot); slot != nil {
		t.Error("Expected legacy slot to be removed")
	}
}
