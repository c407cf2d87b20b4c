package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/ashureev/socratic-mirror/internal/domain"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestStore() *Store {
	clock := &fakeClock{t: time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)}
	n := 0
	return NewStore(WithClock(clock.Now), WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("s%d", n)
	}))
}

func TestStore_CreateSetsActive(t *testing.T) {
	s := newTestStore()
	id := s.Create()

	if s.ActiveID() != id {
		t.Fatalf("Expected active %q, got %q", id, s.ActiveID())
	}
	c, ok := s.Get(id)
	if !ok {
		t.Fatal("Expected session to exist")
	}
	if c.Title != domain.DefaultSessionTitle || len(c.Messages) != 0 {
		t.Errorf("Unexpected new session %+v", c)
	}
}

func TestStore_TitleDerivedOnce(t *testing.T) {
	s := newTestStore()
	id := s.Create()

	first := domain.Message{ID: "m1", Role: domain.RoleUser, Text: "I believe truth is relative and nothing is fixed"}
	c, _ := s.SetMessages(id, []domain.Message{first})
	if c.Title != "I believe truth is relative an..." {
		t.Fatalf("Unexpected title %q", c.Title)
	}

	second := domain.Message{ID: "m2", Role: domain.RoleUser, Text: "Something else entirely"}
	c, _ = s.SetMessages(id, []domain.Message{second, first})
	if c.Title != "I believe truth is relative an..." {
		t.Errorf("Title must not change after derivation, got %q", c.Title)
	}
}

func TestStore_SetMessagesBumpsUpdatedAt(t *testing.T) {
	s := newTestStore()
	id := s.Create()
	before, _ := s.Get(id)

	after, ok := s.SetMessages(id, nil)
	if !ok {
		t.Fatal("Expected SetMessages to succeed")
	}
	if after.UpdatedAt <= before.UpdatedAt {
		t.Errorf("Expected UpdatedAt to advance, got %d <= %d", after.UpdatedAt, before.UpdatedAt)
	}
	if after.Title != domain.DefaultSessionTitle {
		t.Errorf("Empty message list must keep the placeholder, got %q", after.Title)
	}
}

func TestStore_SetMessagesUnknownSession(t *testing.T) {
	s := newTestStore()
	if _, ok := s.SetMessages("missing", []domain.Message{{ID: "m"}}); ok {
		t.Fatal("Expected unknown session to be rejected")
	}
	if s.Len() != 0 {
		t.Errorf("Expected no session to be created, got %d", s.Len())
	}
}

func TestStore_DeleteActiveClearsPointer(t *testing.T) {
	s := newTestStore()
	a := s.Create()
	b := s.Create()

	s.Delete(b)
	if s.ActiveID() != "" {
		t.Fatalf("Expected no active session, got %q", s.ActiveID())
	}

	s.Select(a)
	s.Delete("other")
	if s.ActiveID() != a {
		t.Errorf("Deleting another session must keep the pointer, got %q", s.ActiveID())
	}
}

func TestStore_SelectMissingDegrades(t *testing.T) {
	s := newTestStore()
	s.Create()
	s.Select("ghost")

	if _, ok := s.Active(); ok {
		t.Fatal("Expected dangling active pointer to yield no session")
	}
	if s.ActiveID() != "ghost" {
		t.Errorf("Expected pointer to be kept, got %q", s.ActiveID())
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	s := newTestStore()
	a := s.Create()
	b := s.Create()
	c := s.Create()
	s.SetMessages(a, []domain.Message{{ID: "m", Text: "bump"}})

	list := s.List()
	if len(list) != 3 {
		t.Fatalf("Expected 3 sessions, got %d", len(list))
	}
	if list[0].ID != a || list[1].ID != c || list[2].ID != b {
		t.Errorf("Unexpected order: %s %s %s", list[0].ID, list[1].ID, list[2].ID)
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := newTestStore()
	id := s.Create()
	s.SetMessages(id, []domain.Message{{ID: "m1", Text: "original"}})

	c, _ := s.Get(id)
	c.Messages[0].Text = "tampered"

	again, _ := s.Get(id)
	if again.Messages[0].Text != "original" {
		t.Fatalf("Store state leaked through a returned copy")
	}
}
