package registry

import (
	"testing"
	"time"

	"github.com/sjawhar/caption-relay/internal/caption"
)

func newSession(id string, tab int) Session {
	return Session{
		ID:        id,
		Title:     "Standup",
		Platform:  caption.PlatformMeet,
		TabID:     tab,
		StartedAt: time.Now().UTC(),
		State:     StateCreated,
	}
}

func TestInsertAndGet(t *testing.T) {
	store := NewStore()
	if err := store.Insert(newSession("s1", 1)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, ok := store.Get("s1")
	if !ok || got.State != StateCreated {
		t.Fatalf("expected created session, got %#v (ok=%v)", got, ok)
	}

	if err := store.Insert(newSession("", 2)); err == nil {
		t.Fatal("expected error for empty session id")
	}
	if err := store.Insert(newSession("s1", 3)); err == nil {
		t.Fatal("expected error for duplicate session id")
	}
}

func TestOneActiveSessionPerTab(t *testing.T) {
	store := NewStore()
	if err := store.Insert(newSession("s1", 1)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Insert(newSession("s2", 1)); err == nil {
		t.Fatal("expected error inserting second session for same tab")
	}

	store.End("s1")
	if err := store.Insert(newSession("s2", 1)); err != nil {
		t.Fatalf("Insert after end failed: %v", err)
	}
}

func TestActiveSetMatchesLifecycle(t *testing.T) {
	store := NewStore()
	_ = store.Insert(newSession("s1", 1))
	_ = store.Insert(newSession("s2", 2))

	ids := store.ActiveIDs()
	if len(ids) != 2 || ids[0] != "s1" || ids[1] != "s2" {
		t.Fatalf("unexpected active ids %v", ids)
	}

	ended, ok := store.End("s1")
	if !ok || ended.State != StateEnded {
		t.Fatalf("expected ended snapshot, got %#v (ok=%v)", ended, ok)
	}

	ids = store.ActiveIDs()
	if len(ids) != 1 || ids[0] != "s2" {
		t.Fatalf("expected only s2 active, got %v", ids)
	}

	if _, ok := store.ActiveByTab(1); ok {
		t.Fatal("tab 1 should have no active session after end")
	}
	if sess, ok := store.ActiveByTab(2); !ok || sess.ID != "s2" {
		t.Fatalf("expected s2 for tab 2, got %#v (ok=%v)", sess, ok)
	}
}

func TestAddCaptionsMonotonic(t *testing.T) {
	store := NewStore()
	_ = store.Insert(newSession("s1", 1))
	store.Activate("s1")

	count, ok := store.AddCaptions("s1", 3)
	if !ok || count != 3 {
		t.Fatalf("expected count 3, got %d (ok=%v)", count, ok)
	}
	count, _ = store.AddCaptions("s1", 7)
	if count != 10 {
		t.Fatalf("expected count 10, got %d", count)
	}
	if _, ok := store.AddCaptions("s1", -1); ok {
		t.Fatal("negative increments must be rejected")
	}
	if _, ok := store.AddCaptions("missing", 1); ok {
		t.Fatal("unknown session must be rejected")
	}
}

func TestActivate(t *testing.T) {
	store := NewStore()
	_ = store.Insert(newSession("s1", 1))

	if !store.Activate("s1") {
		t.Fatal("Activate failed for created session")
	}
	if !store.Activate("s1") {
		t.Fatal("Activate must be idempotent")
	}
	got, _ := store.Get("s1")
	if got.State != StateActive {
		t.Fatalf("expected active state, got %q", got.State)
	}

	store.End("s1")
	if store.Activate("s1") {
		t.Fatal("Activate must not resurrect an ended session")
	}
}
