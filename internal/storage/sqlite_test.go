package storage

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sjawhar/caption-relay/internal/caption"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func TestSQLitePragmas(t *testing.T) {
	store := newTestSQLiteStore(t)

	var mode string
	if err := store.DB().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("PRAGMA journal_mode failed: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("expected journal_mode wal, got %q", mode)
	}

	var timeout int
	if err := store.DB().QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("PRAGMA busy_timeout failed: %v", err)
	}
	if timeout < 5000 {
		t.Fatalf("expected busy_timeout >= 5000, got %d", timeout)
	}
}

func TestSQLiteCRUD(t *testing.T) {
	store := newTestSQLiteStore(t)

	startedAt := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	sessionID := "session_1787997600000_abcd1234"
	created, err := store.CreateSession(sessionID, "Weekly Sync", string(caption.PlatformMeet), 3, startedAt)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if !created {
		t.Fatal("expected first create to insert")
	}

	batch := []caption.Event{
		{Speaker: "Alice", Text: "Ship the relay.", Platform: caption.PlatformMeet, Timestamp: startedAt.Add(2 * time.Second)},
		{Speaker: "Bob", Text: "Agreed.", Platform: caption.PlatformMeet, Timestamp: startedAt.Add(4 * time.Second)},
	}
	if err := store.AppendCaptions(sessionID, batch); err != nil {
		t.Fatalf("AppendCaptions failed: %v", err)
	}

	if err := store.UpdateSummary(sessionID, "## Summary\n- done", SummaryCompleted); err != nil {
		t.Fatalf("UpdateSummary failed: %v", err)
	}

	if err := store.EndSession(sessionID, startedAt.Add(30*time.Second)); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	session, err := store.GetSession(sessionID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if session.Status != "ended" {
		t.Fatalf("expected status ended, got %q", session.Status)
	}
	if session.Title != "Weekly Sync" || session.Platform != string(caption.PlatformMeet) || session.TabID != 3 {
		t.Fatalf("unexpected session metadata %#v", session)
	}
	if session.CaptionCount != 2 {
		t.Fatalf("expected caption_count 2, got %d", session.CaptionCount)
	}
	if session.SummaryStatus != SummaryCompleted {
		t.Fatalf("expected summary_status %q, got %q", SummaryCompleted, session.SummaryStatus)
	}

	captions, err := store.GetCaptions(sessionID)
	if err != nil {
		t.Fatalf("GetCaptions failed: %v", err)
	}
	if len(captions) != 2 {
		t.Fatalf("expected 2 captions, got %d", len(captions))
	}
	if captions[0].Text != "Ship the relay." || captions[0].Speaker != "Alice" {
		t.Fatalf("unexpected first caption %#v", captions[0])
	}
	if captions[1].SessionID != sessionID {
		t.Fatalf("expected caption session id %q, got %q", sessionID, captions[1].SessionID)
	}

	sessionsByDate, err := store.GetSessionsByDate("2026-08-26")
	if err != nil {
		t.Fatalf("GetSessionsByDate failed: %v", err)
	}
	if len(sessionsByDate) != 1 {
		t.Fatalf("expected 1 session for date, got %d", len(sessionsByDate))
	}

	dates, err := store.GetDates()
	if err != nil {
		t.Fatalf("GetDates failed: %v", err)
	}
	if len(dates) != 1 || dates[0] != "2026-08-26" {
		t.Fatalf("expected dates [2026-08-26], got %#v", dates)
	}
}

func TestCreateSessionIsIdempotent(t *testing.T) {
	store := newTestSQLiteStore(t)

	startedAt := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	created, err := store.CreateSession("s1", "Standup", string(caption.PlatformMeet), 1, startedAt)
	if err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if !created {
		t.Fatal("expected first create to insert")
	}

	// A replayed create must not clobber the existing row.
	created, err = store.CreateSession("s1", "Other Title", string(caption.PlatformTeams), 9, startedAt.Add(time.Hour))
	if err != nil {
		t.Fatalf("replayed create failed: %v", err)
	}
	if created {
		t.Fatal("expected replayed create to be ignored")
	}

	session, err := store.GetSession("s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if session.Title != "Standup" || session.TabID != 1 {
		t.Fatalf("replayed create mutated the row: %#v", session)
	}
}

func TestSQLiteSummaryClaimIsIdempotent(t *testing.T) {
	store := newTestSQLiteStore(t)

	claimed, err := store.ClaimSummaryRequest("s1", "hash-1")
	if err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if !claimed {
		t.Fatal("expected first claim to be accepted")
	}

	claimed, err = store.ClaimSummaryRequest("s1", "hash-1")
	if err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	if claimed {
		t.Fatal("expected second claim to be ignored")
	}
}

func TestSQLiteConcurrentAccess(t *testing.T) {
	store := newTestSQLiteStore(t)

	startedAt := time.Now().UTC()
	sessionID := "session_concurrent"
	if _, err := store.CreateSession(sessionID, "Load Test", string(caption.PlatformZoom), 2, startedAt); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_ = store.AppendCaptions(sessionID, []caption.Event{{
				Speaker:   fmt.Sprintf("speaker-%d", idx%3),
				Text:      fmt.Sprintf("caption-%d", idx),
				Platform:  caption.PlatformZoom,
				Timestamp: startedAt.Add(time.Duration(idx) * time.Second),
			}})
			_, _ = store.GetSession(sessionID)
		}(i)
	}
	wg.Wait()

	captions, err := store.GetCaptions(sessionID)
	if err != nil {
		t.Fatalf("GetCaptions failed: %v", err)
	}
	if len(captions) != 20 {
		t.Fatalf("expected 20 captions, got %d", len(captions))
	}

	session, err := store.GetSession(sessionID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if session.CaptionCount != 20 {
		t.Fatalf("expected caption_count 20, got %d", session.CaptionCount)
	}
}
