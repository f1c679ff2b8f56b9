// ABOUTME: Tests for SQLite storage implementation
// ABOUTME: Covers keyed CRUD, transactional updates, walks and compound-key range scans

package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harper/feedsync/internal/keys"
	"github.com/harper/feedsync/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testEntry(feedURL, guid string, date time.Time) *models.Entry {
	return &models.Entry{
		Hash:        keys.EntryKey(feedURL, guid),
		FeedDate:    keys.EntryCompoundKey(keys.FeedKey(feedURL), date),
		Title:       "title " + guid,
		Date:        date,
		RemoteState: models.LocalOnly,
	}
}

func TestNewSQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestSubscriptionCRUD(t *testing.T) {
	store := newTestStore(t)

	url := "https://example.com/feed.xml"
	sub := models.NewSubscription(url, keys.FeedKey(url))
	sub.Tags = "go,news"
	sub.SetCacheHeaders(`"etag"`, "")
	now := time.Now().Truncate(time.Second)
	sub.LastFetchedAt = &now

	if err := store.PutSubscription(sub); err != nil {
		t.Fatalf("PutSubscription failed: %v", err)
	}

	got, err := store.GetSubscription(url)
	if err != nil {
		t.Fatalf("GetSubscription failed: %v", err)
	}
	if got.Hash != sub.Hash || got.Tags != "go,news" {
		t.Errorf("mismatch: got %+v", got)
	}
	if got.RemoteState != models.LocalOnly {
		t.Errorf("RemoteState: got %s", got.RemoteState)
	}
	if got.ETag == nil || *got.ETag != `"etag"` {
		t.Errorf("ETag: got %v", got.ETag)
	}
	if got.LastFetchedAt == nil || !got.LastFetchedAt.Equal(now) {
		t.Errorf("LastFetchedAt: got %v, want %v", got.LastFetchedAt, now)
	}

	// Put replaces
	sub.IsUnsubscribed = true
	sub.RemoteState = models.Synced
	if err := store.PutSubscription(sub); err != nil {
		t.Fatalf("PutSubscription (replace) failed: %v", err)
	}
	got, _ = store.GetSubscription(url)
	if !got.IsUnsubscribed || got.RemoteState != models.Synced {
		t.Errorf("replace not applied: %+v", got)
	}

	if err := store.DeleteSubscription(url); err != nil {
		t.Fatalf("DeleteSubscription failed: %v", err)
	}
	if _, err := store.GetSubscription(url); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.DeleteSubscription(url); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestUpdateSubscription(t *testing.T) {
	store := newTestStore(t)
	url := "https://example.com/feed.xml"

	// Absent record: fn sees nil and may create it
	written, err := store.UpdateSubscription(url, func(cur *models.Subscription) Result[*models.Subscription] {
		if cur != nil {
			t.Errorf("expected nil current record")
		}
		return Write(models.NewSubscription(url, keys.FeedKey(url)))
	})
	if err != nil || !written {
		t.Fatalf("expected write, got %v %v", written, err)
	}

	// Skip leaves the record alone
	written, err = store.UpdateSubscription(url, func(cur *models.Subscription) Result[*models.Subscription] {
		return Skip[*models.Subscription]()
	})
	if err != nil || written {
		t.Fatalf("expected no write, got %v %v", written, err)
	}

	// Changing the key is rejected
	_, err = store.UpdateSubscription(url, func(cur *models.Subscription) Result[*models.Subscription] {
		c := cur.Clone()
		c.URL = "https://other"
		return Write(c)
	})
	if err == nil {
		t.Fatal("expected error when the key changes")
	}
}

func TestConcurrentUpdatesSerialize(t *testing.T) {
	store := newTestStore(t)
	url := "https://example.com/feed.xml"
	if err := store.PutSubscription(models.NewSubscription(url, keys.FeedKey(url))); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.UpdateSubscription(url, func(cur *models.Subscription) Result[*models.Subscription] {
				c := cur.Clone()
				c.ErrorCount++
				return Write(c)
			})
			if err != nil {
				t.Errorf("update failed: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := store.GetSubscription(url)
	if got.ErrorCount != 20 {
		t.Errorf("expected 20 increments, got %d", got.ErrorCount)
	}
}

func TestWalkSubscriptions(t *testing.T) {
	store := newTestStore(t)
	for _, u := range []string{"https://c", "https://a", "https://b"} {
		store.PutSubscription(models.NewSubscription(u, keys.FeedKey(u)))
	}

	var seen []string
	written, err := store.WalkSubscriptions(func(s *models.Subscription) Result[*models.Subscription] {
		seen = append(seen, s.URL)
		switch s.URL {
		case "https://a":
			s.RemoteState = models.Synced
			return Write(s)
		case "https://b":
			return Stop[*models.Subscription]()
		}
		return Skip[*models.Subscription]()
	})
	if err != nil {
		t.Fatalf("walk failed: %v", err)
	}
	if written != 1 {
		t.Errorf("expected 1 write, got %d", written)
	}
	if len(seen) != 2 || seen[0] != "https://a" || seen[1] != "https://b" {
		t.Errorf("unexpected visit order %v", seen)
	}
	got, _ := store.GetSubscription("https://a")
	if got.RemoteState != models.Synced {
		t.Errorf("write not persisted")
	}
}

func TestEntryCRUDAndUpdate(t *testing.T) {
	store := newTestStore(t)
	date := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	e := testEntry("https://a/feed", "1", date)

	if err := store.PutEntry(e); err != nil {
		t.Fatalf("PutEntry failed: %v", err)
	}
	got, err := store.GetEntry(e.Hash)
	if err != nil {
		t.Fatalf("GetEntry failed: %v", err)
	}
	if got.FeedDate != e.FeedDate || !got.Date.Equal(date) {
		t.Errorf("mismatch: %+v", got)
	}

	written, err := store.UpdateEntry(e.Hash, func(cur *models.Entry) Result[*models.Entry] {
		cur.IsRead = true
		return Write(cur)
	})
	if err != nil || !written {
		t.Fatalf("UpdateEntry: %v %v", written, err)
	}
	got, _ = store.GetEntry(e.Hash)
	if !got.IsRead {
		t.Error("expected read flag to persist")
	}

	if _, err := store.GetEntry("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPutEntryRejectsMalformedCompoundKey(t *testing.T) {
	store := newTestStore(t)
	e := testEntry("https://a/feed", "1", time.Now())
	e.FeedDate = "noseparator"
	if err := store.PutEntry(e); !errors.Is(err, keys.ErrMalformedKey) {
		t.Errorf("expected ErrMalformedKey, got %v", err)
	}
}

func TestWalkFeedEntriesRange(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)

	store.PutEntry(testEntry("https://a/feed", "old", base.Add(-48*time.Hour)))
	store.PutEntry(testEntry("https://a/feed", "mid", base.Add(-time.Hour)))
	store.PutEntry(testEntry("https://a/feed", "new", base))
	store.PutEntry(testEntry("https://a/feed", "future", base.Add(time.Hour)))
	store.PutEntry(testEntry("https://b/feed", "other", base))

	var titles []string
	_, err := store.WalkFeedEntries(keys.FeedKey("https://a/feed"), base, func(e *models.Entry) Result[*models.Entry] {
		titles = append(titles, e.Title)
		if len(titles) == 2 {
			return Stop[*models.Entry]()
		}
		return Skip[*models.Entry]()
	})
	if err != nil {
		t.Fatalf("walk failed: %v", err)
	}
	want := []string{"title new", "title mid"}
	if len(titles) != len(want) || titles[0] != want[0] || titles[1] != want[1] {
		t.Errorf("got %v, want %v", titles, want)
	}
}

func TestWalkFeedEntriesUnbounded(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	store.PutEntry(testEntry("https://a/feed", "scheduled", now.Add(3*time.Hour)))
	store.PutEntry(testEntry("https://a/feed", "today", now))
	store.PutEntry(testEntry("https://a/feed", "ancient", time.Date(1969, 7, 20, 20, 17, 0, 0, time.UTC)))
	store.PutEntry(testEntry("https://b/feed", "other", now.Add(time.Hour)))

	var titles []string
	_, err := store.WalkFeedEntries(keys.FeedKey("https://a/feed"), time.Time{}, func(e *models.Entry) Result[*models.Entry] {
		titles = append(titles, e.Title)
		return Skip[*models.Entry]()
	})
	if err != nil {
		t.Fatalf("walk failed: %v", err)
	}
	want := []string{"title scheduled", "title today", "title ancient"}
	if strings.Join(titles, ",") != strings.Join(want, ",") {
		t.Errorf("got %v, want %v", titles, want)
	}
}

func TestWalkEntriesWrites(t *testing.T) {
	store := newTestStore(t)
	store.PutEntry(testEntry("https://a/feed", "1", time.Now()))
	store.PutEntry(testEntry("https://a/feed", "2", time.Now()))

	written, err := store.WalkEntries(func(e *models.Entry) Result[*models.Entry] {
		e.RemoteState = models.Synced
		return Write(e)
	})
	if err != nil || written != 2 {
		t.Fatalf("expected 2 writes, got %d %v", written, err)
	}
	_, _ = store.WalkEntries(func(e *models.Entry) Result[*models.Entry] {
		if e.RemoteState != models.Synced {
			t.Errorf("entry %s not synced", e.Hash)
		}
		return Skip[*models.Entry]()
	})
}

func TestPreferences(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetPref("node_id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.SetPref("node_id", "abc"); err != nil {
		t.Fatal(err)
	}
	if err := store.SetPref("node_id", "def"); err != nil {
		t.Fatal(err)
	}
	v, err := store.GetPref("node_id")
	if err != nil || v != "def" {
		t.Errorf("got %q %v", v, err)
	}
}

func TestReopenKeepsSchemaAndData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if got := store.SchemaVersion(); got != 1 {
		t.Errorf("expected schema version 1, got %d", got)
	}
	if err := store.SetPref("theme", "dark"); err != nil {
		t.Fatalf("SetPref failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	store, err = NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer store.Close()
	if got := store.SchemaVersion(); got != 1 {
		t.Errorf("expected schema version 1 after reopen, got %d", got)
	}
	v, err := store.GetPref("theme")
	if err != nil || v != "dark" {
		t.Errorf("expected preference to survive reopen, got %q, %v", v, err)
	}
}
