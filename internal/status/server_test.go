// ABOUTME: Tests for the status API routes
// ABOUTME: Drives a real engine over a temp SQLite store with an httptest feed server

package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harper/feedsync/internal/engine"
	"github.com/harper/feedsync/internal/fetch"
	"github.com/harper/feedsync/internal/remote/remotetest"
	"github.com/harper/feedsync/internal/storage"
)

const testFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Example Blog</title>
    <link>https://example.com</link>
    <item>
      <title>First Post</title>
      <link>https://example.com/1</link>
      <guid>post-1</guid>
      <pubDate>Mon, 01 Jan 2024 10:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Second Post</title>
      <link>https://example.com/2</link>
      <guid>post-2</guid>
      <pubDate>Tue, 02 Jan 2024 10:00:00 GMT</pubDate>
    </item>
  </channel>
</rss>`

func setup(t *testing.T) (*Server, *engine.Engine, string) {
	t.Helper()
	feeds := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testFeed))
	}))
	t.Cleanup(feeds.Close)

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "feedsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	eng, err := engine.New(engine.Options{
		Store:   store,
		Remote:  remotetest.New("node-a"),
		Fetcher: fetch.NewTransport(5 * time.Second),
	})
	require.NoError(t, err)
	t.Cleanup(eng.Close)

	return New(eng, nil), eng, feeds.URL + "/feed.xml"
}

func do(t *testing.T, h http.Handler, method, target string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func TestHealth(t *testing.T) {
	srv, _, _ := setup(t)

	var body map[string]string
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/healthz", &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "disconnected", body["connectivity"])
}

func TestFetchAndFeeds(t *testing.T) {
	srv, eng, feedURL := setup(t)
	ctx := context.Background()
	_, err := eng.Subscribe(ctx, feedURL, "go, news")
	require.NoError(t, err)

	var results []FetchResult
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/api/fetch?url="+feedURL, &results))
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].New)
	assert.Empty(t, results[0].Error)

	var feeds []Feed
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/api/feeds", &feeds))
	require.Len(t, feeds, 1)
	assert.Equal(t, feedURL, feeds[0].URL)
	assert.Equal(t, "Example Blog", feeds[0].Title)
	assert.Equal(t, []string{"go", "news"}, feeds[0].Tags)

	results = nil
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/api/fetch", &results))
	require.Len(t, results, 1)
	assert.Equal(t, 0, results[0].New)
}

func TestFetchUnknownFeed(t *testing.T) {
	srv, _, _ := setup(t)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodPost, "/api/fetch?url=https://nowhere.example/feed", nil))
}

func TestMarkReadAndStats(t *testing.T) {
	srv, eng, feedURL := setup(t)
	ctx := context.Background()
	_, err := eng.Subscribe(ctx, feedURL, "")
	require.NoError(t, err)
	_, err = eng.FetchFeed(ctx, feedURL, false)
	require.NoError(t, err)

	ents, err := eng.Entries(feedURL, engine.EntryQuery{})
	require.NoError(t, err)
	require.Len(t, ents, 2)
	hash := ents[0].Hash

	var changed map[string]bool
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/api/entries/"+hash+"/read", &changed))
	assert.True(t, changed["changed"])
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/api/entries/"+hash+"/read", &changed))
	assert.False(t, changed["changed"])

	var st Stats
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/api/stats", &st))
	assert.Equal(t, 1, st.Unread)
	assert.Equal(t, "disconnected", st.Connectivity)

	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodPost, "/api/entries/deadbeef/unread", nil))
}

func TestListenAndServeStopsWithContext(t *testing.T) {
	srv, _, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
