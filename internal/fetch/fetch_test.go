// ABOUTME: Tests for HTTP feed transport with ETag and Last-Modified caching support.
// ABOUTME: Uses httptest to simulate server responses including 304 Not Modified.

package fetch_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/harper/feedsync/internal/fetch"
)

const rssBody = `<?xml version="1.0"?>
<rss version="2.0"><channel>
  <title>Served Feed</title>
  <link>https://example.com</link>
  <item><guid>1</guid><title>One</title></item>
</channel></rss>`

func TestFetch_Fresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != fetch.DefaultUserAgent {
			t.Errorf("expected User-Agent %q, got %q", fetch.DefaultUserAgent, ua)
		}

		w.Header().Set("ETag", `"abc123"`)
		w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(rssBody))
	}))
	defer server.Close()

	tr := fetch.NewTransport(5 * time.Second)
	result, err := tr.Fetch(context.Background(), fetch.Request{URL: server.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.NotModified {
		t.Error("expected NotModified=false for fresh fetch")
	}
	if result.Document == nil || result.Document.Title != "Served Feed" {
		t.Fatalf("expected parsed document, got %+v", result.Document)
	}
	if len(result.Document.Items) != 1 {
		t.Errorf("expected 1 item, got %d", len(result.Document.Items))
	}
	if result.ETag != `"abc123"` {
		t.Errorf("expected ETag '\"abc123\"', got %q", result.ETag)
	}
	if result.LastModified != "Mon, 02 Jan 2006 15:04:05 GMT" {
		t.Errorf("unexpected LastModified %q", result.LastModified)
	}
}

func TestFetch_Cached(t *testing.T) {
	etag := `"abc123"`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inm := r.Header.Get("If-None-Match"); inm != etag {
			t.Errorf("expected If-None-Match %q, got %q", etag, inm)
		}
		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	tr := fetch.NewTransport(5 * time.Second)
	result, err := tr.Fetch(context.Background(), fetch.Request{URL: server.URL, ETag: &etag})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.NotModified {
		t.Error("expected NotModified=true for 304 response")
	}
	if result.Document != nil {
		t.Error("expected no document for 304 response")
	}
}

func TestFetch_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("Not Found"))
	}))
	defer server.Close()

	tr := fetch.NewTransport(5 * time.Second)
	result, err := tr.Fetch(context.Background(), fetch.Request{URL: server.URL})
	if err == nil {
		t.Fatal("expected error for 404 response, got nil")
	}
	if result != nil {
		t.Errorf("expected nil result for error case, got %+v", result)
	}
}

func TestFetch_NotAFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer server.Close()

	tr := fetch.NewTransport(5 * time.Second)
	if _, err := tr.Fetch(context.Background(), fetch.Request{URL: server.URL}); err == nil {
		t.Fatal("expected parse error for non-feed body")
	}
}

func TestFetch_RejectsScheme(t *testing.T) {
	tr := fetch.NewTransport(time.Second)
	if _, err := tr.Fetch(context.Background(), fetch.Request{URL: "file:///etc/passwd"}); err == nil {
		t.Fatal("expected error for file scheme")
	}
}
