// ABOUTME: Shared fixtures for engine tests: temp SQLite store, fake remote, stub transport
// ABOUTME: The recording observer captures notifications for assertions

package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harper/feedsync/internal/fetch"
	"github.com/harper/feedsync/internal/keys"
	"github.com/harper/feedsync/internal/models"
	"github.com/harper/feedsync/internal/parse"
	"github.com/harper/feedsync/internal/remote/remotetest"
	"github.com/harper/feedsync/internal/storage"
)

const testNode = "node-a"

type stubFetcher struct {
	mu    sync.Mutex
	docs  map[string]*parse.Document
	errs  map[string]error
	calls []string
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{docs: make(map[string]*parse.Document), errs: make(map[string]error)}
}

func (f *stubFetcher) Fetch(ctx context.Context, req fetch.Request) (*fetch.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.URL)
	if err := f.errs[req.URL]; err != nil {
		return nil, err
	}
	doc := f.docs[req.URL]
	if doc == nil {
		return &fetch.Response{NotModified: true}, nil
	}
	return &fetch.Response{Document: doc, ETag: `"v1"`}, nil
}

func (f *stubFetcher) set(url string, doc *parse.Document) {
	f.mu.Lock()
	f.docs[url] = doc
	f.mu.Unlock()
}

func (f *stubFetcher) fail(url string, err error) {
	f.mu.Lock()
	f.errs[url] = err
	f.mu.Unlock()
}

func (f *stubFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type recordingObserver struct {
	NopObserver
	mu      sync.Mutex
	added   [][]string
	removed []string
	updated []string
	reads   map[string]bool
}

func (o *recordingObserver) SubscriptionsAdded(subs []*models.Subscription) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var urls []string
	for _, s := range subs {
		urls = append(urls, s.URL)
	}
	o.added = append(o.added, urls)
}

func (o *recordingObserver) SubscriptionRemoved(sub *models.Subscription) {
	o.mu.Lock()
	o.removed = append(o.removed, sub.URL)
	o.mu.Unlock()
}

func (o *recordingObserver) SubscriptionUpdated(sub *models.Subscription) {
	o.mu.Lock()
	o.updated = append(o.updated, sub.URL)
	o.mu.Unlock()
}

func (o *recordingObserver) EntryReadChanged(hash string, isRead bool) {
	o.mu.Lock()
	if o.reads == nil {
		o.reads = make(map[string]bool)
	}
	o.reads[hash] = isRead
	o.mu.Unlock()
}

type fixture struct {
	engine   *Engine
	store    *storage.SQLiteStore
	remote   *remotetest.Fake
	fetcher  *stubFetcher
	observer *recordingObserver
}

func setupEngine(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "feedsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		store:    store,
		remote:   remotetest.New(testNode),
		fetcher:  newStubFetcher(),
		observer: &recordingObserver{},
	}
	f.engine, err = New(Options{
		Store:    store,
		Remote:   f.remote,
		Fetcher:  f.fetcher,
		Observer: f.observer,
	})
	require.NoError(t, err)
	t.Cleanup(f.engine.Close)
	return f
}

// seed stores a subscription in the given state and loads the registry.
func (f *fixture) seed(t *testing.T, url, tags string, state models.SyncState) *models.Subscription {
	t.Helper()
	sub := models.NewSubscription(url, keys.FeedKey(url))
	sub.Tags = tags
	sub.RemoteState = state
	require.NoError(t, f.store.PutSubscription(sub))
	f.engine.Registry().Insert(sub)
	return sub
}

func (f *fixture) seedEntry(t *testing.T, feedURL, guid string, date time.Time, isRead bool, state models.SyncState) *models.Entry {
	t.Helper()
	ent := &models.Entry{
		Hash:        keys.EntryKey(feedURL, guid),
		FeedDate:    keys.EntryCompoundKey(keys.FeedKey(feedURL), date),
		Title:       "entry " + guid,
		Link:        feedURL + "/" + guid,
		Date:        date,
		IsRead:      isRead,
		RemoteState: state,
	}
	require.NoError(t, f.store.PutEntry(ent))
	return ent
}

func (f *fixture) subState(t *testing.T, url string) models.SyncState {
	t.Helper()
	sub, err := f.store.GetSubscription(url)
	require.NoError(t, err)
	return sub.RemoteState
}

func testDoc(feedURL, title string, items ...parse.Item) *parse.Document {
	doc := &parse.Document{
		Title:   title,
		Link:    "https://example.com",
		Type:    "rss",
		Version: "2.0",
		Items:   make(map[string]parse.Item),
	}
	for _, it := range items {
		it.Hash = keys.EntryKey(feedURL, it.GUID)
		doc.Items[it.Hash] = it
	}
	return doc
}
