// ABOUTME: Tests for connectivity transitions, pending pushes and remote event routing
// ABOUTME: Uses the in-memory remote fake against a temp SQLite store

package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harper/feedsync/internal/keys"
	"github.com/harper/feedsync/internal/models"
	"github.com/harper/feedsync/internal/parse"
	"github.com/harper/feedsync/internal/remote"
	"github.com/harper/feedsync/internal/remote/remotetest"
	"github.com/harper/feedsync/internal/storage"
)

func TestNewRequiresStore(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestLoadSkipsUnsubscribedAndNotifiesOnce(t *testing.T) {
	f := setupEngine(t)

	for _, url := range []string{"https://b/feed", "https://a/feed"} {
		sub := models.NewSubscription(url, keys.FeedKey(url))
		sub.RemoteState = models.Synced
		require.NoError(t, f.store.PutSubscription(sub))
	}
	gone := models.NewSubscription("https://c/feed", keys.FeedKey("https://c/feed"))
	gone.IsUnsubscribed = true
	gone.RemoteState = models.Synced
	require.NoError(t, f.store.PutSubscription(gone))

	n, err := f.engine.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, f.observer.added, 1)
	assert.Equal(t, []string{"https://a/feed", "https://b/feed"}, f.observer.added[0])

	// Synced and disconnected: the unsubscribed feed waits for reconnect
	_, err = f.store.GetSubscription("https://c/feed")
	assert.NoError(t, err)
}

func TestLoadPurgesLocalOnlyUnsubscribed(t *testing.T) {
	f := setupEngine(t)

	sub := models.NewSubscription("https://a/feed", keys.FeedKey("https://a/feed"))
	sub.IsUnsubscribed = true
	require.NoError(t, f.store.PutSubscription(sub))

	_, err := f.engine.Load(context.Background())
	require.NoError(t, err)

	_, err = f.store.GetSubscription("https://a/feed")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	assert.Empty(t, f.remote.Calls())
}

func TestConnectPushesPendingBeforeInitialSync(t *testing.T) {
	ctx := context.Background()
	f := setupEngine(t)

	f.seed(t, "https://a/feed", "go", models.PendingSync)
	f.seed(t, "https://b/feed", "", models.PendingSync)
	f.seed(t, "https://c/feed", "", models.Synced)
	f.remote.Seed(remote.Subscriptions, keys.FeedKey("https://c/feed"), "node-b",
		remote.SubscriptionRow{Hash: keys.FeedKey("https://c/feed"), URL: "https://c/feed"})

	require.NoError(t, f.engine.Connect(ctx))
	assert.Equal(t, Connected, f.engine.Connectivity())

	calls := f.remote.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, "insert", calls[0].Op)
	assert.Equal(t, "insert", calls[1].Op)
	assert.Equal(t, remotetest.Call{Op: "initial", Table: remote.Subscriptions}, calls[2])
	assert.Equal(t, remotetest.Call{Op: "initial", Table: remote.EntriesRead}, calls[3])

	assert.Equal(t, models.Synced, f.subState(t, "https://a/feed"))
	assert.Equal(t, models.Synced, f.subState(t, "https://b/feed"))

	var row remote.SubscriptionRow
	require.True(t, f.remote.Row(remote.Subscriptions, keys.FeedKey("https://a/feed"), &row))
	assert.Equal(t, "https://a/feed", row.URL)
	assert.Equal(t, "go", row.Tags)

	// Our own rows came back through the initial sync without refetching
	f.engine.Wait()
	assert.Empty(t, f.fetcher.Calls())
}

func TestConnectPushFailureStaysDisconnected(t *testing.T) {
	ctx := context.Background()
	f := setupEngine(t)
	f.seed(t, "https://a/feed", "", models.LocalOnly)
	f.seed(t, "https://b/feed", "", models.LocalOnly)
	f.remote.FailWrites(errors.New("offline"))

	err := f.engine.Connect(ctx)
	assert.ErrorContains(t, err, "offline")
	assert.Equal(t, Disconnected, f.engine.Connectivity())
	assert.Len(t, f.remote.CallsOf("insert"), 1)
	assert.Empty(t, f.remote.CallsOf("initial"))
	assert.Equal(t, 0, f.remote.Listeners())

	f.remote.FailWrites(nil)
	require.NoError(t, f.engine.Connect(ctx))
	assert.Equal(t, models.Synced, f.subState(t, "https://a/feed"))
	assert.Equal(t, models.Synced, f.subState(t, "https://b/feed"))
}

func TestFailedPushDropsLinkAndReconnectPushes(t *testing.T) {
	ctx := context.Background()
	f := setupEngine(t)
	url := "https://a/feed"
	require.NoError(t, f.engine.Connect(ctx))
	_, err := f.engine.Subscribe(ctx, url, "go")
	require.NoError(t, err)
	lost := f.engine.Lost()

	f.remote.FailWrites(errors.New("connection reset"))
	state, err := f.engine.SetTags(ctx, url, "go,news")
	require.NoError(t, err)
	assert.Equal(t, models.PendingSync, state)
	assert.Equal(t, Disconnected, f.engine.Connectivity())
	select {
	case <-lost:
	default:
		t.Fatal("lost channel still open after the link dropped")
	}

	f.remote.FailWrites(nil)
	f.remote.ResetCalls()
	require.NoError(t, f.engine.Connect(ctx))

	inserts := f.remote.CallsOf("insert")
	require.Len(t, inserts, 1)
	assert.Equal(t, keys.FeedKey(url), inserts[0].Key)
	assert.Len(t, f.remote.CallsOf("initial"), 2)
	assert.Equal(t, models.Synced, f.subState(t, url))

	var row remote.SubscriptionRow
	require.True(t, f.remote.Row(remote.Subscriptions, keys.FeedKey(url), &row))
	assert.Equal(t, "go,news", row.Tags)
}

func TestCanceledCallKeepsLink(t *testing.T) {
	f := setupEngine(t)
	url := "https://a/feed"
	require.NoError(t, f.engine.Connect(context.Background()))
	_, err := f.engine.Subscribe(context.Background(), url, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.remote.FailWrites(context.Canceled)
	state, err := f.engine.SetTags(ctx, url, "later")
	require.NoError(t, err)
	assert.Equal(t, models.PendingSync, state)
	assert.Equal(t, Connected, f.engine.Connectivity())
}

func TestCheckLinkDisconnectsOnPingFailure(t *testing.T) {
	ctx := context.Background()
	f := setupEngine(t)

	assert.NoError(t, f.engine.CheckLink(ctx))
	select {
	case <-f.engine.Lost():
	default:
		t.Fatal("lost channel open while disconnected")
	}

	require.NoError(t, f.engine.Connect(ctx))
	lost := f.engine.Lost()
	assert.NoError(t, f.engine.CheckLink(ctx))
	assert.Equal(t, Connected, f.engine.Connectivity())

	f.remote.FailWrites(errors.New("timeout"))
	assert.ErrorContains(t, f.engine.CheckLink(ctx), "timeout")
	assert.Equal(t, Disconnected, f.engine.Connectivity())
	assert.Equal(t, 0, f.remote.Listeners())
	select {
	case <-lost:
	case <-time.After(time.Second):
		t.Fatal("lost channel not closed")
	}
}

func TestConcurrentConnectSyncsOnce(t *testing.T) {
	f := setupEngine(t)
	f.seed(t, "https://a/feed", "", models.PendingSync)

	start := make(chan struct{})
	errs := make(chan error, 4)
	for range 4 {
		go func() {
			<-start
			errs <- f.engine.Connect(context.Background())
		}()
	}
	close(start)
	for range 4 {
		require.NoError(t, <-errs)
	}

	assert.Len(t, f.remote.CallsOf("insert"), 1)
	assert.Len(t, f.remote.CallsOf("initial"), 2)
	assert.Equal(t, 1, f.remote.Listeners())
}

func TestAttachRemote(t *testing.T) {
	f := setupEngine(t)
	e, err := New(Options{Store: f.store})
	require.NoError(t, err)
	t.Cleanup(e.Close)
	assert.False(t, e.HasRemote())

	assert.Error(t, e.AttachRemote(nil))
	svc := remotetest.New(testNode)
	require.NoError(t, e.AttachRemote(svc))
	assert.True(t, e.HasRemote())
	assert.Error(t, e.AttachRemote(remotetest.New(testNode)))

	require.NoError(t, e.Connect(context.Background()))
	assert.Equal(t, Connected, e.Connectivity())
	assert.Equal(t, 1, svc.Listeners())
}

func TestConnectWithoutRemote(t *testing.T) {
	f := setupEngine(t)
	e, err := New(Options{Store: f.store})
	require.NoError(t, err)

	err = e.Connect(context.Background())
	assert.ErrorIs(t, err, remote.ErrNotConnected)
	assert.Equal(t, Disconnected, e.Connectivity())
}

func TestInitialSyncDeletesSyncedFeedMissingRemotely(t *testing.T) {
	f := setupEngine(t)
	f.seed(t, "https://gone/feed", "", models.Synced)

	require.NoError(t, f.engine.Connect(context.Background()))

	assert.Equal(t, -1, f.engine.Registry().FindByURL("https://gone/feed"))
	_, err := f.store.GetSubscription("https://gone/feed")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, []string{"https://gone/feed"}, f.observer.removed)
}

func TestRemoteAddCreatesSyncedSubscriptionAndFetches(t *testing.T) {
	ctx := context.Background()
	f := setupEngine(t)
	url := "https://remote/feed"
	f.fetcher.set(url, testDoc(url, "Remote Feed", parse.Item{GUID: "1", Title: "One", Date: time.Now()}))

	require.NoError(t, f.engine.Connect(ctx))
	hash := keys.FeedKey(url)
	f.remote.Emit(remote.Subscriptions, remotetest.RecordOf(hash, remote.SubscriptionRow{Hash: hash, URL: url, Tags: "news"}))
	f.engine.Wait()

	sub, ok := f.engine.Registry().Get(url)
	require.True(t, ok)
	assert.Equal(t, models.Synced, sub.RemoteState)
	assert.Equal(t, "news", sub.Tags)
	assert.Equal(t, "Remote Feed", sub.Title)

	assert.Equal(t, []string{url}, f.fetcher.Calls())
	assert.Equal(t, []string{url}, f.observer.updated)

	entries, err := f.engine.Entries(url, EntryQuery{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRemoteUpdateOverwritesTagsOnly(t *testing.T) {
	f := setupEngine(t)
	url := "https://a/feed"
	sub := f.seed(t, url, "old", models.Synced)
	sub.Title = "Kept Title"
	require.NoError(t, f.store.PutSubscription(sub))
	f.remote.Seed(remote.Subscriptions, sub.Hash, testNode, remote.SubscriptionRow{Hash: sub.Hash, URL: url, Tags: "old"})

	require.NoError(t, f.engine.Connect(context.Background()))
	f.remote.Emit(remote.Subscriptions, remotetest.RecordOf(sub.Hash, remote.SubscriptionRow{Hash: sub.Hash, URL: url, Tags: "new"}))
	f.engine.Wait()

	stored, err := f.store.GetSubscription(url)
	require.NoError(t, err)
	assert.Equal(t, "new", stored.Tags)
	assert.Equal(t, "Kept Title", stored.Title)
	assert.Equal(t, 1, f.engine.Registry().Len())

	// A tag change on a known feed does not refetch it
	assert.Empty(t, f.fetcher.Calls())
}

func TestLocalEchoIsNotApplied(t *testing.T) {
	f := setupEngine(t)
	require.NoError(t, f.engine.Connect(context.Background()))

	url := "https://echo/feed"
	rec := remotetest.RecordOf(keys.FeedKey(url), remote.SubscriptionRow{Hash: keys.FeedKey(url), URL: url})
	rec.IsLocalEcho = true
	f.remote.Emit(remote.Subscriptions, rec)
	f.engine.Wait()

	assert.Equal(t, 0, f.engine.Registry().Len())
	_, err := f.store.GetSubscription(url)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRemoteDeleteUnknownHashIsIgnored(t *testing.T) {
	f := setupEngine(t)
	f.seed(t, "https://a/feed", "", models.Synced)
	f.remote.Seed(remote.Subscriptions, keys.FeedKey("https://a/feed"), testNode,
		remote.SubscriptionRow{Hash: keys.FeedKey("https://a/feed"), URL: "https://a/feed"})
	require.NoError(t, f.engine.Connect(context.Background()))

	f.remote.Emit(remote.Subscriptions, remote.Record{Key: "deadbeef", IsDeleted: true})

	assert.Equal(t, 1, f.engine.Registry().Len())
	_, err := f.store.GetSubscription("https://a/feed")
	assert.NoError(t, err)
	assert.Empty(t, f.observer.removed)
}

func TestRemoteDeleteRemovesKnownFeed(t *testing.T) {
	f := setupEngine(t)
	sub := f.seed(t, "https://a/feed", "", models.Synced)
	f.remote.Seed(remote.Subscriptions, sub.Hash, testNode, remote.SubscriptionRow{Hash: sub.Hash, URL: sub.URL})
	require.NoError(t, f.engine.Connect(context.Background()))

	f.remote.Emit(remote.Subscriptions, remote.Record{Key: sub.Hash, IsDeleted: true})

	assert.Equal(t, 0, f.engine.Registry().Len())
	_, err := f.store.GetSubscription(sub.URL)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDisconnectStopsListening(t *testing.T) {
	f := setupEngine(t)
	require.NoError(t, f.engine.Connect(context.Background()))
	assert.Equal(t, 1, f.remote.Listeners())

	f.engine.Disconnect()
	assert.Equal(t, Disconnected, f.engine.Connectivity())
	assert.Equal(t, 0, f.remote.Listeners())

	url := "https://late/feed"
	f.remote.Emit(remote.Subscriptions, remotetest.RecordOf(keys.FeedKey(url), remote.SubscriptionRow{Hash: keys.FeedKey(url), URL: url}))
	assert.Equal(t, 0, f.engine.Registry().Len())
}

func TestRebuildWritesFullStateAndMarksSynced(t *testing.T) {
	ctx := context.Background()
	f := setupEngine(t)
	require.NoError(t, f.engine.Connect(ctx))

	f.seed(t, "https://a/feed", "", models.PendingSync)
	f.seed(t, "https://b/feed", "", models.Synced)
	f.seedEntry(t, "https://a/feed", "1", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), true, models.LocalOnly)
	f.remote.ResetCalls()

	res, err := f.engine.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Subscriptions)
	assert.Equal(t, 1, res.Entries)

	assert.Len(t, f.remote.CallsOf("full"), 2)
	assert.Empty(t, f.remote.CallsOf("insert"))
	assert.Equal(t, 2, f.remote.Len(remote.Subscriptions))
	assert.Equal(t, 1, f.remote.Len(remote.EntriesRead))
	assert.Equal(t, models.Synced, f.subState(t, "https://a/feed"))

	var row remote.EntryRow
	require.True(t, f.remote.Row(remote.EntriesRead, keys.EntryKey("https://a/feed", "1"), &row))
	assert.Equal(t, "2024-03-01", row.Date)
	assert.Equal(t, keys.FeedKey("https://a/feed"), row.FeedHash)
}

func TestRebuildRequiresConnection(t *testing.T) {
	f := setupEngine(t)
	_, err := f.engine.Rebuild(context.Background())
	assert.ErrorIs(t, err, remote.ErrNotConnected)
}

func TestStats(t *testing.T) {
	f := setupEngine(t)
	f.seed(t, "https://a/feed", "", models.PendingSync)
	f.seed(t, "https://b/feed", "", models.Synced)
	f.seedEntry(t, "https://a/feed", "1", time.Now(), false, models.LocalOnly)

	st, err := f.engine.Stats()
	require.NoError(t, err)
	assert.Equal(t, Disconnected, st.Connectivity)
	assert.Equal(t, 1, st.Subscriptions[models.PendingSync])
	assert.Equal(t, 1, st.Subscriptions[models.Synced])
	assert.Equal(t, 1, st.Entries[models.LocalOnly])
	assert.Equal(t, 1, st.Unread)
}

func TestResetSyncState(t *testing.T) {
	f := setupEngine(t)
	f.seed(t, "https://a/feed", "", models.Synced)
	f.seedEntry(t, "https://a/feed", "1", time.Now(), true, models.Synced)

	n, err := f.engine.ResetSyncState()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, models.LocalOnly, f.subState(t, "https://a/feed"))

	sub, _ := f.engine.Registry().Get("https://a/feed")
	assert.Equal(t, models.LocalOnly, sub.RemoteState)
}
