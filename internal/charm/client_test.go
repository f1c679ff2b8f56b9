// ABOUTME: Tests for the Charm KV remote table service
// ABOUTME: Uses real local KV storage with sync disabled for fast, isolated tests

//go:build !race

package charm

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"

	"github.com/charmbracelet/charm/kv"
	"github.com/harper/feedsync/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collected struct {
	mu   sync.Mutex
	recs map[remote.TableID][]remote.Record
}

func (c *collected) listener(table remote.TableID, records []remote.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recs == nil {
		c.recs = map[remote.TableID][]remote.Record{}
	}
	c.recs[table] = append(c.recs[table], records...)
}

func (c *collected) take(table remote.TableID) []remote.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.recs[table]
	delete(c.recs, table)
	return out
}

// newTestClient creates a fresh client for testing with auto-sync disabled.
// Each call creates a new database with unique name to isolate tests.
func newTestClient(t *testing.T, node string) *Client {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "charm-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() {
		os.RemoveAll(tmpDir)
	})

	os.Setenv("CHARM_DATA_DIR", tmpDir)
	t.Cleanup(func() {
		os.Unsetenv("CHARM_DATA_DIR")
	})

	c := NewTestClientWithDBName("feedsync-test-"+t.Name(), node)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNewClientRequiresNode(t *testing.T) {
	_, err := NewClient(Options{})
	assert.Error(t, err)
}

func TestInsertAndInitialSync(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, "node-a")
	var got collected
	c.Listen(got.listener)

	row := remote.SubscriptionRow{Hash: "h1", URL: "https://a/feed", Tags: "go"}
	require.NoError(t, c.Insert(ctx, remote.Subscriptions, "h1", row))

	err := c.InitialSync(ctx, remote.Subscriptions, map[string]remote.KeyStatus{
		"h1":   {Synced: true},
		"gone": {Synced: true},
	})
	require.NoError(t, err)

	recs := got.take(remote.Subscriptions)
	require.Len(t, recs, 2)
	assert.Equal(t, "gone", recs[0].Key)
	assert.True(t, recs[0].IsDeleted)
	assert.Equal(t, "h1", recs[1].Key)

	var decoded remote.SubscriptionRow
	require.NoError(t, json.Unmarshal(recs[1].Data, &decoded))
	assert.Equal(t, row, decoded)
}

func TestPollEmitsChangesAndEchoes(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, "node-a")
	var got collected
	c.hub.Add(got.listener)

	require.NoError(t, c.InitialSync(ctx, remote.EntriesRead, nil))
	assert.Empty(t, got.take(remote.EntriesRead))

	// Our own write comes back flagged as an echo
	require.NoError(t, c.Insert(ctx, remote.EntriesRead, "e1", remote.EntryRow{EntryHash: "e1", IsRead: true}))
	require.NoError(t, c.Poll())
	recs := got.take(remote.EntriesRead)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].IsLocalEcho)

	// A row written by another node is not an echo
	raw, err := remote.Seal("node-b", remote.EntryRow{EntryHash: "e2"})
	require.NoError(t, err)
	require.NoError(t, c.Do(func(k *kv.KV) error { return k.Set(rowKey(remote.EntriesRead, "e2"), raw) }))
	require.NoError(t, c.Poll())
	recs = got.take(remote.EntriesRead)
	require.Len(t, recs, 1)
	assert.Equal(t, "e2", recs[0].Key)
	assert.False(t, recs[0].IsLocalEcho)

	// Unchanged rows are not re-emitted, deletions are
	require.NoError(t, c.DeleteByKey(ctx, remote.EntriesRead, "e1"))
	require.NoError(t, c.Poll())
	recs = got.take(remote.EntriesRead)
	require.Len(t, recs, 1)
	assert.Equal(t, "e1", recs[0].Key)
	assert.True(t, recs[0].IsDeleted)
}

func TestWriteFullStateReplacesTable(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, "node-a")

	require.NoError(t, c.Insert(ctx, remote.Subscriptions, "old", remote.SubscriptionRow{Hash: "old"}))
	require.NoError(t, c.Insert(ctx, remote.EntriesRead, "e", remote.EntryRow{EntryHash: "e"}))

	err := c.WriteFullState(ctx, remote.Subscriptions, map[string]any{
		"a": remote.SubscriptionRow{Hash: "a"},
		"b": remote.SubscriptionRow{Hash: "b"},
	})
	require.NoError(t, err)

	rows, err := c.readTable(remote.Subscriptions)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Contains(t, rows, "a")
	assert.NotContains(t, rows, "old")

	other, err := c.readTable(remote.EntriesRead)
	require.NoError(t, err)
	assert.Len(t, other, 1, "other tables are untouched")
}

func TestPingWithoutAutoSync(t *testing.T) {
	c := newTestClient(t, "node-a")
	assert.NoError(t, c.Ping(context.Background()))
}
