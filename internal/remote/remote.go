// ABOUTME: Contract of the remote table service shared across devices
// ABOUTME: Per-table insert/delete, full-state writes, initial sync and a push-based change listener

package remote

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotConnected is returned by services that lost their backend.
var ErrNotConnected = errors.New("remote not connected")

// TableID identifies a remote table.
type TableID string

const (
	// Subscriptions rows are keyed by feed hash and carry SubscriptionRow.
	Subscriptions TableID = "rss_subscriptions"
	// EntriesRead rows are keyed by entry hash and carry EntryRow.
	EntriesRead TableID = "rss_entries_read"
)

// Tables lists every table the engine synchronizes.
var Tables = []TableID{Subscriptions, EntriesRead}

// Record is one change delivered to listeners.
type Record struct {
	Key         string
	Data        json.RawMessage
	IsLocalEcho bool
	IsDeleted   bool
}

// Listener receives batches of changes for one table.
type Listener func(table TableID, records []Record)

// KeyStatus annotates a key of the local snapshot handed to InitialSync.
type KeyStatus struct {
	Synced bool
}

// SubscriptionRow is the remote form of a subscription.
type SubscriptionRow struct {
	Hash string `json:"rss_feed_hash"`
	URL  string `json:"rss_feed_url"`
	Tags string `json:"tags"`
}

// EntryRow is the remote form of an entry's read state. Date has day precision.
type EntryRow struct {
	EntryHash string `json:"rss_entry_hash"`
	FeedHash  string `json:"rss_feed_hash"`
	IsRead    bool   `json:"is_read"`
	Date      string `json:"date"`
}

// Service is the remote table service.
type Service interface {
	// Insert writes row under key, replacing any previous row.
	Insert(ctx context.Context, table TableID, key string, row any) error

	// DeleteByKey removes the row stored under key.
	DeleteByKey(ctx context.Context, table TableID, key string) error

	// WriteFullState replaces the whole table with rows.
	WriteFullState(ctx context.Context, table TableID, rows map[string]any) error

	// InitialSync compares snapshot with the remote table and delivers the
	// delta through the registered listeners. A nil snapshot delivers every
	// remote row.
	InitialSync(ctx context.Context, table TableID, snapshot map[string]KeyStatus) error

	// Listen registers a change listener. The returned func unregisters it.
	Listen(l Listener) (cancel func())

	// Close releases the backend.
	Close() error
}

// Pinger is implemented by services that can check their link. A failed
// Ping means writes or change events may have been lost.
type Pinger interface {
	Ping(ctx context.Context) error
}
