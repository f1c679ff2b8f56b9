// ABOUTME: Storage interface for subscriptions, entries and preferences
// ABOUTME: Table-scoped get/put/delete, cursor walks and transactional read-modify-write

package storage

import (
	"errors"
	"time"

	"github.com/harper/feedsync/internal/models"
)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("not found")

// SubscriptionFunc decides what to do with the current stored subscription.
// cur is nil when no record exists for the key.
type SubscriptionFunc func(cur *models.Subscription) Result[*models.Subscription]

// EntryFunc decides what to do with the current stored entry. cur is nil
// when no record exists for the key.
type EntryFunc func(cur *models.Entry) Result[*models.Entry]

// Store defines the local persistence contract of the sync engine.
type Store interface {
	// Close closes the store and releases resources.
	Close() error

	// Subscriptions, keyed by URL

	GetSubscription(url string) (*models.Subscription, error)
	PutSubscription(sub *models.Subscription) error
	DeleteSubscription(url string) error

	// UpdateSubscription reads the record for url and applies fn inside one
	// transaction. It reports whether a record was written.
	UpdateSubscription(url string, fn SubscriptionFunc) (bool, error)

	// WalkSubscriptions visits every subscription in URL order.
	WalkSubscriptions(fn func(*models.Subscription) Result[*models.Subscription]) (int, error)

	// Entries, keyed by content hash

	GetEntry(hash string) (*models.Entry, error)
	PutEntry(entry *models.Entry) error

	// UpdateEntry reads the entry for hash and applies fn inside one
	// transaction. It reports whether a record was written.
	UpdateEntry(hash string, fn EntryFunc) (bool, error)

	// WalkEntries visits every entry in hash order.
	WalkEntries(fn func(*models.Entry) Result[*models.Entry]) (int, error)

	// WalkFeedEntries visits the entries of one feed through the compound
	// key index, newest first, starting at until. A zero until starts at
	// the newest entry.
	WalkFeedEntries(feedHash string, until time.Time, fn func(*models.Entry) Result[*models.Entry]) (int, error)

	// Preferences

	GetPref(name string) (string, error)
	SetPref(name, value string) error
}
