// ABOUTME: SQLite storage implementation using modernc.org/sqlite (pure Go)
// ABOUTME: Subscriptions keyed by URL, entries keyed by hash with a feed_date range index, preferences

package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harper/feedsync/internal/keys"
	"github.com/harper/feedsync/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	schema uint
}

// NewSQLiteStore creates a new SQLite storage instance.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection serializes transactions from concurrent callers.
	db.SetMaxOpenConns(1)

	version, err := migrateUp(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &SQLiteStore{db: db, schema: version}, nil
}

// SchemaVersion returns the applied migration version.
func (s *SQLiteStore) SchemaVersion() uint {
	return s.schema
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Subscription Operations

const subscriptionColumns = `url, hash, title, link, description, feed_type, feed_version, tags,
	is_unsubscribed, remote_state, etag, last_modified, last_fetched_at, last_error, error_count`

// GetSubscription retrieves a subscription by URL.
func (s *SQLiteStore) GetSubscription(url string) (*models.Subscription, error) {
	return getSubscription(s.db, url)
}

func getSubscription(q querier, url string) (*models.Subscription, error) {
	row := q.QueryRow(`SELECT `+subscriptionColumns+` FROM subscriptions WHERE url = ?`, url)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("subscription %s: %w", url, ErrNotFound)
	}
	return sub, err
}

// PutSubscription inserts or replaces a subscription.
func (s *SQLiteStore) PutSubscription(sub *models.Subscription) error {
	return putSubscription(s.db, sub)
}

func putSubscription(q querier, sub *models.Subscription) error {
	query := `
		INSERT INTO subscriptions (` + subscriptionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			hash = excluded.hash, title = excluded.title, link = excluded.link,
			description = excluded.description, feed_type = excluded.feed_type,
			feed_version = excluded.feed_version, tags = excluded.tags,
			is_unsubscribed = excluded.is_unsubscribed, remote_state = excluded.remote_state,
			etag = excluded.etag, last_modified = excluded.last_modified,
			last_fetched_at = excluded.last_fetched_at, last_error = excluded.last_error,
			error_count = excluded.error_count
	`
	_, err := q.Exec(query,
		sub.URL, sub.Hash, sub.Title, sub.Link, sub.Description, sub.FeedType, sub.FeedVersion,
		sub.Tags, boolToInt(sub.IsUnsubscribed), sub.RemoteState.String(),
		sub.ETag, sub.LastModified, timeToSQL(sub.LastFetchedAt), sub.LastError, sub.ErrorCount,
	)
	if err != nil {
		return fmt.Errorf("put subscription: %w", err)
	}
	return nil
}

// DeleteSubscription removes a subscription. Its entries are kept.
func (s *SQLiteStore) DeleteSubscription(url string) error {
	result, err := s.db.Exec("DELETE FROM subscriptions WHERE url = ?", url)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("subscription %s: %w", url, ErrNotFound)
	}
	return nil
}

// UpdateSubscription runs a read-modify-write of one subscription in a
// transaction. fn must not call back into the store.
func (s *SQLiteStore) UpdateSubscription(url string, fn SubscriptionFunc) (bool, error) {
	written := false
	err := s.inTx(func(tx *sql.Tx) error {
		cur, err := getSubscription(tx, url)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		res := fn(cur)
		if res.Action != ActionWrite {
			return nil
		}
		if res.Record.URL != url {
			return fmt.Errorf("update subscription: key changed from %s to %s", url, res.Record.URL)
		}
		if err := putSubscription(tx, res.Record); err != nil {
			return err
		}
		written = true
		return nil
	})
	return written, err
}

// WalkSubscriptions visits every subscription in URL order.
func (s *SQLiteStore) WalkSubscriptions(fn func(*models.Subscription) Result[*models.Subscription]) (int, error) {
	rows, err := s.db.Query(`SELECT ` + subscriptionColumns + ` FROM subscriptions ORDER BY url`)
	if err != nil {
		return 0, fmt.Errorf("query subscriptions: %w", err)
	}
	var subs []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			rows.Close()
			return 0, err
		}
		subs = append(subs, sub)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return Walk(subs, fn, s.PutSubscription)
}

// Entry Operations

const entryColumns = `hash, feed_date, title, link, description, date, is_read, remote_state`

// GetEntry retrieves an entry by hash.
func (s *SQLiteStore) GetEntry(hash string) (*models.Entry, error) {
	return getEntry(s.db, hash)
}

func getEntry(q querier, hash string) (*models.Entry, error) {
	row := q.QueryRow(`SELECT `+entryColumns+` FROM entries WHERE hash = ?`, hash)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entry %s: %w", hash, ErrNotFound)
	}
	return entry, err
}

// PutEntry inserts or replaces an entry.
func (s *SQLiteStore) PutEntry(entry *models.Entry) error {
	return putEntry(s.db, entry)
}

func putEntry(q querier, entry *models.Entry) error {
	if _, _, err := keys.SplitEntryCompoundKey(entry.FeedDate); err != nil {
		return fmt.Errorf("put entry %s: %w", entry.Hash, err)
	}
	query := `
		INSERT INTO entries (` + entryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			feed_date = excluded.feed_date, title = excluded.title, link = excluded.link,
			description = excluded.description, date = excluded.date,
			is_read = excluded.is_read, remote_state = excluded.remote_state
	`
	_, err := q.Exec(query,
		entry.Hash, entry.FeedDate, entry.Title, entry.Link, entry.Description,
		entry.Date.UTC(), boolToInt(entry.IsRead), entry.RemoteState.String(),
	)
	if err != nil {
		return fmt.Errorf("put entry: %w", err)
	}
	return nil
}

// UpdateEntry runs a read-modify-write of one entry in a transaction.
// fn must not call back into the store.
func (s *SQLiteStore) UpdateEntry(hash string, fn EntryFunc) (bool, error) {
	written := false
	err := s.inTx(func(tx *sql.Tx) error {
		cur, err := getEntry(tx, hash)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		res := fn(cur)
		if res.Action != ActionWrite {
			return nil
		}
		if res.Record.Hash != hash {
			return fmt.Errorf("update entry: key changed from %s to %s", hash, res.Record.Hash)
		}
		if err := putEntry(tx, res.Record); err != nil {
			return err
		}
		written = true
		return nil
	})
	return written, err
}

// WalkEntries visits every entry in hash order.
func (s *SQLiteStore) WalkEntries(fn func(*models.Entry) Result[*models.Entry]) (int, error) {
	entries, err := s.queryEntries(`SELECT ` + entryColumns + ` FROM entries ORDER BY hash`)
	if err != nil {
		return 0, err
	}
	return Walk(entries, fn, s.PutEntry)
}

// WalkFeedEntries visits the entries of feedHash dated at or before until,
// newest first. A zero until has no upper bound. Entries sharing a
// timestamp are ordered by hash.
func (s *SQLiteStore) WalkFeedEntries(feedHash string, until time.Time, fn func(*models.Entry) Result[*models.Entry]) (int, error) {
	from, to := keys.FeedRange(feedHash)
	if !until.IsZero() {
		to = keys.EntryCompoundKey(feedHash, until)
	}
	entries, err := s.queryEntries(`
		SELECT `+entryColumns+` FROM entries
		WHERE feed_date > ? AND feed_date <= ?
		ORDER BY feed_date DESC, hash DESC
	`, from, to)
	if err != nil {
		return 0, err
	}
	return Walk(entries, fn, s.PutEntry)
}

func (s *SQLiteStore) queryEntries(query string, args ...any) ([]*models.Entry, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// Preferences

// GetPref returns a stored preference value.
func (s *SQLiteStore) GetPref(name string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM preferences WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("preference %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get preference: %w", err)
	}
	return value, nil
}

// SetPref stores a preference value.
func (s *SQLiteStore) SetPref(name, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO preferences (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value
	`, name, value)
	if err != nil {
		return fmt.Errorf("set preference: %w", err)
	}
	return nil
}

// Helper functions

func (s *SQLiteStore) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row scanner) (*models.Subscription, error) {
	var sub models.Subscription
	var unsubscribed int
	var state string
	var lastFetched sql.NullTime
	if err := row.Scan(
		&sub.URL, &sub.Hash, &sub.Title, &sub.Link, &sub.Description, &sub.FeedType,
		&sub.FeedVersion, &sub.Tags, &unsubscribed, &state,
		&sub.ETag, &sub.LastModified, &lastFetched, &sub.LastError, &sub.ErrorCount,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	sub.IsUnsubscribed = unsubscribed == 1
	if lastFetched.Valid {
		sub.LastFetchedAt = &lastFetched.Time
	}
	var err error
	if sub.RemoteState, err = models.ParseSyncState(state); err != nil {
		return nil, fmt.Errorf("scan subscription %s: %w", sub.URL, err)
	}
	return &sub, nil
}

func scanEntry(row scanner) (*models.Entry, error) {
	var entry models.Entry
	var isRead int
	var state string
	var date sql.NullTime
	if err := row.Scan(
		&entry.Hash, &entry.FeedDate, &entry.Title, &entry.Link, &entry.Description,
		&date, &isRead, &state,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan entry: %w", err)
	}
	entry.IsRead = isRead == 1
	if date.Valid {
		entry.Date = date.Time
	}
	var err error
	if entry.RemoteState, err = models.ParseSyncState(state); err != nil {
		return nil, fmt.Errorf("scan entry %s: %w", entry.Hash, err)
	}
	return &entry, nil
}

func timeToSQL(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// DefaultDBPath returns the database path inside dataDir.
func DefaultDBPath(dataDir string) string {
	return filepath.Join(dataDir, "feedsync.db")
}

var _ Store = (*SQLiteStore)(nil)
