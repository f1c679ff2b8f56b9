// ABOUTME: Charm KV backed remote table service using the transactional Do API
// ABOUTME: Rows live under "<table>:<key>"; a sync-and-diff watcher turns cloud changes into events

package charm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/charm/client"
	"github.com/charmbracelet/charm/kv"
	"github.com/charmbracelet/log"
	"github.com/harper/feedsync/internal/remote"
)

const (
	// DefaultCharmHost is the Charm server used when CHARM_HOST is unset.
	DefaultCharmHost = "charm.2389.dev"

	// DBName is the name of the charm kv database for feedsync.
	DBName = "feedsync"

	// DefaultWatchInterval is how often the watcher syncs and diffs.
	DefaultWatchInterval = 30 * time.Second
)

// Options configures a Client.
type Options struct {
	DBName        string
	Host          string
	NodeID        string
	WatchInterval time.Duration
	AutoSync      bool
	Logger        *log.Logger
}

// Client implements remote.Service on top of Charm KV. It does NOT hold a
// persistent connection: each operation opens the database, performs the
// operation, and closes it.
type Client struct {
	dbName   string
	autoSync bool
	node     string
	interval time.Duration
	logger   *log.Logger

	hub remote.Hub

	mu   sync.Mutex
	seen map[remote.TableID]map[string]string

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewClient creates a new client. NodeID is required.
func NewClient(opts Options) (*Client, error) {
	if opts.NodeID == "" {
		return nil, fmt.Errorf("charm client: node id is required")
	}
	host := opts.Host
	if host == "" {
		host = DefaultCharmHost
	}
	if os.Getenv("CHARM_HOST") == "" {
		os.Setenv("CHARM_HOST", host)
	}
	if opts.DBName == "" {
		opts.DBName = DBName
	}
	if opts.WatchInterval <= 0 {
		opts.WatchInterval = DefaultWatchInterval
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	return &Client{
		dbName:   opts.DBName,
		autoSync: opts.AutoSync,
		node:     opts.NodeID,
		interval: opts.WatchInterval,
		logger:   opts.Logger.WithPrefix("charm"),
		seen:     make(map[remote.TableID]map[string]string),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// NewTestClientWithDBName creates a Client for testing with a custom database
// name and no cloud sync.
func NewTestClientWithDBName(dbName, nodeID string) *Client {
	c, _ := NewClient(Options{DBName: dbName, NodeID: nodeID, WatchInterval: time.Hour})
	return c
}

// DoReadOnly executes a function with read-only database access.
func (c *Client) DoReadOnly(fn func(k *kv.KV) error) error {
	return kv.DoReadOnly(c.dbName, fn)
}

// Do executes a function with write access to the database, syncing
// afterwards when auto-sync is enabled.
func (c *Client) Do(fn func(k *kv.KV) error) error {
	return kv.Do(c.dbName, func(k *kv.KV) error {
		if err := fn(k); err != nil {
			return err
		}
		if c.autoSync {
			return k.Sync()
		}
		return nil
	})
}

// Sync manually triggers a sync with the Charm server.
func (c *Client) Sync() error {
	return kv.Do(c.dbName, func(k *kv.KV) error {
		return k.Sync()
	})
}

// Ping syncs with the Charm server. A client without auto-sync never talks
// to the server and always succeeds.
func (c *Client) Ping(ctx context.Context) error {
	if !c.autoSync {
		return nil
	}
	return c.Sync()
}

// Reset wipes all local data.
func (c *Client) Reset() error {
	return kv.Reset(c.dbName)
}

// DBName returns the kv database name.
func (c *Client) DBName() string {
	return c.dbName
}

// ID returns the user's Charm ID for status display.
func ID() (string, error) {
	cc, err := client.NewClientWithDefaults()
	if err != nil {
		return "", err
	}
	return cc.ID()
}

func rowKey(table remote.TableID, key string) []byte {
	return []byte(string(table) + ":" + key)
}

// Insert writes row under key in table.
func (c *Client) Insert(ctx context.Context, table remote.TableID, key string, row any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := remote.Seal(c.node, row)
	if err != nil {
		return err
	}
	return c.Do(func(k *kv.KV) error {
		if err := k.Set(rowKey(table, key), raw); err != nil {
			return fmt.Errorf("set %s/%s: %w", table, key, err)
		}
		return nil
	})
}

// DeleteByKey removes the row stored under key.
func (c *Client) DeleteByKey(ctx context.Context, table remote.TableID, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.Do(func(k *kv.KV) error {
		if err := k.Delete(rowKey(table, key)); err != nil {
			return fmt.Errorf("delete %s/%s: %w", table, key, err)
		}
		return nil
	})
}

// WriteFullState replaces every row of table with rows.
func (c *Client) WriteFullState(ctx context.Context, table remote.TableID, rows map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sealed := make(map[string][]byte, len(rows))
	for key, row := range rows {
		raw, err := remote.Seal(c.node, row)
		if err != nil {
			return err
		}
		sealed[key] = raw
	}

	return c.Do(func(k *kv.KV) error {
		existing, err := tableRows(k, table)
		if err != nil {
			return err
		}
		for key := range existing {
			if _, keep := sealed[key]; keep {
				continue
			}
			if err := k.Delete(rowKey(table, key)); err != nil {
				return fmt.Errorf("delete %s/%s: %w", table, key, err)
			}
		}
		for key, raw := range sealed {
			if err := k.Set(rowKey(table, key), raw); err != nil {
				return fmt.Errorf("set %s/%s: %w", table, key, err)
			}
		}
		return nil
	})
}

// InitialSync pulls the cloud state, delivers the delta against snapshot to
// the listeners and primes the watcher with the current rows.
func (c *Client) InitialSync(ctx context.Context, table remote.TableID, snapshot map[string]remote.KeyStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.autoSync {
		if err := c.Sync(); err != nil {
			return fmt.Errorf("sync: %w", err)
		}
	}
	rows, err := c.readTable(table)
	if err != nil {
		return err
	}
	records, err := remote.Reconcile(rows, snapshot)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.seen[table] = digest(rows)
	c.mu.Unlock()

	c.hub.Emit(table, records)
	return nil
}

// Listen registers l and starts the watcher on first use.
func (c *Client) Listen(l remote.Listener) func() {
	cancel := c.hub.Add(l)
	c.startOnce.Do(func() { go c.watch() })
	return cancel
}

// Close stops the watcher.
func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	// Never started: nothing will close done.
	c.startOnce.Do(func() { close(c.done) })
	<-c.done
	return nil
}

func (c *Client) watch() {
	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if err := c.Poll(); err != nil {
				c.logger.Warn("watch poll failed", "err", err)
			}
		}
	}
}

// Poll syncs with the cloud once and emits every row that changed since the
// last InitialSync or Poll.
func (c *Client) Poll() error {
	if c.autoSync {
		if err := c.Sync(); err != nil {
			return fmt.Errorf("sync: %w", err)
		}
	}
	for _, table := range remote.Tables {
		rows, err := c.readTable(table)
		if err != nil {
			return err
		}
		records := c.diff(table, rows)
		c.hub.Emit(table, records)
	}
	return nil
}

func (c *Client) diff(table remote.TableID, rows map[string][]byte) []remote.Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.seen[table]
	next := digest(rows)
	var records []remote.Record
	for key, raw := range rows {
		if prev[key] == next[key] {
			continue
		}
		rec, err := remote.RecordFor(c.node, key, raw)
		if err != nil {
			c.logger.Warn("skipping unreadable row", "table", table, "key", key, "err", err)
			continue
		}
		records = append(records, rec)
	}
	for key := range prev {
		if _, ok := rows[key]; !ok {
			records = append(records, remote.Record{Key: key, IsDeleted: true})
		}
	}
	c.seen[table] = next
	return records
}

func (c *Client) readTable(table remote.TableID) (map[string][]byte, error) {
	var rows map[string][]byte
	err := c.DoReadOnly(func(k *kv.KV) error {
		var err error
		rows, err = tableRows(k, table)
		return err
	})
	return rows, err
}

func tableRows(k *kv.KV, table remote.TableID) (map[string][]byte, error) {
	keys, err := k.Keys()
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	prefix := string(table) + ":"
	rows := make(map[string][]byte)
	for _, key := range keys {
		if !strings.HasPrefix(string(key), prefix) {
			continue
		}
		data, err := k.Get(key)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not read %s\n", key)
			continue
		}
		rows[strings.TrimPrefix(string(key), prefix)] = data
	}
	return rows, nil
}

func digest(rows map[string][]byte) map[string]string {
	out := make(map[string]string, len(rows))
	for k, v := range rows {
		out[k] = string(v)
	}
	return out
}

var (
	_ remote.Service = (*Client)(nil)
	_ remote.Pinger  = (*Client)(nil)
)
