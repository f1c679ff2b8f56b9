// ABOUTME: Reconciliation engine owning the registry, the sync handlers and connectivity
// ABOUTME: Constructed with injected store, remote service and fetch transport; no globals

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/harper/feedsync/internal/fetch"
	"github.com/harper/feedsync/internal/models"
	"github.com/harper/feedsync/internal/registry"
	"github.com/harper/feedsync/internal/remote"
	"github.com/harper/feedsync/internal/storage"
)

var (
	// ErrUnknownFeed is returned for operations on a URL that is not subscribed.
	ErrUnknownFeed = errors.New("unknown feed")
	// ErrUnknownEntry is returned for operations on an entry hash that is not stored.
	ErrUnknownEntry = errors.New("unknown entry")
	// ErrAlreadySubscribed is returned by Subscribe for an active subscription.
	ErrAlreadySubscribed = errors.New("already subscribed")
)

// Fetcher retrieves and parses a feed. *fetch.Transport implements it.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request) (*fetch.Response, error)
}

// Connectivity is the engine's view of the remote channel.
type Connectivity int

const (
	Disconnected Connectivity = iota
	Connecting
	Connected
)

func (c Connectivity) String() string {
	switch c {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("Connectivity(%d)", int(c))
	}
}

// Options configures an Engine. Store is required; Remote and Fetcher may
// be nil for an offline engine that never fetches.
type Options struct {
	Store    storage.Store
	Remote   remote.Service
	Fetcher  Fetcher
	Observer Observer
	Logger   *log.Logger
	Now      func() time.Time
}

// Engine synchronizes the local store with the remote table service.
type Engine struct {
	store    storage.Store
	remote   remote.Service
	fetcher  Fetcher
	observer Observer
	logger   *log.Logger
	now      func() time.Time

	registry *registry.Registry
	subs     *SubscriptionHandler
	entries  *EntryHandler

	subLocks   keyLock
	entryLocks keyLock

	mu           sync.Mutex
	state        Connectivity
	lost         chan struct{} // closed when the current connection ends
	linkErr      error         // first remote failure while connecting
	stopListen   func()
	listenCtx    context.Context
	cancelListen context.CancelFunc

	background sync.WaitGroup
}

// New creates an engine. Call Load before use.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	e := &Engine{
		store:    opts.Store,
		remote:   opts.Remote,
		fetcher:  opts.Fetcher,
		observer: opts.Observer,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if e.observer == nil {
		e.observer = NopObserver{}
	}
	if e.logger == nil {
		e.logger = log.New(io.Discard)
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.registry = registry.New(func(added []*models.Subscription) {
		e.observer.SubscriptionsAdded(added)
	})
	e.subs = &SubscriptionHandler{e: e}
	e.entries = &EntryHandler{e: e}
	return e, nil
}

// Registry returns the in-memory subscription index.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// SubscriptionSync returns the subscription table handler.
func (e *Engine) SubscriptionSync() *SubscriptionHandler { return e.subs }

// EntrySync returns the entry table handler.
func (e *Engine) EntrySync() *EntryHandler { return e.entries }

// Connectivity returns the current connectivity state.
func (e *Engine) Connectivity() Connectivity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// AttachRemote gives an engine built without a remote service its backend,
// for callers that open the remote lazily. The engine must be disconnected.
func (e *Engine) AttachRemote(svc remote.Service) error {
	if svc == nil {
		return errors.New("engine: nil remote")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.remote != nil {
		return errors.New("engine: remote already attached")
	}
	e.remote = svc
	return nil
}

// HasRemote reports whether a remote service is attached.
func (e *Engine) HasRemote() bool {
	return e.service() != nil
}

func (e *Engine) service() remote.Service {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remote
}

// canPush is true while connecting or connected.
func (e *Engine) canPush() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remote != nil && e.state != Disconnected
}

func (e *Engine) stateChanged(c Connectivity) {
	e.logger.Info("connectivity", "state", c)
	e.observer.ConnectivityChanged(c)
}

// Load fills the registry from the store. Subscriptions marked unsubscribed
// are swept first; the rest are added in one batch.
func (e *Engine) Load(ctx context.Context) (int, error) {
	if _, err := e.Sweep(ctx); err != nil {
		e.logger.Warn("sweep at load failed", "err", err)
	}

	var active []*models.Subscription
	if _, err := e.store.WalkSubscriptions(func(sub *models.Subscription) storage.Result[*models.Subscription] {
		if !sub.IsUnsubscribed {
			active = append(active, sub)
		}
		return storage.Skip[*models.Subscription]()
	}); err != nil {
		return 0, fmt.Errorf("load subscriptions: %w", err)
	}

	n := e.registry.InsertBatch(active)
	e.logger.Debug("loaded subscriptions", "count", n)
	return n, nil
}

// Wait blocks until background fetches triggered by remote events finish.
func (e *Engine) Wait() {
	e.background.Wait()
}

// Close disconnects and waits for background work.
func (e *Engine) Close() {
	e.Disconnect()
	e.Wait()
}

// Stats counts records per sync state.
type Stats struct {
	Connectivity  Connectivity
	Subscriptions map[models.SyncState]int
	Unsubscribed  int
	Entries       map[models.SyncState]int
	Unread        int
}

// Stats walks the store and counts records per sync state.
func (e *Engine) Stats() (Stats, error) {
	st := Stats{
		Connectivity:  e.Connectivity(),
		Subscriptions: make(map[models.SyncState]int),
		Entries:       make(map[models.SyncState]int),
	}
	if _, err := e.store.WalkSubscriptions(func(sub *models.Subscription) storage.Result[*models.Subscription] {
		if sub.IsUnsubscribed {
			st.Unsubscribed++
		}
		st.Subscriptions[sub.RemoteState]++
		return storage.Skip[*models.Subscription]()
	}); err != nil {
		return st, fmt.Errorf("count subscriptions: %w", err)
	}
	if _, err := e.store.WalkEntries(func(ent *models.Entry) storage.Result[*models.Entry] {
		if !ent.IsRead {
			st.Unread++
		}
		st.Entries[ent.RemoteState]++
		return storage.Skip[*models.Entry]()
	}); err != nil {
		return st, fmt.Errorf("count entries: %w", err)
	}
	return st, nil
}
