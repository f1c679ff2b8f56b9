// ABOUTME: Connectivity transitions, reconnect sweep, per-record push paths and full rebuild
// ABOUTME: Routes remote listener events to the subscription or entry handler by table

package engine

import (
	"context"
	"fmt"

	"github.com/harper/feedsync/internal/models"
	"github.com/harper/feedsync/internal/remote"
	"github.com/harper/feedsync/internal/storage"
	"github.com/harper/feedsync/internal/syncstate"
)

// Connect brings the engine online: deferred deletions are purged, pending
// records pushed, the listener registered and both tables reconciled.
// The listener is registered before the initial sync because the remote
// service delivers the delta through it. A remote failure during any step
// leaves the engine disconnected. Connect on an engine that is connecting
// or connected returns nil.
func (e *Engine) Connect(ctx context.Context) error {
	e.mu.Lock()
	svc := e.remote
	if svc == nil {
		e.mu.Unlock()
		return remote.ErrNotConnected
	}
	if e.state != Disconnected {
		e.mu.Unlock()
		return nil
	}
	e.state = Connecting
	attempt := make(chan struct{})
	e.lost = attempt
	e.linkErr = nil
	e.mu.Unlock()
	e.stateChanged(Connecting)

	if n, err := e.Sweep(ctx); err != nil {
		e.logger.Warn("sweep deferred deletions", "err", err)
	} else if n > 0 {
		e.logger.Info("purged unsubscribed feeds", "count", n)
	}

	if err := e.pushPending(ctx); err != nil {
		e.Disconnect()
		return fmt.Errorf("push pending: %w", err)
	}
	if err := e.linkError(); err != nil {
		e.Disconnect()
		return fmt.Errorf("push pending: %w", err)
	}

	listenCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.mu.Lock()
	e.listenCtx = listenCtx
	e.cancelListen = cancel
	e.stopListen = svc.Listen(e.dispatch)
	e.mu.Unlock()

	if err := e.subs.InitialSync(ctx); err != nil {
		e.Disconnect()
		return fmt.Errorf("initial sync %s: %w", remote.Subscriptions, err)
	}
	if err := e.entries.InitialSync(ctx); err != nil {
		e.Disconnect()
		return fmt.Errorf("initial sync %s: %w", remote.EntriesRead, err)
	}

	e.mu.Lock()
	if e.state != Connecting || e.lost != attempt {
		// Disconnected meanwhile; a newer attempt may own the state now.
		e.mu.Unlock()
		return remote.ErrNotConnected
	}
	err := e.linkErr
	if err == nil {
		e.state = Connected
	}
	e.mu.Unlock()
	if err != nil {
		e.Disconnect()
		return fmt.Errorf("initial sync: %w", err)
	}
	e.stateChanged(Connected)
	return nil
}

// Disconnect stops pushing and unregisters the listener. Later local
// mutations resolve to PendingSync.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	stop, cancel := e.stopListen, e.cancelListen
	e.stopListen, e.cancelListen = nil, nil
	wasOnline := e.state != Disconnected
	e.state = Disconnected
	if e.lost != nil {
		close(e.lost)
		e.lost = nil
	}
	e.mu.Unlock()

	if stop != nil {
		stop()
	}
	if cancel != nil {
		cancel()
	}
	if wasOnline {
		e.stateChanged(Disconnected)
	}
}

// closedLink is what Lost returns while disconnected.
var closedLink = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Lost returns a channel closed when the current connection, or connection
// attempt, ends. It is already closed while disconnected.
func (e *Engine) Lost() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lost == nil {
		return closedLink
	}
	return e.lost
}

// CheckLink pings a connected remote that supports it. A failed ping
// disconnects the engine.
func (e *Engine) CheckLink(ctx context.Context) error {
	p, ok := e.service().(remote.Pinger)
	if !ok || e.Connectivity() != Connected {
		return nil
	}
	if err := p.Ping(ctx); err != nil {
		e.remoteFailed(ctx, err)
		return fmt.Errorf("ping remote: %w", err)
	}
	return nil
}

// remoteFailed handles a failed remote call. Connected, the engine drops to
// Disconnected so that the next Connect sweeps and reconciles again;
// connecting, the attempt fails. Calls aborted by their own context are
// not link failures.
func (e *Engine) remoteFailed(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	e.mu.Lock()
	state := e.state
	if state == Connecting && e.linkErr == nil {
		e.linkErr = err
	}
	e.mu.Unlock()

	if state == Connected {
		e.logger.Warn("remote link lost", "err", err)
		e.Disconnect()
	}
}

func (e *Engine) linkError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.linkErr
}

func (e *Engine) dispatch(table remote.TableID, records []remote.Record) {
	e.mu.Lock()
	ctx := e.listenCtx
	e.mu.Unlock()
	if ctx == nil {
		return
	}

	var foreign []remote.Record
	for _, rec := range records {
		if !rec.IsLocalEcho {
			foreign = append(foreign, rec)
		}
	}
	if len(foreign) == 0 {
		return
	}

	switch table {
	case remote.Subscriptions:
		e.subs.ApplyRemote(ctx, foreign)
	case remote.EntriesRead:
		e.entries.ApplyRemote(ctx, foreign)
	default:
		e.logger.Warn("event for unknown table", "table", table)
	}
}

// pushPending pushes every subscription and entry the remote side has not
// confirmed. Unread entries that never left this device stay local.
func (e *Engine) pushPending(ctx context.Context) error {
	var urls []string
	if _, err := e.store.WalkSubscriptions(func(sub *models.Subscription) storage.Result[*models.Subscription] {
		if !sub.IsUnsubscribed && syncstate.NeedsPush(sub.RemoteState) {
			urls = append(urls, sub.URL)
		}
		return storage.Skip[*models.Subscription]()
	}); err != nil {
		return fmt.Errorf("scan subscriptions: %w", err)
	}

	var hashes []string
	if _, err := e.store.WalkEntries(func(ent *models.Entry) storage.Result[*models.Entry] {
		if ent.RemoteState == models.PendingSync || (ent.RemoteState == models.LocalOnly && ent.IsRead) {
			hashes = append(hashes, ent.Hash)
		}
		return storage.Skip[*models.Entry]()
	}); err != nil {
		return fmt.Errorf("scan entries: %w", err)
	}

	for _, url := range urls {
		if e.linkError() != nil {
			return nil
		}
		if _, err := e.SyncSubscription(ctx, url); err != nil {
			e.logger.Warn("push subscription", "url", url, "err", err)
		}
	}
	for _, hash := range hashes {
		if e.linkError() != nil {
			return nil
		}
		if _, err := e.SyncEntry(ctx, hash); err != nil {
			e.logger.Warn("push entry", "hash", hash, "err", err)
		}
	}
	e.logger.Debug("pushed pending records", "subscriptions", len(urls), "entries", len(hashes))
	return nil
}

// SyncSubscription pushes the subscription for url when connected and
// records the resulting sync state.
func (e *Engine) SyncSubscription(ctx context.Context, url string) (models.SyncState, error) {
	unlock := e.subLocks.Lock(url)
	defer unlock()
	return e.syncSubscriptionLocked(ctx, url)
}

func (e *Engine) syncSubscriptionLocked(ctx context.Context, url string) (models.SyncState, error) {
	sub, err := e.store.GetSubscription(url)
	if err != nil {
		return models.LocalOnly, fmt.Errorf("%w: %s", ErrUnknownFeed, url)
	}

	d := syncstate.Decide(sub.RemoteState, e.canPush())
	next := d.Next
	if d.PushNow {
		if err := e.service().Insert(ctx, remote.Subscriptions, sub.Hash, subscriptionRow(sub)); err != nil {
			e.logger.Warn("push subscription failed", "url", url, "err", err)
			next = syncstate.Failed()
			e.remoteFailed(ctx, err)
		}
	}

	if err := e.setSubscriptionState(url, next); err != nil {
		return sub.RemoteState, err
	}
	return next, nil
}

func (e *Engine) setSubscriptionState(url string, state models.SyncState) error {
	written, err := e.store.UpdateSubscription(url, func(cur *models.Subscription) storage.Result[*models.Subscription] {
		if cur == nil || cur.RemoteState == state {
			return storage.Skip[*models.Subscription]()
		}
		c := cur.Clone()
		c.RemoteState = state
		return storage.Write(c)
	})
	if err != nil {
		return fmt.Errorf("record sync state of %s: %w", url, err)
	}
	if written {
		e.registry.Update(url, func(s *models.Subscription) { s.RemoteState = state })
	}
	return nil
}

// SyncEntry pushes the read state of the entry when connected and records
// the resulting sync state. Placeholders stay RemoteOnly after a push.
func (e *Engine) SyncEntry(ctx context.Context, hash string) (models.SyncState, error) {
	unlock := e.entryLocks.Lock(hash)
	defer unlock()
	return e.syncEntryLocked(ctx, hash)
}

func (e *Engine) syncEntryLocked(ctx context.Context, hash string) (models.SyncState, error) {
	ent, err := e.store.GetEntry(hash)
	if err != nil {
		return models.LocalOnly, fmt.Errorf("%w: %s", ErrUnknownEntry, hash)
	}

	d := syncstate.Decide(ent.RemoteState, e.canPush())
	next := d.Next
	if d.PushNow {
		if err := e.service().Insert(ctx, remote.EntriesRead, ent.Hash, entryRow(ent)); err != nil {
			e.logger.Warn("push entry failed", "hash", hash, "err", err)
			next = syncstate.Failed()
			e.remoteFailed(ctx, err)
		} else if ent.IsPlaceholder() {
			next = models.RemoteOnly
		}
	}

	if _, err := e.store.UpdateEntry(hash, func(cur *models.Entry) storage.Result[*models.Entry] {
		if cur == nil || cur.RemoteState == next {
			return storage.Skip[*models.Entry]()
		}
		c := *cur
		c.RemoteState = next
		return storage.Write(&c)
	}); err != nil {
		return ent.RemoteState, fmt.Errorf("record sync state of %s: %w", hash, err)
	}
	return next, nil
}

// RebuildResult reports the records confirmed by a full rebuild.
type RebuildResult struct {
	Subscriptions int
	Entries       int
}

// Rebuild overwrites both remote tables with the full local state and
// confirms every exported record as Synced.
func (e *Engine) Rebuild(ctx context.Context) (RebuildResult, error) {
	var res RebuildResult
	if !e.canPush() {
		return res, remote.ErrNotConnected
	}

	subRows := e.subs.ExportAll()
	full := make(map[string]any, len(subRows))
	for _, row := range subRows {
		full[row.Hash] = row
	}
	if err := e.service().WriteFullState(ctx, remote.Subscriptions, full); err != nil {
		e.remoteFailed(ctx, err)
		return res, fmt.Errorf("write %s: %w", remote.Subscriptions, err)
	}
	n, err := e.subs.MarkAsSynced(ctx, subRows)
	res.Subscriptions = n
	if err != nil {
		return res, err
	}

	entryRows, err := e.entries.ExportAll(ctx)
	if err != nil {
		return res, err
	}
	full = make(map[string]any, len(entryRows))
	for _, row := range entryRows {
		full[row.EntryHash] = row
	}
	if err := e.service().WriteFullState(ctx, remote.EntriesRead, full); err != nil {
		e.remoteFailed(ctx, err)
		return res, fmt.Errorf("write %s: %w", remote.EntriesRead, err)
	}
	res.Entries, err = e.entries.MarkAsSynced(ctx, entryRows)
	return res, err
}

// ResetSyncState marks every subscription and fetched entry LocalOnly so
// that the next connect pushes them again. Placeholders are kept.
func (e *Engine) ResetSyncState() (int, error) {
	n, err := e.store.WalkSubscriptions(func(sub *models.Subscription) storage.Result[*models.Subscription] {
		if sub.RemoteState == models.LocalOnly {
			return storage.Skip[*models.Subscription]()
		}
		c := sub.Clone()
		c.RemoteState = models.LocalOnly
		e.registry.Update(sub.URL, func(s *models.Subscription) { s.RemoteState = models.LocalOnly })
		return storage.Write(c)
	})
	if err != nil {
		return n, fmt.Errorf("reset subscriptions: %w", err)
	}
	m, err := e.store.WalkEntries(func(ent *models.Entry) storage.Result[*models.Entry] {
		if ent.RemoteState == models.LocalOnly || ent.IsPlaceholder() {
			return storage.Skip[*models.Entry]()
		}
		c := *ent
		c.RemoteState = models.LocalOnly
		return storage.Write(&c)
	})
	if err != nil {
		return n + m, fmt.Errorf("reset entries: %w", err)
	}
	return n + m, nil
}
