// ABOUTME: Local mutations of subscriptions and entries, each serialized per record
// ABOUTME: Every synchronizable change goes through the sync decision; removal is deferred

package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/harper/feedsync/internal/keys"
	"github.com/harper/feedsync/internal/models"
	"github.com/harper/feedsync/internal/remote"
	"github.com/harper/feedsync/internal/storage"
	"github.com/harper/feedsync/internal/syncstate"
)

// Subscribe adds url with the given tags, or revives it when it was
// unsubscribed and not purged yet. The feed is pushed when connected.
// The feed content is not fetched; call FetchFeed.
func (e *Engine) Subscribe(ctx context.Context, url, tags string) (*models.Subscription, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("subscribe: empty url")
	}

	unlock := e.subLocks.Lock(url)
	defer unlock()

	var sub *models.Subscription
	created := false
	written, err := e.store.UpdateSubscription(url, func(cur *models.Subscription) storage.Result[*models.Subscription] {
		if cur == nil {
			created = true
			sub = models.NewSubscription(url, keys.FeedKey(url))
			sub.Tags = tags
			return storage.Write(sub)
		}
		if !cur.IsUnsubscribed {
			return storage.Skip[*models.Subscription]()
		}
		sub = cur.Clone()
		sub.IsUnsubscribed = false
		if tags != "" {
			sub.Tags = tags
		}
		return storage.Write(sub)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", url, err)
	}
	if !written {
		return nil, fmt.Errorf("%w: %s", ErrAlreadySubscribed, url)
	}

	e.registry.Insert(sub)
	e.logger.Info("subscribed", "url", url)

	// A brand-new feed created offline stays LocalOnly until reconnect.
	if created && !e.canPush() {
		return sub, nil
	}
	state, err := e.syncSubscriptionLocked(ctx, url)
	if err != nil {
		return nil, err
	}
	sub.RemoteState = state
	return sub, nil
}

// Unsubscribe marks url unsubscribed and drops it from the registry. The
// record stays in the store until the next sweep so it can be revived.
func (e *Engine) Unsubscribe(ctx context.Context, url string) error {
	unlock := e.subLocks.Lock(url)
	defer unlock()
	_, err := e.unsubscribeLocked(url)
	return err
}

func (e *Engine) unsubscribeLocked(url string) (*models.Subscription, error) {
	var sub *models.Subscription
	missing := false
	if _, err := e.store.UpdateSubscription(url, func(cur *models.Subscription) storage.Result[*models.Subscription] {
		if cur == nil {
			missing = true
			return storage.Skip[*models.Subscription]()
		}
		sub = cur.Clone()
		if cur.IsUnsubscribed {
			return storage.Skip[*models.Subscription]()
		}
		sub.IsUnsubscribed = true
		return storage.Write(sub)
	}); err != nil {
		return nil, fmt.Errorf("unsubscribe %s: %w", url, err)
	}
	if missing {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeed, url)
	}

	if e.registry.Remove(url) {
		e.logger.Info("unsubscribed", "url", url)
		e.observer.SubscriptionRemoved(sub)
	}
	return sub, nil
}

// Resubscribe undoes an Unsubscribe that was not swept yet.
func (e *Engine) Resubscribe(ctx context.Context, url string) (*models.Subscription, error) {
	unlock := e.subLocks.Lock(url)
	defer unlock()

	var sub *models.Subscription
	written, err := e.store.UpdateSubscription(url, func(cur *models.Subscription) storage.Result[*models.Subscription] {
		if cur == nil || !cur.IsUnsubscribed {
			return storage.Skip[*models.Subscription]()
		}
		sub = cur.Clone()
		sub.IsUnsubscribed = false
		return storage.Write(sub)
	})
	if err != nil {
		return nil, fmt.Errorf("resubscribe %s: %w", url, err)
	}
	if !written {
		return nil, fmt.Errorf("%w: %s is not pending removal", ErrUnknownFeed, url)
	}
	e.registry.Insert(sub)
	return sub, nil
}

// Remove unsubscribes url and purges it right away where that is safe. It
// reports whether the local record was deleted; otherwise the purge waits
// for the next reconnect.
func (e *Engine) Remove(ctx context.Context, url string) (bool, error) {
	unlock := e.subLocks.Lock(url)
	defer unlock()

	sub, err := e.unsubscribeLocked(url)
	if err != nil {
		return false, err
	}
	return e.purgeLocked(ctx, sub)
}

func (e *Engine) purgeLocked(ctx context.Context, sub *models.Subscription) (bool, error) {
	r := syncstate.DecideRemoval(sub.RemoteState, e.canPush())
	if r.DeleteRemote {
		if err := e.service().DeleteByKey(ctx, remote.Subscriptions, sub.Hash); err != nil {
			e.logger.Warn("remote delete failed, keeping for next sweep", "url", sub.URL, "err", err)
			e.remoteFailed(ctx, err)
			return false, nil
		}
	}
	if !r.DeleteLocal {
		return false, nil
	}
	if err := e.store.DeleteSubscription(sub.URL); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return false, fmt.Errorf("purge %s: %w", sub.URL, err)
	}
	e.logger.Info("purged", "url", sub.URL, "remote", r.DeleteRemote)
	return true, nil
}

// Sweep purges the subscriptions marked unsubscribed. While disconnected
// only records the remote side never saw are purged.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	var urls []string
	if _, err := e.store.WalkSubscriptions(func(sub *models.Subscription) storage.Result[*models.Subscription] {
		if sub.IsUnsubscribed {
			urls = append(urls, sub.URL)
		}
		return storage.Skip[*models.Subscription]()
	}); err != nil {
		return 0, fmt.Errorf("scan unsubscribed: %w", err)
	}

	purged := 0
	for _, url := range urls {
		ok, err := e.purgeOne(ctx, url)
		if err != nil {
			return purged, err
		}
		if ok {
			purged++
		}
	}
	return purged, nil
}

func (e *Engine) purgeOne(ctx context.Context, url string) (bool, error) {
	unlock := e.subLocks.Lock(url)
	defer unlock()

	// Revalidate: the record may have been revived or removed meanwhile.
	sub, err := e.store.GetSubscription(url)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !sub.IsUnsubscribed {
		return false, nil
	}
	return e.purgeLocked(ctx, sub)
}

// SetTags replaces the tags of url and syncs the change.
func (e *Engine) SetTags(ctx context.Context, url, tags string) (models.SyncState, error) {
	unlock := e.subLocks.Lock(url)
	defer unlock()

	cur, ok := e.registry.Get(url)
	if !ok {
		return models.LocalOnly, fmt.Errorf("%w: %s", ErrUnknownFeed, url)
	}
	written, err := e.store.UpdateSubscription(url, func(cur *models.Subscription) storage.Result[*models.Subscription] {
		if cur == nil || cur.Tags == tags {
			return storage.Skip[*models.Subscription]()
		}
		c := cur.Clone()
		c.Tags = tags
		return storage.Write(c)
	})
	if err != nil {
		return cur.RemoteState, fmt.Errorf("set tags of %s: %w", url, err)
	}
	if !written {
		return cur.RemoteState, nil
	}
	e.registry.Update(url, func(s *models.Subscription) { s.Tags = tags })
	return e.syncSubscriptionLocked(ctx, url)
}

// MarkEntryRead sets the read flag of an entry and syncs the change. It
// reports false when the flag already had that value.
func (e *Engine) MarkEntryRead(ctx context.Context, hash string, isRead bool) (bool, error) {
	unlock := e.entryLocks.Lock(hash)
	defer unlock()

	missing := false
	written, err := e.store.UpdateEntry(hash, func(cur *models.Entry) storage.Result[*models.Entry] {
		if cur == nil {
			missing = true
			return storage.Skip[*models.Entry]()
		}
		if cur.IsRead == isRead {
			return storage.Skip[*models.Entry]()
		}
		c := *cur
		c.IsRead = isRead
		return storage.Write(&c)
	})
	if err != nil {
		return false, fmt.Errorf("mark %s: %w", hash, err)
	}
	if missing {
		return false, fmt.Errorf("%w: %s", ErrUnknownEntry, hash)
	}
	if !written {
		return false, nil
	}
	if _, err := e.syncEntryLocked(ctx, hash); err != nil {
		return true, err
	}
	return true, nil
}

// Tags returns the distinct tags of all registered subscriptions, sorted.
func (e *Engine) Tags() []string {
	seen := make(map[string]bool)
	var out []string
	for _, sub := range e.registry.Snapshot() {
		for _, t := range sub.TagList() {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	sort.Strings(out)
	return out
}

// EntryQuery bounds a per-feed entry read.
type EntryQuery struct {
	Until      time.Time // newest entry date included; zero means no bound
	UnreadOnly bool
	Limit      int // zero means no limit
}

// Entries returns the entries of url, newest first, through the compound
// key index.
func (e *Engine) Entries(url string, q EntryQuery) ([]*models.Entry, error) {
	sub, ok := e.registry.Get(url)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeed, url)
	}
	var out []*models.Entry
	if _, err := e.store.WalkFeedEntries(sub.Hash, q.Until, func(ent *models.Entry) storage.Result[*models.Entry] {
		if q.Limit > 0 && len(out) >= q.Limit {
			return storage.Stop[*models.Entry]()
		}
		if !q.UnreadOnly || !ent.IsRead {
			out = append(out, ent)
		}
		return storage.Skip[*models.Entry]()
	}); err != nil {
		return nil, fmt.Errorf("entries of %s: %w", url, err)
	}
	return out, nil
}

// Entry returns the stored entry for hash.
func (e *Engine) Entry(hash string) (*models.Entry, error) {
	ent, err := e.store.GetEntry(hash)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntry, hash)
	}
	return ent, err
}

// MarkReadBefore marks every unread entry of url dated before cutoff as
// read and returns how many changed.
func (e *Engine) MarkReadBefore(ctx context.Context, url string, cutoff time.Time) (int, error) {
	ents, err := e.Entries(url, EntryQuery{Until: cutoff.Add(-time.Second), UnreadOnly: true})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ent := range ents {
		changed, err := e.MarkEntryRead(ctx, ent.Hash, true)
		if err != nil {
			return n, err
		}
		if changed {
			n++
		}
	}
	return n, nil
}
