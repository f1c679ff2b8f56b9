// ABOUTME: Feed refresh path: conditional fetch, header refresh and entry recording
// ABOUTME: Placeholders are promoted by a real fetch keeping their read flag; failures are recorded on the feed

package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/harper/feedsync/internal/content"
	"github.com/harper/feedsync/internal/fetch"
	"github.com/harper/feedsync/internal/keys"
	"github.com/harper/feedsync/internal/models"
	"github.com/harper/feedsync/internal/parse"
	"github.com/harper/feedsync/internal/storage"
)

// FetchResult summarizes one feed refresh.
type FetchResult struct {
	New         int  // entries written, including promoted placeholders
	NotModified bool // the server answered 304
}

// FetchFeed fetches url, refreshes its header and records new entries.
// force ignores the cached validators. A fetch failure is recorded on the
// subscription and returned.
func (e *Engine) FetchFeed(ctx context.Context, url string, force bool) (FetchResult, error) {
	var res FetchResult
	if e.fetcher == nil {
		return res, fmt.Errorf("fetch %s: no transport", url)
	}
	sub, ok := e.registry.Get(url)
	if !ok {
		return res, fmt.Errorf("%w: %s", ErrUnknownFeed, url)
	}

	req := fetch.Request{URL: url}
	if !force {
		req.ETag = sub.ETag
		req.LastModified = sub.LastModified
	}
	resp, fetchErr := e.fetcher.Fetch(ctx, req)

	unlock := e.subLocks.Lock(url)
	updated, err := e.recordFetch(url, resp, fetchErr)
	unlock()
	if err != nil {
		return res, err
	}
	if fetchErr != nil {
		return res, fmt.Errorf("fetch %s: %w", url, fetchErr)
	}
	if updated == nil {
		// Removed while the fetch was in flight.
		return res, nil
	}
	if resp.NotModified {
		res.NotModified = true
		return res, nil
	}

	res.New = e.recordEntries(updated.Hash, resp.Document)
	e.logger.Debug("fetched", "url", url, "new", res.New)
	e.observer.SubscriptionUpdated(updated)
	return res, nil
}

// recordFetch writes the fetch outcome to the subscription. User fields
// and the sync state are preserved. It returns nil when the subscription
// vanished.
func (e *Engine) recordFetch(url string, resp *fetch.Response, fetchErr error) (*models.Subscription, error) {
	if e.registry.FindByURL(url) < 0 {
		return nil, nil
	}

	var updated *models.Subscription
	written, err := e.store.UpdateSubscription(url, func(cur *models.Subscription) storage.Result[*models.Subscription] {
		if cur == nil || cur.IsUnsubscribed {
			return storage.Skip[*models.Subscription]()
		}
		c := cur.Clone()
		if fetchErr != nil {
			c.RecordError(fetchErr.Error())
		} else {
			c.ClearError(e.now())
			c.SetCacheHeaders(resp.ETag, resp.LastModified)
			if doc := resp.Document; doc != nil {
				applyHeader(c, doc)
			}
		}
		updated = c
		return storage.Write(c)
	})
	if err != nil {
		return nil, fmt.Errorf("record fetch of %s: %w", url, err)
	}
	if !written {
		return nil, nil
	}

	e.registry.Update(url, func(s *models.Subscription) {
		tags, state := s.Tags, s.RemoteState
		*s = *updated.Clone()
		s.Tags, s.RemoteState = tags, state
	})
	return updated, nil
}

func applyHeader(sub *models.Subscription, doc *parse.Document) {
	if doc.Title != "" {
		sub.Title = doc.Title
	}
	sub.Link = doc.Link
	sub.Description = content.Sanitize(doc.Description)
	sub.FeedType = doc.Type
	sub.FeedVersion = doc.Version
}

// recordEntries writes the items that are new or still placeholders and
// returns how many were written.
func (e *Engine) recordEntries(feedHash string, doc *parse.Document) int {
	if doc == nil {
		return 0
	}
	hashes := make([]string, 0, len(doc.Items))
	for h := range doc.Items {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)

	written := 0
	for _, h := range hashes {
		ok, err := e.recordEntry(feedHash, doc.Items[h])
		if err != nil {
			e.logger.Error("record entry", "hash", h, "err", err)
			continue
		}
		if ok {
			written++
		}
	}
	return written
}

func (e *Engine) recordEntry(feedHash string, item parse.Item) (bool, error) {
	unlock := e.entryLocks.Lock(item.Hash)
	defer unlock()

	return e.store.UpdateEntry(item.Hash, func(cur *models.Entry) storage.Result[*models.Entry] {
		if cur != nil && !cur.IsPlaceholder() && cur.HasContent() {
			return storage.Skip[*models.Entry]()
		}
		ent := &models.Entry{
			Hash:        item.Hash,
			FeedDate:    keys.EntryCompoundKey(feedHash, item.Date),
			Title:       item.Title,
			Link:        item.Link,
			Description: content.Sanitize(item.Description),
			Date:        item.Date,
			RemoteState: models.LocalOnly,
		}
		if cur != nil {
			ent.IsRead = cur.IsRead
			ent.RemoteState = cur.RemoteState
			if cur.IsPlaceholder() {
				ent.RemoteState = models.Synced
			}
		}
		return storage.Write(ent)
	})
}

// FetchAll fetches every registered feed in URL order and returns the
// per-feed outcome. Failures do not stop the pass.
func (e *Engine) FetchAll(ctx context.Context, force bool) map[string]FetchOutcome {
	out := make(map[string]FetchOutcome)
	for _, sub := range e.registry.Snapshot() {
		if ctx.Err() != nil {
			break
		}
		res, err := e.FetchFeed(ctx, sub.URL, force)
		out[sub.URL] = FetchOutcome{FetchResult: res, Err: err}
	}
	return out
}

// FetchOutcome pairs a FetchResult with its error.
type FetchOutcome struct {
	FetchResult
	Err error
}
