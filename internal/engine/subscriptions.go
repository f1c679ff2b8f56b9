// ABOUTME: Subscription table handler converting between local records and remote rows
// ABOUTME: Full export, remote event application, initial-sync snapshot and bulk confirmation

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/harper/feedsync/internal/models"
	"github.com/harper/feedsync/internal/remote"
	"github.com/harper/feedsync/internal/storage"
)

// SubscriptionHandler synchronizes the rss_subscriptions table.
type SubscriptionHandler struct {
	e *Engine
}

func subscriptionRow(sub *models.Subscription) remote.SubscriptionRow {
	return remote.SubscriptionRow{Hash: sub.Hash, URL: sub.URL, Tags: sub.Tags}
}

// ExportAll returns one row per registered subscription, in URL order.
func (h *SubscriptionHandler) ExportAll() []remote.SubscriptionRow {
	subs := h.e.registry.Snapshot()
	rows := make([]remote.SubscriptionRow, len(subs))
	for i, sub := range subs {
		rows[i] = subscriptionRow(sub)
	}
	return rows
}

// ApplyRemote applies remote add, update and delete events. Echoes of local
// writes must be filtered by the caller.
func (h *SubscriptionHandler) ApplyRemote(ctx context.Context, records []remote.Record) {
	for _, rec := range records {
		if rec.IsDeleted {
			h.applyDelete(rec.Key)
			continue
		}

		var row remote.SubscriptionRow
		if err := json.Unmarshal(rec.Data, &row); err != nil {
			h.e.logger.Warn("bad subscription row", "key", rec.Key, "err", err)
			continue
		}
		if row.URL == "" {
			h.e.logger.Warn("subscription row without url", "key", rec.Key)
			continue
		}
		if row.Hash == "" {
			row.Hash = rec.Key
		}
		h.applyUpsert(ctx, row)
	}
}

func (h *SubscriptionHandler) applyDelete(hash string) {
	sub, ok := h.e.registry.GetByHash(hash)
	if !ok {
		h.e.logger.Warn("remote delete for unknown feed", "hash", hash)
		return
	}

	unlock := h.e.subLocks.Lock(sub.URL)
	defer unlock()

	if !h.e.registry.Remove(sub.URL) {
		return
	}
	if err := h.e.store.DeleteSubscription(sub.URL); err != nil {
		h.e.logger.Error("delete subscription", "url", sub.URL, "err", err)
	}
	h.e.logger.Info("remote unsubscribe", "url", sub.URL)
	h.e.observer.SubscriptionRemoved(sub)
}

func (h *SubscriptionHandler) applyUpsert(ctx context.Context, row remote.SubscriptionRow) {
	unlock := h.e.subLocks.Lock(row.URL)

	var result *models.Subscription
	created := false
	written, err := h.e.store.UpdateSubscription(row.URL, func(cur *models.Subscription) storage.Result[*models.Subscription] {
		if cur == nil {
			created = true
			result = models.NewSubscription(row.URL, row.Hash)
			result.Tags = row.Tags
			result.RemoteState = models.Synced
			return storage.Write(result)
		}
		// Only the synchronized fields are compared; the rest is local.
		if cur.Tags == row.Tags && cur.Hash == row.Hash && cur.RemoteState == models.Synced {
			return storage.Skip[*models.Subscription]()
		}
		result = cur.Clone()
		result.Tags = row.Tags
		result.Hash = row.Hash
		result.RemoteState = models.Synced
		return storage.Write(result)
	})
	if err != nil {
		unlock()
		h.e.logger.Error("record remote subscription", "url", row.URL, "err", err)
		return
	}
	if !written {
		unlock()
		return
	}

	if !result.IsUnsubscribed {
		updated := h.e.registry.Update(row.URL, func(s *models.Subscription) {
			s.Tags = result.Tags
			s.Hash = result.Hash
			s.RemoteState = result.RemoteState
		})
		if !updated {
			h.e.registry.Insert(result)
		}
	}
	unlock()

	h.e.logger.Info("remote subscription", "url", row.URL, "tags", row.Tags)
	// Only a feed new to this device needs its content.
	if !created || h.e.fetcher == nil {
		return
	}

	h.e.background.Add(1)
	go func() {
		defer h.e.background.Done()
		if _, err := h.e.FetchFeed(ctx, row.URL, false); err != nil {
			h.e.logger.Warn("fetch remote subscription", "url", row.URL, "err", err)
		}
	}()
}

// InitialSyncSnapshot returns the registered keys annotated with whether the
// remote side is known to hold them.
func (h *SubscriptionHandler) InitialSyncSnapshot() map[string]remote.KeyStatus {
	subs := h.e.registry.Snapshot()
	snap := make(map[string]remote.KeyStatus, len(subs))
	for _, sub := range subs {
		snap[sub.Hash] = remote.KeyStatus{Synced: sub.RemoteState == models.Synced}
	}
	return snap
}

// InitialSync hands the snapshot to the remote service; the delta arrives
// through the registered listener.
func (h *SubscriptionHandler) InitialSync(ctx context.Context) error {
	svc := h.e.service()
	if svc == nil {
		return remote.ErrNotConnected
	}
	return svc.InitialSync(ctx, remote.Subscriptions, h.InitialSyncSnapshot())
}

// MarkAsSynced confirms that rows landed remotely. Rows already Synced are
// skipped. It returns after every write finished with the number of records
// flipped; an empty batch returns immediately.
func (h *SubscriptionHandler) MarkAsSynced(ctx context.Context, rows []remote.SubscriptionRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	var flipped atomic.Int64
	g, _ := errgroup.WithContext(ctx)
	for _, row := range rows {
		g.Go(func() error {
			unlock := h.e.subLocks.Lock(row.URL)
			defer unlock()

			if h.e.registry.FindByURL(row.URL) < 0 {
				h.e.logger.Warn("mark synced: unknown feed", "url", row.URL)
				return nil
			}
			written, err := h.e.store.UpdateSubscription(row.URL, func(cur *models.Subscription) storage.Result[*models.Subscription] {
				if cur == nil || cur.RemoteState == models.Synced {
					return storage.Skip[*models.Subscription]()
				}
				c := cur.Clone()
				c.RemoteState = models.Synced
				return storage.Write(c)
			})
			if err != nil {
				return fmt.Errorf("mark %s synced: %w", row.URL, err)
			}
			if written {
				h.e.registry.Update(row.URL, func(s *models.Subscription) { s.RemoteState = models.Synced })
				flipped.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	return int(flipped.Load()), err
}
