// ABOUTME: Entry read-state table handler; only the read flag is synchronized, never content
// ABOUTME: Applies remote read marks, materializing placeholders for entries not fetched yet

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harper/feedsync/internal/keys"
	"github.com/harper/feedsync/internal/models"
	"github.com/harper/feedsync/internal/remote"
	"github.com/harper/feedsync/internal/storage"
)

// EntryHandler synchronizes the rss_entries_read table.
type EntryHandler struct {
	e *Engine
}

func entryRow(ent *models.Entry) remote.EntryRow {
	feedHash, date := keys.MustSplitEntryCompoundKey(ent.FeedDate)
	return remote.EntryRow{
		EntryHash: ent.Hash,
		FeedHash:  feedHash,
		IsRead:    ent.IsRead,
		Date:      keys.DayOnly(date),
	}
}

// ExportAll returns one row per stored entry.
func (h *EntryHandler) ExportAll(ctx context.Context) ([]remote.EntryRow, error) {
	var rows []remote.EntryRow
	if _, err := h.e.store.WalkEntries(func(ent *models.Entry) storage.Result[*models.Entry] {
		rows = append(rows, entryRow(ent))
		return storage.Skip[*models.Entry]()
	}); err != nil {
		return nil, fmt.Errorf("export entries: %w", err)
	}
	return rows, nil
}

// ApplyRemote applies remote read-state events. Echoes and deletes are
// ignored; entry deletion is never driven by the remote side.
func (h *EntryHandler) ApplyRemote(ctx context.Context, records []remote.Record) {
	for _, rec := range records {
		if rec.IsLocalEcho || rec.IsDeleted {
			continue
		}

		var row remote.EntryRow
		if err := json.Unmarshal(rec.Data, &row); err != nil {
			h.e.logger.Warn("bad entry row", "key", rec.Key, "err", err)
			continue
		}
		if row.EntryHash == "" {
			row.EntryHash = rec.Key
		}
		h.apply(row)
	}
}

func (h *EntryHandler) apply(row remote.EntryRow) {
	unlock := h.e.entryLocks.Lock(row.EntryHash)
	defer unlock()

	invalid := false
	written, err := h.e.store.UpdateEntry(row.EntryHash, func(cur *models.Entry) storage.Result[*models.Entry] {
		if cur == nil {
			if row.FeedHash == "" {
				invalid = true
				return storage.Skip[*models.Entry]()
			}
			date, err := keys.ParseStrictDate(row.Date)
			if err != nil {
				date = h.e.now().UTC().Truncate(24 * time.Hour)
			}
			feedDate := keys.EntryCompoundKey(row.FeedHash, date)
			return storage.Write(models.NewPlaceholderEntry(row.EntryHash, feedDate, date, row.IsRead))
		}
		if cur.IsRead == row.IsRead {
			return storage.Skip[*models.Entry]()
		}
		c := *cur
		c.IsRead = row.IsRead
		if !c.IsPlaceholder() {
			c.RemoteState = models.Synced
		}
		return storage.Write(&c)
	})
	if invalid {
		h.e.logger.Warn("entry row without feed hash", "hash", row.EntryHash)
		return
	}
	if err != nil {
		h.e.logger.Error("record remote read state", "hash", row.EntryHash, "err", err)
		return
	}
	if written {
		h.e.observer.EntryReadChanged(row.EntryHash, row.IsRead)
	}
}

// InitialSyncSnapshot returns every stored entry key annotated with whether
// the remote side is known to hold it.
func (h *EntryHandler) InitialSyncSnapshot() (map[string]remote.KeyStatus, error) {
	snap := make(map[string]remote.KeyStatus)
	if _, err := h.e.store.WalkEntries(func(ent *models.Entry) storage.Result[*models.Entry] {
		snap[ent.Hash] = remote.KeyStatus{Synced: ent.RemoteState == models.Synced}
		return storage.Skip[*models.Entry]()
	}); err != nil {
		return nil, fmt.Errorf("snapshot entries: %w", err)
	}
	return snap, nil
}

// InitialSync hands the entry snapshot to the remote service.
func (h *EntryHandler) InitialSync(ctx context.Context) error {
	svc := h.e.service()
	if svc == nil {
		return remote.ErrNotConnected
	}
	snap, err := h.InitialSyncSnapshot()
	if err != nil {
		return err
	}
	return svc.InitialSync(ctx, remote.EntriesRead, snap)
}

// MarkAsSynced confirms that rows landed remotely, keyed by entry hash.
// Synced entries and placeholders are left alone.
func (h *EntryHandler) MarkAsSynced(ctx context.Context, rows []remote.EntryRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	var flipped atomic.Int64
	g, _ := errgroup.WithContext(ctx)
	for _, row := range rows {
		g.Go(func() error {
			unlock := h.e.entryLocks.Lock(row.EntryHash)
			defer unlock()

			missing := false
			written, err := h.e.store.UpdateEntry(row.EntryHash, func(cur *models.Entry) storage.Result[*models.Entry] {
				if cur == nil {
					missing = true
					return storage.Skip[*models.Entry]()
				}
				if cur.RemoteState == models.Synced || cur.IsPlaceholder() {
					return storage.Skip[*models.Entry]()
				}
				c := *cur
				c.RemoteState = models.Synced
				return storage.Write(&c)
			})
			if err != nil {
				return fmt.Errorf("mark %s synced: %w", row.EntryHash, err)
			}
			if missing {
				h.e.logger.Warn("mark synced: unknown entry", "hash", row.EntryHash)
			}
			if written {
				flipped.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	return int(flipped.Load()), err
}
