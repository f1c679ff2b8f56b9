// ABOUTME: Entry model representing a single feed entry with read/unread and sync state
// ABOUTME: Placeholder entries carry only hash, date and read flag until a real fetch fills them

package models

import "time"

// Entry is a single item of a feed. Hash is the primary key; FeedDate is the
// compound key "<feedHash>_<strictDate>" used for ordered range scans.
type Entry struct {
	Hash        string
	FeedDate    string
	Title       string
	Link        string
	Description string
	Date        time.Time
	IsRead      bool
	RemoteState SyncState
}

// NewPlaceholderEntry builds the minimal RemoteOnly entry synthesized from a
// remote read-state event whose content was not fetched yet.
func NewPlaceholderEntry(hash, feedDate string, date time.Time, isRead bool) *Entry {
	return &Entry{
		Hash:        hash,
		FeedDate:    feedDate,
		Date:        date,
		IsRead:      isRead,
		RemoteState: RemoteOnly,
	}
}

// IsPlaceholder reports whether the entry still waits for its real content.
func (e *Entry) IsPlaceholder() bool {
	return e.RemoteState == RemoteOnly
}

// HasContent reports whether a real fetch wrote the entry's content.
func (e *Entry) HasContent() bool {
	return e.Title != "" || e.Link != "" || e.Description != ""
}

// MarkRead marks the entry as read
func (e *Entry) MarkRead() {
	e.IsRead = true
}

// MarkUnread marks the entry as unread
func (e *Entry) MarkUnread() {
	e.IsRead = false
}
