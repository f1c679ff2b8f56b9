// ABOUTME: Subscription model representing a subscribed RSS/Atom feed keyed by URL
// ABOUTME: Carries feed header metadata, user fields (tags, unsubscribed), sync state and fetch history

package models

import (
	"strings"
	"time"
)

// Subscription is a feed the user subscribed to. URL is the local key and
// Hash (SHA-1 of the URL) is the remote row key.
type Subscription struct {
	URL            string
	Hash           string
	Title          string
	Link           string
	Description    string
	FeedType       string // rss, atom, json
	FeedVersion    string
	Tags           string // free-text, comma separated
	IsUnsubscribed bool
	RemoteState    SyncState

	ETag          *string    // HTTP ETag header for conditional requests
	LastModified  *string    // HTTP Last-Modified header for conditional requests
	LastFetchedAt *time.Time // Timestamp of last successful fetch
	LastError     *string    // Last error message (if any)
	ErrorCount    int        // Consecutive error count
}

// NewSubscription creates a LocalOnly subscription for url with the given
// remote key. The title defaults to the URL until the first fetch.
func NewSubscription(url, hash string) *Subscription {
	return &Subscription{
		URL:         url,
		Hash:        hash,
		Title:       url,
		RemoteState: LocalOnly,
	}
}

// Clone returns a deep copy of the subscription.
func (s *Subscription) Clone() *Subscription {
	c := *s
	c.ETag = cloneString(s.ETag)
	c.LastModified = cloneString(s.LastModified)
	c.LastError = cloneString(s.LastError)
	if s.LastFetchedAt != nil {
		t := *s.LastFetchedAt
		c.LastFetchedAt = &t
	}
	return &c
}

// SetCacheHeaders updates the HTTP caching headers for conditional requests
func (s *Subscription) SetCacheHeaders(etag, lastModified string) {
	if etag != "" {
		s.ETag = &etag
	}
	if lastModified != "" {
		s.LastModified = &lastModified
	}
}

// RecordError stores a fetch failure and bumps the consecutive error count.
func (s *Subscription) RecordError(msg string) {
	s.LastError = &msg
	s.ErrorCount++
}

// ClearError resets fetch error info after a successful fetch.
func (s *Subscription) ClearError(fetchedAt time.Time) {
	s.LastError = nil
	s.ErrorCount = 0
	s.LastFetchedAt = &fetchedAt
}

// TagList splits Tags into trimmed, non-empty tags.
func (s *Subscription) TagList() []string {
	var tags []string
	for _, t := range strings.Split(s.Tags, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
