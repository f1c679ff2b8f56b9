// ABOUTME: RSS/Atom/JSON feed parsing using gofeed library
// ABOUTME: Produces a Document with header metadata and items keyed by entry content hash

package parse

import (
	"strings"
	"time"

	"github.com/harper/feedsync/internal/keys"
	"github.com/mmcdole/gofeed"
)

// Document is a parsed feed: header metadata plus its items by entry hash.
type Document struct {
	Title       string
	Link        string
	Description string
	Type        string // rss, atom, json
	Version     string
	Items       map[string]Item
}

// Item is a normalized feed entry.
type Item struct {
	Hash        string
	GUID        string
	Title       string
	Link        string
	Description string
	Date        time.Time
}

// Parse parses feed data fetched from feedURL. Entry hashes are derived
// from feedURL and the item GUID, falling back to its link, then its title.
// Items without a date get now.
func Parse(feedURL string, data []byte, now time.Time) (*Document, error) {
	parser := gofeed.NewParser()
	feed, err := parser.ParseString(string(data))
	if err != nil {
		return nil, err
	}

	doc := &Document{
		Title:       strings.TrimSpace(feed.Title),
		Link:        feed.Link,
		Description: strings.TrimSpace(feed.Description),
		Type:        feed.FeedType,
		Version:     feed.FeedVersion,
		Items:       make(map[string]Item, len(feed.Items)),
	}

	for _, it := range feed.Items {
		item := Item{
			GUID:  it.GUID,
			Title: strings.TrimSpace(it.Title),
			Link:  it.Link,
			Date:  now,
		}

		if item.GUID == "" {
			item.GUID = it.Link
		}
		if item.GUID == "" {
			item.GUID = item.Title
		}

		if it.PublishedParsed != nil {
			item.Date = *it.PublishedParsed
		} else if it.UpdatedParsed != nil {
			item.Date = *it.UpdatedParsed
		}

		// Prefer Content over Description
		if it.Content != "" {
			item.Description = it.Content
		} else {
			item.Description = it.Description
		}
		item.Description = strings.TrimSpace(item.Description)

		item.Hash = keys.EntryKey(feedURL, item.GUID)
		doc.Items[item.Hash] = item
	}

	return doc, nil
}
