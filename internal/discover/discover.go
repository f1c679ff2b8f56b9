// ABOUTME: Feed discovery for subscribe: resolves a site URL to its RSS/Atom feed URL
// ABOUTME: Tries the URL itself, then advertised alternate links, then well-known paths

package discover

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/harper/feedsync/internal/fetch"
	"github.com/harper/feedsync/internal/parse"
)

// wellKnownPaths are probed under the page directory, then under the site root.
var wellKnownPaths = []string{
	"feed.xml",
	"feed",
	"rss.xml",
	"rss",
	"atom.xml",
	"atom",
	"index.xml",
	"feed/rss",
	"feed/atom",
	"feeds/posts/default",
}

var (
	ErrNoFeedFound = errors.New("no RSS/Atom feed found at URL")
	ErrInvalidURL  = errors.New("invalid URL")
)

// DiscoveredFeed is a verified feed location.
type DiscoveredFeed struct {
	URL   string
	Title string
}

// Getter retrieves a URL body. *fetch.Transport implements it.
type Getter interface {
	Get(ctx context.Context, req fetch.Request) (*fetch.Raw, error)
}

// Discoverer finds feeds behind site URLs.
type Discoverer struct {
	get Getter
}

// New returns a Discoverer fetching through get.
func New(get Getter) *Discoverer {
	return &Discoverer{get: get}
}

// Discover returns the feed served at inputURL or advertised by the page
// there. A failure to load inputURL itself is returned as is; every later
// candidate is best effort.
func (d *Discoverer) Discover(ctx context.Context, inputURL string) (*DiscoveredFeed, error) {
	base, err := validate(inputURL)
	if err != nil {
		return nil, err
	}

	feed, body, err := d.probe(ctx, inputURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	if feed != nil {
		return feed, nil
	}

	tried := map[string]bool{inputURL: true}
	candidates, _ := extractFeedLinks(body, base)
	for _, c := range candidates {
		tried[c.URL] = true
		if feed := d.verify(ctx, c.URL); feed != nil {
			if feed.Title == "" {
				feed.Title = c.Title
			}
			return feed, nil
		}
	}

	for _, u := range probeURLs(base) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if tried[u] {
			continue
		}
		tried[u] = true
		if feed := d.verify(ctx, u); feed != nil {
			return feed, nil
		}
	}
	return nil, ErrNoFeedFound
}

func validate(inputURL string) (*url.URL, error) {
	u, err := url.Parse(inputURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: missing scheme or host", ErrInvalidURL)
	}
	return u, nil
}

// probe loads feedURL and reports it as a feed when it parses as one. The
// body is returned either way.
func (d *Discoverer) probe(ctx context.Context, feedURL string) (*DiscoveredFeed, []byte, error) {
	raw, err := d.get.Get(ctx, fetch.Request{URL: feedURL})
	if err != nil {
		return nil, nil, err
	}
	parsed, err := parse.Parse(feedURL, raw.Body, time.Now())
	if err != nil {
		return nil, raw.Body, nil
	}
	return &DiscoveredFeed{URL: feedURL, Title: parsed.Title}, raw.Body, nil
}

func (d *Discoverer) verify(ctx context.Context, feedURL string) *DiscoveredFeed {
	feed, _, err := d.probe(ctx, feedURL)
	if err != nil {
		return nil
	}
	return feed
}

// extractFeedLinks returns the feeds a page advertises through
// <link rel="alternate">, resolved against base, in document order.
func extractFeedLinks(page []byte, base *url.URL) ([]DiscoveredFeed, error) {
	root, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, err
	}

	var feeds []DiscoveredFeed
	seen := make(map[string]bool)
	goquery.NewDocumentFromNode(root).Find("link[href]").Each(func(_ int, s *goquery.Selection) {
		if !hasToken(s.AttrOr("rel", ""), "alternate") || !isFeedContentType(s.AttrOr("type", "")) {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(s.AttrOr("href", "")))
		if err != nil || ref.String() == "" {
			return
		}
		abs := base.ResolveReference(ref).String()
		if seen[abs] {
			return
		}
		seen[abs] = true
		feeds = append(feeds, DiscoveredFeed{URL: abs, Title: strings.TrimSpace(s.AttrOr("title", ""))})
	})
	return feeds, nil
}

// probeURLs lists the well-known feed locations for base, nearest first.
func probeURLs(base *url.URL) []string {
	dirs := []string{"/"}
	if dir := path.Dir(base.Path + "x"); dir != "/" && dir != "." {
		dirs = []string{dir + "/", "/"}
	}

	var out []string
	for _, dir := range dirs {
		for _, p := range wellKnownPaths {
			u := url.URL{Scheme: base.Scheme, Host: base.Host, Path: dir + p}
			out = append(out, u.String())
		}
	}
	return out
}

func hasToken(list, token string) bool {
	for _, f := range strings.Fields(list) {
		if strings.EqualFold(f, token) {
			return true
		}
	}
	return false
}

func isFeedContentType(contentType string) bool {
	contentType = strings.ToLower(contentType)
	return strings.Contains(contentType, "rss") ||
		strings.Contains(contentType, "atom") ||
		strings.Contains(contentType, "xml")
}
