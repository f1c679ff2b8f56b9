// ABOUTME: MCP tool definitions and handlers for subscription and entry operations
// ABOUTME: Every mutation goes through the engine so it is synced like a CLI edit

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/harper/feedsync/internal/content"
	"github.com/harper/feedsync/internal/engine"
	"github.com/harper/feedsync/internal/models"
	"github.com/harper/feedsync/internal/timeutil"
)

type FeedOutput struct {
	URL           string     `json:"url"`
	Hash          string     `json:"hash"`
	Title         string     `json:"title"`
	Tags          []string   `json:"tags,omitempty"`
	SyncState     string     `json:"sync_state"`
	LastFetchedAt *time.Time `json:"last_fetched_at,omitempty"`
	LastError     *string    `json:"last_error,omitempty"`
	ErrorCount    int        `json:"error_count"`
}

type ListFeedsOutput struct {
	Feeds []FeedOutput `json:"feeds"`
	Count int          `json:"count"`
	Tags  []string     `json:"tags"`
}

type SubscribeInput struct {
	URL      string `json:"url"`
	Tags     string `json:"tags,omitempty"`
	Discover bool   `json:"discover,omitempty"`
	Fetch    bool   `json:"fetch,omitempty"`
}

type SubscribeOutput struct {
	Feed       FeedOutput `json:"feed"`
	NewEntries int        `json:"new_entries"`
	FetchError string     `json:"fetch_error,omitempty"`
}

type UnsubscribeInput struct {
	URL   string `json:"url"`
	Undo  bool   `json:"undo,omitempty"`
	Purge bool   `json:"purge,omitempty"`
}

type MessageOutput struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type SetTagsInput struct {
	URL  string `json:"url"`
	Tags string `json:"tags"`
}

type FetchFeedsInput struct {
	URL   *string `json:"url,omitempty"`
	Force bool    `json:"force,omitempty"`
}

type FetchResult struct {
	URL         string  `json:"url"`
	NewEntries  int     `json:"new_entries"`
	NotModified bool    `json:"not_modified"`
	Error       *string `json:"error,omitempty"`
}

type FetchFeedsOutput struct {
	Results     []FetchResult `json:"results"`
	TotalNew    int           `json:"total_new"`
	TotalErrors int           `json:"total_errors"`
}

type ListEntriesInput struct {
	URL        string  `json:"url"`
	UnreadOnly bool    `json:"unread_only,omitempty"`
	Until      *string `json:"until,omitempty"`
	Limit      *int    `json:"limit,omitempty"`
}

type EntryOutput struct {
	Hash      string    `json:"hash"`
	Title     string    `json:"title,omitempty"`
	Link      string    `json:"link,omitempty"`
	Date      time.Time `json:"date"`
	Read      bool      `json:"read"`
	SyncState string    `json:"sync_state"`
	Content   string    `json:"content,omitempty"`
}

type ListEntriesOutput struct {
	Entries []EntryOutput `json:"entries"`
	Count   int           `json:"count"`
}

type EntryInput struct {
	EntryID string `json:"entry_id"`
}

type MarkReadBeforeInput struct {
	URL    string `json:"url"`
	Before string `json:"before"`
}

type StatusOutput struct {
	Connectivity  string         `json:"connectivity"`
	Subscriptions map[string]int `json:"subscriptions"`
	Unsubscribed  int            `json:"unsubscribed"`
	Entries       map[string]int `json:"entries"`
	Unread        int            `json:"unread"`
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("list_feeds",
		mcp.WithDescription("List all subscribed feeds with their tags, sync state and last fetch outcome."),
	), s.handleListFeeds)

	s.mcpServer.AddTool(mcp.NewTool("subscribe",
		mcp.WithDescription("Subscribe to a feed. The subscription is pushed to the remote table when connected. Set discover to resolve a site URL to its feed, and fetch to load entries right away."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Feed or site URL. Example: 'https://example.com/feed.xml'")),
		mcp.WithString("tags", mcp.Description("Comma separated tags. Example: 'tech, go'")),
		mcp.WithBoolean("discover", mcp.Description("Resolve a site URL to its RSS/Atom feed first")),
		mcp.WithBoolean("fetch", mcp.Description("Fetch the feed after subscribing")),
	), s.handleSubscribe)

	s.mcpServer.AddTool(mcp.NewTool("unsubscribe",
		mcp.WithDescription("Unsubscribe from a feed. The record is purged on the next sweep unless undo is used first. Set purge to remove it right away where safe."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Feed URL")),
		mcp.WithBoolean("undo", mcp.Description("Revive a feed unsubscribed earlier")),
		mcp.WithBoolean("purge", mcp.Description("Purge now instead of waiting for the sweep")),
	), s.handleUnsubscribe)

	s.mcpServer.AddTool(mcp.NewTool("set_tags",
		mcp.WithDescription("Replace the tags of a subscription. The change is synced like any local edit."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Feed URL")),
		mcp.WithString("tags", mcp.Required(), mcp.Description("Comma separated tags; empty clears them")),
	), s.handleSetTags)

	s.mcpServer.AddTool(mcp.NewTool("fetch_feeds",
		mcp.WithDescription("Fetch one feed or all of them using conditional requests. Returns new entry counts and errors per feed."),
		mcp.WithString("url", mcp.Description("Only fetch this feed")),
		mcp.WithBoolean("force", mcp.Description("Ignore cached ETag and Last-Modified validators")),
	), s.handleFetchFeeds)

	s.mcpServer.AddTool(mcp.NewTool("list_entries",
		mcp.WithDescription("List the entries of a feed, newest first."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Feed URL")),
		mcp.WithBoolean("unread_only", mcp.Description("Only unread entries")),
		mcp.WithString("until", mcp.Description("Newest date included: today, yesterday, week, month, YYYY-MM-DD or RFC3339")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of entries")),
	), s.handleListEntries)

	s.mcpServer.AddTool(mcp.NewTool("get_entry",
		mcp.WithDescription("Get one entry including its content converted to Markdown."),
		mcp.WithString("entry_id", mcp.Required(), mcp.Description("Entry hash")),
	), s.handleGetEntry)

	s.mcpServer.AddTool(mcp.NewTool("mark_read",
		mcp.WithDescription("Mark an entry as read. The read flag is synced to other devices."),
		mcp.WithString("entry_id", mcp.Required(), mcp.Description("Entry hash")),
	), s.handleMarkRead)

	s.mcpServer.AddTool(mcp.NewTool("mark_unread",
		mcp.WithDescription("Mark an entry as unread. The read flag is synced to other devices."),
		mcp.WithString("entry_id", mcp.Required(), mcp.Description("Entry hash")),
	), s.handleMarkUnread)

	s.mcpServer.AddTool(mcp.NewTool("mark_read_before",
		mcp.WithDescription("Mark every unread entry of a feed published before a cutoff as read."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Feed URL")),
		mcp.WithString("before", mcp.Required(), mcp.Description("today, yesterday, week, month, YYYY-MM-DD or RFC3339")),
	), s.handleMarkReadBefore)

	s.mcpServer.AddTool(mcp.NewTool("sync_status",
		mcp.WithDescription("Report connectivity to the remote table and record counts per sync state."),
	), s.handleSyncStatus)
}

func feedOutput(sub *models.Subscription) FeedOutput {
	return FeedOutput{
		URL:           sub.URL,
		Hash:          sub.Hash,
		Title:         sub.Title,
		Tags:          sub.TagList(),
		SyncState:     sub.RemoteState.String(),
		LastFetchedAt: sub.LastFetchedAt,
		LastError:     sub.LastError,
		ErrorCount:    sub.ErrorCount,
	}
}

func entryOutput(ent *models.Entry) EntryOutput {
	return EntryOutput{
		Hash:      ent.Hash,
		Title:     ent.Title,
		Link:      ent.Link,
		Date:      ent.Date,
		Read:      ent.IsRead,
		SyncState: ent.RemoteState.String(),
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal output: %w", err)
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func validateFeedURL(raw string) error {
	parsedURL, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid feed URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("feed URL must use http or https scheme, got: %q", parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("feed URL must have a host")
	}
	return nil
}

func (s *Server) handleListFeeds(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	subs := s.engine.Registry().Snapshot()
	out := ListFeedsOutput{
		Feeds: make([]FeedOutput, 0, len(subs)),
		Count: len(subs),
		Tags:  s.engine.Tags(),
	}
	for _, sub := range subs {
		out.Feeds = append(out.Feeds, feedOutput(sub))
	}
	return jsonResult(out)
}

func (s *Server) handleSubscribe(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input SubscribeInput
	if err := req.BindArguments(&input); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if err := validateFeedURL(input.URL); err != nil {
		return nil, err
	}

	feedURL := input.URL
	if input.Discover {
		if s.finder == nil {
			return nil, errors.New("feed discovery is not available")
		}
		found, err := s.finder.Discover(ctx, input.URL)
		if err != nil {
			return nil, fmt.Errorf("discover feed: %w", err)
		}
		feedURL = found.URL
	}

	sub, err := s.engine.Subscribe(ctx, feedURL, input.Tags)
	if err != nil {
		return nil, err
	}

	out := SubscribeOutput{}
	if input.Fetch {
		res, err := s.engine.FetchFeed(ctx, feedURL, false)
		if err != nil {
			out.FetchError = err.Error()
		}
		out.NewEntries = res.New
		if cur, ok := s.engine.Registry().Get(feedURL); ok {
			sub = cur
		}
	}
	out.Feed = feedOutput(sub)
	return jsonResult(out)
}

func (s *Server) handleUnsubscribe(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input UnsubscribeInput
	if err := req.BindArguments(&input); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	switch {
	case input.Undo:
		if _, err := s.engine.Resubscribe(ctx, input.URL); err != nil {
			return nil, err
		}
		return jsonResult(MessageOutput{Success: true, Message: fmt.Sprintf("Resubscribed to '%s'", input.URL)})
	case input.Purge:
		purged, err := s.engine.Remove(ctx, input.URL)
		if err != nil {
			return nil, err
		}
		msg := fmt.Sprintf("Removed '%s'", input.URL)
		if !purged {
			msg = fmt.Sprintf("Unsubscribed from '%s'; it is purged once the remote side confirms", input.URL)
		}
		return jsonResult(MessageOutput{Success: true, Message: msg})
	default:
		if err := s.engine.Unsubscribe(ctx, input.URL); err != nil {
			return nil, err
		}
		return jsonResult(MessageOutput{Success: true, Message: fmt.Sprintf("Unsubscribed from '%s'", input.URL)})
	}
}

func (s *Server) handleSetTags(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input SetTagsInput
	if err := req.BindArguments(&input); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if _, err := s.engine.SetTags(ctx, input.URL, input.Tags); err != nil {
		return nil, err
	}
	sub, _ := s.engine.Registry().Get(input.URL)
	return jsonResult(feedOutput(sub))
}

func (s *Server) handleFetchFeeds(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input FetchFeedsInput
	if err := req.BindArguments(&input); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	outcomes := make(map[string]engine.FetchOutcome)
	if input.URL != nil {
		res, err := s.engine.FetchFeed(ctx, *input.URL, input.Force)
		if errors.Is(err, engine.ErrUnknownFeed) {
			return nil, err
		}
		outcomes[*input.URL] = engine.FetchOutcome{FetchResult: res, Err: err}
	} else {
		outcomes = s.engine.FetchAll(ctx, input.Force)
	}

	var out FetchFeedsOutput
	for _, sub := range s.engine.Registry().Snapshot() {
		o, ok := outcomes[sub.URL]
		if !ok {
			continue
		}
		r := FetchResult{URL: sub.URL, NewEntries: o.New, NotModified: o.NotModified}
		if o.Err != nil {
			msg := o.Err.Error()
			r.Error = &msg
			out.TotalErrors++
		}
		out.TotalNew += o.New
		out.Results = append(out.Results, r)
	}
	return jsonResult(out)
}

func (s *Server) handleListEntries(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input ListEntriesInput
	if err := req.BindArguments(&input); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	q := engine.EntryQuery{UnreadOnly: input.UnreadOnly}
	if input.Until != nil {
		until, err := timeutil.ParseCutoff(*input.Until, s.now())
		if err != nil {
			return nil, fmt.Errorf("invalid until value: %w", err)
		}
		q.Until = until
	}
	if input.Limit != nil {
		if *input.Limit < 0 {
			return nil, fmt.Errorf("limit must be non-negative, got %d", *input.Limit)
		}
		q.Limit = *input.Limit
	}

	ents, err := s.engine.Entries(input.URL, q)
	if err != nil {
		return nil, err
	}
	out := ListEntriesOutput{Entries: make([]EntryOutput, 0, len(ents)), Count: len(ents)}
	for _, ent := range ents {
		out.Entries = append(out.Entries, entryOutput(ent))
	}
	return jsonResult(out)
}

func (s *Server) handleGetEntry(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input EntryInput
	if err := req.BindArguments(&input); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	ent, err := s.engine.Entry(input.EntryID)
	if err != nil {
		return nil, err
	}
	out := entryOutput(ent)
	out.Content = content.ToMarkdown(ent.Description)
	return jsonResult(out)
}

func (s *Server) handleMarkRead(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.setRead(ctx, req, true)
}

func (s *Server) handleMarkUnread(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.setRead(ctx, req, false)
}

func (s *Server) setRead(ctx context.Context, req mcp.CallToolRequest, isRead bool) (*mcp.CallToolResult, error) {
	var input EntryInput
	if err := req.BindArguments(&input); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if _, err := s.engine.MarkEntryRead(ctx, input.EntryID, isRead); err != nil {
		return nil, err
	}
	ent, err := s.engine.Entry(input.EntryID)
	if err != nil {
		return nil, err
	}
	return jsonResult(entryOutput(ent))
}

func (s *Server) handleMarkReadBefore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input MarkReadBeforeInput
	if err := req.BindArguments(&input); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	cutoff, err := timeutil.ParseCutoff(input.Before, s.now())
	if err != nil {
		return nil, fmt.Errorf("invalid before value: %w", err)
	}
	n, err := s.engine.MarkReadBefore(ctx, input.URL, cutoff)
	if err != nil {
		return nil, err
	}
	return jsonResult(MessageOutput{
		Success: true,
		Message: fmt.Sprintf("Marked %d entries before %s as read", n, cutoff.Format(time.RFC3339)),
	})
}

func (s *Server) handleSyncStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.status()
	if err != nil {
		return nil, err
	}
	return jsonResult(st)
}

func (s *Server) status() (*StatusOutput, error) {
	st, err := s.engine.Stats()
	if err != nil {
		return nil, err
	}
	out := &StatusOutput{
		Connectivity:  st.Connectivity.String(),
		Subscriptions: make(map[string]int),
		Unsubscribed:  st.Unsubscribed,
		Entries:       make(map[string]int),
		Unread:        st.Unread,
	}
	for state, n := range st.Subscriptions {
		out.Subscriptions[state.String()] = n
	}
	for state, n := range st.Entries {
		out.Entries[state.String()] = n
	}
	return out, nil
}
