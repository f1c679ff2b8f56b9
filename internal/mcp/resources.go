// ABOUTME: MCP resource providers for feedsync
// ABOUTME: Exposes read-only views of subscriptions and sync statistics

package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	feedsURI = "feedsync://feeds"
	statsURI = "feedsync://stats"
)

func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcp.Resource{
			URI:         feedsURI,
			Name:        "All Feeds",
			Description: "Subscribed feeds with tags, sync state and last fetch outcome",
			MIMEType:    "application/json",
		},
		s.readFeeds,
	)
	s.mcpServer.AddResource(
		mcp.Resource{
			URI:         statsURI,
			Name:        "Sync Statistics",
			Description: "Connectivity and record counts per sync state",
			MIMEType:    "application/json",
		},
		s.readStats,
	)
}

func (s *Server) readFeeds(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	subs := s.engine.Registry().Snapshot()
	feeds := make([]FeedOutput, 0, len(subs))
	for _, sub := range subs {
		feeds = append(feeds, feedOutput(sub))
	}
	return jsonResource(request.Params.URI, feeds)
}

func (s *Server) readStats(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	st, err := s.status()
	if err != nil {
		return nil, err
	}
	return jsonResource(request.Params.URI, st)
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource data: %w", err)
	}
	return []mcp.ResourceContents{
		&mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(jsonBytes),
		},
	}, nil
}
