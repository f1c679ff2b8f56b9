// ABOUTME: MCP prompt definitions and handlers
// ABOUTME: Provides a catch-up workflow over the feedsync tools

package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(
		mcp.Prompt{
			Name:        "catch-up",
			Description: "Work through unread entries feed by feed and mark older ones read",
			Arguments: []mcp.PromptArgument{
				{Name: "before", Description: "Cutoff for bulk marking: yesterday, week, month or YYYY-MM-DD"},
			},
		},
		s.handleCatchUp,
	)
}

func (s *Server) handleCatchUp(_ context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	before := req.Params.Arguments["before"]
	if before == "" {
		before = "week"
	}

	template := fmt.Sprintf(`# Catch Up

1. Call sync_status. If connectivity is not connected, read marks are kept locally and pushed on reconnect.
2. Call fetch_feeds to refresh every subscription.
3. Call list_feeds, then list_entries with unread_only for each feed.
4. Summarize the newest unread entries per feed; use get_entry for the ones worth reading in full.
5. Mark what was covered with mark_read.
6. For each feed, call mark_read_before with before=%q to clear the backlog.
`, before)

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Catch-up workflow clearing entries before %s", before),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: template,
				},
			},
		},
	}, nil
}
