// ABOUTME: MCP server command for feedsync CLI
// ABOUTME: Starts stdio-based MCP server for AI agent integration

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harper/feedsync/internal/discover"
	"github.com/harper/feedsync/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for AI agents",
	Long: `Start the Model Context Protocol (MCP) server on stdio.

This allows AI agents to list and subscribe to feeds, read entries and
mark them read through structured tools. Changes sync like CLI edits.

The server communicates via JSON-RPC on stdin/stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		server := mcp.NewServer(eng, discover.New(transport), Version)
		if err := server.ServeStdio(); err != nil {
			return fmt.Errorf("MCP server error: %w", err)
		}
		eng.Wait()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
