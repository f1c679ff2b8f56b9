// ABOUTME: Entry commands: entries, show, read and unread
// ABOUTME: Entries are addressed by a unique hash prefix; read marks sync across devices

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harper/feedsync/internal/config"
	"github.com/harper/feedsync/internal/content"
	"github.com/harper/feedsync/internal/engine"
	"github.com/harper/feedsync/internal/fetch"
	"github.com/harper/feedsync/internal/timeutil"
)

var entriesCmd = &cobra.Command{
	Use:   "entries <url>",
	Short: "List entries of a feed, newest first",
	Long: `List the stored entries of a feed, newest first.

--until accepts today, yesterday, week, month, a date (YYYY-MM-DD)
or an RFC3339 timestamp.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		unread, _ := cmd.Flags().GetBool("unread")
		until, _ := cmd.Flags().GetString("until")
		limit, _ := cmd.Flags().GetInt("limit")

		q := engine.EntryQuery{UnreadOnly: unread, Limit: limit}
		if until != "" {
			t, err := timeutil.ParseCutoff(until, time.Now())
			if err != nil {
				return err
			}
			q.Until = t
		}

		ents, err := eng.Entries(args[0], q)
		if err != nil {
			return err
		}
		if len(ents) == 0 {
			fmt.Println("No entries")
			return nil
		}

		faint := color.New(color.Faint).SprintFunc()
		bold := color.New(color.Bold).SprintFunc()
		for _, ent := range ents {
			marker := bold("*")
			if ent.IsRead {
				marker = " "
			}
			title := ent.Title
			if ent.IsPlaceholder() {
				title = faint("(not fetched yet)")
			}
			fmt.Printf("%s %s %s %s\n", marker, faint(shortID(ent.Hash)), faint(ent.Date.Local().Format(config.DateFormatShort)), title)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <entry-id>",
	Short: "Show an entry",
	Long:  "Display an entry with its content rendered for the terminal and mark it as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		noMark, _ := cmd.Flags().GetBool("no-mark")
		full, _ := cmd.Flags().GetBool("full")

		hash, err := resolveEntry(store, args[0])
		if err != nil {
			return err
		}
		ent, err := eng.Entry(hash)
		if err != nil {
			return err
		}

		bold := color.New(color.Bold).SprintFunc()
		faint := color.New(color.Faint).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()

		fmt.Println(strings.Repeat("─", config.SeparatorWidth))
		title := ent.Title
		if title == "" {
			title = "Untitled"
		}
		fmt.Printf("%s\n\n", bold(title))
		if !ent.Date.IsZero() {
			fmt.Printf("%s %s\n", faint("Published:"), ent.Date.Local().Format(config.DateFormatLong))
		}
		if ent.Link != "" {
			fmt.Printf("%s %s\n", faint("Link:"), cyan(ent.Link))
		}
		fmt.Printf("%s %s\n", faint("Sync:"), stateLabel(ent.RemoteState))
		fmt.Println(strings.Repeat("─", config.SeparatorWidth))

		body := ent.Description
		if full && ent.Link != "" {
			if art, err := fetchArticle(cmd.Context(), ent.Link); err != nil {
				color.Yellow("Could not load the full article: %v", err)
			} else {
				body = art.HTML
			}
		}
		if body := content.Render(body, config.DefaultGlamStyle); body != "" {
			fmt.Println(body)
		} else {
			fmt.Println(faint("(no content)"))
		}

		if noMark || ent.IsRead {
			return nil
		}
		if _, err := eng.MarkEntryRead(cmd.Context(), hash, true); err != nil {
			return fmt.Errorf("failed to mark as read: %w", err)
		}
		return nil
	},
}

var readCmd = &cobra.Command{
	Use:   "read [entry-id...]",
	Short: "Mark entries as read",
	Long: `Mark entries as read by id prefix, or every unread entry of a feed
older than a cutoff:

  feedsync read 3fa2c19b
  feedsync read --feed https://example.com/feed.xml --before week`,
	RunE: func(cmd *cobra.Command, args []string) error {
		feed, _ := cmd.Flags().GetString("feed")
		before, _ := cmd.Flags().GetString("before")

		if feed != "" || before != "" {
			if feed == "" || before == "" {
				return fmt.Errorf("--feed and --before must be used together")
			}
			cutoff, err := timeutil.ParseCutoff(before, time.Now())
			if err != nil {
				return err
			}
			n, err := eng.MarkReadBefore(cmd.Context(), feed, cutoff)
			if err != nil {
				return err
			}
			fmt.Printf("Marked %d entries as read\n", n)
			return nil
		}

		if len(args) == 0 {
			return fmt.Errorf("expected entry ids or --feed with --before")
		}
		return setRead(cmd, args, true)
	},
}

var unreadCmd = &cobra.Command{
	Use:   "unread <entry-id...>",
	Short: "Mark entries as unread",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setRead(cmd, args, false)
	},
}

// fetchArticle downloads an entry's web page and extracts its main content.
func fetchArticle(ctx context.Context, link string) (*content.Article, error) {
	raw, err := transport.Get(ctx, fetch.Request{URL: link})
	if err != nil {
		return nil, err
	}
	return content.Extract(raw.Body, link)
}

func setRead(cmd *cobra.Command, refs []string, isRead bool) error {
	word := "read"
	if !isRead {
		word = "unread"
	}
	for _, ref := range refs {
		hash, err := resolveEntry(store, ref)
		if err != nil {
			return err
		}
		changed, err := eng.MarkEntryRead(cmd.Context(), hash, isRead)
		if err != nil {
			return err
		}
		if changed {
			fmt.Printf("Marked %s as %s\n", shortID(hash), word)
		} else {
			fmt.Printf("%s was already %s\n", shortID(hash), word)
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(entriesCmd, showCmd, readCmd, unreadCmd)

	entriesCmd.Flags().BoolP("unread", "u", false, "only unread entries")
	entriesCmd.Flags().String("until", "", "newest entry date to include")
	entriesCmd.Flags().IntP("limit", "n", config.DefaultListLimit, "maximum entries to show (0 for all)")

	showCmd.Flags().Bool("no-mark", false, "do not mark the entry as read")
	showCmd.Flags().Bool("full", false, "load the linked page and show its main article")

	readCmd.Flags().String("feed", "", "feed URL for --before")
	readCmd.Flags().String("before", "", "mark entries older than this as read")
}
