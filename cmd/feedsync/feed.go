// ABOUTME: Subscription commands: subscribe, unsubscribe, remove, tags and list
// ABOUTME: Every change goes through the engine and is pushed when the remote is reachable

package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harper/feedsync/internal/discover"
)

var subscribeCmd = &cobra.Command{
	Use:     "subscribe <url>",
	Aliases: []string{"add", "sub"},
	Short:   "Subscribe to a feed",
	Long: `Subscribe to an RSS/Atom feed.

A site URL is resolved to its feed unless --no-discover is given.
The feed is fetched right away unless --no-fetch is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tags, _ := cmd.Flags().GetString("tags")
		noDiscover, _ := cmd.Flags().GetBool("no-discover")
		noFetch, _ := cmd.Flags().GetBool("no-fetch")
		ctx := cmd.Context()

		url := args[0]
		if !noDiscover {
			found, err := discover.New(transport).Discover(ctx, url)
			if err != nil {
				return fmt.Errorf("failed to find a feed at %s: %w", url, err)
			}
			if found.URL != url {
				fmt.Printf("Discovered feed: %s\n", found.URL)
			}
			url = found.URL
		}

		sub, err := eng.Subscribe(ctx, url, tags)
		if err != nil {
			return err
		}
		fmt.Printf("Subscribed: %s [%s]\n", sub.URL, stateLabel(sub.RemoteState))

		if noFetch {
			return nil
		}
		res, err := eng.FetchFeed(ctx, url, false)
		if err != nil {
			color.Yellow("Fetch failed: %v", err)
			return nil
		}
		fmt.Printf("Fetched %d entries\n", res.New)
		return nil
	},
}

var unsubscribeCmd = &cobra.Command{
	Use:   "unsubscribe <url>",
	Short: "Unsubscribe from a feed",
	Long: `Unsubscribe from a feed. The feed disappears at once but is only purged
on the next connect, so --undo can still bring it back.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		undo, _ := cmd.Flags().GetBool("undo")
		if undo {
			if _, err := eng.Resubscribe(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Resubscribed: %s\n", args[0])
			return nil
		}
		if err := eng.Unsubscribe(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Unsubscribed: %s\n", args[0])
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:     "remove <url>",
	Aliases: []string{"rm"},
	Short:   "Unsubscribe and purge a feed",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		purged, err := eng.Remove(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if purged {
			fmt.Printf("Removed: %s\n", args[0])
		} else {
			fmt.Printf("Unsubscribed: %s (purged once the remote side is reachable)\n", args[0])
		}
		return nil
	},
}

var tagsCmd = &cobra.Command{
	Use:   "tags [url] [tags]",
	Short: "List all tags or set the tags of a feed",
	Long: `Without arguments, list the tags used by any subscription.
With a URL and a comma separated tag list, replace that feed's tags.
An empty tag list ("") clears them.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 && len(args) != 2 {
			return fmt.Errorf("expected no arguments or <url> <tags>")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			tags := eng.Tags()
			if len(tags) == 0 {
				fmt.Println("No tags")
				return nil
			}
			fmt.Println(strings.Join(tags, "\n"))
			return nil
		}
		state, err := eng.SetTags(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Tags of %s: %q [%s]\n", args[0], args[1], stateLabel(state))
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls", "l"},
	Short:   "List subscriptions",
	RunE: func(cmd *cobra.Command, args []string) error {
		tag, _ := cmd.Flags().GetString("tag")

		subs := eng.Registry().Snapshot()
		if len(subs) == 0 {
			fmt.Println("No feeds found. Subscribe with 'feedsync subscribe <url>'")
			return nil
		}

		faint := color.New(color.Faint).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		shown := 0
		for _, sub := range subs {
			if tag != "" && !hasTag(sub.TagList(), tag) {
				continue
			}
			shown++
			fmt.Printf("%s %s\n", stateLabel(sub.RemoteState), sub.Title)
			fmt.Printf("  %s\n", faint(sub.URL))
			if tags := sub.TagList(); len(tags) > 0 {
				fmt.Printf("  tags: %s\n", strings.Join(tags, ", "))
			}
			if sub.LastError != nil {
				fmt.Printf("  %s %s (%d in a row)\n", red("error:"), *sub.LastError, sub.ErrorCount)
			}
		}
		if shown == 0 {
			fmt.Printf("No feeds tagged %q\n", tag)
		}
		return nil
	},
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, want) {
			return true
		}
	}
	return false
}

func init() {
	rootCmd.AddCommand(subscribeCmd, unsubscribeCmd, removeCmd, tagsCmd, listCmd)

	subscribeCmd.Flags().StringP("tags", "t", "", "comma separated tags")
	subscribeCmd.Flags().Bool("no-discover", false, "use the URL as given without feed discovery")
	subscribeCmd.Flags().Bool("no-fetch", false, "do not fetch the feed after subscribing")

	unsubscribeCmd.Flags().Bool("undo", false, "revive a feed unsubscribed earlier")

	listCmd.Flags().String("tag", "", "only feeds with this tag")
}
