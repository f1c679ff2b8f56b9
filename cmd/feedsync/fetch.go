// ABOUTME: Fetch command refreshing subscribed feeds with conditional HTTP requests
// ABOUTME: Prints one line per feed and a colored summary of new, cached and failed feeds

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harper/feedsync/internal/engine"
	"github.com/harper/feedsync/internal/models"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [url]",
	Short: "Fetch new entries from feeds",
	Long: `Fetch new entries from all subscribed feeds or a specific feed by URL.

Uses HTTP caching headers (ETag, Last-Modified) to avoid re-fetching unchanged content.
Use --force to ignore cache headers and fetch unconditionally.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		subs := eng.Registry().Snapshot()
		if len(args) == 1 {
			sub, ok := eng.Registry().Get(args[0])
			if !ok {
				return fmt.Errorf("%w: %s", engine.ErrUnknownFeed, args[0])
			}
			subs = []*models.Subscription{sub}
		}
		if len(subs) == 0 {
			fmt.Println("No feeds found. Subscribe with 'feedsync subscribe <url>'")
			return nil
		}

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		faint := color.New(color.Faint).SprintFunc()

		var tally fetchTally
		for _, sub := range subs {
			if err := cmd.Context().Err(); err != nil {
				return err
			}
			fmt.Printf("Fetching %s... ", feedDisplayName(sub))
			res, err := eng.FetchFeed(cmd.Context(), sub.URL, force)
			tally.add(res, err)
			switch {
			case err != nil:
				fmt.Printf("%s %s\n", red("x"), err.Error())
			case res.NotModified:
				fmt.Printf("%s (cached)\n", faint("-"))
			case res.New > 0:
				fmt.Printf("%s %d new\n", green("v"), res.New)
			default:
				fmt.Printf("%s no new entries\n", green("v"))
			}
		}

		fmt.Println()
		fmt.Printf("Summary: %d feed(s) fetched\n", tally.Feeds)
		if tally.New > 0 {
			fmt.Printf("  %s %d new entries\n", green("v"), tally.New)
		}
		if tally.Cached > 0 {
			fmt.Printf("  %s %d cached (not modified)\n", faint("-"), tally.Cached)
		}
		if tally.Errors > 0 {
			fmt.Printf("  %s %d errors\n", red("x"), tally.Errors)
		}
		return nil
	},
}

// fetchTally accumulates the outcome of a fetch pass.
type fetchTally struct {
	Feeds, New, Cached, Errors int
}

func (t *fetchTally) add(res engine.FetchResult, err error) {
	t.Feeds++
	switch {
	case err != nil:
		t.Errors++
	case res.NotModified:
		t.Cached++
	default:
		t.New += res.New
	}
}

// feedDisplayName returns a human-readable name for the feed
func feedDisplayName(sub *models.Subscription) string {
	if sub.Title != "" {
		return sub.Title
	}
	return sub.URL
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().BoolP("force", "f", false, "ignore cache headers and force fetch")
}
