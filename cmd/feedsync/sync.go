// ABOUTME: Sync subcommands: status, now, rebuild, reset and repair
// ABOUTME: Shows per-state record counts and drives manual reconciliation with the remote table

package main

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/charm/kv"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harper/feedsync/internal/charm"
	"github.com/harper/feedsync/internal/config"
	"github.com/harper/feedsync/internal/models"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Inspect and drive synchronization with the remote table",
	Long: `Synchronization keeps subscriptions and read marks identical on every
device sharing the remote table (Charm KV or Redis).

Commands:
  status   - Show node, backend and per-state record counts
  now      - Connect and reconcile immediately
  rebuild  - Overwrite the remote tables with the local state
  reset    - Mark every record unsynced so the next connect pushes it again
  repair   - Repair the local Charm KV database

Examples:
  feedsync sync status
  feedsync sync now
  feedsync sync rebuild --yes`,
}

var syncStatusCmd = &cobra.Command{
	Use:         "status",
	Short:       "Show sync status",
	Annotations: map[string]string{annConnect: "false"},
	RunE: func(cmd *cobra.Command, args []string) error {
		bold := color.New(color.Bold).SprintFunc()
		faint := color.New(color.Faint).SprintFunc()

		fmt.Printf("%s %s\n", faint("Node:"), nodeID)
		fmt.Printf("%s %s\n", faint("Backend:"), cfg.Remote.Backend)
		switch {
		case offline:
			color.Yellow("Offline (--offline)")
		case remoteSvc == nil:
			color.Yellow("Remote unavailable")
		}
		if cfg.Remote.Backend == config.BackendCharm {
			if id, err := charm.ID(); err == nil {
				fmt.Printf("%s %s\n", faint("Charm account:"), id)
				fmt.Printf("%s %s\n", faint("Charm server:"), cfg.Remote.CharmHost)
			} else {
				fmt.Printf("%s not linked\n", faint("Charm account:"))
			}
		}
		if cfg.Remote.Backend == config.BackendRedis {
			fmt.Printf("%s %s (db %d, prefix %q)\n", faint("Redis:"), cfg.Remote.RedisAddr, cfg.Remote.RedisDB, cfg.Remote.RedisPrefix)
		}

		st, err := eng.Stats()
		if err != nil {
			return err
		}
		fmt.Println()
		fmt.Printf("%s %s\n", bold("Subscriptions:"), formatCounts(st.Subscriptions))
		if st.Unsubscribed > 0 {
			fmt.Printf("  %d waiting to be purged\n", st.Unsubscribed)
		}
		fmt.Printf("%s %s\n", bold("Entries:"), formatCounts(st.Entries))
		fmt.Printf("  %d unread\n", st.Unread)
		return nil
	},
}

var syncNowCmd = &cobra.Command{
	Use:         "now",
	Short:       "Connect and reconcile with the remote table",
	Annotations: map[string]string{annConnect: "false"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireRemote(cmd.Context()); err != nil {
			return err
		}
		if c, ok := remoteSvc.(*charm.Client); ok {
			if err := c.Poll(); err != nil {
				return fmt.Errorf("failed to pull charm changes: %w", err)
			}
		}
		eng.Wait()
		color.Green("Synchronized")
		return nil
	},
}

var syncRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Overwrite the remote tables with the local state",
	Long: `Replace both remote tables with this device's subscriptions and read
marks. Rows other devices pushed and this device never received are lost.`,
	Annotations: map[string]string{annConnect: "false"},
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes && !confirm("This OVERWRITES the remote tables with the local state.") {
			fmt.Println("Canceled.")
			return nil
		}
		if err := requireRemote(cmd.Context()); err != nil {
			return err
		}
		res, err := eng.Rebuild(cmd.Context())
		if err != nil {
			return err
		}
		color.Green("Rebuilt remote tables")
		fmt.Printf("  %d subscriptions, %d entries confirmed\n", res.Subscriptions, res.Entries)
		return nil
	},
}

var syncResetCmd = &cobra.Command{
	Use:         "reset",
	Short:       "Mark every record unsynced",
	Long:        `Mark every subscription and fetched entry as never pushed, so the next connect pushes them again.`,
	Annotations: map[string]string{annConnect: "false"},
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := eng.ResetSyncState()
		if err != nil {
			return err
		}
		fmt.Printf("Reset %d records\n", n)
		return nil
	},
}

var syncRepairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Repair a corrupted local Charm KV database",
	Long: `Attempt to repair the local Charm KV database.

Use --force to attempt REINDEX recovery if corruption is detected.`,
	Annotations: map[string]string{annSetup: "false"},
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		fmt.Println("Repairing database...")
		result, err := kv.Repair(charm.DBName, force)
		if result.WalCheckpointed {
			color.Green("  ✓ WAL checkpointed")
		}
		if result.ShmRemoved {
			color.Green("  ✓ SHM file removed")
		}
		if result.IntegrityOK {
			color.Green("  ✓ Integrity check passed")
		} else {
			color.Red("  ✗ Integrity check failed")
		}
		if result.Vacuumed {
			color.Green("  ✓ Database vacuumed")
		}
		if err != nil {
			if !force {
				fmt.Println("\nRun with --force to attempt REINDEX recovery.")
			}
			return err
		}
		color.Green("\nRepair complete.")
		return nil
	},
}

// formatCounts renders per-state counts in state order, e.g. "3 synced, 1 pending".
func formatCounts(counts map[models.SyncState]int) string {
	states := make([]models.SyncState, 0, len(counts))
	for s, n := range counts {
		if n > 0 {
			states = append(states, s)
		}
	}
	if len(states) == 0 {
		return "none"
	}
	sort.Slice(states, func(i, j int) bool { return states[i] < states[j] })

	parts := make([]string, 0, len(states))
	for _, s := range states {
		parts = append(parts, fmt.Sprintf("%d %s", counts[s], strings.ToLower(s.String())))
	}
	return strings.Join(parts, ", ")
}

func confirm(prompt string) bool {
	fmt.Println(prompt)
	fmt.Print("\nContinue? [y/N] ")
	answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	answer = strings.TrimSpace(answer)
	return answer == "y" || answer == "Y"
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.AddCommand(syncStatusCmd, syncNowCmd, syncRebuildCmd, syncResetCmd, syncRepairCmd)

	syncRebuildCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	syncRepairCmd.Flags().Bool("force", false, "attempt REINDEX recovery")
}
