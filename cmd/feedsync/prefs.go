// ABOUTME: Prefs command reading and writing the local preference table
// ABOUTME: Preferences are per device and never synchronized

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harper/feedsync/internal/engine"
	"github.com/harper/feedsync/internal/storage"
)

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Read or write local preferences",
}

var prefsGetCmd = &cobra.Command{
	Use:         "get <name>",
	Short:       "Print a preference value",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{annConnect: "false"},
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := store.GetPref(args[0])
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("preference %q is not set", args[0])
		}
		if err != nil {
			return err
		}
		fmt.Println(v)
		return nil
	},
}

var prefsSetCmd = &cobra.Command{
	Use:         "set <name> <value>",
	Short:       "Store a preference value",
	Args:        cobra.ExactArgs(2),
	Annotations: map[string]string{annConnect: "false"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if args[0] == engine.NodePref {
			return fmt.Errorf("%s is managed by feedsync; set node_id in the config before first run instead", engine.NodePref)
		}
		if err := store.SetPref(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("%s = %s\n", args[0], args[1])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(prefsCmd)
	prefsCmd.AddCommand(prefsGetCmd, prefsSetCmd)
}
