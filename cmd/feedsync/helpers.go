// ABOUTME: Shared CLI helpers for entry lookup by hash prefix and formatted output
// ABOUTME: Entry hashes are shown shortened; any unique prefix selects an entry

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/harper/feedsync/internal/config"
	"github.com/harper/feedsync/internal/models"
	"github.com/harper/feedsync/internal/storage"
)

var errAmbiguousPrefix = errors.New("ambiguous entry prefix")

func shortID(hash string) string {
	if len(hash) > config.DisplayIDLength {
		return hash[:config.DisplayIDLength]
	}
	return hash
}

// resolveEntry returns the full hash of the entry matching prefix.
func resolveEntry(s storage.Store, prefix string) (string, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if len(prefix) < config.MinPrefixLength {
		return "", fmt.Errorf("entry id %q is too short (need at least %d characters)", prefix, config.MinPrefixLength)
	}

	var matches []string
	if _, err := s.WalkEntries(func(ent *models.Entry) storage.Result[*models.Entry] {
		if strings.HasPrefix(ent.Hash, prefix) {
			matches = append(matches, ent.Hash)
			if len(matches) > 1 {
				return storage.Stop[*models.Entry]()
			}
		}
		return storage.Skip[*models.Entry]()
	}); err != nil {
		return "", fmt.Errorf("failed to look up entry: %w", err)
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no entry matches %q", prefix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %q", errAmbiguousPrefix, prefix)
	}
}

// stateLabel colors a sync state for terminal output.
func stateLabel(s models.SyncState) string {
	switch s {
	case models.Synced:
		return color.GreenString("synced")
	case models.PendingSync:
		return color.YellowString("pending")
	case models.RemoteOnly:
		return color.CyanString("remote")
	default:
		return color.New(color.Faint).Sprint("local")
	}
}
