// ABOUTME: SyncState enum shared by subscriptions and entries
// ABOUTME: Tracks whether a record's remote counterpart is known to be up to date

package models

import "fmt"

// SyncState is the per-record remote synchronization state.
type SyncState int

const (
	// LocalOnly records were never pushed to the remote table.
	LocalOnly SyncState = iota
	// PendingSync records have a push that failed or was skipped while disconnected.
	PendingSync
	// Synced records match what was last pushed or pulled.
	Synced
	// RemoteOnly entries were materialized from a remote event and lack real content.
	RemoteOnly
)

func (s SyncState) String() string {
	switch s {
	case LocalOnly:
		return "LOCAL_ONLY"
	case PendingSync:
		return "PENDING_SYNC"
	case Synced:
		return "SYNCED"
	case RemoteOnly:
		return "REMOTE_ONLY"
	default:
		return fmt.Sprintf("SyncState(%d)", int(s))
	}
}

// ParseSyncState converts the textual form produced by String back into a SyncState.
func ParseSyncState(s string) (SyncState, error) {
	switch s {
	case "LOCAL_ONLY":
		return LocalOnly, nil
	case "PENDING_SYNC":
		return PendingSync, nil
	case "SYNCED":
		return Synced, nil
	case "REMOTE_ONLY":
		return RemoteOnly, nil
	}
	return LocalOnly, fmt.Errorf("unknown sync state %q", s)
}
