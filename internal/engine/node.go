// ABOUTME: Stable node identity used to tag remote writes for echo detection
// ABOUTME: Persisted in the preferences table; generated once with a random UUID

package engine

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/harper/feedsync/internal/storage"
)

// NodePref is the preference holding this device's node ID.
const NodePref = "node_id"

// NodeID returns the persisted node ID, creating one when absent. A
// non-empty fallback (the configured node_id) is used instead of
// a random UUID the first time.
func NodeID(store storage.Store, fallback string) (string, error) {
	id, err := store.GetPref(NodePref)
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("read node id: %w", err)
	}

	id = fallback
	if id == "" {
		id = uuid.NewString()
	}
	if err := store.SetPref(NodePref, id); err != nil {
		return "", fmt.Errorf("store node id: %w", err)
	}
	return id, nil
}
