// ABOUTME: Initial-sync delta between a remote table and a local key snapshot
// ABOUTME: Remote-only keys become adds, synced local keys missing remotely become deletes

package remote

import (
	"fmt"
	"sort"
)

// Reconcile computes the events an initial sync delivers. rows maps remote
// keys to their stored envelopes.
//
//   - a nil snapshot yields one event per remote row
//   - remote keys become add/update events
//   - snapshot keys marked Synced and absent remotely become deletes
//   - unsynced snapshot keys absent remotely yield nothing; they are pushed
//     by the local side
//
// Initial-sync events are never echoes. Records are ordered by key.
func Reconcile(rows map[string][]byte, snapshot map[string]KeyStatus) ([]Record, error) {
	var out []Record
	for key, raw := range rows {
		_, data, err := Unseal(raw)
		if err != nil {
			return nil, fmt.Errorf("row %s: %w", key, err)
		}
		out = append(out, Record{Key: key, Data: data})
	}
	for key, status := range snapshot {
		if _, ok := rows[key]; ok || !status.Synced {
			continue
		}
		out = append(out, Record{Key: key, IsDeleted: true})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
