// ABOUTME: Pure decision logic for the four-state sync lifecycle, no I/O
// ABOUTME: Decides push-vs-defer for local mutations, reconnect sweeps and deferred deletions

package syncstate

import "github.com/harper/feedsync/internal/models"

// Decision is the outcome of a local mutation of a synchronizable field.
type Decision struct {
	// Next is the state to record before any push completes.
	Next models.SyncState
	// PushNow is true when the caller must issue the remote insert.
	PushNow bool
}

// Decide returns what to do after a local mutation of a record currently in
// state. When connected the record is pushed and becomes Synced on success
// (callers use Failed on error). When disconnected it is marked PendingSync
// without any I/O.
func Decide(state models.SyncState, connected bool) Decision {
	if connected {
		return Decision{Next: models.Synced, PushNow: true}
	}
	return Decision{Next: models.PendingSync}
}

// Failed is the state recorded when a push was attempted and failed.
func Failed() models.SyncState {
	return models.PendingSync
}

// NeedsPush reports whether a record must be pushed on reconnect.
func NeedsPush(state models.SyncState) bool {
	return state == models.LocalOnly || state == models.PendingSync
}

// SweepCandidates returns the records whose state needs a push.
func SweepCandidates[T any](records []T, stateOf func(T) models.SyncState) []T {
	var out []T
	for _, r := range records {
		if NeedsPush(stateOf(r)) {
			out = append(out, r)
		}
	}
	return out
}

// Removal describes how a subscription marked unsubscribed gets purged.
type Removal struct {
	DeleteRemote bool
	DeleteLocal  bool
}

// DecideRemoval handles the deferred deletion of an unsubscribed record.
// While connected any record that may exist remotely is deleted there first.
// While disconnected only records the remote side never saw are safe to drop;
// the rest wait for the next reconnect.
func DecideRemoval(state models.SyncState, connected bool) Removal {
	if connected {
		return Removal{DeleteRemote: state != models.LocalOnly, DeleteLocal: true}
	}
	if state == models.LocalOnly {
		return Removal{DeleteLocal: true}
	}
	return Removal{}
}
