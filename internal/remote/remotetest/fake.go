// ABOUTME: In-memory remote table service for tests
// ABOUTME: Records every call in order, can fail writes, and lets tests inject remote events

package remotetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/harper/feedsync/internal/remote"
)

// Call is one recorded invocation.
type Call struct {
	Op    string // insert, delete, full, initial
	Table remote.TableID
	Key   string
}

// Fake is an in-memory remote.Service.
type Fake struct {
	Node string

	mu       sync.Mutex
	tables   map[remote.TableID]map[string][]byte
	calls    []Call
	failWith error
	hub      remote.Hub
}

// New creates an empty fake for node.
func New(node string) *Fake {
	return &Fake{Node: node, tables: make(map[remote.TableID]map[string][]byte)}
}

// FailWrites makes Insert, DeleteByKey, WriteFullState and Ping return
// err. A nil err restores normal behavior.
func (f *Fake) FailWrites(err error) {
	f.mu.Lock()
	f.failWith = err
	f.mu.Unlock()
}

func (f *Fake) record(c Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if c.Op != "initial" && f.failWith != nil {
		return f.failWith
	}
	return nil
}

// Insert stores row under key.
func (f *Fake) Insert(ctx context.Context, table remote.TableID, key string, row any) error {
	if err := f.record(Call{Op: "insert", Table: table, Key: key}); err != nil {
		return err
	}
	raw, err := remote.Seal(f.Node, row)
	if err != nil {
		return err
	}
	f.put(table, key, raw)
	return nil
}

// DeleteByKey removes key.
func (f *Fake) DeleteByKey(ctx context.Context, table remote.TableID, key string) error {
	if err := f.record(Call{Op: "delete", Table: table, Key: key}); err != nil {
		return err
	}
	f.mu.Lock()
	delete(f.tables[table], key)
	f.mu.Unlock()
	return nil
}

// WriteFullState replaces the table.
func (f *Fake) WriteFullState(ctx context.Context, table remote.TableID, rows map[string]any) error {
	if err := f.record(Call{Op: "full", Table: table}); err != nil {
		return err
	}
	fresh := make(map[string][]byte, len(rows))
	for k, row := range rows {
		raw, err := remote.Seal(f.Node, row)
		if err != nil {
			return err
		}
		fresh[k] = raw
	}
	f.mu.Lock()
	f.tables[table] = fresh
	f.mu.Unlock()
	return nil
}

// InitialSync delivers the reconciliation delta synchronously.
func (f *Fake) InitialSync(ctx context.Context, table remote.TableID, snapshot map[string]remote.KeyStatus) error {
	f.record(Call{Op: "initial", Table: table})
	f.mu.Lock()
	rows := make(map[string][]byte, len(f.tables[table]))
	for k, v := range f.tables[table] {
		rows[k] = v
	}
	f.mu.Unlock()

	records, err := remote.Reconcile(rows, snapshot)
	if err != nil {
		return err
	}
	f.hub.Emit(table, records)
	return nil
}

// Listen registers l.
func (f *Fake) Listen(l remote.Listener) func() {
	return f.hub.Add(l)
}

// Ping reports the error set by FailWrites. It is not recorded as a call.
func (f *Fake) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failWith
}

// Close is a no-op.
func (f *Fake) Close() error { return nil }

// Listeners returns the number of registered listeners.
func (f *Fake) Listeners() int {
	return f.hub.Len()
}

// Seed stores a row written by origin without recording a call.
func (f *Fake) Seed(table remote.TableID, key, origin string, row any) {
	raw, err := remote.Seal(origin, row)
	if err != nil {
		panic(fmt.Sprintf("seed %s: %v", key, err))
	}
	f.put(table, key, raw)
}

// Emit delivers records to the listeners as if they came from the backend.
func (f *Fake) Emit(table remote.TableID, records ...remote.Record) {
	f.hub.Emit(table, records)
}

// Row returns the decoded payload stored under key.
func (f *Fake) Row(table remote.TableID, key string, out any) bool {
	f.mu.Lock()
	raw, ok := f.tables[table][key]
	f.mu.Unlock()
	if !ok {
		return false
	}
	_, data, err := remote.Unseal(raw)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, out) == nil
}

// Len returns the number of rows in table.
func (f *Fake) Len(table remote.TableID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables[table])
}

// Calls returns the recorded calls in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsOf returns the recorded calls with the given op.
func (f *Fake) CallsOf(op string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls forgets the recorded calls.
func (f *Fake) ResetCalls() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

func (f *Fake) put(table remote.TableID, key string, raw []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tables[table] == nil {
		f.tables[table] = make(map[string][]byte)
	}
	f.tables[table][key] = raw
}

// RecordOf builds a non-echo listener record carrying row.
func RecordOf(key string, row any) remote.Record {
	data, err := json.Marshal(row)
	if err != nil {
		panic(fmt.Sprintf("record %s: %v", key, err))
	}
	return remote.Record{Key: key, Data: data}
}

var (
	_ remote.Service = (*Fake)(nil)
	_ remote.Pinger  = (*Fake)(nil)
)
