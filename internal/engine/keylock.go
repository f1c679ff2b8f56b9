// ABOUTME: Keyed mutex serializing the read-modify-write sequence of one record
// ABOUTME: Different keys never contend; entries are dropped once nobody holds or waits on them

package engine

import "sync"

type keyLock struct {
	mu    sync.Mutex
	locks map[string]*keyRef
}

type keyRef struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the mutex for key and returns its unlock func.
func (k *keyLock) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyRef)
	}
	ref, ok := k.locks[key]
	if !ok {
		ref = &keyRef{}
		k.locks[key] = ref
	}
	ref.refs++
	k.mu.Unlock()

	ref.mu.Lock()
	return func() {
		ref.mu.Unlock()
		k.mu.Lock()
		ref.refs--
		if ref.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyLock) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
