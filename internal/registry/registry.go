// ABOUTME: In-memory URL-sorted index of active subscriptions
// ABOUTME: Ordered insert, binary lookup by URL, batch load with a single notification, removal

package registry

import (
	"sort"
	"sync"

	"github.com/harper/feedsync/internal/models"
)

// AddedFunc is called after subscriptions were added. A batch insert calls
// it once with every new record.
type AddedFunc func(added []*models.Subscription)

// Registry holds the subscriptions that are not unsubscribed, sorted by URL.
// Records are stored as copies; callers mutate through Update.
type Registry struct {
	mu      sync.RWMutex
	subs    []*models.Subscription
	onAdded AddedFunc
}

// New creates an empty registry. onAdded may be nil.
func New(onAdded AddedFunc) *Registry {
	return &Registry{onAdded: onAdded}
}

// search returns the index of url, or the insertion point and false.
func (r *Registry) search(url string) (int, bool) {
	i := sort.Search(len(r.subs), func(i int) bool { return r.subs[i].URL >= url })
	return i, i < len(r.subs) && r.subs[i].URL == url
}

// Insert adds sub in URL order. It is a no-op returning false when the URL
// is already present.
func (r *Registry) Insert(sub *models.Subscription) bool {
	r.mu.Lock()
	c, ok := r.insertLocked(sub)
	r.mu.Unlock()

	if ok && r.onAdded != nil {
		r.onAdded([]*models.Subscription{c.Clone()})
	}
	return ok
}

func (r *Registry) insertLocked(sub *models.Subscription) (*models.Subscription, bool) {
	i, found := r.search(sub.URL)
	if found {
		return nil, false
	}
	c := sub.Clone()
	r.subs = append(r.subs, nil)
	copy(r.subs[i+1:], r.subs[i:])
	r.subs[i] = c
	return c, true
}

// InsertBatch adds every record whose URL is not present yet, skipping
// duplicates, and raises one notification for the batch. It returns the
// number of records added.
func (r *Registry) InsertBatch(list []*models.Subscription) int {
	var added []*models.Subscription
	r.mu.Lock()
	for _, sub := range list {
		if c, ok := r.insertLocked(sub); ok {
			added = append(added, c.Clone())
		}
	}
	r.mu.Unlock()

	if len(added) > 0 && r.onAdded != nil {
		r.onAdded(added)
	}
	return len(added)
}

// FindByURL returns the index of url or -1.
func (r *Registry) FindByURL(url string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.search(url)
	if !ok {
		return -1
	}
	return i
}

// FindByHash returns the index of the subscription with the given remote key
// or -1. Linear scan.
func (r *Registry) FindByHash(hash string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i, s := range r.subs {
		if s.Hash == hash {
			return i
		}
	}
	return -1
}

// Get returns a copy of the subscription for url.
func (r *Registry) Get(url string) (*models.Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.search(url)
	if !ok {
		return nil, false
	}
	return r.subs[i].Clone(), true
}

// GetByHash returns a copy of the subscription with the given remote key.
func (r *Registry) GetByHash(hash string) (*models.Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.subs {
		if s.Hash == hash {
			return s.Clone(), true
		}
	}
	return nil, false
}

// At returns a copy of the subscription at index i.
func (r *Registry) At(i int) (*models.Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i < 0 || i >= len(r.subs) {
		return nil, false
	}
	return r.subs[i].Clone(), true
}

// Len returns the number of subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Update applies fn to the live record for url. It returns false when the
// URL is not present. fn must not change the URL.
func (r *Registry) Update(url string, fn func(*models.Subscription)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.search(url)
	if !ok {
		return false
	}
	fn(r.subs[i])
	r.subs[i].URL = url
	return true
}

// Remove deletes url from the registry. The caller handles store and remote
// deletion.
func (r *Registry) Remove(url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.search(url)
	if !ok {
		return false
	}
	r.subs = append(r.subs[:i], r.subs[i+1:]...)
	return true
}

// Snapshot returns copies of every subscription in URL order.
func (r *Registry) Snapshot() []*models.Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Subscription, len(r.subs))
	for i, s := range r.subs {
		out[i] = s.Clone()
	}
	return out
}
