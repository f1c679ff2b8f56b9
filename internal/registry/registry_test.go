// ABOUTME: Tests for the URL-sorted subscription registry
// ABOUTME: Checks uniqueness and sortedness under mixed insert/batch/remove sequences

package registry

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/harper/feedsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sub(url, hash string) *models.Subscription {
	return &models.Subscription{URL: url, Hash: hash}
}

func urls(r *Registry) []string {
	var out []string
	for _, s := range r.Snapshot() {
		out = append(out, s.URL)
	}
	return out
}

func TestInsertTwiceIsNoop(t *testing.T) {
	var notified [][]*models.Subscription
	r := New(func(added []*models.Subscription) { notified = append(notified, added) })

	assert.True(t, r.Insert(sub("https://a/feed", "H1")))
	assert.False(t, r.Insert(sub("https://a/feed", "H1")))

	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 0, r.FindByURL("https://a/feed"))
	require.Len(t, notified, 1)
	assert.Equal(t, "https://a/feed", notified[0][0].URL)
}

func TestInsertKeepsOrder(t *testing.T) {
	r := New(nil)
	for _, u := range []string{"https://c", "https://a", "https://b", "https://aa"} {
		r.Insert(sub(u, u))
	}
	assert.Equal(t, []string{"https://a", "https://aa", "https://b", "https://c"}, urls(r))
}

func TestInsertBatchSingleNotification(t *testing.T) {
	calls := 0
	var got []*models.Subscription
	r := New(func(added []*models.Subscription) {
		calls++
		got = added
	})
	r.Insert(sub("https://b", "hb"))

	n := r.InsertBatch([]*models.Subscription{
		sub("https://c", "hc"),
		sub("https://b", "hb"), // already present
		sub("https://a", "ha"),
		sub("https://a", "ha"), // duplicate inside the batch
	})

	assert.Equal(t, 2, n)
	assert.Equal(t, 2, calls) // one for Insert, one for the batch
	assert.Len(t, got, 2)
	assert.Equal(t, []string{"https://a", "https://b", "https://c"}, urls(r))
}

func TestInsertBatchAllDuplicatesDoesNotNotify(t *testing.T) {
	calls := 0
	r := New(func([]*models.Subscription) { calls++ })
	r.Insert(sub("https://a", "ha"))
	assert.Equal(t, 0, r.InsertBatch([]*models.Subscription{sub("https://a", "ha")}))
	assert.Equal(t, 1, calls)
}

func TestFindAndRemove(t *testing.T) {
	r := New(nil)
	r.InsertBatch([]*models.Subscription{sub("https://a", "ha"), sub("https://b", "hb")})

	assert.Equal(t, 1, r.FindByHash("hb"))
	assert.Equal(t, -1, r.FindByHash("zz"))
	assert.Equal(t, -1, r.FindByURL("https://zz"))

	assert.True(t, r.Remove("https://a"))
	assert.False(t, r.Remove("https://a"))
	assert.Equal(t, 0, r.FindByHash("hb"))

	s, ok := r.GetByHash("hb")
	require.True(t, ok)
	assert.Equal(t, "https://b", s.URL)
}

func TestRecordsAreCopies(t *testing.T) {
	r := New(nil)
	in := sub("https://a", "ha")
	r.Insert(in)
	in.Tags = "mutated"

	got, ok := r.Get("https://a")
	require.True(t, ok)
	assert.Empty(t, got.Tags)

	got.Tags = "again"
	got, _ = r.Get("https://a")
	assert.Empty(t, got.Tags)

	assert.True(t, r.Update("https://a", func(s *models.Subscription) { s.Tags = "go" }))
	got, _ = r.At(0)
	assert.Equal(t, "go", got.Tags)
	assert.False(t, r.Update("https://zz", func(*models.Subscription) {}))
}

func TestUniqueAndSortedUnderRandomOps(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	r := New(nil)

	for i := 0; i < 2000; i++ {
		u := fmt.Sprintf("https://feed/%d", rng.Intn(50))
		switch rng.Intn(3) {
		case 0:
			r.Insert(sub(u, u))
		case 1:
			batch := []*models.Subscription{sub(u, u), sub(fmt.Sprintf("https://feed/%d", rng.Intn(50)), "x")}
			r.InsertBatch(batch)
		case 2:
			r.Remove(u)
		}

		got := urls(r)
		assert.True(t, sort.StringsAreSorted(got), "registry not sorted after op %d", i)
		seen := map[string]bool{}
		for _, g := range got {
			require.False(t, seen[g], "duplicate url %s after op %d", g, i)
			seen[g] = true
		}
	}
}

func TestConcurrentInsert(t *testing.T) {
	r := New(nil)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				u := fmt.Sprintf("https://feed/%03d", i)
				r.Insert(sub(u, u))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, r.Len())
	assert.True(t, sort.StringsAreSorted(urls(r)))
}
