// Package snapshot keeps the last good campaign list per screen.
package snapshot

import (
	"sort"
	"sync"
	"time"

	"github.com/justapithecus/spotlight/types"
)

// Defaults.
const (
	DefaultCapacity = 10
	DefaultMaxAge   = 5 * time.Minute
)

// Entry is one cached screen result.
type Entry struct {
	Screen    string
	Campaigns []types.Campaign
	FetchedAt time.Time
}

// Age returns how old the entry is at now.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}

// Cache is a bounded map from normalized screen name to its latest result.
// When full, the entry with the oldest FetchedAt is evicted. Safe for
// concurrent use; entries are copied in and out.
type Cache struct {
	capacity int
	maxAge   time.Duration

	mu      sync.Mutex
	entries map[string]Entry
}

// New creates a cache. Values <= 0 select the defaults.
func New(capacity int, maxAge time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Cache{
		capacity: capacity,
		maxAge:   maxAge,
		entries:  make(map[string]Entry, capacity),
	}
}

// MaxAge returns the staleness ceiling used by Fresh.
func (c *Cache) MaxAge() time.Duration {
	return c.maxAge
}

// Put stores campaigns for screen. An entry older than the one already
// cached for the same screen is ignored.
func (c *Cache) Put(screen string, campaigns []types.Campaign, fetchedAt time.Time) {
	key := types.NormalizeScreen(screen)
	dup := types.CloneCampaigns(campaigns)
	if dup == nil {
		dup = []types.Campaign{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok && fetchedAt.Before(existing.FetchedAt) {
		return
	}
	c.entries[key] = Entry{Screen: screen, Campaigns: dup, FetchedAt: fetchedAt}

	for len(c.entries) > c.capacity {
		c.evictOldestLocked()
	}
}

func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	first := true
	for k, e := range c.entries {
		if first || e.FetchedAt.Before(oldest) {
			oldestKey, oldest, first = k, e.FetchedAt, false
		}
	}
	delete(c.entries, oldestKey)
}

// Get returns the entry for screen regardless of age.
func (c *Cache) Get(screen string) (Entry, bool) {
	c.mu.Lock()
	e, ok := c.entries[types.NormalizeScreen(screen)]
	c.mu.Unlock()
	if !ok {
		return Entry{}, false
	}
	e.Campaigns = types.CloneCampaigns(e.Campaigns)
	return e, true
}

// Fresh returns the entry for screen only if it is younger than MaxAge at now.
func (c *Cache) Fresh(screen string, now time.Time) (Entry, bool) {
	e, ok := c.Get(screen)
	if !ok || e.Age(now) >= c.maxAge {
		return Entry{}, false
	}
	return e, true
}

// Len returns the number of cached screens.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Screens returns the normalized names of cached screens, sorted.
func (c *Cache) Screens() []string {
	c.mu.Lock()
	out := make([]string, 0, len(c.entries))
	for k := range c.entries {
		out = append(out, k)
	}
	c.mu.Unlock()
	sort.Strings(out)
	return out
}
