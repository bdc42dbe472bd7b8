package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/DollDevil/IBV3/internal/domain"
)

// EventLister is the narrow slice of the repository the cache needs.
type EventLister interface {
	ActiveEvents(ctx context.Context, guildID string) ([]domain.Event, error)
}

// ActiveEventCache resolves active event IDs per guild with a TTL. When a
// refresh fails it serves the last known set, so a storage blip never
// stalls signal intake.
type ActiveEventCache struct {
	lister EventLister
	ttl    time.Duration

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	ids       []string
	fetchedAt time.Time
}

// NewActiveEventCache constructs the cache.
func NewActiveEventCache(lister EventLister, ttl time.Duration) *ActiveEventCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &ActiveEventCache{
		lister:  lister,
		ttl:     ttl,
		entries: make(map[string]*cacheEntry),
	}
}

// ActiveEventIDs returns the active event IDs for a guild, refreshing the
// cache entry when stale.
func (c *ActiveEventCache) ActiveEventIDs(ctx context.Context, guildID string) ([]string, error) {
	c.mu.Lock()
	entry, ok := c.entries[guildID]
	if ok && time.Since(entry.fetchedAt) < c.ttl {
		ids := entry.ids
		c.mu.Unlock()
		return ids, nil
	}
	c.mu.Unlock()

	events, err := c.lister.ActiveEvents(ctx, guildID)
	if err != nil {
		if ok {
			// Stale beats unavailable.
			return entry.ids, nil
		}
		return nil, err
	}

	ids := make([]string, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.EventID)
	}

	c.mu.Lock()
	c.entries[guildID] = &cacheEntry{ids: ids, fetchedAt: time.Now()}
	c.mu.Unlock()
	return ids, nil
}

// Invalidate drops the cached entry for a guild, forcing the next lookup to
// hit storage. Called after event lifecycle changes.
func (c *ActiveEventCache) Invalidate(guildID string) {
	c.mu.Lock()
	delete(c.entries, guildID)
	c.mu.Unlock()
}
