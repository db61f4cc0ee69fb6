// Package profilecache keeps the last fetched profile per user.
package profilecache

import (
	"sync"
	"time"

	"github.com/smallbiznis/fintrack/internal/authclient/domain"
	"github.com/smallbiznis/fintrack/internal/clock"
)

type entry struct {
	profile   domain.UserProfile
	fetchedAt time.Time
}

// Cache is safe for concurrent use. Profiles are stored by value so callers cannot alias cache state.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	clock   clock.Clock
}

func New(c clock.Clock) *Cache {
	if c == nil {
		c = clock.System()
	}
	return &Cache{entries: make(map[string]entry), clock: c}
}

// Get returns the cached profile and when it was fetched.
func (c *Cache) Get(userID string) (*domain.UserProfile, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[userID]
	if !ok {
		return nil, time.Time{}, false
	}
	p := e.profile
	return &p, e.fetchedAt, true
}

func (c *Cache) Put(p domain.UserProfile) {
	if p.ID == "" {
		return
	}
	c.mu.Lock()
	c.entries[p.ID] = entry{profile: p, fetchedAt: c.clock.Now()}
	c.mu.Unlock()
}

func (c *Cache) Invalidate(userID string) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}

func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
