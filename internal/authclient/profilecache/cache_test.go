package profilecache

import (
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/fintrack/internal/authclient/domain"
	"github.com/smallbiznis/fintrack/internal/clock"
)

func TestPutGetInvalidate(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	c := New(fake)

	c.Put(domain.UserProfile{ID: "u1", Email: "a@x.co", IsActive: true})
	fake.Advance(time.Minute)
	c.Put(domain.UserProfile{ID: "u2", Email: "b@x.co"})

	p, at, ok := c.Get("u1")
	if !ok || p.Email != "a@x.co" {
		t.Fatalf("expected cached profile, got %v %v", p, ok)
	}
	if !at.Equal(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected fetch time %v", at)
	}

	p.Email = "mutated"
	again, _, _ := c.Get("u1")
	if again.Email != "a@x.co" {
		t.Fatalf("cache entry was aliased")
	}

	c.Invalidate("u1")
	if _, _, ok := c.Get("u1"); ok {
		t.Fatalf("expected u1 invalidated")
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", c.Len())
	}

	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("expected empty cache")
	}
}

func TestPutIgnoresEmptyID(t *testing.T) {
	c := New(nil)
	c.Put(domain.UserProfile{Email: "x@x.co"})
	if c.Len() != 0 {
		t.Fatalf("expected no entry")
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i%4))
			c.Put(domain.UserProfile{ID: id})
			c.Get(id)
			if i%5 == 0 {
				c.Invalidate(id)
			}
		}(i)
	}
	wg.Wait()
}
