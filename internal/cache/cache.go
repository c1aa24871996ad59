// Package cache provides a bounded, TTL-aware store for served search
// responses.
package cache

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/scrylabs/scry/internal/domain"
	"github.com/scrylabs/scry/internal/search"
)

type entry struct {
	resp       *search.Response
	ownerScope string
	expiresAt  time.Time
}

// SearchCache caches search responses with LRU eviction and a fixed TTL.
// Entries remember their owner scope so index updates can drop exactly the
// responses they may have invalidated.
type SearchCache struct {
	entries *lru.Cache[string, *entry]
	ttl     time.Duration

	now func() time.Time
}

// New creates a cache holding at most maxEntries responses, each live for
// ttl after being set.
func New(maxEntries int, ttl time.Duration) (*SearchCache, error) {
	entries, err := lru.New[string, *entry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	return &SearchCache{
		entries: entries,
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

// Get returns a copy of the cached response for key, if one is present and
// not expired. Expired entries are dropped on sight.
func (c *SearchCache) Get(key string) (*search.Response, bool) {
	e, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		c.entries.Remove(key)
		return nil, false
	}

	return cloneResponse(e.resp), true
}

// Set stores a copy of resp under key. The copy keeps later mutations by
// the caller, or by readers of other requests, out of the cache.
func (c *SearchCache) Set(key string, resp *search.Response, ownerScope string) {
	c.entries.Add(key, &entry{
		resp:       cloneResponse(resp),
		ownerScope: ownerScope,
		expiresAt:  c.now().Add(c.ttl),
	})
}

// InvalidateScope drops every cached response belonging to an owner scope
// and returns how many were removed.
func (c *SearchCache) InvalidateScope(ownerScope string) int {
	removed := 0
	for _, key := range c.entries.Keys() {
		if e, ok := c.entries.Peek(key); ok && e.ownerScope == ownerScope {
			c.entries.Remove(key)
			removed++
		}
	}

	return removed
}

// PurgeExpired drops entries whose TTL has passed and returns how many
// were removed. LRU eviction handles capacity; this handles time.
func (c *SearchCache) PurgeExpired() int {
	now := c.now()
	removed := 0
	for _, key := range c.entries.Keys() {
		if e, ok := c.entries.Peek(key); ok && now.After(e.expiresAt) {
			c.entries.Remove(key)
			removed++
		}
	}

	return removed
}

// Len reports how many entries are currently held, expired or not.
func (c *SearchCache) Len() int {
	return c.entries.Len()
}

func cloneResponse(resp *search.Response) *search.Response {
	out := &search.Response{
		Mode:     resp.Mode,
		Degraded: resp.Degraded,
	}
	if resp.Results != nil {
		out.Results = make([]*domain.SearchResult, len(resp.Results))
		for i, r := range resp.Results {
			copied := *r
			out.Results[i] = &copied
		}
	}

	return out
}
