package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrylabs/scry/internal/domain"
	"github.com/scrylabs/scry/internal/search"
)

func makeResponse(ids ...string) *search.Response {
	resp := &search.Response{Mode: search.ModeHybrid}
	for _, id := range ids {
		resp.Results = append(resp.Results, &domain.SearchResult{
			ItemID: id,
			Title:  "title " + id,
			Score:  0.5,
			Match:  domain.MatchKindHybrid,
			Type:   domain.ItemTypeDocument,
		})
	}
	return resp
}

func TestSearchCache_SetGet(t *testing.T) {
	c, err := New(10, time.Minute)
	require.NoError(t, err)

	_, ok := c.Get("k1")
	assert.False(t, ok)

	c.Set("k1", makeResponse("item-1", "item-2"), "scope-a")

	got, ok := c.Get("k1")
	require.True(t, ok)
	require.Len(t, got.Results, 2)
	assert.Equal(t, "item-1", got.Results[0].ItemID)
	assert.Equal(t, search.ModeHybrid, got.Mode)
	assert.False(t, got.Cached)
	assert.Equal(t, 1, c.Len())
}

func TestSearchCache_CopyIsolation(t *testing.T) {
	c, err := New(10, time.Minute)
	require.NoError(t, err)

	original := makeResponse("item-1")
	c.Set("k1", original, "scope-a")

	original.Results[0].Title = "mutated"
	first, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "title item-1", first.Results[0].Title)

	first.Results[0].Title = "mutated again"
	second, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "title item-1", second.Results[0].Title)
}

func TestSearchCache_TTLExpiry(t *testing.T) {
	c, err := New(10, time.Minute)
	require.NoError(t, err)

	current := time.Now()
	c.now = func() time.Time { return current }

	c.Set("k1", makeResponse("item-1"), "scope-a")

	_, ok := c.Get("k1")
	assert.True(t, ok)

	current = current.Add(time.Minute + time.Second)
	_, ok = c.Get("k1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestSearchCache_InvalidateScope(t *testing.T) {
	c, err := New(10, time.Minute)
	require.NoError(t, err)

	c.Set("k1", makeResponse("item-1"), "scope-a")
	c.Set("k2", makeResponse("item-2"), "scope-a")
	c.Set("k3", makeResponse("item-3"), "scope-b")

	removed := c.InvalidateScope("scope-a")
	assert.Equal(t, 2, removed)

	_, ok := c.Get("k1")
	assert.False(t, ok)
	_, ok = c.Get("k2")
	assert.False(t, ok)
	_, ok = c.Get("k3")
	assert.True(t, ok)
}

func TestSearchCache_Eviction(t *testing.T) {
	c, err := New(2, time.Minute)
	require.NoError(t, err)

	c.Set("k1", makeResponse("item-1"), "scope-a")
	c.Set("k2", makeResponse("item-2"), "scope-a")
	c.Set("k3", makeResponse("item-3"), "scope-a")

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("k1")
	assert.False(t, ok)
	_, ok = c.Get("k3")
	assert.True(t, ok)
}

func TestSearchCache_PurgeExpired(t *testing.T) {
	c, err := New(10, time.Minute)
	require.NoError(t, err)

	current := time.Now()
	c.now = func() time.Time { return current }

	c.Set("k1", makeResponse("item-1"), "scope-a")
	c.Set("k2", makeResponse("item-2"), "scope-b")

	assert.Equal(t, 0, c.PurgeExpired())

	current = current.Add(2 * time.Minute)
	assert.Equal(t, 2, c.PurgeExpired())
	assert.Equal(t, 0, c.Len())
}
