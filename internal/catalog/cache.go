package catalog

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cached memoizes search results per normalized query and topK.
type Cached struct {
	next  Searcher
	cache *expirable.LRU[string, []CandidateItem]
}

// NewCached wraps next with an LRU of size entries that expire after ttl.
// A non-positive size disables caching and returns next unchanged.
func NewCached(next Searcher, size int, ttl time.Duration) Searcher {
	if size <= 0 {
		return next
	}
	return &Cached{next: next, cache: expirable.NewLRU[string, []CandidateItem](size, nil, ttl)}
}

// Search implements Searcher. Errors are not cached.
func (c *Cached) Search(ctx context.Context, query string, topK int) ([]CandidateItem, error) {
	key := cacheKey(query, topK)
	if items, ok := c.cache.Get(key); ok {
		return cloneItems(items), nil
	}
	items, err := c.next.Search(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, cloneItems(items))
	return items, nil
}

// Len returns the number of cached queries.
func (c *Cached) Len() int {
	return c.cache.Len()
}

func cacheKey(query string, topK int) string {
	return strconv.Itoa(topK) + "|" + strings.Join(strings.Fields(strings.ToLower(query)), " ")
}
