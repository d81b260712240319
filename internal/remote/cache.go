package remote

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// Searcher is the subset of Client used by the search pipeline.
type Searcher interface {
	SearchServices(ctx context.Context, p SearchParams) (ServicePage, error)
}

// CachedSearcher memoizes successful searches for a short TTL. Failures are
// never cached.
type CachedSearcher struct {
	next  Searcher
	cache *cache.Cache
}

// NewCachedSearcher wraps next. A non-positive ttl disables caching and
// returns next unchanged.
func NewCachedSearcher(next Searcher, ttl time.Duration) Searcher {
	if ttl <= 0 {
		return next
	}
	return &CachedSearcher{next: next, cache: cache.New(ttl, 2*ttl)}
}

// cacheKey keys on the query as sent. Matching case is the server's call.
func cacheKey(p SearchParams) string {
	return fmt.Sprintf("%s|%s|%d|%d", strings.TrimSpace(p.Query), p.Category, p.Page, p.Limit)
}

func (s *CachedSearcher) SearchServices(ctx context.Context, p SearchParams) (ServicePage, error) {
	key := cacheKey(p)
	if x, found := s.cache.Get(key); found {
		return x.(ServicePage), nil
	}
	page, err := s.next.SearchServices(ctx, p)
	if err != nil {
		return ServicePage{}, err
	}
	s.cache.Set(key, page, cache.DefaultExpiration)
	return page, nil
}

// Flush drops every cached page.
func (s *CachedSearcher) Flush() {
	s.cache.Flush()
}
