package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSearcher struct {
	calls int
	err   error
}

func (s *countingSearcher) SearchServices(ctx context.Context, p SearchParams) (ServicePage, error) {
	s.calls++
	if s.err != nil {
		return ServicePage{}, s.err
	}
	return ServicePage{Services: []Service{{ID: p.Query}}, Total: 1}, nil
}

func TestCachedSearcherHit(t *testing.T) {
	next := &countingSearcher{}
	s := NewCachedSearcher(next, time.Minute)

	for range 3 {
		page, err := s.SearchServices(context.Background(), SearchParams{Query: "Logo", Category: "All"})
		require.NoError(t, err)
		assert.Equal(t, "Logo", page.Services[0].ID)
	}
	_, err := s.SearchServices(context.Background(), SearchParams{Query: " Logo ", Category: "All"})
	require.NoError(t, err)
	assert.Equal(t, 1, next.calls, "surrounding whitespace shares an entry")

	_, err = s.SearchServices(context.Background(), SearchParams{Query: "Logo", Category: "Graphic Design"})
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)

	s.(*CachedSearcher).Flush()
	_, err = s.SearchServices(context.Background(), SearchParams{Query: "Logo", Category: "All"})
	require.NoError(t, err)
	assert.Equal(t, 3, next.calls)
}

func TestCachedSearcherKeepsQueryCase(t *testing.T) {
	next := &countingSearcher{}
	s := NewCachedSearcher(next, time.Minute)

	upper, err := s.SearchServices(context.Background(), SearchParams{Query: "Logo"})
	require.NoError(t, err)
	lower, err := s.SearchServices(context.Background(), SearchParams{Query: "logo"})
	require.NoError(t, err)

	assert.Equal(t, 2, next.calls, "queries differing in case are separate requests")
	assert.Equal(t, "Logo", upper.Services[0].ID)
	assert.Equal(t, "logo", lower.Services[0].ID)
}

func TestCachedSearcherSkipsFailures(t *testing.T) {
	next := &countingSearcher{err: errors.New("boom")}
	s := NewCachedSearcher(next, time.Minute)

	for range 2 {
		_, err := s.SearchServices(context.Background(), SearchParams{Query: "x"})
		require.Error(t, err)
	}
	assert.Equal(t, 2, next.calls)
}

func TestCachedSearcherDisabled(t *testing.T) {
	next := &countingSearcher{}
	s := NewCachedSearcher(next, 0)
	assert.Same(t, next, s)
}
