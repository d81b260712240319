package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studex/studex/internal/remote"
)

type reply struct {
	page remote.ServicePage
	err  error
}

type call struct {
	params remote.SearchParams
	reply  chan reply
}

func (c call) respond(items ...remote.Service) {
	c.reply <- reply{page: remote.ServicePage{Services: items, Total: len(items), Page: 1}}
}

func (c call) fail(err error) {
	c.reply <- reply{err: err}
}

// fakeFetcher blocks every search until the test answers it.
type fakeFetcher struct {
	calls chan call
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{calls: make(chan call, 16)}
}

func (f *fakeFetcher) SearchServices(ctx context.Context, p remote.SearchParams) (remote.ServicePage, error) {
	c := call{params: p, reply: make(chan reply, 1)}
	f.calls <- c
	select {
	case r := <-c.reply:
		return r.page, r.err
	case <-ctx.Done():
		return remote.ServicePage{}, ctx.Err()
	}
}

func (f *fakeFetcher) next(t *testing.T) call {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("expected a search to be dispatched")
		return call{}
	}
}

func (f *fakeFetcher) none(t *testing.T) {
	t.Helper()
	select {
	case c := <-f.calls:
		t.Fatalf("unexpected search dispatched: %+v", c.params)
	case <-time.After(50 * time.Millisecond):
	}
}

func newDebouncer(t *testing.T, opts ...Option) (*Debouncer, *fakeFetcher, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	f := newFakeFetcher()
	d := New(f, append([]Option{WithClock(clock)}, opts...)...)
	t.Cleanup(d.Close)
	return d, f, clock
}

func waitState(t *testing.T, d *Debouncer, cond func(State) bool) State {
	t.Helper()
	require.Eventually(t, func() bool { return cond(d.Snapshot()) }, 2*time.Second, 5*time.Millisecond)
	return d.Snapshot()
}

func svc(id string) remote.Service {
	return remote.Service{ID: id, Title: id}
}

func TestCoalescesKeystrokes(t *testing.T) {
	d, f, clock := newDebouncer(t)

	d.SetQuery("c")
	clock.Advance(20 * time.Millisecond)
	d.SetQuery("ca")
	clock.Advance(20 * time.Millisecond)
	d.SetQuery("cake")
	assert.True(t, d.Snapshot().Pending)

	clock.Advance(DefaultQuietPeriod)
	c := f.next(t)
	assert.Equal(t, "cake", c.params.Query)
	assert.Equal(t, remote.AllCategories, c.params.Category)
	assert.Equal(t, 1, c.params.Page)
	assert.Equal(t, DefaultPageSize, c.params.Limit)
	f.none(t)

	c.respond(svc("s1"))
	s := waitState(t, d, func(s State) bool { return !s.Loading && len(s.Items) == 1 })
	assert.Equal(t, uint64(1), s.Generation)
	assert.NoError(t, s.Err)
}

func TestQuietPeriodRestartsOnEveryChange(t *testing.T) {
	d, f, clock := newDebouncer(t)

	d.SetQuery("lo")
	clock.Advance(DefaultQuietPeriod - time.Millisecond)
	d.SetQuery("logo")
	clock.Advance(DefaultQuietPeriod - time.Millisecond)
	f.none(t)

	clock.Advance(time.Millisecond)
	assert.Equal(t, "logo", f.next(t).params.Query)
}

func TestFacetAndQueryCollapse(t *testing.T) {
	d, f, clock := newDebouncer(t)

	d.SetQuery("site")
	clock.Advance(100 * time.Millisecond)
	d.SetFacet("Web Development")
	clock.Advance(DefaultQuietPeriod)

	c := f.next(t)
	assert.Equal(t, "site", c.params.Query)
	assert.Equal(t, "Web Development", c.params.Category)
	f.none(t)
}

func TestFacetOnlySearch(t *testing.T) {
	d, f, clock := newDebouncer(t)

	d.SetFacet("Tutoring")
	clock.Advance(DefaultQuietPeriod)
	c := f.next(t)
	assert.Empty(t, c.params.Query)
	assert.Equal(t, "Tutoring", c.params.Category)
}

func TestEmptyFilterShortCircuits(t *testing.T) {
	d, f, clock := newDebouncer(t)

	d.SetQuery("logo")
	clock.Advance(DefaultQuietPeriod)
	f.next(t).respond(svc("s1"), svc("s2"))
	waitState(t, d, func(s State) bool { return len(s.Items) == 2 })

	d.SetQuery("   ")
	clock.Advance(DefaultQuietPeriod)
	s := waitState(t, d, func(s State) bool { return s.Generation == 2 })
	f.none(t)
	assert.Empty(t, s.Items)
	assert.Zero(t, s.Total)
	assert.False(t, s.Loading)
	assert.False(t, s.Pending)
}

func TestEmptyFilterDropsInFlightResult(t *testing.T) {
	d, f, clock := newDebouncer(t)

	d.SetQuery("logo")
	clock.Advance(DefaultQuietPeriod)
	inflight := f.next(t)

	d.SetQuery("")
	clock.Advance(DefaultQuietPeriod)
	waitState(t, d, func(s State) bool { return s.Generation == 2 })

	inflight.respond(svc("late"))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, d.Snapshot().Items)
}

func TestGenerationFencing(t *testing.T) {
	d, f, clock := newDebouncer(t)

	d.SetQuery("cake")
	clock.Advance(DefaultQuietPeriod)
	slow := f.next(t)
	require.Equal(t, "cake", slow.params.Query)

	d.SetQuery("web")
	clock.Advance(DefaultQuietPeriod)
	fast := f.next(t)
	require.Equal(t, "web", fast.params.Query)

	fast.respond(svc("web-1"))
	waitState(t, d, func(s State) bool { return !s.Loading })

	slow.respond(svc("cake-1"), svc("cake-2"))
	time.Sleep(20 * time.Millisecond)

	s := d.Snapshot()
	require.Len(t, s.Items, 1)
	assert.Equal(t, "web-1", s.Items[0].ID)
	assert.Equal(t, "web", s.Query)
	assert.Equal(t, uint64(2), s.Generation)
}

func TestErrorKeepsPreviousResults(t *testing.T) {
	d, f, clock := newDebouncer(t)

	d.SetQuery("logo")
	clock.Advance(DefaultQuietPeriod)
	f.next(t).respond(svc("s1"))
	waitState(t, d, func(s State) bool { return len(s.Items) == 1 })

	d.SetQuery("logos")
	clock.Advance(DefaultQuietPeriod)
	boom := &remote.Error{Kind: remote.KindNetwork, Message: "offline"}
	f.next(t).fail(boom)

	s := waitState(t, d, func(s State) bool { return s.Err != nil })
	assert.ErrorIs(t, s.Err, remote.ErrNetwork)
	assert.False(t, s.Loading)
	require.Len(t, s.Items, 1)
	assert.Equal(t, "s1", s.Items[0].ID)

	d.SetQuery("logo")
	clock.Advance(DefaultQuietPeriod)
	f.next(t).respond(svc("s1"), svc("s2"))
	s = waitState(t, d, func(s State) bool { return len(s.Items) == 2 })
	assert.NoError(t, s.Err)
}

func TestFlushSkipsQuietPeriod(t *testing.T) {
	d, f, _ := newDebouncer(t)

	d.Flush()
	f.none(t)

	d.SetQuery("logo")
	d.Flush()
	c := f.next(t)
	assert.Equal(t, "logo", c.params.Query)
	assert.False(t, d.Snapshot().Pending)
}

func TestStaleTimerIgnoredAfterFlush(t *testing.T) {
	d, f, clock := newDebouncer(t)

	d.SetQuery("logo")
	d.Flush()
	f.next(t)

	clock.Advance(DefaultQuietPeriod)
	f.none(t)
	assert.Equal(t, uint64(1), d.Snapshot().Generation)
}

func TestDispatchHook(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	d, f, clock := newDebouncer(t, WithDispatchHook(func(q, facet string) {
		mu.Lock()
		seen = append(seen, q+"|"+facet)
		mu.Unlock()
	}))

	d.SetQuery("")
	clock.Advance(DefaultQuietPeriod)
	waitState(t, d, func(s State) bool { return s.Generation == 1 })

	d.SetQuery("tutor")
	clock.Advance(DefaultQuietPeriod)
	f.next(t).respond()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"tutor|All"}, seen)
}

func TestCustomOptions(t *testing.T) {
	d, f, clock := newDebouncer(t, WithQuietPeriod(time.Second), WithPageSize(6), WithDefaultFacet("Any"))

	d.SetQuery("x")
	clock.Advance(DefaultQuietPeriod)
	f.none(t)
	clock.Advance(time.Second)
	c := f.next(t)
	assert.Equal(t, 6, c.params.Limit)
	assert.Equal(t, "Any", c.params.Category)

	d.SetQuery("")
	clock.Advance(time.Second)
	waitState(t, d, func(s State) bool { return s.Generation == 2 && !s.Loading })
	f.none(t)
}

func TestCloseCancelsTimerAndFetch(t *testing.T) {
	d, f, clock := newDebouncer(t)

	d.SetQuery("logo")
	clock.Advance(DefaultQuietPeriod)
	f.next(t)

	d.SetQuery("logos")
	d.Close()

	clock.Advance(DefaultQuietPeriod)
	f.none(t)

	d.SetQuery("after close")
	assert.Equal(t, "logos", d.Snapshot().Query)
}

func TestSubscribeSeesTransitions(t *testing.T) {
	d, f, clock := newDebouncer(t)

	var mu sync.Mutex
	var states []State
	cancel := d.Subscribe(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	d.SetQuery("logo")
	clock.Advance(DefaultQuietPeriod)
	f.next(t).fail(errors.New("boom"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 3
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	d.SetQuery("ignored")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, states, 3)
	assert.True(t, states[0].Pending)
	assert.True(t, states[1].Loading)
	assert.False(t, states[2].Loading)
	assert.Error(t, states[2].Err)
}
