package notify

import (
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(ns []Notification) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.ID
	}
	return out
}

func waitFor(t *testing.T, q *Queue, want []string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, ids(q.List()))
	}, time.Second, time.Millisecond, "want visible %v, have %v", want, ids(q.List()))
}

func TestPushOrderAndIDs(t *testing.T) {
	q := New(WithClock(clockwork.NewFakeClock()))
	defer q.Close()

	a := q.Push(Info, "first", "", 0)
	b := q.Push(Success, "second", "body", 0)
	c := q.Push(Error, "third", "", 0)

	list := q.List()
	require.Len(t, list, 3)
	assert.Equal(t, []string{a, b, c}, ids(list))
	assert.True(t, sort.StringsAreSorted([]string{a, b, c}), "ids sort in creation order")
	assert.Equal(t, "body", list[1].Body)
	assert.Equal(t, Success, list[1].Kind)
}

func TestExpiryFollowsTTLNotInsertion(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := New(WithClock(clock))
	defer q.Close()

	long := q.Push(Info, "long", "", 3*time.Second)
	q.Push(Info, "short", "", time.Second)
	sticky := q.Push(Warning, "sticky", "", 0)

	clock.Advance(time.Second)
	waitFor(t, q, []string{long, sticky})

	clock.Advance(2 * time.Second)
	waitFor(t, q, []string{sticky})

	clock.Advance(time.Hour)
	assert.Equal(t, []string{sticky}, ids(q.List()), "ttl 0 never expires")
}

func TestShowUsesDefaultTTL(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := New(WithClock(clock), WithDefaultTTL(2*time.Second))
	defer q.Close()

	id := q.Show(Success, "Account Created!", "")
	assert.Equal(t, 2*time.Second, q.List()[0].TTL)

	clock.Advance(1999 * time.Millisecond)
	assert.Equal(t, []string{id}, ids(q.List()))

	clock.Advance(time.Millisecond)
	waitFor(t, q, []string{})
}

func TestDismissIdempotent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := New(WithClock(clock))
	defer q.Close()

	var events atomic.Int32
	q.Subscribe(func([]Notification) { events.Add(1) })

	a := q.Push(Info, "a", "", time.Second)
	b := q.Push(Info, "b", "", 0)
	require.Equal(t, int32(2), events.Load())

	q.Dismiss(a)
	q.Dismiss(a)
	q.Dismiss("does-not-exist")
	assert.Equal(t, []string{b}, ids(q.List()))
	assert.Equal(t, int32(3), events.Load(), "only the first dismiss publishes")

	clock.Advance(time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, []string{b}, ids(q.List()))
	assert.Equal(t, int32(3), events.Load(), "stopped timer does not fire")
}

// TestDismissRacesExpiry runs dismiss and expiry concurrently and checks each
// notification is removed exactly once.
func TestDismissRacesExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := New(WithClock(clock))
	defer q.Close()

	const n = 50
	var pushed []string
	for i := 0; i < n; i++ {
		pushed = append(pushed, q.Push(Info, "x", "", time.Millisecond))
	}

	var mu sync.Mutex
	var removals []int
	q.Subscribe(func(ns []Notification) {
		mu.Lock()
		removals = append(removals, len(ns))
		mu.Unlock()
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, id := range pushed {
			q.Dismiss(id)
		}
	}()
	go func() {
		defer wg.Done()
		clock.Advance(time.Millisecond)
	}()
	wg.Wait()

	waitFor(t, q, []string{})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(removals) == n
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, size := range removals {
		assert.Equal(t, n-1-i, size, "each publish removes exactly one item")
	}
}

func TestCloseStopsTimers(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := New(WithClock(clock))

	q.Push(Info, "a", "", time.Second)
	q.Push(Info, "b", "", 0)
	q.Close()
	assert.Empty(t, q.List())

	id := q.Push(Info, "late", "", time.Second)
	assert.NotEmpty(t, id)
	assert.Empty(t, q.List())

	clock.Advance(time.Minute)
	q.Close()
	assert.Empty(t, q.List())
}

func TestSubscribeCancel(t *testing.T) {
	q := New(WithClock(clockwork.NewFakeClock()))
	defer q.Close()

	var got [][]Notification
	cancel := q.Subscribe(func(ns []Notification) { got = append(got, ns) })
	q.Push(Info, "a", "", 0)
	cancel()
	q.Push(Info, "b", "", 0)

	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0][0].Title)
}
