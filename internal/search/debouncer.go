// Package search turns keystrokes and facet changes into debounced service
// searches whose results never go backwards in time.
package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/studex/studex/internal/remote"
)

const (
	DefaultQuietPeriod  = 300 * time.Millisecond
	DefaultPageSize     = 12
	defaultFetchTimeout = 20 * time.Second
)

// ErrStale marks a fetch result that was superseded by a newer generation.
// It is only logged.
var ErrStale = errors.New("search: result superseded by a newer query")

// State is a snapshot of the search pipeline.
type State struct {
	Query string
	Facet string
	// Items is the visible result set. It is never cleared by a failed fetch.
	Items   []remote.Service
	Total   int
	Loading bool
	// Err is the failure of the latest fetch, nil after a success.
	Err error
	// Pending is true while a quiet period is running.
	Pending    bool
	Generation uint64
}

// Debouncer is safe for concurrent use.
type Debouncer struct {
	fetcher      remote.Searcher
	clock        clockwork.Clock
	quiet        time.Duration
	defaultFacet string
	pageSize     int
	fetchTimeout time.Duration
	onDispatch   func(query, facet string)
	logger       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	state   State
	timer   clockwork.Timer
	seq     uint64 // identifies the live quiet-period timer
	subs    map[int]func(State)
	nextSub int
	closed  bool

	emitMu sync.Mutex
}

type Option func(*Debouncer)

func WithClock(c clockwork.Clock) Option {
	return func(d *Debouncer) { d.clock = c }
}

func WithQuietPeriod(p time.Duration) Option {
	return func(d *Debouncer) {
		if p > 0 {
			d.quiet = p
		}
	}
}

// WithDefaultFacet sets the all-inclusive facet value ("All").
func WithDefaultFacet(f string) Option {
	return func(d *Debouncer) {
		if f != "" {
			d.defaultFacet = f
		}
	}
}

func WithPageSize(n int) Option {
	return func(d *Debouncer) {
		if n > 0 {
			d.pageSize = n
		}
	}
}

func WithFetchTimeout(t time.Duration) Option {
	return func(d *Debouncer) {
		if t > 0 {
			d.fetchTimeout = t
		}
	}
}

// WithDispatchHook calls fn for every fetch actually sent.
func WithDispatchHook(fn func(query, facet string)) Option {
	return func(d *Debouncer) { d.onDispatch = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Debouncer) { d.logger = l }
}

// New returns an idle Debouncer with an empty query and the default facet.
func New(fetcher remote.Searcher, opts ...Option) *Debouncer {
	d := &Debouncer{
		fetcher:      fetcher,
		clock:        clockwork.NewRealClock(),
		quiet:        DefaultQuietPeriod,
		defaultFacet: remote.AllCategories,
		pageSize:     DefaultPageSize,
		fetchTimeout: defaultFetchTimeout,
		logger:       slog.Default(),
		subs:         make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.state = State{Facet: d.defaultFacet, Items: []remote.Service{}}
	return d
}

// SetQuery replaces the query text and restarts the quiet period.
func (d *Debouncer) SetQuery(text string) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.state.Query = text
	d.scheduleLocked()
}

// SetFacet replaces the category facet and restarts the quiet period. An
// empty value selects the default facet.
func (d *Debouncer) SetFacet(value string) {
	if value == "" {
		value = d.defaultFacet
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.state.Facet = value
	d.scheduleLocked()
}

// scheduleLocked resets the quiet-period timer. d.mu must be held and is
// released.
func (d *Debouncer) scheduleLocked() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.seq++
	seq := d.seq
	d.state.Pending = true
	d.timer = d.clock.AfterFunc(d.quiet, func() { d.fire(seq) })
	d.publishLocked()
}

// Flush dispatches the pending filter now instead of waiting for the quiet
// period. It is a no-op when nothing is pending.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.closed || !d.state.Pending {
		d.mu.Unlock()
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.seq++
	d.dispatchLocked()
}

func (d *Debouncer) fire(seq uint64) {
	d.mu.Lock()
	// A timer that was reset may still fire if Stop lost the race.
	if d.closed || seq != d.seq {
		d.mu.Unlock()
		return
	}
	d.dispatchLocked()
}

// dispatchLocked starts a new generation. d.mu must be held and is released.
func (d *Debouncer) dispatchLocked() {
	d.timer = nil
	d.state.Pending = false
	d.state.Generation++
	gen := d.state.Generation
	query, facet := d.state.Query, d.state.Facet

	if strings.TrimSpace(query) == "" && facet == d.defaultFacet {
		d.state.Items = []remote.Service{}
		d.state.Total = 0
		d.state.Loading = false
		d.state.Err = nil
		d.publishLocked()
		return
	}

	d.state.Loading = true
	params := remote.SearchParams{Query: query, Category: facet, Page: 1, Limit: d.pageSize}
	d.wg.Add(1)
	d.publishLocked()

	go d.fetch(gen, params)
}

func (d *Debouncer) fetch(gen uint64, p remote.SearchParams) {
	defer d.wg.Done()
	if d.onDispatch != nil {
		d.onDispatch(p.Query, p.Category)
	}
	d.logger.Debug("search dispatched", "generation", gen, "query", p.Query, "facet", p.Category)

	ctx, cancel := context.WithTimeout(d.ctx, d.fetchTimeout)
	defer cancel()
	page, err := d.fetcher.SearchServices(ctx, p)

	d.mu.Lock()
	if d.closed || gen != d.state.Generation {
		d.mu.Unlock()
		d.logger.Debug("dropping search result", "generation", gen, "error", ErrStale)
		return
	}
	d.state.Loading = false
	if err != nil {
		d.logger.Warn("search failed", "generation", gen, "error", err)
		d.state.Err = err
	} else {
		d.state.Items = page.Services
		if d.state.Items == nil {
			d.state.Items = []remote.Service{}
		}
		d.state.Total = page.Total
		d.state.Err = nil
	}
	d.publishLocked()
}

// Snapshot returns the current state.
func (d *Debouncer) Snapshot() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

func (d *Debouncer) snapshotLocked() State {
	s := d.state
	s.Items = append([]remote.Service(nil), d.state.Items...)
	return s
}

// Subscribe registers fn for every state change, delivered in order.
// fn must not call back into the Debouncer synchronously.
func (d *Debouncer) Subscribe(fn func(State)) (cancel func()) {
	d.mu.Lock()
	id := d.nextSub
	d.nextSub++
	d.subs[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}
}

// publishLocked delivers a snapshot to subscribers. d.mu must be held and is
// released.
func (d *Debouncer) publishLocked() {
	s := d.snapshotLocked()
	subs := make([]func(State), 0, len(d.subs))
	for _, fn := range d.subs {
		subs = append(subs, fn)
	}
	d.emitMu.Lock()
	d.mu.Unlock()
	defer d.emitMu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}

// Close stops the quiet-period timer, abandons in-flight fetches and waits
// for their goroutines to return.
func (d *Debouncer) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.state.Pending = false
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
}
