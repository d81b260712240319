// Package notify holds the transient toast notifications shown to the user.
package notify

import (
	"crypto/rand"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
)

// DefaultTTL is how long a notification stays visible when shown with Show.
const DefaultTTL = 5 * time.Second

type Kind string

const (
	Success Kind = "success"
	Error   Kind = "error"
	Warning Kind = "warning"
	Info    Kind = "info"
)

// Notification is one visible toast. TTL zero means it stays until dismissed.
type Notification struct {
	ID        string
	Kind      Kind
	Title     string
	Body      string
	TTL       time.Duration
	CreatedAt time.Time
}

// Queue keeps notifications in insertion order and expires each one with
// its own timer. Ids are never reused, so a removed item cannot reappear.
type Queue struct {
	clock      clockwork.Clock
	defaultTTL time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	items   []Notification
	timers  map[string]clockwork.Timer
	entropy io.Reader
	subs    map[int]func([]Notification)
	nextSub int
	closed  bool

	emitMu sync.Mutex
}

type Option func(*Queue)

func WithClock(c clockwork.Clock) Option {
	return func(q *Queue) { q.clock = c }
}

func WithDefaultTTL(d time.Duration) Option {
	return func(q *Queue) { q.defaultTTL = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

func New(opts ...Option) *Queue {
	q := &Queue{
		clock:      clockwork.NewRealClock(),
		defaultTTL: DefaultTTL,
		logger:     slog.Default(),
		timers:     make(map[string]clockwork.Timer),
		entropy:    ulid.Monotonic(rand.Reader, 0),
		subs:       make(map[int]func([]Notification)),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Push appends a notification and returns its id. A positive ttl schedules
// its removal. After Close, Push still returns an id but shows nothing.
func (q *Queue) Push(kind Kind, title, body string, ttl time.Duration) string {
	if ttl < 0 {
		ttl = 0
	}

	q.mu.Lock()
	now := q.clock.Now()
	id := ulid.MustNew(ulid.Timestamp(now), q.entropy).String()
	if q.closed {
		q.mu.Unlock()
		return id
	}

	q.items = append(q.items, Notification{
		ID:        id,
		Kind:      kind,
		Title:     title,
		Body:      body,
		TTL:       ttl,
		CreatedAt: now,
	})
	if ttl > 0 {
		q.timers[id] = q.clock.AfterFunc(ttl, func() { q.expire(id) })
	}
	q.logger.Debug("notification pushed", "id", id, "kind", kind, "ttl", ttl)
	q.publishLocked()
	return id
}

// Show pushes a notification with the default TTL.
func (q *Queue) Show(kind Kind, title, body string) string {
	return q.Push(kind, title, body, q.defaultTTL)
}

// Dismiss removes id and stops its timer. Unknown ids are ignored.
func (q *Queue) Dismiss(id string) {
	q.mu.Lock()
	if !q.removeLocked(id) {
		q.mu.Unlock()
		return
	}
	q.publishLocked()
}

func (q *Queue) expire(id string) {
	q.mu.Lock()
	if !q.removeLocked(id) {
		q.mu.Unlock()
		return
	}
	q.logger.Debug("notification expired", "id", id)
	q.publishLocked()
}

// removeLocked deletes id and reports whether it was present.
func (q *Queue) removeLocked(id string) bool {
	if t, ok := q.timers[id]; ok {
		t.Stop()
		delete(q.timers, id)
	}
	for i, n := range q.items {
		if n.ID == id {
			q.items = slices.Delete(q.items, i, i+1)
			return true
		}
	}
	return false
}

// List returns the visible notifications, oldest first.
func (q *Queue) List() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Notification(nil), q.items...)
}

// Subscribe registers fn for every change of the visible list.
// fn must not call back into the queue synchronously.
func (q *Queue) Subscribe(fn func([]Notification)) (cancel func()) {
	q.mu.Lock()
	id := q.nextSub
	q.nextSub++
	q.subs[id] = fn
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		delete(q.subs, id)
		q.mu.Unlock()
	}
}

// publishLocked delivers a snapshot to subscribers. q.mu must be held and is
// released.
func (q *Queue) publishLocked() {
	snapshot := append([]Notification(nil), q.items...)
	subs := make([]func([]Notification), 0, len(q.subs))
	for _, fn := range q.subs {
		subs = append(subs, fn)
	}
	q.emitMu.Lock()
	q.mu.Unlock()
	defer q.emitMu.Unlock()
	for _, fn := range subs {
		fn(snapshot)
	}
}

// Close stops every pending timer and clears the queue.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	q.items = nil
	q.publishLocked()
}
