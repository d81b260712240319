// Package session owns the authentication state of the client: hydration
// from persisted credentials, login, signup and logout.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/studex/studex/internal/remote"
)

// Keys written to the credential store.
const (
	KeyToken = "token"
	KeyUser  = "user"
)

// ErrStale is returned by Login and Signup when a newer session change
// (logout or another login) committed while the call was in flight. The
// result was discarded and must not be shown to the user.
var ErrStale = errors.New("session: result superseded by a newer session change")

type Status int

const (
	Unauthenticated Status = iota
	Hydrating
	Authenticated
	Invalid
)

func (s Status) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Hydrating:
		return "hydrating"
	case Authenticated:
		return "authenticated"
	case Invalid:
		return "invalid"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Session is an immutable snapshot of the authentication state. User is set
// only when Status is Authenticated.
type Session struct {
	Status Status
	Token  string
	User   *remote.User
}

// CredentialStore persists opaque string values across restarts.
type CredentialStore interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
}

// Authenticator is the remote side of the session lifecycle.
type Authenticator interface {
	Validate(ctx context.Context, token string) (remote.User, error)
	Login(ctx context.Context, email, password string) (remote.AuthResult, error)
	Signup(ctx context.Context, form remote.SignupForm) (remote.AuthResult, error)
}

// Manager is safe for concurrent use.
type Manager struct {
	store  CredentialStore
	auth   Authenticator
	logger *slog.Logger
	flight singleflight.Group

	mu       sync.Mutex
	current  Session
	epoch    uint64
	hydrated bool
	subs     map[int]func(Session)
	nextSub  int

	// emitMu serializes subscriber delivery in commit order.
	emitMu sync.Mutex
}

type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New returns a Manager in the Unauthenticated state.
func New(store CredentialStore, auth Authenticator, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		auth:   auth,
		logger: slog.Default(),
		subs:   make(map[int]func(Session)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Current returns the current session snapshot.
func (m *Manager) Current() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Subscribe registers fn for every state change, delivered in transition
// order. fn must not call Login, Signup, Logout or Hydrate synchronously.
func (m *Manager) Subscribe(fn func(Session)) (cancel func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// commitLocked installs s and delivers it to subscribers. m.mu must be held
// and is released.
func (m *Manager) commitLocked(s Session) Session {
	m.current = s
	subs := make([]func(Session), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.emitMu.Lock()
	m.mu.Unlock()
	defer m.emitMu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
	return s
}

// Hydrate restores the session from persisted credentials and validates the
// token remotely. It never fails: rejected or unverifiable credentials are
// cleared and the session ends Unauthenticated. Concurrent calls share one
// validation, and calls after a completed hydrate return Current.
func (m *Manager) Hydrate(ctx context.Context) Session {
	m.mu.Lock()
	if m.hydrated {
		s := m.current
		m.mu.Unlock()
		return s
	}
	m.mu.Unlock()

	v, _, _ := m.flight.Do("hydrate", func() (any, error) {
		return m.hydrate(ctx), nil
	})
	return v.(Session)
}

func (m *Manager) hydrate(ctx context.Context) Session {
	m.mu.Lock()
	if m.hydrated {
		s := m.current
		m.mu.Unlock()
		return s
	}
	epoch := m.epoch

	token, ok, err := m.store.Get(KeyToken)
	if err != nil {
		m.logger.Warn("reading persisted token", "error", err)
		ok = false
	}
	if !ok || token == "" {
		m.hydrated = true
		return m.commitLocked(Session{Status: Unauthenticated})
	}
	m.commitLocked(Session{Status: Hydrating, Token: token})

	user, err := m.auth.Validate(ctx, token)

	m.mu.Lock()
	if m.epoch != epoch {
		s := m.current
		m.mu.Unlock()
		m.logger.Debug("dropping hydrate result", "error", ErrStale)
		return s
	}

	if err != nil {
		if ctx.Err() != nil {
			// Cancellation says nothing about the credential; keep it so a
			// later Hydrate can retry.
			m.logger.Debug("hydrate cancelled", "error", err)
			return m.commitLocked(Session{Status: Unauthenticated})
		}
		m.logger.Info("persisted session rejected", "kind", remote.KindOf(err), "error", err)
		m.hydrated = true
		m.commitLocked(Session{Status: Invalid, Token: token})

		m.mu.Lock()
		if m.epoch != epoch {
			s := m.current
			m.mu.Unlock()
			return s
		}
		m.clearLocked()
		return m.commitLocked(Session{Status: Unauthenticated})
	}

	if err := m.persistUserLocked(user); err != nil {
		m.logger.Warn("persisting validated user", "error", err)
	}
	m.hydrated = true
	return m.commitLocked(Session{Status: Authenticated, Token: token, User: &user})
}

// Login authenticates with email and password. Failures are typed
// *remote.Error values and leave the session unchanged.
func (m *Manager) Login(ctx context.Context, email, password string) (Session, error) {
	epoch := m.currentEpoch()
	res, err := m.auth.Login(ctx, email, password)
	if err != nil {
		return m.Current(), err
	}
	return m.establish(epoch, res)
}

// Signup registers an account and signs it in. Attachments in form are
// passed to the server untouched.
func (m *Manager) Signup(ctx context.Context, form remote.SignupForm) (Session, error) {
	epoch := m.currentEpoch()
	res, err := m.auth.Signup(ctx, form)
	if err != nil {
		return m.Current(), err
	}
	return m.establish(epoch, res)
}

func (m *Manager) currentEpoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

func (m *Manager) establish(epoch uint64, res remote.AuthResult) (Session, error) {
	m.mu.Lock()
	if m.epoch != epoch {
		s := m.current
		m.mu.Unlock()
		m.logger.Debug("dropping auth result", "error", ErrStale)
		return s, ErrStale
	}
	if err := m.store.Set(KeyToken, res.Token); err != nil {
		m.mu.Unlock()
		return m.Current(), fmt.Errorf("persisting token: %w", err)
	}
	if err := m.persistUserLocked(res.User); err != nil {
		prev := m.current
		if m.restoreTokenLocked(prev.Token) || prev.Token == "" {
			m.mu.Unlock()
			return prev, err
		}
		// Storage no longer matches the live session; drop it.
		m.epoch++
		m.hydrated = true
		m.clearLocked()
		return m.commitLocked(Session{Status: Unauthenticated}), err
	}
	m.epoch++
	m.hydrated = true
	user := res.User
	return m.commitLocked(Session{Status: Authenticated, Token: res.Token, User: &user}), nil
}

// Logout clears persisted credentials and the in-memory session. Any
// in-flight hydrate, login or signup is discarded when it completes.
func (m *Manager) Logout() {
	m.mu.Lock()
	m.epoch++
	m.hydrated = true
	m.clearLocked()
	m.commitLocked(Session{Status: Unauthenticated})
}

func (m *Manager) clearLocked() {
	for _, k := range []string{KeyToken, KeyUser} {
		if err := m.store.Remove(k); err != nil {
			m.logger.Warn("removing persisted credential", "key", k, "error", err)
		}
	}
}

// restoreTokenLocked puts the persisted token back to token, or removes it
// when token is empty, after a partially failed write.
func (m *Manager) restoreTokenLocked(token string) bool {
	var err error
	if token != "" {
		err = m.store.Set(KeyToken, token)
	} else {
		err = m.store.Remove(KeyToken)
	}
	if err != nil {
		m.logger.Warn("restoring persisted token", "error", err)
		return false
	}
	return true
}

func (m *Manager) persistUserLocked(u remote.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encoding user: %w", err)
	}
	if err := m.store.Set(KeyUser, string(data)); err != nil {
		return fmt.Errorf("persisting user: %w", err)
	}
	return nil
}
