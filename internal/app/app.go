// Package app wires the session, notification and search managers into one
// client and turns their outcomes into user-facing notifications.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"

	"github.com/studex/studex/internal/notify"
	"github.com/studex/studex/internal/remote"
	"github.com/studex/studex/internal/search"
	"github.com/studex/studex/internal/session"
)

// Backend is the marketplace API as seen by the client.
type Backend interface {
	session.Authenticator
	remote.Searcher
	ListJobs(ctx context.Context, p remote.JobParams) (remote.JobPage, error)
	CreateService(ctx context.Context, form remote.ServiceForm) (remote.Service, error)
	PostJob(ctx context.Context, form remote.JobForm) (remote.Job, error)
}

// SearchRecorder keeps a history of dispatched searches.
type SearchRecorder interface {
	RecordSearch(query, category string) error
}

// Options configures New. Store and Backend are required.
type Options struct {
	Store   session.CredentialStore
	Backend Backend
	// Searcher overrides Backend for searches, e.g. a cached searcher.
	Searcher remote.Searcher
	History  SearchRecorder

	Clock           clockwork.Clock
	Logger          *slog.Logger
	NotifyTTL       time.Duration
	QuietPeriod     time.Duration
	PageSize        int
	DefaultCategory string
}

// App is the client core. The exported managers may be used directly for
// reads and subscriptions.
type App struct {
	Session *session.Manager
	Notify  *notify.Queue
	Search  *search.Debouncer

	backend  Backend
	validate *validator.Validate
	logger   *slog.Logger
}

func New(opts Options) (*App, error) {
	if opts.Store == nil {
		return nil, errors.New("app: credential store is required")
	}
	if opts.Backend == nil {
		return nil, errors.New("app: backend is required")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Searcher == nil {
		opts.Searcher = opts.Backend
	}

	a := &App{
		backend:  opts.Backend,
		validate: newValidator(),
		logger:   opts.Logger,
	}
	a.Session = session.New(opts.Store, opts.Backend,
		session.WithLogger(opts.Logger.With("component", "session")))
	notifyOpts := []notify.Option{
		notify.WithClock(opts.Clock),
		notify.WithLogger(opts.Logger.With("component", "notify")),
	}
	if opts.NotifyTTL > 0 {
		notifyOpts = append(notifyOpts, notify.WithDefaultTTL(opts.NotifyTTL))
	}
	a.Notify = notify.New(notifyOpts...)

	searchOpts := []search.Option{
		search.WithClock(opts.Clock),
		search.WithQuietPeriod(opts.QuietPeriod),
		search.WithPageSize(opts.PageSize),
		search.WithDefaultFacet(opts.DefaultCategory),
		search.WithLogger(opts.Logger.With("component", "search")),
	}
	if opts.History != nil {
		h := opts.History
		searchOpts = append(searchOpts, search.WithDispatchHook(func(query, facet string) {
			if err := h.RecordSearch(query, facet); err != nil {
				opts.Logger.Warn("recording search history", "error", err)
			}
		}))
	}
	a.Search = search.New(opts.Searcher, searchOpts...)

	return a, nil
}

// Init restores the persisted session. Failures are silent: the session
// simply ends up Unauthenticated.
func (a *App) Init(ctx context.Context) session.Session {
	return a.Session.Hydrate(ctx)
}

// Login validates the form locally, then signs in. Every outcome except a
// superseded result produces a notification.
func (a *App) Login(ctx context.Context, email, password string) (session.Session, error) {
	if verr := a.validateLogin(email, password); verr != nil {
		a.Notify.Show(notify.Error, "Validation Error", verr.Message)
		return a.Session.Current(), verr
	}

	s, err := a.Session.Login(ctx, strings.TrimSpace(email), password)
	if err != nil {
		a.reportFailure(err, "Login Failed", "Invalid email or password")
		return s, err
	}
	a.Notify.Show(notify.Success, "Welcome back", "Signed in as "+s.User.DisplayName())
	return s, nil
}

// Signup validates the form locally, then registers and signs in.
func (a *App) Signup(ctx context.Context, form remote.SignupForm) (session.Session, error) {
	if verr := a.validateSignup(form); verr != nil {
		title := "Validation Error"
		if verr.Message == missingFieldsMessage {
			title = "Missing Required Fields"
		}
		a.Notify.Show(notify.Error, title, verr.Message)
		return a.Session.Current(), verr
	}

	form.Email = strings.TrimSpace(form.Email)
	if form.SkillCategory == "" {
		form.SkillCategory = remote.SkillClient
	}
	s, err := a.Session.Signup(ctx, form)
	if err != nil {
		a.reportFailure(err, "Registration Failed", "Please check your information and try again")
		return s, err
	}
	a.Notify.Show(notify.Success, "Account Created!", "Welcome to StuDex.")
	return s, nil
}

func (a *App) reportFailure(err error, title, fallback string) {
	if errors.Is(err, session.ErrStale) {
		return
	}
	a.logger.Info("request failed", "title", title, "kind", remote.KindOf(err), "error", err)
	var re *remote.Error
	if !errors.As(err, &re) {
		a.Notify.Show(notify.Error, title, err.Error())
		return
	}
	switch re.Kind {
	case remote.KindNetwork:
		a.Notify.Show(notify.Error, "Connection Error", "Please check your connection and try again")
	case remote.KindValidation, remote.KindInvalidCredentials:
		body := strings.Join(re.FieldMessages(), "\n")
		if body == "" {
			body = re.Message
		}
		if body == "" {
			body = fallback
		}
		a.Notify.Show(notify.Error, title, body)
	default:
		a.Notify.Show(notify.Error, title, fallback)
	}
}

// Logout signs out. It never fails.
func (a *App) Logout() {
	a.Session.Logout()
	a.Notify.Show(notify.Info, "Signed out", "")
}

// errSignInRequired wraps remote.ErrInvalidCredentials for calls made
// without an authenticated session.
var errSignInRequired = fmt.Errorf("not signed in: %w", remote.ErrInvalidCredentials)

func (a *App) signedIn() bool {
	return a.Session.Current().Status == session.Authenticated
}

// Jobs lists posted jobs. It requires an authenticated session.
func (a *App) Jobs(ctx context.Context, p remote.JobParams) (remote.JobPage, error) {
	if !a.signedIn() {
		return remote.JobPage{}, fmt.Errorf("listing jobs: %w", errSignInRequired)
	}
	page, err := a.backend.ListJobs(ctx, p)
	if err != nil {
		return remote.JobPage{}, fmt.Errorf("listing jobs: %w", err)
	}
	return page, nil
}

// PostService validates and publishes a service listing for the signed-in
// user. Every outcome produces a notification.
func (a *App) PostService(ctx context.Context, form remote.ServiceForm) (remote.Service, error) {
	if !a.signedIn() {
		a.Notify.Show(notify.Warning, "Sign In Required", "Please sign in to offer a service")
		return remote.Service{}, errSignInRequired
	}
	form.Title = strings.TrimSpace(form.Title)
	form.Description = strings.TrimSpace(form.Description)
	if verr := a.validateListing(form); verr != nil {
		a.Notify.Show(notify.Error, "Validation Error", verr.Message)
		return remote.Service{}, verr
	}

	svc, err := a.backend.CreateService(ctx, form)
	if err != nil {
		a.reportFailure(err, "Service Not Created", "Please check your listing and try again")
		return remote.Service{}, err
	}
	a.Notify.Show(notify.Success, "Service Published", svc.Title)
	return svc, nil
}

// PostJob validates and publishes a job for the signed-in user. Every
// outcome produces a notification.
func (a *App) PostJob(ctx context.Context, form remote.JobForm) (remote.Job, error) {
	if !a.signedIn() {
		a.Notify.Show(notify.Warning, "Sign In Required", "Please sign in to post a job")
		return remote.Job{}, errSignInRequired
	}
	form.Title = strings.TrimSpace(form.Title)
	form.Description = strings.TrimSpace(form.Description)
	if verr := a.validateListing(form); verr != nil {
		a.Notify.Show(notify.Error, "Validation Error", verr.Message)
		return remote.Job{}, verr
	}

	job, err := a.backend.PostJob(ctx, form)
	if err != nil {
		a.reportFailure(err, "Job Not Posted", "Please check the job details and try again")
		return remote.Job{}, err
	}
	a.Notify.Show(notify.Success, "Job Posted", job.Title)
	return job, nil
}

// Close stops every timer and abandons in-flight searches.
func (a *App) Close() {
	a.Search.Close()
	a.Notify.Close()
}
