package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/studex/studex/internal/app"
	"github.com/studex/studex/internal/config"
	"github.com/studex/studex/internal/logging"
	"github.com/studex/studex/internal/remote"
	"github.com/studex/studex/internal/session"
	"github.com/studex/studex/internal/storage"
)

// runtime is everything a command needs to talk to the marketplace.
type runtime struct {
	cfg    config.Config
	store  *storage.Store
	client *remote.Client
	app    *app.App
	logs   io.Closer
}

func openRuntime() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logs, err := logging.Setup(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File, Stderr: verbose})
	if err != nil {
		return nil, fmt.Errorf("setting up logging: %w", err)
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	var creds session.CredentialStore = store
	if cfg.Storage.Credentials == config.CredentialsKeychain {
		creds = config.NewKeychainStore()
	}

	rt := &runtime{cfg: cfg, store: store, logs: logs}
	client, err := remote.New(cfg.API.BaseURL,
		remote.WithTimeout(config.Duration(cfg.API.Timeout, 15*time.Second)),
		remote.WithTokenSource(func() string { return rt.app.Session.Current().Token }),
		remote.WithLogger(slog.Default().With("component", "remote")),
	)
	if err != nil {
		rt.closeStores()
		return nil, err
	}
	rt.client = client

	rt.app, err = app.New(app.Options{
		Store:           creds,
		Backend:         client,
		Searcher:        remote.NewCachedSearcher(client, config.Duration(cfg.Search.CacheTTL, 0)),
		History:         store,
		Logger:          slog.Default(),
		NotifyTTL:       config.Duration(cfg.Notify.DefaultTTL, 0),
		QuietPeriod:     config.Duration(cfg.Search.QuietPeriod, 0),
		PageSize:        cfg.Search.PageSize,
		DefaultCategory: cfg.Search.DefaultCategory,
	})
	if err != nil {
		rt.closeStores()
		return nil, err
	}
	return rt, nil
}

// signedInSince reports when the stored token was last written. Only the
// sqlite credential store records that.
func (rt *runtime) signedInSince() (time.Time, bool) {
	if rt.cfg.Storage.Credentials == config.CredentialsKeychain {
		return time.Time{}, false
	}
	c, err := rt.store.GetCredential(session.KeyToken)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("reading token timestamp", "error", err)
		}
		return time.Time{}, false
	}
	return c.UpdatedAt, true
}

// flushNotifications prints and dismisses every visible notification. A
// CLI process exits long before toasts would expire.
func (rt *runtime) flushNotifications() {
	for _, n := range rt.app.Notify.List() {
		printNotification(n)
		rt.app.Notify.Dismiss(n.ID)
	}
}

func (rt *runtime) Close() {
	rt.flushNotifications()
	rt.app.Close()
	rt.closeStores()
}

func (rt *runtime) closeStores() {
	if err := rt.store.Close(); err != nil {
		slog.Warn("closing storage", "error", err)
	}
	rt.logs.Close()
}
