// Package core wires the session store, gateway, realtime channel,
// dispatcher and query cache into one running client.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zsprackett/settle-dash/internal/api"
	"github.com/zsprackett/settle-dash/internal/auth"
	"github.com/zsprackett/settle-dash/internal/config"
	"github.com/zsprackett/settle-dash/internal/db"
	"github.com/zsprackett/settle-dash/internal/dispatch"
	"github.com/zsprackett/settle-dash/internal/events"
	"github.com/zsprackett/settle-dash/internal/gateway"
	"github.com/zsprackett/settle-dash/internal/querycache"
	"github.com/zsprackett/settle-dash/internal/realtime"
)

type Options struct {
	Config config.Config
	// DBPath defaults to config.DBPath().
	DBPath string
	Sink   dispatch.AlertSink
	// OnUnauthorized runs after a 401 has ended the session.
	OnUnauthorized func()
	Logger         *slog.Logger
}

type App struct {
	Config     config.Config
	DB         *db.DB
	Store      *auth.Store
	API        *api.Client
	Bus        *events.Bus
	Dispatcher *dispatch.Dispatcher
	Channel    *realtime.Channel
	Cache      *querycache.Cache

	rest      *gateway.Client
	logger    *slog.Logger
	sessionMu sync.Mutex
	cancels   []func()
	startOnce sync.Once
	closeOnce sync.Once
}

func New(opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	path := opts.DBPath
	if path == "" {
		path = config.DBPath()
	}

	store, err := db.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate state db: %w", err)
	}

	wsURL, err := opts.Config.RealtimeURL()
	if err != nil {
		store.Close()
		return nil, err
	}

	cfg := opts.Config
	sessions := auth.NewStore(store, auth.NewHTTPExchanger(cfg.APIBaseURL), logger)
	rest := gateway.NewClient(cfg.APIBaseURL, sessions, gateway.Options{
		OnUnauthorized: opts.OnUnauthorized,
		Logger:         logger,
	})
	bus := events.NewBus(logger)
	dispatcher := dispatch.New(bus, opts.Sink, logger)

	a := &App{
		Config:     cfg,
		DB:         store,
		Store:      sessions,
		API:        api.New(rest),
		Bus:        bus,
		Dispatcher: dispatcher,
		Cache:      querycache.New(logger),
		rest:       rest,
		logger:     logger,
	}
	a.Channel = realtime.New(sessions, dispatcher, realtime.Options{
		BaseURL:        wsURL,
		Reconnect:      cfg.Realtime.Reconnect,
		InitialBackoff: config.Duration(cfg.Realtime.InitialBackoff, time.Second),
		MaxBackoff:     config.Duration(cfg.Realtime.MaxBackoff, 30*time.Second),
	}, logger)
	return a, nil
}

// Start restores any stored session and begins syncing. Cache queries are
// registered before the channel connects so no invalidation is missed.
func (a *App) Start() {
	a.startOnce.Do(func() {
		a.cancels = append(a.cancels,
			a.Store.Subscribe(func(*auth.Session) { a.sessionChanged() }),
			a.Cache.Attach(a.Bus),
			a.Channel.OnStateChange(func(s realtime.State) {
				if s == realtime.StateOpen {
					a.Dispatcher.Connected()
				}
			}),
		)
		a.Channel.Start()
		a.Cache.Start()
		a.Store.Restore()
	})
}

// Login is a convenience over Store.Login.
func (a *App) Login(ctx context.Context, username, password string) (auth.LoginResult, error) {
	return a.Store.Login(ctx, username, password)
}

func (a *App) Logout() {
	a.Store.Logout()
}

// Close stops background work and closes the state database.
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.Channel.Stop()
		a.Cache.Stop()
		for _, cancel := range a.cancels {
			cancel()
		}
		a.rest.Close()
		err = a.DB.Close()
	})
	return err
}

// QueryKey is the cache key of the main screen for sess.
func QueryKey(sess *auth.Session) querycache.Key {
	if sess != nil && sess.Role == auth.RoleCompany {
		return querycache.CompanyTransactions(sess.ScopeID)
	}
	return querycache.AdminDashboard
}

// sessionChanged rebuilds the cache for the store's current session. The
// notified value may be stale when logins and logouts race, so it re-reads
// Current under sessionMu; the last call to run sees the last write.
func (a *App) sessionChanged() {
	a.sessionMu.Lock()
	defer a.sessionMu.Unlock()

	sess := a.Store.Current()
	a.Cache.Reset()
	if sess == nil {
		return
	}
	key := QueryKey(sess)
	switch sess.Role {
	case auth.RoleAdmin:
		a.Cache.Register(key, config.Duration(a.Config.Refresh.AdminInterval, 30*time.Second),
			func(ctx context.Context) (any, error) { return a.API.AdminDashboard(ctx) })
	case auth.RoleCompany:
		scope := sess.ScopeID
		a.Cache.Register(key, config.Duration(a.Config.Refresh.CompanyInterval, 10*time.Second),
			func(ctx context.Context) (any, error) { return a.API.CompanyTransactions(ctx, scope) })
	}
	a.Cache.Invalidate(key)
}
