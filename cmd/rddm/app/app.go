// Package app provides the application context and dependency management
// for the rddm CLI: configuration, logging, and the lazily opened store.
package app

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/agentstation/rddm/cmd/application"
	"github.com/agentstation/rddm/internal/store"
	"github.com/agentstation/rddm/pkg/errors"
)

// Store backends selectable with the "store" setting.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// App represents the rddm application with all its dependencies.
type App struct {
	// Version information
	version string
	commit  string
	date    string
	builtBy string

	config *Config
	logger *zerolog.Logger

	// Store instance (lazy-initialized, singleton)
	mu    sync.Mutex
	store store.Store
}

var _ application.Application = (*App)(nil)

// New creates a new App instance with the given version information.
// The app is initialized with configuration from the environment that
// can be replaced using functional options.
func New(version, commit, date, builtBy string, opts ...Option) (*App, error) {
	app := &App{
		version: version,
		commit:  commit,
		date:    date,
		builtBy: builtBy,
	}

	config, err := LoadConfig()
	if err != nil {
		return nil, errors.WrapResource("load", "config", "", err)
	}
	app.config = config

	logger := NewLogger(config)
	app.logger = &logger

	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	return app, nil
}

// Version returns the version information.
func (a *App) Version() string {
	return a.version
}

// Commit returns the git commit hash.
func (a *App) Commit() string {
	return a.commit
}

// Date returns the build date.
func (a *App) Date() string {
	return a.date
}

// BuiltBy returns the build system identifier.
func (a *App) BuiltBy() string {
	return a.builtBy
}

// Config returns the application configuration.
func (a *App) Config() *Config {
	return a.config
}

// Logger returns the application logger.
func (a *App) Logger() *zerolog.Logger {
	return a.logger
}

// OutputFormat returns the configured output format.
func (a *App) OutputFormat() string {
	return a.config.Format
}

// ServerURL returns the API base URL used by client commands.
func (a *App) ServerURL() string {
	return a.config.ServerURL
}

// Store returns the configured store, opening it on first use. A Redis
// store is pinged before it is handed out.
func (a *App) Store() (store.Store, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.store != nil {
		return a.store, nil
	}

	st, err := a.openStore()
	if err != nil {
		return nil, err
	}
	a.store = st
	return st, nil
}

func (a *App) openStore() (store.Store, error) {
	switch a.config.Store {
	case BackendMemory, "":
		a.logger.Debug().Msg("Using in-memory store")
		return store.NewMemory(), nil

	case BackendRedis:
		opts, err := redis.ParseURL(a.config.RedisURL)
		if err != nil {
			return nil, errors.NewConfigError("store", "invalid redis_url", err)
		}
		st, err := store.NewRedis(opts, a.config.RedisNamespace)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()
		if err := st.Ping(ctx); err != nil {
			_ = st.Close()
			return nil, errors.WrapResource("connect", "redis", opts.Addr, err)
		}
		a.logger.Info().
			Str("addr", opts.Addr).
			Str("namespace", a.config.RedisNamespace).
			Msg("Connected to Redis store")
		return st, nil

	default:
		return nil, errors.NewConfigError("store", "unknown backend "+a.config.Store, nil)
	}
}

// Shutdown releases the store, if one was opened.
func (a *App) Shutdown(_ context.Context) error {
	a.mu.Lock()
	st := a.store
	a.store = nil
	a.mu.Unlock()

	if st == nil {
		return nil
	}
	if err := st.Close(); err != nil {
		return errors.WrapResource("close", "store", "", err)
	}
	return nil
}

// Option is a functional option for configuring the App.
type Option func(*App) error

// WithConfig sets a custom configuration.
func WithConfig(config *Config) Option {
	return func(a *App) error {
		a.config = config
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(a *App) error {
		a.logger = logger
		return nil
	}
}

// WithStore sets a custom store (useful for testing).
func WithStore(st store.Store) Option {
	return func(a *App) error {
		a.store = st
		return nil
	}
}
