package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agentstation/rddm/cmd/application"
	"github.com/agentstation/rddm/internal/server/cache"
	"github.com/agentstation/rddm/internal/server/events"
	"github.com/agentstation/rddm/internal/server/middleware"
	"github.com/agentstation/rddm/internal/server/sse"
	ws "github.com/agentstation/rddm/internal/server/websocket"
	"github.com/agentstation/rddm/internal/store"
)

// Server holds the HTTP server state and dependencies.
type Server struct {
	app       application.Application
	store     store.Store
	cache     *cache.Cache
	registry  *events.Registry
	streamer  *sse.Streamer
	limiter   *middleware.RateLimiter
	upgrader  websocket.Upgrader
	logger    *zerolog.Logger
	config    Config
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// New creates a new server instance with the given configuration.
func New(app application.Application, cfg Config) (*Server, error) {
	logger := app.Logger()

	logger.Debug().Msg("Creating new server instance")

	defaults := DefaultConfig()
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = defaults.CacheTTL
	}
	if cfg.TopicCapacity <= 0 {
		cfg.TopicCapacity = defaults.TopicCapacity
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = defaults.KeepAlive
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaults.SendTimeout
	}

	st, err := app.Store()
	if err != nil {
		return nil, err
	}

	registry := events.NewRegistry(logger, events.WithCapacity(cfg.TopicCapacity))
	logger.Debug().Int("capacity", registry.Capacity()).Msg("Topic registry created")

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		app:      app,
		store:    st,
		cache:    cache.New(cfg.CacheTTL, cfg.CacheTTL*2),
		registry: registry,
		streamer: sse.NewStreamer(registry, cfg.KeepAlive, cfg.SendTimeout, logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true // editor clients connect from other origins
			},
		},
		logger:    logger,
		config:    cfg,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
	if cfg.RateLimit > 0 {
		s.limiter = middleware.NewRateLimiter(cfg.RateLimit, logger)
	}

	logger.Debug().Msg("Server instance created successfully")
	return s, nil
}

// Start starts background services: idle topic eviction and rate limiter
// cleanup.
func (s *Server) Start() {
	s.logger.Debug().Dur("interval", s.config.SweepInterval).Msg("Starting topic sweeper")
	go s.registry.Run(s.ctx, s.config.SweepInterval)

	if s.limiter != nil {
		go s.limiter.Run(s.ctx, time.Minute)
	}

	s.logger.Debug().Msg("All background services started")
}

// Handler returns the configured http.Handler with middleware chain applied.
func (s *Server) Handler() http.Handler {
	return s.setupRouter()
}

// Shutdown stops background services and closes every real-time
// connection. Each connection sends a close frame and releases its topic.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down server background services")

	s.cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for s.registry.Len() > 0 {
		select {
		case <-ctx.Done():
			s.logger.Warn().Int("topics", s.registry.Len()).Msg("Real-time connections did not drain in time")
			return ctx.Err()
		case <-ticker.C:
		}
	}

	s.logger.Info().Msg("Background services shut down successfully")
	return nil
}

// Cache returns the server's cache instance.
func (s *Server) Cache() *cache.Cache {
	return s.cache
}

// Registry returns the topic registry. It is also the publisher that
// mutations announce changes through.
func (s *Server) Registry() *events.Registry {
	return s.registry
}

// StartTime returns the server start time for uptime calculations.
func (s *Server) StartTime() time.Time {
	return s.startTime
}

// wsConfig returns the WebSocket connection settings.
func (s *Server) wsConfig() ws.Config {
	return ws.Config{
		SendTimeout:    s.config.SendTimeout,
		PingInterval:   s.config.PingInterval,
		MaxMessageSize: s.config.MaxMessageSize,
	}
}
