// Package serve provides the server command of the rddm CLI.
package serve

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/agentstation/rddm/cmd/application"
	"github.com/agentstation/rddm/internal/cmd/emoji"
	"github.com/agentstation/rddm/internal/server"
)

// shutdownTimeout bounds connection draining on shutdown.
const shutdownTimeout = 30 * time.Second

// NewCommand creates the serve command using app context.
func NewCommand(app application.Application) *cobra.Command {
	defaults := server.DefaultConfig()

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"server"},
		Short:   "Start the API server with WebSocket and SSE change feeds",
		Long: `Start the collaborative editing API server.

Features:
  - REST endpoints for elements, relationships, views, and history
  - WebSocket change feed per project (/ws/projects/{projectID})
  - Server-Sent Events change stream (/api/v1/projects/{projectID}/stream)
  - In-memory read caching invalidated on every change
  - Write rate limiting per caller
  - CORS support for browser clients
  - Graceful shutdown with close frames to every client
  - Health, stats, and metrics endpoints

The store backend is chosen with RDDM_STORE (memory or redis).`,
		Example: `  # Start on the default port 3000 with the in-memory store
  rddm serve

  # Persist to Redis
  RDDM_STORE=redis RDDM_REDIS_URL=redis://localhost:6379/0 rddm serve

  # Restrict browser origins and tune fan-out
  rddm serve --cors-origins https://editor.example.com --topic-capacity 256`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := parseConfig(cmd)
			if err != nil {
				return err
			}
			return run(cmd.Context(), app, cfg)
		},
	}

	// Server configuration flags
	cmd.Flags().Int("port", defaults.Port, "Server port")
	cmd.Flags().String("host", defaults.Host, "Bind address")
	cmd.Flags().String("prefix", defaults.PathPrefix, "API path prefix")

	// CORS flags
	cmd.Flags().Bool("cors", defaults.CORSEnabled, "Enable CORS")
	cmd.Flags().StringSlice("cors-origins", []string{}, "Allowed CORS origins (comma-separated, default all)")

	// Performance flags
	cmd.Flags().Int("rate-limit", defaults.RateLimit, "Write requests per minute per caller (0 to disable)")
	cmd.Flags().Duration("cache-ttl", defaults.CacheTTL, "Read cache TTL")

	// Real-time flags
	cmd.Flags().Int("topic-capacity", defaults.TopicCapacity, "Queued envelopes per subscriber before the oldest is dropped")
	cmd.Flags().Duration("send-timeout", defaults.SendTimeout, "Bound on a single write to a client")
	cmd.Flags().Duration("ping-interval", defaults.PingInterval, "WebSocket keepalive period (0 to disable)")
	cmd.Flags().Duration("keep-alive", defaults.KeepAlive, "SSE keepalive period")
	cmd.Flags().Int64("max-message-size", defaults.MaxMessageSize, "Largest accepted inbound WebSocket frame in bytes")
	cmd.Flags().Duration("sweep-interval", defaults.SweepInterval, "How often idle topics are evicted")

	// Timeout flags
	cmd.Flags().Duration("read-timeout", defaults.ReadTimeout, "HTTP read timeout")
	cmd.Flags().Duration("idle-timeout", defaults.IdleTimeout, "HTTP idle timeout")

	// Features flags
	cmd.Flags().Bool("metrics", defaults.MetricsEnabled, "Enable metrics endpoint")

	return cmd
}

// run starts the API server and blocks until ctx is cancelled.
func run(ctx context.Context, app application.Application, cfg server.Config) error {
	logger := app.Logger()

	logger.Info().
		Int("port", cfg.Port).
		Str("host", cfg.Host).
		Str("prefix", cfg.PathPrefix).
		Bool("cors", cfg.CORSEnabled).
		Int("rate_limit", cfg.RateLimit).
		Dur("cache_ttl", cfg.CacheTTL).
		Int("topic_capacity", cfg.TopicCapacity).
		Msg("Starting API server")

	srv, err := server.New(app, cfg)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Start()

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return startWithGracefulShutdown(ctx, httpServer, srv, logger)
}

// parseConfig parses command flags into server configuration. HTTP_PORT
// and HTTP_HOST override the flags.
func parseConfig(cmd *cobra.Command) (server.Config, error) {
	cfg := server.DefaultConfig()
	cfg.Port = mustGetInt(cmd, "port")
	cfg.Host = mustGetString(cmd, "host")
	cfg.PathPrefix = mustGetString(cmd, "prefix")
	cfg.CORSEnabled = mustGetBool(cmd, "cors")
	cfg.CORSOrigins = mustGetStringSlice(cmd, "cors-origins")
	cfg.RateLimit = mustGetInt(cmd, "rate-limit")
	cfg.CacheTTL = mustGetDuration(cmd, "cache-ttl")
	cfg.TopicCapacity = mustGetInt(cmd, "topic-capacity")
	cfg.SendTimeout = mustGetDuration(cmd, "send-timeout")
	cfg.PingInterval = mustGetDuration(cmd, "ping-interval")
	cfg.KeepAlive = mustGetDuration(cmd, "keep-alive")
	cfg.MaxMessageSize = mustGetInt64(cmd, "max-message-size")
	cfg.SweepInterval = mustGetDuration(cmd, "sweep-interval")
	cfg.ReadTimeout = mustGetDuration(cmd, "read-timeout")
	cfg.IdleTimeout = mustGetDuration(cmd, "idle-timeout")
	cfg.MetricsEnabled = mustGetBool(cmd, "metrics")

	if envPort := os.Getenv("HTTP_PORT"); envPort != "" {
		p, err := parsePort(envPort)
		if err != nil {
			return cfg, err
		}
		cfg.Port = p
	}
	if envHost := os.Getenv("HTTP_HOST"); envHost != "" {
		cfg.Host = envHost
	}
	if cfg.TopicCapacity < 1 {
		return cfg, fmt.Errorf("topic capacity must be at least 1, got %d", cfg.TopicCapacity)
	}
	return cfg, nil
}

// parsePort safely parses a port string to integer.
func parsePort(portStr string) (int, error) {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("invalid port number: %s", portStr)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port out of range: %d", port)
	}
	return port, nil
}

// startWithGracefulShutdown serves until ctx is cancelled. Real-time
// connections are closed first since the HTTP server does not track
// hijacked sockets.
func startWithGracefulShutdown(ctx context.Context, httpServer *http.Server, srv *server.Server, logger *zerolog.Logger) error {
	serverErr := make(chan error, 1)

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		fmt.Printf("%s API server listening on %s\n", emoji.Rocket, httpServer.Addr)
		fmt.Println("   Press Ctrl+C to stop")

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- fmt.Errorf("server failed: %w", err)
		}
	}()

	select {
	case err := <-serverErr:
		_ = srv.Shutdown(context.Background())
		return err
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received")
		fmt.Printf("\n%s Shutting down API server...\n", emoji.Stop)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Real-time connections shutdown had issues")
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}

		logger.Info().Msg("Server stopped gracefully")
		fmt.Printf("%s API server stopped gracefully\n", emoji.Success)
		return nil
	}
}
