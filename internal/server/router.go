package server

import (
	"net/http"

	"github.com/agentstation/rddm/internal/server/handlers"
	"github.com/agentstation/rddm/internal/server/middleware"
)

// setupRouter creates the HTTP handler with routes and middleware.
func (s *Server) setupRouter() http.Handler {
	mux := http.NewServeMux()

	h := handlers.New(handlers.Deps{
		Context:  s.ctx,
		Store:    s.store,
		Registry: s.registry,
		Cache:    s.cache,
		Streamer: s.streamer,
		Upgrader: s.upgrader,
		WSConfig: s.wsConfig(),
		Logger:   s.logger,
	})

	s.registerRoutes(mux, h)

	return s.applyMiddleware(mux)
}

// registerRoutes registers all HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux, h *handlers.Handlers) {
	prefix := s.config.PathPrefix
	project := prefix + "/projects/{projectID}"

	// Favicon handler (return 204 No Content to avoid 404 logs)
	mux.HandleFunc("GET /favicon.ico", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// Health endpoints
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET "+prefix+"/health", h.HandleHealth)
	mux.HandleFunc("GET "+prefix+"/ready", h.HandleReady)

	// Projects
	mux.HandleFunc("GET "+prefix+"/projects", h.HandleListProjects)
	mux.HandleFunc("POST "+prefix+"/projects", h.HandleCreateProject)
	mux.HandleFunc("GET "+project, h.HandleGetProject)
	mux.HandleFunc("PUT "+project, h.HandleUpdateProject)
	mux.HandleFunc("DELETE "+project, h.HandleDeleteProject)

	// Elements
	mux.HandleFunc("GET "+project+"/elements", h.HandleListElements)
	mux.HandleFunc("POST "+project+"/elements", h.HandleCreateElement)
	mux.HandleFunc("GET "+project+"/elements/{elementID}", h.HandleGetElement)
	mux.HandleFunc("PUT "+project+"/elements/{elementID}", h.HandleUpdateElement)
	mux.HandleFunc("DELETE "+project+"/elements/{elementID}", h.HandleDeleteElement)

	// Relationships
	mux.HandleFunc("GET "+project+"/relationships", h.HandleListRelationships)
	mux.HandleFunc("POST "+project+"/relationships", h.HandleCreateRelationship)
	mux.HandleFunc("GET "+project+"/relationships/{relationshipID}", h.HandleGetRelationship)
	mux.HandleFunc("PUT "+project+"/relationships/{relationshipID}", h.HandleUpdateRelationship)
	mux.HandleFunc("DELETE "+project+"/relationships/{relationshipID}", h.HandleDeleteRelationship)

	// Views
	mux.HandleFunc("GET "+project+"/views", h.HandleListViews)
	mux.HandleFunc("GET "+project+"/views/{viewType}", h.HandleGetView)
	mux.HandleFunc("PUT "+project+"/views/{viewType}", h.HandlePutView)

	// History
	mux.HandleFunc("GET "+project+"/history", h.HandleHistory)
	mux.HandleFunc("DELETE "+project+"/history", h.HandleClearHistory)

	// Real-time endpoints
	mux.HandleFunc("GET /ws/projects/{projectID}", h.HandleWebSocket)
	mux.HandleFunc("GET "+project+"/stream", h.HandleSSE)

	// Admin
	mux.HandleFunc("GET "+prefix+"/stats", h.HandleStats)

	// OpenAPI specification endpoints
	mux.HandleFunc("GET "+prefix+"/openapi.json", h.HandleOpenAPIJSON)
	mux.HandleFunc("GET "+prefix+"/openapi.yaml", h.HandleOpenAPIYAML)

	if s.config.MetricsEnabled {
		mux.HandleFunc("GET /metrics", h.HandleMetrics)
	}
}

// applyMiddleware wraps handler with middleware chain.
func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	cfg := s.config

	if s.limiter != nil {
		handler = middleware.RateLimit(s.limiter)(handler)
	}

	if cfg.CORSEnabled {
		handler = middleware.CORS(middleware.CORSConfigForOrigins(cfg.CORSOrigins))(handler)
	}

	// Logging and recovery (always enabled)
	handler = middleware.Logger(s.logger)(handler)
	handler = middleware.Recovery(s.logger)(handler)

	return handler
}
