package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agentstation/rddm/internal/server/cache"
	"github.com/agentstation/rddm/internal/server/events"
	"github.com/agentstation/rddm/internal/server/middleware"
	"github.com/agentstation/rddm/internal/server/response"
	"github.com/agentstation/rddm/internal/server/sse"
	ws "github.com/agentstation/rddm/internal/server/websocket"
	"github.com/agentstation/rddm/internal/store"
	"github.com/agentstation/rddm/pkg/envelope"
	"github.com/agentstation/rddm/pkg/errors"
	"github.com/agentstation/rddm/pkg/logging"
)

// DefaultUserID is recorded for mutations that carry no X-User-ID header.
const DefaultUserID = "system"

// maxBodyBytes caps request bodies.
const maxBodyBytes = 4 << 20

// Handlers provides access to all HTTP handlers.
type Handlers struct {
	ctx       context.Context
	store     store.Store
	registry  *events.Registry
	publisher events.Publisher
	cache     *cache.Cache
	streamer  *sse.Streamer
	upgrader  websocket.Upgrader
	wsConfig  ws.Config
	logger    *zerolog.Logger
	startTime time.Time
}

// Deps are the collaborators of the handlers.
type Deps struct {
	// Context bounds real-time connections; cancelling it closes them.
	Context  context.Context
	Store    store.Store
	Registry *events.Registry
	// Publisher receives change envelopes. It defaults to Registry.
	Publisher events.Publisher
	Cache     *cache.Cache
	Streamer  *sse.Streamer
	Upgrader  websocket.Upgrader
	WSConfig  ws.Config
	Logger    *zerolog.Logger
}

// New creates a new Handlers instance.
func New(d Deps) *Handlers {
	if d.Context == nil {
		d.Context = context.Background()
	}
	if d.Publisher == nil {
		d.Publisher = d.Registry
	}
	if d.Logger == nil {
		d.Logger = logging.NewNopLogger()
	}
	return &Handlers{
		ctx:       d.Context,
		store:     d.Store,
		registry:  d.Registry,
		publisher: d.Publisher,
		cache:     d.Cache,
		streamer:  d.Streamer,
		upgrader:  d.Upgrader,
		wsConfig:  d.WSConfig,
		logger:    d.Logger,
		startTime: time.Now(),
	}
}

// userID returns the caller recorded on mutations.
func userID(r *http.Request) string {
	if id := r.Header.Get(middleware.UserIDHeader); id != "" {
		return id
	}
	return DefaultUserID
}

// decodeBody reads a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		response.BadRequest(w, "Invalid request body", err.Error())
		return false
	}
	return true
}

// fail writes err as a typed error response, logging server-side failures.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !errors.IsNotFound(err) && !errors.IsValidationError(err) && !errors.IsConflict(err) && !errors.IsAlreadyExists(err) {
		logging.FromContext(logging.WithUser(r.Context(), userID(r))).Error().Err(err).Msg("Request failed")
	}
	response.ErrorFromType(w, err)
}

// announce invalidates the project's cached reads, then publishes each
// envelope in order.
func (h *Handlers) announce(ctx context.Context, projectID string, envs ...envelope.Envelope) {
	h.cache.InvalidateProject(projectID)
	logger := logging.FromContext(logging.WithProject(ctx, projectID))
	for _, env := range envs {
		h.publisher.Publish(projectID, env)
		logger.Debug().Str("kind", string(env.Kind())).Msg("Change published")
	}
}

// cached serves a project read from the cache, loading and storing it on a
// miss.
func (h *Handlers) cached(w http.ResponseWriter, r *http.Request, projectID, key string, load func() (any, error)) {
	if v, ok := h.cache.Get(key); ok {
		response.OK(w, v)
		return
	}
	gen := h.cache.Generation(projectID)
	v, err := load()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.cache.SetIfCurrent(projectID, gen, key, v)
	response.OK(w, v)
}

// Pagination describes one page of a listing.
type Pagination struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}
