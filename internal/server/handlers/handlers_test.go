package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/rddm/internal/server/cache"
	"github.com/agentstation/rddm/internal/server/events"
	"github.com/agentstation/rddm/internal/server/middleware"
	"github.com/agentstation/rddm/internal/server/sse"
	"github.com/agentstation/rddm/internal/store"
	"github.com/agentstation/rddm/pkg/envelope"
	"github.com/agentstation/rddm/pkg/logging"
)

// recorder captures published envelopes.
type recorder struct {
	mu   sync.Mutex
	envs []envelope.Envelope
}

func (r *recorder) Publish(_ string, env envelope.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
}

func (r *recorder) kinds() []envelope.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]envelope.Kind, 0, len(r.envs))
	for _, env := range r.envs {
		out = append(out, env.Kind())
	}
	return out
}

func (r *recorder) last() envelope.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.envs) == 0 {
		return nil
	}
	return r.envs[len(r.envs)-1]
}

type fixture struct {
	h        *Handlers
	mux      *http.ServeMux
	store    *store.Memory
	cache    *cache.Cache
	registry *events.Registry
	pub      *recorder
}

// newFixture wires handlers to a memory store. When pub is nil the
// registry itself receives publications.
func newFixture(t *testing.T, pub *recorder) *fixture {
	t.Helper()
	logger := logging.NewNopLogger()
	registry := events.NewRegistry(logger)

	f := &fixture{
		store:    store.NewMemory(),
		cache:    cache.New(time.Minute, time.Minute),
		registry: registry,
		pub:      pub,
	}
	deps := Deps{
		Store:    f.store,
		Registry: registry,
		Cache:    f.cache,
		Streamer: sse.NewStreamer(registry, time.Minute, time.Second, logger),
		Logger:   logger,
	}
	if pub != nil {
		deps.Publisher = pub
	}
	f.h = New(deps)

	mux := http.NewServeMux()
	p := "/api/v1/projects/{projectID}"
	mux.HandleFunc("GET /api/v1/projects", f.h.HandleListProjects)
	mux.HandleFunc("POST /api/v1/projects", f.h.HandleCreateProject)
	mux.HandleFunc("GET "+p, f.h.HandleGetProject)
	mux.HandleFunc("PUT "+p, f.h.HandleUpdateProject)
	mux.HandleFunc("DELETE "+p, f.h.HandleDeleteProject)
	mux.HandleFunc("GET "+p+"/elements", f.h.HandleListElements)
	mux.HandleFunc("POST "+p+"/elements", f.h.HandleCreateElement)
	mux.HandleFunc("GET "+p+"/elements/{elementID}", f.h.HandleGetElement)
	mux.HandleFunc("PUT "+p+"/elements/{elementID}", f.h.HandleUpdateElement)
	mux.HandleFunc("DELETE "+p+"/elements/{elementID}", f.h.HandleDeleteElement)
	mux.HandleFunc("GET "+p+"/relationships", f.h.HandleListRelationships)
	mux.HandleFunc("POST "+p+"/relationships", f.h.HandleCreateRelationship)
	mux.HandleFunc("GET "+p+"/relationships/{relationshipID}", f.h.HandleGetRelationship)
	mux.HandleFunc("PUT "+p+"/relationships/{relationshipID}", f.h.HandleUpdateRelationship)
	mux.HandleFunc("DELETE "+p+"/relationships/{relationshipID}", f.h.HandleDeleteRelationship)
	mux.HandleFunc("GET "+p+"/views", f.h.HandleListViews)
	mux.HandleFunc("GET "+p+"/views/{viewType}", f.h.HandleGetView)
	mux.HandleFunc("PUT "+p+"/views/{viewType}", f.h.HandlePutView)
	mux.HandleFunc("GET "+p+"/history", f.h.HandleHistory)
	mux.HandleFunc("DELETE "+p+"/history", f.h.HandleClearHistory)
	mux.HandleFunc("GET /api/v1/stats", f.h.HandleStats)
	mux.HandleFunc("GET /api/v1/health", f.h.HandleHealth)
	mux.HandleFunc("GET /api/v1/ready", f.h.HandleReady)
	mux.HandleFunc("GET /api/v1/openapi.json", f.h.HandleOpenAPIJSON)
	mux.HandleFunc("GET /metrics", f.h.HandleMetrics)
	f.mux = mux
	return f
}

// do performs a request and decodes the data field of the response.
func (f *fixture) do(t *testing.T, method, path, user string, body any) (*httptest.ResponseRecorder, json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set(middleware.UserIDHeader, user)
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)

	if w.Body.Len() == 0 || !strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		return w, nil
	}
	var resp struct {
		Data  json.RawMessage `json:"data"`
		Error *struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp.Data
}

func (f *fixture) createElement(t *testing.T, projectID, elementType string) store.Element {
	t.Helper()
	w, data := f.do(t, http.MethodPost, "/api/v1/projects/"+projectID+"/elements", "u1",
		map[string]any{"element_type": elementType, "geometry": map[string]int{"x": 1}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var e store.Element
	require.NoError(t, json.Unmarshal(data, &e))
	return e
}

func TestProjects_CRUD(t *testing.T) {
	pub := &recorder{}
	f := newFixture(t, pub)

	w, data := f.do(t, http.MethodGet, "/api/v1/projects", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(data))

	w, data = f.do(t, http.MethodPost, "/api/v1/projects", "u1",
		map[string]any{"name": "Office", "description": "ground floor"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var p store.Project
	require.NoError(t, json.Unmarshal(data, &p))
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, int64(1), p.Version)

	path := "/api/v1/projects/" + p.ID
	w, data = f.do(t, http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got store.Project
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "Office", got.Name)

	w, data = f.do(t, http.MethodPut, path, "", map[string]any{"name": "Head office"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated store.Project
	require.NoError(t, json.Unmarshal(data, &updated))
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, "Head office", updated.Name)
	require.NotNil(t, updated.Description)
	assert.Equal(t, "ground floor", *updated.Description)

	w, data = f.do(t, http.MethodGet, "/api/v1/projects", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []store.Project
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, p.ID, list[0].ID)

	w, _ = f.do(t, http.MethodDelete, path, "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w, _ = f.do(t, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = f.do(t, http.MethodDelete, path, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Empty(t, pub.kinds(), "project records are not broadcast")
}

func TestProjects_Rejected(t *testing.T) {
	f := newFixture(t, &recorder{})

	w, _ := f.do(t, http.MethodPost, "/api/v1/projects", "", map[string]any{"id": "p1", "name": "Office"})
	require.Equal(t, http.StatusCreated, w.Code)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"duplicate id", http.MethodPost, "/api/v1/projects", map[string]any{"id": "p1", "name": "Again"}, http.StatusConflict},
		{"missing name", http.MethodPost, "/api/v1/projects", map[string]any{"description": "x"}, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/api/v1/projects", `{"name":`, http.StatusBadRequest},
		{"stale version", http.MethodPut, "/api/v1/projects/p1", map[string]any{"name": "B", "version": 7}, http.StatusConflict},
		{"unknown project", http.MethodPut, "/api/v1/projects/nope", map[string]any{"name": "B"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := f.do(t, tt.method, tt.path, "", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

// TestProjects_RecordIndependentOfContent tests that project content does
// not need a record and survives the record's deletion.
func TestProjects_RecordIndependentOfContent(t *testing.T) {
	f := newFixture(t, &recorder{})
	e := f.createElement(t, "p1", "wall")

	w, _ := f.do(t, http.MethodGet, "/api/v1/projects/p1", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = f.do(t, http.MethodPost, "/api/v1/projects", "", map[string]any{"id": "p1", "name": "Office"})
	require.Equal(t, http.StatusCreated, w.Code)
	w, _ = f.do(t, http.MethodDelete, "/api/v1/projects/p1", "", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w, _ = f.do(t, http.MethodGet, "/api/v1/projects/p1/elements/"+e.ID, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateElement(t *testing.T) {
	pub := &recorder{}
	f := newFixture(t, pub)

	e := f.createElement(t, "p1", "wall")
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "p1", e.ProjectID)
	assert.Equal(t, int64(1), e.Version)

	require.Equal(t, []envelope.Kind{envelope.KindElementUpdate}, pub.kinds(), "one envelope per mutation")
	up := pub.last().(envelope.ElementUpdate)
	assert.Equal(t, e.ID, up.ID)
	assert.Equal(t, "p1", up.ProjectID)
	assert.Equal(t, "u1", up.UserID)

	var payload store.Element
	require.NoError(t, json.Unmarshal(up.Payload, &payload))
	assert.Equal(t, "wall", payload.ElementType)
}

func TestCreateElement_DefaultUser(t *testing.T) {
	pub := &recorder{}
	f := newFixture(t, pub)

	w, _ := f.do(t, http.MethodPost, "/api/v1/projects/p1/elements", "", map[string]any{"element_type": "door"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, DefaultUserID, pub.last().(envelope.ElementUpdate).UserID)
}

func TestCreateElement_Rejected(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{"missing type", map[string]any{"geometry": map[string]int{"x": 1}}},
		{"malformed body", `{"element_type":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &recorder{}
			f := newFixture(t, pub)

			w, _ := f.do(t, http.MethodPost, "/api/v1/projects/p1/elements", "u1", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, pub.kinds(), "failed mutations publish nothing")
		})
	}
}

func TestGetElement(t *testing.T) {
	f := newFixture(t, &recorder{})
	e := f.createElement(t, "p1", "wall")

	w, data := f.do(t, http.MethodGet, "/api/v1/projects/p1/elements/"+e.ID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got store.Element
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, e.ID, got.ID)

	w, _ = f.do(t, http.MethodGet, "/api/v1/projects/p2/elements/"+e.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateElement_VersionConflict(t *testing.T) {
	pub := &recorder{}
	f := newFixture(t, pub)
	e := f.createElement(t, "p1", "wall")

	path := "/api/v1/projects/p1/elements/" + e.ID
	w, data := f.do(t, http.MethodPut, path, "u2", map[string]any{"element_type": "column", "version": 1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated store.Element
	require.NoError(t, json.Unmarshal(data, &updated))
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, "u2", pub.last().(envelope.ElementUpdate).UserID)

	w, _ = f.do(t, http.MethodPut, path, "u3", map[string]any{"version": 1})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Len(t, pub.kinds(), 2, "conflicting update publishes nothing")
}

func TestDeleteElement_Cascade(t *testing.T) {
	pub := &recorder{}
	f := newFixture(t, pub)
	a := f.createElement(t, "p1", "room")
	b := f.createElement(t, "p1", "room")

	w, data := f.do(t, http.MethodPost, "/api/v1/projects/p1/relationships", "u1",
		map[string]any{"source_id": a.ID, "target_id": b.ID, "relationship_type": "adjacent"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var rel store.Relationship
	require.NoError(t, json.Unmarshal(data, &rel))

	w, _ = f.do(t, http.MethodDelete, "/api/v1/projects/p1/elements/"+a.ID, "u9", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Zero(t, w.Body.Len())

	kinds := pub.kinds()
	require.Len(t, kinds, 5)
	assert.Equal(t, []envelope.Kind{envelope.KindElementDelete, envelope.KindRelationshipDelete}, kinds[3:])
	removed := pub.last().(envelope.RelationshipDelete)
	assert.Equal(t, rel.ID, removed.ID)
	assert.Equal(t, "u9", removed.UserID)

	w, _ = f.do(t, http.MethodGet, "/api/v1/projects/p1/relationships/"+rel.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = f.do(t, http.MethodDelete, "/api/v1/projects/p1/elements/"+a.ID, "u9", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Len(t, pub.kinds(), 5)
}

func TestListElements_CacheInvalidatedByMutation(t *testing.T) {
	f := newFixture(t, &recorder{})
	f.createElement(t, "p1", "wall")

	count := func() int {
		w, data := f.do(t, http.MethodGet, "/api/v1/projects/p1/elements", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var list struct {
			Elements   []store.Element `json:"elements"`
			Pagination Pagination      `json:"pagination"`
		}
		require.NoError(t, json.Unmarshal(data, &list))
		assert.Equal(t, len(list.Elements), list.Pagination.Total)
		return len(list.Elements)
	}

	assert.Equal(t, 1, count())
	assert.Equal(t, 1, count())
	assert.Equal(t, uint64(1), f.cache.GetStats().Hits, "second read is served from cache")

	f.createElement(t, "p1", "door")
	assert.Equal(t, 2, count(), "mutation drops cached listings")
}

func TestListElements_Filtered(t *testing.T) {
	f := newFixture(t, &recorder{})
	for i := 0; i < 3; i++ {
		f.createElement(t, "p1", "wall")
	}
	f.createElement(t, "p1", "door")

	w, data := f.do(t, http.MethodGet, "/api/v1/projects/p1/elements?element_type=WALL&limit=2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Elements   []store.Element `json:"elements"`
		Pagination Pagination      `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(data, &list))
	assert.Len(t, list.Elements, 2)
	assert.Equal(t, Pagination{Total: 3, Limit: 2, Offset: 0}, list.Pagination)
}

func TestRelationships(t *testing.T) {
	pub := &recorder{}
	f := newFixture(t, pub)
	a := f.createElement(t, "p1", "room")
	b := f.createElement(t, "p1", "room")

	w, data := f.do(t, http.MethodPost, "/api/v1/projects/p1/relationships", "u1",
		map[string]any{"source_id": a.ID, "target_id": b.ID, "relationship_type": "adjacent"})
	require.Equal(t, http.StatusCreated, w.Code)
	var rel store.Relationship
	require.NoError(t, json.Unmarshal(data, &rel))
	assert.Equal(t, envelope.KindRelationshipUpdate, pub.last().Kind())

	path := "/api/v1/projects/p1/relationships/" + rel.ID
	w, _ = f.do(t, http.MethodPut, path, "u1", map[string]any{"relationship_type": "connected"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(pub.last().(envelope.RelationshipUpdate).Payload), `"connected"`)

	w, data = f.do(t, http.MethodGet, "/api/v1/projects/p1/relationships?element_id="+b.ID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(data), rel.ID)

	w, _ = f.do(t, http.MethodDelete, path, "u1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, envelope.KindRelationshipDelete, pub.last().Kind())

	w, _ = f.do(t, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = f.do(t, http.MethodPost, "/api/v1/projects/p1/relationships", "u1",
		map[string]any{"source_id": a.ID, "target_id": "ghost", "relationship_type": "adjacent"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestViews(t *testing.T) {
	pub := &recorder{}
	f := newFixture(t, pub)

	w, _ := f.do(t, http.MethodGet, "/api/v1/projects/p1/views/floor", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = f.do(t, http.MethodPut, "/api/v1/projects/p1/views/floor", "u1", `{"state":{"zoom":2}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	vu := pub.last().(envelope.ViewUpdate)
	assert.Equal(t, "floor", vu.ViewType)
	assert.JSONEq(t, `{"zoom":2}`, string(vu.Payload))

	w, data := f.do(t, http.MethodGet, "/api/v1/projects/p1/views", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var views []store.View
	require.NoError(t, json.Unmarshal(data, &views))
	require.Len(t, views, 1)

	w, _ = f.do(t, http.MethodPut, "/api/v1/projects/p1/views/floor", "u1", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "state is required")
}

func TestHistory(t *testing.T) {
	f := newFixture(t, &recorder{})
	e := f.createElement(t, "p1", "wall")
	f.createElement(t, "p1", "door")
	w, _ := f.do(t, http.MethodPut, "/api/v1/projects/p1/elements/"+e.ID, "u2", map[string]any{})
	require.Equal(t, http.StatusOK, w.Code)

	history := func(query string) []store.HistoryEntry {
		w, data := f.do(t, http.MethodGet, "/api/v1/projects/p1/history"+query, "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var entries []store.HistoryEntry
		require.NoError(t, json.Unmarshal(data, &entries))
		return entries
	}

	all := history("")
	require.Len(t, all, 3)
	assert.Equal(t, store.ActionUpdate, all[0].Action, "newest first")

	assert.Len(t, history("?entity_id="+e.ID), 2)
	assert.Len(t, history("?action=create"), 2)
	assert.Len(t, history("?limit=1"), 1)

	w, _ = f.do(t, http.MethodDelete, "/api/v1/projects/p1/history", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, history(""))
}

func TestPublishReachesSubscribers(t *testing.T) {
	f := newFixture(t, nil)
	sub := f.registry.Subscribe("p1")
	defer sub.Close()
	other := f.registry.Subscribe("p2")
	defer other.Close()

	e := f.createElement(t, "p1", "wall")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	env, err := sub.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, e.ID, env.(envelope.ElementUpdate).ID)

	select {
	case env := <-other.C():
		t.Fatalf("other project received %s", env.Kind())
	default:
	}
}

func TestHealthAndReady(t *testing.T) {
	f := newFixture(t, &recorder{})

	w, data := f.do(t, http.MethodGet, "/api/v1/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(data), `"healthy"`)

	w, data = f.do(t, http.MethodGet, "/api/v1/ready", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(data), `"ready"`)
}

func TestStatsAndMetrics(t *testing.T) {
	f := newFixture(t, nil)
	sub := f.registry.Subscribe("p1")
	defer sub.Close()
	f.createElement(t, "p1", "wall")

	w, data := f.do(t, http.MethodGet, "/api/v1/stats", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		Realtime events.Stats `json:"realtime"`
	}
	require.NoError(t, json.Unmarshal(data, &stats))
	assert.Equal(t, 1, stats.Realtime.Topics)
	assert.Equal(t, 1, stats.Realtime.Subscribers)

	w, _ = f.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "rddm_topics 1")
	assert.Contains(t, body, `rddm_envelopes_published_total{project="p1"} 1`)
}

func TestOpenAPI(t *testing.T) {
	f := newFixture(t, &recorder{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/openapi.json", nil)
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, json.Valid(w.Body.Bytes()))
}
