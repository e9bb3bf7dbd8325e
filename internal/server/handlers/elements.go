package handlers

import (
	"net/http"

	"github.com/agentstation/rddm/internal/server/cache"
	"github.com/agentstation/rddm/internal/server/events/adapters"
	"github.com/agentstation/rddm/internal/server/filter"
	"github.com/agentstation/rddm/internal/server/response"
	"github.com/agentstation/rddm/internal/store"
)

// HandleListElements handles GET /api/v1/projects/{projectID}/elements.
// @Summary List elements
// @Description List a project's elements with optional filtering
// @Tags elements
// @Produce json
// @Param projectID path string true "Project ID"
// @Param element_type query string false "Filter by element type (comma-separated)"
// @Param updated_after query string false "Only elements updated after this RFC 3339 time"
// @Param limit query integer false "Maximum number of results (default and max: 1000)"
// @Param offset query integer false "Result offset for pagination"
// @Success 200 {object} response.Response{data=object}
// @Failure 500 {object} response.Response{error=response.Error}
// @Router /api/v1/projects/{projectID}/elements [get].
func (h *Handlers) HandleListElements(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectID")

	h.cached(w, r, projectID, cache.Key(projectID, "elements", r.URL.RawQuery), func() (any, error) {
		all, err := h.store.ListElements(r.Context(), projectID)
		if err != nil {
			return nil, err
		}
		f := filter.ParseElementFilter(r)
		page, total := f.Apply(all)
		return map[string]any{
			"elements":   page,
			"pagination": Pagination{Total: total, Limit: f.Limit, Offset: f.Offset},
		}, nil
	})
}

// HandleGetElement handles GET /api/v1/projects/{projectID}/elements/{elementID}.
// @Summary Get element
// @Tags elements
// @Produce json
// @Param projectID path string true "Project ID"
// @Param elementID path string true "Element ID"
// @Success 200 {object} response.Response{data=store.Element}
// @Failure 404 {object} response.Response{error=response.Error}
// @Router /api/v1/projects/{projectID}/elements/{elementID} [get].
func (h *Handlers) HandleGetElement(w http.ResponseWriter, r *http.Request) {
	e, err := h.store.GetElement(r.Context(), r.PathValue("projectID"), r.PathValue("elementID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, e)
}

// HandleCreateElement handles POST /api/v1/projects/{projectID}/elements.
// @Summary Create element
// @Tags elements
// @Accept json
// @Produce json
// @Param projectID path string true "Project ID"
// @Param X-User-ID header string false "Caller recorded in history and change events"
// @Param element body store.ElementInput true "Element"
// @Success 201 {object} response.Response{data=store.Element}
// @Failure 400 {object} response.Response{error=response.Error}
// @Router /api/v1/projects/{projectID}/elements [post].
func (h *Handlers) HandleCreateElement(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectID")

	var in store.ElementInput
	if !decodeBody(w, r, &in) {
		return
	}

	user := userID(r)
	e, err := h.store.CreateElement(r.Context(), projectID, user, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.announceElement(r, e, user)
	response.Created(w, e)
}

// HandleUpdateElement handles PUT /api/v1/projects/{projectID}/elements/{elementID}.
// A non-zero version in the body must match the stored version.
// @Summary Update element
// @Tags elements
// @Accept json
// @Produce json
// @Param projectID path string true "Project ID"
// @Param elementID path string true "Element ID"
// @Param X-User-ID header string false "Caller recorded in history and change events"
// @Param patch body store.ElementPatch true "Fields to change"
// @Success 200 {object} response.Response{data=store.Element}
// @Failure 400 {object} response.Response{error=response.Error}
// @Failure 404 {object} response.Response{error=response.Error}
// @Failure 409 {object} response.Response{error=response.Error}
// @Router /api/v1/projects/{projectID}/elements/{elementID} [put].
func (h *Handlers) HandleUpdateElement(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectID")

	var patch store.ElementPatch
	if !decodeBody(w, r, &patch) {
		return
	}

	user := userID(r)
	e, err := h.store.UpdateElement(r.Context(), projectID, r.PathValue("elementID"), user, patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.announceElement(r, e, user)
	response.OK(w, e)
}

// HandleDeleteElement handles DELETE /api/v1/projects/{projectID}/elements/{elementID}.
// Relationships attached to the element are deleted with it.
// @Summary Delete element
// @Tags elements
// @Produce json
// @Param projectID path string true "Project ID"
// @Param elementID path string true "Element ID"
// @Param X-User-ID header string false "Caller recorded in history and change events"
// @Success 204 "Deleted"
// @Failure 404 {object} response.Response{error=response.Error}
// @Router /api/v1/projects/{projectID}/elements/{elementID} [delete].
func (h *Handlers) HandleDeleteElement(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectID")
	user := userID(r)

	del, err := h.store.DeleteElement(r.Context(), projectID, r.PathValue("elementID"), user)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.announce(r.Context(), projectID, adapters.ElementRemoved(del, user)...)
	response.NoContent(w)
}

// announceElement publishes the committed state of e. A state that cannot
// be serialized is logged and the change stays unannounced.
func (h *Handlers) announceElement(r *http.Request, e store.Element, user string) {
	env, err := adapters.ElementUpdated(e, user)
	if err != nil {
		h.cache.InvalidateProject(e.ProjectID)
		h.logger.Error().Err(err).Str("element_id", e.ID).Msg("Failed to build change envelope")
		return
	}
	h.announce(r.Context(), e.ProjectID, env)
}
